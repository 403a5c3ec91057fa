package state

import (
	"testing"

	"statecraft.ai/internal/vars"
)

func TestCache_GetReturnsCopies(t *testing.T) {
	c := NewCache()
	tree, _ := vars.FromJSON([]byte(`{"MC":{"hp":10}}`))
	c.replace(tree)

	got, ok := c.Get("MC")
	if !ok {
		t.Fatalf("missing")
	}
	got.Set("hp", vars.Number(0))

	again, _ := c.Get("MC.hp")
	if n, _ := again.AsNumber(); n != 10 {
		t.Fatalf("cache mutated through a read: %v", n)
	}
}

func TestCache_SnapshotIsIsolated(t *testing.T) {
	c := NewCache()
	tree, _ := vars.FromJSON([]byte(`{"MC":{"hp":10},"$meta":1,"b":2}`))
	c.replace(tree)

	snap := c.Snapshot()
	if len(snap.TopKeys) != 2 {
		t.Fatalf("metadata key counted: %v", snap.TopKeys)
	}

	c.reset()
	if _, ok := vars.GetPath(snap.Tree, "MC.hp"); !ok {
		t.Fatalf("snapshot shares storage with cache")
	}
	if len(c.TopKeys()) != 0 {
		t.Fatalf("reset did not clear")
	}
}

func TestCache_ReplaceRejectsNonObject(t *testing.T) {
	c := NewCache()
	c.replace(vars.Number(5))
	if _, ok := c.Get("anything"); ok {
		t.Fatalf("scalar root should have been replaced with an empty object")
	}
	if c.Root().Kind() != vars.KindObject {
		t.Fatalf("root kind: %v", c.Root().Kind())
	}
}
