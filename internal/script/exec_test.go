package script

import (
	"errors"
	"testing"

	"statecraft.ai/internal/vars"
)

func tree(t *testing.T, src string) *vars.Value {
	t.Helper()
	v, err := vars.FromJSON([]byte(src))
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	return v
}

func TestExecute_SetRoundTrip(t *testing.T) {
	root := vars.NewObject()
	res := Execute(root, Command{Op: OpSet, Path: "MC.系统.状态", Value: vars.Text("运行中")})
	if !res.OK {
		t.Fatalf("set failed: %v", res.Err)
	}
	got, ok := vars.GetPath(root, "MC.系统.状态")
	if !ok {
		t.Fatalf("path missing")
	}
	if s, _ := got.AsText(); s != "运行中" {
		t.Fatalf("got %q", s)
	}
	if res.Old != nil {
		t.Fatalf("old should be nil for a fresh path: %v", res.Old)
	}
}

func TestExecute_AddOnExistingNumber(t *testing.T) {
	root := tree(t, `{"MC":{"资源":{"金币":100}}}`)
	res := Execute(root, Command{Op: OpAdd, Path: "MC.资源.金币", Operand: 50})
	if !res.OK {
		t.Fatalf("add failed: %v", res.Err)
	}
	got, _ := vars.GetPath(root, "MC.资源.金币")
	if n, _ := got.AsNumber(); n != 150 {
		t.Fatalf("got %v", n)
	}
	if o, _ := res.Old.AsNumber(); o != 100 {
		t.Fatalf("old: %v", res.Old)
	}
}

func TestExecute_AddIsAssociative(t *testing.T) {
	a := tree(t, `{"n": 10}`)
	b := tree(t, `{"n": 10}`)
	Execute(a, Command{Op: OpAdd, Path: "n", Operand: 3})
	Execute(a, Command{Op: OpAdd, Path: "n", Operand: 4})
	Execute(b, Command{Op: OpAdd, Path: "n", Operand: 7})
	av, _ := vars.GetPath(a, "n")
	bv, _ := vars.GetPath(b, "n")
	if !vars.Equal(av, bv) {
		t.Fatalf("add not associative: %v vs %v", av, bv)
	}
}

func TestExecute_ArithmeticTypeErrors(t *testing.T) {
	root := tree(t, `{"s": "text", "z": 5}`)

	res := Execute(root, Command{Op: OpAdd, Path: "s", Operand: 1})
	if res.OK || !errors.Is(res.Err, ErrTypeMismatch) {
		t.Fatalf("expected type mismatch: %+v", res)
	}
	got, _ := vars.GetPath(root, "s")
	if s, _ := got.AsText(); s != "text" {
		t.Fatalf("tree mutated on failure: %v", got)
	}

	res = Execute(root, Command{Op: OpDiv, Path: "z", Operand: 0})
	if res.OK || !errors.Is(res.Err, ErrTypeMismatch) {
		t.Fatalf("expected div-by-zero mismatch: %+v", res)
	}

	res = Execute(root, Command{Op: OpAdd, Path: "missing", Operand: 1})
	if res.OK {
		t.Fatalf("add on missing path should fail")
	}
}

func TestExecute_ArithmeticOnMetadataKeyRejected(t *testing.T) {
	root := tree(t, `{"MC":{"$rev": 3}}`)
	res := Execute(root, Command{Op: OpAdd, Path: "MC.$rev", Operand: 1})
	if res.OK || !errors.Is(res.Err, ErrPath) {
		t.Fatalf("expected path error: %+v", res)
	}
}

func TestExecute_Append(t *testing.T) {
	root := tree(t, `{"list": [1], "s": "ab"}`)

	res := Execute(root, Command{Op: OpAppend, Path: "list", Value: vars.Number(2)})
	if !res.OK {
		t.Fatalf("append: %v", res.Err)
	}
	got, _ := vars.GetPath(root, "list")
	if got.Len() != 2 {
		t.Fatalf("list: %v", got)
	}

	res = Execute(root, Command{Op: OpAppend, Path: "s", Value: vars.Text("cd")})
	if !res.OK {
		t.Fatalf("append text: %v", res.Err)
	}
	got, _ = vars.GetPath(root, "s")
	if s, _ := got.AsText(); s != "abcd" {
		t.Fatalf("s: %q", s)
	}

	res = Execute(root, Command{Op: OpAppend, Path: "s", Value: vars.Number(1)})
	if res.OK || !errors.Is(res.Err, ErrTypeMismatch) {
		t.Fatalf("append number to text should fail: %+v", res)
	}
}

func TestExecute_RemoveFiltersMatches(t *testing.T) {
	root := tree(t, `{"bag": ["剑", "盾", "剑"]}`)
	res := Execute(root, Command{Op: OpRemove, Path: "bag", Value: vars.Text("剑")})
	if !res.OK {
		t.Fatalf("remove: %v", res.Err)
	}
	got, _ := vars.GetPath(root, "bag")
	if got.Len() != 1 {
		t.Fatalf("bag: %v", got)
	}
	if s, _ := got.Items()[0].AsText(); s != "盾" {
		t.Fatalf("bag[0]: %q", s)
	}
}

func TestExecute_ClearByTypeAndIdempotent(t *testing.T) {
	root := tree(t, `{"a": [1,2], "o": {"k":1}, "s": "x", "n": 9, "b": true}`)
	for path, want := range map[string]string{
		"a": "[]", "o": "{}", "s": "", "n": "0",
	} {
		res := Execute(root, Command{Op: OpClear, Path: path})
		if !res.OK {
			t.Fatalf("clear %s: %v", path, res.Err)
		}
		got, _ := vars.GetPath(root, path)
		if got.String() != want {
			t.Fatalf("clear %s: got %q want %q", path, got.String(), want)
		}
		// Idempotent: clearing twice is the same as once.
		again := Execute(root, Command{Op: OpClear, Path: path})
		if !again.OK || !vars.Equal(again.New, got) {
			t.Fatalf("clear %s not idempotent: %v", path, again.New)
		}
	}
	res := Execute(root, Command{Op: OpClear, Path: "b"})
	if !res.OK || !res.New.IsNull() {
		t.Fatalf("clear bool should null: %+v", res)
	}
}

func TestExecute_Toggle(t *testing.T) {
	root := tree(t, `{"MC":{"开关": true, "level": 1}}`)

	res := Execute(root, Command{Op: OpToggle, Path: "MC.开关"})
	if !res.OK {
		t.Fatalf("toggle: %v", res.Err)
	}
	got, _ := vars.GetPath(root, "MC.开关")
	if b, _ := got.AsBool(); b {
		t.Fatalf("expected false")
	}

	res = Execute(root, Command{Op: OpToggle, Path: "MC.level"})
	if res.OK || !errors.Is(res.Err, ErrTypeMismatch) {
		t.Fatalf("toggle on number should fail: %+v", res)
	}
}

func TestExecute_PathErrorThroughScalar(t *testing.T) {
	root := tree(t, `{"MC": 1}`)
	res := Execute(root, Command{Op: OpSet, Path: "MC.hp", Value: vars.Number(5)})
	if res.OK || !errors.Is(res.Err, ErrPath) {
		t.Fatalf("expected path error: %+v", res)
	}
	got, _ := vars.GetPath(root, "MC")
	if n, _ := got.AsNumber(); n != 1 {
		t.Fatalf("tree mutated on failure")
	}
}

func TestExecuteBatch_FailureDoesNotAbort(t *testing.T) {
	root := tree(t, `{"MC":{"开关": 1, "金币": 10}}`)
	batch := Parse(`
TOGGLE('MC.开关')
ADD('MC.金币', 5)
`)
	results := ExecuteBatch(root, batch)
	if len(results) != 2 {
		t.Fatalf("results: %d", len(results))
	}
	if results[0].OK || !errors.Is(results[0].Err, ErrTypeMismatch) {
		t.Fatalf("toggle on number should fail: %+v", results[0])
	}
	if !results[1].OK {
		t.Fatalf("second command should still run: %v", results[1].Err)
	}
	got, _ := vars.GetPath(root, "MC.金币")
	if n, _ := got.AsNumber(); n != 15 {
		t.Fatalf("金币: %v", n)
	}
}
