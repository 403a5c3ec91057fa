package hub

import (
	"context"
	"testing"
	"time"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

var sel = protocol.Selector{Session: "chat_1", Namespace: "MC"}

func start(t *testing.T) (*Hub, context.Context, context.CancelFunc) {
	t.Helper()
	h := New(Config{}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	go func() { _ = h.Run(ctx) }()
	return h, ctx, cancel
}

func mustTree(t *testing.T, src string) *vars.Value {
	t.Helper()
	v, err := vars.FromJSON([]byte(src))
	if err != nil {
		t.Fatalf("tree: %v", err)
	}
	return v
}

func TestPushPullRoundTrip(t *testing.T) {
	h, ctx, cancel := start(t)
	defer cancel()

	rev, err := h.Push(ctx, sel, mustTree(t, `{"MC":{"金币":100}}`))
	if err != nil || rev != 1 {
		t.Fatalf("push: rev=%d err=%v", rev, err)
	}

	tree, gotRev, err := h.Pull(ctx, sel)
	if err != nil || gotRev != 1 {
		t.Fatalf("pull: rev=%d err=%v", gotRev, err)
	}
	v, ok := vars.GetPath(tree, "MC.金币")
	if !ok {
		t.Fatalf("missing path")
	}
	if n, _ := v.AsNumber(); n != 100 {
		t.Fatalf("金币: %v", n)
	}
}

func TestPullUnknownSelectorIsEmpty(t *testing.T) {
	h, ctx, cancel := start(t)
	defer cancel()

	tree, rev, err := h.Pull(ctx, protocol.Selector{Session: "new", Namespace: "NS"})
	if err != nil || rev != 0 {
		t.Fatalf("pull: rev=%d err=%v", rev, err)
	}
	if !tree.IsObject() || tree.Len() != 0 {
		t.Fatalf("tree: %v", tree)
	}
}

func TestPushRejectsBadInput(t *testing.T) {
	h, ctx, cancel := start(t)
	defer cancel()

	_, err := h.Push(ctx, sel, vars.Number(5))
	ce, ok := err.(*CodeError)
	if !ok || ce.Code != protocol.ErrBadTree {
		t.Fatalf("err: %v", err)
	}

	_, err = h.Push(ctx, protocol.Selector{}, vars.NewObject())
	ce, ok = err.(*CodeError)
	if !ok || ce.Code != protocol.ErrBadSelector {
		t.Fatalf("err: %v", err)
	}
}

func TestPushRejectsOversizedTree(t *testing.T) {
	h := New(Config{MaxTreeBytes: 16}, nil)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	_, err := h.Push(ctx, sel, mustTree(t, `{"MC":{"k":"a long enough value"}}`))
	ce, ok := err.(*CodeError)
	if !ok || ce.Code != protocol.ErrTreeTooLarge {
		t.Fatalf("err: %v", err)
	}
}

func TestPushBroadcastsEventTriple(t *testing.T) {
	h, ctx, cancel := start(t)
	defer cancel()

	if _, err := h.Push(ctx, sel, mustTree(t, `{"MC":{"金币":100,"状态":"工作"}}`)); err != nil {
		t.Fatalf("push: %v", err)
	}

	events, off, err := h.Subscribe(ctx, sel, 32)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer off()

	if _, err := h.Push(ctx, sel, mustTree(t, `{"MC":{"金币":150,"状态":"工作"}}`)); err != nil {
		t.Fatalf("push: %v", err)
	}

	ev := <-events
	if ev.Event != protocol.EventUpdateStarted {
		t.Fatalf("first event: %s", ev.Event)
	}
	ev = <-events
	if ev.Event != protocol.EventSingleUpdated || ev.Path != "MC.金币" {
		t.Fatalf("second event: %s %s", ev.Event, ev.Path)
	}
	if string(ev.Old) != "100" || string(ev.New) != "150" {
		t.Fatalf("old/new: %s -> %s", ev.Old, ev.New)
	}
	ev = <-events
	if ev.Event != protocol.EventUpdateEnded || len(ev.Tree) == 0 {
		t.Fatalf("third event: %s", ev.Event)
	}
}

func TestSubscriberSelectorFiltering(t *testing.T) {
	h, ctx, cancel := start(t)
	defer cancel()

	other := protocol.Selector{Session: "chat_2", Namespace: "MC"}
	events, off, err := h.Subscribe(ctx, other, 8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer off()

	if _, err := h.Push(ctx, sel, mustTree(t, `{"MC":{"金币":1}}`)); err != nil {
		t.Fatalf("push: %v", err)
	}
	select {
	case ev := <-events:
		t.Fatalf("foreign event leaked: %+v", ev)
	default:
	}
}

func TestResetSessionDropsStateAndNotifies(t *testing.T) {
	h, ctx, cancel := start(t)
	defer cancel()

	if _, err := h.Push(ctx, sel, mustTree(t, `{"MC":{"金币":1}}`)); err != nil {
		t.Fatalf("push: %v", err)
	}
	events, off, err := h.Subscribe(ctx, sel, 8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}
	defer off()

	if err := h.ResetSession(ctx, sel.Session); err != nil {
		t.Fatalf("reset: %v", err)
	}
	ev := <-events
	if ev.Event != protocol.EventSessionReset {
		t.Fatalf("event: %s", ev.Event)
	}

	tree, rev, err := h.Pull(ctx, sel)
	if err != nil || rev != 0 || tree.Len() != 0 {
		t.Fatalf("state survived reset: rev=%d tree=%v err=%v", rev, tree, err)
	}
}

func TestUnsubscribeSurvivesFullQueue(t *testing.T) {
	h, ctx, cancel := start(t)

	_, off, err := h.Subscribe(ctx, sel, 8)
	if err != nil {
		t.Fatalf("subscribe: %v", err)
	}

	// Stop the run loop and saturate the request queue; the unsubscribe
	// must wait for room instead of dropping.
	cancel()
	for i := 0; i < cap(h.reqs); i++ {
		h.reqs <- pullReq{sel: sel, resp: make(chan pullResp, 1)}
	}

	done := make(chan struct{})
	go func() {
		off()
		close(done)
	}()

	select {
	case <-done:
		t.Fatalf("unsubscribe completed against a full queue")
	case <-time.After(20 * time.Millisecond):
	}

	// Drain one slot; the pending unsubscribe must now go through.
	<-h.reqs
	select {
	case <-done:
	case <-time.After(2 * time.Second):
		t.Fatalf("unsubscribe still blocked after queue drained")
	}

	found := false
	for i := 0; i < cap(h.reqs); i++ {
		if _, ok := (<-h.reqs).(unsubReq); ok {
			found = true
			break
		}
	}
	if !found {
		t.Fatalf("unsubscribe request never queued")
	}
}

func TestSeedAndExport(t *testing.T) {
	h := New(Config{}, nil)
	h.Seed(sel, mustTree(t, `{"MC":{"金币":7}}`), 42)
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go func() { _ = h.Run(ctx) }()

	tree, rev, err := h.Pull(ctx, sel)
	if err != nil || rev != 42 {
		t.Fatalf("pull: rev=%d err=%v", rev, err)
	}
	v, _ := vars.GetPath(tree, "MC.金币")
	if n, _ := v.AsNumber(); n != 7 {
		t.Fatalf("金币: %v", n)
	}

	exports, err := h.ExportAll(ctx)
	if err != nil || len(exports) != 1 {
		t.Fatalf("export: %v %v", exports, err)
	}
	if exports[0].Selector != sel || exports[0].Revision != 42 {
		t.Fatalf("export: %+v", exports[0])
	}
}

func TestDiffPaths(t *testing.T) {
	prev := mustTree(t, `{"MC":{"金币":100,"状态":"x","背包":["a"]}}`)
	next := mustTree(t, `{"MC":{"金币":150,"状态":"x","背包":["a","b"],"new":1}}`)

	changes := diffPaths(prev, next, "")
	got := map[string]bool{}
	for _, c := range changes {
		got[c.path] = true
	}
	if len(changes) != 3 || !got["MC.金币"] || !got["MC.背包"] || !got["MC.new"] {
		t.Fatalf("changes: %+v", got)
	}
}
