package state

import (
	"testing"

	"statecraft.ai/internal/vars"
)

func TestBus_PrefixMatching(t *testing.T) {
	b := NewBus()
	var all, mc, exact, miss int
	b.Subscribe("", func(PathEvent) { all++ })
	b.Subscribe("MC", func(PathEvent) { mc++ })
	b.Subscribe("MC.资源.金币", func(PathEvent) { exact++ })
	b.Subscribe("MC.资", func(PathEvent) { miss++ }) // not a dot boundary

	b.publishPath(PathEvent{Path: "MC.资源.金币", New: vars.Number(1)})

	if all != 1 || mc != 1 || exact != 1 {
		t.Fatalf("all=%d mc=%d exact=%d", all, mc, exact)
	}
	if miss != 0 {
		t.Fatalf("non-boundary prefix matched")
	}
}

func TestBus_Unsubscribe(t *testing.T) {
	b := NewBus()
	calls := 0
	off := b.Subscribe("", func(PathEvent) { calls++ })
	b.publishPath(PathEvent{Path: "a"})
	off()
	b.publishPath(PathEvent{Path: "a"})
	if calls != 1 {
		t.Fatalf("calls: %d", calls)
	}

	cycleCalls := 0
	offCycle := b.SubscribeCycle(func(CycleReport) { cycleCalls++ })
	b.publishCycle(CycleReport{})
	offCycle()
	b.publishCycle(CycleReport{})
	if cycleCalls != 1 {
		t.Fatalf("cycle calls: %d", cycleCalls)
	}
}

func TestBus_ListenersFireInRegistrationOrder(t *testing.T) {
	b := NewBus()
	var order []string
	b.Subscribe("", func(PathEvent) { order = append(order, "first") })
	b.Subscribe("", func(PathEvent) { order = append(order, "second") })
	b.publishPath(PathEvent{Path: "x"})
	if len(order) != 2 || order[0] != "first" || order[1] != "second" {
		t.Fatalf("order: %v", order)
	}
}
