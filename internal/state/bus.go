package state

import (
	"sync"

	"statecraft.ai/internal/script"
	"statecraft.ai/internal/vars"
)

// Outcome classifies a finished reconciliation cycle.
type Outcome int

const (
	OutcomeReconciled Outcome = iota
	OutcomeRolledBack
	OutcomeUnconfirmed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeReconciled:
		return "reconciled"
	case OutcomeRolledBack:
		return "rolled_back"
	case OutcomeUnconfirmed:
		return "unconfirmed"
	}
	return "unknown"
}

// PathEvent notifies one committed change.
type PathEvent struct {
	Path    string
	Old     *vars.Value
	New     *vars.Value
	Comment string
}

// CycleReport summarizes one reconciliation cycle; fired exactly once per
// cycle after all path events of that cycle.
type CycleReport struct {
	Outcome Outcome
	Results []script.Result
	Err     error
}

type pathSub struct {
	id     int
	prefix string
	fn     func(PathEvent)
}

type cycleSub struct {
	id int
	fn func(CycleReport)
}

// Bus delivers change notifications. Callbacks run synchronously in the
// engine goroutine, in registration order; per-command events follow command
// order within a batch.
type Bus struct {
	mu     sync.Mutex
	nextID int
	paths  []pathSub
	cycles []cycleSub
}

func NewBus() *Bus {
	return &Bus{}
}

// Subscribe registers a path listener. An empty prefix matches every path;
// otherwise the prefix matches on dot boundaries. The returned function
// unsubscribes.
func (b *Bus) Subscribe(prefix string, fn func(PathEvent)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.paths = append(b.paths, pathSub{id: id, prefix: prefix, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.paths {
			if s.id == id {
				b.paths = append(b.paths[:i], b.paths[i+1:]...)
				return
			}
		}
	}
}

// SubscribeCycle registers a cycle-completion listener.
func (b *Bus) SubscribeCycle(fn func(CycleReport)) func() {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.nextID++
	id := b.nextID
	b.cycles = append(b.cycles, cycleSub{id: id, fn: fn})
	return func() {
		b.mu.Lock()
		defer b.mu.Unlock()
		for i, s := range b.cycles {
			if s.id == id {
				b.cycles = append(b.cycles[:i], b.cycles[i+1:]...)
				return
			}
		}
	}
}

func (b *Bus) publishPath(ev PathEvent) {
	b.mu.Lock()
	subs := make([]pathSub, len(b.paths))
	copy(subs, b.paths)
	b.mu.Unlock()
	for _, s := range subs {
		if vars.HasPathPrefix(ev.Path, s.prefix) {
			s.fn(ev)
		}
	}
}

func (b *Bus) publishCycle(rep CycleReport) {
	b.mu.Lock()
	subs := make([]cycleSub, len(b.cycles))
	copy(subs, b.cycles)
	b.mu.Unlock()
	for _, s := range subs {
		s.fn(rep)
	}
}
