package state

import (
	"context"
	"fmt"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/script"
	"statecraft.ai/internal/vars"
)

// runCycle drives one batch through the full state machine:
// Idle -> Committing -> AwaitingConfirmation -> Reconciled | RolledBack.
// It runs on the engine goroutine; exactly one cycle exists at a time.
func (e *Engine) runCycle(ctx context.Context, batch script.Batch) CycleReport {
	rep := CycleReport{}

	snap := e.cache.Snapshot()
	working := snap.Tree
	rep.Results = script.ExecuteBatch(working, batch)

	applied := 0
	for _, r := range rep.Results {
		if r.OK {
			applied++
		}
	}
	if applied == 0 {
		// Nothing changed locally; no authority round trip needed.
		rep.Outcome = OutcomeReconciled
		e.bus.publishCycle(rep)
		return rep
	}

	// The in-flight marker keeps authority-driven refreshes from clobbering
	// a mid-commit cache. Reference counted for nested invocation.
	e.inFlight.Add(1)

	if _, err := e.auth.Push(ctx, e.opts.Selector, working); err != nil {
		e.inFlight.Add(-1)
		rep.Outcome = OutcomeRolledBack
		rep.Err = fmt.Errorf("push: %w", err)
		e.bus.publishCycle(rep)
		return rep
	}

	if !e.awaitConfirmation(ctx) {
		// Clear the marker defensively; the push may still land later but
		// we stop waiting for it.
		e.inFlight.Add(-1)
		e.cache.replace(working)
		rep.Outcome = OutcomeUnconfirmed
		rep.Err = ErrUnconfirmed
		e.notifyCommits(rep.Results)
		e.bus.publishCycle(rep)
		return rep
	}

	pulled, _, err := e.auth.Pull(ctx, e.opts.Selector)
	if err != nil {
		e.inFlight.Add(-1)
		rep.Outcome = OutcomeRolledBack
		rep.Err = fmt.Errorf("confirmation pull: %w", err)
		e.bus.publishCycle(rep)
		return rep
	}

	if err := e.integrityCheck(snap, pulled); err != nil {
		// Discard the pulled tree; the previous cache stays authoritative.
		e.inFlight.Add(-1)
		rep.Outcome = OutcomeRolledBack
		rep.Err = err
		e.log.Printf("reconcile rolled back: %v", err)
		e.bus.publishCycle(rep)
		return rep
	}

	e.cache.replace(pulled)
	e.inFlight.Add(-1)
	rep.Outcome = OutcomeReconciled
	e.notifyCommits(rep.Results)
	e.bus.publishCycle(rep)
	return rep
}

// awaitConfirmation consumes the event stream until the authority confirms
// our push with update_ended, the wait bound elapses, or ctx ends. External
// refresh events seen here are deliberately dropped: the in-flight marker is
// held and they would clobber the commit.
func (e *Engine) awaitConfirmation(ctx context.Context) bool {
	timeout := e.clock.After(e.opts.ConfirmWait)
	for {
		select {
		case <-ctx.Done():
			return false
		case <-timeout:
			return false
		case ev, ok := <-e.auth.Events():
			if !ok {
				return false
			}
			if !e.matches(ev.Selector) {
				continue
			}
			if ev.Event == protocol.EventUpdateEnded {
				return true
			}
		}
	}
}

// integrityCheck guards a commit against partial or corrupt authority
// state: the new tree must be an object, must not lose more than half the
// previous top-level keys (when the previous tree was non-empty), and must
// keep the required namespace.
func (e *Engine) integrityCheck(snap Snapshot, pulled *vars.Value) error {
	if !pulled.IsObject() {
		return fmt.Errorf("%w: pulled tree is %s, not an object", ErrIntegrity, pulled.Kind())
	}
	prev := len(snap.TopKeys)
	if prev > 0 && pulled.Len()*2 < prev {
		return fmt.Errorf("%w: top-level keys dropped %d -> %d", ErrIntegrity, prev, pulled.Len())
	}
	ns := e.opts.RequiredNamespace
	if ns != "" {
		if _, had := snap.Tree.Get(ns); had {
			if _, ok := pulled.Get(ns); !ok {
				return fmt.Errorf("%w: namespace %q missing after commit", ErrIntegrity, ns)
			}
		}
	}
	return nil
}

// notifyCommits fires path events for the successful commands of a batch,
// in command order.
func (e *Engine) notifyCommits(results []script.Result) {
	for _, r := range results {
		if !r.OK {
			continue
		}
		e.bus.publishPath(PathEvent{
			Path:    r.Cmd.Path,
			Old:     r.Old,
			New:     r.New,
			Comment: r.Cmd.Comment,
		})
	}
}
