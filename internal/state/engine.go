package state

import (
	"context"
	"log"
	"sync/atomic"
	"time"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/script"
	"statecraft.ai/internal/vars"
)

// Options configures an Engine.
type Options struct {
	Selector protocol.Selector

	// ConfirmWait bounds the wait for the authority's confirmation event
	// after a push. Default 10s.
	ConfirmWait time.Duration

	// RequiredNamespace must still be present after a commit when the prior
	// snapshot had it. Defaults to Selector.Namespace.
	RequiredNamespace string

	Backoff BackoffPolicy
	Clock   Clock
	Logger  *log.Logger
}

// Engine owns the cache and runs reconciliation cycles one at a time.
// Batches submitted while one is in flight queue FIFO behind it.
type Engine struct {
	auth  Authority
	cache *Cache
	bus   *Bus
	opts  Options
	clock Clock
	log   *log.Logger

	applies  chan applyReq
	inFlight atomic.Int32
	avail    atomic.Int32
	retries  atomic.Int32
}

type applyReq struct {
	ctx   context.Context
	batch script.Batch
	resp  chan CycleReport
}

func New(auth Authority, opts Options) *Engine {
	if opts.ConfirmWait <= 0 {
		opts.ConfirmWait = 10 * time.Second
	}
	if opts.RequiredNamespace == "" {
		opts.RequiredNamespace = opts.Selector.Namespace
	}
	if opts.Backoff.MaxAttempts == 0 {
		opts.Backoff = DefaultBackoff()
	}
	if opts.Clock == nil {
		opts.Clock = SystemClock{}
	}
	if opts.Logger == nil {
		opts.Logger = log.Default()
	}
	return &Engine{
		auth:    auth,
		cache:   NewCache(),
		bus:     NewBus(),
		opts:    opts,
		clock:   opts.Clock,
		log:     opts.Logger,
		applies: make(chan applyReq, 16),
	}
}

func (e *Engine) Cache() *Cache { return e.cache }
func (e *Engine) Bus() *Bus     { return e.bus }

// InFlight reports whether a reconciliation cycle currently holds the
// internal-update marker.
func (e *Engine) InFlight() bool { return e.inFlight.Load() > 0 }

// Availability returns the supervisor's last observed state.
func (e *Engine) Availability() AvailabilityState {
	return AvailabilityState(e.avail.Load())
}

// Run processes queued batches and authority events until ctx ends. All
// cache mutation happens on this goroutine.
func (e *Engine) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-e.applies:
			rep := e.runCycle(req.ctx, req.batch)
			req.resp <- rep
		case ev, ok := <-e.auth.Events():
			if !ok {
				return nil
			}
			e.handleExternal(ctx, ev)
		}
	}
}

// Apply queues a batch and waits for its cycle report. Cycles run strictly
// one at a time in submission order.
func (e *Engine) Apply(ctx context.Context, batch script.Batch) (CycleReport, error) {
	req := applyReq{ctx: ctx, batch: batch, resp: make(chan CycleReport, 1)}
	select {
	case e.applies <- req:
	case <-ctx.Done():
		return CycleReport{}, ctx.Err()
	}
	select {
	case rep := <-req.resp:
		return rep, nil
	case <-ctx.Done():
		return CycleReport{}, ctx.Err()
	}
}

// ApplyText parses a message and applies the resulting batch.
func (e *Engine) ApplyText(ctx context.Context, text string) (script.Batch, CycleReport, error) {
	batch := script.ParseMessage(text)
	rep, err := e.Apply(ctx, batch)
	return batch, rep, err
}

func (e *Engine) matches(sel protocol.Selector) bool {
	return sel.Session == e.opts.Selector.Session && sel.Namespace == e.opts.Selector.Namespace
}

// handleExternal processes authority-driven events that arrive while no
// cycle is in flight. Mid-cycle events are consumed by the confirmation
// wait instead.
func (e *Engine) handleExternal(ctx context.Context, ev protocol.EventMsg) {
	if !e.matches(ev.Selector) {
		return
	}
	switch ev.Event {
	case protocol.EventSessionReset:
		// Context switch: drop the mirror and start over.
		e.cache.reset()
		e.refresh(ctx, nil)
		e.log.Printf("session reset: cache cleared and repulled")

	case protocol.EventSingleUpdated:
		if ev.Path == "" {
			return
		}
		nv, err := vars.FromJSON(ev.New)
		if err != nil {
			return
		}
		var old *vars.Value
		if len(ev.Old) > 0 {
			old, _ = vars.FromJSON(ev.Old)
		}
		if err := e.cache.setPath(ev.Path, nv); err != nil {
			e.log.Printf("external update %q rejected: %v", ev.Path, err)
			return
		}
		e.bus.publishPath(PathEvent{Path: ev.Path, Old: old, New: nv})

	case protocol.EventUpdateEnded, protocol.EventUpdateStarted:
		e.refresh(ctx, ev.Tree)
	}
}

// refresh replaces the cache from an event payload, or from a fresh pull
// when the event carried no tree.
func (e *Engine) refresh(ctx context.Context, raw []byte) {
	if len(raw) > 0 {
		if tree, err := vars.FromJSON(raw); err == nil && tree.IsObject() {
			e.cache.replace(tree)
			return
		}
	}
	pullCtx, cancel := context.WithTimeout(ctx, e.opts.ConfirmWait)
	defer cancel()
	tree, _, err := e.auth.Pull(pullCtx, e.opts.Selector)
	if err != nil {
		e.log.Printf("refresh pull failed: %v", err)
		return
	}
	e.cache.replace(tree)
}
