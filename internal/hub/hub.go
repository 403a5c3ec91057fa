// Package hub is the state authority: the canonical owner of every variable
// tree, keyed by session and namespace. A single goroutine owns all state;
// callers talk to it through request channels.
package hub

import (
	"context"
	"fmt"
	"log"
	"time"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

type Config struct {
	// MaxTreeBytes rejects pushes whose encoded tree exceeds the limit.
	// Zero means no limit.
	MaxTreeBytes int

	// MaxSingleEvents caps the per-path events emitted for one push; beyond
	// it subscribers rely on the update_ended tree.
	MaxSingleEvents int

	// OnPush, when set, observes every accepted push with its full diff.
	// Called from the run goroutine; keep it fast.
	OnPush func(sel protocol.Selector, rev uint64, changes []Change)
}

// Change is one path-level difference between consecutive trees.
type Change struct {
	Path string
	Old  *vars.Value
	New  *vars.Value
}

func (c *Config) normalize() {
	if c.MaxSingleEvents <= 0 {
		c.MaxSingleEvents = 64
	}
}

// CodeError carries a protocol error code across the hub boundary.
type CodeError struct {
	Code    string
	Message string
}

func (e *CodeError) Error() string { return e.Code + ": " + e.Message }

type entry struct {
	tree *vars.Value
	rev  uint64
}

type subscriber struct {
	id  int
	sel protocol.Selector
	out chan protocol.EventMsg
}

type Hub struct {
	cfg Config
	log *log.Logger

	reqs chan any

	// Owned by the run goroutine.
	state  map[string]*entry
	subs   map[int]subscriber
	nextID int
}

func New(cfg Config, logger *log.Logger) *Hub {
	cfg.normalize()
	if logger == nil {
		logger = log.Default()
	}
	return &Hub{
		cfg:   cfg,
		log:   logger,
		reqs:  make(chan any, 64),
		state: map[string]*entry{},
		subs:  map[int]subscriber{},
	}
}

// Seed installs a tree before Run starts, e.g. from a snapshot.
func (h *Hub) Seed(sel protocol.Selector, tree *vars.Value, rev uint64) {
	if !tree.IsObject() {
		tree = vars.NewObject()
	}
	h.state[sel.Key()] = &entry{tree: tree.Clone(), rev: rev}
}

type pullReq struct {
	sel  protocol.Selector
	resp chan pullResp
}

type pullResp struct {
	tree *vars.Value
	rev  uint64
}

type pushReq struct {
	sel  protocol.Selector
	tree *vars.Value
	resp chan pushResp
}

type pushResp struct {
	rev uint64
	err error
}

type subReq struct {
	sel  protocol.Selector
	out  chan protocol.EventMsg
	resp chan int
}

type unsubReq struct {
	id int
}

type resetReq struct {
	session string
	resp    chan struct{}
}

type exportReq struct {
	resp chan []Export
}

// Export is one canonical tree captured for persistence.
type Export struct {
	Selector protocol.Selector
	Tree     *vars.Value
	Revision uint64
}

// Run owns all hub state until ctx ends.
func (h *Hub) Run(ctx context.Context) error {
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case req := <-h.reqs:
			switch r := req.(type) {
			case pullReq:
				r.resp <- h.handlePull(r.sel)
			case pushReq:
				r.resp <- h.handlePush(r.sel, r.tree)
			case subReq:
				h.nextID++
				h.subs[h.nextID] = subscriber{id: h.nextID, sel: r.sel, out: r.out}
				r.resp <- h.nextID
			case unsubReq:
				delete(h.subs, r.id)
			case resetReq:
				h.handleReset(r.session)
				r.resp <- struct{}{}
			case exportReq:
				r.resp <- h.handleExport()
			}
		}
	}
}

func (h *Hub) send(ctx context.Context, req any) error {
	select {
	case h.reqs <- req:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// Pull returns a copy of the canonical tree. An unknown selector pulls an
// empty tree at revision 0, so a fresh session needs no explicit create.
func (h *Hub) Pull(ctx context.Context, sel protocol.Selector) (*vars.Value, uint64, error) {
	resp := make(chan pullResp, 1)
	if err := h.send(ctx, pullReq{sel: sel, resp: resp}); err != nil {
		return nil, 0, err
	}
	select {
	case r := <-resp:
		return r.tree, r.rev, nil
	case <-ctx.Done():
		return nil, 0, ctx.Err()
	}
}

// Push replaces the canonical tree and broadcasts the update event triple.
func (h *Hub) Push(ctx context.Context, sel protocol.Selector, tree *vars.Value) (uint64, error) {
	resp := make(chan pushResp, 1)
	if err := h.send(ctx, pushReq{sel: sel, tree: tree, resp: resp}); err != nil {
		return 0, err
	}
	select {
	case r := <-resp:
		return r.rev, r.err
	case <-ctx.Done():
		return 0, ctx.Err()
	}
}

// Subscribe registers an event feed for one selector. The returned cancel
// detaches it.
func (h *Hub) Subscribe(ctx context.Context, sel protocol.Selector, buffer int) (<-chan protocol.EventMsg, func(), error) {
	if buffer <= 0 {
		buffer = 32
	}
	out := make(chan protocol.EventMsg, buffer)
	resp := make(chan int, 1)
	if err := h.send(ctx, subReq{sel: sel, out: out, resp: resp}); err != nil {
		return nil, nil, err
	}
	select {
	case id := <-resp:
		cancel := func() {
			// Wait out a momentarily full queue; give up only when the hub
			// looks stopped for good.
			select {
			case h.reqs <- unsubReq{id: id}:
			case <-time.After(5 * time.Second):
			}
		}
		return out, cancel, nil
	case <-ctx.Done():
		return nil, nil, ctx.Err()
	}
}

// ResetSession drops every namespace of a session and tells subscribers to
// repull.
func (h *Hub) ResetSession(ctx context.Context, session string) error {
	resp := make(chan struct{}, 1)
	if err := h.send(ctx, resetReq{session: session, resp: resp}); err != nil {
		return err
	}
	select {
	case <-resp:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// ExportAll captures every canonical tree for snapshotting.
func (h *Hub) ExportAll(ctx context.Context) ([]Export, error) {
	resp := make(chan []Export, 1)
	if err := h.send(ctx, exportReq{resp: resp}); err != nil {
		return nil, err
	}
	select {
	case out := <-resp:
		return out, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

func (h *Hub) handlePull(sel protocol.Selector) pullResp {
	if e, ok := h.state[sel.Key()]; ok {
		return pullResp{tree: e.tree.Clone(), rev: e.rev}
	}
	return pullResp{tree: vars.NewObject(), rev: 0}
}

func (h *Hub) handlePush(sel protocol.Selector, tree *vars.Value) pushResp {
	if sel.Session == "" || sel.Namespace == "" {
		return pushResp{err: &CodeError{Code: protocol.ErrBadSelector, Message: "empty session or namespace"}}
	}
	if !tree.IsObject() {
		return pushResp{err: &CodeError{Code: protocol.ErrBadTree, Message: "tree root must be an object"}}
	}
	if h.cfg.MaxTreeBytes > 0 {
		b, err := tree.MarshalJSON()
		if err != nil {
			return pushResp{err: &CodeError{Code: protocol.ErrBadTree, Message: err.Error()}}
		}
		if len(b) > h.cfg.MaxTreeBytes {
			return pushResp{err: &CodeError{
				Code:    protocol.ErrTreeTooLarge,
				Message: fmt.Sprintf("%d bytes over %d limit", len(b), h.cfg.MaxTreeBytes),
			}}
		}
	}

	e, ok := h.state[sel.Key()]
	if !ok {
		e = &entry{tree: vars.NewObject()}
		h.state[sel.Key()] = e
	}
	old := e.tree
	e.tree = tree.Clone()
	e.rev++

	h.broadcast(sel, protocol.EventMsg{
		Type: protocol.TypeEvent, ProtocolVersion: protocol.Version,
		Event: protocol.EventUpdateStarted, Selector: sel, Revision: e.rev,
		Tree: mustJSON(old),
	})
	changes := diffPaths(old, e.tree, "")
	if h.cfg.OnPush != nil {
		out := make([]Change, len(changes))
		for i, ch := range changes {
			out[i] = Change{Path: ch.path, Old: ch.old, New: ch.new}
		}
		h.cfg.OnPush(sel, e.rev, out)
	}
	if len(changes) > h.cfg.MaxSingleEvents {
		changes = changes[:h.cfg.MaxSingleEvents]
	}
	for _, ch := range changes {
		h.broadcast(sel, protocol.EventMsg{
			Type: protocol.TypeEvent, ProtocolVersion: protocol.Version,
			Event: protocol.EventSingleUpdated, Selector: sel, Revision: e.rev,
			Path: ch.path, Old: mustJSON(ch.old), New: mustJSON(ch.new),
		})
	}
	h.broadcast(sel, protocol.EventMsg{
		Type: protocol.TypeEvent, ProtocolVersion: protocol.Version,
		Event: protocol.EventUpdateEnded, Selector: sel, Revision: e.rev,
		Tree: mustJSON(e.tree),
	})
	return pushResp{rev: e.rev}
}

func (h *Hub) handleReset(session string) {
	for key := range h.state {
		sel, ok := splitKey(key)
		if !ok || sel.Session != session {
			continue
		}
		delete(h.state, key)
		h.broadcast(sel, protocol.EventMsg{
			Type: protocol.TypeEvent, ProtocolVersion: protocol.Version,
			Event: protocol.EventSessionReset, Selector: sel,
		})
	}
}

func (h *Hub) handleExport() []Export {
	out := make([]Export, 0, len(h.state))
	for key, e := range h.state {
		sel, ok := splitKey(key)
		if !ok {
			continue
		}
		out = append(out, Export{Selector: sel, Tree: e.tree.Clone(), Revision: e.rev})
	}
	return out
}

// broadcast fans an event out to matching subscribers. Slow subscribers
// lose events rather than stall the hub; they recover from the next
// update_ended tree.
func (h *Hub) broadcast(sel protocol.Selector, ev protocol.EventMsg) {
	for _, s := range h.subs {
		if s.sel.Session != sel.Session || s.sel.Namespace != sel.Namespace {
			continue
		}
		select {
		case s.out <- ev:
		default:
			h.log.Printf("subscriber %d lagging, dropped %s", s.id, ev.Event)
		}
	}
}
