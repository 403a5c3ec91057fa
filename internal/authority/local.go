// Package authority provides implementations of the engine's Authority
// interface: an in-process hub wrapper and a websocket client.
package authority

import (
	"context"

	"statecraft.ai/internal/hub"
	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

// Local adapts an in-process hub, for single-binary setups and tests.
type Local struct {
	hub    *hub.Hub
	events <-chan protocol.EventMsg
	off    func()
}

func NewLocal(ctx context.Context, h *hub.Hub, sel protocol.Selector) (*Local, error) {
	events, off, err := h.Subscribe(ctx, sel, 64)
	if err != nil {
		return nil, err
	}
	return &Local{hub: h, events: events, off: off}, nil
}

func (l *Local) Pull(ctx context.Context, sel protocol.Selector) (*vars.Value, uint64, error) {
	return l.hub.Pull(ctx, sel)
}

func (l *Local) Push(ctx context.Context, sel protocol.Selector, tree *vars.Value) (uint64, error) {
	return l.hub.Push(ctx, sel, tree)
}

func (l *Local) Probe(ctx context.Context) error { return nil }

func (l *Local) Events() <-chan protocol.EventMsg { return l.events }

func (l *Local) Close() { l.off() }
