// Package state holds the local mirror of the authority's variable tree and
// the reconciliation machinery that keeps the two in agreement.
package state

import (
	"context"
	"errors"

	"statecraft.ai/internal/protocol"
	"statecraft.ai/internal/vars"
)

// Authority is the external owner of the canonical tree. Implementations:
// the websocket client in internal/authority, an in-process hub wrapper, and
// test fakes.
type Authority interface {
	// Pull fetches the canonical tree for a selector.
	Pull(ctx context.Context, sel protocol.Selector) (*vars.Value, uint64, error)
	// Push replaces the canonical tree for a selector.
	Push(ctx context.Context, sel protocol.Selector, tree *vars.Value) (uint64, error)
	// Probe checks liveness.
	Probe(ctx context.Context) error
	// Events streams authority-driven change notifications. The channel is
	// closed when the authority goes away.
	Events() <-chan protocol.EventMsg
}

var (
	// ErrIntegrity marks a reconciliation whose pulled tree failed the
	// anti-corruption guard. The cycle is rolled back; retryable.
	ErrIntegrity = errors.New("integrity violation")

	// ErrUnconfirmed marks a batch applied locally whose authority
	// confirmation never arrived within the bound.
	ErrUnconfirmed = errors.New("applied locally but unconfirmed")

	// ErrUnavailable marks an authority that never became reachable within
	// the wait bound.
	ErrUnavailable = errors.New("authority unavailable")
)
