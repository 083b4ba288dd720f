// Package iouring is a placeholder for a completion-based server
// architecture. It is declared, not implemented: a future io_uring backend
// must present the same Connection state machine as the readiness engine
// (engine.Server), without committing this repository to a real io_uring
// binding before that design exists.
package iouring

import (
	"context"
	"errors"
)

// ErrNotImplemented is returned by Backend.Run unconditionally.
var ErrNotImplemented = errors.New("iouring: backend not implemented")

// Backend satisfies engine.Backend so cmd/server can select it the same
// way it selects every other architecture; it does nothing else.
type Backend struct{}

// New returns an unimplemented io_uring backend.
func New() *Backend { return &Backend{} }

// Run always returns ErrNotImplemented.
func (*Backend) Run(ctx context.Context) error {
	return ErrNotImplemented
}
