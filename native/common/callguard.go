package common

import (
	"errors"
	"fmt"
)

var ErrReentrantCall = errors.New("reentrant call")

// CallGuard rejects nested mutating calls on a single component. The engines
// run under one writer, so the guard tracks call-stack nesting rather than
// goroutine contention: a component that re-enters itself mid-operation is a
// bug or an attack, while distinct components may nest freely because each
// owns its own guard.
type CallGuard struct {
	inFlight string
}

// Enter marks op as in flight and returns the release func that must run when
// the operation finishes. A second Enter before release fails with
// ErrReentrantCall naming both operations.
func (g *CallGuard) Enter(op string) (func(), error) {
	if g == nil {
		return func() {}, nil
	}
	if g.inFlight != "" {
		return nil, fmt.Errorf("%w: %s during %s", ErrReentrantCall, op, g.inFlight)
	}
	g.inFlight = op
	return func() { g.inFlight = "" }, nil
}

// Busy reports whether an operation currently holds the guard.
func (g *CallGuard) Busy() bool {
	return g != nil && g.inFlight != ""
}
