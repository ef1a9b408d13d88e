// Package lease provides run-exclusivity guards for the automation orchestrator.
package lease

import (
	"context"
	"errors"
	"sync"
)

// Lease errors.
var (
	// ErrHeld is returned when another owner holds the lease.
	ErrHeld = errors.New("lease already held")
	// ErrLost is the cause attached to a run cancelled because its lease expired
	// or was taken over.
	ErrLost = errors.New("lease lost")
)

// Local is an in-process guard. The zero value is ready to use.
type Local struct {
	mu    sync.Mutex
	owner string
}

// NewLocal returns an unheld Local guard.
func NewLocal() *Local {
	return &Local{}
}

// Acquire takes the guard for owner or fails with ErrHeld. A Local guard
// cannot be lost, so the lost channel is nil.
func (l *Local) Acquire(_ context.Context, owner string) (func(), <-chan struct{}, error) {
	l.mu.Lock()
	defer l.mu.Unlock()
	if l.owner != "" {
		return nil, nil, ErrHeld
	}
	if owner == "" {
		owner = "anonymous"
	}
	l.owner = owner
	var once sync.Once
	return func() {
		once.Do(func() {
			l.mu.Lock()
			l.owner = ""
			l.mu.Unlock()
		})
	}, nil, nil
}

// Owner reports the current holder, or "" when free.
func (l *Local) Owner() string {
	l.mu.Lock()
	defer l.mu.Unlock()
	return l.owner
}
