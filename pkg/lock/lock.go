// Package lock serializes cache writers, either within one process or
// across processes sharing a store.
package lock

import (
	"context"
	"errors"
	"sync"

	"github.com/pario-ai/stagegate/pkg/config"
)

// ErrLockTimeout is returned when a lock could not be acquired within the
// configured number of attempts.
var ErrLockTimeout = errors.New("lock acquisition timed out")

// Locker hands out named exclusive locks. Call the returned unlock func
// when done.
type Locker interface {
	Lock(ctx context.Context, name string) (unlock func(), err error)
}

// Local is an in-process Locker with one lock per name.
type Local struct {
	mu    sync.Mutex
	slots map[string]chan struct{}
}

// NewLocal creates a Local locker.
func NewLocal() *Local {
	return &Local{slots: make(map[string]chan struct{})}
}

func (l *Local) slot(name string) chan struct{} {
	l.mu.Lock()
	defer l.mu.Unlock()
	ch, ok := l.slots[name]
	if !ok {
		ch = make(chan struct{}, 1)
		l.slots[name] = ch
	}
	return ch
}

// Lock blocks until name is free or ctx is done.
func (l *Local) Lock(ctx context.Context, name string) (func(), error) {
	ch := l.slot(name)
	select {
	case ch <- struct{}{}:
		var once sync.Once
		return func() { once.Do(func() { <-ch }) }, nil
	case <-ctx.Done():
		return nil, ctx.Err()
	}
}

// FromConfig returns a Valkey locker when an address is configured and a
// Local one otherwise. The returned close func releases the connection.
func FromConfig(cfg config.LockConfig) (Locker, func(), error) {
	if cfg.Valkey.Address == "" {
		return NewLocal(), func() {}, nil
	}
	v, err := NewValkey(cfg.Valkey)
	if err != nil {
		return nil, nil, err
	}
	return v, v.Close, nil
}
