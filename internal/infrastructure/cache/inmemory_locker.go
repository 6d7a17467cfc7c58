package cache

import (
	"context"
	"sync"
	"time"

	"github.com/erp/reconciliation/internal/domain/reconciliation"
)

type keyedLock struct {
	ch   chan struct{}
	refs int
}

// InMemoryVerificationLocker implements VerificationLocker with one
// channel-backed mutex per key. Locks are process-local and ttl only bounds
// the wait.
type InMemoryVerificationLocker struct {
	mu    sync.Mutex
	locks map[string]*keyedLock
}

// NewInMemoryVerificationLocker creates an empty locker
func NewInMemoryVerificationLocker() *InMemoryVerificationLocker {
	return &InMemoryVerificationLocker{locks: make(map[string]*keyedLock)}
}

// Acquire waits for the key's lock for at most ttl
func (l *InMemoryVerificationLocker) Acquire(ctx context.Context, key string, ttl time.Duration) (func(), error) {
	l.mu.Lock()
	kl, ok := l.locks[key]
	if !ok {
		kl = &keyedLock{ch: make(chan struct{}, 1)}
		l.locks[key] = kl
	}
	kl.refs++
	l.mu.Unlock()

	timer := time.NewTimer(ttl)
	defer timer.Stop()

	select {
	case kl.ch <- struct{}{}:
	case <-ctx.Done():
		l.unref(key, kl)
		return nil, ctx.Err()
	case <-timer.C:
		l.unref(key, kl)
		return nil, reconciliation.ErrLockNotObtained
	}

	var once sync.Once
	return func() {
		once.Do(func() {
			<-kl.ch
			l.unref(key, kl)
		})
	}, nil
}

func (l *InMemoryVerificationLocker) unref(key string, kl *keyedLock) {
	l.mu.Lock()
	defer l.mu.Unlock()
	kl.refs--
	if kl.refs == 0 {
		delete(l.locks, key)
	}
}

// Size returns the number of keys held or waited on (for testing/monitoring)
func (l *InMemoryVerificationLocker) Size() int {
	l.mu.Lock()
	defer l.mu.Unlock()
	return len(l.locks)
}

// Ping always succeeds
func (l *InMemoryVerificationLocker) Ping(context.Context) error {
	return nil
}

// Close is a no-op; it lets the factory treat both lockers alike
func (l *InMemoryVerificationLocker) Close() error {
	return nil
}

var _ reconciliation.VerificationLocker = (*InMemoryVerificationLocker)(nil)
