package reconciliation

import (
	"context"
	"errors"
	"time"
)

// ErrLockNotObtained is returned when another holder kept the lock for the
// whole wait. Callers verify anyway; the lock only narrows duplicate work.
var ErrLockNotObtained = errors.New("reconciliation: verification lock not obtained")

// VerificationLocker serializes verification of one delivery across
// processes. The returned release func is safe to call more than once.
type VerificationLocker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (release func(), err error)
}

// VerificationLockKey is the lock key of a delivery
func VerificationLockKey(deliveryID string) string {
	return "reconciliation:verify:" + deliveryID
}
