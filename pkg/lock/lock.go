// Package lock provides named leases that keep a job from running on more
// than one instance at a time.
package lock

import (
	"context"
	"errors"
	"os"
	"time"

	"github.com/google/uuid"
)

// ErrNotAcquired is returned when another holder owns the lock.
var ErrNotAcquired = errors.New("lock held by another instance")

// Lease is a held lock. Unlock releases it only if still owned by this holder.
type Lease interface {
	Unlock(ctx context.Context) error
}

// Locker acquires named leases. A lease expires after ttl even if never
// unlocked, so a crashed holder cannot block the job forever.
type Locker interface {
	TryLock(ctx context.Context, name string, ttl time.Duration) (Lease, bool, error)
}

// NoopLocker always acquires. Use it for single-instance local runs.
type NoopLocker struct{}

func (NoopLocker) TryLock(context.Context, string, time.Duration) (Lease, bool, error) {
	return noopLease{}, true, nil
}

type noopLease struct{}

func (noopLease) Unlock(context.Context) error { return nil }

// leaseToken identifies one acquisition by owner, so a lease that outlived
// its ttl can not release the lock a later acquisition holds.
func leaseToken(owner string) string {
	return owner + "#" + uuid.NewString()
}

// Owner identifies this process as a lock holder.
func Owner() string {
	host, err := os.Hostname()
	if err != nil || host == "" {
		host = "unknown"
	}
	return host + "/" + uuid.NewString()
}
