// Package lock defines the shared, time-bounded mutual-exclusion lease used to
// serialize materialization across independently-running process instances.
package lock

import (
	"context"
	"time"
)

// MaterializeKey derives the lock key guarding a generation's materialization.
func MaterializeKey(generationID string) string {
	return "materialize:" + generationID
}

// Lease is a held lock. The token is opaque and required on release so a slow
// holder cannot release a lock already reacquired by a later holder after TTL
// expiry.
type Lease struct {
	Key        string
	Token      string
	AcquiredAt time.Time
	TTL        time.Duration

	releaser Releaser
}

// NewLease constructs a lease bound to the releaser that granted it.
func NewLease(key, token string, ttl time.Duration, r Releaser) *Lease {
	return &Lease{
		Key:        key,
		Token:      token,
		AcquiredAt: time.Now(),
		TTL:        ttl,
		releaser:   r,
	}
}

// Release releases the lease if the backing store still holds this token.
// Returns true when the lease was released by this call.
func (l *Lease) Release(ctx context.Context) (bool, error) {
	if l == nil || l.releaser == nil {
		return false, nil
	}
	return l.releaser.Release(ctx, l.Key, l.Token)
}

// Releaser releases a key when the supplied token matches the current holder.
type Releaser interface {
	Release(ctx context.Context, key, token string) (bool, error)
}

// Locker acquires time-bounded leases. Acquire returns (nil, false, nil) when
// the key is already held by someone else.
type Locker interface {
	Acquire(ctx context.Context, key string, ttl time.Duration) (*Lease, bool, error)
}
