package lockmgr

import (
	"context"
	"time"
)

// ILockManager defines the interface for a lock provider.
type ILockManager interface {
	// AcquireLock tries once to acquire the lock for the given key. A ttl > 0 releases the lock
	// automatically after that time (protection against crashed holders), ttl = 0 never expires.
	// Returns whether the lock was acquired, the owner ID needed to release it and an error if any.
	AcquireLock(ctx context.Context, key string, ttl time.Duration) (ok bool, ownerID string, err error)

	// ReleaseLock releases the lock for the given key if it is held by ownerID.
	// Returns true if the lock was released or did not exist, false if it is held by someone else.
	ReleaseLock(ctx context.Context, key string, ownerID string) (ok bool, err error)
}
