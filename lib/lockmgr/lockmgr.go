package lockmgr

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/google/uuid"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("lockmgr")

// ErrTimeout is returned by Acquire if the lock could not be acquired in time
var ErrTimeout = errors.New("lockmgr: timeout while waiting for lock")

// DefaultRetryInterval is the interval in which Acquire retries to get a held lock
const DefaultRetryInterval = 25 * time.Millisecond

type lockMgrImpl struct {
	store kv.IStore
}

// NewLockManager creates a lock manager that keeps its locks in the given store
func NewLockManager(store kv.IStore) ILockManager {
	return &lockMgrImpl{
		store: store,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see lockmgr/interface.go)
// --------------------------------------------------------------------------

func (lm *lockMgrImpl) AcquireLock(ctx context.Context, key string, ttl time.Duration) (bool, string, error) {
	ownerID := uuid.NewString()

	// SETNX is atomic in every store, only one requester can create the key
	res, err := lm.store.Exec(ctx, kv.ModeDirect, kv.NewSetNX(key, []byte(ownerID), ttl))
	if err != nil {
		return false, "", err
	}
	if err := res[0].Cause(); err != nil {
		return false, "", err
	}
	if !res[0].Ok {
		return false, "", nil
	}
	return true, ownerID, nil
}

func (lm *lockMgrImpl) ReleaseLock(ctx context.Context, key string, ownerID string) (bool, error) {
	res, err := lm.store.Exec(ctx, kv.ModeDirect, kv.NewGet(key))
	if err != nil {
		return false, err
	}
	if err := res[0].Cause(); err != nil {
		return false, err
	}

	// lock does not exist (released or expired)
	if !res[0].Ok {
		return true, nil
	}
	// held by someone else
	if string(res[0].Value) != ownerID {
		return false, nil
	}

	/*
		Note: between the Get and the Del the lock could expire and be acquired by another owner.
		Locks should therefore use a ttl that is much larger than the time it is held.
	*/
	res, err = lm.store.Exec(ctx, kv.ModeDirect, kv.NewDel(key))
	if err != nil {
		return false, err
	}
	return true, res[0].Cause()
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// Acquire blocks until the lock for key is acquired, the context is done or wait elapsed (wait <= 0 tries once).
// It returns the owner ID of the acquired lock.
func Acquire(ctx context.Context, lm ILockManager, key string, ttl, wait time.Duration) (string, error) {
	deadline := time.Now().Add(wait)
	for attempt := 1; ; attempt++ {
		if err := ctx.Err(); err != nil {
			return "", err
		}
		ok, ownerID, err := lm.AcquireLock(ctx, key, ttl)
		if err != nil {
			return "", err
		}
		if ok {
			return ownerID, nil
		}
		if !time.Now().Add(DefaultRetryInterval).Before(deadline) {
			return "", fmt.Errorf("%w %q after %d attempts", ErrTimeout, key, attempt)
		}
		log.Debugf("lock %s is held, retrying (%d)...", key, attempt)

		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case <-time.After(DefaultRetryInterval):
		}
	}
}
