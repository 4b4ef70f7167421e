// Package lockmgr implements named locks on top of any kv.IStore.
//
// A lock is a plain key whose value is the uuid of its owner. The manager keeps no
// state besides the store, so it is safe to create one per operation as long as the
// same store is used.
//
// Acquisition uses SETNX with an optional ttl, so only one requester can create the
// key and a crashed holder never blocks a resource forever. ReleaseLock reads the key
// and deletes it only if the owner id matches. A missing key counts as released.
//
// Acquire polls AcquireLock every DefaultRetryInterval until the lock is taken, the
// context is done or the wait time elapsed (ErrTimeout).
//
// Usage Example:
//
//	locks := lockmgr.NewLockManager(store)
//
//	ownerID, err := lockmgr.Acquire(ctx, locks, "resource:123", 30*time.Second, time.Second)
//	if err != nil {
//	    return err
//	}
//	defer locks.ReleaseLock(ctx, "resource:123", ownerID)
//
// Owner ids protect against releasing someone else's lock by accident, not against a
// client with direct access to the store. With dstore as the backend the locks are
// replicated with raft and hold across nodes.
package lockmgr
