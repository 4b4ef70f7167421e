/*
Package storage maps typed records onto a kv.IStore.

A Service creates handles bound to one key. Every handle stores its records in one of four representations:

  - Hash: one hash, a field per record (NewHash)
  - List: one list, an element per record (NewList)
  - Blob: one value holding a single record or a list of records (NewBlob)
  - Keyed: one key per record named prefix:id (NewKeyed)

Writes are queued in a single-use Pipeline and dispatched according to the Policy of the handle:
directly, batched (no atomicity, failed operations are reported in an *ExecError) or as a
transaction (all or nothing, ErrNotApplied). With AutoExecute every operation is dispatched at once,
BeginPipeline / ExecutePipeline (or WithPipeline) group operations into one round trip.

Expiry: with Policy.DefaultExpiry every write (re-)applies the expiry of the key (fixed expiry),
with SlidingExpiration reads renew it as well.

Read-modify-write operations (Mutate, UpdateProperty, Increment, UpdateIf, List.Update, Blob.Append, ...)
are not atomic. Handles with Policy.LockTTL > 0 hold a lockmgr lock while reading and writing, which
protects against other locking handles as long as the write is executed before the lock is released
(i.e. not inside a manual pipeline).

Example:

	svc := storage.NewService(store)
	sessions := storage.NewKeyed[Session](svc, "session", storage.Expiry(2*time.Hour, true))
	if err := sessions.Insert(ctx, &Session{ID: "abc"}); err != nil {
		return err
	}
	s, err := sessions.Get(ctx, "abc")
*/
package storage
