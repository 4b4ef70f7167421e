package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/lockmgr"
	"github.com/lni/dragonboat/v4/logger"
)

var log = logger.GetLogger("storage")

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStorage is the interface shared by all storage handles (Hash, List, Blob, Keyed).
// A handle is bound to one key (or key prefix) and is not safe for concurrent use.
//
// Writes are queued in the pipeline of the handle and dispatched according to the policy
// (immediately if AutoExecute is set). Reads flush pending writes first, so a handle always
// reads its own writes. The exception is WithPipeline (see there). Records that can not be
// decoded are skipped (and logged) by reads.
type IStorage[T any, P Record[T]] interface {
	// Insert stores the record (a record with the same id may be replaced, see the handle type)
	Insert(ctx context.Context, item P) error
	// InsertMany stores the records, queued in chunks of Policy.ChunkSize
	InsertMany(ctx context.Context, items []P) error
	// Update replaces the stored record with the same id
	Update(ctx context.Context, item P) error
	// UpdateMany replaces the stored records with the same ids
	UpdateMany(ctx context.Context, items []P) error
	// Mutate reads the record with the given id, applies fn and writes it back.
	// Returns false if the record does not exist. Not atomic unless the policy enables locking.
	Mutate(ctx context.Context, id string, fn func(item P) error) (bool, error)
	// UpdateProperty sets a single property of a record implementing PropertyAccessor
	UpdateProperty(ctx context.Context, id, name string, value any) (bool, error)
	// Delete removes the record with the given id
	Delete(ctx context.Context, id string) error
	// DeleteMany removes the records with the given ids
	DeleteMany(ctx context.Context, ids []string) error
	// Clear removes all records
	Clear(ctx context.Context) error

	// Get returns the record with the given id or nil
	Get(ctx context.Context, id string) (P, error)
	// GetAll returns all records
	GetAll(ctx context.Context) ([]P, error)
	// Exists returns true if a record with the given id exists
	Exists(ctx context.Context, id string) (bool, error)
	// Count returns the number of records
	Count(ctx context.Context) (int, error)
	// Where returns all records matching pred. It reads all records and filters them in memory.
	Where(ctx context.Context, pred func(item P) bool) ([]P, error)
	// FirstOrDefault returns the first record matching pred (nil = any) or nil. It reads all records.
	FirstOrDefault(ctx context.Context, pred func(item P) bool) (P, error)

	// Expire sets the time to live of the stored records
	Expire(ctx context.Context, ttl time.Duration) (bool, error)
	// ExpireAt sets the expiry time of the stored records
	ExpireAt(ctx context.Context, at time.Time) (bool, error)
	// TTL returns the remaining time to live (kv.TTLNoExpiry, kv.TTLMissing)
	TTL(ctx context.Context) (time.Duration, error)
	// Persist removes the expiry
	Persist(ctx context.Context) (bool, error)
	// HasExpiry returns true if the records expire
	HasExpiry(ctx context.Context) (bool, error)

	// BeginPipeline disables auto execution until ExecutePipeline or DiscardPipeline is called
	BeginPipeline()
	// ExecutePipeline executes all pending operations and re-enables auto execution
	ExecutePipeline(ctx context.Context) error
	// DiscardPipeline drops all pending operations and returns their number
	DiscardPipeline() int
	// PendingOperations returns the number of queued operations
	PendingOperations() int
	// WithPipeline queues all writes of fn and executes them as one pipeline if fn returns nil,
	// otherwise they are discarded and nothing of fn is applied. Inside fn a read (or a write that
	// reads first, like List.Update, Blob.Append or Mutate) fails with ErrScopedRead once a write
	// is queued, the queue is never dispatched before fn returns.
	WithPipeline(ctx context.Context, fn func() error) error

	// Key returns the key (or key prefix) of the handle
	Key() string
	// Policy returns the policy of the handle
	Policy() Policy
	// SetPolicy changes the policy of the handle
	SetPolicy(opts ...PolicyOption) error
}

// --------------------------------------------------------------------------
// Core (shared by all handles)
// --------------------------------------------------------------------------

type core[T any, P Record[T]] struct {
	svc       *Service
	key       string
	policy    Policy
	pipeline  *Pipeline
	suspended bool // BeginPipeline was called
	scoped    bool // inside WithPipeline
}

func newCore[T any, P Record[T]](s *Service, key string, opts []PolicyOption) core[T, P] {
	c := core[T, P]{svc: s, key: key, policy: s.policy}
	for _, opt := range opts {
		opt(&c.policy)
	}
	if err := c.policy.Validate(); err != nil {
		log.Warningf("handle %s: %v, using the default policy", key, err)
		c.policy = s.policy
	}
	return c
}

func (c *core[T, P]) Key() string {
	return c.key
}

func (c *core[T, P]) Policy() Policy {
	return c.policy
}

func (c *core[T, P]) SetPolicy(opts ...PolicyOption) error {
	p := c.policy
	for _, opt := range opts {
		opt(&p)
	}
	if err := p.Validate(); err != nil {
		return err
	}
	c.policy = p
	return nil
}

// auto returns true if operations are executed as soon as they are added
func (c *core[T, P]) auto() bool {
	return c.policy.AutoExecute && !c.suspended
}

// add queues an operation and flushes the pipeline in auto mode
func (c *core[T, P]) add(ctx context.Context, label string, cmds ...kv.Command) error {
	if c.pipeline == nil {
		c.pipeline = NewPipeline(c.svc.store, c.policy)
	}
	if err := c.pipeline.Add(c.policy.Mode, label, cmds...); err != nil {
		return err
	}
	if c.auto() {
		return c.flush(ctx)
	}
	return nil
}

// flush executes the current pipeline, the next add starts a new one
func (c *core[T, P]) flush(ctx context.Context) error {
	p := c.pipeline
	if p == nil {
		return nil
	}
	c.pipeline = nil
	if p.Len() == 0 {
		return nil
	}
	return p.Execute(ctx)
}

// roundTrip flushes pending operations and executes cmds immediately.
// Errors of the first checked commands are returned, errors of the rest are only logged.
func (c *core[T, P]) roundTrip(ctx context.Context, checked int, cmds ...kv.Command) ([]kv.Result, error) {
	if n := c.PendingOperations(); c.scoped && n > 0 {
		return nil, fmt.Errorf("%w: %s has %d queued operations", ErrScopedRead, c.key, n)
	}
	if err := c.flush(ctx); err != nil {
		return nil, err
	}

	mode := kv.ModeBatch
	if len(cmds) == 1 {
		mode = kv.ModeDirect
	}
	results, err := dispatch(ctx, c.svc.store, mode, c.policy.OperationTimeout, cmds)
	if err != nil {
		return nil, dispatchError(err)
	}
	for i := range results {
		if results[i].Err == nil {
			continue
		}
		if i < checked {
			return nil, dispatchError(commandError(results[i].Err))
		}
		log.Debugf("%s: %s failed: %v", c.key, cmds[i], results[i].Err)
	}
	return results, nil
}

// read executes read commands, the sliding expiry of the renewed keys is extended in the same round trip
func (c *core[T, P]) read(ctx context.Context, renew []string, cmds ...kv.Command) ([]kv.Result, error) {
	n := len(cmds)
	if c.policy.sliding() {
		for _, key := range renew {
			cmds = append(cmds, kv.NewExpire(key, c.policy.DefaultExpiry))
		}
	}
	results, err := c.roundTrip(ctx, n, cmds...)
	if err != nil {
		return nil, err
	}
	return results[:n], nil
}

// expiry returns the commands that (re-)apply the expiry of key after a write
func (c *core[T, P]) expiry(key string) []kv.Command {
	if !c.policy.expiring() {
		return nil
	}
	return []kv.Command{kv.NewExpire(key, c.policy.DefaultExpiry)}
}

// ttl returns the time to live for keys that are (re-)written as a whole
func (c *core[T, P]) ttl() time.Duration {
	if !c.policy.expiring() {
		return 0
	}
	return c.policy.DefaultExpiry
}

// track sets the tracking timestamp of item if tracking is enabled
func (c *core[T, P]) track(item P) {
	if c.policy.Tracking {
		stamp[T](item, c.policy.TrackingField, c.svc.clock())
	}
}

func (c *core[T, P]) encode(item P) ([]byte, error) {
	data, err := c.svc.codec.Marshal(item)
	if err != nil {
		return nil, serializationError(item.GetID(), err)
	}
	return data, nil
}

// encodeAll tracks and encodes all items, nothing is returned if one item can not be encoded
func (c *core[T, P]) encodeAll(items []P) ([][]byte, error) {
	values := make([][]byte, len(items))
	for i, item := range items {
		c.track(item)
		data, err := c.encode(item)
		if err != nil {
			return nil, err
		}
		values[i] = data
	}
	return values, nil
}

// decode returns nil for data that can not be decoded
func (c *core[T, P]) decode(data []byte) P {
	item := P(new(T))
	if err := c.svc.codec.Unmarshal(data, item); err != nil {
		log.Warningf("%s: skipping value that can not be decoded with %s: %v", c.key, c.svc.codec.Name(), err)
		return nil
	}
	return item
}

// decodeAll skips empty values and values that can not be decoded
func (c *core[T, P]) decodeAll(values [][]byte) []P {
	items := make([]P, 0, len(values))
	for _, data := range values {
		if len(data) == 0 {
			continue
		}
		if item := c.decode(data); item != nil {
			items = append(items, item)
		}
	}
	return items
}

// guard runs fn while holding the lock for name if the policy enables locking
func (c *core[T, P]) guard(ctx context.Context, name string, fn func() error) error {
	if c.policy.LockTTL <= 0 {
		return fn()
	}

	lockKey := "lock:" + name
	owner, err := lockmgr.Acquire(ctx, c.svc.locks, lockKey, c.policy.LockTTL, c.policy.LockWait)
	if errors.Is(err, lockmgr.ErrTimeout) {
		return fmt.Errorf("%w: %w", ErrLocked, err)
	}
	if err != nil {
		return err
	}
	defer func() {
		if ok, err := c.svc.locks.ReleaseLock(context.WithoutCancel(ctx), lockKey, owner); err != nil || !ok {
			log.Warningf("failed to release lock %s (released=%t): %v", lockKey, ok, err)
		}
	}()
	return fn()
}

// mutate implements the read-modify-write of Mutate
func (c *core[T, P]) mutate(ctx context.Context, lock, id string,
	get func(context.Context, string) (P, error),
	put func(context.Context, P) error,
	fn func(P) error,
) (bool, error) {
	found := false
	err := c.guard(ctx, lock, func() error {
		item, err := get(ctx, id)
		if err != nil || item == nil {
			return err
		}
		if err := fn(item); err != nil {
			return err
		}
		found = true
		return put(ctx, item)
	})
	return found, err
}

// --------------------------------------------------------------------------
// Pipeline control (docs see IStorage)
// --------------------------------------------------------------------------

func (c *core[T, P]) BeginPipeline() {
	c.suspended = true
}

func (c *core[T, P]) ExecutePipeline(ctx context.Context) error {
	c.suspended = false
	return c.flush(ctx)
}

func (c *core[T, P]) DiscardPipeline() int {
	n := c.PendingOperations()
	if n > 0 {
		log.Debugf("%s: discarding pipeline %s with %d operations", c.key, c.pipeline.ID(), n)
	}
	c.pipeline = nil
	c.suspended = false
	return n
}

func (c *core[T, P]) PendingOperations() int {
	if c.pipeline == nil {
		return 0
	}
	return c.pipeline.Len()
}

func (c *core[T, P]) WithPipeline(ctx context.Context, fn func() error) error {
	c.BeginPipeline()
	c.scoped = true
	err := fn()
	c.scoped = false
	if err != nil {
		c.DiscardPipeline()
		return err
	}
	return c.ExecutePipeline(ctx)
}

// --------------------------------------------------------------------------
// Expiry of the key (docs see IStorage)
// --------------------------------------------------------------------------

func (c *core[T, P]) Expire(ctx context.Context, ttl time.Duration) (bool, error) {
	res, err := c.roundTrip(ctx, 1, kv.NewExpire(c.key, ttl))
	if err != nil {
		return false, err
	}
	return res[0].Ok, nil
}

func (c *core[T, P]) ExpireAt(ctx context.Context, at time.Time) (bool, error) {
	res, err := c.roundTrip(ctx, 1, kv.NewExpireAt(c.key, at))
	if err != nil {
		return false, err
	}
	return res[0].Ok, nil
}

func (c *core[T, P]) TTL(ctx context.Context) (time.Duration, error) {
	res, err := c.roundTrip(ctx, 1, kv.NewTTL(c.key))
	if err != nil {
		return 0, err
	}
	return res[0].TTL, nil
}

func (c *core[T, P]) Persist(ctx context.Context) (bool, error) {
	res, err := c.roundTrip(ctx, 1, kv.NewPersist(c.key))
	if err != nil {
		return false, err
	}
	return res[0].Ok, nil
}

func (c *core[T, P]) HasExpiry(ctx context.Context) (bool, error) {
	ttl, err := c.TTL(ctx)
	return ttl > 0, err
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// chunk splits items into slices of at most size elements
func chunk[E any](items []E, size int) [][]E {
	if size <= 0 {
		size = len(items)
	}
	var chunks [][]E
	for start := 0; start < len(items); start += size {
		chunks = append(chunks, items[start:min(start+size, len(items))])
	}
	return chunks
}

func idOf[T any, P Record[T]](item P) string {
	return item.GetID()
}

func where[P any](items []P, err error, pred func(P) bool) ([]P, error) {
	if err != nil {
		return nil, err
	}
	matches := make([]P, 0)
	for _, item := range items {
		if pred(item) {
			matches = append(matches, item)
		}
	}
	return matches, nil
}

func firstOrDefault[P any](items []P, err error, pred func(P) bool) (P, error) {
	var zero P
	if err != nil {
		return zero, err
	}
	for _, item := range items {
		if pred == nil || pred(item) {
			return item, nil
		}
	}
	return zero, nil
}
