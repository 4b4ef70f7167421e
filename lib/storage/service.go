package storage

import (
	"context"
	"time"

	"github.com/ValentinKolb/tkv/lib/codec"
	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/lockmgr"
)

// Service binds storage handles to a store. It is safe for concurrent use, the handles it creates are not.
type Service struct {
	store  kv.IStore
	codec  codec.ICodec
	policy Policy
	locks  lockmgr.ILockManager
	clock  func() time.Time
}

// ServiceOption configures a Service
type ServiceOption func(s *Service)

// WithCodec sets the record codec (default json)
func WithCodec(c codec.ICodec) ServiceOption {
	return func(s *Service) { s.codec = c }
}

// WithDefaultPolicy sets the policy every new handle starts with (default Optimized)
func WithDefaultPolicy(p Policy) ServiceOption {
	return func(s *Service) { s.policy = p }
}

// WithClock sets the time source for tracking timestamps
func WithClock(clock func() time.Time) ServiceOption {
	return func(s *Service) { s.clock = clock }
}

// NewService creates a new storage service on top of store
func NewService(store kv.IStore, opts ...ServiceOption) *Service {
	s := &Service{
		store:  store,
		codec:  codec.NewJSONCodec(),
		policy: Optimized(),
		locks:  lockmgr.NewLockManager(store),
		clock:  time.Now,
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// Store returns the underlying store
func (s *Service) Store() kv.IStore {
	return s.store
}

// Policy returns the default policy of the service
func (s *Service) Policy() Policy {
	return s.policy
}

// --------------------------------------------------------------------------
// Handles
// --------------------------------------------------------------------------

// NewHash creates a handle storing the records as fields of the hash at key
func NewHash[T any, P Record[T]](s *Service, key string, opts ...PolicyOption) *Hash[T, P] {
	return &Hash[T, P]{core: newCore[T, P](s, key, opts)}
}

// NewList creates a handle storing the records as elements of the list at key
func NewList[T any, P Record[T]](s *Service, key string, opts ...PolicyOption) *List[T, P] {
	return &List[T, P]{core: newCore[T, P](s, key, opts)}
}

// NewBlob creates a handle storing a single record or a list of records as the value of key
func NewBlob[T any, P Record[T]](s *Service, key string, opts ...PolicyOption) *Blob[T, P] {
	return &Blob[T, P]{core: newCore[T, P](s, key, opts)}
}

// NewKeyed creates a handle storing every record under its own key prefix:id
func NewKeyed[T any, P Record[T]](s *Service, prefix string, opts ...PolicyOption) *Keyed[T, P] {
	return &Keyed[T, P]{core: newCore[T, P](s, prefix, opts)}
}

// --------------------------------------------------------------------------
// Raw keys
// --------------------------------------------------------------------------

// Exists returns true if key exists
func (s *Service) Exists(ctx context.Context, key string) (bool, error) {
	res, err := s.exec(ctx, kv.NewExists(key))
	if err != nil {
		return false, err
	}
	return res.Int > 0, nil
}

// Delete removes the keys and returns the number of removed keys
func (s *Service) Delete(ctx context.Context, keys ...string) (int, error) {
	if len(keys) == 0 {
		return 0, nil
	}
	res, err := s.exec(ctx, kv.NewDel(keys...))
	if err != nil {
		return 0, err
	}
	return int(res.Int), nil
}

// Expire sets the time to live of key. Returns false if the key does not exist.
func (s *Service) Expire(ctx context.Context, key string, ttl time.Duration) (bool, error) {
	res, err := s.exec(ctx, kv.NewExpire(key, ttl))
	if err != nil {
		return false, err
	}
	return res.Ok, nil
}

// TTL returns the remaining time to live of key, kv.TTLNoExpiry or kv.TTLMissing
func (s *Service) TTL(ctx context.Context, key string) (time.Duration, error) {
	res, err := s.exec(ctx, kv.NewTTL(key))
	if err != nil {
		return 0, err
	}
	return res.TTL, nil
}

func (s *Service) exec(ctx context.Context, cmd kv.Command) (kv.Result, error) {
	results, err := dispatch(ctx, s.store, kv.ModeDirect, s.policy.OperationTimeout, []kv.Command{cmd})
	if err != nil {
		return kv.Result{}, dispatchError(err)
	}
	if results[0].Err != nil {
		return kv.Result{}, dispatchError(commandError(results[0].Err))
	}
	return results[0], nil
}
