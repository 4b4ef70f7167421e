package memkv

import (
	"context"
	"fmt"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var log = logger.GetLogger("kv")

// --------------------------------------------------------------------------
// Constants
// --------------------------------------------------------------------------

const (
	defaultGCInterval = time.Second // Default interval between GC runs
)

// --------------------------------------------------------------------------
// Core structure
// --------------------------------------------------------------------------

// Store is an in-memory implementation of kv.IStore.
//
// Single commands run concurrently, they are serialized per key by the concurrent map.
// Transactions and key scans take the store exclusively. Expired keys are removed lazily
// on access and by a background garbage collector.
type Store struct {
	data     *xsync.MapOf[string, *entry]
	expiring *xsync.MapOf[string, struct{}] // keys that had a ttl set at some point (gc candidates)
	gate     sync.RWMutex                    // RLock: single commands, Lock: tx, scan, save, load
	clock    func() time.Time
	closed   atomic.Bool

	// garbage collection
	gcInterval  time.Duration
	gcIsRunning atomic.Bool
	gcStop      chan struct{}
	gcDone      chan struct{}
}

// Options configures the Store behavior during initialization
type Options struct {
	Clock      func() time.Time // Time source (nil = time.Now)
	GCInterval time.Duration    // Time between GC runs (0 = default, <0 = no background gc)
}

// DefaultOptions returns the default Store options
func DefaultOptions() *Options {
	return &Options{
		Clock:      time.Now,
		GCInterval: defaultGCInterval,
	}
}

// --------------------------------------------------------------------------
// Initialization and Setup
// --------------------------------------------------------------------------

// New creates a new in-memory store with the specified options (optional)
func New(opts *Options) *Store {
	if opts == nil {
		opts = DefaultOptions()
	}
	clock := opts.Clock
	if clock == nil {
		clock = time.Now
	}
	interval := opts.GCInterval
	if interval == 0 {
		interval = defaultGCInterval
	}

	s := &Store{
		data:       xsync.NewMapOf[string, *entry](),
		expiring:   xsync.NewMapOf[string, struct{}](),
		clock:      clock,
		gcInterval: interval,
		gcStop:     make(chan struct{}),
		gcDone:     make(chan struct{}),
	}

	if interval > 0 {
		s.startGC()
	}
	return s
}

// --------------------------------------------------------------------------
// Interface Methods (docs see kv/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Exec(ctx context.Context, mode kv.Mode, cmds ...kv.Command) ([]kv.Result, error) {
	if s.closed.Load() {
		return nil, kv.NewError(kv.RetCInternalError, "store is closed")
	}
	if err := ctx.Err(); err != nil {
		return nil, kv.NewError(kv.RetCInternalError, err.Error())
	}

	switch mode {
	case kv.ModeDirect, kv.ModeBatch:
		results := make([]kv.Result, len(cmds))
		for i := range cmds {
			results[i] = s.execOne(&cmds[i])
		}
		return results, nil
	case kv.ModeTx:
		return s.execTx(cmds)
	default:
		return nil, kv.Errorf(kv.RetCInvalidOperation, "unknown mode %s", mode)
	}
}

func (s *Store) Close() error {
	if s.closed.CompareAndSwap(false, true) {
		s.stopGC()
	}
	return nil
}

// Len returns the number of keys (including expired keys that were not collected yet).
func (s *Store) Len() int {
	return s.data.Size()
}

// --------------------------------------------------------------------------
// Execution
// --------------------------------------------------------------------------

// execOne executes a single command directly against the store
func (s *Store) execOne(cmd *kv.Command) kv.Result {
	if cmd.Type == kv.CmdScan {
		s.gate.Lock()
		defer s.gate.Unlock()
	} else {
		s.gate.RLock()
		defer s.gate.RUnlock()
	}
	return apply(&directView{s: s, now: s.clock()}, cmd)
}

// execTx executes all commands against a copy-on-write overlay and commits the overlay
// only if every command succeeded.
func (s *Store) execTx(cmds []kv.Command) ([]kv.Result, error) {
	s.gate.Lock()
	defer s.gate.Unlock()

	tx := &txView{
		s:       s,
		now:     s.clock(),
		overlay: make(map[string]*entry),
	}

	results := make([]kv.Result, len(cmds))
	for i := range cmds {
		results[i] = apply(tx, &cmds[i])
		if results[i].Err != nil {
			log.Debugf("transaction aborted at command %d (%s): %s", i, cmds[i], results[i].Err.Msg)
			return nil, kv.Errorf(kv.RetCTxAborted, "transaction aborted: command %d (%s) failed: %s",
				i, cmds[i].Type, results[i].Err.Msg)
		}
	}

	// commit
	for key, e := range tx.overlay {
		if e == nil {
			s.data.Delete(key)
			continue
		}
		s.data.Store(key, e)
		if e.expireAt != 0 {
			s.expiring.Store(key, struct{}{})
		}
	}
	return results, nil
}

// --------------------------------------------------------------------------
// Views (direct and transactional access to the keyspace)
// --------------------------------------------------------------------------

// view abstracts the keyspace a command is applied to
type view interface {
	// now returns the time the command is executed at
	time() time.Time
	// compute calls fn with the live entry for key (nil if missing or expired).
	// The returned entry replaces the current one, nil deletes the key.
	// fn may modify the entry in place.
	compute(key string, fn func(e *entry) *entry)
	// keys calls fn for every live key
	keys(fn func(key string))
}

// directView applies commands directly to the concurrent map
type directView struct {
	s   *Store
	now time.Time
}

func (v *directView) time() time.Time { return v.now }

func (v *directView) compute(key string, fn func(e *entry) *entry) {
	now := v.now.UnixNano()
	var ttlSet bool
	v.s.data.Compute(key, func(old *entry, loaded bool) (*entry, bool) {
		if !loaded || old.expired(now) {
			old = nil
		}
		e := fn(old)
		if e == nil {
			return nil, true
		}
		ttlSet = e.expireAt != 0
		return e, false
	})
	if ttlSet {
		v.s.expiring.Store(key, struct{}{})
	}
}

func (v *directView) keys(fn func(key string)) {
	now := v.now.UnixNano()
	v.s.data.Range(func(key string, e *entry) bool {
		if !e.expired(now) {
			fn(key)
		}
		return true
	})
}

// txView applies commands to an overlay of cloned entries.
// A nil entry in the overlay marks a deleted key.
type txView struct {
	s       *Store
	now     time.Time
	overlay map[string]*entry
}

func (v *txView) time() time.Time { return v.now }

func (v *txView) compute(key string, fn func(e *entry) *entry) {
	e, ok := v.overlay[key]
	if !ok {
		if stored, found := v.s.data.Load(key); found && !stored.expired(v.now.UnixNano()) {
			e = stored.clone()
		}
	}
	v.overlay[key] = fn(e)
}

func (v *txView) keys(fn func(key string)) {
	now := v.now.UnixNano()
	v.s.data.Range(func(key string, e *entry) bool {
		if _, inOverlay := v.overlay[key]; !inOverlay && !e.expired(now) {
			fn(key)
		}
		return true
	})
	for key, e := range v.overlay {
		if e != nil {
			fn(key)
		}
	}
}

// --------------------------------------------------------------------------
// Garbage Collection
// --------------------------------------------------------------------------

// startGC starts the garbage collector
// if the GC is already running, this function does nothing
func (s *Store) startGC() {
	if s.gcIsRunning.CompareAndSwap(false, true) {
		go s.garbageCollector()
	}
}

// stopGC stops the garbage collector and waits until it exited.
// the gc can't be started again after it has been stopped!
func (s *Store) stopGC() {
	if s.gcIsRunning.CompareAndSwap(true, false) {
		close(s.gcStop)
		<-s.gcDone
	}
}

// garbageCollector is the main garbage collection loop
// WARNING: this method should never be called! to enable GC, use startGC() and stopGC()
func (s *Store) garbageCollector() {
	defer close(s.gcDone)

	ticker := time.NewTicker(s.gcInterval)
	defer ticker.Stop()

	for {
		select {
		case <-s.gcStop:
			return
		case <-ticker.C:
			if n := s.collect(); n > 0 {
				log.Debugf("gc removed %d expired keys", n)
			}
		}
	}
}

// collect removes all expired keys and returns how many keys were removed.
func (s *Store) collect() int {
	s.gate.RLock()
	defer s.gate.RUnlock()

	now := s.clock().UnixNano()
	removed := 0
	s.expiring.Range(func(key string, _ struct{}) bool {
		stillExpiring := false
		s.data.Compute(key, func(e *entry, loaded bool) (*entry, bool) {
			if !loaded {
				return nil, true
			}
			if e.expired(now) {
				removed++
				return nil, true
			}
			stillExpiring = e.expireAt != 0
			return e, false
		})
		/*
			Note: a concurrent write could set a new ttl between the compute above and the
			delete below. The key would then only be collected lazily on its next access.
		*/
		if !stillExpiring {
			s.expiring.Delete(key)
		}
		return true
	})
	return removed
}

// String returns a short description of the store
func (s *Store) String() string {
	return fmt.Sprintf("memkv(keys=%d)", s.data.Size())
}
