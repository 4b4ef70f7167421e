package storage

import (
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"gopkg.in/yaml.v3"
)

// Default values of a Policy
const (
	DefaultChunkSize       = 100
	DefaultMaxPipelineSize = 1000
	DefaultTrackingField   = "UpdatedAt"
	DefaultLockWait        = 5 * time.Second
)

// Policy controls how a storage handle dispatches its commands and how it manages expiry.
// A handle owns its copy of the policy, changing it affects only that handle.
type Policy struct {
	// Mode is the dispatch mode: kv.ModeDirect, kv.ModeBatch or kv.ModeTx
	Mode kv.Mode
	// ChunkSize is the number of records per queued operation of the bulk methods
	ChunkSize int
	// MaxPipelineSize is an advisory cap, exceeding it logs a warning
	MaxPipelineSize int
	// OperationTimeout bounds every round trip to the store (0 = no timeout)
	OperationTimeout time.Duration
	// Tracking sets the tracking timestamp of records implementing Timestamped on every write
	Tracking bool
	// TrackingField is passed to Timestamped.SetTimestamp
	TrackingField string
	// AutoExecute flushes the pipeline after every operation and before every read
	AutoExecute bool
	// DefaultExpiry is applied to the key on every write (0 = the key does not expire)
	DefaultExpiry time.Duration
	// SlidingExpiration re-applies DefaultExpiry on every read too (ignored without DefaultExpiry)
	SlidingExpiration bool
	// LockTTL > 0 guards read-modify-write operations with a lock (see lockmgr).
	// It must be much larger than a read-modify-write takes: a lock that expires while it is held
	// can be taken by another writer, and the release of the first holder is not atomic with that.
	LockTTL time.Duration
	// LockWait is the time to wait for a held lock before ErrLocked is returned
	LockWait time.Duration
}

// expiring returns true if writes apply an expiry
func (p *Policy) expiring() bool {
	return p.DefaultExpiry > 0
}

// sliding returns true if reads renew the expiry
func (p *Policy) sliding() bool {
	return p.expiring() && p.SlidingExpiration
}

// Validate checks the policy for invalid values
func (p *Policy) Validate() error {
	switch {
	case p.Mode != kv.ModeDirect && p.Mode != kv.ModeBatch && p.Mode != kv.ModeTx:
		return fmt.Errorf("%w: unknown mode %s", ErrInvalidPolicy, p.Mode)
	case p.ChunkSize <= 0:
		return fmt.Errorf("%w: chunk size must be positive (got %d)", ErrInvalidPolicy, p.ChunkSize)
	case p.MaxPipelineSize <= 0:
		return fmt.Errorf("%w: max pipeline size must be positive (got %d)", ErrInvalidPolicy, p.MaxPipelineSize)
	case p.DefaultExpiry < 0 || p.OperationTimeout < 0 || p.LockTTL < 0 || p.LockWait < 0:
		return fmt.Errorf("%w: durations must not be negative", ErrInvalidPolicy)
	case p.Tracking && p.TrackingField == "":
		return fmt.Errorf("%w: tracking requires a tracking field", ErrInvalidPolicy)
	}
	return nil
}

// String returns a formatted representation of the policy
func (p Policy) String() string {
	expiry := "none"
	if p.expiring() {
		expiry = p.DefaultExpiry.String() + " fixed"
		if p.SlidingExpiration {
			expiry = p.DefaultExpiry.String() + " sliding"
		}
	}
	return fmt.Sprintf("mode=%s chunk=%d auto=%t tracking=%t expiry=%s", p.Mode, p.ChunkSize, p.AutoExecute, p.Tracking, expiry)
}

// --------------------------------------------------------------------------
// Presets
// --------------------------------------------------------------------------

func base() Policy {
	return Policy{
		Mode:            kv.ModeBatch,
		ChunkSize:       DefaultChunkSize,
		MaxPipelineSize: DefaultMaxPipelineSize,
		TrackingField:   DefaultTrackingField,
		AutoExecute:     true,
		LockWait:        DefaultLockWait,
	}
}

// Optimized batches commands in chunks of 100 (the default policy)
func Optimized() Policy { return base() }

// Batch is an alias of Optimized kept for preset files
func Batch() Policy { return base() }

// Transaction dispatches every operation as an all-or-nothing transaction
func Transaction() Policy {
	p := base()
	p.Mode = kv.ModeTx
	return p
}

// HighPerformance batches in chunks of 500 with a larger pipeline cap
func HighPerformance() Policy {
	p := base()
	p.ChunkSize = 500
	p.MaxPipelineSize = 5000
	return p
}

// Safe uses transactions and a 30 second operation timeout
func Safe() Policy {
	p := Transaction()
	p.OperationTimeout = 30 * time.Second
	return p
}

// Custom batches in chunks of chunkSize (chunkSize <= 1 dispatches directly), or uses transactions if tx is set.
func Custom(chunkSize int, tx bool) Policy {
	p := base()
	p.ChunkSize = max(chunkSize, 1)
	switch {
	case tx:
		p.Mode = kv.ModeTx
	case chunkSize <= 1:
		p.Mode = kv.ModeDirect
	}
	return p
}

// WithExpiry batches and applies expiry d on every write (and read if sliding)
func WithExpiry(d time.Duration, sliding bool) Policy {
	p := base()
	p.DefaultExpiry = d
	p.SlidingExpiration = sliding
	return p
}

// ShortLived keys expire 30 minutes after the last access
func ShortLived() Policy { return WithExpiry(30*time.Minute, true) }

// Session keys expire 2 hours after the last access
func Session() Policy { return WithExpiry(2*time.Hour, true) }

// Cache keys expire 10 minutes after the last write
func Cache() Policy { return WithExpiry(10*time.Minute, false) }

// Permanent keys never expire
func Permanent() Policy { return base() }

// presets maps the names used in policy files to the presets
var presets = map[string]func() Policy{
	"optimized":        Optimized,
	"batch":            Batch,
	"transaction":      Transaction,
	"high-performance": HighPerformance,
	"safe":             Safe,
	"short-lived":      ShortLived,
	"session":          Session,
	"cache":            Cache,
	"permanent":        Permanent,
}

// Preset returns the preset with the given name
func Preset(name string) (Policy, error) {
	f, ok := presets[strings.ToLower(name)]
	if !ok {
		return Policy{}, fmt.Errorf("%w: unknown preset %q", ErrInvalidPolicy, name)
	}
	return f(), nil
}

// ParseMode converts direct, batch or tx to a kv.Mode
func ParseMode(s string) (kv.Mode, error) {
	switch strings.ToLower(s) {
	case "direct":
		return kv.ModeDirect, nil
	case "batch", "batched":
		return kv.ModeBatch, nil
	case "tx", "transaction", "transactional":
		return kv.ModeTx, nil
	default:
		return 0, fmt.Errorf("%w: unknown mode %q (expected one of: direct, batch, tx)", ErrInvalidPolicy, s)
	}
}

// --------------------------------------------------------------------------
// Options
// --------------------------------------------------------------------------

// PolicyOption changes a policy
type PolicyOption func(p *Policy)

// WithPolicy replaces the whole policy
func WithPolicy(policy Policy) PolicyOption {
	return func(p *Policy) { *p = policy }
}

// Direct executes every command immediately
func Direct() PolicyOption {
	return func(p *Policy) { p.Mode = kv.ModeDirect }
}

// Batched batches commands in chunks of size
func Batched(size int) PolicyOption {
	return func(p *Policy) {
		p.Mode = kv.ModeBatch
		p.ChunkSize = max(size, 1)
	}
}

// Tx dispatches operations as transactions
func Tx() PolicyOption {
	return func(p *Policy) { p.Mode = kv.ModeTx }
}

// Track enables timestamp tracking. An empty field keeps the current tracking field.
func Track(field string) PolicyOption {
	return func(p *Policy) {
		p.Tracking = true
		if field != "" {
			p.TrackingField = field
		}
	}
}

// Expiry sets the default expiry
func Expiry(d time.Duration, sliding bool) PolicyOption {
	return func(p *Policy) {
		p.DefaultExpiry = d
		p.SlidingExpiration = sliding
	}
}

// Timeout sets the operation timeout
func Timeout(d time.Duration) PolicyOption {
	return func(p *Policy) { p.OperationTimeout = d }
}

// Locking guards read-modify-write operations with locks that expire after ttl.
// wait is the time to wait for a held lock (0 = DefaultLockWait). See Policy.LockTTL for sizing ttl.
func Locking(ttl, wait time.Duration) PolicyOption {
	return func(p *Policy) {
		p.LockTTL = ttl
		p.LockWait = wait
		if wait <= 0 {
			p.LockWait = DefaultLockWait
		}
	}
}

// Manual disables auto execution, operations are queued until ExecutePipeline is called
func Manual() PolicyOption {
	return func(p *Policy) { p.AutoExecute = false }
}

// --------------------------------------------------------------------------
// Policy files
// --------------------------------------------------------------------------

// policyProfile is one entry of a policy file. Unset fields keep the value of the preset.
type policyProfile struct {
	Preset           string         `yaml:"preset"`
	Mode             *string        `yaml:"mode"`
	ChunkSize        *int           `yaml:"chunk-size"`
	MaxPipelineSize  *int           `yaml:"max-pipeline-size"`
	OperationTimeout *time.Duration `yaml:"timeout"`
	Tracking         *bool          `yaml:"tracking"`
	TrackingField    *string        `yaml:"tracking-field"`
	AutoExecute      *bool          `yaml:"auto-execute"`
	Expiry           *time.Duration `yaml:"expiry"`
	Sliding          *bool          `yaml:"sliding"`
	LockTTL          *time.Duration `yaml:"lock-ttl"`
	LockWait         *time.Duration `yaml:"lock-wait"`
}

// LoadPolicies reads named policies from YAML:
//
//	sessions:
//	  preset: session
//	  expiry: 1h
//	imports:
//	  mode: tx
//	  chunk-size: 500
//	  tracking: true
func LoadPolicies(r io.Reader) (map[string]Policy, error) {
	var profiles map[string]policyProfile
	dec := yaml.NewDecoder(r)
	dec.KnownFields(true)
	if err := dec.Decode(&profiles); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%w: %v", ErrInvalidPolicy, err)
	}

	policies := make(map[string]Policy, len(profiles))
	for name, profile := range profiles {
		p, err := profile.toPolicy()
		if err != nil {
			return nil, fmt.Errorf("policy %s: %w", name, err)
		}
		policies[name] = p
	}
	return policies, nil
}

func (pp *policyProfile) toPolicy() (Policy, error) {
	p := Optimized()
	if pp.Preset != "" {
		var err error
		if p, err = Preset(pp.Preset); err != nil {
			return p, err
		}
	}
	if pp.Mode != nil {
		mode, err := ParseMode(*pp.Mode)
		if err != nil {
			return p, err
		}
		p.Mode = mode
	}
	set(&p.ChunkSize, pp.ChunkSize)
	set(&p.MaxPipelineSize, pp.MaxPipelineSize)
	set(&p.OperationTimeout, pp.OperationTimeout)
	set(&p.Tracking, pp.Tracking)
	set(&p.TrackingField, pp.TrackingField)
	set(&p.AutoExecute, pp.AutoExecute)
	set(&p.DefaultExpiry, pp.Expiry)
	set(&p.SlidingExpiration, pp.Sliding)
	set(&p.LockTTL, pp.LockTTL)
	set(&p.LockWait, pp.LockWait)
	return p, p.Validate()
}

func set[V any](dst *V, src *V) {
	if src != nil {
		*dst = *src
	}
}
