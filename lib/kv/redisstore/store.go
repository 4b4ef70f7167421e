package redisstore

import (
	"bytes"
	"context"
	"errors"
	"sort"
	"strings"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/redis/go-redis/v9"
)

var (
	retries = 5
	log     = logger.GetLogger("kv")
	timeNow = time.Now
)

// Store implements kv.IStore on top of a redis server.
//
// ModeDirect and ModeBatch use a redis pipeline. ModeTx uses WATCH on all touched keys,
// validates the kinds of the touched keys (and the indexes of LSET commands) and then submits
// the commands with MULTI/EXEC. If a watched key is modified concurrently the transaction is retried.
type Store struct {
	client redis.UniversalClient
	owned  bool
}

// New creates a store that uses the given client. The client is not closed by Close.
func New(client redis.UniversalClient) *Store {
	return &Store{client: client}
}

// NewFromURL creates a store from a redis url (e.g. redis://localhost:6379/0).
// The created client is closed by Close.
func NewFromURL(url string) (*Store, error) {
	opts, err := redis.ParseURL(url)
	if err != nil {
		return nil, err
	}
	return &Store{client: redis.NewClient(opts), owned: true}, nil
}

// --------------------------------------------------------------------------
// Interface Methods (docs see kv/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Exec(ctx context.Context, mode kv.Mode, cmds ...kv.Command) ([]kv.Result, error) {
	switch mode {
	case kv.ModeDirect, kv.ModeBatch:
		return s.execBatch(ctx, cmds)
	case kv.ModeTx:
		return s.execTx(ctx, cmds)
	default:
		return nil, kv.Errorf(kv.RetCInvalidOperation, "unknown mode %s", mode)
	}
}

func (s *Store) Close() error {
	if s.owned {
		return s.client.Close()
	}
	return nil
}

// --------------------------------------------------------------------------
// Batch execution
// --------------------------------------------------------------------------

// execBatch runs the commands in pipelines. Scan commands cannot be pipelined (cursor iteration),
// they split the batch into segments that are executed in order.
func (s *Store) execBatch(ctx context.Context, cmds []kv.Command) ([]kv.Result, error) {
	results := make([]kv.Result, len(cmds))

	start := 0
	flush := func(end int) error {
		if start >= end {
			return nil
		}
		segment := cmds[start:end]
		pending := make([]pendingResult, len(segment))
		_, err := s.client.Pipelined(ctx, func(p redis.Pipeliner) error {
			for i := range segment {
				pending[i] = queue(ctx, p, &segment[i], false)
			}
			return nil
		})
		if isDispatchError(err) {
			return kv.NewError(kv.RetCInternalError, err.Error())
		}
		for i := range pending {
			results[start+i] = pending[i]()
		}
		return nil
	}

	for i := range cmds {
		if cmds[i].Type != kv.CmdScan {
			continue
		}
		if err := flush(i); err != nil {
			return nil, err
		}
		keys, err := s.scan(ctx, cmds[i].Pattern)
		if err != nil {
			return nil, kv.NewError(kv.RetCInternalError, err.Error())
		}
		results[i] = kv.Result{Strings: keys}
		start = i + 1
	}
	if err := flush(len(cmds)); err != nil {
		return nil, err
	}
	return results, nil
}

// scan iterates all keys matching the pattern with SCAN MATCH
func (s *Store) scan(ctx context.Context, pattern string) ([]string, error) {
	seen := make(map[string]struct{})
	keys := make([]string, 0)
	iter := s.client.Scan(ctx, 0, pattern, 500).Iterator()
	for iter.Next(ctx) {
		// SCAN may return a key more than once
		if _, ok := seen[iter.Val()]; ok {
			continue
		}
		seen[iter.Val()] = struct{}{}
		keys = append(keys, iter.Val())
	}
	if err := iter.Err(); err != nil {
		return nil, err
	}
	sort.Strings(keys)
	return keys, nil
}

// --------------------------------------------------------------------------
// Transaction execution
// --------------------------------------------------------------------------

func (s *Store) execTx(ctx context.Context, cmds []kv.Command) ([]kv.Result, error) {
	keys := touchedKeys(cmds)

	for i := 0; i < retries; i++ {
		var results []kv.Result
		err := s.client.Watch(ctx, func(tx *redis.Tx) error {
			if err := validateKinds(ctx, tx, cmds, keys); err != nil {
				return err
			}

			pending := make([]pendingResult, len(cmds))
			_, err := tx.TxPipelined(ctx, func(p redis.Pipeliner) error {
				for i := range cmds {
					pending[i] = queue(ctx, p, &cmds[i], true)
				}
				return nil
			})
			if errors.Is(err, redis.TxFailedErr) || isDispatchError(err) {
				return err
			}

			results = make([]kv.Result, len(pending))
			for i := range pending {
				results[i] = pending[i]()
				if results[i].Err != nil {
					/*
						Note: redis does not roll back a transaction if a command fails at runtime.
						validateKinds rules out kind and index errors up front, anything left
						(e.g. an expiry firing between WATCH and EXEC) is reported per command.
					*/
					log.Warningf("command %d (%s) failed inside MULTI/EXEC, other commands were applied: %s",
						i, cmds[i], results[i].Err.Msg)
				}
			}
			return nil
		}, keys...)

		if errors.Is(err, redis.TxFailedErr) {
			log.Debugf("watched key modified, retrying transaction (%d/%d)...", i+1, retries)
			continue
		}
		if err != nil {
			var kerr *kv.Error
			if errors.As(err, &kerr) {
				return nil, kerr
			}
			return nil, kv.NewError(kv.RetCInternalError, err.Error())
		}
		return results, nil
	}
	return nil, kv.Errorf(kv.RetCTxAborted, "transaction aborted: keys modified concurrently %d times", retries)
}

// touchedKeys returns all distinct keys of the commands
func touchedKeys(cmds []kv.Command) []string {
	seen := make(map[string]struct{})
	var keys []string
	for i := range cmds {
		for _, key := range cmds[i].Touched() {
			if _, ok := seen[key]; !ok {
				seen[key] = struct{}{}
				keys = append(keys, key)
			}
		}
	}
	return keys
}

// validateKinds checks (on the watched connection) that every command operates on a key of
// the right kind, simulating how the kinds change while the transaction proceeds.
// Lists that are the target of an LSET are loaded and simulated as well, so that an index out
// of range aborts the transaction before anything is submitted.
func validateKinds(ctx context.Context, tx *redis.Tx, cmds []kv.Command, keys []string) error {
	if len(keys) == 0 {
		return nil
	}

	typeCmds := make([]*redis.StatusCmd, len(keys))
	if _, err := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range keys {
			typeCmds[i] = p.Type(ctx, key)
		}
		return nil
	}); err != nil {
		return err
	}

	kinds := make(map[string]string, len(keys))
	for i, key := range keys {
		kinds[key] = typeCmds[i].Val()
	}

	lists, err := loadLists(ctx, tx, cmds, kinds)
	if err != nil {
		return err
	}

	abort := func(i int, cmd *kv.Command, cause *kv.Error) error {
		return kv.Errorf(kv.RetCTxAborted, "transaction aborted: command %d (%s): %s", i, cmd, cause.Msg)
	}

	for i := range cmds {
		cmd := &cmds[i]
		want := expectedKind(cmd.Type)
		have := kinds[cmd.Key]
		if want != "" && have != "none" && have != want {
			return abort(i, cmd, kv.ErrWrongType)
		}
		if cmd.Type == kv.CmdLSet && have == "none" {
			return abort(i, cmd, kv.ErrNoSuchKey)
		}

		if list, ok := lists[cmd.Key]; ok && cmd.Type != kv.CmdDel {
			next, kerr := simulateList(list, cmd)
			if kerr != nil {
				return abort(i, cmd, kerr)
			}
			lists[cmd.Key] = next
			if want == "list" && len(next) == 0 {
				// redis removes empty lists
				kinds[cmd.Key] = "none"
				continue
			}
		}

		switch cmd.Type {
		case kv.CmdSet:
			kinds[cmd.Key] = "string"
		case kv.CmdSetNX:
			if have == "none" {
				kinds[cmd.Key] = "string"
			}
		case kv.CmdHSet:
			kinds[cmd.Key] = "hash"
		case kv.CmdLPush, kv.CmdRPush:
			kinds[cmd.Key] = "list"
		case kv.CmdExpire:
			if cmd.TTL <= 0 {
				kinds[cmd.Key] = "none"
				clearList(lists, cmd.Key)
			}
		case kv.CmdExpireAt:
			if !cmd.At.After(timeNow()) {
				kinds[cmd.Key] = "none"
				clearList(lists, cmd.Key)
			}
		case kv.CmdDel:
			for _, key := range cmd.Keys {
				kinds[key] = "none"
				clearList(lists, key)
			}
		}
	}
	return nil
}

// loadLists reads the content of every list that is the target of an LSET.
// Keys that do not hold a list yet start empty.
func loadLists(ctx context.Context, tx *redis.Tx, cmds []kv.Command, kinds map[string]string) (map[string][][]byte, error) {
	lists := make(map[string][][]byte)
	var existing []string
	for i := range cmds {
		if cmds[i].Type != kv.CmdLSet {
			continue
		}
		key := cmds[i].Key
		if _, ok := lists[key]; ok {
			continue
		}
		lists[key] = nil
		if kinds[key] == "list" {
			existing = append(existing, key)
		}
	}
	if len(existing) == 0 {
		return lists, nil
	}

	rangeCmds := make([]*redis.StringSliceCmd, len(existing))
	if _, err := tx.Pipelined(ctx, func(p redis.Pipeliner) error {
		for i, key := range existing {
			rangeCmds[i] = p.LRange(ctx, key, 0, -1)
		}
		return nil
	}); err != nil {
		return nil, err
	}
	for i, key := range existing {
		vals := rangeCmds[i].Val()
		list := make([][]byte, len(vals))
		for j, v := range vals {
			list[j] = []byte(v)
		}
		lists[key] = list
	}
	return lists, nil
}

func clearList(lists map[string][][]byte, key string) {
	if _, ok := lists[key]; ok {
		lists[key] = nil
	}
}

// simulateList applies a command to the content of a list the way redis would
func simulateList(list [][]byte, cmd *kv.Command) ([][]byte, *kv.Error) {
	n := int64(len(list))
	switch cmd.Type {
	case kv.CmdLPush:
		for _, v := range cmd.Values {
			list = append([][]byte{v}, list...)
		}
	case kv.CmdRPush:
		list = append(list, cmd.Values...)
	case kv.CmdLSet:
		idx := cmd.Start
		if idx < 0 {
			idx += n
		}
		if idx < 0 || idx >= n {
			return nil, kv.ErrOutOfRange
		}
		list[idx] = cmd.Value()
	case kv.CmdLRem:
		list = removeValue(list, cmd.Value(), cmd.Start)
	case kv.CmdLTrim:
		start, stop := cmd.Start, cmd.Stop
		if start < 0 {
			start = max(0, start+n)
		}
		if stop < 0 {
			stop += n
		}
		stop = min(stop, n-1)
		if start > stop {
			return nil, nil
		}
		list = list[start : stop+1]
	case kv.CmdLPop:
		if n > 0 {
			list = list[1:]
		}
	case kv.CmdRPop:
		if n > 0 {
			list = list[:n-1]
		}
	case kv.CmdSet:
		return nil, nil
	}
	return list, nil
}

// removeValue implements LREM: count > 0 removes from the head, count < 0 from the tail, 0 removes all
func removeValue(list [][]byte, value []byte, count int64) [][]byte {
	out := make([][]byte, 0, len(list))
	if count >= 0 {
		removed := int64(0)
		for _, v := range list {
			if bytes.Equal(v, value) && (count == 0 || removed < count) {
				removed++
				continue
			}
			out = append(out, v)
		}
		return out
	}

	keep := make([]bool, len(list))
	removed := int64(0)
	for i := len(list) - 1; i >= 0; i-- {
		if bytes.Equal(list[i], value) && removed < -count {
			removed++
			continue
		}
		keep[i] = true
	}
	for i, v := range list {
		if keep[i] {
			out = append(out, v)
		}
	}
	return out
}

// expectedKind returns the redis type a command requires ("" = any)
func expectedKind(t kv.CommandType) string {
	switch t {
	case kv.CmdGet:
		return "string"
	case kv.CmdHGet, kv.CmdHSet, kv.CmdHDel, kv.CmdHGetAll, kv.CmdHLen, kv.CmdHExists, kv.CmdHKeys:
		return "hash"
	case kv.CmdLPush, kv.CmdRPush, kv.CmdLIndex, kv.CmdLSet, kv.CmdLRange, kv.CmdLRem,
		kv.CmdLTrim, kv.CmdLPop, kv.CmdRPop, kv.CmdLLen:
		return "list"
	default:
		return ""
	}
}

// --------------------------------------------------------------------------
// Error mapping
// --------------------------------------------------------------------------

// isDispatchError returns true for errors that are not a reply of the redis server
// (network errors, timeouts, canceled contexts)
func isDispatchError(err error) bool {
	if err == nil || errors.Is(err, redis.Nil) || errors.Is(err, redis.TxFailedErr) {
		return false
	}
	var rerr redis.Error
	return !errors.As(err, &rerr)
}

// toError converts a redis reply error into a *kv.Error
func toError(err error) *kv.Error {
	msg := err.Error()
	switch {
	case strings.HasPrefix(msg, "WRONGTYPE"):
		return kv.NewError(kv.RetCWrongType, msg)
	case strings.Contains(msg, "no such key"):
		return kv.NewError(kv.RetCNoSuchKey, msg)
	case strings.Contains(msg, "out of range"):
		return kv.NewError(kv.RetCOutOfRange, msg)
	case isDispatchError(err):
		return kv.NewError(kv.RetCInternalError, msg)
	default:
		return kv.NewError(kv.RetCInvalidOperation, msg)
	}
}

// pendingResult converts the reply of a queued command into a kv.Result after the pipeline was executed
type pendingResult func() kv.Result

func fixed(res kv.Result) pendingResult {
	return func() kv.Result { return res }
}

func failed(err error) kv.Result {
	return kv.Result{Err: toError(err)}
}

// bytesArgs converts values to redis arguments
func bytesArgs(values [][]byte) []interface{} {
	args := make([]interface{}, len(values))
	for i, v := range values {
		args[i] = v
	}
	return args
}

// ttlArg converts a kv ttl to a redis expiration argument (0 = no expiry, -1 would mean KEEPTTL)
func ttlArg(ttl time.Duration) time.Duration {
	if ttl < 0 {
		return 0
	}
	return ttl
}
