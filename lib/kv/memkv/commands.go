package memkv

import (
	"bytes"
	"sort"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// --------------------------------------------------------------------------
// Entry
// --------------------------------------------------------------------------

type entryKind uint8

const (
	kindString entryKind = iota + 1
	kindHash
	kindList
)

// entry is a single value in the keyspace
type entry struct {
	kind     entryKind
	str      []byte
	hash     map[string][]byte
	list     [][]byte
	expireAt int64 // unix nano, 0 = no expiry
}

func (e *entry) expired(now int64) bool {
	return e.expireAt != 0 && e.expireAt <= now
}

// clone returns a deep copy of the entry structure. Values are immutable and shared.
func (e *entry) clone() *entry {
	c := &entry{kind: e.kind, str: e.str, expireAt: e.expireAt}
	if e.hash != nil {
		c.hash = make(map[string][]byte, len(e.hash))
		for k, v := range e.hash {
			c.hash[k] = v
		}
	}
	if e.list != nil {
		c.list = make([][]byte, len(e.list))
		copy(c.list, e.list)
	}
	return c
}

func copyBytes(b []byte) []byte {
	if b == nil {
		return nil
	}
	c := make([]byte, len(b))
	copy(c, b)
	return c
}

// --------------------------------------------------------------------------
// Command application
// --------------------------------------------------------------------------

// apply executes a single command against a view of the keyspace
func apply(v view, cmd *kv.Command) kv.Result {
	switch cmd.Type {

	// strings and generic keys

	case kv.CmdGet:
		return getString(v, cmd.Key)
	case kv.CmdSet, kv.CmdSetNX:
		return setString(v, cmd)
	case kv.CmdDel:
		var n int64
		for _, key := range cmd.Keys {
			v.compute(key, func(e *entry) *entry {
				if e != nil {
					n++
				}
				return nil
			})
		}
		return kv.Result{Int: n}
	case kv.CmdExists:
		var n int64
		for _, key := range cmd.Keys {
			v.compute(key, func(e *entry) *entry {
				if e != nil {
					n++
				}
				return e
			})
		}
		return kv.Result{Int: n}
	case kv.CmdMGet:
		values := make([][]byte, len(cmd.Keys))
		for i, key := range cmd.Keys {
			v.compute(key, func(e *entry) *entry {
				if e != nil && e.kind == kindString {
					values[i] = copyBytes(e.str)
				}
				return e
			})
		}
		return kv.Result{Values: values}
	case kv.CmdScan:
		var keys []string
		v.keys(func(key string) {
			if kv.MatchPattern(cmd.Pattern, key) {
				keys = append(keys, key)
			}
		})
		sort.Strings(keys)
		return kv.Result{Strings: keys}

	// expiry

	case kv.CmdExpire:
		return expire(v, cmd.Key, v.time().Add(cmd.TTL))
	case kv.CmdExpireAt:
		return expire(v, cmd.Key, cmd.At)
	case kv.CmdPersist:
		var res kv.Result
		v.compute(cmd.Key, func(e *entry) *entry {
			if e != nil && e.expireAt != 0 {
				e.expireAt = 0
				res.Ok = true
			}
			return e
		})
		return res
	case kv.CmdTTL:
		res := kv.Result{TTL: kv.TTLMissing}
		v.compute(cmd.Key, func(e *entry) *entry {
			if e == nil {
				return nil
			}
			if e.expireAt == 0 {
				res.TTL = kv.TTLNoExpiry
			} else {
				res.TTL = time.Duration(e.expireAt - v.time().UnixNano())
			}
			return e
		})
		return res
	}

	if isHashCommand(cmd.Type) {
		return applyHash(v, cmd)
	}
	if isListCommand(cmd.Type) {
		return applyList(v, cmd)
	}
	return kv.Result{Err: kv.Errorf(kv.RetCInvalidOperation, "unknown command %s", cmd.Type)}
}

func getString(v view, key string) kv.Result {
	var res kv.Result
	v.compute(key, func(e *entry) *entry {
		if e == nil {
			return nil
		}
		if e.kind != kindString {
			res.Err = kv.ErrWrongType
			return e
		}
		res.Ok = true
		res.Value = copyBytes(e.str)
		return e
	})
	return res
}

func setString(v view, cmd *kv.Command) kv.Result {
	var expireAt int64
	switch {
	case !cmd.At.IsZero():
		expireAt = cmd.At.UnixNano()
	case cmd.TTL > 0:
		expireAt = v.time().Add(cmd.TTL).UnixNano()
	}

	var res kv.Result
	v.compute(cmd.Key, func(e *entry) *entry {
		if cmd.Type == kv.CmdSetNX && e != nil {
			return e
		}
		res.Ok = true
		return &entry{kind: kindString, str: copyBytes(cmd.Value()), expireAt: expireAt}
	})
	return res
}

// expire sets the expiry of key to at. A point in time that is not in the future deletes the key.
func expire(v view, key string, at time.Time) kv.Result {
	var res kv.Result
	v.compute(key, func(e *entry) *entry {
		if e == nil {
			return nil
		}
		res.Ok = true
		if !at.After(v.time()) {
			return nil
		}
		e.expireAt = at.UnixNano()
		return e
	})
	return res
}

// --------------------------------------------------------------------------
// Hash commands
// --------------------------------------------------------------------------

func isHashCommand(t kv.CommandType) bool {
	switch t {
	case kv.CmdHGet, kv.CmdHSet, kv.CmdHDel, kv.CmdHGetAll, kv.CmdHLen, kv.CmdHExists, kv.CmdHKeys:
		return true
	}
	return false
}

func applyHash(v view, cmd *kv.Command) kv.Result {
	if cmd.Type == kv.CmdHSet && len(cmd.Fields) != len(cmd.Values) {
		return kv.Result{Err: kv.Errorf(kv.RetCInvalidOperation, "HSET: %d fields but %d values", len(cmd.Fields), len(cmd.Values))}
	}

	var res kv.Result
	v.compute(cmd.Key, func(e *entry) *entry {
		if e != nil && e.kind != kindHash {
			res.Err = kv.ErrWrongType
			return e
		}

		switch cmd.Type {
		case kv.CmdHSet:
			if e == nil {
				e = &entry{kind: kindHash, hash: make(map[string][]byte, len(cmd.Fields))}
			}
			for i, field := range cmd.Fields {
				if _, exists := e.hash[field]; !exists {
					res.Int++
				}
				e.hash[field] = copyBytes(cmd.Values[i])
			}
			return e
		case kv.CmdHDel:
			if e == nil {
				return nil
			}
			for _, field := range cmd.Fields {
				if _, exists := e.hash[field]; exists {
					delete(e.hash, field)
					res.Int++
				}
			}
			if len(e.hash) == 0 {
				return nil
			}
			return e
		}

		// read only commands
		if e == nil {
			return nil
		}
		switch cmd.Type {
		case kv.CmdHGet:
			if val, ok := e.hash[cmd.Field()]; ok {
				res.Ok = true
				res.Value = copyBytes(val)
			}
		case kv.CmdHExists:
			_, res.Ok = e.hash[cmd.Field()]
		case kv.CmdHLen:
			res.Int = int64(len(e.hash))
		case kv.CmdHKeys, kv.CmdHGetAll:
			fields := make([]string, 0, len(e.hash))
			for field := range e.hash {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			res.Strings = fields
			if cmd.Type == kv.CmdHGetAll {
				res.Values = make([][]byte, len(fields))
				for i, field := range fields {
					res.Values[i] = copyBytes(e.hash[field])
				}
			}
		}
		return e
	})
	return res
}

// --------------------------------------------------------------------------
// List commands
// --------------------------------------------------------------------------

func isListCommand(t kv.CommandType) bool {
	switch t {
	case kv.CmdLPush, kv.CmdRPush, kv.CmdLIndex, kv.CmdLSet, kv.CmdLRange, kv.CmdLRem,
		kv.CmdLTrim, kv.CmdLPop, kv.CmdRPop, kv.CmdLLen:
		return true
	}
	return false
}

// normalizeRange converts redis style start/stop indices (inclusive, negative from the tail)
// into a half open interval [lo, hi) of a list with length n. An empty range returns lo == hi.
func normalizeRange(start, stop int64, n int) (lo, hi int) {
	length := int64(n)
	if start < 0 {
		start += length
	}
	if stop < 0 {
		stop += length
	}
	if start < 0 {
		start = 0
	}
	if stop >= length {
		stop = length - 1
	}
	if start > stop || start >= length {
		return 0, 0
	}
	return int(start), int(stop) + 1
}

// normalizeIndex converts a redis style index into a position, ok is false if out of range.
func normalizeIndex(index int64, n int) (int, bool) {
	if index < 0 {
		index += int64(n)
	}
	if index < 0 || index >= int64(n) {
		return 0, false
	}
	return int(index), true
}

func applyList(v view, cmd *kv.Command) kv.Result {
	var res kv.Result
	v.compute(cmd.Key, func(e *entry) *entry {
		if e != nil && e.kind != kindList {
			res.Err = kv.ErrWrongType
			return e
		}

		switch cmd.Type {
		case kv.CmdLPush, kv.CmdRPush:
			if len(cmd.Values) == 0 {
				res.Err = kv.Errorf(kv.RetCInvalidOperation, "%s without values", cmd.Type)
				return e
			}
			if e == nil {
				e = &entry{kind: kindList}
			}
			if cmd.Type == kv.CmdRPush {
				for _, val := range cmd.Values {
					e.list = append(e.list, copyBytes(val))
				}
			} else {
				head := make([][]byte, 0, len(cmd.Values)+len(e.list))
				for i := len(cmd.Values) - 1; i >= 0; i-- {
					head = append(head, copyBytes(cmd.Values[i]))
				}
				e.list = append(head, e.list...)
			}
			res.Int = int64(len(e.list))
			return e

		case kv.CmdLSet:
			if e == nil {
				res.Err = kv.ErrNoSuchKey
				return nil
			}
			idx, ok := normalizeIndex(cmd.Start, len(e.list))
			if !ok {
				res.Err = kv.ErrOutOfRange
				return e
			}
			e.list[idx] = copyBytes(cmd.Value())
			res.Ok = true
			return e
		}

		if e == nil {
			return nil
		}

		switch cmd.Type {
		case kv.CmdLIndex:
			if idx, ok := normalizeIndex(cmd.Start, len(e.list)); ok {
				res.Ok = true
				res.Value = copyBytes(e.list[idx])
			}
		case kv.CmdLRange:
			lo, hi := normalizeRange(cmd.Start, cmd.Stop, len(e.list))
			res.Values = make([][]byte, 0, hi-lo)
			for _, val := range e.list[lo:hi] {
				res.Values = append(res.Values, copyBytes(val))
			}
		case kv.CmdLLen:
			res.Int = int64(len(e.list))
		case kv.CmdLRem:
			e.list, res.Int = removeValue(e.list, cmd.Value(), cmd.Start)
		case kv.CmdLTrim:
			lo, hi := normalizeRange(cmd.Start, cmd.Stop, len(e.list))
			e.list = append([][]byte(nil), e.list[lo:hi]...)
			res.Ok = true
		case kv.CmdLPop:
			res.Ok = true
			res.Value = e.list[0]
			e.list = e.list[1:]
		case kv.CmdRPop:
			res.Ok = true
			res.Value = e.list[len(e.list)-1]
			e.list = e.list[:len(e.list)-1]
		}

		if len(e.list) == 0 {
			return nil
		}
		return e
	})
	return res
}

// removeValue removes count occurrences of value from list.
// count > 0: from head to tail, count < 0: from tail to head, count == 0: all.
func removeValue(list [][]byte, value []byte, count int64) ([][]byte, int64) {
	limit := count
	if limit < 0 {
		limit = -limit
	}
	remove := make([]bool, len(list))
	var removed int64
	mark := func(i int) bool {
		if bytes.Equal(list[i], value) {
			remove[i] = true
			removed++
		}
		return limit != 0 && removed >= limit
	}
	if count >= 0 {
		for i := 0; i < len(list); i++ {
			if mark(i) {
				break
			}
		}
	} else {
		for i := len(list) - 1; i >= 0; i-- {
			if mark(i) {
				break
			}
		}
	}
	if removed == 0 {
		return list, 0
	}
	kept := make([][]byte, 0, len(list)-int(removed))
	for i, val := range list {
		if !remove[i] {
			kept = append(kept, val)
		}
	}
	return kept, removed
}
