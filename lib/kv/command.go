package kv

import (
	"fmt"
	"time"
)

// CommandType defines the primitive operations a store must support.
type CommandType uint8

const (
	CmdGet      CommandType = iota // Get the string value of Key.
	CmdSet                         // Set Key to Values[0], optional TTL. Clears any previous expiry.
	CmdSetNX                       // Set Key to Values[0] only if Key does not exist, optional TTL.
	CmdDel                         // Delete all Keys. Int = number of deleted keys.
	CmdExists                      // Int = number of existing Keys.
	CmdMGet                        // Values = values of Keys (nil for missing keys).
	CmdHGet                        // Get field Fields[0] of the hash at Key.
	CmdHSet                        // Set Fields[i] to Values[i] in the hash at Key. Int = number of new fields.
	CmdHDel                        // Remove Fields from the hash at Key. Int = number of removed fields.
	CmdHGetAll                     // Strings = fields, Values = values (sorted by field).
	CmdHLen                        // Int = number of fields in the hash at Key.
	CmdHExists                     // Ok = field Fields[0] exists in the hash at Key.
	CmdHKeys                       // Strings = fields of the hash at Key (sorted).
	CmdLPush                       // Prepend Values (one by one) to the list at Key. Int = new length.
	CmdRPush                       // Append Values to the list at Key. Int = new length.
	CmdLIndex                      // Value = element at index Start of the list at Key.
	CmdLSet                        // Set the element at index Start to Values[0].
	CmdLRange                      // Values = elements Start..Stop (inclusive, negative from the tail).
	CmdLRem                        // Remove Start occurrences of Values[0] (0 = all, <0 = from the tail). Int = removed.
	CmdLTrim                       // Keep only elements Start..Stop.
	CmdLPop                        // Remove and return the first element.
	CmdRPop                        // Remove and return the last element.
	CmdLLen                        // Int = length of the list at Key.
	CmdScan                        // Strings = all keys matching the glob Pattern.
	CmdExpire                      // Expire Key after TTL. Ok = key existed.
	CmdExpireAt                    // Expire Key at At. Ok = key existed.
	CmdPersist                     // Remove the expiry of Key. Ok = an expiry was removed.
	CmdTTL                         // TTL = remaining time to live (TTLNoExpiry, TTLMissing).
)

var commandNames = [...]string{
	CmdGet:      "GET",
	CmdSet:      "SET",
	CmdSetNX:    "SETNX",
	CmdDel:      "DEL",
	CmdExists:   "EXISTS",
	CmdMGet:     "MGET",
	CmdHGet:     "HGET",
	CmdHSet:     "HSET",
	CmdHDel:     "HDEL",
	CmdHGetAll:  "HGETALL",
	CmdHLen:     "HLEN",
	CmdHExists:  "HEXISTS",
	CmdHKeys:    "HKEYS",
	CmdLPush:    "LPUSH",
	CmdRPush:    "RPUSH",
	CmdLIndex:   "LINDEX",
	CmdLSet:     "LSET",
	CmdLRange:   "LRANGE",
	CmdLRem:     "LREM",
	CmdLTrim:    "LTRIM",
	CmdLPop:     "LPOP",
	CmdRPop:     "RPOP",
	CmdLLen:     "LLEN",
	CmdScan:     "SCAN",
	CmdExpire:   "EXPIRE",
	CmdExpireAt: "EXPIREAT",
	CmdPersist:  "PERSIST",
	CmdTTL:      "TTL",
}

func (ct CommandType) String() string {
	if int(ct) < len(commandNames) {
		return commandNames[ct]
	}
	return fmt.Sprintf("Unknown(%d)", ct)
}

// IsWrite returns true if the command can modify the store.
func (ct CommandType) IsWrite() bool {
	switch ct {
	case CmdGet, CmdExists, CmdMGet, CmdHGet, CmdHGetAll, CmdHLen, CmdHExists, CmdHKeys,
		CmdLIndex, CmdLRange, CmdLLen, CmdScan, CmdTTL:
		return false
	default:
		return true
	}
}

// Command is a single primitive store operation.
// Which fields are used depends on the Type (see the CommandType constants).
type Command struct {
	Type    CommandType   `json:"type"`
	Key     string        `json:"key,omitempty"`
	Keys    []string      `json:"keys,omitempty"`
	Fields  []string      `json:"fields,omitempty"`
	Values  [][]byte      `json:"values,omitempty"`
	Start   int64         `json:"start,omitempty"`
	Stop    int64         `json:"stop,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty"`
	At      time.Time     `json:"at,omitempty"`
	Pattern string        `json:"pattern,omitempty"`
}

// Value returns the first value of the command or nil.
func (c *Command) Value() []byte {
	if len(c.Values) == 0 {
		return nil
	}
	return c.Values[0]
}

// Field returns the first field of the command or "".
func (c *Command) Field() string {
	if len(c.Fields) == 0 {
		return ""
	}
	return c.Fields[0]
}

// Touched returns all keys a command reads or writes.
// Scan returns nil since it touches the whole keyspace.
func (c *Command) Touched() []string {
	switch c.Type {
	case CmdDel, CmdExists, CmdMGet:
		return c.Keys
	case CmdScan:
		return nil
	default:
		return []string{c.Key}
	}
}

func (c Command) String() string {
	switch c.Type {
	case CmdDel, CmdExists, CmdMGet:
		return fmt.Sprintf("%s %v", c.Type, c.Keys)
	case CmdScan:
		return fmt.Sprintf("%s %s", c.Type, c.Pattern)
	default:
		return fmt.Sprintf("%s %s", c.Type, c.Key)
	}
}

// Result is the outcome of a single Command.
// Which fields are set depends on the Type of the command (see the CommandType constants).
type Result struct {
	Err     *Error        `json:"err,omitempty"`
	Ok      bool          `json:"ok,omitempty"`
	Int     int64         `json:"int,omitempty"`
	Value   []byte        `json:"value,omitempty"`
	Values  [][]byte      `json:"values,omitempty"`
	Strings []string      `json:"strings,omitempty"`
	TTL     time.Duration `json:"ttl,omitempty"`
}

// Cause returns the error of the result as an error interface (nil if the command succeeded).
func (r *Result) Cause() error {
	if r.Err == nil {
		return nil
	}
	return r.Err
}

// FirstError returns the first failed result of a batch or nil.
func FirstError(results []Result) error {
	for i := range results {
		if results[i].Err != nil {
			return results[i].Err
		}
	}
	return nil
}

// --------------------------------------------------------------------------
// Command Factory Functions
// --------------------------------------------------------------------------

func NewGet(key string) Command {
	return Command{Type: CmdGet, Key: key}
}

// NewSet creates a Set command. A ttl <= 0 means no expiry.
func NewSet(key string, value []byte, ttl time.Duration) Command {
	return Command{Type: CmdSet, Key: key, Values: [][]byte{value}, TTL: ttl}
}

// NewSetNX creates a SetNX command. A ttl <= 0 means no expiry.
func NewSetNX(key string, value []byte, ttl time.Duration) Command {
	return Command{Type: CmdSetNX, Key: key, Values: [][]byte{value}, TTL: ttl}
}

func NewDel(keys ...string) Command {
	return Command{Type: CmdDel, Keys: keys}
}

func NewExists(keys ...string) Command {
	return Command{Type: CmdExists, Keys: keys}
}

func NewMGet(keys ...string) Command {
	return Command{Type: CmdMGet, Keys: keys}
}

func NewHGet(key, field string) Command {
	return Command{Type: CmdHGet, Key: key, Fields: []string{field}}
}

// NewHSet creates a HSet command. fields and values must have the same length.
func NewHSet(key string, fields []string, values [][]byte) Command {
	return Command{Type: CmdHSet, Key: key, Fields: fields, Values: values}
}

func NewHDel(key string, fields ...string) Command {
	return Command{Type: CmdHDel, Key: key, Fields: fields}
}

func NewHGetAll(key string) Command {
	return Command{Type: CmdHGetAll, Key: key}
}

func NewHLen(key string) Command {
	return Command{Type: CmdHLen, Key: key}
}

func NewHExists(key, field string) Command {
	return Command{Type: CmdHExists, Key: key, Fields: []string{field}}
}

func NewHKeys(key string) Command {
	return Command{Type: CmdHKeys, Key: key}
}

func NewLPush(key string, values ...[]byte) Command {
	return Command{Type: CmdLPush, Key: key, Values: values}
}

func NewRPush(key string, values ...[]byte) Command {
	return Command{Type: CmdRPush, Key: key, Values: values}
}

func NewLIndex(key string, index int64) Command {
	return Command{Type: CmdLIndex, Key: key, Start: index}
}

func NewLSet(key string, index int64, value []byte) Command {
	return Command{Type: CmdLSet, Key: key, Start: index, Values: [][]byte{value}}
}

func NewLRange(key string, start, stop int64) Command {
	return Command{Type: CmdLRange, Key: key, Start: start, Stop: stop}
}

func NewLRem(key string, count int64, value []byte) Command {
	return Command{Type: CmdLRem, Key: key, Start: count, Values: [][]byte{value}}
}

func NewLTrim(key string, start, stop int64) Command {
	return Command{Type: CmdLTrim, Key: key, Start: start, Stop: stop}
}

func NewLPop(key string) Command {
	return Command{Type: CmdLPop, Key: key}
}

func NewRPop(key string) Command {
	return Command{Type: CmdRPop, Key: key}
}

func NewLLen(key string) Command {
	return Command{Type: CmdLLen, Key: key}
}

func NewScan(pattern string) Command {
	return Command{Type: CmdScan, Pattern: pattern}
}

func NewExpire(key string, ttl time.Duration) Command {
	return Command{Type: CmdExpire, Key: key, TTL: ttl}
}

func NewExpireAt(key string, at time.Time) Command {
	return Command{Type: CmdExpireAt, Key: key, At: at}
}

func NewPersist(key string) Command {
	return Command{Type: CmdPersist, Key: key}
}

func NewTTL(key string) Command {
	return Command{Type: CmdTTL, Key: key}
}
