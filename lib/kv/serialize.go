package kv

import (
	"encoding/binary"
	"fmt"
	"time"
)

// Batch is a group of commands dispatched together with one Mode.
// It is the unit that is sent over the wire (rpc) and proposed to the raft log (dstore).
type Batch struct {
	Mode     Mode
	Commands []Command
}

// batchVersion is written as the first byte of every serialized batch
const batchVersion byte = 1

// ReadOnly returns true if no command of the batch can modify the store.
func (b *Batch) ReadOnly() bool {
	for i := range b.Commands {
		if b.Commands[i].Type.IsWrite() {
			return false
		}
	}
	return true
}

// Serialize serializes a batch into a byte array with the format:
// 1 byte version,
// 1 byte mode,
// uvarint number of commands,
// N commands (see appendCommand)
func (b *Batch) Serialize() []byte {
	buf := make([]byte, 0, 64*len(b.Commands)+8)
	buf = append(buf, batchVersion, byte(b.Mode))
	buf = binary.AppendUvarint(buf, uint64(len(b.Commands)))
	for i := range b.Commands {
		buf = appendCommand(buf, &b.Commands[i])
	}
	return buf
}

// Deserialize extracts a batch from a byte array created by Serialize.
func (b *Batch) Deserialize(data []byte) error {
	if len(data) < 3 {
		return fmt.Errorf("data too short for batch")
	}
	if data[0] != batchVersion {
		return fmt.Errorf("unsupported batch version %d", data[0])
	}
	b.Mode = Mode(data[1])

	r := reader{data: data, pos: 2}
	n := r.uvarint()
	if r.err == nil && n > uint64(len(data)) {
		return fmt.Errorf("invalid command count %d", n)
	}
	b.Commands = make([]Command, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		b.Commands = append(b.Commands, r.command())
	}
	return r.err
}

// SerializeResults serializes the results of a batch.
func SerializeResults(results []Result) []byte {
	buf := make([]byte, 0, 32*len(results)+4)
	buf = binary.AppendUvarint(buf, uint64(len(results)))
	for i := range results {
		buf = appendResult(buf, &results[i])
	}
	return buf
}

// DeserializeResults extracts results from a byte array created by SerializeResults.
func DeserializeResults(data []byte) ([]Result, error) {
	r := reader{data: data}
	n := r.uvarint()
	if r.err == nil && n > uint64(len(data)) {
		return nil, fmt.Errorf("invalid result count %d", n)
	}
	results := make([]Result, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		results = append(results, r.result())
	}
	return results, r.err
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

func appendString(buf []byte, s string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(s)))
	return append(buf, s...)
}

func appendStrings(buf []byte, ss []string) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(ss)))
	for _, s := range ss {
		buf = appendString(buf, s)
	}
	return buf
}

// appendBytes writes len+1 so that nil (0) and empty (1) can be distinguished
func appendBytes(buf []byte, b []byte) []byte {
	if b == nil {
		return binary.AppendUvarint(buf, 0)
	}
	buf = binary.AppendUvarint(buf, uint64(len(b))+1)
	return append(buf, b...)
}

func appendBytesList(buf []byte, bs [][]byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(bs)))
	for _, b := range bs {
		buf = appendBytes(buf, b)
	}
	return buf
}

func appendTime(buf []byte, t time.Time) []byte {
	if t.IsZero() {
		return binary.AppendVarint(buf, 0)
	}
	return binary.AppendVarint(buf, t.UnixNano())
}

// appendCommand writes:
// 1 byte type, key, keys, fields, values, start, stop, ttl, at, pattern
func appendCommand(buf []byte, c *Command) []byte {
	buf = append(buf, byte(c.Type))
	buf = appendString(buf, c.Key)
	buf = appendStrings(buf, c.Keys)
	buf = appendStrings(buf, c.Fields)
	buf = appendBytesList(buf, c.Values)
	buf = binary.AppendVarint(buf, c.Start)
	buf = binary.AppendVarint(buf, c.Stop)
	buf = binary.AppendVarint(buf, int64(c.TTL))
	buf = appendTime(buf, c.At)
	return appendString(buf, c.Pattern)
}

// appendResult writes:
// error code (0 = no error) [+ message], ok, int, value, values, strings, ttl
func appendResult(buf []byte, r *Result) []byte {
	if r.Err == nil {
		buf = binary.AppendUvarint(buf, 0)
	} else {
		code := r.Err.Code
		if code == RetCSuccess {
			code = RetCInternalError
		}
		buf = binary.AppendUvarint(buf, uint64(code))
		buf = appendString(buf, r.Err.Msg)
	}
	if r.Ok {
		buf = append(buf, 1)
	} else {
		buf = append(buf, 0)
	}
	buf = binary.AppendVarint(buf, r.Int)
	buf = appendBytes(buf, r.Value)
	buf = appendBytesList(buf, r.Values)
	buf = appendStrings(buf, r.Strings)
	return binary.AppendVarint(buf, int64(r.TTL))
}

// --------------------------------------------------------------------------
// Decoding helpers
// --------------------------------------------------------------------------

// reader decodes the format written by the append* functions.
// The first error is sticky, all following reads return zero values.
type reader struct {
	data []byte
	pos  int
	err  error
}

func (r *reader) fail(what string) {
	if r.err == nil {
		r.err = fmt.Errorf("malformed data: cannot read %s at offset %d", what, r.pos)
	}
}

func (r *reader) uvarint() uint64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Uvarint(r.data[r.pos:])
	if n <= 0 {
		r.fail("uvarint")
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) varint() int64 {
	if r.err != nil {
		return 0
	}
	v, n := binary.Varint(r.data[r.pos:])
	if n <= 0 {
		r.fail("varint")
		return 0
	}
	r.pos += n
	return v
}

func (r *reader) byte() byte {
	if r.err != nil {
		return 0
	}
	if r.pos >= len(r.data) {
		r.fail("byte")
		return 0
	}
	b := r.data[r.pos]
	r.pos++
	return b
}

func (r *reader) raw(n uint64) []byte {
	if r.err != nil {
		return nil
	}
	if n > uint64(len(r.data)-r.pos) {
		r.fail("bytes")
		return nil
	}
	b := make([]byte, n)
	copy(b, r.data[r.pos:r.pos+int(n)])
	r.pos += int(n)
	return b
}

func (r *reader) string() string {
	return string(r.raw(r.uvarint()))
}

func (r *reader) count() uint64 {
	n := r.uvarint()
	if n > uint64(len(r.data)) {
		r.fail("count")
		return 0
	}
	return n
}

func (r *reader) strings() []string {
	n := r.count()
	if n == 0 {
		return nil
	}
	ss := make([]string, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		ss = append(ss, r.string())
	}
	return ss
}

func (r *reader) bytes() []byte {
	n := r.uvarint()
	if n == 0 {
		return nil
	}
	return r.raw(n - 1)
}

func (r *reader) bytesList() [][]byte {
	n := r.count()
	if n == 0 {
		return nil
	}
	bs := make([][]byte, 0, n)
	for i := uint64(0); i < n && r.err == nil; i++ {
		bs = append(bs, r.bytes())
	}
	return bs
}

func (r *reader) time() time.Time {
	v := r.varint()
	if v == 0 {
		return time.Time{}
	}
	return time.Unix(0, v)
}

func (r *reader) command() Command {
	return Command{
		Type:    CommandType(r.byte()),
		Key:     r.string(),
		Keys:    r.strings(),
		Fields:  r.strings(),
		Values:  r.bytesList(),
		Start:   r.varint(),
		Stop:    r.varint(),
		TTL:     time.Duration(r.varint()),
		At:      r.time(),
		Pattern: r.string(),
	}
}

func (r *reader) result() Result {
	var res Result
	if code := r.uvarint(); code != 0 {
		res.Err = NewError(RetCode(code), r.string())
	}
	res.Ok = r.byte() == 1
	res.Int = r.varint()
	res.Value = r.bytes()
	res.Values = r.bytesList()
	res.Strings = r.strings()
	res.TTL = time.Duration(r.varint())
	return res
}
