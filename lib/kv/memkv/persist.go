package memkv

import (
	"bufio"
	"encoding/binary"
	"errors"
	"fmt"
	"io"
	"sort"
)

// Constants for the snapshot file format
const (
	magicNum        = "TKVMEM\x00\x00" // File format identifier
	snapshotVersion = 1                // Snapshot format version
)

// --------------------------------------------------------------------------
// Persistence Operations
// --------------------------------------------------------------------------

// Save writes a snapshot of all live keys to w.
// The format is: magic, version (uint32), number of entries (uint64), entries.
// Each entry is: key, kind (1 byte), expireAt (int64), payload.
//
// Thread-safety: Save takes the store exclusively, no command runs during the snapshot.
func (s *Store) Save(w io.Writer) error {
	s.gate.Lock()
	defer s.gate.Unlock()

	now := s.clock().UnixNano()
	type keyed struct {
		key string
		e   *entry
	}
	var entries []keyed
	s.data.Range(func(key string, e *entry) bool {
		if !e.expired(now) {
			entries = append(entries, keyed{key, e})
		}
		return true
	})
	// deterministic output (raft snapshots of equal state are byte-identical)
	sort.Slice(entries, func(i, j int) bool { return entries[i].key < entries[j].key })

	bw := bufio.NewWriterSize(w, 1024*1024) // 1 MB buffer
	enc := encoder{w: bw}

	enc.raw([]byte(magicNum))
	enc.uint32(snapshotVersion)
	enc.uint64(uint64(len(entries)))

	for _, ke := range entries {
		e := ke.e
		enc.bytes([]byte(ke.key))
		enc.raw([]byte{byte(e.kind)})
		enc.uint64(uint64(e.expireAt))

		switch e.kind {
		case kindString:
			enc.bytes(e.str)
		case kindHash:
			fields := make([]string, 0, len(e.hash))
			for field := range e.hash {
				fields = append(fields, field)
			}
			sort.Strings(fields)
			enc.uint64(uint64(len(fields)))
			for _, field := range fields {
				enc.bytes([]byte(field))
				enc.bytes(e.hash[field])
			}
		case kindList:
			enc.uint64(uint64(len(e.list)))
			for _, val := range e.list {
				enc.bytes(val)
			}
		}
	}

	if enc.err != nil {
		return enc.err
	}
	return bw.Flush()
}

// Load replaces the content of the store with a snapshot written by Save.
// Keys that already expired are skipped.
//
// Thread-safety: Load takes the store exclusively.
func (s *Store) Load(r io.Reader) error {
	dec := decoder{r: bufio.NewReaderSize(r, 1024*1024)}

	magic := dec.raw(len(magicNum))
	if dec.err != nil {
		return fmt.Errorf("failed to read header: %w", dec.err)
	}
	if string(magic) != magicNum {
		return errors.New("invalid snapshot: wrong magic number")
	}
	if version := dec.uint32(); version != snapshotVersion {
		return fmt.Errorf("unsupported snapshot version %d", version)
	}

	count := dec.uint64()
	loaded := make(map[string]*entry)
	for i := uint64(0); i < count && dec.err == nil; i++ {
		key := string(dec.bytes())
		e := &entry{kind: entryKind(dec.raw(1)[0]), expireAt: int64(dec.uint64())}
		switch e.kind {
		case kindString:
			e.str = dec.bytes()
		case kindHash:
			n := dec.uint64()
			e.hash = make(map[string][]byte)
			for j := uint64(0); j < n && dec.err == nil; j++ {
				field := string(dec.bytes())
				e.hash[field] = dec.bytes()
			}
		case kindList:
			n := dec.uint64()
			for j := uint64(0); j < n && dec.err == nil; j++ {
				e.list = append(e.list, dec.bytes())
			}
		default:
			if dec.err == nil {
				return fmt.Errorf("invalid snapshot: unknown entry kind %d", e.kind)
			}
		}
		loaded[key] = e
	}
	if dec.err != nil {
		return fmt.Errorf("failed to read snapshot: %w", dec.err)
	}

	s.gate.Lock()
	defer s.gate.Unlock()

	s.data.Clear()
	s.expiring.Clear()
	now := s.clock().UnixNano()
	for key, e := range loaded {
		if e.expired(now) {
			continue
		}
		s.data.Store(key, e)
		if e.expireAt != 0 {
			s.expiring.Store(key, struct{}{})
		}
	}
	log.Infof("loaded snapshot with %d keys", s.data.Size())
	return nil
}

// --------------------------------------------------------------------------
// Encoding helpers
// --------------------------------------------------------------------------

// encoder writes big endian integers and length prefixed byte slices.
// The first error is sticky.
type encoder struct {
	w   io.Writer
	err error
	buf [8]byte
}

func (e *encoder) raw(b []byte) {
	if e.err == nil {
		_, e.err = e.w.Write(b)
	}
}

func (e *encoder) uint32(v uint32) {
	binary.BigEndian.PutUint32(e.buf[:4], v)
	e.raw(e.buf[:4])
}

func (e *encoder) uint64(v uint64) {
	binary.BigEndian.PutUint64(e.buf[:8], v)
	e.raw(e.buf[:8])
}

func (e *encoder) bytes(b []byte) {
	e.uint32(uint32(len(b)))
	e.raw(b)
}

type decoder struct {
	r   io.Reader
	err error
}

func (d *decoder) raw(n int) []byte {
	b := make([]byte, n)
	if d.err == nil {
		_, d.err = io.ReadFull(d.r, b)
	}
	return b
}

func (d *decoder) uint32() uint32 {
	return binary.BigEndian.Uint32(d.raw(4))
}

func (d *decoder) uint64() uint64 {
	return binary.BigEndian.Uint64(d.raw(8))
}

func (d *decoder) bytes() []byte {
	n := d.uint32()
	if d.err != nil {
		return nil
	}
	if n > 1<<30 {
		d.err = fmt.Errorf("value too large (%d bytes)", n)
		return nil
	}
	return d.raw(int(n))
}
