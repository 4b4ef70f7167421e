// Package codec converts typed records to the byte values kept in a kv.IStore.
//
// Codecs:
//
//   - json (NewJSONCodec): human-readable, strict decoding (unknown fields and trailing data
//     are rejected, which the Blob representation uses to tell a single record from a list).
//   - gob (NewGOBCodec): Go's binary format.
//
// Any codec can be wrapped with NewCompressedCodec to compress values with snappy, lz4 or zstd.
// The algorithm is written as the first byte of every value, so values written with one
// algorithm can only be read by a codec wrapping the same inner codec.
//
// Usage:
//
//	c, err := codec.FromName("json", "zstd")
//	data, err := c.Marshal(record)
//	err = c.Unmarshal(data, &record)
package codec
