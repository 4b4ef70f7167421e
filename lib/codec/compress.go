package codec

import (
	"bytes"
	"fmt"
	"io"
	"strings"

	"github.com/golang/snappy"
	"github.com/klauspost/compress/zstd"
	"github.com/pierrec/lz4/v4"
)

// Compression identifies a compression algorithm. It is written as the first byte of every compressed value.
type Compression byte

const (
	CompressionSnappy Compression = iota + 1
	CompressionLZ4
	CompressionZstd
)

func (c Compression) String() string {
	switch c {
	case CompressionSnappy:
		return "snappy"
	case CompressionLZ4:
		return "lz4"
	case CompressionZstd:
		return "zstd"
	default:
		return fmt.Sprintf("Compression(%d)", c)
	}
}

// ParseCompression converts a name (snappy, lz4, zstd) to a Compression
func ParseCompression(name string) (Compression, error) {
	switch strings.ToLower(name) {
	case "snappy":
		return CompressionSnappy, nil
	case "lz4":
		return CompressionLZ4, nil
	case "zstd":
		return CompressionZstd, nil
	default:
		return 0, fmt.Errorf("invalid compression %s (expected one of: snappy, lz4, zstd)", name)
	}
}

// zstd encoder and decoder are safe for concurrent EncodeAll / DecodeAll calls
var (
	zstdEncoder, _ = zstd.NewWriter(nil)
	zstdDecoder, _ = zstd.NewReader(nil)
)

// NewCompressedCodec wraps inner and compresses every marshaled value with algo
func NewCompressedCodec(inner ICodec, algo Compression) ICodec {
	return &compressedCodecImpl{inner: inner, algo: algo}
}

type compressedCodecImpl struct {
	inner ICodec
	algo  Compression
}

func (c *compressedCodecImpl) Marshal(v any) ([]byte, error) {
	raw, err := c.inner.Marshal(v)
	if err != nil {
		return nil, err
	}
	return compress(c.algo, raw)
}

func (c *compressedCodecImpl) Unmarshal(data []byte, v any) error {
	raw, err := decompress(data)
	if err != nil {
		return err
	}
	return c.inner.Unmarshal(raw, v)
}

func (c *compressedCodecImpl) Name() string {
	return c.inner.Name() + "+" + c.algo.String()
}

// compress returns algo (1 byte) followed by the compressed data
func compress(algo Compression, data []byte) ([]byte, error) {
	out := []byte{byte(algo)}
	switch algo {
	case CompressionSnappy:
		return append(out, snappy.Encode(nil, data)...), nil
	case CompressionLZ4:
		buf := bytes.NewBuffer(out)
		w := lz4.NewWriter(buf)
		if _, err := w.Write(data); err != nil {
			return nil, err
		}
		if err := w.Close(); err != nil {
			return nil, err
		}
		return buf.Bytes(), nil
	case CompressionZstd:
		return zstdEncoder.EncodeAll(data, out), nil
	default:
		return nil, fmt.Errorf("unknown compression %s", algo)
	}
}

// decompress reads the algorithm from the first byte and decompresses the rest
func decompress(data []byte) ([]byte, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("compressed value is empty")
	}
	algo, body := Compression(data[0]), data[1:]
	switch algo {
	case CompressionSnappy:
		return snappy.Decode(nil, body)
	case CompressionLZ4:
		return io.ReadAll(lz4.NewReader(bytes.NewReader(body)))
	case CompressionZstd:
		return zstdDecoder.DecodeAll(body, nil)
	default:
		return nil, fmt.Errorf("unknown compression %s", algo)
	}
}
