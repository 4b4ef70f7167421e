package codec

import (
	"bytes"
	"encoding/gob"
	"encoding/json"
	"fmt"
	"strings"
)

// NewJSONCodec creates a codec using json encoding
func NewJSONCodec() ICodec {
	return &jsonCodecImpl{}
}

// NewGOBCodec creates a codec using Go's binary gob format.
// Note: gob can not tell a single value from a slice of that value, which is what the Blob
// representation relies on. Use json for Blob storage.
func NewGOBCodec() ICodec {
	return &gobCodecImpl{}
}

// FromName returns the codec for the given names. codec is one of json, gob;
// compression is one of "", none, snappy, lz4, zstd.
func FromName(codec, compression string) (ICodec, error) {
	var c ICodec
	switch strings.ToLower(codec) {
	case "json", "":
		c = NewJSONCodec()
	case "gob":
		c = NewGOBCodec()
	default:
		return nil, fmt.Errorf("invalid codec %s (expected one of: json, gob)", codec)
	}

	switch strings.ToLower(compression) {
	case "", "none":
		return c, nil
	default:
		algo, err := ParseCompression(compression)
		if err != nil {
			return nil, err
		}
		return NewCompressedCodec(c, algo), nil
	}
}

type jsonCodecImpl struct{}

// --------------------------------------------------------------------------
// Interface Methods (docs see codec.ICodec)
// --------------------------------------------------------------------------

func (j *jsonCodecImpl) Marshal(v any) ([]byte, error) {
	return json.Marshal(v)
}

func (j *jsonCodecImpl) Unmarshal(data []byte, v any) error {
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.DisallowUnknownFields()
	if err := dec.Decode(v); err != nil {
		return err
	}
	if dec.More() {
		return fmt.Errorf("json: trailing data after value")
	}
	return nil
}

func (j *jsonCodecImpl) Name() string {
	return "json"
}

type gobCodecImpl struct{}

func (g *gobCodecImpl) Marshal(v any) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(v); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}

func (g *gobCodecImpl) Unmarshal(data []byte, v any) error {
	return gob.NewDecoder(bytes.NewReader(data)).Decode(v)
}

func (g *gobCodecImpl) Name() string {
	return "gob"
}
