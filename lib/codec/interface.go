package codec

// ICodec encodes records to bytes and back. Implementations are stateless and safe for concurrent use.
type ICodec interface {
	// Marshal encodes v
	Marshal(v any) ([]byte, error)
	// Unmarshal decodes data into the value v points to
	Unmarshal(data []byte, v any) error
	// Name returns the name of the codec (e.g. "json", "gob+zstd")
	Name() string
}
