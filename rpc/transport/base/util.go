package base

import (
	"encoding/binary"
	"fmt"
	"io"
	"net"
)

// frameHeaderSize is 8 bytes shard id + 8 bytes request id + 4 bytes payload length
const frameHeaderSize = 20

// defaultMaxFrameSize limits the payload a peer may announce
const defaultMaxFrameSize = 64 * 1024 * 1024

// writeFrame writes header and payload with a single vectored write
func writeFrame(conn net.Conn, shardID uint64, requestID uint64, data []byte) error {
	header := make([]byte, frameHeaderSize)
	binary.BigEndian.PutUint64(header[:8], shardID)
	binary.BigEndian.PutUint64(header[8:16], requestID)
	binary.BigEndian.PutUint32(header[16:20], uint32(len(data)))

	b := net.Buffers{header, data}
	_, err := b.WriteTo(conn)
	return err
}

// readFrame reads one frame. The payload is read into buf if it is large enough,
// otherwise a new slice is allocated. The returned payload may therefore alias buf.
func readFrame(r io.Reader, buf []byte, maxSize int) (shardID, requestID uint64, data []byte, err error) {
	var header [frameHeaderSize]byte
	if _, err = io.ReadFull(r, header[:]); err != nil {
		return 0, 0, nil, err
	}

	shardID = binary.BigEndian.Uint64(header[:8])
	requestID = binary.BigEndian.Uint64(header[8:16])
	length := int(binary.BigEndian.Uint32(header[16:20]))

	if maxSize > 0 && length > maxSize {
		return shardID, requestID, nil, fmt.Errorf("frame of %d bytes exceeds limit of %d bytes", length, maxSize)
	}
	if length == 0 {
		return shardID, requestID, []byte{}, nil
	}

	if cap(buf) < length {
		buf = make([]byte, length)
	}
	data = buf[:length]
	if _, err = io.ReadFull(r, data); err != nil {
		return shardID, requestID, nil, err
	}
	return shardID, requestID, data, nil
}
