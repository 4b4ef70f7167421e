package serializer

import (
	"encoding/binary"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/rpc/common"
)

// NewBinarySerializer creates a new serializer using a compact binary format.
// Commands and results use the kv batch encoding that is also written to the raft log.
func NewBinarySerializer() IRPCSerializer {
	return &binarySerializerImpl{}
}

// binarySerializerImpl implements IRPCSerializer using a custom binary format
type binarySerializerImpl struct {
}

// Bit flags to indicate which optional fields are present
const (
	hasCommands byte = 1 << 0
	hasResults  byte = 1 << 1
	hasErr      byte = 1 << 2
)

// --------------------------------------------------------------------------
// Interface Methods (docu see serializer.IRPCSerializer)
// --------------------------------------------------------------------------

// Serialize writes:
// 1 byte message type, 1 byte flags, 1 byte mode,
// [uvarint length + kv batch] if hasCommands,
// [uvarint length + kv results] if hasResults,
// [uvarint code + uvarint length + message] if hasErr
func (b binarySerializerImpl) Serialize(msg common.Message) ([]byte, error) {
	var flags byte
	if len(msg.Commands) > 0 {
		flags |= hasCommands
	}
	if len(msg.Results) > 0 {
		flags |= hasResults
	}
	if msg.Err != "" || msg.Code != kv.RetCSuccess {
		flags |= hasErr
	}

	buf := make([]byte, 0, 64)
	buf = append(buf, byte(msg.MsgType), flags, byte(msg.Mode))

	if flags&hasCommands != 0 {
		batch := kv.Batch{Mode: msg.Mode, Commands: msg.Commands}
		buf = appendBlock(buf, batch.Serialize())
	}
	if flags&hasResults != 0 {
		buf = appendBlock(buf, kv.SerializeResults(msg.Results))
	}
	if flags&hasErr != 0 {
		buf = binary.AppendUvarint(buf, uint64(msg.Code))
		buf = appendBlock(buf, []byte(msg.Err))
	}
	return buf, nil
}

func (b binarySerializerImpl) Deserialize(data []byte, msg *common.Message) error {
	if len(data) < 3 {
		return fmt.Errorf("data too short for message: %d bytes", len(data))
	}

	*msg = common.Message{
		MsgType: common.MessageType(data[0]),
		Mode:    kv.Mode(data[2]),
	}
	flags := data[1]
	pos := 3

	if flags&hasCommands != 0 {
		block, err := readBlock(data, &pos)
		if err != nil {
			return fmt.Errorf("failed to read commands: %w", err)
		}
		var batch kv.Batch
		if err := batch.Deserialize(block); err != nil {
			return fmt.Errorf("failed to decode commands: %w", err)
		}
		msg.Commands = batch.Commands
	}

	if flags&hasResults != 0 {
		block, err := readBlock(data, &pos)
		if err != nil {
			return fmt.Errorf("failed to read results: %w", err)
		}
		results, err := kv.DeserializeResults(block)
		if err != nil {
			return fmt.Errorf("failed to decode results: %w", err)
		}
		msg.Results = results
	}

	if flags&hasErr != 0 {
		code, n := binary.Uvarint(data[pos:])
		if n <= 0 {
			return fmt.Errorf("failed to read error code at offset %d", pos)
		}
		pos += n
		block, err := readBlock(data, &pos)
		if err != nil {
			return fmt.Errorf("failed to read error message: %w", err)
		}
		msg.Code = kv.RetCode(code)
		msg.Err = string(block)
	}

	if pos != len(data) {
		return fmt.Errorf("%d trailing bytes after message", len(data)-pos)
	}
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func appendBlock(buf []byte, block []byte) []byte {
	buf = binary.AppendUvarint(buf, uint64(len(block)))
	return append(buf, block...)
}

func readBlock(data []byte, pos *int) ([]byte, error) {
	n, read := binary.Uvarint(data[*pos:])
	if read <= 0 {
		return nil, fmt.Errorf("invalid length at offset %d", *pos)
	}
	*pos += read
	if n > uint64(len(data)-*pos) {
		return nil, fmt.Errorf("length %d exceeds remaining %d bytes", n, len(data)-*pos)
	}
	block := data[*pos : *pos+int(n)]
	*pos += int(n)
	return block, nil
}
