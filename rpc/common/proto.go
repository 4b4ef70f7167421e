package common

import (
	"encoding/json"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// --------------------------------------------------------------------------
// Message Structure
// --------------------------------------------------------------------------

// Message represents a single message used for both requests and responses.
// Which fields are used depends on the type of message.
type Message struct {
	// Type of message
	MsgType MessageType `json:"msg_type"`

	// Request fields
	Mode     kv.Mode      `json:"mode,omitempty"`     // Used for: Exec
	Commands []kv.Command `json:"commands,omitempty"` // Used for: Exec

	// Response fields
	Results []kv.Result `json:"results,omitempty"` // Used for: Exec responses
	Code    kv.RetCode  `json:"code,omitempty"`    // Used for: Error responses
	Err     string      `json:"err,omitempty"`     // Empty if no error, otherwise contains the error message
}

// --------------------------------------------------------------------------
// Message Factory Functions
// --------------------------------------------------------------------------

// NewExecRequest creates a new request that executes cmds with the given mode
func NewExecRequest(mode kv.Mode, cmds []kv.Command) *Message {
	return &Message{
		MsgType:  MsgTExec,
		Mode:     mode,
		Commands: cmds,
	}
}

// NewExecResponse creates the response for an Exec request.
// If err is set an error response is returned instead.
func NewExecResponse(results []kv.Result, err error) *Message {
	if err != nil {
		return NewErrorResponse(err)
	}
	return &Message{
		MsgType: MsgTExec,
		Results: results,
	}
}

// NewErrorResponse creates an error response. The return code of a *kv.Error is kept,
// all other errors are reported as RetCInternalError.
func NewErrorResponse(err error) *Message {
	e := kv.AsError(err)
	return &Message{
		MsgType: MsgTError,
		Code:    e.Code,
		Err:     e.Msg,
	}
}

// Error returns the error carried by an error response or nil
func (m *Message) Error() error {
	if m.MsgType != MsgTError && m.Err == "" {
		return nil
	}
	code := m.Code
	if code == kv.RetCSuccess {
		code = kv.RetCInternalError
	}
	return kv.NewError(code, m.Err)
}

// --------------------------------------------------------------------------
// Message Type
// --------------------------------------------------------------------------

// MessageType is the type of message
type MessageType uint8

const (
	MsgTUnknown MessageType = iota
	MsgTError               // Indicates an error occurred
	MsgTExec                // Execute a batch of commands
	MsgTPing                // Health check
)

func (t MessageType) String() string {
	switch t {
	case MsgTError:
		return "error"
	case MsgTExec:
		return "exec"
	case MsgTPing:
		return "ping"
	default:
		return "unknown"
	}
}

// MarshalJSON implements the json.Marshaller interface for MessageType.
// This allows MessageType to be serialized as a string in JSON.
func (t MessageType) MarshalJSON() ([]byte, error) {
	return json.Marshal(t.String())
}

// UnmarshalJSON implements the json.Unmarshaler interface for MessageType.
func (t *MessageType) UnmarshalJSON(data []byte) error {
	var s string
	if err := json.Unmarshal(data, &s); err != nil {
		return err
	}

	switch s {
	case "error":
		*t = MsgTError
	case "exec":
		*t = MsgTExec
	case "ping":
		*t = MsgTPing
	case "unknown":
		*t = MsgTUnknown
	default:
		return fmt.Errorf("unknown message type: %s", s)
	}
	return nil
}
