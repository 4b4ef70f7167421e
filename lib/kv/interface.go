package kv

import (
	"context"
	"errors"
	"fmt"
	"time"
)

// --------------------------------------------------------------------------
// Interface Definition
// --------------------------------------------------------------------------

// IStore is the primitive command interface of a key-value store backend.
// It exposes strings, field-maps (hashes), lists, key expiry and key scanning.
// Everything above this interface (typed records, pipelines, expiry policies)
// only ever talks to the store through Exec.
//
// The semantics of a call depend on the Mode:
//
//   - ModeDirect and ModeBatch: every command is applied independently. A failing command
//     reports its error in Result.Err, the other commands are still applied. The returned
//     error is only set if the batch could not be dispatched at all (network, timeout, ...).
//     In that case it is unknown which commands were applied.
//   - ModeTx: the commands are applied as one atomic unit. If any command fails, none of the
//     commands have an observable effect and ErrTxAborted is returned.
//
// The returned slice always has the same length as cmds if the error is nil.
type IStore interface {
	// Exec executes the commands with the given mode.
	Exec(ctx context.Context, mode Mode, cmds ...Command) ([]Result, error)
	// Close releases all resources held by the store.
	Close() error
}

// Mode defines how a batch of commands is dispatched to the store.
type Mode uint8

const (
	ModeDirect Mode = iota // Execute immediately, equivalent to a batch of size one
	ModeBatch              // Transmit together, no atomicity across commands
	ModeTx                 // Transmit together, all or nothing
)

func (m Mode) String() string {
	switch m {
	case ModeDirect:
		return "direct"
	case ModeBatch:
		return "batch"
	case ModeTx:
		return "tx"
	default:
		return fmt.Sprintf("Unknown(%d)", m)
	}
}

// TTL sentinel values returned by CmdTTL.
const (
	TTLNoExpiry time.Duration = -1 // The key exists but has no expiry
	TTLMissing  time.Duration = -2 // The key does not exist
)

// --------------------------------------------------------------------------
// Custom Error Type
// --------------------------------------------------------------------------

// Error is a custom error type that wraps a return code (of type RetCode)
// and an error message.
type Error struct {
	Code RetCode `json:"code"` // The return code
	Msg  string  `json:"msg"`  // The error message.
}

// Error implements the error interface.
func (e *Error) Error() string {
	return fmt.Sprintf("kv error (code %s): %s", e.Code, e.Msg)
}

// Is reports whether target is a *Error with the same return code.
// This allows errors.Is(err, kv.ErrTxAborted) regardless of the message.
func (e *Error) Is(target error) bool {
	t, ok := target.(*Error)
	return ok && t.Code == e.Code
}

// NewError creates a new Error with the given code and message.
func NewError(code RetCode, msg string) *Error {
	return &Error{
		Code: code,
		Msg:  msg,
	}
}

// Errorf creates a new Error with the given code and a formatted message.
func Errorf(code RetCode, format string, args ...any) *Error {
	return NewError(code, fmt.Sprintf(format, args...))
}

var (
	ErrTxAborted   = NewError(RetCTxAborted, "transaction aborted")
	ErrWrongType   = NewError(RetCWrongType, "operation against a key holding the wrong kind of value")
	ErrNoSuchKey   = NewError(RetCNoSuchKey, "no such key")
	ErrOutOfRange  = NewError(RetCOutOfRange, "index out of range")
	ErrUnsupported = NewError(RetCUnsupportedOperation, "operation not supported")
)

// --------------------------------------------------------------------------
// Return Codes
// --------------------------------------------------------------------------

type RetCode uint64

const (
	RetCSuccess              RetCode = iota // 0: Command executed successfully.
	RetCInternalError                       // 1: Command failed due to an internal error.
	RetCUnsupportedOperation                // 2: Operation is not supported by the backend.
	RetCInvalidOperation                    // 3: Invalid operation (malformed command).
	RetCWrongType                           // 4: Key holds a value of another kind.
	RetCNoSuchKey                           // 5: Key does not exist (LSET on missing key).
	RetCOutOfRange                          // 6: Index out of range (LSET).
	RetCTxAborted                           // 7: Transaction was not applied.
)

func (c RetCode) String() string {
	switch c {
	case RetCSuccess:
		return "Success"
	case RetCInternalError:
		return "InternalError"
	case RetCUnsupportedOperation:
		return "UnsupportedOperation"
	case RetCInvalidOperation:
		return "InvalidOperation"
	case RetCWrongType:
		return "WrongType"
	case RetCNoSuchKey:
		return "NoSuchKey"
	case RetCOutOfRange:
		return "OutOfRange"
	case RetCTxAborted:
		return "TxAborted"
	default:
		return fmt.Sprintf("Unknown(%d)", uint64(c))
	}
}

// AsError converts any error into a *Error. A *Error is returned unchanged, a wrapped
// *Error keeps its code with the message of the full chain, all other errors become
// RetCInternalError.
func AsError(err error) *Error {
	if err == nil {
		return nil
	}
	if e, ok := err.(*Error); ok {
		return e
	}
	var e *Error
	if errors.As(err, &e) {
		return NewError(e.Code, err.Error())
	}
	return NewError(RetCInternalError, err.Error())
}
