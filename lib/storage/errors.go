package storage

import (
	"errors"
	"fmt"
	"strings"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// Sentinel errors, use errors.Is to branch on them
var (
	// ErrPipelineExecuted is returned when an operation is added to (or Execute is called on) a pipeline that was already executed
	ErrPipelineExecuted = errors.New("pipeline already executed")

	// ErrUnsupported is returned for operations a representation (or record type) does not support
	ErrUnsupported = errors.New("operation not supported")

	// ErrSerialization is returned when a record can not be encoded
	ErrSerialization = errors.New("serialization failed")

	// ErrDispatch is returned when the store could not be reached or rejected the request
	ErrDispatch = errors.New("dispatch failed")

	// ErrNotApplied is returned when a transactional pipeline was not applied; none of its writes are visible
	ErrNotApplied = errors.New("transaction not applied")

	// ErrPartialBatch is returned when some commands of a batched pipeline failed; the others were applied
	ErrPartialBatch = errors.New("batch partially applied")

	// ErrLocked is returned when the lock guarding a read-modify-write could not be acquired
	ErrLocked = errors.New("key is locked")

	// ErrOutOfRange is returned for list indexes outside of the list
	ErrOutOfRange = errors.New("index out of range")

	// ErrScopedRead is returned by a read inside WithPipeline that would have to dispatch queued writes
	ErrScopedRead = errors.New("read would dispatch the writes queued by WithPipeline")

	// ErrInvalidID is returned for record ids a representation can not store
	ErrInvalidID = errors.New("invalid record id")

	// ErrInvalidPolicy is returned by Policy.Validate
	ErrInvalidPolicy = errors.New("invalid policy")
)

// FailedOperation is a queued operation with at least one failed command
type FailedOperation struct {
	Label   string
	Command kv.Command
	Err     error
}

// ExecError describes a batched pipeline execution in which some operations failed.
// Succeeded lists the labels of the operations whose commands were all applied.
type ExecError struct {
	PipelineID string
	Mode       kv.Mode
	Succeeded  []string
	Failed     []FailedOperation
}

func (e *ExecError) Error() string {
	parts := make([]string, len(e.Failed))
	for i, f := range e.Failed {
		parts[i] = fmt.Sprintf("%s (%s): %v", f.Label, f.Command.Type, f.Err)
	}
	return fmt.Sprintf("pipeline %s: %d of %d operations failed: %s",
		e.PipelineID, len(e.Failed), len(e.Failed)+len(e.Succeeded), strings.Join(parts, "; "))
}

// Unwrap returns ErrPartialBatch and the errors of the failed operations
func (e *ExecError) Unwrap() []error {
	errs := make([]error, 0, len(e.Failed)+1)
	errs = append(errs, ErrPartialBatch)
	for _, f := range e.Failed {
		errs = append(errs, f.Err)
	}
	return errs
}

// serializationError wraps an encoding error of a record
func serializationError(id string, err error) error {
	return fmt.Errorf("%w: record %q: %v", ErrSerialization, id, err)
}

// dispatchError wraps an error of kv.IStore.Exec
func dispatchError(err error) error {
	return fmt.Errorf("%w: %w", ErrDispatch, err)
}

// commandError converts the error of a single command, store range errors also match ErrOutOfRange
func commandError(err *kv.Error) error {
	if errors.Is(err, kv.ErrOutOfRange) {
		return fmt.Errorf("%w: %w", ErrOutOfRange, err)
	}
	return err
}
