package storage

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/VictoriaMetrics/metrics"
	"github.com/google/uuid"
)

// operation is one queued unit of work, its commands are always dispatched together
type operation struct {
	label string
	cmds  []kv.Command
}

// Pipeline is a single-use queue of operations.
// Operations are added to the batched or the transactional group depending on the mode they are added with.
// Execute dispatches the batched group as one batch (no atomicity) and the transactional group as one
// transaction (all or nothing). After Execute the pipeline is inert, Add and Execute fail with ErrPipelineExecuted.
//
// A pipeline is not safe for concurrent use.
type Pipeline struct {
	id       string
	store    kv.IStore
	maxSize  int
	timeout  time.Duration
	executed bool

	batched []operation
	direct  bool // all batched operations were added with kv.ModeDirect
	tx      []operation
}

// NewPipeline creates an empty pipeline for store. The policy provides the timeout and the size warning threshold.
func NewPipeline(store kv.IStore, policy Policy) *Pipeline {
	return &Pipeline{
		id:      uuid.NewString(),
		store:   store,
		maxSize: policy.MaxPipelineSize,
		timeout: policy.OperationTimeout,
		direct:  true,
	}
}

// ID returns the unique id of the pipeline (used in logs and errors)
func (p *Pipeline) ID() string {
	return p.id
}

// Len returns the number of queued operations
func (p *Pipeline) Len() int {
	return len(p.batched) + len(p.tx)
}

// Executed returns true if Execute was called
func (p *Pipeline) Executed() bool {
	return p.executed
}

// Add queues an operation. kv.ModeTx adds it to the transactional group, everything else to the batched group.
func (p *Pipeline) Add(mode kv.Mode, label string, cmds ...kv.Command) error {
	if p.executed {
		return fmt.Errorf("%w: pipeline %s: can not add %s", ErrPipelineExecuted, p.id, label)
	}
	if len(cmds) == 0 {
		return nil
	}

	op := operation{label: label, cmds: cmds}
	if mode == kv.ModeTx {
		p.tx = append(p.tx, op)
	} else {
		p.batched = append(p.batched, op)
		p.direct = p.direct && mode == kv.ModeDirect
	}

	if p.maxSize > 0 && p.Len() == p.maxSize+1 {
		log.Warningf("pipeline %s exceeds the max pipeline size of %d operations", p.id, p.maxSize)
	}
	return nil
}

// Execute dispatches all queued operations. It may be called only once.
//
// The returned error matches
//   - ErrPipelineExecuted if Execute was called before
//   - ErrDispatch if the store could not be reached (it is unknown which batched operations were applied)
//   - ErrPartialBatch (as *ExecError) if some batched operations failed, the others were applied
//   - ErrNotApplied if the transaction failed, none of its operations were applied
func (p *Pipeline) Execute(ctx context.Context) error {
	if p.executed {
		return fmt.Errorf("%w: pipeline %s", ErrPipelineExecuted, p.id)
	}
	p.executed = true

	var errs []error
	if len(p.batched) > 0 {
		mode := kv.ModeBatch
		if p.direct {
			mode = kv.ModeDirect
		}
		if err := p.run(ctx, mode, p.batched); err != nil {
			errs = append(errs, err)
		}
	}
	if len(p.tx) > 0 {
		if err := p.run(ctx, kv.ModeTx, p.tx); err != nil {
			errs = append(errs, err)
		}
	}
	p.batched, p.tx = nil, nil
	return errors.Join(errs...)
}

// run dispatches the operations of one group
func (p *Pipeline) run(ctx context.Context, mode kv.Mode, ops []operation) error {
	var cmds []kv.Command
	for _, op := range ops {
		cmds = append(cmds, op.cmds...)
	}

	results, err := dispatch(ctx, p.store, mode, p.timeout, cmds)
	switch {
	case err != nil && mode == kv.ModeTx && errors.Is(err, kv.ErrTxAborted):
		failures(mode, "not_applied").Inc()
		log.Debugf("pipeline %s: transaction with %d operations not applied: %v", p.id, len(ops), err)
		return fmt.Errorf("%w: pipeline %s: %w", ErrNotApplied, p.id, err)
	case err != nil:
		failures(mode, "dispatch").Inc()
		return fmt.Errorf("pipeline %s: %w", p.id, dispatchError(err))
	}

	execErr := &ExecError{PipelineID: p.id, Mode: mode}
	offset := 0
	for _, op := range ops {
		failed := false
		for i := range op.cmds {
			if res := &results[offset+i]; res.Err != nil && !failed {
				failed = true
				execErr.Failed = append(execErr.Failed, FailedOperation{
					Label:   op.label,
					Command: op.cmds[i],
					Err:     commandError(res.Err),
				})
			}
		}
		if !failed {
			execErr.Succeeded = append(execErr.Succeeded, op.label)
		}
		offset += len(op.cmds)
	}

	if len(execErr.Failed) > 0 {
		failures(mode, "partial").Inc()
		return execErr
	}
	return nil
}

// --------------------------------------------------------------------------
// Dispatch
// --------------------------------------------------------------------------

// dispatch executes the commands with an optional timeout and records the pipeline metrics
func dispatch(ctx context.Context, store kv.IStore, mode kv.Mode, timeout time.Duration, cmds []kv.Command) ([]kv.Result, error) {
	if timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	start := time.Now()
	results, err := store.Exec(ctx, mode, cmds...)
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_pipeline_executions_total{mode=%q}`, mode)).Inc()
	metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_pipeline_commands_total{mode=%q}`, mode)).Add(len(cmds))
	metrics.GetOrCreateHistogram(fmt.Sprintf(`tkv_pipeline_duration_seconds{mode=%q}`, mode)).UpdateDuration(start)

	if err == nil && len(results) != len(cmds) {
		err = kv.Errorf(kv.RetCInternalError, "store returned %d results for %d commands", len(results), len(cmds))
	}
	return results, err
}

func failures(mode kv.Mode, reason string) *metrics.Counter {
	return metrics.GetOrCreateCounter(fmt.Sprintf(`tkv_pipeline_failures_total{mode=%q,reason=%q}`, mode, reason))
}
