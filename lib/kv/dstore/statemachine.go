package dstore

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/kv/memkv"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// --------------------------------------------------------------------------
// State Machine Implementation
// --------------------------------------------------------------------------

// KVStateMachine is a state machine implementation for Dragonboat RAFT.
// Every raft entry holds one serialized kv.Batch which is executed against an in-memory store.
type KVStateMachine struct {
	replicaID uint64
	shardID   uint64
	store     *memkv.Store // the actual data storage
}

// CreateStateMachineFactory returns a function that can be used by dragonboat to create a new state machine
// for a node host. opts configures the in-memory store of every replica (nil = defaults).
func CreateStateMachineFactory(opts *memkv.Options) func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
	return func(shardID uint64, replicaID uint64) sm.IConcurrentStateMachine {
		return &KVStateMachine{
			replicaID: replicaID,
			shardID:   shardID,
			store:     memkv.New(opts),
		}
	}
}

// Lookup handles read-only batches. The query must be a kv.Batch (or *kv.Batch),
// the response is a []kv.Result.
func (fsm *KVStateMachine) Lookup(itf interface{}) (interface{}, error) {
	var batch *kv.Batch
	switch q := itf.(type) {
	case kv.Batch:
		batch = &q
	case *kv.Batch:
		batch = q
	default:
		return nil, kv.Errorf(kv.RetCInternalError, "invalid query type: %T", itf)
	}

	if !batch.ReadOnly() {
		return nil, kv.NewError(kv.RetCInvalidOperation, "lookup of a batch that contains write commands")
	}
	return fsm.store.Exec(context.Background(), batch.Mode, batch.Commands...)
}

// Update applies the batches of the entries.
// The result of every entry carries the RetCode as Value and the serialized results (or the error message) as Data.
func (fsm *KVStateMachine) Update(entries []sm.Entry) ([]sm.Entry, error) {

	// Nothing to do
	if len(entries) == 0 {
		return entries, nil
	}

	// Stats
	start := time.Now()

	for idx, e := range entries {
		if len(e.Cmd) == 0 {
			entries[idx].Result = sm.Result{Value: uint64(kv.RetCInvalidOperation), Data: []byte("empty command ignored")}
			continue
		}

		var batch kv.Batch
		if err := batch.Deserialize(e.Cmd); err != nil {
			entries[idx].Result = sm.Result{
				Value: uint64(kv.RetCInternalError),
				Data:  []byte(fmt.Sprintf("failed to deserialize batch: %v", err)),
			}
			continue
		}

		results, err := fsm.store.Exec(context.Background(), batch.Mode, batch.Commands...)
		if err != nil {
			kerr := kv.AsError(err)
			entries[idx].Result = sm.Result{Value: uint64(kerr.Code), Data: []byte(kerr.Msg)}
			continue
		}
		entries[idx].Result = sm.Result{
			Value: uint64(kv.RetCSuccess),
			Data:  kv.SerializeResults(results),
		}
	}

	// Log if the update took long
	if elapsed := time.Since(start); elapsed > time.Millisecond {
		log.Infof("State machine took long to update. Batch updated %d entries, took %.2fms", len(entries), float64(elapsed)/float64(time.Millisecond))
	}
	return entries, nil
}

// PrepareSnapshot is not used. The store takes itself exclusively while it is saved.
func (fsm *KVStateMachine) PrepareSnapshot() (interface{}, error) {
	return nil, nil
}

// SaveSnapshot writes a snapshot of the store to the writer
func (fsm *KVStateMachine) SaveSnapshot(_ interface{}, writer io.Writer, _ sm.ISnapshotFileCollection, _ <-chan struct{}) error {
	return fsm.store.Save(writer)
}

// RecoverFromSnapshot replaces the store content with the snapshot
func (fsm *KVStateMachine) RecoverFromSnapshot(r io.Reader, _ []sm.SnapshotFile, _ <-chan struct{}) error {
	return fsm.store.Load(r)
}

// Close stops the garbage collection of the store.
func (fsm *KVStateMachine) Close() error {
	return fsm.store.Close()
}
