// Package dstore implements a distributed, fault-tolerant kv.IStore using the Dragonboat
// RAFT consensus library. Every replica of a shard holds a memkv.Store, all replicas apply
// the same batches in the same order.
//
// Architecture:
//
//   - Store: implements kv.IStore. Batches that contain a write command are serialized
//     (kv.Batch.Serialize) and proposed to the raft log with SyncPropose. Read-only batches
//     are executed with SyncRead, which guarantees linearizable reads.
//
//   - KVStateMachine: a Dragonboat IConcurrentStateMachine. Update deserializes the batch of
//     every committed entry, executes it on the local memkv.Store and returns the serialized
//     results. Snapshots use memkv.Store.Save and memkv.Store.Load.
//
// Dispatch modes:
//
//	A batch is always one raft entry, so a proposed ModeBatch is applied by all replicas at the
//	same log index. ModeTx keeps the all-or-nothing semantics of memkv: if a command fails,
//	nothing is applied and the proposal returns kv.ErrTxAborted.
//
// Expiry:
//
//	Relative expiries (Set with a TTL, Expire) are converted into absolute points in time by the
//	client before the batch is proposed. This way all replicas agree on the expiry of a key even
//	if they apply the entry at different times. Clocks of the replicas should be synchronized.
//
// Error Handling and Retries:
//
//	ErrSystemBusy is retried after timeout/10, up to 5 times. All other dragonboat errors are
//	returned as kv.RetCInternalError.
//
// Usage:
//
//	nh, err := dragonboat.NewNodeHost(nodeHostConfig)
//	if err != nil { ... }
//
//	err = nh.StartConcurrentReplica(members, false, dstore.CreateStateMachineFactory(nil), shardConfig)
//	if err != nil { ... }
//
//	store := dstore.NewDistributedStore(nh, shardID, 5*time.Second)
package dstore
