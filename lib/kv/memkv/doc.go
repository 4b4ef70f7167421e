// Package memkv implements an in-memory key-value store that satisfies the kv.IStore
// interface. It supports strings, field-maps (hashes), lists, key expiry and key scanning.
//
// Key Features:
//   - Concurrent access: single commands are serialized per key only (xsync.MapOf),
//     commands on different keys run in parallel
//   - Real transactions: ModeTx applies the commands to a copy-on-write overlay and
//     commits only if every command succeeded, no partial state is ever visible
//   - Expiry: expired keys are invisible immediately and removed by a background
//     garbage collector
//   - Snapshots: Save and Load write a deterministic binary snapshot (used by dstore
//     for raft snapshots)
//
// The time source can be replaced (Options.Clock), which makes expiry testable without sleeping.
package memkv
