// Package kv defines the primitive command set of a key-value store backend
// and the IStore interface every backend implements. It is the lowest layer of tKV:
// the typed storage layer (lib/storage) only ever talks to a store through it.
//
// The package focuses on:
//   - A small, backend independent command vocabulary (strings, field-maps, lists,
//     key expiry and key scanning) modelled after the redis data types
//   - Three dispatch modes (direct, batch, transaction) with well-defined atomicity
//   - A compact binary encoding of batches and results used by raft and rpc
//
// Key Components:
//
//   - IStore Interface: Exec executes a group of commands with a Mode. For ModeDirect
//     and ModeBatch every command succeeds or fails independently (Result.Err), for
//     ModeTx all commands are applied or none (ErrTxAborted).
//
//   - Command / Result: A single primitive operation and its outcome. Commands are
//     created with the New* factory functions (e.g. NewHSet, NewLRange, NewExpire).
//
//   - Error System: A structured error type with return codes (RetCode). Errors can be
//     compared with errors.Is against the predefined values (ErrTxAborted, ErrWrongType, ...).
//
// Implementations:
//
//   - memkv: in-memory engine (single process, tests, local shards)
//   - redisstore: adapter for a redis server
//   - dstore: raft replicated store built on memkv and dragonboat
//   - rpc/client: remote store served by the tkv server
package kv
