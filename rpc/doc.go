// Package rpc gives remote access to a kv.IStore. A client sends a whole batch of
// commands (with its kv.Mode) as one message, the server executes it on one of its
// shards and returns the results.
//
// The package is organized into several subpackages:
//
//   - common: the Message protocol, server and client configuration and logging.
//
//   - transport: network communication with pluggable implementations
//     (TCP, Unix sockets, HTTP).
//
//   - serializer: Message serialization (Binary, JSON, GOB).
//
//   - client: a kv.IStore that forwards every Exec to a remote shard. Everything
//     built on kv.IStore (storage, lockmgr) works over it unchanged.
//
//   - server: hosts memory, raft and redis backed shards and executes the requests.
package rpc
