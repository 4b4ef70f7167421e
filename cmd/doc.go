// Package cmd implements the command-line interface of tkv. It provides commands for
// running the server and for working with documents and locks as a client.
//
// The package is organized into several subpackages:
//
//   - kv: document operations on the four storage representations and the perf tool
//   - lock: lock operations (acquire, release)
//   - serve: starts a tkv server with memory, raft or redis shards
//   - util: shared flag handling, backend and configuration setup (internal use)
//
// See tkv -help for a list of all commands.
package cmd
