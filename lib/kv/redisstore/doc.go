// Package redisstore implements kv.IStore on top of a redis server (or any server speaking
// the redis protocol) using github.com/redis/go-redis/v9.
//
// Commands map one to one onto redis commands. ModeDirect and ModeBatch are sent as a single
// pipeline, ModeTx uses an optimistic WATCH/MULTI/EXEC transaction.
//
// Limitation: redis does not roll back a MULTI/EXEC block when a command fails at runtime.
// Kind errors and LSET indexes are checked on the watched keys before EXEC and abort the
// transaction with kv.ErrTxAborted, nothing is applied in that case. A command that still
// fails inside EXEC is reported in its Result (the other commands were applied), never as
// kv.ErrTxAborted.
package redisstore
