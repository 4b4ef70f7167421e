// Package common provides the data structures shared by the rpc client, server and
// transports.
//
// Key Components:
//
//   - Message: the single message type used for requests and responses. An Exec request
//     carries a kv.Mode and the commands of one batch, the response carries the results.
//     Errors are returned as MsgTError with the kv.RetCode of the failure, so a client
//     can reconstruct errors like kv.ErrTxAborted.
//
//   - ServerConfig: shards (memory, raft or redis backed), RAFT parameters and transport
//     settings. Provides helpers to convert to Dragonboat configurations.
//
//   - ClientConfig: endpoints, timeouts and retry behavior of the client transport.
//
//   - Logger: a dragonboat logger.ILogger with the format "LEVEL | name | message".
//     InitLoggers installs it for all tkv and dragonboat loggers.
package common
