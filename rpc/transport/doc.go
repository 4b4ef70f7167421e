// Package transport defines the interfaces for rpc communication. A transport only
// moves opaque byte slices tagged with a shard id, serialization and routing to a
// kv.IStore are done by the rpc client and server.
//
// Implementations:
//
//   - http: POST /{shardId}, also serves /metrics
//   - tcp and unix: frame based protocol of the base package with request multiplexing
//
// Key Components:
//
//   - IRPCClientTransport: Interface for client-side transport implementations that
//     handles connection management and request sending.
//
//   - IRPCServerTransport: Interface for server-side transport implementations that
//     receives requests and routes them to appropriate handlers.
//
//   - ServerHandleFunc: Function type for request handling callbacks.
//
//   - ObserveRequest, ObserveError, ObserveRetry: VictoriaMetrics counters and histograms
//     shared by all transports.
package transport
