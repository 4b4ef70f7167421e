// Package http implements an HTTP-based transport layer for the rpc system.
//
// Key Components:
//
//   - httpClientTransport: posts every request to {endpoint}/{shardId} and selects the
//     endpoint round-robin. Only requests that could not be delivered (dial errors) are
//     retried on the next endpoint.
//
//   - httpServerTransport: routes POST /{shardId} to the registered handler and serves
//     the VictoriaMetrics registry on GET /metrics in Prometheus text format. With log
//     level debug every request is logged.
//
// Thread Safety:
//
//	The client transport is thread-safe and can be used concurrently after Connect.
package http
