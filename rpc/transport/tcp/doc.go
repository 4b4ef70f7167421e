// Package tcp implements the frame based transport of the base package over TCP.
//
// Key Components:
//
//   - clientConnector: dials endpoints (host:port) and applies TCPNoDelay and keep-alive
//     from common.ClientTransportConfig.
//
//   - serverConnector: listens on the configured endpoint and applies TCPNoDelay,
//     keep-alive, socket buffer sizes and linger from common.ServerTransportConfig.
package tcp
