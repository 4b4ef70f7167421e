// Package unix implements the frame based transport of the base package over Unix
// domain sockets. The endpoint is the path of the socket file. A stale socket file
// of a previous run is removed on Listen.
package unix
