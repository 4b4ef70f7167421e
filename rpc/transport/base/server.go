package base

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var Logger = logger.GetLogger("transport/rpc")

const (
	defaultBufferSize     = 64 * 1024
	defaultWorkersPerConn = 16
)

// IServerConnector is the protocol specific part of a server transport
type IServerConnector interface {
	// Listen creates the listener for the configured endpoint
	Listen(config common.ServerConfig) (net.Listener, error)
	// GetName returns the name of the protocol (used for logging and metrics)
	GetName() string
	// UpgradeConnection applies protocol specific socket options to an accepted connection
	UpgradeConnection(conn net.Conn, config common.ServerConfig) error
}

type serverTransport struct {
	connector IServerConnector
	handler   transport.ServerHandleFunc
	config    common.ServerConfig

	mu       sync.Mutex
	listener net.Listener
	conns    map[net.Conn]struct{}
	closing  atomic.Bool
	active   sync.WaitGroup // running connection handlers

	bufferPool sync.Pool
}

// NewBaseServerTransport creates a frame based server transport on top of the connector
func NewBaseServerTransport(connector IServerConnector) transport.IRPCServerTransport {
	return &serverTransport{
		connector: connector,
		conns:     make(map[net.Conn]struct{}),
		bufferPool: sync.Pool{
			New: func() interface{} {
				buf := make([]byte, defaultBufferSize)
				return &buf
			},
		},
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCServerTransport)
// --------------------------------------------------------------------------

func (t *serverTransport) RegisterHandler(handler transport.ServerHandleFunc) {
	t.handler = handler
}

func (t *serverTransport) Listen(config common.ServerConfig) error {
	if t.handler == nil {
		return fmt.Errorf("no handler registered")
	}
	t.config = config

	listener, err := t.connector.Listen(config)
	if err != nil {
		return fmt.Errorf("failed to create listener: %w", err)
	}

	t.mu.Lock()
	t.listener = listener
	t.mu.Unlock()

	Logger.Infof("Starting %s server on %s with %d workers per connection",
		t.connector.GetName(), listener.Addr(), t.workersPerConn())

	for {
		conn, err := listener.Accept()
		if err != nil {
			if t.closing.Load() || errors.Is(err, net.ErrClosed) {
				return nil
			}
			Logger.Errorf("Accept error: %v", err)
			transport.ObserveError(t.connector.GetName(), "accept")
			time.Sleep(10 * time.Millisecond)
			continue
		}

		if err := t.connector.UpgradeConnection(conn, config); err != nil {
			Logger.Warningf("Failed to upgrade connection from %s: %v", conn.RemoteAddr(), err)
		}

		if !t.track(conn) {
			conn.Close()
			return nil
		}
		go t.handleConnection(conn)
	}
}

func (t *serverTransport) Shutdown(ctx context.Context) error {
	t.closing.Store(true)

	t.mu.Lock()
	if t.listener != nil {
		t.listener.Close()
	}
	// unblock all connection readers, running requests still write their response
	for conn := range t.conns {
		conn.SetReadDeadline(time.Now())
	}
	t.mu.Unlock()

	done := make(chan struct{})
	go func() {
		t.active.Wait()
		close(done)
	}()

	select {
	case <-done:
		return nil
	case <-ctx.Done():
		t.mu.Lock()
		for conn := range t.conns {
			conn.Close()
		}
		t.mu.Unlock()
		return ctx.Err()
	}
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *serverTransport) workersPerConn() int {
	if t.config.Transport.WorkersPerConn > 0 {
		return t.config.Transport.WorkersPerConn
	}
	return defaultWorkersPerConn
}

func (t *serverTransport) maxFrameSize() int {
	if t.config.Transport.MaxFrameSizeBytes > 0 {
		return t.config.Transport.MaxFrameSizeBytes
	}
	return defaultMaxFrameSize
}

// track registers conn, it returns false if the transport is shutting down
func (t *serverTransport) track(conn net.Conn) bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	if t.closing.Load() {
		return false
	}
	t.conns[conn] = struct{}{}
	t.active.Add(1)
	return true
}

func (t *serverTransport) untrack(conn net.Conn) {
	t.mu.Lock()
	delete(t.conns, conn)
	t.mu.Unlock()
	t.active.Done()
}

// handleConnection reads frames until the connection is closed. Every request is
// handled by its own goroutine (bounded by the worker semaphore), responses are
// written in completion order and matched by the client with the request id.
func (t *serverTransport) handleConnection(conn net.Conn) {
	defer t.untrack(conn)
	defer conn.Close()

	name := t.connector.GetName()
	timeout := t.config.Timeout()
	maxSize := t.maxFrameSize()
	workers := make(chan struct{}, t.workersPerConn())

	var wg sync.WaitGroup
	var writeMu sync.Mutex

	respond := func(shardID, requestID uint64, req []byte, buf *[]byte) {
		defer func() {
			t.bufferPool.Put(buf)
			<-workers
			wg.Done()
		}()

		start := time.Now()
		resp := t.handler(shardID, req)
		transport.ObserveRequest(name, shardID, start, len(req), len(resp))
		Logger.Debugf("Processed request %d for shard %d in %s", requestID, shardID, time.Since(start))

		writeMu.Lock()
		defer writeMu.Unlock()
		if timeout > 0 {
			if err := conn.SetWriteDeadline(time.Now().Add(timeout)); err != nil {
				Logger.Errorf("Failed to set write deadline: %v", err)
				return
			}
		}
		if err := writeFrame(conn, shardID, requestID, resp); err != nil {
			transport.ObserveError(name, "write")
			Logger.Errorf("Failed to write response for request %d: %v", requestID, err)
		}
	}

	for {
		buf := t.bufferPool.Get().(*[]byte)
		shardID, requestID, data, err := readFrame(conn, *buf, maxSize)
		if err != nil {
			t.bufferPool.Put(buf)
			switch {
			case err == io.EOF, t.closing.Load():
				Logger.Debugf("Connection from %s closed", conn.RemoteAddr())
			default:
				transport.ObserveError(name, "read")
				Logger.Errorf("Error reading request from %s: %v", conn.RemoteAddr(), err)
			}
			break
		}

		workers <- struct{}{}
		wg.Add(1)
		go respond(shardID, requestID, data, buf)
	}

	wg.Wait()
}
