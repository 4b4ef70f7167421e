package base

import (
	"context"
	"errors"
	"fmt"
	"math/rand"
	"net"
	"sync"
	"sync/atomic"
	"time"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/puzpuzpuz/xsync/v3"
)

// errNotConnected marks a request that was never written, it is safe to retry
var errNotConnected = errors.New("connection is not established")

// IClientConnector is the protocol specific part of a client transport
type IClientConnector interface {
	// Connect dials the endpoint
	Connect(endpoint string) (net.Conn, error)
	// GetName returns the name of the protocol (used for logging and metrics)
	GetName() string
	// UpgradeConnection applies protocol specific socket options to a new connection
	UpgradeConnection(conn net.Conn, config common.ClientConfig) error
}

type responseResult struct {
	data []byte
	err  error
}

// clientConnection is a single connection to an endpoint. One reader goroutine
// dispatches responses to the waiting senders by request id.
type clientConnection struct {
	endpoint string
	parent   *clientTransport
	stopCh   chan struct{}
	pending  *xsync.MapOf[uint64, chan responseResult]

	connMu sync.Mutex // protects conn and serializes writes
	conn   net.Conn
}

type clientTransport struct {
	connector IClientConnector
	config    common.ClientConfig

	connectionsMu sync.RWMutex
	connections   []*clientConnection

	nextConnIndex atomic.Uint64 // Round Robin
	nextRequestID atomic.Uint64
}

// NewBaseClientTransport creates a frame based client transport on top of the connector
func NewBaseClientTransport(connector IClientConnector) transport.IRPCClientTransport {
	return &clientTransport{connector: connector}
}

// --------------------------------------------------------------------------
// Interface Methods (docu see transport.IRPCClientTransport)
// --------------------------------------------------------------------------

func (t *clientTransport) Connect(config common.ClientConfig) error {
	endpoints := config.Transport.Endpoints
	if len(endpoints) == 0 {
		return fmt.Errorf("no endpoints provided")
	}

	t.closeConnections()
	t.config = config

	perEndpoint := max(1, config.Transport.ConnectionsPerEndpoint)
	connections := make([]*clientConnection, 0, len(endpoints)*perEndpoint)

	for _, endpoint := range endpoints {
		for i := 0; i < perEndpoint; i++ {
			c := &clientConnection{
				endpoint: endpoint,
				parent:   t,
				stopCh:   make(chan struct{}),
				pending:  xsync.NewMapOf[uint64, chan responseResult](),
			}
			conn, err := c.dial()
			if err != nil {
				Logger.Warningf("Failed to connect to %s (connection %d/%d): %v", endpoint, i+1, perEndpoint, err)
				continue
			}
			c.conn = conn
			connections = append(connections, c)
			go c.readResponses(conn)
		}
	}

	if len(connections) == 0 {
		return fmt.Errorf("failed to connect to any endpoint of %v", endpoints)
	}

	t.connectionsMu.Lock()
	t.connections = connections
	t.connectionsMu.Unlock()

	Logger.Infof("Connected %d of %d connections to %d endpoints using %s transport",
		len(connections), len(endpoints)*perEndpoint, len(endpoints), t.connector.GetName())
	return nil
}

func (t *clientTransport) Send(ctx context.Context, shardId uint64, req []byte) ([]byte, error) {
	if timeout := t.config.Timeout(); timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}

	attempts := max(1, t.config.Transport.RetryCount)
	backoff := 50 * time.Millisecond

	var lastErr error
	for i := 0; i < attempts; i++ {
		if i > 0 {
			transport.ObserveRetry(t.connector.GetName())
			jitter := time.Duration(float64(backoff) * (0.9 + 0.2*rand.Float64()))
			select {
			case <-time.After(jitter):
			case <-ctx.Done():
				return nil, fmt.Errorf("request canceled after %d attempts: %w", i, errors.Join(ctx.Err(), lastErr))
			}
			backoff *= 2
		}

		conn := t.nextConnection()
		if conn == nil {
			return nil, fmt.Errorf("no active connections available")
		}

		data, err := conn.send(ctx, shardId, t.nextRequestID.Add(1), req)
		if err == nil {
			return data, nil
		}
		lastErr = err
		if !errors.Is(err, errNotConnected) {
			// the request may have reached the server
			transport.ObserveError(t.connector.GetName(), "response")
			return nil, err
		}
		Logger.Debugf("Request attempt %d/%d failed: %v", i+1, attempts, err)
	}

	transport.ObserveError(t.connector.GetName(), "send")
	return nil, fmt.Errorf("failed to send request after %d attempts: %w", attempts, lastErr)
}

func (t *clientTransport) Close() error {
	t.closeConnections()
	return nil
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (t *clientTransport) nextConnection() *clientConnection {
	t.connectionsMu.RLock()
	defer t.connectionsMu.RUnlock()

	if len(t.connections) == 0 {
		return nil
	}
	index := t.nextConnIndex.Add(1) % uint64(len(t.connections))
	return t.connections[index]
}

func (t *clientTransport) closeConnections() {
	t.connectionsMu.Lock()
	connections := t.connections
	t.connections = nil
	t.connectionsMu.Unlock()

	for _, c := range connections {
		close(c.stopCh)
		c.connMu.Lock()
		if c.conn != nil {
			c.conn.Close()
			c.conn = nil
		}
		c.connMu.Unlock()
	}
}

func (c *clientConnection) dial() (net.Conn, error) {
	conn, err := c.parent.connector.Connect(c.endpoint)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to %s: %w", c.endpoint, err)
	}
	if err := c.parent.connector.UpgradeConnection(conn, c.parent.config); err != nil {
		conn.Close()
		return nil, fmt.Errorf("failed to upgrade connection to %s: %w", c.endpoint, err)
	}
	return conn, nil
}

// send writes the request and waits for the matching response
func (c *clientConnection) send(ctx context.Context, shardId, requestID uint64, req []byte) ([]byte, error) {
	respCh := make(chan responseResult, 1)
	c.pending.Store(requestID, respCh)
	defer c.pending.Delete(requestID)

	c.connMu.Lock()
	conn := c.conn
	if conn == nil {
		c.connMu.Unlock()
		return nil, fmt.Errorf("%w: %s", errNotConnected, c.endpoint)
	}
	if deadline, ok := ctx.Deadline(); ok {
		conn.SetWriteDeadline(deadline)
	}
	err := writeFrame(conn, shardId, requestID, req)
	c.connMu.Unlock()
	if err != nil {
		c.broken(conn, err)
		return nil, fmt.Errorf("%w: %v", errNotConnected, err)
	}

	select {
	case result := <-respCh:
		return result.data, result.err
	case <-ctx.Done():
		return nil, fmt.Errorf("request %d to %s: %w", requestID, c.endpoint, ctx.Err())
	}
}

// readResponses dispatches responses of conn until it fails, then the connection is re-established
func (c *clientConnection) readResponses(conn net.Conn) {
	for {
		_, requestID, data, err := readFrame(conn, nil, defaultMaxFrameSize)
		if err != nil {
			c.broken(conn, err)
			go c.reconnect()
			return
		}

		respCh, found := c.pending.Load(requestID)
		if !found {
			// the sender gave up (context done)
			Logger.Debugf("Received response for unknown request ID %d from %s", requestID, c.endpoint)
			continue
		}
		select {
		case respCh <- responseResult{data: data}:
		default:
		}
	}
}

// broken closes conn (if it is still the current connection) and fails all waiting requests
func (c *clientConnection) broken(conn net.Conn, cause error) {
	c.connMu.Lock()
	current := c.conn == conn
	if current {
		c.conn = nil
	}
	c.connMu.Unlock()
	conn.Close()

	if !current {
		return
	}

	select {
	case <-c.stopCh:
		return
	default:
	}

	Logger.Warningf("Connection to %s lost: %v", c.endpoint, cause)
	c.pending.Range(func(id uint64, respCh chan responseResult) bool {
		select {
		case respCh <- responseResult{err: fmt.Errorf("connection to %s lost: %w", c.endpoint, cause)}:
		default:
		}
		return true
	})
}

// reconnect dials the endpoint with exponential backoff until it succeeds or the transport is closed
func (c *clientConnection) reconnect() {
	backoff := 100 * time.Millisecond
	for {
		select {
		case <-c.stopCh:
			return
		case <-time.After(backoff):
		}

		conn, err := c.dial()
		if err != nil {
			Logger.Debugf("Reconnect to %s failed: %v", c.endpoint, err)
			backoff = min(2*backoff, 5*time.Second)
			continue
		}

		c.connMu.Lock()
		select {
		case <-c.stopCh:
			c.connMu.Unlock()
			conn.Close()
			return
		default:
		}
		c.conn = conn
		c.connMu.Unlock()

		Logger.Infof("Reconnected to %s", c.endpoint)
		c.readResponses(conn)
		return
	}
}
