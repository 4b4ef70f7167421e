package unix

import (
	"fmt"
	"net"
	"os"

	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/ValentinKolb/tkv/rpc/transport/base"
)

// NewUnixClientTransport creates a new Unix socket client transport.
// The endpoints of the client config are socket paths.
func NewUnixClientTransport() transport.IRPCClientTransport {
	return base.NewBaseClientTransport(clientConnector{})
}

// NewUnixServerTransport creates a new Unix socket server transport.
// The endpoint of the server config is the socket path.
func NewUnixServerTransport() transport.IRPCServerTransport {
	return base.NewBaseServerTransport(serverConnector{})
}

const name = "unix"

// Unix sockets have no socket options worth tuning, both upgrades are no-ops.
type clientConnector struct{}

func (clientConnector) GetName() string {
	return name
}

func (clientConnector) Connect(endpoint string) (net.Conn, error) {
	return net.Dial("unix", endpoint)
}

func (clientConnector) UpgradeConnection(net.Conn, common.ClientConfig) error {
	return nil
}

type serverConnector struct{}

func (serverConnector) GetName() string {
	return name
}

func (serverConnector) Listen(config common.ServerConfig) (net.Listener, error) {
	path := config.Transport.Endpoint

	// a stale socket of a previous run blocks the listener, anything else is left alone
	if info, err := os.Lstat(path); err == nil {
		if info.Mode()&os.ModeSocket == 0 {
			return nil, fmt.Errorf("%s exists and is not a socket", path)
		}
		if err := os.Remove(path); err != nil {
			return nil, fmt.Errorf("failed to remove stale socket: %w", err)
		}
	}

	listener, err := net.Listen("unix", path)
	if err != nil {
		return nil, fmt.Errorf("failed to create unix socket: %w", err)
	}
	return listener, nil
}

func (serverConnector) UpgradeConnection(net.Conn, common.ServerConfig) error {
	return nil
}
