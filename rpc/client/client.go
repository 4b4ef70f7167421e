package client

import (
	"context"
	"fmt"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	Logger = logger.GetLogger("rpc")
)

// NewRPCStore connects the transport and returns a kv.IStore that executes all
// commands on the given shard of a remote server
func NewRPCStore(
	shardId uint64,
	config common.ClientConfig,
	transport transport.IRPCClientTransport,
	serializer serializer.IRPCSerializer,
) (*Store, error) {
	if err := transport.Connect(config); err != nil {
		return nil, err
	}
	return &Store{
		shardId:    shardId,
		transport:  transport,
		serializer: serializer,
	}, nil
}

// Store is the rpc client implementation of kv.IStore
type Store struct {
	shardId    uint64
	transport  transport.IRPCClientTransport
	serializer serializer.IRPCSerializer
}

var _ kv.IStore = (*Store)(nil)

// --------------------------------------------------------------------------
// Interface Methods (docu see kv.IStore)
// --------------------------------------------------------------------------

func (s *Store) Exec(ctx context.Context, mode kv.Mode, cmds ...kv.Command) ([]kv.Result, error) {
	if len(cmds) == 0 {
		return []kv.Result{}, nil
	}

	resp, err := s.invoke(ctx, common.NewExecRequest(mode, cmds))
	if err != nil {
		return nil, err
	}
	if len(resp.Results) != len(cmds) {
		return nil, fmt.Errorf("rpc: got %d results for %d commands", len(resp.Results), len(cmds))
	}
	return resp.Results, nil
}

func (s *Store) Close() error {
	return s.transport.Close()
}

// Ping checks that the server is reachable and serves the shard
func (s *Store) Ping(ctx context.Context) error {
	_, err := s.invoke(ctx, &common.Message{MsgType: common.MsgTPing})
	return err
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

// invoke sends req and returns the response. An error response is returned as *kv.Error
// with the return code of the server, all other failures are dispatch errors.
func (s *Store) invoke(ctx context.Context, req *common.Message) (*common.Message, error) {
	reqBytes, err := s.serializer.Serialize(*req)
	if err != nil {
		return nil, fmt.Errorf("rpc: failed to serialize request: %w", err)
	}

	respBytes, err := s.transport.Send(ctx, s.shardId, reqBytes)
	if err != nil {
		Logger.Debugf("Request to shard %d failed: %v", s.shardId, err)
		return nil, fmt.Errorf("rpc: %w", err)
	}

	resp := &common.Message{}
	if err := s.serializer.Deserialize(respBytes, resp); err != nil {
		return nil, fmt.Errorf("rpc: failed to deserialize response: %w", err)
	}

	if err := resp.Error(); err != nil {
		return nil, err
	}
	if resp.MsgType != req.MsgType {
		return nil, fmt.Errorf("rpc: unexpected message type %s, expected %s", resp.MsgType, req.MsgType)
	}
	return resp, nil
}
