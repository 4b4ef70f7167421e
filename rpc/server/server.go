package server

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"runtime"
	"syscall"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/kv/dstore"
	"github.com/ValentinKolb/tkv/lib/kv/memkv"
	"github.com/ValentinKolb/tkv/lib/kv/redisstore"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/logger"
	"github.com/puzpuzpuz/xsync/v3"
)

var Logger = logger.GetLogger("rpc")

// serverShard is a shard of the RPC server: the store it encapsulates and its backend type
type serverShard struct {
	Store kv.IStore
	Type  common.ShardType
}

// NewRPCServer creates a new RPC server
// It takes a config, transport and serializer as parameters
//
// Usage:
//
//	s := server.NewRPCServer(
//		config,
//		http.NewHttpServerTransport(),
//		serializer.NewBinarySerializer(),
//	)
//
//	if err := s.Serve(); err != nil {
//		panic(err)
//	 }
func NewRPCServer(
	config common.ServerConfig,
	transport transport.IRPCServerTransport,
	serializer serializer.IRPCSerializer,
) *RPCServer {
	// https://github.com/golang/go/issues/17393
	if runtime.GOOS == "darwin" {
		signal.Ignore(syscall.Signal(0xd))
	}

	return &RPCServer{
		config:     config,
		transport:  transport,
		serializer: serializer,
		shards:     xsync.NewMapOf[uint64, serverShard](),
	}
}

type RPCServer struct {
	config     common.ServerConfig
	transport  transport.IRPCServerTransport
	serializer serializer.IRPCSerializer
	shards     *xsync.MapOf[uint64, serverShard]
	nodeHost   *dragonboat.NodeHost
}

// AddShard serves store as the given shard. An existing shard with the same id is replaced.
func (s *RPCServer) AddShard(shardId uint64, shardType common.ShardType, store kv.IStore) {
	s.shards.Store(shardId, serverShard{Store: store, Type: shardType})
	Logger.Infof("serving %s store as shard %d", shardType, shardId)
}

// Init creates the stores of all configured shards. Memory shards are restored from
// their snapshot in DataDir (if one exists).
func (s *RPCServer) Init() error {
	if err := s.config.Validate(); err != nil {
		return fmt.Errorf("invalid server config: %w", err)
	}

	if s.config.HasRaftShard() {
		// Only create the NodeHost if we have raft shards
		nh, err := dragonboat.NewNodeHost(s.config.ToNodeHostConfig())
		if err != nil {
			return fmt.Errorf("failed to create node host: %w", err)
		}
		s.nodeHost = nh
	}

	opts := &memkv.Options{GCInterval: s.config.GCInterval}

	/*
		Note: A single RPC Server can have any number of shards. Each shard is a kv.IStore
		with its own keyspace, backed by a memory engine, a raft group or a redis server.
	*/
	for _, shard := range s.config.Shards {
		switch shard.Type {
		case common.ShardTypeMemory:
			store := memkv.New(opts)
			if err := s.restore(shard.ShardID, store); err != nil {
				return err
			}
			s.AddShard(shard.ShardID, shard.Type, store)

		case common.ShardTypeRaft:
			if err := s.nodeHost.StartConcurrentReplica(
				s.config.ClusterMembers, false,
				dstore.CreateStateMachineFactory(opts),
				s.config.ToDragonboatConfig(shard.ShardID),
			); err != nil {
				return fmt.Errorf("failed to start raft shard %d: %w", shard.ShardID, err)
			}
			s.AddShard(shard.ShardID, shard.Type, dstore.NewDistributedStore(s.nodeHost, shard.ShardID, s.config.Timeout()))

		case common.ShardTypeRedis:
			store, err := redisstore.NewFromURL(s.config.RedisURL)
			if err != nil {
				return fmt.Errorf("failed to create redis store for shard %d: %w", shard.ShardID, err)
			}
			s.AddShard(shard.ShardID, shard.Type, store)

		default:
			return fmt.Errorf("invalid shard type: %s", shard.Type)
		}
	}

	Logger.Infof("tkv setup completed successfully")
	return nil
}

// Serve initializes the shards and starts the transport layer.
// It blocks until Shutdown is called.
func (s *RPCServer) Serve() error {
	Logger.Infof("Created RPC Server")
	Logger.Infof(s.config.String())

	if err := s.Init(); err != nil {
		return err
	}
	s.transport.RegisterHandler(s.Handle)
	return s.transport.Listen(s.config)
}

// Shutdown stops the transport, snapshots the memory shards and closes all stores
func (s *RPCServer) Shutdown(ctx context.Context) error {
	errs := []error{s.transport.Shutdown(ctx)}

	s.shards.Range(func(id uint64, shard serverShard) bool {
		if shard.Type == common.ShardTypeMemory {
			if store, ok := shard.Store.(*memkv.Store); ok {
				errs = append(errs, s.snapshot(id, store))
			}
		}
		errs = append(errs, shard.Store.Close())
		s.shards.Delete(id)
		return true
	})

	if s.nodeHost != nil {
		s.nodeHost.Close()
		s.nodeHost = nil
	}
	return errors.Join(errs...)
}

// Handle is the transport.ServerHandleFunc of the server
func (s *RPCServer) Handle(shardId uint64, req []byte) []byte {
	var resp *common.Message

	var msg common.Message
	if shard, ok := s.shards.Load(shardId); !ok {
		resp = common.NewErrorResponse(kv.Errorf(kv.RetCInvalidOperation, "shard %d not found", shardId))
	} else if err := s.serializer.Deserialize(req, &msg); err != nil {
		resp = common.NewErrorResponse(kv.Errorf(kv.RetCInvalidOperation, "failed to deserialize request: %s", err))
	} else {
		resp = s.handle(shard.Store, &msg)
	}

	val, err := s.serializer.Serialize(*resp)
	if err != nil {
		Logger.Errorf("failed to serialize response for shard %d: %v", shardId, err)
		val, _ = s.serializer.Serialize(*common.NewErrorResponse(fmt.Errorf("failed to serialize response: %w", err)))
	}
	return val
}

// --------------------------------------------------------------------------
// Helper Methods
// --------------------------------------------------------------------------

func (s *RPCServer) handle(store kv.IStore, msg *common.Message) *common.Message {
	switch msg.MsgType {
	case common.MsgTPing:
		return &common.Message{MsgType: common.MsgTPing}

	case common.MsgTExec:
		ctx := context.Background()
		if timeout := s.config.Timeout(); timeout > 0 {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, timeout)
			defer cancel()
		}
		results, err := store.Exec(ctx, msg.Mode, msg.Commands...)
		if err != nil {
			Logger.Debugf("exec of %d commands (%s) failed: %v", len(msg.Commands), msg.Mode, err)
		}
		return common.NewExecResponse(results, err)

	default:
		return common.NewErrorResponse(kv.Errorf(kv.RetCInvalidOperation, "unsupported message type %s", msg.MsgType))
	}
}

func (s *RPCServer) snapshotPath(shardId uint64) string {
	return filepath.Join(s.config.DataDir, fmt.Sprintf("shard-%d.snapshot", shardId))
}

// restore loads the snapshot of a memory shard, a missing snapshot is not an error
func (s *RPCServer) restore(shardId uint64, store *memkv.Store) error {
	if s.config.DataDir == "" {
		return nil
	}
	f, err := os.Open(s.snapshotPath(shardId))
	if errors.Is(err, os.ErrNotExist) {
		return nil
	}
	if err != nil {
		return err
	}
	defer f.Close()

	if err := store.Load(f); err != nil {
		return fmt.Errorf("failed to restore shard %d: %w", shardId, err)
	}
	Logger.Infof("restored shard %d with %d keys", shardId, store.Len())
	return nil
}

// snapshot writes a memory shard to DataDir (write to temp file, then rename)
func (s *RPCServer) snapshot(shardId uint64, store *memkv.Store) error {
	if s.config.DataDir == "" {
		return nil
	}
	if err := os.MkdirAll(s.config.DataDir, 0o755); err != nil {
		return err
	}

	path := s.snapshotPath(shardId)
	tmp, err := os.CreateTemp(s.config.DataDir, filepath.Base(path)+".*")
	if err != nil {
		return err
	}
	defer os.Remove(tmp.Name())

	start := time.Now()
	if err := store.Save(tmp); err != nil {
		tmp.Close()
		return fmt.Errorf("failed to snapshot shard %d: %w", shardId, err)
	}
	if err := tmp.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp.Name(), path); err != nil {
		return err
	}
	Logger.Infof("saved snapshot of shard %d (%d keys) in %s", shardId, store.Len(), time.Since(start))
	return nil
}
