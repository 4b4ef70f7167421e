package serve

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"syscall"
	"time"

	cmdUtil "github.com/ValentinKolb/tkv/cmd/util"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/server"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

var (
	serveCmdConfig = &common.ServerConfig{}
	ServeCmd       = &cobra.Command{
		Use:   "serve",
		Short: "Start the tkv server",
		Long: `Start the tkv server with the specified configuration. The configuration can be set via command
line flags or environment variables. The format of the environment variables is TKV_<flag>
(e.g. TKV_TIMEOUT=15, TKV_REDIS_URL=redis://localhost:6379/0)`,
		PreRunE: processConfig,
		RunE:    run,
	}
)

func init() {
	cobra.OnInitialize(cmdUtil.InitConfig)

	flags := ServeCmd.PersistentFlags()

	key := "shards"
	flags.String(key, "100=memory,200=memory", cmdUtil.WrapString("Comma-separated list of shards to serve. Format: ID=TYPE where TYPE is one of: memory, raft, redis"))

	key = "rtt-millisecond"
	flags.Int(key, 100, cmdUtil.WrapString("(raft) RTTMillisecond defines the average Round Trip Time (RTT) in milliseconds between two NodeHost instances. ElectionRTT and HeartbeatRTT are derived from this value"))

	key = "snapshot-entries"
	flags.Int(key, 10, cmdUtil.WrapString("(raft) SnapshotEntries defines how often the state machine should be snapshotted automatically, in applied Raft log entries. 0 disables automatic snapshots (not recommended)"))

	key = "compaction-overhead"
	flags.Int(key, 5, cmdUtil.WrapString("(raft) CompactionOverhead defines the number of log entries kept after a snapshot. Recommended value is about 1/2 of SnapshotEntries"))

	key = "data-dir"
	flags.String(key, "data", cmdUtil.WrapString("Directory of the raft logs and snapshots and of the memory shard snapshots (empty = memory shards are not persisted)"))

	key = "replica-id"
	flags.String(key, "", cmdUtil.WrapString("(raft) ReplicaID is the unique identifier for this NodeHost instance (e.g. 'node-1')"))

	key = "cluster-members"
	flags.String(key, "", cmdUtil.WrapString("(raft) ClusterMembers is a comma-separated list of NodeHost addresses in the format 'node-1=localhost:63001,node-2=localhost:63002,...'"))

	key = "redis-url"
	flags.String(key, "", cmdUtil.WrapString("(redis) The redis server the redis shards proxy to"))

	key = "gc-interval"
	flags.Duration(key, time.Minute, cmdUtil.WrapString("How often expired keys of memory and raft shards are removed (negative = only on access)"))

	key = "timeout"
	flags.Int64(key, 5, cmdUtil.WrapString("Timeout in seconds of a request"))

	key = "endpoint"
	flags.String(key, "0.0.0.0:8080", cmdUtil.WrapString("The address on which the API will listen (e.g. localhost:8080, /tmp/tkv.sock, ...)"))

	key = "workers-per-conn"
	flags.Int(key, 16, cmdUtil.WrapString("(tcp, unix) Concurrent requests per connection"))

	key = "max-frame-size"
	flags.Int(key, 64, cmdUtil.WrapString("(tcp, unix) Maximum request size in MB"))

	key = "transport-tcp-nodelay"
	flags.Bool(key, true, cmdUtil.WrapString("(tcp) Whether to enable TCP_NODELAY"))

	key = "transport-tcp-keepalive"
	flags.Int(key, 0, cmdUtil.WrapString("(tcp) The keepalive interval in seconds"))

	key = "transport-tcp-linger"
	flags.Int(key, 0, cmdUtil.WrapString("(tcp) The linger time in seconds"))

	key = "transport-read-buffer"
	flags.Int(key, 512, cmdUtil.WrapString("(tcp) The size of the socket read buffer in KB"))

	key = "transport-write-buffer"
	flags.Int(key, 512, cmdUtil.WrapString("(tcp) The size of the socket write buffer in KB"))

	key = "log-level"
	flags.String(key, "info", cmdUtil.WrapString("LogLevel is the level at which logs will be output (debug, info, warn, error)"))
}

// processConfig reads the command line flags and environment variables into the server configuration
func processConfig(cmd *cobra.Command, _ []string) error {
	if err := viper.BindPFlags(cmd.Flags()); err != nil {
		return err
	}

	shards, err := parseShards(viper.GetString("shards"))
	if err != nil {
		return err
	}
	serveCmdConfig.Shards = shards

	serveCmdConfig.RTTMillisecond = viper.GetUint64("rtt-millisecond")
	serveCmdConfig.SnapshotEntries = viper.GetUint64("snapshot-entries")
	serveCmdConfig.CompactionOverhead = viper.GetUint64("compaction-overhead")
	serveCmdConfig.DataDir = viper.GetString("data-dir")
	serveCmdConfig.RedisURL = viper.GetString("redis-url")
	serveCmdConfig.GCInterval = viper.GetDuration("gc-interval")
	serveCmdConfig.TimeoutSecond = viper.GetInt64("timeout")
	serveCmdConfig.LogLevel = viper.GetString("log-level")
	serveCmdConfig.Transport = common.ServerTransportConfig{
		Endpoint:          viper.GetString("endpoint"),
		TCPNoDelay:        viper.GetBool("transport-tcp-nodelay"),
		TCPKeepAliveSec:   viper.GetInt("transport-tcp-keepalive"),
		TCPLingerSec:      viper.GetInt("transport-tcp-linger"),
		ReadBufferSize:    viper.GetInt("transport-read-buffer") * 1024,
		WriteBufferSize:   viper.GetInt("transport-write-buffer") * 1024,
		WorkersPerConn:    viper.GetInt("workers-per-conn"),
		MaxFrameSizeBytes: viper.GetInt("max-frame-size") * 1024 * 1024,
	}

	if id := viper.GetString("replica-id"); id != "" {
		serveCmdConfig.ReplicaID = cmdUtil.ReplicaID(id)
	}
	if members := viper.GetString("cluster-members"); members != "" {
		serveCmdConfig.ClusterMembers, err = parseMembers(members)
		if err != nil {
			return err
		}
	}

	if err := common.InitLoggers(serveCmdConfig.LogLevel); err != nil {
		return err
	}
	return serveCmdConfig.Validate()
}

// run starts the server and shuts it down on SIGINT or SIGTERM
func run(_ *cobra.Command, _ []string) error {
	s, err := cmdUtil.GetSerializer()
	if err != nil {
		return err
	}
	t, err := cmdUtil.GetServerTransport()
	if err != nil {
		return err
	}

	serv := server.NewRPCServer(*serveCmdConfig, t, s)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	serveErr := make(chan error, 1)
	go func() { serveErr <- serv.Serve() }()

	select {
	case err := <-serveErr:
		// the server stopped on its own, release what Init created
		return errors.Join(err, serv.Shutdown(context.Background()))
	case <-ctx.Done():
	}

	shutdownCtx, cancel := context.WithTimeout(context.Background(), serveCmdConfig.Timeout()+5*time.Second)
	defer cancel()
	if err := serv.Shutdown(shutdownCtx); err != nil {
		return fmt.Errorf("shutdown failed: %w", err)
	}
	return <-serveErr
}

// parseShards parses ID=TYPE pairs
func parseShards(s string) ([]common.ServerShard, error) {
	var shards []common.ServerShard
	for _, shardConfig := range strings.Split(s, ",") {
		parts := strings.Split(shardConfig, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid shard format: %s (expected ID=TYPE)", shardConfig)
		}

		shardID, err := strconv.ParseUint(strings.TrimSpace(parts[0]), 10, 64)
		if err != nil {
			return nil, fmt.Errorf("invalid shard ID %s: %v", parts[0], err)
		}
		shardType, err := common.ParseShardType(strings.TrimSpace(parts[1]))
		if err != nil {
			return nil, err
		}
		shards = append(shards, common.ServerShard{ShardID: shardID, Type: shardType})
	}
	return shards, nil
}

// parseMembers parses NAME=ADDRESS pairs, names are converted to replica ids
func parseMembers(s string) (map[uint64]string, error) {
	members := make(map[uint64]string)
	for _, member := range strings.Split(s, ",") {
		parts := strings.Split(member, "=")
		if len(parts) != 2 {
			return nil, fmt.Errorf("invalid cluster member format: %s (expected ID=address)", member)
		}
		members[cmdUtil.ReplicaID(strings.TrimSpace(parts[0]))] = strings.TrimSpace(parts[1])
	}
	return members, nil
}
