package util

import (
	"fmt"
	"hash/fnv"
	"os"
	"strconv"
	"strings"
	"time"

	"github.com/ValentinKolb/tkv/lib/codec"
	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/kv/memkv"
	"github.com/ValentinKolb/tkv/lib/kv/redisstore"
	"github.com/ValentinKolb/tkv/lib/storage"
	"github.com/ValentinKolb/tkv/rpc/client"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/transport"
	"github.com/ValentinKolb/tkv/rpc/transport/http"
	"github.com/ValentinKolb/tkv/rpc/transport/tcp"
	"github.com/ValentinKolb/tkv/rpc/transport/unix"
	"github.com/joho/godotenv"
	"github.com/spf13/cobra"
	"github.com/spf13/viper"
)

const (
	// Wrap is the number of characters to Wrap the help text at
	Wrap int = 50
)

// WrapString wraps a string at Wrap characters
func WrapString(text string) string {
	var wrappedLines []string
	var currentLine strings.Builder
	lineWidth := 0

	for _, word := range strings.Fields(text) {
		if lineWidth > 0 && lineWidth+1+len(word) > Wrap {
			wrappedLines = append(wrappedLines, currentLine.String())
			currentLine.Reset()
			lineWidth = 0
		}
		if lineWidth > 0 {
			currentLine.WriteString(" ")
			lineWidth++
		}
		currentLine.WriteString(word)
		lineWidth += len(word)
	}

	if currentLine.Len() > 0 {
		wrappedLines = append(wrappedLines, currentLine.String())
	}
	return strings.Join(wrappedLines, "\n")
}

// InitConfig loads .env files and binds environment variables with the prefix TKV_ (e.g. TKV_REDIS_URL)
func InitConfig() {
	_ = godotenv.Load(".env")
	_ = godotenv.Load(".env.local")

	viper.SetEnvPrefix("tkv")
	viper.SetEnvKeyReplacer(strings.NewReplacer("-", "_"))
	viper.AutomaticEnv()
}

// BindCommandFlags binds a command's flags to viper
func BindCommandFlags(cmd *cobra.Command) error {
	return viper.BindPFlags(cmd.Flags())
}

// --------------------------------------------------------------------------
// Backend flags
// --------------------------------------------------------------------------

// SetupClientFlags adds the flags that select and configure the backing store of a command
func SetupClientFlags(cmd *cobra.Command, defaultShard int) {
	flags := cmd.PersistentFlags()

	flags.String("backend", "rpc", WrapString("The store to use: rpc (a tkv server), redis or memory (lives only as long as the command)"))
	flags.Int("shard", defaultShard, WrapString("ID of the shard to connect to (rpc backend)"))
	flags.String("redis-url", "redis://localhost:6379/0", WrapString("The redis server (redis backend)"))

	flags.Int("timeout", 10, WrapString("The timeout in seconds of the client"))
	flags.String("transport-endpoints", "localhost:8080", WrapString("The address of the tkv server. Multiple endpoints can be specified as a comma-separated list"))
	flags.Int("transport-conn-per-endpoint", 1, WrapString("Simultaneous connections per endpoint (tcp and unix transport)"))
	flags.Int("transport-retries", 3, WrapString("How many times to retry a request that could not be sent"))
	flags.Bool("transport-tcp-nodelay", true, WrapString("Whether to enable TCP_NODELAY (tcp transport)"))
	flags.Int("transport-tcp-keepalive", 0, WrapString("The keepalive interval in seconds (tcp transport)"))

	flags.String("codec", "json", WrapString("The record codec (json, gob)"))
	flags.String("compression", "none", WrapString("Compression of encoded records (none, snappy, lz4, zstd)"))
	flags.String("policy", "optimized", WrapString("The operation policy: a preset (optimized, transaction, batch, high-performance, safe, short-lived, session, cache, permanent) or a profile of --policy-file"))
	flags.String("policy-file", "", WrapString("YAML file with named policy profiles"))
	flags.String("log-level", "warn", WrapString("The level at which logs will be output (debug, info, warn, error)"))
}

// GetClientConfig reads the rpc client configuration from viper
func GetClientConfig() *common.ClientConfig {
	return &common.ClientConfig{
		TimeoutSecond: viper.GetInt("timeout"),
		Transport: common.ClientTransportConfig{
			RetryCount:             viper.GetInt("transport-retries"),
			Endpoints:              strings.Split(viper.GetString("transport-endpoints"), ","),
			ConnectionsPerEndpoint: viper.GetInt("transport-conn-per-endpoint"),
			TCPNoDelay:             viper.GetBool("transport-tcp-nodelay"),
			TCPKeepAliveSec:        viper.GetInt("transport-tcp-keepalive"),
		},
	}
}

// GetSerializer creates the rpc serializer selected by --serializer
func GetSerializer() (serializer.IRPCSerializer, error) {
	return serializer.FromName(viper.GetString("serializer"))
}

// GetClientTransport creates the client transport selected by --transport
func GetClientTransport() (transport.IRPCClientTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpClientTransport(), nil
	case "tcp":
		return tcp.NewTCPClientTransport(), nil
	case "unix":
		return unix.NewUnixClientTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetServerTransport creates the server transport selected by --transport
func GetServerTransport() (transport.IRPCServerTransport, error) {
	switch viper.GetString("transport") {
	case "http":
		return http.NewHttpServerTransport(), nil
	case "tcp":
		return tcp.NewTCPServerTransport(), nil
	case "unix":
		return unix.NewUnixServerTransport(), nil
	default:
		return nil, fmt.Errorf("invalid transport %s", viper.GetString("transport"))
	}
}

// GetShardID retrieves the configured shard ID
func GetShardID() uint64 {
	return uint64(viper.GetInt("shard"))
}

// OpenStore creates the kv.IStore selected by --backend
func OpenStore() (kv.IStore, error) {
	if err := common.InitLoggers(viper.GetString("log-level")); err != nil {
		return nil, err
	}

	switch backend := viper.GetString("backend"); backend {
	case "memory":
		return memkv.New(nil), nil
	case "redis":
		return redisstore.NewFromURL(viper.GetString("redis-url"))
	case "rpc":
		s, err := GetSerializer()
		if err != nil {
			return nil, err
		}
		t, err := GetClientTransport()
		if err != nil {
			return nil, err
		}
		return client.NewRPCStore(GetShardID(), *GetClientConfig(), t, s)
	default:
		return nil, fmt.Errorf("invalid backend %s (expected one of: rpc, redis, memory)", backend)
	}
}

// GetPolicy resolves --policy against the profiles of --policy-file and the built in presets
func GetPolicy() (storage.Policy, error) {
	name := viper.GetString("policy")

	if path := viper.GetString("policy-file"); path != "" {
		f, err := os.Open(path)
		if err != nil {
			return storage.Policy{}, fmt.Errorf("failed to open policy file: %w", err)
		}
		defer f.Close()

		profiles, err := storage.LoadPolicies(f)
		if err != nil {
			return storage.Policy{}, fmt.Errorf("failed to load %s: %w", path, err)
		}
		if p, ok := profiles[name]; ok {
			return p, nil
		}
	}
	return storage.Preset(name)
}

// NewService opens the backend and creates a storage service with the configured codec and policy
func NewService() (*storage.Service, error) {
	c, err := codec.FromName(viper.GetString("codec"), viper.GetString("compression"))
	if err != nil {
		return nil, err
	}
	policy, err := GetPolicy()
	if err != nil {
		return nil, err
	}
	store, err := OpenStore()
	if err != nil {
		return nil, err
	}
	return storage.NewService(store, storage.WithCodec(c), storage.WithDefaultPolicy(policy)), nil
}

// ParseDuration accepts Go durations (30s, 5m) and plain numbers as seconds
func ParseDuration(s string) (time.Duration, error) {
	if d, err := time.ParseDuration(s); err == nil {
		return d, nil
	}
	var sec int64
	if _, err := fmt.Sscanf(s, "%d", &sec); err != nil {
		return 0, fmt.Errorf("invalid duration %q", s)
	}
	return time.Duration(sec) * time.Second, nil
}

// ReplicaID converts a node name (e.g. node-1) to a raft replica id. Numeric names are used as is.
func ReplicaID(name string) uint64 {
	if id, err := strconv.ParseUint(name, 10, 64); err == nil {
		return id
	}
	h := fnv.New64a()
	h.Write([]byte(name))
	return h.Sum64()
}
