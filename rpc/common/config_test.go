package common

import (
	"errors"
	"strings"
	"testing"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/lni/dragonboat/v4/logger"
)

func TestServerConfigValidate(t *testing.T) {
	raftShard := []ServerShard{{ShardID: 1, Type: ShardTypeRaft}}

	tests := []struct {
		name    string
		config  ServerConfig
		wantErr string
	}{
		{
			name:   "Memory",
			config: ServerConfig{Shards: []ServerShard{{ShardID: 1, Type: ShardTypeMemory}}},
		},
		{
			name: "Raft",
			config: ServerConfig{
				Shards:         raftShard,
				ReplicaID:      1,
				ClusterMembers: map[uint64]string{1: "localhost:63001"},
				DataDir:        "data",
			},
		},
		{name: "NoShards", config: ServerConfig{}, wantErr: "no shards"},
		{
			name: "Duplicate",
			config: ServerConfig{Shards: []ServerShard{
				{ShardID: 1, Type: ShardTypeMemory},
				{ShardID: 1, Type: ShardTypeRedis},
			}},
			wantErr: "duplicate",
		},
		{
			name:    "RaftNotMember",
			config:  ServerConfig{Shards: raftShard, ReplicaID: 2, ClusterMembers: map[uint64]string{1: "a"}, DataDir: "d"},
			wantErr: "not a cluster member",
		},
		{
			name:    "RaftWithoutDataDir",
			config:  ServerConfig{Shards: raftShard, ReplicaID: 1, ClusterMembers: map[uint64]string{1: "a"}},
			wantErr: "data dir",
		},
		{
			name:    "RedisWithoutURL",
			config:  ServerConfig{Shards: []ServerShard{{ShardID: 1, Type: ShardTypeRedis}}},
			wantErr: "redis url",
		},
		{
			name:    "InvalidLogLevel",
			config:  ServerConfig{Shards: []ServerShard{{ShardID: 1, Type: ShardTypeMemory}}, LogLevel: "loud"},
			wantErr: "invalid log level",
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := tt.config.Validate()
			if tt.wantErr == "" {
				if err != nil {
					t.Fatalf("unexpected error: %v", err)
				}
				return
			}
			if err == nil || !strings.Contains(err.Error(), tt.wantErr) {
				t.Errorf("Validate() = %v, want error containing %q", err, tt.wantErr)
			}
		})
	}
}

func TestParseShardType(t *testing.T) {
	if st, err := ParseShardType("Redis"); err != nil || st != ShardTypeRedis {
		t.Errorf("ParseShardType(Redis) = %s, %v", st, err)
	}
	if _, err := ParseShardType("lockmgr"); err == nil {
		t.Error("expected an error for an unknown shard type")
	}
}

func TestParseLogLevel(t *testing.T) {
	tests := []struct {
		input string
		want  logger.LogLevel
	}{
		{"", logger.INFO},
		{"debug", logger.DEBUG},
		{"WARN", logger.WARNING},
		{"error", logger.ERROR},
	}
	for _, tt := range tests {
		t.Run(tt.input, func(t *testing.T) {
			got, err := ParseLogLevel(tt.input)
			if err != nil || got != tt.want {
				t.Errorf("ParseLogLevel(%q) = %v, %v", tt.input, got, err)
			}
		})
	}
}

func TestErrorResponse(t *testing.T) {
	tests := []struct {
		name     string
		err      error
		wantCode kv.RetCode
	}{
		{"KVError", kv.ErrTxAborted, kv.RetCTxAborted},
		{"Wrapped", errors.Join(errors.New("ctx"), kv.ErrWrongType), kv.RetCWrongType},
		{"Plain", errors.New("boom"), kv.RetCInternalError},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			msg := NewErrorResponse(tt.err)
			if msg.MsgType != MsgTError || msg.Code != tt.wantCode {
				t.Fatalf("got %s with code %s, want code %s", msg.MsgType, msg.Code, tt.wantCode)
			}
			if !errors.Is(msg.Error(), kv.NewError(tt.wantCode, "")) {
				t.Errorf("Error() = %v does not carry code %s", msg.Error(), tt.wantCode)
			}
		})
	}

	if err := NewExecResponse(nil, nil).Error(); err != nil {
		t.Errorf("exec response reports error %v", err)
	}
}
