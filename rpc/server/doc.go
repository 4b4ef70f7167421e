// Package server implements the rpc server. It hosts any number of shards, each one a
// kv.IStore with its own keyspace, and executes the batches sent by rpc clients on them.
//
// Shard types (common.ShardType):
//
//   - memory: a memkv engine local to the node. If DataDir is set, the shard is saved
//     to DataDir/shard-<id>.snapshot on Shutdown and restored by Init.
//
//   - raft: a memkv engine replicated with dragonboat (lib/kv/dstore). RTTMillisecond,
//     SnapshotEntries, CompactionOverhead, DataDir, ReplicaID and ClusterMembers must be
//     configured.
//
//   - redis: a proxy to the redis server at RedisURL (lib/kv/redisstore).
//
// Usage Example:
//
//	config := common.ServerConfig{
//	  Shards: []common.ServerShard{
//	    {ShardID: 1, Type: common.ShardTypeMemory},
//	    {ShardID: 2, Type: common.ShardTypeRedis},
//	  },
//	  RedisURL:      "redis://localhost:6379/0",
//	  TimeoutSecond: 5,
//	  Transport:     common.ServerTransportConfig{Endpoint: "0.0.0.0:8080"},
//	  LogLevel:      "info",
//	}
//
//	s := server.NewRPCServer(config, tcp.NewTCPServerTransport(), serializer.NewBinarySerializer())
//	if err := s.Serve(); err != nil {
//	  log.Fatalf("Server error: %v", err)
//	}
//
// Thread Safety:
//
//	Handle is safe for concurrent use, every request is executed independently by the
//	store of its shard. Serve must be called only once.
package server
