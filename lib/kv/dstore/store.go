package dstore

import (
	"context"
	"errors"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/client"
	"github.com/lni/dragonboat/v4/logger"
)

var (
	retries = 5
	log     = logger.GetLogger("kv")
)

// Store implements kv.IStore on top of a raft shard hosted by a dragonboat NodeHost.
type Store struct {
	nh      *dragonboat.NodeHost
	shardID uint64
	cs      *client.Session
	timeout time.Duration
	clock   func() time.Time
}

// NewDistributedStore creates a new distributed store instance which uses raft consensus to ensure strict linearizability
// across multiple nodes. The shard must run a state machine created by CreateStateMachineFactory.
func NewDistributedStore(nh *dragonboat.NodeHost, shardID uint64, timeout time.Duration) *Store {
	return &Store{
		nh:      nh,
		shardID: shardID,
		cs:      nh.GetNoOPSession(shardID),
		timeout: timeout,
		clock:   time.Now,
	}
}

// --------------------------------------------------------------------------
// Interface Methods (docs see kv/interface.go)
// --------------------------------------------------------------------------

func (s *Store) Exec(ctx context.Context, mode kv.Mode, cmds ...kv.Command) ([]kv.Result, error) {
	if len(cmds) == 0 {
		return []kv.Result{}, nil
	}
	batch := kv.Batch{Mode: mode, Commands: absolute(cmds, s.clock())}
	if batch.ReadOnly() {
		return s.read(ctx, &batch)
	}
	return s.write(ctx, &batch)
}

// Close does nothing, the NodeHost is owned by the caller.
func (s *Store) Close() error {
	return nil
}

// --------------------------------------------------------------------------
// Internal write and read operations
// --------------------------------------------------------------------------

// write proposes the serialized batch to the raft log via SyncPropose.
// ErrSystemBusy is retried up to 5 times.
func (s *Store) write(ctx context.Context, batch *kv.Batch) ([]kv.Result, error) {
	data := batch.Serialize()
	for i := 0; i < retries; i++ {
		pctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncPropose(pctx, s.cs, data)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncPropose: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return nil, kv.NewError(kv.RetCInternalError, err.Error())
		}
		if res.Value != uint64(kv.RetCSuccess) {
			return nil, kv.NewError(kv.RetCode(res.Value), string(res.Data))
		}
		results, err := kv.DeserializeResults(res.Data)
		if err != nil {
			return nil, kv.NewError(kv.RetCInternalError, err.Error())
		}
		return results, nil
	}
	return nil, kv.NewError(kv.RetCInternalError, "timeout")
}

// read queries the state machine with SyncRead, which ensures the replica applied all
// committed entries before the batch is executed.
func (s *Store) read(ctx context.Context, batch *kv.Batch) ([]kv.Result, error) {
	for i := 0; i < retries; i++ {
		rctx, cancel := context.WithTimeout(ctx, s.timeout)
		res, err := s.nh.SyncRead(rctx, s.shardID, *batch)
		cancel()

		// Check for system busy errors
		if errors.Is(err, dragonboat.ErrSystemBusy) {
			log.Infof("SyncRead: System busy, retrying (%d/%d)...", i+1, retries)
			time.Sleep(s.timeout / 10)
			continue
		}

		if err != nil {
			return nil, kv.AsError(err)
		}

		results, ok := res.([]kv.Result)
		if !ok {
			return nil, kv.Errorf(kv.RetCInternalError, "unexpected type: received %T, expected []kv.Result", res)
		}
		return results, nil
	}
	return nil, kv.NewError(kv.RetCInternalError, "timeout")
}

// absolute converts relative expiry into absolute points in time, so that every replica
// applies the same expiry no matter when it applies the entry.
func absolute(cmds []kv.Command, now time.Time) []kv.Command {
	var out []kv.Command
	for i := range cmds {
		cmd := cmds[i]
		switch {
		case (cmd.Type == kv.CmdSet || cmd.Type == kv.CmdSetNX) && cmd.TTL > 0 && cmd.At.IsZero():
			cmd.At = now.Add(cmd.TTL)
			cmd.TTL = 0
		case cmd.Type == kv.CmdExpire:
			cmd.Type = kv.CmdExpireAt
			cmd.At = now.Add(cmd.TTL)
			cmd.TTL = 0
		default:
			continue
		}
		if out == nil {
			out = make([]kv.Command, len(cmds))
			copy(out, cmds)
		}
		out[i] = cmd
	}
	if out == nil {
		return cmds
	}
	return out
}
