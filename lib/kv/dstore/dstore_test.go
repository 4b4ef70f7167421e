package dstore

import (
	"bytes"
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/kv/memkv"
	kvtesting "github.com/ValentinKolb/tkv/lib/kv/testing"
	"github.com/lni/dragonboat/v4"
	"github.com/lni/dragonboat/v4/config"
	sm "github.com/lni/dragonboat/v4/statemachine"
)

// fakeClock is a manually advanced time source shared by client and state machine
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func (c *fakeClock) Now() time.Time {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.now
}

func (c *fakeClock) Advance(d time.Duration) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.now = c.now.Add(d)
}

func newStateMachine(clock *fakeClock) *KVStateMachine {
	opts := &memkv.Options{GCInterval: -1}
	if clock != nil {
		opts.Clock = clock.Now
	}
	return CreateStateMachineFactory(opts)(1, 1).(*KVStateMachine)
}

func entry(index uint64, mode kv.Mode, cmds ...kv.Command) sm.Entry {
	b := kv.Batch{Mode: mode, Commands: cmds}
	return sm.Entry{Index: index, Cmd: b.Serialize()}
}

// --------------------------------------------------------------------------
// State machine tests
// --------------------------------------------------------------------------

func TestStateMachineUpdate(t *testing.T) {
	fsm := newStateMachine(nil)
	defer fsm.Close()

	entries, err := fsm.Update([]sm.Entry{
		entry(1, kv.ModeBatch, kv.NewSet("a", []byte("1"), 0), kv.NewHSet("a", []string{"f"}, [][]byte{[]byte("x")})),
		entry(2, kv.ModeTx, kv.NewSet("b", []byte("2"), 0), kv.NewRPush("a", []byte("x"))),
		{Index: 3},
		{Index: 4, Cmd: []byte{0xff, 0x00}},
	})
	if err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	// batch: independent results
	if entries[0].Result.Value != uint64(kv.RetCSuccess) {
		t.Fatalf("entry 1: code %d (%s)", entries[0].Result.Value, entries[0].Result.Data)
	}
	results, err := kv.DeserializeResults(entries[0].Result.Data)
	if err != nil {
		t.Fatalf("DeserializeResults failed: %v", err)
	}
	if !results[0].Ok || !errors.Is(results[1].Cause(), kv.ErrWrongType) {
		t.Errorf("unexpected batch results: %+v", results)
	}

	// tx: aborted as a whole
	if entries[1].Result.Value != uint64(kv.RetCTxAborted) {
		t.Errorf("entry 2: code %d, want %d", entries[1].Result.Value, kv.RetCTxAborted)
	}
	if entries[2].Result.Value != uint64(kv.RetCInvalidOperation) {
		t.Errorf("empty entry: code %d", entries[2].Result.Value)
	}
	if entries[3].Result.Value != uint64(kv.RetCInternalError) {
		t.Errorf("corrupt entry: code %d", entries[3].Result.Value)
	}

	res, err := fsm.Lookup(kv.Batch{Mode: kv.ModeDirect, Commands: []kv.Command{kv.NewGet("a"), kv.NewGet("b")}})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	got := res.([]kv.Result)
	if string(got[0].Value) != "1" || got[1].Ok {
		t.Errorf("Lookup = %+v", got)
	}
}

func TestStateMachineLookupRejectsWrites(t *testing.T) {
	fsm := newStateMachine(nil)
	defer fsm.Close()

	if _, err := fsm.Lookup(&kv.Batch{Mode: kv.ModeDirect, Commands: []kv.Command{kv.NewDel("a")}}); err == nil {
		t.Error("expected lookup of a write batch to fail")
	}
	if _, err := fsm.Lookup("nope"); err == nil {
		t.Error("expected lookup of an unknown query type to fail")
	}
}

func TestStateMachineSnapshot(t *testing.T) {
	fsm := newStateMachine(nil)
	defer fsm.Close()

	if _, err := fsm.Update([]sm.Entry{
		entry(1, kv.ModeBatch, kv.NewSet("a", []byte("1"), 0), kv.NewRPush("l", []byte("x"), []byte("y"))),
	}); err != nil {
		t.Fatalf("Update failed: %v", err)
	}

	var buf bytes.Buffer
	if err := fsm.SaveSnapshot(nil, &buf, nil, nil); err != nil {
		t.Fatalf("SaveSnapshot failed: %v", err)
	}

	other := newStateMachine(nil)
	defer other.Close()
	if err := other.RecoverFromSnapshot(&buf, nil, nil); err != nil {
		t.Fatalf("RecoverFromSnapshot failed: %v", err)
	}
	res, err := other.Lookup(kv.Batch{Mode: kv.ModeDirect, Commands: []kv.Command{kv.NewLLen("l")}})
	if err != nil {
		t.Fatalf("Lookup failed: %v", err)
	}
	if n := res.([]kv.Result)[0].Int; n != 2 {
		t.Errorf("LLen after recovery = %d, want 2", n)
	}
}

func TestAbsolute(t *testing.T) {
	now := time.Unix(1700000000, 0)
	at := now.Add(time.Hour)

	cmds := []kv.Command{
		kv.NewGet("a"),
		kv.NewSet("a", []byte("1"), time.Minute),
		kv.NewExpire("b", time.Second),
		kv.NewExpireAt("c", at),
		kv.NewSet("d", []byte("1"), 0),
	}
	out := absolute(cmds, now)

	if !out[1].At.Equal(now.Add(time.Minute)) || out[1].TTL != 0 {
		t.Errorf("Set: at=%v ttl=%v", out[1].At, out[1].TTL)
	}
	if out[2].Type != kv.CmdExpireAt || !out[2].At.Equal(now.Add(time.Second)) {
		t.Errorf("Expire was not converted: %s at=%v", out[2].Type, out[2].At)
	}
	if !out[3].At.Equal(at) || !out[4].At.IsZero() {
		t.Errorf("unexpected conversion of absolute / persistent commands")
	}
	// the input is not modified
	if cmds[2].Type != kv.CmdExpire || cmds[1].TTL != time.Minute {
		t.Errorf("absolute modified its input")
	}

	plain := []kv.Command{kv.NewGet("a")}
	if got := absolute(plain, now); &got[0] != &plain[0] {
		t.Errorf("commands without expiry should not be copied")
	}
}

// --------------------------------------------------------------------------
// Single node raft cluster
// --------------------------------------------------------------------------

func Test(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping raft tests in short mode")
	}

	const addr = "localhost:26001"
	nh, err := dragonboat.NewNodeHost(config.NodeHostConfig{
		WALDir:         t.TempDir(),
		NodeHostDir:    t.TempDir(),
		RTTMillisecond: 5,
		RaftAddress:    addr,
	})
	if err != nil {
		t.Fatalf("failed to create node host: %v", err)
	}
	defer nh.Close()

	var nextShard atomic.Uint64
	kvtesting.RunStoreTests(t, "dstore", func(t *testing.T) kvtesting.Fixture {
		shardID := nextShard.Add(1)
		clock := &fakeClock{now: time.Unix(1700000000, 0)}

		err := nh.StartConcurrentReplica(
			map[uint64]string{1: addr},
			false,
			CreateStateMachineFactory(&memkv.Options{Clock: clock.Now, GCInterval: -1}),
			config.Config{
				ReplicaID:    1,
				ShardID:      shardID,
				ElectionRTT:  10,
				HeartbeatRTT: 1,
				CheckQuorum:  true,
			},
		)
		if err != nil {
			t.Fatalf("failed to start shard %d: %v", shardID, err)
		}
		waitForLeader(t, nh, shardID)

		s := NewDistributedStore(nh, shardID, 5*time.Second)
		s.clock = clock.Now
		return kvtesting.Fixture{Store: s, Advance: clock.Advance}
	})
}

func waitForLeader(t *testing.T, nh *dragonboat.NodeHost, shardID uint64) {
	t.Helper()
	deadline := time.Now().Add(10 * time.Second)
	for time.Now().Before(deadline) {
		if _, _, ok, err := nh.GetLeaderID(shardID); err == nil && ok {
			return
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no leader elected for shard %d", shardID)
}

func TestEmptyExec(t *testing.T) {
	s := &Store{clock: time.Now}
	res, err := s.Exec(context.Background(), kv.ModeBatch)
	if err != nil || len(res) != 0 {
		t.Errorf("Exec without commands = %v, %v", res, err)
	}
}
