package client

import (
	"context"
	"errors"
	nethttp "net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	"github.com/ValentinKolb/tkv/lib/kv/memkv"
	kvtesting "github.com/ValentinKolb/tkv/lib/kv/testing"
	"github.com/ValentinKolb/tkv/lib/lockmgr"
	"github.com/ValentinKolb/tkv/rpc/common"
	"github.com/ValentinKolb/tkv/rpc/serializer"
	"github.com/ValentinKolb/tkv/rpc/server"
	"github.com/ValentinKolb/tkv/rpc/transport/http"
)

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
	c.now = c.now.Add(d)
	c.mu.Unlock()
}

// newRemoteStore starts an rpc server with one memory shard (id 1) behind an httptest
// server and returns a client store connected to it
func newRemoteStore(t testing.TB, ser serializer.IRPCSerializer, opts *memkv.Options) *Store {
	t.Helper()

	serverTransport := http.NewHttpServerTransport()
	srv := server.NewRPCServer(common.ServerConfig{}, serverTransport, ser)
	srv.AddShard(1, common.ShardTypeMemory, memkv.New(opts))
	serverTransport.RegisterHandler(srv.Handle)

	ts := httptest.NewServer(serverTransport.(interface{ Handler() nethttp.Handler }).Handler())
	t.Cleanup(func() {
		ts.Close()
		srv.Shutdown(context.Background())
	})

	store, err := NewRPCStore(1, common.ClientConfig{
		TimeoutSecond: 5,
		Transport:     common.ClientTransportConfig{Endpoints: []string{ts.URL}, RetryCount: 1},
	}, http.NewHttpClientTransport(), ser)
	if err != nil {
		t.Fatalf("failed to connect: %v", err)
	}
	t.Cleanup(func() { store.Close() })
	return store
}

func TestStoreConformance(t *testing.T) {
	serializers := map[string]serializer.IRPCSerializer{
		"binary": serializer.NewBinarySerializer(),
		"json":   serializer.NewJSONSerializer(),
	}
	for name, ser := range serializers {
		kvtesting.RunStoreTests(t, "rpc-"+name, func(t *testing.T) kvtesting.Fixture {
			clock := &fakeClock{now: time.Unix(1700000000, 0)}
			store := newRemoteStore(t, ser, &memkv.Options{Clock: clock.Now, GCInterval: -1})
			return kvtesting.Fixture{Store: store, Advance: clock.Advance}
		})
	}
}

func TestTxAbortedKeepsCode(t *testing.T) {
	store := newRemoteStore(t, serializer.NewBinarySerializer(), &memkv.Options{GCInterval: -1})
	ctx := context.Background()

	kvtesting.Exec(t, store, kv.ModeDirect, kv.NewRPush("list", []byte("a")))

	_, err := store.Exec(ctx, kv.ModeTx,
		kv.NewSet("k", []byte("v"), 0),
		kv.NewHSet("list", []string{"f"}, [][]byte{[]byte("v")}),
	)
	if !errors.Is(err, kv.ErrTxAborted) {
		t.Fatalf("expected ErrTxAborted, got %v", err)
	}

	if res := kvtesting.One(t, store, kv.NewGet("k")); res.Value != nil {
		t.Errorf("aborted transaction left k = %q", res.Value)
	}
}

func TestPing(t *testing.T) {
	store := newRemoteStore(t, serializer.NewBinarySerializer(), &memkv.Options{GCInterval: -1})
	if err := store.Ping(context.Background()); err != nil {
		t.Fatalf("Ping failed: %v", err)
	}

	other := *store
	other.shardId = 2
	err := other.Ping(context.Background())
	if !errors.Is(err, kv.NewError(kv.RetCInvalidOperation, "")) {
		t.Errorf("Ping of unknown shard: got %v, want invalid operation", err)
	}
}

func TestExecNoCommands(t *testing.T) {
	store := newRemoteStore(t, serializer.NewBinarySerializer(), &memkv.Options{GCInterval: -1})
	res, err := store.Exec(context.Background(), kv.ModeBatch)
	if err != nil || len(res) != 0 {
		t.Errorf("Exec() = %v, %v", res, err)
	}
}

func TestLockManagerOverRPC(t *testing.T) {
	store := newRemoteStore(t, serializer.NewBinarySerializer(), &memkv.Options{GCInterval: -1})
	lm := lockmgr.NewLockManager(store)
	ctx := context.Background()

	ok, owner, err := lm.AcquireLock(ctx, "lock", time.Minute)
	if err != nil || !ok {
		t.Fatalf("AcquireLock() = %v, %v", ok, err)
	}
	if ok, _, _ := lm.AcquireLock(ctx, "lock", time.Minute); ok {
		t.Error("lock acquired twice")
	}
	if released, err := lm.ReleaseLock(ctx, "lock", owner); err != nil || !released {
		t.Errorf("ReleaseLock() = %v, %v", released, err)
	}
}

func BenchmarkStore(b *testing.B) {
	kvtesting.RunStoreBenchmarks(b, "rpc-binary", func() kv.IStore {
		return newRemoteStore(b, serializer.NewBinarySerializer(), &memkv.Options{GCInterval: -1})
	})
}
