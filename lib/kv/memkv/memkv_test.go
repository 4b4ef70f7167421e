package memkv

import (
	"bytes"
	"context"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	kvtesting "github.com/ValentinKolb/tkv/lib/kv/testing"
)

// fakeClock is a manually advanced time source
type fakeClock struct {
	mu  sync.Mutex
	now time.Time
}

func newFakeClock() *fakeClock {
	return &fakeClock{now: time.Unix(1700000000, 0)}
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

func newTestStore() (*Store, *fakeClock) {
	clock := newFakeClock()
	return New(&Options{Clock: clock.Now, GCInterval: -1}), clock
}

func Test(t *testing.T) {
	kvtesting.RunStoreTests(t, "memkv", func(t *testing.T) kvtesting.Fixture {
		s, clock := newTestStore()
		return kvtesting.Fixture{Store: s, Advance: clock.Advance}
	})
}

func Benchmark(b *testing.B) {
	kvtesting.RunStoreBenchmarks(b, "memkv", func() kv.IStore {
		return New(nil)
	})
}

func TestSaveLoad(t *testing.T) {
	s, clock := newTestStore()
	defer s.Close()

	kvtesting.Exec(t, s, kv.ModeBatch,
		kv.NewSet("str", []byte("value"), 0),
		kv.NewSet("short", []byte("value"), time.Second),
		kv.NewHSet("hash", []string{"a", "b"}, [][]byte{[]byte("1"), []byte("2")}),
		kv.NewRPush("list", []byte("x"), []byte("y")),
		kv.NewExpire("list", time.Hour),
	)

	var buf bytes.Buffer
	if err := s.Save(&buf); err != nil {
		t.Fatalf("Save failed: %v", err)
	}

	// a second snapshot of the same state is byte identical
	var buf2 bytes.Buffer
	if err := s.Save(&buf2); err != nil {
		t.Fatalf("Save failed: %v", err)
	}
	if !bytes.Equal(buf.Bytes(), buf2.Bytes()) {
		t.Errorf("snapshots of the same state differ")
	}

	restored := New(&Options{Clock: func() time.Time { return clock.Now().Add(2 * time.Second) }, GCInterval: -1})
	defer restored.Close()
	kvtesting.One(t, restored, kv.NewSet("stale", []byte("x"), 0))

	if err := restored.Load(&buf); err != nil {
		t.Fatalf("Load failed: %v", err)
	}

	if res := kvtesting.One(t, restored, kv.NewGet("stale")); res.Ok {
		t.Errorf("Load should replace existing keys")
	}
	if res := kvtesting.One(t, restored, kv.NewGet("short")); res.Ok {
		t.Errorf("expired key should not be restored")
	}
	if res := kvtesting.One(t, restored, kv.NewGet("str")); string(res.Value) != "value" {
		t.Errorf("str = %s", res.Value)
	}
	if res := kvtesting.One(t, restored, kv.NewHGet("hash", "b")); string(res.Value) != "2" {
		t.Errorf("hash.b = %s", res.Value)
	}
	if res := kvtesting.One(t, restored, kv.NewLRange("list", 0, -1)); len(res.Values) != 2 {
		t.Errorf("list = %q", res.Values)
	}
	if ttl := kvtesting.One(t, restored, kv.NewTTL("list")).TTL; ttl <= 0 || ttl > time.Hour {
		t.Errorf("list ttl = %v", ttl)
	}
}

func TestLoadInvalid(t *testing.T) {
	s, _ := newTestStore()
	defer s.Close()

	if err := s.Load(bytes.NewReader([]byte("not a snapshot"))); err == nil {
		t.Error("expected error for invalid snapshot")
	}
	if err := s.Load(bytes.NewReader([]byte(magicNum))); err == nil {
		t.Error("expected error for truncated snapshot")
	}
}

func TestGarbageCollection(t *testing.T) {
	s, clock := newTestStore()
	defer s.Close()

	kvtesting.Exec(t, s, kv.ModeBatch,
		kv.NewSet("a", []byte("1"), time.Second),
		kv.NewSet("b", []byte("1"), time.Minute),
		kv.NewSet("c", []byte("1"), 0),
	)
	clock.Advance(2 * time.Second)

	if n := s.collect(); n != 1 {
		t.Errorf("collect removed %d keys, want 1", n)
	}
	if s.Len() != 2 {
		t.Errorf("Len = %d, want 2", s.Len())
	}

	// persisted keys leave the gc index
	kvtesting.One(t, s, kv.NewPersist("b"))
	s.collect()
	if _, ok := s.expiring.Load("b"); ok {
		t.Errorf("persisted key is still tracked by the gc")
	}
}

func TestBackgroundGC(t *testing.T) {
	s := New(&Options{GCInterval: 10 * time.Millisecond})
	defer s.Close()

	kvtesting.One(t, s, kv.NewSet("a", []byte("1"), 20*time.Millisecond))

	deadline := time.Now().Add(2 * time.Second)
	for s.Len() != 0 {
		if time.Now().After(deadline) {
			t.Fatal("background gc did not remove the expired key")
		}
		time.Sleep(10 * time.Millisecond)
	}
}

func TestTxScanSeesOwnWrites(t *testing.T) {
	s, _ := newTestStore()
	defer s.Close()

	kvtesting.One(t, s, kv.NewSet("p:1", []byte("1"), 0))
	kvtesting.One(t, s, kv.NewSet("p:2", []byte("1"), 0))

	res := kvtesting.Exec(t, s, kv.ModeTx,
		kv.NewDel("p:1"),
		kv.NewSet("p:3", []byte("1"), 0),
		kv.NewScan("p:*"),
	)
	got := res[2].Strings
	if len(got) != 2 || got[0] != "p:2" || got[1] != "p:3" {
		t.Errorf("Scan in tx = %v, want [p:2 p:3]", got)
	}
}

func TestClosed(t *testing.T) {
	s, _ := newTestStore()
	if err := s.Close(); err != nil {
		t.Fatalf("Close failed: %v", err)
	}
	if _, err := s.Exec(context.Background(), kv.ModeDirect, kv.NewGet("a")); err == nil {
		t.Error("expected error on closed store")
	}
}
