package redisstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
	kvtesting "github.com/ValentinKolb/tkv/lib/kv/testing"
	"github.com/alicebob/miniredis/v2"
	"github.com/redis/go-redis/v9"
)

func newTestStore(t *testing.T) (*Store, *miniredis.Miniredis) {
	mr := miniredis.RunT(t)
	client := redis.NewClient(&redis.Options{Addr: mr.Addr()})
	t.Cleanup(func() { _ = client.Close() })
	return New(client), mr
}

func Test(t *testing.T) {
	kvtesting.RunStoreTests(t, "redis", func(t *testing.T) kvtesting.Fixture {
		s, mr := newTestStore(t)
		return kvtesting.Fixture{Store: s, Advance: mr.FastForward}
	})
}

func TestSetAt(t *testing.T) {
	s, mr := newTestStore(t)
	mr.SetTime(time.Now())

	cmd := kv.NewSet("k", []byte("v"), time.Hour)
	cmd.At = time.Now().Add(10 * time.Second)
	kvtesting.One(t, s, cmd)

	// the absolute expiry wins over the relative one
	ttl := kvtesting.One(t, s, kv.NewTTL("k")).TTL
	if ttl <= 0 || ttl > 11*time.Second {
		t.Errorf("TTL = %v, want ~10s", ttl)
	}
}

func TestScanInTx(t *testing.T) {
	s, _ := newTestStore(t)

	kvtesting.One(t, s, kv.NewSet("p:1", []byte("1"), 0))
	kvtesting.One(t, s, kv.NewSet("p:2", []byte("1"), 0))

	res := kvtesting.Exec(t, s, kv.ModeTx,
		kv.NewSet("p:3", []byte("1"), 0),
		kv.NewScan("p:*"),
	)
	if got := res[1].Strings; len(got) != 3 || got[0] != "p:1" || got[2] != "p:3" {
		t.Errorf("Scan in tx = %v", got)
	}
}

func TestBatchWithScan(t *testing.T) {
	s, _ := newTestStore(t)

	res := kvtesting.Exec(t, s, kv.ModeBatch,
		kv.NewSet("a:1", []byte("1"), 0),
		kv.NewScan("a:*"),
		kv.NewSet("a:2", []byte("1"), 0),
		kv.NewScan("a:*"),
	)
	if len(res[1].Strings) != 1 || len(res[3].Strings) != 2 {
		t.Errorf("scan segments = %v / %v", res[1].Strings, res[3].Strings)
	}
}

func TestTxLSetIndex(t *testing.T) {
	tests := []struct {
		name    string
		cmds    []kv.Command
		aborted bool
	}{
		{"OutOfRange", []kv.Command{kv.NewRPush("l", []byte("c")), kv.NewLSet("l", 10, []byte("x"))}, true},
		{"PushedInTx", []kv.Command{kv.NewRPush("l", []byte("c")), kv.NewLSet("l", 2, []byte("x"))}, false},
		{"Negative", []kv.Command{kv.NewLSet("l", -2, []byte("x"))}, false},
		{"AfterPop", []kv.Command{kv.NewLPop("l"), kv.NewLSet("l", 1, []byte("x"))}, true},
		{"AfterTrim", []kv.Command{kv.NewLTrim("l", 0, 0), kv.NewLSet("l", 1, []byte("x"))}, true},
		{"AfterRem", []kv.Command{kv.NewLRem("l", 0, []byte("a")), kv.NewLSet("l", 0, []byte("x"))}, false},
		{"AfterDel", []kv.Command{kv.NewDel("l"), kv.NewRPush("l", []byte("c")), kv.NewLSet("l", 1, []byte("x"))}, true},
		{"EmptiedByPops", []kv.Command{kv.NewLPop("l"), kv.NewLPop("l"), kv.NewLSet("l", 0, []byte("x"))}, true},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			s, _ := newTestStore(t)
			kvtesting.One(t, s, kv.NewRPush("l", []byte("a"), []byte("b")))

			res, err := s.Exec(context.Background(), kv.ModeTx, tt.cmds...)
			if tt.aborted {
				if !errors.Is(err, kv.ErrTxAborted) {
					t.Fatalf("expected ErrTxAborted, got %v", err)
				}
				// nothing of the transaction may be visible
				got := kvtesting.One(t, s, kv.NewLRange("l", 0, -1)).Values
				if len(got) != 2 || string(got[0]) != "a" || string(got[1]) != "b" {
					t.Errorf("aborted transaction changed the list: %q", got)
				}
				return
			}
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			for i, r := range res {
				if r.Err != nil {
					t.Errorf("command %d failed: %v", i, r.Err)
				}
			}
		})
	}
}

func TestTxLSetMissingKey(t *testing.T) {
	s, _ := newTestStore(t)

	_, err := s.Exec(context.Background(), kv.ModeTx,
		kv.NewSet("k", []byte("v"), 0),
		kv.NewLSet("missing", 0, []byte("x")),
	)
	if !errors.Is(err, kv.ErrTxAborted) {
		t.Fatalf("expected ErrTxAborted, got %v", err)
	}
	if kvtesting.One(t, s, kv.NewGet("k")).Ok {
		t.Error("aborted transaction leaked a write")
	}
}

func TestSimulateList(t *testing.T) {
	list := func(vals ...string) [][]byte {
		out := make([][]byte, len(vals))
		for i, v := range vals {
			out[i] = []byte(v)
		}
		return out
	}

	tests := []struct {
		name string
		cmd  kv.Command
		want []string
	}{
		{"LPush", kv.NewLPush("l", []byte("x"), []byte("y")), []string{"y", "x", "a", "b", "a", "c"}},
		{"RPush", kv.NewRPush("l", []byte("x")), []string{"a", "b", "a", "c", "x"}},
		{"LRemHead", kv.NewLRem("l", 1, []byte("a")), []string{"b", "a", "c"}},
		{"LRemTail", kv.NewLRem("l", -1, []byte("a")), []string{"a", "b", "c"}},
		{"LRemAll", kv.NewLRem("l", 0, []byte("a")), []string{"b", "c"}},
		{"LTrim", kv.NewLTrim("l", 1, -2), []string{"b", "a"}},
		{"LTrimEmpty", kv.NewLTrim("l", 5, 10), []string{}},
		{"LPop", kv.NewLPop("l"), []string{"b", "a", "c"}},
		{"RPop", kv.NewRPop("l"), []string{"a", "b", "a"}},
		{"LSet", kv.NewLSet("l", -1, []byte("x")), []string{"a", "b", "a", "x"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got, err := simulateList(list("a", "b", "a", "c"), &tt.cmd)
			if err != nil {
				t.Fatalf("unexpected error: %v", err)
			}
			if len(got) != len(tt.want) {
				t.Fatalf("got %q, want %v", got, tt.want)
			}
			for i := range got {
				if string(got[i]) != tt.want[i] {
					t.Fatalf("got %q, want %v", got, tt.want)
				}
			}
		})
	}

	if _, err := simulateList(list("a"), &kv.Command{Type: kv.CmdLSet, Start: 1}); err != kv.ErrOutOfRange {
		t.Errorf("LSet out of range = %v, want ErrOutOfRange", err)
	}
}

func TestDispatchError(t *testing.T) {
	// nothing listens on port 1
	s := New(redis.NewClient(&redis.Options{Addr: "127.0.0.1:1", MaxRetries: -1}))
	defer s.client.Close()

	if _, err := s.Exec(context.Background(), kv.ModeBatch, kv.NewGet("a")); err == nil {
		t.Error("expected a dispatch error when the server is gone")
	}
}

func TestErrorMapping(t *testing.T) {
	tests := []struct {
		msg  string
		want kv.RetCode
	}{
		{"WRONGTYPE Operation against a key holding the wrong kind of value", kv.RetCWrongType},
		{"ERR no such key", kv.RetCNoSuchKey},
		{"ERR index out of range", kv.RetCOutOfRange},
		{"ERR syntax error", kv.RetCInvalidOperation},
	}
	for _, tt := range tests {
		t.Run(tt.msg, func(t *testing.T) {
			if got := toError(redisError(tt.msg)); got.Code != tt.want {
				t.Errorf("toError(%q) = %s, want %s", tt.msg, got.Code, tt.want)
			}
		})
	}
}

// redisError mimics a server reply error
type redisError string

func (e redisError) Error() string { return string(e) }
func (e redisError) RedisError()   {}
