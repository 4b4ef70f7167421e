package testing

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"reflect"
	"sync"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
)

// Fixture is a store under test together with a way to move its clock forward.
type Fixture struct {
	Store kv.IStore
	// Advance moves the clock of the store forward (used for expiry tests).
	Advance func(d time.Duration)
}

// StoreFactory creates a new, empty store for every test
type StoreFactory func(t *testing.T) Fixture

// RunStoreTests runs a comprehensive test suite for a kv.IStore implementation.
func RunStoreTests(t *testing.T, name string, factory StoreFactory) {
	t.Run(name, func(t *testing.T) {
		t.Run("Strings", func(t *testing.T) {
			testStrings(t, factory(t))
		})

		t.Run("Hash", func(t *testing.T) {
			testHash(t, factory(t))
		})

		t.Run("List", func(t *testing.T) {
			testList(t, factory(t))
		})

		t.Run("ListRemove", func(t *testing.T) {
			testListRemove(t, factory(t))
		})

		t.Run("WrongType", func(t *testing.T) {
			testWrongType(t, factory(t))
		})

		t.Run("Expiry", func(t *testing.T) {
			testExpiry(t, factory(t))
		})

		t.Run("Scan", func(t *testing.T) {
			testScan(t, factory(t))
		})

		t.Run("BatchIndependence", func(t *testing.T) {
			testBatchIndependence(t, factory(t))
		})

		t.Run("TxAllOrNothing", func(t *testing.T) {
			testTxAllOrNothing(t, factory(t))
		})

		t.Run("TxResults", func(t *testing.T) {
			testTxResults(t, factory(t))
		})

		t.Run("Concurrent", func(t *testing.T) {
			testConcurrent(t, factory(t))
		})
	})
}

// --------------------------------------------------------------------------
// Helper functions
// --------------------------------------------------------------------------

// Exec executes the commands and fails the test on dispatch errors
func Exec(t testing.TB, s kv.IStore, mode kv.Mode, cmds ...kv.Command) []kv.Result {
	t.Helper()
	res, err := s.Exec(context.Background(), mode, cmds...)
	if err != nil {
		t.Fatalf("Exec(%s, %v) failed: %v", mode, cmds, err)
	}
	if len(res) != len(cmds) {
		t.Fatalf("Exec returned %d results for %d commands", len(res), len(cmds))
	}
	return res
}

// One executes a single command directly and fails the test if the command failed
func One(t testing.TB, s kv.IStore, cmd kv.Command) kv.Result {
	t.Helper()
	res := Exec(t, s, kv.ModeDirect, cmd)[0]
	if res.Err != nil {
		t.Fatalf("%s failed: %v", cmd, res.Err)
	}
	return res
}

func toStrings(values [][]byte) []string {
	out := make([]string, len(values))
	for i, v := range values {
		out[i] = string(v)
	}
	return out
}

func bs(values ...string) [][]byte {
	out := make([][]byte, len(values))
	for i, v := range values {
		out[i] = []byte(v)
	}
	return out
}

// --------------------------------------------------------------------------
// Test functions
// --------------------------------------------------------------------------

func testStrings(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	if res := One(t, s, kv.NewGet("missing")); res.Ok {
		t.Errorf("Expected missing key to return ok=false")
	}

	One(t, s, kv.NewSet("a", []byte("1"), 0))
	if res := One(t, s, kv.NewGet("a")); !res.Ok || string(res.Value) != "1" {
		t.Errorf("Expected a=1, got ok=%v value=%s", res.Ok, res.Value)
	}

	// Get must return a copy
	res := One(t, s, kv.NewGet("a"))
	res.Value[0] = 'X'
	if again := One(t, s, kv.NewGet("a")); string(again.Value) != "1" {
		t.Errorf("Get should return a copy, stored value changed to %s", again.Value)
	}

	if res := One(t, s, kv.NewSetNX("a", []byte("2"), 0)); res.Ok {
		t.Errorf("SetNX on existing key should not be applied")
	}
	if res := One(t, s, kv.NewSetNX("b", []byte("2"), 0)); !res.Ok {
		t.Errorf("SetNX on missing key should be applied")
	}

	if res := One(t, s, kv.NewMGet("a", "missing", "b")); !reflect.DeepEqual(res.Values, [][]byte{[]byte("1"), nil, []byte("2")}) {
		t.Errorf("MGet returned %q", res.Values)
	}

	if res := One(t, s, kv.NewExists("a", "b", "missing")); res.Int != 2 {
		t.Errorf("Exists = %d, want 2", res.Int)
	}
	if res := One(t, s, kv.NewDel("a", "missing")); res.Int != 1 {
		t.Errorf("Del = %d, want 1", res.Int)
	}
	if res := One(t, s, kv.NewGet("a")); res.Ok {
		t.Errorf("Expected deleted key to be gone")
	}
}

func testHash(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	res := One(t, s, kv.NewHSet("h", []string{"f2", "f1"}, bs("v2", "v1")))
	if res.Int != 2 {
		t.Errorf("HSet added %d fields, want 2", res.Int)
	}
	res = One(t, s, kv.NewHSet("h", []string{"f1", "f3"}, bs("v1b", "v3")))
	if res.Int != 1 {
		t.Errorf("HSet added %d fields, want 1", res.Int)
	}

	if res := One(t, s, kv.NewHGet("h", "f1")); !res.Ok || string(res.Value) != "v1b" {
		t.Errorf("HGet f1 = %v %s", res.Ok, res.Value)
	}
	if res := One(t, s, kv.NewHGet("h", "nope")); res.Ok {
		t.Errorf("HGet of missing field should return ok=false")
	}
	if res := One(t, s, kv.NewHExists("h", "f2")); !res.Ok {
		t.Errorf("HExists f2 = false")
	}
	if res := One(t, s, kv.NewHLen("h")); res.Int != 3 {
		t.Errorf("HLen = %d, want 3", res.Int)
	}
	if res := One(t, s, kv.NewHKeys("h")); !reflect.DeepEqual(res.Strings, []string{"f1", "f2", "f3"}) {
		t.Errorf("HKeys = %v", res.Strings)
	}

	all := One(t, s, kv.NewHGetAll("h"))
	got := map[string]string{}
	for i, field := range all.Strings {
		got[field] = string(all.Values[i])
	}
	want := map[string]string{"f1": "v1b", "f2": "v2", "f3": "v3"}
	if !reflect.DeepEqual(got, want) {
		t.Errorf("HGetAll = %v, want %v", got, want)
	}

	if res := One(t, s, kv.NewHDel("h", "f1", "f2", "nope")); res.Int != 2 {
		t.Errorf("HDel removed %d, want 2", res.Int)
	}
	One(t, s, kv.NewHDel("h", "f3"))
	if res := One(t, s, kv.NewExists("h")); res.Int != 0 {
		t.Errorf("Expected empty hash to be removed")
	}
	if res := One(t, s, kv.NewHLen("missing")); res.Int != 0 {
		t.Errorf("HLen of missing key = %d", res.Int)
	}
}

func testList(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	if res := One(t, s, kv.NewRPush("l", bs("b", "c")...)); res.Int != 2 {
		t.Errorf("RPush length = %d, want 2", res.Int)
	}
	if res := One(t, s, kv.NewLPush("l", bs("a")...)); res.Int != 3 {
		t.Errorf("LPush length = %d, want 3", res.Int)
	}

	cases := []struct {
		start, stop int64
		want        []string
	}{
		{0, -1, []string{"a", "b", "c"}},
		{1, 1, []string{"b"}},
		{-2, -1, []string{"b", "c"}},
		{0, 100, []string{"a", "b", "c"}},
		{5, 10, []string{}},
		{2, 1, []string{}},
	}
	for _, tc := range cases {
		res := One(t, s, kv.NewLRange("l", tc.start, tc.stop))
		if got := toStrings(res.Values); !reflect.DeepEqual(got, tc.want) {
			t.Errorf("LRange(%d,%d) = %v, want %v", tc.start, tc.stop, got, tc.want)
		}
	}

	if res := One(t, s, kv.NewLIndex("l", -1)); !res.Ok || string(res.Value) != "c" {
		t.Errorf("LIndex -1 = %v %s", res.Ok, res.Value)
	}
	if res := One(t, s, kv.NewLIndex("l", 3)); res.Ok {
		t.Errorf("LIndex out of range should return ok=false")
	}

	One(t, s, kv.NewLSet("l", 1, []byte("B")))
	if res := One(t, s, kv.NewLIndex("l", 1)); string(res.Value) != "B" {
		t.Errorf("LSet not applied, got %s", res.Value)
	}
	if res := Exec(t, s, kv.ModeDirect, kv.NewLSet("l", 10, []byte("x")))[0]; res.Err == nil {
		t.Errorf("LSet out of range should fail")
	}
	if res := Exec(t, s, kv.ModeDirect, kv.NewLSet("missing", 0, []byte("x")))[0]; res.Err == nil {
		t.Errorf("LSet on missing key should fail")
	}

	if res := One(t, s, kv.NewLPop("l")); string(res.Value) != "a" {
		t.Errorf("LPop = %s, want a", res.Value)
	}
	if res := One(t, s, kv.NewRPop("l")); string(res.Value) != "c" {
		t.Errorf("RPop = %s, want c", res.Value)
	}
	if res := One(t, s, kv.NewLLen("l")); res.Int != 1 {
		t.Errorf("LLen = %d, want 1", res.Int)
	}
	One(t, s, kv.NewLPop("l"))
	if res := One(t, s, kv.NewLPop("l")); res.Ok {
		t.Errorf("LPop on empty list should return ok=false")
	}

	One(t, s, kv.NewRPush("t", bs("0", "1", "2", "3", "4")...))
	One(t, s, kv.NewLTrim("t", 1, -2))
	if res := One(t, s, kv.NewLRange("t", 0, -1)); !reflect.DeepEqual(toStrings(res.Values), []string{"1", "2", "3"}) {
		t.Errorf("LTrim result = %v", toStrings(res.Values))
	}
}

func testListRemove(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	tests := []struct {
		count   int64
		removed int64
		want    []string
	}{
		{1, 1, []string{"b", "x", "c", "x"}},
		{-1, 1, []string{"x", "b", "x", "c"}},
		{0, 3, []string{"b", "c"}},
		{2, 2, []string{"b", "c", "x"}},
	}
	for i, tt := range tests {
		key := fmt.Sprintf("lrem-%d", i)
		One(t, s, kv.NewRPush(key, bs("x", "b", "x", "c", "x")...))
		res := One(t, s, kv.NewLRem(key, tt.count, []byte("x")))
		if res.Int != tt.removed {
			t.Errorf("LRem(count=%d) removed %d, want %d", tt.count, res.Int, tt.removed)
		}
		got := toStrings(One(t, s, kv.NewLRange(key, 0, -1)).Values)
		if !reflect.DeepEqual(got, tt.want) {
			t.Errorf("LRem(count=%d) left %v, want %v", tt.count, got, tt.want)
		}
	}
}

func testWrongType(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	One(t, s, kv.NewSet("str", []byte("v"), 0))
	One(t, s, kv.NewHSet("hash", []string{"f"}, bs("v")))

	for _, cmd := range []kv.Command{
		kv.NewHGet("str", "f"),
		kv.NewRPush("str", []byte("x")),
		kv.NewGet("hash"),
		kv.NewLRange("hash", 0, -1),
	} {
		res := Exec(t, s, kv.ModeDirect, cmd)[0]
		if !errors.Is(res.Cause(), kv.ErrWrongType) {
			t.Errorf("%s: expected wrong type error, got %v", cmd, res.Err)
		}
	}
}

func testExpiry(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	if res := One(t, s, kv.NewTTL("missing")); res.TTL != kv.TTLMissing {
		t.Errorf("TTL of missing key = %v, want %v", res.TTL, kv.TTLMissing)
	}

	One(t, s, kv.NewSet("k", []byte("v"), 0))
	if res := One(t, s, kv.NewTTL("k")); res.TTL != kv.TTLNoExpiry {
		t.Errorf("TTL without expiry = %v, want %v", res.TTL, kv.TTLNoExpiry)
	}

	if res := One(t, s, kv.NewExpire("k", 10*time.Second)); !res.Ok {
		t.Errorf("Expire on existing key returned ok=false")
	}
	if res := One(t, s, kv.NewExpire("missing", 10*time.Second)); res.Ok {
		t.Errorf("Expire on missing key returned ok=true")
	}
	if ttl := One(t, s, kv.NewTTL("k")).TTL; ttl <= 9*time.Second || ttl > 10*time.Second {
		t.Errorf("TTL after Expire(10s) = %v", ttl)
	}

	f.Advance(4 * time.Second)
	if ttl := One(t, s, kv.NewTTL("k")).TTL; ttl <= 5*time.Second || ttl > 6*time.Second {
		t.Errorf("TTL after 4s = %v, want ~6s", ttl)
	}

	// Persist removes the expiry
	if res := One(t, s, kv.NewPersist("k")); !res.Ok {
		t.Errorf("Persist returned ok=false")
	}
	if res := One(t, s, kv.NewTTL("k")); res.TTL != kv.TTLNoExpiry {
		t.Errorf("TTL after Persist = %v", res.TTL)
	}

	// expiry applies to hashes and lists, too
	One(t, s, kv.NewHSet("h", []string{"f"}, bs("v")))
	One(t, s, kv.NewExpire("h", 2*time.Second))
	One(t, s, kv.NewSet("s", []byte("v"), 3*time.Second))
	f.Advance(2500 * time.Millisecond)
	if res := One(t, s, kv.NewHLen("h")); res.Int != 0 {
		t.Errorf("Expected hash to be expired")
	}
	if res := One(t, s, kv.NewGet("s")); !res.Ok {
		t.Errorf("Expected string to be alive after 2.5s of 3s")
	}
	f.Advance(time.Second)
	if res := One(t, s, kv.NewGet("s")); res.Ok {
		t.Errorf("Expected string to be expired")
	}

	// a plain Set clears the expiry
	One(t, s, kv.NewSet("c", []byte("v"), time.Second))
	One(t, s, kv.NewSet("c", []byte("v2"), 0))
	if res := One(t, s, kv.NewTTL("c")); res.TTL != kv.TTLNoExpiry {
		t.Errorf("Set should clear the expiry, TTL = %v", res.TTL)
	}
}

func testScan(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	for i := 0; i < 25; i++ {
		One(t, s, kv.NewSet(fmt.Sprintf("users:%d", i), []byte("v"), 0))
	}
	One(t, s, kv.NewSet("other:1", []byte("v"), 0))
	One(t, s, kv.NewHSet("users", []string{"f"}, bs("v")))

	res := One(t, s, kv.NewScan("users:*"))
	if len(res.Strings) != 25 {
		t.Errorf("Scan users:* returned %d keys, want 25", len(res.Strings))
	}
	seen := map[string]bool{}
	for _, key := range res.Strings {
		if seen[key] {
			t.Errorf("Scan returned duplicate key %s", key)
		}
		seen[key] = true
	}

	if res := One(t, s, kv.NewScan("nothing:*")); len(res.Strings) != 0 {
		t.Errorf("Scan nothing:* returned %v", res.Strings)
	}
}

func testBatchIndependence(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	One(t, s, kv.NewSet("str", []byte("v"), 0))

	res := Exec(t, s, kv.ModeBatch,
		kv.NewHSet("h", []string{"a"}, bs("1")),
		kv.NewRPush("str", []byte("x")), // fails: wrong type
		kv.NewHSet("h", []string{"b"}, bs("2")),
	)
	if res[0].Err != nil || res[2].Err != nil {
		t.Errorf("unexpected errors: %v, %v", res[0].Err, res[2].Err)
	}
	if res[1].Err == nil {
		t.Errorf("expected the wrong type command to fail")
	}
	if n := One(t, s, kv.NewHLen("h")).Int; n != 2 {
		t.Errorf("HLen after partial batch = %d, want 2", n)
	}
}

func testTxAllOrNothing(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	One(t, s, kv.NewSet("str", []byte("v"), 0))
	One(t, s, kv.NewHSet("h", []string{"a"}, bs("old")))

	_, err := s.Exec(context.Background(), kv.ModeTx,
		kv.NewHSet("h", []string{"a", "b"}, bs("new", "2")),
		kv.NewRPush("str", []byte("x")), // fails: wrong type
		kv.NewDel("str"),
	)
	if !errors.Is(err, kv.ErrTxAborted) {
		t.Fatalf("expected ErrTxAborted, got %v", err)
	}

	if res := One(t, s, kv.NewHGet("h", "a")); string(res.Value) != "old" {
		t.Errorf("aborted transaction leaked a write: h.a = %s", res.Value)
	}
	if res := One(t, s, kv.NewHExists("h", "b")); res.Ok {
		t.Errorf("aborted transaction leaked a write: h.b exists")
	}
	if res := One(t, s, kv.NewGet("str")); !res.Ok {
		t.Errorf("aborted transaction leaked a delete")
	}

	// an index error aborts the whole transaction as well
	One(t, s, kv.NewRPush("l", bs("a", "b")...))
	_, err = s.Exec(context.Background(), kv.ModeTx,
		kv.NewRPush("l", []byte("c")),
		kv.NewHSet("h", []string{"a"}, bs("new")),
		kv.NewLSet("l", 10, []byte("x")),
	)
	if !errors.Is(err, kv.ErrTxAborted) {
		t.Fatalf("expected ErrTxAborted for LSet out of range, got %v", err)
	}
	if got := toStrings(One(t, s, kv.NewLRange("l", 0, -1)).Values); !reflect.DeepEqual(got, []string{"a", "b"}) {
		t.Errorf("aborted transaction leaked a push: l = %v", got)
	}
	if res := One(t, s, kv.NewHGet("h", "a")); string(res.Value) != "old" {
		t.Errorf("aborted transaction leaked a write: h.a = %s", res.Value)
	}
}

func testTxResults(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	res := Exec(t, s, kv.ModeTx,
		kv.NewRPush("l", bs("a", "b")...),
		kv.NewLPop("l"),
		kv.NewLRange("l", 0, -1),
		kv.NewSet("k", []byte("v"), time.Minute),
	)
	if res[0].Int != 2 {
		t.Errorf("RPush in tx = %d, want 2", res[0].Int)
	}
	if string(res[1].Value) != "a" {
		t.Errorf("LPop in tx = %s, want a", res[1].Value)
	}
	if got := toStrings(res[2].Values); !reflect.DeepEqual(got, []string{"b"}) {
		t.Errorf("LRange in tx = %v, want [b]", got)
	}
	if ttl := One(t, s, kv.NewTTL("k")).TTL; ttl <= 0 {
		t.Errorf("TTL of key set in tx = %v", ttl)
	}
}

func testConcurrent(t *testing.T, f Fixture) {
	s := f.Store
	defer s.Close()

	const workers, perWorker = 8, 50
	var wg sync.WaitGroup
	wg.Add(workers)
	for w := 0; w < workers; w++ {
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWorker; i++ {
				field := fmt.Sprintf("%d-%d", w, i)
				if _, err := s.Exec(context.Background(), kv.ModeBatch,
					kv.NewHSet("h", []string{field}, bs(field)),
					kv.NewRPush("l", []byte(field)),
				); err != nil {
					t.Errorf("concurrent exec failed: %v", err)
					return
				}
			}
		}(w)
	}
	wg.Wait()

	if n := One(t, s, kv.NewHLen("h")).Int; n != workers*perWorker {
		t.Errorf("HLen = %d, want %d", n, workers*perWorker)
	}
	if n := One(t, s, kv.NewLLen("l")).Int; n != workers*perWorker {
		t.Errorf("LLen = %d, want %d", n, workers*perWorker)
	}
	if res := One(t, s, kv.NewHGet("h", "3-7")); !bytes.Equal(res.Value, []byte("3-7")) {
		t.Errorf("HGet 3-7 = %s", res.Value)
	}
}
