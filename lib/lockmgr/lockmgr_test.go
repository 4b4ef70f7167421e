package lockmgr

import (
	"context"
	"errors"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv/memkv"
)

func newTestLockManager(t *testing.T) ILockManager {
	s := memkv.New(nil)
	t.Cleanup(func() { _ = s.Close() })
	return NewLockManager(s)
}

func TestAcquireRelease(t *testing.T) {
	ctx := context.Background()
	lm := newTestLockManager(t)

	ok, owner, err := lm.AcquireLock(ctx, "res", 0)
	if err != nil || !ok || owner == "" {
		t.Fatalf("AcquireLock = %v, %q, %v", ok, owner, err)
	}

	// a second acquire fails while the lock is held
	if ok, _, err := lm.AcquireLock(ctx, "res", 0); err != nil || ok {
		t.Errorf("second AcquireLock = %v, %v", ok, err)
	}

	// a foreign owner can not release it
	if ok, err := lm.ReleaseLock(ctx, "res", "someone-else"); err != nil || ok {
		t.Errorf("ReleaseLock by foreign owner = %v, %v", ok, err)
	}

	if ok, err := lm.ReleaseLock(ctx, "res", owner); err != nil || !ok {
		t.Errorf("ReleaseLock = %v, %v", ok, err)
	}

	// releasing a missing lock succeeds
	if ok, err := lm.ReleaseLock(ctx, "res", owner); err != nil || !ok {
		t.Errorf("ReleaseLock of missing lock = %v, %v", ok, err)
	}

	if ok, _, _ := lm.AcquireLock(ctx, "res", 0); !ok {
		t.Errorf("lock should be free after release")
	}
}

func TestLockExpires(t *testing.T) {
	ctx := context.Background()
	lm := newTestLockManager(t)

	if ok, _, _ := lm.AcquireLock(ctx, "res", 20*time.Millisecond); !ok {
		t.Fatal("AcquireLock failed")
	}
	time.Sleep(40 * time.Millisecond)
	if ok, _, _ := lm.AcquireLock(ctx, "res", 0); !ok {
		t.Errorf("expired lock should be acquirable")
	}
}

func TestExpiredLockTakenOver(t *testing.T) {
	ctx := context.Background()
	lm := newTestLockManager(t)

	_, first, _ := lm.AcquireLock(ctx, "res", 20*time.Millisecond)
	time.Sleep(40 * time.Millisecond)

	ok, second, err := lm.AcquireLock(ctx, "res", 0)
	if err != nil || !ok {
		t.Fatalf("AcquireLock after expiry = %v, %v", ok, err)
	}

	// the late release of the first holder must not free the lock of the second
	if ok, err := lm.ReleaseLock(ctx, "res", first); err != nil || ok {
		t.Errorf("ReleaseLock by expired holder = %v, %v", ok, err)
	}
	if ok, _, _ := lm.AcquireLock(ctx, "res", 0); ok {
		t.Error("lock of the second holder was released")
	}
	if ok, err := lm.ReleaseLock(ctx, "res", second); err != nil || !ok {
		t.Errorf("ReleaseLock by second holder = %v, %v", ok, err)
	}
}

func TestAcquireWaits(t *testing.T) {
	ctx := context.Background()
	lm := newTestLockManager(t)

	tests := []struct {
		name    string
		wait    time.Duration
		wantErr error
	}{
		{"no wait", 0, ErrTimeout},
		{"short wait", 60 * time.Millisecond, ErrTimeout},
	}
	_, holder, _ := lm.AcquireLock(ctx, "res", 0)
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if _, err := Acquire(ctx, lm, "res", 0, tt.wait); !errors.Is(err, tt.wantErr) {
				t.Errorf("Acquire = %v, want %v", err, tt.wantErr)
			}
		})
	}

	// release while another goroutine waits
	go func() {
		time.Sleep(50 * time.Millisecond)
		_, _ = lm.ReleaseLock(ctx, "res", holder)
	}()
	if _, err := Acquire(ctx, lm, "res", 0, 2*time.Second); err != nil {
		t.Errorf("Acquire after release failed: %v", err)
	}

	cctx, cancel := context.WithCancel(ctx)
	cancel()
	if _, err := Acquire(cctx, lm, "res", 0, time.Second); !errors.Is(err, context.Canceled) {
		t.Errorf("Acquire with canceled context = %v", err)
	}
}

func TestMutualExclusion(t *testing.T) {
	ctx := context.Background()
	lm := newTestLockManager(t)

	var inside, violations atomic.Int32
	var wg sync.WaitGroup
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for j := 0; j < 10; j++ {
				owner, err := Acquire(ctx, lm, "critical", time.Second, 5*time.Second)
				if err != nil {
					t.Errorf("Acquire failed: %v", err)
					return
				}
				if inside.Add(1) > 1 {
					violations.Add(1)
				}
				inside.Add(-1)
				if _, err := lm.ReleaseLock(ctx, "critical", owner); err != nil {
					t.Errorf("ReleaseLock failed: %v", err)
				}
			}
		}()
	}
	wg.Wait()
	if violations.Load() != 0 {
		t.Errorf("%d mutual exclusion violations", violations.Load())
	}
}
