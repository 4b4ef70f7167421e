package storage

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/kv"
)

func TestKeyedScan(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	k := NewKeyed[user](svc, "item")

	for i := 0; i < 5; i++ {
		if err := k.Insert(ctx, &user{ID: fmt.Sprint(i)}); err != nil {
			t.Fatalf("Insert failed: %v", err)
		}
	}
	// unrelated keys with a similar prefix
	_, _ = store.Exec(ctx, kv.ModeDirect, kv.NewSet("items:1", []byte("x"), 0), kv.NewSet("item", []byte("x"), 0))

	if n, err := k.Count(ctx); err != nil || n != 5 {
		t.Fatalf("Expected count 5, got %d (err: %v)", n, err)
	}
	removed, err := k.ClearAll(ctx)
	if err != nil || removed != 5 {
		t.Fatalf("Expected 5 removed keys, got %d (err: %v)", removed, err)
	}
	if n, _ := k.Count(ctx); n != 0 {
		t.Fatalf("Expected count 0, got %d", n)
	}
	if store.Len() != 2 {
		t.Fatalf("Expected only the unrelated keys to remain, got %d keys", store.Len())
	}
}

func TestKeyedPrefixEscaping(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	star := NewKeyed[user](svc, "a*")
	other := NewKeyed[user](svc, "ab")
	_ = star.Insert(ctx, &user{ID: "1"})
	_ = other.Insert(ctx, &user{ID: "2"})

	keys, _ := star.Keys(ctx)
	if len(keys) != 1 || keys[0] != "1" {
		t.Fatalf("Expected only the records of prefix a*, got %v", keys)
	}
}

func TestKeyedExtras(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	k := NewKeyed[user](svc, "extra")
	_ = k.InsertMany(ctx, users(4))

	t.Run("GetMany", func(t *testing.T) {
		items, err := k.GetMany(ctx, []string{"u003", "missing", "u001"})
		if err != nil {
			t.Fatalf("GetMany failed: %v", err)
		}
		assertIDs(t, items, "u003", "u001")
	})

	t.Run("Keys", func(t *testing.T) {
		keys, _ := k.Keys(ctx)
		if fmt.Sprint(keys) != "[u000 u001 u002 u003]" {
			t.Fatalf("Unexpected keys %v", keys)
		}
	})

	t.Run("Upsert", func(t *testing.T) {
		created, err := k.Upsert(ctx, &user{ID: "u000", Name: "replaced"})
		if err != nil || created {
			t.Fatalf("Expected replace: created=%t err=%v", created, err)
		}
		created, _ = k.Upsert(ctx, &user{ID: "new"})
		if !created {
			t.Fatalf("Expected create")
		}
		_ = k.Delete(ctx, "new")
	})

	t.Run("BulkUpdateProperties", func(t *testing.T) {
		n, err := k.BulkUpdateProperties(ctx, []string{"u001", "u002", "missing"}, map[string]any{"Name": "bulk", "Age": 7})
		if err != nil || n != 2 {
			t.Fatalf("Expected 2 updated records, got %d (err: %v)", n, err)
		}
		found, err := k.SearchByProperty(ctx, "Name", "bulk")
		if err != nil {
			t.Fatalf("SearchByProperty failed: %v", err)
		}
		assertIDs(t, found, "u001", "u002")

		byAge, _ := k.SearchByProperty(ctx, "Age", 7)
		assertIDs(t, byAge, "u001", "u002")
	})

	t.Run("Expiry", func(t *testing.T) {
		if ok, err := k.ExpireKey(ctx, "u003", time.Minute); err != nil || !ok {
			t.Fatalf("ExpireKey failed: ok=%t err=%v", ok, err)
		}
		if ttl, _ := k.TTLKey(ctx, "u003"); ttl != time.Minute {
			t.Fatalf("Expected ttl 1m, got %v", ttl)
		}
		if ttl, _ := k.TTLKey(ctx, "u000"); ttl != kv.TTLNoExpiry {
			t.Fatalf("Expected no expiry, got %v", ttl)
		}
		if _, err := k.TTL(ctx); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("Expected ErrUnsupported, got %v", err)
		}
		if _, err := k.HasExpiry(ctx); !errors.Is(err, ErrUnsupported) {
			t.Fatalf("Expected ErrUnsupported, got %v", err)
		}

		if ok, _ := k.Expire(ctx, time.Hour); !ok {
			t.Fatalf("Expected Expire to apply to the records")
		}
		if ttl, _ := k.TTLKey(ctx, "u000"); ttl != time.Hour {
			t.Fatalf("Expected ttl 1h, got %v", ttl)
		}
		if ok, _ := k.Persist(ctx); !ok {
			t.Fatalf("Expected Persist to remove the expiry")
		}
		if ttl, _ := k.TTLKey(ctx, "u000"); ttl != kv.TTLNoExpiry {
			t.Fatalf("Expected no expiry after Persist, got %v", ttl)
		}
	})
}

func TestKeyedNestedPrefix(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)

	parent := NewKeyed[user](svc, "users")
	nested := NewKeyed[user](svc, "users:admin")
	_ = parent.InsertMany(ctx, users(2))
	_ = nested.Insert(ctx, &user{ID: "1"})

	if n, _ := parent.Count(ctx); n != 2 {
		t.Fatalf("Expected 2 records of users, got %d", n)
	}
	keys, _ := parent.Keys(ctx)
	if len(keys) != 2 || keys[0] != "u000" || keys[1] != "u001" {
		t.Fatalf("Expected only the ids of users, got %v", keys)
	}

	if n, err := parent.ClearAll(ctx); err != nil || n != 2 {
		t.Fatalf("Expected 2 cleared records, got %d (err: %v)", n, err)
	}
	if got, _ := nested.Get(ctx, "1"); got == nil {
		t.Fatalf("Expected ClearAll of users to keep the records of users:admin")
	}

	if err := parent.Insert(ctx, &user{ID: "admin:2"}); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("Expected ErrInvalidID for an id with ':', got %v", err)
	}
	if n, _ := nested.Count(ctx); n != 1 {
		t.Fatalf("Expected the rejected insert to leave users:admin unchanged, got %d records", n)
	}
}
