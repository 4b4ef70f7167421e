package storage

import (
	"context"
	"testing"
	"time"

	"github.com/ValentinKolb/tkv/lib/codec"
	"github.com/ValentinKolb/tkv/lib/kv"
)

func TestBlobAmbiguity(t *testing.T) {
	ctx := context.Background()

	codecs := map[string]codec.ICodec{
		"json":        codec.NewJSONCodec(),
		"json+zstd":   codec.NewCompressedCodec(codec.NewJSONCodec(), codec.CompressionZstd),
		"json+lz4":    codec.NewCompressedCodec(codec.NewJSONCodec(), codec.CompressionLZ4),
		"json+snappy": codec.NewCompressedCodec(codec.NewJSONCodec(), codec.CompressionSnappy),
	}

	for name, c := range codecs {
		t.Run(name, func(t *testing.T) {
			svc, _, _ := newTestService(t, WithCodec(c))
			b := NewBlob[user](svc, "blob")

			single := &user{ID: "s", Name: "single"}
			if err := b.Insert(ctx, single); err != nil {
				t.Fatalf("Insert failed: %v", err)
			}
			all, err := b.GetAll(ctx)
			if err != nil {
				t.Fatalf("GetAll failed: %v", err)
			}
			assertIDs(t, all, "s")
			assertUser(t, all[0], single)

			x, y := &user{ID: "x", Age: 1}, &user{ID: "y", Age: 2}
			if err := b.InsertMany(ctx, []*user{x, y}); err != nil {
				t.Fatalf("InsertMany failed: %v", err)
			}
			got, err := b.GetSingle(ctx)
			if err != nil {
				t.Fatalf("GetSingle failed: %v", err)
			}
			assertUser(t, got, x)
			all, _ = b.GetAll(ctx)
			assertIDs(t, all, "x", "y")
		})
	}
}

func TestBlobCollection(t *testing.T) {
	ctx := context.Background()
	svc, store, _ := newTestService(t)
	b := NewBlob[user](svc, "collection")

	_ = b.Insert(ctx, &user{ID: "a"})
	if err := b.Append(ctx, &user{ID: "b"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	_ = b.Append(ctx, &user{ID: "c"})
	all, _ := b.GetAll(ctx)
	assertIDs(t, all, "a", "b", "c")

	if found, err := b.Mutate(ctx, "b", func(u *user) error { u.Name = "B"; return nil }); err != nil || !found {
		t.Fatalf("Mutate failed: found=%t err=%v", found, err)
	}
	if got, _ := b.GetFromCollection(ctx, 1); got == nil || got.Name != "B" {
		t.Fatalf("Expected updated record at position 1, got %v", got)
	}
	if got, _ := b.GetFromCollection(ctx, 5); got != nil {
		t.Fatalf("Expected nil at position 5, got %v", got)
	}

	removed, err := b.DeleteFromCollection(ctx, func(u *user) bool { return u.ID != "b" })
	if err != nil || removed != 2 {
		t.Fatalf("Expected 2 removed records, got %d (err: %v)", removed, err)
	}
	if n, _ := b.Count(ctx); n != 1 {
		t.Fatalf("Expected 1 record, got %d", n)
	}

	_ = b.Delete(ctx, "b")
	if ok, _ := svc.Exists(ctx, "collection"); ok {
		t.Fatalf("Expected the key to be removed with the last record")
	}

	// garbage degrades to an empty result
	_, _ = store.Exec(ctx, kv.ModeDirect, kv.NewSet("collection", []byte("garbage"), 0))
	if all, err := b.GetAll(ctx); err != nil || len(all) != 0 {
		t.Fatalf("Expected empty result for garbage, got %v (err: %v)", all, err)
	}
}

func TestBlobCollectionTracking(t *testing.T) {
	ctx := context.Background()
	svc, _, clock := newTestService(t)
	b := NewBlob[user](svc, "tracked-collection", Track(""))

	start := clock.Now()
	if err := b.InsertMany(ctx, users(2)); err != nil {
		t.Fatalf("InsertMany failed: %v", err)
	}

	stamps := func() map[string]time.Time {
		all, err := b.GetAll(ctx)
		if err != nil {
			t.Fatalf("GetAll failed: %v", err)
		}
		out := make(map[string]time.Time, len(all))
		for _, u := range all {
			out[u.ID] = u.UpdatedAt
		}
		return out
	}
	assertStamp := func(got map[string]time.Time, id string, want time.Time) {
		t.Helper()
		if !got[id].Equal(want) {
			t.Fatalf("Expected %s to be stamped %v, got %v", id, want, got[id])
		}
	}

	clock.Advance(time.Hour)
	if _, err := b.Mutate(ctx, "u001", func(u *user) error { u.Age = 99; return nil }); err != nil {
		t.Fatalf("Mutate failed: %v", err)
	}
	got := stamps()
	assertStamp(got, "u000", start)
	assertStamp(got, "u001", start.Add(time.Hour))

	clock.Advance(time.Hour)
	if err := b.Append(ctx, &user{ID: "u002"}); err != nil {
		t.Fatalf("Append failed: %v", err)
	}
	got = stamps()
	assertStamp(got, "u000", start)
	assertStamp(got, "u001", start.Add(time.Hour))
	assertStamp(got, "u002", start.Add(2*time.Hour))

	clock.Advance(time.Hour)
	if err := b.Delete(ctx, "u002"); err != nil {
		t.Fatalf("Delete failed: %v", err)
	}
	got = stamps()
	assertStamp(got, "u000", start)
	assertStamp(got, "u001", start.Add(time.Hour))
}
