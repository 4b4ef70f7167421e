package storage

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/tkv/lib/codec"
)

func TestHashUpsert(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	h := NewHash[user](svc, "upsert")

	if err := h.Insert(ctx, &user{ID: "1", Name: "A"}); err != nil {
		t.Fatalf("Insert failed: %v", err)
	}
	created, err := h.Upsert(ctx, &user{ID: "1", Name: "B"})
	if err != nil || created {
		t.Fatalf("Expected Upsert to replace the record: created=%t err=%v", created, err)
	}

	got, _ := h.Get(ctx, "1")
	assertUser(t, got, &user{ID: "1", Name: "B"})
	if n, _ := h.Count(ctx); n != 1 {
		t.Fatalf("Expected count 1, got %d", n)
	}

	if created, _ := h.Upsert(ctx, &user{ID: "2"}); !created {
		t.Fatalf("Expected Upsert to create a new record")
	}
}

func TestHashExtras(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	h := NewHash[user](svc, "extras")
	_ = h.InsertMany(ctx, users(3))

	t.Run("Keys", func(t *testing.T) {
		keys, err := h.Keys(ctx)
		if err != nil || len(keys) != 3 || keys[0] != "u000" || keys[2] != "u002" {
			t.Fatalf("Unexpected keys %v (err: %v)", keys, err)
		}
	})

	t.Run("InsertAs", func(t *testing.T) {
		_ = h.InsertAs(ctx, "alias", &user{ID: "u000", Name: "copy"})
		got, _ := h.Get(ctx, "alias")
		assertUser(t, got, &user{ID: "u000", Name: "copy"})
		_ = h.Delete(ctx, "alias")
	})

	t.Run("Increment", func(t *testing.T) {
		tests := []struct {
			name     string
			id       string
			property string
			delta    int64
			wantErr  error
			want     int
		}{
			{name: "add", id: "u001", property: "Age", delta: 10, want: 11},
			{name: "subtract", id: "u001", property: "Age", delta: -1, want: 10},
			{name: "non numeric", id: "u001", property: "Name", delta: 1, wantErr: ErrUnsupported, want: 10},
			{name: "unknown property", id: "u001", property: "Nope", delta: 1, wantErr: ErrUnsupported, want: 10},
		}
		for _, tt := range tests {
			t.Run(tt.name, func(t *testing.T) {
				_, err := h.Increment(ctx, tt.id, tt.property, tt.delta)
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected error %v, got %v", tt.wantErr, err)
				}
				got, _ := h.Get(ctx, tt.id)
				if got.Age != tt.want {
					t.Fatalf("Expected age %d, got %d", tt.want, got.Age)
				}
			})
		}
	})

	t.Run("UpdateIf", func(t *testing.T) {
		rename := func(u *user) error { u.Name = "renamed"; return nil }

		updated, err := h.UpdateIf(ctx, "u002", func(u *user) bool { return u.Age > 100 }, rename)
		if err != nil || updated {
			t.Fatalf("Expected no update: updated=%t err=%v", updated, err)
		}
		updated, err = h.UpdateIf(ctx, "u002", func(u *user) bool { return u.Age == 2 }, rename)
		if err != nil || !updated {
			t.Fatalf("Expected update: updated=%t err=%v", updated, err)
		}
		got, _ := h.Get(ctx, "u002")
		if got.Name != "renamed" {
			t.Fatalf("Expected renamed record, got %+v", got)
		}
	})
}

type plain struct {
	ID string `json:"id"`
}

func (p *plain) GetID() string { return p.ID }

func TestPropertyAccessorRequired(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t)
	h := NewHash[plain](svc, "plain")
	_ = h.Insert(ctx, &plain{ID: "1"})

	if _, err := h.UpdateProperty(ctx, "1", "ID", "2"); !errors.Is(err, ErrUnsupported) {
		t.Fatalf("Expected ErrUnsupported, got %v", err)
	}
}

func TestGOBCodec(t *testing.T) {
	ctx := context.Background()
	svc, _, _ := newTestService(t, WithCodec(codec.NewCompressedCodec(codec.NewGOBCodec(), codec.CompressionSnappy)))
	h := NewHash[user](svc, "gob")

	_ = h.InsertMany(ctx, users(3))
	got, err := h.Get(ctx, "u001")
	if err != nil {
		t.Fatalf("Get failed: %v", err)
	}
	assertUser(t, got, users(3)[1])
}
