package kv

import (
	"context"
	"errors"
	"testing"

	"github.com/ValentinKolb/tkv/lib/kv/memkv"
	"github.com/ValentinKolb/tkv/lib/storage"
	"github.com/spf13/viper"
)

func TestUpsertByType(t *testing.T) {
	ctx := context.Background()
	store := memkv.New(nil)
	svc = storage.NewService(store)
	t.Cleanup(func() {
		_ = store.Close()
		svc = nil
		viper.Reset()
	})
	upsertCmd.SetContext(ctx)

	tests := []struct {
		typ     string
		get     func(key string) (*Document, error)
		wantErr error
	}{
		{TypeHash, func(key string) (*Document, error) { return storage.NewHash[Document](svc, key).Get(ctx, "u1") }, nil},
		{TypeKeyed, func(key string) (*Document, error) { return storage.NewKeyed[Document](svc, key).Get(ctx, "u1") }, nil},
		{TypeList, nil, storage.ErrUnsupported},
		{TypeBlob, nil, storage.ErrUnsupported},
	}

	for _, tt := range tests {
		t.Run(tt.typ, func(t *testing.T) {
			viper.Set("type", tt.typ)
			key := "docs-" + tt.typ

			err := upsertCmd.RunE(upsertCmd, []string{key, `{"id":"u1","name":"bob"}`})
			if tt.wantErr != nil {
				if !errors.Is(err, tt.wantErr) {
					t.Fatalf("Expected %v, got %v", tt.wantErr, err)
				}
				return
			}
			if err != nil {
				t.Fatalf("upsert failed: %v", err)
			}
			if err := upsertCmd.RunE(upsertCmd, []string{key, `{"id":"u1","name":"alice"}`}); err != nil {
				t.Fatalf("second upsert failed: %v", err)
			}

			doc, err := tt.get(key)
			if err != nil || doc == nil {
				t.Fatalf("Expected stored document, got %v (err: %v)", doc, err)
			}
			if name, _ := doc.GetProperty("name"); name != "alice" {
				t.Errorf("Expected the second upsert to replace the document, got name=%v", name)
			}
		})
	}
}
