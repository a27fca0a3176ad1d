package blob

import (
	"bytes"
	"context"
	"errors"
	"io"
	"strings"
	"testing"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	return map[string]Store{
		"fs":     fsStore,
		"memory": NewMemory(),
	}
}

func TestPutReplacesExistingKey(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "results/a.json", strings.NewReader("old"), PutOptions{}); err != nil {
				t.Fatalf("first put: %v", err)
			}
			if _, err := store.Put(ctx, "results/a.json", strings.NewReader("new"), PutOptions{}); err != nil {
				t.Fatalf("replacing put: %v", err)
			}
			_, rc, err := store.Get(ctx, "results/a.json")
			if err != nil {
				t.Fatalf("get: %v", err)
			}
			payload, err := io.ReadAll(rc)
			_ = rc.Close()
			if err != nil {
				t.Fatalf("read: %v", err)
			}
			if !bytes.Equal(payload, []byte("new")) {
				t.Fatalf("payload = %q, want %q", payload, "new")
			}
		})
	}
}

func TestGetMissingKey(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, _, err := store.Get(context.Background(), "absent"); !errors.Is(err, ErrNotExist) {
				t.Fatalf("get err = %v, want ErrNotExist", err)
			}
			if _, err := store.Head(context.Background(), "absent"); !errors.Is(err, ErrNotExist) {
				t.Fatalf("head err = %v, want ErrNotExist", err)
			}
		})
	}
}

func TestDeleteReportsPresence(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			if _, err := store.Put(ctx, "k", strings.NewReader("v"), PutOptions{}); err != nil {
				t.Fatalf("put: %v", err)
			}
			ok, err := store.Delete(ctx, "k")
			if err != nil || !ok {
				t.Fatalf("delete = (%v, %v)", ok, err)
			}
			ok, err = store.Delete(ctx, "k")
			if err != nil || ok {
				t.Fatalf("second delete = (%v, %v)", ok, err)
			}
		})
	}
}

func TestListFiltersByPrefix(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			for _, key := range []string{"rasters/a/meta.json", "rasters/b/meta.json", "results/x.json"} {
				if _, err := store.Put(ctx, key, strings.NewReader("{}"), PutOptions{ContentType: "application/json"}); err != nil {
					t.Fatalf("put %s: %v", key, err)
				}
			}
			infos, err := store.List(ctx, "rasters/")
			if err != nil {
				t.Fatalf("list: %v", err)
			}
			if len(infos) != 2 {
				t.Fatalf("listed %d keys, want 2", len(infos))
			}
			if infos[0].Key != "rasters/a/meta.json" || infos[1].Key != "rasters/b/meta.json" {
				t.Fatalf("keys = %v, %v", infos[0].Key, infos[1].Key)
			}
		})
	}
}

func TestPutRejectsTraversalKeys(t *testing.T) {
	fsStore, err := NewFilesystem(t.TempDir())
	if err != nil {
		t.Fatalf("new filesystem store: %v", err)
	}
	for _, key := range []string{"", "../escape", "/abs"} {
		if _, err := fsStore.Put(context.Background(), key, strings.NewReader("x"), PutOptions{}); err == nil {
			t.Fatalf("expected error for key %q", key)
		}
	}
}

func TestMetadataRoundTrip(t *testing.T) {
	for name, store := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			ctx := context.Background()
			opts := PutOptions{ContentType: "application/octet-stream", Metadata: map[string]string{"layer": "loss"}}
			if _, err := store.Put(ctx, "chunk", strings.NewReader("data"), opts); err != nil {
				t.Fatalf("put: %v", err)
			}
			info, err := store.Head(ctx, "chunk")
			if err != nil {
				t.Fatalf("head: %v", err)
			}
			if info.ContentType != "application/octet-stream" || info.Metadata["layer"] != "loss" {
				t.Fatalf("info = %+v", info)
			}
			if info.Size != 4 || info.ETag == "" {
				t.Fatalf("size/etag = %d / %q", info.Size, info.ETag)
			}
		})
	}
}
