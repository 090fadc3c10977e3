package repository

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"slugstate/internal/domain"
)

func sampleRecord(key string) *domain.SyncRecord {
	return &domain.SyncRecord{
		Key:         key,
		Token:       "AQA" + key,
		Version:     3,
		BaseVersion: 2,
		UpdatedAt:   time.Date(2026, 3, 1, 12, 30, 0, 123456789, time.UTC),
		Dirty:       true,
		State:       domain.SyncStateDirty,
		Revision:    7,
		Persisted:   true,
		ContentHash: "abc",
	}
}

func localStores(t *testing.T) map[string]LocalStore {
	t.Helper()
	fileStore, err := NewFileStore(filepath.Join(t.TempDir(), "state"))
	if err != nil {
		t.Fatalf("NewFileStore() error = %v", err)
	}
	return map[string]LocalStore{
		"memory": NewMemoryStore(),
		"file":   fileStore,
	}
}

func TestLocalStore_PutGet(t *testing.T) {
	ctx := context.Background()

	for name, store := range localStores(t) {
		t.Run(name, func(t *testing.T) {
			record := sampleRecord("settings/theme")
			if err := store.Put(ctx, record); err != nil {
				t.Fatalf("Put() error = %v", err)
			}

			got, err := store.Get(ctx, "settings/theme")
			if err != nil {
				t.Fatalf("Get() error = %v", err)
			}

			if got.Key != record.Key || got.Token != record.Token || got.Version != record.Version ||
				got.BaseVersion != record.BaseVersion || got.Revision != record.Revision ||
				got.Dirty != record.Dirty || got.State != record.State || got.ContentHash != record.ContentHash {
				t.Errorf("record mismatch: got %+v, want %+v", got, record)
			}
			if !got.UpdatedAt.Equal(record.UpdatedAt) {
				t.Errorf("UpdatedAt = %v, want %v", got.UpdatedAt, record.UpdatedAt)
			}
			if !got.RemoteUpdatedAt.IsZero() {
				t.Errorf("zero RemoteUpdatedAt did not survive: %v", got.RemoteUpdatedAt)
			}
		})
	}
}

func TestLocalStore_GetMissing(t *testing.T) {
	for name, store := range localStores(t) {
		t.Run(name, func(t *testing.T) {
			_, err := store.Get(context.Background(), "missing")
			if !errors.Is(err, ErrNotFound) {
				t.Errorf("expected ErrNotFound, got %v", err)
			}
		})
	}
}

func TestLocalStore_DeleteAndList(t *testing.T) {
	ctx := context.Background()

	for name, store := range localStores(t) {
		t.Run(name, func(t *testing.T) {
			for _, key := range []string{"b", "a", "c"} {
				if err := store.Put(ctx, sampleRecord(key)); err != nil {
					t.Fatalf("Put(%s) error = %v", key, err)
				}
			}

			if err := store.Delete(ctx, "b"); err != nil {
				t.Fatalf("Delete() error = %v", err)
			}
			if err := store.Delete(ctx, "never-existed"); err != nil {
				t.Errorf("Delete() of missing key error = %v", err)
			}

			records, err := store.List(ctx)
			if err != nil {
				t.Fatalf("List() error = %v", err)
			}

			var keys []string
			for _, r := range records {
				keys = append(keys, r.Key)
			}
			if strings.Join(keys, ",") != "a,c" {
				t.Errorf("expected keys a,c got %v", keys)
			}
		})
	}
}

func TestMemoryStore_ReturnsCopies(t *testing.T) {
	ctx := context.Background()
	store := NewMemoryStore()

	record := sampleRecord("k")
	store.Put(ctx, record)
	record.Token = "changed after put"

	got, _ := store.Get(ctx, "k")
	got.Dirty = false

	again, _ := store.Get(ctx, "k")
	if again.Token == "changed after put" || !again.Dirty {
		t.Error("store must not share records with callers")
	}
}

func TestFileStore_Overwrite(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)

	first := sampleRecord("k")
	store.Put(ctx, first)

	second := sampleRecord("k")
	second.Token = "second"
	second.Dirty = false
	store.Put(ctx, second)

	got, err := store.Get(ctx, "k")
	if err != nil {
		t.Fatalf("Get() error = %v", err)
	}
	if got.Token != "second" || got.Dirty {
		t.Errorf("expected overwritten record, got %+v", got)
	}

	entries, _ := os.ReadDir(dir)
	if len(entries) != 1 {
		t.Errorf("expected a single record file, found %d entries", len(entries))
	}
}

func TestFileStore_SkipsForeignFiles(t *testing.T) {
	ctx := context.Background()
	dir := t.TempDir()
	store, _ := NewFileStore(dir)

	store.Put(ctx, sampleRecord("k"))
	os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("hello"), 0o600)

	records, err := store.List(ctx)
	if err != nil {
		t.Fatalf("List() error = %v", err)
	}
	if len(records) != 1 {
		t.Errorf("expected 1 record, got %d", len(records))
	}
}
