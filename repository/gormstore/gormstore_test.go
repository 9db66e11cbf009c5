package gormstore

import (
	"context"
	"errors"
	"testing"
	"time"

	"gorm.io/driver/sqlite"

	"github.com/hupe1980/collabhub/core"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := Open(sqlite.Open(":memory:"))
	if err != nil {
		t.Fatalf("open store: %v", err)
	}
	return store
}

func TestStore_SaveAndLoad(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := core.Record{Kind: core.RecordSession, ID: "sess-1", Data: []byte(`{"status":"active"}`)}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, core.RecordSession, "sess-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if string(got.Data) != `{"status":"active"}` {
		t.Errorf("unexpected data: %s", got.Data)
	}
	if got.UpdatedAt.IsZero() {
		t.Error("UpdatedAt should be stamped on save")
	}

	// Same (kind, id) upserts rather than duplicating.
	rec.Data = []byte(`{"status":"paused"}`)
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("second save: %v", err)
	}
	got, err = store.Load(ctx, core.RecordSession, "sess-1")
	if err != nil {
		t.Fatalf("reload: %v", err)
	}
	if string(got.Data) != `{"status":"paused"}` {
		t.Errorf("upsert failed, got %s", got.Data)
	}
}

func TestStore_PreservesCallerTimestamp(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	stamp := time.Date(2026, 3, 14, 9, 26, 53, 0, time.UTC)
	rec := core.Record{Kind: core.RecordCheckpoint, ID: "cp-1", Data: []byte("x"), UpdatedAt: stamp}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}

	got, err := store.Load(ctx, core.RecordCheckpoint, "cp-1")
	if err != nil {
		t.Fatalf("load: %v", err)
	}
	if !got.UpdatedAt.Equal(stamp) {
		t.Errorf("caller timestamp must round-trip, got %s want %s", got.UpdatedAt, stamp)
	}
}

func TestStore_LoadMissing(t *testing.T) {
	store := newTestStore(t)
	if _, err := store.Load(context.Background(), core.RecordSession, "nope"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("want ErrNotFound, got %v", err)
	}
}

func TestStore_SaveRejectsEmptyKey(t *testing.T) {
	store := newTestStore(t)
	if err := store.Save(context.Background(), core.Record{Kind: core.RecordSession}); !errors.Is(err, core.ErrValidation) {
		t.Fatalf("want ErrValidation, got %v", err)
	}
}

func TestStore_QueryFilters(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()
	base := time.Now().UTC().Add(-time.Hour)

	seed := []core.Record{
		{Kind: core.RecordSession, ID: "s1", Data: []byte("a"), UpdatedAt: base},
		{Kind: core.RecordSession, ID: "s2", Data: []byte("b"), UpdatedAt: base.Add(10 * time.Minute)},
		{Kind: core.RecordCheckpoint, ID: "c1", Data: []byte("c"), UpdatedAt: base.Add(20 * time.Minute)},
	}
	for _, rec := range seed {
		if err := store.Save(ctx, rec); err != nil {
			t.Fatalf("seed %s/%s: %v", rec.Kind, rec.ID, err)
		}
	}

	sessions, err := store.Query(ctx, core.RecordFilter{Kind: core.RecordSession})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(sessions) != 2 {
		t.Fatalf("want 2 sessions, got %d", len(sessions))
	}
	if sessions[0].ID != "s2" {
		t.Errorf("want most recent first, got %s", sessions[0].ID)
	}

	recent, err := store.Query(ctx, core.RecordFilter{UpdatedAfter: base.Add(5 * time.Minute)})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(recent) != 2 {
		t.Errorf("want 2 recent records, got %d", len(recent))
	}

	limited, err := store.Query(ctx, core.RecordFilter{Limit: 1})
	if err != nil {
		t.Fatalf("query: %v", err)
	}
	if len(limited) != 1 || limited[0].ID != "c1" {
		t.Errorf("limit 1 should return c1, got %+v", limited)
	}
}

func TestStore_Delete(t *testing.T) {
	store := newTestStore(t)
	ctx := context.Background()

	rec := core.Record{Kind: core.RecordConversation, ID: "conv-1", Data: []byte("x")}
	if err := store.Save(ctx, rec); err != nil {
		t.Fatalf("save: %v", err)
	}
	if err := store.Delete(ctx, core.RecordConversation, "conv-1"); err != nil {
		t.Fatalf("delete: %v", err)
	}
	if _, err := store.Load(ctx, core.RecordConversation, "conv-1"); !errors.Is(err, core.ErrNotFound) {
		t.Fatalf("record should be gone, got %v", err)
	}
	// Idempotent.
	if err := store.Delete(ctx, core.RecordConversation, "conv-1"); err != nil {
		t.Fatalf("second delete: %v", err)
	}
}
