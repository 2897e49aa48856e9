package syncqueue

import (
	"context"
	"encoding/json"
	"errors"
	"path/filepath"
	"testing"
	"time"

	"github.com/google/uuid"

	"github.com/halcyonbio/biosync-core/internal/infrastructure/database"
	_ "github.com/halcyonbio/biosync-core/migrations" // Register embedded schema
)

func openStore(t *testing.T, path string) *SQLiteStore {
	t.Helper()

	db, err := database.Open(database.Config{Path: path, WALMode: true, BusyTimeout: 5})
	if err != nil {
		t.Fatalf("Open() error = %v", err)
	}
	t.Cleanup(func() { db.Close() }) //nolint:errcheck // Test teardown

	if err := db.Migrate(context.Background()); err != nil {
		t.Fatalf("Migrate() error = %v", err)
	}
	return NewSQLiteStore(db)
}

func newStore(t *testing.T) *SQLiteStore {
	t.Helper()
	return openStore(t, filepath.Join(t.TempDir(), "biosync.db"))
}

func newItem(kind Kind, priority Priority) *Item {
	return &Item{
		ID:       uuid.New().String(),
		Kind:     kind,
		Payload:  json.RawMessage(`{"value":5.2,"unit":"mmol/L"}`),
		DeviceID: "dev-1",
		UserID:   "user-1",
		Priority: priority,
		Status:   StatusPending,
	}
}

func TestSQLiteStoreCRUD(t *testing.T) {
	ctx := context.Background()

	t.Run("add and get round trip", func(t *testing.T) {
		store := newStore(t)
		at := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
		item := newItem(KindMeasurement, PriorityHigh)
		item.AttemptCount = 2
		item.LastAttemptAt = &at
		item.Error = "server unavailable"
		item.ForceOverwrite = true

		if err := store.Add(ctx, item); err != nil {
			t.Fatalf("Add() error = %v", err)
		}

		got, err := store.Get(ctx, item.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Kind != KindMeasurement || got.Priority != PriorityHigh {
			t.Errorf("got kind=%s priority=%s", got.Kind, got.Priority)
		}
		if string(got.Payload) != string(item.Payload) {
			t.Errorf("Payload = %s", got.Payload)
		}
		if got.AttemptCount != 2 || got.Error != "server unavailable" {
			t.Errorf("attempt state = %d / %q", got.AttemptCount, got.Error)
		}
		if got.LastAttemptAt == nil || !got.LastAttemptAt.Equal(at) {
			t.Errorf("LastAttemptAt = %v, want %v", got.LastAttemptAt, at)
		}
		if !got.ForceOverwrite {
			t.Error("ForceOverwrite lost")
		}
		if got.CreatedAt.IsZero() {
			t.Error("CreatedAt not set")
		}
	})

	t.Run("update is atomic per item", func(t *testing.T) {
		store := newStore(t)
		item := newItem(KindCalibration, PriorityNormal)
		if err := store.Add(ctx, item); err != nil {
			t.Fatalf("Add() error = %v", err)
		}

		item.Status = StatusConflict
		item.RemoteResponse = `{"server_version":{"value":5.9}}`
		item.AttemptCount = 1
		if err := store.Update(ctx, item); err != nil {
			t.Fatalf("Update() error = %v", err)
		}

		got, err := store.Get(ctx, item.ID)
		if err != nil {
			t.Fatalf("Get() error = %v", err)
		}
		if got.Status != StatusConflict {
			t.Errorf("Status = %s, want conflict", got.Status)
		}
		if got.RemoteResponse == "" {
			t.Error("RemoteResponse lost")
		}
	})

	t.Run("missing items", func(t *testing.T) {
		store := newStore(t)

		if _, err := store.Get(ctx, "nope"); !errors.Is(err, ErrItemNotFound) {
			t.Errorf("Get err = %v, want ErrItemNotFound", err)
		}
		if err := store.Delete(ctx, "nope"); !errors.Is(err, ErrItemNotFound) {
			t.Errorf("Delete err = %v, want ErrItemNotFound", err)
		}
		ghost := newItem(KindMeasurement, PriorityNormal)
		if err := store.Update(ctx, ghost); !errors.Is(err, ErrItemNotFound) {
			t.Errorf("Update err = %v, want ErrItemNotFound", err)
		}
	})

	t.Run("rejects invalid items", func(t *testing.T) {
		store := newStore(t)

		bad := newItem(KindMeasurement, PriorityNormal)
		bad.ID = ""
		if err := store.Add(ctx, bad); !errors.Is(err, ErrInvalidItem) {
			t.Errorf("empty ID err = %v, want ErrInvalidItem", err)
		}

		bad = newItem("telepathy", PriorityNormal)
		if err := store.Add(ctx, bad); !errors.Is(err, ErrInvalidItem) {
			t.Errorf("bad kind err = %v, want ErrInvalidItem", err)
		}

		bad = newItem(KindMeasurement, PriorityNormal)
		bad.Payload = nil
		if err := store.Add(ctx, bad); !errors.Is(err, ErrInvalidItem) {
			t.Errorf("empty payload err = %v, want ErrInvalidItem", err)
		}
	})

	t.Run("delete and counts", func(t *testing.T) {
		store := newStore(t)
		a := newItem(KindMeasurement, PriorityNormal)
		b := newItem(KindFeedback, PriorityLow)
		b.Status = StatusFailed
		for _, it := range []*Item{a, b} {
			if err := store.Add(ctx, it); err != nil {
				t.Fatalf("Add() error = %v", err)
			}
		}

		if n, _ := store.Count(ctx); n != 2 {
			t.Errorf("Count = %d, want 2", n)
		}
		if n, _ := store.CountByStatus(ctx, StatusFailed); n != 1 {
			t.Errorf("CountByStatus(failed) = %d, want 1", n)
		}

		if err := store.Delete(ctx, a.ID); err != nil {
			t.Fatalf("Delete() error = %v", err)
		}
		if n, _ := store.Count(ctx); n != 1 {
			t.Errorf("Count after delete = %d, want 1", n)
		}

		if err := store.Clear(ctx); err != nil {
			t.Fatalf("Clear() error = %v", err)
		}
		if n, _ := store.Count(ctx); n != 0 {
			t.Errorf("Count after clear = %d, want 0", n)
		}
	})
}

func TestSQLiteStoreOrdering(t *testing.T) {
	ctx := context.Background()
	store := newStore(t)

	base := time.Date(2026, 8, 20, 10, 0, 0, 0, time.UTC)
	mk := func(priority Priority, age time.Duration) string {
		item := newItem(KindMeasurement, priority)
		item.CreatedAt = base.Add(-age)
		if err := store.Add(ctx, item); err != nil {
			t.Fatalf("Add() error = %v", err)
		}
		return item.ID
	}

	oldLow := mk(PriorityLow, time.Hour)
	newCritical := mk(PriorityCritical, 0)
	oldNormal := mk(PriorityNormal, 2*time.Hour)
	newNormal := mk(PriorityNormal, time.Minute)
	oldHigh := mk(PriorityHigh, 30*time.Minute)

	items, err := store.GetByStatus(ctx, StatusPending)
	if err != nil {
		t.Fatalf("GetByStatus() error = %v", err)
	}

	want := []string{newCritical, oldHigh, oldNormal, newNormal, oldLow}
	if len(items) != len(want) {
		t.Fatalf("got %d items, want %d", len(items), len(want))
	}
	for i, id := range want {
		if items[i].ID != id {
			t.Errorf("position %d = %s, want %s (priority %s)", i, items[i].ID, id, items[i].Priority)
		}
	}
}

func TestSQLiteStoreDurability(t *testing.T) {
	ctx := context.Background()
	path := filepath.Join(t.TempDir(), "biosync.db")

	item := newItem(KindMeasurement, PriorityCritical)
	item.Status = StatusFailed
	item.AttemptCount = 3

	store := openStore(t, path)
	if err := store.Add(ctx, item); err != nil {
		t.Fatalf("Add() error = %v", err)
	}
	if err := store.db.Close(); err != nil {
		t.Fatalf("Close() error = %v", err)
	}

	// A fresh process must see the exact queue it left behind.
	reopened := openStore(t, path)
	got, err := reopened.Get(ctx, item.ID)
	if err != nil {
		t.Fatalf("Get() after reopen error = %v", err)
	}
	if got.Status != StatusFailed || got.AttemptCount != 3 {
		t.Errorf("after reopen status=%s attempts=%d, want failed/3", got.Status, got.AttemptCount)
	}
	if string(got.Payload) != string(item.Payload) {
		t.Errorf("payload changed across reopen: %s", got.Payload)
	}
}
