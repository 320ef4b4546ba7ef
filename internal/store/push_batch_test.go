package store

import (
	"context"
	"errors"
	"testing"
	"time"

	"github.com/dukerupert/mealsync/internal/database"
)

func setupBatchTestDB(t *testing.T) (*BatchStore, *EntryStore) {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })
	return NewBatchStore(db), NewEntryStore(db, "user-1", nil)
}

func TestBatchLifecycle(t *testing.T) {
	bs, es := setupBatchTestDB(t)
	ctx := context.Background()

	a, _ := es.Append(ctx, "file://a.jpg", "", "")
	b, _ := es.Append(ctx, "file://b.jpg", "", "")
	c, _ := es.Append(ctx, "file://c.jpg", "", "")

	if _, err := bs.CreatePending(ctx, "batch-1", a.Date, []string{b.ID, a.ID}); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	pending, err := bs.Pending(ctx)
	if err != nil {
		t.Fatalf("pending: %v", err)
	}
	if len(pending) != 1 {
		t.Fatalf("pending = %d, want 1", len(pending))
	}
	if got := pending[0].EntryIDs; len(got) != 2 || got[0] != b.ID || got[1] != a.ID {
		t.Errorf("entry ids = %v, want [%s %s]", got, b.ID, a.ID)
	}

	if err := bs.Complete(ctx, "batch-1", "json-synced"); err != nil {
		t.Fatalf("complete: %v", err)
	}

	for _, id := range []string{a.ID, b.ID} {
		e, _ := es.Get(ctx, id)
		if !e.Synced || e.RemoteID == nil || *e.RemoteID != "json-synced" {
			t.Errorf("entry %s not synced: %+v", id, e)
		}
	}
	if e, _ := es.Get(ctx, c.ID); e.Synced {
		t.Error("entry outside the batch was marked synced")
	}

	pending, _ = bs.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending after complete = %d, want 0", len(pending))
	}

	if err := bs.Complete(ctx, "batch-1", "json-synced"); !errors.Is(err, ErrNotFound) {
		t.Errorf("complete twice err = %v, want ErrNotFound", err)
	}
}

func TestBatchAbandon(t *testing.T) {
	bs, es := setupBatchTestDB(t)
	ctx := context.Background()

	a, _ := es.Append(ctx, "file://a.jpg", "", "")
	bs.CreatePending(ctx, "batch-1", a.Date, []string{a.ID})

	if err := bs.Abandon(ctx, "batch-1"); err != nil {
		t.Fatalf("abandon: %v", err)
	}
	pending, _ := bs.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending = %d, want 0", len(pending))
	}
	if err := bs.Complete(ctx, "batch-1", "r"); !errors.Is(err, ErrNotFound) {
		t.Errorf("complete abandoned err = %v, want ErrNotFound", err)
	}
}

func TestPruneCompleted(t *testing.T) {
	bs, es := setupBatchTestDB(t)
	ctx := context.Background()

	old := time.Date(2026, 9, 1, 0, 0, 0, 0, time.UTC)
	bs.now = func() time.Time { return old }

	a, _ := es.Append(ctx, "file://a.jpg", "", "")
	bs.CreatePending(ctx, "old", a.Date, []string{a.ID})
	bs.Complete(ctx, "old", "r")
	bs.CreatePending(ctx, "open", a.Date, []string{a.ID})

	n, err := bs.PruneCompleted(ctx, old.Add(24*time.Hour))
	if err != nil {
		t.Fatalf("prune: %v", err)
	}
	if n != 1 {
		t.Errorf("pruned = %d, want 1", n)
	}
	pending, _ := bs.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "open" {
		t.Errorf("pending batches = %+v, want only open", pending)
	}
}

func TestBatchRejectHoldsEntries(t *testing.T) {
	bs, es := setupBatchTestDB(t)
	ctx := context.Background()

	a, _ := es.Append(ctx, "file://a.jpg", "", "")
	b, _ := es.Append(ctx, "file://b.jpg", "", "")
	c, _ := es.Append(ctx, "file://c.jpg", "", "")
	bs.CreatePending(ctx, "batch-bad", a.Date, []string{a.ID})
	bs.CreatePending(ctx, "batch-waiting", a.Date, []string{b.ID})
	bs.CreatePending(ctx, "batch-done", a.Date, []string{c.ID})
	bs.Complete(ctx, "batch-done", "json-synced")

	if err := bs.Reject(ctx, "batch-bad"); err != nil {
		t.Fatalf("reject: %v", err)
	}
	if err := bs.Reject(ctx, "batch-bad"); !errors.Is(err, ErrNotFound) {
		t.Errorf("reject twice err = %v, want ErrNotFound", err)
	}

	pending, _ := bs.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "batch-waiting" {
		t.Errorf("pending = %+v, want batch-waiting only", pending)
	}

	held, err := bs.HeldEntryIDs(ctx)
	if err != nil {
		t.Fatalf("held: %v", err)
	}
	if len(held) != 2 || !held[a.ID] || !held[b.ID] {
		t.Errorf("held = %v, want %s and %s", held, a.ID, b.ID)
	}
	if e, _ := es.Get(ctx, a.ID); e.Synced {
		t.Error("rejected entry marked synced")
	}
}
