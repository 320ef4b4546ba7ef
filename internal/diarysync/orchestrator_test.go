package diarysync

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/dukerupert/mealsync/internal/database"
	"github.com/dukerupert/mealsync/internal/gateway"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/dukerupert/mealsync/internal/store"
	"github.com/google/go-cmp/cmp"
)

type fakeGateway struct {
	mu      sync.Mutex
	rows    []model.RemoteRow
	pullErr error
	pushErr error
	pushFn  func(req model.PushRequest) error
	pulls   int
	pushes  []model.PushRequest

	entered chan struct{}
	release chan struct{}
}

func (g *fakeGateway) Pull(ctx context.Context, userID string) ([]model.RemoteRow, error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pulls++
	if g.pullErr != nil {
		return nil, g.pullErr
	}
	return g.rows, nil
}

func (g *fakeGateway) Push(ctx context.Context, req model.PushRequest) error {
	if g.entered != nil {
		g.entered <- struct{}{}
		<-g.release
	}
	g.mu.Lock()
	defer g.mu.Unlock()
	g.pushes = append(g.pushes, req)
	if g.pushFn != nil {
		return g.pushFn(req)
	}
	return g.pushErr
}

func (g *fakeGateway) pushCount() int {
	g.mu.Lock()
	defer g.mu.Unlock()
	return len(g.pushes)
}

type harness struct {
	entries *store.EntryStore
	batches *store.BatchStore
	state   *store.SyncStateStore
	gw      *fakeGateway
	orch    *Orchestrator
}

var today = time.Date(2026, 10, 16, 12, 0, 0, 0, time.Local)

func newHarness(t *testing.T) *harness {
	t.Helper()
	db, err := database.Open(":memory:")
	if err != nil {
		t.Fatalf("open test db: %v", err)
	}
	t.Cleanup(func() { db.Close() })

	clock := func() time.Time { return today }
	h := &harness{
		entries: store.NewEntryStore(db, "user-1", nil),
		batches: store.NewBatchStore(db),
		state:   store.NewSyncStateStore(db),
		gw:      &fakeGateway{},
	}
	h.entries.SetClock(clock)
	h.orch = NewOrchestrator("user-1", h.entries, h.batches, h.state, h.gw, nil)
	h.orch.SetClock(clock)
	return h
}

func (h *harness) analyzed(t *testing.T, hint string) *model.FoodEntry {
	t.Helper()
	ctx := context.Background()
	e, err := h.entries.Append(ctx, "file://"+hint+".jpg", hint, model.MealLunch)
	if err != nil {
		t.Fatalf("append: %v", err)
	}
	a := model.Analysis{Calories: 450, Protein: 35, Fats: 10, Carbs: 50, FoodName: hint, Portion: "1 bowl", Weight: 300, FoodType: "meal"}
	if err := h.entries.UpdateAnalysis(ctx, e.ID, a); err != nil {
		t.Fatalf("update analysis: %v", err)
	}
	return e
}

func TestPushUploadsOnlyAnalyzedUnsynced(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	done := h.analyzed(t, "rice")
	pending, _ := h.entries.Append(ctx, "file://b.jpg", "", model.MealSnack)

	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}

	if got := h.gw.pushCount(); got != 1 {
		t.Fatalf("gateway pushes = %d, want 1", got)
	}
	req := h.gw.pushes[0]
	if req.UserID != "user-1" || req.Date != "2026-10-16" || req.BatchID == "" {
		t.Errorf("unexpected request header: %+v", req)
	}
	want := []model.PushItem{{
		ID: done.ID, Name: "rice", Calories: 450, Protein: 35, Fats: 10, Carbs: 50,
		Portion: "1 bowl", Weight: ptr(300.0), FoodType: "meal", Meal: model.MealLunch,
	}}
	if diff := cmp.Diff(want, req.Entries); diff != "" {
		t.Errorf("payload mismatch (-want +got):\n%s", diff)
	}

	got, _ := h.entries.Get(ctx, done.ID)
	if !got.Synced || *got.RemoteID != SyncedRemoteID {
		t.Errorf("pushed entry not synced: %+v", got)
	}
	other, _ := h.entries.Get(ctx, pending.ID)
	if other.Synced {
		t.Error("unanalyzed entry was marked synced")
	}
}

func TestPushNoopWithoutCandidates(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	h.entries.Append(ctx, "file://a.jpg", "", "")
	synced := h.analyzed(t, "soup")
	h.entries.MarkSynced(ctx, synced.ID, "r")

	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := h.gw.pushCount(); got != 0 {
		t.Errorf("gateway pushes = %d, want 0", got)
	}
}

func TestPushIgnoresOtherDays(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	yesterday := model.FoodEntry{
		ID: "old", UserID: "user-1", CreatedAt: today.Add(-24 * time.Hour),
		Date: "2026-10-15", Analyzed: true, Calories: ptr(100.0),
	}
	if err := h.entries.SaveAll(ctx, []model.FoodEntry{yesterday}); err != nil {
		t.Fatalf("save: %v", err)
	}

	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := h.gw.pushCount(); got != 0 {
		t.Errorf("gateway pushes = %d, want 0", got)
	}
}

func TestPushFailureKeepsBatchForResend(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e := h.analyzed(t, "pasta")
	h.gw.pushErr = errors.New("connection reset")

	err := h.orch.Push(ctx)
	if err == nil {
		t.Fatal("expected push error")
	}
	got, _ := h.entries.Get(ctx, e.ID)
	if got.Synced {
		t.Error("entry marked synced after failed push")
	}
	status := h.orch.Status(ctx)
	if status.Push.LastError == "" {
		t.Error("expected push error in status")
	}

	// A second entry logged before the retry goes in its own batch.
	second := h.analyzed(t, "salad")
	h.gw.pushErr = nil
	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("retry push: %v", err)
	}

	if got := h.gw.pushCount(); got != 3 {
		t.Fatalf("gateway pushes = %d, want 3", got)
	}
	first, resent, fresh := h.gw.pushes[0], h.gw.pushes[1], h.gw.pushes[2]
	if resent.BatchID != first.BatchID {
		t.Errorf("resent batch id = %q, want original %q", resent.BatchID, first.BatchID)
	}
	if len(resent.Entries) != 1 || resent.Entries[0].ID != e.ID {
		t.Errorf("resent entries = %+v, want only %s", resent.Entries, e.ID)
	}
	if fresh.BatchID == first.BatchID {
		t.Error("new entries reused the old batch id")
	}
	if len(fresh.Entries) != 1 || fresh.Entries[0].ID != second.ID {
		t.Errorf("fresh entries = %+v, want only %s", fresh.Entries, second.ID)
	}

	for _, id := range []string{e.ID, second.ID} {
		got, _ := h.entries.Get(ctx, id)
		if !got.Synced {
			t.Errorf("entry %s not synced after retry", id)
		}
	}
	if status := h.orch.Status(ctx); status.Push.LastError != "" {
		t.Errorf("push error not cleared: %q", status.Push.LastError)
	}
}

func TestPushResumesBatchLeftByCrash(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e := h.analyzed(t, "curry")
	// The backend accepted this batch but the process died before the
	// entries were marked.
	if _, err := h.batches.CreatePending(ctx, "batch-crash", e.Date, []string{e.ID}); err != nil {
		t.Fatalf("create pending: %v", err)
	}

	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := h.gw.pushCount(); got != 1 {
		t.Fatalf("gateway pushes = %d, want 1", got)
	}
	if id := h.gw.pushes[0].BatchID; id != "batch-crash" {
		t.Errorf("batch id = %q, want batch-crash", id)
	}
	pending, _ := h.batches.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending batches = %d, want 0", len(pending))
	}
}

func TestPushAbandonsEmptyPendingBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	e := h.analyzed(t, "toast")
	h.batches.CreatePending(ctx, "batch-gone", e.Date, []string{e.ID})
	h.entries.Remove(ctx, e.ID)

	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got := h.gw.pushCount(); got != 0 {
		t.Errorf("gateway pushes = %d, want 0", got)
	}
	pending, _ := h.batches.Pending(ctx)
	if len(pending) != 0 {
		t.Errorf("pending batches = %d, want 0", len(pending))
	}
}

func TestPushRejectsOverlap(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.analyzed(t, "stew")

	h.gw.entered = make(chan struct{})
	h.gw.release = make(chan struct{})

	errc := make(chan error, 1)
	go func() { errc <- h.orch.Push(ctx) }()
	<-h.gw.entered

	if !h.orch.Status(ctx).Pushing {
		t.Error("expected status to report a push in flight")
	}
	if err := h.orch.Push(ctx); !errors.Is(err, ErrPushInProgress) {
		t.Errorf("overlapping push err = %v, want ErrPushInProgress", err)
	}

	close(h.gw.release)
	if err := <-errc; err != nil {
		t.Fatalf("first push: %v", err)
	}
	if got := h.gw.pushCount(); got != 1 {
		t.Errorf("gateway pushes = %d, want 1", got)
	}
}

// rejectNamed fails any batch carrying an entry called name with a 400.
func rejectNamed(name string) func(model.PushRequest) error {
	return func(req model.PushRequest) error {
		for _, item := range req.Entries {
			if item.Name == name {
				return &gateway.StatusError{Code: 400, Body: "invalid entry"}
			}
		}
		return nil
	}
}

func TestPushRejectedBatchDoesNotBlockLaterEntries(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.pushFn = rejectNamed("bad")

	bad := h.analyzed(t, "bad")
	err := h.orch.Push(ctx)
	if !gateway.IsRejected(err) {
		t.Fatalf("push err = %v, want rejection", err)
	}
	if pending, _ := h.batches.Pending(ctx); len(pending) != 0 {
		t.Errorf("pending batches = %d, want 0 after rejection", len(pending))
	}

	good := h.analyzed(t, "good")
	for i := 0; i < 3; i++ {
		if err := h.orch.Push(ctx); err != nil {
			t.Fatalf("push %d: %v", i, err)
		}
	}

	if got := h.gw.pushCount(); got != 2 {
		t.Fatalf("gateway pushes = %d, want 2", got)
	}
	sent := h.gw.pushes[1]
	if len(sent.Entries) != 1 || sent.Entries[0].ID != good.ID {
		t.Errorf("second batch = %+v, want only %s", sent.Entries, good.ID)
	}
	if got, _ := h.entries.Get(ctx, good.ID); !got.Synced {
		t.Error("good entry not synced")
	}
	if got, _ := h.entries.Get(ctx, bad.ID); got.Synced {
		t.Error("rejected entry marked synced")
	}
}

func TestPushResendsRejectedEntryAfterNewAnalysis(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.pushFn = rejectNamed("bad")

	e := h.analyzed(t, "bad")
	if err := h.orch.Push(ctx); err == nil {
		t.Fatal("expected rejection")
	}

	fixed := model.Analysis{Calories: 300, Protein: 20, Fats: 8, Carbs: 40, FoodName: "omelette", FoodType: "meal"}
	if err := h.entries.UpdateAnalysis(ctx, e.ID, fixed); err != nil {
		t.Fatalf("update analysis: %v", err)
	}
	if err := h.orch.Push(ctx); err != nil {
		t.Fatalf("push: %v", err)
	}
	if got, _ := h.entries.Get(ctx, e.ID); !got.Synced {
		t.Error("corrected entry not synced")
	}
}

func TestPushServerErrorKeepsEntriesInOneBatch(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.pushErr = &gateway.StatusError{Code: 503}

	h.analyzed(t, "ramen")
	for i := 0; i < 2; i++ {
		if err := h.orch.Push(ctx); err == nil {
			t.Fatalf("push %d: expected error", i)
		}
	}

	if got := h.gw.pushCount(); got != 2 {
		t.Fatalf("gateway pushes = %d, want 2", got)
	}
	if h.gw.pushes[0].BatchID != h.gw.pushes[1].BatchID {
		t.Errorf("batch ids differ: %q then %q", h.gw.pushes[0].BatchID, h.gw.pushes[1].BatchID)
	}
	if pending, _ := h.batches.Pending(ctx); len(pending) != 1 {
		t.Errorf("pending batches = %d, want 1", len(pending))
	}
}

func TestPushStaleBatchFailureDoesNotBlockToday(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	old := model.FoodEntry{
		ID: "old", UserID: "user-1", CreatedAt: today.Add(-24 * time.Hour),
		Date: "2026-10-15", Analyzed: true, FoodName: ptr("stale"), Calories: ptr(100.0),
	}
	if err := h.entries.SaveAll(ctx, []model.FoodEntry{old}); err != nil {
		t.Fatalf("save: %v", err)
	}
	if _, err := h.batches.CreatePending(ctx, "batch-old", old.Date, []string{old.ID}); err != nil {
		t.Fatalf("create pending: %v", err)
	}
	e := h.analyzed(t, "tacos")

	h.gw.pushFn = func(req model.PushRequest) error {
		if req.Date == old.Date {
			return errors.New("connection reset")
		}
		return nil
	}

	if err := h.orch.Push(ctx); err == nil {
		t.Fatal("expected the stale batch error to be reported")
	}
	if got, _ := h.entries.Get(ctx, e.ID); !got.Synced {
		t.Error("today's entry not synced")
	}
	pending, _ := h.batches.Pending(ctx)
	if len(pending) != 1 || pending[0].ID != "batch-old" {
		t.Errorf("pending = %+v, want batch-old only", pending)
	}
}

func remoteRow(id, date string) model.RemoteRow {
	return model.RemoteRow{
		ID: id, UserID: "user-1", CreatedAt: date + "T08:30:00Z", DateKey: date,
		ImageURL: "https://cdn/" + id + ".jpg", MealType: "DINNER",
		FoodName: ptr("Fish"), Calories: ptr(520.0), Protein: ptr(40.0),
		Fats: ptr(20.0), Carbs: ptr(30.0), Portion: ptr("1 plate"),
	}
}

func TestPullMergesOnce(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()

	local := h.analyzed(t, "rice")
	h.gw.rows = []model.RemoteRow{
		remoteRow("r1", "2026-10-14"),
		remoteRow("r2", "2026-10-15"),
		remoteRow(local.ID, "2026-10-16"),
	}

	if n := h.orch.Pull(ctx); n != 2 {
		t.Fatalf("first pull inserted %d, want 2", n)
	}
	if n := h.orch.Pull(ctx); n != 0 {
		t.Errorf("second pull inserted %d, want 0", n)
	}

	all := h.entries.LoadAll(ctx)
	if len(all) != 3 {
		t.Fatalf("entries = %d, want 3", len(all))
	}
	r1, err := h.entries.Get(ctx, "r1")
	if err != nil {
		t.Fatalf("get r1: %v", err)
	}
	if !r1.Analyzed || !r1.Synced || *r1.RemoteID != "r1" || r1.Date != "2026-10-14" {
		t.Errorf("unexpected merged entry: %+v", r1)
	}
	if *r1.Portion != "1 plate" {
		t.Errorf("portion = %q, want fallback to portion", *r1.Portion)
	}

	got, _ := h.entries.Get(ctx, local.ID)
	if got.Synced {
		t.Error("pull overwrote an existing local entry")
	}
}

func TestPullSwallowsErrors(t *testing.T) {
	h := newHarness(t)
	ctx := context.Background()
	h.gw.pullErr = errors.New("no route to host")

	if n := h.orch.Pull(ctx); n != 0 {
		t.Errorf("inserted = %d, want 0", n)
	}
	st := h.orch.Status(ctx)
	if st.Pull.LastError != "no route to host" {
		t.Errorf("pull last error = %q", st.Pull.LastError)
	}
	if st.Pull.LastSuccess != nil {
		t.Error("unexpected last success")
	}
}

func TestPullNowReportsError(t *testing.T) {
	h := newHarness(t)
	h.gw.pullErr = errors.New("no route to host")

	n, err := h.orch.PullNow(context.Background())
	if err == nil || n != 0 {
		t.Errorf("PullNow = %d, %v, want 0 and an error", n, err)
	}

	h.gw.pullErr = nil
	h.gw.rows = []model.RemoteRow{remoteRow("r1", "2026-10-14")}
	if n, err := h.orch.PullNow(context.Background()); err != nil || n != 1 {
		t.Errorf("PullNow = %d, %v, want 1 and nil", n, err)
	}
}

func TestEntryFromRowFallbacks(t *testing.T) {
	row := model.RemoteRow{
		ID: "r9", UserID: "u", CreatedAt: "2026-10-12T21:15:00Z",
		PortionSize: ptr("half"), Portion: ptr("ignored"),
	}
	e := EntryFromRow(row)
	if e.Date != "2026-10-12" {
		t.Errorf("date = %q, want date part of created_at", e.Date)
	}
	if *e.Portion != "half" {
		t.Errorf("portion = %q, want portion_size", *e.Portion)
	}
	if e.ID != "r9" || e.RemoteID == nil || *e.RemoteID != "r9" {
		t.Errorf("ids = %q/%v, want r9", e.ID, e.RemoteID)
	}
	if want := time.Date(2026, 10, 12, 21, 15, 0, 0, time.UTC); !e.CreatedAt.Equal(want) {
		t.Errorf("created_at = %v, want %v", e.CreatedAt, want)
	}
}

func TestPushItemDefaults(t *testing.T) {
	item := PushItemFromEntry(model.FoodEntry{ID: "e", Weight: ptr(0.0)})
	if item.FoodType != "Unknown" {
		t.Errorf("food type = %q, want Unknown", item.FoodType)
	}
	if item.Weight != nil {
		t.Errorf("weight = %v, want nil", *item.Weight)
	}
}

func ptr[T any](v T) *T { return &v }
