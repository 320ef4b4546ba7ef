package diarysync

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"
	"time"

	"github.com/dukerupert/mealsync/internal/datekey"
	"github.com/dukerupert/mealsync/internal/gateway"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/dukerupert/mealsync/internal/store"
	"github.com/google/uuid"
)

// ErrPushInProgress is returned when a push pass is requested while
// another one is still running.
var ErrPushInProgress = errors.New("push already in progress")

// SyncedRemoteID is recorded as the remote id of pushed entries. The
// append procedure stores entries inside a per-day blob and returns no
// row ids.
const SyncedRemoteID = "json-synced"

// Gateway is the remote side of the sync.
type Gateway interface {
	Pull(ctx context.Context, userID string) ([]model.RemoteRow, error)
	Push(ctx context.Context, req model.PushRequest) error
}

// EntryStore is the local diary as seen by the orchestrator.
type EntryStore interface {
	Query(ctx context.Context, from, to string) ([]model.FoodEntry, error)
	Get(ctx context.Context, id string) (*model.FoodEntry, error)
	InsertRemote(ctx context.Context, entries []model.FoodEntry) (int, error)
}

// BatchLedger tracks push batches between submission and completion.
type BatchLedger interface {
	CreatePending(ctx context.Context, id, date string, entryIDs []string) (*model.PushBatch, error)
	Pending(ctx context.Context) ([]model.PushBatch, error)
	Complete(ctx context.Context, batchID, remoteID string) error
	Reject(ctx context.Context, batchID string) error
	Abandon(ctx context.Context, batchID string) error
	HeldEntryIDs(ctx context.Context) (map[string]bool, error)
}

// StateRecorder keeps the last outcome of each pass.
type StateRecorder interface {
	Record(ctx context.Context, kind model.SyncKind, err error) error
	Get(ctx context.Context, kind model.SyncKind) (model.SyncState, error)
}

// Status is the observable sync state.
type Status struct {
	Pull    model.SyncState `json:"pull"`
	Push    model.SyncState `json:"push"`
	Pushing bool            `json:"pushing"`
}

// Orchestrator runs pull and push passes for one user.
type Orchestrator struct {
	userID  string
	entries EntryStore
	batches BatchLedger
	state   StateRecorder
	gateway Gateway
	logger  *slog.Logger
	now     func() time.Time
	newID   func() string

	pushing atomic.Bool
}

// NewOrchestrator creates an orchestrator. state may be nil, in which case
// pass outcomes are only logged.
func NewOrchestrator(userID string, entries EntryStore, batches BatchLedger, state StateRecorder, gw Gateway, logger *slog.Logger) *Orchestrator {
	if userID == "" {
		userID = store.OfflineUserID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		userID:  userID,
		entries: entries,
		batches: batches,
		state:   state,
		gateway: gw,
		logger:  logger,
		now:     time.Now,
		newID:   uuid.NewString,
	}
}

// SetClock replaces the clock used to pick today's date key.
func (o *Orchestrator) SetClock(now func() time.Time) {
	o.now = now
}

// Pull merges remote rows that are not yet known locally and returns how
// many entries were inserted. Errors are logged and recorded, never
// returned: an unreachable backend must not block the diary.
func (o *Orchestrator) Pull(ctx context.Context) int {
	n, _ := o.PullNow(ctx)
	return n
}

// PullNow is Pull with the pass error handed back to the caller.
func (o *Orchestrator) PullNow(ctx context.Context) (int, error) {
	n, err := o.pull(ctx)
	o.record(ctx, model.SyncPull, err)
	if err != nil {
		o.logger.Error("pull failed", "error", err)
		return 0, err
	}
	return n, nil
}

func (o *Orchestrator) pull(ctx context.Context) (int, error) {
	rows, err := o.gateway.Pull(ctx, o.userID)
	if err != nil {
		return 0, err
	}
	if len(rows) == 0 {
		return 0, nil
	}

	candidates := make([]model.FoodEntry, 0, len(rows))
	for _, row := range rows {
		candidates = append(candidates, EntryFromRow(row))
	}

	n, err := o.entries.InsertRemote(ctx, candidates)
	if err != nil {
		return 0, fmt.Errorf("merge remote entries: %w", err)
	}
	if n > 0 {
		o.logger.Info("pulled entries", "remote", len(rows), "inserted", n)
	}
	return n, nil
}

// Push uploads today's analyzed, unsynced entries as one batch. Batches
// left pending by an earlier push are resent first under their original
// batch id; a batch that fails to resend does not stop today's batch. It
// returns ErrPushInProgress if another push is running.
func (o *Orchestrator) Push(ctx context.Context) error {
	if !o.pushing.CompareAndSwap(false, true) {
		return ErrPushInProgress
	}
	defer o.pushing.Store(false)

	err := o.push(ctx)
	o.record(ctx, model.SyncPush, err)
	return err
}

func (o *Orchestrator) push(ctx context.Context) error {
	pending, err := o.batches.Pending(ctx)
	if err != nil {
		return fmt.Errorf("load pending batches: %w", err)
	}
	var errs []error
	for _, b := range pending {
		if err := o.resume(ctx, b); err != nil {
			if ctx.Err() != nil {
				return err
			}
			o.logger.Warn("resend failed", "batch", b.ID, "date", b.Date, "error", err)
			errs = append(errs, err)
		}
	}

	today := datekey.Today(o.now)
	entries, err := o.entries.Query(ctx, today, today)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("load today's entries: %w", err))...)
	}

	// Entries still waiting in a pending batch, or in a batch the backend
	// rejected, are not submitted again under a new batch id.
	held, err := o.batches.HeldEntryIDs(ctx)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("load held entries: %w", err))...)
	}

	var unsynced []model.FoodEntry
	for _, e := range entries {
		if e.Analyzed && !e.Synced && !held[e.ID] {
			unsynced = append(unsynced, e)
		}
	}
	if len(unsynced) == 0 {
		o.logger.Debug("no entries to sync", "date", today)
		return errors.Join(errs...)
	}

	ids := make([]string, len(unsynced))
	for i, e := range unsynced {
		ids[i] = e.ID
	}
	batch, err := o.batches.CreatePending(ctx, o.newID(), today, ids)
	if err != nil {
		return errors.Join(append(errs, fmt.Errorf("record batch: %w", err))...)
	}

	o.logger.Info("syncing entries", "count", len(unsynced), "date", today, "batch", batch.ID)
	if err := o.send(ctx, batch.ID, today, unsynced); err != nil {
		errs = append(errs, err)
	}
	return errors.Join(errs...)
}

// resume resends a pending batch with the entries that still need it.
func (o *Orchestrator) resume(ctx context.Context, b model.PushBatch) error {
	var entries []model.FoodEntry
	for _, id := range b.EntryIDs {
		e, err := o.entries.Get(ctx, id)
		if errors.Is(err, store.ErrNotFound) {
			continue
		}
		if err != nil {
			return fmt.Errorf("load batch entry: %w", err)
		}
		if e.Synced {
			continue
		}
		entries = append(entries, *e)
	}

	if len(entries) == 0 {
		if err := o.batches.Abandon(ctx, b.ID); err != nil {
			return fmt.Errorf("abandon batch %s: %w", b.ID, err)
		}
		return nil
	}

	o.logger.Info("resending pending batch", "batch", b.ID, "date", b.Date, "count", len(entries))
	return o.send(ctx, b.ID, b.Date, entries)
}

// send submits a recorded batch and completes it on success. A batch the
// backend refuses with a client error is marked rejected; any other
// failure leaves it pending so the next push resends it under the same id.
func (o *Orchestrator) send(ctx context.Context, batchID, date string, entries []model.FoodEntry) error {
	req := model.PushRequest{
		BatchID: batchID,
		UserID:  o.userID,
		Date:    date,
		Entries: make([]model.PushItem, len(entries)),
	}
	for i, e := range entries {
		req.Entries[i] = PushItemFromEntry(e)
	}

	if err := o.gateway.Push(ctx, req); err != nil {
		if gateway.IsRejected(err) {
			if rerr := o.batches.Reject(ctx, batchID); rerr != nil {
				return errors.Join(fmt.Errorf("push batch %s: %w", batchID, err), rerr)
			}
			o.logger.Error("batch rejected by backend", "batch", batchID, "count", len(entries), "error", err)
		}
		return fmt.Errorf("push batch %s: %w", batchID, err)
	}
	if err := o.batches.Complete(ctx, batchID, SyncedRemoteID); err != nil {
		return fmt.Errorf("complete batch %s: %w", batchID, err)
	}
	o.logger.Info("sync completed", "batch", batchID, "count", len(entries))
	return nil
}

// Status reports the last pull and push outcomes.
func (o *Orchestrator) Status(ctx context.Context) Status {
	st := Status{
		Pull:    model.SyncState{Kind: model.SyncPull},
		Push:    model.SyncState{Kind: model.SyncPush},
		Pushing: o.pushing.Load(),
	}
	if o.state == nil {
		return st
	}
	if s, err := o.state.Get(ctx, model.SyncPull); err == nil {
		st.Pull = s
	}
	if s, err := o.state.Get(ctx, model.SyncPush); err == nil {
		st.Push = s
	}
	return st
}

func (o *Orchestrator) record(ctx context.Context, kind model.SyncKind, passErr error) {
	if o.state == nil {
		return
	}
	// Record even when the pass was cancelled.
	if err := o.state.Record(context.WithoutCancel(ctx), kind, passErr); err != nil {
		o.logger.Warn("record sync state", "kind", kind, "error", err)
	}
}

// EntryFromRow converts a remote row into a local entry. Remote rows are
// treated as already analyzed and synced.
func EntryFromRow(row model.RemoteRow) model.FoodEntry {
	remoteID := row.ID
	e := model.FoodEntry{
		ID:        row.ID,
		RemoteID:  &remoteID,
		UserID:    row.UserID,
		Date:      row.DateKey,
		PhotoURI:  row.ImageURL,
		UserHints: row.UserHints,
		MealType:  model.MealType(row.MealType),
		Analyzed:  true,
		Synced:    true,
		FoodName:  row.FoodName,
		Calories:  row.Calories,
		Protein:   row.Protein,
		Fats:      row.Fats,
		Carbs:     row.Carbs,
		Weight:    row.Weight,
		Portion:   row.PortionSize,
	}
	if e.Portion == nil {
		e.Portion = row.Portion
	}

	if t, err := time.Parse(time.RFC3339Nano, row.CreatedAt); err == nil {
		e.CreatedAt = t.UTC()
	}
	if e.Date == "" {
		e.Date, _, _ = strings.Cut(row.CreatedAt, "T")
	}
	if e.CreatedAt.IsZero() && datekey.Valid(e.Date) {
		e.CreatedAt, _ = time.Parse(time.RFC3339, e.Date+"T12:00:00Z")
	}
	return e
}

// PushItemFromEntry builds the append payload item for an analyzed entry.
func PushItemFromEntry(e model.FoodEntry) model.PushItem {
	item := model.PushItem{
		ID:       e.ID,
		Name:     deref(e.FoodName),
		Calories: derefFloat(e.Calories),
		Protein:  derefFloat(e.Protein),
		Fats:     derefFloat(e.Fats),
		Carbs:    derefFloat(e.Carbs),
		Portion:  deref(e.Portion),
		FoodType: deref(e.FoodType),
		Meal:     e.MealType,
	}
	if e.Weight != nil && *e.Weight != 0 {
		w := *e.Weight
		item.Weight = &w
	}
	if item.FoodType == "" {
		item.FoodType = "Unknown"
	}
	return item
}

func deref(s *string) string {
	if s == nil {
		return ""
	}
	return *s
}

func derefFloat(f *float64) float64 {
	if f == nil {
		return 0
	}
	return *f
}
