package store

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/dukerupert/mealsync/internal/datekey"
	"github.com/dukerupert/mealsync/internal/model"
	"github.com/google/uuid"
)

// OfflineUserID owns entries logged before a user identity is known.
const OfflineUserID = "offline-user"

type EntryStore struct {
	db     *sql.DB
	userID string
	logger *slog.Logger
	now    func() time.Time
	newID  func() string
}

func NewEntryStore(db *sql.DB, userID string, logger *slog.Logger) *EntryStore {
	if userID == "" {
		userID = OfflineUserID
	}
	if logger == nil {
		logger = slog.Default()
	}
	return &EntryStore{
		db:     db,
		userID: userID,
		logger: logger,
		now:    time.Now,
		newID:  uuid.NewString,
	}
}

// SetClock replaces the wall clock used for timestamps and date keys.
func (s *EntryStore) SetClock(now func() time.Time) {
	s.now = now
}

// UserID returns the user new entries are attributed to.
func (s *EntryStore) UserID() string {
	return s.userID
}

type execer interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
}

const entryCols = `id, remote_id, user_id, created_at, date, photo_uri, user_hints, meal_type,
	analyzed, synced, calories, protein, fats, carbs, food_name, food_type, portion, weight`

func scanEntry(scanner interface{ Scan(...any) error }) (*model.FoodEntry, error) {
	var e model.FoodEntry
	var remoteID, foodName, foodType, portion sql.NullString
	var calories, protein, fats, carbs, weight sql.NullFloat64
	var createdAt, mealType string
	var analyzed, synced int

	err := scanner.Scan(
		&e.ID, &remoteID, &e.UserID, &createdAt, &e.Date, &e.PhotoURI, &e.UserHints, &mealType,
		&analyzed, &synced, &calories, &protein, &fats, &carbs, &foodName, &foodType, &portion, &weight,
	)
	if err != nil {
		return nil, err
	}

	t, err := time.Parse(time.RFC3339Nano, createdAt)
	if err != nil {
		return nil, fmt.Errorf("parse created_at %q: %w", createdAt, err)
	}
	e.CreatedAt = t
	e.MealType = model.MealType(mealType)
	e.Analyzed = analyzed != 0
	e.Synced = synced != 0
	e.RemoteID = nullString(remoteID)
	e.FoodName = nullString(foodName)
	e.FoodType = nullString(foodType)
	e.Portion = nullString(portion)
	e.Calories = nullFloat(calories)
	e.Protein = nullFloat(protein)
	e.Fats = nullFloat(fats)
	e.Carbs = nullFloat(carbs)
	e.Weight = nullFloat(weight)
	return &e, nil
}

func insertEntry(ctx context.Context, ex execer, e *model.FoodEntry) error {
	_, err := ex.ExecContext(ctx,
		`INSERT INTO food_entries (`+entryCols+`)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, e.RemoteID, e.UserID, e.CreatedAt.UTC().Format(time.RFC3339Nano), e.Date,
		e.PhotoURI, e.UserHints, string(e.MealType), boolInt(e.Analyzed), boolInt(e.Synced),
		e.Calories, e.Protein, e.Fats, e.Carbs, e.FoodName, e.FoodType, e.Portion, e.Weight,
	)
	if err != nil {
		return fmt.Errorf("insert entry %s: %w", e.ID, err)
	}
	return nil
}

// LoadAll returns every entry in insertion order. Read failures are logged
// and reported as an empty diary.
func (s *EntryStore) LoadAll(ctx context.Context) []model.FoodEntry {
	entries, err := s.list(ctx, `SELECT `+entryCols+` FROM food_entries ORDER BY seq`)
	if err != nil {
		s.logger.Error("load entries", "error", err)
		return []model.FoodEntry{}
	}
	return entries
}

// SaveAll atomically replaces the whole diary with entries.
func (s *EntryStore) SaveAll(ctx context.Context, entries []model.FoodEntry) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin save: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM food_entries`); err != nil {
		return fmt.Errorf("clear entries: %w", err)
	}
	for i := range entries {
		if err := insertEntry(ctx, tx, &entries[i]); err != nil {
			return err
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit save: %w", err)
	}
	return nil
}

// Query returns entries whose date lies in [from, to]. An empty bound is
// open; with no bounds every entry is returned.
func (s *EntryStore) Query(ctx context.Context, from, to string) ([]model.FoodEntry, error) {
	var where []string
	var args []any
	if from != "" {
		where = append(where, "date >= ?")
		args = append(args, from)
	}
	if to != "" {
		where = append(where, "date <= ?")
		args = append(args, to)
	}

	q := `SELECT ` + entryCols + ` FROM food_entries`
	if len(where) > 0 {
		q += ` WHERE ` + strings.Join(where, " AND ")
	}
	q += ` ORDER BY seq`

	entries, err := s.list(ctx, q, args...)
	if err != nil {
		return nil, fmt.Errorf("query entries: %w", err)
	}
	return entries, nil
}

func (s *EntryStore) Get(ctx context.Context, id string) (*model.FoodEntry, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+entryCols+` FROM food_entries WHERE id = ?`, id)
	e, err := scanEntry(row)
	if err == sql.ErrNoRows {
		return nil, fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	if err != nil {
		return nil, fmt.Errorf("get entry: %w", err)
	}
	return e, nil
}

// Append logs a new, unanalyzed and unsynced entry dated by the local
// calendar day.
func (s *EntryStore) Append(ctx context.Context, photoURI, hints string, mealType model.MealType) (*model.FoodEntry, error) {
	if !mealType.Valid() {
		return nil, fmt.Errorf("invalid meal type %q", mealType)
	}

	now := s.now()
	e := &model.FoodEntry{
		ID:        s.newID(),
		UserID:    s.userID,
		CreatedAt: now.UTC(),
		Date:      datekey.Key(now.Local()),
		PhotoURI:  photoURI,
		UserHints: hints,
		MealType:  mealType,
	}
	if err := insertEntry(ctx, s.db, e); err != nil {
		return nil, err
	}
	return e, nil
}

// UpdateAnalysis records analysis results on an entry in one statement.
// A corrected entry is released from any batch the backend rejected.
func (s *EntryStore) UpdateAnalysis(ctx context.Context, id string, a model.Analysis) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin analysis: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE food_entries SET analyzed = 1, calories = ?, protein = ?, fats = ?, carbs = ?,
		   food_name = ?, food_type = ?, portion = ?, weight = ?
		 WHERE id = ?`,
		a.Calories, a.Protein, a.Fats, a.Carbs, a.FoodName, a.FoodType, a.Portion, a.Weight, id,
	)
	if err != nil {
		return fmt.Errorf("update analysis: %w", err)
	}
	if err := requireRow(result, id); err != nil {
		return err
	}

	_, err = tx.ExecContext(ctx,
		`DELETE FROM push_batch_entries WHERE entry_id = ?
		   AND batch_id IN (SELECT id FROM push_batches WHERE status = ?)`,
		id, model.PushBatchRejected,
	)
	if err != nil {
		return fmt.Errorf("release rejected entry: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit analysis: %w", err)
	}
	return nil
}

func (s *EntryStore) MarkSynced(ctx context.Context, id, remoteID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE food_entries SET synced = 1, remote_id = ? WHERE id = ?`, remoteID, id,
	)
	if err != nil {
		return fmt.Errorf("mark synced: %w", err)
	}
	return requireRow(result, id)
}

func (s *EntryStore) Remove(ctx context.Context, id string) error {
	result, err := s.db.ExecContext(ctx, `DELETE FROM food_entries WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete entry: %w", err)
	}
	return requireRow(result, id)
}

// InsertRemote adds entries that have no local counterpart. An entry
// matches an existing one by local id, or by remote id when that remote id
// names a single backend row. Existing entries are never overwritten. All
// inserts share one transaction, which is only committed when something
// was inserted.
func (s *EntryStore) InsertRemote(ctx context.Context, entries []model.FoodEntry) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin merge: %w", err)
	}
	defer tx.Rollback()

	inserted := 0
	for i := range entries {
		e := &entries[i]
		rowID := e.RowRemoteID()
		if rowID == "" {
			rowID = e.ID
		}

		var exists int
		err := tx.QueryRowContext(ctx,
			`SELECT EXISTS(SELECT 1 FROM food_entries
			   WHERE id IN (?, ?) OR remote_id IN (?, ?))`,
			e.ID, rowID, e.ID, rowID,
		).Scan(&exists)
		if err != nil {
			return 0, fmt.Errorf("check entry %s: %w", e.ID, err)
		}
		if exists != 0 {
			continue
		}
		if err := insertEntry(ctx, tx, e); err != nil {
			return 0, err
		}
		inserted++
	}

	if inserted == 0 {
		return 0, nil
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit merge: %w", err)
	}
	return inserted, nil
}

// Summary aggregates one day of entries against target.
func (s *EntryStore) Summary(ctx context.Context, date string, target *model.NutritionTarget) (*model.DailyNutritionSummary, error) {
	entries, err := s.Query(ctx, date, date)
	if err != nil {
		return nil, err
	}
	summary := model.Summarize(date, entries, target)
	return &summary, nil
}

func (s *EntryStore) list(ctx context.Context, q string, args ...any) ([]model.FoodEntry, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	entries := []model.FoodEntry{}
	for rows.Next() {
		e, err := scanEntry(rows)
		if err != nil {
			return nil, fmt.Errorf("scan entry: %w", err)
		}
		entries = append(entries, *e)
	}
	return entries, rows.Err()
}

func requireRow(result sql.Result, id string) error {
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("entry %s: %w", id, ErrNotFound)
	}
	return nil
}

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}

func nullString(ns sql.NullString) *string {
	if !ns.Valid {
		return nil
	}
	return &ns.String
}

func nullFloat(nf sql.NullFloat64) *float64 {
	if !nf.Valid {
		return nil
	}
	return &nf.Float64
}
