package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealsync/internal/model"
)

type SyncStateStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewSyncStateStore(db *sql.DB) *SyncStateStore {
	return &SyncStateStore{db: db, now: time.Now}
}

// Record stores the outcome of a sync pass. A nil err counts as a success
// and clears the last error.
func (s *SyncStateStore) Record(ctx context.Context, kind model.SyncKind, passErr error) error {
	now := s.now().UTC().Format(time.RFC3339Nano)

	var err error
	if passErr == nil {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sync_state (kind, last_attempt, last_success, last_error) VALUES (?, ?, ?, '')
			 ON CONFLICT(kind) DO UPDATE SET last_attempt = excluded.last_attempt,
			   last_success = excluded.last_success, last_error = ''`,
			kind, now, now,
		)
	} else {
		_, err = s.db.ExecContext(ctx,
			`INSERT INTO sync_state (kind, last_attempt, last_error) VALUES (?, ?, ?)
			 ON CONFLICT(kind) DO UPDATE SET last_attempt = excluded.last_attempt,
			   last_error = excluded.last_error`,
			kind, now, passErr.Error(),
		)
	}
	if err != nil {
		return fmt.Errorf("record sync state: %w", err)
	}
	return nil
}

// Get returns the recorded state for kind. A kind that never ran yields a
// state with only Kind set.
func (s *SyncStateStore) Get(ctx context.Context, kind model.SyncKind) (model.SyncState, error) {
	st := model.SyncState{Kind: kind}
	var attempt, success sql.NullString
	err := s.db.QueryRowContext(ctx,
		`SELECT last_attempt, last_success, last_error FROM sync_state WHERE kind = ?`, kind,
	).Scan(&attempt, &success, &st.LastError)
	if err == sql.ErrNoRows {
		return st, nil
	}
	if err != nil {
		return st, fmt.Errorf("get sync state: %w", err)
	}
	st.LastAttempt = parseTime(attempt)
	st.LastSuccess = parseTime(success)
	return st, nil
}

func parseTime(ns sql.NullString) *time.Time {
	if !ns.Valid {
		return nil
	}
	t, err := time.Parse(time.RFC3339Nano, ns.String)
	if err != nil {
		return nil
	}
	return &t
}
