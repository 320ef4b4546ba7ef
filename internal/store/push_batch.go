package store

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	"github.com/dukerupert/mealsync/internal/model"
)

// BatchStore is the ledger of push batches. A batch is recorded as pending
// before it is sent and completed, together with its entries, once the
// backend has accepted it.
type BatchStore struct {
	db  *sql.DB
	now func() time.Time
}

func NewBatchStore(db *sql.DB) *BatchStore {
	return &BatchStore{db: db, now: time.Now}
}

func (s *BatchStore) CreatePending(ctx context.Context, id, date string, entryIDs []string) (*model.PushBatch, error) {
	now := s.now().UTC()

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("begin batch: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`INSERT INTO push_batches (id, date, status, created_at) VALUES (?, ?, ?, ?)`,
		id, date, model.PushBatchPending, now.Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert batch: %w", err)
	}
	for i, eid := range entryIDs {
		_, err := tx.ExecContext(ctx,
			`INSERT INTO push_batch_entries (batch_id, entry_id, position) VALUES (?, ?, ?)`,
			id, eid, i,
		)
		if err != nil {
			return nil, fmt.Errorf("insert batch entry: %w", err)
		}
	}
	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("commit batch: %w", err)
	}

	return &model.PushBatch{
		ID:        id,
		Date:      date,
		EntryIDs:  entryIDs,
		Status:    model.PushBatchPending,
		CreatedAt: now,
	}, nil
}

// Pending returns batches that were sent, or were about to be sent, but
// never completed, oldest first.
func (s *BatchStore) Pending(ctx context.Context) ([]model.PushBatch, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, date, status, created_at FROM push_batches WHERE status = ? ORDER BY created_at, id`,
		model.PushBatchPending,
	)
	if err != nil {
		return nil, fmt.Errorf("list pending batches: %w", err)
	}

	var batches []model.PushBatch
	for rows.Next() {
		var b model.PushBatch
		var createdAt string
		if err := rows.Scan(&b.ID, &b.Date, &b.Status, &createdAt); err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		b.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdAt)
		batches = append(batches, b)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, err
	}
	rows.Close()

	for i := range batches {
		ids, err := s.entryIDs(ctx, batches[i].ID)
		if err != nil {
			return nil, err
		}
		batches[i].EntryIDs = ids
	}
	return batches, nil
}

func (s *BatchStore) entryIDs(ctx context.Context, batchID string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT entry_id FROM push_batch_entries WHERE batch_id = ? ORDER BY position`, batchID,
	)
	if err != nil {
		return nil, fmt.Errorf("list batch entries: %w", err)
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan batch entry: %w", err)
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Complete marks every entry of a pending batch synced under remoteID and
// closes the batch, in one transaction.
func (s *BatchStore) Complete(ctx context.Context, batchID, remoteID string) error {
	now := s.now().UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin complete: %w", err)
	}
	defer tx.Rollback()

	result, err := tx.ExecContext(ctx,
		`UPDATE push_batches SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		model.PushBatchCompleted, now, batchID, model.PushBatchPending,
	)
	if err != nil {
		return fmt.Errorf("complete batch: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending batch %s: %w", batchID, ErrNotFound)
	}

	_, err = tx.ExecContext(ctx,
		`UPDATE food_entries SET synced = 1, remote_id = ?
		 WHERE id IN (SELECT entry_id FROM push_batch_entries WHERE batch_id = ?)`,
		remoteID, batchID,
	)
	if err != nil {
		return fmt.Errorf("mark batch entries synced: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit complete: %w", err)
	}
	return nil
}

// Reject closes a pending batch the backend refused. Its entry links are
// kept so the entries are held back from later batches until their
// analysis changes.
func (s *BatchStore) Reject(ctx context.Context, batchID string) error {
	result, err := s.db.ExecContext(ctx,
		`UPDATE push_batches SET status = ?, completed_at = ? WHERE id = ? AND status = ?`,
		model.PushBatchRejected, s.now().UTC().Format(time.RFC3339Nano), batchID, model.PushBatchPending,
	)
	if err != nil {
		return fmt.Errorf("reject batch: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("rows affected: %w", err)
	}
	if n == 0 {
		return fmt.Errorf("pending batch %s: %w", batchID, ErrNotFound)
	}
	return nil
}

// HeldEntryIDs returns the entries linked to a pending or rejected batch.
func (s *BatchStore) HeldEntryIDs(ctx context.Context) (map[string]bool, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT e.entry_id FROM push_batch_entries e
		 JOIN push_batches b ON b.id = e.batch_id
		 WHERE b.status IN (?, ?)`,
		model.PushBatchPending, model.PushBatchRejected,
	)
	if err != nil {
		return nil, fmt.Errorf("list held entries: %w", err)
	}
	defer rows.Close()

	held := map[string]bool{}
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, fmt.Errorf("scan held entry: %w", err)
		}
		held[id] = true
	}
	return held, rows.Err()
}

// Abandon drops a batch and its entry links.
func (s *BatchStore) Abandon(ctx context.Context, batchID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin abandon: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, `DELETE FROM push_batch_entries WHERE batch_id = ?`, batchID); err != nil {
		return fmt.Errorf("delete batch entries: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM push_batches WHERE id = ?`, batchID); err != nil {
		return fmt.Errorf("delete batch: %w", err)
	}
	return tx.Commit()
}

// PruneCompleted deletes completed batches older than before and returns
// how many were removed.
func (s *BatchStore) PruneCompleted(ctx context.Context, before time.Time) (int64, error) {
	cutoff := before.UTC().Format(time.RFC3339Nano)

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, fmt.Errorf("begin prune: %w", err)
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx,
		`DELETE FROM push_batch_entries WHERE batch_id IN
		   (SELECT id FROM push_batches WHERE status = ? AND completed_at < ?)`,
		model.PushBatchCompleted, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune batch entries: %w", err)
	}
	result, err := tx.ExecContext(ctx,
		`DELETE FROM push_batches WHERE status = ? AND completed_at < ?`,
		model.PushBatchCompleted, cutoff,
	)
	if err != nil {
		return 0, fmt.Errorf("prune batches: %w", err)
	}
	n, err := result.RowsAffected()
	if err != nil {
		return 0, fmt.Errorf("rows affected: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return 0, fmt.Errorf("commit prune: %w", err)
	}
	return n, nil
}
