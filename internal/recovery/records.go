package recovery

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"genfetch/internal/batch"
	"genfetch/internal/logging"
	"genfetch/internal/services"
)

const batchColumns = "id, identity, progress_id, metadata_json, groups_json, created_at"

// Record persists b as potentially interrupted. Recording the same batch id
// again replaces the stored projection.
func (s *Store) Record(ctx context.Context, b batch.Batch) error {
	if err := b.Validate(); err != nil {
		return services.Wrap(services.ErrValidation, "recovery", "record", "invalid batch", err)
	}
	metadata, groups, err := encodeBatch(b)
	if err != nil {
		return err
	}
	created := b.CreatedAt.UTC()
	if created.IsZero() {
		created = s.now().UTC()
	}
	now := s.timestamp()
	_, err = s.execWithRetry(ctx, `
INSERT INTO batches (id, identity, progress_id, metadata_json, groups_json, created_at, updated_at)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(id) DO UPDATE SET
    identity = excluded.identity,
    progress_id = excluded.progress_id,
    metadata_json = excluded.metadata_json,
    groups_json = excluded.groups_json,
    updated_at = excluded.updated_at`,
		b.ID, b.Identity, nullableString(b.ProgressID), metadata, groups,
		created.Format(timeLayout), now,
	)
	if err != nil {
		return fmt.Errorf("record batch %s: %w", b.ID, err)
	}
	return nil
}

// Update replaces the pending groups of a recorded batch. An empty batch is
// resolved instead.
func (s *Store) Update(ctx context.Context, b batch.Batch) error {
	if b.Empty() {
		return s.Resolve(ctx, b.ID)
	}
	_, groups, err := encodeBatch(b)
	if err != nil {
		return err
	}
	res, err := s.execWithRetry(ctx,
		"UPDATE batches SET groups_json = ?, updated_at = ? WHERE id = ?",
		groups, s.timestamp(), b.ID,
	)
	if err != nil {
		return fmt.Errorf("update batch %s: %w", b.ID, err)
	}
	if rows, err := res.RowsAffected(); err == nil && rows == 0 {
		return services.Wrap(services.ErrNotFound, "recovery", "update", "batch "+b.ID+" is not recorded", nil)
	}
	return nil
}

// Resolve removes a batch and every URL cached on its behalf. Resolving an
// unknown batch is a no-op.
func (s *Store) Resolve(ctx context.Context, batchID string) error {
	err := s.inTx(ctx, func(tx *sql.Tx) error {
		if _, err := tx.ExecContext(ctx, "DELETE FROM url_cache WHERE batch_id = ?", batchID); err != nil {
			return err
		}
		_, err := tx.ExecContext(ctx, "DELETE FROM batches WHERE id = ?", batchID)
		return err
	})
	if err != nil {
		return fmt.Errorf("resolve batch %s: %w", batchID, err)
	}
	return nil
}

// Get loads one batch. The boolean is false when no such batch is recorded
// or the stored row was corrupt and has been dropped.
func (s *Store) Get(ctx context.Context, batchID string) (batch.Batch, bool, error) {
	ctx = ensureContext(ctx)
	row := s.db.QueryRowContext(ctx, "SELECT "+batchColumns+" FROM batches WHERE id = ?", batchID)
	rec, err := scanRecord(row)
	if errors.Is(err, sql.ErrNoRows) {
		return batch.Batch{}, false, nil
	}
	if err != nil {
		return batch.Batch{}, false, fmt.Errorf("get batch %s: %w", batchID, err)
	}
	b, err := rec.decode()
	if err != nil {
		s.dropCorrupt(ctx, rec, err)
		return batch.Batch{}, false, nil
	}
	return b, true, nil
}

// Enumerate returns every recorded batch for identity, oldest first.
func (s *Store) Enumerate(ctx context.Context, identity string) ([]batch.Batch, error) {
	return s.list(ctx, "SELECT "+batchColumns+" FROM batches WHERE identity = ? ORDER BY created_at, id", identity)
}

// EnumerateAll returns every recorded batch ordered by identity then age.
func (s *Store) EnumerateAll(ctx context.Context) ([]batch.Batch, error) {
	return s.list(ctx, "SELECT "+batchColumns+" FROM batches ORDER BY identity, created_at, id")
}

func (s *Store) list(ctx context.Context, query string, args ...any) ([]batch.Batch, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("list batches: %w", err)
	}
	var records []record
	for rows.Next() {
		rec, err := scanRecord(rows)
		if err != nil {
			rows.Close()
			return nil, fmt.Errorf("scan batch: %w", err)
		}
		records = append(records, rec)
	}
	if err := rows.Err(); err != nil {
		rows.Close()
		return nil, fmt.Errorf("iterate batches: %w", err)
	}
	rows.Close()

	batches := make([]batch.Batch, 0, len(records))
	for _, rec := range records {
		b, err := rec.decode()
		if err != nil {
			s.dropCorrupt(ctx, rec, err)
			continue
		}
		batches = append(batches, b)
	}
	return batches, nil
}

func (s *Store) dropCorrupt(ctx context.Context, rec record, cause error) {
	err := services.Wrap(services.ErrRecoveryCorruption, "recovery", "decode", "batch "+rec.id, cause)
	logging.WarnWithContext(s.logger, "dropping unreadable recovery record", "recovery_corrupt",
		logging.BatchID(rec.id),
		logging.Identity(rec.identity),
		logging.Error(err),
		logging.String(logging.FieldImpact, "pending results of this batch are lost"),
		logging.String(logging.FieldErrorHint, "regenerate the affected asset"),
	)
	if resolveErr := s.Resolve(ctx, rec.id); resolveErr != nil {
		s.logger.Warn("failed to delete corrupt recovery record",
			logging.BatchID(rec.id),
			logging.Error(resolveErr),
		)
	}
}

type record struct {
	id         string
	identity   string
	progressID string
	metadata   string
	groups     string
	createdRaw string
}

func scanRecord(scanner interface{ Scan(dest ...any) error }) (record, error) {
	var (
		rec        record
		progressID sql.NullString
	)
	if err := scanner.Scan(&rec.id, &rec.identity, &progressID, &rec.metadata, &rec.groups, &rec.createdRaw); err != nil {
		return record{}, err
	}
	rec.progressID = progressID.String
	return rec, nil
}

func (r record) decode() (batch.Batch, error) {
	var metadata batch.Metadata
	if err := json.Unmarshal([]byte(r.metadata), &metadata); err != nil {
		return batch.Batch{}, fmt.Errorf("metadata: %w", err)
	}
	var groups []batch.Group
	if err := json.Unmarshal([]byte(r.groups), &groups); err != nil {
		return batch.Batch{}, fmt.Errorf("groups: %w", err)
	}
	b := batch.Batch{
		ID:         r.id,
		Identity:   r.identity,
		ProgressID: r.progressID,
		Retryable:  true,
		Metadata:   metadata,
		Groups:     groups,
		CreatedAt:  parseTimeString(r.createdRaw),
	}
	if err := b.Validate(); err != nil {
		return batch.Batch{}, err
	}
	return b, nil
}

func encodeBatch(b batch.Batch) (string, string, error) {
	metadata, err := json.Marshal(b.Metadata)
	if err != nil {
		return "", "", fmt.Errorf("encode metadata: %w", err)
	}
	groups := b.Groups
	if groups == nil {
		groups = []batch.Group{}
	}
	encodedGroups, err := json.Marshal(groups)
	if err != nil {
		return "", "", fmt.Errorf("encode groups: %w", err)
	}
	return string(metadata), string(encodedGroups), nil
}

func nullableString(value string) any {
	if value == "" {
		return nil
	}
	return value
}
