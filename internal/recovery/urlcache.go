package recovery

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"strings"
)

// CachedURL is a resolved download URL that has not been consumed yet.
type CachedURL struct {
	JobID   string
	BatchID string
	URL     string
}

// CacheURL stores the resolved download URL of jobID on behalf of batchID.
// Re-caching a job keeps the first URL.
func (s *Store) CacheURL(ctx context.Context, batchID, jobID, rawURL string) error {
	jobID = strings.TrimSpace(jobID)
	rawURL = strings.TrimSpace(rawURL)
	if jobID == "" || rawURL == "" {
		return errors.New("cache url: job id and url are required")
	}
	_, err := s.execWithRetry(ctx,
		"INSERT INTO url_cache (job_id, batch_id, url, created_at) VALUES (?, ?, ?, ?) ON CONFLICT(job_id) DO NOTHING",
		jobID, batchID, rawURL, s.timestamp(),
	)
	if err != nil {
		return fmt.Errorf("cache url for job %s: %w", jobID, err)
	}
	return nil
}

// LookupURL returns the cached URL for jobID, if any.
func (s *Store) LookupURL(ctx context.Context, jobID string) (string, bool, error) {
	ctx = ensureContext(ctx)
	var rawURL string
	err := s.db.QueryRowContext(ctx, "SELECT url FROM url_cache WHERE job_id = ?", jobID).Scan(&rawURL)
	if errors.Is(err, sql.ErrNoRows) {
		return "", false, nil
	}
	if err != nil {
		return "", false, fmt.Errorf("lookup url for job %s: %w", jobID, err)
	}
	return rawURL, true, nil
}

// HasCachedURL reports whether jobID already has a resolved URL.
func (s *Store) HasCachedURL(ctx context.Context, jobID string) (bool, error) {
	_, ok, err := s.LookupURL(ctx, jobID)
	return ok, err
}

// ForgetURLs removes cached URLs once their artifacts have been consumed.
func (s *Store) ForgetURLs(ctx context.Context, jobIDs ...string) error {
	if len(jobIDs) == 0 {
		return nil
	}
	args := make([]any, len(jobIDs))
	for i, id := range jobIDs {
		args[i] = id
	}
	query := "DELETE FROM url_cache WHERE job_id IN (" + makePlaceholders(len(jobIDs)) + ")"
	if _, err := s.execWithRetry(ctx, query, args...); err != nil {
		return fmt.Errorf("forget urls: %w", err)
	}
	return nil
}

// PendingURLs lists every cached URL, oldest first.
func (s *Store) PendingURLs(ctx context.Context) ([]CachedURL, error) {
	ctx = ensureContext(ctx)
	rows, err := s.db.QueryContext(ctx, "SELECT job_id, batch_id, url FROM url_cache ORDER BY created_at, job_id")
	if err != nil {
		return nil, fmt.Errorf("list cached urls: %w", err)
	}
	defer rows.Close()

	var out []CachedURL
	for rows.Next() {
		var entry CachedURL
		if err := rows.Scan(&entry.JobID, &entry.BatchID, &entry.URL); err != nil {
			return nil, fmt.Errorf("scan cached url: %w", err)
		}
		out = append(out, entry)
	}
	return out, rows.Err()
}
