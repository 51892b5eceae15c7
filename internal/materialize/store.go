package materialize

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/url"
	"path"
	"path/filepath"
	"strings"
	"time"

	"gocloud.dev/blob"
	_ "gocloud.dev/blob/fileblob"
	"gocloud.dev/gcerrors"

	"genfetch/internal/batch"
	"genfetch/internal/config"
	"genfetch/internal/logging"
)

const (
	targetMarker   = ".genfetch-target"
	artifactPrefix = "jobs/"
	backupLayout   = "20060102T150405.000000000Z"
)

// Fetcher opens the bytes behind a resolved download URL.
type Fetcher interface {
	Fetch(ctx context.Context, rawURL string) (io.ReadCloser, error)
}

// Store applies artifacts to asset targets.
type Store struct {
	artifacts *blob.Bucket
	assets    *blob.Bucket
	backups   *blob.Bucket
	fetcher   Fetcher
	logger    *slog.Logger
	now       func() time.Time
}

// New wraps already opened buckets. The store takes ownership of them.
func New(artifacts, assets, backups *blob.Bucket, fetcher Fetcher, logger *slog.Logger) *Store {
	if logger == nil {
		logger = logging.NewNop()
	}
	return &Store{
		artifacts: artifacts,
		assets:    assets,
		backups:   backups,
		fetcher:   fetcher,
		logger:    logging.NewComponentLogger(logger, "materialize"),
		now:       time.Now,
	}
}

// Open opens the buckets named by cfg.
func Open(ctx context.Context, cfg *config.Config, fetcher Fetcher, logger *slog.Logger) (*Store, error) {
	artifacts, err := blob.OpenBucket(ctx, cfg.Storage.ArtifactsURL)
	if err != nil {
		return nil, fmt.Errorf("open artifact store %s: %w", cfg.Storage.ArtifactsURL, err)
	}
	assets, err := blob.OpenBucket(ctx, cfg.Storage.AssetsURL)
	if err != nil {
		_ = artifacts.Close()
		return nil, fmt.Errorf("open asset bucket %s: %w", cfg.Storage.AssetsURL, err)
	}
	backupURL := (&url.URL{Scheme: "file", Path: filepath.ToSlash(cfg.Paths.BackupDir)}).String()
	backups, err := blob.OpenBucket(ctx, backupURL)
	if err != nil {
		_ = artifacts.Close()
		_ = assets.Close()
		return nil, fmt.Errorf("open backup bucket %s: %w", backupURL, err)
	}
	return New(artifacts, assets, backups, fetcher, logger), nil
}

// Close releases every bucket.
func (s *Store) Close() error {
	return errors.Join(s.artifacts.Close(), s.assets.Close(), s.backups.Close())
}

// TargetPrefix validates identity and returns its key prefix in the asset bucket.
func TargetPrefix(identity string) (string, error) {
	cleaned := strings.Trim(path.Clean("/"+strings.TrimSpace(identity)), "/")
	if cleaned == "" || cleaned == "." {
		return "", fmt.Errorf("invalid target identity %q", identity)
	}
	for _, part := range strings.Split(cleaned, "/") {
		if strings.HasPrefix(part, ".") {
			return "", fmt.Errorf("invalid target identity %q: hidden path segment", identity)
		}
	}
	return cleaned + "/", nil
}

// CreateTarget registers identity as a target.
func (s *Store) CreateTarget(ctx context.Context, identity string) error {
	prefix, err := TargetPrefix(identity)
	if err != nil {
		return err
	}
	if err := s.assets.WriteAll(ctx, prefix+targetMarker, []byte(identity+"\n"), nil); err != nil {
		return fmt.Errorf("create target %s: %w", identity, err)
	}
	return nil
}

// TargetExists reports whether identity is a known target: either it was
// created explicitly or it already holds objects.
func (s *Store) TargetExists(ctx context.Context, identity string) (bool, error) {
	prefix, err := TargetPrefix(identity)
	if err != nil {
		return false, err
	}
	iter := s.assets.List(&blob.ListOptions{Prefix: prefix})
	_, err = iter.Next(ctx)
	if errors.Is(err, io.EOF) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("check target %s: %w", identity, err)
	}
	return true, nil
}

// SaveBackup copies the current target content into the backup bucket under
// a timestamped prefix. It reports false when there was nothing to back up.
func (s *Store) SaveBackup(ctx context.Context, identity string) (bool, error) {
	prefix, err := TargetPrefix(identity)
	if err != nil {
		return false, err
	}
	stamp := s.now().UTC().Format(backupLayout)
	copied := 0
	iter := s.assets.List(&blob.ListOptions{Prefix: prefix})
	for {
		obj, err := iter.Next(ctx)
		if errors.Is(err, io.EOF) {
			break
		}
		if err != nil {
			return false, fmt.Errorf("backup %s: list: %w", identity, err)
		}
		if obj.IsDir || path.Base(obj.Key) == targetMarker {
			continue
		}
		dest := prefix + stamp + "/" + strings.TrimPrefix(obj.Key, prefix)
		if err := copyObject(ctx, s.assets, obj.Key, s.backups, dest); err != nil {
			return false, fmt.Errorf("backup %s: %w", identity, err)
		}
		copied++
	}
	if copied > 0 {
		s.logger.Info("target backed up",
			logging.Identity(identity),
			logging.Int("objects", copied),
			logging.String("backup", prefix+stamp),
		)
	}
	return copied > 0, nil
}

// ArtifactKey is where the fetched bytes of jobID live in the artifact store.
func ArtifactKey(jobID string) string {
	return artifactPrefix + jobID
}

// Cached reports whether jobID's bytes are in the artifact store.
func (s *Store) Cached(ctx context.Context, jobID string) (bool, error) {
	return s.artifacts.Exists(ctx, ArtifactKey(jobID))
}

// Cache fetches rawURL into the artifact store unless jobID is already there.
// It reports whether bytes were fetched.
func (s *Store) Cache(ctx context.Context, jobID, rawURL string) (bool, error) {
	key := ArtifactKey(jobID)
	exists, err := s.artifacts.Exists(ctx, key)
	if err != nil {
		return false, fmt.Errorf("cache job %s: %w", jobID, err)
	}
	if exists {
		return false, nil
	}
	if s.fetcher == nil {
		return false, fmt.Errorf("cache job %s: no fetcher configured", jobID)
	}
	body, err := s.fetcher.Fetch(ctx, rawURL)
	if err != nil {
		return false, fmt.Errorf("cache job %s: %w", jobID, err)
	}
	defer body.Close()

	writer, err := s.artifacts.NewWriter(ctx, key, nil)
	if err != nil {
		return false, fmt.Errorf("cache job %s: open writer: %w", jobID, err)
	}
	if _, err := io.Copy(writer, body); err != nil {
		_ = writer.Close()
		_ = s.artifacts.Delete(context.WithoutCancel(ctx), key)
		return false, fmt.Errorf("cache job %s: write: %w", jobID, err)
	}
	if err := writer.Close(); err != nil {
		return false, fmt.Errorf("cache job %s: commit: %w", jobID, err)
	}
	return true, nil
}

// TargetKey names where an artifact lands inside its target.
func TargetKey(prefix string, kind batch.Kind, artifact batch.Artifact) string {
	ext := path.Ext(urlPath(artifact.URL))
	if ext == "" {
		ext = kind.Traits().Extension
	}
	return prefix + artifact.JobID + "_" + artifact.Channel + ext
}

// ApplyArtifact writes artifact onto identity's target, fetching the bytes
// first when they are not in the artifact store. The stored bytes are
// consumed on success.
func (s *Store) ApplyArtifact(ctx context.Context, identity string, kind batch.Kind, artifact batch.Artifact) (bool, error) {
	prefix, err := TargetPrefix(identity)
	if err != nil {
		return false, err
	}
	if _, err := s.Cache(ctx, artifact.JobID, artifact.URL); err != nil {
		return false, err
	}
	key := ArtifactKey(artifact.JobID)
	dest := TargetKey(prefix, kind, artifact)
	if err := copyObject(ctx, s.artifacts, key, s.assets, dest); err != nil {
		return false, fmt.Errorf("apply job %s to %s: %w", artifact.JobID, identity, err)
	}
	if err := s.artifacts.Delete(ctx, key); err != nil && gcerrors.Code(err) != gcerrors.NotFound {
		s.logger.Debug("artifact cleanup failed", logging.JobID(artifact.JobID), logging.Error(err))
	}
	s.logger.Debug("artifact applied",
		logging.Identity(identity),
		logging.JobID(artifact.JobID),
		logging.Channel(artifact.Channel),
		logging.String("key", dest),
	)
	return true, nil
}

func copyObject(ctx context.Context, src *blob.Bucket, srcKey string, dst *blob.Bucket, dstKey string) error {
	reader, err := src.NewReader(ctx, srcKey, nil)
	if err != nil {
		return fmt.Errorf("open %s: %w", srcKey, err)
	}
	defer reader.Close()
	writer, err := dst.NewWriter(ctx, dstKey, &blob.WriterOptions{ContentType: reader.ContentType()})
	if err != nil {
		return fmt.Errorf("create %s: %w", dstKey, err)
	}
	if _, err := io.Copy(writer, reader); err != nil {
		_ = writer.Close()
		return fmt.Errorf("copy %s: %w", srcKey, err)
	}
	if err := writer.Close(); err != nil {
		return fmt.Errorf("commit %s: %w", dstKey, err)
	}
	return nil
}

func urlPath(raw string) string {
	parsed, err := url.Parse(raw)
	if err != nil {
		return ""
	}
	return parsed.Path
}
