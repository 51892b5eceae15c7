package submit

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"golang.org/x/sync/errgroup"

	"genfetch/internal/batch"
	"genfetch/internal/logging"
)

// uploadSet tracks reference uploads started for one submission.
type uploadSet struct {
	group *errgroup.Group
	ids   []string
}

// startUploads launches every reference upload and returns without waiting,
// so request shaping overlaps with the transfers. A failure cancels the
// uploads still running.
func (s *Submitter) startUploads(ctx context.Context, refs []batch.Reference) *uploadSet {
	group, groupCtx := errgroup.WithContext(ctx)
	set := &uploadSet{group: group, ids: make([]string, len(refs))}
	for i, ref := range refs {
		group.Go(func() error {
			body, err := s.deps.OpenReference(ref.Path)
			if err != nil {
				return err
			}
			defer body.Close()
			upload, err := s.deps.Remote.Upload(groupCtx, referenceName(ref), body)
			if err != nil {
				return err
			}
			set.ids[i] = upload.AssetID
			return nil
		})
	}
	return set
}

func (u *uploadSet) wait() ([]string, error) {
	if err := u.group.Wait(); err != nil {
		return nil, err
	}
	if len(u.ids) == 0 {
		return nil, nil
	}
	return append([]string(nil), u.ids...), nil
}

// release frees every upload that completed. It runs on every exit path and
// survives caller cancellation.
func (u *uploadSet) release(ctx context.Context, client Remote, logger *slog.Logger) {
	_ = u.group.Wait()
	cleanupCtx := context.WithoutCancel(ctx)
	for _, id := range u.ids {
		if id == "" {
			continue
		}
		if err := client.ReleaseUpload(cleanupCtx, id); err != nil {
			logging.WarnWithContext(logger, "reference release failed", "upload_release_failed",
				logging.String("asset_id", id),
				logging.Error(err),
				logging.String(logging.FieldErrorHint, "the service expires unreleased uploads"),
				logging.String(logging.FieldImpact, "remote storage held until expiry"),
			)
		}
	}
}

func referenceName(ref batch.Reference) string {
	if name := strings.TrimSpace(ref.Name); name != "" {
		return name
	}
	return filepath.Base(ref.Path)
}
