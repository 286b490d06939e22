package download

import (
	"context"
	"log/slog"
	"os"
	"path/filepath"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/dedup"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/transcode"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	apperrors "github.com/reshetovitsme/tg-vault-export/internal/shared/errors"
	"github.com/samber/oops"
	"github.com/spf13/afero"
	"golang.org/x/sync/semaphore"
)

const rawPrefix = "raw_"

// Fetcher acquires the raw bytes of a remote media object into a local file.
// The message source implements this.
type Fetcher interface {
	FetchMedia(ctx context.Context, ref msgdomain.MediaReference, path string) error
}

// Manager resolves download jobs into final local files. It owns the two
// concurrency gates: one bounding concurrent remote fetches (protects the
// transport), one bounding concurrent transcodes (protects CPU and disk).
// A fetch slot is released as soon as the raw bytes are on disk, before
// transcoding starts.
type Manager struct {
	fs         afero.Fs
	fetcher    Fetcher
	cache      *dedup.Cache
	workers    transcode.Set
	downloads  *semaphore.Weighted
	transcodes *semaphore.Weighted
	log        *slog.Logger
}

func NewManager(fs afero.Fs, fetcher Fetcher, cache *dedup.Cache, workers transcode.Set, concurrentDownloads, maxWorkers int, log *slog.Logger) *Manager {
	return &Manager{
		fs:         fs,
		fetcher:    fetcher,
		cache:      cache,
		workers:    workers,
		downloads:  semaphore.NewWeighted(int64(concurrentDownloads)),
		transcodes: semaphore.NewWeighted(int64(maxWorkers)),
		log:        log.With(slog.String("item", "DownloadManager")),
	}
}

// FinalPath is the deterministic output path of a job: no randomness, no time
// dependency, so re-running after a crash reproduces the same target and the
// existence check below detects prior completion.
func (m *Manager) FinalPath(job domain.DownloadJob) string {
	return filepath.Join(job.BaseDir, job.Class.Subdir(), job.Key.Name)
}

// Acquire resolves one job into a final local file path. Per-item failures
// come back as ErrDownloadFailed or ErrTranscodeFailed; the caller decides
// what a failed slot looks like.
func (m *Manager) Acquire(ctx context.Context, job domain.DownloadJob) (string, error) {
	log := m.log.With(
		slog.Int64("message_id", job.MessageID),
		slog.String("class", job.Class.String()),
		slog.Int64("media_id", job.Ref.ID),
	)

	if path, ok := m.cache.Lookup(job.Key); ok {
		if exists, _ := afero.Exists(m.fs, path); exists {
			log.Debug("Dedup cache hit", slog.String("path", path))
			return path, nil
		}
	}

	finalPath := m.FinalPath(job)
	if exists, _ := afero.Exists(m.fs, finalPath); exists {
		// Left over from an interrupted run; no need to fetch again.
		log.Debug("Final path already exists", slog.String("path", finalPath))
		m.cache.Record(job.Key, finalPath)
		return finalPath, nil
	}

	targetDir := filepath.Dir(finalPath)
	if err := m.fs.MkdirAll(targetDir, 0755); err != nil {
		return "", oops.With("dir", targetDir).Wrap(err)
	}

	rawPath := filepath.Join(targetDir, rawPrefix+job.Key.Name)
	if err := m.fetch(ctx, job.Ref, rawPath); err != nil {
		_ = m.fs.Remove(rawPath)
		log.Error("Download failed", slog.Any("error", err))
		return "", oops.With("media_id", job.Ref.ID, "cause", err.Error()).Wrap(apperrors.ErrDownloadFailed)
	}

	if err := m.transcodeRaw(ctx, job, rawPath, finalPath, log); err != nil {
		return "", err
	}

	// The final file is durably written; cleaning up the raw payload is
	// best effort. Passthrough workers rename the raw file into place, so a
	// raw path that is already gone is not a failure.
	if err := m.fs.Remove(rawPath); err != nil && !os.IsNotExist(err) {
		log.Warn("Could not remove raw file", slog.String("raw_path", rawPath), slog.Any("error", err))
	}

	m.cache.Record(job.Key, finalPath)
	return finalPath, nil
}

func (m *Manager) fetch(ctx context.Context, ref msgdomain.MediaReference, rawPath string) error {
	if err := m.downloads.Acquire(ctx, 1); err != nil {
		return err
	}
	// The slot only covers the remote fetch; transcoding must not hold it.
	defer m.downloads.Release(1)
	return m.fetcher.FetchMedia(ctx, ref, rawPath)
}

func (m *Manager) transcodeRaw(ctx context.Context, job domain.DownloadJob, rawPath, finalPath string, log *slog.Logger) error {
	worker, ok := m.workers[job.Class]
	if !ok {
		return oops.With("class", job.Class.String()).Errorf("no transcode worker for class")
	}

	if err := m.transcodes.Acquire(ctx, 1); err != nil {
		return err
	}
	defer m.transcodes.Release(1)

	err := worker.Transcode(ctx, rawPath, finalPath)
	if err == nil {
		return nil
	}

	log.Warn("Transcode failed, copying raw payload verbatim", slog.Any("error", err))
	if copyErr := transcode.CopyFile(m.fs, rawPath, finalPath); copyErr != nil {
		return oops.
			With("transcode_cause", err.Error(), "copy_cause", copyErr.Error()).
			Wrap(apperrors.ErrTranscodeFailed)
	}
	return nil
}
