package pipeline

import (
	"context"
	"log/slog"
	"path/filepath"
	"strings"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/classify"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	"golang.org/x/sync/errgroup"
)

// MissedPlaceholder marks a media slot whose acquisition failed. The slot is
// kept so the per-message media count survives for downstream consumers.
const MissedPlaceholder = "[media missed]"

// Acquirer resolves a download job into a final local path. The download
// manager implements this.
type Acquirer interface {
	Acquire(ctx context.Context, job domain.DownloadJob) (string, error)
}

// Orchestrator fans the media items of one message out to the download
// manager and folds the results back into ordered markdown links. Messages
// themselves are processed sequentially by the caller; only media within a
// message runs concurrently.
type Orchestrator struct {
	acquirer Acquirer
	fanout   int
	log      *slog.Logger
}

func New(acquirer Acquirer, fanout int, log *slog.Logger) *Orchestrator {
	if fanout < 1 {
		fanout = 1
	}
	return &Orchestrator{
		acquirer: acquirer,
		fanout:   fanout,
		log:      log.With(slog.String("item", "MediaPipeline")),
	}
}

// ProcessMessage downloads and transcodes every media item of msg under
// mediaBase and returns one link per item in enumeration order. Failed items
// become placeholder links; the message text caption rides on the first link
// only. Per-item errors never escape this method.
func (o *Orchestrator) ProcessMessage(ctx context.Context, msg msgdomain.Message, mediaBase, noteBase string) []domain.MediaLink {
	jobs := make([]domain.DownloadJob, 0, len(msg.Media))
	for _, ref := range msg.Media {
		class, name, err := classify.Classify(msg.ID, ref)
		if err != nil {
			o.log.Warn("Skipping unclassifiable media item",
				slog.Int64("message_id", msg.ID),
				slog.Int64("media_id", ref.ID),
				slog.Any("error", err))
			continue
		}
		jobs = append(jobs, domain.DownloadJob{
			MessageID: msg.ID,
			Class:     class,
			Ref:       ref,
			BaseDir:   mediaBase,
			Key:       domain.ContentKey{Class: class, MediaID: ref.ID, Name: name},
		})
	}
	if len(jobs) == 0 {
		return nil
	}

	// Results are collected positionally so link order matches enumeration
	// order regardless of completion order. One failed job must not disturb
	// its siblings, so job errors are carried as values.
	paths := make([]string, len(jobs))
	failures := make([]error, len(jobs))

	var g errgroup.Group
	g.SetLimit(o.fanout)
	for i, job := range jobs {
		g.Go(func() error {
			paths[i], failures[i] = o.acquirer.Acquire(ctx, job)
			return nil
		})
	}
	_ = g.Wait()

	links := make([]domain.MediaLink, 0, len(jobs))
	for i, job := range jobs {
		var link domain.MediaLink
		if failures[i] != nil {
			o.log.Error("Media item failed",
				slog.Int64("message_id", job.MessageID),
				slog.String("class", job.Class.String()),
				slog.Any("error", failures[i]))
			link.Markdown = MissedPlaceholder
		} else {
			link.Markdown = "![](" + o.relativeLink(paths[i], noteBase) + ")"
		}
		if len(links) == 0 {
			link.Caption = msg.Text
		}
		links = append(links, link)
	}
	return links
}

// relativeLink renders path relative to the note base as a posix-style path
// with no leading slash. A path outside the base degrades to the bare
// filename rather than failing the message.
func (o *Orchestrator) relativeLink(path, noteBase string) string {
	rel, err := filepath.Rel(noteBase, path)
	if err != nil || strings.HasPrefix(rel, "..") {
		o.log.Warn("Media path is not under the note base, falling back to filename",
			slog.String("path", path),
			slog.String("note_base", noteBase))
		return filepath.Base(path)
	}
	return strings.TrimPrefix(filepath.ToSlash(rel), "/")
}
