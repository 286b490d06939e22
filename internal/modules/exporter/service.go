package exporter

import (
	"context"
	"errors"
	"log/slog"
	"path/filepath"
	"sync"
	"time"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/exportcache"
	mediadomain "github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/pipeline"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/notes"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/replylink"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/source"
	"github.com/reshetovitsme/tg-vault-export/internal/shared/config"
	apperrors "github.com/reshetovitsme/tg-vault-export/internal/shared/errors"
	"github.com/samber/oops"
	"github.com/spf13/afero"
)

// EntityStats summarizes one entity's export run.
type EntityStats struct {
	Entity   source.Entity
	Exported int
	Total    int
}

// Service drives the export of configured targets: resolve the entity,
// stream its history, run media through the pipeline, write notes, keep the
// cache current and finish with the reply-link pass. Runs are serialized;
// a second caller blocks until the current run finishes.
type Service struct {
	cfg     *config.Config
	src     source.Source
	pipe    *pipeline.Orchestrator
	writer  *notes.Writer
	scanner *notes.Scanner
	linker  *replylink.Linker
	cache   *exportcache.Cache
	fs      afero.Fs
	log     *slog.Logger

	runMu  sync.Mutex
	ctx    context.Context
	cancel context.CancelFunc
	wg     sync.WaitGroup
}

func New(
	cfg *config.Config,
	src source.Source,
	pipe *pipeline.Orchestrator,
	writer *notes.Writer,
	scanner *notes.Scanner,
	linker *replylink.Linker,
	cache *exportcache.Cache,
	fs afero.Fs,
	log *slog.Logger,
) *Service {
	ctx, cancel := context.WithCancel(context.Background())
	return &Service{
		cfg:     cfg,
		src:     src,
		pipe:    pipe,
		writer:  writer,
		scanner: scanner,
		linker:  linker,
		cache:   cache,
		fs:      fs,
		log:     log.With(slog.String("item", "Exporter")),
		ctx:     ctx,
		cancel:  cancel,
	}
}

// Start launches the periodic cache save loop.
func (s *Service) Start() {
	interval := s.cfg.CacheSaveIntervalDuration()
	if interval <= 0 {
		return
	}
	s.wg.Add(1)
	go s.saveLoop(interval)
}

// Stop halts the save loop and flushes the cache.
func (s *Service) Stop() {
	s.cancel()
	s.wg.Wait()
	if err := s.cache.Save(); err != nil {
		s.log.Error("Failed to save cache on shutdown", slog.Any("error", err))
	}
}

// ExportAll exports every configured target in order. A failing target is
// logged and does not stop the remaining ones; the first error is returned
// after all targets ran.
func (s *Service) ExportAll(ctx context.Context) ([]EntityStats, error) {
	var firstErr error
	stats := make([]EntityStats, 0, len(s.cfg.ExportTargets))
	for _, target := range s.cfg.ExportTargets {
		if ctx.Err() != nil {
			return stats, ctx.Err()
		}
		st, err := s.ExportTarget(ctx, target)
		if err != nil {
			s.log.Error("Export target failed",
				slog.String("target", target),
				slog.Any("error", err))
			if firstErr == nil {
				firstErr = err
			}
			continue
		}
		stats = append(stats, st)
	}
	return stats, firstErr
}

// ExportTarget exports a single identifier (username, link, numeric ID or
// "me") end to end.
func (s *Service) ExportTarget(ctx context.Context, identifier string) (EntityStats, error) {
	s.runMu.Lock()
	defer s.runMu.Unlock()

	entity, err := s.src.Resolve(ctx, identifier)
	if err != nil {
		return EntityStats{}, oops.With("target", identifier).Wrap(err)
	}
	s.cache.SetEntityInfo(entity.ID, entity.Name, entity.Type)

	exportPath := s.cfg.ExportPathForEntity(entity.ID, entity.Name)
	mediaPath := s.cfg.MediaPathForEntity(entity.ID, entity.Name)

	s.seedFromVault(entity.ID, exportPath)
	if s.cfg.MediaDownload {
		if err := s.ensureMediaDirs(mediaPath); err != nil {
			return EntityStats{}, err
		}
	}

	var minID int64
	if s.cfg.OnlyNew {
		minID = s.cache.LastProcessedID(entity.ID)
	}
	s.log.Info("Export started",
		slog.String("entity", entity.Name),
		slog.Int64("entity_id", entity.ID),
		slog.Int64("min_id", minID))

	stats := EntityStats{Entity: entity}
	for msg, err := range s.src.Messages(ctx, entity, minID) {
		if err != nil {
			return stats, oops.With("entity_id", entity.ID).Wrap(err)
		}
		stats.Total++
		if s.cache.IsProcessed(entity.ID, msg.ID) {
			continue
		}

		s.processMessage(ctx, entity, msg, exportPath, mediaPath)
		stats.Exported++

		if s.cfg.MessageBatchSize > 0 && stats.Exported%s.cfg.MessageBatchSize == 0 {
			if err := s.cache.Save(); err != nil {
				s.log.Error("Failed to save cache", slog.Any("error", err))
			}
		}
	}

	if err := s.linker.LinkReplies(exportPath, s.cache.ProcessedMessages(entity.ID)); err != nil {
		s.log.Error("Reply linking failed",
			slog.Int64("entity_id", entity.ID),
			slog.Any("error", err))
	}
	if err := s.cache.Save(); err != nil {
		return stats, oops.With("entity_id", entity.ID, "context", "failed to save cache").Wrap(err)
	}

	s.log.Info("Export finished",
		slog.String("entity", entity.Name),
		slog.Int("exported", stats.Exported),
		slog.Int("total", stats.Total))
	return stats, nil
}

// Status reports per-entity processed counts from the cache.
func (s *Service) Status() []EntityStats {
	ids := s.cache.Entities()
	out := make([]EntityStats, 0, len(ids))
	for _, id := range ids {
		title, entityType := s.cache.EntityInfo(id)
		out = append(out, EntityStats{
			Entity:   source.Entity{ID: id, Name: title, Type: entityType},
			Exported: s.cache.ProcessedCount(id),
		})
	}
	return out
}

// IsRateLimited reports whether err means the remote service asked us to
// back off.
func IsRateLimited(err error) bool {
	return errors.Is(err, apperrors.ErrSourceRateLimited)
}

// processMessage runs one message through the media pipeline and the note
// writer. Note failures are logged and skipped so a single bad message does
// not abort the entity.
func (s *Service) processMessage(ctx context.Context, entity source.Entity, msg msgdomain.Message, exportPath, mediaPath string) {
	var links []mediadomain.MediaLink
	if s.cfg.MediaDownload && len(msg.Media) > 0 {
		links = s.pipe.ProcessMessage(ctx, msg, mediaPath, exportPath)
	}

	rel, err := s.writer.Write(msg, links, exportPath)
	if err != nil {
		s.log.Error("Failed to write note",
			slog.Int64("message_id", msg.ID),
			slog.Any("error", err))
		return
	}
	s.cache.AddProcessed(entity.ID, msg.ID, exportcache.ProcessedMessage{
		Filename: rel,
		ReplyTo:  msg.ReplyTo,
		Title:    msg.Title(),
	})
}

// seedFromVault rebuilds the processed index from existing note frontmatter
// when the cache knows nothing about an entity whose vault already has notes.
func (s *Service) seedFromVault(entityID int64, exportPath string) {
	if s.cache.ProcessedCount(entityID) > 0 {
		return
	}
	found, err := s.scanner.Scan(exportPath)
	if err != nil {
		s.log.Warn("Vault scan failed", slog.String("path", exportPath), slog.Any("error", err))
		return
	}
	if len(found) == 0 {
		return
	}
	for _, note := range found {
		s.cache.AddProcessed(entityID, note.MessageID, exportcache.ProcessedMessage{
			Filename: note.Path,
			ReplyTo:  note.ReplyTo,
		})
	}
	s.log.Info("Processed index rebuilt from vault",
		slog.Int64("entity_id", entityID),
		slog.Int("notes", len(found)))
}

func (s *Service) ensureMediaDirs(mediaPath string) error {
	for _, sub := range mediadomain.Subdirs() {
		if err := s.fs.MkdirAll(filepath.Join(mediaPath, sub), 0755); err != nil {
			return oops.With("path", mediaPath, "context", "failed to create media directory").Wrap(err)
		}
	}
	return nil
}

func (s *Service) saveLoop(interval time.Duration) {
	defer s.wg.Done()
	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-s.ctx.Done():
			return
		case <-ticker.C:
			if err := s.cache.Save(); err != nil {
				s.log.Error("Periodic cache save failed", slog.Any("error", err))
			}
		}
	}
}
