package exporter

import (
	"context"
	"io"
	"iter"
	"log/slog"
	"testing"
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
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// fakeSource serves a fixed message list and records the minID it was asked
// to resume from.
type fakeSource struct {
	entity    source.Entity
	messages  []msgdomain.Message
	streamErr error
	lastMinID int64
}

func (f *fakeSource) Resolve(_ context.Context, _ string) (source.Entity, error) {
	return f.entity, nil
}

func (f *fakeSource) Messages(_ context.Context, _ source.Entity, minID int64) iter.Seq2[msgdomain.Message, error] {
	f.lastMinID = minID
	return func(yield func(msgdomain.Message, error) bool) {
		for _, msg := range f.messages {
			if msg.ID <= minID {
				continue
			}
			if !yield(msg, nil) {
				return
			}
		}
		if f.streamErr != nil {
			yield(msgdomain.Message{}, f.streamErr)
		}
	}
}

func (f *fakeSource) FetchMedia(context.Context, msgdomain.MediaReference, string) error {
	return nil
}

func testConfig() *config.Config {
	return &config.Config{
		ExportPath:       "/vault",
		UseEntityFolders: true,
		MediaSubdir:      "_media",
		MediaDownload:    false,
		MessageBatchSize: 2,
		ExportTargets:    []string{"@test"},
	}
}

func testMessage(id int64, text string) msgdomain.Message {
	return msgdomain.Message{
		ID:   id,
		Date: time.Date(2024, 6, 1, 12, 0, 0, 0, time.UTC),
		Text: text,
	}
}

func newService(cfg *config.Config, fs afero.Fs, src source.Source, cachePath string) (*Service, *exportcache.Cache) {
	log := discardLogger()
	cache := exportcache.New(fs, cachePath, log)
	return New(
		cfg,
		src,
		pipeline.New(noopAcquirer{}, 1, log),
		notes.NewWriter(fs, log),
		notes.NewScanner(fs, log),
		replylink.New(fs, log),
		cache,
		fs,
		log,
	), cache
}

type noopAcquirer struct{}

func (noopAcquirer) Acquire(_ context.Context, job mediadomain.DownloadJob) (string, error) {
	return job.BaseDir + "/" + job.Class.Subdir() + "/" + job.Key.Name, nil
}

func TestExportTargetWritesNotesAndCache(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &fakeSource{
		entity: source.Entity{ID: 100, Name: "Test Chat", Type: "chat"},
		messages: []msgdomain.Message{
			testMessage(1, "First"),
			testMessage(2, "Second"),
		},
	}
	svc, cache := newService(testConfig(), fs, src, "/state/cache.json")

	stats, err := svc.ExportTarget(context.Background(), "@test")
	require.NoError(t, err)
	assert.Equal(t, 2, stats.Exported)
	assert.Equal(t, 2, stats.Total)

	exists, _ := afero.Exists(fs, "/vault/Test Chat/2024/2024-06-01.First.md")
	assert.True(t, exists)
	assert.True(t, cache.IsProcessed(100, 1))
	assert.True(t, cache.IsProcessed(100, 2))

	// The cache file was flushed at the end of the run.
	exists, _ = afero.Exists(fs, "/state/cache.json")
	assert.True(t, exists)
}

func TestExportTargetAppliesReplyLinks(t *testing.T) {
	fs := afero.NewMemMapFs()
	child := testMessage(2, "Answer")
	child.ReplyTo = 1
	src := &fakeSource{
		entity:   source.Entity{ID: 100, Name: "Chat", Type: "chat"},
		messages: []msgdomain.Message{testMessage(1, "Question"), child},
	}
	svc, _ := newService(testConfig(), fs, src, "/state/cache.json")

	_, err := svc.ExportTarget(context.Background(), "@test")
	require.NoError(t, err)

	raw, err := afero.ReadFile(fs, "/vault/Chat/2024/2024-06-01.Answer.md")
	require.NoError(t, err)
	assert.Contains(t, string(raw), "Reply to [[2024-06-01.Question]]")
}

func TestExportTargetSkipsProcessed(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &fakeSource{
		entity:   source.Entity{ID: 100, Name: "Chat", Type: "chat"},
		messages: []msgdomain.Message{testMessage(1, "One"), testMessage(2, "Two")},
	}
	svc, cache := newService(testConfig(), fs, src, "/state/cache.json")
	cache.AddProcessed(100, 1, exportcache.ProcessedMessage{Filename: "2024/old.md"})

	stats, err := svc.ExportTarget(context.Background(), "@test")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exported)
	assert.Equal(t, 2, stats.Total)
}

func TestExportTargetOnlyNewResumesFromLastID(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &fakeSource{
		entity:   source.Entity{ID: 100, Name: "Chat", Type: "chat"},
		messages: []msgdomain.Message{testMessage(5, "Old"), testMessage(9, "New")},
	}
	cfg := testConfig()
	cfg.OnlyNew = true
	svc, cache := newService(cfg, fs, src, "/state/cache.json")
	cache.AddProcessed(100, 5, exportcache.ProcessedMessage{Filename: "2024/old.md"})

	stats, err := svc.ExportTarget(context.Background(), "@test")
	require.NoError(t, err)
	assert.EqualValues(t, 5, src.lastMinID)
	assert.Equal(t, 1, stats.Exported)
}

func TestExportTargetAbortsOnRateLimit(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &fakeSource{
		entity:    source.Entity{ID: 100, Name: "Chat", Type: "chat"},
		messages:  []msgdomain.Message{testMessage(1, "One")},
		streamErr: apperrors.ErrSourceRateLimited,
	}
	svc, cache := newService(testConfig(), fs, src, "/state/cache.json")

	stats, err := svc.ExportTarget(context.Background(), "@test")
	require.Error(t, err)
	assert.True(t, IsRateLimited(err))
	// Work done before the abort is kept.
	assert.Equal(t, 1, stats.Exported)
	assert.True(t, cache.IsProcessed(100, 1))
}

func TestExportTargetSeedsFromExistingVault(t *testing.T) {
	fs := afero.NewMemMapFs()
	note := "---\nmessage_id: 1\ndate: 2024-06-01T12:00:00Z\n---\n\nAlready here\n"
	require.NoError(t, afero.WriteFile(fs, "/vault/Chat/2024/2024-06-01.Already here.md", []byte(note), 0644))

	src := &fakeSource{
		entity:   source.Entity{ID: 100, Name: "Chat", Type: "chat"},
		messages: []msgdomain.Message{testMessage(1, "Already here"), testMessage(2, "Fresh")},
	}
	svc, _ := newService(testConfig(), fs, src, "/state/cache.json")

	stats, err := svc.ExportTarget(context.Background(), "@test")
	require.NoError(t, err)
	assert.Equal(t, 1, stats.Exported)
}

func TestExportTargetCreatesMediaDirs(t *testing.T) {
	fs := afero.NewMemMapFs()
	cfg := testConfig()
	cfg.MediaDownload = true
	src := &fakeSource{entity: source.Entity{ID: 100, Name: "Chat", Type: "chat"}}
	svc, _ := newService(cfg, fs, src, "/state/cache.json")

	_, err := svc.ExportTarget(context.Background(), "@test")
	require.NoError(t, err)

	for _, sub := range []string{"images", "videos", "round_videos", "audios", "documents"} {
		exists, _ := afero.Exists(fs, "/vault/Chat/_media/"+sub)
		assert.True(t, exists, sub)
	}
}

func TestExportAllContinuesAfterFailure(t *testing.T) {
	fs := afero.NewMemMapFs()
	src := &fakeSource{
		entity:   source.Entity{ID: 100, Name: "Chat", Type: "chat"},
		messages: []msgdomain.Message{testMessage(1, "One")},
	}
	cfg := testConfig()
	cfg.ExportTargets = []string{"@test", "@test2"}
	svc, _ := newService(cfg, fs, src, "/state/cache.json")

	stats, err := svc.ExportAll(context.Background())
	require.NoError(t, err)
	assert.Len(t, stats, 2)
}
