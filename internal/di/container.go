package di

import (
	"log/slog"

	"github.com/go-telegram/bot"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/exportcache"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/exporter"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/dedup"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/download"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/pipeline"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/transcode"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/notes"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/replylink"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/source"
	tgsource "github.com/reshetovitsme/tg-vault-export/internal/modules/source/telegram"
	"github.com/reshetovitsme/tg-vault-export/internal/shared/config"
	telegramHandler "github.com/reshetovitsme/tg-vault-export/internal/transport/telegram"
	"github.com/samber/do/v2"
	"github.com/samber/oops"
	"github.com/spf13/afero"
)

// Setup initializes the dependency injection container
func Setup() (do.Injector, error) {
	injector := do.New()

	// Register Config
	do.Provide(injector, func(i do.Injector) (*config.Config, error) {
		cfg, err := config.Load()
		if err != nil {
			return nil, oops.With("context", "failed to load config").Wrap(err)
		}
		return cfg, nil
	})

	// Register Filesystem
	do.Provide(injector, func(i do.Injector) (afero.Fs, error) {
		return afero.NewOsFs(), nil
	})

	// Register Telegram Source
	do.Provide(injector, func(i do.Injector) (*tgsource.Client, error) {
		cfg := do.MustInvoke[*config.Config](i)
		return tgsource.NewClient(tgsource.Options{
			APIID:        cfg.APIID,
			APIHash:      cfg.APIHash,
			PhoneNumber:  cfg.PhoneNumber,
			SessionFile:  cfg.SessionFile,
			BatchSize:    cfg.MessageBatchSize,
			RequestDelay: cfg.RequestDelayDuration(),
		}, slog.Default()), nil
	})

	// Register Message Source boundary
	do.Provide(injector, func(i do.Injector) (source.Source, error) {
		return do.MustInvoke[*tgsource.Client](i), nil
	})

	// Register Dedup Cache
	do.Provide(injector, func(i do.Injector) (*dedup.Cache, error) {
		return dedup.New(), nil
	})

	// Register Transcode Workers
	do.Provide(injector, func(i do.Injector) (transcode.Set, error) {
		cfg := do.MustInvoke[*config.Config](i)
		fs := do.MustInvoke[afero.Fs](i)
		return transcode.NewSet(fs, transcode.Options{
			ImageQuality: cfg.ImageQuality,
			VideoCRF:     cfg.VideoCRF,
			VideoPreset:  cfg.VideoPreset,
			FFmpegPath:   cfg.FFmpegPath,
		}, slog.Default()), nil
	})

	// Register Download Manager
	do.Provide(injector, func(i do.Injector) (*download.Manager, error) {
		cfg := do.MustInvoke[*config.Config](i)
		fs := do.MustInvoke[afero.Fs](i)
		src := do.MustInvoke[source.Source](i)
		cache := do.MustInvoke[*dedup.Cache](i)
		workers := do.MustInvoke[transcode.Set](i)
		return download.NewManager(fs, src, cache, workers, cfg.ConcurrentDownloads, cfg.MaxWorkers, slog.Default()), nil
	})

	// Register Media Pipeline
	do.Provide(injector, func(i do.Injector) (*pipeline.Orchestrator, error) {
		cfg := do.MustInvoke[*config.Config](i)
		manager := do.MustInvoke[*download.Manager](i)
		return pipeline.New(manager, cfg.MaxWorkers, slog.Default()), nil
	})

	// Register Note Writer and Vault Scanner
	do.Provide(injector, func(i do.Injector) (*notes.Writer, error) {
		fs := do.MustInvoke[afero.Fs](i)
		return notes.NewWriter(fs, slog.Default()), nil
	})
	do.Provide(injector, func(i do.Injector) (*notes.Scanner, error) {
		fs := do.MustInvoke[afero.Fs](i)
		return notes.NewScanner(fs, slog.Default()), nil
	})

	// Register Reply Linker
	do.Provide(injector, func(i do.Injector) (*replylink.Linker, error) {
		fs := do.MustInvoke[afero.Fs](i)
		return replylink.New(fs, slog.Default()), nil
	})

	// Register Export Cache
	do.Provide(injector, func(i do.Injector) (*exportcache.Cache, error) {
		cfg := do.MustInvoke[*config.Config](i)
		fs := do.MustInvoke[afero.Fs](i)
		cache := exportcache.New(fs, cfg.CacheFile, slog.Default())
		if err := cache.Load(); err != nil {
			return nil, oops.With("cache_file", cfg.CacheFile, "context", "failed to load export cache").Wrap(err)
		}
		return cache, nil
	})

	// Register Exporter Service
	do.Provide(injector, func(i do.Injector) (*exporter.Service, error) {
		cfg := do.MustInvoke[*config.Config](i)
		src := do.MustInvoke[source.Source](i)
		pipe := do.MustInvoke[*pipeline.Orchestrator](i)
		writer := do.MustInvoke[*notes.Writer](i)
		scanner := do.MustInvoke[*notes.Scanner](i)
		linker := do.MustInvoke[*replylink.Linker](i)
		cache := do.MustInvoke[*exportcache.Cache](i)
		fs := do.MustInvoke[afero.Fs](i)
		return exporter.New(cfg, src, pipe, writer, scanner, linker, cache, fs, slog.Default()), nil
	})

	// Register Telegram Handler
	do.Provide(injector, func(i do.Injector) (*telegramHandler.Handler, error) {
		cfg := do.MustInvoke[*config.Config](i)
		exporterService := do.MustInvoke[*exporter.Service](i)
		return telegramHandler.New(cfg, exporterService), nil
	})

	// Register Bot (only invoked when a bot token is configured)
	do.Provide(injector, func(i do.Injector) (*bot.Bot, error) {
		cfg := do.MustInvoke[*config.Config](i)
		handler := do.MustInvoke[*telegramHandler.Handler](i)

		b, err := bot.New(cfg.BotToken)
		if err != nil {
			return nil, oops.With("context", "failed to create telegram bot").Wrap(err)
		}
		handler.RegisterCommands(b)
		return b, nil
	})

	return injector, nil
}

// Shutdown gracefully shuts down all services
func Shutdown(injector do.Injector) error {
	// Stop the exporter's background loop and flush the cache
	if exporterService, err := do.Invoke[*exporter.Service](injector); err == nil && exporterService != nil {
		exporterService.Stop()
	}
	return nil
}
