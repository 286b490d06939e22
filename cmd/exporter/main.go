package main

import (
	"context"
	"log/slog"
	"os"
	"os/signal"
	"syscall"

	"github.com/go-telegram/bot"
	"github.com/reshetovitsme/tg-vault-export/internal/di"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/exporter"
	tgsource "github.com/reshetovitsme/tg-vault-export/internal/modules/source/telegram"
	"github.com/reshetovitsme/tg-vault-export/internal/shared/config"
	"github.com/samber/do/v2"
	slogmulti "github.com/samber/slog-multi"
)

func main() {
	setupLogging(slog.LevelInfo)

	// Setup dependency injection
	injector, err := di.Setup()
	if err != nil {
		slog.Error("Failed to setup dependency injection", "error", err)
		os.Exit(1)
	}
	defer func() {
		if err := di.Shutdown(injector); err != nil {
			slog.Error("Error during shutdown", "error", err)
		}
	}()

	cfg, err := do.Invoke[*config.Config](injector)
	if err != nil {
		slog.Error("Failed to load configuration", "error", err)
		os.Exit(1)
	}
	setupLogging(parseLevel(cfg.LogLevel))

	src := do.MustInvoke[*tgsource.Client](injector)
	exporterService := do.MustInvoke[*exporter.Service](injector)
	exporterService.Start()

	// Graceful shutdown
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer cancel()

	// Everything happens inside the MTProto connection: either a one-shot
	// export of the configured targets, or the long-running bot surface.
	err = src.Run(ctx, func(ctx context.Context) error {
		if cfg.BotToken != "" {
			b := do.MustInvoke[*bot.Bot](injector)
			slog.Info("Bot started, press Ctrl+C to stop")
			b.Start(ctx)
			return nil
		}

		stats, err := exporterService.ExportAll(ctx)
		for _, st := range stats {
			slog.Info("Entity exported",
				"entity", st.Entity.Name,
				"exported", st.Exported,
				"total", st.Total)
		}
		return err
	})
	if err != nil && ctx.Err() == nil {
		slog.Error("Export run failed", "error", err)
		os.Exit(1)
	}

	slog.Info("Shutting down...")
}

// setupLogging installs structured logging with multiple handlers using
// slog-multi: human-readable text on stdout, JSON errors on stderr.
func setupLogging(level slog.Level) {
	textHandler := slog.NewTextHandler(os.Stdout, &slog.HandlerOptions{
		Level: level,
	})
	jsonHandler := slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	})

	multiHandler := slogmulti.Fanout(textHandler, jsonHandler)
	slog.SetDefault(slog.New(multiHandler))
}

func parseLevel(s string) slog.Level {
	var level slog.Level
	if err := level.UnmarshalText([]byte(s)); err != nil {
		return slog.LevelInfo
	}
	return level
}
