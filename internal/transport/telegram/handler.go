package telegram

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"github.com/go-telegram/bot"
	"github.com/go-telegram/bot/models"
	"github.com/reshetovitsme/tg-vault-export/internal/modules/exporter"
	"github.com/reshetovitsme/tg-vault-export/internal/shared/config"
)

// Handler handles Telegram bot interactions
type Handler struct {
	cfg      *config.Config
	exporter *exporter.Service
}

// New creates a new Telegram handler
func New(cfg *config.Config, exporter *exporter.Service) *Handler {
	return &Handler{
		cfg:      cfg,
		exporter: exporter,
	}
}

// RegisterCommands registers bot commands
func (h *Handler) RegisterCommands(b *bot.Bot) {
	b.RegisterHandler(bot.HandlerTypeMessageText, "/start", bot.MatchTypeExact, h.handleStart)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/help", bot.MatchTypeExact, h.handleHelp)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/export", bot.MatchTypePrefix, h.handleExport)
	b.RegisterHandler(bot.HandlerTypeMessageText, "/status", bot.MatchTypeExact, h.handleStatus)
}

func (h *Handler) checkAuthorization(userID int64) bool {
	return h.cfg.IsUserAllowed(userID)
}

func (h *Handler) handleStart(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.checkAuthorization(update.Message.From.ID) {
		h.reply(ctx, b, update, "❌ You are not authorized to use this bot.")
		return
	}

	text := `👋 Welcome to the Telegram vault exporter!

I export chats and channels into a markdown note vault.

Available commands:
/help - Show this help message
/export - Export all configured targets
/export <target> - Export one chat (@username, t.me link, ID or "me")
/status - Show per-entity export progress`

	h.reply(ctx, b, update, text)
}

func (h *Handler) handleHelp(ctx context.Context, b *bot.Bot, update *models.Update) {
	h.handleStart(ctx, b, update)
}

func (h *Handler) handleExport(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.checkAuthorization(update.Message.From.ID) {
		h.reply(ctx, b, update, "❌ Unauthorized")
		return
	}

	parts := strings.Fields(update.Message.Text)
	targets := h.cfg.ExportTargets
	if len(parts) > 1 {
		targets = parts[1:]
	}
	if len(targets) == 0 {
		h.reply(ctx, b, update, "No export targets configured. Usage: /export <target>")
		return
	}

	h.reply(ctx, b, update, fmt.Sprintf("⏳ Export started for %d target(s)...", len(targets)))

	// Exports can run for a long time; the handler must not block the update
	// loop. Runs are serialized inside the exporter.
	go func() {
		for _, target := range targets {
			stats, err := h.exporter.ExportTarget(ctx, target)
			if err != nil {
				slog.Error("Export failed", "target", target, "error", err)
				msg := fmt.Sprintf("❌ Export of %s failed: %v", target, err)
				if exporter.IsRateLimited(err) {
					msg = fmt.Sprintf("⏸ Export of %s paused: rate limited by Telegram, try again later.", target)
				}
				h.reply(ctx, b, update, msg)
				continue
			}
			h.reply(ctx, b, update, fmt.Sprintf("✅ %s: %d new message(s) exported (%d seen).",
				stats.Entity.Name, stats.Exported, stats.Total))
		}
	}()
}

func (h *Handler) handleStatus(ctx context.Context, b *bot.Bot, update *models.Update) {
	if !h.checkAuthorization(update.Message.From.ID) {
		h.reply(ctx, b, update, "❌ Unauthorized")
		return
	}

	stats := h.exporter.Status()
	if len(stats) == 0 {
		h.reply(ctx, b, update, "Nothing exported yet.")
		return
	}

	var sb strings.Builder
	sb.WriteString("📊 Export status:\n")
	for _, st := range stats {
		name := st.Entity.Name
		if name == "" {
			name = fmt.Sprintf("entity %d", st.Entity.ID)
		}
		sb.WriteString(fmt.Sprintf("• %s (%s): %d message(s) exported\n", name, st.Entity.Type, st.Exported))
	}
	h.reply(ctx, b, update, sb.String())
}

func (h *Handler) reply(ctx context.Context, b *bot.Bot, update *models.Update, text string) {
	_, err := b.SendMessage(ctx, &bot.SendMessageParams{
		ChatID: update.Message.Chat.ID,
		Text:   text,
	})
	if err != nil {
		slog.Error("Failed to send message", "error", err, "chat_id", update.Message.Chat.ID)
	}
}
