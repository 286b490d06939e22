package config

import (
	"testing"
	"time"

	"github.com/reshetovitsme/tg-vault-export/internal/shared/errors"
	"github.com/stretchr/testify/assert"
)

func validConfig() Config {
	return Config{
		APIID:         12345,
		APIHash:       "abc",
		ExportTargets: []string{"me"},
		ImageQuality:  85,
		ExportPath:    "/vault",
		MediaSubdir:   "_media",
	}
}

func TestValidateMissingCredentials(t *testing.T) {
	cfg := validConfig()
	cfg.APIHash = ""
	assert.ErrorIs(t, cfg.validate(), errors.ErrMissingCredentials)
}

func TestValidateNoTargetsAndNoBot(t *testing.T) {
	cfg := validConfig()
	cfg.ExportTargets = nil
	assert.ErrorIs(t, cfg.validate(), errors.ErrNoExportTargets)
}

func TestValidateBotTokenAllowsEmptyTargets(t *testing.T) {
	cfg := validConfig()
	cfg.ExportTargets = nil
	cfg.BotToken = "123:abc"
	assert.NoError(t, cfg.validate())
}

func TestValidateImageQualityRange(t *testing.T) {
	cfg := validConfig()
	cfg.ImageQuality = 0
	assert.Error(t, cfg.validate())
	cfg.ImageQuality = 101
	assert.Error(t, cfg.validate())
}

func TestParseAllowedUsers(t *testing.T) {
	assert.Equal(t, []int64{123, 456}, ParseAllowedUsers("123, 456"))
	assert.Equal(t, []int64{789}, ParseAllowedUsers("789,,not-a-number"))
	assert.Empty(t, ParseAllowedUsers(""))
}

func TestParseExportTargets(t *testing.T) {
	assert.Equal(t, []string{"@channel", "me", "t.me/blog"}, ParseExportTargets("@channel, me ,t.me/blog,"))
	assert.Empty(t, ParseExportTargets(" , "))
}

func TestExportPathForEntity(t *testing.T) {
	cfg := validConfig()
	cfg.UseEntityFolders = true
	assert.Equal(t, "/vault/My Channel", cfg.ExportPathForEntity(1, "My Channel"))
	assert.Equal(t, "/vault/entity_1", cfg.ExportPathForEntity(1, ""))
	assert.Equal(t, "/vault/a_b", cfg.ExportPathForEntity(1, "a/b"))

	cfg.UseEntityFolders = false
	assert.Equal(t, "/vault", cfg.ExportPathForEntity(1, "My Channel"))
}

func TestMediaPathForEntity(t *testing.T) {
	cfg := validConfig()
	cfg.UseEntityFolders = false
	assert.Equal(t, "/vault/_media", cfg.MediaPathForEntity(1, "x"))
}

func TestIsUserAllowed(t *testing.T) {
	cfg := validConfig()
	cfg.AllowedUsers = []int64{10}
	assert.True(t, cfg.IsUserAllowed(10))
	assert.False(t, cfg.IsUserAllowed(11))

	cfg.AllowedUsers = nil
	assert.False(t, cfg.IsUserAllowed(10))
}

func TestDurations(t *testing.T) {
	cfg := Config{RequestDelay: 0.5, CacheSaveInterval: 30}
	assert.Equal(t, 500*time.Millisecond, cfg.RequestDelayDuration())
	assert.Equal(t, 30*time.Second, cfg.CacheSaveIntervalDuration())
}
