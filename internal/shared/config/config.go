package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/joho/godotenv"
	"github.com/knadh/koanf/parsers/json"
	"github.com/knadh/koanf/parsers/toml"
	"github.com/knadh/koanf/parsers/yaml"
	"github.com/knadh/koanf/providers/env"
	"github.com/knadh/koanf/providers/file"
	"github.com/knadh/koanf/v2"
	"github.com/reshetovitsme/tg-vault-export/internal/shared/errors"
	"github.com/samber/lo"
	"github.com/samber/oops"
)

type Config struct {
	APIID       int    `koanf:"api_id"`
	APIHash     string `koanf:"api_hash"`
	PhoneNumber string `koanf:"phone_number"`
	SessionFile string `koanf:"session_file"`

	BotToken     string  `koanf:"bot_token"`
	AllowedUsers []int64 `koanf:"allowed_users"`

	ExportTargets    []string `koanf:"export_targets"`
	ExportPath       string   `koanf:"export_path"`
	MediaSubdir      string   `koanf:"media_subdir"`
	UseEntityFolders bool     `koanf:"use_entity_folders"`
	CacheFile        string   `koanf:"cache_file"`
	OnlyNew          bool     `koanf:"only_new"`

	MediaDownload       bool   `koanf:"media_download"`
	ConcurrentDownloads int    `koanf:"concurrent_downloads"`
	MaxWorkers          int    `koanf:"max_workers"`
	ImageQuality        int    `koanf:"image_quality"`
	VideoCRF            int    `koanf:"video_crf"`
	VideoPreset         string `koanf:"video_preset"`
	FFmpegPath          string `koanf:"ffmpeg_path"`

	RequestDelay      float64 `koanf:"request_delay"`
	MessageBatchSize  int     `koanf:"message_batch_size"`
	CacheSaveInterval int     `koanf:"cache_save_interval"`

	LogLevel string `koanf:"log_level"`
}

func Load() (*Config, error) {
	// A .env file feeds the environment before koanf reads it; missing file
	// is fine.
	_ = godotenv.Load()

	k := koanf.New(".")

	// Try to load config file from various formats
	configFiles := []string{
		"config.yaml",
		"config.yml",
		"config.json",
		"config.toml",
	}

	configFile, found := lo.Find(configFiles, func(file string) bool {
		_, err := os.Stat(file)
		return err == nil
	})

	if found {
		var parser koanf.Parser
		ext := filepath.Ext(configFile)

		switch ext {
		case ".yaml", ".yml":
			parser = yaml.Parser()
		case ".json":
			parser = json.Parser()
		case ".toml":
			parser = toml.Parser()
		default:
			return nil, oops.Errorf("unsupported config file extension: %s", ext)
		}

		if err := k.Load(file.Provider(configFile), parser); err != nil {
			return nil, oops.With("config_file", configFile).Wrap(err)
		}
	}

	// Environment variables override config file values
	if err := k.Load(env.Provider("", ".", func(s string) string {
		return strings.ToLower(s)
	}), nil); err != nil {
		return nil, oops.With("context", "loading environment variables").Wrap(err)
	}

	applyDefaults(k)

	var cfg Config
	if err := k.Unmarshal("", &cfg); err != nil {
		return nil, oops.With("context", "unmarshaling config").Wrap(err)
	}

	// Comma-separated strings are accepted for list-valued keys since that is
	// what environment variables carry.
	if v, ok := k.Get("allowed_users").(string); ok {
		cfg.AllowedUsers = ParseAllowedUsers(v)
	}
	if v, ok := k.Get("export_targets").(string); ok {
		cfg.ExportTargets = ParseExportTargets(v)
	}

	if err := cfg.validate(); err != nil {
		return nil, err
	}
	return &cfg, nil
}

func applyDefaults(k *koanf.Koanf) {
	defaults := map[string]interface{}{
		"session_file":         "exporter.session",
		"export_path":          "./export",
		"media_subdir":         "_media",
		"use_entity_folders":   true,
		"cache_file":           "./export_cache.json",
		"media_download":       true,
		"concurrent_downloads": 10,
		"max_workers":          8,
		"image_quality":        85,
		"video_crf":            28,
		"video_preset":         "fast",
		"ffmpeg_path":          "ffmpeg",
		"request_delay":        0.5,
		"message_batch_size":   100,
		"cache_save_interval":  30,
		"log_level":            "info",
	}
	for key, value := range defaults {
		if !k.Exists(key) {
			k.Set(key, value)
		}
	}
}

func (c *Config) validate() error {
	if c.APIID == 0 || c.APIHash == "" {
		return errors.ErrMissingCredentials
	}
	if len(c.ExportTargets) == 0 && c.BotToken == "" {
		return errors.ErrNoExportTargets
	}
	if c.ImageQuality < 1 || c.ImageQuality > 100 {
		return oops.With("image_quality", c.ImageQuality).Errorf("image_quality must be between 1 and 100")
	}
	return nil
}

// RequestDelayDuration returns the inter-request pause as a duration.
func (c *Config) RequestDelayDuration() time.Duration {
	return time.Duration(c.RequestDelay * float64(time.Second))
}

// CacheSaveIntervalDuration returns the periodic cache save interval.
func (c *Config) CacheSaveIntervalDuration() time.Duration {
	return time.Duration(c.CacheSaveInterval) * time.Second
}

// ExportPathForEntity returns the note root for one entity. With entity
// folders enabled each entity gets its own subdirectory named after its
// sanitized title.
func (c *Config) ExportPathForEntity(entityID int64, entityName string) string {
	if !c.UseEntityFolders {
		return c.ExportPath
	}
	return filepath.Join(c.ExportPath, entityFolderName(entityID, entityName))
}

// MediaPathForEntity returns the media root for one entity.
func (c *Config) MediaPathForEntity(entityID int64, entityName string) string {
	return filepath.Join(c.ExportPathForEntity(entityID, entityName), c.MediaSubdir)
}

// IsUserAllowed reports whether a bot user may drive the exporter. An empty
// allow list means nobody is allowed.
func (c *Config) IsUserAllowed(userID int64) bool {
	return lo.Contains(c.AllowedUsers, userID)
}

func entityFolderName(entityID int64, entityName string) string {
	name := strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '-' || r == '_' || r == ' ' || r == '.':
			return r
		default:
			return '_'
		}
	}, strings.TrimSpace(entityName))
	name = strings.Trim(name, ". ")
	if name == "" {
		return fmt.Sprintf("entity_%d", entityID)
	}
	return name
}

// ParseAllowedUsers parses a comma-separated user ID string into []int64
func ParseAllowedUsers(s string) []int64 {
	if s == "" {
		return []int64{}
	}
	parts := strings.Split(s, ",")
	return lo.FilterMap(parts, func(part string, _ int) (int64, bool) {
		part = strings.TrimSpace(part)
		if part == "" {
			return 0, false
		}
		var id int64
		if _, err := fmt.Sscanf(part, "%d", &id); err == nil {
			return id, true
		}
		return 0, false
	})
}

// ParseExportTargets parses a comma-separated identifier string into a list
// of export targets (usernames, t.me links, numeric IDs or "me").
func ParseExportTargets(s string) []string {
	parts := strings.Split(s, ",")
	return lo.FilterMap(parts, func(part string, _ int) (string, bool) {
		part = strings.TrimSpace(part)
		return part, part != ""
	})
}
