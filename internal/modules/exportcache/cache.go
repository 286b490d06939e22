package exportcache

import (
	"encoding/json"
	"log/slog"
	"os"
	"path/filepath"
	"strconv"
	"sync"

	"github.com/samber/oops"
	"github.com/spf13/afero"
)

// schemaVersion is bumped when the on-disk layout changes. Older or corrupt
// files are discarded with a warning rather than migrated.
const schemaVersion = 2

// ProcessedMessage records one exported message inside the cache file.
type ProcessedMessage struct {
	Filename string `json:"filename"`
	ReplyTo  int64  `json:"reply_to,omitempty"`
	Title    string `json:"title,omitempty"`
}

type entityState struct {
	ProcessedMessages map[string]ProcessedMessage `json:"processed_messages"`
	LastID            int64                       `json:"last_id"`
	Title             string                      `json:"title,omitempty"`
	Type              string                      `json:"type,omitempty"`
}

type cacheFile struct {
	Version  int                     `json:"version"`
	Entities map[string]*entityState `json:"entities"`
}

// Cache is the persisted per-entity export state: which messages already have
// a note, the highest exported message ID and the entity's display info. It
// is what makes reruns incremental. Saves are skipped while nothing changed.
type Cache struct {
	fs   afero.Fs
	path string
	log  *slog.Logger

	mu    sync.Mutex
	data  cacheFile
	dirty bool
}

func New(fs afero.Fs, path string, log *slog.Logger) *Cache {
	return &Cache{
		fs:   fs,
		path: path,
		log:  log.With(slog.String("item", "ExportCache")),
		data: cacheFile{Version: schemaVersion, Entities: make(map[string]*entityState)},
	}
}

// Load reads the cache file. A missing, empty or unreadable file yields a
// fresh cache so a damaged file never blocks an export run.
func (c *Cache) Load() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	raw, err := afero.ReadFile(c.fs, c.path)
	if err != nil {
		if os.IsNotExist(err) {
			return nil
		}
		return oops.With("path", c.path, "context", "failed to read cache file").Wrap(err)
	}
	if len(raw) == 0 {
		return nil
	}

	var parsed cacheFile
	if err := json.Unmarshal(raw, &parsed); err != nil || parsed.Version != schemaVersion {
		c.log.Warn("Cache file is corrupt or has an unsupported version, starting fresh",
			slog.String("path", c.path),
			slog.Any("error", err))
		return nil
	}
	if parsed.Entities == nil {
		parsed.Entities = make(map[string]*entityState)
	}
	c.data = parsed
	return nil
}

// Save writes the cache atomically via a temp file rename. It is a no-op
// while no state changed since the last save.
func (c *Cache) Save() error {
	c.mu.Lock()
	defer c.mu.Unlock()

	if !c.dirty {
		return nil
	}

	raw, err := json.MarshalIndent(c.data, "", "  ")
	if err != nil {
		return oops.With("context", "failed to encode cache").Wrap(err)
	}

	if err := c.fs.MkdirAll(filepath.Dir(c.path), 0755); err != nil {
		return oops.With("path", c.path, "context", "failed to create cache directory").Wrap(err)
	}
	tmp := c.path + ".tmp"
	if err := afero.WriteFile(c.fs, tmp, raw, 0644); err != nil {
		return oops.With("path", tmp, "context", "failed to write cache").Wrap(err)
	}
	if err := c.fs.Rename(tmp, c.path); err != nil {
		_ = c.fs.Remove(tmp)
		return oops.With("path", c.path, "context", "failed to replace cache file").Wrap(err)
	}

	c.dirty = false
	c.log.Debug("Cache saved", slog.String("path", c.path))
	return nil
}

// IsProcessed reports whether a note for the message already exists.
func (c *Cache) IsProcessed(entityID, messageID int64) bool {
	c.mu.Lock()
	defer c.mu.Unlock()

	entity, ok := c.data.Entities[key(entityID)]
	if !ok {
		return false
	}
	_, ok = entity.ProcessedMessages[key(messageID)]
	return ok
}

// AddProcessed records an exported message and advances the entity's last ID.
func (c *Cache) AddProcessed(entityID, messageID int64, record ProcessedMessage) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entity := c.entity(entityID)
	entity.ProcessedMessages[key(messageID)] = record
	if messageID > entity.LastID {
		entity.LastID = messageID
	}
	c.dirty = true
}

// LastProcessedID returns the highest exported message ID for the entity,
// zero when nothing was exported yet.
func (c *Cache) LastProcessedID(entityID int64) int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entity, ok := c.data.Entities[key(entityID)]; ok {
		return entity.LastID
	}
	return 0
}

// SetEntityInfo stores the entity's display title and type.
func (c *Cache) SetEntityInfo(entityID int64, title, entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	entity := c.entity(entityID)
	if entity.Title != title || entity.Type != entityType {
		entity.Title = title
		entity.Type = entityType
		c.dirty = true
	}
}

// ProcessedMessages returns a copy of the entity's processed message records
// keyed by message ID.
func (c *Cache) ProcessedMessages(entityID int64) map[int64]ProcessedMessage {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make(map[int64]ProcessedMessage)
	entity, ok := c.data.Entities[key(entityID)]
	if !ok {
		return out
	}
	for k, record := range entity.ProcessedMessages {
		id, err := strconv.ParseInt(k, 10, 64)
		if err != nil {
			continue
		}
		out[id] = record
	}
	return out
}

// ProcessedCount returns the number of exported messages for the entity.
func (c *Cache) ProcessedCount(entityID int64) int {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entity, ok := c.data.Entities[key(entityID)]; ok {
		return len(entity.ProcessedMessages)
	}
	return 0
}

// Entities returns the IDs of all entities present in the cache.
func (c *Cache) Entities() []int64 {
	c.mu.Lock()
	defer c.mu.Unlock()

	out := make([]int64, 0, len(c.data.Entities))
	for k := range c.data.Entities {
		if id, err := strconv.ParseInt(k, 10, 64); err == nil {
			out = append(out, id)
		}
	}
	return out
}

// EntityInfo returns the stored title and type for the entity.
func (c *Cache) EntityInfo(entityID int64) (title, entityType string) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if entity, ok := c.data.Entities[key(entityID)]; ok {
		return entity.Title, entity.Type
	}
	return "", ""
}

func (c *Cache) entity(entityID int64) *entityState {
	k := key(entityID)
	entity, ok := c.data.Entities[k]
	if !ok {
		entity = &entityState{ProcessedMessages: make(map[string]ProcessedMessage)}
		c.data.Entities[k] = entity
	}
	return entity
}

func key(id int64) string {
	return strconv.FormatInt(id, 10)
}
