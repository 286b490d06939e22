package exportcache

import (
	"io"
	"log/slog"
	"testing"

	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestLoadMissingFileStartsFresh(t *testing.T) {
	c := New(afero.NewMemMapFs(), "/state/cache.json", discardLogger())
	require.NoError(t, c.Load())
	assert.False(t, c.IsProcessed(1, 1))
	assert.Zero(t, c.LastProcessedID(1))
}

func TestLoadCorruptFileStartsFresh(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/state/cache.json", []byte("{not json"), 0644))

	c := New(fs, "/state/cache.json", discardLogger())
	require.NoError(t, c.Load())
	assert.False(t, c.IsProcessed(1, 1))
}

func TestLoadUnsupportedVersionStartsFresh(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, afero.WriteFile(fs, "/state/cache.json",
		[]byte(`{"version":1,"entities":{"1":{"processed_messages":{"5":{"filename":"a.md"}},"last_id":5}}}`), 0644))

	c := New(fs, "/state/cache.json", discardLogger())
	require.NoError(t, c.Load())
	assert.False(t, c.IsProcessed(1, 5))
}

func TestSaveLoadRoundTrip(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(fs, "/state/cache.json", discardLogger())
	c.SetEntityInfo(100, "My Channel", "channel")
	c.AddProcessed(100, 7, ProcessedMessage{Filename: "2024/2024-01-02.Hello.md", ReplyTo: 3, Title: "Hello"})
	c.AddProcessed(100, 9, ProcessedMessage{Filename: "2024/2024-01-03.Message-9.md"})
	require.NoError(t, c.Save())

	reloaded := New(fs, "/state/cache.json", discardLogger())
	require.NoError(t, reloaded.Load())

	assert.True(t, reloaded.IsProcessed(100, 7))
	assert.True(t, reloaded.IsProcessed(100, 9))
	assert.False(t, reloaded.IsProcessed(100, 8))
	assert.EqualValues(t, 9, reloaded.LastProcessedID(100))
	assert.Equal(t, 2, reloaded.ProcessedCount(100))

	title, entityType := reloaded.EntityInfo(100)
	assert.Equal(t, "My Channel", title)
	assert.Equal(t, "channel", entityType)

	records := reloaded.ProcessedMessages(100)
	require.Contains(t, records, int64(7))
	assert.Equal(t, "Hello", records[7].Title)
	assert.EqualValues(t, 3, records[7].ReplyTo)
}

func TestSaveSkippedWhenClean(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(fs, "/state/cache.json", discardLogger())
	require.NoError(t, c.Save())

	exists, _ := afero.Exists(fs, "/state/cache.json")
	assert.False(t, exists)

	c.AddProcessed(1, 1, ProcessedMessage{Filename: "x.md"})
	require.NoError(t, c.Save())
	exists, _ = afero.Exists(fs, "/state/cache.json")
	assert.True(t, exists)

	// A second save with no new writes leaves the file untouched.
	before, _ := afero.ReadFile(fs, "/state/cache.json")
	require.NoError(t, c.Save())
	after, _ := afero.ReadFile(fs, "/state/cache.json")
	assert.Equal(t, before, after)
}

func TestSaveLeavesNoTempFile(t *testing.T) {
	fs := afero.NewMemMapFs()
	c := New(fs, "/state/cache.json", discardLogger())
	c.AddProcessed(1, 1, ProcessedMessage{Filename: "x.md"})
	require.NoError(t, c.Save())

	exists, _ := afero.Exists(fs, "/state/cache.json.tmp")
	assert.False(t, exists)
}

func TestLastIDNeverRegresses(t *testing.T) {
	c := New(afero.NewMemMapFs(), "/state/cache.json", discardLogger())
	c.AddProcessed(1, 10, ProcessedMessage{Filename: "a.md"})
	c.AddProcessed(1, 4, ProcessedMessage{Filename: "b.md"})
	assert.EqualValues(t, 10, c.LastProcessedID(1))
}

func TestEntitiesListsKnownIDs(t *testing.T) {
	c := New(afero.NewMemMapFs(), "/state/cache.json", discardLogger())
	c.SetEntityInfo(1, "a", "user")
	c.SetEntityInfo(2, "b", "channel")
	assert.ElementsMatch(t, []int64{1, 2}, c.Entities())
}
