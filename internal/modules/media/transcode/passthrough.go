package transcode

import (
	"context"
	"log/slog"

	"github.com/spf13/afero"
)

// PassthroughWorker moves a raw payload to its final path without
// transformation. Audio files and generic documents take this path.
type PassthroughWorker struct {
	fs  afero.Fs
	log *slog.Logger
}

func NewPassthroughWorker(fs afero.Fs, log *slog.Logger) *PassthroughWorker {
	return &PassthroughWorker{fs: fs, log: log.With(slog.String("worker", "passthrough"))}
}

func (w *PassthroughWorker) Transcode(_ context.Context, rawPath, finalPath string) error {
	if err := w.fs.Rename(rawPath, finalPath); err == nil {
		return nil
	}
	// Rename fails across filesystems; fall back to a byte copy.
	return CopyFile(w.fs, rawPath, finalPath)
}
