package transcode

import (
	"context"
	"io"
	"log/slog"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
	"github.com/samber/oops"
	"github.com/spf13/afero"
)

const copyChunkSize = 1 << 20

// Worker converts a raw downloaded payload into its final stored form.
// The raw path must exist; on failure no partial final file may be left
// behind.
type Worker interface {
	Transcode(ctx context.Context, rawPath, finalPath string) error
}

// Options carries the transcoding policy knobs from configuration.
type Options struct {
	ImageQuality int
	VideoCRF     int
	VideoPreset  string
	FFmpegPath   string
}

// Set maps each media class to the worker implementing its output policy.
type Set map[domain.MediaClass]Worker

// NewSet builds the fixed class-to-worker mapping: images are re-encoded,
// videos go through ffmpeg, audio and documents pass through untouched.
func NewSet(fs afero.Fs, opts Options, log *slog.Logger) Set {
	video := NewVideoWorker(fs, opts.FFmpegPath, opts.VideoCRF, opts.VideoPreset, log)
	pass := NewPassthroughWorker(fs, log)
	return Set{
		domain.ClassImage:      NewImageWorker(fs, opts.ImageQuality, log),
		domain.ClassVideo:      video,
		domain.ClassRoundVideo: video,
		domain.ClassAudio:      pass,
		domain.ClassDocument:   pass,
	}
}

// CopyFile copies src to dst in chunks. A failed copy removes the partial
// destination before returning.
func CopyFile(fs afero.Fs, src, dst string) error {
	in, err := fs.Open(src)
	if err != nil {
		return oops.With("src", src).Wrap(err)
	}
	defer in.Close()

	out, err := fs.Create(dst)
	if err != nil {
		return oops.With("dst", dst).Wrap(err)
	}

	if _, err := io.CopyBuffer(out, in, make([]byte, copyChunkSize)); err != nil {
		out.Close()
		_ = fs.Remove(dst)
		return oops.With("src", src, "dst", dst).Wrap(err)
	}
	if err := out.Close(); err != nil {
		_ = fs.Remove(dst)
		return oops.With("dst", dst).Wrap(err)
	}
	return nil
}
