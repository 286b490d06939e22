package transcode

import (
	"bytes"
	"context"
	"log/slog"
	"os/exec"
	"strconv"

	"github.com/samber/oops"
	"github.com/spf13/afero"
)

const stderrTailSize = 2048

// VideoWorker re-encodes a video through an external ffmpeg process with a
// fixed codec, configured CRF and preset. The audio stream is copied verbatim.
// Video and round-video share this worker; they differ only in where the
// output lands.
type VideoWorker struct {
	fs         afero.Fs
	ffmpegPath string
	crf        int
	preset     string
	log        *slog.Logger
}

func NewVideoWorker(fs afero.Fs, ffmpegPath string, crf int, preset string, log *slog.Logger) *VideoWorker {
	return &VideoWorker{
		fs:         fs,
		ffmpegPath: ffmpegPath,
		crf:        crf,
		preset:     preset,
		log:        log.With(slog.String("worker", "video")),
	}
}

func (w *VideoWorker) Transcode(ctx context.Context, rawPath, finalPath string) error {
	args := []string{
		"-y",
		"-i", rawPath,
		"-c:v", "libx264",
		"-crf", strconv.Itoa(w.crf),
		"-preset", w.preset,
		"-c:a", "copy",
		"-threads", "0",
		finalPath,
	}

	w.log.Debug("Running ffmpeg", slog.String("raw_path", rawPath), slog.Int("crf", w.crf), slog.String("preset", w.preset))

	var stderr bytes.Buffer
	cmd := exec.CommandContext(ctx, w.ffmpegPath, args...)
	cmd.Stderr = &stderr

	if err := cmd.Run(); err != nil {
		// ffmpeg may have left a partial output behind.
		_ = w.fs.Remove(finalPath)
		return oops.
			With("raw_path", rawPath, "ffmpeg_stderr", tail(stderr.Bytes()), "context", "ffmpeg exited with error").
			Wrap(err)
	}
	return nil
}

func tail(b []byte) string {
	if len(b) > stderrTailSize {
		b = b[len(b)-stderrTailSize:]
	}
	return string(b)
}
