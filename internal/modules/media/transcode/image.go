package transcode

import (
	"context"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"log/slog"

	_ "image/gif"
	_ "image/png"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"

	"github.com/samber/oops"
	"github.com/spf13/afero"
)

// ImageWorker re-encodes any decodable image as an opaque JPEG at a fixed
// quality level. Transparent pixels are composited over a white background.
type ImageWorker struct {
	fs      afero.Fs
	quality int
	log     *slog.Logger
}

func NewImageWorker(fs afero.Fs, quality int, log *slog.Logger) *ImageWorker {
	return &ImageWorker{fs: fs, quality: quality, log: log.With(slog.String("worker", "image"))}
}

func (w *ImageWorker) Transcode(ctx context.Context, rawPath, finalPath string) error {
	in, err := w.fs.Open(rawPath)
	if err != nil {
		return oops.With("raw_path", rawPath).Wrap(err)
	}
	img, format, err := image.Decode(in)
	in.Close()
	if err != nil {
		return oops.With("raw_path", rawPath, "context", "image decode").Wrap(err)
	}

	w.log.Debug("Re-encoding image", slog.String("format", format), slog.String("final_path", finalPath))

	out, err := w.fs.Create(finalPath)
	if err != nil {
		return oops.With("final_path", finalPath).Wrap(err)
	}
	if err := jpeg.Encode(out, flatten(img), &jpeg.Options{Quality: w.quality}); err != nil {
		out.Close()
		_ = w.fs.Remove(finalPath)
		return oops.With("final_path", finalPath, "context", "jpeg encode").Wrap(err)
	}
	if err := out.Close(); err != nil {
		_ = w.fs.Remove(finalPath)
		return oops.With("final_path", finalPath).Wrap(err)
	}
	return nil
}

// flatten returns an opaque version of img suitable for JPEG encoding.
// Paletted images are always composited: a palette may carry transparent
// entries without a reliable alpha signal, so transparency is assumed.
func flatten(img image.Image) image.Image {
	switch img.(type) {
	case *image.Paletted:
		return compositeOverWhite(img)
	}
	if op, ok := img.(interface{ Opaque() bool }); ok && !op.Opaque() {
		return compositeOverWhite(img)
	}
	return img
}

func compositeOverWhite(img image.Image) image.Image {
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.NewUniform(color.White), image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)
	return flat
}
