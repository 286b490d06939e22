package classify

import (
	"fmt"
	"path"
	"strings"

	"github.com/reshetovitsme/tg-vault-export/internal/modules/media/domain"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	apperrors "github.com/reshetovitsme/tg-vault-export/internal/shared/errors"
	"github.com/samber/oops"
)

const (
	defaultExt       = ".dat"
	roundVideoMIME   = "video/mp4"
	fallbackVideoExt = ".mp4"
	fallbackVoiceExt = ".ogg"
)

// genericVideoExts are container extensions that video items are normalized
// away from: the transcoder always targets mp4.
var genericVideoExts = map[string]struct{}{
	".dat": {}, ".mkv": {}, ".avi": {}, ".mov": {}, ".quicktime": {},
}

// genericVoiceExts are extensions a voice message is normalized away from.
var genericVoiceExts = map[string]struct{}{
	".dat": {}, ".oga": {},
}

// Classify determines the media class and canonical output filename for a
// media reference. It is a pure function: identical inputs always produce
// identical results, which is what keeps output paths stable across runs.
func Classify(messageID int64, ref msgdomain.MediaReference) (domain.MediaClass, string, error) {
	switch ref.Kind {
	case msgdomain.KindPhoto:
		return domain.ClassImage, fmt.Sprintf("msg%d_photo_%d.jpg", messageID, ref.ID), nil
	case msgdomain.KindDocument:
		class := classifyDocument(ref)
		name := fmt.Sprintf("msg%d_%s_%d%s", messageID, class, ref.ID, extensionFor(class, ref))
		return class, sanitize(name), nil
	default:
		return 0, "", oops.With("message_id", messageID, "media_id", ref.ID).Wrap(apperrors.ErrUnclassifiableMedia)
	}
}

func classifyDocument(ref msgdomain.MediaReference) domain.MediaClass {
	switch {
	case ref.Video != nil && ref.Video.Round && ref.MIMEType == roundVideoMIME:
		return domain.ClassRoundVideo
	case ref.Video != nil:
		return domain.ClassVideo
	case ref.Audio != nil:
		return domain.ClassAudio
	default:
		return domain.ClassDocument
	}
}

// extensionFor derives the output extension: MIME subtype by default, the
// declared filename suffix when present and valid, then normalized so video
// items land on .mp4 and voice messages on .ogg.
func extensionFor(class domain.MediaClass, ref msgdomain.MediaReference) string {
	ext := extFromMIME(ref.MIMEType)

	if ref.FileName != "" {
		if s := path.Ext(ref.FileName); len(s) > 1 {
			ext = s
		}
	}

	ext = sanitizeExt(ext)

	switch class {
	case domain.ClassVideo, domain.ClassRoundVideo:
		if _, ok := genericVideoExts[ext]; ok {
			ext = fallbackVideoExt
		}
	case domain.ClassAudio:
		if ref.Audio != nil && ref.Audio.Voice {
			if _, ok := genericVoiceExts[ext]; ok {
				ext = fallbackVoiceExt
			}
		}
	}

	return ext
}

func extFromMIME(mimeType string) string {
	_, subtype, ok := strings.Cut(mimeType, "/")
	if !ok {
		return defaultExt
	}
	// Strip parameters such as "audio/ogg; codecs=opus".
	subtype, _, _ = strings.Cut(subtype, ";")
	subtype = strings.TrimSpace(subtype)
	if subtype == "" {
		return defaultExt
	}
	return "." + subtype
}

func sanitizeExt(ext string) string {
	for _, sep := range []string{"?", "#", ";"} {
		ext, _, _ = strings.Cut(ext, sep)
	}
	ext = strings.ToLower(ext)
	if !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	if len(ext) <= 1 {
		return defaultExt
	}
	return sanitize(ext)
}

// sanitize replaces every character outside the safe filename set with an
// underscore.
func sanitize(name string) string {
	return strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
			return r
		case r == '.' || r == '_' || r == '-':
			return r
		default:
			return '_'
		}
	}, name)
}
