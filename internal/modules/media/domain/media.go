package domain

import (
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
)

// MediaClass is the classification a media reference resolves to. Exactly one
// output policy exists per class.
type MediaClass int

const (
	ClassImage MediaClass = iota
	ClassVideo
	ClassRoundVideo
	ClassAudio
	ClassDocument
)

func (c MediaClass) String() string {
	switch c {
	case ClassImage:
		return "image"
	case ClassVideo:
		return "video"
	case ClassRoundVideo:
		return "round_video"
	case ClassAudio:
		return "audio"
	default:
		return "document"
	}
}

// Subdir returns the fixed media-root subdirectory for the class.
func (c MediaClass) Subdir() string {
	switch c {
	case ClassImage:
		return "images"
	case ClassVideo:
		return "videos"
	case ClassRoundVideo:
		return "round_videos"
	case ClassAudio:
		return "audios"
	default:
		return "documents"
	}
}

// Subdirs lists all class subdirectories created under the media root.
func Subdirs() []string {
	return []string{"images", "videos", "round_videos", "audios", "documents"}
}

// ContentKey is the dedup key for a media object. It is stable across
// invocations: the same remote object classified the same way always yields
// the same key.
type ContentKey struct {
	Class   MediaClass
	MediaID int64
	Name    string
}

// DownloadJob describes one media item of one message to be acquired. The
// final output path is a pure function of its fields, which is what makes
// crashed runs resumable by existence check.
type DownloadJob struct {
	MessageID int64
	Class     MediaClass
	Ref       msgdomain.MediaReference
	// BaseDir is the media root under which the class subdirectory lives.
	BaseDir string
	Key     ContentKey
}

// MediaLink is one markdown media reference handed to the note writer.
// Ordering within a message matches the media enumeration order; the caption
// is attached to the first link of a message only.
type MediaLink struct {
	Markdown string
	Caption  string
}
