package domain

import "time"

// MediaKind is the raw shape of a media object as it arrives from the source.
// It is a closed set: the source adapter constructs exactly one of these per
// media item, so nothing downstream has to sniff attribute lists.
type MediaKind int

const (
	KindPhoto MediaKind = iota
	KindDocument
)

// VideoAttribute carries the video-specific attributes of a document.
type VideoAttribute struct {
	Duration time.Duration
	Width    int
	Height   int
	// Round marks a round video message (circular-cropped short video),
	// which is classified separately from a regular video attachment.
	Round bool
}

// AudioAttribute carries the audio-specific attributes of a document.
type AudioAttribute struct {
	Duration time.Duration
	// Voice marks a recorded voice message as opposed to a music file.
	Voice bool
}

// MediaReference identifies a single remote media object. It is built once at
// the source boundary and never mutated afterwards.
type MediaReference struct {
	Kind     MediaKind
	ID       int64
	MIMEType string
	// FileName is the declared original filename, empty when the document
	// carries no filename attribute.
	FileName string
	Video    *VideoAttribute
	Audio    *AudioAttribute
}

// Message is a single content message record from the source stream. Albums
// are merged at the source boundary, so one Message may carry several media
// references in their original order.
type Message struct {
	ID      int64
	Date    time.Time
	Text    string
	ReplyTo int64
	Media   []MediaReference
}

// Title returns the first line of the message text, used for note naming.
func (m Message) Title() string {
	for i := 0; i < len(m.Text); i++ {
		if m.Text[i] == '\n' {
			return m.Text[:i]
		}
	}
	return m.Text
}
