package telegram

import (
	"sync"
	"time"

	"github.com/gotd/td/tg"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
)

// locationRegistry remembers the download location of every media object seen
// while mapping history, keyed by media ID. Locations carry access hashes and
// file references that are transport details, so they stay on this side of
// the boundary instead of leaking into the domain reference.
type locationRegistry struct {
	mu        sync.Mutex
	locations map[int64]tg.InputFileLocationClass
}

func newLocationRegistry() *locationRegistry {
	return &locationRegistry{locations: make(map[int64]tg.InputFileLocationClass)}
}

func (r *locationRegistry) put(id int64, loc tg.InputFileLocationClass) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.locations[id] = loc
}

func (r *locationRegistry) get(id int64) (tg.InputFileLocationClass, bool) {
	r.mu.Lock()
	defer r.mu.Unlock()
	loc, ok := r.locations[id]
	return loc, ok
}

// mapMessage converts a raw history message into the domain record and
// registers download locations for its media. The grouped ID is returned
// separately for album aggregation; it is a transport concern.
func mapMessage(reg *locationRegistry, m *tg.Message) (msgdomain.Message, int64) {
	out := msgdomain.Message{
		ID:   int64(m.ID),
		Date: time.Unix(int64(m.Date), 0).UTC(),
		Text: m.Message,
	}

	if header, ok := m.GetReplyTo(); ok {
		if h, ok := header.(*tg.MessageReplyHeader); ok {
			if id, ok := h.GetReplyToMsgID(); ok {
				out.ReplyTo = int64(id)
			}
		}
	}

	if media, ok := m.GetMedia(); ok {
		if ref, ok := mapMedia(reg, media); ok {
			out.Media = append(out.Media, ref)
		}
	}

	groupedID, _ := m.GetGroupedID()
	return out, groupedID
}

func mapMedia(reg *locationRegistry, media tg.MessageMediaClass) (msgdomain.MediaReference, bool) {
	switch md := media.(type) {
	case *tg.MessageMediaPhoto:
		photo, ok := md.Photo.(*tg.Photo)
		if !ok {
			return msgdomain.MediaReference{}, false
		}
		reg.put(photo.ID, &tg.InputPhotoFileLocation{
			ID:            photo.ID,
			AccessHash:    photo.AccessHash,
			FileReference: photo.FileReference,
			ThumbSize:     largestPhotoSize(photo.Sizes),
		})
		return msgdomain.MediaReference{Kind: msgdomain.KindPhoto, ID: photo.ID}, true

	case *tg.MessageMediaDocument:
		doc, ok := md.Document.(*tg.Document)
		if !ok {
			return msgdomain.MediaReference{}, false
		}
		ref := msgdomain.MediaReference{
			Kind:     msgdomain.KindDocument,
			ID:       doc.ID,
			MIMEType: doc.MimeType,
		}
		for _, attr := range doc.Attributes {
			switch a := attr.(type) {
			case *tg.DocumentAttributeVideo:
				ref.Video = &msgdomain.VideoAttribute{
					Duration: time.Duration(a.Duration * float64(time.Second)),
					Width:    a.W,
					Height:   a.H,
					Round:    a.RoundMessage,
				}
			case *tg.DocumentAttributeAudio:
				ref.Audio = &msgdomain.AudioAttribute{
					Duration: time.Duration(a.Duration) * time.Second,
					Voice:    a.Voice,
				}
			case *tg.DocumentAttributeFilename:
				ref.FileName = a.FileName
			}
		}
		reg.put(doc.ID, &tg.InputDocumentFileLocation{
			ID:            doc.ID,
			AccessHash:    doc.AccessHash,
			FileReference: doc.FileReference,
		})
		return ref, true

	default:
		return msgdomain.MediaReference{}, false
	}
}

// largestPhotoSize picks the size type of the biggest available photo
// rendition.
func largestPhotoSize(sizes []tg.PhotoSizeClass) string {
	best := ""
	bestArea := -1
	for _, size := range sizes {
		switch s := size.(type) {
		case *tg.PhotoSize:
			if area := s.W * s.H; area > bestArea {
				bestArea = area
				best = s.Type
			}
		case *tg.PhotoSizeProgressive:
			if area := s.W * s.H; area > bestArea {
				bestArea = area
				best = s.Type
			}
		}
	}
	if best == "" {
		best = "y"
	}
	return best
}

// albumAggregator merges consecutive messages sharing a grouped ID into one
// logical message: the group's media in ID order on the first message, the
// caption taken from whichever member carries text.
type albumAggregator struct {
	pending      msgdomain.Message
	pendingGroup int64
	has          bool
}

// add feeds the next ascending message into the aggregator and returns the
// previously pending message when it is complete.
func (a *albumAggregator) add(m msgdomain.Message, groupedID int64) (msgdomain.Message, bool) {
	if a.has && groupedID != 0 && groupedID == a.pendingGroup {
		a.pending.Media = append(a.pending.Media, m.Media...)
		if a.pending.Text == "" {
			a.pending.Text = m.Text
		}
		return msgdomain.Message{}, false
	}

	flushed, ok := a.pending, a.has
	a.pending = m
	a.pendingGroup = groupedID
	a.has = true
	return flushed, ok
}

// flush returns the last pending message, if any.
func (a *albumAggregator) flush() (msgdomain.Message, bool) {
	if !a.has {
		return msgdomain.Message{}, false
	}
	a.has = false
	return a.pending, true
}
