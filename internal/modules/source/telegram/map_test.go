package telegram

import (
	"testing"
	"time"

	"github.com/gotd/td/tg"
	msgdomain "github.com/reshetovitsme/tg-vault-export/internal/modules/message/domain"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestMapMessagePhoto(t *testing.T) {
	reg := newLocationRegistry()
	raw := &tg.Message{ID: 10, Date: 1700000000, Message: "holiday"}
	raw.SetMedia(&tg.MessageMediaPhoto{
		Photo: &tg.Photo{
			ID:         555,
			AccessHash: 999,
			Sizes: []tg.PhotoSizeClass{
				&tg.PhotoSize{Type: "m", W: 320, H: 240},
				&tg.PhotoSize{Type: "y", W: 1280, H: 960},
			},
		},
	})
	reply := &tg.MessageReplyHeader{}
	reply.SetReplyToMsgID(7)
	raw.SetReplyTo(reply)

	msg, groupedID := mapMessage(reg, raw)
	assert.EqualValues(t, 10, msg.ID)
	assert.Equal(t, "holiday", msg.Text)
	assert.EqualValues(t, 7, msg.ReplyTo)
	assert.Equal(t, time.Unix(1700000000, 0).UTC(), msg.Date)
	assert.Zero(t, groupedID)

	require.Len(t, msg.Media, 1)
	assert.Equal(t, msgdomain.KindPhoto, msg.Media[0].Kind)
	assert.EqualValues(t, 555, msg.Media[0].ID)

	loc, ok := reg.get(555)
	require.True(t, ok)
	photoLoc, ok := loc.(*tg.InputPhotoFileLocation)
	require.True(t, ok)
	assert.Equal(t, "y", photoLoc.ThumbSize)
	assert.EqualValues(t, 999, photoLoc.AccessHash)
}

func TestMapMessageVideoDocument(t *testing.T) {
	reg := newLocationRegistry()
	video := &tg.DocumentAttributeVideo{Duration: 12.5, W: 640, H: 480}
	video.SetRoundMessage(true)

	raw := &tg.Message{ID: 3, Date: 1700000000}
	raw.SetMedia(&tg.MessageMediaDocument{
		Document: &tg.Document{
			ID:       77,
			MimeType: "video/mp4",
			Attributes: []tg.DocumentAttributeClass{
				video,
				&tg.DocumentAttributeFilename{FileName: "clip.mp4"},
			},
		},
	})
	msg, _ := mapMessage(reg, raw)

	require.Len(t, msg.Media, 1)
	ref := msg.Media[0]
	assert.Equal(t, msgdomain.KindDocument, ref.Kind)
	assert.Equal(t, "video/mp4", ref.MIMEType)
	assert.Equal(t, "clip.mp4", ref.FileName)
	require.NotNil(t, ref.Video)
	assert.True(t, ref.Video.Round)
	assert.Equal(t, 12500*time.Millisecond, ref.Video.Duration)
	assert.Equal(t, 640, ref.Video.Width)

	_, ok := reg.get(77)
	assert.True(t, ok)
}

func TestMapMessageVoiceDocument(t *testing.T) {
	reg := newLocationRegistry()
	audio := &tg.DocumentAttributeAudio{Duration: 9}
	audio.SetVoice(true)

	raw := &tg.Message{ID: 4, Date: 1700000000}
	raw.SetMedia(&tg.MessageMediaDocument{
		Document: &tg.Document{
			ID:         11,
			MimeType:   "audio/ogg",
			Attributes: []tg.DocumentAttributeClass{audio},
		},
	})
	msg, _ := mapMessage(reg, raw)

	require.Len(t, msg.Media, 1)
	require.NotNil(t, msg.Media[0].Audio)
	assert.True(t, msg.Media[0].Audio.Voice)
	assert.Equal(t, 9*time.Second, msg.Media[0].Audio.Duration)
}

func TestMapMessageUnsupportedMediaDropped(t *testing.T) {
	reg := newLocationRegistry()
	raw := &tg.Message{ID: 5, Date: 1700000000}
	raw.SetMedia(&tg.MessageMediaGeo{})
	msg, _ := mapMessage(reg, raw)
	assert.Empty(t, msg.Media)
}

func TestLargestPhotoSizePrefersBiggestArea(t *testing.T) {
	size := largestPhotoSize([]tg.PhotoSizeClass{
		&tg.PhotoSize{Type: "s", W: 100, H: 100},
		&tg.PhotoSizeProgressive{Type: "w", W: 2560, H: 1440},
		&tg.PhotoSize{Type: "y", W: 1280, H: 960},
	})
	assert.Equal(t, "w", size)
}

func TestLargestPhotoSizeFallback(t *testing.T) {
	assert.Equal(t, "y", largestPhotoSize(nil))
}

func photoRef(id int64) msgdomain.MediaReference {
	return msgdomain.MediaReference{Kind: msgdomain.KindPhoto, ID: id}
}

func TestAlbumAggregatorMergesGroup(t *testing.T) {
	var agg albumAggregator

	_, ok := agg.add(msgdomain.Message{ID: 1, Media: []msgdomain.MediaReference{photoRef(10)}}, 100)
	assert.False(t, ok)
	_, ok = agg.add(msgdomain.Message{ID: 2, Text: "album caption", Media: []msgdomain.MediaReference{photoRef(11)}}, 100)
	assert.False(t, ok)

	flushed, ok := agg.add(msgdomain.Message{ID: 3, Text: "standalone"}, 0)
	require.True(t, ok)
	assert.EqualValues(t, 1, flushed.ID)
	assert.Equal(t, "album caption", flushed.Text)
	require.Len(t, flushed.Media, 2)
	assert.EqualValues(t, 10, flushed.Media[0].ID)
	assert.EqualValues(t, 11, flushed.Media[1].ID)

	last, ok := agg.flush()
	require.True(t, ok)
	assert.EqualValues(t, 3, last.ID)
	assert.Equal(t, "standalone", last.Text)
}

func TestAlbumAggregatorDistinctGroups(t *testing.T) {
	var agg albumAggregator

	_, ok := agg.add(msgdomain.Message{ID: 1, Media: []msgdomain.MediaReference{photoRef(1)}}, 100)
	assert.False(t, ok)
	flushed, ok := agg.add(msgdomain.Message{ID: 2, Media: []msgdomain.MediaReference{photoRef(2)}}, 200)
	require.True(t, ok)
	assert.EqualValues(t, 1, flushed.ID)

	last, ok := agg.flush()
	require.True(t, ok)
	assert.EqualValues(t, 2, last.ID)
}

func TestAlbumAggregatorEmptyFlush(t *testing.T) {
	var agg albumAggregator
	_, ok := agg.flush()
	assert.False(t, ok)
}
