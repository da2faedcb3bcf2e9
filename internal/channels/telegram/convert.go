package telegram

import (
	"strconv"
	"strings"
	"time"

	"github.com/mymmrac/telego"

	"github.com/nextlevelbuilder/inlet/internal/bus"
)

// eventFromMessage maps one Telegram message to a typed inbound event.
// Returns false for messages carrying nothing the gateway consumes
// (stickers, location, service messages).
func eventFromMessage(msg *telego.Message) (bus.InboundEvent, bool) {
	ev := bus.InboundEvent{
		ConversationID: strconv.FormatInt(msg.Chat.ID, 10),
		EventID:        int64(msg.MessageID),
		ArrivedAt:      time.Unix(int64(msg.Date), 0),
	}
	if msg.From != nil {
		ev.SenderID = strconv.FormatInt(msg.From.ID, 10)
	} else {
		ev.SenderID = ev.ConversationID
	}
	if msg.ReplyToMessage != nil {
		ev.ReplyToEventID = int64(msg.ReplyToMessage.MessageID)
	}

	switch {
	case len(msg.Photo) > 0:
		// Telegram sends multiple resolutions; the last is the largest.
		photo := msg.Photo[len(msg.Photo)-1]
		ev.Kind = bus.KindPhoto
		ev.Text = msg.Caption
		ev.Media = &bus.MediaRef{
			FileID:   photo.FileID,
			FileName: "photo.jpg",
			MIMEType: "image/jpeg",
			Size:     int64(photo.FileSize),
		}

	case msg.Voice != nil:
		ev.Kind = bus.KindVoice
		ev.Text = msg.Caption
		ev.Media = &bus.MediaRef{
			FileID:   msg.Voice.FileID,
			FileName: "voice.ogg",
			MIMEType: msg.Voice.MimeType,
			Size:     int64(msg.Voice.FileSize),
		}

	case msg.Audio != nil:
		ev.Kind = bus.KindVoice
		ev.Text = msg.Caption
		ev.Media = &bus.MediaRef{
			FileID:   msg.Audio.FileID,
			FileName: msg.Audio.FileName,
			MIMEType: msg.Audio.MimeType,
			Size:     int64(msg.Audio.FileSize),
		}

	case msg.Video != nil:
		ev.Kind = bus.KindVideo
		ev.Text = msg.Caption
		ev.Media = &bus.MediaRef{
			FileID:   msg.Video.FileID,
			FileName: msg.Video.FileName,
			MIMEType: msg.Video.MimeType,
			Size:     int64(msg.Video.FileSize),
		}

	case msg.VideoNote != nil:
		ev.Kind = bus.KindVideo
		ev.Media = &bus.MediaRef{
			FileID:   msg.VideoNote.FileID,
			FileName: "video_note.mp4",
			MIMEType: "video/mp4",
			Size:     int64(msg.VideoNote.FileSize),
		}

	case msg.Document != nil:
		ev.Kind = bus.KindDocument
		ev.Text = msg.Caption
		ev.Media = &bus.MediaRef{
			FileID:   msg.Document.FileID,
			FileName: msg.Document.FileName,
			MIMEType: msg.Document.MimeType,
			Size:     int64(msg.Document.FileSize),
		}

	case msg.Contact != nil:
		ev.Kind = bus.KindContact
		ev.Contact = &bus.ContactPayload{
			Name:  strings.TrimSpace(msg.Contact.FirstName + " " + msg.Contact.LastName),
			Phone: msg.Contact.PhoneNumber,
		}

	case msg.Poll != nil:
		ev.Kind = bus.KindPoll
		options := make([]string, 0, len(msg.Poll.Options))
		for _, opt := range msg.Poll.Options {
			options = append(options, opt.Text)
		}
		ev.Poll = &bus.PollPayload{
			Question: msg.Poll.Question,
			Options:  options,
		}

	case msg.Text != "":
		ev.Text = msg.Text
		if strings.HasPrefix(msg.Text, "/") {
			ev.Kind = bus.KindCommand
		} else {
			ev.Kind = bus.KindText
		}

	default:
		return bus.InboundEvent{}, false
	}

	return ev, true
}
