package whatsapp

import (
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// downloadable is the set of getters every whatsmeow media message shares.
type downloadable interface {
	GetDirectPath() string
	GetMediaKey() []byte
	GetFileSHA256() []byte
	GetFileEncSHA256() []byte
	GetFileLength() uint64
	GetMimetype() string
}

func mediaInfo(t channels.MessageType, m downloadable) *channels.MediaInfo {
	return &channels.MediaInfo{
		Type:          t,
		MimeType:      m.GetMimetype(),
		FileSize:      m.GetFileLength(),
		DirectPath:    m.GetDirectPath(),
		MediaKey:      m.GetMediaKey(),
		FileSHA256:    m.GetFileSHA256(),
		FileEncSHA256: m.GetFileEncSHA256(),
	}
}

// unwrapViewOnce strips view-once envelopes. whatsmeow already unwraps the
// top-level message, but quoted payloads arrive still wrapped.
func unwrapViewOnce(m *waE2E.Message) (*waE2E.Message, bool) {
	if m == nil {
		return nil, false
	}
	switch {
	case m.ViewOnceMessage != nil:
		return m.ViewOnceMessage.GetMessage(), true
	case m.ViewOnceMessageV2 != nil:
		return m.ViewOnceMessageV2.GetMessage(), true
	case m.ViewOnceMessageV2Extension != nil:
		return m.ViewOnceMessageV2Extension.GetMessage(), true
	}
	return m, false
}

// isViewOnceMedia reports the per-media view-once flag.
func isViewOnceMedia(m *waE2E.Message) bool {
	if m == nil {
		return false
	}
	return m.GetImageMessage().GetViewOnce() ||
		m.GetVideoMessage().GetViewOnce() ||
		m.GetAudioMessage().GetViewOnce()
}

// extractContent fills the type, text and media of msg from waMsg.
func extractContent(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	if waMsg == nil {
		msg.Type = channels.MessageText
		return
	}

	if waMsg.Conversation != nil {
		msg.Type = channels.MessageText
		msg.Content = waMsg.GetConversation()
		return
	}

	if ext := waMsg.ExtendedTextMessage; ext != nil {
		msg.Type = channels.MessageText
		msg.Content = ext.GetText()
		return
	}

	if img := waMsg.ImageMessage; img != nil {
		msg.Type = channels.MessageImage
		msg.Content = img.GetCaption()
		msg.Media = mediaInfo(channels.MessageImage, img)
		msg.Media.Caption = img.GetCaption()
		msg.Media.Width = img.GetWidth()
		msg.Media.Height = img.GetHeight()
		return
	}

	if audio := waMsg.AudioMessage; audio != nil {
		msg.Type = channels.MessageAudio
		msg.Media = mediaInfo(channels.MessageAudio, audio)
		msg.Media.Duration = audio.GetSeconds()
		return
	}

	if video := waMsg.VideoMessage; video != nil {
		msg.Type = channels.MessageVideo
		msg.Content = video.GetCaption()
		msg.Media = mediaInfo(channels.MessageVideo, video)
		msg.Media.Caption = video.GetCaption()
		msg.Media.Duration = video.GetSeconds()
		msg.Media.Width = video.GetWidth()
		msg.Media.Height = video.GetHeight()
		return
	}

	if doc := waMsg.DocumentMessage; doc != nil {
		msg.Type = channels.MessageDocument
		msg.Content = doc.GetCaption()
		msg.Media = mediaInfo(channels.MessageDocument, doc)
		msg.Media.Filename = doc.GetFileName()
		msg.Media.Caption = doc.GetCaption()
		return
	}

	if sticker := waMsg.StickerMessage; sticker != nil {
		msg.Type = channels.MessageSticker
		msg.Media = mediaInfo(channels.MessageSticker, sticker)
		msg.Media.Width = sticker.GetWidth()
		msg.Media.Height = sticker.GetHeight()
		return
	}

	if reaction := waMsg.ReactionMessage; reaction != nil {
		msg.Type = channels.MessageReaction
		msg.Reaction = &channels.ReactionInfo{
			Emoji:     reaction.GetText(),
			MessageID: reaction.GetKey().GetID(),
			From:      msg.From,
			Remove:    reaction.GetText() == "",
		}
		return
	}

	msg.Type = channels.MessageText
}

// contextInfo returns the quoting context of any message type that has one.
func contextInfo(waMsg *waE2E.Message) *waE2E.ContextInfo {
	switch {
	case waMsg == nil:
		return nil
	case waMsg.ExtendedTextMessage != nil:
		return waMsg.ExtendedTextMessage.GetContextInfo()
	case waMsg.ImageMessage != nil:
		return waMsg.ImageMessage.GetContextInfo()
	case waMsg.AudioMessage != nil:
		return waMsg.AudioMessage.GetContextInfo()
	case waMsg.VideoMessage != nil:
		return waMsg.VideoMessage.GetContextInfo()
	case waMsg.DocumentMessage != nil:
		return waMsg.DocumentMessage.GetContextInfo()
	case waMsg.StickerMessage != nil:
		return waMsg.StickerMessage.GetContextInfo()
	}
	return nil
}

// extractQuoted fills ReplyTo and Quoted from the reply context.
func (w *WhatsApp) extractQuoted(waMsg *waE2E.Message, msg *channels.IncomingMessage) {
	ctxInfo := contextInfo(waMsg)
	if ctxInfo == nil || ctxInfo.GetStanzaID() == "" {
		return
	}

	msg.ReplyTo = ctxInfo.GetStanzaID()
	quoted := ctxInfo.GetQuotedMessage()
	if quoted == nil {
		return
	}

	inner, wrapped := unwrapViewOnce(quoted)
	var q channels.IncomingMessage
	extractContent(inner, &q)

	sender := ctxInfo.GetParticipant()
	if sender == "" {
		sender = msg.ChatID
	}

	msg.Quoted = &channels.QuotedMessage{
		ID:       ctxInfo.GetStanzaID(),
		Sender:   sender,
		Content:  q.Content,
		Media:    q.Media,
		ViewOnce: wrapped || isViewOnceMedia(inner),
	}
}
