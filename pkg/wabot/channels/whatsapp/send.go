package whatsapp

import (
	"context"
	"fmt"
	"strings"
	"time"

	"go.mau.fi/whatsmeow"
	waE2E "go.mau.fi/whatsmeow/proto/waE2E"
	"go.mau.fi/whatsmeow/types"
	"google.golang.org/protobuf/proto"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// Send sends a text message, optionally quoting ReplyTo and mentioning
// Mentions.
func (w *WhatsApp) Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error {
	if !w.IsConnected() {
		return channels.ErrNotConnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}

	if _, err := w.client.SendMessage(ctx, jid, buildTextMessage(msg)); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// SendMedia uploads and sends a media message.
func (w *WhatsApp) SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error {
	if !w.IsConnected() {
		return channels.ErrNotConnected
	}

	jid, err := parseJID(to)
	if err != nil {
		return fmt.Errorf("invalid JID %q: %w", to, err)
	}

	waMsg, err := w.buildMediaMessage(ctx, media)
	if err != nil {
		return fmt.Errorf("building media message: %w", err)
	}

	if _, err := w.client.SendMessage(ctx, jid, waMsg); err != nil {
		return fmt.Errorf("%w: %w", channels.ErrSendFailed, err)
	}
	return nil
}

// DownloadMedia fetches and decrypts the payload described by info.
func (w *WhatsApp) DownloadMedia(ctx context.Context, info *channels.MediaInfo) ([]byte, string, error) {
	if info == nil {
		return nil, "", fmt.Errorf("%w: no media info", channels.ErrMediaDownload)
	}
	if w.client == nil {
		return nil, "", channels.ErrNotConnected
	}
	if info.DirectPath == "" || len(info.MediaKey) == 0 {
		return nil, "", fmt.Errorf("%w: missing direct path or media key", channels.ErrMediaDownload)
	}

	data, err := w.client.DownloadMediaWithPath(ctx,
		info.DirectPath,
		info.FileEncSHA256,
		info.FileSHA256,
		info.MediaKey,
		int(info.FileSize),
		mediaTypeFor(info.Type),
		"")
	if err != nil {
		return nil, "", fmt.Errorf("%w: %w", channels.ErrMediaDownload, err)
	}

	mimeType := info.MimeType
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = strings.TrimSpace(mimeType[:i])
	}
	return data, mimeType, nil
}

// ---------- Presence ----------

// SendTyping shows "typing..." in the chat.
func (w *WhatsApp) SendTyping(ctx context.Context, to string) error {
	return w.sendChatPresence(ctx, to, types.ChatPresenceMediaText)
}

// SendRecording shows "recording audio..." in the chat.
func (w *WhatsApp) SendRecording(ctx context.Context, to string) error {
	return w.sendChatPresence(ctx, to, types.ChatPresenceMediaAudio)
}

func (w *WhatsApp) sendChatPresence(ctx context.Context, to string, media types.ChatPresenceMedia) error {
	if !w.IsConnected() {
		return nil
	}
	jid, err := parseJID(to)
	if err != nil {
		return err
	}
	return w.client.SendChatPresence(ctx, jid, types.ChatPresenceComposing, media)
}

// SendPresence updates the account's online status.
func (w *WhatsApp) SendPresence(ctx context.Context, available bool) error {
	if !w.IsConnected() {
		return nil
	}
	if available {
		return w.client.SendPresence(ctx, types.PresenceAvailable)
	}
	return w.client.SendPresence(ctx, types.PresenceUnavailable)
}

// MarkRead sends read receipts. senderID is the message author; it is
// required in groups and for status updates.
func (w *WhatsApp) MarkRead(ctx context.Context, chatID, senderID string, messageIDs []string) error {
	if !w.IsConnected() {
		return nil
	}
	chat, err := parseJID(chatID)
	if err != nil {
		return err
	}
	sender := chat
	if senderID != "" {
		if sender, err = parseJID(senderID); err != nil {
			return err
		}
	}

	ids := make([]types.MessageID, len(messageIDs))
	for i, id := range messageIDs {
		ids[i] = types.MessageID(id)
	}
	return w.client.MarkRead(ctx, ids, time.Now(), chat, sender)
}

// ---------- Reactions and calls ----------

// SendReaction reacts to messageID, authored by senderID, in chatID.
func (w *WhatsApp) SendReaction(ctx context.Context, chatID, senderID, messageID, emoji string) error {
	if !w.IsConnected() {
		return channels.ErrNotConnected
	}

	chat, err := parseJID(chatID)
	if err != nil {
		return err
	}
	sender := chat
	if senderID != "" {
		if sender, err = parseJID(senderID); err != nil {
			return err
		}
	}

	waMsg := w.client.BuildReaction(chat, sender, types.MessageID(messageID), emoji)
	_, err = w.client.SendMessage(ctx, chat, waMsg)
	return err
}

// RejectCall declines an incoming call.
func (w *WhatsApp) RejectCall(ctx context.Context, from, callID string) error {
	if !w.IsConnected() {
		return channels.ErrNotConnected
	}
	jid, err := parseJID(from)
	if err != nil {
		return err
	}
	return w.client.RejectCall(ctx, jid, callID)
}

// ---------- Builders ----------

// buildTextMessage uses the plain conversation form unless the message
// needs a context (quote or mentions).
func buildTextMessage(msg *channels.OutgoingMessage) *waE2E.Message {
	ctxInfo := buildContextInfo(msg.ReplyTo, msg.ReplyToSender, msg.Mentions)
	if ctxInfo == nil {
		return &waE2E.Message{Conversation: proto.String(msg.Content)}
	}
	return &waE2E.Message{
		ExtendedTextMessage: &waE2E.ExtendedTextMessage{
			Text:        proto.String(msg.Content),
			ContextInfo: ctxInfo,
		},
	}
}

func buildContextInfo(replyTo, replyToSender string, mentions []string) *waE2E.ContextInfo {
	if replyTo == "" && len(mentions) == 0 {
		return nil
	}
	ctxInfo := &waE2E.ContextInfo{}
	if replyTo != "" {
		ctxInfo.StanzaID = proto.String(replyTo)
		ctxInfo.QuotedMessage = &waE2E.Message{Conversation: proto.String("")}
		if replyToSender != "" {
			if jid, err := parseJID(replyToSender); err == nil {
				ctxInfo.Participant = proto.String(jid.ToNonAD().String())
			}
		}
	}
	for _, m := range mentions {
		if jid, err := parseJID(m); err == nil {
			ctxInfo.MentionedJID = append(ctxInfo.MentionedJID, jid.ToNonAD().String())
		}
	}
	return ctxInfo
}

func mediaTypeFor(t channels.MessageType) whatsmeow.MediaType {
	switch t {
	case channels.MessageAudio:
		return whatsmeow.MediaAudio
	case channels.MessageVideo:
		return whatsmeow.MediaVideo
	case channels.MessageDocument:
		return whatsmeow.MediaDocument
	default:
		// Stickers are uploaded and downloaded as images.
		return whatsmeow.MediaImage
	}
}

// buildMediaMessage uploads the payload and wraps it in the matching
// message type.
func (w *WhatsApp) buildMediaMessage(ctx context.Context, media *channels.MediaMessage) (*waE2E.Message, error) {
	if len(media.Data) == 0 {
		return nil, fmt.Errorf("%w: media payload is empty", channels.ErrUnsupportedMedia)
	}

	up, err := w.client.Upload(ctx, media.Data, mediaTypeFor(media.Type))
	if err != nil {
		return nil, fmt.Errorf("uploading media: %w", err)
	}

	ctxInfo := buildContextInfo(media.ReplyTo, media.ReplyToSender, nil)
	return composeMediaMessage(media, up, ctxInfo)
}

// composeMediaMessage builds the message for an uploaded payload.
func composeMediaMessage(media *channels.MediaMessage, up whatsmeow.UploadResponse, ctxInfo *waE2E.ContextInfo) (*waE2E.Message, error) {
	mimeType := media.MimeType
	switch media.Type {
	case channels.MessageImage:
		if mimeType == "" {
			mimeType = "image/jpeg"
		}
		return &waE2E.Message{ImageMessage: &waE2E.ImageMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			Caption:       optString(media.Caption),
			Width:         optUint32(media.Width),
			Height:        optUint32(media.Height),
			ContextInfo:   ctxInfo,
		}}, nil

	case channels.MessageSticker:
		return &waE2E.Message{StickerMessage: &waE2E.StickerMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String("image/webp"),
			Width:         optUint32(media.Width),
			Height:        optUint32(media.Height),
			ContextInfo:   ctxInfo,
		}}, nil

	case channels.MessageAudio:
		if mimeType == "" {
			mimeType = "audio/mpeg"
		}
		return &waE2E.Message{AudioMessage: &waE2E.AudioMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			Seconds:       optUint32(media.Duration),
			ContextInfo:   ctxInfo,
		}}, nil

	case channels.MessageVideo:
		if mimeType == "" {
			mimeType = "video/mp4"
		}
		return &waE2E.Message{VideoMessage: &waE2E.VideoMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			Caption:       optString(media.Caption),
			Seconds:       optUint32(media.Duration),
			Width:         optUint32(media.Width),
			Height:        optUint32(media.Height),
			ContextInfo:   ctxInfo,
		}}, nil

	case channels.MessageDocument:
		if mimeType == "" {
			mimeType = "application/octet-stream"
		}
		filename := media.Filename
		if filename == "" {
			filename = "file"
		}
		return &waE2E.Message{DocumentMessage: &waE2E.DocumentMessage{
			URL:           proto.String(up.URL),
			DirectPath:    proto.String(up.DirectPath),
			MediaKey:      up.MediaKey,
			FileEncSHA256: up.FileEncSHA256,
			FileSHA256:    up.FileSHA256,
			FileLength:    proto.Uint64(up.FileLength),
			Mimetype:      proto.String(mimeType),
			FileName:      proto.String(filename),
			Title:         proto.String(filename),
			Caption:       optString(media.Caption),
			ContextInfo:   ctxInfo,
		}}, nil
	}

	return nil, fmt.Errorf("%w: %s", channels.ErrUnsupportedMedia, media.Type)
}

func optString(s string) *string {
	if s == "" {
		return nil
	}
	return proto.String(s)
}

func optUint32(v uint32) *uint32 {
	if v == 0 {
		return nil
	}
	return proto.Uint32(v)
}

// parseJID converts a string identifier to a JID.
// Accepts "5511999999999", "5511999999999@s.whatsapp.net", legacy
// "5511999999999@c.us" and group IDs like "123456789-1234@g.us".
func parseJID(s string) (types.JID, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return types.JID{}, fmt.Errorf("empty JID")
	}

	if user, server, ok := strings.Cut(s, "@"); ok {
		if server == "c.us" {
			s = user + "@" + types.DefaultUserServer
		}
		return types.ParseJID(s)
	}

	digits := strings.Map(func(r rune) rune {
		if r >= '0' && r <= '9' {
			return r
		}
		return -1
	}, s)

	if len(digits) < 10 {
		return types.JID{}, fmt.Errorf("phone number too short: %s", s)
	}
	return types.NewJID(digits, types.DefaultUserServer), nil
}
