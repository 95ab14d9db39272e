// Package channels holds the transport-neutral message model and the
// capability interfaces a messaging account exposes to the bot. The
// WhatsApp binding lives in the whatsapp subpackage.
package channels

import (
	"context"
	"errors"
	"time"
)

// MessageType identifies the kind of message content.
type MessageType string

const (
	MessageText     MessageType = "text"
	MessageImage    MessageType = "image"
	MessageAudio    MessageType = "audio"
	MessageVideo    MessageType = "video"
	MessageDocument MessageType = "document"
	MessageSticker  MessageType = "sticker"
	MessageReaction MessageType = "reaction"
	MessageCall     MessageType = "call"
)

// Transport is a linked messaging account producing inbound events.
type Transport interface {
	Connect(ctx context.Context) error
	Disconnect() error
	Receive() <-chan *IncomingMessage
	IsConnected() bool
}

// Messaging sends text and media and fetches inbound attachments.
type Messaging interface {
	Send(ctx context.Context, to string, msg *OutgoingMessage) error
	SendMedia(ctx context.Context, to string, msg *MediaMessage) error
	// DownloadMedia returns the decrypted payload and its MIME type.
	DownloadMedia(ctx context.Context, info *MediaInfo) ([]byte, string, error)
}

// Signals covers receipts, reactions, chat presence and call control.
type Signals interface {
	SendReaction(ctx context.Context, chatID, senderID, messageID, emoji string) error
	// MarkRead needs senderID for group chats and status updates.
	MarkRead(ctx context.Context, chatID, senderID string, messageIDs []string) error
	RejectCall(ctx context.Context, from, callID string) error
	SendTyping(ctx context.Context, to string) error
	SendRecording(ctx context.Context, to string) error
	SendPresence(ctx context.Context, available bool) error
}

// Directory exposes the account's identity, address book and profile.
type Directory interface {
	SelfID() string
	Contacts(ctx context.Context) ([]Contact, error)
	GroupParticipants(ctx context.Context, groupID string) ([]string, error)
	SaveContact(ctx context.Context, id, name string) error
	SetStatusMessage(ctx context.Context, text string) error
}

// IncomingMessage is one inbound event: a chat message, a status update
// or a call offer.
type IncomingMessage struct {
	ID      string
	Channel string

	// From is the author. For direct chats ChatID equals From.
	From     string
	FromName string
	ChatID   string

	IsGroup  bool
	FromMe   bool
	IsStatus bool
	ViewOnce bool

	Type      MessageType
	Content   string // text body or media caption
	Timestamp time.Time

	// ReplyTo is the ID of the quoted message. Quoted carries its payload
	// when the transport delivered one.
	ReplyTo string
	Quoted  *QuotedMessage

	Media    *MediaInfo
	Reaction *ReactionInfo
	Call     *CallInfo

	Metadata map[string]any
}

// QuotedMessage is the message a reply refers to.
type QuotedMessage struct {
	ID       string
	Sender   string
	Content  string
	Media    *MediaInfo
	ViewOnce bool
}

// OutgoingMessage is a text reply.
type OutgoingMessage struct {
	Content string

	// ReplyToSender is required to quote a message in a group chat.
	ReplyTo       string
	ReplyToSender string

	Mentions []string
}

// MediaMessage is an attachment to upload and send.
type MediaMessage struct {
	Type     MessageType
	Data     []byte
	MimeType string
	Filename string
	Caption  string

	Duration      uint32 // seconds
	Width, Height uint32

	ReplyTo       string
	ReplyToSender string
}

// MediaInfo locates an inbound attachment on the WhatsApp media servers.
type MediaInfo struct {
	Type     MessageType
	MimeType string
	Filename string
	FileSize uint64
	Caption  string

	Duration      uint32
	Width, Height uint32

	DirectPath    string
	MediaKey      []byte
	FileSHA256    []byte
	FileEncSHA256 []byte
}

// ReactionInfo describes an inbound reaction.
type ReactionInfo struct {
	Emoji     string
	MessageID string
	From      string
	Remove    bool
}

// CallInfo describes an incoming call offer.
type CallInfo struct {
	ID      string
	IsVideo bool
}

// Contact is an address book entry.
type Contact struct {
	ID      string
	Name    string
	IsGroup bool
}

var (
	ErrNotConnected     = errors.New("messaging account is not connected")
	ErrSendFailed       = errors.New("send failed")
	ErrUnsupportedMedia = errors.New("unsupported media")
	ErrMediaDownload    = errors.New("media download failed")
)
