// Package media stages media on local disk for the duration of a single
// command: remote downloads, attachments pulled from the messaging
// transport and streams produced by a video extractor all land in the
// configured temp directory under a unique name, are published, and are
// removed again.
package media

import (
	"errors"
	"fmt"
	"log/slog"
	"os"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// Category classifies a staged artifact.
type Category string

const (
	CategoryImage    Category = "image"
	CategoryAudio    Category = "audio"
	CategoryVideo    Category = "video"
	CategoryDocument Category = "document"
	CategorySticker  Category = "sticker"
)

// MessageType maps the category onto the channel message type.
func (c Category) MessageType() channels.MessageType {
	switch c {
	case CategoryImage:
		return channels.MessageImage
	case CategoryAudio:
		return channels.MessageAudio
	case CategoryVideo:
		return channels.MessageVideo
	case CategorySticker:
		return channels.MessageSticker
	default:
		return channels.MessageDocument
	}
}

// CategoryFor maps a channel message type onto a category.
func CategoryFor(t channels.MessageType) Category {
	switch t {
	case channels.MessageImage:
		return CategoryImage
	case channels.MessageAudio:
		return CategoryAudio
	case channels.MessageVideo:
		return CategoryVideo
	case channels.MessageSticker:
		return CategorySticker
	default:
		return CategoryDocument
	}
}

// Errors.
var (
	ErrNoMediaFound     = errors.New("no media found")
	ErrNoSourceImage    = errors.New("no source image")
	ErrNotViewOnce      = errors.New("quoted message is not a view once message")
	ErrNoSuitableFormat = errors.New("no suitable format")
	ErrTooLarge         = errors.New("media exceeds size limit")
)

// FetchError reports a failed remote download.
type FetchError struct {
	URL        string
	StatusCode int
	Err        error
}

func (e *FetchError) Error() string {
	if e.StatusCode != 0 {
		return fmt.Sprintf("fetching %s: HTTP %d", e.URL, e.StatusCode)
	}
	return fmt.Sprintf("fetching %s: %v", e.URL, e.Err)
}

func (e *FetchError) Unwrap() error { return e.Err }

// Artifact is a staged file. It belongs to the command invocation that
// created it and must be released with Cleanup on every exit path.
type Artifact struct {
	// Path is the absolute location of the staged file.
	Path string

	// Category is the category the caller asked for.
	Category Category

	// MimeType is the content type of the payload.
	MimeType string

	// Filename is the name shown to recipients for documents.
	Filename string

	// Size is the number of bytes written.
	Size int64

	// Source is the URL, message ID or video ID the payload came from.
	Source string

	// Title is a human-readable label (e.g. the video title).
	Title string

	logger *slog.Logger
}

// Cleanup deletes the staged file. Failures are logged and never returned.
func (a *Artifact) Cleanup() {
	if a == nil || a.Path == "" {
		return
	}
	if err := os.Remove(a.Path); err != nil && !errors.Is(err, os.ErrNotExist) {
		logger := a.logger
		if logger == nil {
			logger = slog.Default()
		}
		logger.Warn("media: failed to remove staged file", "path", a.Path, "error", err)
	}
}

// WithArtifact runs fn with art and removes the staged file afterwards,
// whatever fn returns.
func WithArtifact(art *Artifact, fn func(*Artifact) error) error {
	defer art.Cleanup()
	return fn(art)
}

// ReadAll returns the staged payload.
func (a *Artifact) ReadAll() ([]byte, error) {
	data, err := os.ReadFile(a.Path)
	if err != nil {
		return nil, fmt.Errorf("reading staged file: %w", err)
	}
	return data, nil
}

// SelectStickerSource picks the image a sticker is made from: the quoted
// image first, then the message's own image.
func SelectStickerSource(msg *channels.IncomingMessage) (*channels.MediaInfo, error) {
	if msg == nil {
		return nil, ErrNoSourceImage
	}
	if q := msg.Quoted; q != nil && q.Media != nil && q.Media.Type == channels.MessageImage {
		return q.Media, nil
	}
	if msg.Media != nil && msg.Media.Type == channels.MessageImage {
		return msg.Media, nil
	}
	return nil, ErrNoSourceImage
}

// SelectViewOnceSource returns the media of a quoted view-once message.
func SelectViewOnceSource(msg *channels.IncomingMessage) (*channels.MediaInfo, error) {
	if msg == nil || msg.Quoted == nil || msg.Quoted.Media == nil || !msg.Quoted.ViewOnce {
		return nil, ErrNotViewOnce
	}
	return msg.Quoted.Media, nil
}
