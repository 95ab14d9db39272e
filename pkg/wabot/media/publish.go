package media

import (
	"context"
	"fmt"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// Sender delivers media messages.
type Sender interface {
	SendMedia(ctx context.Context, to string, media *channels.MediaMessage) error
}

// PublishOptions controls how an artifact is sent.
type PublishOptions struct {
	Caption string

	// AsDocument sends the file as a document attachment, keeping the
	// original bytes untouched by the recipient's client.
	AsDocument bool

	ReplyTo       string
	ReplyToSender string
}

// Publish sends the artifact to a chat.
func Publish(ctx context.Context, sender Sender, to string, art *Artifact, opts PublishOptions) error {
	data, err := art.ReadAll()
	if err != nil {
		return err
	}

	msgType := art.Category.MessageType()
	if opts.AsDocument {
		msgType = channels.MessageDocument
	}

	msg := &channels.MediaMessage{
		Type:          msgType,
		Data:          data,
		MimeType:      art.MimeType,
		Filename:      art.Filename,
		Caption:       opts.Caption,
		ReplyTo:       opts.ReplyTo,
		ReplyToSender: opts.ReplyToSender,
	}
	if msg.MimeType == "" {
		msg.MimeType = DetectMimeType(data, art.Filename)
	}

	if err := sender.SendMedia(ctx, to, msg); err != nil {
		return fmt.Errorf("publishing %s: %w", art.Category, err)
	}
	return nil
}
