package media

import (
	"cmp"
	"context"
	"fmt"
	"io"
	"slices"
	"strings"

	"github.com/google/uuid"
)

// Kind selects what Extract produces.
type Kind int

const (
	KindAudio Kind = iota
	KindVideo
)

func (k Kind) String() string {
	if k == KindVideo {
		return "video"
	}
	return "audio"
}

// Format is one downloadable rendition of a source.
type Format struct {
	ID        int
	MimeType  string
	Container string // "mp4", "webm", ...
	HasAudio  bool
	HasVideo  bool

	// AudioRank orders audio quality (higher is better).
	AudioRank int
	Bitrate   int
	Height    int

	ContentLength int64
}

// Source is a resolved video reference.
type Source struct {
	ID      string
	Title   string
	Author  string
	Formats []Format

	// Handle is private to the extractor that produced the source.
	Handle any
}

// Extractor resolves a reference (URL or ID) and opens format streams.
type Extractor interface {
	Resolve(ctx context.Context, ref string) (*Source, error)
	Open(ctx context.Context, src *Source, f Format) (io.ReadCloser, error)
}

// SelectFormat picks the best format for kind.
//
// Audio: audio-only formats, best audio rank then bitrate.
// Video: mp4 formats carrying both audio and video, tallest then bitrate.
func SelectFormat(formats []Format, kind Kind) (Format, error) {
	var candidates []Format
	for _, f := range formats {
		switch kind {
		case KindAudio:
			if f.HasAudio && !f.HasVideo {
				candidates = append(candidates, f)
			}
		case KindVideo:
			if f.HasAudio && f.HasVideo && strings.EqualFold(f.Container, "mp4") {
				candidates = append(candidates, f)
			}
		}
	}
	if len(candidates) == 0 {
		return Format{}, fmt.Errorf("%s: %w", kind, ErrNoSuitableFormat)
	}

	best := slices.MaxFunc(candidates, func(a, b Format) int {
		if kind == KindAudio {
			if c := cmp.Compare(a.AudioRank, b.AudioRank); c != 0 {
				return c
			}
		} else {
			if c := cmp.Compare(a.Height, b.Height); c != 0 {
				return c
			}
		}
		return cmp.Compare(a.Bitrate, b.Bitrate)
	})
	return best, nil
}

// Extract resolves ref, selects a format and streams it into a staged file
// named "<source id>-<unique>.mp3" or ".mp4". No file is created when no
// suitable format exists.
func (s *Stager) Extract(ctx context.Context, ex Extractor, ref string, kind Kind) (*Artifact, error) {
	src, err := ex.Resolve(ctx, ref)
	if err != nil {
		return nil, fmt.Errorf("resolving %q: %w", ref, err)
	}

	format, err := SelectFormat(src.Formats, kind)
	if err != nil {
		return nil, err
	}

	rc, err := ex.Open(ctx, src, format)
	if err != nil {
		return nil, fmt.Errorf("opening %s stream: %w", kind, err)
	}
	defer rc.Close()

	ext, category, mimeType := ".mp3", CategoryAudio, "audio/mpeg"
	if kind == KindVideo {
		ext, category, mimeType = ".mp4", CategoryVideo, "video/mp4"
	}

	id := sanitizeFilename(src.ID)
	if id == "" {
		id = "media"
	}
	name := fmt.Sprintf("%s-%s%s", id, uuid.NewString()[:8], ext)

	art, err := s.stageStream(rc, name, category)
	if err != nil {
		return nil, fmt.Errorf("staging %s: %w", kind, err)
	}
	art.MimeType = mimeType
	art.Source = src.ID
	art.Title = src.Title
	title := sanitizeFilename(src.Title)
	if title == "" {
		title = id
	}
	art.Filename = title + ext

	s.logger.Info("media: extracted stream",
		"source", src.ID, "kind", kind.String(), "format", format.ID, "size", art.Size)
	return art, nil
}
