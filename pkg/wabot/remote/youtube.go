package remote

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"regexp"
	"strings"

	"github.com/kkdai/youtube/v2"
	"github.com/sony/gobreaker/v2"

	"github.com/jholhewres/wabot/pkg/wabot/media"
)

var videoIDPattern = regexp.MustCompile(`^[A-Za-z0-9_-]{11}$`)

// VideoFinder turns a free-text query into a video URL.
type VideoFinder interface {
	FindVideo(ctx context.Context, query string) (string, error)
}

// YouTube implements media.Extractor on top of kkdai/youtube.
type YouTube struct {
	client  youtube.Client
	finder  VideoFinder
	breaker *gobreaker.CircuitBreaker[*youtube.Video]
	logger  *slog.Logger
}

// NewYouTube creates the extractor. finder may be nil, in which case only
// URLs and video IDs are accepted.
func NewYouTube(httpClient *http.Client, finder VideoFinder, cfg BreakerConfig, logger *slog.Logger) *YouTube {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "youtube")
	return &YouTube{
		client:  youtube.Client{HTTPClient: httpClient},
		finder:  finder,
		breaker: newBreaker[*youtube.Video]("youtube", cfg, logger),
		logger:  logger,
	}
}

// Resolve looks up the video for a URL, an ID, or (with a finder) a query.
func (y *YouTube) Resolve(ctx context.Context, ref string) (*media.Source, error) {
	ref = strings.TrimSpace(ref)
	id, err := extractVideoID(ref)
	if err != nil {
		if y.finder == nil {
			return nil, fmt.Errorf("%w: %q is not a YouTube link", ErrInvalidInput, ref)
		}
		found, ferr := y.finder.FindVideo(ctx, ref)
		if ferr != nil {
			return nil, fmt.Errorf("searching for %q: %w", ref, ferr)
		}
		if id, err = extractVideoID(found); err != nil {
			return nil, fmt.Errorf("%w: no video found for %q", ErrInvalidInput, ref)
		}
		y.logger.Debug("youtube: resolved query", "query", ref, "id", id)
	}

	video, err := execute(y.breaker, func() (*youtube.Video, error) {
		return y.client.GetVideoContext(ctx, id)
	})
	if err != nil {
		return nil, fmt.Errorf("fetching video %s: %w", id, err)
	}

	src := &media.Source{
		ID:     video.ID,
		Title:  video.Title,
		Author: video.Author,
		Handle: video,
	}
	for i := range video.Formats {
		src.Formats = append(src.Formats, convertFormat(&video.Formats[i]))
	}
	return src, nil
}

// Open streams the given format.
func (y *YouTube) Open(ctx context.Context, src *media.Source, f media.Format) (io.ReadCloser, error) {
	video, ok := src.Handle.(*youtube.Video)
	if !ok || video == nil {
		return nil, fmt.Errorf("%w: source was not resolved by this extractor", ErrInvalidInput)
	}
	for i := range video.Formats {
		yf := &video.Formats[i]
		if yf.ItagNo != f.ID {
			continue
		}
		rc, _, err := y.client.GetStreamContext(ctx, video, yf)
		if err != nil {
			return nil, fmt.Errorf("opening stream %d: %w", f.ID, err)
		}
		return rc, nil
	}
	return nil, fmt.Errorf("format %d: %w", f.ID, media.ErrNoSuitableFormat)
}

// extractVideoID accepts links and bare IDs. The library treats any long
// enough string as an ID, so free text is rejected here.
func extractVideoID(ref string) (string, error) {
	id, err := youtube.ExtractVideoID(ref)
	if err != nil {
		return "", err
	}
	if !videoIDPattern.MatchString(id) {
		return "", fmt.Errorf("%w: %q is not a video ID", ErrInvalidInput, id)
	}
	return id, nil
}

func convertFormat(f *youtube.Format) media.Format {
	mimeType := strings.ToLower(f.MimeType)
	base, _, _ := strings.Cut(mimeType, ";")
	_, container, _ := strings.Cut(base, "/")

	return media.Format{
		ID:            f.ItagNo,
		MimeType:      base,
		Container:     container,
		HasAudio:      f.AudioChannels > 0,
		HasVideo:      strings.HasPrefix(base, "video/") && (f.Height > 0 || f.QualityLabel != ""),
		AudioRank:     audioRank(f.AudioQuality),
		Bitrate:       f.Bitrate,
		Height:        f.Height,
		ContentLength: f.ContentLength,
	}
}

func audioRank(q string) int {
	switch strings.ToUpper(q) {
	case "AUDIO_QUALITY_HIGH":
		return 3
	case "AUDIO_QUALITY_MEDIUM":
		return 2
	case "AUDIO_QUALITY_LOW", "AUDIO_QUALITY_ULTRALOW":
		return 1
	default:
		return 0
	}
}
