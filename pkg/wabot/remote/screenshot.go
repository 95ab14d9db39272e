package remote

import (
	"context"
	"fmt"
	"log/slog"
	"net/url"
	"strings"
	"time"

	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/chromedp"
)

// Screenshot modes.
const (
	ScreenshotChrome = "chrome"
	ScreenshotRemote = "remote"
)

// ScreenshotConfig configures web page captures.
type ScreenshotConfig struct {
	// Mode is "chrome" (local headless Chrome) or "remote" (thum.io render URL).
	Mode    string        `yaml:"mode"`
	Width   int           `yaml:"width"`
	Height  int           `yaml:"height"`
	Timeout time.Duration `yaml:"timeout"`
	// ChromePath overrides the browser binary; empty uses chromedp's lookup.
	ChromePath string `yaml:"chrome_path"`
}

// Screenshot is a captured page. Exactly one of Data or URL is set: Data
// when the page was rendered locally, URL when a remote renderer serves it.
type Screenshot struct {
	Data     []byte
	URL      string
	MimeType string
}

// URLChecker validates user-supplied URLs before they are visited.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Screenshotter renders web pages to images.
type Screenshotter struct {
	cfg    ScreenshotConfig
	guard  URLChecker
	logger *slog.Logger

	remoteBase string
}

// NewScreenshotter creates a screenshotter. guard may be nil.
func NewScreenshotter(cfg ScreenshotConfig, guard URLChecker, logger *slog.Logger) *Screenshotter {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Mode == "" {
		cfg.Mode = ScreenshotRemote
	}
	if cfg.Width <= 0 {
		cfg.Width = 1200
	}
	if cfg.Height <= 0 {
		cfg.Height = 800
	}
	if cfg.Timeout <= 0 {
		cfg.Timeout = 45 * time.Second
	}
	return &Screenshotter{
		cfg:        cfg,
		guard:      guard,
		logger:     logger.With("component", "screenshot", "mode", cfg.Mode),
		remoteBase: "https://image.thum.io/get",
	}
}

// Capture renders target. Only absolute http(s) URLs are accepted.
func (s *Screenshotter) Capture(ctx context.Context, target string) (*Screenshot, error) {
	target = strings.TrimSpace(target)
	u, err := url.Parse(target)
	if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
		return nil, fmt.Errorf("%w: %q is not a web URL", ErrInvalidInput, target)
	}
	if s.guard != nil {
		if err := s.guard.Check(ctx, target); err != nil {
			return nil, fmt.Errorf("%w: %v", ErrInvalidInput, err)
		}
	}

	switch s.cfg.Mode {
	case ScreenshotChrome:
		return s.captureChrome(ctx, target)
	case ScreenshotRemote:
		return &Screenshot{URL: s.RemoteURL(target), MimeType: "image/png"}, nil
	default:
		return nil, fmt.Errorf("unknown screenshot mode %q", s.cfg.Mode)
	}
}

// RemoteURL returns the thum.io render URL for target.
func (s *Screenshotter) RemoteURL(target string) string {
	return fmt.Sprintf("%s/width/%d/crop/%d/noanimate/%s",
		s.remoteBase, s.cfg.Width, s.cfg.Height, url.QueryEscape(target))
}

func (s *Screenshotter) captureChrome(ctx context.Context, target string) (*Screenshot, error) {
	ctx, cancel := context.WithTimeout(ctx, s.cfg.Timeout)
	defer cancel()

	opts := make([]chromedp.ExecAllocatorOption, len(chromedp.DefaultExecAllocatorOptions))
	copy(opts, chromedp.DefaultExecAllocatorOptions[:])
	opts = append(opts,
		chromedp.Flag("headless", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.WindowSize(s.cfg.Width, s.cfg.Height),
	)
	if s.cfg.ChromePath != "" {
		opts = append(opts, chromedp.ExecPath(s.cfg.ChromePath))
	}

	allocCtx, allocCancel := chromedp.NewExecAllocator(ctx, opts...)
	defer allocCancel()
	tabCtx, tabCancel := chromedp.NewContext(allocCtx)
	defer tabCancel()

	var buf []byte
	start := time.Now()
	err := chromedp.Run(tabCtx,
		chromedp.EmulateViewport(int64(s.cfg.Width), int64(s.cfg.Height)),
		chromedp.Navigate(target),
		chromedp.WaitReady("body"),
		chromedp.ActionFunc(func(actx context.Context) error {
			data, err := page.CaptureScreenshot().
				WithFormat(page.CaptureScreenshotFormatJpeg).
				WithQuality(85).
				Do(actx)
			if err != nil {
				return err
			}
			buf = data
			return nil
		}),
	)
	if err != nil {
		return nil, fmt.Errorf("capturing %s: %w", target, err)
	}

	s.logger.Info("screenshot: captured", "url", target, "bytes", len(buf),
		"duration_ms", time.Since(start).Milliseconds())
	return &Screenshot{Data: buf, MimeType: "image/jpeg"}, nil
}
