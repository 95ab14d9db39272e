package media

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// Config configures the Stager.
type Config struct {
	// TempDir is where artifacts are staged.
	TempDir string `yaml:"temp_dir"`

	// MaxSizeMB caps a single artifact.
	MaxSizeMB int `yaml:"max_size_mb"`

	// FetchTimeout bounds one remote download.
	FetchTimeout time.Duration `yaml:"fetch_timeout"`

	// OrphanAge is the age after which leftover files are swept at startup.
	OrphanAge time.Duration `yaml:"orphan_age"`
}

// DefaultConfig returns the default staging configuration.
func DefaultConfig() Config {
	return Config{
		TempDir:      "./data/tmp",
		MaxSizeMB:    64,
		FetchTimeout: 2 * time.Minute,
		OrphanAge:    time.Hour,
	}
}

// URLChecker validates a URL before it is fetched.
type URLChecker interface {
	Check(ctx context.Context, rawURL string) error
}

// Downloader fetches the payload of a message attachment.
type Downloader interface {
	DownloadMedia(ctx context.Context, info *channels.MediaInfo) ([]byte, string, error)
}

// Option configures a Stager.
type Option func(*Stager)

// WithURLChecker rejects URLs the checker refuses before any request is made.
func WithURLChecker(c URLChecker) Option {
	return func(s *Stager) { s.guard = c }
}

// Stager writes media into the temp directory.
type Stager struct {
	cfg     Config
	client  *http.Client
	guard   URLChecker
	maxSize int64
	logger  *slog.Logger
}

// NewStager creates a Stager. A nil client gets a client with the
// configured fetch timeout.
func NewStager(cfg Config, client *http.Client, logger *slog.Logger, opts ...Option) *Stager {
	if logger == nil {
		logger = slog.Default()
	}
	def := DefaultConfig()
	if cfg.TempDir == "" {
		cfg.TempDir = def.TempDir
	}
	if cfg.MaxSizeMB <= 0 {
		cfg.MaxSizeMB = def.MaxSizeMB
	}
	if cfg.FetchTimeout <= 0 {
		cfg.FetchTimeout = def.FetchTimeout
	}
	if cfg.OrphanAge <= 0 {
		cfg.OrphanAge = def.OrphanAge
	}
	if client == nil {
		client = &http.Client{Timeout: cfg.FetchTimeout}
	}

	s := &Stager{
		cfg:     cfg,
		client:  client,
		maxSize: int64(cfg.MaxSizeMB) * 1024 * 1024,
		logger:  logger.With("component", "media"),
	}
	for _, opt := range opts {
		opt(s)
	}
	return s
}

// TempDir returns the staging directory.
func (s *Stager) TempDir() string { return s.cfg.TempDir }

// EnsureDir creates the staging directory.
func (s *Stager) EnsureDir() error {
	if err := os.MkdirAll(s.cfg.TempDir, 0o700); err != nil {
		return fmt.Errorf("creating directory %s: %w", s.cfg.TempDir, err)
	}
	return nil
}

// FetchURL downloads rawURL into a fresh artifact of the given category.
// The body is streamed to disk; the artifact is returned only after the
// file has been fully written and closed.
func (s *Stager) FetchURL(ctx context.Context, rawURL string, category Category) (*Artifact, error) {
	if s.guard != nil {
		if err := s.guard.Check(ctx, rawURL); err != nil {
			return nil, &FetchError{URL: rawURL, Err: err}
		}
	}

	ctx, cancel := context.WithTimeout(ctx, s.cfg.FetchTimeout)
	defer cancel()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	req.Header.Set("User-Agent", "Mozilla/5.0 (compatible; wabot/1.0)")

	resp, err := s.client.Do(req)
	if err != nil {
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	defer resp.Body.Close()

	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		return nil, &FetchError{URL: rawURL, StatusCode: resp.StatusCode}
	}

	mimeType := baseMIME(resp.Header.Get("Content-Type"))
	ext := ExtFromMIME(mimeType)
	if ext == "" {
		ext = extFromURL(rawURL)
	}

	art, err := s.stageStream(resp.Body, uuid.NewString()+ext, category)
	if err != nil {
		if errors.Is(err, ErrTooLarge) {
			return nil, err
		}
		return nil, &FetchError{URL: rawURL, Err: err}
	}
	if mimeType == "" || mimeType == "application/octet-stream" {
		mimeType = s.sniff(art.Path)
	}
	art.MimeType = mimeType
	art.Source = rawURL
	art.Filename = filenameFromURL(rawURL, ext)

	s.logger.Debug("media: staged url", "url", rawURL, "path", art.Path, "size", art.Size)
	return art, nil
}

// FromMessage downloads a message attachment through the transport and
// stages it. An empty category is derived from the attachment type.
func (s *Stager) FromMessage(ctx context.Context, dl Downloader, info *channels.MediaInfo, category Category) (*Artifact, error) {
	if info == nil {
		return nil, ErrNoMediaFound
	}
	data, mimeType, err := dl.DownloadMedia(ctx, info)
	if err != nil {
		return nil, fmt.Errorf("downloading attachment: %w", err)
	}
	if mimeType == "" {
		mimeType = info.MimeType
	}
	if category == "" {
		category = CategoryFor(info.Type)
	}
	art, err := s.StageBytes(data, mimeType, category)
	if err != nil {
		return nil, err
	}
	if info.Filename != "" {
		art.Filename = sanitizeFilename(info.Filename)
	}
	return art, nil
}

// StageBytes writes an in-memory payload as an artifact.
func (s *Stager) StageBytes(data []byte, mimeType string, category Category) (*Artifact, error) {
	if len(data) == 0 {
		return nil, ErrNoMediaFound
	}
	if mimeType == "" {
		mimeType = DetectMimeType(data, "")
	}
	ext := ExtFromMIME(mimeType)
	art, err := s.stageStream(bytes.NewReader(data), uuid.NewString()+ext, category)
	if err != nil {
		return nil, err
	}
	art.MimeType = baseMIME(mimeType)
	art.Filename = filepath.Base(art.Path)
	return art, nil
}

// stageStream copies r into name inside the temp directory. On any failure
// the partial file is removed.
func (s *Stager) stageStream(r io.Reader, name string, category Category) (*Artifact, error) {
	if err := s.EnsureDir(); err != nil {
		return nil, err
	}

	path, err := filepath.Abs(filepath.Join(s.cfg.TempDir, name))
	if err != nil {
		return nil, fmt.Errorf("resolving staging path: %w", err)
	}

	f, err := os.OpenFile(path, os.O_WRONLY|os.O_CREATE|os.O_EXCL, 0o600)
	if err != nil {
		return nil, fmt.Errorf("creating staged file: %w", err)
	}

	n, copyErr := io.Copy(f, io.LimitReader(r, s.maxSize+1))
	closeErr := f.Close()

	switch {
	case copyErr != nil:
		err = fmt.Errorf("writing staged file: %w", copyErr)
	case closeErr != nil:
		err = fmt.Errorf("closing staged file: %w", closeErr)
	case n > s.maxSize:
		err = fmt.Errorf("%w: more than %d MB", ErrTooLarge, s.cfg.MaxSizeMB)
	}
	if err != nil {
		if rmErr := os.Remove(path); rmErr != nil && !errors.Is(rmErr, os.ErrNotExist) {
			s.logger.Warn("media: failed to remove partial file", "path", path, "error", rmErr)
		}
		return nil, err
	}

	return &Artifact{
		Path:     path,
		Category: category,
		Size:     n,
		logger:   s.logger,
	}, nil
}

func (s *Stager) sniff(path string) string {
	f, err := os.Open(path)
	if err != nil {
		return "application/octet-stream"
	}
	defer f.Close()
	head := make([]byte, 512)
	n, _ := io.ReadFull(f, head)
	return baseMIME(DetectMimeType(head[:n], path))
}

// SweepOrphans removes files older than the configured orphan age from the
// temp directory. It returns how many files were removed.
func (s *Stager) SweepOrphans() (int, error) {
	entries, err := os.ReadDir(s.cfg.TempDir)
	if err != nil {
		if errors.Is(err, os.ErrNotExist) {
			return 0, nil
		}
		return 0, fmt.Errorf("reading temp dir: %w", err)
	}

	cutoff := time.Now().Add(-s.cfg.OrphanAge)
	removed := 0
	for _, e := range entries {
		if e.IsDir() {
			continue
		}
		info, err := e.Info()
		if err != nil || info.ModTime().After(cutoff) {
			continue
		}
		p := filepath.Join(s.cfg.TempDir, e.Name())
		if err := os.Remove(p); err != nil {
			s.logger.Warn("media: failed to sweep orphan", "path", p, "error", err)
			continue
		}
		removed++
	}
	if removed > 0 {
		s.logger.Info("media: swept orphaned files", "count", removed)
	}
	return removed, nil
}

func filenameFromURL(rawURL, ext string) string {
	p := rawURL
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	name := sanitizeFilename(p[strings.LastIndex(p, "/")+1:])
	if name == "" || !strings.Contains(name, ".") {
		name = "download" + ext
	}
	return name
}
