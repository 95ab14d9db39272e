package remote

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strings"

	"github.com/sony/gobreaker/v2"
)

// Photo is a single image search hit.
type Photo struct {
	ID           int64
	URL          string // direct link to the large rendition
	Photographer string
	Alt          string
}

// Pexels searches images on pexels.com.
type Pexels struct {
	apiKey  string
	baseURL string
	client  *http.Client
	breaker *gobreaker.CircuitBreaker[[]Photo]
	logger  *slog.Logger
}

// NewPexels creates an image search client. An empty apiKey leaves the
// client unconfigured; every call then fails with ErrNotConfigured.
func NewPexels(apiKey string, client *http.Client, cfg BreakerConfig, logger *slog.Logger) *Pexels {
	if logger == nil {
		logger = slog.Default()
	}
	logger = logger.With("component", "pexels")
	return &Pexels{
		apiKey:  strings.TrimSpace(apiKey),
		baseURL: "https://api.pexels.com/v1",
		client:  client,
		breaker: newBreaker[[]Photo]("pexels", cfg, logger),
		logger:  logger,
	}
}

// Configured reports whether an API key is set.
func (p *Pexels) Configured() bool { return p.apiKey != "" }

// SearchImages returns up to n photos matching query.
func (p *Pexels) SearchImages(ctx context.Context, query string, n int) ([]Photo, error) {
	if !p.Configured() {
		return nil, fmt.Errorf("pexels: %w", ErrNotConfigured)
	}
	query = strings.TrimSpace(query)
	if query == "" {
		return nil, fmt.Errorf("%w: empty query", ErrInvalidInput)
	}
	if n <= 0 {
		n = 1
	}

	return execute(p.breaker, func() ([]Photo, error) {
		endpoint := fmt.Sprintf("%s/search?query=%s&per_page=%d", p.baseURL, url.QueryEscape(query), n)
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, endpoint, nil)
		if err != nil {
			return nil, fmt.Errorf("creating request: %w", err)
		}
		req.Header.Set("Authorization", p.apiKey)

		resp, err := p.client.Do(req)
		if err != nil {
			return nil, fmt.Errorf("pexels request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return nil, statusError("pexels", resp)
		}

		var payload struct {
			Photos []struct {
				ID           int64  `json:"id"`
				Photographer string `json:"photographer"`
				Alt          string `json:"alt"`
				Src          struct {
					Large    string `json:"large"`
					Original string `json:"original"`
				} `json:"src"`
			} `json:"photos"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 1<<20)).Decode(&payload); err != nil {
			return nil, fmt.Errorf("parsing pexels response: %w", err)
		}

		photos := make([]Photo, 0, len(payload.Photos))
		for _, ph := range payload.Photos {
			link := ph.Src.Large
			if link == "" {
				link = ph.Src.Original
			}
			if link == "" {
				continue
			}
			photos = append(photos, Photo{ID: ph.ID, URL: link, Photographer: ph.Photographer, Alt: ph.Alt})
		}
		p.logger.Debug("pexels: search done", "query", query, "results", len(photos))
		return photos, nil
	})
}
