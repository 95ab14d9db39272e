package remote

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"

	"github.com/sony/gobreaker/v2"
)

// Dogs fetches random dog pictures from dog.ceo.
type Dogs struct {
	endpoint string
	client   *http.Client
	breaker  *gobreaker.CircuitBreaker[string]
}

// NewDogs creates the client.
func NewDogs(client *http.Client, cfg BreakerConfig, logger *slog.Logger) *Dogs {
	if logger == nil {
		logger = slog.Default()
	}
	return &Dogs{
		endpoint: "https://dog.ceo/api/breeds/image/random",
		client:   client,
		breaker:  newBreaker[string]("dog", cfg, logger.With("component", "dog")),
	}
}

// RandomImage returns the URL of a random dog picture.
func (d *Dogs) RandomImage(ctx context.Context) (string, error) {
	return execute(d.breaker, func() (string, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodGet, d.endpoint, nil)
		if err != nil {
			return "", fmt.Errorf("creating request: %w", err)
		}
		resp, err := d.client.Do(req)
		if err != nil {
			return "", fmt.Errorf("dog api request failed: %w", err)
		}
		defer resp.Body.Close()

		if resp.StatusCode != http.StatusOK {
			return "", statusError("dog api", resp)
		}

		var payload struct {
			Message string `json:"message"`
			Status  string `json:"status"`
		}
		if err := json.NewDecoder(io.LimitReader(resp.Body, 64*1024)).Decode(&payload); err != nil {
			return "", fmt.Errorf("parsing dog api response: %w", err)
		}
		if payload.Status != "success" || payload.Message == "" {
			return "", errors.New("dog api returned no image")
		}
		return payload.Message, nil
	})
}
