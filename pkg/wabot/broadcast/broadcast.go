// Package broadcast fans a text message out to every contact of the account,
// pacing sends so the account is not flagged for bulk messaging.
package broadcast

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"golang.org/x/time/rate"

	"github.com/jholhewres/wabot/pkg/wabot/access"
	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// DefaultDelay is the pause between two consecutive sends.
const DefaultDelay = time.Second

// Directory enumerates recipients.
type Directory interface {
	SelfID() string
	Contacts(ctx context.Context) ([]channels.Contact, error)
}

// Sender delivers one message.
type Sender interface {
	Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error
}

// Config configures the throttler.
type Config struct {
	// Delay is the minimum spacing between sends. Zero uses DefaultDelay,
	// a negative value disables pacing.
	Delay time.Duration `yaml:"delay"`
}

// Job is one broadcast request.
type Job struct {
	Body string
}

// Result summarizes a broadcast.
type Result struct {
	// Attempted is the number of eligible recipients a send was tried for.
	Attempted int
	// Sent counts confirmed deliveries.
	Sent int
	// Failed counts recipients whose send returned an error.
	Failed int
	// Skipped counts contacts that were not eligible (groups, self, empty).
	Skipped int
}

// Throttler sends a job to every eligible contact with a fixed pause
// between sends. The limiter is shared, so concurrent broadcasts are paced
// together.
type Throttler struct {
	dir     Directory
	sender  Sender
	limiter *rate.Limiter
	logger  *slog.Logger
}

// New creates a throttler.
func New(dir Directory, sender Sender, cfg Config, logger *slog.Logger) *Throttler {
	if logger == nil {
		logger = slog.Default()
	}
	delay := cfg.Delay
	if delay == 0 {
		delay = DefaultDelay
	}
	limit := rate.Inf
	if delay > 0 {
		limit = rate.Every(delay)
	}
	return &Throttler{
		dir:     dir,
		sender:  sender,
		limiter: rate.NewLimiter(limit, 1),
		logger:  logger.With("component", "broadcast"),
	}
}

// BroadcastAll sends body to every eligible contact.
func (t *Throttler) BroadcastAll(ctx context.Context, body string) (Result, error) {
	return t.Run(ctx, Job{Body: body})
}

// Run executes job. Per-recipient failures are counted and logged; the only
// errors returned are a failed contact enumeration and context cancellation,
// in which case the partial result is still returned.
func (t *Throttler) Run(ctx context.Context, job Job) (Result, error) {
	var res Result

	contacts, err := t.dir.Contacts(ctx)
	if err != nil {
		return res, fmt.Errorf("listing contacts: %w", err)
	}

	recipients, skipped := eligible(contacts, t.dir.SelfID())
	res.Skipped = skipped

	t.logger.Info("broadcast: starting", "recipients", len(recipients), "skipped", skipped)
	start := time.Now()

	for _, to := range recipients {
		if err := t.limiter.Wait(ctx); err != nil {
			t.logger.Warn("broadcast: interrupted", "sent", res.Sent, "remaining", len(recipients)-res.Attempted, "error", err)
			return res, fmt.Errorf("broadcast interrupted: %w", err)
		}

		res.Attempted++
		if err := t.sender.Send(ctx, to, &channels.OutgoingMessage{Content: job.Body}); err != nil {
			res.Failed++
			t.logger.Warn("broadcast: send failed", "to", to, "error", err)
			continue
		}
		res.Sent++
	}

	t.logger.Info("broadcast: done",
		"attempted", res.Attempted,
		"sent", res.Sent,
		"failed", res.Failed,
		"duration_ms", time.Since(start).Milliseconds())
	return res, nil
}

// eligible filters contacts down to individual users other than self and
// removes duplicates.
func eligible(contacts []channels.Contact, self string) ([]string, int) {
	selfID := access.NormalizeID(self)
	seen := make(map[string]bool, len(contacts))
	out := make([]string, 0, len(contacts))
	skipped := 0

	for _, c := range contacts {
		id := strings.TrimSpace(c.ID)
		norm := access.NormalizeID(id)
		switch {
		case id == "", c.IsGroup, !isUserID(norm):
			skipped++
		case selfID != "" && norm == selfID:
			skipped++
		case seen[norm]:
			skipped++
		default:
			seen[norm] = true
			out = append(out, id)
		}
	}
	return out, skipped
}

func isUserID(id string) bool {
	return strings.HasSuffix(id, "@s.whatsapp.net") || strings.HasSuffix(id, "@lid")
}
