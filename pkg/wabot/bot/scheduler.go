package bot

import (
	"context"
	"fmt"
	"strings"
	"time"

	"github.com/robfig/cron/v3"

	"github.com/jholhewres/wabot/pkg/wabot/features"
)

// Scheduler runs the periodic jobs behind the autoBio and alwaysOnline
// flags. The jobs are always scheduled and check their flag when they
// fire, so toggling a flag takes effect at the next tick.
type Scheduler struct {
	bot  *Bot
	cron *cron.Cron
	ctx  context.Context

	cancel context.CancelFunc
}

// NewScheduler creates a Scheduler for b.
func NewScheduler(b *Bot) *Scheduler {
	return &Scheduler{bot: b}
}

// Start registers the jobs and starts the cron loop.
func (s *Scheduler) Start(ctx context.Context) error {
	s.ctx, s.cancel = context.WithCancel(ctx)
	s.cron = cron.New(cron.WithParser(cron.NewParser(
		cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor,
	)))

	cfg := s.bot.cfg
	if _, err := s.cron.AddFunc(cfg.AutoBio.Schedule, s.updateBio); err != nil {
		s.cancel()
		return fmt.Errorf("auto_bio.schedule %q: %w", cfg.AutoBio.Schedule, err)
	}
	if _, err := s.cron.AddFunc(cfg.Presence.Schedule, s.announcePresence); err != nil {
		s.cancel()
		return fmt.Errorf("presence.schedule %q: %w", cfg.Presence.Schedule, err)
	}

	s.cron.Start()
	s.bot.logger.Info("scheduler started",
		"auto_bio", cfg.AutoBio.Schedule, "presence", cfg.Presence.Schedule)
	return nil
}

// Stop halts the cron loop and waits briefly for running jobs.
func (s *Scheduler) Stop() {
	if s.cron != nil {
		done := s.cron.Stop()
		select {
		case <-done.Done():
		case <-time.After(10 * time.Second):
			s.bot.logger.Warn("scheduler stop timed out")
		}
	}
	if s.cancel != nil {
		s.cancel()
	}
}

func (s *Scheduler) updateBio() {
	if !s.bot.flags.Enabled(features.AutoBio) {
		return
	}
	text := s.bot.bioText(time.Now())
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.bot.msgr.SetStatusMessage(ctx, text); err != nil {
		s.bot.logger.Warn("bot: failed to update bio", "error", err)
		return
	}
	s.bot.logger.Debug("bot: bio updated", "text", text)
}

func (s *Scheduler) announcePresence() {
	if !s.bot.flags.Enabled(features.AlwaysOnline) {
		return
	}
	ctx, cancel := context.WithTimeout(s.ctx, 30*time.Second)
	defer cancel()
	if err := s.bot.msgr.SendPresence(ctx, true); err != nil {
		s.bot.logger.Warn("bot: failed to send presence", "error", err)
	}
}

// bioText renders the auto-bio template.
func (b *Bot) bioText(now time.Time) string {
	tmpl := b.cfg.AutoBio.Template
	if tmpl == "" {
		tmpl = DefaultBioTemplate
	}
	return strings.NewReplacer(
		"{name}", b.cfg.Name,
		"{uptime}", b.uptime().String(),
		"{time}", now.Format("15:04"),
	).Replace(tmpl)
}
