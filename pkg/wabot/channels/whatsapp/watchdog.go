package whatsapp

import (
	"context"
	"time"
)

// WatchdogConfig tunes detection of connections that died silently.
type WatchdogConfig struct {
	Enabled bool `yaml:"enabled"`
	// Interval between checks.
	Interval time.Duration `yaml:"interval"`
	// Silence is how long the socket may stay idle before it is checked.
	Silence time.Duration `yaml:"silence"`
	// ForceAfter redials even if the socket looks open (half-open TCP).
	// Zero disables it.
	ForceAfter time.Duration `yaml:"force_after"`
	// Keepalive sends an "available" presence this often while connected.
	// Zero disables it.
	Keepalive time.Duration `yaml:"keepalive"`
}

// DefaultWatchdogConfig checks every 30s and redials after 15m of silence.
func DefaultWatchdogConfig() WatchdogConfig {
	return WatchdogConfig{
		Enabled:    true,
		Interval:   30 * time.Second,
		Silence:    5 * time.Minute,
		ForceAfter: 15 * time.Minute,
		Keepalive:  2 * time.Minute,
	}
}

// startWatchdog runs once per connection context.
func (w *WhatsApp) startWatchdog(ctx context.Context) {
	cfg := w.cfg.Watchdog
	if !cfg.Enabled || !w.watching.CompareAndSwap(false, true) {
		return
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 30 * time.Second
	}
	if cfg.Silence <= 0 {
		cfg.Silence = 5 * time.Minute
	}
	w.touch()

	go func() {
		defer w.watching.Store(false)

		check := time.NewTicker(cfg.Interval)
		defer check.Stop()

		var keepalive <-chan time.Time
		if cfg.Keepalive > 0 {
			t := time.NewTicker(cfg.Keepalive)
			defer t.Stop()
			keepalive = t.C
		}

		for {
			select {
			case <-ctx.Done():
				return
			case <-check.C:
				w.inspect(cfg)
			case <-keepalive:
				if !w.IsConnected() {
					continue
				}
				if err := w.SendPresence(ctx, true); err != nil {
					w.logger.Warn("whatsapp: keepalive presence failed", "error", err)
					continue
				}
				w.touch()
			}
		}
	}()
}

// inspect redials when the connection has been silent for too long and
// the socket is gone, or when the silence exceeds ForceAfter.
func (w *WhatsApp) inspect(cfg WatchdogConfig) {
	if !w.IsConnected() {
		return
	}
	silent := time.Since(w.lastActivity())
	if silent <= cfg.Silence {
		return
	}

	socketDown := w.client != nil && !w.client.IsConnected()
	stale := cfg.ForceAfter > 0 && silent > cfg.ForceAfter
	if !socketDown && !stale {
		w.logger.Debug("whatsapp: connection idle", "silent", silent)
		return
	}

	w.logger.Warn("whatsapp: connection looks dead, redialing",
		"silent", silent, "socket_down", socketDown)
	w.transition(StateReconnecting, "watchdog", map[string]any{"silent": silent.String()})
	go w.reconnect()
}
