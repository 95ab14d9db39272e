package whatsapp

import (
	"time"
)

// ConnectionState is the account's position in the connection lifecycle.
type ConnectionState string

const (
	StateDisconnected ConnectionState = "disconnected"
	StateConnecting   ConnectionState = "connecting"
	StateWaitingQR    ConnectionState = "waiting_qr"
	StateConnected    ConnectionState = "connected"
	StateReconnecting ConnectionState = "reconnecting"
	StateLoggingOut   ConnectionState = "logging_out"
	StateBanned       ConnectionState = "banned"
)

// ConnectionEvent reports a state change to observers.
type ConnectionEvent struct {
	State     ConnectionState
	Previous  ConnectionState
	Reason    string
	Details   map[string]any
	Timestamp time.Time
}

// ConnectionObserver is notified of state changes on its own goroutine.
type ConnectionObserver interface {
	OnConnectionChange(evt ConnectionEvent)
}

// ConnectionObserverFunc adapts a plain function.
type ConnectionObserverFunc func(evt ConnectionEvent)

func (f ConnectionObserverFunc) OnConnectionChange(evt ConnectionEvent) { f(evt) }

// State returns the current connection state.
func (w *WhatsApp) State() ConnectionState {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	return w.state
}

// AddConnectionObserver registers obs for all future transitions.
func (w *WhatsApp) AddConnectionObserver(obs ConnectionObserver) {
	w.stateMu.Lock()
	defer w.stateMu.Unlock()
	w.observers = append(w.observers, obs)
}

// transition moves to next and tells observers when the state changed or
// a reason was given. It returns the previous state.
func (w *WhatsApp) transition(next ConnectionState, reason string, details map[string]any) ConnectionState {
	w.stateMu.Lock()
	prev := w.state
	w.state = next
	observers := append([]ConnectionObserver(nil), w.observers...)
	w.stateMu.Unlock()

	if prev == next && reason == "" {
		return prev
	}

	evt := ConnectionEvent{
		State:     next,
		Previous:  prev,
		Reason:    reason,
		Details:   details,
		Timestamp: time.Now(),
	}
	for _, obs := range observers {
		go w.notify(obs, evt)
	}
	return prev
}

func (w *WhatsApp) notify(obs ConnectionObserver, evt ConnectionEvent) {
	defer func() {
		if r := recover(); r != nil {
			w.logger.Warn("whatsapp: connection observer panicked", "panic", r)
		}
	}()
	obs.OnConnectionChange(evt)
}

// reconnect redials with a linearly growing wait, capped at five minutes.
// Only one loop runs at a time; it stops once a dial succeeds (the
// Connected event confirms it), the context ends, or attempts run out.
func (w *WhatsApp) reconnect() {
	if !w.reconnecting.CompareAndSwap(false, true) {
		return
	}
	defer w.reconnecting.Store(false)

	for w.ctx.Err() == nil && w.client != nil {
		n := w.attempts.Add(1)
		if limit := w.cfg.MaxReconnectAttempts; limit > 0 && int(n) > limit {
			w.logger.Error("whatsapp: giving up reconnecting", "attempts", n-1)
			w.transition(StateDisconnected, "reconnect_exhausted", map[string]any{"attempts": n - 1})
			return
		}

		wait := min(w.cfg.ReconnectBackoff*time.Duration(n), 5*time.Minute)
		w.transition(StateReconnecting, "connection_lost", map[string]any{"attempt": n})
		w.logger.Info("whatsapp: reconnecting", "attempt", n, "wait", wait)

		timer := time.NewTimer(wait)
		select {
		case <-w.ctx.Done():
			timer.Stop()
			return
		case <-timer.C:
		}

		// A half-open socket makes Connect fail with "already connected".
		if w.client.IsConnected() {
			w.client.Disconnect()
		}
		if err := w.client.Connect(); err != nil {
			w.logger.Warn("whatsapp: reconnect failed", "attempt", n, "error", err)
			continue
		}
		return
	}
}
