package whatsapp

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"go.mau.fi/whatsmeow"
)

// QREvent is one step of device pairing.
type QREvent struct {
	// Type is "code", "success", "timeout", "error" or "refresh".
	Type string
	// Code is the string to render as a QR code (Type "code" only).
	Code        string
	Message     string
	SecondsLeft int
}

// qrHub fans pairing events out to subscribers and remembers the current
// code so a late subscriber can still show it.
type qrHub struct {
	mu      sync.Mutex
	subs    []chan QREvent
	current *QREvent
	expires time.Time
}

func (h *qrHub) subscribe() (chan QREvent, func()) {
	ch := make(chan QREvent, 8)

	h.mu.Lock()
	h.subs = append(h.subs, ch)
	if h.current != nil {
		evt := *h.current
		evt.SecondsLeft = max(0, int(time.Until(h.expires).Seconds()))
		ch <- evt
	}
	h.mu.Unlock()

	unsubscribe := func() {
		h.mu.Lock()
		defer h.mu.Unlock()
		for i, sub := range h.subs {
			if sub == ch {
				h.subs = append(h.subs[:i], h.subs[i+1:]...)
				close(ch)
				return
			}
		}
	}
	return ch, unsubscribe
}

// publish delivers evt without blocking; a subscriber that is not keeping
// up misses events.
func (h *qrHub) publish(evt QREvent) {
	h.mu.Lock()
	defer h.mu.Unlock()

	h.current = nil
	if evt.Type == "code" {
		h.current = &evt
		h.expires = time.Now().Add(time.Duration(evt.SecondsLeft) * time.Second)
	}
	for _, sub := range h.subs {
		select {
		case sub <- evt:
		default:
		}
	}
}

func (h *qrHub) reset() {
	h.mu.Lock()
	h.current = nil
	h.mu.Unlock()
}

// SubscribeQR returns a channel of pairing events and a function that
// unsubscribes and closes it.
func (w *WhatsApp) SubscribeQR() (chan QREvent, func()) {
	return w.qr.subscribe()
}

// RequestNewQR starts a fresh pairing round after a code expired. Without
// a deadline on ctx the round is limited to two minutes.
func (w *WhatsApp) RequestNewQR(ctx context.Context) error {
	switch {
	case w.client == nil:
		return errors.New("whatsapp client not initialized")
	case w.IsConnected():
		return errors.New("already connected")
	}

	w.client.Disconnect()
	w.qr.publish(QREvent{Type: "refresh", Message: "Generating a new QR code..."})

	go func() {
		if _, ok := ctx.Deadline(); !ok {
			var cancel context.CancelFunc
			ctx, cancel = context.WithTimeout(ctx, 2*time.Minute)
			defer cancel()
		}
		w.runPairing(ctx)
	}()
	return nil
}

func (w *WhatsApp) runPairing(ctx context.Context) {
	if err := w.pair(ctx); err != nil && ctx.Err() == nil {
		w.logger.Warn("whatsapp: pairing ended", "error", err)
	}
}

// pair connects with a QR channel attached and forwards its events until
// the device is paired or the round ends.
func (w *WhatsApp) pair(ctx context.Context) error {
	codes, err := w.client.GetQRChannel(ctx)
	if err != nil {
		return fmt.Errorf("opening QR channel: %w", err)
	}
	if err := w.client.Connect(); err != nil {
		return fmt.Errorf("connecting for pairing: %w", err)
	}
	w.transition(StateWaitingQR, "", nil)

	for shown := 1; ; {
		var item whatsmeow.QRChannelItem
		select {
		case <-ctx.Done():
			w.transition(StateDisconnected, "", nil)
			return ctx.Err()
		case evt, ok := <-codes:
			if !ok {
				return errors.New("QR channel closed")
			}
			item = evt
		}

		switch item.Event {
		case "code":
			w.logger.Info("whatsapp: QR code ready", "round", shown)
			shown++
			w.qr.publish(QREvent{
				Type:        "code",
				Code:        item.Code,
				Message:     "Scan this code in WhatsApp > Linked devices",
				SecondsLeft: int(item.Timeout.Seconds()),
			})

		case "success":
			w.attempts.Store(0)
			w.transition(StateConnected, "paired", nil)
			w.qr.publish(QREvent{Type: "success", Message: "WhatsApp linked successfully!"})
			w.startWatchdog(w.ctx)
			return nil

		case "timeout":
			w.transition(StateDisconnected, "qr_timeout", nil)
			w.qr.publish(QREvent{Type: "timeout", Message: "QR code expired"})
			return errors.New("QR code expired")

		default:
			if item.Error != nil {
				w.transition(StateDisconnected, "pairing_error", nil)
				w.qr.publish(QREvent{Type: "error", Message: item.Error.Error()})
				return fmt.Errorf("pairing: %w", item.Error)
			}
		}
	}
}
