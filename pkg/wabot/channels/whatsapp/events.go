package whatsapp

import (
	"go.mau.fi/whatsmeow/types"
	"go.mau.fi/whatsmeow/types/events"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// handleEvent receives every whatsmeow event.
func (w *WhatsApp) handleEvent(raw any) {
	switch evt := raw.(type) {
	case *events.Message:
		w.handleMessageEvt(evt)
	case *events.CallOffer:
		w.handleCallOffer(evt)

	case *events.Connected:
		w.attempts.Store(0)
		w.touch()
		w.transition(StateConnected, "connected", map[string]any{"jid": w.SelfID()})
		w.logger.Info("whatsapp: connected", "jid", w.SelfID())

	case *events.Disconnected:
		prev := w.transition(StateDisconnected, "connection_lost", nil)
		w.logger.Warn("whatsapp: connection lost", "previous", prev)
		if prev == StateConnected && w.ctx.Err() == nil {
			go w.reconnect()
		}

	case *events.StreamReplaced:
		w.transition(StateDisconnected, "stream_replaced", nil)
		w.logger.Error("whatsapp: session opened elsewhere, this connection was replaced")

	case *events.LoggedOut:
		reason := evt.Reason.String()
		w.transition(StateDisconnected, "logged_out", map[string]any{"reason": reason, "needs_qr": true})
		w.logger.Error("whatsapp: device unlinked", "reason", reason, "on_connect", evt.OnConnect)
		go w.runPairing(w.ctx)

	case *events.TemporaryBan:
		w.transition(StateBanned, "temporary_ban", map[string]any{
			"code":   evt.Code.String(),
			"expire": evt.Expire.String(),
		})
		w.logger.Error("whatsapp: account temporarily banned", "code", evt.Code, "expire", evt.Expire)

	case *events.ConnectFailure:
		permanent := evt.PermanentDisconnectDescription()
		w.transition(StateDisconnected, "connect_failure", map[string]any{
			"reason":    evt.Reason.String(),
			"permanent": permanent,
		})
		w.logger.Error("whatsapp: connect failure",
			"reason", evt.Reason.String(), "message", evt.Message, "permanent", permanent)
		if permanent == "" && w.ctx.Err() == nil {
			go w.reconnect()
		}

	case *events.KeepAliveTimeout:
		w.logger.Warn("whatsapp: keepalive timeout", "errors", evt.ErrorCount, "last_success", evt.LastSuccess)
		// Three misses in a row means the socket is half-open.
		if evt.ErrorCount >= 3 && w.IsConnected() {
			w.transition(StateReconnecting, "keepalive_timeout", nil)
			go w.reconnect()
		}

	case *events.KeepAliveRestored:
		w.touch()
		w.logger.Info("whatsapp: keepalive restored")

	case *events.PairSuccess:
		w.logger.Info("whatsapp: device paired", "jid", evt.ID, "platform", evt.Platform)
	}
}

// handleCallOffer turns an incoming call into a MessageCall event.
func (w *WhatsApp) handleCallOffer(evt *events.CallOffer) {
	w.touch()

	isVideo := false
	if evt.Data != nil {
		isVideo = evt.Data.GetChildByTag("video").Tag == "video"
	}

	from := w.resolveJID(evt.CallCreator)
	if evt.CallCreator.IsEmpty() {
		from = w.resolveJID(evt.From)
	}

	w.logger.Info("whatsapp: incoming call", "from", from, "call_id", evt.CallID, "video", isVideo)

	w.emit(&channels.IncomingMessage{
		ID:        evt.CallID,
		Channel:   "whatsapp",
		From:      from,
		ChatID:    from,
		Type:      channels.MessageCall,
		Timestamp: evt.Timestamp,
		Call:      &channels.CallInfo{ID: evt.CallID, IsVideo: isVideo},
		Metadata:  map[string]any{"call_from": evt.From.String()},
	})
}

// handleMessageEvt converts an incoming message and emits it.
func (w *WhatsApp) handleMessageEvt(evt *events.Message) {
	w.touch()

	isStatus := evt.Info.Chat == types.StatusBroadcastJID
	switch {
	case isStatus:
		if !w.cfg.Statuses || evt.Info.IsFromMe {
			return
		}
	case evt.Info.Chat.Server == types.BroadcastServer:
		return
	case evt.Info.IsFromMe && !w.cfg.AcceptFromMe:
		return
	case evt.Info.IsGroup && !w.cfg.RespondToGroups:
		return
	case !evt.Info.IsGroup && !w.cfg.RespondToDMs:
		return
	}

	msg := w.convertMessage(evt)
	msg.IsStatus = isStatus
	w.emit(msg)
}

func (w *WhatsApp) convertMessage(evt *events.Message) *channels.IncomingMessage {
	sender := w.resolveJID(evt.Info.Sender)
	chat := evt.Info.Chat.String()
	if !evt.Info.IsGroup && evt.Info.Chat.Server != types.BroadcastServer {
		chat = w.resolveJID(evt.Info.Chat)
	}

	msg := &channels.IncomingMessage{
		ID:        string(evt.Info.ID),
		Channel:   "whatsapp",
		From:      sender,
		FromName:  evt.Info.PushName,
		ChatID:    chat,
		IsGroup:   evt.Info.IsGroup,
		FromMe:    evt.Info.IsFromMe,
		Timestamp: evt.Info.Timestamp,
		ViewOnce:  evt.IsViewOnce || evt.IsViewOnceV2 || evt.IsViewOnceV2Extension,
		Metadata: map[string]any{
			"sender_jid": evt.Info.Sender.String(),
			"chat_jid":   evt.Info.Chat.String(),
			"push_name":  evt.Info.PushName,
		},
	}

	extractContent(evt.Message, msg)
	if msg.Media != nil && isViewOnceMedia(evt.Message) {
		msg.ViewOnce = true
	}
	w.extractQuoted(evt.Message, msg)
	return msg
}

// resolveJID maps LID identities to phone JIDs when the store knows the
// mapping, so admin checks see phone numbers.
func (w *WhatsApp) resolveJID(jid types.JID) string {
	if jid.Server == types.HiddenUserServer && w.client != nil && w.client.Store != nil {
		if alt, err := w.client.Store.GetAltJID(w.ctx, jid); err == nil && !alt.IsEmpty() {
			return alt.ToNonAD().String()
		}
	}
	return jid.ToNonAD().String()
}
