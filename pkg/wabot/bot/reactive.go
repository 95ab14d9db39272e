package bot

import (
	"context"
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/features"
)

// eventContext is what reactive steps see of an inbound message.
type eventContext struct {
	msg *channels.IncomingMessage

	// command is the parsed command, nil for plain messages.
	command *ParsedCommand

	// hasPrefix is true when the body starts with the command prefix,
	// even if no command word follows.
	hasPrefix bool
}

// Step is one reactive behavior. Steps run in order before command
// dispatch; a failing step is logged and the next one still runs.
type Step struct {
	Name string

	// Feature gates the step.
	Feature string

	// Applies filters the events the step reacts to.
	Applies func(ev *eventContext) bool

	Run func(ctx context.Context, ev *eventContext) error
}

// reactiveSteps returns the ordered pipeline: seen, react, friendly reply,
// save contact, presence.
func (b *Bot) reactiveSteps() []Step {
	return []Step{
		{
			Name:    "seen",
			Feature: features.AutoViewStatus,
			Applies: func(ev *eventContext) bool { return ev.msg.ID != "" },
			Run: func(ctx context.Context, ev *eventContext) error {
				return b.msgr.MarkRead(ctx, ev.msg.ChatID, ev.msg.From, []string{ev.msg.ID})
			},
		},
		{
			Name:    "react",
			Feature: features.AutoReact,
			Applies: func(ev *eventContext) bool {
				return !ev.msg.IsStatus && ev.msg.ID != "" && ev.msg.Type != channels.MessageReaction
			},
			Run: func(ctx context.Context, ev *eventContext) error {
				emoji := b.pick(b.cfg.Replies.Emojis)
				if emoji == "" {
					return nil
				}
				return b.msgr.SendReaction(ctx, ev.msg.ChatID, ev.msg.From, ev.msg.ID, emoji)
			},
		},
		{
			Name:    "reply",
			Feature: features.AutoReply,
			Applies: func(ev *eventContext) bool {
				return !ev.msg.IsStatus && !ev.msg.FromMe && !ev.hasPrefix &&
					ev.msg.Type != channels.MessageReaction
			},
			Run: func(ctx context.Context, ev *eventContext) error {
				if b.cfg.Replies.Friendly == "" {
					return nil
				}
				return b.reply(ctx, ev.msg, b.cfg.Replies.Friendly)
			},
		},
		{
			Name:    "save_contact",
			Feature: features.AutoSaveContacts,
			Applies: func(ev *eventContext) bool {
				return !ev.msg.IsStatus && !ev.msg.IsGroup && !ev.msg.FromMe &&
					strings.TrimSpace(ev.msg.FromName) != ""
			},
			Run: func(ctx context.Context, ev *eventContext) error {
				return b.msgr.SaveContact(ctx, ev.msg.From, ev.msg.FromName)
			},
		},
		{
			Name:    "typing",
			Feature: features.FakeTyping,
			Applies: func(ev *eventContext) bool { return !ev.msg.IsStatus && ev.command != nil },
			Run: func(ctx context.Context, ev *eventContext) error {
				return b.msgr.SendTyping(ctx, ev.msg.ChatID)
			},
		},
		{
			Name:    "recording",
			Feature: features.FakeRecording,
			Applies: func(ev *eventContext) bool { return !ev.msg.IsStatus && ev.command != nil },
			Run: func(ctx context.Context, ev *eventContext) error {
				return b.msgr.SendRecording(ctx, ev.msg.ChatID)
			},
		},
	}
}

func (b *Bot) runSteps(ctx context.Context, ev *eventContext) {
	for _, step := range b.steps {
		if step.Feature != "" && !b.flags.Enabled(step.Feature) {
			continue
		}
		if step.Applies != nil && !step.Applies(ev) {
			continue
		}
		if err := step.Run(ctx, ev); err != nil {
			b.logger.Warn("bot: reactive step failed",
				"step", step.Name, "id", ev.msg.ID, "chat", ev.msg.ChatID, "error", err)
		}
	}
}

// handleCall rejects calls when antiCall is on and tells the caller why.
func (b *Bot) handleCall(ctx context.Context, ev *channels.IncomingMessage) {
	if !b.flags.Enabled(features.AntiCall) || ev.Call == nil {
		return
	}

	logger := b.logger.With("from", ev.From, "call_id", ev.Call.ID)
	if err := b.msgr.RejectCall(ctx, ev.From, ev.Call.ID); err != nil {
		logger.Warn("bot: failed to reject call", "error", err)
	} else {
		logger.Info("bot: call rejected", "video", ev.Call.IsVideo)
	}

	if b.cfg.Replies.CallReject == "" {
		return
	}
	if err := b.msgr.Send(ctx, ev.From, &channels.OutgoingMessage{Content: b.cfg.Replies.CallReject}); err != nil {
		logger.Warn("bot: failed to notify caller", "error", err)
	}
}

func hasPrefix(prefix, text string) bool {
	return prefix != "" && strings.HasPrefix(text, prefix)
}
