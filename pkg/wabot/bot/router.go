package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"runtime/debug"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/jholhewres/wabot/pkg/wabot/access"
	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/features"
)

// ParsedCommand is a command extracted from a message body.
type ParsedCommand struct {
	// Name is the lower-cased command word, without the prefix.
	Name string

	// Args are the whitespace-separated arguments.
	Args []string

	// Text is Args joined by single spaces.
	Text string
}

// Parse extracts a command from text. It returns false when text does not
// start with prefix or carries no command word.
func Parse(prefix, text string) (*ParsedCommand, bool) {
	if prefix == "" || !strings.HasPrefix(text, prefix) {
		return nil, false
	}
	fields := strings.Fields(text[len(prefix):])
	if len(fields) == 0 {
		return nil, false
	}
	args := fields[1:]
	return &ParsedCommand{
		Name: strings.ToLower(fields[0]),
		Args: args,
		Text: strings.Join(args, " "),
	}, true
}

// Outcome classifies how a dispatch ended.
type Outcome int

const (
	OutcomeHandled Outcome = iota
	OutcomeUnknown
	OutcomeFeatureDisabled
	OutcomeNotAuthorized
	OutcomeMissingArgument
	OutcomeFailed
)

func (o Outcome) String() string {
	switch o {
	case OutcomeHandled:
		return "handled"
	case OutcomeUnknown:
		return "unknown"
	case OutcomeFeatureDisabled:
		return "feature_disabled"
	case OutcomeNotAuthorized:
		return "not_authorized"
	case OutcomeMissingArgument:
		return "missing_argument"
	case OutcomeFailed:
		return "failed"
	default:
		return fmt.Sprintf("outcome(%d)", int(o))
	}
}

// Router replies.
const (
	replyNotAuthorized = "You are not authorized to use this command."
	replyGroupOnly     = "This command can only be used in a group chat."
	replyGenericFail   = "Something went wrong while running that command."
)

// TextSender sends text messages.
type TextSender interface {
	Send(ctx context.Context, to string, msg *channels.OutgoingMessage) error
}

// Router enforces command preconditions and runs handlers.
type Router struct {
	prefix   string
	registry *Registry
	flags    *features.Store
	gate     *access.Gate
	sender   TextSender
	logger   *slog.Logger
}

// NewRouter creates a Router.
func NewRouter(prefix string, registry *Registry, flags *features.Store, gate *access.Gate, sender TextSender, logger *slog.Logger) *Router {
	if logger == nil {
		logger = slog.Default()
	}
	return &Router{
		prefix:   prefix,
		registry: registry,
		flags:    flags,
		gate:     gate,
		sender:   sender,
		logger:   logger.With("component", "router"),
	}
}

// Parse parses text with the router's prefix.
func (r *Router) Parse(text string) (*ParsedCommand, bool) {
	return Parse(r.prefix, text)
}

// Dispatch runs pc for msg. Every failure is turned into a reply; the
// returned Outcome says which.
func (r *Router) Dispatch(ctx context.Context, msg *channels.IncomingMessage, pc *ParsedCommand) Outcome {
	logger := r.logger.With("command", pc.Name, "chat", msg.ChatID, "from", msg.From)

	spec, ok := r.registry.Lookup(pc.Name)
	if !ok {
		r.reply(ctx, msg, fmt.Sprintf("Sorry, I don't understand that command. Type `%shelp` for a list of commands.", r.prefix))
		return OutcomeUnknown
	}

	if spec.Feature != "" && !r.flags.Enabled(spec.Feature) {
		r.reply(ctx, msg, fmt.Sprintf("%s feature is currently disabled.", featureLabel(spec.Feature)))
		return OutcomeFeatureDisabled
	}

	if !r.gate.Allows(spec.Auth, msg.IsGroup, msg.From) {
		logger.Info("router: command denied", "auth", spec.Auth.String())
		if spec.Auth == AuthGroupAdmin && !msg.IsGroup {
			r.reply(ctx, msg, replyGroupOnly)
		} else {
			r.reply(ctx, msg, replyNotAuthorized)
		}
		return OutcomeNotAuthorized
	}

	if spec.Ready != nil {
		if err := spec.Ready(); err != nil {
			r.reply(ctx, msg, userMessage(err, err.Error()))
			return OutcomeFeatureDisabled
		}
	}

	if spec.NeedsText && (pc.Text == "" || (spec.ValidText != nil && !spec.ValidText(pc.Text))) {
		r.reply(ctx, msg, spec.Usage)
		return OutcomeMissingArgument
	}

	inv := &Invocation{
		Msg:     msg,
		Command: pc,
		Spec:    spec,
		reply: func(ctx context.Context, text string) error {
			return r.send(ctx, msg, text)
		},
	}

	if err := r.run(ctx, spec, inv); err != nil {
		logger.Warn("router: command failed", "error", err)
		fallback := spec.FailureReply
		if fallback == "" {
			fallback = replyGenericFail
		}
		r.reply(ctx, msg, userMessage(err, fallback))
		return OutcomeFailed
	}
	return OutcomeHandled
}

// run calls the handler, converting a panic into an error.
func (r *Router) run(ctx context.Context, spec *CommandSpec, inv *Invocation) (err error) {
	defer func() {
		if p := recover(); p != nil {
			r.logger.Error("router: handler panic",
				"command", spec.Name, "panic", p, "stack", string(debug.Stack()))
			err = fmt.Errorf("panic in %s: %v", spec.Name, p)
		}
	}()
	return spec.Handler(ctx, inv)
}

func (r *Router) reply(ctx context.Context, msg *channels.IncomingMessage, text string) {
	if text == "" {
		return
	}
	if err := r.send(ctx, msg, text); err != nil {
		r.logger.Warn("router: failed to send reply", "chat", msg.ChatID, "error", err)
	}
}

func (r *Router) send(ctx context.Context, msg *channels.IncomingMessage, text string) error {
	return r.sender.Send(ctx, msg.ChatID, &channels.OutgoingMessage{
		Content:       text,
		ReplyTo:       msg.ID,
		ReplyToSender: msg.From,
	})
}

// userMessage returns the chat text for err: the UserError message when
// there is one, fallback otherwise.
func userMessage(err error, fallback string) string {
	var ue *UserError
	if errors.As(err, &ue) && ue.Message != "" {
		return ue.Message
	}
	return fallback
}

// featureLabel turns a flag name into the word used in replies
// ("chatGPT" -> "ChatGPT").
func featureLabel(name string) string {
	r, size := utf8.DecodeRuneInString(name)
	if r == utf8.RuneError {
		return name
	}
	return string(unicode.ToUpper(r)) + name[size:]
}
