package bot

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"math/rand/v2"
	"runtime/debug"
	"sync"
	"time"

	"github.com/jholhewres/wabot/pkg/wabot/access"
	"github.com/jholhewres/wabot/pkg/wabot/broadcast"
	"github.com/jholhewres/wabot/pkg/wabot/channels"
	"github.com/jholhewres/wabot/pkg/wabot/features"
	"github.com/jholhewres/wabot/pkg/wabot/media"
	"github.com/jholhewres/wabot/pkg/wabot/remote"
)

// Messenger is the part of the messaging transport the bot drives.
// *whatsapp.WhatsApp implements it.
type Messenger interface {
	channels.Messaging
	channels.Signals
	channels.Directory
}

// ChatCompleter answers free-form prompts.
type ChatCompleter interface {
	Configured() bool
	Complete(ctx context.Context, prompt string) (string, error)
}

// ImageSearcher finds stock photos.
type ImageSearcher interface {
	Configured() bool
	SearchImages(ctx context.Context, query string, n int) ([]remote.Photo, error)
}

// WebSearcher runs web searches.
type WebSearcher interface {
	Search(ctx context.Context, query string, limit int) ([]remote.SearchResult, error)
}

// Screenshotter renders web pages.
type Screenshotter interface {
	Capture(ctx context.Context, target string) (*remote.Screenshot, error)
}

// DogSource returns random dog picture URLs.
type DogSource interface {
	RandomImage(ctx context.Context) (string, error)
}

// Services are the optional remote collaborators. A nil service disables
// the commands that need it.
type Services struct {
	Chat        ChatCompleter
	Images      ImageSearcher
	Search      WebSearcher
	Screenshots Screenshotter
	Dogs        DogSource
	Videos      media.Extractor
}

// Deps are the collaborators of a Bot.
type Deps struct {
	Messenger Messenger
	Flags     *features.Store
	Gate      *access.Gate
	Stager    *media.Stager
	Services  Services
	Logger    *slog.Logger
}

// Bot reacts to inbound events and runs commands.
type Bot struct {
	cfg       *Config
	msgr      Messenger
	flags     *features.Store
	gate      *access.Gate
	stager    *media.Stager
	throttler *broadcast.Throttler
	services  Services
	registry  *Registry
	router    *Router
	steps     []Step
	logger    *slog.Logger

	started time.Time
	intn    func(n int) int

	wg sync.WaitGroup
}

// New builds a Bot and registers the built-in commands.
func New(cfg *Config, deps Deps) (*Bot, error) {
	if cfg == nil {
		cfg = DefaultConfig()
	}
	if deps.Messenger == nil {
		return nil, errors.New("bot: messenger is required")
	}
	if deps.Flags == nil {
		return nil, errors.New("bot: feature store is required")
	}
	if deps.Stager == nil {
		return nil, errors.New("bot: media stager is required")
	}
	logger := deps.Logger
	if logger == nil {
		logger = slog.Default()
	}
	gate := deps.Gate
	if gate == nil {
		gate = access.NewGate(cfg.Admins, logger)
	}

	b := &Bot{
		cfg:       cfg,
		msgr:      deps.Messenger,
		flags:     deps.Flags,
		gate:      gate,
		stager:    deps.Stager,
		throttler: broadcast.New(deps.Messenger, deps.Messenger, cfg.Broadcast, logger),
		services:  deps.Services,
		registry:  NewRegistry(),
		logger:    logger.With("component", "bot"),
		started:   time.Now(),
		intn:      rand.IntN,
	}
	if err := b.registerCommands(); err != nil {
		return nil, fmt.Errorf("registering commands: %w", err)
	}
	b.router = NewRouter(cfg.Prefix, b.registry, b.flags, b.gate, b.msgr, logger)
	b.steps = b.reactiveSteps()
	return b, nil
}

// Registry returns the command registry.
func (b *Bot) Registry() *Registry { return b.registry }

// Router returns the command router.
func (b *Bot) Router() *Router { return b.router }

// Run handles events until ctx is cancelled or events is closed. Each
// event runs on its own goroutine; Run waits for them before returning.
func (b *Bot) Run(ctx context.Context, events <-chan *channels.IncomingMessage) error {
	b.logger.Info("bot: running", "prefix", b.cfg.Prefix, "commands", len(b.registry.Commands()))
	defer b.wg.Wait()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-events:
			if !ok {
				return nil
			}
			b.wg.Add(1)
			go func() {
				defer b.wg.Done()
				b.HandleEvent(ctx, ev)
			}()
		}
	}
}

// HandleEvent processes one inbound event synchronously.
func (b *Bot) HandleEvent(ctx context.Context, ev *channels.IncomingMessage) {
	if ev == nil {
		return
	}
	defer func() {
		if p := recover(); p != nil {
			b.logger.Error("bot: panic while handling event",
				"id", ev.ID, "panic", p, "stack", string(debug.Stack()))
		}
	}()

	if ev.Type == channels.MessageCall {
		b.handleCall(ctx, ev)
		return
	}
	b.handleMessage(ctx, ev)
}

func (b *Bot) handleMessage(ctx context.Context, msg *channels.IncomingMessage) {
	pc, isCommand := b.router.Parse(msg.Content)
	ev := &eventContext{msg: msg, command: pc, hasPrefix: hasPrefix(b.cfg.Prefix, msg.Content)}

	b.runSteps(ctx, ev)

	if !isCommand || msg.IsStatus {
		return
	}
	outcome := b.router.Dispatch(ctx, msg, pc)
	b.logger.Debug("bot: command dispatched",
		"command", pc.Name, "from", msg.From, "outcome", outcome.String())
}

// reply answers msg in its chat.
func (b *Bot) reply(ctx context.Context, msg *channels.IncomingMessage, text string) error {
	return b.msgr.Send(ctx, msg.ChatID, &channels.OutgoingMessage{
		Content:       text,
		ReplyTo:       msg.ID,
		ReplyToSender: msg.From,
	})
}

// pick returns a random element of items.
func (b *Bot) pick(items []string) string {
	if len(items) == 0 {
		return ""
	}
	return items[b.intn(len(items))]
}

// uptime is the time since the bot was created, rounded to seconds.
func (b *Bot) uptime() time.Duration {
	return time.Since(b.started).Round(time.Second)
}
