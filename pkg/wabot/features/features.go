// Package features holds the runtime feature-flag table that gates the bot's
// reactive behaviors and commands.
//
// The set of flags is fixed at compile time. Reads take a lock-free snapshot
// so that event handlers running on many goroutines never block on a toggle;
// writes are serialized and publish a fresh snapshot.
package features

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// Canonical flag names.
const (
	AutoViewStatus   = "autoViewStatus"
	AutoReply        = "autoReply"
	AutoReact        = "autoReact"
	AutoSaveContacts = "autoSaveContacts"
	AntiCall         = "antiCall"
	ChatGPT          = "chatGPT"
	AutoBio          = "autoBio"
	AlwaysOnline     = "alwaysOnline"
	FakeTyping       = "fakeTyping"
	FakeRecording    = "fakeRecording"
)

// ErrUnknownFeature is returned when a name does not match any defined flag.
var ErrUnknownFeature = errors.New("unknown feature")

// Definition declares a flag and its startup value.
type Definition struct {
	Name        string
	Default     bool
	Description string
}

// Definitions is the ordered set of recognized flags.
var Definitions = []Definition{
	{Name: AutoViewStatus, Default: true, Description: "mark incoming messages as read"},
	{Name: AutoReply, Default: true, Description: "send a friendly reply to plain messages"},
	{Name: AutoReact, Default: true, Description: "react to incoming messages with a random emoji"},
	{Name: AutoSaveContacts, Default: false, Description: "store the display name of new direct-message senders"},
	{Name: AntiCall, Default: true, Description: "reject incoming calls"},
	{Name: ChatGPT, Default: true, Description: "enable the !gpt command"},
	{Name: AutoBio, Default: false, Description: "keep the profile about text updated"},
	{Name: AlwaysOnline, Default: false, Description: "advertise online presence periodically"},
	{Name: FakeTyping, Default: false, Description: "show typing before command replies"},
	{Name: FakeRecording, Default: false, Description: "show recording before command replies"},
}

// Flag is a point-in-time view of one flag.
type Flag struct {
	Name        string
	Enabled     bool
	Description string
}

// Persister stores flag values across restarts.
type Persister interface {
	Load(ctx context.Context) (map[string]bool, error)
	Save(ctx context.Context, name string, enabled bool) error
}

// Option configures a Store.
type Option func(*Store)

// WithPersister makes every Set write through to p, and seeds the store from
// it on construction.
func WithPersister(p Persister) Option {
	return func(s *Store) { s.persister = p }
}

// WithLogger sets the logger used for persistence failures.
func WithLogger(logger *slog.Logger) Option {
	return func(s *Store) {
		if logger != nil {
			s.logger = logger
		}
	}
}

// snapshot is immutable once published.
type snapshot struct {
	values []bool
}

// Store is the feature-flag table. The zero value is not usable; call New.
type Store struct {
	// index maps the lower-cased name to its position in Definitions.
	index map[string]int

	current atomic.Pointer[snapshot]

	mu        sync.Mutex
	persister Persister
	logger    *slog.Logger
}

// New builds a Store with every flag at its default, then applies overrides
// (from configuration) and finally any persisted values. An override naming
// an unknown flag is an error.
func New(overrides map[string]bool, opts ...Option) (*Store, error) {
	s := &Store{
		index:  make(map[string]int, len(Definitions)),
		logger: slog.Default(),
	}
	for _, opt := range opts {
		opt(s)
	}
	s.logger = s.logger.With("component", "features")

	values := make([]bool, len(Definitions))
	for i, d := range Definitions {
		s.index[strings.ToLower(d.Name)] = i
		values[i] = d.Default
	}

	for name, enabled := range overrides {
		i, ok := s.lookup(name)
		if !ok {
			return nil, fmt.Errorf("feature override %q: %w", name, ErrUnknownFeature)
		}
		values[i] = enabled
	}

	if s.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		stored, err := s.persister.Load(ctx)
		cancel()
		if err != nil {
			return nil, fmt.Errorf("loading persisted features: %w", err)
		}
		for name, enabled := range stored {
			i, ok := s.lookup(name)
			if !ok {
				s.logger.Warn("features: ignoring persisted value for unknown flag", "name", name)
				continue
			}
			values[i] = enabled
		}
	}

	s.current.Store(&snapshot{values: values})
	return s, nil
}

func (s *Store) lookup(name string) (int, bool) {
	i, ok := s.index[strings.ToLower(strings.TrimSpace(name))]
	return i, ok
}

// Resolve returns the canonical spelling of name.
func (s *Store) Resolve(name string) (string, bool) {
	i, ok := s.lookup(name)
	if !ok {
		return "", false
	}
	return Definitions[i].Name, true
}

// Get returns the current value of a flag.
func (s *Store) Get(name string) (bool, error) {
	i, ok := s.lookup(name)
	if !ok {
		return false, fmt.Errorf("%q: %w", name, ErrUnknownFeature)
	}
	return s.current.Load().values[i], nil
}

// Enabled reports whether a flag is on. Unknown names are reported as off.
func (s *Store) Enabled(name string) bool {
	v, err := s.Get(name)
	return err == nil && v
}

// Set updates a flag. Unknown names leave the table untouched.
func (s *Store) Set(name string, enabled bool) error {
	i, ok := s.lookup(name)
	if !ok {
		return fmt.Errorf("%q: %w", name, ErrUnknownFeature)
	}

	s.mu.Lock()
	defer s.mu.Unlock()

	prev := s.current.Load().values
	next := make([]bool, len(prev))
	copy(next, prev)
	next[i] = enabled
	s.current.Store(&snapshot{values: next})

	if s.persister != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := s.persister.Save(ctx, Definitions[i].Name, enabled); err != nil {
			s.logger.Warn("features: failed to persist flag",
				"name", Definitions[i].Name, "error", err)
		}
	}
	return nil
}

// List returns every flag in declaration order.
func (s *Store) List() []Flag {
	values := s.current.Load().values
	out := make([]Flag, len(Definitions))
	for i, d := range Definitions {
		out[i] = Flag{Name: d.Name, Enabled: values[i], Description: d.Description}
	}
	return out
}
