package bot

import (
	"context"
	"fmt"
	"strings"

	"github.com/jholhewres/wabot/pkg/wabot/access"
	"github.com/jholhewres/wabot/pkg/wabot/channels"
)

// Auth is the privilege a command requires.
type Auth = access.Level

const (
	AuthNone       = access.LevelNone
	AuthAdmin      = access.LevelAdmin
	AuthGroupAdmin = access.LevelGroupAdmin
)

// HandlerFunc runs a command. Returning a *UserError shows its message to
// the user; any other error is answered with the command's FailureReply.
type HandlerFunc func(ctx context.Context, inv *Invocation) error

// CommandSpec declares a command and the preconditions the router
// enforces before the handler runs.
type CommandSpec struct {
	Name    string
	Aliases []string

	// Feature, when set, names the flag that must be on.
	Feature string

	Auth Auth

	// Ready reports whether the command's collaborators are configured.
	// Its error message is shown to the user.
	Ready func() error

	// NeedsText rejects invocations without arguments.
	NeedsText bool

	// ValidText further checks the argument text.
	ValidText func(text string) bool

	// Usage is the reply for missing or invalid arguments.
	Usage string

	// FailureReply is the reply when the handler fails.
	FailureReply string

	// Args and Summary render the help line: "!name <Args> (Summary)".
	Args    string
	Summary string

	// Section groups the command in help.
	Section string

	Handler HandlerFunc
}

// UserError is an error whose message is meant for the chat.
type UserError struct {
	Message string
	Err     error
}

func (e *UserError) Error() string {
	if e.Err != nil {
		return e.Message + ": " + e.Err.Error()
	}
	return e.Message
}

func (e *UserError) Unwrap() error { return e.Err }

// Userf returns a UserError with a formatted message.
func Userf(format string, args ...any) *UserError {
	return &UserError{Message: fmt.Sprintf(format, args...)}
}

// Registry maps command names and aliases to specs. It is built at startup
// and read-only afterwards.
type Registry struct {
	byName map[string]*CommandSpec
	order  []*CommandSpec
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byName: make(map[string]*CommandSpec)}
}

// Register adds spec under its name and aliases. Duplicate names are an
// error.
func (r *Registry) Register(spec *CommandSpec) error {
	if spec.Name == "" {
		return fmt.Errorf("command without a name")
	}
	if spec.Handler == nil {
		return fmt.Errorf("command %q has no handler", spec.Name)
	}

	keys := append([]string{spec.Name}, spec.Aliases...)
	for _, k := range keys {
		if _, dup := r.byName[strings.ToLower(k)]; dup {
			return fmt.Errorf("command %q already registered", k)
		}
	}
	for _, k := range keys {
		r.byName[strings.ToLower(k)] = spec
	}
	r.order = append(r.order, spec)
	return nil
}

// MustRegister is Register for built-in tables.
func (r *Registry) MustRegister(specs ...*CommandSpec) {
	for _, s := range specs {
		if err := r.Register(s); err != nil {
			panic(err)
		}
	}
}

// Lookup resolves a name or alias, case-insensitively.
func (r *Registry) Lookup(name string) (*CommandSpec, bool) {
	spec, ok := r.byName[strings.ToLower(name)]
	return spec, ok
}

// Commands returns the specs in registration order.
func (r *Registry) Commands() []*CommandSpec {
	out := make([]*CommandSpec, len(r.order))
	copy(out, r.order)
	return out
}

// Invocation is a single run of a command.
type Invocation struct {
	Msg     *channels.IncomingMessage
	Command *ParsedCommand
	Spec    *CommandSpec

	reply func(ctx context.Context, text string) error
}

// Args returns the command arguments.
func (inv *Invocation) Args() []string { return inv.Command.Args }

// Text returns the arguments joined by single spaces.
func (inv *Invocation) Text() string { return inv.Command.Text }

// Reply answers in the invoking chat, quoting the command message.
func (inv *Invocation) Reply(ctx context.Context, text string) error {
	return inv.reply(ctx, text)
}
