// Package access implements the authorization gate for privileged commands.
//
// Only identities listed as admins may run admin commands. "Group admin"
// commands require an admin acting inside a group chat; the chat's own
// administrator roster is not consulted.
package access

import (
	"log/slog"
	"strings"
)

// Level is the privilege a command requires.
type Level int

const (
	// LevelNone means anyone may run the command.
	LevelNone Level = iota
	// LevelAdmin requires a configured admin.
	LevelAdmin
	// LevelGroupAdmin requires a configured admin inside a group chat.
	LevelGroupAdmin
)

func (l Level) String() string {
	switch l {
	case LevelAdmin:
		return "admin"
	case LevelGroupAdmin:
		return "group_admin"
	default:
		return "none"
	}
}

// Gate answers authorization questions. It is immutable after construction.
type Gate struct {
	admins map[string]struct{}
}

// NewGate builds a Gate for the given admin identities. Entries may be bare
// phone numbers or JIDs in any of the usual forms.
func NewGate(admins []string, logger *slog.Logger) *Gate {
	if logger == nil {
		logger = slog.Default()
	}
	g := &Gate{admins: make(map[string]struct{}, len(admins))}
	for _, a := range admins {
		norm := NormalizeID(a)
		if norm == "" {
			continue
		}
		g.admins[norm] = struct{}{}
	}
	if len(g.admins) == 0 {
		logger.With("component", "access").Warn("access: no admins configured, admin commands are unavailable")
	}
	return g
}

// IsAdmin reports whether sender is a configured admin.
func (g *Gate) IsAdmin(sender string) bool {
	norm := NormalizeID(sender)
	if norm == "" {
		return false
	}
	_, ok := g.admins[norm]
	return ok
}

// IsGroupAdminAction reports whether sender is an admin acting in a group.
func (g *Gate) IsGroupAdminAction(isGroup bool, sender string) bool {
	return isGroup && g.IsAdmin(sender)
}

// Allows evaluates a Level for a message context.
func (g *Gate) Allows(level Level, isGroup bool, sender string) bool {
	switch level {
	case LevelAdmin:
		return g.IsAdmin(sender)
	case LevelGroupAdmin:
		return g.IsGroupAdminAction(isGroup, sender)
	default:
		return true
	}
}

// Admins returns the normalized admin identities.
func (g *Gate) Admins() []string {
	out := make([]string, 0, len(g.admins))
	for a := range g.admins {
		out = append(out, a)
	}
	return out
}

// NormalizeID reduces an identity to "<user>@s.whatsapp.net". The legacy
// "@c.us" server, device suffixes ("user:12@...") and bare phone numbers
// all map to the same value. Group and other non-user JIDs are returned
// lower-cased but otherwise unchanged.
func NormalizeID(id string) string {
	id = strings.ToLower(strings.TrimSpace(id))
	if id == "" {
		return ""
	}

	user, server, hasServer := strings.Cut(id, "@")
	if !hasServer {
		digits := strings.Map(func(r rune) rune {
			if r >= '0' && r <= '9' {
				return r
			}
			return -1
		}, id)
		if digits == "" {
			return ""
		}
		return digits + "@s.whatsapp.net"
	}

	switch server {
	case "c.us", "s.whatsapp.net":
		server = "s.whatsapp.net"
	default:
		return id
	}

	if i := strings.IndexByte(user, ':'); i >= 0 {
		user = user[:i]
	}
	if i := strings.IndexByte(user, '.'); i >= 0 {
		user = user[:i]
	}
	user = strings.TrimPrefix(user, "+")
	if user == "" {
		return ""
	}
	return user + "@" + server
}
