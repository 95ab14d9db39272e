// Package security validates user-supplied URLs before the bot fetches or
// renders them. Hostnames are resolved first so that a name pointing at an
// internal address is rejected the same way the literal address would be.
package security

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/netip"
	"net/url"
	"strings"
)

// ErrBlockedURL is wrapped by every rejection.
var ErrBlockedURL = errors.New("url not allowed")

// Config configures the guard.
type Config struct {
	// AllowPrivate permits RFC 1918 and unique-local targets.
	AllowPrivate bool `yaml:"allow_private"`

	// AllowedHosts, when non-empty, is the only set of hosts accepted.
	AllowedHosts []string `yaml:"allowed_hosts"`

	// BlockedHosts are always rejected.
	BlockedHosts []string `yaml:"blocked_hosts"`
}

var alwaysBlockedHosts = []string{
	"localhost",
	"localhost.localdomain",
	"metadata.google.internal",
}

var (
	alwaysBlockedPrefixes = mustPrefixes(
		"0.0.0.0/8",
		"127.0.0.0/8",
		"169.254.0.0/16",
		"100.64.0.0/10",
		"::1/128",
		"::/128",
		"fe80::/10",
	)
	privatePrefixes = mustPrefixes(
		"10.0.0.0/8",
		"172.16.0.0/12",
		"192.168.0.0/16",
		"fc00::/7",
	)
)

func mustPrefixes(cidrs ...string) []netip.Prefix {
	out := make([]netip.Prefix, len(cidrs))
	for i, c := range cidrs {
		out[i] = netip.MustParsePrefix(c)
	}
	return out
}

// Resolver is the subset of net.Resolver the guard needs.
type Resolver interface {
	LookupNetIP(ctx context.Context, network, host string) ([]netip.Addr, error)
}

// URLGuard rejects URLs that point at internal infrastructure.
type URLGuard struct {
	cfg      Config
	resolver Resolver
	logger   *slog.Logger
}

// NewURLGuard creates a guard using the default resolver.
func NewURLGuard(cfg Config, logger *slog.Logger) *URLGuard {
	if logger == nil {
		logger = slog.Default()
	}
	return &URLGuard{
		cfg:      cfg,
		resolver: net.DefaultResolver,
		logger:   logger.With("component", "url_guard"),
	}
}

// WithResolver replaces the DNS resolver.
func (g *URLGuard) WithResolver(r Resolver) *URLGuard {
	g.resolver = r
	return g
}

// Check returns nil when rawURL is safe to fetch.
func (g *URLGuard) Check(ctx context.Context, rawURL string) error {
	u, err := url.Parse(strings.TrimSpace(rawURL))
	if err != nil {
		return fmt.Errorf("%w: %v", ErrBlockedURL, err)
	}

	switch strings.ToLower(u.Scheme) {
	case "http", "https":
	default:
		g.logger.Warn("url guard: scheme rejected", "url", rawURL, "scheme", u.Scheme)
		return fmt.Errorf("%w: scheme %q", ErrBlockedURL, u.Scheme)
	}

	host := strings.ToLower(u.Hostname())
	if host == "" {
		return fmt.Errorf("%w: missing host", ErrBlockedURL)
	}
	if strings.Contains(host, "0x") {
		return fmt.Errorf("%w: hex address notation", ErrBlockedURL)
	}
	if looksNumeric(host) && strings.Count(host, ".") != 3 {
		return fmt.Errorf("%w: short or packed address notation", ErrBlockedURL)
	}

	for _, h := range alwaysBlockedHosts {
		if host == h {
			g.logger.Warn("url guard: host rejected", "url", rawURL)
			return fmt.Errorf("%w: host %s", ErrBlockedURL, host)
		}
	}
	for _, h := range g.cfg.BlockedHosts {
		if strings.EqualFold(host, h) {
			g.logger.Warn("url guard: host in block list", "url", rawURL)
			return fmt.Errorf("%w: host %s is blocked", ErrBlockedURL, host)
		}
	}
	if len(g.cfg.AllowedHosts) > 0 {
		allowed := false
		for _, h := range g.cfg.AllowedHosts {
			if strings.EqualFold(host, h) {
				allowed = true
				break
			}
		}
		if !allowed {
			return fmt.Errorf("%w: host %s is not in the allow list", ErrBlockedURL, host)
		}
	}

	var addrs []netip.Addr
	if addr, err := netip.ParseAddr(host); err == nil {
		addrs = []netip.Addr{addr}
	} else {
		addrs, err = g.resolver.LookupNetIP(ctx, "ip", host)
		if err != nil {
			return fmt.Errorf("%w: cannot resolve %s: %v", ErrBlockedURL, host, err)
		}
	}

	for _, addr := range addrs {
		if err := g.checkAddr(addr); err != nil {
			g.logger.Warn("url guard: address rejected", "url", rawURL, "addr", addr.String())
			return err
		}
	}
	return nil
}

func (g *URLGuard) checkAddr(addr netip.Addr) error {
	addr = addr.Unmap()
	for _, p := range alwaysBlockedPrefixes {
		if p.Contains(addr) {
			return fmt.Errorf("%w: address %s is internal", ErrBlockedURL, addr)
		}
	}
	if !g.cfg.AllowPrivate {
		for _, p := range privatePrefixes {
			if p.Contains(addr) {
				return fmt.Errorf("%w: private address %s", ErrBlockedURL, addr)
			}
		}
	}
	return nil
}

// looksNumeric reports whether host consists only of digits and dots.
func looksNumeric(host string) bool {
	for _, c := range host {
		if (c < '0' || c > '9') && c != '.' {
			return false
		}
	}
	return true
}
