package security

import (
	"context"
	"errors"
	"net/netip"
	"testing"
)

type fakeResolver map[string][]netip.Addr

func (f fakeResolver) LookupNetIP(_ context.Context, _, host string) ([]netip.Addr, error) {
	if addrs, ok := f[host]; ok {
		return addrs, nil
	}
	return nil, errors.New("no such host")
}

func TestURLGuard(t *testing.T) {
	resolver := fakeResolver{
		"example.com":   {netip.MustParseAddr("93.184.216.34")},
		"internal.test": {netip.MustParseAddr("10.1.2.3")},
		"rebind.test":   {netip.MustParseAddr("93.184.216.34"), netip.MustParseAddr("127.0.0.1")},
	}
	g := NewURLGuard(Config{}, nil).WithResolver(resolver)
	ctx := context.Background()

	tests := []struct {
		name    string
		url     string
		allowed bool
	}{
		{"public host", "https://example.com/image.png", true},
		{"public literal", "http://93.184.216.34/", true},
		{"loopback literal", "http://127.0.0.1/", false},
		{"localhost", "http://localhost:8080/", false},
		{"metadata", "http://169.254.169.254/latest/meta-data", false},
		{"private by dns", "http://internal.test/", false},
		{"mixed dns answer", "http://rebind.test/", false},
		{"file scheme", "file:///etc/passwd", false},
		{"ftp scheme", "ftp://example.com/", false},
		{"hex literal", "http://0x7f000001/", false},
		{"short literal", "http://127.1/", false},
		{"ipv6 loopback", "http://[::1]/", false},
		{"unresolvable", "http://nowhere.test/", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			err := g.Check(ctx, tt.url)
			if tt.allowed && err != nil {
				t.Errorf("expected %s to be allowed, got %v", tt.url, err)
			}
			if !tt.allowed {
				if err == nil {
					t.Errorf("expected %s to be blocked", tt.url)
				} else if !errors.Is(err, ErrBlockedURL) {
					t.Errorf("expected ErrBlockedURL, got %v", err)
				}
			}
		})
	}
}

func TestURLGuardConfig(t *testing.T) {
	resolver := fakeResolver{
		"example.com":   {netip.MustParseAddr("93.184.216.34")},
		"internal.test": {netip.MustParseAddr("192.168.1.10")},
	}
	ctx := context.Background()

	t.Run("allow private", func(t *testing.T) {
		g := NewURLGuard(Config{AllowPrivate: true}, nil).WithResolver(resolver)
		if err := g.Check(ctx, "http://internal.test/"); err != nil {
			t.Errorf("expected private host allowed, got %v", err)
		}
		if err := g.Check(ctx, "http://127.0.0.1/"); err == nil {
			t.Error("expected loopback to stay blocked")
		}
	})

	t.Run("block list", func(t *testing.T) {
		g := NewURLGuard(Config{BlockedHosts: []string{"Example.com"}}, nil).WithResolver(resolver)
		if err := g.Check(ctx, "https://example.com/"); err == nil {
			t.Error("expected blocked host to be rejected")
		}
	})

	t.Run("allow list", func(t *testing.T) {
		g := NewURLGuard(Config{AllowedHosts: []string{"example.com"}}, nil).WithResolver(resolver)
		if err := g.Check(ctx, "https://example.com/"); err != nil {
			t.Errorf("expected allow-listed host, got %v", err)
		}
		if err := g.Check(ctx, "https://other.test/"); err == nil {
			t.Error("expected host outside allow list to be rejected")
		}
	})
}
