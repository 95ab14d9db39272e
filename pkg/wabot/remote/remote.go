// Package remote contains the clients for the third-party services the bot
// commands depend on. Every client shares a pooled HTTP transport and sits
// behind its own circuit breaker, so a failing service degrades into fast
// "unavailable" replies instead of piling up slow requests.
package remote

import (
	"errors"
	"fmt"
	"log/slog"
	"net"
	"net/http"
	"time"

	"github.com/sony/gobreaker/v2"
)

// Errors.
var (
	// ErrNotConfigured is returned when a service has no credentials.
	ErrNotConfigured = errors.New("service not configured")

	// ErrUnavailable is returned while a service's circuit is open.
	ErrUnavailable = errors.New("service temporarily unavailable")

	// ErrInvalidInput marks errors caused by the request rather than the service.
	ErrInvalidInput = errors.New("invalid input")
)

// BreakerConfig configures the per-service circuit breakers.
type BreakerConfig struct {
	// MaxFailures is the number of consecutive failures before the circuit opens.
	MaxFailures uint32 `yaml:"max_failures"`
	// Timeout is how long the circuit stays open before a probe is let through.
	Timeout time.Duration `yaml:"timeout"`
	// Interval is the cyclic period of the closed state for clearing failure counts.
	Interval time.Duration `yaml:"interval"`
}

const (
	defaultMaxFailures uint32 = 5
	defaultOpenTimeout        = 30 * time.Second
	defaultInterval           = 60 * time.Second
)

func newBreaker[T any](name string, cfg BreakerConfig, logger *slog.Logger) *gobreaker.CircuitBreaker[T] {
	maxFailures := cfg.MaxFailures
	if maxFailures == 0 {
		maxFailures = defaultMaxFailures
	}
	timeout := cfg.Timeout
	if timeout == 0 {
		timeout = defaultOpenTimeout
	}
	interval := cfg.Interval
	if interval == 0 {
		interval = defaultInterval
	}

	return gobreaker.NewCircuitBreaker[T](gobreaker.Settings{
		Name:        name,
		MaxRequests: 1,
		Interval:    interval,
		Timeout:     timeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= maxFailures
		},
		OnStateChange: func(name string, from, to gobreaker.State) {
			logger.Warn("remote: circuit breaker state change",
				"breaker", name,
				"from", from.String(),
				"to", to.String())
		},
		IsSuccessful: func(err error) bool {
			// Caller mistakes must not open the circuit.
			return err == nil || errors.Is(err, ErrNotConfigured) || errors.Is(err, ErrInvalidInput)
		},
	})
}

// execute runs fn through cb and maps open-circuit errors to ErrUnavailable.
func execute[T any](cb *gobreaker.CircuitBreaker[T], fn func() (T, error)) (T, error) {
	v, err := cb.Execute(fn)
	if errors.Is(err, gobreaker.ErrOpenState) || errors.Is(err, gobreaker.ErrTooManyRequests) {
		var zero T
		return zero, fmt.Errorf("%s: %w", cb.Name(), ErrUnavailable)
	}
	return v, err
}

// PoolConfig configures HTTP connection pooling.
type PoolConfig struct {
	MaxIdleConns        int           `yaml:"max_idle_conns"`
	MaxIdleConnsPerHost int           `yaml:"max_idle_conns_per_host"`
	IdleConnTimeout     time.Duration `yaml:"idle_conn_timeout"`
}

// NewPooledTransport creates an http.Transport shared by all remote clients.
func NewPooledTransport(connTimeout time.Duration, pool PoolConfig) *http.Transport {
	if connTimeout <= 0 {
		connTimeout = 15 * time.Second
	}
	if pool.MaxIdleConns <= 0 {
		pool.MaxIdleConns = 32
	}
	if pool.MaxIdleConnsPerHost <= 0 {
		pool.MaxIdleConnsPerHost = 8
	}
	if pool.IdleConnTimeout <= 0 {
		pool.IdleConnTimeout = 90 * time.Second
	}

	return &http.Transport{
		Proxy: http.ProxyFromEnvironment,
		DialContext: (&net.Dialer{
			Timeout:   connTimeout,
			KeepAlive: 30 * time.Second,
		}).DialContext,
		TLSHandshakeTimeout: 10 * time.Second,
		MaxIdleConns:        pool.MaxIdleConns,
		MaxIdleConnsPerHost: pool.MaxIdleConnsPerHost,
		IdleConnTimeout:     pool.IdleConnTimeout,
		ForceAttemptHTTP2:   true,
	}
}

// NewHTTPClient returns a client on the pooled transport. timeout bounds a
// whole request; zero means no overall limit, which streaming downloads need.
func NewHTTPClient(transport http.RoundTripper, timeout time.Duration) *http.Client {
	return &http.Client{Transport: transport, Timeout: timeout}
}

// statusError formats an unexpected HTTP status.
func statusError(service string, resp *http.Response) error {
	return fmt.Errorf("%s returned HTTP %d", service, resp.StatusCode)
}
