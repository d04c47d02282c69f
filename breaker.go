package happyeyeballs

import (
	"context"
	"net"
	"strconv"
	"sync"
	"time"

	"github.com/sony/gobreaker"
)

// ConnDialer is the shape a connection helper exposes to be wrapped by
// WithCircuitBreaker. *Dialer satisfies it.
type ConnDialer interface {
	DialContext(ctx context.Context, address string, timeout time.Duration, sourceAddr string) (net.Conn, error)
}

// BreakerOptions configures WithCircuitBreaker's per-destination breakers.
type BreakerOptions struct {
	// MaxFailures is the number of consecutive failed dials that trips a
	// destination's breaker open. Zero means 5.
	MaxFailures uint32
	// OpenTimeout is how long a tripped breaker stays open before letting
	// one probe request through. Zero means 30s.
	OpenTimeout time.Duration
	// CountersInterval is how often a closed breaker's failure counters
	// reset to zero. Zero means 60s.
	CountersInterval time.Duration
}

func (o BreakerOptions) normalize() BreakerOptions {
	if o.MaxFailures == 0 {
		o.MaxFailures = 5
	}
	if o.OpenTimeout <= 0 {
		o.OpenTimeout = 30 * time.Second
	}
	if o.CountersInterval <= 0 {
		o.CountersInterval = 60 * time.Second
	}
	return o
}

// breakerDialer wraps a ConnDialer with one gobreaker.CircuitBreaker per
// destination, so a caller that repeatedly dials a host that is entirely
// down (not just degraded on one address family) fails fast instead of
// paying full resolution-plus-race cost on every call. This is purely
// additive: a caller that never calls WithCircuitBreaker sees the wrapped
// Dialer behave exactly as it would unwrapped.
type breakerDialer struct {
	next ConnDialer
	opts BreakerOptions

	mu       sync.Mutex
	breakers map[string]*gobreaker.CircuitBreaker
}

// WithCircuitBreaker wraps next so that repeated failed dials to the same
// destination trip a breaker for that destination, short-circuiting
// further calls to a fast AggregateConnectError until OpenTimeout elapses
// and a single probe call is allowed through.
func WithCircuitBreaker(next ConnDialer, opts BreakerOptions) ConnDialer {
	return &breakerDialer{
		next:     next,
		opts:     opts.normalize(),
		breakers: make(map[string]*gobreaker.CircuitBreaker),
	}
}

func (b *breakerDialer) DialContext(ctx context.Context, address string, timeout time.Duration, sourceAddr string) (net.Conn, error) {
	cb := b.breakerFor(address)
	result, err := cb.Execute(func() (interface{}, error) {
		return b.next.DialContext(ctx, address, timeout, sourceAddr)
	})
	if err != nil {
		if err == gobreaker.ErrOpenState || err == gobreaker.ErrTooManyRequests {
			host, port := splitAddressLoose(address)
			return nil, &AggregateConnectError{Host: host, Port: port, Last: err}
		}
		return nil, err
	}
	return result.(net.Conn), nil
}

func (b *breakerDialer) breakerFor(address string) *gobreaker.CircuitBreaker {
	b.mu.Lock()
	defer b.mu.Unlock()
	if cb, ok := b.breakers[address]; ok {
		return cb
	}
	opts := b.opts
	cb := gobreaker.NewCircuitBreaker(gobreaker.Settings{
		Name:     address,
		Interval: opts.CountersInterval,
		Timeout:  opts.OpenTimeout,
		ReadyToTrip: func(counts gobreaker.Counts) bool {
			return counts.ConsecutiveFailures >= opts.MaxFailures
		},
	})
	b.breakers[address] = cb
	return cb
}

func splitAddressLoose(address string) (string, int) {
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return address, 0
	}
	port, _ := strconv.Atoi(portStr)
	return host, port
}
