// Package happyeyeballs is a synchronous Happy Eyeballs (RFC 6555) dialer:
// given a dual-stack destination, it races connect attempts across the
// resolved addresses so connect latency is bounded by the fastest
// responsive address family rather than by a slow or broken one.
//
// CreateConnection is a drop-in replacement for a plain blocking TCP
// connect: resolve, race (or fall back to a single connect when racing
// wouldn't help), return a connected socket.
package happyeyeballs

import (
	"context"
	"errors"
	"fmt"
	"net"
	"strconv"
	"sync/atomic"
	"time"

	"github.com/PayRpc/happyeyeballs/internal/metrics"
	"github.com/PayRpc/happyeyeballs/internal/netx"
	"github.com/PayRpc/happyeyeballs/internal/race"
)

// Enabled is the process-wide Happy Eyeballs feature flag, default true.
// Toggle it with Enabled.Store(false); every Dialer that hasn't overridden
// the flag via WithHappyEyeballs falls back to a plain blocking connect
// while it is false. Reads and writes are atomic but otherwise
// unsynchronized with the rest of a race in progress, matching the spec's
// "no synchronization provided" posture for process-wide state.
var Enabled atomic.Bool

func init() {
	Enabled.Store(true)
}

// Cache is the process-wide AddressCache consulted and updated by the
// default dialer. Assign nil to disable caching process-wide. Like Enabled,
// this is unsynchronized shared state; a caller needing thread safety
// should assign a cache built with NewSynchronizedCache.
var Cache AddressCache = NewLRUCache(DefaultValidityDuration, DefaultCacheCapacity)

// Dialer is a configurable Happy Eyeballs dialer. The zero value is not
// ready to use; construct one with NewDialer.
type Dialer struct {
	config   *Config
	cache    AddressCache
	cacheSet bool
	enabled  *bool
	metrics  *metrics.Collectors
}

// NewDialer builds a Dialer with the package defaults, as overridden by
// opts. By default it tracks the package-level Enabled flag and Cache
// variable, the same way the plain CreateConnection function does.
func NewDialer(opts ...Option) *Dialer {
	d := &Dialer{config: DefaultConfig(), metrics: metrics.Default()}
	for _, opt := range opts {
		opt(d)
	}
	return d
}

func (d *Dialer) effectiveCache() AddressCache {
	if d.cacheSet {
		return d.cache
	}
	return Cache
}

func (d *Dialer) effectiveEnabled() bool {
	if d.enabled != nil {
		return *d.enabled
	}
	return Enabled.Load()
}

var defaultDialer = NewDialer()

// CreateConnection resolves host:port and returns a connected TCP socket,
// racing IPv4/IPv6 candidates when that can help. timeout <= 0 means
// DefaultTimeout. sourceAddr, if non-empty, is a "host:port" bound on every
// attempt socket (port may be 0).
func CreateConnection(address string, timeout time.Duration, sourceAddr string) (net.Conn, error) {
	return CreateConnectionContext(context.Background(), address, timeout, sourceAddr)
}

// CreateConnectionContext is CreateConnection with a caller-supplied
// context. Canceling ctx aborts resolution and any in-flight race early.
func CreateConnectionContext(ctx context.Context, address string, timeout time.Duration, sourceAddr string) (net.Conn, error) {
	return defaultDialer.DialContext(ctx, address, timeout, sourceAddr)
}

// Dial is DialContext with context.Background().
func (d *Dialer) Dial(address string, timeout time.Duration, sourceAddr string) (net.Conn, error) {
	return d.DialContext(context.Background(), address, timeout, sourceAddr)
}

// DialContext implements the Entry Point dispatch rules: fall back to a
// plain connect when Happy Eyeballs is disabled, unsupported, or would not
// help (single address / single family); otherwise race and, on success,
// record the winner in the cache.
func (d *Dialer) DialContext(ctx context.Context, address string, timeout time.Duration, sourceAddr string) (net.Conn, error) {
	if timeout <= 0 {
		timeout = d.effectiveTimeout()
	}
	host, portStr, err := net.SplitHostPort(address)
	if err != nil {
		return nil, &ResolutionError{Host: address, Err: err}
	}
	port, err := strconv.Atoi(portStr)
	if err != nil {
		return nil, &ResolutionError{Host: address, Err: fmt.Errorf("invalid port %q: %w", portStr, err)}
	}

	source, err := resolveSourceAddr(sourceAddr)
	if err != nil {
		return nil, err
	}

	if !d.effectiveEnabled() || !race.IPv6Supported() {
		return plainConnect(ctx, address, timeout, source)
	}

	endpoints, err := netx.Resolve(ctx, host, port)
	if err != nil {
		return nil, &ResolutionError{Host: host, Err: err}
	}

	cache := d.effectiveCache()
	if cache != nil {
		if cached, ok := cache.Get(host, port); ok {
			endpoints = moveToFront(endpoints, cached)
		}
	}

	if !hasTwoFamilies(endpoints) {
		return plainConnect(ctx, address, timeout, source)
	}

	conn, winner, err := race.Race(ctx, endpoints, timeout, source, race.Options{
		Stagger: d.effectiveStagger(),
		Logger:  logger,
		Metrics: d.metrics,
	})
	if err != nil {
		return nil, translateRaceError(host, port, len(endpoints), err)
	}

	if cache != nil {
		cache.Put(host, port, winner)
	}
	return conn, nil
}

func (d *Dialer) effectiveTimeout() time.Duration {
	if d.config != nil && d.config.Timeout > 0 {
		return d.config.Timeout
	}
	return DefaultTimeout
}

func (d *Dialer) effectiveStagger() time.Duration {
	if d.config != nil && d.config.Stagger > 0 {
		return d.config.Stagger
	}
	return 0
}

// plainConnect is the platform's standard blocking TCP connect helper: a
// single net.Dialer.DialContext call, no racing.
func plainConnect(ctx context.Context, address string, timeout time.Duration, source *net.TCPAddr) (net.Conn, error) {
	dialCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		dialCtx, cancel = context.WithTimeout(ctx, timeout)
		defer cancel()
	}
	dialer := &net.Dialer{}
	if source != nil {
		dialer.LocalAddr = source
	}
	conn, err := dialer.DialContext(dialCtx, "tcp", address)
	if err != nil {
		return nil, err
	}
	return conn, nil
}

func resolveSourceAddr(sourceAddr string) (*net.TCPAddr, error) {
	if sourceAddr == "" {
		return nil, nil
	}
	addr, err := net.ResolveTCPAddr("tcp", sourceAddr)
	if err != nil {
		return nil, fmt.Errorf("happyeyeballs: invalid source address %q: %w", sourceAddr, err)
	}
	return addr, nil
}

func hasTwoFamilies(endpoints []Endpoint) bool {
	if len(endpoints) < 2 {
		return false
	}
	sawV4, sawV6 := false, false
	for _, ep := range endpoints {
		if ep.IsIPv6() {
			sawV6 = true
		} else {
			sawV4 = true
		}
	}
	return sawV4 && sawV6
}

func moveToFront(endpoints []Endpoint, cached Endpoint) []Endpoint {
	for i, ep := range endpoints {
		if ep.Network == cached.Network && ep.Addr != nil && cached.Addr != nil && ep.Addr.IP.Equal(cached.Addr.IP) {
			reordered := make([]Endpoint, 0, len(endpoints))
			reordered = append(reordered, ep)
			reordered = append(reordered, endpoints[:i]...)
			reordered = append(reordered, endpoints[i+1:]...)
			return reordered
		}
	}
	return endpoints
}

func translateRaceError(host string, port int, attempts int, err error) error {
	if errors.Is(err, netx.ErrNoAddresses) {
		return &ResolutionError{Host: host, Err: err}
	}
	if race.IsTimeout(err) {
		return fmt.Errorf("%w: %v", ErrRaceTimeout, err)
	}
	return &AggregateConnectError{Host: host, Port: port, Attempts: attempts, Last: err}
}
