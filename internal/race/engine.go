package race

import (
	"context"
	"errors"
	"net"
	"time"

	"go.uber.org/zap"

	"github.com/PayRpc/happyeyeballs/internal/metrics"
	"github.com/PayRpc/happyeyeballs/internal/netx"
)

// ConnectionAttemptDelay is the RFC 6555 §5.5 stagger between successive
// attempt starts. 250ms, the upper end of the 150-250ms range the RFC
// recommends, matching the reference implementation this package follows.
const ConnectionAttemptDelay = 250 * time.Millisecond

// Endpoint is the candidate type the engine races. It is an alias of
// netx.Endpoint so callers resolving through that package need no
// conversion.
type Endpoint = netx.Endpoint

// Options configures one Race call.
type Options struct {
	// Stagger overrides ConnectionAttemptDelay; zero means use the default.
	Stagger time.Duration
	// Logger receives debug lines for race decisions. Nil disables
	// logging entirely (checked on every call site, never defaulted to a
	// no-op logger here to avoid an allocation per race).
	Logger *zap.Logger
	// Metrics receives attempt/outcome counters. Nil disables metrics.
	Metrics *metrics.Collectors
}

func (o Options) stagger() time.Duration {
	if o.Stagger > 0 {
		return o.Stagger
	}
	return ConnectionAttemptDelay
}

type dialResult struct {
	conn net.Conn
	err  error
	ep   Endpoint
	seq  int
}

// Race drives nonblocking connect attempts against endpoints, staggered by
// Options.Stagger (default ConnectionAttemptDelay), and returns the first
// one to connect. endpoints must be nonempty. A new attempt starts only
// when the stagger timer fires and pending is nonempty — an attempt
// failure never starts the next one early, matching the selector loop
// spec.md describes. timeout == 0 means a single polling pass (only a
// synchronous completion can win); timeout < 0 means no overall deadline,
// running until every endpoint has been tried and every attempt has
// completed; timeout > 0 is the usual overall deadline. source, if
// non-nil, is bound on every attempt socket.
//
// Every socket the engine opens is either returned to the caller (the
// winner) or closed before Race returns.
func Race(ctx context.Context, endpoints []Endpoint, timeout time.Duration, source *net.TCPAddr, opts Options) (net.Conn, Endpoint, error) {
	started := time.Now()
	if len(endpoints) == 0 {
		return nil, Endpoint{}, netx.ErrNoAddresses
	}

	zeroTimeout := timeout == 0

	raceCtx := ctx
	var cancel context.CancelFunc
	if timeout > 0 {
		raceCtx, cancel = context.WithTimeout(ctx, timeout)
	} else if zeroTimeout {
		// One polling pass: the deadline has already elapsed, so only an
		// attempt that completes synchronously (vanishingly rare for a
		// real TCP handshake) can win; anything else surfaces as the
		// aggregated failure below, never as errTimeout.
		raceCtx, cancel = context.WithDeadline(ctx, started)
	} else {
		raceCtx, cancel = context.WithCancel(ctx)
	}
	defer cancel()

	pending := append([]Endpoint(nil), endpoints...)
	// Buffered so that an attempt goroutine's send never blocks, even
	// after Race has already decided and stopped reading: every goroutine
	// can always hand back its result (and, for abandoned attempts, the
	// socket Race must still close).
	results := make(chan dialResult, len(endpoints))
	live := 0
	seq := 0

	startAttempt := func() {
		ep := pending[0]
		pending = pending[1:]
		mySeq := seq
		seq++
		live++
		log(opts, "starting connect attempt", zap.String("addr", ep.Addr.String()), zap.String("network", ep.Network), zap.Int("seq", mySeq))

		go func() {
			d := &net.Dialer{}
			if source != nil {
				d.LocalAddr = source
			}
			conn, err := d.DialContext(raceCtx, ep.Network, ep.Addr.String())
			results <- dialResult{conn: conn, err: err, ep: ep, seq: mySeq}
		}()
	}

	startAttempt()
	stagger := time.NewTimer(opts.stagger())
	defer stagger.Stop()

	var lastErr error
	attempts := 0

	for live > 0 || len(pending) > 0 {
		select {
		case res := <-results:
			live--
			attempts++
			if res.err == nil {
				recordOutcome(opts, res.ep, "connected")
				// Cancelling here (in addition to the deferred cancel)
				// tells every other in-flight attempt to abandon and
				// close its socket before Race returns.
				cancel()
				drainAbandoned(opts, results, live)
				live = 0
				recordDuration(opts, "connected", time.Since(started))
				return res.conn, res.ep, nil
			}
			recordOutcome(opts, res.ep, "failed")
			log(opts, "connect attempt failed", zap.String("addr", res.ep.Addr.String()), zap.Error(res.err))
			lastErr = res.err

		case <-stagger.C:
			if len(pending) > 0 {
				startAttempt()
				stagger.Reset(opts.stagger())
			}

		case <-raceCtx.Done():
			drainAbandoned(opts, results, live)
			if zeroTimeout {
				// One polling pass, per spec: nothing completed
				// synchronously, so this is a plain aggregated failure,
				// not a timeout.
				recordDuration(opts, "failed", time.Since(started))
				if lastErr == nil {
					lastErr = errNoImmediateCompletion
				}
				return nil, Endpoint{}, lastErr
			}
			recordDuration(opts, "timeout", time.Since(started))
			return nil, Endpoint{}, timeoutOrCanceled(raceCtx, lastErr, attempts)
		}
	}

	recordDuration(opts, "failed", time.Since(started))
	if lastErr == nil {
		lastErr = context.Canceled
	}
	return nil, Endpoint{}, lastErr
}

// drainAbandoned waits for the in-flight attempt goroutines to notice
// raceCtx is done and close their sockets, so Race never returns while a
// socket it created is still open and untracked. Each drained attempt is
// recorded with the "abandoned" outcome.
func drainAbandoned(opts Options, results <-chan dialResult, live int) {
	for i := 0; i < live; i++ {
		res := <-results
		recordOutcome(opts, res.ep, "abandoned")
		if res.conn != nil {
			res.conn.Close()
		}
	}
}

func timeoutOrCanceled(ctx context.Context, lastErr error, attempts int) error {
	if ctx.Err() == context.DeadlineExceeded {
		return errTimeout{attempts: attempts, last: lastErr}
	}
	return ctx.Err()
}

// errTimeout is returned when the overall deadline elapsed before any
// attempt connected. The happyeyeballs package wraps this into the public
// error types; it stays unexported here so callers depend on behavior
// (errors.Is / the public wrapper), not on this concrete type.
type errTimeout struct {
	attempts int
	last     error
}

func (e errTimeout) Error() string {
	if e.last == nil {
		return "happyeyeballs: race timed out before any attempt completed"
	}
	return "happyeyeballs: race timed out: " + e.last.Error()
}

func (e errTimeout) Unwrap() error { return e.last }

// IsTimeout reports whether err is the race engine's deadline-exceeded error.
func IsTimeout(err error) bool {
	_, ok := err.(errTimeout)
	return ok
}

// errNoImmediateCompletion is returned for the timeout == 0 edge case when
// no attempt connected synchronously. It is a plain aggregated failure, not
// an errTimeout: IsTimeout must report false for it so callers treat a
// zero-deadline race the same as any other exhausted race, per spec.
var errNoImmediateCompletion = errors.New("happyeyeballs: no attempt completed immediately")

func log(opts Options, msg string, fields ...zap.Field) {
	if opts.Logger == nil {
		return
	}
	opts.Logger.Debug(msg, fields...)
}

func recordOutcome(opts Options, ep Endpoint, outcome string) {
	if opts.Metrics == nil {
		return
	}
	family := "ipv4"
	if ep.Network == "tcp6" {
		family = "ipv6"
	}
	opts.Metrics.AttemptsTotal.WithLabelValues(family, outcome).Inc()
	if outcome == "connected" {
		opts.Metrics.WinnerFamilyTotal.WithLabelValues(family).Inc()
	}
}

func recordDuration(opts Options, outcome string, d time.Duration) {
	if opts.Metrics == nil {
		return
	}
	opts.Metrics.RaceDuration.WithLabelValues(outcome).Observe(d.Seconds())
}
