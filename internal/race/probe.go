// Package race implements the connection race engine: the state machine
// that drives multiple nonblocking TCP connect attempts in parallel and
// returns the first one to complete, per RFC 6555.
package race

import (
	"net"
	"sync"
)

var (
	probeOnce   sync.Once
	probeResult bool
)

// IPv6Supported reports whether this host can create an IPv6 socket and
// resolve a known IPv6 address. The result is memoized process-wide via
// sync.Once, so the probe runs at most once per process.
//
// The probe never issues a connect — it only creates a socket and performs
// a local address lookup, so it cannot block on network traffic. Any
// failure along the way, including a panic-worthy condition in the
// underlying stack, collapses to false.
func IPv6Supported() bool {
	probeOnce.Do(func() {
		probeResult = probeIPv6()
	})
	return probeResult
}

func probeIPv6() (ok bool) {
	defer func() {
		if recover() != nil {
			ok = false
		}
	}()

	// Create (never connect) an IPv6 stream socket. A listener bound to
	// the loopback address is the closest the net package gets to "open
	// a socket" without also dialing.
	ln, err := net.Listen("tcp6", "[::1]:0")
	if err != nil {
		return false
	}
	defer ln.Close()

	// Confirm the resolver and stack accept IPv6 by resolving the known
	// loopback literal through the same machinery used for real lookups.
	addr, err := net.ResolveTCPAddr("tcp6", "[::1]:0")
	if err != nil || addr.IP.To4() != nil {
		return false
	}
	return true
}
