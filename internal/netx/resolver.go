// Package netx resolves destinations into the ordered endpoint lists the
// race engine consumes, with an optional override for the DNS servers used.
package netx

import (
	"context"
	"errors"
	"fmt"
	"net"
	"os"
	"strings"
	"time"
)

// ErrNoAddresses is returned when name resolution (or, defensively, the
// race engine itself) produced an empty endpoint list. It lives here,
// rather than in the root package, so both the resolver and the race
// engine — which already imports this package for Endpoint — can return
// it without an import cycle; the root package re-exports it as
// happyeyeballs.ErrNoAddresses.
var ErrNoAddresses = errors.New("netx: no addresses resolved")

// CustomResolver returns net.DefaultResolver when HAPPYEYEBALLS_DNS is
// unset. When it is set, it returns a resolver that prefers the pure-Go
// resolver and sends lookups to the comma-separated list of DNS servers
// named there instead of the system default.
func CustomResolver() *net.Resolver {
	dnsEnv := os.Getenv("HAPPYEYEBALLS_DNS")
	if dnsEnv == "" {
		return net.DefaultResolver
	}
	servers := strings.Split(dnsEnv, ",")
	dialer := &net.Dialer{Timeout: 5 * time.Second}

	return &net.Resolver{
		PreferGo: true,
		Dial: func(ctx context.Context, network, address string) (net.Conn, error) {
			var lastErr error
			for _, s := range servers {
				conn, err := dialer.DialContext(ctx, "udp", strings.TrimSpace(s))
				if err == nil {
					return conn, nil
				}
				lastErr = err
			}
			if lastErr != nil {
				return nil, lastErr
			}
			return dialer.DialContext(ctx, network, address)
		},
	}
}

// Endpoint is a resolved candidate: an address family tag ("tcp4"/"tcp6")
// paired with its resolved TCP address. It is the one Endpoint type shared
// by the resolver, the race engine, and the public happyeyeballs package —
// all alias this definition rather than converting between look-alike
// structs at each layer.
type Endpoint struct {
	Network string
	Addr    *net.TCPAddr
}

// IsIPv6 reports whether the endpoint is an IPv6 candidate.
func (e Endpoint) IsIPv6() bool {
	return e.Network == "tcp6"
}

func (e Endpoint) String() string {
	if e.Addr == nil {
		return e.Network + ":<nil>"
	}
	return e.Addr.String()
}

// Resolve looks up host and returns the candidate endpoints for port, in
// the order the resolver returned them. This package never reorders
// families; that decision belongs to the race engine.
func Resolve(ctx context.Context, host string, port int) ([]Endpoint, error) {
	r := CustomResolver()
	ipAddrs, err := r.LookupIPAddr(ctx, host)
	if err != nil {
		return nil, err
	}
	endpoints := make([]Endpoint, 0, len(ipAddrs))
	for _, ipAddr := range ipAddrs {
		network := "tcp4"
		ip := ipAddr.IP
		if ip.To4() == nil {
			network = "tcp6"
		}
		endpoints = append(endpoints, Endpoint{
			Network: network,
			Addr: &net.TCPAddr{
				IP:   ip,
				Port: port,
				Zone: ipAddr.Zone,
			},
		})
	}
	if len(endpoints) == 0 {
		return nil, fmt.Errorf("%w: %s", ErrNoAddresses, host)
	}
	return endpoints, nil
}
