package happyeyeballs

import (
	"net"
	"testing"
	"time"
)

func endpointFor(port int) Endpoint {
	return Endpoint{Network: "tcp4", Addr: &net.TCPAddr{IP: net.ParseIP("127.0.0.1"), Port: port}}
}

func TestLRUCacheRoundTrip(t *testing.T) {
	c := NewLRUCache(time.Minute, 10)
	if _, ok := c.Get("example.com", 443); ok {
		t.Fatal("expected a miss on an empty cache")
	}
	ep := endpointFor(443)
	c.Put("example.com", 443, ep)
	got, ok := c.Get("example.com", 443)
	if !ok {
		t.Fatal("expected a hit after Put")
	}
	if got.Addr.Port != ep.Addr.Port {
		t.Fatalf("got %v, want %v", got, ep)
	}
}

func TestLRUCacheExpiry(t *testing.T) {
	c := NewLRUCache(time.Minute, 10)
	restore := now
	current := time.Now()
	now = func() time.Time { return current }
	defer func() { now = restore }()

	c.Put("example.com", 443, endpointFor(443))
	current = current.Add(2 * time.Minute)

	if _, ok := c.Get("example.com", 443); ok {
		t.Fatal("expected entry to have expired")
	}
}

func TestLRUCacheCapacityEviction(t *testing.T) {
	c := NewLRUCache(time.Minute, 2)
	c.Put("a.example.com", 1, endpointFor(1))
	c.Put("b.example.com", 2, endpointFor(2))
	c.Put("c.example.com", 3, endpointFor(3))

	if _, ok := c.Get("a.example.com", 1); ok {
		t.Fatal("expected the least-recently-used entry to be evicted")
	}
	if _, ok := c.Get("c.example.com", 3); !ok {
		t.Fatal("expected the most recently added entry to still be cached")
	}
}

func TestLRUCacheClear(t *testing.T) {
	c := NewLRUCache(time.Minute, 10)
	c.Put("example.com", 443, endpointFor(443))
	c.Clear()
	if _, ok := c.Get("example.com", 443); ok {
		t.Fatal("expected Clear to drop every entry")
	}
}

func TestSynchronizedCacheDelegates(t *testing.T) {
	inner := NewLRUCache(time.Minute, 10)
	c := NewSynchronizedCache(inner)
	ep := endpointFor(8080)
	c.Put("example.com", 8080, ep)
	got, ok := c.Get("example.com", 8080)
	if !ok || got.Addr.Port != ep.Addr.Port {
		t.Fatalf("got %v, %v, want %v, true", got, ok, ep)
	}
	c.Clear()
	if _, ok := c.Get("example.com", 8080); ok {
		t.Fatal("expected Clear to propagate to the wrapped cache")
	}
}
