package race

import (
	"context"
	"net"
	"testing"
	"time"
)

// refusedEndpoint returns an Endpoint pointing at a TCP port nothing is
// listening on, by binding and immediately closing a listener so the OS
// reliably refuses the next connect to that port.
func refusedEndpoint(t *testing.T) Endpoint {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := ln.Addr().(*net.TCPAddr)
	ln.Close()
	return Endpoint{Network: "tcp4", Addr: addr}
}

func listeningEndpoint(t *testing.T) (Endpoint, net.Listener) {
	t.Helper()
	ln, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	go func() {
		for {
			conn, err := ln.Accept()
			if err != nil {
				return
			}
			conn.Close()
		}
	}()
	return Endpoint{Network: "tcp4", Addr: ln.Addr().(*net.TCPAddr)}, ln
}

func TestRaceSingleEndpointWins(t *testing.T) {
	ep, ln := listeningEndpoint(t)
	defer ln.Close()

	conn, winner, err := Race(context.Background(), []Endpoint{ep}, time.Second, nil, Options{})
	if err != nil {
		t.Fatalf("Race: %v", err)
	}
	defer conn.Close()
	if winner.Addr.Port != ep.Addr.Port {
		t.Fatalf("winner = %v, want %v", winner, ep)
	}
}

func TestRaceAllAttemptsFail(t *testing.T) {
	e1 := refusedEndpoint(t)
	e2 := refusedEndpoint(t)

	start := time.Now()
	conn, _, err := Race(context.Background(), []Endpoint{e1, e2}, 2*time.Second, nil, Options{Stagger: 50 * time.Millisecond})
	elapsed := time.Since(start)
	if err == nil {
		conn.Close()
		t.Fatal("expected failure, got a connection")
	}
	if IsTimeout(err) {
		t.Fatalf("expected an attempt failure, not a timeout: %v", err)
	}
	// e1 refuses immediately, but a new attempt only starts on the stagger
	// tick (an attempt failure never starts the next one early), so e2
	// isn't even tried until one stagger interval has passed.
	if elapsed < 50*time.Millisecond {
		t.Fatalf("all-refused race took %v, expected it to wait for the stagger tick before trying e2", elapsed)
	}
	if elapsed > time.Second {
		t.Fatalf("all-refused race took %v, expected it to finish shortly after the stagger tick", elapsed)
	}
}

func TestRaceFallsBackAfterStagger(t *testing.T) {
	bad := refusedEndpoint(t)
	good, ln := listeningEndpoint(t)
	defer ln.Close()

	start := time.Now()
	conn, winner, err := Race(context.Background(), []Endpoint{bad, good}, 2*time.Second, nil, Options{Stagger: 50 * time.Millisecond})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Race: %v", err)
	}
	defer conn.Close()
	if winner.Addr.Port != good.Addr.Port {
		t.Fatalf("winner = %v, want %v", winner, good)
	}
	// The second attempt only starts on the stagger tick, since the first
	// attempt's failure alone does not trigger it early.
	if elapsed < 50*time.Millisecond {
		t.Fatalf("race won in %v, expected it to wait for the stagger tick", elapsed)
	}
}

func TestRaceSingleEndpointNoStagger(t *testing.T) {
	ep, ln := listeningEndpoint(t)
	defer ln.Close()

	start := time.Now()
	conn, _, err := Race(context.Background(), []Endpoint{ep}, time.Second, nil, Options{Stagger: time.Hour})
	elapsed := time.Since(start)
	if err != nil {
		t.Fatalf("Race: %v", err)
	}
	conn.Close()
	// A single endpoint must not wait for the (here absurdly long) stagger
	// delay; it degenerates to one attempt bounded only by the connect
	// itself.
	if elapsed > 5*time.Second {
		t.Fatalf("single-endpoint race took %v, stagger should not apply", elapsed)
	}
}

func TestRaceZeroTimeoutIsOnePollingPass(t *testing.T) {
	ep, ln := listeningEndpoint(t)
	defer ln.Close()

	start := time.Now()
	conn, _, err := Race(context.Background(), []Endpoint{ep}, 0, nil, Options{})
	elapsed := time.Since(start)
	if elapsed > time.Second {
		t.Fatalf("timeout=0 race took %v, should return almost immediately", elapsed)
	}
	if err == nil {
		conn.Close()
	}
}

func TestRaceOverallTimeout(t *testing.T) {
	bad1 := refusedEndpoint(t)
	bad2 := refusedEndpoint(t)

	start := time.Now()
	_, _, err := Race(context.Background(), []Endpoint{bad1, bad2}, 10*time.Millisecond, nil, Options{Stagger: time.Hour})
	elapsed := time.Since(start)
	if err == nil {
		t.Fatal("expected an error")
	}
	if elapsed > 500*time.Millisecond {
		t.Fatalf("race took %v, expected it to respect the 10ms deadline", elapsed)
	}
}

func TestRaceNoSocketLeakOnWin(t *testing.T) {
	loserLn, err := net.Listen("tcp4", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer loserLn.Close()
	accepted := make(chan net.Conn, 1)
	go func() {
		conn, err := loserLn.Accept()
		if err == nil {
			accepted <- conn
		}
	}()

	winnerEp, winnerLn := listeningEndpoint(t)
	defer winnerLn.Close()
	loserEp := Endpoint{Network: "tcp4", Addr: loserLn.Addr().(*net.TCPAddr)}

	// Both endpoints accept connections, so the one listed first wins: its
	// loopback connect completes well before the 5ms stagger tick. The
	// second attempt is normally never started; if it was, the engine must
	// have closed its socket before returning.
	conn, winner, err := Race(context.Background(), []Endpoint{winnerEp, loserEp}, 2*time.Second, nil, Options{Stagger: 5 * time.Millisecond})
	if err != nil {
		t.Fatalf("Race: %v", err)
	}
	defer conn.Close()
	if winner.Addr.Port != winnerEp.Addr.Port {
		t.Fatalf("expected the listening endpoint to win, got %v", winner)
	}

	select {
	case loserConn := <-accepted:
		defer loserConn.Close()
		buf := make([]byte, 1)
		loserConn.SetReadDeadline(time.Now().Add(time.Second))
		if _, err := loserConn.Read(buf); err == nil {
			t.Fatal("expected the loser connection to be closed by the engine")
		}
	case <-time.After(time.Second):
		// The loser attempt was never started, or was abandoned before
		// the kernel completed the handshake: nothing to assert here
		// beyond Race returning the winner above.
	}
}

func TestRaceContextCanceled(t *testing.T) {
	ep, ln := listeningEndpoint(t)
	defer ln.Close()

	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, _, err := Race(ctx, []Endpoint{ep}, time.Second, nil, Options{})
	if err == nil {
		t.Fatal("expected an error from an already-canceled context")
	}
}
