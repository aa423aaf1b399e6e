package netmon

import (
	"net"
	"testing"
	"time"

	"github.com/rs/zerolog"
)

func testMonitor(t *testing.T, addr string) *Monitor {
	t.Helper()
	m := New(Config{
		ProbeAddr:    addr,
		Interval:     10 * time.Millisecond,
		ProbeTimeout: 250 * time.Millisecond,
	}, zerolog.Nop())
	t.Cleanup(m.Close)
	return m
}

func awaitChange(t *testing.T, m *Monitor, want bool) {
	t.Helper()
	select {
	case got, open := <-m.Changes():
		if !open {
			t.Fatalf("changes channel closed while waiting for %v", want)
		}
		if got != want {
			t.Fatalf("unexpected transition: got %v, want %v", got, want)
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("no transition to %v", want)
	}
}

func TestMonitorDetectsOutage(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}

	m := testMonitor(t, listener.Addr().String())
	if !m.Online() {
		t.Fatalf("expected initial probe against live listener to report online")
	}

	listener.Close()
	awaitChange(t, m, false)
	if m.Online() {
		t.Fatalf("expected offline after listener closed")
	}
}

func TestMonitorDetectsRecovery(t *testing.T) {
	t.Parallel()

	// Reserve an address, then free it so the monitor starts offline.
	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	addr := listener.Addr().String()
	listener.Close()

	m := testMonitor(t, addr)
	if m.Online() {
		t.Fatalf("expected initial probe against dead address to report offline")
	}

	listener, err = net.Listen("tcp", addr)
	if err != nil {
		t.Fatalf("relisten: %v", err)
	}
	defer listener.Close()

	awaitChange(t, m, true)
	if !m.Online() {
		t.Fatalf("expected online after listener returned")
	}
}

func TestMonitorCloseEndsChangeStream(t *testing.T) {
	t.Parallel()

	listener, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		t.Fatalf("listen: %v", err)
	}
	defer listener.Close()

	m := testMonitor(t, listener.Addr().String())
	m.Close()
	m.Close()

	select {
	case _, open := <-m.Changes():
		if open {
			t.Fatalf("expected closed channel after Close")
		}
	case <-time.After(5 * time.Second):
		t.Fatalf("changes channel never closed")
	}
}
