package usecase

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"hotline/internal/domain"
	"hotline/internal/ports"
)

type connectResult struct {
	session *fakeSession
	err     error

	// wait, when set, holds the dial open until the channel closes.
	wait chan struct{}
}

type fakeTransport struct {
	mu      sync.Mutex
	results []connectResult
	calls   int
	creds   []domain.Credentials
}

func (f *fakeTransport) Connect(_ context.Context, creds domain.Credentials) (ports.RoomSession, error) {
	f.mu.Lock()
	f.creds = append(f.creds, creds)
	result := connectResult{err: errors.New("no session configured")}
	if f.calls < len(f.results) {
		result = f.results[f.calls]
	}
	f.calls++
	f.mu.Unlock()

	if result.wait != nil {
		<-result.wait
	}
	if result.err != nil {
		return nil, result.err
	}
	return result.session, nil
}

func (f *fakeTransport) connectCalls() int {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.calls
}

type fakeSession struct {
	mu       sync.Mutex
	events   chan ports.RoomEvent
	local    float64
	remote   float64
	identity string
	muted    []bool
	closed   bool
}

func newFakeSession() *fakeSession {
	return &fakeSession{
		events:   make(chan ports.RoomEvent, 16),
		identity: "local-user",
	}
}

func (f *fakeSession) Events() <-chan ports.RoomEvent { return f.events }

func (f *fakeSession) Levels() (float64, float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.local, f.remote
}

func (f *fakeSession) setLevels(local, remote float64) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.local = local
	f.remote = remote
}

func (f *fakeSession) SetMuted(muted bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.muted = append(f.muted, muted)
	return nil
}

func (f *fakeSession) lastMuted() (bool, bool) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if len(f.muted) == 0 {
		return false, false
	}
	return f.muted[len(f.muted)-1], true
}

func (f *fakeSession) LocalIdentity() string { return f.identity }

func (f *fakeSession) Close() error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.events)
	}
	return nil
}

func (f *fakeSession) disconnect(reason domain.DisconnectReason) {
	f.events <- ports.RoomEvent{Type: ports.RoomEventDisconnected, Reason: reason}
}

type fakeStream struct {
	id       string
	identity string

	mu    sync.Mutex
	attrs map[string]string

	chunks chan []byte
	closed bool
}

func newFakeStream(id, identity string) *fakeStream {
	return &fakeStream{
		id:       id,
		identity: identity,
		attrs:    map[string]string{},
		chunks:   make(chan []byte, 16),
	}
}

func (f *fakeStream) SegmentID() string           { return f.id }
func (f *fakeStream) ParticipantIdentity() string { return f.identity }

func (f *fakeStream) Attributes() map[string]string {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make(map[string]string, len(f.attrs))
	for k, v := range f.attrs {
		out[k] = v
	}
	return out
}

func (f *fakeStream) Chunks() <-chan []byte { return f.chunks }

func (f *fakeStream) push(text string) {
	f.chunks <- []byte(text)
}

func (f *fakeStream) finish(final bool) {
	f.mu.Lock()
	if final {
		f.attrs[ports.AttrTranscriptionFinal] = "true"
	}
	if !f.closed {
		f.closed = true
		close(f.chunks)
	}
	f.mu.Unlock()
}

type fakeNetwork struct {
	mu      sync.Mutex
	online  bool
	changes chan bool
	closed  bool
}

func newFakeNetwork(online bool) *fakeNetwork {
	return &fakeNetwork{online: online, changes: make(chan bool, 16)}
}

func (f *fakeNetwork) Online() bool {
	f.mu.Lock()
	defer f.mu.Unlock()
	return f.online
}

func (f *fakeNetwork) Changes() <-chan bool { return f.changes }

func (f *fakeNetwork) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.changes)
	}
}

func (f *fakeNetwork) setOnline(online bool) {
	f.mu.Lock()
	f.online = online
	f.mu.Unlock()
	f.changes <- online
}

type fakeDevices struct {
	mu      sync.Mutex
	changes chan struct{}
	closed  bool
}

func newFakeDevices() *fakeDevices {
	return &fakeDevices{changes: make(chan struct{}, 16)}
}

func (f *fakeDevices) Changes() <-chan struct{} { return f.changes }

func (f *fakeDevices) Close() {
	f.mu.Lock()
	defer f.mu.Unlock()
	if !f.closed {
		f.closed = true
		close(f.changes)
	}
}

func (f *fakeDevices) fire() {
	f.changes <- struct{}{}
}

type fakeSink struct {
	mu     sync.Mutex
	states []domain.SessionState
}

func (f *fakeSink) StateChanged(state domain.SessionState) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.states = append(f.states, state)
}

func (f *fakeSink) snapshot() []domain.SessionState {
	f.mu.Lock()
	defer f.mu.Unlock()
	out := make([]domain.SessionState, len(f.states))
	copy(out, f.states)
	return out
}

func (f *fakeSink) sawStatus(status domain.ConnectionStatus) bool {
	for _, state := range f.snapshot() {
		if state.Status == status {
			return true
		}
	}
	return false
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(2 * time.Millisecond)
	}
	t.Fatalf("condition not met within %v", timeout)
}
