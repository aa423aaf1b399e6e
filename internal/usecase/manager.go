package usecase

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/rs/zerolog"

	"hotline/internal/domain"
	"hotline/internal/ports"
)

var ErrAlreadyConnected = errors.New("a room connection is already active")

const connectTimeout = 15 * time.Second

// Config controls connection lifecycle behavior.
type Config struct {
	TranscriptLimit int
	MaxReconnects   int
	BackoffBase     time.Duration
	LevelThreshold  float64
	LevelInterval   time.Duration
	SettleDelay     time.Duration
	DeviceDebounce  time.Duration
	SubtitleClear   time.Duration
}

func (c *Config) applyDefaults() {
	if c.TranscriptLimit <= 0 {
		c.TranscriptLimit = 200
	}
	if c.MaxReconnects <= 0 {
		c.MaxReconnects = 5
	}
	if c.BackoffBase <= 0 {
		c.BackoffBase = time.Second
	}
	if c.LevelThreshold <= 0 {
		c.LevelThreshold = 0.05
	}
	if c.LevelInterval <= 0 {
		c.LevelInterval = 100 * time.Millisecond
	}
	if c.SettleDelay <= 0 {
		c.SettleDelay = 500 * time.Millisecond
	}
	if c.DeviceDebounce <= 0 {
		c.DeviceDebounce = time.Second
	}
	if c.SubtitleClear <= 0 {
		c.SubtitleClear = 3 * time.Second
	}
}

// ConnectionManager is the single owner of the session state. It subscribes
// to transport events, reassembles chunked data events, merges transcript
// streams, and drives reconnection. All mutation happens under its mutex;
// sub-components never hold their own copy of the state.
type ConnectionManager struct {
	transport ports.RoomTransport
	network   ports.NetworkMonitor
	devices   ports.DeviceMonitor
	sink      ports.StateSink
	log       zerolog.Logger
	cfg       Config

	mu       sync.Mutex
	gen      int
	state    domain.SessionState
	creds    domain.Credentials
	hasCreds bool
	muted    bool
	conn     *activeConn
	policy   reconnectPolicy
	chunks   *chunkAssembler
	merger   *transcriptMerger

	restoreWait  bool
	backoffTimer *time.Timer
	settleTimer  *time.Timer
	clearTimers  map[domain.Role]*time.Timer
	closed       bool
}

func NewConnectionManager(
	transport ports.RoomTransport,
	network ports.NetworkMonitor,
	devices ports.DeviceMonitor,
	sink ports.StateSink,
	log zerolog.Logger,
	cfg Config,
) *ConnectionManager {
	cfg.applyDefaults()
	m := &ConnectionManager{
		transport:   transport,
		network:     network,
		devices:     devices,
		sink:        sink,
		log:         log,
		cfg:         cfg,
		policy:      newReconnectPolicy(cfg.MaxReconnects, cfg.BackoffBase),
		chunks:      newChunkAssembler(),
		merger:      newTranscriptMerger(cfg.TranscriptLimit),
		clearTimers: make(map[domain.Role]*time.Timer),
		state:       domain.SessionState{Status: domain.StatusIdle},
	}
	go m.watchNetwork()
	go m.watchDevices()
	return m
}

// Connect joins a room and starts the session pumps. Fails before dialing if
// microphone permission is denied.
func (m *ConnectionManager) Connect(ctx context.Context, url, token string) error {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return errors.New("connection manager is closed")
	}
	if m.conn != nil || m.state.Status == domain.StatusConnecting || m.policy.inProgress {
		m.mu.Unlock()
		return ErrAlreadyConnected
	}
	m.creds = domain.Credentials{URL: url, Token: token}
	m.hasCreds = true
	m.policy.reset()
	m.state.ReconnectAttempt = 0
	m.state.ErrorCode = ""
	m.state.ErrorMessage = ""
	m.state.Status = domain.StatusConnecting
	m.publishLocked()
	creds := m.creds
	gen := m.gen
	m.mu.Unlock()

	session, err := m.transport.Connect(ctx, creds)

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed {
		if session != nil {
			_ = session.Close()
		}
		return err
	}
	if err != nil {
		code := domain.ErrorCodeConnect
		message := "Could not connect to the room"
		if errors.Is(err, domain.ErrMicrophonePermission) {
			code = domain.ErrorCodePermission
			message = "Microphone access is required"
		}
		m.log.Error().Err(err).Msg("connect failed")
		m.failLocked(code, message)
		return err
	}
	m.attachLocked(session)
	return nil
}

// Disconnect tears the connection down, preserving transcript history and
// cached credentials for a later reconnect.
func (m *ConnectionManager) Disconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(false)
	m.policy.reset()
	m.state.ReconnectAttempt = 0
	m.state.ErrorCode = ""
	m.state.ErrorMessage = ""
	m.state.Status = domain.StatusIdle
	m.publishLocked()
}

// Reset is a cold disconnect: transcript history, artifacts, credentials and
// the mute flag are cleared too.
func (m *ConnectionManager) Reset() {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.teardownLocked(true)
	m.state.ReconnectAttempt = 0
	m.state.ErrorCode = ""
	m.state.ErrorMessage = ""
	m.state.Status = domain.StatusIdle
	m.publishLocked()
}

// ToggleMute flips the mute overlay and returns the new value. The overlay
// survives reconnects; level sampling keeps running underneath it.
func (m *ConnectionManager) ToggleMute() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.muted = !m.muted
	if m.conn != nil {
		if err := m.conn.session.SetMuted(m.muted); err != nil {
			m.log.Warn().Err(err).Msg("failed to update transport mute flag")
		}
		if m.muted {
			m.state.Status = domain.StatusMuted
		} else {
			m.state.Status = domain.StatusIdle
		}
		m.publishLocked()
	}
	return m.muted
}

// TryReconnect is the manual retry affordance: it resets the attempt budget
// and re-enters the reconnection policy. A cycle already in progress, or an
// active connection, makes it a no-op.
func (m *ConnectionManager) TryReconnect() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn != nil || !m.hasCreds || m.policy.inProgress ||
		m.state.Status == domain.StatusConnecting {
		return
	}
	m.policy.reset()
	m.state.ErrorCode = ""
	m.state.ErrorMessage = ""
	m.state.Status = domain.StatusReconnecting
	m.publishLocked()
	m.startReconnectLocked()
}

// Resume re-enters the reconnection policy when the app returns to the
// foreground after a terminal error.
func (m *ConnectionManager) Resume() {
	m.TryReconnect()
}

// State returns the current immutable snapshot.
func (m *ConnectionManager) State() domain.SessionState {
	m.mu.Lock()
	defer m.mu.Unlock()
	state := m.state
	state.Transcript = m.merger.History()
	return state
}

// Close shuts the manager down and releases the monitors.
func (m *ConnectionManager) Close() {
	m.mu.Lock()
	if m.closed {
		m.mu.Unlock()
		return
	}
	m.closed = true
	m.teardownLocked(false)
	m.mu.Unlock()

	m.network.Close()
	m.devices.Close()
}

func (m *ConnectionManager) attachLocked(session ports.RoomSession) {
	ctx, cancel := context.WithCancel(context.Background())
	c := &activeConn{
		session:    session,
		ctx:        ctx,
		cancel:     cancel,
		gen:        m.gen,
		pumpDone:   make(chan struct{}),
		levelsDone: make(chan struct{}),
	}
	m.conn = c

	if m.muted {
		if err := session.SetMuted(true); err != nil {
			m.log.Warn().Err(err).Msg("failed to restore mute flag")
		}
		m.state.Status = domain.StatusMuted
	} else {
		m.state.Status = domain.StatusIdle
	}
	m.state.ReconnectAttempt = 0
	m.state.ErrorCode = ""
	m.state.ErrorMessage = ""

	go m.pump(c)
	go m.sampleLevels(c)
	m.publishLocked()
}

// pump consumes transport events for one connection strictly in arrival
// order.
func (m *ConnectionManager) pump(c *activeConn) {
	defer close(c.pumpDone)

	local := c.session.LocalIdentity()
	for ev := range c.session.Events() {
		switch ev.Type {
		case ports.RoomEventData:
			m.onData(c.gen, ev.Topic, ev.Payload)
		case ports.RoomEventTextStream:
			go m.consumeTextStream(c.gen, local, ev.Stream)
		case ports.RoomEventParticipantJoined:
			m.log.Debug().Str("identity", ev.Identity).Msg("participant joined")
		case ports.RoomEventParticipantLeft:
			m.log.Debug().Str("identity", ev.Identity).Msg("participant left")
		case ports.RoomEventDisconnected:
			m.onDisconnected(c.gen, ev.Reason)
			return
		}
	}
}

func (m *ConnectionManager) onData(gen int, topic string, payload []byte) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || topic != ports.DataTopicEvents {
		return
	}
	ev, err := domain.ParseDataEvent(payload)
	if err != nil {
		m.log.Warn().Err(err).Msg("dropping malformed data event")
		return
	}
	m.applyDataEventLocked(ev, false)
}

func (m *ConnectionManager) applyDataEventLocked(ev domain.DataEvent, fromChunk bool) {
	switch ev := ev.(type) {
	case domain.StatusEvent:
		status := ev
		m.state.CurrentStatusEvent = &status
		m.publishLocked()
	case domain.Artifact:
		artifacts := make([]domain.Artifact, 0, len(m.state.Artifacts)+1)
		artifacts = append(artifacts, m.state.Artifacts...)
		m.state.Artifacts = append(artifacts, ev)
		m.publishLocked()
	case domain.ChunkEnvelope:
		if fromChunk {
			m.log.Warn().Str("transfer", ev.TransferID).Msg("dropping nested chunk envelope")
			return
		}
		payload, done, err := m.chunks.Add(ev)
		if err != nil {
			m.log.Warn().Err(err).Msg("dropping chunk")
			return
		}
		if !done {
			return
		}
		inner, err := domain.ParseDataEvent(payload)
		if err != nil {
			m.log.Warn().Err(err).Str("transfer", ev.TransferID).Msg("dropping malformed reassembled payload")
			return
		}
		m.applyDataEventLocked(inner, true)
	}
}

// consumeTextStream drains one per-segment transcription stream. The local
// participant's stream delivers full-replacement updates; remote streams
// deliver deltas.
func (m *ConnectionManager) consumeTextStream(gen int, localIdentity string, stream ports.TextStream) {
	role := domain.RoleAgent
	replace := false
	if stream.ParticipantIdentity() == localIdentity {
		role = domain.RoleUser
		replace = true
	}

	id := stream.SegmentID()
	for chunk := range stream.Chunks() {
		m.onTranscriptChunk(gen, id, role, string(chunk), replace)
	}
	final := stream.Attributes()[ports.AttrTranscriptionFinal] == "true"
	m.onTranscriptDone(gen, id, final)
}

func (m *ConnectionManager) onTranscriptChunk(gen int, id string, role domain.Role, text string, replace bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	entry := m.merger.Apply(id, role, text, replace, time.Now())
	if t := m.clearTimers[entry.Role]; t != nil {
		t.Stop()
		delete(m.clearTimers, entry.Role)
	}
	m.setCurrentSegmentLocked(entry.Role, &entry)
	m.publishLocked()
}

func (m *ConnectionManager) onTranscriptDone(gen int, id string, final bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	if !final {
		// More chunks for this segment will arrive on a later stream; keep
		// the accumulator.
		return
	}
	entry, ok := m.merger.Finalize(id, time.Now())
	if !ok {
		return
	}
	m.setCurrentSegmentLocked(entry.Role, &entry)
	m.publishLocked()

	role := entry.Role
	if t := m.clearTimers[role]; t != nil {
		t.Stop()
	}
	m.clearTimers[role] = time.AfterFunc(m.cfg.SubtitleClear, func() {
		m.clearCurrentSegment(gen, role, id)
	})
}

// clearCurrentSegment drops the live subtitle pointer once a finalized
// segment has been displayed for long enough, unless a newer segment for the
// role already started. History entries are never auto-cleared.
func (m *ConnectionManager) clearCurrentSegment(gen int, role domain.Role, id string) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || !m.merger.IsLatest(role, id) {
		return
	}
	m.setCurrentSegmentLocked(role, nil)
	m.publishLocked()
}

func (m *ConnectionManager) setCurrentSegmentLocked(role domain.Role, entry *domain.TranscriptEntry) {
	if role == domain.RoleUser {
		m.state.CurrentUserSegment = entry
	} else {
		m.state.CurrentAgentSegment = entry
	}
}

func (m *ConnectionManager) onDisconnected(gen int, reason domain.DisconnectReason) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}
	m.log.Info().Str("reason", string(reason)).Msg("room disconnected")
	m.teardownLocked(false)
	if reason.Recoverable() {
		m.state.Status = domain.StatusReconnecting
		m.publishLocked()
		m.startReconnectLocked()
		return
	}
	m.failLocked(domain.ErrorCodeConnect, reason.Message())
}

// teardownLocked synchronously releases everything the previous connection
// owned. Transcript history and cached credentials survive unless cold.
func (m *ConnectionManager) teardownLocked(cold bool) {
	m.gen++

	if m.backoffTimer != nil {
		m.backoffTimer.Stop()
		m.backoffTimer = nil
	}
	m.stopSettleLocked()
	for role, t := range m.clearTimers {
		t.Stop()
		delete(m.clearTimers, role)
	}

	if m.conn != nil {
		c := m.conn
		m.conn = nil
		c.cancel()
		_ = c.session.Close()
	}

	m.chunks.Reset()
	m.merger.ForceFinalize(time.Now())

	m.state.CurrentStatusEvent = nil
	m.state.CurrentUserSegment = nil
	m.state.CurrentAgentSegment = nil
	m.state.UserLevel = 0
	m.state.AgentLevel = 0
	m.state.UserWaveform = nil
	m.state.AgentWaveform = nil
	m.restoreWait = false

	if cold {
		m.merger = newTranscriptMerger(m.cfg.TranscriptLimit)
		m.state.Artifacts = nil
		m.creds = domain.Credentials{}
		m.hasCreds = false
		m.muted = false
		m.policy.reset()
	}
}

func (m *ConnectionManager) failLocked(code domain.ErrorCode, message string) {
	m.state.Status = domain.StatusError
	m.state.ErrorCode = code
	m.state.ErrorMessage = message
	m.publishLocked()
}

// publishLocked replaces the observable snapshot wholesale. The sink must
// not call back into the manager.
func (m *ConnectionManager) publishLocked() {
	m.state.Transcript = m.merger.History()
	m.sink.StateChanged(m.state)
}
