package usecase

import (
	"context"
	"fmt"
	"time"

	"github.com/bep/debounce"

	"hotline/internal/domain"
)

// reconnectPolicy tracks the retry budget and single-flight status shared by
// every reconnect trigger: transport disconnects, device swaps, manual
// retries, and foreground resumes all drive this one instance.
type reconnectPolicy struct {
	maxAttempts int
	base        time.Duration
	attempt     int
	inProgress  bool
}

func newReconnectPolicy(maxAttempts int, base time.Duration) reconnectPolicy {
	if maxAttempts <= 0 {
		maxAttempts = 5
	}
	if base <= 0 {
		base = time.Second
	}
	return reconnectPolicy{maxAttempts: maxAttempts, base: base}
}

// begin claims the single reconnect slot. A cycle already in progress is not
// re-entered.
func (p *reconnectPolicy) begin() bool {
	if p.inProgress {
		return false
	}
	p.inProgress = true
	return true
}

// next consumes one attempt and returns its backoff delay: base<<(attempt-1),
// so 1s, 2s, 4s, 8s, 16s at the default base. ok is false once the budget is
// exhausted.
func (p *reconnectPolicy) next() (delay time.Duration, ok bool) {
	if p.attempt >= p.maxAttempts {
		return 0, false
	}
	p.attempt++
	return p.base << (p.attempt - 1), true
}

func (p *reconnectPolicy) finish() {
	p.attempt = 0
	p.inProgress = false
}

func (p *reconnectPolicy) reset() {
	p.attempt = 0
	p.inProgress = false
}

// startReconnectLocked enters the reconnect cycle. While offline no timer is
// scheduled and no attempt is consumed; the network watcher fires the first
// attempt the moment reachability returns.
func (m *ConnectionManager) startReconnectLocked() {
	if !m.policy.begin() {
		return
	}
	if !m.network.Online() {
		m.restoreWait = true
		m.log.Info().Msg("offline, waiting for network restore before reconnecting")
		return
	}
	m.scheduleNextAttemptLocked()
}

func (m *ConnectionManager) scheduleNextAttemptLocked() {
	if !m.network.Online() {
		// Park instead of burning budget; the network watcher fires the
		// next attempt on restore.
		m.restoreWait = true
		return
	}
	delay, ok := m.policy.next()
	if !ok {
		m.exhaustedLocked()
		return
	}
	m.state.ReconnectAttempt = m.policy.attempt
	m.publishLocked()

	gen := m.gen
	if m.backoffTimer != nil {
		m.backoffTimer.Stop()
	}
	m.backoffTimer = time.AfterFunc(delay, func() {
		m.attemptReconnect(gen)
	})
}

func (m *ConnectionManager) attemptReconnect(gen int) {
	m.mu.Lock()
	if gen != m.gen || m.closed || m.conn != nil {
		m.mu.Unlock()
		return
	}
	if !m.network.Online() {
		// Went offline between scheduling and firing.
		m.restoreWait = true
		m.mu.Unlock()
		return
	}
	creds := m.creds
	m.mu.Unlock()

	ctx, cancel := context.WithTimeout(context.Background(), connectTimeout)
	session, err := m.transport.Connect(ctx, creds)
	cancel()

	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.closed || m.conn != nil {
		if session != nil {
			_ = session.Close()
		}
		return
	}
	if err != nil {
		m.log.Warn().Err(err).Int("attempt", m.policy.attempt).Msg("reconnect attempt failed")
		m.scheduleNextAttemptLocked()
		return
	}

	m.log.Info().Int("attempt", m.policy.attempt).Msg("reconnected")
	m.policy.finish()
	m.restoreWait = false
	m.attachLocked(session)
}

func (m *ConnectionManager) exhaustedLocked() {
	attempts := m.policy.maxAttempts
	m.policy.inProgress = false
	m.state.ReconnectAttempt = attempts
	m.failLocked(domain.ErrorCodeReconnect,
		fmt.Sprintf("Reconnect failed after %d attempts", attempts))
}

func (m *ConnectionManager) watchNetwork() {
	for online := range m.network.Changes() {
		m.onNetworkChange(online)
	}
}

func (m *ConnectionManager) onNetworkChange(online bool) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed {
		return
	}
	if !online {
		if m.policy.inProgress {
			// Abandon the backoff wait without consuming the attempt.
			if m.backoffTimer != nil {
				m.backoffTimer.Stop()
				m.backoffTimer = nil
			}
			m.restoreWait = true
		}
		return
	}
	if m.policy.inProgress && m.restoreWait {
		m.restoreWait = false
		if m.backoffTimer != nil {
			// A timer armed before the outage must not race the restore
			// attempt.
			m.backoffTimer.Stop()
			m.backoffTimer = nil
		}
		m.policy.attempt = 0
		if _, ok := m.policy.next(); !ok {
			m.exhaustedLocked()
			return
		}
		m.state.ReconnectAttempt = m.policy.attempt
		m.publishLocked()
		gen := m.gen
		go m.attemptReconnect(gen)
	}
}

// watchDevices collapses bursts of device-change notifications into one
// reconnect cycle. PulseAudio fires several notifications for one physical
// headset swap; only the last one within the window acts.
func (m *ConnectionManager) watchDevices() {
	bounce := debounce.New(m.cfg.DeviceDebounce)
	for range m.devices.Changes() {
		bounce(m.onDeviceChange)
	}
}

// onDeviceChange forces a teardown+reconnect cycle: the media pipeline can
// silently stop delivering frames after a device swap even though the
// transport still looks connected.
func (m *ConnectionManager) onDeviceChange() {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.closed || m.conn == nil || m.policy.inProgress {
		return
	}
	m.log.Info().Msg("audio device change detected, cycling connection")
	m.teardownLocked(false)
	m.state.Status = domain.StatusReconnecting
	m.publishLocked()
	m.startReconnectLocked()
}
