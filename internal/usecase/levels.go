package usecase

import (
	"time"

	"hotline/internal/domain"
)

// waveformSamples bounds the per-side waveform ring the UI renders.
const waveformSamples = 64

// sampleLevels polls instantaneous audio levels for one connection and
// feeds them into the state machine. It stops when the connection's context
// is cancelled at teardown.
func (m *ConnectionManager) sampleLevels(c *activeConn) {
	defer close(c.levelsDone)

	ticker := time.NewTicker(m.cfg.LevelInterval)
	defer ticker.Stop()

	for {
		select {
		case <-c.ctx.Done():
			return
		case <-ticker.C:
			local, remote := c.session.Levels()
			m.onLevels(c.gen, local, remote)
		}
	}
}

func (m *ConnectionManager) onLevels(gen int, local, remote float64) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen {
		return
	}

	switch m.state.Status {
	case domain.StatusIdle, domain.StatusUserSpeaking, domain.StatusAgentSpeaking, domain.StatusProcessing:
	default:
		// Muted and transitional overlays keep sampling underneath, but
		// neither levels nor level-driven statuses surface while one holds.
		return
	}

	m.state.UserLevel = local
	m.state.AgentLevel = remote
	m.state.UserWaveform = appendSample(m.state.UserWaveform, local)
	m.state.AgentWaveform = appendSample(m.state.AgentWaveform, remote)

	threshold := m.cfg.LevelThreshold
	switch {
	case remote > threshold:
		// Agent wins ties so the UI never shows both sides speaking.
		m.stopSettleLocked()
		m.state.Status = domain.StatusAgentSpeaking
	case local > threshold:
		m.stopSettleLocked()
		m.state.Status = domain.StatusUserSpeaking
	default:
		if m.state.Status == domain.StatusUserSpeaking || m.state.Status == domain.StatusAgentSpeaking {
			m.state.Status = domain.StatusProcessing
			m.startSettleLocked(gen)
		}
	}
	m.publishLocked()
}

func (m *ConnectionManager) startSettleLocked(gen int) {
	if m.settleTimer != nil {
		m.settleTimer.Stop()
	}
	m.settleTimer = time.AfterFunc(m.cfg.SettleDelay, func() {
		m.settleFired(gen)
	})
}

func (m *ConnectionManager) stopSettleLocked() {
	if m.settleTimer != nil {
		m.settleTimer.Stop()
		m.settleTimer = nil
	}
}

// settleFired returns to idle after both sides have stayed quiet for the
// settle delay, avoiding status flicker between utterances.
func (m *ConnectionManager) settleFired(gen int) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if gen != m.gen || m.state.Status != domain.StatusProcessing {
		return
	}
	m.state.Status = domain.StatusIdle
	m.publishLocked()
}

// appendSample never mutates the previous slice: snapshots already handed to
// observers must stay stable.
func appendSample(samples []float64, v float64) []float64 {
	out := make([]float64, 0, waveformSamples)
	if len(samples) >= waveformSamples {
		out = append(out, samples[len(samples)-waveformSamples+1:]...)
	} else {
		out = append(out, samples...)
	}
	return append(out, v)
}
