// Package netmon reports network reachability by periodically dialing a
// probe address. It exposes a synchronous current state plus an
// edge-triggered online/offline change stream.
package netmon

import (
	"net"
	"sync"
	"time"

	"github.com/rs/zerolog"
)

// Config controls probing.
type Config struct {
	ProbeAddr    string
	Interval     time.Duration
	ProbeTimeout time.Duration
}

type Monitor struct {
	cfg   Config
	log   zerolog.Logger
	probe func() bool

	mu     sync.Mutex
	online bool

	changes chan bool
	done    chan struct{}

	closeOnce sync.Once
}

func New(cfg Config, log zerolog.Logger) *Monitor {
	if cfg.ProbeAddr == "" {
		cfg.ProbeAddr = "1.1.1.1:443"
	}
	if cfg.Interval <= 0 {
		cfg.Interval = 3 * time.Second
	}
	if cfg.ProbeTimeout <= 0 {
		cfg.ProbeTimeout = 2 * time.Second
	}

	m := &Monitor{
		cfg:     cfg,
		log:     log,
		changes: make(chan bool, 16),
		done:    make(chan struct{}),
	}
	m.probe = m.dialProbe

	m.online = m.probe()
	go m.loop()
	return m
}

// Online answers synchronously with the last observed state.
func (m *Monitor) Online() bool {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.online
}

// Changes delivers reachability transitions. The channel closes on Close.
func (m *Monitor) Changes() <-chan bool {
	return m.changes
}

func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

func (m *Monitor) loop() {
	defer close(m.changes)

	ticker := time.NewTicker(m.cfg.Interval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			online := m.probe()

			m.mu.Lock()
			changed := online != m.online
			m.online = online
			m.mu.Unlock()

			if !changed {
				continue
			}
			m.log.Info().Bool("online", online).Msg("network reachability changed")
			select {
			case m.changes <- online:
			case <-m.done:
				return
			}
		}
	}
}

func (m *Monitor) dialProbe() bool {
	conn, err := net.DialTimeout("tcp", m.cfg.ProbeAddr, m.cfg.ProbeTimeout)
	if err != nil {
		return false
	}
	_ = conn.Close()
	return true
}
