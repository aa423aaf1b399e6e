// Package devmon emits a bare notification whenever local audio devices
// change. It listens for PulseAudio card signals over D-Bus and falls back
// to polling the ALSA card list when the bus is unavailable.
package devmon

import (
	"os"
	"sync"
	"time"

	"github.com/godbus/dbus/v5"
	"github.com/rs/zerolog"
)

const (
	pulseLookupName = "org.PulseAudio1"
	pulseLookupPath = "/org/pulseaudio/server_lookup1"
	pulseLookupProp = "org.PulseAudio.ServerLookup1.Address"
	pulseCorePath   = "/org/pulseaudio/core1"
	pulseCoreIface  = "org.PulseAudio.Core1"

	alsaCards    = "/proc/asound/cards"
	pollInterval = 2 * time.Second
)

type Monitor struct {
	log zerolog.Logger

	changes chan struct{}
	done    chan struct{}

	closeOnce sync.Once
}

func New(log zerolog.Logger) *Monitor {
	m := &Monitor{
		log:     log,
		changes: make(chan struct{}, 8),
		done:    make(chan struct{}),
	}
	go m.run()
	return m
}

func (m *Monitor) Changes() <-chan struct{} {
	return m.changes
}

func (m *Monitor) Close() {
	m.closeOnce.Do(func() {
		close(m.done)
	})
}

func (m *Monitor) run() {
	defer close(m.changes)

	if err := m.watchPulse(); err != nil {
		m.log.Debug().Err(err).Msg("pulseaudio bus unavailable, polling card list")
		m.pollCards()
	}
}

// watchPulse subscribes to card add/remove signals on PulseAudio's
// peer-to-peer bus, discovered through the session bus lookup object.
func (m *Monitor) watchPulse() error {
	session, err := dbus.SessionBus()
	if err != nil {
		return err
	}

	lookup := session.Object(pulseLookupName, dbus.ObjectPath(pulseLookupPath))
	variant, err := lookup.GetProperty(pulseLookupProp)
	if err != nil {
		return err
	}
	address, ok := variant.Value().(string)
	if !ok || address == "" {
		return dbus.ErrMsgNoObject
	}

	conn, err := dbus.Dial(address)
	if err != nil {
		return err
	}
	if err := conn.Auth(nil); err != nil {
		_ = conn.Close()
		return err
	}
	defer conn.Close()

	core := conn.Object("", dbus.ObjectPath(pulseCorePath))
	for _, signal := range []string{"NewCard", "CardRemoved"} {
		if call := core.Call(pulseCoreIface+".ListenForSignal", 0,
			pulseCoreIface+"."+signal, []dbus.ObjectPath{}); call.Err != nil {
			return call.Err
		}
	}

	signals := make(chan *dbus.Signal, 8)
	conn.Signal(signals)

	for {
		select {
		case <-m.done:
			return nil
		case sig, ok := <-signals:
			if !ok {
				return nil
			}
			if sig.Name == pulseCoreIface+".NewCard" || sig.Name == pulseCoreIface+".CardRemoved" {
				m.emit()
			}
		}
	}
}

// pollCards compares the ALSA card list between ticks and emits on any
// difference.
func (m *Monitor) pollCards() {
	last := readCards()
	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case <-m.done:
			return
		case <-ticker.C:
			current := readCards()
			if current != last {
				last = current
				m.emit()
			}
		}
	}
}

func (m *Monitor) emit() {
	select {
	case m.changes <- struct{}{}:
	default:
		// A notification is already pending; the debounced consumer only
		// cares that something changed.
	}
}

func readCards() string {
	data, err := os.ReadFile(alsaCards)
	if err != nil {
		return ""
	}
	return string(data)
}
