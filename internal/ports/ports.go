package ports

import (
	"context"

	"hotline/internal/domain"
)

// RoomEventType tags transport lifecycle events delivered by a RoomSession.
type RoomEventType int

const (
	RoomEventDisconnected RoomEventType = iota
	RoomEventParticipantJoined
	RoomEventParticipantLeft
	RoomEventData
	RoomEventTextStream
)

// RoomEvent is one transport-level event. Events for a single session are
// delivered in the order the transport produced them.
type RoomEvent struct {
	Type     RoomEventType
	Reason   domain.DisconnectReason // RoomEventDisconnected
	Identity string                  // participant events
	Topic    string                  // RoomEventData
	Payload  []byte                  // RoomEventData
	Stream   TextStream              // RoomEventTextStream
}

// TextStream is one per-segment transcription stream. Chunks carry UTF-8
// text; the channel closes when the upstream segment completes, at which
// point Attributes carries the segment's finality metadata.
type TextStream interface {
	SegmentID() string
	ParticipantIdentity() string
	Attributes() map[string]string
	Chunks() <-chan []byte
}

// AttrTranscriptionFinal marks a completed text stream as the segment's
// final revision.
const AttrTranscriptionFinal = "transcription_final"

// DataTopicEvents is the single data-channel topic this client consumes.
const DataTopicEvents = "hotline.events"

// RoomSession is a live connection to an audio room.
type RoomSession interface {
	Events() <-chan RoomEvent
	Levels() (local float64, remote float64)
	SetMuted(muted bool) error
	LocalIdentity() string
	Close() error
}

// RoomTransport establishes room sessions.
type RoomTransport interface {
	Connect(ctx context.Context, creds domain.Credentials) (RoomSession, error)
}

// NetworkMonitor reports reachability. Changes delivers edge-triggered
// online/offline transitions; Online answers synchronously.
type NetworkMonitor interface {
	Online() bool
	Changes() <-chan bool
	Close()
}

// DeviceMonitor emits a bare notification whenever local audio I/O devices
// change.
type DeviceMonitor interface {
	Changes() <-chan struct{}
	Close()
}

// StateSink receives every session snapshot. Implementations must not call
// back into the connection manager.
type StateSink interface {
	StateChanged(state domain.SessionState)
}
