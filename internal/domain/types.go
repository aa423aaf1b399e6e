package domain

import (
	"errors"
	"time"
)

// ConnectionStatus models the room connection lifecycle. Exactly one status
// holds at a time; muted, reconnecting and error overlay the audio-driven
// statuses.
type ConnectionStatus string

const (
	StatusConnecting    ConnectionStatus = "connecting"
	StatusIdle          ConnectionStatus = "idle"
	StatusUserSpeaking  ConnectionStatus = "userSpeaking"
	StatusProcessing    ConnectionStatus = "processing"
	StatusAgentSpeaking ConnectionStatus = "aiSpeaking"
	StatusMuted         ConnectionStatus = "muted"
	StatusReconnecting  ConnectionStatus = "reconnecting"
	StatusError         ConnectionStatus = "error"
)

// Role identifies which side of the conversation produced a transcript.
type Role string

const (
	RoleUser  Role = "user"
	RoleAgent Role = "agent"
)

// TranscriptEntry is one segment of speech in the conversation history.
// Identity is the segment id: a later entry with the same id replaces the
// earlier one in place instead of appending.
type TranscriptEntry struct {
	ID        string    `json:"id"`
	Role      Role      `json:"role"`
	Text      string    `json:"text"`
	IsFinal   bool      `json:"isFinal"`
	Timestamp time.Time `json:"timestamp"`
}

// Credentials is what a fresh connect needs. Cached across reconnects.
type Credentials struct {
	URL   string `json:"url"`
	Token string `json:"-"`
}

// ErrorCode identifies user-visible failure categories.
type ErrorCode string

const (
	ErrorCodeStartup    ErrorCode = "startup"
	ErrorCodePermission ErrorCode = "permission"
	ErrorCodeConnect    ErrorCode = "connect"
	ErrorCodeReconnect  ErrorCode = "reconnect"
	ErrorCodeProtocol   ErrorCode = "protocol"
	ErrorCodeClipboard  ErrorCode = "clipboard"
)

// ErrMicrophonePermission is returned by the transport when microphone
// access is denied, before any connection is attempted.
var ErrMicrophonePermission = errors.New("microphone permission denied")

// SessionState is the single snapshot the UI observes. It is immutable:
// every mutation replaces the whole value, slices included, so the frontend
// can diff cheaply.
type SessionState struct {
	Status              ConnectionStatus  `json:"status"`
	UserLevel           float64           `json:"userLevel"`
	AgentLevel          float64           `json:"aiLevel"`
	Transcript          []TranscriptEntry `json:"transcript"`
	CurrentStatusEvent  *StatusEvent      `json:"currentStatusEvent,omitempty"`
	Artifacts           []Artifact        `json:"artifacts"`
	UserWaveform        []float64         `json:"userWaveform"`
	AgentWaveform       []float64         `json:"aiWaveform"`
	CurrentUserSegment  *TranscriptEntry  `json:"currentUserSegment,omitempty"`
	CurrentAgentSegment *TranscriptEntry  `json:"currentAgentSegment,omitempty"`
	ReconnectAttempt    int               `json:"reconnectAttempt,omitempty"`
	ErrorCode           ErrorCode         `json:"errorCode,omitempty"`
	ErrorMessage        string            `json:"errorMessage,omitempty"`
}

// DisconnectReason classifies why the transport dropped the connection.
type DisconnectReason string

const (
	ReasonNetworkLost       DisconnectReason = "network_lost"
	ReasonSignalingFailure  DisconnectReason = "signaling_failure"
	ReasonRetriesExhausted  DisconnectReason = "retries_exhausted"
	ReasonUnknown           DisconnectReason = "unknown"
	ReasonRemoved           DisconnectReason = "removed"
	ReasonRoomClosed        DisconnectReason = "room_closed"
	ReasonDuplicateIdentity DisconnectReason = "duplicate_identity"
	ReasonServerShutdown    DisconnectReason = "server_shutdown"
	ReasonJoinFailure       DisconnectReason = "join_failure"
	ReasonStateMismatch     DisconnectReason = "state_mismatch"
)

// Recoverable reports whether automatic reconnection should be attempted.
// Reasons outside the known non-recoverable set are treated like the generic
// unknown reason and retried.
func (r DisconnectReason) Recoverable() bool {
	switch r {
	case ReasonRemoved, ReasonRoomClosed, ReasonDuplicateIdentity,
		ReasonServerShutdown, ReasonJoinFailure, ReasonStateMismatch:
		return false
	default:
		return true
	}
}

// Message is the user-facing explanation for a terminal disconnect.
func (r DisconnectReason) Message() string {
	switch r {
	case ReasonRemoved:
		return "You were removed from the room"
	case ReasonRoomClosed:
		return "The room was closed"
	case ReasonDuplicateIdentity:
		return "This session was opened somewhere else"
	case ReasonServerShutdown:
		return "The server is shutting down"
	case ReasonJoinFailure:
		return "Could not join the room"
	case ReasonStateMismatch:
		return "Session state mismatch"
	default:
		return "Connection lost"
	}
}
