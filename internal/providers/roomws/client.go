// Package roomws implements ports.RoomTransport against the room server's
// websocket signaling protocol. It carries joins, participant changes, data
// payloads, transcription streams and audio levels; media itself travels out
// of band and never passes through this client.
package roomws

import (
	"context"
	"encoding/base64"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/url"
	"strings"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/rs/zerolog"

	"hotline/internal/domain"
	"hotline/internal/ports"
)

// Config controls the websocket transport.
type Config struct {
	// JoinTimeout bounds the wait for the server's joined message after the
	// dial succeeds.
	JoinTimeout time.Duration

	// CheckMicrophone runs before dialing; a non-nil error aborts the
	// connect with domain.ErrMicrophonePermission. Nil skips the check.
	CheckMicrophone func(ctx context.Context) error
}

// Transport dials room sessions.
type Transport struct {
	cfg Config
	log zerolog.Logger
}

func NewTransport(cfg Config, log zerolog.Logger) *Transport {
	if cfg.JoinTimeout <= 0 {
		cfg.JoinTimeout = 10 * time.Second
	}
	return &Transport{cfg: cfg, log: log}
}

func (t *Transport) Connect(ctx context.Context, creds domain.Credentials) (ports.RoomSession, error) {
	if strings.TrimSpace(creds.URL) == "" {
		return nil, errors.New("room URL is not configured")
	}
	if strings.TrimSpace(creds.Token) == "" {
		return nil, errors.New("room token is not configured")
	}

	if t.cfg.CheckMicrophone != nil {
		if err := t.cfg.CheckMicrophone(ctx); err != nil {
			return nil, fmt.Errorf("%w: %v", domain.ErrMicrophonePermission, err)
		}
	}

	wsURL, err := buildRoomURL(creds.URL)
	if err != nil {
		return nil, err
	}

	headers := http.Header{}
	headers.Set("Authorization", "Bearer "+creds.Token)
	headers.Set("X-Hotline-Client", uuid.NewString())

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, wsURL, headers)
	if err != nil {
		return nil, fmt.Errorf("failed to connect to room: %w", err)
	}

	session := &roomSession{
		conn:    conn,
		log:     t.log,
		events:  make(chan ports.RoomEvent, 64),
		streams: make(map[string]*textStream),
		done:    make(chan struct{}),
	}

	identity, err := session.awaitJoin(t.cfg.JoinTimeout)
	if err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("%s: %w", domain.ReasonJoinFailure, err)
	}
	session.identity = identity

	go session.readLoop()
	return session, nil
}

type roomSession struct {
	conn     *websocket.Conn
	log      zerolog.Logger
	identity string

	events chan ports.RoomEvent
	done   chan struct{}

	writeMu sync.Mutex

	levelMu     sync.Mutex
	localLevel  float64
	remoteLevel float64

	streamMu sync.Mutex
	streams  map[string]*textStream

	closeOnce sync.Once
}

// serverMessage is the signaling envelope; which fields are set depends on
// the type tag.
type serverMessage struct {
	Type string `json:"type"`

	Identity string `json:"identity,omitempty"`
	Joined   bool   `json:"joined,omitempty"`

	Topic   string `json:"topic,omitempty"`
	Payload string `json:"payload,omitempty"`

	Stream     string            `json:"stream,omitempty"`
	Segment    string            `json:"segment,omitempty"`
	Text       string            `json:"text,omitempty"`
	Attributes map[string]string `json:"attributes,omitempty"`

	Local  float64 `json:"local,omitempty"`
	Remote float64 `json:"remote,omitempty"`

	Reason string `json:"reason,omitempty"`
}

func (s *roomSession) awaitJoin(timeout time.Duration) (string, error) {
	_ = s.conn.SetReadDeadline(time.Now().Add(timeout))
	defer func() { _ = s.conn.SetReadDeadline(time.Time{}) }()

	for {
		var msg serverMessage
		if err := s.conn.ReadJSON(&msg); err != nil {
			return "", fmt.Errorf("no join confirmation: %w", err)
		}
		switch msg.Type {
		case "joined":
			if msg.Identity == "" {
				return "", errors.New("joined message without identity")
			}
			return msg.Identity, nil
		case "bye":
			return "", fmt.Errorf("server refused join: %s", msg.Reason)
		default:
			// Late messages from a previous session on the same socket are
			// not possible; anything else before joined is a protocol error.
			return "", fmt.Errorf("unexpected %q before join confirmation", msg.Type)
		}
	}
}

func (s *roomSession) Events() <-chan ports.RoomEvent { return s.events }

func (s *roomSession) LocalIdentity() string { return s.identity }

func (s *roomSession) Levels() (float64, float64) {
	s.levelMu.Lock()
	defer s.levelMu.Unlock()
	return s.localLevel, s.remoteLevel
}

func (s *roomSession) SetMuted(muted bool) error {
	s.writeMu.Lock()
	defer s.writeMu.Unlock()
	payload, _ := json.Marshal(map[string]any{"type": "mute", "muted": muted})
	if err := s.conn.WriteMessage(websocket.TextMessage, payload); err != nil {
		return fmt.Errorf("failed to send mute flag: %w", err)
	}
	return nil
}

func (s *roomSession) Close() error {
	s.closeOnce.Do(func() {
		_ = s.conn.Close()
	})
	return nil
}

func (s *roomSession) readLoop() {
	defer func() {
		s.closeStreams()
		close(s.events)
		close(s.done)
		_ = s.Close()
	}()

	for {
		_, payload, err := s.conn.ReadMessage()
		if err != nil {
			if !websocket.IsCloseError(err,
				websocket.CloseNormalClosure,
				websocket.CloseGoingAway,
				websocket.CloseNoStatusReceived,
			) && !isClosedConn(err) {
				s.log.Debug().Err(err).Msg("room socket read failed")
				s.emit(ports.RoomEvent{Type: ports.RoomEventDisconnected, Reason: domain.ReasonNetworkLost})
			}
			return
		}

		var msg serverMessage
		if err := json.Unmarshal(payload, &msg); err != nil {
			s.log.Warn().Err(err).Msg("dropping malformed signaling message")
			continue
		}

		if done := s.dispatch(msg); done {
			return
		}
	}
}

func (s *roomSession) dispatch(msg serverMessage) bool {
	switch msg.Type {
	case "participant":
		eventType := ports.RoomEventParticipantLeft
		if msg.Joined {
			eventType = ports.RoomEventParticipantJoined
		}
		s.emit(ports.RoomEvent{Type: eventType, Identity: msg.Identity})
	case "data":
		decoded, err := base64.StdEncoding.DecodeString(msg.Payload)
		if err != nil {
			s.log.Warn().Err(err).Msg("dropping data message with bad payload encoding")
			return false
		}
		s.emit(ports.RoomEvent{Type: ports.RoomEventData, Topic: msg.Topic, Payload: decoded})
	case "levels":
		s.levelMu.Lock()
		s.localLevel = msg.Local
		s.remoteLevel = msg.Remote
		s.levelMu.Unlock()
	case "stream_open":
		s.openStream(msg)
	case "stream_chunk":
		s.streamChunk(msg)
	case "stream_close":
		s.closeStream(msg)
	case "bye":
		s.emit(ports.RoomEvent{
			Type:   ports.RoomEventDisconnected,
			Reason: disconnectReason(msg.Reason),
		})
		return true
	default:
		s.log.Warn().Str("type", msg.Type).Msg("dropping unknown signaling message")
	}
	return false
}

func (s *roomSession) openStream(msg serverMessage) {
	if msg.Stream == "" || msg.Segment == "" {
		s.log.Warn().Msg("dropping stream_open without ids")
		return
	}
	stream := newTextStream(msg.Segment, msg.Identity, msg.Attributes)

	s.streamMu.Lock()
	s.streams[msg.Stream] = stream
	s.streamMu.Unlock()

	s.emit(ports.RoomEvent{Type: ports.RoomEventTextStream, Stream: stream})
}

func (s *roomSession) streamChunk(msg serverMessage) {
	s.streamMu.Lock()
	stream := s.streams[msg.Stream]
	s.streamMu.Unlock()
	if stream == nil {
		s.log.Warn().Str("stream", msg.Stream).Msg("dropping chunk for unknown stream")
		return
	}
	stream.push([]byte(msg.Text))
}

func (s *roomSession) closeStream(msg serverMessage) {
	s.streamMu.Lock()
	stream := s.streams[msg.Stream]
	delete(s.streams, msg.Stream)
	s.streamMu.Unlock()
	if stream == nil {
		return
	}
	stream.finish(msg.Attributes)
}

// closeStreams terminates any stream still open when the connection dies so
// consumers ranging over Chunks are released.
func (s *roomSession) closeStreams() {
	s.streamMu.Lock()
	defer s.streamMu.Unlock()
	for id, stream := range s.streams {
		stream.finish(nil)
		delete(s.streams, id)
	}
}

func (s *roomSession) emit(event ports.RoomEvent) {
	select {
	case s.events <- event:
	case <-s.done:
	}
}

func isClosedConn(err error) bool {
	return strings.Contains(err.Error(), "use of closed network connection")
}

func disconnectReason(raw string) domain.DisconnectReason {
	switch reason := domain.DisconnectReason(raw); reason {
	case domain.ReasonNetworkLost, domain.ReasonSignalingFailure,
		domain.ReasonRetriesExhausted, domain.ReasonRemoved,
		domain.ReasonRoomClosed, domain.ReasonDuplicateIdentity,
		domain.ReasonServerShutdown, domain.ReasonJoinFailure,
		domain.ReasonStateMismatch:
		return reason
	default:
		return domain.ReasonUnknown
	}
}

func buildRoomURL(base string) (string, error) {
	base = strings.TrimSpace(base)
	if strings.HasPrefix(base, "https://") {
		base = "wss://" + strings.TrimPrefix(base, "https://")
	} else if strings.HasPrefix(base, "http://") {
		base = "ws://" + strings.TrimPrefix(base, "http://")
	}
	base = strings.TrimRight(base, "/")

	roomURL, err := url.Parse(base + "/rtc")
	if err != nil {
		return "", fmt.Errorf("invalid room URL: %w", err)
	}
	if roomURL.Scheme != "ws" && roomURL.Scheme != "wss" {
		return "", fmt.Errorf("unsupported room URL scheme %q", roomURL.Scheme)
	}
	return roomURL.String(), nil
}
