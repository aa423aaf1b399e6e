package domain

import (
	"encoding/json"
	"fmt"
)

// DataEvent is the closed set of structured events carried on the room's
// data channel. Payloads that do not decode into one of these variants are
// rejected at the boundary.
type DataEvent interface {
	dataEvent()
}

// StatusEvent is a transient agent-activity hint ("thinking", "searching").
type StatusEvent struct {
	Kind   string `json:"kind"`
	Detail string `json:"detail,omitempty"`
}

// Artifact is a structured document the agent produced during the
// conversation. Large artifacts arrive fragmented as chunk envelopes.
type Artifact struct {
	ID      string          `json:"id"`
	Kind    string          `json:"kind"`
	Title   string          `json:"title"`
	Payload json.RawMessage `json:"payload,omitempty"`
}

// ChunkEnvelope is one fragment of a larger data event that exceeded the
// channel's per-message size limit.
type ChunkEnvelope struct {
	TransferID  string `json:"transferId"`
	ChunkIndex  int    `json:"chunkIndex"`
	TotalChunks int    `json:"totalChunks"`
	Data        string `json:"data"`
}

func (StatusEvent) dataEvent()   {}
func (Artifact) dataEvent()      {}
func (ChunkEnvelope) dataEvent() {}

type dataEventWire struct {
	Type        string    `json:"type"`
	Kind        string    `json:"kind,omitempty"`
	Detail      string    `json:"detail,omitempty"`
	Artifact    *Artifact `json:"artifact,omitempty"`
	TransferID  string    `json:"transferId,omitempty"`
	ChunkIndex  int       `json:"chunkIndex,omitempty"`
	TotalChunks int       `json:"totalChunks,omitempty"`
	Data        string    `json:"data,omitempty"`
}

// ParseDataEvent decodes one data-channel payload into its tagged variant.
func ParseDataEvent(payload []byte) (DataEvent, error) {
	var wire dataEventWire
	if err := json.Unmarshal(payload, &wire); err != nil {
		return nil, fmt.Errorf("malformed data event: %w", err)
	}

	switch wire.Type {
	case "status":
		if wire.Kind == "" {
			return nil, fmt.Errorf("status event without kind")
		}
		return StatusEvent{Kind: wire.Kind, Detail: wire.Detail}, nil
	case "artifact":
		if wire.Artifact == nil || wire.Artifact.ID == "" {
			return nil, fmt.Errorf("artifact event without artifact")
		}
		return *wire.Artifact, nil
	case "chunk":
		return ChunkEnvelope{
			TransferID:  wire.TransferID,
			ChunkIndex:  wire.ChunkIndex,
			TotalChunks: wire.TotalChunks,
			Data:        wire.Data,
		}, nil
	default:
		return nil, fmt.Errorf("unknown data event type %q", wire.Type)
	}
}
