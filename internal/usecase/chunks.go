package usecase

import (
	"encoding/base64"
	"fmt"

	"hotline/internal/domain"
)

// chunkAssembler rebuilds data events that the sender fragmented because the
// data channel has a per-message size limit. Buffers live at most as long as
// the connection they arrived on; there is no per-transfer timeout because
// the channel is ordered and reliable within one connection.
type chunkAssembler struct {
	buffers map[string]*chunkBuffer
}

type chunkBuffer struct {
	parts  [][]byte
	filled int
}

func newChunkAssembler() *chunkAssembler {
	return &chunkAssembler{buffers: make(map[string]*chunkBuffer)}
}

// Add stores one fragment. It returns the reassembled payload once every
// slot is filled, deleting the buffer. Duplicate fragments overwrite their
// slot idempotently.
func (a *chunkAssembler) Add(env domain.ChunkEnvelope) ([]byte, bool, error) {
	if env.TransferID == "" || env.TotalChunks <= 0 {
		return nil, false, fmt.Errorf("invalid chunk envelope for transfer %q", env.TransferID)
	}
	if env.ChunkIndex < 0 || env.ChunkIndex >= env.TotalChunks {
		return nil, false, fmt.Errorf("chunk index %d outside [0,%d) for transfer %q",
			env.ChunkIndex, env.TotalChunks, env.TransferID)
	}

	buf := a.buffers[env.TransferID]
	if buf == nil {
		buf = &chunkBuffer{parts: make([][]byte, env.TotalChunks)}
		a.buffers[env.TransferID] = buf
	}
	if len(buf.parts) != env.TotalChunks {
		delete(a.buffers, env.TransferID)
		return nil, false, fmt.Errorf("transfer %q changed totalChunks from %d to %d",
			env.TransferID, len(buf.parts), env.TotalChunks)
	}

	decoded, err := base64.StdEncoding.DecodeString(env.Data)
	if err != nil {
		delete(a.buffers, env.TransferID)
		return nil, false, fmt.Errorf("transfer %q chunk %d is not valid base64: %w",
			env.TransferID, env.ChunkIndex, err)
	}

	if buf.parts[env.ChunkIndex] == nil {
		buf.filled++
	}
	buf.parts[env.ChunkIndex] = decoded

	if buf.filled < len(buf.parts) {
		return nil, false, nil
	}

	delete(a.buffers, env.TransferID)
	size := 0
	for _, part := range buf.parts {
		size += len(part)
	}
	payload := make([]byte, 0, size)
	for _, part := range buf.parts {
		payload = append(payload, part...)
	}
	return payload, true, nil
}

// Pending reports how many transfers are still incomplete.
func (a *chunkAssembler) Pending() int {
	return len(a.buffers)
}

// Reset drops every incomplete buffer. Called on teardown: partial data from
// a dead connection is unrecoverable.
func (a *chunkAssembler) Reset() {
	a.buffers = make(map[string]*chunkBuffer)
}
