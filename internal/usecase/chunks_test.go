package usecase

import (
	"bytes"
	"encoding/base64"
	"testing"

	"hotline/internal/domain"
)

func chunkEnvelope(transfer string, index, total int, data []byte) domain.ChunkEnvelope {
	return domain.ChunkEnvelope{
		TransferID:  transfer,
		ChunkIndex:  index,
		TotalChunks: total,
		Data:        base64.StdEncoding.EncodeToString(data),
	}
}

func TestChunkAssemblerOutOfOrderCompletion(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()

	for _, index := range []int{2, 0} {
		payload, done, err := a.Add(chunkEnvelope("t1", index, 3, []byte{byte('a' + index)}))
		if err != nil {
			t.Fatalf("unexpected error: %v", err)
		}
		if done || payload != nil {
			t.Fatalf("transfer completed before all chunks arrived")
		}
	}

	payload, done, err := a.Add(chunkEnvelope("t1", 1, 3, []byte("b")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done {
		t.Fatalf("expected completion after last missing slot")
	}
	if !bytes.Equal(payload, []byte("abc")) {
		t.Fatalf("unexpected payload: %q", payload)
	}
	if a.Pending() != 0 {
		t.Fatalf("expected buffer removal after completion, pending=%d", a.Pending())
	}
}

func TestChunkAssemblerDuplicateChunksAreIdempotent(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()

	if _, _, err := a.Add(chunkEnvelope("t1", 0, 2, []byte("he"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := a.Add(chunkEnvelope("t1", 0, 2, []byte("he"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	payload, done, err := a.Add(chunkEnvelope("t1", 1, 2, []byte("llo")))
	if err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if !done || !bytes.Equal(payload, []byte("hello")) {
		t.Fatalf("unexpected result: done=%v payload=%q", done, payload)
	}
}

func TestChunkAssemblerRejectsOutOfRangeIndex(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()

	if _, _, err := a.Add(chunkEnvelope("t1", 3, 3, []byte("x"))); err == nil {
		t.Fatalf("expected out-of-range error")
	}
	if _, _, err := a.Add(chunkEnvelope("t1", -1, 3, []byte("x"))); err == nil {
		t.Fatalf("expected negative index error")
	}
	if a.Pending() != 0 {
		t.Fatalf("rejected chunk must not allocate a buffer")
	}
}

func TestChunkAssemblerRejectsInvalidEnvelope(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()

	if _, _, err := a.Add(domain.ChunkEnvelope{TransferID: "", TotalChunks: 1}); err == nil {
		t.Fatalf("expected missing transfer id error")
	}
	if _, _, err := a.Add(domain.ChunkEnvelope{TransferID: "t1", TotalChunks: 0}); err == nil {
		t.Fatalf("expected zero totalChunks error")
	}
}

func TestChunkAssemblerDropsBufferOnBadBase64(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()

	if _, _, err := a.Add(chunkEnvelope("t1", 0, 2, []byte("ok"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := a.Add(domain.ChunkEnvelope{TransferID: "t1", ChunkIndex: 1, TotalChunks: 2, Data: "%%%"}); err == nil {
		t.Fatalf("expected base64 error")
	}
	if a.Pending() != 0 {
		t.Fatalf("expected malformed transfer to be dropped")
	}
}

func TestChunkAssemblerDropsBufferOnTotalMismatch(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()

	if _, _, err := a.Add(chunkEnvelope("t1", 0, 3, []byte("a"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := a.Add(chunkEnvelope("t1", 0, 2, []byte("a"))); err == nil {
		t.Fatalf("expected totalChunks mismatch error")
	}
	if a.Pending() != 0 {
		t.Fatalf("expected mismatched transfer to be dropped")
	}
}

func TestChunkAssemblerReset(t *testing.T) {
	t.Parallel()

	a := newChunkAssembler()
	if _, _, err := a.Add(chunkEnvelope("t1", 0, 2, []byte("a"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if _, _, err := a.Add(chunkEnvelope("t2", 0, 2, []byte("b"))); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	a.Reset()
	if a.Pending() != 0 {
		t.Fatalf("expected empty assembler after reset, pending=%d", a.Pending())
	}
}
