package usecase

import (
	"fmt"
	"testing"
	"time"

	"hotline/internal/domain"
)

func TestTranscriptMergerBoundedHistoryEvictsOldestFirst(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(3)
	now := time.Now()

	for i := 0; i < 5; i++ {
		id := fmt.Sprintf("seg-%d", i)
		m.Apply(id, domain.RoleUser, "text", true, now)
		if m.Len() > 3 {
			t.Fatalf("history exceeded cap: %d", m.Len())
		}
	}

	history := m.History()
	if len(history) != 3 {
		t.Fatalf("unexpected history length: %d", len(history))
	}
	if history[0].ID != "seg-2" || history[2].ID != "seg-4" {
		t.Fatalf("unexpected eviction order: %v", history)
	}
}

func TestTranscriptMergerSameIDReplacesInPlace(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(10)
	now := time.Now()

	m.Apply("a", domain.RoleUser, "one", true, now)
	m.Apply("b", domain.RoleAgent, "x", false, now)
	m.Apply("a", domain.RoleUser, "one two", true, now)

	history := m.History()
	if len(history) != 2 {
		t.Fatalf("same-id upsert must not grow history: %d", len(history))
	}
	if history[0].ID != "a" || history[0].Text != "one two" {
		t.Fatalf("expected in-place replacement, got %+v", history[0])
	}
}

func TestTranscriptMergerDeltaVersusReplacement(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(10)
	now := time.Now()

	m.Apply("user-seg", domain.RoleUser, "hello", true, now)
	entry := m.Apply("user-seg", domain.RoleUser, "hello world", true, now)
	if entry.Text != "hello world" {
		t.Fatalf("full-replacement stream must overwrite, got %q", entry.Text)
	}

	m.Apply("agent-seg", domain.RoleAgent, "Hi ", false, now)
	entry = m.Apply("agent-seg", domain.RoleAgent, "there", false, now)
	if entry.Text != "Hi there" {
		t.Fatalf("delta stream must append, got %q", entry.Text)
	}
}

func TestTranscriptMergerFinalize(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(10)
	now := time.Now()

	m.Apply("a", domain.RoleAgent, "partial", false, now)
	entry, ok := m.Finalize("a", now)
	if !ok || !entry.IsFinal || entry.Text != "partial" {
		t.Fatalf("unexpected finalized entry: ok=%v %+v", ok, entry)
	}

	// Finalizing again falls back to the history entry.
	entry, ok = m.Finalize("a", now)
	if !ok || !entry.IsFinal {
		t.Fatalf("expected history fallback, got ok=%v %+v", ok, entry)
	}

	if _, ok := m.Finalize("missing", now); ok {
		t.Fatalf("expected unknown segment to be ignored")
	}
}

func TestTranscriptMergerFinalizeSkipsEmptySegments(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(10)
	now := time.Now()

	m.Apply("a", domain.RoleUser, "   ", true, now)
	if _, ok := m.Finalize("a", now); ok {
		t.Fatalf("expected empty segment to be dropped")
	}
}

func TestTranscriptMergerForceFinalizePreservesInFlightSpeech(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(10)
	now := time.Now()

	m.Apply("a", domain.RoleUser, "cut off mid", true, now)
	m.Apply("b", domain.RoleAgent, "also cut", false, now)

	finalized := m.ForceFinalize(now)
	if len(finalized) != 2 {
		t.Fatalf("expected both segments finalized, got %d", len(finalized))
	}

	for _, entry := range m.History() {
		if !entry.IsFinal {
			t.Fatalf("expected final entry, got %+v", entry)
		}
	}
	if m.ForceFinalize(now) != nil {
		t.Fatalf("expected no pending segments after flush")
	}
}

func TestTranscriptMergerIsLatest(t *testing.T) {
	t.Parallel()

	m := newTranscriptMerger(10)
	now := time.Now()

	m.Apply("a", domain.RoleAgent, "first", false, now)
	if !m.IsLatest(domain.RoleAgent, "a") {
		t.Fatalf("expected a to be latest")
	}

	m.Apply("b", domain.RoleAgent, "second", false, now)
	if m.IsLatest(domain.RoleAgent, "a") {
		t.Fatalf("expected b to supersede a")
	}
	if m.IsLatest(domain.RoleUser, "a") {
		t.Fatalf("role scoping violated")
	}
}
