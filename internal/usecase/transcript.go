package usecase

import (
	"strings"
	"time"

	"hotline/internal/domain"
)

// pendingSegment accumulates in-flight text for one transcript segment.
// replace is fixed when the segment is first seen: local streams deliver
// full-replacement updates, remote streams deliver deltas. The upstream
// protocol does not declare the mode itself, so it is derived from the
// participant identity once, at registration.
type pendingSegment struct {
	role    domain.Role
	text    string
	replace bool
}

// transcriptMerger folds per-segment stream chunks into a bounded, ordered
// transcript history. Same-id upserts replace in place; history length never
// exceeds the limit, oldest entries evicted first.
type transcriptMerger struct {
	limit   int
	history []domain.TranscriptEntry
	pending map[string]*pendingSegment
	latest  map[domain.Role]string
}

func newTranscriptMerger(limit int) *transcriptMerger {
	if limit <= 0 {
		limit = 200
	}
	return &transcriptMerger{
		limit:   limit,
		pending: make(map[string]*pendingSegment),
		latest:  make(map[domain.Role]string),
	}
}

// Apply folds one stream chunk into its segment and upserts the result into
// history. The returned entry reflects the segment's full text so far.
func (m *transcriptMerger) Apply(id string, role domain.Role, text string, replace bool, now time.Time) domain.TranscriptEntry {
	seg := m.pending[id]
	if seg == nil {
		seg = &pendingSegment{role: role, replace: replace}
		m.pending[id] = seg
		m.latest[role] = id
	}
	if seg.replace {
		seg.text = text
	} else {
		seg.text += text
	}

	entry := domain.TranscriptEntry{ID: id, Role: seg.role, Text: seg.text, Timestamp: now}
	m.upsert(entry)
	return entry
}

// Finalize marks a segment final and drops its accumulator. Segments that
// never produced text are not added to history.
func (m *transcriptMerger) Finalize(id string, now time.Time) (domain.TranscriptEntry, bool) {
	seg := m.pending[id]
	if seg == nil {
		for i := range m.history {
			if m.history[i].ID == id {
				m.history[i].IsFinal = true
				return m.history[i], true
			}
		}
		return domain.TranscriptEntry{}, false
	}

	delete(m.pending, id)
	if strings.TrimSpace(seg.text) == "" {
		return domain.TranscriptEntry{}, false
	}

	entry := domain.TranscriptEntry{ID: id, Role: seg.role, Text: seg.text, IsFinal: true, Timestamp: now}
	m.upsert(entry)
	return entry, true
}

// ForceFinalize flushes every pending segment into history as final. Called
// on teardown so partially transcribed speech is preserved instead of
// dropped. Role attribution is best-effort: the role captured when the
// segment's first chunk arrived.
func (m *transcriptMerger) ForceFinalize(now time.Time) []domain.TranscriptEntry {
	var finalized []domain.TranscriptEntry
	for id := range m.pending {
		if entry, ok := m.Finalize(id, now); ok {
			finalized = append(finalized, entry)
		}
	}
	return finalized
}

// IsLatest reports whether id is still the newest segment seen for role.
// Guards the subtitle-clear timer against a newer segment having started.
func (m *transcriptMerger) IsLatest(role domain.Role, id string) bool {
	return m.latest[role] == id
}

// History returns a copy of the ordered transcript history.
func (m *transcriptMerger) History() []domain.TranscriptEntry {
	out := make([]domain.TranscriptEntry, len(m.history))
	copy(out, m.history)
	return out
}

func (m *transcriptMerger) Len() int {
	return len(m.history)
}

func (m *transcriptMerger) upsert(entry domain.TranscriptEntry) {
	for i := range m.history {
		if m.history[i].ID == entry.ID {
			m.history[i] = entry
			return
		}
	}
	m.history = append(m.history, entry)
	if len(m.history) > m.limit {
		n := copy(m.history, m.history[1:])
		m.history = m.history[:n]
	}
}
