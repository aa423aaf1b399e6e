package roomws

import (
	"sync"

	"hotline/internal/ports"
)

// textStream is one per-segment transcription stream. Chunks preserve server
// order; finish updates the attributes (finality included) before the
// channel closes, so consumers read them after draining.
type textStream struct {
	segment  string
	identity string

	chunks chan []byte
	done   chan struct{}

	mu         sync.Mutex
	attributes map[string]string

	finishOnce sync.Once
}

func newTextStream(segment, identity string, attributes map[string]string) *textStream {
	return &textStream{
		segment:    segment,
		identity:   identity,
		chunks:     make(chan []byte, 32),
		done:       make(chan struct{}),
		attributes: cloneAttributes(attributes),
	}
}

func (t *textStream) SegmentID() string           { return t.segment }
func (t *textStream) ParticipantIdentity() string { return t.identity }

func (t *textStream) Attributes() map[string]string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return cloneAttributes(t.attributes)
}

func (t *textStream) Chunks() <-chan []byte { return t.chunks }

func (t *textStream) push(chunk []byte) {
	select {
	case t.chunks <- chunk:
	case <-t.done:
	}
}

func (t *textStream) finish(attributes map[string]string) {
	t.finishOnce.Do(func() {
		if attributes != nil {
			t.mu.Lock()
			for k, v := range attributes {
				t.attributes[k] = v
			}
			t.mu.Unlock()
		}
		close(t.done)
		close(t.chunks)
	})
}

func cloneAttributes(attributes map[string]string) map[string]string {
	out := make(map[string]string, len(attributes))
	for k, v := range attributes {
		out[k] = v
	}
	return out
}

var _ ports.TextStream = (*textStream)(nil)
