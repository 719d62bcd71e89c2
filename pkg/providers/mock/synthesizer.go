package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxline/pkg/adapters/tts"
)

// Synthesizer fabricates a short silent buffer per request so the
// outbound audio path can be exercised without a speech backend.
type Synthesizer struct {
	mu         sync.Mutex
	SampleRate int
	Err        error
	Texts      []string
}

func (m *Synthesizer) Name() string { return "mock" }

func (m *Synthesizer) Synthesize(_ context.Context, text string) (tts.Audio, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return tts.Audio{}, m.Err
	}
	m.Texts = append(m.Texts, text)
	rate := m.SampleRate
	if rate <= 0 {
		rate = 16000
	}
	// 100ms of silence per synthesis call.
	return tts.Audio{PCM: make([]byte, rate/10*2), SampleRate: rate}, nil
}

// Spoken returns the texts synthesized so far.
func (m *Synthesizer) Spoken() []string {
	m.mu.Lock()
	defer m.mu.Unlock()
	out := make([]string, len(m.Texts))
	copy(out, m.Texts)
	return out
}

var _ tts.Synthesizer = (*Synthesizer)(nil)
