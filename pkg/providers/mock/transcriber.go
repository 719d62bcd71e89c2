package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxline/pkg/adapters/stt"
)

// Transcriber returns canned transcripts in order.
type Transcriber struct {
	mu      sync.Mutex
	Results []stt.Result
	Err     error
	calls   int
}

func (m *Transcriber) Name() string { return "mock" }

func (m *Transcriber) Transcribe(_ context.Context, _ []byte, _ int) (stt.Result, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return stt.Result{}, m.Err
	}
	if len(m.Results) == 0 {
		return stt.Result{Text: "hello", Confidence: 0.95}, nil
	}
	i := m.calls
	if i >= len(m.Results) {
		i = len(m.Results) - 1
	}
	m.calls++
	return m.Results[i], nil
}

var _ stt.Transcriber = (*Transcriber)(nil)
