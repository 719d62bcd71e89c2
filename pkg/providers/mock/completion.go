package mock

import (
	"context"
	"sync"

	"github.com/voxline/voxline/pkg/completion"
)

// CompletionProvider returns canned replies in order, repeating the
// last one once the list runs out. Useful for local runs and tests.
type CompletionProvider struct {
	mu      sync.Mutex
	Replies []string
	Err     error
	calls   int
	// CompleteFunc, when set, overrides the canned replies entirely.
	CompleteFunc func(ctx context.Context, req completion.Request) (completion.Response, error)
}

func (m *CompletionProvider) Name() string { return "mock" }

func (m *CompletionProvider) Complete(ctx context.Context, req completion.Request) (completion.Response, error) {
	if m.CompleteFunc != nil {
		return m.CompleteFunc(ctx, req)
	}
	m.mu.Lock()
	defer m.mu.Unlock()
	if m.Err != nil {
		return completion.Response{}, m.Err
	}
	if len(m.Replies) == 0 {
		return completion.Response{Text: "Okay."}, nil
	}
	i := m.calls
	if i >= len(m.Replies) {
		i = len(m.Replies) - 1
	}
	m.calls++
	return completion.Response{Text: m.Replies[i], FinishReason: "stop"}, nil
}

// Calls reports how many canned completions were served.
func (m *CompletionProvider) Calls() int {
	m.mu.Lock()
	defer m.mu.Unlock()
	return m.calls
}

var _ completion.Provider = (*CompletionProvider)(nil)
