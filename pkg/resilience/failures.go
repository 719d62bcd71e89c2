package resilience

import "sync"

// FailureTracker counts consecutive collaborator failures for one
// session. When the count reaches the configured threshold the session
// is expected to terminate with a diagnostic reason.
type FailureTracker struct {
	mu        sync.Mutex
	threshold int
	count     int
}

func NewFailureTracker(threshold int) *FailureTracker {
	if threshold <= 0 {
		threshold = 3
	}
	return &FailureTracker{threshold: threshold}
}

// OnFailure records a failure and reports whether the threshold was reached.
func (t *FailureTracker) OnFailure() bool {
	t.mu.Lock()
	defer t.mu.Unlock()
	t.count++
	return t.count >= t.threshold
}

// OnSuccess resets the consecutive failure count.
func (t *FailureTracker) OnSuccess() {
	t.mu.Lock()
	t.count = 0
	t.mu.Unlock()
}

func (t *FailureTracker) Count() int {
	t.mu.Lock()
	defer t.mu.Unlock()
	return t.count
}
