package resilience

import (
	"context"
	"errors"
	"fmt"
	"testing"
	"time"
)

func TestFailureTrackerThreshold(t *testing.T) {
	tr := NewFailureTracker(3)
	if tr.OnFailure() || tr.OnFailure() {
		t.Fatal("tripped below threshold")
	}
	if !tr.OnFailure() {
		t.Fatal("did not trip at threshold")
	}
}

func TestFailureTrackerResetsOnSuccess(t *testing.T) {
	tr := NewFailureTracker(2)
	tr.OnFailure()
	tr.OnSuccess()
	if tr.Count() != 0 {
		t.Fatalf("count = %d", tr.Count())
	}
	if tr.OnFailure() {
		t.Fatal("tripped on first failure after reset")
	}
}

func TestRetryPolicyStopsOnSuccess(t *testing.T) {
	var calls int
	p := NewRetryPolicy(3, time.Millisecond)
	err := p.Do(context.Background(), func() error {
		calls++
		if calls < 2 {
			return errors.New("transient")
		}
		return nil
	})
	if err != nil || calls != 2 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyExhausts(t *testing.T) {
	var calls int
	p := NewRetryPolicy(2, time.Millisecond)
	err := p.Do(context.Background(), func() error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 3 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestRetryPolicyStopsWhenContextEnds(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	var calls int
	p := NewRetryPolicy(5, time.Millisecond)
	err := p.Do(ctx, func() error {
		calls++
		return errors.New("down")
	})
	if err == nil || calls != 1 {
		t.Fatalf("err=%v calls=%d", err, calls)
	}
}

func TestCircuitBreakerOpensAndRecovers(t *testing.T) {
	cb := NewCircuitBreaker(2, 20*time.Millisecond)
	if !cb.Allow() {
		t.Fatal("closed breaker blocked")
	}
	cb.OnError()
	if !cb.Allow() {
		t.Fatal("opened below threshold")
	}
	cb.OnError()
	if cb.Allow() {
		t.Fatal("breaker did not open")
	}
	time.Sleep(25 * time.Millisecond)
	if !cb.Allow() {
		t.Fatal("breaker did not recover after cooldown")
	}
	cb.OnSuccess()
	cb.OnError()
	if !cb.Allow() {
		t.Fatal("success did not reset failure count")
	}
}

func TestIsRateLimit(t *testing.T) {
	err := fmt.Errorf("complete: %w", RateLimitError{Provider: "together", Message: "slow down"})
	if !IsRateLimit(err) {
		t.Fatal("wrapped rate limit not detected")
	}
	if IsRateLimit(errors.New("other")) {
		t.Fatal("plain error detected as rate limit")
	}
}
