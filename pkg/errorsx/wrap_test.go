package errorsx

import (
	"errors"
	"fmt"
	"testing"
)

func TestWrapCarriesReasonAndMessage(t *testing.T) {
	base := errors.New("connection refused")
	err := Wrap(base, ReasonBusinessError, "business call failed")
	if !HasReason(err, ReasonBusinessError) {
		t.Fatalf("reason = %v", Reason(err))
	}
	if !errors.Is(err, base) {
		t.Fatal("lost the wrapped error")
	}
	if err.Error() != "business call failed: connection refused" {
		t.Fatalf("message = %q", err.Error())
	}
}

func TestWrapFirstReasonSticks(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonCompletionTimeout, "timed out")
	err = Wrap(err, ReasonCompletionError, "outer")
	if !HasReason(err, ReasonCompletionTimeout) {
		t.Fatalf("reason = %v", Reason(err))
	}
}

func TestWrapNilIsNil(t *testing.T) {
	if Wrap(nil, ReasonUnknown, "whatever") != nil {
		t.Fatal("expected nil")
	}
}

func TestReasonSurvivesFurtherWrapping(t *testing.T) {
	err := Wrap(errors.New("boom"), ReasonRetrievalError, "query failed")
	outer := fmt.Errorf("turn 3: %w", err)
	if !HasReason(outer, ReasonRetrievalError) {
		t.Fatalf("reason = %v", Reason(outer))
	}
}
