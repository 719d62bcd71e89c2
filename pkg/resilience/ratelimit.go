package resilience

import (
	"errors"
	"fmt"
)

// RateLimitError marks a provider 429 so callers can back off instead
// of burning retries.
type RateLimitError struct {
	Provider string
	Message  string
}

func (e RateLimitError) Error() string {
	return fmt.Sprintf("%s rate limited: %s", e.Provider, e.Message)
}

func IsRateLimit(err error) bool {
	var rl RateLimitError
	return errors.As(err, &rl)
}
