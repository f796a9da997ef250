package exchange

import (
	"errors"
	"fmt"
	"time"
)

// ErrExchangeUnavailable covers network failures, 5xx responses and
// malformed bodies. Callers keep serving the last table state.
var ErrExchangeUnavailable = errors.New("exchange unavailable")

// ErrRateLimited is returned on 429/418 responses.
var ErrRateLimited = errors.New("exchange rate limited")

// RateLimitError carries the backoff the exchange asked for.
type RateLimitError struct {
	RetryAfter time.Duration
	Status     int
}

func (e *RateLimitError) Error() string {
	return fmt.Sprintf("exchange rate limited: status=%d retry_after=%s", e.Status, e.RetryAfter)
}

func (e *RateLimitError) Unwrap() error {
	return ErrRateLimited
}
