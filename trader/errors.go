package trader

import (
	"context"
	"errors"
	"net"
)

// Adapter error taxonomy. Transient errors are retried by the gate with
// backoff; permanent errors surface to the engine, which marks the level
// unusable until the next rebalance.
var (
	// ErrRateLimited means the venue throttled the call. Retryable.
	ErrRateLimited = errors.New("rate limited by exchange")

	// ErrInsufficientBalance means the account cannot cover the order. Permanent.
	ErrInsufficientBalance = errors.New("insufficient balance")

	// ErrInvalidPrice means the order violates the venue's price/lot filters. Permanent.
	ErrInvalidPrice = errors.New("invalid price or quantity")

	// ErrRejected is any other venue-side rejection. Permanent.
	ErrRejected = errors.New("order rejected")

	// ErrOrderNotFound means the venue has no record of the order ID.
	ErrOrderNotFound = errors.New("order not found")

	// ErrAlreadyFilled means a cancel raced a fill and lost.
	ErrAlreadyFilled = errors.New("order already filled")
)

// IsTransient reports whether an adapter error should be retried with
// backoff. Rate limits, timeouts and network failures qualify; venue
// rejections do not.
func IsTransient(err error) bool {
	if err == nil {
		return false
	}
	if errors.Is(err, ErrRateLimited) {
		return true
	}
	if errors.Is(err, context.DeadlineExceeded) {
		return true
	}
	var netErr net.Error
	if errors.As(err, &netErr) {
		return true
	}
	return false
}

// IsPermanent reports whether an adapter error is a venue-side rejection
// that no amount of retrying will fix.
func IsPermanent(err error) bool {
	return errors.Is(err, ErrInsufficientBalance) ||
		errors.Is(err, ErrInvalidPrice) ||
		errors.Is(err, ErrRejected)
}
