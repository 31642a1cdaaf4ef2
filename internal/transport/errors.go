package transport

import (
	"errors"
	"fmt"
	"time"
)

// Sentinel failures the engines classify on. The telegram adapter maps
// raw API errors onto these; engine code never inspects platform errors
// directly.
var (
	// ErrBlocked: the recipient blocked the bot. Counted, never retried.
	ErrBlocked = errors.New("recipient blocked the bot")
	// ErrDeactivated: the recipient account no longer exists.
	ErrDeactivated      = errors.New("recipient is deactivated")
	ErrPermissionDenied = errors.New("permission denied")
	ErrNotFound         = errors.New("not found")
)

// FloodError is a platform rate-limit signal carrying the wait the
// platform asked for.
type FloodError struct {
	RetryAfter time.Duration
}

func (e *FloodError) Error() string {
	return fmt.Sprintf("rate limited, retry after %s", e.RetryAfter)
}

// AsFlood extracts the rate-limit wait from err, if it is one.
func AsFlood(err error) (time.Duration, bool) {
	var fe *FloodError
	if errors.As(err, &fe) {
		return fe.RetryAfter, true
	}
	return 0, false
}

// EnumerationError marks a failure to read the source at all. It is
// fatal to the owning task, unlike per-item failures.
type EnumerationError struct {
	Chat ChatRef
	Err  error
}

func (e *EnumerationError) Error() string {
	return fmt.Sprintf("cannot enumerate %s: %v", e.Chat, e.Err)
}

func (e *EnumerationError) Unwrap() error { return e.Err }
