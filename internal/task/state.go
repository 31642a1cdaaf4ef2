// Package task holds per-task state for forward and dedup runs: the
// registry the engines write progress into, and the lifecycle guard that
// keeps one active task per user and per target chat.
package task

import (
	"fmt"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"fwdbot/internal/transport"
)

// Kind distinguishes what the task is doing; the presenter renders the
// two differently.
type Kind string

const (
	KindForward Kind = "forward"
	KindDedup   Kind = "dedup"
)

// Counter names a mutable progress counter on a task. All counters are
// monotonically non-decreasing.
type Counter int

const (
	Fetched Counter = iota
	Forwarded
	Duplicate
	Filtered
	Skipped
)

// State is one active forward/dedup task. It is mutated only by the
// owning engine loop through the registry (single writer); the presenter
// reads consistent snapshots under the per-task lock. The cancel flag is
// the one field set from outside the loop, hence atomic.
type State struct {
	ID     string
	Kind   Kind
	UserID int64
	Source transport.ChatRef
	Target transport.ChatRef

	Skip  int
	Limit int
	Total int

	// Counters. FetchedN starts at Skip to reflect the logical cursor.
	FetchedN   int
	ForwardedN int
	DuplicateN int
	FilteredN  int
	SkippedN   int

	StartedAt time.Time

	cancel atomic.Bool
}

// RequestCancel flags the task for cooperative cancellation. Safe from
// any goroutine.
func (s *State) RequestCancel() { s.cancel.Store(true) }

// CancelRequested reports whether cancellation has been requested.
func (s *State) CancelRequested() bool { return s.cancel.Load() }

// NewID derives a task id from the initiating user plus a nonce.
func NewID(userID int64) string {
	return fmt.Sprintf("%d-%.8s", userID, uuid.NewString())
}
