package task

import (
	"errors"
	"sync"
	"time"
)

var ErrAlreadyExists = errors.New("task already registered")

// Registry maps task ids to mutable task state. Every operation is
// serialized per id via a lock created on first touch and retained for
// the task's lifetime, so all call sites observe the same lock instance.
//
// The registry is process-local and not durable: a restart loses all
// in-flight task state, and tasks are re-initiated by the user.
type Registry struct {
	mu    sync.Mutex
	tasks map[string]*slot

	// now is a seam for tests.
	now func() time.Time
}

type slot struct {
	mu sync.Mutex
	st *State
}

func NewRegistry() *Registry {
	return &Registry{tasks: make(map[string]*slot), now: time.Now}
}

// Create registers st under st.ID. Fails with ErrAlreadyExists when the
// id is taken.
func (r *Registry) Create(st *State) error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if _, ok := r.tasks[st.ID]; ok {
		return ErrAlreadyExists
	}
	st.FetchedN = st.Skip
	r.tasks[st.ID] = &slot{st: st}
	return nil
}

// Get returns the live state for id. The bool reports presence. Callers
// other than the owning engine must not mutate counters on the result;
// use Snapshot for reads.
func (r *Registry) Get(id string) (*State, bool) {
	s := r.slot(id)
	if s == nil {
		return nil, false
	}
	return s.st, true
}

// Increment adds delta to the named counter. A missing task is a no-op,
// not an error: the task may have been retired by a concurrent Delete.
func (r *Registry) Increment(id string, c Counter, delta int) {
	s := r.slot(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	switch c {
	case Fetched:
		s.st.FetchedN += delta
	case Forwarded:
		s.st.ForwardedN += delta
	case Duplicate:
		s.st.DuplicateN += delta
	case Filtered:
		s.st.FilteredN += delta
	case Skipped:
		s.st.SkippedN += delta
	}
}

// MarkStart stamps StartedAt once; repeated calls keep the first stamp.
func (r *Registry) MarkStart(id string) {
	s := r.slot(id)
	if s == nil {
		return
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.st.StartedAt.IsZero() {
		s.st.StartedAt = r.now()
	}
}

// RequestCancel flags the task for cancellation. Reports whether the
// task was still registered.
func (r *Registry) RequestCancel(id string) bool {
	s := r.slot(id)
	if s == nil {
		return false
	}
	s.st.RequestCancel()
	return true
}

// Delete retires the task. Idempotent.
func (r *Registry) Delete(id string) {
	r.mu.Lock()
	defer r.mu.Unlock()
	delete(r.tasks, id)
}

// Snapshot returns a consistent read of the task's progress. The bool
// reports presence.
func (r *Registry) Snapshot(id string) (Snapshot, bool) {
	s := r.slot(id)
	if s == nil {
		return Snapshot{}, false
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return makeSnapshot(s.st, r.now()), true
}

func (r *Registry) slot(id string) *slot {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.tasks[id]
}
