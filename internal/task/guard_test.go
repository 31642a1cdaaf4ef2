package task

import (
	"errors"
	"sync"
	"sync/atomic"
	"testing"
)

func TestGuardExclusivePerUser(t *testing.T) {
	t.Parallel()
	g := NewGuard()
	rel, err := g.Acquire(1, "chat-a", "t1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := g.Acquire(1, "chat-b", "t2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("second user acquire err = %v, want ErrBusy", err)
	}
	rel()
	if _, err := g.Acquire(1, "chat-b", "t2"); err != nil {
		t.Fatalf("acquire after release: %v", err)
	}
}

func TestGuardExclusivePerTargetChat(t *testing.T) {
	t.Parallel()
	g := NewGuard()
	if _, err := g.Acquire(1, "chat-a", "t1"); err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	if _, err := g.Acquire(2, "chat-a", "t2"); !errors.Is(err, ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy for shared target", err)
	}
	if !g.ChatBusy("chat-a") {
		t.Fatal("ChatBusy = false, want true")
	}
}

func TestGuardConcurrentAdmissionSingleWinner(t *testing.T) {
	t.Parallel()
	g := NewGuard()
	const attempts = 32

	var won, busy atomic.Int64
	var wg sync.WaitGroup
	for i := 0; i < attempts; i++ {
		wg.Add(1)
		go func() {
			defer wg.Done()
			if _, err := g.Acquire(9, "chat-x", NewID(9)); err == nil {
				won.Add(1)
			} else if errors.Is(err, ErrBusy) {
				busy.Add(1)
			}
		}()
	}
	wg.Wait()
	if won.Load() != 1 {
		t.Fatalf("winners = %d, want exactly 1", won.Load())
	}
	if busy.Load() != attempts-1 {
		t.Fatalf("busy = %d, want %d", busy.Load(), attempts-1)
	}
}

func TestGuardReleaseIsIdempotent(t *testing.T) {
	t.Parallel()
	g := NewGuard()
	rel1, err := g.Acquire(1, "chat-a", "t1")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	rel1()
	rel1()

	// A later task under the same keys must not be released by the stale
	// release func.
	rel2, err := g.Acquire(1, "chat-a", "t2")
	if err != nil {
		t.Fatalf("re-acquire: %v", err)
	}
	rel1()
	if id, ok := g.UserBusy(1); !ok || id != "t2" {
		t.Fatalf("UserBusy = %q,%v; want t2 held", id, ok)
	}
	rel2()
	if _, ok := g.UserBusy(1); ok {
		t.Fatal("user still busy after release")
	}
}
