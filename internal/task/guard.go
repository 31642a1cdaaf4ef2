package task

import (
	"errors"
	"sync"
)

// ErrBusy rejects admission when the user or the target chat already
// has a running task.
var ErrBusy = errors.New("another task is already running")

// Guard is the lifecycle guard: at most one active task per initiating
// user and at most one per target chat. Admission and release are the
// only operations; the raw key sets are never exposed.
type Guard struct {
	mu    sync.Mutex
	users map[int64]string  // user id -> task id
	chats map[string]string // target chat key -> task id
}

func NewGuard() *Guard {
	return &Guard{
		users: make(map[int64]string),
		chats: make(map[string]string),
	}
}

// Acquire admits a task keyed by (user, chatKey). On success it returns
// an idempotent release; callers defer it so every exit path (completion,
// cancellation, fatal error) frees both keys exactly once.
func (g *Guard) Acquire(user int64, chatKey, taskID string) (release func(), err error) {
	g.mu.Lock()
	defer g.mu.Unlock()
	if _, held := g.users[user]; held {
		return nil, ErrBusy
	}
	if _, held := g.chats[chatKey]; held {
		return nil, ErrBusy
	}
	g.users[user] = taskID
	g.chats[chatKey] = taskID

	var once sync.Once
	return func() {
		once.Do(func() {
			g.mu.Lock()
			defer g.mu.Unlock()
			if g.users[user] == taskID {
				delete(g.users, user)
			}
			if g.chats[chatKey] == taskID {
				delete(g.chats, chatKey)
			}
		})
	}, nil
}

// UserBusy reports whether the user currently owns a task, and its id.
func (g *Guard) UserBusy(user int64) (string, bool) {
	g.mu.Lock()
	defer g.mu.Unlock()
	id, ok := g.users[user]
	return id, ok
}

// ChatBusy reports whether the chat key is currently a task target.
func (g *Guard) ChatBusy(chatKey string) bool {
	g.mu.Lock()
	defer g.mu.Unlock()
	_, ok := g.chats[chatKey]
	return ok
}
