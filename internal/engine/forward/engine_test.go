package forward

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"testing"
	"time"

	"fwdbot/internal/flood"
	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// ---- fakes ----

type fakeSource struct {
	items []transport.Item
	// failAt injects an enumeration failure before yielding item index n.
	failAt int
}

type fakeIter struct {
	src    *fakeSource
	pos    int
	limit  int
	failAt int
}

func (s *fakeSource) Messages(ctx context.Context, chat transport.ChatRef, offset, limit int) transport.Iterator {
	it := &fakeIter{src: s, pos: offset, limit: limit, failAt: -1}
	if s.failAt > 0 {
		it.failAt = s.failAt
	}
	return it
}

func (it *fakeIter) Next(ctx context.Context) (transport.Item, bool, error) {
	if it.failAt >= 0 && it.pos >= it.failAt {
		return transport.Item{}, false, &transport.EnumerationError{Err: errors.New("history gone")}
	}
	if it.pos >= len(it.src.items) || it.limit <= 0 {
		return transport.Item{}, false, nil
	}
	item := it.src.items[it.pos]
	it.pos++
	it.limit--
	return item, true, nil
}

type fakeSink struct {
	mu       sync.Mutex
	batches  [][]int
	copied   []int
	cached   []int
	deleted  [][]int
	failCopy map[int]error
}

func (f *fakeSink) Copy(ctx context.Context, to transport.ChatRef, item transport.Item, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.failCopy[item.ID]; err != nil {
		return err
	}
	f.copied = append(f.copied, item.ID)
	return nil
}

func (f *fakeSink) SendCached(ctx context.Context, to transport.ChatRef, item transport.Item, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.cached = append(f.cached, item.ID)
	return nil
}

func (f *fakeSink) ForwardBatch(ctx context.Context, to, from transport.ChatRef, ids []int, protect bool) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.batches = append(f.batches, append([]int(nil), ids...))
	return nil
}

func (f *fakeSink) DeleteBatch(ctx context.Context, chat transport.ChatRef, ids []int) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.deleted = append(f.deleted, append([]int(nil), ids...))
	return nil
}

func (f *fakeSink) SendText(ctx context.Context, chat transport.ChatRef, text string, opt *transport.SendOptions) (transport.MsgRef, error) {
	return transport.MsgRef{}, nil
}

func (f *fakeSink) EditText(ctx context.Context, ref transport.MsgRef, text string, opt *transport.SendOptions) error {
	return nil
}

type fakeFPS struct {
	mu   sync.Mutex
	seen map[string]bool
}

func (f *fakeFPS) Seen(ctx context.Context, chatKey, fp string) (bool, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.seen == nil {
		f.seen = make(map[string]bool)
	}
	key := chatKey + "/" + fp
	if f.seen[key] {
		return true, nil
	}
	f.seen[key] = true
	return false, nil
}

type fakeNotifier struct {
	mu    sync.Mutex
	texts []string
}

func (f *fakeNotifier) Notify(ctx context.Context, userID int64, text string) {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.texts = append(f.texts, text)
}

func docItems(n int) []transport.Item {
	items := make([]transport.Item, 0, n)
	for i := 1; i <= n; i++ {
		items = append(items, transport.Item{
			ID:          i,
			Kind:        transport.KindDocument,
			FileName:    fmt.Sprintf("file-%d.mkv", i),
			FileSize:    1 << 20,
			FileID:      fmt.Sprintf("cached-%d", i),
			Fingerprint: fmt.Sprintf("fp-%d", i),
		})
	}
	return items
}

type harness struct {
	eng   *Engine
	reg   *task.Registry
	guard *task.Guard
	sink  *fakeSink
	notif *fakeNotifier
}

func newHarness(src *fakeSource) *harness {
	h := &harness{
		reg:   task.NewRegistry(),
		guard: task.NewGuard(),
		sink:  &fakeSink{},
		notif: &fakeNotifier{},
	}
	h.eng = New(h.reg, h.guard, src, h.sink, flood.NewSender(logx.Nop()), &fakeFPS{}, h.notif, logx.Nop())
	h.eng.sleep = func(ctx context.Context, d time.Duration) error { return nil }
	return h
}

func newState(skip, limit int) *task.State {
	return &task.State{
		ID:     task.NewID(7),
		UserID: 7,
		Source: transport.ChatRef{ID: -100111},
		Target: transport.ChatRef{ID: -100222},
		Skip:   skip,
		Limit:  limit,
		Total:  limit,
	}
}

// ---- tests ----

func TestTagForwardTailFlush(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{items: docItems(250)})
	st := newState(0, 250)

	err := h.eng.Run(context.Background(), st, Options{ForwardTag: true}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.sink.batches) != 3 {
		t.Fatalf("forward calls = %d, want 3", len(h.sink.batches))
	}
	for i, want := range []int{100, 100, 50} {
		if len(h.sink.batches[i]) != want {
			t.Fatalf("batch %d size = %d, want %d", i, len(h.sink.batches[i]), want)
		}
	}
}

func TestCopyModeUsesCachedPathWithCaption(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{items: docItems(5)})
	st := newState(0, 5)

	err := h.eng.Run(context.Background(), st, Options{Caption: "mirror"}, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.sink.cached) != 5 || len(h.sink.copied) != 0 {
		t.Fatalf("cached=%d copied=%d, want all through cached path", len(h.sink.cached), len(h.sink.copied))
	}
	if h.notif.texts[len(h.notif.texts)-1] != "Forwarding completed." {
		t.Fatalf("final notice = %q", h.notif.texts)
	}
}

func TestPerItemFailureDegradesNotAborts(t *testing.T) {
	t.Parallel()
	src := &fakeSource{items: docItems(4)}
	h := newHarness(src)
	h.sink.failCopy = map[int]error{2: transport.ErrPermissionDenied}
	st := newState(0, 4)

	var final task.Snapshot
	progress := func(snap task.Snapshot, o task.Outcome) {
		if o.Terminal() {
			final = snap
		}
	}
	if err := h.eng.Run(context.Background(), st, Options{}, progress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Forwarded != 3 || final.Skipped != 1 {
		t.Fatalf("forwarded=%d skipped=%d, want 3/1", final.Forwarded, final.Skipped)
	}
}

func TestDuplicateSkipCountsOnce(t *testing.T) {
	t.Parallel()
	items := docItems(3)
	items[2].Fingerprint = items[0].Fingerprint
	h := newHarness(&fakeSource{items: items})
	st := newState(0, 3)

	var final task.Snapshot
	progress := func(snap task.Snapshot, o task.Outcome) {
		if o.Terminal() {
			final = snap
		}
	}
	err := h.eng.Run(context.Background(), st, Options{SkipDuplicate: true}, progress)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Duplicate != 1 || final.Forwarded != 2 {
		t.Fatalf("duplicate=%d forwarded=%d, want 1/2", final.Duplicate, final.Forwarded)
	}
}

func TestFilteredAndServiceCounters(t *testing.T) {
	t.Parallel()
	items := docItems(4)
	items[1].Service = true
	items[2].FileName = "notes.txt"
	h := newHarness(&fakeSource{items: items})
	st := newState(0, 4)

	opt := Options{Filter: Filter{Extensions: []string{"mkv"}}}
	var final task.Snapshot
	progress := func(snap task.Snapshot, o task.Outcome) {
		if o.Terminal() {
			final = snap
		}
	}
	if err := h.eng.Run(context.Background(), st, opt, progress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if final.Skipped != 1 || final.Filtered != 1 || final.Forwarded != 2 {
		t.Fatalf("skipped=%d filtered=%d forwarded=%d, want 1/1/2",
			final.Skipped, final.Filtered, final.Forwarded)
	}
	// Data-model invariant at the terminal snapshot.
	if sum := final.Forwarded + final.Duplicate + final.Filtered + final.Skipped; sum > final.Fetched {
		t.Fatalf("invariant violated: %d > fetched %d", sum, final.Fetched)
	}
}

func TestCancellationStopsWithinOneIteration(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{items: docItems(1000)})
	st := newState(0, 1000)

	cancelAfter := 5
	n := 0
	var outcomes []task.Outcome
	progress := func(snap task.Snapshot, o task.Outcome) { outcomes = append(outcomes, o) }

	// Cancel from "outside" via the per-item delay hook.
	h.eng.sleep = func(ctx context.Context, d time.Duration) error {
		n++
		if n == cancelAfter {
			st.RequestCancel()
		}
		return nil
	}
	if err := h.eng.Run(context.Background(), st, Options{ItemDelay: time.Millisecond}, progress); err != nil {
		t.Fatalf("Run: %v", err)
	}
	if len(h.sink.copied) > cancelAfter+1 {
		t.Fatalf("copied %d items after cancel at %d", len(h.sink.copied), cancelAfter)
	}
	if outcomes[len(outcomes)-1] != task.Cancelled {
		t.Fatalf("terminal outcome = %v, want cancelled", outcomes[len(outcomes)-1])
	}
}

func TestEnumerationFailureIsFatal(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{items: docItems(100), failAt: 10})
	st := newState(0, 100)

	err := h.eng.Run(context.Background(), st, Options{}, nil)
	var ee *transport.EnumerationError
	if !errors.As(err, &ee) {
		t.Fatalf("err = %v, want EnumerationError", err)
	}
	// Teardown must have run: keys free, task retired.
	if _, busy := h.guard.UserBusy(7); busy {
		t.Fatal("user key still busy after fatal error")
	}
	if _, ok := h.reg.Snapshot(st.ID); ok {
		t.Fatal("task not retired after fatal error")
	}
}

func TestAdmissionBusy(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{items: docItems(10)})

	// Occupy the target chat key.
	_, err := h.guard.Acquire(99, transport.ChatRef{ID: -100222}.Key(), "other")
	if err != nil {
		t.Fatalf("Acquire: %v", err)
	}
	st := newState(0, 10)
	if err := h.eng.Run(context.Background(), st, Options{}, nil); !errors.Is(err, task.ErrBusy) {
		t.Fatalf("err = %v, want ErrBusy", err)
	}
	if len(h.sink.copied) != 0 {
		t.Fatal("engine ran despite busy target")
	}
}

func TestTeardownReleasesExactlyOnce(t *testing.T) {
	t.Parallel()
	h := newHarness(&fakeSource{items: docItems(10)})
	st := newState(0, 10)

	if err := h.eng.Run(context.Background(), st, Options{}, nil); err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Keys free and reusable straight away.
	rel, err := h.guard.Acquire(7, transport.ChatRef{ID: -100222}.Key(), "next")
	if err != nil {
		t.Fatalf("keys not released: %v", err)
	}
	rel()
	// Exactly one terminal notification.
	if len(h.notif.texts) != 1 {
		t.Fatalf("notifications = %d, want 1", len(h.notif.texts))
	}
}
