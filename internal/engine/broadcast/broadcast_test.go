package broadcast

import (
	"context"
	"sync"
	"testing"
	"time"

	"fwdbot/internal/flood"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

type fakeSink struct {
	mu     sync.Mutex
	sent   []int64
	outErr map[int64]error
}

func (f *fakeSink) Copy(ctx context.Context, to transport.ChatRef, item transport.Item, opt *transport.SendOptions) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	if err := f.outErr[to.ID]; err != nil {
		return err
	}
	f.sent = append(f.sent, to.ID)
	return nil
}

func (f *fakeSink) SendCached(ctx context.Context, to transport.ChatRef, item transport.Item, opt *transport.SendOptions) error {
	return nil
}
func (f *fakeSink) ForwardBatch(ctx context.Context, to, from transport.ChatRef, ids []int, protect bool) error {
	return nil
}
func (f *fakeSink) DeleteBatch(ctx context.Context, chat transport.ChatRef, ids []int) error {
	return nil
}
func (f *fakeSink) SendText(ctx context.Context, chat transport.ChatRef, text string, opt *transport.SendOptions) (transport.MsgRef, error) {
	return transport.MsgRef{}, nil
}
func (f *fakeSink) EditText(ctx context.Context, ref transport.MsgRef, text string, opt *transport.SendOptions) error {
	return nil
}

type fakeRemover struct {
	mu      sync.Mutex
	removed []int64
}

func (f *fakeRemover) DeleteUser(ctx context.Context, id int64) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.removed = append(f.removed, id)
	return nil
}

func newEngine(sink *fakeSink, rem *fakeRemover) *Engine {
	return New(Config{SendInterval: time.Nanosecond}, sink,
		flood.NewSender(logx.Nop()), rem, logx.Nop())
}

func TestClassification(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{outErr: map[int64]error{
		2: transport.ErrBlocked,
		3: transport.ErrDeactivated,
		4: transport.ErrPermissionDenied,
	}}
	rem := &fakeRemover{}
	eng := newEngine(sink, rem)

	rcp := &SliceRecipients{IDs: []int64{1, 2, 3, 4, 5}}
	sum, err := eng.Run(context.Background(), transport.Item{ID: 10}, rcp, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Done != 5 || sum.Success != 2 || sum.Blocked != 1 || sum.Deleted != 1 || sum.Failed != 1 {
		t.Fatalf("summary = %+v", sum)
	}
	// Deactivated recipients are pruned; blocked ones stay.
	if len(rem.removed) != 1 || rem.removed[0] != 3 {
		t.Fatalf("removed = %v, want [3]", rem.removed)
	}
}

func TestSnapshotCadenceAndCleanup(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	eng := newEngine(sink, nil)

	ids := make([]int64, 250)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	cleaned := 0
	rcp := &SliceRecipients{IDs: ids, OnCleanup: func(ctx context.Context) error {
		cleaned++
		return nil
	}}

	var snaps []Summary
	sum, err := eng.Run(context.Background(), transport.Item{ID: 1}, rcp, func(s Summary) {
		snaps = append(snaps, s)
	})
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	// Every 100 processed, plus the final one.
	if len(snaps) != 3 {
		t.Fatalf("snapshots = %d, want 3", len(snaps))
	}
	if snaps[0].Done != 100 || snaps[1].Done != 200 || snaps[2].Done != 250 {
		t.Fatalf("snapshot done counts = %d/%d/%d", snaps[0].Done, snaps[1].Done, snaps[2].Done)
	}
	if sum.Total != 250 || sum.Success != 250 {
		t.Fatalf("summary = %+v", sum)
	}
	if cleaned != 1 {
		t.Fatalf("cleanup ran %d times, want 1", cleaned)
	}
}

func TestEmptyRunSkipsCleanup(t *testing.T) {
	t.Parallel()
	eng := newEngine(&fakeSink{}, nil)
	cleaned := 0
	rcp := &SliceRecipients{OnCleanup: func(ctx context.Context) error {
		cleaned++
		return nil
	}}
	sum, err := eng.Run(context.Background(), transport.Item{}, rcp, nil)
	if err != nil {
		t.Fatalf("Run: %v", err)
	}
	if sum.Done != 0 || cleaned != 0 {
		t.Fatalf("done=%d cleaned=%d, want 0/0", sum.Done, cleaned)
	}
}

func TestContextCancelAborts(t *testing.T) {
	t.Parallel()
	sink := &fakeSink{}
	eng := newEngine(sink, nil)

	ctx, cancel := context.WithCancel(context.Background())
	ids := make([]int64, 50)
	for i := range ids {
		ids[i] = int64(i + 1)
	}
	stop := &SliceRecipients{IDs: ids}
	n := 0
	// Cancel mid-run from the snapshot hook is too coarse; wrap Next.
	wrapped := recipientsFunc{
		total: stop.Total,
		next: func(ctx context.Context) (int64, bool, error) {
			n++
			if n == 10 {
				cancel()
			}
			return stop.Next(ctx)
		},
		cleanup: stop.Cleanup,
	}
	sum, err := eng.Run(ctx, transport.Item{}, wrapped, nil)
	if err == nil {
		t.Fatal("expected context error")
	}
	if sum.Done >= 50 {
		t.Fatalf("processed all %d recipients despite cancel", sum.Done)
	}
}

type recipientsFunc struct {
	total   func() int
	next    func(ctx context.Context) (int64, bool, error)
	cleanup func(ctx context.Context) error
}

func (r recipientsFunc) Total() int { return r.total() }
func (r recipientsFunc) Next(ctx context.Context) (int64, bool, error) {
	return r.next(ctx)
}
func (r recipientsFunc) Cleanup(ctx context.Context) error { return r.cleanup(ctx) }
