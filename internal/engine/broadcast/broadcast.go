// Package broadcast fan-outs one message to every known recipient,
// tolerating per-recipient failures and pruning dead accounts.
package broadcast

import (
	"context"
	"errors"
	"time"

	"golang.org/x/time/rate"

	"fwdbot/internal/flood"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

const snapshotEvery = 100

// Recipients is a drained, one-shot recipient source. Cleanup runs after
// a run that processed at least one recipient.
type Recipients interface {
	Total() int
	Next(ctx context.Context) (int64, bool, error)
	Cleanup(ctx context.Context) error
}

// Remover prunes recipients whose accounts no longer exist.
type Remover interface {
	DeleteUser(ctx context.Context, id int64) error
}

// Summary aggregates one run. Done counts every processed recipient,
// regardless of outcome.
type Summary struct {
	Total   int
	Done    int
	Success int
	Blocked int
	Deleted int
	Failed  int
	Elapsed time.Duration
}

// SnapshotFunc receives the running aggregate every snapshotEvery
// recipients and once more at the end.
type SnapshotFunc func(Summary)

type Config struct {
	// SendInterval paces successful sends; failures are not throttled.
	SendInterval time.Duration
}

type Engine struct {
	cfg     Config
	sink    transport.Sink
	sender  *flood.Sender
	remover Remover
	log     logx.Logger
}

func New(cfg Config, sink transport.Sink, sender *flood.Sender, remover Remover, log logx.Logger) *Engine {
	if cfg.SendInterval <= 0 {
		cfg.SendInterval = 2 * time.Second
	}
	return &Engine{
		cfg: cfg, sink: sink, sender: sender, remover: remover,
		log: log.With(logx.String("comp", "broadcast")),
	}
}

// Run copies payload to every recipient. Per-recipient failures are
// classified and counted, never propagated; only a broken recipient
// source aborts the run.
func (e *Engine) Run(ctx context.Context, payload transport.Item, rcp Recipients, snap SnapshotFunc) (Summary, error) {
	sum := Summary{Total: rcp.Total()}
	start := time.Now()
	limiter := rate.NewLimiter(rate.Every(e.cfg.SendInterval), 1)

	e.log.Info("broadcast started", logx.Int("total", sum.Total))

	for {
		if err := ctx.Err(); err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		id, ok, err := rcp.Next(ctx)
		if err != nil {
			sum.Elapsed = time.Since(start)
			return sum, err
		}
		if !ok {
			break
		}

		switch e.sendOne(ctx, id, payload) {
		case outcomeSent:
			sum.Success++
			// Throttle only what actually went out.
			if err := limiter.Wait(ctx); err != nil {
				sum.Done++
				sum.Elapsed = time.Since(start)
				return sum, err
			}
		case outcomeBlocked:
			sum.Blocked++
		case outcomeDeleted:
			sum.Deleted++
			e.removeRecipient(ctx, id)
		default:
			sum.Failed++
		}
		sum.Done++

		if snap != nil && sum.Done%snapshotEvery == 0 {
			sum.Elapsed = time.Since(start)
			snap(sum)
		}
	}

	sum.Elapsed = time.Since(start)
	if snap != nil {
		snap(sum)
	}
	if sum.Done > 0 {
		if err := rcp.Cleanup(ctx); err != nil {
			e.log.Warn("recipient source cleanup failed", logx.Err(err))
		}
	}

	fields := []logx.Field{
		logx.Int("done", sum.Done), logx.Int("success", sum.Success),
		logx.Int("blocked", sum.Blocked), logx.Int("deleted", sum.Deleted),
		logx.Int("failed", sum.Failed), logx.Duration("dur", sum.Elapsed),
	}
	if sum.Failed > 0 {
		e.log.Warn("broadcast finished with failures", fields...)
	} else {
		e.log.Info("broadcast finished", fields...)
	}
	return sum, nil
}

type outcome int

const (
	outcomeSent outcome = iota
	outcomeBlocked
	outcomeDeleted
	outcomeFailed
)

func (e *Engine) sendOne(ctx context.Context, id int64, payload transport.Item) outcome {
	to := transport.ChatRef{ID: id}
	err := e.sender.Do(ctx, func(ctx context.Context) error {
		return e.sink.Copy(ctx, to, payload, nil)
	})
	switch {
	case err == nil:
		return outcomeSent
	case errors.Is(err, transport.ErrBlocked):
		return outcomeBlocked
	case errors.Is(err, transport.ErrDeactivated):
		return outcomeDeleted
	default:
		e.log.Warn("broadcast send failed", logx.Int64("user", id), logx.Err(err))
		return outcomeFailed
	}
}

// removeRecipient is best-effort: a failed removal is logged, never
// propagated.
func (e *Engine) removeRecipient(ctx context.Context, id int64) {
	if e.remover == nil {
		return
	}
	if err := e.remover.DeleteUser(ctx, id); err != nil {
		e.log.Warn("failed to remove deactivated user", logx.Int64("user", id), logx.Err(err))
		return
	}
	e.log.Info("removed deactivated user", logx.Int64("user", id))
}

// SliceRecipients adapts a fixed id list (e.g. a point-in-time read of
// the user table) into a one-shot Recipients.
type SliceRecipients struct {
	IDs []int64
	// OnCleanup runs once after a non-empty run; nil is fine.
	OnCleanup func(ctx context.Context) error

	pos int
}

func (s *SliceRecipients) Total() int { return len(s.IDs) }

func (s *SliceRecipients) Next(ctx context.Context) (int64, bool, error) {
	if s.pos >= len(s.IDs) {
		return 0, false, nil
	}
	id := s.IDs[s.pos]
	s.pos++
	return id, true, nil
}

func (s *SliceRecipients) Cleanup(ctx context.Context) error {
	s.IDs = nil
	if s.OnCleanup != nil {
		return s.OnCleanup(ctx)
	}
	return nil
}
