// Package dedup streams a chat's indexed documents, fingerprints them
// and deletes duplicates in batches. Memory grows with the distinct
// fingerprint count, which is acceptable for bounded channel sizes.
package dedup

import (
	"context"
	"time"

	"fwdbot/internal/flood"
	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

const (
	batchSize     = 100
	progressEvery = 10000
)

// Index is the document stream plus the hook that keeps the message
// index in step with deletions, so a re-run does not see ghosts.
type Index interface {
	Documents(ctx context.Context, chat transport.ChatRef) transport.Iterator
	DeleteIndexed(ctx context.Context, chat transport.ChatRef, ids []int) error
}

type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

type Engine struct {
	reg    *task.Registry
	guard  *task.Guard
	index  Index
	sink   transport.Sink
	sender *flood.Sender
	notif  Notifier
	log    logx.Logger
}

func New(reg *task.Registry, guard *task.Guard, index Index, sink transport.Sink,
	sender *flood.Sender, notif Notifier, log logx.Logger) *Engine {
	return &Engine{
		reg: reg, guard: guard, index: index, sink: sink, sender: sender, notif: notif,
		log: log.With(logx.String("comp", "dedup")),
	}
}

// Run deduplicates st.Target. Shares the forward engine's admission and
// teardown contract: busy keys held for the run, teardown on every exit
// path exactly once.
func (e *Engine) Run(ctx context.Context, st *task.State, progress task.ProgressFunc) error {
	st.Kind = task.KindDedup

	release, err := e.guard.Acquire(st.UserID, st.Target.Key(), st.ID)
	if err != nil {
		return err
	}
	if err := e.reg.Create(st); err != nil {
		release()
		return err
	}

	log := e.log.With(logx.String("task", st.ID), logx.String("chat", st.Target.String()))
	log.Info("dedup task started")

	outcome := task.Failed
	var runErr error
	defer func() {
		release()
		if progress != nil {
			if snap, ok := e.reg.Snapshot(st.ID); ok {
				progress(snap, outcome)
			}
		}
		if e.notif != nil {
			e.notif.Notify(context.Background(), st.UserID, outcomeText(outcome, runErr))
		}
		if runErr != nil {
			log.Error("dedup task failed", logx.Err(runErr))
		}
		e.reg.Delete(st.ID)
	}()

	e.reg.MarkStart(st.ID)
	e.publish(st.ID, progress, task.Running)

	seen := make(map[string]struct{})
	var pending []int
	iter := e.index.Documents(ctx, st.Target)
	fetched := 0
	start := time.Now()

	for {
		if st.CancelRequested() || ctx.Err() != nil {
			outcome = task.Cancelled
			log.Info("dedup task cancelled", logx.Int("fetched", fetched))
			return nil
		}

		item, ok, err := iter.Next(ctx)
		if err != nil {
			runErr = err
			return err
		}
		if !ok {
			break
		}
		e.reg.Increment(st.ID, task.Fetched, 1)
		fetched++

		if item.Fingerprint != "" {
			if _, dup := seen[item.Fingerprint]; dup {
				pending = append(pending, item.ID)
			} else {
				seen[item.Fingerprint] = struct{}{}
			}
		}

		if len(pending) >= batchSize {
			pending = e.flush(ctx, st, pending, progress)
		}
		if fetched%progressEvery == 0 {
			e.publish(st.ID, progress, task.Running)
		}
	}

	if len(pending) > 0 {
		e.flush(ctx, st, pending, progress)
	}

	outcome = task.Completed
	log.Info("dedup task completed",
		logx.Int("fetched", fetched), logx.Int("distinct", len(seen)),
		logx.Duration("dur", time.Since(start)))
	return nil
}

// flush deletes the pending batch. A failed delete keeps the batch for
// the next boundary instead of aborting the run.
func (e *Engine) flush(ctx context.Context, st *task.State, pending []int, progress task.ProgressFunc) []int {
	err := e.sender.Do(ctx, func(ctx context.Context) error {
		return e.sink.DeleteBatch(ctx, st.Target, pending)
	})
	if err != nil {
		e.log.Warn("delete batch failed, will retry",
			logx.String("task", st.ID), logx.Int("size", len(pending)), logx.Err(err))
		return pending
	}
	e.reg.Increment(st.ID, task.Skipped, len(pending))
	if err := e.index.DeleteIndexed(ctx, st.Target, pending); err != nil {
		e.log.Warn("index cleanup failed", logx.String("task", st.ID), logx.Err(err))
	}
	e.publish(st.ID, progress, task.Running)
	return pending[:0]
}

func (e *Engine) publish(id string, progress task.ProgressFunc, outcome task.Outcome) {
	if progress == nil {
		return
	}
	if snap, ok := e.reg.Snapshot(id); ok {
		progress(snap, outcome)
	}
}

func outcomeText(o task.Outcome, err error) string {
	switch o {
	case task.Completed:
		return "Duplicate cleanup completed."
	case task.Cancelled:
		return "Duplicate cleanup cancelled."
	default:
		if err != nil {
			return "Duplicate cleanup failed: " + err.Error()
		}
		return "Duplicate cleanup failed."
	}
}
