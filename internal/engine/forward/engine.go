// Package forward drives one forward task: enumerate the source range,
// classify and filter each item, then copy it or accumulate it into a
// tag-forward batch toward the target chat.
package forward

import (
	"context"
	"time"

	"fwdbot/internal/flood"
	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

const (
	defaultBatchSize     = 100
	defaultBatchCooldown = 10 * time.Second
	defaultProgressEvery = 100
)

// FingerprintStore answers duplicate-skip queries. Seen must be
// test-and-set: the first call for a fingerprint records it.
type FingerprintStore interface {
	Seen(ctx context.Context, chatKey, fp string) (bool, error)
}

// Notifier delivers the terminal outcome to the initiating user.
// Implementations are fire-and-forget.
type Notifier interface {
	Notify(ctx context.Context, userID int64, text string)
}

// Options is the aggregated per-task configuration, built once from the
// user's settings and passed by value into Run.
type Options struct {
	Filter        Filter
	SkipDuplicate bool

	Caption string
	Buttons [][]transport.Button
	Protect bool

	// ForwardTag selects batch forwarding with original attribution
	// instead of per-item copies.
	ForwardTag bool

	// ItemDelay paces copy mode. Bot identities get a longer delay than
	// user identities; the platform rate-classes them differently.
	ItemDelay time.Duration

	BatchSize     int
	BatchCooldown time.Duration
	ProgressEvery int
}

func (o Options) withDefaults() Options {
	if o.BatchSize <= 0 {
		o.BatchSize = defaultBatchSize
	}
	if o.BatchCooldown <= 0 {
		o.BatchCooldown = defaultBatchCooldown
	}
	if o.ProgressEvery <= 0 {
		o.ProgressEvery = defaultProgressEvery
	}
	return o
}

type Engine struct {
	reg    *task.Registry
	guard  *task.Guard
	source transport.Source
	sink   transport.Sink
	sender *flood.Sender
	fps    FingerprintStore
	notif  Notifier
	log    logx.Logger

	// sleep is a seam for tests; nil means context-aware real sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

func New(reg *task.Registry, guard *task.Guard, source transport.Source, sink transport.Sink,
	sender *flood.Sender, fps FingerprintStore, notif Notifier, log logx.Logger) *Engine {
	return &Engine{
		reg: reg, guard: guard, source: source, sink: sink,
		sender: sender, fps: fps, notif: notif,
		log: log.With(logx.String("comp", "forward")),
	}
}

// Run executes one forward task to completion, cancellation or fatal
// error. Admission and teardown are owned here: the busy keys are held
// for exactly the duration of the run and released on every exit path.
func (e *Engine) Run(ctx context.Context, st *task.State, opt Options, progress task.ProgressFunc) error {
	opt = opt.withDefaults()
	st.Kind = task.KindForward

	release, err := e.guard.Acquire(st.UserID, st.Target.Key(), st.ID)
	if err != nil {
		return err
	}
	if err := e.reg.Create(st); err != nil {
		release()
		return err
	}

	log := e.log.With(logx.String("task", st.ID),
		logx.String("from", st.Source.String()), logx.String("to", st.Target.String()))
	log.Info("forward task started",
		logx.Int("skip", st.Skip), logx.Int("limit", st.Limit), logx.Bool("tag", opt.ForwardTag))

	outcome := task.Failed
	var runErr error
	defer func() {
		e.teardown(st, release, progress, &outcome, runErr, log)
	}()

	e.reg.MarkStart(st.ID)
	e.publish(st.ID, progress, task.Running)

	iter := e.source.Messages(ctx, st.Source, st.Skip, st.Limit)
	var batch []int
	fetched := st.Skip
	processed := 0

	for {
		if st.CancelRequested() {
			outcome = task.Cancelled
			log.Info("forward task cancelled", logx.Int("fetched", fetched))
			return nil
		}
		if err := ctx.Err(); err != nil {
			outcome = task.Cancelled
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
		processed++

		switch {
		case item.Empty || item.Service:
			e.reg.Increment(st.ID, task.Skipped, 1)
		case !opt.Filter.Allows(item):
			e.reg.Increment(st.ID, task.Filtered, 1)
		case opt.SkipDuplicate && e.isDuplicate(ctx, st, item):
			e.reg.Increment(st.ID, task.Duplicate, 1)
		case opt.ForwardTag:
			batch = append(batch, item.ID)
			// The tail flushes as soon as the unfetched remainder hits
			// zero; a short final batch must not wait for a refill that
			// will never come.
			if len(batch) >= opt.BatchSize || st.Total-fetched <= 0 {
				if err := e.flush(ctx, st, &batch, opt); err != nil {
					runErr = err
					return err
				}
			}
		default:
			e.copyOne(ctx, st, item, opt)
			if err := e.doSleep(ctx, opt.ItemDelay); err != nil {
				outcome = task.Cancelled
				return nil
			}
		}

		if processed%opt.ProgressEvery == 0 {
			e.publish(st.ID, progress, task.Running)
		}
	}

	if len(batch) > 0 {
		if err := e.flush(ctx, st, &batch, opt); err != nil {
			runErr = err
			return err
		}
	}

	outcome = task.Completed
	log.Info("forward task completed", logx.Int("fetched", fetched))
	return nil
}

// flush forwards the accumulated batch as one platform call and pauses
// for the aggregate-rate cooldown.
func (e *Engine) flush(ctx context.Context, st *task.State, batch *[]int, opt Options) error {
	ids := *batch
	if len(ids) == 0 {
		return nil
	}
	err := e.sender.Do(ctx, func(ctx context.Context) error {
		return e.sink.ForwardBatch(ctx, st.Target, st.Source, ids, opt.Protect)
	})
	if err != nil {
		return err
	}
	e.reg.Increment(st.ID, task.Forwarded, len(ids))
	*batch = ids[:0]
	return e.doSleep(ctx, opt.BatchCooldown)
}

// copyOne sends a single item. A terminal per-item failure degrades the
// item to skipped instead of aborting the task.
func (e *Engine) copyOne(ctx context.Context, st *task.State, item transport.Item, opt Options) {
	sendOpt := &transport.SendOptions{
		Caption: opt.Caption,
		Buttons: opt.Buttons,
		Protect: opt.Protect,
	}
	err := e.sender.Do(ctx, func(ctx context.Context) error {
		if opt.Caption != "" && item.Kind.HasFile() && item.FileID != "" {
			return e.sink.SendCached(ctx, st.Target, item, sendOpt)
		}
		return e.sink.Copy(ctx, st.Target, item, sendOpt)
	})
	if err != nil {
		e.log.Warn("copy failed, item skipped",
			logx.String("task", st.ID), logx.Int("msg", item.ID), logx.Err(err))
		e.reg.Increment(st.ID, task.Skipped, 1)
		return
	}
	e.reg.Increment(st.ID, task.Forwarded, 1)
}

func (e *Engine) isDuplicate(ctx context.Context, st *task.State, item transport.Item) bool {
	if e.fps == nil || item.Fingerprint == "" {
		return false
	}
	seen, err := e.fps.Seen(ctx, st.Target.Key(), item.Fingerprint)
	if err != nil {
		// Store trouble must not kill the task; treat as not-a-duplicate.
		e.log.Warn("fingerprint lookup failed", logx.String("task", st.ID), logx.Err(err))
		return false
	}
	return seen
}

// teardown runs exactly once per task on every exit path: release both
// busy keys, publish the final snapshot, tell the user, retire the
// registry entry.
func (e *Engine) teardown(st *task.State, release func(), progress task.ProgressFunc,
	outcome *task.Outcome, runErr error, log logx.Logger) {
	release()
	e.publish(st.ID, progress, *outcome)
	if e.notif != nil {
		e.notif.Notify(context.Background(), st.UserID, outcomeText(*outcome, runErr))
	}
	if runErr != nil {
		log.Error("forward task failed", logx.Err(runErr))
	}
	e.reg.Delete(st.ID)
}

func (e *Engine) publish(id string, progress task.ProgressFunc, outcome task.Outcome) {
	if progress == nil {
		return
	}
	if snap, ok := e.reg.Snapshot(id); ok {
		progress(snap, outcome)
	}
}

func (e *Engine) doSleep(ctx context.Context, d time.Duration) error {
	if d <= 0 {
		return nil
	}
	if e.sleep != nil {
		return e.sleep(ctx, d)
	}
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-t.C:
		return nil
	}
}

func outcomeText(o task.Outcome, err error) string {
	switch o {
	case task.Completed:
		return "Forwarding completed."
	case task.Cancelled:
		return "Forwarding cancelled."
	default:
		if err != nil {
			return "Forwarding failed: " + err.Error()
		}
		return "Forwarding failed."
	}
}
