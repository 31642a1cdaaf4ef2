// Package flood wraps outbound platform calls with bounded retry on
// rate-limit signals. Every send, copy, forward and delete the engines
// issue goes through a Sender.
package flood

import (
	"context"
	"errors"
	"time"

	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// ErrExhausted is returned when an operation stayed rate-limited through
// every allowed attempt.
var ErrExhausted = errors.New("rate limit retries exhausted")

// maxAttempts bounds how often a flood-limited call is retried before
// the failure is surfaced to the caller.
const maxAttempts = 3

// Op is any platform call returning success or a typed failure.
type Op func(ctx context.Context) error

// Sender retries Ops on flood signals with the platform-requested wait
// plus one second of slack. It never retries indefinitely: control
// returns to the caller within maxAttempts * (max wait + 1s) plus
// processing time.
type Sender struct {
	log logx.Logger

	// sleep is a seam for tests; nil means context-aware real sleep.
	sleep func(ctx context.Context, d time.Duration) error
}

func NewSender(log logx.Logger) *Sender {
	return &Sender{log: log}
}

// Do runs op, absorbing up to maxAttempts flood signals. Non-flood
// errors surface immediately.
func (s *Sender) Do(ctx context.Context, op Op) error {
	var last error
	for attempt := 1; attempt <= maxAttempts; attempt++ {
		err := op(ctx)
		if err == nil {
			return nil
		}
		wait, ok := transport.AsFlood(err)
		if !ok {
			return err
		}
		last = err
		if attempt == maxAttempts {
			break
		}
		d := wait + time.Second
		s.log.Warn("rate limited, backing off",
			logx.Duration("wait", d), logx.Int("attempt", attempt))
		if err := s.doSleep(ctx, d); err != nil {
			return err
		}
	}
	s.log.Error("rate limit retries exhausted", logx.Err(last))
	return errors.Join(ErrExhausted, last)
}

// DoOnce runs op and, on any failure, backs off once and retries a
// single time. Only for idempotent copy/forward primitives where one
// blind retry cannot double-deliver.
func (s *Sender) DoOnce(ctx context.Context, op Op) error {
	err := op(ctx)
	if err == nil {
		return nil
	}
	wait, flood := transport.AsFlood(err)
	d := wait + time.Second
	if !flood {
		d = time.Second
	}
	s.log.Warn("send failed, retrying once",
		logx.Duration("wait", d), logx.Err(err))
	if serr := s.doSleep(ctx, d); serr != nil {
		return serr
	}
	return op(ctx)
}

func (s *Sender) doSleep(ctx context.Context, d time.Duration) error {
	if s.sleep != nil {
		return s.sleep(ctx, d)
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
