package bot

import (
	"context"
	"sync"
	"time"

	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// presenter owns one task's status message. The engine publishes
// snapshots at its own cadence; the presenter throttles edits so the
// status message is not itself a flood source. Terminal snapshots always
// go out.
type presenter struct {
	svc  *Service
	chat transport.ChatRef

	interval time.Duration

	mu       sync.Mutex
	ref      transport.MsgRef
	haveRef  bool
	lastEdit time.Time
}

func (s *Service) newPresenter(chat transport.ChatRef, interval time.Duration) *presenter {
	return &presenter{svc: s, chat: chat, interval: interval}
}

// publish implements task.ProgressFunc.
func (p *presenter) publish(snap task.Snapshot, out task.Outcome) {
	p.mu.Lock()
	defer p.mu.Unlock()

	now := time.Now()
	if !out.Terminal() && p.haveRef && now.Sub(p.lastEdit) < p.interval {
		return
	}

	text := renderProgress(snap, out)
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	if !p.haveRef {
		ref, err := p.sendStatus(ctx, text, out)
		if err != nil {
			p.svc.log.Warn("status message send failed",
				logx.String("task", snap.ID), logx.Err(err))
			return
		}
		p.ref = ref
		p.haveRef = true
		p.lastEdit = now
		return
	}

	// Edits are idempotent; one retry on a transient failure is enough.
	err := p.svc.sender.DoOnce(ctx, func(ctx context.Context) error {
		return p.svc.adapter.EditText(ctx, p.ref, text, statusOptions(out))
	})
	if err != nil {
		p.svc.log.Warn("status message edit failed",
			logx.String("task", snap.ID), logx.Err(err))
		return
	}
	p.lastEdit = now
}

func (p *presenter) sendStatus(ctx context.Context, text string, out task.Outcome) (transport.MsgRef, error) {
	var ref transport.MsgRef
	err := p.svc.sender.DoOnce(ctx, func(ctx context.Context) error {
		var err error
		ref, err = p.svc.adapter.SendText(ctx, p.chat, text, statusOptions(out))
		return err
	})
	return ref, err
}

// statusOptions attaches the cancel button while the task runs and
// drops it once a terminal outcome lands.
func statusOptions(out task.Outcome) *transport.SendOptions {
	opt := &transport.SendOptions{HTML: true}
	if !out.Terminal() {
		opt.Buttons = [][]transport.Button{{{Text: cancelButton.Text, Data: cancelButton.Unique}}}
	}
	return opt
}
