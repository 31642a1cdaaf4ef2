package dedup

import (
	"context"
	"errors"

	"github.com/robfig/cron/v3"

	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// Schedule is one recurring dedup run from config.
type Schedule struct {
	Spec  string
	Owner int64
	Chat  transport.ChatRef
}

// Sweeper runs scheduled dedup passes over configured chats. A tick that
// finds the chat busy is skipped, not queued; the next tick tries again.
type Sweeper struct {
	cron *cron.Cron
	eng  *Engine
	log  logx.Logger
}

func NewSweeper(eng *Engine, log logx.Logger) *Sweeper {
	return &Sweeper{
		cron: cron.New(),
		eng:  eng,
		log:  log.With(logx.String("comp", "dedup.sweeper")),
	}
}

func (s *Sweeper) Add(sch Schedule) error {
	if sch.Chat.IsZero() {
		return errors.New("sweeper schedule needs a chat")
	}
	_, err := s.cron.AddFunc(sch.Spec, func() { s.tick(sch) })
	if err == nil {
		s.log.Info("dedup schedule registered",
			logx.String("spec", sch.Spec), logx.String("chat", sch.Chat.String()))
	}
	return err
}

func (s *Sweeper) tick(sch Schedule) {
	st := &task.State{
		ID:     task.NewID(sch.Owner),
		UserID: sch.Owner,
		Target: sch.Chat,
	}
	err := s.eng.Run(context.Background(), st, nil)
	switch {
	case errors.Is(err, task.ErrBusy):
		s.log.Info("scheduled dedup skipped, chat busy", logx.String("chat", sch.Chat.String()))
	case err != nil:
		s.log.Error("scheduled dedup failed", logx.String("chat", sch.Chat.String()), logx.Err(err))
	}
}

func (s *Sweeper) Start() { s.cron.Start() }

func (s *Sweeper) Stop() {
	// Stop returns once running jobs have finished.
	<-s.cron.Stop().Done()
}
