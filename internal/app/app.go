// Package app assembles the bot: config, logging, storage, the Telegram
// adapter and the task engines, in that order. Stop tears down in
// reverse so in-flight work drains before its dependencies go away.
package app

import (
	"context"
	"fmt"

	"fwdbot/internal/bot"
	"fwdbot/internal/config"
	"fwdbot/internal/engine/broadcast"
	"fwdbot/internal/engine/dedup"
	"fwdbot/internal/engine/forward"
	"fwdbot/internal/flood"
	"fwdbot/internal/notifier"
	"fwdbot/internal/storage"
	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/internal/transport/telegram"
	"fwdbot/pkg/logx"
)

type App struct {
	cfgm    *config.Manager
	log     logx.Logger
	store   *storage.Store
	adapter *telegram.Adapter
	notif   *notifier.Service
	sweeper *dedup.Sweeper
	front   *bot.Service

	cancel context.CancelFunc
}

func New(cfgPath string) (*App, error) {
	boot := logx.NewConsole("info")

	cfgm := config.NewManager(cfgPath, boot)
	cfg, err := cfgm.Load()
	if err != nil {
		return nil, fmt.Errorf("load config: %w", err)
	}

	logFile := ""
	if cfg.Logging.File.Enabled {
		logFile = cfg.Logging.File.Path
	}
	log, err := logx.New(logx.Config{
		Level:   cfg.Logging.Level,
		Console: cfg.Logging.Console,
		File:    logFile,
	})
	if err != nil {
		return nil, fmt.Errorf("init logging: %w", err)
	}

	store, err := storage.Open(storage.Config{
		Path:        cfg.Storage.Path,
		BusyTimeout: cfg.BusyTimeout(),
	}, log)
	if err != nil {
		return nil, fmt.Errorf("open storage: %w", err)
	}

	adapter, err := telegram.New(telegram.Config{
		Token:       cfg.Telegram.Token,
		PollTimeout: cfg.PollTimeout(),
	}, log)
	if err != nil {
		_ = store.Close()
		return nil, fmt.Errorf("telegram: %w", err)
	}
	adapter.SetIndexer(store)

	sender := flood.NewSender(log)
	reg := task.NewRegistry()
	guard := task.NewGuard()

	notif := notifier.New(notifier.Config{RatePerSec: cfg.NotifyRate()}, adapter, log)

	fwd := forward.New(reg, guard, store, adapter, sender, store, notif, log)
	ddp := dedup.New(reg, guard, store, adapter, sender, notif, log)
	bc := broadcast.New(broadcast.Config{SendInterval: cfg.BroadcastInterval()}, adapter, sender, store, log)

	sweeper := dedup.NewSweeper(ddp, log)
	for _, sch := range cfg.Sweeper.Schedules {
		chat, ok := transport.ParseChatRef(sch.Chat)
		if !ok {
			_ = store.Close()
			return nil, fmt.Errorf("sweeper chat %q is not a chat id or handle", sch.Chat)
		}
		if err := sweeper.Add(dedup.Schedule{Spec: sch.Spec, Owner: sch.Owner, Chat: chat}); err != nil {
			_ = store.Close()
			return nil, fmt.Errorf("sweeper schedule %q: %w", sch.Spec, err)
		}
	}

	front := bot.NewService(adapter, store, reg, guard, fwd, ddp, bc, notif, sender, cfgm.Get, log)

	return &App{
		cfgm:    cfgm,
		log:     log,
		store:   store,
		adapter: adapter,
		notif:   notif,
		sweeper: sweeper,
		front:   front,
	}, nil
}

// Start brings everything online and returns. The app runs until ctx is
// cancelled; Stop does the actual teardown.
func (a *App) Start(ctx context.Context) error {
	ctx, a.cancel = context.WithCancel(ctx)

	// Hot-reload applies what can change at runtime. Engine topology and
	// the bot token are boot-time only.
	a.cfgm.OnChange(func(cfg *config.Config) {
		logx.SetGlobalLevel(cfg.Logging.Level)
		a.log.Info("applied reloaded config", logx.String("level", cfg.Logging.Level))
	})
	go func() {
		if err := a.cfgm.Watch(ctx); err != nil {
			a.log.Warn("config watcher exited", logx.Err(err))
		}
	}()

	a.notif.Start(ctx)
	a.front.Register(ctx)
	a.sweeper.Start()
	a.adapter.Start()

	a.log.Info("bot started")
	return nil
}

func (a *App) Stop() {
	if a.cancel != nil {
		a.cancel()
	}
	a.adapter.Stop()
	a.sweeper.Stop()
	a.notif.Stop()
	if err := a.store.Close(); err != nil {
		a.log.Warn("storage close failed", logx.Err(err))
	}
	a.log.Info("bot stopped")
}
