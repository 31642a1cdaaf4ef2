// Package bot is the command front-end: it turns Telegram updates into
// engine runs and renders task progress back into the originating chat.
package bot

import (
	"context"
	"strconv"
	"strings"
	"sync"

	tele "gopkg.in/telebot.v4"

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

type Service struct {
	adapter *telegram.Adapter
	store   *storage.Store
	reg     *task.Registry
	guard   *task.Guard
	fwd     *forward.Engine
	ddp     *dedup.Engine
	bc      *broadcast.Engine
	notif   *notifier.Service
	sender  *flood.Sender
	cfg     func() *config.Config
	log     logx.Logger

	// ctx bounds every engine run spawned from a handler.
	ctx context.Context

	convMu sync.Mutex
	conv   map[int64]*conversation
}

func NewService(
	adapter *telegram.Adapter,
	store *storage.Store,
	reg *task.Registry,
	guard *task.Guard,
	fwd *forward.Engine,
	ddp *dedup.Engine,
	bc *broadcast.Engine,
	notif *notifier.Service,
	sender *flood.Sender,
	cfg func() *config.Config,
	log logx.Logger,
) *Service {
	return &Service{
		adapter: adapter,
		store:   store,
		reg:     reg,
		guard:   guard,
		fwd:     fwd,
		ddp:     ddp,
		bc:      bc,
		notif:   notif,
		sender:  sender,
		cfg:     cfg,
		log:     log.With(logx.String("comp", "bot")),
		conv:    make(map[int64]*conversation),
	}
}

var cancelButton = tele.Btn{Unique: "task_cancel", Text: "Cancel"}

// Register wires every command and callback onto the bot. ctx bounds the
// engine runs started by handlers; cancelling it aborts running tasks.
func (s *Service) Register(ctx context.Context) {
	s.ctx = ctx
	b := s.adapter.Bot()

	b.Handle("/start", s.onStart)
	b.Handle("/help", s.onHelp)
	b.Handle("/forward", s.onForward)
	b.Handle("/fwd", s.onForward)
	b.Handle("/unequify", s.onUnequify)
	b.Handle("/settings", s.onSettings)
	b.Handle("/cancel", s.onCancel)
	b.Handle("/broadcast", s.onBroadcast)
	b.Handle("/users", s.onUsers)
	b.Handle("/ban", func(c tele.Context) error { return s.setBan(c, true) })
	b.Handle("/unban", func(c tele.Context) error { return s.setBan(c, false) })

	// Free-text and forwarded messages feed pending conversations.
	b.Handle(tele.OnText, s.onAnswer)
	b.Handle(tele.OnMedia, s.onAnswer)

	b.Handle(&cancelButton, s.onCancelCallback)
	b.Handle(&confirmYes, s.onConfirm)
	b.Handle(&confirmNo, s.onAbort)
	s.registerSettingsCallbacks(b)
}

func (s *Service) onStart(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	err := s.store.AddUser(context.Background(), storage.User{
		ID:       u.ID,
		Username: strings.TrimSpace(u.Username),
	})
	if err != nil {
		s.log.Warn("user registration failed", logx.Int64("user", u.ID), logx.Err(err))
	}
	return c.Send(startText, tele.ModeHTML)
}

func (s *Service) onHelp(c tele.Context) error {
	return c.Send(helpText, tele.ModeHTML)
}

func (s *Service) onUsers(c tele.Context) error {
	if !s.isOwner(c) {
		return nil
	}
	n, err := s.store.CountUsers(context.Background())
	if err != nil {
		return c.Send("failed to count users")
	}
	return c.Send(renderUsers(n), tele.ModeHTML)
}

func (s *Service) setBan(c tele.Context, banned bool) error {
	if !s.isOwner(c) {
		return nil
	}
	args := c.Args()
	if len(args) != 1 {
		return c.Send("Send one numeric user id.")
	}
	id, err := strconv.ParseInt(args[0], 10, 64)
	if err != nil {
		return c.Send("Send one numeric user id.")
	}
	if err := s.store.SetBanned(context.Background(), id, banned); err != nil {
		s.log.Warn("ban update failed", logx.Int64("user", id), logx.Err(err))
		return c.Send("Could not update, try again.")
	}
	if banned {
		return c.Send("Banned.")
	}
	return c.Send("Unbanned.")
}

// banned reports whether the sender is barred from starting tasks.
func (s *Service) banned(userID int64) bool {
	b, err := s.store.IsBanned(context.Background(), userID)
	if err != nil {
		s.log.Warn("ban lookup failed", logx.Int64("user", userID), logx.Err(err))
		return false
	}
	return b
}

// onCancel flags the caller's running task. The engine observes the flag
// at its next loop head; teardown reports the cancelled outcome.
func (s *Service) onCancel(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	s.dropConversation(u.ID)
	id, busy := s.guard.UserBusy(u.ID)
	if !busy {
		return c.Send("Nothing to cancel.")
	}
	s.reg.RequestCancel(id)
	return c.Send("Cancelling, hold on.")
}

func (s *Service) onCancelCallback(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	id, busy := s.guard.UserBusy(u.ID)
	if !busy {
		return c.Respond(&tele.CallbackResponse{Text: "No running task."})
	}
	s.reg.RequestCancel(id)
	return c.Respond(&tele.CallbackResponse{Text: "Cancelling."})
}

func (s *Service) isOwner(c tele.Context) bool {
	u := c.Sender()
	return u != nil && s.cfg().Telegram.IsOwner(u.ID)
}

func (s *Service) settingsFor(userID int64) storage.Settings {
	cfg, err := s.store.GetSettings(context.Background(), userID)
	if err != nil {
		s.log.Warn("settings load failed", logx.Int64("user", userID), logx.Err(err))
		return storage.DefaultSettings()
	}
	return cfg
}

// chatOf derives the transport chat of an inbound telebot message.
func chatOf(c tele.Context) transport.ChatRef {
	ch := c.Chat()
	if ch == nil {
		return transport.ChatRef{}
	}
	return transport.ChatRef{ID: ch.ID, Username: ch.Username}
}

// forwardOrigin extracts the original channel of a forwarded post, with
// the forwarded message id as a sequence hint (it is the channel's
// latest message id when the user forwards the newest post).
func forwardOrigin(m *tele.Message) (transport.ChatRef, int, bool) {
	if m == nil || m.OriginalChat == nil {
		return transport.ChatRef{}, 0, false
	}
	ref := transport.ChatRef{ID: m.OriginalChat.ID, Username: m.OriginalChat.Username}
	return ref, m.OriginalMessageID, true
}
