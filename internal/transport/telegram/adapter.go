// Package telegram implements the transport contract on the Bot API
// via telebot. It also feeds the message index: channel posts observed
// by the bot are recorded so the engines can enumerate them later.
package telegram

import (
	"context"
	"errors"
	"strings"
	"sync"
	"time"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

type Config struct {
	Token       string
	PollTimeout time.Duration
}

// Indexer receives every observed channel post.
type Indexer interface {
	IndexMessage(ctx context.Context, it transport.Item) error
}

type Adapter struct {
	cfg Config
	log logx.Logger
	bot *tele.Bot

	runMu   sync.Mutex
	running bool

	indexer Indexer
}

func New(cfg Config, log logx.Logger) (*Adapter, error) {
	if strings.TrimSpace(cfg.Token) == "" {
		return nil, errors.New("telegram token is empty")
	}
	timeout := cfg.PollTimeout
	if timeout <= 0 {
		timeout = 10 * time.Second
	}
	b, err := tele.NewBot(tele.Settings{
		Token:  cfg.Token,
		Poller: &tele.LongPoller{Timeout: timeout},
	})
	if err != nil {
		return nil, err
	}
	if log.IsZero() {
		log = logx.Nop()
	}
	a := &Adapter{cfg: cfg, log: log.With(logx.String("comp", "telegram")), bot: b}
	a.registerIntake()
	return a, nil
}

// Bot exposes the underlying telebot instance for the command front-end.
// Engine code never touches it; engines see only the transport contract.
func (a *Adapter) Bot() *tele.Bot { return a.bot }

// SetIndexer installs the channel-post indexer. Must be called before
// Start.
func (a *Adapter) SetIndexer(ix Indexer) { a.indexer = ix }

func (a *Adapter) Start() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if a.running {
		return
	}
	a.running = true
	go a.bot.Start()
	a.log.Info("long polling started")
}

func (a *Adapter) Stop() {
	a.runMu.Lock()
	defer a.runMu.Unlock()
	if !a.running {
		return
	}
	a.running = false
	a.bot.Stop()
	a.log.Info("long polling stopped")
}

func (a *Adapter) registerIntake() {
	a.bot.Handle(tele.OnChannelPost, func(c tele.Context) error {
		m := c.Message()
		if m == nil || a.indexer == nil {
			return nil
		}
		item := itemFromMessage(m)
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		if err := a.indexer.IndexMessage(ctx, item); err != nil {
			a.log.Warn("failed to index channel post",
				logx.Int64("chat", m.Chat.ID), logx.Int("msg", m.ID), logx.Err(err))
		}
		return nil
	})
}

// itemFromMessage flattens a telebot message into the neutral item the
// engines filter on.
func itemFromMessage(m *tele.Message) transport.Item {
	item := transport.Item{
		ID:      m.ID,
		Chat:    chatRef(m.Chat),
		Kind:    transport.KindText,
		Caption: m.Caption,
		Service: isService(m),
	}
	if m.Text != "" && item.Caption == "" {
		item.Caption = m.Text
	}
	switch {
	case m.Document != nil:
		item.Kind = transport.KindDocument
		item.FileName = m.Document.FileName
		item.FileSize = m.Document.FileSize
		item.FileID = m.Document.FileID
		item.Fingerprint = m.Document.UniqueID
	case m.Video != nil:
		item.Kind = transport.KindVideo
		item.FileName = m.Video.FileName
		item.FileSize = m.Video.FileSize
		item.FileID = m.Video.FileID
		item.Fingerprint = m.Video.UniqueID
	case m.Photo != nil:
		item.Kind = transport.KindPhoto
		item.FileSize = m.Photo.FileSize
		item.FileID = m.Photo.FileID
		item.Fingerprint = m.Photo.UniqueID
	case m.Audio != nil:
		item.Kind = transport.KindAudio
		item.FileName = m.Audio.FileName
		item.FileSize = m.Audio.FileSize
		item.FileID = m.Audio.FileID
		item.Fingerprint = m.Audio.UniqueID
	case m.Voice != nil:
		item.Kind = transport.KindVoice
		item.FileSize = m.Voice.FileSize
		item.FileID = m.Voice.FileID
		item.Fingerprint = m.Voice.UniqueID
	case m.Animation != nil:
		item.Kind = transport.KindAnimation
		item.FileSize = m.Animation.FileSize
		item.FileID = m.Animation.FileID
		item.Fingerprint = m.Animation.UniqueID
	case m.Sticker != nil:
		item.Kind = transport.KindSticker
		item.FileID = m.Sticker.FileID
		item.Fingerprint = m.Sticker.UniqueID
	}
	if item.Kind == transport.KindText && item.Caption == "" && !item.Service {
		item.Empty = true
	}
	return item
}

func isService(m *tele.Message) bool {
	return m.UserJoined != nil || m.UserLeft != nil ||
		m.NewGroupTitle != "" || m.PinnedMessage != nil ||
		m.GroupCreated || m.ChannelCreated
}

func chatRef(c *tele.Chat) transport.ChatRef {
	if c == nil {
		return transport.ChatRef{}
	}
	return transport.ChatRef{ID: c.ID, Username: c.Username}
}

// recipient adapts a ChatRef to telebot's Recipient.
type recipient transport.ChatRef

func (r recipient) Recipient() string {
	ref := transport.ChatRef(r)
	if ref.Username != "" {
		return "@" + ref.Username
	}
	return transport.ChatRef(r).Key()
}
