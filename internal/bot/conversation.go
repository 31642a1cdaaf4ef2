package bot

import (
	"context"
	"strconv"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/task"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// Conversation step timeouts follow the command flow: the opening answer
// gets the long window, every later answer the short one.
const (
	firstAnswerTimeout = 120 * time.Second
	nextAnswerTimeout  = 60 * time.Second
)

type convStep int

const (
	stepSource convStep = iota
	stepTarget
	stepSkip
	stepConfirm
)

type convKind int

const (
	convForward convKind = iota
	convDedup
)

// conversation is the per-user pending dialog. Only one runs at a time;
// starting a new command replaces the previous one.
type conversation struct {
	kind     convKind
	step     convStep
	deadline time.Time

	source transport.ChatRef
	target transport.ChatRef
	total  int
	skip   int
}

func (s *Service) startConversation(userID int64, kind convKind) *conversation {
	cv := &conversation{
		kind:     kind,
		step:     stepSource,
		deadline: time.Now().Add(firstAnswerTimeout),
	}
	s.convMu.Lock()
	s.conv[userID] = cv
	s.convMu.Unlock()
	return cv
}

// takeConversation returns the user's dialog if it is still live.
// Expired dialogs are dropped and reported to the caller.
func (s *Service) takeConversation(userID int64) (*conversation, bool, bool) {
	s.convMu.Lock()
	defer s.convMu.Unlock()
	cv, ok := s.conv[userID]
	if !ok {
		return nil, false, false
	}
	if time.Now().After(cv.deadline) {
		delete(s.conv, userID)
		return nil, false, true
	}
	return cv, true, false
}

func (s *Service) storeConversation(userID int64, cv *conversation) {
	cv.deadline = time.Now().Add(nextAnswerTimeout)
	s.convMu.Lock()
	s.conv[userID] = cv
	s.convMu.Unlock()
}

func (s *Service) dropConversation(userID int64) {
	s.convMu.Lock()
	delete(s.conv, userID)
	s.convMu.Unlock()
}

func (s *Service) onForward(c tele.Context) error {
	u := c.Sender()
	if u == nil || s.banned(u.ID) {
		return nil
	}
	if _, busy := s.guard.UserBusy(u.ID); busy {
		return c.Send(busyText)
	}
	s.startConversation(u.ID, convForward)
	return c.Send(askSourceText, tele.ModeHTML)
}

func (s *Service) onUnequify(c tele.Context) error {
	u := c.Sender()
	if u == nil || s.banned(u.ID) {
		return nil
	}
	if _, busy := s.guard.UserBusy(u.ID); busy {
		return c.Send(busyText)
	}
	cv := s.startConversation(u.ID, convDedup)
	cv.step = stepTarget
	return c.Send(askDedupChatText, tele.ModeHTML)
}

// onAnswer feeds free-text and forwarded messages into the pending
// conversation, if any.
func (s *Service) onAnswer(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	cv, ok, expired := s.takeConversation(u.ID)
	if expired {
		return c.Send(timeoutText)
	}
	if !ok {
		return nil
	}

	switch cv.step {
	case stepSource:
		return s.answerSource(c, u.ID, cv)
	case stepTarget:
		return s.answerTarget(c, u.ID, cv)
	case stepSkip:
		return s.answerSkip(c, u.ID, cv)
	default:
		return nil
	}
}

func (s *Service) answerSource(c tele.Context, userID int64, cv *conversation) error {
	ref, lastID, ok := forwardOrigin(c.Message())
	if !ok {
		ref, ok = transport.ParseChatRef(c.Text())
		if !ok {
			s.dropConversation(userID)
			return c.Send(badChatText)
		}
	}
	if !s.adapter.CanRead(context.Background(), ref) {
		s.dropConversation(userID)
		return c.Send(cannotReadText)
	}

	cv.source = ref
	cv.total = lastID
	if cv.total == 0 {
		// Link answers carry no message id; fall back to what the
		// index has seen for this chat.
		if n, err := s.store.CountIndexed(context.Background(), ref); err == nil {
			cv.total = n
		}
	}
	cv.step = stepTarget
	s.storeConversation(userID, cv)
	return c.Send(askTargetText, tele.ModeHTML)
}

func (s *Service) answerTarget(c tele.Context, userID int64, cv *conversation) error {
	ref, _, ok := forwardOrigin(c.Message())
	if !ok {
		ref, ok = transport.ParseChatRef(c.Text())
		if !ok {
			s.dropConversation(userID)
			return c.Send(badChatText)
		}
	}
	if !s.adapter.CanWrite(context.Background(), ref) {
		s.dropConversation(userID)
		return c.Send(cannotWriteText)
	}

	cv.target = ref
	if cv.kind == convDedup {
		cv.step = stepConfirm
		s.storeConversation(userID, cv)
		return c.Send(renderDedupConfirm(cv), confirmMarkup(), tele.ModeHTML)
	}
	cv.step = stepSkip
	s.storeConversation(userID, cv)
	return c.Send(askSkipText, tele.ModeHTML)
}

func (s *Service) answerSkip(c tele.Context, userID int64, cv *conversation) error {
	n, err := strconv.Atoi(strings.TrimSpace(c.Text()))
	if err != nil || n < 0 {
		s.dropConversation(userID)
		return c.Send(badSkipText)
	}
	cv.skip = n
	cv.step = stepConfirm
	s.storeConversation(userID, cv)
	return c.Send(renderForwardConfirm(cv), confirmMarkup(), tele.ModeHTML)
}

var (
	confirmYes = tele.Btn{Unique: "task_confirm", Text: "Yes, start"}
	confirmNo  = tele.Btn{Unique: "task_abort", Text: "No"}
)

func confirmMarkup() *tele.ReplyMarkup {
	mk := &tele.ReplyMarkup{}
	mk.Inline(mk.Row(mk.Data(confirmYes.Text, confirmYes.Unique), mk.Data(confirmNo.Text, confirmNo.Unique)))
	return mk
}

func cancelMarkup() *tele.ReplyMarkup {
	mk := &tele.ReplyMarkup{}
	mk.Inline(mk.Row(mk.Data(cancelButton.Text, cancelButton.Unique)))
	return mk
}

func (s *Service) onAbort(c tele.Context) error {
	u := c.Sender()
	if u != nil {
		s.dropConversation(u.ID)
	}
	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		return err
	}
	return c.Edit(abortedText)
}

func (s *Service) onConfirm(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	cv, ok, expired := s.takeConversation(u.ID)
	if expired {
		return c.Edit(timeoutText)
	}
	if !ok || cv.step != stepConfirm {
		return c.Respond(&tele.CallbackResponse{Text: "Nothing pending."})
	}
	s.dropConversation(u.ID)
	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		return err
	}

	switch cv.kind {
	case convDedup:
		s.launchDedup(u.ID, chatOf(c), cv)
	default:
		s.launchForward(u.ID, chatOf(c), cv)
	}
	return c.Edit(startedText)
}

// launchForward starts the engine run in the background. The status
// message lives in the chat the user is talking to the bot in; the
// presenter keeps it fresh.
func (s *Service) launchForward(userID int64, statusChat transport.ChatRef, cv *conversation) {
	cfg := s.cfg()
	set := s.settingsFor(userID)
	opt := buildOptions(set, cfg)

	st := &task.State{
		ID:     task.NewID(userID),
		UserID: userID,
		Source: cv.source,
		Target: cv.target,
		Skip:   cv.skip,
		Total:  cv.total,
	}

	pr := s.newPresenter(statusChat, cfg.EditInterval())
	go func() {
		if err := s.fwd.Run(s.ctx, st, opt, pr.publish); err != nil {
			s.log.Warn("forward run ended with error",
				logx.String("task", st.ID), logx.Err(err))
		}
	}()
}

func (s *Service) launchDedup(userID int64, statusChat transport.ChatRef, cv *conversation) {
	st := &task.State{
		ID:     task.NewID(userID),
		UserID: userID,
		Target: cv.target,
	}

	pr := s.newPresenter(statusChat, s.cfg().EditInterval())
	go func() {
		if err := s.ddp.Run(s.ctx, st, pr.publish); err != nil {
			s.log.Warn("dedup run ended with error",
				logx.String("task", st.ID), logx.Err(err))
		}
	}()
}
