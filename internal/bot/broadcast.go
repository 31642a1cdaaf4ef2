package bot

import (
	"context"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/engine/broadcast"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// onBroadcast copies the replied-to message to every registered user.
// Owner only; the reply requirement makes the payload explicit instead
// of parsing it out of the command line.
func (s *Service) onBroadcast(c tele.Context) error {
	if !s.isOwner(c) {
		return nil
	}
	reply := c.Message().ReplyTo
	if reply == nil {
		return c.Send("Reply to the message you want to broadcast.")
	}

	ids, err := s.store.UserIDs(context.Background())
	if err != nil {
		s.log.Error("broadcast recipient load failed", logx.Err(err))
		return c.Send("Could not load the user list.")
	}
	if len(ids) == 0 {
		return c.Send("Nobody to broadcast to yet.")
	}

	payload := transport.Item{ID: reply.ID, Chat: chatOf(c)}
	statusChat := chatOf(c)

	go s.runBroadcast(payload, ids, statusChat)
	return nil
}

func (s *Service) runBroadcast(payload transport.Item, ids []int64, statusChat transport.ChatRef) {
	ctx := s.ctx

	var status transport.MsgRef
	haveStatus := false
	publish := func(sum broadcast.Summary, done bool) {
		text := renderBroadcastSummary(sum, done)
		if !haveStatus {
			ref, err := s.adapter.SendText(ctx, statusChat, text, &transport.SendOptions{HTML: true})
			if err == nil {
				status = ref
				haveStatus = true
			}
			return
		}
		if err := s.sender.DoOnce(ctx, func(ctx context.Context) error {
			return s.adapter.EditText(ctx, status, text, &transport.SendOptions{HTML: true})
		}); err != nil {
			s.log.Warn("broadcast status edit failed", logx.Err(err))
		}
	}

	rcp := &broadcast.SliceRecipients{IDs: ids}
	sum, err := s.bc.Run(ctx, payload, rcp, func(sum broadcast.Summary) { publish(sum, false) })
	if err != nil {
		s.log.Error("broadcast aborted", logx.Err(err))
	}
	publish(sum, err == nil)
}
