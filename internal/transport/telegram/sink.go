package telegram

import (
	"context"
	"strconv"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/transport"
)

// The Bot API has batch forward/delete endpoints that telebot exposes
// no helpers for, so those two go through Raw. Everything else uses the
// typed telebot surface.

func (a *Adapter) Copy(ctx context.Context, to transport.ChatRef, item transport.Item, opt *transport.SendOptions) error {
	payload := map[string]any{
		"chat_id":      apiChatID(to),
		"from_chat_id": apiChatID(item.Chat),
		"message_id":   item.ID,
	}
	applySendOptions(payload, opt)
	_, err := a.bot.Raw("copyMessage", payload)
	return classify(err)
}

// cachedMethods maps a media kind to its send method and payload field.
var cachedMethods = map[transport.MediaKind][2]string{
	transport.KindDocument:  {"sendDocument", "document"},
	transport.KindPhoto:     {"sendPhoto", "photo"},
	transport.KindVideo:     {"sendVideo", "video"},
	transport.KindAudio:     {"sendAudio", "audio"},
	transport.KindVoice:     {"sendVoice", "voice"},
	transport.KindAnimation: {"sendAnimation", "animation"},
	transport.KindSticker:   {"sendSticker", "sticker"},
}

func (a *Adapter) SendCached(ctx context.Context, to transport.ChatRef, item transport.Item, opt *transport.SendOptions) error {
	mf, ok := cachedMethods[item.Kind]
	if !ok || item.FileID == "" {
		// No cached path for this item; fall back to a plain copy.
		return a.Copy(ctx, to, item, opt)
	}
	payload := map[string]any{
		"chat_id": apiChatID(to),
		mf[1]:     item.FileID,
	}
	applySendOptions(payload, opt)
	_, err := a.bot.Raw(mf[0], payload)
	return classify(err)
}

func (a *Adapter) ForwardBatch(ctx context.Context, to, from transport.ChatRef, ids []int, protect bool) error {
	payload := map[string]any{
		"chat_id":      apiChatID(to),
		"from_chat_id": apiChatID(from),
		"message_ids":  ids,
	}
	if protect {
		payload["protect_content"] = true
	}
	_, err := a.bot.Raw("forwardMessages", payload)
	return classify(err)
}

func (a *Adapter) DeleteBatch(ctx context.Context, chat transport.ChatRef, ids []int) error {
	_, err := a.bot.Raw("deleteMessages", map[string]any{
		"chat_id":     apiChatID(chat),
		"message_ids": ids,
	})
	return classify(err)
}

func (a *Adapter) SendText(ctx context.Context, chat transport.ChatRef, text string, opt *transport.SendOptions) (transport.MsgRef, error) {
	m, err := a.bot.Send(recipient(chat), text, teleSendOptions(opt))
	if err != nil {
		return transport.MsgRef{}, classify(err)
	}
	return transport.MsgRef{Chat: chat, ID: m.ID}, nil
}

func (a *Adapter) EditText(ctx context.Context, ref transport.MsgRef, text string, opt *transport.SendOptions) error {
	stored := tele.StoredMessage{
		MessageID: strconv.Itoa(ref.ID),
		ChatID:    ref.Chat.ID,
	}
	_, err := a.bot.Edit(stored, text, teleSendOptions(opt))
	return classify(err)
}

// ---- probe ----

func (a *Adapter) CanRead(ctx context.Context, chat transport.ChatRef) bool {
	var err error
	if chat.Username != "" {
		_, err = a.bot.ChatByUsername("@" + chat.Username)
	} else {
		_, err = a.bot.ChatByID(chat.ID)
	}
	return err == nil
}

// CanWrite sends a probe message and deletes it again. Best effort: any
// failure means "assume no".
func (a *Adapter) CanWrite(ctx context.Context, chat transport.ChatRef) bool {
	m, err := a.bot.Send(recipient(chat), "…")
	if err != nil {
		return false
	}
	_ = a.bot.Delete(m)
	return true
}

// ---- option mapping ----

func apiChatID(ref transport.ChatRef) any {
	if ref.Username != "" {
		return "@" + ref.Username
	}
	return ref.ID
}

func applySendOptions(payload map[string]any, opt *transport.SendOptions) {
	if opt == nil {
		return
	}
	if opt.Caption != "" {
		payload["caption"] = opt.Caption
		if opt.HTML {
			payload["parse_mode"] = "HTML"
		}
	}
	if opt.Protect {
		payload["protect_content"] = true
	}
	if len(opt.Buttons) > 0 {
		payload["reply_markup"] = map[string]any{
			"inline_keyboard": rawKeyboard(opt.Buttons),
		}
	}
}

func rawKeyboard(rows [][]transport.Button) [][]map[string]any {
	kb := make([][]map[string]any, 0, len(rows))
	for _, row := range rows {
		r := make([]map[string]any, 0, len(row))
		for _, b := range row {
			btn := map[string]any{"text": b.Text}
			if b.URL != "" {
				btn["url"] = b.URL
			} else if b.Data != "" {
				// telebot routes callbacks registered by Unique via a
				// \f-prefixed data field; match that convention so raw
				// keyboards hit the same handlers.
				btn["callback_data"] = "\f" + b.Data
			}
			r = append(r, btn)
		}
		kb = append(kb, r)
	}
	return kb
}

func teleSendOptions(opt *transport.SendOptions) *tele.SendOptions {
	out := &tele.SendOptions{DisableWebPagePreview: true}
	if opt == nil {
		return out
	}
	if opt.HTML {
		out.ParseMode = tele.ModeHTML
	}
	out.Protected = opt.Protect
	if len(opt.Buttons) > 0 {
		rows := make([][]tele.InlineButton, 0, len(opt.Buttons))
		for _, row := range opt.Buttons {
			r := make([]tele.InlineButton, 0, len(row))
			for _, b := range row {
				// Unique carries the handler key; telebot prefixes the
				// wire data itself on marshal.
				r = append(r, tele.InlineButton{Text: b.Text, URL: b.URL, Unique: b.Data})
			}
			rows = append(rows, r)
		}
		out.ReplyMarkup = &tele.ReplyMarkup{InlineKeyboard: rows}
	}
	return out
}
