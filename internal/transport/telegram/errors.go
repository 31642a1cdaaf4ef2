package telegram

import (
	"errors"
	"strings"
	"time"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/transport"
)

// classify maps telebot errors onto the transport sentinels so the
// engines never import telebot. Unknown errors pass through unchanged.
func classify(err error) error {
	if err == nil {
		return nil
	}

	var flood tele.FloodError
	if errors.As(err, &flood) {
		return &transport.FloodError{RetryAfter: time.Duration(flood.RetryAfter) * time.Second}
	}

	switch {
	case errors.Is(err, tele.ErrBlockedByUser):
		return transport.ErrBlocked
	case errors.Is(err, tele.ErrUserIsDeactivated):
		return transport.ErrDeactivated
	case errors.Is(err, tele.ErrChatNotFound):
		return transport.ErrNotFound
	}

	// Telegram occasionally surfaces these as plain API errors whose
	// descriptions are stable even when the typed sentinels are not.
	desc := strings.ToLower(err.Error())
	switch {
	case strings.Contains(desc, "bot was blocked"):
		return transport.ErrBlocked
	case strings.Contains(desc, "user is deactivated"):
		return transport.ErrDeactivated
	case strings.Contains(desc, "not enough rights"), strings.Contains(desc, "have no rights"):
		return transport.ErrPermissionDenied
	case strings.Contains(desc, "chat not found"), strings.Contains(desc, "message to copy not found"):
		return transport.ErrNotFound
	}
	return err
}
