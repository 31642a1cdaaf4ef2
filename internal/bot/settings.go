package bot

import (
	"context"
	"fmt"
	"strconv"
	"strings"

	tele "gopkg.in/telebot.v4"

	"fwdbot/internal/config"
	"fwdbot/internal/engine/forward"
	"fwdbot/internal/storage"
	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

// buildOptions folds the user's stored settings and the global pacing
// config into one per-run options value.
func buildOptions(set storage.Settings, cfg *config.Config) forward.Options {
	f := forward.Filter{
		Extensions: set.Extensions,
		Keywords:   set.Keywords,
		SizeMode:   forward.SizeMode(set.SizeMode),
		SizeLimit:  set.SizeLimit,
	}
	if len(set.AllowKinds) > 0 {
		f.AllowKinds = make(map[transport.MediaKind]bool, len(set.AllowKinds))
		for _, k := range set.AllowKinds {
			f.AllowKinds[transport.MediaKind(k)] = true
		}
	}

	opt := forward.Options{
		Filter:        f,
		SkipDuplicate: set.SkipDuplicate,
		Caption:       set.Caption,
		Protect:       set.Protect,
		ForwardTag:    set.ForwardTag,
		ItemDelay:     cfg.ItemDelay(),
		BatchCooldown: cfg.BatchCooldown(),
		ProgressEvery: cfg.ProgressEvery(),
	}
	if set.ButtonText != "" && set.ButtonURL != "" {
		opt.Buttons = [][]transport.Button{{{Text: set.ButtonText, URL: set.ButtonURL}}}
	}
	return opt
}

// toggleKinds are the media kinds exposed as filter toggles.
var toggleKinds = []transport.MediaKind{
	transport.KindText, transport.KindDocument, transport.KindPhoto,
	transport.KindVideo, transport.KindAudio, transport.KindAnimation,
}

var (
	settingsToggleKind = tele.Btn{Unique: "set_kind"}
	settingsToggleFlag = tele.Btn{Unique: "set_flag"}
	settingsClose      = tele.Btn{Unique: "set_close", Text: "Close"}
)

func (s *Service) registerSettingsCallbacks(b *tele.Bot) {
	b.Handle(&settingsToggleKind, s.onToggleKind)
	b.Handle(&settingsToggleFlag, s.onToggleFlag)
	b.Handle(&settingsClose, func(c tele.Context) error {
		if err := c.Respond(&tele.CallbackResponse{}); err != nil {
			return err
		}
		return c.Delete()
	})
}

// onSettings shows the toggle menu, or applies an argument subcommand:
//
//	/settings caption <text>      set the caption override ("-" clears)
//	/settings button <text> | <url>
//	/settings ext <e1> <e2> ...   allowed extensions ("-" clears)
//	/settings keywords <w1> ...   required keywords ("-" clears)
//	/settings size more|less|none [bytes]
//	/settings reset
func (s *Service) onSettings(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	args := c.Args()
	if len(args) == 0 {
		set := s.settingsFor(u.ID)
		return c.Send(renderSettings(set), settingsMarkup(set), tele.ModeHTML)
	}

	set := s.settingsFor(u.ID)
	if err := applySetting(&set, args); err != nil {
		return c.Send(err.Error())
	}
	if err := s.store.PutSettings(context.Background(), u.ID, set); err != nil {
		s.log.Warn("settings save failed", logx.Int64("user", u.ID), logx.Err(err))
		return c.Send("Could not save, try again.")
	}
	return c.Send(renderSettings(set), settingsMarkup(set), tele.ModeHTML)
}

func applySetting(set *storage.Settings, args []string) error {
	rest := args[1:]
	switch strings.ToLower(args[0]) {
	case "caption":
		set.Caption = clearable(strings.Join(rest, " "))
	case "button":
		parts := strings.SplitN(strings.Join(rest, " "), "|", 2)
		if len(parts) != 2 {
			return fmt.Errorf("usage: /settings button <text> | <url>")
		}
		set.ButtonText = strings.TrimSpace(parts[0])
		set.ButtonURL = strings.TrimSpace(parts[1])
	case "ext":
		set.Extensions = clearableList(rest)
	case "keywords":
		set.Keywords = clearableList(rest)
	case "size":
		if len(rest) == 0 {
			return fmt.Errorf("usage: /settings size more|less|none [bytes]")
		}
		mode := storage.SizeMode(strings.ToLower(rest[0]))
		switch mode {
		case storage.SizeNone:
			set.SizeMode = storage.SizeNone
			set.SizeLimit = 0
		case storage.SizeMoreThan, storage.SizeLessThan:
			if len(rest) < 2 {
				return fmt.Errorf("usage: /settings size %s <bytes>", mode)
			}
			n, err := strconv.ParseInt(rest[1], 10, 64)
			if err != nil || n <= 0 {
				return fmt.Errorf("size limit must be a positive number of bytes")
			}
			set.SizeMode = mode
			set.SizeLimit = n
		default:
			return fmt.Errorf("size mode must be more, less or none")
		}
	case "reset":
		*set = storage.DefaultSettings()
	default:
		return fmt.Errorf("unknown setting %q, see /help", args[0])
	}
	return nil
}

func clearable(s string) string {
	if strings.TrimSpace(s) == "-" {
		return ""
	}
	return strings.TrimSpace(s)
}

func clearableList(args []string) []string {
	if len(args) == 0 || (len(args) == 1 && args[0] == "-") {
		return nil
	}
	return args
}

func (s *Service) onToggleKind(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	set := s.settingsFor(u.ID)
	kind := strings.TrimSpace(c.Data())
	set.AllowKinds = toggleList(set.AllowKinds, kind)
	return s.saveAndRefresh(c, u.ID, set)
}

func (s *Service) onToggleFlag(c tele.Context) error {
	u := c.Sender()
	if u == nil {
		return nil
	}
	set := s.settingsFor(u.ID)
	switch strings.TrimSpace(c.Data()) {
	case "protect":
		set.Protect = !set.Protect
	case "forward_tag":
		set.ForwardTag = !set.ForwardTag
	case "skip_duplicate":
		set.SkipDuplicate = !set.SkipDuplicate
	}
	return s.saveAndRefresh(c, u.ID, set)
}

func (s *Service) saveAndRefresh(c tele.Context, userID int64, set storage.Settings) error {
	if err := s.store.PutSettings(context.Background(), userID, set); err != nil {
		s.log.Warn("settings save failed", logx.Int64("user", userID), logx.Err(err))
		return c.Respond(&tele.CallbackResponse{Text: "Could not save."})
	}
	if err := c.Respond(&tele.CallbackResponse{}); err != nil {
		return err
	}
	return c.Edit(renderSettings(set), settingsMarkup(set), tele.ModeHTML)
}

// toggleList adds v to, or removes v from, the list.
func toggleList(list []string, v string) []string {
	for i, have := range list {
		if have == v {
			return append(list[:i], list[i+1:]...)
		}
	}
	return append(list, v)
}

func mark(on bool) string {
	if on {
		return "✅ "
	}
	return "▫️ "
}

func settingsMarkup(set storage.Settings) *tele.ReplyMarkup {
	allowed := make(map[string]bool, len(set.AllowKinds))
	for _, k := range set.AllowKinds {
		allowed[k] = true
	}
	// An empty allow-list means everything passes.
	all := len(set.AllowKinds) == 0

	mk := &tele.ReplyMarkup{}
	var rows []tele.Row
	var row tele.Row
	for _, k := range toggleKinds {
		on := all || allowed[string(k)]
		row = append(row, mk.Data(mark(on)+string(k), settingsToggleKind.Unique, string(k)))
		if len(row) == 3 {
			rows = append(rows, row)
			row = nil
		}
	}
	if len(row) > 0 {
		rows = append(rows, row)
	}
	rows = append(rows,
		mk.Row(
			mk.Data(mark(set.ForwardTag)+"forward tag", settingsToggleFlag.Unique, "forward_tag"),
			mk.Data(mark(set.Protect)+"protect", settingsToggleFlag.Unique, "protect"),
		),
		mk.Row(
			mk.Data(mark(set.SkipDuplicate)+"skip duplicates", settingsToggleFlag.Unique, "skip_duplicate"),
			mk.Data(settingsClose.Text, settingsClose.Unique),
		),
	)
	mk.Inline(rows...)
	return mk
}

func renderSettings(set storage.Settings) string {
	var b strings.Builder
	b.WriteString("<b>Your settings</b>\n")
	if set.Caption != "" {
		fmt.Fprintf(&b, "Caption: <code>%s</code>\n", set.Caption)
	}
	if set.ButtonText != "" && set.ButtonURL != "" {
		fmt.Fprintf(&b, "Button: %s → %s\n", set.ButtonText, set.ButtonURL)
	}
	if len(set.Extensions) > 0 {
		fmt.Fprintf(&b, "Extensions: %s\n", strings.Join(set.Extensions, ", "))
	}
	if len(set.Keywords) > 0 {
		fmt.Fprintf(&b, "Keywords: %s\n", strings.Join(set.Keywords, ", "))
	}
	if set.SizeMode != storage.SizeNone && set.SizeMode != "" {
		fmt.Fprintf(&b, "Size: %s than %d bytes\n", set.SizeMode, set.SizeLimit)
	}
	b.WriteString("Toggle what gets through:")
	return b.String()
}
