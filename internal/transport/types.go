// Package transport defines the platform-neutral contract between the
// task engines and the messaging platform. The engines only ever see
// these types; the telegram subpackage provides the real implementation.
package transport

import (
	"context"
	"strconv"
	"strings"
)

// ChatRef identifies a chat either by numeric id or by public handle.
type ChatRef struct {
	ID       int64
	Username string
}

func (r ChatRef) IsZero() bool { return r.ID == 0 && r.Username == "" }

// Key returns a stable string usable as a busy-key for the lifecycle guard.
func (r ChatRef) Key() string {
	if r.Username != "" {
		return strings.ToLower(r.Username)
	}
	return strconv.FormatInt(r.ID, 10)
}

func (r ChatRef) String() string {
	if r.Username != "" {
		return "@" + r.Username
	}
	return strconv.FormatInt(r.ID, 10)
}

// MediaKind tags the content of a message item.
type MediaKind string

const (
	KindText      MediaKind = "text"
	KindDocument  MediaKind = "document"
	KindPhoto     MediaKind = "photo"
	KindVideo     MediaKind = "video"
	KindAudio     MediaKind = "audio"
	KindVoice     MediaKind = "voice"
	KindAnimation MediaKind = "animation"
	KindSticker   MediaKind = "sticker"
	KindPoll      MediaKind = "poll"
)

// HasFile reports whether the kind carries a re-sendable file payload.
func (k MediaKind) HasFile() bool {
	switch k {
	case KindDocument, KindPhoto, KindVideo, KindAudio, KindVoice, KindAnimation, KindSticker:
		return true
	}
	return false
}

// Item is one enumerated message.
//
// Fingerprint is the platform's stable content identifier (Telegram
// file_unique_id); empty for non-file items. FileID is the re-send handle
// for the cached-media path.
type Item struct {
	ID          int
	Chat        ChatRef
	Kind        MediaKind
	Caption     string
	FileName    string
	FileSize    int64
	FileID      string
	Fingerprint string
	Service     bool
	Empty       bool
}

// Button is an inline button attached to an outbound message.
type Button struct {
	Text string
	URL  string
	Data string
}

// SendOptions carries the per-send knobs the engines care about.
type SendOptions struct {
	Caption string
	Buttons [][]Button
	Protect bool
	HTML    bool
}

// MsgRef points at a sent message so it can be edited later.
type MsgRef struct {
	Chat ChatRef
	ID   int
}

// Iterator is a finite, lazy message sequence. ok=false means end of
// stream; a non-nil error is enumeration-level and terminal.
type Iterator interface {
	Next(ctx context.Context) (item Item, ok bool, err error)
}

// Source enumerates a chat's messages in ascending order, resumable from
// an offset into the sequence.
type Source interface {
	Messages(ctx context.Context, chat ChatRef, offset, limit int) Iterator
}

// Sink is the outbound half of the platform.
type Sink interface {
	// Copy re-sends a message without attribution.
	Copy(ctx context.Context, to ChatRef, item Item, opt *SendOptions) error
	// SendCached sends a file by its cached platform handle, used when a
	// caption override must replace the original one.
	SendCached(ctx context.Context, to ChatRef, item Item, opt *SendOptions) error
	// ForwardBatch forwards ids from one chat to another in a single call,
	// preserving attribution.
	ForwardBatch(ctx context.Context, to, from ChatRef, ids []int, protect bool) error
	// DeleteBatch deletes ids from chat in a single call.
	DeleteBatch(ctx context.Context, chat ChatRef, ids []int) error
	SendText(ctx context.Context, chat ChatRef, text string, opt *SendOptions) (MsgRef, error)
	EditText(ctx context.Context, ref MsgRef, text string, opt *SendOptions) error
}

// Probe answers best-effort access questions about a chat.
type Probe interface {
	CanRead(ctx context.Context, chat ChatRef) bool
	// CanWrite is implemented as a write-then-delete probe.
	CanWrite(ctx context.Context, chat ChatRef) bool
}

// ParseChatRef accepts a numeric id or a @handle / bare handle.
func ParseChatRef(s string) (ChatRef, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return ChatRef{}, false
	}
	if id, err := strconv.ParseInt(s, 10, 64); err == nil {
		return ChatRef{ID: id}, true
	}
	h := strings.TrimPrefix(s, "@")
	for _, r := range h {
		if !(r == '_' || r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r >= '0' && r <= '9') {
			return ChatRef{}, false
		}
	}
	return ChatRef{Username: h}, true
}
