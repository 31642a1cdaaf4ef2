package storage

import (
	"errors"
	"time"
)

var ErrClosed = errors.New("storage closed")

type Config struct {
	Path        string
	BusyTimeout time.Duration // 0 means default
}

// User is one known bot user, i.e. one broadcast recipient.
type User struct {
	ID       int64
	Username string
	AddedAt  time.Time
	Banned   bool
}

// SizeMode selects how the file-size bound applies.
type SizeMode string

const (
	SizeNone     SizeMode = "none"
	SizeMoreThan SizeMode = "more"
	SizeLessThan SizeMode = "less"
)

// Settings are the per-user forward options, kept as one schema-stable
// document per user.
type Settings struct {
	// Media kinds the user allows through; empty means allow all.
	AllowKinds []string `json:"allow_kinds,omitempty"`
	Extensions []string `json:"extensions,omitempty"`
	Keywords   []string `json:"keywords,omitempty"`

	SizeMode  SizeMode `json:"size_mode,omitempty"`
	SizeLimit int64    `json:"size_limit,omitempty"`

	Caption    string `json:"caption,omitempty"`
	ButtonText string `json:"button_text,omitempty"`
	ButtonURL  string `json:"button_url,omitempty"`

	Protect       bool `json:"protect,omitempty"`
	ForwardTag    bool `json:"forward_tag,omitempty"`
	SkipDuplicate bool `json:"skip_duplicate,omitempty"`
}

// DefaultSettings matches a fresh user: copy mode, no filters.
func DefaultSettings() Settings {
	return Settings{SizeMode: SizeNone}
}
