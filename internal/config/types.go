package config

import (
	"fmt"
	"strings"
	"time"
)

// Config is the whole bot configuration. All duration fields are Go
// duration strings ("500ms", "10s", "2m").
type Config struct {
	Telegram TelegramConfig `json:"telegram"`
	Storage  StorageConfig  `json:"storage"`
	Logging  LoggingConfig  `json:"logging"`
	Pacing   PacingConfig   `json:"pacing,omitempty"`
	Progress ProgressConfig `json:"progress,omitempty"`
	Sweeper  SweeperConfig  `json:"sweeper,omitempty"`
}

type TelegramConfig struct {
	Token        string  `json:"token"`
	OwnerUserIDs []int64 `json:"owner_user_ids"`
	PollTimeout  string  `json:"poll_timeout,omitempty"` // default "10s"
}

func (t TelegramConfig) IsOwner(userID int64) bool {
	for _, id := range t.OwnerUserIDs {
		if id == userID {
			return true
		}
	}
	return false
}

type StorageConfig struct {
	Path        string `json:"path"`
	BusyTimeout string `json:"busy_timeout,omitempty"` // default "5s"
}

type LoggingConfig struct {
	Level   string        `json:"level,omitempty"` // default "info"
	Console bool          `json:"console,omitempty"`
	File    FileLogConfig `json:"file,omitempty"`
}

type FileLogConfig struct {
	Enabled bool   `json:"enabled,omitempty"`
	Path    string `json:"path,omitempty"`
}

// PacingConfig tunes how fast the bot talks to Telegram. ItemDelay is
// the inter-message pause during copy-mode forwards; BatchCooldown is
// the pause after each forwarded batch.
type PacingConfig struct {
	ItemDelay         string `json:"item_delay,omitempty"`         // default "1s"
	BatchCooldown     string `json:"batch_cooldown,omitempty"`     // default "10s"
	BroadcastInterval string `json:"broadcast_interval,omitempty"` // default "2s"
	NotifyRatePerSec  int    `json:"notify_rate_per_sec,omitempty"`
}

type ProgressConfig struct {
	Every        int    `json:"every,omitempty"`         // items between publishes, default 100
	EditInterval string `json:"edit_interval,omitempty"` // status-message edit pace, default "8s"
}

// SweeperConfig lists chats that get recurring duplicate cleanup.
type SweeperConfig struct {
	Schedules []SweeperSchedule `json:"schedules,omitempty"`
}

type SweeperSchedule struct {
	Spec  string `json:"spec"`  // cron expression
	Chat  string `json:"chat"`  // chat id or @username
	Owner int64  `json:"owner"` // user the run is attributed to
}

// Validate checks required fields and that every duration parses.
// It does not mutate; defaults are applied by the accessor helpers.
func (c *Config) Validate() error {
	if strings.TrimSpace(c.Telegram.Token) == "" {
		return fmt.Errorf("telegram.token is required")
	}
	if len(c.Telegram.OwnerUserIDs) == 0 {
		return fmt.Errorf("telegram.owner_user_ids must list at least one user")
	}
	if strings.TrimSpace(c.Storage.Path) == "" {
		return fmt.Errorf("storage.path is required")
	}
	durations := map[string]string{
		"telegram.poll_timeout":     c.Telegram.PollTimeout,
		"storage.busy_timeout":      c.Storage.BusyTimeout,
		"pacing.item_delay":         c.Pacing.ItemDelay,
		"pacing.batch_cooldown":     c.Pacing.BatchCooldown,
		"pacing.broadcast_interval": c.Pacing.BroadcastInterval,
		"progress.edit_interval":    c.Progress.EditInterval,
	}
	for path, raw := range durations {
		if _, err := parseDuration(path, raw); err != nil {
			return err
		}
	}
	for i, s := range c.Sweeper.Schedules {
		if strings.TrimSpace(s.Spec) == "" {
			return fmt.Errorf("sweeper.schedules[%d].spec is required", i)
		}
		if strings.TrimSpace(s.Chat) == "" {
			return fmt.Errorf("sweeper.schedules[%d].chat is required", i)
		}
	}
	return nil
}

func (c *Config) PollTimeout() time.Duration {
	return durationOr("telegram.poll_timeout", c.Telegram.PollTimeout, 10*time.Second)
}

func (c *Config) BusyTimeout() time.Duration {
	return durationOr("storage.busy_timeout", c.Storage.BusyTimeout, 5*time.Second)
}

func (c *Config) ItemDelay() time.Duration {
	return durationOr("pacing.item_delay", c.Pacing.ItemDelay, time.Second)
}

func (c *Config) BatchCooldown() time.Duration {
	return durationOr("pacing.batch_cooldown", c.Pacing.BatchCooldown, 10*time.Second)
}

func (c *Config) BroadcastInterval() time.Duration {
	return durationOr("pacing.broadcast_interval", c.Pacing.BroadcastInterval, 2*time.Second)
}

func (c *Config) EditInterval() time.Duration {
	return durationOr("progress.edit_interval", c.Progress.EditInterval, 8*time.Second)
}

func (c *Config) ProgressEvery() int {
	if c.Progress.Every > 0 {
		return c.Progress.Every
	}
	return 100
}

func (c *Config) NotifyRate() int {
	if c.Pacing.NotifyRatePerSec > 0 {
		return c.Pacing.NotifyRatePerSec
	}
	return 3
}
