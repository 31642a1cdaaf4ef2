package storage

import (
	"context"
	"database/sql"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"

	"fwdbot/pkg/logx"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type Store struct {
	db  *sql.DB
	log logx.Logger
}

func Open(cfg Config, log logx.Logger) (*Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("storage path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	s := &Store{db: db, log: log}
	if err := s.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return s, nil
}

func (s *Store) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *Store) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// ---- users ----

func (s *Store) AddUser(ctx context.Context, u User) error {
	if u.AddedAt.IsZero() {
		u.AddedAt = time.Now()
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO users(id, username, added_at, banned) VALUES(?,?,?,0)
		 ON CONFLICT(id) DO UPDATE SET username=excluded.username`,
		u.ID, nullStr(u.Username), u.AddedAt.Format(time.RFC3339),
	)
	return err
}

func (s *Store) DeleteUser(ctx context.Context, id int64) error {
	_, err := s.db.ExecContext(ctx, `DELETE FROM users WHERE id = ?`, id)
	return err
}

func (s *Store) SetBanned(ctx context.Context, id int64, banned bool) error {
	v := 0
	if banned {
		v = 1
	}
	_, err := s.db.ExecContext(ctx, `UPDATE users SET banned = ? WHERE id = ?`, v, id)
	return err
}

func (s *Store) IsBanned(ctx context.Context, id int64) (bool, error) {
	var v int
	err := s.db.QueryRowContext(ctx, `SELECT banned FROM users WHERE id = ?`, id).Scan(&v)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	return v != 0, err
}

func (s *Store) CountUsers(ctx context.Context) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM users WHERE banned = 0`).Scan(&n)
	return n, err
}

// UserIDs returns all non-banned user ids in insertion order. The result
// is a point-in-time copy; a broadcast runs over it even while users
// register or leave.
func (s *Store) UserIDs(ctx context.Context) ([]int64, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT id FROM users WHERE banned = 0 ORDER BY rowid`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var ids []int64
	for rows.Next() {
		var id int64
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// ---- settings ----

func (s *Store) GetSettings(ctx context.Context, userID int64) (Settings, error) {
	var doc string
	err := s.db.QueryRowContext(ctx, `SELECT doc FROM settings WHERE user_id = ?`, userID).Scan(&doc)
	if errors.Is(err, sql.ErrNoRows) {
		return DefaultSettings(), nil
	}
	if err != nil {
		return Settings{}, err
	}
	var cfg Settings
	if err := json.Unmarshal([]byte(doc), &cfg); err != nil {
		// A corrupt document should not brick the user; fall back.
		s.log.Warn("corrupt settings doc, using defaults",
			logx.Int64("user", userID), logx.Err(err))
		return DefaultSettings(), nil
	}
	return cfg, nil
}

func (s *Store) PutSettings(ctx context.Context, userID int64, cfg Settings) error {
	doc, err := json.Marshal(cfg)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO settings(user_id, doc) VALUES(?,?)
		 ON CONFLICT(user_id) DO UPDATE SET doc=excluded.doc`,
		userID, string(doc),
	)
	return err
}

// ---- fingerprints (duplicate-skip store) ----

// Seen records fp for the chat and reports whether it was already
// present (test-and-set in one statement).
func (s *Store) Seen(ctx context.Context, chatKey, fp string) (bool, error) {
	if fp == "" {
		return false, nil
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT OR IGNORE INTO fingerprints(chat_key, fingerprint) VALUES(?,?)`,
		chatKey, fp,
	)
	if err != nil {
		return false, err
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	return n == 0, nil
}

func nullStr(v string) any {
	if strings.TrimSpace(v) == "" {
		return nil
	}
	return v
}
