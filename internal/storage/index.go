package storage

import (
	"context"
	"database/sql"

	"fwdbot/internal/transport"
)

// The Bot API cannot read channel history, so the bot indexes channel
// posts as it observes them and the engines enumerate from the index.
// Rows are keyed (chat, message id); re-indexing a message is an upsert.

const pageSize = 200

// IndexMessage records one observed channel post.
func (s *Store) IndexMessage(ctx context.Context, it transport.Item) error {
	service := 0
	if it.Service {
		service = 1
	}
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(chat_key, msg_id, kind, caption, file_name, file_size, file_id, fingerprint, service)
		 VALUES(?,?,?,?,?,?,?,?,?)
		 ON CONFLICT(chat_key, msg_id) DO UPDATE SET
		   kind=excluded.kind, caption=excluded.caption, file_name=excluded.file_name,
		   file_size=excluded.file_size, file_id=excluded.file_id,
		   fingerprint=excluded.fingerprint, service=excluded.service`,
		it.Chat.Key(), it.ID, string(it.Kind), nullStr(it.Caption), nullStr(it.FileName),
		it.FileSize, nullStr(it.FileID), nullStr(it.Fingerprint), service,
	)
	return err
}

// DeleteIndexed drops ids from the index after they were deleted in the
// live chat, so a later dedup run does not see ghosts.
func (s *Store) DeleteIndexed(ctx context.Context, chat transport.ChatRef, ids []int) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	for _, id := range ids {
		if _, err := tx.ExecContext(ctx,
			`DELETE FROM messages WHERE chat_key = ? AND msg_id = ?`, chat.Key(), id); err != nil {
			_ = tx.Rollback()
			return err
		}
	}
	return tx.Commit()
}

// CountIndexed reports how many messages are indexed for chat.
func (s *Store) CountIndexed(ctx context.Context, chat transport.ChatRef) (int, error) {
	var n int
	err := s.db.QueryRowContext(ctx,
		`SELECT COUNT(*) FROM messages WHERE chat_key = ?`, chat.Key()).Scan(&n)
	return n, err
}

// Messages enumerates the chat's indexed messages in ascending id order,
// starting offset items in, yielding at most limit items. limit <= 0
// means unbounded.
func (s *Store) Messages(ctx context.Context, chat transport.ChatRef, offset, limit int) transport.Iterator {
	if limit <= 0 {
		limit = -1
	}
	return &indexIter{store: s, chat: chat, offset: offset, remaining: limit}
}

// Documents enumerates only document items, the dedup engine's input.
func (s *Store) Documents(ctx context.Context, chat transport.ChatRef) transport.Iterator {
	return &indexIter{store: s, chat: chat, remaining: -1, onlyKind: string(transport.KindDocument)}
}

// indexIter pages through the messages table lazily; each fill reads at
// most pageSize rows, so a presenter polling alongside never starves
// the single sqlite writer for long. Pages after the first are fetched
// by keyset (msg_id > lastID) rather than OFFSET, because callers may
// delete already-seen rows mid-run and an OFFSET would slide over
// unseen ones.
type indexIter struct {
	store    *Store
	chat     transport.ChatRef
	onlyKind string

	offset    int
	remaining int // -1 means unbounded
	lastID    int
	started   bool

	page []transport.Item
	pos  int
	done bool
	err  error
}

func (it *indexIter) Next(ctx context.Context) (transport.Item, bool, error) {
	if it.err != nil {
		return transport.Item{}, false, it.err
	}
	if it.pos >= len(it.page) {
		if it.done {
			return transport.Item{}, false, nil
		}
		if err := it.fill(ctx); err != nil {
			it.err = &transport.EnumerationError{Chat: it.chat, Err: err}
			return transport.Item{}, false, it.err
		}
		if len(it.page) == 0 {
			return transport.Item{}, false, nil
		}
	}
	item := it.page[it.pos]
	it.pos++
	return item, true, nil
}

func (it *indexIter) fill(ctx context.Context) error {
	n := pageSize
	if it.remaining == 0 {
		it.page, it.pos, it.done = nil, 0, true
		return nil
	}
	if it.remaining > 0 && it.remaining < n {
		n = it.remaining
	}

	var (
		rows *sql.Rows
		err  error
	)
	q := `SELECT msg_id, kind, COALESCE(caption,''), COALESCE(file_name,''), file_size,
	             COALESCE(file_id,''), COALESCE(fingerprint,''), service
	      FROM messages WHERE chat_key = ?`
	args := []any{it.chat.Key()}
	if it.onlyKind != "" {
		q += ` AND kind = ?`
		args = append(args, it.onlyKind)
	}
	if it.started {
		q += ` AND msg_id > ? ORDER BY msg_id LIMIT ?`
		args = append(args, it.lastID, n)
	} else {
		q += ` ORDER BY msg_id LIMIT ? OFFSET ?`
		args = append(args, n, it.offset)
	}

	rows, err = it.store.db.QueryContext(ctx, q, args...)
	if err != nil {
		return err
	}
	defer rows.Close()

	it.page = it.page[:0]
	it.pos = 0
	for rows.Next() {
		var (
			item    transport.Item
			kind    string
			service int
		)
		if err := rows.Scan(&item.ID, &kind, &item.Caption, &item.FileName,
			&item.FileSize, &item.FileID, &item.Fingerprint, &service); err != nil {
			return err
		}
		item.Chat = it.chat
		item.Kind = transport.MediaKind(kind)
		item.Service = service != 0
		it.page = append(it.page, item)
	}
	if err := rows.Err(); err != nil {
		return err
	}

	it.started = true
	if len(it.page) > 0 {
		it.lastID = it.page[len(it.page)-1].ID
	}
	if it.remaining > 0 {
		it.remaining -= len(it.page)
	}
	if len(it.page) < n || it.remaining == 0 {
		it.done = true
	}
	return nil
}
