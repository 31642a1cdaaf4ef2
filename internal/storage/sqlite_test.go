package storage

import (
	"context"
	"fmt"
	"path/filepath"
	"testing"

	"fwdbot/internal/transport"
	"fwdbot/pkg/logx"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(Config{Path: filepath.Join(t.TempDir(), "fwdbot.db")}, logx.Nop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { _ = s.Close() })
	return s
}

func TestUsersRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	for i := int64(1); i <= 3; i++ {
		if err := s.AddUser(ctx, User{ID: i}); err != nil {
			t.Fatalf("AddUser: %v", err)
		}
	}
	// Re-adding must not duplicate.
	if err := s.AddUser(ctx, User{ID: 2, Username: "second"}); err != nil {
		t.Fatalf("AddUser again: %v", err)
	}
	if n, _ := s.CountUsers(ctx); n != 3 {
		t.Fatalf("CountUsers = %d, want 3", n)
	}

	if err := s.DeleteUser(ctx, 2); err != nil {
		t.Fatalf("DeleteUser: %v", err)
	}
	ids, err := s.UserIDs(ctx)
	if err != nil {
		t.Fatalf("UserIDs: %v", err)
	}
	if len(ids) != 2 || ids[0] != 1 || ids[1] != 3 {
		t.Fatalf("UserIDs = %v, want [1 3]", ids)
	}
}

func TestSettingsRoundTrip(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	got, err := s.GetSettings(ctx, 42)
	if err != nil {
		t.Fatalf("GetSettings (absent): %v", err)
	}
	if got.SizeMode != SizeNone || got.ForwardTag {
		t.Fatalf("defaults = %+v", got)
	}

	want := Settings{
		AllowKinds:    []string{"document", "video"},
		Extensions:    []string{"mkv"},
		Keywords:      []string{"season"},
		SizeMode:      SizeLessThan,
		SizeLimit:     2 << 30,
		Caption:       "via fwdbot",
		Protect:       true,
		SkipDuplicate: true,
	}
	if err := s.PutSettings(ctx, 42, want); err != nil {
		t.Fatalf("PutSettings: %v", err)
	}
	got, err = s.GetSettings(ctx, 42)
	if err != nil {
		t.Fatalf("GetSettings: %v", err)
	}
	if got.Caption != want.Caption || got.SizeMode != want.SizeMode ||
		len(got.AllowKinds) != 2 || !got.SkipDuplicate {
		t.Fatalf("GetSettings = %+v, want %+v", got, want)
	}
}

func TestSeenIsTestAndSet(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()

	seen, err := s.Seen(ctx, "chat", "fp-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if seen {
		t.Fatal("first Seen = true")
	}
	seen, err = s.Seen(ctx, "chat", "fp-1")
	if err != nil {
		t.Fatalf("Seen: %v", err)
	}
	if !seen {
		t.Fatal("second Seen = false")
	}
	// Scoped per chat.
	if seen, _ := s.Seen(ctx, "other", "fp-1"); seen {
		t.Fatal("fingerprint leaked across chats")
	}
}

func TestIndexEnumeration(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	chat := transport.ChatRef{ID: -100200}

	for i := 1; i <= 450; i++ {
		kind := transport.KindText
		if i%3 == 0 {
			kind = transport.KindDocument
		}
		it := transport.Item{
			ID:          i,
			Chat:        chat,
			Kind:        kind,
			Fingerprint: fmt.Sprintf("fp-%d", i),
		}
		if err := s.IndexMessage(ctx, it); err != nil {
			t.Fatalf("IndexMessage: %v", err)
		}
	}

	// Paged enumeration with offset+limit spanning page boundaries.
	iter := s.Messages(ctx, chat, 100, 250)
	var got []int
	for {
		item, ok, err := iter.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, item.ID)
	}
	if len(got) != 250 {
		t.Fatalf("enumerated %d items, want 250", len(got))
	}
	if got[0] != 101 || got[len(got)-1] != 350 {
		t.Fatalf("range = [%d..%d], want [101..350]", got[0], got[len(got)-1])
	}

	// Document-only stream.
	docs := s.Documents(ctx, chat)
	n := 0
	for {
		item, ok, err := docs.Next(ctx)
		if err != nil {
			t.Fatalf("Documents Next: %v", err)
		}
		if !ok {
			break
		}
		if item.Kind != transport.KindDocument {
			t.Fatalf("unexpected kind %s", item.Kind)
		}
		n++
	}
	if n != 150 {
		t.Fatalf("documents = %d, want 150", n)
	}
}

func TestEnumerationSurvivesMidRunDeletion(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	chat := transport.ChatRef{ID: -100300}

	for i := 1; i <= 450; i++ {
		it := transport.Item{ID: i, Chat: chat, Kind: transport.KindDocument}
		if err := s.IndexMessage(ctx, it); err != nil {
			t.Fatalf("IndexMessage: %v", err)
		}
	}

	// Delete already-seen rows while iterating, the way a dedup flush
	// does. The cursor must keep walking forward without skipping the
	// rows the shrinking table shifted.
	iter := s.Documents(ctx, chat)
	var got []int
	for {
		item, ok, err := iter.Next(ctx)
		if err != nil {
			t.Fatalf("Next: %v", err)
		}
		if !ok {
			break
		}
		got = append(got, item.ID)
		if item.ID == 200 {
			var seen []int
			for id := 1; id <= 150; id++ {
				seen = append(seen, id)
			}
			if err := s.DeleteIndexed(ctx, chat, seen); err != nil {
				t.Fatalf("DeleteIndexed: %v", err)
			}
		}
	}
	if len(got) != 450 {
		t.Fatalf("enumerated %d items, want 450", len(got))
	}
	for i, id := range got {
		if id != i+1 {
			t.Fatalf("got[%d] = %d, want %d", i, id, i+1)
		}
	}
}

func TestDeleteIndexed(t *testing.T) {
	t.Parallel()
	s := openTestStore(t)
	ctx := context.Background()
	chat := transport.ChatRef{ID: -100200}

	for i := 1; i <= 5; i++ {
		if err := s.IndexMessage(ctx, transport.Item{ID: i, Chat: chat, Kind: transport.KindDocument}); err != nil {
			t.Fatalf("IndexMessage: %v", err)
		}
	}
	if err := s.DeleteIndexed(ctx, chat, []int{2, 4}); err != nil {
		t.Fatalf("DeleteIndexed: %v", err)
	}
	if n, _ := s.CountIndexed(ctx, chat); n != 3 {
		t.Fatalf("CountIndexed = %d, want 3", n)
	}
}
