package store

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"sync"
	"testing"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/dgraph-io/badger/v4"
	"github.com/stretchr/testify/require"
)

func setupTestDB(t *testing.T) *badger.DB {
	t.Helper()
	db, err := Open("", slog.New(slog.NewTextHandler(io.Discard, nil)))
	require.NoError(t, err)
	t.Cleanup(func() { _ = db.Close() })
	return db
}

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// steppingClock returns a clock that advances one millisecond per call.
func steppingClock(start time.Time) func() time.Time {
	var mu sync.Mutex
	current := start
	return func() time.Time {
		mu.Lock()
		defer mu.Unlock()
		current = current.Add(time.Millisecond)
		return current
	}
}

func TestMessageStore_RecentReturnsNewestOldestFirst(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t), testLogger())
	s.now = steppingClock(time.Date(2026, 1, 1, 0, 0, 0, 0, time.UTC))

	for i := 0; i < 60; i++ {
		_, err := s.Append(ctx, "sender", fmt.Sprintf("message %02d", i))
		req.NoError(err)
	}

	recent, err := s.Recent(ctx, 50)
	req.NoError(err)
	req.Len(recent, 50)
	for i, m := range recent {
		req.Equal(fmt.Sprintf("message %02d", i+10), m.Content)
	}
	for i := 1; i < len(recent); i++ {
		req.True(recent[i-1].CreatedAt.Before(recent[i].CreatedAt))
	}

	count, err := s.CountMessages(ctx)
	req.NoError(err)
	req.Equal(60, count)
}

func TestMessageStore_RecentWithFewerMessagesThanLimit(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t), testLogger())

	recent, err := s.Recent(ctx, 50)
	req.NoError(err)
	req.Empty(recent)

	_, err = s.Append(ctx, "sender", "only")
	req.NoError(err)

	recent, err = s.Recent(ctx, 50)
	req.NoError(err)
	req.Len(recent, 1)
	req.Equal("only", recent[0].Content)

	recent, err = s.Recent(ctx, 0)
	req.NoError(err)
	req.Empty(recent)
}

func TestMessageStore_AppendValidation(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t), testLogger())

	_, err := s.Append(ctx, "sender", "   ")
	req.ErrorIs(err, chat.ErrValidation)

	_, err = s.Append(ctx, "", "hello")
	req.ErrorIs(err, chat.ErrValidation)

	count, err := s.CountMessages(ctx)
	req.NoError(err)
	req.Zero(count)
}

func TestMessageStore_AppendAssignsServerFields(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t), testLogger())

	first, err := s.Append(ctx, "sender", "  padded  ")
	req.NoError(err)
	second, err := s.Append(ctx, "sender", "next")
	req.NoError(err)

	req.Equal("padded", first.Content)
	req.NotEmpty(first.ID)
	req.Equal(time.UTC, first.CreatedAt.Location())
	req.Less(first.ID, second.ID)
}

func TestMessageStore_AppendFailsOnClosedDatabase(t *testing.T) {
	req := require.New(t)
	db, err := Open("", testLogger())
	req.NoError(err)
	s := NewMessageStore(db, testLogger())
	req.NoError(db.Close())

	_, err = s.Append(context.Background(), "sender", "hello")
	req.ErrorIs(err, chat.ErrStorage)
}

func TestMessageStore_ConcurrentAppendAndRecent(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewMessageStore(setupTestDB(t), testLogger())

	const writers, perWriter = 8, 25
	var wg sync.WaitGroup
	errs := make(chan error, writers*perWriter+writers*10)

	for w := 0; w < writers; w++ {
		wg.Add(2)
		go func(w int) {
			defer wg.Done()
			for i := 0; i < perWriter; i++ {
				if _, err := s.Append(ctx, fmt.Sprintf("sender-%d", w), fmt.Sprintf("w%d-%d", w, i)); err != nil {
					errs <- err
				}
			}
		}(w)
		go func() {
			defer wg.Done()
			for i := 0; i < 10; i++ {
				msgs, err := s.Recent(ctx, 50)
				if err != nil {
					errs <- err
					continue
				}
				for _, m := range msgs {
					if m.ID == "" || m.SenderID == "" || m.Content == "" || m.CreatedAt.IsZero() {
						errs <- fmt.Errorf("torn message %+v", m)
					}
				}
			}
		}()
	}
	wg.Wait()
	close(errs)

	for err := range errs {
		req.NoError(err)
	}
	count, err := s.CountMessages(ctx)
	req.NoError(err)
	req.Equal(writers*perWriter, count)
}

func TestUserStore_Lifecycle(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	s := NewUserStore(setupTestDB(t), testLogger())

	alice, err := s.CreateUser(ctx, chat.User{Username: "alice", PasswordHash: "h1"})
	req.NoError(err)
	req.NotEmpty(alice.ID)
	req.False(alice.CreatedAt.IsZero())

	_, err = s.CreateUser(ctx, chat.User{Username: "ALICE", PasswordHash: "h2"})
	req.ErrorIs(err, chat.ErrConflict)

	bob, err := s.CreateUser(ctx, chat.User{Username: "bob", PasswordHash: "h3", IsAdmin: true})
	req.NoError(err)

	byName, err := s.UserByUsername(ctx, "Alice")
	req.NoError(err)
	req.Equal(alice.ID, byName.ID)

	users, err := s.ListUsers(ctx)
	req.NoError(err)
	req.Len(users, 2)
	req.Equal([]string{"alice", "bob"}, []string{users[0].Username, users[1].Username})

	count, err := s.CountUsers(ctx)
	req.NoError(err)
	req.Equal(2, count)

	// Renaming onto a taken name fails; renaming frees the old name.
	bob.Username = "alice"
	req.ErrorIs(s.UpdateUser(ctx, bob), chat.ErrConflict)
	bob.Username = "robert"
	req.NoError(s.UpdateUser(ctx, bob))
	_, err = s.UserByUsername(ctx, "bob")
	req.ErrorIs(err, chat.ErrNotFound)
	renamed, err := s.UserByID(ctx, bob.ID)
	req.NoError(err)
	req.Equal("robert", renamed.Username)
	req.True(renamed.IsAdmin)

	req.NoError(s.DeleteUser(ctx, alice.ID))
	_, err = s.UserByID(ctx, alice.ID)
	req.ErrorIs(err, chat.ErrNotFound)
	req.ErrorIs(s.DeleteUser(ctx, alice.ID), chat.ErrNotFound)

	// The deleted username can be registered again.
	_, err = s.CreateUser(ctx, chat.User{Username: "alice", PasswordHash: "h4"})
	req.NoError(err)
}

func TestUserStore_UpdateMissingUser(t *testing.T) {
	req := require.New(t)
	s := NewUserStore(setupTestDB(t), testLogger())

	err := s.UpdateUser(context.Background(), chat.User{ID: "missing", Username: "ghost"})
	req.ErrorIs(err, chat.ErrNotFound)
}
