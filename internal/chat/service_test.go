package chat_test

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"testing"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/Tyrowin/palmchat/internal/mocks"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"
)

const (
	aliceID = "0192f5a4-6c1e-7c3a-9d2b-4b1f0e8a1c01"
	bobID   = "0192f5a4-6c1e-7c3a-9d2b-4b1f0e8a1c02"
)

var alice = chat.Identity{ID: aliceID, Username: "alice"}

func discardLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

type fixture struct {
	store     *mocks.MockMessageStore
	users     *mocks.MockUserDirectory
	publisher *mocks.MockPublisher
	svc       *chat.Service
}

func newFixture(t *testing.T) fixture {
	ctrl := gomock.NewController(t)
	f := fixture{
		store:     mocks.NewMockMessageStore(ctrl),
		users:     mocks.NewMockUserDirectory(ctrl),
		publisher: mocks.NewMockPublisher(ctrl),
	}
	f.svc = chat.NewService(discardLogger(), f.store, f.users, f.publisher, 50)
	return f
}

func TestService_Send(t *testing.T) {
	ctx := context.Background()
	createdAt := time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC)

	t.Run("should publish only after the message is stored", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		stored := chat.Message{ID: "m1", SenderID: aliceID, Content: "hi", CreatedAt: createdAt}
		want := chat.MessageView{
			ID:        "m1",
			Content:   "hi",
			Sender:    chat.Sender{ID: aliceID, Username: "alice"},
			CreatedAt: createdAt,
		}

		gomock.InOrder(
			f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{ID: aliceID, Username: "alice"}, nil),
			f.store.EXPECT().Append(ctx, aliceID, "hi").Return(stored, nil),
			f.publisher.EXPECT().Publish(chat.MessageCreated(want)).Return(nil),
		)

		view, err := f.svc.Send(ctx, alice, chat.SendMessage{SenderID: aliceID, Content: "  hi  "})

		req.NoError(err)
		req.Equal(want, view)
	})

	t.Run("should reject empty content without storing or publishing", func(t *testing.T) {
		for _, content := range []string{"", "   ", "\n\t"} {
			req := require.New(t)
			f := newFixture(t)
			f.store.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
			f.publisher.EXPECT().Publish(gomock.Any()).Times(0)

			_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: content})

			req.ErrorIs(err, chat.ErrValidation)
			req.Contains(err.Error(), "content must not be empty")
		}
	})

	t.Run("should reject content over the length limit", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		long := make([]rune, 1001)
		for i := range long {
			long[i] = 'x'
		}

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: string(long)})

		req.ErrorIs(err, chat.ErrValidation)
	})

	t.Run("should count the length limit in runes", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		longest := strings.Repeat("棕", chat.MaxContentRunes)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{ID: aliceID, Username: "alice"}, nil)
		f.store.EXPECT().Append(ctx, aliceID, longest).Return(chat.Message{ID: "m4", SenderID: aliceID, Content: longest}, nil)
		f.publisher.EXPECT().Publish(gomock.Any()).Return(nil)

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: longest})
		req.NoError(err)

		_, err = f.svc.Send(ctx, alice, chat.SendMessage{Content: longest + "x"})
		req.ErrorIs(err, chat.ErrValidation)
	})

	t.Run("should reject anonymous senders", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		_, err := f.svc.Send(ctx, chat.Identity{}, chat.SendMessage{Content: "hi"})

		req.ErrorIs(err, chat.ErrAuthorization)
	})

	t.Run("should reject a senderId that is not the caller", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{SenderID: bobID, Content: "hi"})

		req.ErrorIs(err, chat.ErrAuthorization)
	})

	t.Run("should reject a malformed senderId", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{SenderID: "not-an-id", Content: "hi"})

		req.ErrorIs(err, chat.ErrValidation)
		req.Contains(err.Error(), "senderId")
	})

	t.Run("should not publish when the store fails", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{ID: aliceID, Username: "alice"}, nil)
		f.store.EXPECT().
			Append(ctx, aliceID, "hi").
			Return(chat.Message{}, fmt.Errorf("%w: disk full", chat.ErrStorage))
		f.publisher.EXPECT().Publish(gomock.Any()).Times(0)

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: "hi"})

		req.ErrorIs(err, chat.ErrStorage)
	})

	t.Run("should reject a sender whose account was deleted", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{}, fmt.Errorf("%w: user", chat.ErrNotFound))
		f.store.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		f.publisher.EXPECT().Publish(gomock.Any()).Times(0)

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: "hi"})

		req.ErrorIs(err, chat.ErrAuthorization)
		req.NotErrorIs(err, chat.ErrNotFound)
	})

	t.Run("should use the stored username after a rename", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{ID: aliceID, Username: "alicia"}, nil)
		f.store.EXPECT().Append(ctx, aliceID, "hi").Return(chat.Message{ID: "m2", SenderID: aliceID, Content: "hi"}, nil)
		f.publisher.EXPECT().Publish(gomock.Any()).Return(nil)

		view, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: "hi"})

		req.NoError(err)
		req.Equal("alicia", view.Sender.Username)
	})

	t.Run("should not store when the sender lookup fails", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{}, fmt.Errorf("%w: read user", chat.ErrStorage))
		f.store.EXPECT().Append(gomock.Any(), gomock.Any(), gomock.Any()).Times(0)
		f.publisher.EXPECT().Publish(gomock.Any()).Times(0)

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: "hi"})

		req.ErrorIs(err, chat.ErrStorage)
	})

	t.Run("should surface a closed hub as a delivery error", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.store.EXPECT().Append(ctx, aliceID, "hi").Return(chat.Message{ID: "m3", SenderID: aliceID, Content: "hi"}, nil)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{ID: aliceID, Username: "alice"}, nil)
		f.publisher.EXPECT().Publish(gomock.Any()).Return(errors.New("hub closed"))

		_, err := f.svc.Send(ctx, alice, chat.SendMessage{Content: "hi"})

		req.ErrorIs(err, chat.ErrDelivery)
	})
}

func TestService_History(t *testing.T) {
	ctx := context.Background()

	t.Run("should populate usernames and keep store order", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		msgs := []chat.Message{
			{ID: "1", SenderID: aliceID, Content: "first"},
			{ID: "2", SenderID: bobID, Content: "second"},
			{ID: "3", SenderID: aliceID, Content: "third"},
		}
		f.store.EXPECT().Recent(ctx, 50).Return(msgs, nil)
		f.users.EXPECT().UserByID(ctx, aliceID).Return(chat.User{ID: aliceID, Username: "alice"}, nil).Times(1)
		f.users.EXPECT().UserByID(ctx, bobID).Return(chat.User{}, fmt.Errorf("%w: user", chat.ErrNotFound)).Times(1)

		views, err := f.svc.History(ctx)

		req.NoError(err)
		req.Len(views, 3)
		req.Equal([]string{"first", "second", "third"}, []string{views[0].Content, views[1].Content, views[2].Content})
		req.Equal("alice", views[0].Sender.Username)
		req.Equal("", views[1].Sender.Username)
		req.Equal(bobID, views[1].Sender.ID)
	})

	t.Run("should propagate storage failures", func(t *testing.T) {
		req := require.New(t)
		f := newFixture(t)
		f.store.EXPECT().Recent(ctx, 50).Return(nil, chat.ErrStorage)

		_, err := f.svc.History(ctx)

		req.ErrorIs(err, chat.ErrStorage)
	})
}

func TestService_Stats(t *testing.T) {
	req := require.New(t)
	ctx := context.Background()
	f := newFixture(t)
	f.users.EXPECT().CountUsers(ctx).Return(3, nil)
	f.store.EXPECT().CountMessages(ctx).Return(42, nil)

	stats, err := f.svc.Stats(ctx)

	req.NoError(err)
	req.Equal(chat.Stats{TotalUsers: 3, TotalChatCounts: 42}, stats)
}
