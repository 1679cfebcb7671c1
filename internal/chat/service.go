//go:generate go run go.uber.org/mock/mockgen -source=service.go -destination=../mocks/mock_chat.go -package=mocks
package chat

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"reflect"
	"strings"

	"github.com/go-playground/validator/v10"
	"github.com/samber/lo"
)

var validate = NewValidator()

// NewValidator reports struct fields by their json names.
func NewValidator() *validator.Validate {
	v := validator.New()
	v.RegisterTagNameFunc(func(f reflect.StructField) string {
		name := strings.SplitN(f.Tag.Get("json"), ",", 2)[0]
		if name == "" || name == "-" {
			return f.Name
		}
		return name
	})
	return v
}

// MessageStore persists messages. Append must be durable before it returns.
type MessageStore interface {
	Append(ctx context.Context, senderID, content string) (Message, error)
	Recent(ctx context.Context, limit int) ([]Message, error)
	CountMessages(ctx context.Context) (int, error)
}

// UserDirectory resolves sender identities for display.
type UserDirectory interface {
	UserByID(ctx context.Context, id string) (User, error)
	CountUsers(ctx context.Context) (int, error)
}

// Publisher fans an event out to every connected session.
type Publisher interface {
	Publish(ev Event) error
}

// Service is the single path from an inbound send to a broadcast.
type Service struct {
	log          *slog.Logger
	store        MessageStore
	users        UserDirectory
	publisher    Publisher
	historyLimit int
}

func NewService(log *slog.Logger, store MessageStore, users UserDirectory, publisher Publisher, historyLimit int) *Service {
	if historyLimit <= 0 {
		historyLimit = 50
	}
	return &Service{
		log:          log,
		store:        store,
		users:        users,
		publisher:    publisher,
		historyLimit: historyLimit,
	}
}

// Send validates the request, checks the sender still exists, appends it to
// the store and, only once the append has succeeded, publishes
// MessageCreated. Any earlier failure stores and publishes nothing.
func (s *Service) Send(ctx context.Context, who Identity, req SendMessage) (MessageView, error) {
	if who.IsAnonymous() {
		return MessageView{}, fmt.Errorf("%w: sign in to send messages", ErrAuthorization)
	}

	req.Content = strings.TrimSpace(req.Content)
	if err := validate.Struct(req); err != nil {
		return MessageView{}, ValidationFailure(err)
	}
	if req.SenderID != "" && req.SenderID != who.ID {
		return MessageView{}, fmt.Errorf("%w: senderId does not match the signed in user", ErrAuthorization)
	}

	sender, err := s.resolveSender(ctx, who)
	if err != nil {
		return MessageView{}, err
	}

	msg, err := s.store.Append(ctx, sender.ID, req.Content)
	if err != nil {
		return MessageView{}, err
	}

	view := NewMessageView(msg, sender)
	if err := s.publisher.Publish(MessageCreated(view)); err != nil {
		return view, fmt.Errorf("%w: %v", ErrDelivery, err)
	}
	return view, nil
}

// resolveSender loads the account behind a session. A token outlives its
// account, so a deleted user is refused here.
func (s *Service) resolveSender(ctx context.Context, who Identity) (Sender, error) {
	user, err := s.users.UserByID(ctx, who.ID)
	if errors.Is(err, ErrNotFound) {
		return Sender{}, fmt.Errorf("%w: account no longer exists", ErrAuthorization)
	}
	if err != nil {
		return Sender{}, err
	}
	return Sender{ID: user.ID, Username: user.Username}, nil
}

// History returns the most recent messages, oldest first, with usernames
// populated. Senders that no longer exist keep an empty username.
func (s *Service) History(ctx context.Context) ([]MessageView, error) {
	msgs, err := s.store.Recent(ctx, s.historyLimit)
	if err != nil {
		return nil, err
	}

	senderIDs := lo.Uniq(lo.Map(msgs, func(m Message, _ int) string { return m.SenderID }))
	names := make(map[string]string, len(senderIDs))
	for _, id := range senderIDs {
		user, err := s.users.UserByID(ctx, id)
		switch {
		case err == nil:
			names[id] = user.Username
		case errors.Is(err, ErrNotFound):
		default:
			return nil, err
		}
	}

	return lo.Map(msgs, func(m Message, _ int) MessageView {
		return NewMessageView(m, Sender{ID: m.SenderID, Username: names[m.SenderID]})
	}), nil
}

// Stats counts registered users and stored messages.
func (s *Service) Stats(ctx context.Context) (Stats, error) {
	users, err := s.users.CountUsers(ctx)
	if err != nil {
		return Stats{}, err
	}
	messages, err := s.store.CountMessages(ctx)
	if err != nil {
		return Stats{}, err
	}
	return Stats{TotalUsers: users, TotalChatCounts: messages}, nil
}
