package store

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"slices"
	"strings"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const messagePrefix = "msg:"

// MessageStore is the append-only message log.
type MessageStore struct {
	db  *badger.DB
	log *slog.Logger
	now func() time.Time
}

func NewMessageStore(db *badger.DB, log *slog.Logger) *MessageStore {
	return &MessageStore{db: db, log: log, now: time.Now}
}

// messageKey formats "msg:{unix nanos}:{uuid}". The 19 digit padding keeps
// lexicographic and chronological order aligned; the uuid separates two
// messages created in the same nanosecond.
func messageKey(m chat.Message) []byte {
	return []byte(fmt.Sprintf("%s%019d:%s", messagePrefix, m.CreatedAt.UnixNano(), m.ID))
}

// Append stores one message in a single transaction. The message is either
// fully committed and synced or not written at all.
func (s *MessageStore) Append(ctx context.Context, senderID, content string) (chat.Message, error) {
	content = strings.TrimSpace(content)
	if content == "" {
		return chat.Message{}, fmt.Errorf("%w: content must not be empty", chat.ErrValidation)
	}
	if senderID == "" {
		return chat.Message{}, fmt.Errorf("%w: sender is required", chat.ErrValidation)
	}
	if err := ctx.Err(); err != nil {
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: generate id: %v", chat.ErrStorage, err)
	}
	msg := chat.Message{
		ID:        id.String(),
		SenderID:  senderID,
		Content:   content,
		CreatedAt: s.now().UTC(),
	}

	data, err := json.Marshal(msg)
	if err != nil {
		return chat.Message{}, fmt.Errorf("%w: encode message: %v", chat.ErrStorage, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(messageKey(msg), data)
	})
	if err != nil {
		s.log.Error("append failed", "sender_id", senderID, "error", err)
		return chat.Message{}, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	return msg, nil
}

// Recent returns up to limit of the newest messages, oldest first. It
// scans backwards from the end of the prefix inside one read transaction,
// so it never observes a partially applied append.
func (s *MessageStore) Recent(ctx context.Context, limit int) ([]chat.Message, error) {
	if limit <= 0 {
		return []chat.Message{}, nil
	}
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	prefix := []byte(messagePrefix)
	out := make([]chat.Message, 0, min(limit, 64))
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Reverse = true
		it := txn.NewIterator(opts)
		defer it.Close()

		// 0xff sorts after every digit, so the seek lands on the newest key.
		for it.Seek(append(prefix, 0xff)); it.ValidForPrefix(prefix) && len(out) < limit; it.Next() {
			var msg chat.Message
			err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &msg)
			})
			if err != nil {
				return err
			}
			out = append(out, msg)
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	slices.Reverse(out)
	return out, nil
}

// CountMessages returns the number of stored messages.
func (s *MessageStore) CountMessages(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	n, err := countPrefix(s.db, []byte(messagePrefix))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	return n, nil
}
