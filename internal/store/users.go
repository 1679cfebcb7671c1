package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/Tyrowin/palmchat/internal/chat"
	"github.com/dgraph-io/badger/v4"
	"github.com/google/uuid"
)

const (
	userPrefix     = "user:"
	usernamePrefix = "username:"
)

// UserStore keeps accounts and a unique, case-insensitive username index.
type UserStore struct {
	db  *badger.DB
	log *slog.Logger
}

func NewUserStore(db *badger.DB, log *slog.Logger) *UserStore {
	return &UserStore{db: db, log: log}
}

func userKey(id string) []byte {
	return []byte(userPrefix + id)
}

func usernameKey(username string) []byte {
	return []byte(usernamePrefix + strings.ToLower(username))
}

// CreateUser assigns an id and creation time and stores the user. A taken
// username yields chat.ErrConflict.
func (s *UserStore) CreateUser(ctx context.Context, u chat.User) (chat.User, error) {
	if err := ctx.Err(); err != nil {
		return chat.User{}, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	id, err := uuid.NewV7()
	if err != nil {
		return chat.User{}, fmt.Errorf("%w: generate id: %v", chat.ErrStorage, err)
	}
	u.ID = id.String()
	u.CreatedAt = time.Now().UTC()

	data, err := json.Marshal(u)
	if err != nil {
		return chat.User{}, fmt.Errorf("%w: encode user: %v", chat.ErrStorage, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		if _, err := txn.Get(usernameKey(u.Username)); err == nil {
			return fmt.Errorf("%w: username %q is already taken", chat.ErrConflict, u.Username)
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if err := txn.Set(usernameKey(u.Username), []byte(u.ID)); err != nil {
			return err
		}
		return txn.Set(userKey(u.ID), data)
	})
	if err != nil {
		return chat.User{}, storageError(err)
	}
	return u, nil
}

// UserByID loads a user; chat.ErrNotFound if absent.
func (s *UserStore) UserByID(ctx context.Context, id string) (chat.User, error) {
	if err := ctx.Err(); err != nil {
		return chat.User{}, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	var u chat.User
	err := s.db.View(func(txn *badger.Txn) error {
		var err error
		u, err = getUser(txn, id)
		return err
	})
	if err != nil {
		return chat.User{}, storageError(err)
	}
	return u, nil
}

// UserByUsername resolves the username index, ignoring case.
func (s *UserStore) UserByUsername(ctx context.Context, username string) (chat.User, error) {
	if err := ctx.Err(); err != nil {
		return chat.User{}, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	var u chat.User
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(usernameKey(username))
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		u, err = getUser(txn, string(id))
		return err
	})
	if err != nil {
		return chat.User{}, storageError(err)
	}
	return u, nil
}

// ListUsers returns every user in creation order.
func (s *UserStore) ListUsers(ctx context.Context) ([]chat.User, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	var users []chat.User
	prefix := []byte(userPrefix)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.ValidForPrefix(prefix); it.Next() {
			var u chat.User
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &u)
			}); err != nil {
				return err
			}
			users = append(users, u)
		}
		return nil
	})
	if err != nil {
		return nil, storageError(err)
	}
	return users, nil
}

// UpdateUser replaces the stored user, moving the username index when the
// name changes.
func (s *UserStore) UpdateUser(ctx context.Context, u chat.User) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	data, err := json.Marshal(u)
	if err != nil {
		return fmt.Errorf("%w: encode user: %v", chat.ErrStorage, err)
	}

	err = s.db.Update(func(txn *badger.Txn) error {
		current, err := getUser(txn, u.ID)
		if err != nil {
			return err
		}

		if !strings.EqualFold(current.Username, u.Username) {
			if _, err := txn.Get(usernameKey(u.Username)); err == nil {
				return fmt.Errorf("%w: username %q is already taken", chat.ErrConflict, u.Username)
			} else if !errors.Is(err, badger.ErrKeyNotFound) {
				return err
			}
			if err := txn.Delete(usernameKey(current.Username)); err != nil {
				return err
			}
		}
		if err := txn.Set(usernameKey(u.Username), []byte(u.ID)); err != nil {
			return err
		}
		return txn.Set(userKey(u.ID), data)
	})
	return storageError(err)
}

// DeleteUser removes a user and its username index. Messages are kept.
func (s *UserStore) DeleteUser(ctx context.Context, id string) error {
	if err := ctx.Err(); err != nil {
		return fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}

	err := s.db.Update(func(txn *badger.Txn) error {
		u, err := getUser(txn, id)
		if err != nil {
			return err
		}
		if err := txn.Delete(usernameKey(u.Username)); err != nil {
			return err
		}
		return txn.Delete(userKey(id))
	})
	if err != nil {
		return storageError(err)
	}
	s.log.Info("user deleted", "user_id", id)
	return nil
}

// CountUsers returns the number of registered users.
func (s *UserStore) CountUsers(ctx context.Context) (int, error) {
	if err := ctx.Err(); err != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	n, err := countPrefix(s.db, []byte(userPrefix))
	if err != nil {
		return 0, fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
	return n, nil
}

func getUser(txn *badger.Txn, id string) (chat.User, error) {
	var u chat.User
	item, err := txn.Get(userKey(id))
	if err != nil {
		return u, err
	}
	err = item.Value(func(val []byte) error {
		return json.Unmarshal(val, &u)
	})
	return u, err
}

// storageError maps badger errors onto the chat taxonomy. Errors already
// classified inside a transaction pass through.
func storageError(err error) error {
	switch {
	case err == nil:
		return nil
	case errors.Is(err, chat.ErrConflict), errors.Is(err, chat.ErrNotFound):
		return err
	case errors.Is(err, badger.ErrKeyNotFound):
		return fmt.Errorf("%w: user", chat.ErrNotFound)
	case errors.Is(err, badger.ErrConflict):
		return fmt.Errorf("%w: concurrent update, please retry", chat.ErrConflict)
	default:
		return fmt.Errorf("%w: %v", chat.ErrStorage, err)
	}
}
