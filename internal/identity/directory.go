// Komunikator - Real-time Direct Messaging Server
// Copyright 2026 Tom F. (tomtom215)
// SPDX-License-Identifier: AGPL-3.0-or-later
// https://github.com/tomtom215/komunikator

package identity

import (
	"context"
	"errors"
	"fmt"
	"sort"
	"strings"

	"github.com/dgraph-io/badger/v4"
	"github.com/goccy/go-json"

	"github.com/tomtom215/komunikator/internal/logging"
	"github.com/tomtom215/komunikator/internal/models"
)

const (
	userKeyPrefix     = "user:"
	usernameKeyPrefix = "username:"
	emailKeyPrefix    = "email:"
)

// DirectoryConfig locates the account database.
type DirectoryConfig struct {
	Path     string
	InMemory bool
}

// BadgerDirectory stores accounts in Badger.
type BadgerDirectory struct {
	db *badger.DB
}

// OpenDirectory opens (or creates) the account database.
func OpenDirectory(cfg DirectoryConfig) (*BadgerDirectory, error) {
	opts := badger.DefaultOptions(cfg.Path)
	if cfg.InMemory {
		opts = badger.DefaultOptions("").WithInMemory(true)
	}
	opts.Logger = nil

	db, err := badger.Open(opts)
	if err != nil {
		return nil, models.Unavailable("open account directory", err)
	}

	where := cfg.Path
	if cfg.InMemory {
		where = "memory"
	}
	logging.Info().Str("path", where).Msg("Account directory opened")
	return &BadgerDirectory{db: db}, nil
}

func normalize(s string) string {
	return strings.ToLower(strings.TrimSpace(s))
}

// create stores acc, failing when its username or email is taken.
func (d *BadgerDirectory) create(_ context.Context, acc *account) error {
	data, err := json.Marshal(acc)
	if err != nil {
		return fmt.Errorf("marshal account: %w", err)
	}

	err = d.db.Update(func(txn *badger.Txn) error {
		usernameKey := []byte(usernameKeyPrefix + normalize(acc.Username))
		emailKey := []byte(emailKeyPrefix + normalize(acc.Email))

		if _, err := txn.Get(usernameKey); err == nil {
			return ErrUserExists
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		if _, err := txn.Get(emailKey); err == nil {
			return ErrEmailTaken
		} else if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}

		id := []byte(acc.ID)
		if err := txn.Set([]byte(userKeyPrefix+string(acc.ID)), data); err != nil {
			return err
		}
		if err := txn.Set(usernameKey, id); err != nil {
			return err
		}
		return txn.Set(emailKey, id)
	})
	switch {
	case err == nil:
		return nil
	case errors.Is(err, ErrUserExists), errors.Is(err, ErrEmailTaken):
		return err
	case errors.Is(err, badger.ErrConflict):
		// a concurrent registration touched the same keys
		return ErrUserExists
	default:
		return models.Unavailable("create account", err)
	}
}

func readAccount(txn *badger.Txn, id string) (*account, error) {
	item, err := txn.Get([]byte(userKeyPrefix + id))
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, ErrUserNotFound
	}
	if err != nil {
		return nil, err
	}
	var acc account
	if err := item.Value(func(val []byte) error {
		return json.Unmarshal(val, &acc)
	}); err != nil {
		return nil, fmt.Errorf("decode account %s: %w", id, err)
	}
	return &acc, nil
}

func (d *BadgerDirectory) byID(_ context.Context, id models.UserID) (*account, error) {
	var acc *account
	err := d.db.View(func(txn *badger.Txn) error {
		var err error
		acc, err = readAccount(txn, string(id))
		return err
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, models.Unavailable("read account", err)
	}
	return acc, err
}

func (d *BadgerDirectory) byUsername(_ context.Context, username string) (*account, error) {
	var acc *account
	err := d.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(usernameKeyPrefix + normalize(username)))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return ErrUserNotFound
		}
		if err != nil {
			return err
		}
		id, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		acc, err = readAccount(txn, string(id))
		return err
	})
	if err != nil && !errors.Is(err, ErrUserNotFound) {
		return nil, models.Unavailable("read account", err)
	}
	return acc, err
}

// exists reports whether id names an account.
func (d *BadgerDirectory) exists(_ context.Context, id models.UserID) (bool, error) {
	err := d.db.View(func(txn *badger.Txn) error {
		_, err := txn.Get([]byte(userKeyPrefix + string(id)))
		return err
	})
	switch {
	case err == nil:
		return true, nil
	case errors.Is(err, badger.ErrKeyNotFound):
		return false, nil
	default:
		return false, models.Unavailable("check account", err)
	}
}

// list returns every account ordered by username.
func (d *BadgerDirectory) list(_ context.Context) ([]User, error) {
	var users []User
	err := d.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.Prefix = []byte(userKeyPrefix)
		it := txn.NewIterator(opts)
		defer it.Close()

		for it.Rewind(); it.Valid(); it.Next() {
			var acc account
			if err := it.Item().Value(func(val []byte) error {
				return json.Unmarshal(val, &acc)
			}); err != nil {
				return err
			}
			users = append(users, acc.User)
		}
		return nil
	})
	if err != nil {
		return nil, models.Unavailable("list accounts", err)
	}
	sort.Slice(users, func(i, j int) bool {
		return normalize(users[i].Username) < normalize(users[j].Username)
	})
	return users, nil
}

// Ping checks the database is open.
func (d *BadgerDirectory) Ping() error {
	if d.db.IsClosed() {
		return models.Unavailable("account directory", errors.New("closed"))
	}
	return nil
}

// Close flushes and closes the database.
func (d *BadgerDirectory) Close() error {
	return d.db.Close()
}
