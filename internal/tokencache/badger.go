package tokencache

import (
	"context"
	"errors"
	"fmt"
	"strings"

	badger "github.com/dgraph-io/badger/v4"
)

// BadgerCache is the durable local cache. It survives restarts of the desk
// process the way browser storage survives a page reload.
type BadgerCache struct {
	db *badger.DB
}

// BadgerOptions configures OpenBadger.
type BadgerOptions struct {
	Path     string
	InMemory bool // no files on disk; used by tests
}

// OpenBadger opens (or creates) the Badger database.
func OpenBadger(opts BadgerOptions) (*BadgerCache, error) {
	var bopts badger.Options
	switch {
	case opts.InMemory:
		bopts = badger.DefaultOptions("").WithInMemory(true)
	case strings.TrimSpace(opts.Path) != "":
		bopts = badger.DefaultOptions(opts.Path)
	default:
		return nil, errors.New("tokencache: badger path is required")
	}
	db, err := badger.Open(bopts.WithLogger(nil))
	if err != nil {
		return nil, fmt.Errorf("tokencache: open badger: %w", err)
	}
	return &BadgerCache{db: db}, nil
}

// Close releases the database.
func (c *BadgerCache) Close() error {
	if c == nil || c.db == nil {
		return nil
	}
	return c.db.Close()
}

func (c *BadgerCache) Get(_ context.Context, key string) (string, bool, error) {
	var (
		out   string
		found bool
	)
	err := c.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get([]byte(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		found = true
		return item.Value(func(val []byte) error {
			out = string(val)
			return nil
		})
	})
	if err != nil {
		return "", false, fmt.Errorf("tokencache: badger get %s: %w", key, err)
	}
	return out, found, nil
}

func (c *BadgerCache) Set(_ context.Context, key, value string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Set([]byte(key), []byte(value))
	})
	if err != nil {
		return fmt.Errorf("tokencache: badger set %s: %w", key, err)
	}
	return nil
}

func (c *BadgerCache) Remove(_ context.Context, key string) error {
	err := c.db.Update(func(txn *badger.Txn) error {
		return txn.Delete([]byte(key))
	})
	if err != nil {
		return fmt.Errorf("tokencache: badger delete %s: %w", key, err)
	}
	return nil
}
