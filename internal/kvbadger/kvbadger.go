// Package kvbadger implements store.KVStore on an embedded Badger database.
// Conditional writes run inside a read-write transaction; Badger aborts the
// commit with ErrConflict when another transaction touched the same key, and
// the operation is retried.
package kvbadger

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	"energy-ledger-go/internal/store"

	badger "github.com/dgraph-io/badger/v4"
	"go.uber.org/zap"
)

var _ store.KVStore = (*Store)(nil)

const (
	keyPrefix   = "k/"
	setPrefix   = "s/"
	maxConflict = 64
)

type Store struct {
	db *badger.DB
}

// Open opens a Badger store in dir, or an in-memory store when dir is empty.
func Open(dir string) (*Store, error) {
	var opts badger.Options
	if dir == "" {
		opts = badger.DefaultOptions("").WithInMemory(true)
	} else {
		opts = badger.DefaultOptions(dir)
	}
	opts = opts.
		WithLogger(zapLogger{zap.S().Named("badger")}).
		// The default INFO logging is a bit verbose
		WithLoggingLevel(badger.WARNING)

	db, err := badger.Open(opts)
	if err != nil {
		return nil, fmt.Errorf("unable to open badger store: %w", err)
	}
	zap.L().Info("Badger store opened", zap.String("dir", dir), zap.Bool("in_memory", dir == ""))
	return &Store{db: db}, nil
}

func (s *Store) Close() {
	if err := s.db.Close(); err != nil {
		zap.L().Warn("Failed to close badger store", zap.Error(err))
	}
}

func (s *Store) Ping(ctx context.Context) error {
	if s.db.IsClosed() {
		return errors.New("badger store is closed")
	}
	return ctx.Err()
}

func (s *Store) Get(ctx context.Context, key string) ([]byte, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var value []byte
	err := s.db.View(func(txn *badger.Txn) error {
		item, err := txn.Get(docKey(key))
		if err != nil {
			return err
		}
		value, err = item.ValueCopy(nil)
		return err
	})
	if errors.Is(err, badger.ErrKeyNotFound) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *Store) Set(ctx context.Context, key string, value []byte) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Set(docKey(key), value)
	})
	if err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

func (s *Store) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	var written bool
	err := s.retry(ctx, func(txn *badger.Txn) error {
		written = false
		_, err := txn.Get(docKey(key))
		if err == nil {
			return nil
		}
		if !errors.Is(err, badger.ErrKeyNotFound) {
			return err
		}
		written = true
		return txn.Set(docKey(key), value)
	})
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", key, err)
	}
	return written, nil
}

func (s *Store) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	var swapped bool
	err := s.retry(ctx, func(txn *badger.Txn) error {
		swapped = false
		item, err := txn.Get(docKey(key))
		if errors.Is(err, badger.ErrKeyNotFound) {
			return nil
		}
		if err != nil {
			return err
		}
		cur, err := item.ValueCopy(nil)
		if err != nil {
			return err
		}
		if !bytes.Equal(cur, old) {
			return nil
		}
		swapped = true
		return txn.Set(docKey(key), new)
	})
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, err)
	}
	return swapped, nil
}

func (s *Store) Delete(ctx context.Context, key string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		return txn.Delete(docKey(key))
	})
	if err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Store) SAdd(ctx context.Context, set string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Set(memberKey(set, m), nil); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to add members to %s: %w", set, err)
	}
	return nil
}

func (s *Store) SRem(ctx context.Context, set string, members ...string) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	err := s.db.Update(func(txn *badger.Txn) error {
		for _, m := range members {
			if err := txn.Delete(memberKey(set, m)); err != nil {
				return err
			}
		}
		return nil
	})
	if err != nil {
		return fmt.Errorf("failed to remove members from %s: %w", set, err)
	}
	return nil
}

func (s *Store) SMembers(ctx context.Context, set string) ([]string, error) {
	if err := ctx.Err(); err != nil {
		return nil, err
	}
	var members []string
	prefix := memberPrefix(set)
	err := s.db.View(func(txn *badger.Txn) error {
		opts := badger.DefaultIteratorOptions
		opts.PrefetchValues = false
		opts.Prefix = prefix
		it := txn.NewIterator(opts)
		defer it.Close()
		for it.Seek(prefix); it.ValidForPrefix(prefix); it.Next() {
			k := it.Item().Key()
			members = append(members, string(k[len(prefix):]))
		}
		return nil
	})
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", set, err)
	}
	return members, nil
}

func (s *Store) SCard(ctx context.Context, set string) (int, error) {
	members, err := s.SMembers(ctx, set)
	if err != nil {
		return 0, err
	}
	return len(members), nil
}

// retry runs fn in a read-write transaction until it commits without conflict.
func (s *Store) retry(ctx context.Context, fn func(txn *badger.Txn) error) error {
	for i := 0; i < maxConflict; i++ {
		if err := ctx.Err(); err != nil {
			return err
		}
		err := s.db.Update(fn)
		if !errors.Is(err, badger.ErrConflict) {
			return err
		}
	}
	return store.ErrConcurrentModification
}

func docKey(key string) []byte {
	return []byte(keyPrefix + key)
}

func memberPrefix(set string) []byte {
	return []byte(setPrefix + set + "\x00")
}

func memberKey(set, member string) []byte {
	return append(memberPrefix(set), member...)
}
