package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
)

// Sentinel errors shared across all backend implementations.
var (
	ErrNotFound               = errors.New("key not found")
	ErrConcurrentModification = errors.New("concurrent modification detected")
)

// KVStore defines the contract that every persistence backend (SQLite, Badger, ...) must satisfy.
// Values are opaque bytes; CompareAndSwap and SetIfAbsent are the only conditional writes and
// must be atomic with respect to every other writer of the same key.
type KVStore interface {
	// --- Keys ---
	Get(ctx context.Context, key string) ([]byte, error)
	Set(ctx context.Context, key string, value []byte) error
	SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error)
	CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error)
	Delete(ctx context.Context, key string) error

	// --- Sets ---
	SAdd(ctx context.Context, set string, members ...string) error
	SRem(ctx context.Context, set string, members ...string) error
	SMembers(ctx context.Context, set string) ([]string, error)
	SCard(ctx context.Context, set string) (int, error)

	// --- Lifecycle ---
	Ping(ctx context.Context) error
	Close()
}

// GetJSON loads key into v. It returns the raw bytes so callers can use them as the
// expected value of a later CompareAndSwap.
func GetJSON(ctx context.Context, s KVStore, key string, v any) ([]byte, error) {
	raw, err := s.Get(ctx, key)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(raw, v); err != nil {
		return nil, fmt.Errorf("failed to decode %s: %w", key, err)
	}
	return raw, nil
}

func SetJSON(ctx context.Context, s KVStore, key string, v any) error {
	raw, err := json.Marshal(v)
	if err != nil {
		return fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.Set(ctx, key, raw)
}

func SetJSONIfAbsent(ctx context.Context, s KVStore, key string, v any) (bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return false, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	return s.SetIfAbsent(ctx, key, raw)
}

// SwapJSON replaces key with v only if the stored bytes still equal old.
func SwapJSON(ctx context.Context, s KVStore, key string, old []byte, v any) ([]byte, bool, error) {
	raw, err := json.Marshal(v)
	if err != nil {
		return nil, false, fmt.Errorf("failed to encode %s: %w", key, err)
	}
	ok, err := s.CompareAndSwap(ctx, key, old, raw)
	if err != nil {
		return nil, false, err
	}
	return raw, ok, nil
}

// Update applies fn to the current value of key and retries on concurrent
// modification until the swap lands or attempts run out. A missing key is
// passed to fn as the zero value and created with SetIfAbsent.
func Update[T any](ctx context.Context, s KVStore, key string, attempts int, fn func(*T) error) error {
	for i := 0; i < attempts; i++ {
		var cur T
		old, err := GetJSON(ctx, s, key, &cur)
		missing := errors.Is(err, ErrNotFound)
		if err != nil && !missing {
			return err
		}
		if err := fn(&cur); err != nil {
			return err
		}
		var ok bool
		if missing {
			ok, err = SetJSONIfAbsent(ctx, s, key, &cur)
		} else {
			_, ok, err = SwapJSON(ctx, s, key, old, &cur)
		}
		if err != nil {
			return err
		}
		if ok {
			return nil
		}
		if err := ctx.Err(); err != nil {
			return err
		}
	}
	return fmt.Errorf("update %s: %w", key, ErrConcurrentModification)
}
