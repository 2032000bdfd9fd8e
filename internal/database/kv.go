package database

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"energy-ledger-go/internal/store"
)

func (s *Service) Get(ctx context.Context, key string) ([]byte, error) {
	var value []byte
	err := s.db.QueryRowContext(ctx, queryGetValue, key).Scan(&value)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, store.ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get %s: %w", key, err)
	}
	return value, nil
}

func (s *Service) Set(ctx context.Context, key string, value []byte) error {
	if _, err := s.db.ExecContext(ctx, queryUpsertValue, key, value); err != nil {
		return fmt.Errorf("failed to set %s: %w", key, err)
	}
	return nil
}

// SetIfAbsent relies on INSERT OR IGNORE: zero affected rows means another writer got there first.
func (s *Service) SetIfAbsent(ctx context.Context, key string, value []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryInsertValueIfAbsent, key, value)
	if err != nil {
		return false, fmt.Errorf("failed to insert %s: %w", key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking insert result: %w", err)
	}
	return rows == 1, nil
}

// CompareAndSwap updates key only while its stored value is byte-equal to old.
func (s *Service) CompareAndSwap(ctx context.Context, key string, old, new []byte) (bool, error) {
	result, err := s.db.ExecContext(ctx, queryCompareAndSwap, new, key, old)
	if err != nil {
		return false, fmt.Errorf("failed to swap %s: %w", key, err)
	}
	rows, err := result.RowsAffected()
	if err != nil {
		return false, fmt.Errorf("error checking swap result: %w", err)
	}
	return rows == 1, nil
}

func (s *Service) Delete(ctx context.Context, key string) error {
	if _, err := s.db.ExecContext(ctx, queryDeleteValue, key); err != nil {
		return fmt.Errorf("failed to delete %s: %w", key, err)
	}
	return nil
}

func (s *Service) SAdd(ctx context.Context, set string, members ...string) error {
	return s.execMembers(ctx, queryAddMember, set, members)
}

func (s *Service) SRem(ctx context.Context, set string, members ...string) error {
	return s.execMembers(ctx, queryRemoveMember, set, members)
}

func (s *Service) SMembers(ctx context.Context, set string) ([]string, error) {
	rows, err := s.db.QueryContext(ctx, queryGetMembers, set)
	if err != nil {
		return nil, fmt.Errorf("failed to list members of %s: %w", set, err)
	}
	defer rows.Close()

	var members []string
	for rows.Next() {
		var m string
		if err := rows.Scan(&m); err != nil {
			return nil, fmt.Errorf("failed to scan member of %s: %w", set, err)
		}
		members = append(members, m)
	}
	return members, rows.Err()
}

func (s *Service) SCard(ctx context.Context, set string) (int, error) {
	var n int
	if err := s.db.QueryRowContext(ctx, queryCountMembers, set).Scan(&n); err != nil {
		return 0, fmt.Errorf("failed to count members of %s: %w", set, err)
	}
	return n, nil
}

func (s *Service) execMembers(ctx context.Context, query, set string, members []string) error {
	if len(members) == 0 {
		return nil
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	stmt, err := tx.PrepareContext(ctx, query)
	if err != nil {
		return fmt.Errorf("failed to prepare member statement: %w", err)
	}
	defer stmt.Close()

	for _, m := range members {
		if _, err := stmt.ExecContext(ctx, set, m); err != nil {
			return fmt.Errorf("failed to update member %s of %s: %w", m, set, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit member update: %w", err)
	}
	return nil
}
