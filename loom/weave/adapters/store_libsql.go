package adapters

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
)

// LibSQLFragmentStore implements FragmentStore on the embedded libsql database.
// The fragments table is created by the loom/db migrations.
type LibSQLFragmentStore struct {
	db  *sql.DB
	now func() time.Time
}

// NewLibSQLFragmentStore creates a new LibSQL fragment store.
func NewLibSQLFragmentStore(db *sql.DB) *LibSQLFragmentStore {
	return &LibSQLFragmentStore{db: db, now: time.Now}
}

// Fetch loads the highest fragment instance for key.
func (s *LibSQLFragmentStore) Fetch(ctx context.Context, key string) (*ports.Fragment, error) {
	query := `
		SELECT instance, total_tokens, messages FROM fragments
		WHERE conversation_key = ?
		ORDER BY instance DESC
		LIMIT 1
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, key))
}

// FetchInstance loads one specific fragment instance.
func (s *LibSQLFragmentStore) FetchInstance(ctx context.Context, key string, instance int) (*ports.Fragment, error) {
	query := `
		SELECT instance, total_tokens, messages FROM fragments
		WHERE conversation_key = ? AND instance = ?
	`
	return s.scanOne(s.db.QueryRowContext(ctx, query, key, instance))
}

// Instances returns the highest instance number stored for key, 0 if none.
func (s *LibSQLFragmentStore) Instances(ctx context.Context, key string) (int, error) {
	var n sql.NullInt64
	err := s.db.QueryRowContext(ctx, `SELECT MAX(instance) FROM fragments WHERE conversation_key = ?`, key).Scan(&n)
	if err != nil {
		return 0, fmt.Errorf("failed to count fragment instances: %w", err)
	}
	return int(n.Int64), nil
}

// Save inserts a new instance or rewrites the latest one inside a single transaction.
func (s *LibSQLFragmentStore) Save(ctx context.Context, key string, fragment *ports.Fragment, newFragment bool) error {
	messages, err := encodeMessages(fragment.Messages)
	if err != nil {
		return err
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	var latest sql.NullInt64
	if err := tx.QueryRowContext(ctx, `SELECT MAX(instance) FROM fragments WHERE conversation_key = ?`, key).Scan(&latest); err != nil {
		return fmt.Errorf("failed to read latest instance: %w", err)
	}

	now := s.now().UTC().UnixNano()
	instance := int(latest.Int64)
	if newFragment || !latest.Valid {
		instance++
		_, err = tx.ExecContext(ctx, `
			INSERT INTO fragments (conversation_key, instance, total_tokens, messages, created_at, updated_at)
			VALUES (?, ?, ?, ?, ?, ?)
		`, key, instance, fragment.TotalTokens, messages, now, now)
	} else {
		_, err = tx.ExecContext(ctx, `
			UPDATE fragments SET total_tokens = ?, messages = ?, updated_at = ?
			WHERE conversation_key = ? AND instance = ?
		`, fragment.TotalTokens, messages, now, key, instance)
	}
	if err != nil {
		return fmt.Errorf("failed to save fragment: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit fragment: %w", err)
	}
	fragment.Instance = instance
	return nil
}

func (s *LibSQLFragmentStore) scanOne(row *sql.Row) (*ports.Fragment, error) {
	var (
		f        ports.Fragment
		messages string
	)
	if err := row.Scan(&f.Instance, &f.TotalTokens, &messages); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to query fragment: %w", err)
	}

	msgs, err := decodeMessages(messages)
	if err != nil {
		return nil, err
	}
	f.Messages = msgs
	return &f, nil
}

var (
	_ ports.FragmentStore   = (*LibSQLFragmentStore)(nil)
	_ ports.FragmentArchive = (*LibSQLFragmentStore)(nil)
)
