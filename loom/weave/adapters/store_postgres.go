package adapters

import (
	"context"
	"errors"
	"fmt"
	"time"

	ports "github.com/ZanzyTHEbar/loreweave/loom/weave/ports"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
)

// PostgresFragmentStore persists fragments in PostgreSQL.
type PostgresFragmentStore struct {
	pool *pgxpool.Pool
	now  func() time.Time
}

// NewPostgresFragmentStore connects to databaseURL and ensures the schema exists.
func NewPostgresFragmentStore(ctx context.Context, databaseURL string) (*PostgresFragmentStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, fmt.Errorf("connect postgres: %w", err)
	}

	if err := initFragmentSchema(ctx, pool); err != nil {
		pool.Close()
		return nil, err
	}

	return &PostgresFragmentStore{pool: pool, now: time.Now}, nil
}

func initFragmentSchema(ctx context.Context, pool *pgxpool.Pool) error {
	stmts := []string{
		`CREATE TABLE IF NOT EXISTS fragments (
			conversation_key TEXT NOT NULL,
			instance INTEGER NOT NULL,
			total_tokens INTEGER NOT NULL DEFAULT 0,
			messages JSONB NOT NULL DEFAULT '[]'::jsonb,
			created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
			PRIMARY KEY (conversation_key, instance)
		);`,
	}

	for _, stmt := range stmts {
		if _, err := pool.Exec(ctx, stmt); err != nil {
			return fmt.Errorf("init schema failed on %q: %w", stmt, err)
		}
	}
	return nil
}

func (s *PostgresFragmentStore) Fetch(ctx context.Context, key string) (*ports.Fragment, error) {
	return s.scanOne(s.pool.QueryRow(ctx,
		`SELECT instance, total_tokens, messages::text FROM fragments
		 WHERE conversation_key=$1 ORDER BY instance DESC LIMIT 1`,
		key,
	))
}

func (s *PostgresFragmentStore) FetchInstance(ctx context.Context, key string, instance int) (*ports.Fragment, error) {
	return s.scanOne(s.pool.QueryRow(ctx,
		`SELECT instance, total_tokens, messages::text FROM fragments
		 WHERE conversation_key=$1 AND instance=$2`,
		key, instance,
	))
}

func (s *PostgresFragmentStore) Instances(ctx context.Context, key string) (int, error) {
	var n int
	if err := s.pool.QueryRow(ctx,
		`SELECT COALESCE(MAX(instance), 0) FROM fragments WHERE conversation_key=$1`, key,
	).Scan(&n); err != nil {
		return 0, fmt.Errorf("count fragment instances: %w", err)
	}
	return n, nil
}

// Save serializes writers per conversation with a transaction-scoped advisory lock.
func (s *PostgresFragmentStore) Save(ctx context.Context, key string, fragment *ports.Fragment, newFragment bool) error {
	messages, err := encodeMessages(fragment.Messages)
	if err != nil {
		return err
	}

	tx, err := s.pool.Begin(ctx)
	if err != nil {
		return fmt.Errorf("begin fragment tx: %w", err)
	}
	defer tx.Rollback(ctx)

	if _, err := tx.Exec(ctx, `SELECT pg_advisory_xact_lock(hashtext($1))`, key); err != nil {
		return fmt.Errorf("lock conversation: %w", err)
	}

	var latest int
	if err := tx.QueryRow(ctx,
		`SELECT COALESCE(MAX(instance), 0) FROM fragments WHERE conversation_key=$1`, key,
	).Scan(&latest); err != nil {
		return fmt.Errorf("read latest instance: %w", err)
	}

	now := s.now().UTC()
	instance := latest
	if newFragment || latest == 0 {
		instance++
		_, err = tx.Exec(ctx,
			`INSERT INTO fragments (conversation_key, instance, total_tokens, messages, created_at, updated_at)
			 VALUES ($1, $2, $3, $4::jsonb, $5, $5)`,
			key, instance, fragment.TotalTokens, messages, now,
		)
	} else {
		_, err = tx.Exec(ctx,
			`UPDATE fragments SET total_tokens=$3, messages=$4::jsonb, updated_at=$5
			 WHERE conversation_key=$1 AND instance=$2`,
			key, instance, fragment.TotalTokens, messages, now,
		)
	}
	if err != nil {
		return fmt.Errorf("save fragment: %w", err)
	}

	if err := tx.Commit(ctx); err != nil {
		return fmt.Errorf("commit fragment: %w", err)
	}
	fragment.Instance = instance
	return nil
}

func (s *PostgresFragmentStore) scanOne(row pgx.Row) (*ports.Fragment, error) {
	var (
		f        ports.Fragment
		messages string
	)
	if err := row.Scan(&f.Instance, &f.TotalTokens, &messages); err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, nil
		}
		return nil, fmt.Errorf("query fragment: %w", err)
	}

	msgs, err := decodeMessages(messages)
	if err != nil {
		return nil, err
	}
	f.Messages = msgs
	return &f, nil
}

func (s *PostgresFragmentStore) Close() error {
	s.pool.Close()
	return nil
}

var (
	_ ports.FragmentStore   = (*PostgresFragmentStore)(nil)
	_ ports.FragmentArchive = (*PostgresFragmentStore)(nil)
)
