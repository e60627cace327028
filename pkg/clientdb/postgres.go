package clientdb

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

const pgSchema = `
CREATE TABLE IF NOT EXISTS hive_clients (
	id              TEXT PRIMARY KEY,
	name            TEXT NOT NULL UNIQUE,
	access_key_hash TEXT NOT NULL,
	password_hash   TEXT NOT NULL DEFAULT '',
	blacklist       JSONB NOT NULL DEFAULT '{}'::jsonb,
	created_at      TIMESTAMPTZ NOT NULL DEFAULT now()
)`

// PostgresStore keeps clients in the hive_clients table.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore opens a connection pool and creates the table if needed.
func NewPostgresStore(ctx context.Context, databaseURL string) (*PostgresStore, error) {
	pool, err := pgxpool.New(ctx, databaseURL)
	if err != nil {
		return nil, err
	}

	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, err
	}

	if _, err := pool.Exec(ctx, pgSchema); err != nil {
		pool.Close()
		return nil, fmt.Errorf("creating schema: %w", err)
	}

	return &PostgresStore{pool: pool}, nil
}

func (s *PostgresStore) Close() error {
	s.pool.Close()
	return nil
}

func (s *PostgresStore) GetClientsByName(ctx context.Context, name string) ([]Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, access_key_hash, password_hash, blacklist, created_at
		FROM hive_clients WHERE name = $1
	`, name)
	if err != nil {
		return nil, err
	}
	return collectClients(rows)
}

func (s *PostgresStore) AddClient(ctx context.Context, c Client) error {
	if err := ValidateName(c.Name); err != nil {
		return err
	}
	blacklist, err := json.Marshal(c.Blacklist)
	if err != nil {
		return err
	}

	_, err = s.pool.Exec(ctx, `
		INSERT INTO hive_clients (id, name, access_key_hash, password_hash, blacklist, created_at)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, c.ID, c.Name, c.AccessKeyHash, c.PasswordHash, blacklist, c.CreatedAt)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
			return fmt.Errorf("%w: %s", ErrClientExists, c.Name)
		}
		return err
	}
	return nil
}

func (s *PostgresStore) ListClients(ctx context.Context) ([]Client, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, name, access_key_hash, password_hash, blacklist, created_at
		FROM hive_clients ORDER BY name
	`)
	if err != nil {
		return nil, err
	}
	return collectClients(rows)
}

func collectClients(rows pgx.Rows) ([]Client, error) {
	defer rows.Close()

	var clients []Client
	for rows.Next() {
		var (
			c         Client
			blacklist []byte
		)
		if err := rows.Scan(
			&c.ID,
			&c.Name,
			&c.AccessKeyHash,
			&c.PasswordHash,
			&blacklist,
			&c.CreatedAt,
		); err != nil {
			return nil, err
		}
		if len(blacklist) > 0 {
			if err := json.Unmarshal(blacklist, &c.Blacklist); err != nil {
				return nil, fmt.Errorf("decoding blacklist of %s: %w", c.Name, err)
			}
		}
		clients = append(clients, c)
	}
	return clients, rows.Err()
}
