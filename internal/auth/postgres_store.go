package auth

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
)

// PostgresStore persists API keys in PostgreSQL
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a new PostgreSQL-backed auth store
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const keyColumns = `id, hash, name, created_at, last_used, expires_at, revoked`

func (p *PostgresStore) Create(ctx context.Context, key *APIKey) error {
	_, err := p.db.ExecContext(ctx, `
		INSERT INTO api_keys (id, hash, name, created_at, expires_at, revoked)
		VALUES ($1, $2, $3, $4, $5, $6)
	`, key.ID, key.Hash, key.Name, key.CreatedAt, key.ExpiresAt, key.Revoked)
	if err != nil {
		return fmt.Errorf("failed to create api key: %w", err)
	}
	return nil
}

func (p *PostgresStore) GetByHash(ctx context.Context, hash string) (*APIKey, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+keyColumns+` FROM api_keys WHERE hash = $1`, hash)
	key, err := scanKey(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrKeyNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get api key: %w", err)
	}
	return key, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*APIKey, error) {
	rows, err := p.db.QueryContext(ctx, `SELECT `+keyColumns+` FROM api_keys ORDER BY created_at DESC, id DESC`)
	if err != nil {
		return nil, fmt.Errorf("failed to list api keys: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var out []*APIKey
	for rows.Next() {
		key, err := scanKey(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan api key: %w", err)
		}
		out = append(out, key)
	}
	return out, rows.Err()
}

func (p *PostgresStore) Update(ctx context.Context, key *APIKey) error {
	res, err := p.db.ExecContext(ctx, `
		UPDATE api_keys SET last_used = $1, revoked = $2 WHERE id = $3
	`, key.LastUsed, key.Revoked, key.ID)
	if err != nil {
		return fmt.Errorf("failed to update api key: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrKeyNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanKey(sc scanner) (*APIKey, error) {
	var (
		key       APIKey
		lastUsed  sql.NullTime
		expiresAt sql.NullTime
	)
	if err := sc.Scan(&key.ID, &key.Hash, &key.Name, &key.CreatedAt, &lastUsed, &expiresAt, &key.Revoked); err != nil {
		return nil, err
	}
	key.CreatedAt = key.CreatedAt.UTC()
	if lastUsed.Valid {
		t := lastUsed.Time.UTC()
		key.LastUsed = &t
	}
	if expiresAt.Valid {
		t := expiresAt.Time.UTC()
		key.ExpiresAt = &t
	}
	return &key, nil
}
