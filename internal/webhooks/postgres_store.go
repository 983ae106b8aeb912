package webhooks

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"
)

// PostgresStore persists subscriptions in PostgreSQL. The schema lives in
// migrations/ and is applied with cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed subscription store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const subscriptionColumns = `id, url, secret, events, subjects, min_score, active,
	created_at, last_success, last_error, consecutive_failures`

func (p *PostgresStore) Create(ctx context.Context, sub *Subscription) error {
	events, err := json.Marshal(sub.Events)
	if err != nil {
		return fmt.Errorf("failed to marshal events: %w", err)
	}
	subjects := sub.Subjects
	if subjects == nil {
		subjects = []string{}
	}

	_, err = p.db.ExecContext(ctx, `
		INSERT INTO webhook_subscriptions (id, url, secret, events, subjects, min_score, active, created_at)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
	`, sub.ID, sub.URL, sub.Secret, events, pq.Array(subjects), sub.MinScore, sub.Active, sub.CreatedAt)
	if err != nil {
		return fmt.Errorf("failed to create webhook: %w", err)
	}
	return nil
}

func (p *PostgresStore) Get(ctx context.Context, id string) (*Subscription, error) {
	row := p.db.QueryRowContext(ctx, `SELECT `+subscriptionColumns+` FROM webhook_subscriptions WHERE id = $1`, id)
	sub, err := scanSubscription(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get webhook: %w", err)
	}
	return sub, nil
}

func (p *PostgresStore) List(ctx context.Context) ([]*Subscription, error) {
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		ORDER BY created_at DESC, id DESC
	`)
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) ListByEvent(ctx context.Context, t EventType) ([]*Subscription, error) {
	contains, _ := json.Marshal([]EventType{t})
	rows, err := p.db.QueryContext(ctx, `
		SELECT `+subscriptionColumns+`
		FROM webhook_subscriptions
		WHERE active = TRUE AND events @> $1::jsonb
		ORDER BY created_at DESC, id DESC
	`, string(contains))
	if err != nil {
		return nil, fmt.Errorf("failed to list webhooks: %w", err)
	}
	return collect(rows)
}

func (p *PostgresStore) Update(ctx context.Context, sub *Subscription) error {
	var lastError sql.NullString
	if sub.LastError != "" {
		lastError = sql.NullString{String: sub.LastError, Valid: true}
	}
	res, err := p.db.ExecContext(ctx, `
		UPDATE webhook_subscriptions SET
			active = $1,
			last_success = $2,
			last_error = $3,
			consecutive_failures = $4
		WHERE id = $5
	`, sub.Active, sub.LastSuccess, lastError, sub.ConsecutiveFailures, sub.ID)
	if err != nil {
		return fmt.Errorf("failed to update webhook: %w", err)
	}
	return requireRow(res)
}

func (p *PostgresStore) Delete(ctx context.Context, id string) error {
	res, err := p.db.ExecContext(ctx, `DELETE FROM webhook_subscriptions WHERE id = $1`, id)
	if err != nil {
		return fmt.Errorf("failed to delete webhook: %w", err)
	}
	return requireRow(res)
}

func requireRow(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSubscription(sc scanner) (*Subscription, error) {
	var (
		sub         Subscription
		events      []byte
		subjects    pq.StringArray
		lastSuccess sql.NullTime
		lastError   sql.NullString
	)
	if err := sc.Scan(&sub.ID, &sub.URL, &sub.Secret, &events, &subjects, &sub.MinScore, &sub.Active,
		&sub.CreatedAt, &lastSuccess, &lastError, &sub.ConsecutiveFailures); err != nil {
		return nil, err
	}
	if err := json.Unmarshal(events, &sub.Events); err != nil {
		return nil, fmt.Errorf("decode events: %w", err)
	}
	if len(subjects) > 0 {
		sub.Subjects = []string(subjects)
	}
	if lastSuccess.Valid {
		t := lastSuccess.Time.UTC()
		sub.LastSuccess = &t
	}
	sub.LastError = lastError.String
	sub.CreatedAt = sub.CreatedAt.UTC()
	return &sub, nil
}

func collect(rows *sql.Rows) ([]*Subscription, error) {
	defer func() { _ = rows.Close() }()

	var out []*Subscription
	for rows.Next() {
		sub, err := scanSubscription(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan webhook: %w", err)
		}
		out = append(out, sub)
	}
	return out, rows.Err()
}
