package assessments

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/lib/pq"

	"github.com/mbd888/defiintel/internal/pagination"
)

// PostgresStore persists assessments in PostgreSQL. The schema lives in
// migrations/ and is applied with cmd/migrate.
type PostgresStore struct {
	db *sql.DB
}

// NewPostgresStore creates a PostgreSQL-backed assessment store.
func NewPostgresStore(db *sql.DB) *PostgresStore {
	return &PostgresStore{db: db}
}

const selectColumns = `id, subject, source, score, category, confidence, model_type,
	fraud_probability, indicators, patterns, features, evaluated_at`

func (s *PostgresStore) Record(ctx context.Context, a *Assessment) error {
	indicators, err := json.Marshal(nonNil(a.Indicators))
	if err != nil {
		return fmt.Errorf("failed to marshal indicators: %w", err)
	}
	vec, err := json.Marshal(a.Features)
	if err != nil {
		return fmt.Errorf("failed to marshal features: %w", err)
	}

	var modelType sql.NullString
	if a.ModelType != "" {
		modelType = sql.NullString{String: a.ModelType, Valid: true}
	}
	var prob sql.NullFloat64
	if a.FraudProbability != nil {
		prob = sql.NullFloat64{Float64: *a.FraudProbability, Valid: true}
	}

	_, err = s.db.ExecContext(ctx, `
		INSERT INTO risk_assessments (`+selectColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12)
	`,
		a.ID,
		a.Subject,
		string(a.Source),
		a.Score,
		a.Category,
		a.Confidence,
		modelType,
		prob,
		indicators,
		pq.Array(nonNil(a.Patterns)),
		vec,
		a.EvaluatedAt,
	)
	if err != nil {
		return fmt.Errorf("failed to record assessment: %w", err)
	}
	return nil
}

func (s *PostgresStore) Get(ctx context.Context, id string) (*Assessment, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+selectColumns+` FROM risk_assessments WHERE id = $1`, id)
	a, err := scanAssessment(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get assessment: %w", err)
	}
	return a, nil
}

func (s *PostgresStore) ListBySubject(ctx context.Context, subject string, limit int, after *pagination.Cursor) ([]*Assessment, error) {
	if limit <= 0 {
		limit = DefaultListLimit
	}

	query := `SELECT ` + selectColumns + ` FROM risk_assessments WHERE subject = $1`
	args := []any{subject}
	if after != nil {
		query += ` AND (evaluated_at, id) < ($2, $3)`
		args = append(args, after.At, after.ID)
	}
	query += fmt.Sprintf(` ORDER BY evaluated_at DESC, id DESC LIMIT $%d`, len(args)+1)
	args = append(args, limit)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("failed to list assessments: %w", err)
	}
	defer func() { _ = rows.Close() }()

	var result []*Assessment
	for rows.Next() {
		a, err := scanAssessment(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan assessment: %w", err)
		}
		result = append(result, a)
	}
	return result, rows.Err()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanAssessment(sc scanner) (*Assessment, error) {
	var (
		a          Assessment
		source     string
		modelType  sql.NullString
		prob       sql.NullFloat64
		indicators []byte
		patterns   pq.StringArray
		vec        []byte
	)
	if err := sc.Scan(&a.ID, &a.Subject, &source, &a.Score, &a.Category, &a.Confidence,
		&modelType, &prob, &indicators, &patterns, &vec, &a.EvaluatedAt); err != nil {
		return nil, err
	}
	a.Source = Source(source)
	a.ModelType = modelType.String
	if prob.Valid {
		p := prob.Float64
		a.FraudProbability = &p
	}
	if err := json.Unmarshal(indicators, &a.Indicators); err != nil {
		return nil, fmt.Errorf("decode indicators: %w", err)
	}
	if len(patterns) > 0 {
		a.Patterns = []string(patterns)
	}
	if err := json.Unmarshal(vec, &a.Features); err != nil {
		return nil, fmt.Errorf("decode features: %w", err)
	}
	a.EvaluatedAt = a.EvaluatedAt.UTC()
	return &a, nil
}

func nonNil(s []string) []string {
	if s == nil {
		return []string{}
	}
	return s
}
