package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/models"
)

type ResultLogRepo struct {
	pool *pgxpool.Pool
}

func NewResultLogRepo(pool *pgxpool.Pool) *ResultLogRepo {
	return &ResultLogRepo{pool: pool}
}

func (r *ResultLogRepo) Create(ctx context.Context, l *models.ResultLog) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO result_logs (id, user_id, prompt_id, metric_type, metric_value, metric_unit, normalized_value, is_flagged, flag_reason, note)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
		RETURNING created_at
	`, l.ID, l.UserID, l.PromptID, l.MetricType, l.MetricValue, l.MetricUnit, l.NormalizedValue, l.IsFlagged, l.FlagReason, l.Note).Scan(&l.CreatedAt)
}

// ListAcceptedValues returns the most recent non-flagged normalized values for (prompt, metric type).
func (r *ResultLogRepo) ListAcceptedValues(ctx context.Context, promptID uuid.UUID, t models.MetricType, limit int) ([]float64, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT normalized_value FROM result_logs
		WHERE prompt_id = $1 AND metric_type = $2 AND NOT is_flagged
		ORDER BY created_at DESC LIMIT $3
	`, promptID, t, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []float64
	for rows.Next() {
		var v float64
		if err := rows.Scan(&v); err != nil {
			return nil, err
		}
		out = append(out, v)
	}
	return out, rows.Err()
}

// Summary aggregates a prompt's logs per metric type. Averages cover non-flagged rows only.
func (r *ResultLogRepo) Summary(ctx context.Context, promptID uuid.UUID) ([]models.MetricSummary, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT metric_type,
			COUNT(*) FILTER (WHERE NOT is_flagged),
			COALESCE(AVG(normalized_value) FILTER (WHERE NOT is_flagged), 0),
			COUNT(*) FILTER (WHERE is_flagged)
		FROM result_logs WHERE prompt_id = $1
		GROUP BY metric_type ORDER BY metric_type
	`, promptID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []models.MetricSummary
	for rows.Next() {
		var s models.MetricSummary
		if err := rows.Scan(&s.MetricType, &s.Count, &s.Average, &s.FlaggedCount); err != nil {
			return nil, err
		}
		out = append(out, s)
	}
	return out, rows.Err()
}

func (r *ResultLogRepo) ListByPrompt(ctx context.Context, promptID uuid.UUID, limit int) ([]*models.ResultLog, error) {
	rows, err := r.pool.Query(ctx, `
		SELECT id, user_id, prompt_id, metric_type, metric_value, metric_unit, normalized_value, is_flagged, flag_reason, note, created_at
		FROM result_logs WHERE prompt_id = $1 ORDER BY created_at DESC LIMIT $2
	`, promptID, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.ResultLog
	for rows.Next() {
		var l models.ResultLog
		if err := rows.Scan(&l.ID, &l.UserID, &l.PromptID, &l.MetricType, &l.MetricValue, &l.MetricUnit, &l.NormalizedValue, &l.IsFlagged, &l.FlagReason, &l.Note, &l.CreatedAt); err != nil {
			return nil, err
		}
		list = append(list, &l)
	}
	return list, rows.Err()
}
