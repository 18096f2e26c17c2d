package repository

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/promptbazaar/backend/internal/models"
)

const promptColumns = `id, owner_id, title, description, price, published, created_at, updated_at`

type PromptRepo struct {
	pool *pgxpool.Pool
}

func NewPromptRepo(pool *pgxpool.Pool) *PromptRepo {
	return &PromptRepo{pool: pool}
}

func (r *PromptRepo) Create(ctx context.Context, p *models.Prompt) error {
	return r.pool.QueryRow(ctx, `
		INSERT INTO prompts (id, owner_id, title, description, price, published)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING created_at, updated_at
	`, p.ID, p.OwnerID, p.Title, p.Description, p.Price, p.Published).Scan(&p.CreatedAt, &p.UpdatedAt)
}

func (r *PromptRepo) GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error) {
	return scanPrompt(r.pool.QueryRow(ctx, `SELECT `+promptColumns+` FROM prompts WHERE id = $1`, id))
}

func (r *PromptRepo) Update(ctx context.Context, p *models.Prompt) error {
	err := r.pool.QueryRow(ctx, `
		UPDATE prompts SET title = $2, description = $3, price = $4, published = $5, updated_at = now()
		WHERE id = $1
		RETURNING updated_at
	`, p.ID, p.Title, p.Description, p.Price, p.Published).Scan(&p.UpdatedAt)
	return mapErr(err)
}

func (r *PromptRepo) ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Prompt, error) {
	rows, err := r.pool.Query(ctx, `SELECT `+promptColumns+` FROM prompts WHERE owner_id = $1 ORDER BY created_at DESC`, ownerID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var list []*models.Prompt
	for rows.Next() {
		p, err := scanPrompt(rows)
		if err != nil {
			return nil, err
		}
		list = append(list, p)
	}
	return list, rows.Err()
}

func scanPrompt(row pgx.Row) (*models.Prompt, error) {
	var p models.Prompt
	if err := row.Scan(&p.ID, &p.OwnerID, &p.Title, &p.Description, &p.Price, &p.Published, &p.CreatedAt, &p.UpdatedAt); err != nil {
		return nil, mapErr(err)
	}
	return &p, nil
}
