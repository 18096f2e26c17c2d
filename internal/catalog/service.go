// Package catalog owns the prompt listings sellers publish. Prices are whole
// credits; purchases snapshot the price, so edits never reach past sales.
package catalog

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"

	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
	"github.com/promptbazaar/backend/internal/services"
)

const (
	maxTitleLen = 200
	maxPrice    = 1_000_000
)

var ErrInvalidPrompt = &services.Error{Kind: services.KindInvalidInput, Code: "invalid_prompt", Message: "invalid prompt"}

// PromptStore is the subset of the prompt repository the catalog needs.
type PromptStore interface {
	Create(ctx context.Context, p *models.Prompt) error
	GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
	Update(ctx context.Context, p *models.Prompt) error
	ListByOwner(ctx context.Context, ownerID uuid.UUID) ([]*models.Prompt, error)
}

type Service interface {
	CreatePrompt(ctx context.Context, ownerID uuid.UUID, title, description string, price int64) (*models.Prompt, error)
	PublishPrompt(ctx context.Context, ownerID, promptID uuid.UUID) (*models.Prompt, error)
	UpdatePrice(ctx context.Context, ownerID, promptID uuid.UUID, price int64) (*models.Prompt, error)
	GetPrompt(ctx context.Context, viewerID, promptID uuid.UUID) (*models.Prompt, error)
	ListMine(ctx context.Context, ownerID uuid.UUID) ([]*models.Prompt, error)
}

type service struct {
	repo PromptStore
	log  *slog.Logger
}

func NewService(repo PromptStore, log *slog.Logger) *service {
	if log == nil {
		log = slog.Default()
	}
	return &service{repo: repo, log: log}
}

var _ Service = (*service)(nil)

func (s *service) CreatePrompt(ctx context.Context, ownerID uuid.UUID, title, description string, price int64) (*models.Prompt, error) {
	title = strings.TrimSpace(title)
	if title == "" || len(title) > maxTitleLen {
		return nil, fmt.Errorf("%w: title must be 1 to %d characters", ErrInvalidPrompt, maxTitleLen)
	}
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	p := &models.Prompt{
		ID:          uuid.New(),
		OwnerID:     ownerID,
		Title:       title,
		Description: strings.TrimSpace(description),
		Price:       price,
	}
	if err := s.repo.Create(ctx, p); err != nil {
		return nil, fmt.Errorf("%w: create prompt: %v", services.ErrInternal, err)
	}
	s.log.InfoContext(ctx, "prompt created", "prompt_id", p.ID, "seller_id", ownerID, "amount", price)
	return p, nil
}

func (s *service) PublishPrompt(ctx context.Context, ownerID, promptID uuid.UUID) (*models.Prompt, error) {
	p, err := s.owned(ctx, ownerID, promptID)
	if err != nil {
		return nil, err
	}
	if p.Published {
		return p, nil
	}
	p.Published = true
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "prompt published", "prompt_id", p.ID, "seller_id", ownerID)
	return p, nil
}

// UpdatePrice changes the listing price. Existing purchases keep their snapshot.
func (s *service) UpdatePrice(ctx context.Context, ownerID, promptID uuid.UUID, price int64) (*models.Prompt, error) {
	if err := checkPrice(price); err != nil {
		return nil, err
	}
	p, err := s.owned(ctx, ownerID, promptID)
	if err != nil {
		return nil, err
	}
	old := p.Price
	p.Price = price
	if err := s.save(ctx, p); err != nil {
		return nil, err
	}
	s.log.InfoContext(ctx, "prompt price changed", "prompt_id", p.ID, "seller_id", ownerID, "old_price", old, "amount", price)
	return p, nil
}

// GetPrompt returns a published prompt, or an unpublished one to its owner.
func (s *service) GetPrompt(ctx context.Context, viewerID, promptID uuid.UUID) (*models.Prompt, error) {
	p, err := s.get(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if !p.Published && p.OwnerID != viewerID {
		return nil, services.ErrPromptNotFound
	}
	return p, nil
}

func (s *service) ListMine(ctx context.Context, ownerID uuid.UUID) ([]*models.Prompt, error) {
	list, err := s.repo.ListByOwner(ctx, ownerID)
	if err != nil {
		return nil, fmt.Errorf("%w: list prompts: %v", services.ErrInternal, err)
	}
	return list, nil
}

func (s *service) get(ctx context.Context, promptID uuid.UUID) (*models.Prompt, error) {
	p, err := s.repo.GetByID(ctx, promptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, services.ErrPromptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load prompt: %v", services.ErrInternal, err)
	}
	return p, nil
}

func (s *service) owned(ctx context.Context, ownerID, promptID uuid.UUID) (*models.Prompt, error) {
	p, err := s.get(ctx, promptID)
	if err != nil {
		return nil, err
	}
	if p.OwnerID != ownerID {
		return nil, services.ErrForbidden
	}
	return p, nil
}

func (s *service) save(ctx context.Context, p *models.Prompt) error {
	err := s.repo.Update(ctx, p)
	if errors.Is(err, repository.ErrNotFound) {
		return services.ErrPromptNotFound
	}
	if err != nil {
		return fmt.Errorf("%w: update prompt: %v", services.ErrInternal, err)
	}
	return nil
}

func checkPrice(price int64) error {
	if price < 0 || price > maxPrice {
		return fmt.Errorf("%w: price must be between 0 and %d credits", ErrInvalidPrompt, maxPrice)
	}
	return nil
}
