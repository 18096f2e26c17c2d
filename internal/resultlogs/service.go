// Package resultlogs accepts self-reported prompt outcomes from the prompt's
// owner and its buyers. Submissions pass a JSON schema, the two-tier metric
// bounds and an outlier check; anything suspicious is stored flagged rather
// than rejected.
package resultlogs

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"

	"github.com/google/uuid"
	"github.com/tidwall/gjson"

	"github.com/promptbazaar/backend/internal/models"
	"github.com/promptbazaar/backend/internal/repository"
	"github.com/promptbazaar/backend/internal/services"
)

// historyLimit caps how many prior accepted values feed the outlier check.
const historyLimit = 200

var ErrNotPurchased = &services.Error{Kind: services.KindForbidden, Code: "not_purchased", Message: "only buyers of this prompt can report results"}

type Store interface {
	Create(ctx context.Context, l *models.ResultLog) error
	ListAcceptedValues(ctx context.Context, promptID uuid.UUID, t models.MetricType, limit int) ([]float64, error)
	Summary(ctx context.Context, promptID uuid.UUID) ([]models.MetricSummary, error)
}

type PromptLookup interface {
	GetByID(ctx context.Context, id uuid.UUID) (*models.Prompt, error)
}

// PurchaseLookup is satisfied by *repository.PurchaseRepo.
type PurchaseLookup interface {
	FindActive(ctx context.Context, userID, promptID uuid.UUID) (*models.Purchase, error)
}

// DocValidator is satisfied by *services.SchemaValidator.
type DocValidator interface {
	Validate(ctx context.Context, name string, doc json.RawMessage) error
}

type Service struct {
	Logs      Store
	Prompts   PromptLookup
	Purchases PurchaseLookup
	Schema    DocValidator
	Metrics   *services.MetricValidator
	Anomaly   *services.AnomalyDetector
	Logger    *slog.Logger
}

// Submission is the stored log plus the verdicts that produced its flag.
type Submission struct {
	Log        *models.ResultLog         `json:"result_log"`
	Validation services.MetricValidation `json:"validation"`
	Anomaly    services.AnomalyResult    `json:"anomaly"`
}

// SubmitResultLog validates raw and stores it. Hard failures return
// ErrInvalidMetric; soft ones come back as a flagged log.
func (s *Service) SubmitResultLog(ctx context.Context, userID, promptID uuid.UUID, raw json.RawMessage) (*Submission, error) {
	if err := s.Schema.Validate(ctx, services.SchemaResultLog, raw); err != nil {
		if errors.Is(err, services.ErrValidation) {
			return nil, fmt.Errorf("%w: %v", services.ErrInvalidMetric, err)
		}
		return nil, fmt.Errorf("%w: schema: %v", services.ErrInternal, err)
	}

	prompt, err := s.visiblePrompt(ctx, userID, promptID)
	if err != nil {
		return nil, err
	}
	if prompt.OwnerID != userID {
		if err := s.requireCompletedPurchase(ctx, userID, promptID); err != nil {
			return nil, err
		}
	}

	doc := gjson.ParseBytes(raw)
	metricType := models.MetricType(doc.Get("metric_type").String())
	value := doc.Get("metric_value").Float()
	unit := strings.TrimSpace(doc.Get("metric_unit").String())

	v := s.Metrics.Validate(metricType, value, unit)
	if !v.Valid {
		return nil, fmt.Errorf("%w: %s", services.ErrInvalidMetric, v.Message)
	}

	history, err := s.Logs.ListAcceptedValues(ctx, promptID, metricType, historyLimit)
	if err != nil {
		return nil, fmt.Errorf("%w: load history: %v", services.ErrInternal, err)
	}
	a := s.Anomaly.Detect(v.NormalizedValue, history)

	l := &models.ResultLog{
		ID:              uuid.New(),
		UserID:          userID,
		PromptID:        promptID,
		MetricType:      metricType,
		MetricValue:     value,
		MetricUnit:      unit,
		NormalizedValue: v.NormalizedValue,
		IsFlagged:       v.Flagged || a.IsAnomaly,
	}
	if l.IsFlagged {
		reason := strings.TrimSpace(strings.Join([]string{v.Message, a.Message}, " "))
		l.FlagReason = &reason
	}
	if note := doc.Get("note"); note.Exists() && strings.TrimSpace(note.String()) != "" {
		n := strings.TrimSpace(note.String())
		l.Note = &n
	}

	if err := s.Logs.Create(ctx, l); err != nil {
		s.log().ErrorContext(ctx, "result log insert failed", "prompt_id", promptID, "buyer_id", userID, "error", err)
		return nil, fmt.Errorf("%w: insert result log: %v", services.ErrInternal, err)
	}
	if l.IsFlagged {
		s.log().WarnContext(ctx, "result log flagged", "prompt_id", promptID, "buyer_id", userID,
			"metric_type", metricType, "value", v.NormalizedValue, "reason", *l.FlagReason)
	}
	return &Submission{Log: l, Validation: v, Anomaly: a}, nil
}

// ResultSummary returns one entry per metric type. Averages exclude flagged logs.
// Drafts are summarized only for their owner.
func (s *Service) ResultSummary(ctx context.Context, viewerID, promptID uuid.UUID) ([]models.MetricSummary, error) {
	if _, err := s.visiblePrompt(ctx, viewerID, promptID); err != nil {
		return nil, err
	}
	rows, err := s.Logs.Summary(ctx, promptID)
	if err != nil {
		return nil, fmt.Errorf("%w: result summary: %v", services.ErrInternal, err)
	}
	byType := make(map[models.MetricType]models.MetricSummary, len(rows))
	for _, r := range rows {
		byType[r.MetricType] = r
	}
	out := make([]models.MetricSummary, 0, len(models.MetricTypes))
	for _, t := range models.MetricTypes {
		sum, ok := byType[t]
		if !ok {
			sum = models.MetricSummary{MetricType: t}
		}
		out = append(out, sum)
	}
	return out, nil
}

func (s *Service) visiblePrompt(ctx context.Context, viewerID, promptID uuid.UUID) (*models.Prompt, error) {
	prompt, err := s.Prompts.GetByID(ctx, promptID)
	if errors.Is(err, repository.ErrNotFound) {
		return nil, services.ErrPromptNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("%w: load prompt: %v", services.ErrInternal, err)
	}
	if !prompt.Published && prompt.OwnerID != viewerID {
		return nil, services.ErrPromptNotFound
	}
	return prompt, nil
}

// requireCompletedPurchase rejects reporters whose purchase is missing, pending or refunded.
func (s *Service) requireCompletedPurchase(ctx context.Context, userID, promptID uuid.UUID) error {
	p, err := s.Purchases.FindActive(ctx, userID, promptID)
	if errors.Is(err, repository.ErrNotFound) {
		return ErrNotPurchased
	}
	if err != nil {
		return fmt.Errorf("%w: load purchase: %v", services.ErrInternal, err)
	}
	if p.Status != models.PurchaseStatusCompleted {
		return fmt.Errorf("%w: purchase is still %s", ErrNotPurchased, p.Status)
	}
	return nil
}

func (s *Service) log() *slog.Logger {
	if s.Logger != nil {
		return s.Logger
	}
	return slog.Default()
}
