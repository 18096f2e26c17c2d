package models

import (
	"time"

	"github.com/google/uuid"
)

// MetricType enumerates the outcome metrics a user can report.
type MetricType string

const (
	MetricTimeSaved MetricType = "time_saved"
	MetricRevenue   MetricType = "revenue"
	MetricQuality   MetricType = "quality"
	MetricOther     MetricType = "other"
)

// MetricTypes lists every supported type in display order.
var MetricTypes = []MetricType{MetricTimeSaved, MetricRevenue, MetricQuality, MetricOther}

// MetricBounds is the two-tier range for one metric type, expressed in the
// canonical unit. Values outside [HardMin, HardMax] are rejected; values inside
// the hard range but outside [PlausibleMin, PlausibleMax] are accepted and flagged.
type MetricBounds struct {
	HardMin      float64            `json:"hard_min"`
	HardMax      float64            `json:"hard_max"`
	PlausibleMin float64            `json:"plausible_min"`
	PlausibleMax float64            `json:"plausible_max"`
	Units        map[string]float64 `json:"units,omitempty"` // accepted unit -> factor to canonical; empty accepts any unit as-is
}

// ResultLog is an immutable self-reported outcome tied to (user, prompt).
type ResultLog struct {
	ID              uuid.UUID  `json:"id"`
	UserID          uuid.UUID  `json:"user_id"`
	PromptID        uuid.UUID  `json:"prompt_id"`
	MetricType      MetricType `json:"metric_type"`
	MetricValue     float64    `json:"metric_value"`
	MetricUnit      string     `json:"metric_unit"`
	NormalizedValue float64    `json:"normalized_value"`
	IsFlagged       bool       `json:"is_flagged"`
	FlagReason      *string    `json:"flag_reason,omitempty"`
	Note            *string    `json:"note,omitempty"`
	CreatedAt       time.Time  `json:"created_at"`
}

// MetricSummary aggregates non-flagged logs of one metric type.
type MetricSummary struct {
	MetricType   MetricType `json:"metric_type"`
	Count        int        `json:"count"`
	Average      float64    `json:"average"`
	FlaggedCount int        `json:"flagged_count"`
}
