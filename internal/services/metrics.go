package services

import (
	"fmt"
	"math"
	"strings"

	"github.com/promptbazaar/backend/internal/models"
)

// MetricValidation is the validator's verdict. Valid=false is a hard reject;
// Flagged=true is accepted but excluded from public aggregates.
type MetricValidation struct {
	Valid           bool    `json:"valid"`
	Flagged         bool    `json:"flagged"`
	Message         string  `json:"message,omitempty"`
	NormalizedValue float64 `json:"normalized_value"`
}

// MetricValidator checks a metric against the two-tier bounds table.
type MetricValidator struct {
	Bounds map[models.MetricType]models.MetricBounds
}

func NewMetricValidator(bounds map[models.MetricType]models.MetricBounds) *MetricValidator {
	return &MetricValidator{Bounds: bounds}
}

// Validate normalizes value into the type's canonical unit and applies the hard
// then the plausible range. An empty unit means the canonical unit.
func (v *MetricValidator) Validate(t models.MetricType, value float64, unit string) MetricValidation {
	b, ok := v.Bounds[t]
	if !ok {
		return MetricValidation{Message: fmt.Sprintf("unknown metric type %q", t)}
	}
	if math.IsNaN(value) || math.IsInf(value, 0) {
		return MetricValidation{Message: "metric value must be a finite number"}
	}
	if value <= 0 {
		return MetricValidation{Message: "metric value must be positive"}
	}

	factor := 1.0
	if u := strings.ToLower(strings.TrimSpace(unit)); u != "" && len(b.Units) > 0 {
		f, ok := b.Units[u]
		if !ok {
			return MetricValidation{Message: fmt.Sprintf("unsupported unit %q for %s", unit, t)}
		}
		factor = f
	}
	n := value * factor

	if n < b.HardMin || n > b.HardMax {
		return MetricValidation{
			NormalizedValue: n,
			Message:         fmt.Sprintf("%s value %g is outside the accepted range %g to %g", t, n, b.HardMin, b.HardMax),
		}
	}
	res := MetricValidation{Valid: true, NormalizedValue: n}
	if n < b.PlausibleMin || n > b.PlausibleMax {
		res.Flagged = true
		res.Message = fmt.Sprintf("%s value %g is outside the typical range %g to %g and will be reviewed",
			t, n, b.PlausibleMin, b.PlausibleMax)
	}
	return res
}
