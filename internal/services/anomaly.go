package services

import (
	"fmt"
	"math"
)

// AnomalyResult reports whether a value is a statistical outlier against its history.
type AnomalyResult struct {
	IsAnomaly bool    `json:"is_anomaly"`
	Message   string  `json:"message,omitempty"`
	Samples   int     `json:"samples"`
	Mean      float64 `json:"mean"`
	ZScore    float64 `json:"z_score"`
}

// AnomalyDetector flags values far from the historical distribution of the same
// (prompt, metric type). Below MinSamples it never flags.
type AnomalyDetector struct {
	MinSamples int
	// ZThreshold applies when the history has spread.
	ZThreshold float64
	// RatioThreshold applies when every historical value is identical.
	RatioThreshold float64
}

func NewAnomalyDetector() *AnomalyDetector {
	return &AnomalyDetector{MinSamples: 5, ZThreshold: 3, RatioThreshold: 10}
}

// Detect compares value against history. history must hold only accepted, non-flagged values.
func (d *AnomalyDetector) Detect(value float64, history []float64) AnomalyResult {
	res := AnomalyResult{Samples: len(history)}
	if len(history) < d.MinSamples {
		return res
	}

	var sum float64
	for _, h := range history {
		sum += h
	}
	mean := sum / float64(len(history))
	var sq float64
	for _, h := range history {
		sq += (h - mean) * (h - mean)
	}
	std := math.Sqrt(sq / float64(len(history)))
	res.Mean = mean

	if std > 0 {
		res.ZScore = (value - mean) / std
		if math.Abs(res.ZScore) > d.ZThreshold {
			res.IsAnomaly = true
			res.Message = fmt.Sprintf("value %g is %.1f standard deviations from the mean %g of %d reports",
				value, math.Abs(res.ZScore), mean, len(history))
		}
		return res
	}

	// Zero spread: fall back to a ratio against the common value.
	if mean > 0 {
		ratio := value / mean
		if ratio > d.RatioThreshold || ratio < 1/d.RatioThreshold {
			res.IsAnomaly = true
			res.Message = fmt.Sprintf("value %g differs more than %gx from the %d identical prior reports of %g",
				value, d.RatioThreshold, len(history), mean)
		}
	}
	return res
}
