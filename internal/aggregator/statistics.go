package aggregator

import (
	"math"

	"github.com/samber/lo"
)

// BatchStatistics are the dashboard summary figures. They are always derived
// from a batch and never stored alongside it.
type BatchStatistics struct {
	TotalDetected     int `json:"total_detected"`
	TotalHealthy      int `json:"total_healthy"`
	TotalDiseased     int `json:"total_diseased"`
	TotalUnclassified int `json:"total_unclassified"`
	HealthRatePercent int `json:"health_rate_percent"`
}

// HealthLevel buckets the health rate for display.
type HealthLevel string

// Health levels, highest first.
const (
	LevelGood     HealthLevel = "good"
	LevelWarning  HealthLevel = "warning"
	LevelCritical HealthLevel = "critical"
)

// ComputeStatistics tallies every detection of the batch.
func ComputeStatistics(b Batch) BatchStatistics {
	return tally(b.results)
}

func tally(results []ImageResult) BatchStatistics {
	var s BatchStatistics
	s.TotalDetected = lo.SumBy(results, func(r ImageResult) int { return len(r.Detections) })
	for _, r := range results {
		for _, d := range r.Detections {
			h := Classify(d)
			if h.IsHealthy() {
				s.TotalHealthy++
			}
			if h.IsDiseased() {
				s.TotalDiseased++
			}
			if h == Unclassified {
				s.TotalUnclassified++
			}
		}
	}
	if s.TotalDetected > 0 {
		s.HealthRatePercent = int(math.Round(healthRatio(s) * 100))
	}
	return s
}

func healthRatio(s BatchStatistics) float64 {
	if s.TotalDetected == 0 {
		return 0
	}
	return float64(s.TotalHealthy) / float64(s.TotalDetected)
}

// Level classifies the unrounded health rate: 70% and above is good, 40% and above a warning.
func (s BatchStatistics) Level() HealthLevel {
	pct := healthRatio(s) * 100
	switch {
	case pct >= 70:
		return LevelGood
	case pct >= 40:
		return LevelWarning
	default:
		return LevelCritical
	}
}
