package models

import (
	"github.com/samber/lo"

	"silkworm-dashboard/internal/aggregator"
)

type Detection struct {
	Label      string  `json:"label"`
	Confidence float64 `json:"confidence"`
	Health     string  `json:"health"`
	Box        [4]int  `json:"box"`
}

// NewDetection converts an aggregator detection for JSON output.
func NewDetection(d aggregator.Detection) Detection {
	return Detection{
		Label:      d.ClassLabel,
		Confidence: d.Confidence,
		Health:     aggregator.Classify(d).String(),
		Box:        [4]int{d.Box.Min.X, d.Box.Min.Y, d.Box.Max.X, d.Box.Max.Y},
	}
}

func NewDetections(ds []aggregator.Detection) []Detection {
	return lo.Map(ds, func(d aggregator.Detection, _ int) Detection { return NewDetection(d) })
}

// ImageSummary is one thumbnail entry of the current batch.
type ImageSummary struct {
	Index      int    `json:"index"`
	Filename   string `json:"filename"`
	Detections int    `json:"detections"`
	Healthy    int    `json:"healthy"`
	Diseased   int    `json:"diseased"`
}

// SelectedImage is the detail panel of the selected image.
type SelectedImage struct {
	Index      int         `json:"index"`
	Filename   string      `json:"filename"`
	Detections []Detection `json:"detections"`
}

type BatchInfo struct {
	Count         int `json:"count"`
	SelectedIndex int `json:"selected_index"`
}

// StateResponse is everything the dashboard renders.
type StateResponse struct {
	SessionID   string                     `json:"session_id"`
	Confidence  float64                    `json:"confidence"`
	Batch       BatchInfo                  `json:"batch"`
	Statistics  aggregator.BatchStatistics `json:"statistics"`
	HealthLevel aggregator.HealthLevel     `json:"health_level"`
	Images      []ImageSummary             `json:"images"`
	Selected    *SelectedImage             `json:"selected"`
}

type SelectRequest struct {
	Index int `json:"index"`
}

type SettingsRequest struct {
	Confidence float64 `json:"confidence"`
}

type ErrorResponse struct {
	Error     string `json:"error"`
	Timestamp int64  `json:"timestamp"`
	Code      string `json:"code,omitempty"`
}

type HealthStatus struct {
	Status         string `json:"status"`
	Detector       bool   `json:"detector"`
	ActiveSessions int    `json:"active_sessions"`
	ActiveClients  int    `json:"active_clients"`
	HistoryEnabled bool   `json:"history_enabled"`
	Timestamp      string `json:"timestamp"`
}

// ProgressPayload is pushed over the WebSocket after every analyzed image.
type ProgressPayload struct {
	Done     int     `json:"done"`
	Total    int     `json:"total"`
	Fraction float64 `json:"fraction"`
	Filename string  `json:"filename"`
}
