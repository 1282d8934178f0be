package models

import "time"

// BatchRun is one committed detection batch as stored in the history table.
type BatchRun struct {
	ID                string    `json:"id"`
	SessionID         string    `json:"session_id"`
	Confidence        float64   `json:"confidence"`
	ImageCount        int       `json:"image_count"`
	TotalDetected     int       `json:"total_detected"`
	TotalHealthy      int       `json:"total_healthy"`
	TotalDiseased     int       `json:"total_diseased"`
	HealthRatePercent int       `json:"health_rate_percent"`
	CreatedAt         time.Time `json:"created_at"`
}

// BatchImage is one image of a stored batch run.
type BatchImage struct {
	RunID      string      `json:"run_id"`
	Position   int         `json:"position"`
	Filename   string      `json:"filename"`
	Detections []Detection `json:"detections"`
}
