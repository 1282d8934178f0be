package services

import (
	"sync/atomic"
	"time"
)

// Metrics counts detection activity. It implements aggregator.Observer.
type Metrics struct {
	totalBatches    atomic.Int64
	failedBatches   atomic.Int64
	totalImages     atomic.Int64
	totalDetections atomic.Int64
	totalLatency    atomic.Int64
	lastBatchTime   atomic.Int64

	wsConnections atomic.Int64
	wsMessages    atomic.Int64
	wsErrors      atomic.Int64

	startedAt time.Time
}

func NewMetrics() *Metrics {
	return &Metrics{startedAt: time.Now()}
}

// ImageProcessed records one successfully analyzed image.
func (m *Metrics) ImageProcessed(latency time.Duration, detections int) {
	m.totalImages.Add(1)
	m.totalDetections.Add(int64(detections))
	m.totalLatency.Add(latency.Milliseconds())
}

// BatchCompleted records a committed batch.
func (m *Metrics) BatchCompleted(int) {
	m.totalBatches.Add(1)
	m.lastBatchTime.Store(time.Now().Unix())
}

// BatchFailed records an aborted batch.
func (m *Metrics) BatchFailed() {
	m.failedBatches.Add(1)
}

func (m *Metrics) GetTotalBatches() int64 {
	return m.totalBatches.Load()
}

func (m *Metrics) GetFailedBatches() int64 {
	return m.failedBatches.Load()
}

func (m *Metrics) GetTotalImages() int64 {
	return m.totalImages.Load()
}

// GetAvgLatency returns the mean per-image latency in milliseconds.
func (m *Metrics) GetAvgLatency() float64 {
	images := m.totalImages.Load()
	if images == 0 {
		return 0
	}
	return float64(m.totalLatency.Load()) / float64(images)
}

func (m *Metrics) IncrementWebSocketConnections() {
	m.wsConnections.Add(1)
}

func (m *Metrics) DecrementWebSocketConnections() {
	m.wsConnections.Add(-1)
}

func (m *Metrics) GetWebSocketConnections() int64 {
	return m.wsConnections.Load()
}

func (m *Metrics) IncrementWebSocketMessages() {
	m.wsMessages.Add(1)
}

func (m *Metrics) IncrementWebSocketErrors() {
	m.wsErrors.Add(1)
}

// Snapshot returns every counter keyed for JSON output.
func (m *Metrics) Snapshot() map[string]interface{} {
	return map[string]interface{}{
		"total_batches":     m.totalBatches.Load(),
		"failed_batches":    m.failedBatches.Load(),
		"total_images":      m.totalImages.Load(),
		"total_detections":  m.totalDetections.Load(),
		"avg_latency_ms":    m.GetAvgLatency(),
		"last_batch_time":   m.lastBatchTime.Load(),
		"system_uptime_sec": int(time.Since(m.startedAt).Seconds()),
		"websocket": map[string]interface{}{
			"connections": m.wsConnections.Load(),
			"messages":    m.wsMessages.Load(),
			"errors":      m.wsErrors.Load(),
		},
	}
}
