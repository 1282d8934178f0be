package database

import (
	"context"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v4"
	"github.com/pkg/errors"

	"silkworm-dashboard/internal/aggregator"
	"silkworm-dashboard/internal/models"
)

const defaultHistoryLimit = 20

// HistoryStore records every committed batch.
type HistoryStore struct {
	db *DB
}

func NewHistoryStore(db *DB) *HistoryStore {
	return &HistoryStore{db: db}
}

// NewBatchRun summarizes a batch into a history row.
func NewBatchRun(sessionID string, confidence float64, b aggregator.Batch) models.BatchRun {
	stats := aggregator.ComputeStatistics(b)
	return models.BatchRun{
		ID:                uuid.NewString(),
		SessionID:         sessionID,
		Confidence:        confidence,
		ImageCount:        b.Len(),
		TotalDetected:     stats.TotalDetected,
		TotalHealthy:      stats.TotalHealthy,
		TotalDiseased:     stats.TotalDiseased,
		HealthRatePercent: stats.HealthRatePercent,
	}
}

// RecordBatch stores the batch and its per-image detections in one transaction.
func (h *HistoryStore) RecordBatch(ctx context.Context, sessionID string, confidence float64, b aggregator.Batch) (models.BatchRun, error) {
	run := NewBatchRun(sessionID, confidence, b)

	tx, err := h.db.Pool.Begin(ctx)
	if err != nil {
		return run, errors.Wrap(err, "begin")
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx, `
		INSERT INTO batch_runs (id, session_id, confidence, image_count, total_detected,
			total_healthy, total_diseased, health_rate_percent)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		RETURNING created_at`,
		run.ID, run.SessionID, run.Confidence, run.ImageCount, run.TotalDetected,
		run.TotalHealthy, run.TotalDiseased, run.HealthRatePercent,
	).Scan(&run.CreatedAt)
	if err != nil {
		return run, errors.Wrap(err, "insert batch run")
	}

	batch := &pgx.Batch{}
	for i, r := range b.Results() {
		batch.Queue(
			`INSERT INTO batch_images (run_id, position, filename, detections) VALUES ($1, $2, $3, $4)`,
			run.ID, i, r.Filename, models.NewDetections(r.Detections),
		)
	}
	br := tx.SendBatch(ctx, batch)
	for i := 0; i < batch.Len(); i++ {
		if _, err := br.Exec(); err != nil {
			br.Close()
			return run, errors.Wrapf(err, "insert image %d", i)
		}
	}
	if err := br.Close(); err != nil {
		return run, errors.Wrap(err, "close batch")
	}

	if err := tx.Commit(ctx); err != nil {
		return run, errors.Wrap(err, "commit")
	}
	return run, nil
}

// Recent returns the newest batch runs first.
func (h *HistoryStore) Recent(ctx context.Context, limit int) ([]models.BatchRun, error) {
	if limit <= 0 {
		limit = defaultHistoryLimit
	}
	rows, err := h.db.Pool.Query(ctx, `
		SELECT id::text, session_id, confidence, image_count, total_detected,
			total_healthy, total_diseased, health_rate_percent, created_at
		FROM batch_runs
		ORDER BY created_at DESC
		LIMIT $1`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "query batch runs")
	}
	defer rows.Close()

	var runs []models.BatchRun
	for rows.Next() {
		var r models.BatchRun
		if err := rows.Scan(&r.ID, &r.SessionID, &r.Confidence, &r.ImageCount, &r.TotalDetected,
			&r.TotalHealthy, &r.TotalDiseased, &r.HealthRatePercent, &r.CreatedAt); err != nil {
			return nil, errors.Wrap(err, "scan batch run")
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}

// Images returns the stored images of one run in order.
func (h *HistoryStore) Images(ctx context.Context, runID string) ([]models.BatchImage, error) {
	rows, err := h.db.Pool.Query(ctx, `
		SELECT run_id::text, position, filename, detections
		FROM batch_images
		WHERE run_id = $1
		ORDER BY position`, runID)
	if err != nil {
		return nil, errors.Wrap(err, "query batch images")
	}
	defer rows.Close()

	var images []models.BatchImage
	for rows.Next() {
		var img models.BatchImage
		if err := rows.Scan(&img.RunID, &img.Position, &img.Filename, &img.Detections); err != nil {
			return nil, errors.Wrap(err, "scan batch image")
		}
		images = append(images, img)
	}
	return images, rows.Err()
}
