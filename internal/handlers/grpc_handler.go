package handlers

import (
	"context"
	"sync/atomic"
	"time"

	"go.uber.org/zap"
	"google.golang.org/grpc/health"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
)

// DashboardServiceName is the service name reported on the gRPC health endpoint.
const DashboardServiceName = "silkworm.dashboard.v1.Dashboard"

// DetectorProbe checks whether the detector can serve requests.
type DetectorProbe func(ctx context.Context) error

// DetectorHealthReporter probes the detector periodically and mirrors the result
// into the gRPC health server and the HTTP health endpoint.
type DetectorHealthReporter struct {
	probe    DetectorProbe
	server   *health.Server
	interval time.Duration
	healthy  atomic.Bool
	logger   *zap.SugaredLogger
}

func NewDetectorHealthReporter(probe DetectorProbe, interval time.Duration, logger *zap.SugaredLogger) *DetectorHealthReporter {
	return &DetectorHealthReporter{
		probe:    probe,
		server:   health.NewServer(),
		interval: interval,
		logger:   logger,
	}
}

// Server returns the health service to register on a gRPC server.
func (r *DetectorHealthReporter) Server() healthpb.HealthServer {
	return r.server
}

// Healthy reports the last probe result.
func (r *DetectorHealthReporter) Healthy() bool {
	return r.healthy.Load()
}

// Check runs one probe and publishes the result.
func (r *DetectorHealthReporter) Check(ctx context.Context) bool {
	ctx, cancel := context.WithTimeout(ctx, 2*time.Second)
	defer cancel()

	err := r.probe(ctx)
	ok := err == nil
	if prev := r.healthy.Swap(ok); prev != ok {
		if ok {
			r.logger.Info("Detector service is healthy")
		} else {
			r.logger.Warnf("Detector service unhealthy: %v", err)
		}
	}

	status := healthpb.HealthCheckResponse_SERVING
	if !ok {
		status = healthpb.HealthCheckResponse_NOT_SERVING
	}
	r.server.SetServingStatus("", status)
	r.server.SetServingStatus(DashboardServiceName, status)
	return ok
}

// Run probes until ctx is done, then marks every service as not serving.
func (r *DetectorHealthReporter) Run(ctx context.Context) {
	ticker := time.NewTicker(r.interval)
	defer ticker.Stop()

	r.Check(ctx)
	for {
		select {
		case <-ctx.Done():
			r.server.Shutdown()
			return
		case <-ticker.C:
			r.Check(ctx)
		}
	}
}
