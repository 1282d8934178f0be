package main

import (
	"context"
	"flag"
	"net"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"
	"time"

	"github.com/pkg/errors"
	"github.com/rs/cors"
	"go.uber.org/multierr"
	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"
	"google.golang.org/grpc/reflection"

	"silkworm-dashboard/internal/aggregator"
	"silkworm-dashboard/internal/config"
	"silkworm-dashboard/internal/database"
	"silkworm-dashboard/internal/handlers"
	"silkworm-dashboard/internal/logging"
	"silkworm-dashboard/internal/services"
	"silkworm-dashboard/internal/session"
	"silkworm-dashboard/web"
)

func main() {
	httpPort := flag.String("http-port", "", "HTTP port (overrides HTTP_PORT)")
	grpcPort := flag.String("grpc-port", "", "gRPC health port (overrides GRPC_PORT)")
	detectorAddr := flag.String("detector-addr", "", "detector service address (overrides DETECTOR_ADDR)")
	flag.Parse()

	cfg, notice := config.LoadConfig()
	if *httpPort != "" {
		cfg.HTTPPort = *httpPort
	}
	if *grpcPort != "" {
		cfg.GRPCPort = *grpcPort
	}
	if *detectorAddr != "" {
		cfg.DetectorAddr = *detectorAddr
	}

	logger, err := logging.NewLogger("silkworm", cfg.LogLevel, cfg.IsDev())
	if err != nil {
		os.Stderr.WriteString("could not build logger: " + err.Error() + "\n")
		os.Exit(1)
	}
	defer logger.Sync()
	if notice != "" {
		logger.Info(notice)
	}

	if err := run(cfg, logger); err != nil {
		logger.Fatalw("dashboard stopped", "error", err)
	}
	logger.Info("Goodbye!")
}

func run(cfg *config.Config, logger *zap.SugaredLogger) (err error) {
	if err := cfg.Validate(); err != nil {
		return errors.Wrap(err, "invalid configuration")
	}

	logger.Info("Starting...")
	logger.Infof("HTTP port: %s", cfg.HTTPPort)
	logger.Infof("gRPC port: %s", cfg.GRPCPort)
	logger.Infof("Detector service: %s", cfg.DetectorAddr)
	logger.Infof("Model: %s", cfg.ModelPath)
	logger.Infof("Environment: %s", cfg.Environment)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if _, statErr := os.Stat(cfg.ModelPath); statErr != nil {
		return errors.Wrapf(aggregator.ErrModelUnavailable, "model not found at %s", cfg.ModelPath)
	}

	detector, err := services.NewDetectorClient(cfg.DetectorAddr, services.ClientOptions{
		Model:           filepath.Base(cfg.ModelPath),
		Timeout:         cfg.DetectTimeout,
		MaxMessageBytes: int(cfg.MaxUploadBytes()),
	}, logger.Named("detector"))
	if err != nil {
		return errors.Wrap(aggregator.ErrModelUnavailable, err.Error())
	}
	defer func() { err = multierr.Append(err, detector.Close()) }()

	logger.Info("Waiting for the detector to load the model...")
	if err := detector.WaitReady(ctx, cfg.DetectorStartupTimeout); err != nil {
		return err
	}

	var history handlers.HistoryRecorder
	if cfg.HistoryEnabled {
		logger.Infof("Connecting to database: %s", cfg.DSNForLog())
		db, dbErr := database.Connect(ctx, cfg.DSN(), logger.Named("db"))
		if dbErr != nil {
			return errors.Wrap(dbErr, "database")
		}
		defer func() { err = multierr.Append(err, db.Close()) }()
		if err := db.Migrate(ctx); err != nil {
			return err
		}
		history = database.NewHistoryStore(db)
	}

	metrics := services.NewMetrics()
	agg := aggregator.New(detector, logger.Named("aggregator"), aggregator.WithObserver(metrics))
	sessions := session.NewStore(cfg.SessionTTL, cfg.DefaultConfidence, logger.Named("sessions"))
	hub := handlers.NewHub(metrics, logger.Named("ws"))
	reporter := handlers.NewDetectorHealthReporter(func(ctx context.Context) error {
		return detector.HealthCheck(ctx)
	}, 15*time.Second, logger.Named("health"))

	api := handlers.NewServer(agg, sessions, hub, metrics, history, reporter, handlers.Options{
		MaxUploadBytes:  cfg.MaxUploadBytes(),
		MaxImages:       cfg.MaxImagesPerBatch,
		RateLimitPerMin: cfg.RateLimitPerMin,
		Index:           web.Index,
	}, logger.Named("http"))

	corsHandler := cors.New(cors.Options{
		AllowedOrigins:   cfg.CORSOriginList(),
		AllowedMethods:   []string{http.MethodGet, http.MethodPost, http.MethodPut, http.MethodDelete},
		AllowedHeaders:   []string{"Content-Type", "Authorization"},
		AllowCredentials: true,
	})
	httpServer := &http.Server{
		Addr:         ":" + trimPort(cfg.HTTPPort),
		Handler:      corsHandler.Handler(handlers.BasicAuth(cfg.DashboardPasswordHash, api.Routes())),
		ReadTimeout:  60 * time.Second,
		WriteTimeout: 10 * time.Minute,
		IdleTimeout:  60 * time.Second,
	}

	grpcServer := grpc.NewServer()
	healthpb.RegisterHealthServer(grpcServer, reporter.Server())
	reflection.Register(grpcServer)

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		sessions.Run(gctx)
		return nil
	})
	g.Go(func() error {
		reporter.Run(gctx)
		return nil
	})
	g.Go(func() error {
		lis, err := net.Listen("tcp", ":"+trimPort(cfg.GRPCPort))
		if err != nil {
			return errors.Wrap(err, "failed to listen on gRPC port")
		}
		logger.Infof("gRPC health server listening on port %s", trimPort(cfg.GRPCPort))
		return grpcServer.Serve(lis)
	})
	g.Go(func() error {
		logger.Infof("HTTP server listening on port %s", trimPort(cfg.HTTPPort))
		logger.Infof("Dashboard:  http://localhost:%s/", trimPort(cfg.HTTPPort))
		logger.Infof("WebSocket:  ws://localhost:%s/ws", trimPort(cfg.HTTPPort))
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return errors.Wrap(err, "failed to serve HTTP")
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		logger.Info("Shutting down...")
		return shutdown(httpServer, grpcServer, hub, logger)
	})

	return g.Wait()
}

func shutdown(httpServer *http.Server, grpcServer *grpc.Server, hub *handlers.Hub, logger *zap.SugaredLogger) error {
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()

	stopped := make(chan struct{})
	go func() {
		logger.Info("Stopping gRPC server...")
		grpcServer.GracefulStop()
		close(stopped)
	}()

	select {
	case <-stopped:
		logger.Info("gRPC server stopped")
	case <-shutdownCtx.Done():
		logger.Warn("Forced gRPC shutdown")
		grpcServer.Stop()
	}

	logger.Info("Closing WebSocket connections...")
	err := hub.Close()

	logger.Info("Stopping HTTP server...")
	return multierr.Append(err, httpServer.Shutdown(shutdownCtx))
}

func trimPort(port string) string {
	return strings.TrimPrefix(port, ":")
}
