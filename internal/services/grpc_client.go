package services

import (
	"context"
	"fmt"
	"image"
	"strings"
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/keepalive"
	"google.golang.org/protobuf/types/known/emptypb"
	"google.golang.org/protobuf/types/known/structpb"

	"silkworm-dashboard/internal/aggregator"
	"silkworm-dashboard/internal/imageutil"
)

// ClientOptions tune the detector connection.
type ClientOptions struct {
	// Model is the model file name forwarded with every request.
	Model           string
	Timeout         time.Duration
	MaxMessageBytes int
}

// DetectorClient talks to the inference service over gRPC. It implements
// aggregator.Detector and is safe for concurrent use.
type DetectorClient struct {
	conn   *grpc.ClientConn
	addr   string
	opts   ClientOptions
	logger *zap.SugaredLogger
}

// NewDetectorClient prepares a connection to addr. The connection is established lazily.
func NewDetectorClient(addr string, opts ClientOptions, logger *zap.SugaredLogger, extra ...grpc.DialOption) (*DetectorClient, error) {
	if opts.Timeout <= 0 {
		opts.Timeout = 30 * time.Second
	}
	if opts.MaxMessageBytes <= 0 {
		opts.MaxMessageBytes = 50 * 1024 * 1024
	}
	logger.Infof("Connecting to detector service at %s", addr)

	dialOpts := []grpc.DialOption{
		grpc.WithTransportCredentials(insecure.NewCredentials()),
		grpc.WithDefaultCallOptions(
			grpc.MaxCallRecvMsgSize(opts.MaxMessageBytes),
			grpc.MaxCallSendMsgSize(opts.MaxMessageBytes),
		),
		grpc.WithKeepaliveParams(keepalive.ClientParameters{
			Time:                10 * time.Second,
			Timeout:             3 * time.Second,
			PermitWithoutStream: true,
		}),
	}
	dialOpts = append(dialOpts, extra...)

	conn, err := grpc.NewClient(addr, dialOpts...)
	if err != nil {
		return nil, errors.Wrapf(err, "could not create detector client for %s", addr)
	}

	return &DetectorClient{
		conn:   conn,
		addr:   addr,
		opts:   opts,
		logger: logger,
	}, nil
}

// Infer sends one image to the detector. When the service does not return an
// annotated rendering the boxes are drawn locally.
func (dc *DetectorClient) Infer(ctx context.Context, img image.Image, confidenceThreshold float64) (*aggregator.Inference, error) {
	encoded, err := imageutil.EncodePNG(img)
	if err != nil {
		return nil, err
	}
	req, err := EncodeInferRequest(InferRequest{
		Image:      encoded,
		Confidence: confidenceThreshold,
		Model:      dc.opts.Model,
	})
	if err != nil {
		return nil, errors.Wrap(err, "could not build infer request")
	}

	ctx, cancel := context.WithTimeout(ctx, dc.opts.Timeout)
	defer cancel()

	start := time.Now()
	resp := new(structpb.Struct)
	if err := dc.conn.Invoke(ctx, inferMethod, req, resp); err != nil {
		return nil, errors.Wrap(err, "could not run detection")
	}

	detections, annotated, err := DecodeInferResponse(resp)
	if err != nil {
		return nil, errors.Wrap(err, "malformed detector response")
	}
	if annotated == nil {
		annotated = imageutil.Annotate(img, OverlayBoxes(detections))
	}
	dc.logger.Debugw("inference done", "detections", len(detections), "latency", time.Since(start))

	return &aggregator.Inference{Detections: detections, Annotated: annotated}, nil
}

// HealthCheck asks the service whether the model is loaded.
func (dc *DetectorClient) HealthCheck(ctx context.Context, callOpts ...grpc.CallOption) error {
	resp := new(structpb.Struct)
	if err := dc.conn.Invoke(ctx, healthMethod, &emptypb.Empty{}, resp, callOpts...); err != nil {
		return errors.Wrap(err, "detector health call failed")
	}
	status := resp.GetFields()["status"].GetStringValue()
	switch strings.ToLower(status) {
	case "ok", "healthy", "serving":
		return nil
	default:
		return errors.Errorf("detector reports status %q", status)
	}
}

// WaitReady blocks until the detector is healthy or timeout elapses. Any failure
// is reported as aggregator.ErrModelUnavailable.
func (dc *DetectorClient) WaitReady(ctx context.Context, timeout time.Duration) error {
	ctx, cancel := context.WithTimeout(ctx, timeout)
	defer cancel()
	if err := dc.HealthCheck(ctx, grpc.WaitForReady(true)); err != nil {
		return fmt.Errorf("%w: %s: %v", aggregator.ErrModelUnavailable, dc.addr, err)
	}
	dc.logger.Infof("Detector service at %s is ready", dc.addr)
	return nil
}

// Close releases the connection.
func (dc *DetectorClient) Close() error {
	if dc.conn != nil {
		return dc.conn.Close()
	}
	return nil
}

func formatLabel(d aggregator.Detection) string {
	return fmt.Sprintf("%s %.2f", d.ClassLabel, d.Confidence)
}
