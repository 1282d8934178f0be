package aggregator

import (
	"context"
	"image"
	"time"

	"go.uber.org/zap"

	"silkworm-dashboard/internal/imageutil"
)

// Decoder turns an uploaded file into a 3-channel colour image.
type Decoder func(data []byte) (image.Image, error)

// Progress is reported after every completed image of a batch.
type Progress struct {
	Done     int
	Total    int
	Filename string
}

// Fraction returns Done/Total.
func (p Progress) Fraction() float64 {
	if p.Total == 0 {
		return 0
	}
	return float64(p.Done) / float64(p.Total)
}

// ProgressFunc receives progress signals. It is advisory and may be nil.
type ProgressFunc func(Progress)

// Observer is notified about batch outcomes, typically to feed metrics.
type Observer interface {
	ImageProcessed(latency time.Duration, detections int)
	BatchCompleted(images int)
	BatchFailed()
}

type noopObserver struct{}

func (noopObserver) ImageProcessed(time.Duration, int) {}
func (noopObserver) BatchCompleted(int)                {}
func (noopObserver) BatchFailed()                      {}

// Aggregator runs the detector over batches of images.
type Aggregator struct {
	detector Detector
	decode   Decoder
	observer Observer
	logger   *zap.SugaredLogger
}

// Option configures an Aggregator.
type Option func(*Aggregator)

// WithDecoder replaces the default image decoder.
func WithDecoder(d Decoder) Option {
	return func(a *Aggregator) { a.decode = d }
}

// WithObserver registers an observer for batch outcomes.
func WithObserver(o Observer) Option {
	return func(a *Aggregator) { a.observer = o }
}

// New returns an Aggregator backed by det.
func New(det Detector, logger *zap.SugaredLogger, opts ...Option) *Aggregator {
	a := &Aggregator{
		detector: det,
		decode:   imageutil.Decode,
		observer: noopObserver{},
		logger:   logger,
	}
	for _, opt := range opts {
		opt(a)
	}
	if a.logger == nil {
		a.logger = zap.NewNop().Sugar()
	}
	return a
}

// RunBatch decodes and runs detection on every image in order and returns a new
// batch with the first image selected. The first failure aborts the call and no
// partial batch is returned.
func (a *Aggregator) RunBatch(ctx context.Context, images []Source, threshold float64, progress ProgressFunc) (Batch, error) {
	if len(images) == 0 {
		return Batch{}, ErrNoImages
	}
	if err := ValidateThreshold(threshold); err != nil {
		return Batch{}, err
	}

	results := make([]ImageResult, 0, len(images))
	for idx, src := range images {
		start := time.Now()
		a.logger.Debugw("analyzing image", "index", idx+1, "total", len(images), "filename", src.Filename)

		img, err := a.decode(src.Data)
		if err != nil {
			a.observer.BatchFailed()
			return Batch{}, &ImageDecodeError{Filename: src.Filename, Err: err}
		}

		inf, err := a.detector.Infer(ctx, img, threshold)
		if err != nil {
			a.observer.BatchFailed()
			return Batch{}, &DetectorError{Filename: src.Filename, Err: err}
		}
		if inf == nil {
			inf = &Inference{}
		}
		annotated := inf.Annotated
		if annotated == nil {
			annotated = img
		}

		results = append(results, ImageResult{
			Filename:   src.Filename,
			Source:     img,
			Annotated:  annotated,
			Detections: append([]Detection(nil), inf.Detections...),
		})
		a.observer.ImageProcessed(time.Since(start), len(inf.Detections))

		if progress != nil {
			progress(Progress{Done: idx + 1, Total: len(images), Filename: src.Filename})
		}
	}

	a.observer.BatchCompleted(len(results))
	a.logger.Infow("batch processed", "images", len(results))
	return newBatch(results), nil
}

// RunSingle is RunBatch for exactly one image.
func (a *Aggregator) RunSingle(ctx context.Context, img Source, threshold float64, progress ProgressFunc) (Batch, error) {
	return a.RunBatch(ctx, []Source{img}, threshold, progress)
}
