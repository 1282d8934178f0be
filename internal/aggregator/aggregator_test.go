package aggregator

import (
	"context"
	"image"
	"image/color"
	"testing"
	"time"

	"github.com/pkg/errors"
	"go.viam.com/test"
)

// fakeDecoder returns a 4x4 image for any data except "bad".
func fakeDecoder(data []byte) (image.Image, error) {
	if string(data) == "bad" {
		return nil, errors.New("not an image")
	}
	img := image.NewNRGBA(image.Rect(0, 0, 4, 4))
	img.Set(0, 0, color.NRGBA{R: data[0], A: 0xff})
	return img, nil
}

// queueDetector returns the queued detections in call order.
type queueDetector struct {
	queue      [][]Detection
	calls      int
	thresholds []float64
	failOn     int
}

func (q *queueDetector) Infer(_ context.Context, _ image.Image, threshold float64) (*Inference, error) {
	q.calls++
	q.thresholds = append(q.thresholds, threshold)
	if q.failOn == q.calls {
		return nil, errors.New("model crashed")
	}
	var ds []Detection
	if len(q.queue) > 0 {
		ds, q.queue = q.queue[0], q.queue[1:]
	}
	return &Inference{Detections: ds}, nil
}

func det(label string, conf float64) Detection {
	return Detection{ClassLabel: label, Confidence: conf, Box: image.Rect(0, 0, 2, 2)}
}

func sources(names ...string) []Source {
	out := make([]Source, 0, len(names))
	for _, n := range names {
		out = append(out, Source{Filename: n, Data: []byte(n)})
	}
	return out
}

func newTestAggregator(d Detector) *Aggregator {
	return New(d, nil, WithDecoder(fakeDecoder))
}

func TestRunBatch(t *testing.T) {
	d := &queueDetector{queue: [][]Detection{
		{det("healthy", 0.9), det("healthy", 0.8)},
		{},
		{det("grasserie", 0.7)},
	}}
	agg := newTestAggregator(d)

	var seen []Progress
	b, err := agg.RunBatch(context.Background(), sources("a.jpg", "b.jpg", "c.png"), 0.25, func(p Progress) {
		seen = append(seen, p)
	})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Len(), test.ShouldEqual, 3)
	test.That(t, b.SelectedIndex(), test.ShouldEqual, 0)
	test.That(t, d.thresholds, test.ShouldResemble, []float64{0.25, 0.25, 0.25})

	results := b.Results()
	test.That(t, results[0].Filename, test.ShouldEqual, "a.jpg")
	test.That(t, results[1].Filename, test.ShouldEqual, "b.jpg")
	test.That(t, results[2].Filename, test.ShouldEqual, "c.png")
	test.That(t, results[0].Detections, test.ShouldHaveLength, 2)
	test.That(t, results[1].Detections, test.ShouldHaveLength, 0)
	// Without a rendering from the detector the source doubles as the annotated image.
	test.That(t, results[1].Annotated, test.ShouldEqual, results[1].Source)

	test.That(t, seen, test.ShouldHaveLength, 3)
	for i, p := range seen {
		test.That(t, p.Done, test.ShouldEqual, i+1)
		test.That(t, p.Total, test.ShouldEqual, 3)
	}
	test.That(t, seen[0].Fraction(), test.ShouldAlmostEqual, 1.0/3)
	test.That(t, seen[2].Fraction(), test.ShouldAlmostEqual, 1.0)

	stats := ComputeStatistics(b)
	test.That(t, stats, test.ShouldResemble, BatchStatistics{
		TotalDetected:     3,
		TotalHealthy:      2,
		TotalDiseased:     1,
		TotalUnclassified: 0,
		HealthRatePercent: 67,
	})
	test.That(t, stats.Level(), test.ShouldEqual, LevelWarning)
}

func TestRunBatchErrors(t *testing.T) {
	t.Run("no images", func(t *testing.T) {
		d := &queueDetector{}
		_, err := newTestAggregator(d).RunBatch(context.Background(), nil, 0.5, nil)
		test.That(t, errors.Is(err, ErrNoImages), test.ShouldBeTrue)
		test.That(t, d.calls, test.ShouldEqual, 0)
	})

	t.Run("bad threshold", func(t *testing.T) {
		_, err := newTestAggregator(&queueDetector{}).RunBatch(context.Background(), sources("a.jpg"), 1.5, nil)
		test.That(t, errors.Is(err, ErrInvalidThreshold), test.ShouldBeTrue)
	})

	t.Run("decode failure aborts", func(t *testing.T) {
		d := &queueDetector{}
		imgs := sources("a.jpg", "bad", "c.jpg")
		var progressed int
		b, err := newTestAggregator(d).RunBatch(context.Background(), imgs, 0.5, func(Progress) { progressed++ })
		test.That(t, errors.Is(err, ErrImageDecode), test.ShouldBeTrue)
		test.That(t, err.Error(), test.ShouldContainSubstring, `"bad"`)
		var decodeErr *ImageDecodeError
		test.That(t, errors.As(err, &decodeErr), test.ShouldBeTrue)
		test.That(t, decodeErr.Filename, test.ShouldEqual, "bad")
		test.That(t, b.Empty(), test.ShouldBeTrue)
		test.That(t, d.calls, test.ShouldEqual, 1)
		test.That(t, progressed, test.ShouldEqual, 1)
	})

	t.Run("detector failure aborts", func(t *testing.T) {
		d := &queueDetector{failOn: 2}
		b, err := newTestAggregator(d).RunBatch(context.Background(), sources("a.jpg", "b.jpg"), 0.5, nil)
		test.That(t, errors.Is(err, ErrDetectorFailed), test.ShouldBeTrue)
		test.That(t, errors.Is(err, ErrImageDecode), test.ShouldBeFalse)
		test.That(t, b.Empty(), test.ShouldBeTrue)
	})
}

func TestRunSingle(t *testing.T) {
	d := &queueDetector{queue: [][]Detection{{det("Healthy silkworm", 0.6)}}}
	b, err := newTestAggregator(d).RunSingle(context.Background(), Source{Filename: "x.png", Data: []byte("x")}, 0.5, nil)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, b.Len(), test.ShouldEqual, 1)
	test.That(t, b.SelectedIndex(), test.ShouldEqual, 0)
	test.That(t, ComputeStatistics(b).HealthRatePercent, test.ShouldEqual, 100)
}

func TestDetectionsAreCopied(t *testing.T) {
	shared := []Detection{det("healthy", 0.9)}
	agg := newTestAggregator(DetectorFunc(func(context.Context, image.Image, float64) (*Inference, error) {
		return &Inference{Detections: shared}, nil
	}))
	b, err := agg.RunBatch(context.Background(), sources("a.jpg"), 0.5, nil)
	test.That(t, err, test.ShouldBeNil)
	shared[0].ClassLabel = "grasserie"
	r, _ := b.Result(0)
	test.That(t, r.Detections[0].ClassLabel, test.ShouldEqual, "healthy")
}

type countingObserver struct {
	images, completed, failed int
}

func (c *countingObserver) ImageProcessed(_ time.Duration, _ int) { c.images++ }
func (c *countingObserver) BatchCompleted(int)                    { c.completed++ }
func (c *countingObserver) BatchFailed()                          { c.failed++ }

func TestObserver(t *testing.T) {
	obs := &countingObserver{}
	agg := New(&queueDetector{}, nil, WithDecoder(fakeDecoder), WithObserver(obs))

	_, err := agg.RunBatch(context.Background(), sources("a.jpg", "b.jpg"), 0.5, nil)
	test.That(t, err, test.ShouldBeNil)
	_, err = agg.RunBatch(context.Background(), sources("bad"), 0.5, nil)
	test.That(t, err, test.ShouldNotBeNil)

	test.That(t, obs.images, test.ShouldEqual, 2)
	test.That(t, obs.completed, test.ShouldEqual, 1)
	test.That(t, obs.failed, test.ShouldEqual, 1)
}
