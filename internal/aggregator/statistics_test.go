package aggregator

import (
	"testing"

	"go.viam.com/test"
)

func batchOf(detections ...[]Detection) Batch {
	results := make([]ImageResult, 0, len(detections))
	for _, ds := range detections {
		results = append(results, ImageResult{Filename: "img.jpg", Detections: ds})
	}
	return newBatch(results)
}

func TestClassify(t *testing.T) {
	for _, tc := range []struct {
		label string
		want  Health
	}{
		{"healthy", Healthy},
		{"Healthy_Silkworm", Healthy},
		{"GRASSERIE", Diseased},
		{"grasserie-stage2", Diseased},
		{"larva", Unclassified},
		{"", Unclassified},
		{"healthy_vs_grasserie", Healthy | Diseased},
	} {
		t.Run(tc.label, func(t *testing.T) {
			got := Classify(Detection{ClassLabel: tc.label})
			test.That(t, got, test.ShouldEqual, tc.want)
		})
	}
	test.That(t, (Healthy | Diseased).String(), test.ShouldEqual, "healthy+diseased")
	test.That(t, Unclassified.String(), test.ShouldEqual, "unclassified")
}

func TestComputeStatistics(t *testing.T) {
	t.Run("empty batch", func(t *testing.T) {
		stats := ComputeStatistics(Clear())
		test.That(t, stats, test.ShouldResemble, BatchStatistics{})
		test.That(t, stats.Level(), test.ShouldEqual, LevelCritical)
	})

	t.Run("images without detections", func(t *testing.T) {
		stats := ComputeStatistics(batchOf(nil, nil))
		test.That(t, stats.TotalDetected, test.ShouldEqual, 0)
		test.That(t, stats.HealthRatePercent, test.ShouldEqual, 0)
	})

	t.Run("unclassified labels count toward the total only", func(t *testing.T) {
		stats := ComputeStatistics(batchOf(
			[]Detection{det("healthy", 0.9), det("moth", 0.5)},
			[]Detection{det("cocoon", 0.6), det("grasserie", 0.8)},
		))
		test.That(t, stats, test.ShouldResemble, BatchStatistics{
			TotalDetected:     4,
			TotalHealthy:      1,
			TotalDiseased:     1,
			TotalUnclassified: 2,
			HealthRatePercent: 25,
		})
		test.That(t, stats.TotalHealthy+stats.TotalDiseased+stats.TotalUnclassified, test.ShouldEqual, stats.TotalDetected)
	})

	t.Run("dual match counts in both classes", func(t *testing.T) {
		stats := ComputeStatistics(batchOf([]Detection{det("healthy-grasserie", 0.5), det("healthy", 0.5)}))
		test.That(t, stats.TotalDetected, test.ShouldEqual, 2)
		test.That(t, stats.TotalHealthy, test.ShouldEqual, 2)
		test.That(t, stats.TotalDiseased, test.ShouldEqual, 1)
		test.That(t, stats.HealthRatePercent, test.ShouldEqual, 100)
	})

	t.Run("rounding", func(t *testing.T) {
		// 1/8 = 12.5% rounds half away from zero.
		ds := []Detection{det("healthy", 1)}
		for i := 0; i < 7; i++ {
			ds = append(ds, det("grasserie", 1))
		}
		test.That(t, ComputeStatistics(batchOf(ds)).HealthRatePercent, test.ShouldEqual, 13)
	})
}

func TestLevel(t *testing.T) {
	for _, tc := range []struct {
		healthy, total int
		want           HealthLevel
	}{
		{7, 10, LevelGood},
		{10, 10, LevelGood},
		{69, 100, LevelWarning},
		{4, 10, LevelWarning},
		{399, 1000, LevelCritical},
		{0, 3, LevelCritical},
	} {
		s := BatchStatistics{TotalDetected: tc.total, TotalHealthy: tc.healthy}
		test.That(t, s.Level(), test.ShouldEqual, tc.want)
	}
}

func TestImageStatistics(t *testing.T) {
	b := batchOf(
		[]Detection{det("healthy", 0.9)},
		[]Detection{det("grasserie", 0.9), det("grasserie", 0.8)},
	)
	r, ok := b.Result(1)
	test.That(t, ok, test.ShouldBeTrue)
	stats := r.Statistics()
	test.That(t, stats.TotalDetected, test.ShouldEqual, 2)
	test.That(t, stats.TotalDiseased, test.ShouldEqual, 2)
	test.That(t, stats.HealthRatePercent, test.ShouldEqual, 0)
}
