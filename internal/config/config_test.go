package config

import (
	"testing"
	"time"

	"go.viam.com/test"
)

func TestFromEnvDefaults(t *testing.T) {
	cfg := FromEnv()
	test.That(t, cfg.HTTPPort, test.ShouldEqual, "8080")
	test.That(t, cfg.DefaultConfidence, test.ShouldEqual, 0.5)
	test.That(t, cfg.SessionTTL, test.ShouldEqual, 2*time.Hour)
	test.That(t, cfg.HistoryEnabled, test.ShouldBeFalse)
	test.That(t, cfg.Validate(), test.ShouldBeNil)
}

func TestFromEnvOverrides(t *testing.T) {
	t.Setenv("HTTP_PORT", "9090")
	t.Setenv("DEFAULT_CONFIDENCE", "0.25")
	t.Setenv("DETECT_TIMEOUT", "5s")
	t.Setenv("HISTORY_ENABLED", "true")
	t.Setenv("MAX_UPLOAD_MB", "not-a-number")
	t.Setenv("CORS_ORIGINS", "http://a.test, http://b.test,")

	cfg := FromEnv()
	test.That(t, cfg.HTTPPort, test.ShouldEqual, "9090")
	test.That(t, cfg.DefaultConfidence, test.ShouldEqual, 0.25)
	test.That(t, cfg.DetectTimeout, test.ShouldEqual, 5*time.Second)
	test.That(t, cfg.HistoryEnabled, test.ShouldBeTrue)
	test.That(t, cfg.MaxUploadMB, test.ShouldEqual, 50)
	test.That(t, cfg.MaxUploadBytes(), test.ShouldEqual, int64(50*1024*1024))
	test.That(t, cfg.CORSOriginList(), test.ShouldResemble, []string{"http://a.test", "http://b.test"})
}

func TestValidate(t *testing.T) {
	cfg := FromEnv()
	cfg.DefaultConfidence = 1.5
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)

	cfg = FromEnv()
	cfg.MaxImagesPerBatch = 0
	test.That(t, cfg.Validate().Error(), test.ShouldContainSubstring, "MAX_IMAGES_PER_BATCH")

	cfg = FromEnv()
	cfg.ModelPath = ""
	test.That(t, cfg.Validate(), test.ShouldNotBeNil)
}

func TestDSNForLogHidesPassword(t *testing.T) {
	cfg := FromEnv()
	cfg.DBPassword = "secret"
	test.That(t, cfg.DSN(), test.ShouldContainSubstring, "password=secret")
	test.That(t, cfg.DSNForLog(), test.ShouldNotContainSubstring, "secret")
}
