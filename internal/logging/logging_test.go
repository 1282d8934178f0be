package logging

import (
	"testing"

	"go.uber.org/zap/zapcore"
	"go.viam.com/test"
)

func TestParseLevel(t *testing.T) {
	test.That(t, ParseLevel("DEBUG"), test.ShouldEqual, zapcore.DebugLevel)
	test.That(t, ParseLevel("warn"), test.ShouldEqual, zapcore.WarnLevel)
	test.That(t, ParseLevel("loud"), test.ShouldEqual, zapcore.InfoLevel)
}

func TestNewLogger(t *testing.T) {
	logger, err := NewLogger("test", "ERROR", false)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.InfoLevel), test.ShouldBeFalse)
	test.That(t, logger.Desugar().Core().Enabled(zapcore.ErrorLevel), test.ShouldBeTrue)
}
