// Package aggregator turns per-image detector output into batches, tracks the
// selected image of a batch and derives the health statistics shown on the dashboard.
package aggregator

import (
	"context"
	"image"
	"strings"
)

// Label substrings that decide the health class of a detection.
const (
	healthySubstring   = "healthy"
	grasserieSubstring = "grasserie"
)

// Detection is one labeled, scored box inside an image.
type Detection struct {
	ClassLabel string
	Confidence float64
	Box        image.Rectangle
}

// Health is a set of health classes. The zero value means unclassified.
// A label may carry both bits; such a detection counts as healthy and diseased.
type Health uint8

const (
	// Healthy is set when the label contains "healthy".
	Healthy Health = 1 << iota
	// Diseased is set when the label contains "grasserie".
	Diseased
)

// Unclassified is a label matching neither class substring.
const Unclassified Health = 0

// IsHealthy reports whether h contains Healthy.
func (h Health) IsHealthy() bool { return h&Healthy != 0 }

// IsDiseased reports whether h contains Diseased.
func (h Health) IsDiseased() bool { return h&Diseased != 0 }

func (h Health) String() string {
	switch h {
	case Unclassified:
		return "unclassified"
	case Healthy:
		return "healthy"
	case Diseased:
		return "diseased"
	default:
		return "healthy+diseased"
	}
}

// Classify derives the health class of a detection from its label, case-insensitively.
func Classify(d Detection) Health {
	label := strings.ToLower(d.ClassLabel)
	var h Health
	if strings.Contains(label, healthySubstring) {
		h |= Healthy
	}
	if strings.Contains(label, grasserieSubstring) {
		h |= Diseased
	}
	return h
}

// Inference is what a Detector returns for one image.
type Inference struct {
	Detections []Detection
	// Annotated is the input with boxes and labels drawn on it.
	Annotated image.Image
}

// Detector runs the pretrained model over a single image. Implementations must
// return an error for images they cannot process.
type Detector interface {
	Infer(ctx context.Context, img image.Image, confidenceThreshold float64) (*Inference, error)
}

// DetectorFunc adapts a function to the Detector interface.
type DetectorFunc func(ctx context.Context, img image.Image, confidenceThreshold float64) (*Inference, error)

// Infer calls f.
func (f DetectorFunc) Infer(ctx context.Context, img image.Image, confidenceThreshold float64) (*Inference, error) {
	return f(ctx, img, confidenceThreshold)
}
