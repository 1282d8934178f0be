package aggregator

import (
	"fmt"
	"math"

	"github.com/pkg/errors"
)

var (
	// ErrModelUnavailable means the detector could not be loaded. It is fatal for the dashboard.
	ErrModelUnavailable = errors.New("detection model unavailable")
	// ErrImageDecode marks an image that could not be opened or normalized.
	ErrImageDecode = errors.New("image decode failure")
	// ErrDetectorFailed marks a detector error for one image.
	ErrDetectorFailed = errors.New("detector failure")
	// ErrNoImages is returned when a batch is requested without images.
	ErrNoImages = errors.New("no images provided")
	// ErrInvalidThreshold is returned for a confidence threshold outside [0,1].
	ErrInvalidThreshold = errors.New("confidence threshold must be within [0,1]")
)

// ImageDecodeError names the file that could not be decoded.
type ImageDecodeError struct {
	Filename string
	Err      error
}

func (e *ImageDecodeError) Error() string {
	return fmt.Sprintf("cannot read image %q: %v", e.Filename, e.Err)
}

// Unwrap returns the decoder error.
func (e *ImageDecodeError) Unwrap() error { return e.Err }

// Is matches ErrImageDecode.
func (e *ImageDecodeError) Is(target error) bool { return target == ErrImageDecode }

// DetectorError names the file the detector failed on.
type DetectorError struct {
	Filename string
	Err      error
}

func (e *DetectorError) Error() string {
	return fmt.Sprintf("detection failed for %q: %v", e.Filename, e.Err)
}

// Unwrap returns the detector error.
func (e *DetectorError) Unwrap() error { return e.Err }

// Is matches ErrDetectorFailed.
func (e *DetectorError) Is(target error) bool { return target == ErrDetectorFailed }

// ValidateThreshold checks that a confidence threshold lies within [0,1].
func ValidateThreshold(threshold float64) error {
	if threshold < 0 || threshold > 1 || math.IsNaN(threshold) {
		return errors.Wrapf(ErrInvalidThreshold, "got %v", threshold)
	}
	return nil
}
