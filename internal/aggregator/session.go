package aggregator

import (
	"context"

	"github.com/pkg/errors"
)

// DefaultConfidenceThreshold matches the dashboard slider's initial position.
const DefaultConfidenceThreshold = 0.5

// SessionState is everything one interactive session owns.
type SessionState struct {
	CurrentBatch        Batch
	ConfidenceThreshold float64
}

// NewSessionState returns the initial state: an empty batch and the given threshold.
func NewSessionState(threshold float64) SessionState {
	return SessionState{CurrentBatch: Clear(), ConfidenceThreshold: threshold}
}

// Statistics derives the summary figures of the current batch.
func (s SessionState) Statistics() BatchStatistics {
	return ComputeStatistics(s.CurrentBatch)
}

// Event is a user action against a session.
type Event interface {
	eventName() string
}

// DetectRequested runs detection over uploaded files.
type DetectRequested struct {
	Images []Source
}

// CaptureRequested runs detection over one camera capture.
type CaptureRequested struct {
	Image Source
}

// ImageSelected moves the selection cursor.
type ImageSelected struct {
	Index int
}

// SourceCleared is raised when the image source holds no images anymore.
type SourceCleared struct{}

// ThresholdChanged updates the confidence threshold for later detections.
type ThresholdChanged struct {
	Threshold float64
}

func (DetectRequested) eventName() string  { return "detect" }
func (CaptureRequested) eventName() string { return "capture" }
func (ImageSelected) eventName() string    { return "select" }
func (SourceCleared) eventName() string    { return "clear" }
func (ThresholdChanged) eventName() string { return "threshold" }

// Apply maps an event onto the matching operation and returns the next state.
// On error the input state is returned unchanged.
func (a *Aggregator) Apply(ctx context.Context, state SessionState, ev Event, progress ProgressFunc) (SessionState, error) {
	switch e := ev.(type) {
	case DetectRequested:
		b, err := a.RunBatch(ctx, e.Images, state.ConfidenceThreshold, progress)
		if err != nil {
			return state, err
		}
		state.CurrentBatch = b
	case CaptureRequested:
		img := e.Image
		img.Filename = WebcamFilename
		b, err := a.RunSingle(ctx, img, state.ConfidenceThreshold, progress)
		if err != nil {
			return state, err
		}
		state.CurrentBatch = b
	case ImageSelected:
		state.CurrentBatch = Select(state.CurrentBatch, e.Index)
	case SourceCleared:
		state.CurrentBatch = Clear()
	case ThresholdChanged:
		if err := ValidateThreshold(e.Threshold); err != nil {
			return state, err
		}
		state.ConfidenceThreshold = e.Threshold
	default:
		return state, errors.Errorf("unknown event %T", ev)
	}
	a.logger.Debugw("event applied", "event", ev.eventName(), "images", state.CurrentBatch.Len())
	return state, nil
}
