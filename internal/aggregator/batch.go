package aggregator

import "image"

// WebcamFilename names every image that comes from a camera capture.
const WebcamFilename = "webcam_capture.jpg"

// Source is one image handed over by the image source, still encoded.
type Source struct {
	Filename string
	Data     []byte
}

// ImageResult is the outcome of running detection on one image.
// Detections keep the detector's order and must not be modified after creation.
type ImageResult struct {
	Filename   string
	Source     image.Image
	Annotated  image.Image
	Detections []Detection
}

// Statistics tallies the detections of this image alone.
func (r ImageResult) Statistics() BatchStatistics {
	return tally([]ImageResult{r})
}

// Batch is an ordered, immutable set of image results plus a selection cursor.
// The zero value is the empty batch.
type Batch struct {
	results  []ImageResult
	selected int
}

func newBatch(results []ImageResult) Batch {
	return Batch{results: results}
}

// Len returns the number of images in the batch.
func (b Batch) Len() int { return len(b.results) }

// Empty reports whether the batch holds no results.
func (b Batch) Empty() bool { return len(b.results) == 0 }

// SelectedIndex returns the selection cursor. It is only meaningful for a non-empty batch.
func (b Batch) SelectedIndex() int { return b.selected }

// Results returns a copy of the ordered results.
func (b Batch) Results() []ImageResult {
	out := make([]ImageResult, len(b.results))
	copy(out, b.results)
	return out
}

// Result returns the result at index i, or false when i is out of range.
func (b Batch) Result(i int) (ImageResult, bool) {
	if i < 0 || i >= len(b.results) {
		return ImageResult{}, false
	}
	return b.results[i], true
}

// Selected returns the selected result, or false when nothing can be shown.
func (b Batch) Selected() (ImageResult, bool) {
	return b.Result(b.selected)
}

// Select returns b with the cursor moved to index. An index that is not valid
// for b yields b unchanged.
func Select(b Batch, index int) Batch {
	if index < 0 || index >= len(b.results) {
		return b
	}
	b.selected = index
	return b
}

// Clear returns the canonical empty batch.
func Clear() Batch {
	return Batch{}
}
