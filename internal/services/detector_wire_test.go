package services

import (
	"image"
	"testing"

	"go.viam.com/test"
	"google.golang.org/protobuf/types/known/structpb"

	"silkworm-dashboard/internal/aggregator"
	"silkworm-dashboard/internal/imageutil"
)

func TestDecodeInferRequest(t *testing.T) {
	s, err := EncodeInferRequest(InferRequest{Image: []byte{1, 2, 3}, Confidence: 0.4, Model: "best.pt", Filename: "a.jpg"})
	test.That(t, err, test.ShouldBeNil)
	req, err := DecodeInferRequest(s)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, req, test.ShouldResemble, InferRequest{Image: []byte{1, 2, 3}, Confidence: 0.4, Model: "best.pt", Filename: "a.jpg"})

	empty, err := structpb.NewStruct(map[string]interface{}{"confidence": 0.5})
	test.That(t, err, test.ShouldBeNil)
	_, err = DecodeInferRequest(empty)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestDecodeInferResponseRejectsMalformed(t *testing.T) {
	for name, fields := range map[string]map[string]interface{}{
		"short box": {"detections": []interface{}{
			map[string]interface{}{"label": "healthy", "confidence": 0.9, "box": []interface{}{1.0, 2.0}},
		}},
		"not an object": {"detections": []interface{}{"healthy"}},
		"bad annotated": {"detections": []interface{}{}, "annotated": "!!!"},
	} {
		t.Run(name, func(t *testing.T) {
			s, err := structpb.NewStruct(fields)
			test.That(t, err, test.ShouldBeNil)
			_, _, err = DecodeInferResponse(s)
			test.That(t, err, test.ShouldNotBeNil)
		})
	}
}

func TestDecodeInferResponseEmpty(t *testing.T) {
	ds, annotated, err := DecodeInferResponse(&structpb.Struct{})
	test.That(t, err, test.ShouldBeNil)
	test.That(t, ds, test.ShouldHaveLength, 0)
	test.That(t, annotated, test.ShouldBeNil)
}

func TestOverlayBoxes(t *testing.T) {
	boxes := OverlayBoxes([]aggregator.Detection{
		{ClassLabel: "healthy", Confidence: 0.912, Box: image.Rect(0, 0, 10, 10)},
		{ClassLabel: "grasserie", Confidence: 0.5, Box: image.Rect(1, 1, 5, 5)},
		{ClassLabel: "healthy/grasserie", Confidence: 0.5},
		{ClassLabel: "pupa", Confidence: 0.3},
	})
	test.That(t, boxes, test.ShouldHaveLength, 4)
	test.That(t, boxes[0].Label, test.ShouldEqual, "healthy 0.91")
	test.That(t, boxes[0].Rect, test.ShouldResemble, image.Rect(0, 0, 10, 10))
	test.That(t, boxes[0].Color, test.ShouldResemble, imageutil.ColorHealthy)
	test.That(t, boxes[1].Color, test.ShouldResemble, imageutil.ColorDisease)
	test.That(t, boxes[2].Color, test.ShouldResemble, imageutil.ColorDisease)
	test.That(t, boxes[3].Color, test.ShouldResemble, imageutil.ColorOther)
}
