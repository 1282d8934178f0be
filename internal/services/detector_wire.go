package services

import (
	"encoding/base64"
	"image"

	"github.com/pkg/errors"
	"google.golang.org/protobuf/types/known/structpb"

	"silkworm-dashboard/internal/aggregator"
	"silkworm-dashboard/internal/imageutil"
)

// InferRequest is the decoded form of a Detector/Infer request.
type InferRequest struct {
	Image      []byte
	Confidence float64
	Model      string
	Filename   string
}

// EncodeInferRequest builds the Struct sent to the detector service.
func EncodeInferRequest(req InferRequest) (*structpb.Struct, error) {
	return structpb.NewStruct(map[string]interface{}{
		"image":      base64.StdEncoding.EncodeToString(req.Image),
		"confidence": req.Confidence,
		"model":      req.Model,
		"filename":   req.Filename,
	})
}

// DecodeInferRequest is the server-side counterpart of EncodeInferRequest.
func DecodeInferRequest(s *structpb.Struct) (InferRequest, error) {
	fields := s.GetFields()
	raw, err := base64.StdEncoding.DecodeString(fields["image"].GetStringValue())
	if err != nil {
		return InferRequest{}, errors.Wrap(err, "image field")
	}
	if len(raw) == 0 {
		return InferRequest{}, errors.New("image field is required")
	}
	return InferRequest{
		Image:      raw,
		Confidence: fields["confidence"].GetNumberValue(),
		Model:      fields["model"].GetStringValue(),
		Filename:   fields["filename"].GetStringValue(),
	}, nil
}

// EncodeInferResponse builds a detector response. annotated may be nil.
func EncodeInferResponse(detections []aggregator.Detection, annotated []byte) (*structpb.Struct, error) {
	list := make([]interface{}, 0, len(detections))
	for _, d := range detections {
		list = append(list, map[string]interface{}{
			"label":      d.ClassLabel,
			"confidence": d.Confidence,
			"box": []interface{}{
				float64(d.Box.Min.X), float64(d.Box.Min.Y),
				float64(d.Box.Max.X), float64(d.Box.Max.Y),
			},
		})
	}
	m := map[string]interface{}{"detections": list}
	if len(annotated) > 0 {
		m["annotated"] = base64.StdEncoding.EncodeToString(annotated)
	}
	return structpb.NewStruct(m)
}

// DecodeInferResponse parses the detections and, when present, the annotated image.
func DecodeInferResponse(s *structpb.Struct) ([]aggregator.Detection, image.Image, error) {
	fields := s.GetFields()
	values := fields["detections"].GetListValue().GetValues()
	detections := make([]aggregator.Detection, 0, len(values))
	for i, v := range values {
		d := v.GetStructValue()
		if d == nil {
			return nil, nil, errors.Errorf("detection %d is not an object", i)
		}
		df := d.GetFields()
		box := df["box"].GetListValue().GetValues()
		if len(box) != 4 {
			return nil, nil, errors.Errorf("detection %d: box needs 4 coordinates, got %d", i, len(box))
		}
		detections = append(detections, aggregator.Detection{
			ClassLabel: df["label"].GetStringValue(),
			Confidence: df["confidence"].GetNumberValue(),
			Box: image.Rect(
				int(box[0].GetNumberValue()), int(box[1].GetNumberValue()),
				int(box[2].GetNumberValue()), int(box[3].GetNumberValue()),
			),
		})
	}

	encoded := fields["annotated"].GetStringValue()
	if encoded == "" {
		return detections, nil, nil
	}
	raw, err := base64.StdEncoding.DecodeString(encoded)
	if err != nil {
		return nil, nil, errors.Wrap(err, "annotated field")
	}
	annotated, err := imageutil.Decode(raw)
	if err != nil {
		return nil, nil, errors.Wrap(err, "annotated image")
	}
	return detections, annotated, nil
}

// OverlayBoxes converts detections into coloured overlay boxes.
func OverlayBoxes(detections []aggregator.Detection) []imageutil.Box {
	boxes := make([]imageutil.Box, 0, len(detections))
	for _, d := range detections {
		c := imageutil.ColorOther
		switch h := aggregator.Classify(d); {
		case h.IsDiseased():
			c = imageutil.ColorDisease
		case h.IsHealthy():
			c = imageutil.ColorHealthy
		}
		boxes = append(boxes, imageutil.Box{
			Rect:  d.Box,
			Label: formatLabel(d),
			Color: c,
		})
	}
	return boxes
}
