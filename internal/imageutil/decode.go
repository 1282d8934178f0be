// Package imageutil decodes uploads, draws detection overlays and encodes images for the browser.
package imageutil

import (
	"bytes"
	"image"

	"github.com/disintegration/imaging"
	"github.com/pkg/errors"
)

// Decode opens an encoded image, applies its EXIF orientation and normalizes it
// to an opaque NRGBA image. Alpha is discarded, not composited.
func Decode(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, errors.New("empty image data")
	}
	img, err := imaging.Decode(bytes.NewReader(data), imaging.AutoOrientation(true))
	if err != nil {
		return nil, errors.Wrap(err, "decode")
	}
	return toRGB(img), nil
}

func toRGB(img image.Image) *image.NRGBA {
	out := imaging.Clone(img)
	for i := 3; i < len(out.Pix); i += 4 {
		out.Pix[i] = 0xff
	}
	return out
}
