package imageutil

import (
	"image"
	"image/color"

	"github.com/fogleman/gg"
	"github.com/golang/freetype/truetype"
	"golang.org/x/image/font/gofont/goregular"
)

var labelFont *truetype.Font

func init() {
	var err error
	labelFont, err = truetype.Parse(goregular.TTF)
	if err != nil {
		panic(err)
	}
}

// Box colours used by the dashboard.
var (
	ColorHealthy = color.NRGBA{R: 0x10, G: 0xb9, B: 0x81, A: 0xff}
	ColorDisease = color.NRGBA{R: 0xef, G: 0x44, B: 0x44, A: 0xff}
	ColorOther   = color.NRGBA{R: 0xf5, G: 0x9e, B: 0x0b, A: 0xff}
)

// Box is one overlay rectangle with its caption.
type Box struct {
	Rect  image.Rectangle
	Label string
	Color color.Color
}

// Annotate draws every box and caption onto a copy of img.
func Annotate(img image.Image, boxes []Box) image.Image {
	dc := gg.NewContextForImage(img)
	b := img.Bounds()
	lineWidth := float64(max(2, min(b.Dx(), b.Dy())/200))
	fontSize := float64(max(12, min(b.Dx(), b.Dy())/40))
	dc.SetFontFace(truetype.NewFace(labelFont, &truetype.Options{Size: fontSize}))

	for _, box := range boxes {
		c := box.Color
		if c == nil {
			c = ColorOther
		}
		r := box.Rect.Intersect(b)
		if r.Empty() {
			continue
		}
		dc.SetColor(c)
		dc.SetLineWidth(lineWidth)
		dc.DrawRectangle(float64(r.Min.X), float64(r.Min.Y), float64(r.Dx()), float64(r.Dy()))
		dc.Stroke()

		if box.Label == "" {
			continue
		}
		w, h := dc.MeasureString(box.Label)
		pad := fontSize / 4
		y := float64(r.Min.Y) - h - 2*pad
		if y < 0 {
			y = float64(r.Min.Y)
		}
		dc.SetColor(c)
		dc.DrawRectangle(float64(r.Min.X), y, w+2*pad, h+2*pad)
		dc.Fill()
		dc.SetColor(color.White)
		dc.DrawStringAnchored(box.Label, float64(r.Min.X)+pad, y+pad, 0, 1)
	}
	return dc.Image()
}
