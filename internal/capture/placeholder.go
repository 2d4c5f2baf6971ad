package capture

import (
	"bytes"
	"image"
	"image/color"
	"image/draw"
	"image/jpeg"
	"sync"

	"golang.org/x/image/font"
	"golang.org/x/image/font/basicfont"
	"golang.org/x/image/math/fixed"
)

// PlaceholderSize is the edge length in pixels of the substitute image.
const PlaceholderSize = 300

const placeholderText = "Photo"

var (
	placeholderOnce sync.Once
	placeholderJPEG []byte
)

// Placeholder returns a grey square JPEG labelled "Photo". Every call returns
// identical bytes; callers own the returned slice.
func Placeholder() []byte {
	placeholderOnce.Do(func() {
		placeholderJPEG = renderPlaceholder()
	})
	return bytes.Clone(placeholderJPEG)
}

// IsPlaceholder reports whether img is the substitute image.
func IsPlaceholder(img []byte) bool {
	placeholderOnce.Do(func() {
		placeholderJPEG = renderPlaceholder()
	})
	return bytes.Equal(img, placeholderJPEG)
}

func renderPlaceholder() []byte {
	img := image.NewRGBA(image.Rect(0, 0, PlaceholderSize, PlaceholderSize))
	draw.Draw(img, img.Bounds(), &image.Uniform{C: color.Gray{Y: 128}}, image.Point{}, draw.Src)

	face := basicfont.Face7x13
	d := &font.Drawer{
		Dst:  img,
		Src:  image.White,
		Face: face,
	}
	width := d.MeasureString(placeholderText)
	d.Dot = fixed.Point26_6{
		X: (fixed.I(PlaceholderSize) - width) / 2,
		Y: fixed.I(PlaceholderSize/2) + face.Metrics().Ascent/2,
	}
	d.DrawString(placeholderText)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, &jpeg.Options{Quality: 80}); err != nil {
		return nil
	}
	return buf.Bytes()
}
