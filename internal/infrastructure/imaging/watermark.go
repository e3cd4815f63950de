package imaging

import (
	"bytes"
	"fmt"
	"image"
	"image/color"
	"image/draw"
	"image/png"
)

// WatermarkOptions controls the preview mark
type WatermarkOptions struct {
	// Spacing is the distance between diagonal bands in pixels; 0 picks one
	// from the image size
	Spacing int
	// Width is the band thickness in pixels; 0 picks one from the spacing
	Width int
	Color color.NRGBA
}

// DefaultWatermarkOptions returns a dark translucent diagonal grid
func DefaultWatermarkOptions() WatermarkOptions {
	return WatermarkOptions{
		Color: color.NRGBA{R: 0, G: 0, B: 0, A: 110},
	}
}

// Watermark decodes data, covers it with a crossing diagonal band pattern and
// returns the result as PNG
func Watermark(data []byte, opts WatermarkOptions) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}

	bounds := src.Bounds()
	canvas := image.NewNRGBA(image.Rect(0, 0, bounds.Dx(), bounds.Dy()))
	draw.Draw(canvas, canvas.Bounds(), src, bounds.Min, draw.Src)

	spacing := opts.Spacing
	if spacing <= 0 {
		spacing = max(24, min(bounds.Dx(), bounds.Dy())/6)
	}
	width := opts.Width
	if width <= 0 {
		width = max(2, spacing/10)
	}

	c := opts.Color
	a := uint32(c.A)
	w, h := canvas.Bounds().Dx(), canvas.Bounds().Dy()
	for y := 0; y < h; y++ {
		for x := 0; x < w; x++ {
			if (x+y)%spacing >= width && ((x-y)%spacing+spacing)%spacing >= width {
				continue
			}
			i := canvas.PixOffset(x, y)
			p := canvas.Pix[i : i+4 : i+4]
			p[0] = uint8((uint32(p[0])*(255-a) + uint32(c.R)*a) / 255)
			p[1] = uint8((uint32(p[1])*(255-a) + uint32(c.G)*a) / 255)
			p[2] = uint8((uint32(p[2])*(255-a) + uint32(c.B)*a) / 255)
			p[3] = uint8(a + uint32(p[3])*(255-a)/255)
		}
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, canvas); err != nil {
		return nil, fmt.Errorf("imaging: failed to encode preview: %w", err)
	}
	return buf.Bytes(), nil
}

// ToPNG re-encodes any supported image as PNG
func ToPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("imaging: failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
