package rmbg

import (
	"fmt"
	"image"
	"math"

	"github.com/disintegration/imaging"
	"github.com/nfnt/resize"
)

// MaskThreshold is the confidence above which a pixel is kept. It is tied to
// the U2-Net output distribution and should not be assumed to fit other models.
const MaskThreshold = 128

// RawOutput is the first output tensor of the model.
type RawOutput struct {
	Shape []int64
	Data  []float32
}

// spatialDims drops every unit axis and expects exactly two to remain.
func (o *RawOutput) spatialDims() (h, w int, err error) {
	var dims []int64
	for _, d := range o.Shape {
		if d != 1 {
			dims = append(dims, d)
		}
	}
	switch len(dims) {
	case 0:
		// 1x1 output
		h, w = 1, 1
	case 2:
		h, w = int(dims[0]), int(dims[1])
	default:
		return 0, 0, fmt.Errorf("%w: unexpected output shape %v", ErrInference, o.Shape)
	}
	if h <= 0 || w <= 0 || h*w != len(o.Data) {
		return 0, 0, fmt.Errorf("%w: output shape %v does not match %d values", ErrInference, o.Shape, len(o.Data))
	}
	return h, w, nil
}

// Postprocess turns the raw model output into a mask of width x height.
func Postprocess(raw *RawOutput, width, height int) (*image.Gray, error) {
	if raw == nil {
		return nil, fmt.Errorf("%w: empty output", ErrInference)
	}
	h, w, err := raw.spatialDims()
	if err != nil {
		return nil, err
	}

	small := image.NewGray(image.Rect(0, 0, w, h))
	for i, v := range raw.Data {
		small.Pix[i] = quantize(v)
	}

	if w == width && h == height {
		return small, nil
	}
	mask, ok := resize.Resize(uint(width), uint(height), small, resize.Lanczos3).(*image.Gray)
	if !ok {
		return nil, fmt.Errorf("%w: mask resize returned unexpected type", ErrInference)
	}
	return mask, nil
}

// quantize maps a confidence in [0, 1] to 0..255, truncating like a uint8 cast.
func quantize(v float32) uint8 {
	if math.IsNaN(float64(v)) || v <= 0 {
		return 0
	}
	if v >= 1 {
		return 255
	}
	return uint8(v * 255)
}

// Composite keeps every pixel of img whose mask value exceeds MaskThreshold
// and makes the rest fully transparent. No soft alpha is produced. The mask
// must have the same size as img.
func Composite(img image.Image, mask *image.Gray) *image.NRGBA {
	out := imaging.Clone(img)
	w, h := out.Rect.Dx(), out.Rect.Dy()

	for y := range h {
		row := out.Pix[y*out.Stride : y*out.Stride+w*4]
		mrow := mask.Pix[y*mask.Stride : y*mask.Stride+w]
		for x := range w {
			if mrow[x] > MaskThreshold {
				continue
			}
			base := x * 4
			row[base+0] = 0
			row[base+1] = 0
			row[base+2] = 0
			row[base+3] = 0
		}
	}
	return out
}

// degrade is the fallback output: the original converted to NRGBA.
func degrade(img image.Image) *image.NRGBA {
	return imaging.Clone(img)
}
