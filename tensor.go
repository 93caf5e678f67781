package rmbg

import (
	"image"

	"github.com/disintegration/imaging"
)

// InputSize is the square spatial size the U2-Net model was trained on.
const InputSize = 320

// Tensor is a dense float32 NCHW tensor.
type Tensor struct {
	Shape [4]int64
	Data  []float32
}

// Preprocess resizes img to InputSize x InputSize (aspect ratio is not kept),
// drops alpha, scales to [0, 1] and lays the result out as (1, 3, H, W).
func Preprocess(img image.Image) *Tensor {
	resized := imaging.Resize(img, InputSize, InputSize, imaging.Lanczos)
	pix := resized.Pix
	stride := resized.Stride

	const plane = InputSize * InputSize
	data := make([]float32, 3*plane)
	for y := range InputSize {
		row := pix[y*stride : y*stride+InputSize*4]
		for x := range InputSize {
			base := x * 4
			i := y*InputSize + x
			data[i] = float32(row[base+0]) / 255.0
			data[plane+i] = float32(row[base+1]) / 255.0
			data[2*plane+i] = float32(row[base+2]) / 255.0
		}
	}

	return &Tensor{
		Shape: [4]int64{1, 3, InputSize, InputSize},
		Data:  data,
	}
}
