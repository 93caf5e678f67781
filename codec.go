package rmbg

import (
	"bytes"
	"fmt"
	"image"
	"image/png"
	"io"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"
)

// DecodeImage decodes PNG, JPEG, WebP (and GIF, BMP, TIFF) bytes. EXIF
// orientation is ignored so the result has the stored dimensions.
func DecodeImage(data []byte) (image.Image, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty input", ErrDecode)
	}
	img, err := imaging.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %w", ErrDecode, err)
	}
	if b := img.Bounds(); b.Dx() <= 0 || b.Dy() <= 0 {
		return nil, fmt.Errorf("%w: empty image %dx%d", ErrDecode, b.Dx(), b.Dy())
	}
	return img, nil
}

// EncodePNG writes img losslessly.
func EncodePNG(w io.Writer, img image.Image) error {
	return encodePNG(w, img, nil)
}

func encodePNG(w io.Writer, img image.Image, pool png.EncoderBufferPool) error {
	enc := png.Encoder{
		CompressionLevel: png.DefaultCompression,
		BufferPool:       pool,
	}
	if err := enc.Encode(w, img); err != nil {
		return fmt.Errorf("%w: %w", ErrEncode, err)
	}
	return nil
}
