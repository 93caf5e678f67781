package rmbg

import (
	"bytes"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/disintegration/imaging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecodeImage(t *testing.T) {
	t.Run("PNG", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, patternRGBA(12, 7)))
		img, err := DecodeImage(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 12, 7), img.Bounds())
	})

	t.Run("JPEG", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, jpeg.Encode(&buf, patternRGBA(16, 9), nil))
		img, err := DecodeImage(buf.Bytes())
		require.NoError(t, err)
		assert.Equal(t, image.Rect(0, 0, 16, 9), img.Bounds())
	})

	t.Run("Grayscale", func(t *testing.T) {
		var buf bytes.Buffer
		require.NoError(t, png.Encode(&buf, image.NewGray(image.Rect(0, 0, 3, 3))))
		img, err := DecodeImage(buf.Bytes())
		require.NoError(t, err)
		assert.IsType(t, &image.Gray{}, img)
	})

	t.Run("Invalid", func(t *testing.T) {
		for _, data := range [][]byte{nil, {}, []byte("GIF89a but not really"), {0x89, 'P', 'N', 'G'}} {
			_, err := DecodeImage(data)
			assert.ErrorIs(t, err, ErrDecode)
		}
	})
}

func TestEncodePNG_RoundTrip(t *testing.T) {
	img := image.NewNRGBA(image.Rect(0, 0, 8, 8))
	for y := range 8 {
		for x := range 8 {
			a := uint8(0)
			if (x+y)%2 == 0 {
				a = 255
			}
			img.SetNRGBA(x, y, color.NRGBA{R: uint8(x * 30), G: uint8(y * 30), B: 7, A: a})
		}
	}
	for i := 0; i < len(img.Pix); i += 4 {
		if img.Pix[i+3] == 0 {
			img.Pix[i], img.Pix[i+1], img.Pix[i+2] = 0, 0, 0
		}
	}

	var buf bytes.Buffer
	require.NoError(t, EncodePNG(&buf, img))

	decoded, err := DecodeImage(buf.Bytes())
	require.NoError(t, err)
	assert.Equal(t, img.Pix, imaging.Clone(decoded).Pix)
}

func TestEncodePNG_Pooled(t *testing.T) {
	pool := newEncodeBufferPool()
	img := patternRGBA(20, 20)

	var first, second bytes.Buffer
	require.NoError(t, encodePNG(&first, img, pool))
	require.NoError(t, encodePNG(&second, img, pool))
	assert.Equal(t, first.Bytes(), second.Bytes())
}
