package imaging

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/image/bmp"
)

func testImage() image.Image {
	img := image.NewRGBA(image.Rect(0, 0, 16, 12))
	for y := 0; y < 12; y++ {
		for x := 0; x < 16; x++ {
			img.Set(x, y, color.RGBA{R: uint8(x * 16), G: uint8(y * 20), B: 128, A: 255})
		}
	}
	return img
}

func encode(t *testing.T, format string) []byte {
	t.Helper()
	var buf bytes.Buffer
	var err error
	switch format {
	case "png":
		err = png.Encode(&buf, testImage())
	case "jpeg":
		err = jpeg.Encode(&buf, testImage(), &jpeg.Options{Quality: 80})
	case "gif":
		err = gif.Encode(&buf, testImage(), nil)
	case "bmp":
		err = bmp.Encode(&buf, testImage())
	}
	require.NoError(t, err)
	return buf.Bytes()
}

func TestDecodeFormats(t *testing.T) {
	d := NewDecoder()
	for _, format := range []string{"png", "jpeg", "gif", "bmp"} {
		t.Run(format, func(t *testing.T) {
			data := encode(t, format)
			img, err := d.Decode(data)
			require.NoError(t, err)
			assert.Equal(t, 16, img.Bounds().Dx())
			assert.Equal(t, 12, img.Bounds().Dy())

			got, err := Format(data)
			require.NoError(t, err)
			assert.Equal(t, format, got)
		})
	}
}

func TestDecodeRejects(t *testing.T) {
	d := NewDecoder()

	_, err := d.Decode(nil)
	assert.Error(t, err)

	_, err = d.Decode([]byte("definitely not an image"))
	assert.Error(t, err)

	truncated := encode(t, "png")
	_, err = d.Decode(truncated[:len(truncated)/2])
	assert.Error(t, err)

	small := &Decoder{MaxPixels: 100}
	_, err = small.Decode(encode(t, "png"))
	assert.Error(t, err)
}
