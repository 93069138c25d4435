package sniff

import (
	"bytes"
	"image"
	"image/color"
	"image/gif"
	"image/jpeg"
	"image/png"
	"testing"

	"github.com/stretchr/testify/require"
)

func testImage(w, h int) *image.RGBA {
	img := image.NewRGBA(image.Rect(0, 0, w, h))
	for x := range w {
		for y := range h {
			img.Set(x, y, color.RGBA{R: uint8(x), G: uint8(y), B: 0x80, A: 0xFF})
		}
	}
	return img
}

func pngBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, testImage(w, h)))
	return buf.Bytes()
}

func jpegBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, jpeg.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

func gifBytes(t *testing.T, w, h int) []byte {
	t.Helper()
	var buf bytes.Buffer
	require.NoError(t, gif.Encode(&buf, testImage(w, h), nil))
	return buf.Bytes()
}

// truncatedJPEG has a valid JPEG signature followed by garbage.
func truncatedJPEG(size int) []byte {
	out := make([]byte, size)
	copy(out, []byte{0xFF, 0xD8, 0xFF, 0xE0, 0x00, 0x10, 'J', 'F', 'I', 'F', 0x00})
	for i := 11; i < size; i++ {
		out[i] = byte(i * 7)
	}
	return out
}

// wavBytes returns a minimal RIFF/WAVE header with silent PCM samples.
func wavBytes() []byte {
	var b bytes.Buffer
	b.WriteString("RIFF")
	b.Write([]byte{0x24, 0x08, 0x00, 0x00})
	b.WriteString("WAVEfmt ")
	b.Write([]byte{16, 0, 0, 0, 1, 0, 1, 0, 0x44, 0xAC, 0, 0, 0x88, 0x58, 0x01, 0, 2, 0, 16, 0})
	b.WriteString("data")
	b.Write([]byte{0x00, 0x08, 0x00, 0x00})
	b.Write(make([]byte, 2048))
	return b.Bytes()
}

func elfBytes() []byte {
	out := make([]byte, 256)
	copy(out, []byte{0x7F, 'E', 'L', 'F', 2, 1, 1})
	return out
}

func binaryNoise() []byte {
	return []byte{0x00, 0x13, 0x37, 0x00, 0xFE, 0xED, 0x01, 0x02, 0x03, 0x04, 0x00, 0x00, 0x9A}
}
