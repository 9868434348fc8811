package qr

import (
	"bytes"
	"image"
	"image/color"
	"image/png"
	"strings"
	"testing"

	qrcode "github.com/skip2/go-qrcode"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEncodeDecodeRoundTrip(t *testing.T) {
	c, err := NewCodec(0, "")
	require.NoError(t, err)
	assert.Equal(t, DefaultSize, c.Size)
	assert.Equal(t, qrcode.High, c.Level)

	texts := []string{
		"hello-world",
		`{"v":1,"alg":"EC-P256","payload":"héllo wörld","signature":"MEUCIQ=="}`,
		strings.Repeat("A1b2C3", 80),
	}
	for _, text := range texts {
		pngBytes, err := c.EncodePNG(text)
		require.NoError(t, err)

		cfg, err := png.DecodeConfig(bytes.NewReader(pngBytes))
		require.NoError(t, err)
		assert.Equal(t, DefaultSize, cfg.Width)

		got, err := DecodeBytes(pngBytes)
		require.NoError(t, err)
		assert.Equal(t, text, got)
	}
}

func TestEncodeTooLarge(t *testing.T) {
	c, err := NewCodec(0, "highest")
	require.NoError(t, err)

	_, err = c.EncodePNG(strings.Repeat("a", 3000))
	assert.ErrorIs(t, err, ErrTooLarge)

	_, err = c.EncodePNG("")
	require.Error(t, err)
	assert.NotErrorIs(t, err, ErrTooLarge)
}

func TestDecodeBlankImage(t *testing.T) {
	img := image.NewGray(image.Rect(0, 0, 120, 120))
	for i := range img.Pix {
		img.Pix[i] = color.GrayModel.Convert(color.White).(color.Gray).Y
	}
	var buf bytes.Buffer
	require.NoError(t, png.Encode(&buf, img))

	_, err := DecodeBytes(buf.Bytes())
	assert.ErrorIs(t, err, ErrNoCode)
}

func TestDecodeNotAnImage(t *testing.T) {
	_, err := DecodeBytes([]byte("plain text"))
	assert.ErrorIs(t, err, ErrImage)

	_, err = DecodeReader(bytes.NewReader(make([]byte, MaxImageBytes+10)))
	assert.ErrorIs(t, err, ErrImage)
}

func TestParseRecoveryLevel(t *testing.T) {
	lvl, err := ParseRecoveryLevel("medium")
	require.NoError(t, err)
	assert.Equal(t, qrcode.Medium, lvl)

	_, err = ParseRecoveryLevel("extreme")
	assert.Error(t, err)
}
