// Package qr renders text as QR code PNGs and reads it back from images.
package qr

import (
	"bytes"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"io"
	"strings"

	"github.com/makiuchi-d/gozxing"
	zxingqr "github.com/makiuchi-d/gozxing/qrcode"
	qrcode "github.com/skip2/go-qrcode"
)

// DefaultSize is the PNG edge length in pixels.
const DefaultSize = 400

// MaxImageBytes caps uploaded images.
const MaxImageBytes = 5 << 20

var (
	// ErrNoCode is returned when an image holds no readable QR code.
	ErrNoCode = errors.New("no qr code found in image")
	// ErrImage is returned for unreadable image data.
	ErrImage = errors.New("unreadable image")
	// ErrTooLarge is returned when text exceeds what a QR code can hold at
	// the codec's recovery level.
	ErrTooLarge = errors.New("content too large for a qr code")
)

// Codec encodes at a fixed size and recovery level.
type Codec struct {
	Size  int
	Level qrcode.RecoveryLevel
}

// NewCodec returns a Codec. size <= 0 means DefaultSize.
func NewCodec(size int, level string) (*Codec, error) {
	lvl, err := ParseRecoveryLevel(level)
	if err != nil {
		return nil, err
	}
	if size <= 0 {
		size = DefaultSize
	}
	return &Codec{Size: size, Level: lvl}, nil
}

// ParseRecoveryLevel maps low|medium|high|highest to a recovery level.
// Empty means high.
func ParseRecoveryLevel(s string) (qrcode.RecoveryLevel, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "l":
		return qrcode.Low, nil
	case "medium", "m":
		return qrcode.Medium, nil
	case "", "high", "q":
		return qrcode.High, nil
	case "highest", "h":
		return qrcode.Highest, nil
	default:
		return 0, fmt.Errorf("unknown qr recovery level %q", s)
	}
}

// EncodePNG renders text as a PNG.
func (c *Codec) EncodePNG(text string) ([]byte, error) {
	if text == "" {
		return nil, errors.New("qr encode: empty content")
	}
	code, err := qrcode.New(text, c.Level)
	if err != nil {
		return nil, fmt.Errorf("%w: %d bytes: %v", ErrTooLarge, len(text), err)
	}
	png, err := code.PNG(c.Size)
	if err != nil {
		return nil, fmt.Errorf("qr encode: %w", err)
	}
	return png, nil
}

// Decode reads the first QR code in img.
func Decode(img image.Image) (string, error) {
	bmp, err := gozxing.NewBinaryBitmapFromImage(img)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImage, err)
	}
	hints := map[gozxing.DecodeHintType]interface{}{
		gozxing.DecodeHintType_TRY_HARDER:    true,
		gozxing.DecodeHintType_CHARACTER_SET: "UTF-8",
	}
	result, err := zxingqr.NewQRCodeReader().Decode(bmp, hints)
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrNoCode, err)
	}
	return result.GetText(), nil
}

// DecodeBytes decodes an encoded image (PNG, JPEG or GIF).
func DecodeBytes(data []byte) (string, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImage, err)
	}
	return Decode(img)
}

// DecodeReader reads at most MaxImageBytes from r and decodes it.
func DecodeReader(r io.Reader) (string, error) {
	data, err := io.ReadAll(io.LimitReader(r, MaxImageBytes+1))
	if err != nil {
		return "", fmt.Errorf("%w: %v", ErrImage, err)
	}
	if len(data) > MaxImageBytes {
		return "", fmt.Errorf("%w: image exceeds %d bytes", ErrImage, MaxImageBytes)
	}
	return DecodeBytes(data)
}
