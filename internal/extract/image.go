package extract

import (
	"bytes"
	"fmt"
	"image"
	"image/png"

	_ "image/gif"  // register stdlib decoders
	_ "image/jpeg" //

	_ "golang.org/x/image/bmp"  // register extended decoders for scanned input
	_ "golang.org/x/image/tiff" //
	_ "golang.org/x/image/webp" //
)

// SniffImage reports whether data decodes as a supported image format and
// returns the format name.
func SniffImage(data []byte) (string, bool) {
	_, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return "", false
	}
	return format, true
}

// NormalizePNG re-encodes arbitrary scanned input (TIFF, BMP, WebP, JPEG,
// GIF, PNG) to PNG for the OCR engine. PNG input passes through untouched.
func NormalizePNG(data []byte) ([]byte, error) {
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("failed to decode image: %w", err)
	}
	if format == "png" {
		return data, nil
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to encode png: %w", err)
	}
	return buf.Bytes(), nil
}
