//go:build ocr

// OCR fallback via the Tesseract engine (gosseract bindings). Requires
// Tesseract to be installed on the system. On macOS, install via:
//
//	brew install tesseract
//
// On Ubuntu/Debian:
//
//	apt-get install tesseract-ocr libtesseract-dev
package extract

import (
	"context"
	"fmt"
	"strings"

	"github.com/otiai10/gosseract/v2"
)

// OCREngine recognizes text from page images. Text output is deterministic
// for identical pixel input and engine version.
type OCREngine struct {
	lang string
}

// NewOCREngine creates an OCR engine for the given language ("eng" default).
// Multiple languages can be specified as a "+" separated string.
func NewOCREngine(lang string) (*OCREngine, error) {
	if lang == "" {
		lang = "eng"
	}
	// Probe the installation once so a missing engine surfaces at startup
	// rather than on the first scanned page.
	probe := gosseract.NewClient()
	defer func() { _ = probe.Close() }()
	if err := probe.SetLanguage(lang); err != nil {
		return nil, fmt.Errorf("tesseract unavailable for language %q: %w", lang, err)
	}
	return &OCREngine{lang: lang}, nil
}

// Recognize performs OCR on PNG image data. Low confidence never fails the
// call; content is returned and the caller decides whether to trust it.
func (e *OCREngine) Recognize(ctx context.Context, imageData []byte) (RecognizedText, error) {
	if err := ctx.Err(); err != nil {
		return RecognizedText{}, err
	}

	// gosseract clients are not safe for concurrent use; one per call.
	client := gosseract.NewClient()
	defer func() { _ = client.Close() }()

	if err := client.SetLanguage(e.lang); err != nil {
		return RecognizedText{}, fmt.Errorf("failed to set language: %w", err)
	}
	if err := client.SetImageFromBytes(imageData); err != nil {
		return RecognizedText{}, fmt.Errorf("failed to set image: %w", err)
	}

	text, err := client.Text()
	if err != nil {
		return RecognizedText{}, fmt.Errorf("OCR failed: %w", err)
	}

	confidence := 0.5
	if boxes, err := client.GetBoundingBoxes(gosseract.RIL_TEXTLINE); err == nil && len(boxes) > 0 {
		var sum float64
		for _, b := range boxes {
			sum += b.Confidence
		}
		confidence = sum / float64(len(boxes)) / 100
	}

	return RecognizedText{
		Text:       strings.TrimSpace(text),
		Confidence: confidence,
	}, nil
}
