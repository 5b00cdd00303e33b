package extract

import (
	"context"
	"errors"
)

// ErrOCRNotEnabled is returned when OCR is requested but support was not
// compiled in. Rebuild with -tags ocr to enable it.
var ErrOCRNotEnabled = errors.New("OCR support not enabled; rebuild with -tags ocr")

// RecognizedText is the output of one OCR pass over a page image.
type RecognizedText struct {
	Text       string
	Confidence float64
}

// Recognizer is the OCR contract consumed by the parsing orchestrator.
type Recognizer interface {
	Recognize(ctx context.Context, imageData []byte) (RecognizedText, error)
}

// Rasterizer renders a single PDF page to PNG for recognition.
type Rasterizer interface {
	RenderPage(ctx context.Context, path string, pageIndex int) ([]byte, error)
}
