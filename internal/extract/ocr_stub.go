//go:build !ocr

// This is the stub OCR implementation used when the "ocr" build tag is not
// set. NewOCREngine returns ErrOCRNotEnabled and the parsing pipeline
// degrades scanned pages to partial results.
//
// To enable OCR, rebuild with the "ocr" build tag:
//
//	go build -tags ocr
//
// This requires Tesseract to be installed. On Ubuntu/Debian:
//
//	apt-get install tesseract-ocr libtesseract-dev
package extract

import "context"

// OCREngine is a stub that fails all recognition calls.
type OCREngine struct{}

// NewOCREngine returns ErrOCRNotEnabled. Rebuild with -tags ocr to enable
// OCR support.
func NewOCREngine(lang string) (*OCREngine, error) {
	return nil, ErrOCRNotEnabled
}

// Recognize always returns ErrOCRNotEnabled.
func (e *OCREngine) Recognize(ctx context.Context, imageData []byte) (RecognizedText, error) {
	return RecognizedText{}, ErrOCRNotEnabled
}
