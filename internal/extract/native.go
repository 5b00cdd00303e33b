// Package extract contains the page-level extractors: native text/layout
// recovery for digitally-born PDFs and OCR fallback for scanned pages and
// images.
package extract

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finsight/internal/models"

	"github.com/pdfcpu/pdfcpu/pkg/api"
	pdfmodel "github.com/pdfcpu/pdfcpu/pkg/pdfcpu/model"
)

// NativeConfig tunes the native text/layout extractor.
type NativeConfig struct {
	Pdftotext string // binary name or absolute path; if empty -> "pdftotext"
}

// NativeExtractor recovers text and layout from digitally-born PDF pages via
// pdftotext's layout mode. It is deterministic for identical input bytes.
type NativeExtractor struct {
	cfg    NativeConfig
	runner Runner
	logger *slog.Logger
}

// NewNativeExtractor creates a native extractor with the default exec runner.
func NewNativeExtractor(cfg NativeConfig, logger *slog.Logger) *NativeExtractor {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftotext == "" {
		cfg.Pdftotext = "pdftotext"
	}
	return &NativeExtractor{cfg: cfg, runner: execRunner{}, logger: logger}
}

// Validate checks that the file at path is a readable PDF.
func (e *NativeExtractor) Validate(path string) error {
	cfg := pdfmodel.NewDefaultConfiguration()
	cfg.ValidationMode = pdfmodel.ValidationRelaxed
	return api.ValidateFile(path, cfg)
}

// PageCount returns the number of pages in the PDF at path.
func (e *NativeExtractor) PageCount(path string) (int, error) {
	return api.PageCountFile(path)
}

// ExtractPage extracts the native text and layout of one page (0-indexed).
// It returns nil when the page carries no extractable native text, which
// signals the caller to route the page to OCR. Failure to find tables is not
// an error; the page just has an empty table list.
func (e *NativeExtractor) ExtractPage(ctx context.Context, path string, pageIndex int) (*models.ExtractedPage, error) {
	pageNum := fmt.Sprintf("%d", pageIndex+1)
	// pdftotext -f N -l N -layout -enc UTF-8 -eol unix <path> -
	out, errb, err := e.runner.Run(ctx, e.cfg.Pdftotext,
		"-f", pageNum, "-l", pageNum, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
	if err != nil {
		return nil, fmt.Errorf("pdftotext page %d: %s: %w", pageIndex, truncate(string(errb), 512), err)
	}

	text := strings.Trim(string(out), "\f\n ")
	if strings.TrimSpace(text) == "" {
		// Pure image page: nothing native to extract.
		return nil, nil
	}

	page := &models.ExtractedPage{
		Index:      pageIndex,
		Method:     models.MethodNative,
		Confidence: 1.0,
		Blocks:     SegmentBlocks(text),
		Tables:     DetectTables(text),
	}
	return page, nil
}
