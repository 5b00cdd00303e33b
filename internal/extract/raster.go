package extract

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"sort"
)

// RasterConfig tunes page rasterization for OCR.
type RasterConfig struct {
	Pdftoppm string // binary name or absolute path; if empty -> "pdftoppm"
	DPI      int    // rasterization DPI, default 300
}

// PDFRasterizer renders single PDF pages to PNG for the OCR engine.
type PDFRasterizer struct {
	cfg    RasterConfig
	runner Runner
	logger *slog.Logger
}

// NewPDFRasterizer creates a rasterizer with the default exec runner.
func NewPDFRasterizer(cfg RasterConfig, logger *slog.Logger) *PDFRasterizer {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.Pdftoppm == "" {
		cfg.Pdftoppm = "pdftoppm"
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 300
	}
	return &PDFRasterizer{cfg: cfg, runner: execRunner{}, logger: logger}
}

// RenderPage rasterizes one page (0-indexed) of the PDF at path to PNG.
func (r *PDFRasterizer) RenderPage(ctx context.Context, path string, pageIndex int) ([]byte, error) {
	tmpDir, err := os.MkdirTemp("", "finsight-pp-*")
	if err != nil {
		return nil, err
	}
	defer func() {
		if err := os.RemoveAll(tmpDir); err != nil {
			r.logger.Warn("failed to remove temp dir", "path", tmpDir, "error", err)
		}
	}()

	pageNum := fmt.Sprintf("%d", pageIndex+1)
	prefix := filepath.Join(tmpDir, "page")
	// pdftoppm -f N -l N -r 300 -png <in.pdf> <tmp/page>
	_, errb, err := r.runner.Run(ctx, r.cfg.Pdftoppm,
		"-f", pageNum, "-l", pageNum, "-r", fmt.Sprintf("%d", r.cfg.DPI), "-png", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("pdftoppm page %d: %s: %w", pageIndex, truncate(string(errb), 512), err)
	}

	matches, _ := filepath.Glob(prefix + "-*.png")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("pdftoppm produced no image for page %d", pageIndex)
	}
	return os.ReadFile(matches[0])
}
