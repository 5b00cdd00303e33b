// Package parse implements the parsing orchestrator: fingerprinting,
// cache lookup, per-page native extraction with OCR fallback, merging and
// persistence.
package parse

import (
	"bytes"
	"context"
	"crypto/sha256"
	"encoding/hex"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"finsight/internal/extract"
	"finsight/internal/fault"
	"finsight/internal/models"
	"finsight/internal/store"

	"golang.org/x/sync/errgroup"
	"golang.org/x/sync/singleflight"
)

var pdfMagic = []byte("%PDF-")

// Fingerprint returns the deterministic content hash used as a document's
// cache key.
func Fingerprint(data []byte) string {
	sum := sha256.Sum256(data)
	return hex.EncodeToString(sum[:])
}

// PageExtractor is the native text/layout extraction contract.
type PageExtractor interface {
	Validate(path string) error
	PageCount(path string) (int, error)
	// ExtractPage returns nil when the page carries no native text.
	ExtractPage(ctx context.Context, path string, pageIndex int) (*models.ExtractedPage, error)
}

// Embedder produces embeddings for block indexing. Optional.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Config tunes the orchestrator.
type Config struct {
	// DensityFloor is the minimum native character count per page; below it
	// the page is routed to OCR.
	DensityFloor int
	// ConfidenceFloor marks OCR pages below it with a warning. Content is
	// kept either way.
	ConfidenceFloor float64
	// OCRWorkers bounds concurrent OCR jobs.
	OCRWorkers int
	// OCRRetries bounds backoff retries against a failing OCR engine.
	OCRRetries int
	// MaxPages caps pages per document; 0 means no limit.
	MaxPages int
}

// Orchestrator coordinates extraction and guarantees at-most-once
// processing per fingerprint.
type Orchestrator struct {
	cfg      Config
	native   PageExtractor
	raster   extract.Rasterizer
	ocr      extract.Recognizer
	docs     store.DocumentStore
	embedder Embedder
	logger   *slog.Logger

	flight singleflight.Group
}

// New creates a parsing orchestrator. raster, ocr and embedder may be nil;
// the pipeline then degrades scanned pages to partial results.
func New(cfg Config, native PageExtractor, raster extract.Rasterizer, ocr extract.Recognizer, docs store.DocumentStore, embedder Embedder, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	if cfg.OCRWorkers < 1 {
		cfg.OCRWorkers = 1
	}
	return &Orchestrator{
		cfg:      cfg,
		native:   native,
		raster:   raster,
		ocr:      ocr,
		docs:     docs,
		embedder: embedder,
		logger:   logger,
	}
}

// Parse extracts the document carried by data, or returns the cached result
// for its fingerprint. Concurrent calls for the same new fingerprint share a
// single extraction.
func (o *Orchestrator) Parse(ctx context.Context, data []byte) (*models.Document, error) {
	if len(data) == 0 {
		return nil, fault.New(fault.KindUnparsableDocument, "empty document")
	}
	fp := Fingerprint(data)

	if doc, ok, err := o.docs.Get(fp); err != nil {
		return nil, fmt.Errorf("document store get: %w", err)
	} else if ok {
		o.logger.Debug("cache hit", "fingerprint", fp)
		return doc, nil
	}

	v, err, _ := o.flight.Do(fp, func() (interface{}, error) {
		// A concurrent winner may have stored the document between our
		// lookup and joining the flight.
		if doc, ok, err := o.docs.Get(fp); err == nil && ok {
			return doc, nil
		}

		doc, err := o.extractDocument(ctx, fp, data)
		if err != nil {
			return nil, err
		}

		// Partial documents are returned but not cached, so a later attempt
		// (say, with the OCR engine back up) can re-extract.
		if doc.Status == models.DocumentComplete {
			if _, err := o.docs.Put(doc); err != nil {
				return nil, fmt.Errorf("document store put: %w", err)
			}
			o.indexBlocks(ctx, doc)
		}
		return doc, nil
	})
	if err != nil {
		return nil, err
	}
	return v.(*models.Document), nil
}

func (o *Orchestrator) extractDocument(ctx context.Context, fp string, data []byte) (*models.Document, error) {
	start := time.Now()
	switch {
	case bytes.HasPrefix(data, pdfMagic):
		doc, err := o.extractPDF(ctx, fp, data)
		if err != nil {
			return nil, err
		}
		o.logger.Info("extracted document",
			"fingerprint", fp, "format", doc.Format, "pages", doc.PageCount,
			"status", doc.Status, "duration_ms", time.Since(start).Milliseconds())
		return doc, nil
	default:
		if _, ok := extract.SniffImage(data); ok {
			doc, err := o.extractImage(ctx, fp, data)
			if err != nil {
				return nil, err
			}
			o.logger.Info("extracted document",
				"fingerprint", fp, "format", doc.Format, "pages", doc.PageCount,
				"status", doc.Status, "duration_ms", time.Since(start).Milliseconds())
			return doc, nil
		}
		return nil, fault.New(fault.KindUnparsableDocument, "unsupported input: not a PDF or image")
	}
}

func (o *Orchestrator) extractPDF(ctx context.Context, fp string, data []byte) (*models.Document, error) {
	path, cleanup, err := writeTemp(data)
	if err != nil {
		return nil, err
	}
	defer cleanup()

	if err := o.native.Validate(path); err != nil {
		return nil, fault.Wrap(fault.KindUnparsableDocument, "corrupt PDF", err)
	}
	pageCount, err := o.native.PageCount(path)
	if err != nil {
		return nil, fault.Wrap(fault.KindUnparsableDocument, "failed to count pages", err)
	}
	if pageCount < 1 {
		return nil, fault.New(fault.KindUnparsableDocument, "PDF has no pages")
	}

	doc := &models.Document{
		Fingerprint: fp,
		PageCount:   pageCount,
		Status:      models.DocumentComplete,
		ExtractedAt: time.Now().UTC(),
	}
	if o.cfg.MaxPages > 0 && pageCount > o.cfg.MaxPages {
		doc.PageCount = o.cfg.MaxPages
		doc.Warnings = append(doc.Warnings,
			fmt.Sprintf("document truncated to %d of %d pages", o.cfg.MaxPages, pageCount))
		doc.Status = models.DocumentPartial
	}

	pages := make([]models.ExtractedPage, doc.PageCount)
	var ocrPages []int

	// Native extraction is cheap; run it first for every page and mark the
	// sparse ones for OCR instead of failing the document.
	for i := 0; i < doc.PageCount; i++ {
		page, err := o.native.ExtractPage(ctx, path, i)
		if err != nil {
			o.logger.Warn("native extraction failed, routing to ocr",
				"fingerprint", fp, "page", i, "error", err)
			ocrPages = append(ocrPages, i)
			continue
		}
		if page == nil || len(page.Text()) < o.cfg.DensityFloor {
			ocrPages = append(ocrPages, i)
			continue
		}
		pages[i] = *page
	}

	if len(ocrPages) > 0 {
		o.runOCR(ctx, fp, path, ocrPages, pages, doc)
	}

	doc.Pages = pages
	if len(ocrPages) == doc.PageCount {
		doc.Format = models.FormatScannedPDF
	} else {
		doc.Format = models.FormatNativePDF
	}
	return doc, nil
}

// runOCR recognizes the marked pages under a bounded worker pool, writing
// results into their slots so page order is preserved.
func (o *Orchestrator) runOCR(ctx context.Context, fp, path string, ocrPages []int, pages []models.ExtractedPage, doc *models.Document) {
	if o.raster == nil || o.ocr == nil {
		o.degradeOCRPages(ocrPages, pages, doc, "OCR engine not available")
		return
	}

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(o.cfg.OCRWorkers)

	warnings := make([]string, len(pages))
	for _, idx := range ocrPages {
		g.Go(func() error {
			img, err := o.raster.RenderPage(gctx, path, idx)
			if err != nil {
				pages[idx] = emptyOCRPage(idx)
				warnings[idx] = fmt.Sprintf("page %d: rasterization failed: %v", idx, err)
				return nil
			}
			rec, err := o.recognizeWithRetry(gctx, img)
			if err != nil {
				pages[idx] = emptyOCRPage(idx)
				warnings[idx] = fmt.Sprintf("page %d: ocr failed: %v", idx, err)
				return nil
			}
			pages[idx] = models.ExtractedPage{
				Index:      idx,
				Method:     models.MethodOCR,
				Confidence: rec.Confidence,
				Blocks:     extract.SegmentBlocks(rec.Text),
			}
			if rec.Confidence < o.cfg.ConfidenceFloor {
				warnings[idx] = fmt.Sprintf("page %d: ocr confidence %.2f below floor %.2f",
					idx, rec.Confidence, o.cfg.ConfidenceFloor)
			}
			return nil
		})
	}
	_ = g.Wait()

	for _, w := range warnings {
		if w == "" {
			continue
		}
		doc.Warnings = append(doc.Warnings, w)
	}
	for _, idx := range ocrPages {
		if len(pages[idx].Blocks) == 0 && pages[idx].Confidence == 0 {
			doc.Status = models.DocumentPartial
		}
	}
}

// recognizeWithRetry retries transient OCR failures with exponential
// backoff. A missing engine is not transient and fails immediately.
func (o *Orchestrator) recognizeWithRetry(ctx context.Context, img []byte) (extract.RecognizedText, error) {
	var lastErr error
	backoff := 100 * time.Millisecond
	for attempt := 0; attempt <= o.cfg.OCRRetries; attempt++ {
		rec, err := o.ocr.Recognize(ctx, img)
		if err == nil {
			return rec, nil
		}
		lastErr = err
		if errors.Is(err, extract.ErrOCRNotEnabled) || ctx.Err() != nil {
			break
		}
		select {
		case <-ctx.Done():
			return extract.RecognizedText{}, fault.Wrap(fault.KindTimeout, "ocr cancelled", ctx.Err())
		case <-time.After(backoff):
		}
		backoff *= 2
	}
	return extract.RecognizedText{}, fault.Wrap(fault.KindExtractionUnavailable, "ocr engine failed", lastErr)
}

func (o *Orchestrator) degradeOCRPages(ocrPages []int, pages []models.ExtractedPage, doc *models.Document, reason string) {
	for _, idx := range ocrPages {
		pages[idx] = emptyOCRPage(idx)
	}
	doc.Status = models.DocumentPartial
	doc.Warnings = append(doc.Warnings,
		fmt.Sprintf("%s; %d page(s) returned without content", reason, len(ocrPages)))
}

func emptyOCRPage(idx int) models.ExtractedPage {
	return models.ExtractedPage{Index: idx, Method: models.MethodOCR, Confidence: 0, Blocks: nil}
}

func (o *Orchestrator) extractImage(ctx context.Context, fp string, data []byte) (*models.Document, error) {
	doc := &models.Document{
		Fingerprint: fp,
		Format:      models.FormatImage,
		PageCount:   1,
		Status:      models.DocumentComplete,
		ExtractedAt: time.Now().UTC(),
	}

	if o.ocr == nil {
		doc.Pages = []models.ExtractedPage{emptyOCRPage(0)}
		doc.Status = models.DocumentPartial
		doc.Warnings = append(doc.Warnings, "OCR engine not available; image returned without content")
		return doc, nil
	}

	png, err := extract.NormalizePNG(data)
	if err != nil {
		return nil, fault.Wrap(fault.KindUnparsableDocument, "unreadable image", err)
	}
	rec, err := o.recognizeWithRetry(ctx, png)
	if err != nil {
		doc.Pages = []models.ExtractedPage{emptyOCRPage(0)}
		doc.Status = models.DocumentPartial
		doc.Warnings = append(doc.Warnings, fmt.Sprintf("ocr failed: %v", err))
		return doc, nil
	}

	page := models.ExtractedPage{
		Index:      0,
		Method:     models.MethodOCR,
		Confidence: rec.Confidence,
		Blocks:     extract.SegmentBlocks(rec.Text),
	}
	if rec.Confidence < o.cfg.ConfidenceFloor {
		doc.Warnings = append(doc.Warnings,
			fmt.Sprintf("ocr confidence %.2f below floor %.2f", rec.Confidence, o.cfg.ConfidenceFloor))
	}
	doc.Pages = []models.ExtractedPage{page}
	return doc, nil
}

// indexBlocks embeds and indexes the document's blocks for retrieval.
// Best-effort: failures are logged, never surfaced to the parse caller.
func (o *Orchestrator) indexBlocks(ctx context.Context, doc *models.Document) {
	if o.embedder == nil {
		return
	}
	var embeddings []store.BlockEmbedding
	for _, page := range doc.Pages {
		for _, block := range page.Blocks {
			vec, err := o.embedder.Embed(ctx, block.Text)
			if err != nil {
				o.logger.Warn("block embedding failed", "fingerprint", doc.Fingerprint,
					"page", page.Index, "block", block.Index, "error", err)
				return
			}
			embeddings = append(embeddings, store.BlockEmbedding{
				Page: page.Index, Block: block.Index, Embedding: vec,
			})
		}
	}
	if err := o.docs.IndexBlocks(doc.Fingerprint, embeddings); err != nil {
		o.logger.Warn("block indexing failed", "fingerprint", doc.Fingerprint, "error", err)
	}
}

func writeTemp(data []byte) (string, func(), error) {
	dir, err := os.MkdirTemp("", "finsight-doc-*")
	if err != nil {
		return "", nil, err
	}
	path := filepath.Join(dir, "input.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		_ = os.RemoveAll(dir)
		return "", nil, err
	}
	return path, func() { _ = os.RemoveAll(dir) }, nil
}
