package parse

import (
	"bytes"
	"context"
	"errors"
	"image"
	"image/png"
	"strings"
	"sync"
	"sync/atomic"
	"testing"

	"finsight/internal/extract"
	"finsight/internal/fault"
	"finsight/internal/models"
	"finsight/internal/store"
)

// Mock implementations for testing

type MockExtractor struct {
	pageTexts    []string // one entry per page; "" means no native text
	validateErr  error
	extractCalls int32
}

func (m *MockExtractor) Validate(path string) error {
	return m.validateErr
}

func (m *MockExtractor) PageCount(path string) (int, error) {
	return len(m.pageTexts), nil
}

func (m *MockExtractor) ExtractPage(ctx context.Context, path string, pageIndex int) (*models.ExtractedPage, error) {
	atomic.AddInt32(&m.extractCalls, 1)
	text := m.pageTexts[pageIndex]
	if text == "" {
		return nil, nil
	}
	return &models.ExtractedPage{
		Index:      pageIndex,
		Method:     models.MethodNative,
		Confidence: 1.0,
		Blocks:     extract.SegmentBlocks(text),
	}, nil
}

type MockRasterizer struct {
	err error
}

func (m *MockRasterizer) RenderPage(ctx context.Context, path string, pageIndex int) ([]byte, error) {
	if m.err != nil {
		return nil, m.err
	}
	return []byte("fake-png"), nil
}

type MockRecognizer struct {
	text       string
	confidence float64
	failures   int32 // number of calls that fail before success
	err        error
	calls      int32
}

func (m *MockRecognizer) Recognize(ctx context.Context, imageData []byte) (extract.RecognizedText, error) {
	n := atomic.AddInt32(&m.calls, 1)
	if m.err != nil {
		return extract.RecognizedText{}, m.err
	}
	if n <= m.failures {
		return extract.RecognizedText{}, errors.New("mock ocr failure")
	}
	return extract.RecognizedText{Text: m.text, Confidence: m.confidence}, nil
}

type MockStore struct {
	mu       sync.Mutex
	docs     map[string]*models.Document
	putCalls int
	indexed  map[string][]store.BlockEmbedding
}

func NewMockStore() *MockStore {
	return &MockStore{
		docs:    make(map[string]*models.Document),
		indexed: make(map[string][]store.BlockEmbedding),
	}
}

func (m *MockStore) Get(fingerprint string) (*models.Document, bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	doc, ok := m.docs[fingerprint]
	return doc, ok, nil
}

func (m *MockStore) Put(doc *models.Document) (bool, error) {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.putCalls++
	if _, exists := m.docs[doc.Fingerprint]; exists {
		return false, nil
	}
	m.docs[doc.Fingerprint] = doc
	return true, nil
}

func (m *MockStore) IndexBlocks(fingerprint string, embeddings []store.BlockEmbedding) error {
	m.mu.Lock()
	defer m.mu.Unlock()
	m.indexed[fingerprint] = embeddings
	return nil
}

func (m *MockStore) SearchBlocks(fingerprint string, embedding []float32, topK int) ([]store.BlockHit, error) {
	return nil, nil
}

func (m *MockStore) SearchBlocksLexical(fingerprint, query string, topK int) ([]store.BlockHit, error) {
	return nil, nil
}

func (m *MockStore) Close() error { return nil }

const denseText = "Total revenue for the fiscal year was 4.2 billion dollars, an increase of twelve percent."

func pdfBytes(marker string) []byte {
	return []byte("%PDF-1.7\n" + marker)
}

func testConfig() Config {
	return Config{
		DensityFloor:    20,
		ConfidenceFloor: 0.55,
		OCRWorkers:      2,
		OCRRetries:      2,
	}
}

func TestFingerprintIsDeterministic(t *testing.T) {
	a := Fingerprint([]byte("same bytes"))
	b := Fingerprint([]byte("same bytes"))
	if a != b {
		t.Errorf("Expected identical fingerprints, got %s and %s", a, b)
	}
	if len(a) != 64 {
		t.Errorf("Expected 64 hex characters, got %d", len(a))
	}
	if c := Fingerprint([]byte("other bytes")); c == a {
		t.Error("Expected different bytes to produce a different fingerprint")
	}
}

func TestParseEmptyInput(t *testing.T) {
	o := New(testConfig(), &MockExtractor{}, nil, nil, NewMockStore(), nil, nil)

	_, err := o.Parse(context.Background(), nil)
	if !fault.IsKind(err, fault.KindUnparsableDocument) {
		t.Errorf("Expected UnparsableDocument, got %v", err)
	}
}

func TestParseUnsupportedInput(t *testing.T) {
	o := New(testConfig(), &MockExtractor{}, nil, nil, NewMockStore(), nil, nil)

	_, err := o.Parse(context.Background(), []byte("plain text, not a document"))
	if !fault.IsKind(err, fault.KindUnparsableDocument) {
		t.Errorf("Expected UnparsableDocument, got %v", err)
	}
}

func TestParseCorruptPDF(t *testing.T) {
	extractor := &MockExtractor{validateErr: errors.New("xref table broken")}
	o := New(testConfig(), extractor, nil, nil, NewMockStore(), nil, nil)

	_, err := o.Parse(context.Background(), pdfBytes("corrupt"))
	if !fault.IsKind(err, fault.KindUnparsableDocument) {
		t.Errorf("Expected UnparsableDocument, got %v", err)
	}
}

func TestParseNativePDF(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText, denseText, denseText}}
	docs := NewMockStore()
	o := New(testConfig(), extractor, nil, nil, docs, nil, nil)

	data := pdfBytes("native")
	doc, err := o.Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Status != models.DocumentComplete {
		t.Errorf("Expected complete status, got %s", doc.Status)
	}
	if doc.Format != models.FormatNativePDF {
		t.Errorf("Expected native-pdf format, got %s", doc.Format)
	}
	if doc.PageCount != 3 || len(doc.Pages) != 3 {
		t.Fatalf("Expected 3 pages, got count=%d pages=%d", doc.PageCount, len(doc.Pages))
	}
	for i, page := range doc.Pages {
		if page.Index != i {
			t.Errorf("Expected page index %d, got %d", i, page.Index)
		}
		if page.Method != models.MethodNative {
			t.Errorf("Expected native method on page %d, got %s", i, page.Method)
		}
	}
	if doc.Fingerprint != Fingerprint(data) {
		t.Errorf("Expected fingerprint of the input bytes, got %s", doc.Fingerprint)
	}
	if docs.putCalls != 1 {
		t.Errorf("Expected complete document to be stored once, got %d puts", docs.putCalls)
	}
}

func TestParseCacheHit(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText}}
	docs := NewMockStore()
	o := New(testConfig(), extractor, nil, nil, docs, nil, nil)

	data := pdfBytes("cached")
	cached := &models.Document{
		Fingerprint: Fingerprint(data),
		Status:      models.DocumentComplete,
		PageCount:   1,
	}
	docs.docs[cached.Fingerprint] = cached

	doc, err := o.Parse(context.Background(), data)
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Fingerprint != cached.Fingerprint {
		t.Errorf("Expected the cached document, got %s", doc.Fingerprint)
	}
	if calls := atomic.LoadInt32(&extractor.extractCalls); calls != 0 {
		t.Errorf("Expected no extraction on cache hit, got %d calls", calls)
	}
}

func TestParseSparsePageRoutedToOCR(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText, "", denseText}}
	recognizer := &MockRecognizer{text: "recognized scanned text", confidence: 0.9}
	docs := NewMockStore()
	o := New(testConfig(), extractor, &MockRasterizer{}, recognizer, docs, nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("mixed"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}

	if doc.Status != models.DocumentComplete {
		t.Errorf("Expected complete status, got %s (warnings: %v)", doc.Status, doc.Warnings)
	}
	if doc.Format != models.FormatNativePDF {
		t.Errorf("Expected native-pdf format for a mixed document, got %s", doc.Format)
	}
	if doc.Pages[1].Method != models.MethodOCR {
		t.Errorf("Expected ocr method on the sparse page, got %s", doc.Pages[1].Method)
	}
	if doc.Pages[1].Confidence != 0.9 {
		t.Errorf("Expected ocr confidence 0.9, got %f", doc.Pages[1].Confidence)
	}
	if doc.Pages[0].Method != models.MethodNative || doc.Pages[2].Method != models.MethodNative {
		t.Error("Expected dense pages to stay native")
	}
}

func TestParseScannedPDF(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{"", ""}}
	recognizer := &MockRecognizer{text: "scanned page content", confidence: 0.8}
	o := New(testConfig(), extractor, &MockRasterizer{}, recognizer, NewMockStore(), nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("scanned"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Format != models.FormatScannedPDF {
		t.Errorf("Expected scanned-pdf format, got %s", doc.Format)
	}
	for i, page := range doc.Pages {
		if page.Method != models.MethodOCR {
			t.Errorf("Expected ocr method on page %d, got %s", i, page.Method)
		}
	}
}

func TestParseOCRUnavailable(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText, ""}}
	docs := NewMockStore()
	o := New(testConfig(), extractor, nil, nil, docs, nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("no-ocr"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Status != models.DocumentPartial {
		t.Errorf("Expected partial status without OCR, got %s", doc.Status)
	}
	if len(doc.Warnings) == 0 {
		t.Error("Expected a warning about the unavailable OCR engine")
	}
	if len(doc.Pages) != 2 {
		t.Fatalf("Expected page slots for every page, got %d", len(doc.Pages))
	}
	if docs.putCalls != 0 {
		t.Error("Expected partial document not to be cached")
	}

	// A second attempt re-extracts instead of serving the partial result.
	if _, err := o.Parse(context.Background(), pdfBytes("no-ocr")); err != nil {
		t.Fatalf("Second parse failed: %v", err)
	}
	if calls := atomic.LoadInt32(&extractor.extractCalls); calls != 4 {
		t.Errorf("Expected re-extraction of both pages, got %d total calls", calls)
	}
}

func TestParseLowConfidenceWarning(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{""}}
	recognizer := &MockRecognizer{text: "barely legible scan", confidence: 0.3}
	o := New(testConfig(), extractor, &MockRasterizer{}, recognizer, NewMockStore(), nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("blurry"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Status != models.DocumentComplete {
		t.Errorf("Expected low-confidence content to be kept, got status %s", doc.Status)
	}
	found := false
	for _, w := range doc.Warnings {
		if strings.Contains(w, "confidence") {
			found = true
		}
	}
	if !found {
		t.Errorf("Expected a confidence warning, got %v", doc.Warnings)
	}
}

func TestParseOCRRetriesTransientFailure(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{""}}
	recognizer := &MockRecognizer{text: "recovered after retry", confidence: 0.7, failures: 1}
	o := New(testConfig(), extractor, &MockRasterizer{}, recognizer, NewMockStore(), nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("flaky"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Status != models.DocumentComplete {
		t.Errorf("Expected retry to recover the page, got status %s (warnings: %v)", doc.Status, doc.Warnings)
	}
	if got := doc.Pages[0].Text(); got != "recovered after retry" {
		t.Errorf("Expected recognized text, got %q", got)
	}
}

func TestParseOCRExhaustedRetries(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText, ""}}
	recognizer := &MockRecognizer{err: errors.New("engine down")}
	docs := NewMockStore()
	o := New(testConfig(), extractor, &MockRasterizer{}, recognizer, docs, nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("down"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Status != models.DocumentPartial {
		t.Errorf("Expected partial status after OCR failure, got %s", doc.Status)
	}
	if doc.Pages[0].Method != models.MethodNative {
		t.Error("Expected the native page to survive the OCR failure")
	}
	if docs.putCalls != 0 {
		t.Error("Expected partial document not to be cached")
	}
}

func TestParseMaxPagesTruncation(t *testing.T) {
	cfg := testConfig()
	cfg.MaxPages = 2
	extractor := &MockExtractor{pageTexts: []string{denseText, denseText, denseText, denseText}}
	o := New(cfg, extractor, nil, nil, NewMockStore(), nil, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("long"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.PageCount != 2 || len(doc.Pages) != 2 {
		t.Errorf("Expected truncation to 2 pages, got count=%d pages=%d", doc.PageCount, len(doc.Pages))
	}
	if doc.Status != models.DocumentPartial {
		t.Errorf("Expected truncated document to be partial, got %s", doc.Status)
	}
	if len(doc.Warnings) == 0 {
		t.Error("Expected a truncation warning")
	}
}

func TestConcurrentParseSharesExtraction(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText, denseText}}
	docs := NewMockStore()
	o := New(testConfig(), extractor, nil, nil, docs, nil, nil)

	data := pdfBytes("concurrent")
	var wg sync.WaitGroup
	results := make([]*models.Document, 8)
	for i := 0; i < 8; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			doc, err := o.Parse(context.Background(), data)
			if err != nil {
				t.Errorf("Concurrent parse failed: %v", err)
				return
			}
			results[i] = doc
		}(i)
	}
	wg.Wait()

	if calls := atomic.LoadInt32(&extractor.extractCalls); calls != 2 {
		t.Errorf("Expected one shared extraction (2 page calls), got %d", calls)
	}
	fp := Fingerprint(data)
	for i, doc := range results {
		if doc == nil || doc.Fingerprint != fp {
			t.Errorf("Caller %d got an unexpected document: %+v", i, doc)
		}
	}
}

func TestParseImage(t *testing.T) {
	recognizer := &MockRecognizer{text: "Receipt total: 42.00", confidence: 0.85}
	o := New(testConfig(), &MockExtractor{}, nil, recognizer, NewMockStore(), nil, nil)

	doc, err := o.Parse(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Format != models.FormatImage {
		t.Errorf("Expected image format, got %s", doc.Format)
	}
	if doc.PageCount != 1 || len(doc.Pages) != 1 {
		t.Fatalf("Expected a single page, got count=%d pages=%d", doc.PageCount, len(doc.Pages))
	}
	if got := doc.Pages[0].Text(); got != "Receipt total: 42.00" {
		t.Errorf("Expected recognized text, got %q", got)
	}
}

func TestParseImageWithoutOCR(t *testing.T) {
	o := New(testConfig(), &MockExtractor{}, nil, nil, NewMockStore(), nil, nil)

	doc, err := o.Parse(context.Background(), testPNG(t))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if doc.Status != models.DocumentPartial {
		t.Errorf("Expected partial status without OCR, got %s", doc.Status)
	}
}

type mockEmbedder struct {
	calls int32
}

func (m *mockEmbedder) Embed(ctx context.Context, text string) ([]float32, error) {
	atomic.AddInt32(&m.calls, 1)
	return []float32{0.1, 0.2, 0.3}, nil
}

func TestParseIndexesBlocks(t *testing.T) {
	extractor := &MockExtractor{pageTexts: []string{denseText}}
	docs := NewMockStore()
	embedder := &mockEmbedder{}
	o := New(testConfig(), extractor, nil, nil, docs, embedder, nil)

	doc, err := o.Parse(context.Background(), pdfBytes("indexed"))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if len(docs.indexed[doc.Fingerprint]) == 0 {
		t.Error("Expected blocks to be indexed for the complete document")
	}
	if atomic.LoadInt32(&embedder.calls) == 0 {
		t.Error("Expected the embedder to be called")
	}
}

// testPNG returns a tiny encoded PNG.
func testPNG(t *testing.T) []byte {
	t.Helper()
	var buf bytes.Buffer
	if err := png.Encode(&buf, image.NewRGBA(image.Rect(0, 0, 2, 2))); err != nil {
		t.Fatalf("Failed to encode test image: %v", err)
	}
	return buf.Bytes()
}
