// Package models defines the shared data types for parsed documents,
// queries, intents and answers.
package models

import "time"

// DocumentFormat identifies how the source bytes were produced.
type DocumentFormat string

const (
	FormatNativePDF  DocumentFormat = "native-pdf"
	FormatScannedPDF DocumentFormat = "scanned-pdf"
	FormatImage      DocumentFormat = "image"
)

// ExtractionMethod records which extractor produced a page.
type ExtractionMethod string

const (
	MethodNative ExtractionMethod = "native"
	MethodOCR    ExtractionMethod = "ocr"
)

// DocumentStatus marks whether every page was fully extracted.
type DocumentStatus string

const (
	DocumentComplete DocumentStatus = "complete"
	DocumentPartial  DocumentStatus = "partial"
)

// Document is the extracted representation of one ingested file, keyed by
// the content fingerprint of its raw bytes. Re-ingesting identical bytes
// always resolves to the same Document.
type Document struct {
	Fingerprint string          `json:"fingerprint"`
	Format      DocumentFormat  `json:"format"`
	PageCount   int             `json:"page_count"`
	Pages       []ExtractedPage `json:"pages"`
	Status      DocumentStatus  `json:"status"`
	ExtractedAt time.Time       `json:"extracted_at"`
	Warnings    []string        `json:"warnings,omitempty"`
}

// ExtractedPage holds the recovered content of a single page. Page indices
// are contiguous starting at 0 and cover the document exactly once.
type ExtractedPage struct {
	Index      int              `json:"index"`
	Method     ExtractionMethod `json:"method"`
	Confidence float64          `json:"confidence"`
	Blocks     []TextBlock      `json:"blocks"`
	Tables     []Table          `json:"tables,omitempty"`
}

// TextBlock is one unit of text in reading order on a page.
type TextBlock struct {
	Index int    `json:"index"`
	Text  string `json:"text"`
}

// Table is a recovered grid of cells.
type Table struct {
	Rows [][]string `json:"rows"`
}

// Text concatenates the page's blocks in reading order.
func (p ExtractedPage) Text() string {
	var s string
	for i, b := range p.Blocks {
		if i > 0 {
			s += "\n"
		}
		s += b.Text
	}
	return s
}
