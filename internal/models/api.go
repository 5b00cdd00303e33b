package models

// API request/response payloads for the parse and query services.

// PageSummary is the per-page extraction report returned by the parse API.
type PageSummary struct {
	Index      int              `json:"index"`
	Method     ExtractionMethod `json:"method"`
	Confidence float64          `json:"confidence"`
}

// ParseResponse reports the outcome of a document upload.
type ParseResponse struct {
	Fingerprint string         `json:"fingerprint"`
	Status      DocumentStatus `json:"status"`
	Format      DocumentFormat `json:"format"`
	PageCount   int            `json:"page_count"`
	Pages       []PageSummary  `json:"pages"`
	Warnings    []string       `json:"warnings,omitempty"`
}

// ParseResponseFor builds the upload report for a parsed document.
func ParseResponseFor(doc *Document) *ParseResponse {
	resp := &ParseResponse{
		Fingerprint: doc.Fingerprint,
		Status:      doc.Status,
		Format:      doc.Format,
		PageCount:   doc.PageCount,
		Warnings:    doc.Warnings,
		Pages:       make([]PageSummary, 0, len(doc.Pages)),
	}
	for _, p := range doc.Pages {
		resp.Pages = append(resp.Pages, PageSummary{
			Index: p.Index, Method: p.Method, Confidence: p.Confidence,
		})
	}
	return resp
}

// JobResponse acknowledges an asynchronous parse submission.
type JobResponse struct {
	JobID string `json:"job_id"`
}

// QueryResponse is the assembled answer returned by the query API.
type QueryResponse struct {
	Answer    string       `json:"answer_text"`
	Citations []Citation   `json:"citations"`
	Intent    IntentKind   `json:"intent"`
	Status    AnswerStatus `json:"status"`
	ErrorKind string       `json:"error_kind,omitempty"`
	LatencyMS int64        `json:"latency_ms"`
}

// HealthResponse reports service liveness.
type HealthResponse struct {
	Status string `json:"status"`
}
