package models

import "time"

// IntentKind is the closed set of query purposes the system understands.
type IntentKind string

const (
	IntentStockQuote      IntentKind = "STOCK_QUOTE"
	IntentHistoricalPrice IntentKind = "HISTORICAL_PRICE"
	IntentMarketNews      IntentKind = "MARKET_NEWS"
	IntentDocumentQA      IntentKind = "DOCUMENT_QA"
	IntentGeneral         IntentKind = "GENERAL"
)

// Query is a single natural-language question, optionally grounded in a
// previously parsed document. It lives only for the request.
type Query struct {
	Text       string `json:"query_text"`
	DocumentID string `json:"document_id,omitempty"`
}

// Entities are the structured values pulled out of the query text during
// intent classification.
type Entities struct {
	Ticker    string `json:"ticker,omitempty"`
	StartDate string `json:"start_date,omitempty"`
	EndDate   string `json:"end_date,omitempty"`
}

// Intent is the classified purpose of a query.
type Intent struct {
	Kind       IntentKind `json:"kind"`
	Confidence float64    `json:"confidence"`
	Entities   Entities   `json:"entities"`
}

// AnswerStatus is the normalized outcome of answering a query. Failures are
// data, not exceptions: every query produces a well-formed Answer.
type AnswerStatus string

const (
	AnswerOK          AnswerStatus = "ok"
	AnswerPartial     AnswerStatus = "partial"
	AnswerDegraded    AnswerStatus = "degraded"
	AnswerError       AnswerStatus = "error"
	AnswerUnsupported AnswerStatus = "unsupported"
)

// Citation points at the evidence behind an answer: either a page/block of a
// parsed document, or an external data source identifier.
type Citation struct {
	Source      string `json:"source"`
	Fingerprint string `json:"fingerprint,omitempty"`
	Page        int    `json:"page,omitempty"`
	Block       int    `json:"block,omitempty"`
}

// Answer is the assembled response to a query. Invariant: it carries at
// least one citation unless its status is unsupported or error.
type Answer struct {
	Text      string        `json:"answer_text"`
	Citations []Citation    `json:"citations"`
	Intent    IntentKind    `json:"intent"`
	Status    AnswerStatus  `json:"status"`
	ErrorKind string        `json:"error_kind,omitempty"`
	Latency   time.Duration `json:"-"`
}

// Supported reports whether the answer satisfies the grounding invariant.
func (a Answer) Supported() bool {
	return len(a.Citations) > 0
}
