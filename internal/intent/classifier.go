// Package intent classifies natural-language financial queries into the
// closed intent set that drives handler selection.
package intent

import (
	"regexp"
	"sort"
	"strings"

	"finsight/internal/models"
)

// DefaultThreshold is the minimum rule score for a non-GENERAL intent.
const DefaultThreshold = 0.3

// rule scores one signal for one intent kind.
type rule struct {
	kind    models.IntentKind
	pattern *regexp.Regexp
	weight  float64
}

var rules = []rule{
	{models.IntentStockQuote, regexp.MustCompile(`(?i)\b(stock |share )?price\b`), 0.5},
	{models.IntentStockQuote, regexp.MustCompile(`(?i)\bquote\b`), 0.5},
	{models.IntentStockQuote, regexp.MustCompile(`(?i)\btrading at\b`), 0.6},
	{models.IntentStockQuote, regexp.MustCompile(`(?i)\bhow much is\b.*\b(stock|share)`), 0.6},
	{models.IntentStockQuote, regexp.MustCompile(`(?i)\bworth\b`), 0.3},

	{models.IntentHistoricalPrice, regexp.MustCompile(`(?i)\bhistor(y|ical)\b`), 0.6},
	{models.IntentHistoricalPrice, regexp.MustCompile(`(?i)\b(over|during|for) the (last|past)\b`), 0.5},
	{models.IntentHistoricalPrice, regexp.MustCompile(`(?i)\bsince\b|\bbetween\b.*\band\b`), 0.4},
	{models.IntentHistoricalPrice, regexp.MustCompile(`(?i)\bperforman(ce|d)\b|\btrend\b`), 0.4},

	{models.IntentMarketNews, regexp.MustCompile(`(?i)\bnews\b|\bheadlines?\b`), 0.7},
	{models.IntentMarketNews, regexp.MustCompile(`(?i)\blatest on\b|\bwhat.s happening (with|to)\b`), 0.5},

	{models.IntentDocumentQA, regexp.MustCompile(`(?i)\b(document|report|filing|statement|prospectus|10-?[kq])\b`), 0.6},
	{models.IntentDocumentQA, regexp.MustCompile(`(?i)\baccording to\b|\bin the (attached|uploaded)\b`), 0.6},
	{models.IntentDocumentQA, regexp.MustCompile(`(?i)\b(summari[sz]e|what does it say)\b`), 0.5},
}

// specificity is the fixed priority order used to break ties between
// intents scoring above the threshold. Lower index wins. Document-grounded
// questions outrank market lookups when a document context is attached.
var specificity = []models.IntentKind{
	models.IntentDocumentQA,
	models.IntentHistoricalPrice,
	models.IntentMarketNews,
	models.IntentStockQuote,
	models.IntentGeneral,
}

// Classifier maps query text to an Intent.
type Classifier struct {
	threshold float64
}

// NewClassifier creates a classifier; threshold <= 0 selects the default.
func NewClassifier(threshold float64) *Classifier {
	if threshold <= 0 {
		threshold = DefaultThreshold
	}
	return &Classifier{threshold: threshold}
}

// Classify scores every rule against the query and picks the best intent.
// Anything under the threshold falls back to GENERAL.
func (c *Classifier) Classify(q models.Query) models.Intent {
	scores := map[models.IntentKind]float64{}
	for _, r := range rules {
		if r.pattern.MatchString(q.Text) {
			scores[r.kind] += r.weight
		}
	}

	// A document context is a strong signal on its own: the caller attached
	// a fingerprint for a reason.
	if q.DocumentID != "" {
		scores[models.IntentDocumentQA] += 0.4
	} else {
		// Without a document there is nothing for DOCUMENT_QA to ground on.
		delete(scores, models.IntentDocumentQA)
	}

	// Iterating in specificity order means the more specific intent wins a
	// tie: a later kind must beat the score strictly to take over.
	kind := models.IntentGeneral
	best := 0.0
	for _, k := range rankedKinds(scores) {
		if scores[k] >= c.threshold && scores[k] > best {
			kind, best = k, scores[k]
		}
	}

	confidence := best
	if confidence > 1 {
		confidence = 1
	}
	if kind == models.IntentGeneral {
		confidence = 0
	}

	return models.Intent{
		Kind:       kind,
		Confidence: confidence,
		Entities:   extractEntities(q.Text),
	}
}

// rankedKinds returns the scored kinds in specificity order so ties resolve
// deterministically.
func rankedKinds(scores map[models.IntentKind]float64) []models.IntentKind {
	kinds := make([]models.IntentKind, 0, len(scores))
	for k := range scores {
		kinds = append(kinds, k)
	}
	sort.Slice(kinds, func(i, j int) bool { return rank(kinds[i]) < rank(kinds[j]) })
	return kinds
}

func rank(kind models.IntentKind) int {
	for i, k := range specificity {
		if k == kind {
			return i
		}
	}
	return len(specificity)
}

var (
	tickerPattern  = regexp.MustCompile(`\b[A-Z]{1,5}\b`)
	tickerOfStock  = regexp.MustCompile(`(?i)\bof\s+([A-Za-z]{1,5})\s+(stock|shares?)\b`)
	isoDatePattern = regexp.MustCompile(`\b\d{4}-\d{2}-\d{2}\b`)
	yearPattern    = regexp.MustCompile(`\b(19|20)\d{2}\b`)

	// Uppercase English words that look like tickers but never are.
	tickerStopwords = map[string]bool{
		"A": true, "I": true, "THE": true, "IS": true, "OF": true, "WHAT": true,
		"HOW": true, "AND": true, "FOR": true, "IN": true, "ON": true, "TO": true,
		"STOCK": true, "PRICE": true, "NEWS": true, "USD": true,
	}
)

func extractEntities(text string) models.Entities {
	var e models.Entities

	if m := tickerOfStock.FindStringSubmatch(text); m != nil {
		e.Ticker = strings.ToUpper(m[1])
	}
	if e.Ticker == "" {
		for _, candidate := range tickerPattern.FindAllString(text, -1) {
			if !tickerStopwords[candidate] {
				e.Ticker = candidate
				break
			}
		}
	}

	if dates := isoDatePattern.FindAllString(text, -1); len(dates) > 0 {
		e.StartDate = dates[0]
		if len(dates) > 1 {
			e.EndDate = dates[len(dates)-1]
		}
	} else if years := yearPattern.FindAllString(text, -1); len(years) > 0 {
		e.StartDate = years[0] + "-01-01"
		if len(years) > 1 {
			e.EndDate = years[len(years)-1] + "-12-31"
		}
	}

	return e
}
