package api

import (
	"bytes"
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"finsight/internal/models"
)

type MockAnswerer struct {
	answer models.Answer
	gotQ   models.Query
}

func (m *MockAnswerer) Answer(ctx context.Context, q models.Query) models.Answer {
	m.gotQ = q
	return m.answer
}

func postQuery(t *testing.T, handler http.Handler, payload any) *httptest.ResponseRecorder {
	t.Helper()
	body, err := json.Marshal(payload)
	if err != nil {
		t.Fatalf("Failed to encode request: %v", err)
	}
	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)
	return w
}

func TestQuery(t *testing.T) {
	answerer := &MockAnswerer{
		answer: models.Answer{
			Text:      "ACME is trading at 42.00 USD.",
			Intent:    models.IntentStockQuote,
			Status:    models.AnswerOK,
			Citations: []models.Citation{{Source: "marketdata:quote"}},
			Latency:   150 * time.Millisecond,
		},
	}
	handler := NewQueryServer(answerer, nil).Handler()

	w := postQuery(t, handler, models.Query{Text: "What is the price of ACME stock?"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d: %s", w.Code, w.Body.String())
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Answer != answerer.answer.Text {
		t.Errorf("Expected answer text to pass through, got %q", resp.Answer)
	}
	if resp.Intent != models.IntentStockQuote {
		t.Errorf("Expected STOCK_QUOTE intent, got %s", resp.Intent)
	}
	if resp.Status != models.AnswerOK {
		t.Errorf("Expected ok status, got %s", resp.Status)
	}
	if len(resp.Citations) != 1 {
		t.Errorf("Expected 1 citation, got %d", len(resp.Citations))
	}
	if resp.LatencyMS != 150 {
		t.Errorf("Expected latency 150ms, got %d", resp.LatencyMS)
	}
	if answerer.gotQ.Text != "What is the price of ACME stock?" {
		t.Errorf("Query text did not reach the answerer: %q", answerer.gotQ.Text)
	}
}

func TestQueryFailureIsStillOK(t *testing.T) {
	answerer := &MockAnswerer{
		answer: models.Answer{
			Text:      "This question cannot be answered right now.",
			Intent:    models.IntentStockQuote,
			Status:    models.AnswerUnsupported,
			ErrorKind: "HandlerError",
		},
	}
	handler := NewQueryServer(answerer, nil).Handler()

	w := postQuery(t, handler, models.Query{Text: "What is the price of ACME stock?"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected failures to surface as data with status 200, got %d", w.Code)
	}

	var resp models.QueryResponse
	if err := json.Unmarshal(w.Body.Bytes(), &resp); err != nil {
		t.Fatalf("Failed to decode response: %v", err)
	}
	if resp.Status != models.AnswerUnsupported {
		t.Errorf("Expected unsupported status, got %s", resp.Status)
	}
	if resp.ErrorKind != "HandlerError" {
		t.Errorf("Expected the error kind in the payload, got %q", resp.ErrorKind)
	}
	if resp.Citations == nil {
		t.Error("Expected citations to be an empty array, not null")
	}
}

func TestQueryMissingText(t *testing.T) {
	handler := NewQueryServer(&MockAnswerer{}, nil).Handler()

	w := postQuery(t, handler, models.Query{Text: "   "})
	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for blank query text, got %d", w.Code)
	}
}

func TestQueryInvalidBody(t *testing.T) {
	handler := NewQueryServer(&MockAnswerer{}, nil).Handler()

	req := httptest.NewRequest(http.MethodPost, "/query", bytes.NewReader([]byte("{not json")))
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusBadRequest {
		t.Errorf("Expected status 400 for invalid JSON, got %d", w.Code)
	}
}

func TestQueryDocumentContextPassesThrough(t *testing.T) {
	answerer := &MockAnswerer{answer: models.Answer{Status: models.AnswerUnsupported}}
	handler := NewQueryServer(answerer, nil).Handler()

	w := postQuery(t, handler, models.Query{Text: "What does it say?", DocumentID: "fp-1"})
	if w.Code != http.StatusOK {
		t.Fatalf("Expected status 200, got %d", w.Code)
	}
	if answerer.gotQ.DocumentID != "fp-1" {
		t.Errorf("Expected document id to reach the answerer, got %q", answerer.gotQ.DocumentID)
	}
}

func TestQueryHealthCheck(t *testing.T) {
	handler := NewQueryServer(&MockAnswerer{}, nil).Handler()

	req := httptest.NewRequest(http.MethodGet, "/health", nil)
	w := httptest.NewRecorder()
	handler.ServeHTTP(w, req)

	if w.Code != http.StatusOK {
		t.Errorf("Expected status 200, got %d", w.Code)
	}
}
