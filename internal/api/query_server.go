package api

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"strings"

	"finsight/internal/models"

	"github.com/ory/herodot"
)

// Answerer is the query orchestration contract consumed by the query API.
type Answerer interface {
	Answer(ctx context.Context, q models.Query) models.Answer
}

// QueryServer serves the assistant-facing query API.
type QueryServer struct {
	mux      *http.ServeMux
	answerer Answerer
	writer   *herodot.JSONWriter
	logger   *slog.Logger
}

// NewQueryServer wires the query API routes.
func NewQueryServer(answerer Answerer, logger *slog.Logger) *QueryServer {
	if logger == nil {
		logger = slog.Default()
	}
	s := &QueryServer{
		mux:      http.NewServeMux(),
		answerer: answerer,
		writer:   herodot.NewJSONWriter(nil),
		logger:   logger,
	}
	s.setupRoutes()
	return s
}

func (s *QueryServer) setupRoutes() {
	s.mux.HandleFunc("POST /query", s.handleQuery)
	s.mux.HandleFunc("GET /health", s.healthCheck)
}

// Handler returns the server's handler with middleware applied.
func (s *QueryServer) Handler() http.Handler {
	return withMiddleware(s.logger, s.mux)
}

func (s *QueryServer) handleQuery(w http.ResponseWriter, r *http.Request) {
	var q models.Query
	if err := json.NewDecoder(r.Body).Decode(&q); err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid request body"))
		return
	}
	if strings.TrimSpace(q.Text) == "" {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("query_text is required"))
		return
	}

	ans := s.answerer.Answer(r.Context(), q)

	citations := ans.Citations
	if citations == nil {
		citations = []models.Citation{}
	}
	s.writer.Write(w, r, &models.QueryResponse{
		Answer:    ans.Text,
		Citations: citations,
		Intent:    ans.Intent,
		Status:    ans.Status,
		ErrorKind: ans.ErrorKind,
		LatencyMS: ans.Latency.Milliseconds(),
	})
}

func (s *QueryServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writer.Write(w, r, &models.HealthResponse{Status: "healthy"})
}
