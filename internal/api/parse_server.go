// Package api exposes the two HTTP services: the parse API consumed by
// ingestion clients and the query API consumed by the assistant front-end.
package api

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"finsight/internal/fault"
	"finsight/internal/models"
	"finsight/internal/parse"
	"finsight/internal/store"

	"github.com/google/uuid"
	"github.com/ory/herodot"
)

// Parser is the parsing contract consumed by the parse API.
type Parser interface {
	Parse(ctx context.Context, data []byte) (*models.Document, error)
}

// Jobs is the asynchronous submission contract for large documents.
type Jobs interface {
	Submit(data []byte) uuid.UUID
	Job(id uuid.UUID) (*parse.Job, bool)
}

// ParseServer serves the document ingestion API.
type ParseServer struct {
	mux       *http.ServeMux
	parser    Parser
	jobs      Jobs
	docs      store.DocumentStore
	writer    *herodot.JSONWriter
	logger    *slog.Logger
	maxUpload int64
}

// NewParseServer wires the parse API routes.
func NewParseServer(parser Parser, jobs Jobs, docs store.DocumentStore, maxUpload int64, logger *slog.Logger) *ParseServer {
	if logger == nil {
		logger = slog.Default()
	}
	if maxUpload <= 0 {
		maxUpload = 64 << 20
	}
	s := &ParseServer{
		mux:       http.NewServeMux(),
		parser:    parser,
		jobs:      jobs,
		docs:      docs,
		writer:    herodot.NewJSONWriter(nil),
		logger:    logger,
		maxUpload: maxUpload,
	}
	s.setupRoutes()
	return s
}

func (s *ParseServer) setupRoutes() {
	s.mux.HandleFunc("POST /documents", s.parseDocument)
	s.mux.HandleFunc("GET /documents/{fingerprint}", s.getDocument)
	s.mux.HandleFunc("POST /documents/jobs", s.submitJob)
	s.mux.HandleFunc("GET /documents/jobs/{id}", s.jobStatus)
	s.mux.HandleFunc("GET /health", s.healthCheck)
}

// Handler returns the server's handler with middleware applied.
func (s *ParseServer) Handler() http.Handler {
	return withMiddleware(s.logger, s.mux)
}

// readUpload accepts either a raw document body or a multipart form with a
// "file" field.
func (s *ParseServer) readUpload(w http.ResponseWriter, r *http.Request) ([]byte, error) {
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUpload)

	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		file, _, err := r.FormFile("file")
		if err != nil {
			return nil, err
		}
		defer func() { _ = file.Close() }()
		return io.ReadAll(file)
	}
	return io.ReadAll(r.Body)
}

func (s *ParseServer) parseDocument(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid upload body"))
		return
	}

	doc, err := s.parser.Parse(r.Context(), data)
	if err != nil {
		s.writeParseError(w, r, err)
		return
	}
	s.writer.WriteCreated(w, r, "/documents/"+doc.Fingerprint, models.ParseResponseFor(doc))
}

func (s *ParseServer) getDocument(w http.ResponseWriter, r *http.Request) {
	fingerprint := r.PathValue("fingerprint")
	doc, ok, err := s.docs.Get(fingerprint)
	if err != nil {
		s.logger.Error("document store read failed", "error", err,
			"request_id", RequestIDFromContext(r.Context()))
		s.writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason("Failed to read document"))
		return
	}
	if !ok {
		s.writer.WriteError(w, r, herodot.ErrNotFound.WithReason("Document not found; parse it first"))
		return
	}
	s.writer.Write(w, r, doc)
}

func (s *ParseServer) submitJob(w http.ResponseWriter, r *http.Request) {
	data, err := s.readUpload(w, r)
	if err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid upload body"))
		return
	}
	if len(data) == 0 {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Empty document"))
		return
	}

	id := s.jobs.Submit(data)
	s.writer.WriteCode(w, r, http.StatusAccepted, &models.JobResponse{JobID: id.String()})
}

func (s *ParseServer) jobStatus(w http.ResponseWriter, r *http.Request) {
	id, err := uuid.Parse(r.PathValue("id"))
	if err != nil {
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason("Invalid job id"))
		return
	}
	job, ok := s.jobs.Job(id)
	if !ok {
		s.writer.WriteError(w, r, herodot.ErrNotFound.WithReason("Unknown job id"))
		return
	}
	s.writer.Write(w, r, job)
}

func (s *ParseServer) healthCheck(w http.ResponseWriter, r *http.Request) {
	s.writer.Write(w, r, &models.HealthResponse{Status: "healthy"})
}

func (s *ParseServer) writeParseError(w http.ResponseWriter, r *http.Request, err error) {
	requestID := RequestIDFromContext(r.Context())
	switch fault.KindOf(err) {
	case fault.KindUnparsableDocument:
		s.logger.Info("rejected unparsable document", "error", err, "request_id", requestID)
		s.writer.WriteError(w, r, herodot.ErrBadRequest.WithReason(err.Error()))
	case fault.KindExtractionUnavailable:
		s.logger.Warn("extraction unavailable", "error", err, "request_id", requestID)
		s.writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason("Extraction temporarily unavailable"))
	default:
		s.logger.Error("parse failed", "error", err, "request_id", requestID)
		s.writer.WriteError(w, r, herodot.ErrInternalServerError.WithReason("Failed to parse document"))
	}
}
