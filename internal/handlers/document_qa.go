package handlers

import (
	"context"
	"fmt"
	"log/slog"
	"strings"

	"finsight/internal/fault"
	"finsight/internal/models"
	"finsight/internal/store"
)

const (
	retrievalTopK = 3
	// snippetLimit caps how much of a block is quoted back in the answer.
	snippetLimit = 400
)

// DocumentQAHandler answers questions grounded in a previously parsed
// document. The caller must parse the document first; an unknown
// fingerprint is a caller error, not a crash.
type DocumentQAHandler struct {
	docs     store.DocumentStore
	embedder Embedder
	logger   *slog.Logger
}

// NewDocumentQAHandler creates the DOCUMENT_QA handler. embedder may be
// nil; retrieval then scores blocks lexically.
func NewDocumentQAHandler(docs store.DocumentStore, embedder Embedder, logger *slog.Logger) *DocumentQAHandler {
	if logger == nil {
		logger = slog.Default()
	}
	return &DocumentQAHandler{docs: docs, embedder: embedder, logger: logger}
}

func (h *DocumentQAHandler) Intents() []models.IntentKind {
	return []models.IntentKind{models.IntentDocumentQA}
}

func (h *DocumentQAHandler) Handle(ctx context.Context, q models.Query, it models.Intent) (*models.Answer, error) {
	if q.DocumentID == "" {
		return nil, fault.New(fault.KindHandlerError, "no document context on a document question")
	}

	doc, ok, err := h.docs.Get(q.DocumentID)
	if err != nil {
		return nil, fault.Wrap(fault.KindHandlerError, "document store read failed", err)
	}
	if !ok {
		return nil, fault.New(fault.KindDocumentNotFound,
			fmt.Sprintf("document %s has not been parsed", q.DocumentID))
	}

	hits := h.retrieve(ctx, q)
	if len(hits) == 0 {
		return &models.Answer{
			Text:   "The document does not appear to contain information relevant to this question.",
			Intent: models.IntentDocumentQA,
			Status: models.AnswerUnsupported,
		}, nil
	}

	var b strings.Builder
	b.WriteString("From the document:")
	citations := make([]models.Citation, 0, len(hits))
	for _, hit := range hits {
		fmt.Fprintf(&b, "\n[p.%d] %s", hit.Page+1, snippet(hit.Text))
		citations = append(citations, models.Citation{
			Source:      "document",
			Fingerprint: q.DocumentID,
			Page:        hit.Page,
			Block:       hit.Block,
		})
	}

	status := models.AnswerOK
	if doc.Status == models.DocumentPartial {
		status = models.AnswerPartial
	}
	return &models.Answer{
		Text:      b.String(),
		Intent:    models.IntentDocumentQA,
		Status:    status,
		Citations: citations,
	}, nil
}

// retrieve prefers the embedding index and falls back to lexical overlap
// scoring when no embedder or no vectors are available.
func (h *DocumentQAHandler) retrieve(ctx context.Context, q models.Query) []store.BlockHit {
	if h.embedder != nil {
		if vec, err := h.embedder.Embed(ctx, q.Text); err != nil {
			h.logger.Warn("query embedding failed, falling back to lexical retrieval", "error", err)
		} else if hits, err := h.docs.SearchBlocks(q.DocumentID, vec, retrievalTopK); err != nil {
			h.logger.Warn("vector retrieval failed, falling back to lexical retrieval", "error", err)
		} else if len(hits) > 0 {
			return hits
		}
	}

	hits, err := h.docs.SearchBlocksLexical(q.DocumentID, q.Text, retrievalTopK)
	if err != nil {
		h.logger.Warn("lexical retrieval failed", "error", err)
		return nil
	}
	return hits
}

func snippet(text string) string {
	text = strings.Join(strings.Fields(text), " ")
	if len(text) > snippetLimit {
		return text[:snippetLimit] + "..."
	}
	return text
}
