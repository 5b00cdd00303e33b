package handlers

import (
	"context"

	"finsight/internal/models"
)

// GeneralHandler is the floor of the registry: it always produces a
// well-formed unsupported answer and never fails, so the query orchestrator
// can fall back to it after any other handler gives up.
type GeneralHandler struct{}

// NewGeneralHandler creates the GENERAL handler.
func NewGeneralHandler() *GeneralHandler {
	return &GeneralHandler{}
}

func (h *GeneralHandler) Intents() []models.IntentKind {
	return []models.IntentKind{models.IntentGeneral}
}

func (h *GeneralHandler) Handle(ctx context.Context, q models.Query, it models.Intent) (*models.Answer, error) {
	return &models.Answer{
		Text: "I can answer questions about stock prices, price history, market news, " +
			"and the contents of parsed documents. This question is outside what I can support.",
		Intent: models.IntentGeneral,
		Status: models.AnswerUnsupported,
	}, nil
}
