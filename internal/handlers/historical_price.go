package handlers

import (
	"context"
	"fmt"

	"finsight/internal/fault"
	"finsight/internal/models"
)

// HistoricalPriceHandler answers price-over-time questions from the market
// data source.
type HistoricalPriceHandler struct {
	source MarketData
}

// NewHistoricalPriceHandler creates the HISTORICAL_PRICE handler.
func NewHistoricalPriceHandler(source MarketData) *HistoricalPriceHandler {
	return &HistoricalPriceHandler{source: source}
}

func (h *HistoricalPriceHandler) Intents() []models.IntentKind {
	return []models.IntentKind{models.IntentHistoricalPrice}
}

func (h *HistoricalPriceHandler) Handle(ctx context.Context, q models.Query, it models.Intent) (*models.Answer, error) {
	ticker := it.Entities.Ticker
	if ticker == "" {
		return nil, fault.New(fault.KindHandlerError, "no ticker symbol found in query")
	}

	points, err := h.source.History(ctx, ticker, it.Entities.StartDate, it.Entities.EndDate)
	if err != nil {
		return nil, err
	}
	if len(points) == 0 {
		return nil, fault.New(fault.KindHandlerError, "market data source returned no price history")
	}

	first, last := points[0], points[len(points)-1]
	text := fmt.Sprintf("%s closed at %.2f on %s and %.2f on %s",
		ticker, first.Close, first.Date, last.Close, last.Date)
	if first.Close != 0 {
		change := (last.Close - first.Close) / first.Close * 100
		text += fmt.Sprintf(" (%+.1f%% over the period)", change)
	}
	text += "."

	return &models.Answer{
		Text:      text,
		Intent:    models.IntentHistoricalPrice,
		Status:    models.AnswerOK,
		Citations: []models.Citation{{Source: "marketdata:history"}},
	}, nil
}
