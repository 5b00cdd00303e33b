package handlers

import (
	"context"
	"fmt"
	"strings"

	"finsight/internal/fault"
	"finsight/internal/models"
)

const maxHeadlines = 3

// MarketNewsHandler answers headline questions from the market data source.
type MarketNewsHandler struct {
	source MarketData
}

// NewMarketNewsHandler creates the MARKET_NEWS handler.
func NewMarketNewsHandler(source MarketData) *MarketNewsHandler {
	return &MarketNewsHandler{source: source}
}

func (h *MarketNewsHandler) Intents() []models.IntentKind {
	return []models.IntentKind{models.IntentMarketNews}
}

func (h *MarketNewsHandler) Handle(ctx context.Context, q models.Query, it models.Intent) (*models.Answer, error) {
	ticker := it.Entities.Ticker
	if ticker == "" {
		return nil, fault.New(fault.KindHandlerError, "no ticker symbol found in query")
	}

	items, err := h.source.News(ctx, ticker)
	if err != nil {
		return nil, err
	}
	if len(items) == 0 {
		return nil, fault.New(fault.KindHandlerError, "market data source returned no news")
	}
	if len(items) > maxHeadlines {
		items = items[:maxHeadlines]
	}

	var b strings.Builder
	fmt.Fprintf(&b, "Recent headlines for %s:", ticker)
	citations := make([]models.Citation, 0, len(items))
	for _, item := range items {
		fmt.Fprintf(&b, "\n- %s", item.Title)
		if item.PublishedAt != "" {
			fmt.Fprintf(&b, " (%s)", item.PublishedAt)
		}
		citations = append(citations, models.Citation{Source: "marketdata:news " + item.URL})
	}

	return &models.Answer{
		Text:      b.String(),
		Intent:    models.IntentMarketNews,
		Status:    models.AnswerOK,
		Citations: citations,
	}, nil
}
