package handlers

import (
	"context"
	"fmt"

	"finsight/internal/fault"
	"finsight/internal/models"
)

// StockQuoteHandler answers current-price questions from the market data
// source.
type StockQuoteHandler struct {
	source MarketData
}

// NewStockQuoteHandler creates the STOCK_QUOTE handler.
func NewStockQuoteHandler(source MarketData) *StockQuoteHandler {
	return &StockQuoteHandler{source: source}
}

func (h *StockQuoteHandler) Intents() []models.IntentKind {
	return []models.IntentKind{models.IntentStockQuote}
}

func (h *StockQuoteHandler) Handle(ctx context.Context, q models.Query, it models.Intent) (*models.Answer, error) {
	ticker := it.Entities.Ticker
	if ticker == "" {
		return nil, fault.New(fault.KindHandlerError, "no ticker symbol found in query")
	}

	quote, err := h.source.Quote(ctx, ticker)
	if err != nil {
		return nil, err
	}

	text := fmt.Sprintf("%s is trading at %.2f %s", quote.Symbol, quote.Price, quote.Currency)
	if quote.AsOf != "" {
		text += fmt.Sprintf(" (as of %s)", quote.AsOf)
	}
	text += "."

	return &models.Answer{
		Text:      text,
		Intent:    models.IntentStockQuote,
		Status:    models.AnswerOK,
		Citations: []models.Citation{{Source: "marketdata:quote"}},
	}, nil
}
