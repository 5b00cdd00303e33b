// Package handlers contains the intent handlers and their registry. Each
// handler produces a partial answer for the intents it declares and must
// cite its evidence source; fabricated grounding is not allowed.
package handlers

import (
	"context"
	"fmt"

	"finsight/internal/marketdata"
	"finsight/internal/models"
)

// Handler answers queries for the intents it declares.
type Handler interface {
	Intents() []models.IntentKind
	Handle(ctx context.Context, q models.Query, it models.Intent) (*models.Answer, error)
}

// MarketData is the external market data contract consumed by the quote,
// history and news handlers.
type MarketData interface {
	Quote(ctx context.Context, symbol string) (*marketdata.Quote, error)
	History(ctx context.Context, symbol, start, end string) ([]marketdata.PricePoint, error)
	News(ctx context.Context, symbol string) ([]marketdata.NewsItem, error)
}

// Embedder produces the query embedding for document retrieval. Optional.
type Embedder interface {
	Embed(ctx context.Context, text string) ([]float32, error)
}

// Registry binds each intent kind to exactly one handler. Registration is
// closed at startup; lookup is read-only afterwards.
type Registry struct {
	byKind map[models.IntentKind]Handler
}

// NewRegistry creates an empty registry.
func NewRegistry() *Registry {
	return &Registry{byKind: make(map[models.IntentKind]Handler)}
}

// Register binds h to every intent it declares. A second handler for the
// same intent is a configuration bug and fails loudly.
func (r *Registry) Register(h Handler) error {
	for _, kind := range h.Intents() {
		if _, dup := r.byKind[kind]; dup {
			return fmt.Errorf("handler already registered for intent %s", kind)
		}
		r.byKind[kind] = h
	}
	return nil
}

// Lookup returns the handler bound to kind.
func (r *Registry) Lookup(kind models.IntentKind) (Handler, bool) {
	h, ok := r.byKind[kind]
	return h, ok
}
