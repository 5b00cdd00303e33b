// Package query implements the query orchestrator: intent classification,
// handler dispatch with timeout and retry, and answer normalization. Every
// failure mode yields a well-formed Answer; raw handler errors never reach
// the caller.
package query

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"finsight/internal/fault"
	"finsight/internal/handlers"
	"finsight/internal/intent"
	"finsight/internal/models"
)

// Orchestrator answers queries end to end.
type Orchestrator struct {
	classifier *intent.Classifier
	registry   *handlers.Registry
	timeout    time.Duration
	logger     *slog.Logger
}

// New creates a query orchestrator. timeout bounds a single query end to
// end; 0 disables the deadline.
func New(classifier *intent.Classifier, registry *handlers.Registry, timeout time.Duration, logger *slog.Logger) *Orchestrator {
	if logger == nil {
		logger = slog.Default()
	}
	return &Orchestrator{
		classifier: classifier,
		registry:   registry,
		timeout:    timeout,
		logger:     logger,
	}
}

// Answer classifies the query, dispatches it to the matching handler and
// normalizes the outcome. It always returns a well-formed Answer.
func (o *Orchestrator) Answer(ctx context.Context, q models.Query) models.Answer {
	start := time.Now()

	it := o.classifier.Classify(q)
	o.logger.Debug("classified query", "intent", it.Kind, "confidence", it.Confidence,
		"ticker", it.Entities.Ticker)

	if o.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, o.timeout)
		defer cancel()
	}

	ans := o.dispatch(ctx, q, it)
	ans.Latency = time.Since(start)

	// Grounding invariant: a successful answer must cite evidence.
	if (ans.Status == models.AnswerOK || ans.Status == models.AnswerPartial) && !ans.Supported() {
		o.logger.Warn("handler returned ungrounded answer, downgrading", "intent", ans.Intent)
		ans.Status = models.AnswerUnsupported
	}
	return ans
}

func (o *Orchestrator) dispatch(ctx context.Context, q models.Query, it models.Intent) models.Answer {
	h, ok := o.registry.Lookup(it.Kind)
	if !ok {
		o.logger.Error("no handler registered for intent", "intent", it.Kind)
		return o.fallback(ctx, q, it, fault.New(fault.KindHandlerError, "no handler for intent"))
	}

	ans, err := o.invoke(ctx, h, q, it)
	if err != nil && fault.Transient(err) && ctx.Err() == nil {
		// One retry for transient external-source failures.
		o.logger.Info("retrying handler after transient failure", "intent", it.Kind, "error", err)
		ans, err = o.invoke(ctx, h, q, it)
	}
	if err == nil {
		if ans.Intent == "" {
			ans.Intent = it.Kind
		}
		return *ans
	}

	switch {
	case fault.IsKind(err, fault.KindDocumentNotFound):
		// Caller error: surface it rather than degrading.
		return models.Answer{
			Text:      "The referenced document has not been parsed. Upload it to the parsing service first.",
			Intent:    it.Kind,
			Status:    models.AnswerError,
			ErrorKind: string(fault.KindDocumentNotFound),
		}
	case errors.Is(err, context.DeadlineExceeded) || fault.IsKind(err, fault.KindTimeout):
		return models.Answer{
			Text:      "The request timed out before an answer could be assembled.",
			Intent:    it.Kind,
			Status:    models.AnswerDegraded,
			ErrorKind: string(fault.KindTimeout),
		}
	default:
		return o.fallback(ctx, q, it, err)
	}
}

// invoke runs one handler call, converting panics and context expiry into
// classified errors.
func (o *Orchestrator) invoke(ctx context.Context, h handlers.Handler, q models.Query, it models.Intent) (ans *models.Answer, err error) {
	defer func() {
		if r := recover(); r != nil {
			o.logger.Error("handler panicked", "intent", it.Kind, "panic", r)
			ans, err = nil, fault.New(fault.KindHandlerError, fmt.Sprintf("handler panic: %v", r))
		}
	}()

	ans, err = h.Handle(ctx, q, it)
	if err == nil && ans == nil {
		return nil, fault.New(fault.KindHandlerError, "handler returned no answer")
	}
	if err != nil && errors.Is(err, context.DeadlineExceeded) {
		return nil, fault.Wrap(fault.KindTimeout, "handler timed out", err)
	}
	return ans, err
}

// fallback routes a failed query to the GENERAL handler for a well-formed
// unsupported answer, preserving the original failure kind.
func (o *Orchestrator) fallback(ctx context.Context, q models.Query, it models.Intent, cause error) models.Answer {
	o.logger.Warn("handler failed, falling back to general answer",
		"intent", it.Kind, "error", cause)

	kind := fault.KindOf(cause)
	if kind == "" {
		kind = fault.KindHandlerError
	}

	if gh, ok := o.registry.Lookup(models.IntentGeneral); ok {
		if ans, err := gh.Handle(ctx, q, it); err == nil && ans != nil {
			ans.Intent = it.Kind
			ans.Status = models.AnswerUnsupported
			ans.ErrorKind = string(kind)
			return *ans
		}
	}
	return models.Answer{
		Text:      "This question cannot be answered right now.",
		Intent:    it.Kind,
		Status:    models.AnswerUnsupported,
		ErrorKind: string(kind),
	}
}
