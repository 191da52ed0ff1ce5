// Package pipeline orchestrates the raw-write -> evaluate -> dispatch ->
// transformed-write sequence shared by ingress and the Replay operation.
package pipeline

import (
	"context"
	"encoding/json"
	"time"

	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/audit"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/catalog"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/dispatcher"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/evaluator"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/models"
)

// Status values reported back to ingress callers.
const (
	StatusDispatched = "dispatched"
	StatusFiltered   = "filtered"
	StatusError      = "error"
)

// Outcome is what the ingress handler reports back to the caller.
type Outcome struct {
	EventID string
	Status  string
}

// Pipeline wires the Catalog, Evaluator, Dispatcher, and Audit log
// together into the single sequence the data model's ordering invariant
// describes: raw write commits before evaluation/dispatch; the
// transformed write commits after the dispatch attempt completes.
type Pipeline struct {
	catalog    *catalog.Catalog
	evaluator  *evaluator.Evaluator
	dispatcher *dispatcher.Dispatcher
	audit      *audit.Audit
	logger     *zap.Logger
}

// New constructs a Pipeline.
func New(cat *catalog.Catalog, eval *evaluator.Evaluator, disp *dispatcher.Dispatcher, aud *audit.Audit, logger *zap.Logger) *Pipeline {
	return &Pipeline{catalog: cat, evaluator: eval, dispatcher: disp, audit: aud, logger: logger}
}

// Process runs the full pipeline for a freshly arrived event on
// sourcePath. Per §4.8, evaluation and dispatch failures do not surface as
// errors here — they become Outcome.Status == "error", still a 200 to the
// ingress caller. Process only returns an error for failures in the
// pipeline's own bookkeeping (the engine rejecting a write), which the
// ingress handler maps to a 500.
func (p *Pipeline) Process(ctx context.Context, sourcePath, payloadJSON, headersJSON string) (Outcome, error) {
	webhook, err := p.catalog.GetWebhookByPath(ctx, sourcePath)
	if err != nil {
		return Outcome{}, err
	}
	if !webhook.Active {
		return Outcome{}, apperr.NotFound("webhook not found")
	}

	raw, err := p.audit.WriteRawEvent(ctx, sourcePath, payloadJSON, headersJSON)
	if err != nil {
		return Outcome{}, err
	}

	_, status, err := p.run(ctx, webhook, raw)
	if err != nil {
		return Outcome{}, err
	}

	p.logger.Info("ingress pipeline completed",
		zap.String("webhook_id", webhook.ID), zap.String("event_id", raw.ID), zap.String("status", status))
	return Outcome{EventID: raw.ID, Status: status}, nil
}

// Replay re-resolves the webhook that originally handled rawEventID by its
// recorded source path and re-runs evaluation and dispatch against the
// webhook's *current* configuration, producing a new TransformedEvent
// rather than mutating the original. Fails NotFound if the raw event is
// gone or its webhook no longer exists or is inactive.
func (p *Pipeline) Replay(ctx context.Context, rawEventID string) (models.TransformedEvent, error) {
	raw, err := p.audit.GetRawEvent(ctx, rawEventID)
	if err != nil {
		return models.TransformedEvent{}, err
	}

	webhook, err := p.catalog.GetWebhookByPath(ctx, raw.SourcePath)
	if err != nil {
		return models.TransformedEvent{}, apperr.NotFound("webhook for this event is no longer registered")
	}
	if !webhook.Active {
		return models.TransformedEvent{}, apperr.NotFound("webhook for this event is no longer active")
	}

	te, _, err := p.run(ctx, webhook, raw)
	if err != nil {
		return models.TransformedEvent{}, err
	}
	return te, nil
}

// run evaluates and, if not filtered, dispatches. On filter-reject it
// returns a status of "filtered" and a TransformedEvent value that was
// never persisted, per the invariant that a filter-reject leaves zero
// transformed_events rows. On evaluation error it persists a failure row
// and returns status "error". Otherwise it dispatches, persists the
// outcome, and returns status "dispatched" regardless of delivery success.
func (p *Pipeline) run(ctx context.Context, webhook models.Webhook, raw models.RawEvent) (models.TransformedEvent, string, error) {
	result, err := p.evaluator.Evaluate(ctx, webhook, raw.Payload)
	if err != nil {
		te := models.TransformedEvent{
			RawEventID:     raw.ID,
			WebhookID:      webhook.ID,
			DestinationURL: webhook.DestinationURL,
			Success:        false,
			StatusCode:     0,
			ResponseBody:   err.Error(),
			Timestamp:      time.Now().UTC(),
		}
		if werr := p.audit.WriteTransformedEvent(ctx, te); werr != nil {
			return models.TransformedEvent{}, "", werr
		}
		return te, StatusError, nil
	}

	if result.Filtered {
		return models.TransformedEvent{
			RawEventID:     raw.ID,
			WebhookID:      webhook.ID,
			DestinationURL: webhook.DestinationURL,
			Success:        false,
			ResponseBody:   "filtered out by filter_query",
			Timestamp:      time.Now().UTC(),
		}, StatusFiltered, nil
	}

	payloadBytes, err := json.Marshal(result.Payload)
	if err != nil {
		te := models.TransformedEvent{
			RawEventID:     raw.ID,
			WebhookID:      webhook.ID,
			DestinationURL: webhook.DestinationURL,
			Success:        false,
			StatusCode:     0,
			ResponseBody:   "could not serialize transformed payload: " + err.Error(),
			Timestamp:      time.Now().UTC(),
		}
		if werr := p.audit.WriteTransformedEvent(ctx, te); werr != nil {
			return models.TransformedEvent{}, "", werr
		}
		return te, StatusError, nil
	}

	outcome := p.dispatcher.Dispatch(ctx, webhook.DestinationURL, payloadBytes)

	te := models.TransformedEvent{
		RawEventID:         raw.ID,
		WebhookID:          webhook.ID,
		DestinationURL:     webhook.DestinationURL,
		Success:            outcome.Success,
		StatusCode:         outcome.StatusCode,
		ResponseBody:       outcome.ResponseBody,
		Timestamp:          time.Now().UTC(),
		TransformedPayload: string(payloadBytes),
	}
	if werr := p.audit.WriteTransformedEvent(ctx, te); werr != nil {
		return models.TransformedEvent{}, "", werr
	}
	return te, StatusDispatched, nil
}
