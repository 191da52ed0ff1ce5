// Package audit owns the two append-only event tables (raw_events,
// transformed_events) and the convenience read queries built over them:
// recent events, a single event's outcome, and a per-webhook success-rate
// rollup.
package audit

import (
	"context"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/models"
)

// Audit writes and reads the raw/transformed event tables.
type Audit struct {
	engine *enginecore.Handle
	logger *zap.Logger
}

// New constructs an Audit.
func New(engine *enginecore.Handle, logger *zap.Logger) *Audit {
	return &Audit{engine: engine, logger: logger}
}

// WriteRawEvent records an inbound event before any evaluation happens.
func (a *Audit) WriteRawEvent(ctx context.Context, sourcePath, payload, headers string) (models.RawEvent, error) {
	e := models.RawEvent{
		ID:         uuid.New().String(),
		Timestamp:  time.Now().UTC(),
		SourcePath: sourcePath,
		Payload:    payload,
		Headers:    headers,
	}
	_, err := a.engine.Exec(ctx,
		`INSERT INTO raw_events (id, timestamp, source_path, payload, headers) VALUES (?, ?, ?, ?, ?)`,
		e.ID, e.Timestamp.Format(time.RFC3339Nano), e.SourcePath, e.Payload, e.Headers)
	if err != nil {
		return models.RawEvent{}, err
	}
	return e, nil
}

// GetRawEvent looks up a raw event by id.
func (a *Audit) GetRawEvent(ctx context.Context, id string) (models.RawEvent, error) {
	res, err := a.engine.Query(ctx,
		`SELECT id, timestamp, source_path, payload, headers FROM raw_events WHERE id = ?`, id)
	if err != nil {
		return models.RawEvent{}, err
	}
	if len(res.Rows) == 0 {
		return models.RawEvent{}, apperr.NotFound("raw event not found")
	}
	row := res.Rows[0]
	ts, err := time.Parse(time.RFC3339Nano, asString(row[1]))
	if err != nil {
		return models.RawEvent{}, apperr.EngineError("parse raw event timestamp", err)
	}
	return models.RawEvent{
		ID:         asString(row[0]),
		Timestamp:  ts,
		SourcePath: asString(row[2]),
		Payload:    asString(row[3]),
		Headers:    asString(row[4]),
	}, nil
}

// WriteTransformedEvent records a dispatch attempt's outcome, whether or
// not the dispatch itself succeeded. Committed after the dispatch attempt
// completes, per the ordering invariant in §5.
func (a *Audit) WriteTransformedEvent(ctx context.Context, te models.TransformedEvent) error {
	if te.ID == "" {
		te.ID = uuid.New().String()
	}
	if te.Timestamp.IsZero() {
		te.Timestamp = time.Now().UTC()
	}
	_, err := a.engine.Exec(ctx,
		`INSERT INTO transformed_events
		 (id, raw_event_id, webhook_id, destination_url, success, status_code, response_body, timestamp, transformed_payload)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		te.ID, te.RawEventID, te.WebhookID, te.DestinationURL, boolToInt(te.Success), te.StatusCode,
		te.ResponseBody, te.Timestamp.Format(time.RFC3339Nano), te.TransformedPayload)
	return err
}

// GetTransformedEventByRawEventID returns the most recent transformed
// event written for a given raw event (a raw event normally has at most
// one, but Replay can add more over time).
func (a *Audit) GetTransformedEventByRawEventID(ctx context.Context, rawEventID string) (models.TransformedEvent, error) {
	res, err := a.engine.Query(ctx,
		`SELECT id, raw_event_id, webhook_id, destination_url, success, status_code, response_body, timestamp, transformed_payload
		 FROM transformed_events WHERE raw_event_id = ? ORDER BY timestamp DESC LIMIT 1`, rawEventID)
	if err != nil {
		return models.TransformedEvent{}, err
	}
	if len(res.Rows) == 0 {
		return models.TransformedEvent{}, apperr.NotFound("transformed event not found")
	}
	return scanTransformedEvent(res.Rows[0])
}

// ListRecentEvents returns up to limit most recent raw events.
func (a *Audit) ListRecentEvents(ctx context.Context, limit int) ([]models.RawEvent, error) {
	if limit <= 0 {
		limit = 50
	}
	res, err := a.engine.Query(ctx,
		`SELECT id, timestamp, source_path, payload, headers FROM raw_events ORDER BY timestamp DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	out := make([]models.RawEvent, 0, len(res.Rows))
	for _, row := range res.Rows {
		ts, err := time.Parse(time.RFC3339Nano, asString(row[1]))
		if err != nil {
			return nil, apperr.EngineError("parse raw event timestamp", err)
		}
		out = append(out, models.RawEvent{
			ID:         asString(row[0]),
			Timestamp:  ts,
			SourcePath: asString(row[2]),
			Payload:    asString(row[3]),
			Headers:    asString(row[4]),
		})
	}
	return out, nil
}

// WebhookSuccessRate is one row of the per-webhook dispatch rollup.
type WebhookSuccessRate struct {
	WebhookID    string  `json:"webhook_id"`
	Total        int64   `json:"total"`
	SuccessCount int64   `json:"success_count"`
	SuccessRate  float64 `json:"success_rate"`
}

// Stats is the /stats rollup.
type Stats struct {
	TotalWebhooks          int64                `json:"total_webhooks"`
	TotalRawEvents         int64                `json:"total_raw_events"`
	TotalTransformedEvents int64                `json:"total_transformed_events"`
	SuccessRateByWebhook   []WebhookSuccessRate `json:"success_rate_by_webhook"`
}

// ComputeStats builds the rollup described in §4.6.
func (a *Audit) ComputeStats(ctx context.Context) (Stats, error) {
	var stats Stats

	if v, err := a.scalarCount(ctx, "SELECT COUNT(*) FROM webhooks"); err != nil {
		return Stats{}, err
	} else {
		stats.TotalWebhooks = v
	}
	if v, err := a.scalarCount(ctx, "SELECT COUNT(*) FROM raw_events"); err != nil {
		return Stats{}, err
	} else {
		stats.TotalRawEvents = v
	}
	if v, err := a.scalarCount(ctx, "SELECT COUNT(*) FROM transformed_events"); err != nil {
		return Stats{}, err
	} else {
		stats.TotalTransformedEvents = v
	}

	res, err := a.engine.Query(ctx,
		`SELECT webhook_id,
		        COUNT(*) AS total,
		        SUM(CASE WHEN success = 1 THEN 1 ELSE 0 END) AS success_count
		 FROM transformed_events
		 GROUP BY webhook_id`)
	if err != nil {
		return Stats{}, err
	}
	for _, row := range res.Rows {
		total := asInt64(row[1])
		success := asInt64(row[2])
		rate := 0.0
		if total > 0 {
			rate = float64(success) / float64(total)
		}
		stats.SuccessRateByWebhook = append(stats.SuccessRateByWebhook, WebhookSuccessRate{
			WebhookID:    asString(row[0]),
			Total:        total,
			SuccessCount: success,
			SuccessRate:  rate,
		})
	}
	return stats, nil
}

func (a *Audit) scalarCount(ctx context.Context, stmt string) (int64, error) {
	res, err := a.engine.Query(ctx, stmt)
	if err != nil {
		return 0, err
	}
	if len(res.Rows) == 0 {
		return 0, nil
	}
	return asInt64(res.Rows[0][0]), nil
}

func scanTransformedEvent(row []interface{}) (models.TransformedEvent, error) {
	ts, err := time.Parse(time.RFC3339Nano, asString(row[7]))
	if err != nil {
		return models.TransformedEvent{}, apperr.EngineError("parse transformed event timestamp", err)
	}
	return models.TransformedEvent{
		ID:                 asString(row[0]),
		RawEventID:         asString(row[1]),
		WebhookID:          asString(row[2]),
		DestinationURL:     asString(row[3]),
		Success:            asInt64(row[4]) != 0,
		StatusCode:         int(asInt64(row[5])),
		ResponseBody:       asString(row[6]),
		Timestamp:          ts,
		TransformedPayload: asString(row[8]),
	}, nil
}

func asString(v interface{}) string {
	if v == nil {
		return ""
	}
	s, _ := v.(string)
	return s
}

func asInt64(v interface{}) int64 {
	switch t := v.(type) {
	case int64:
		return t
	case float64:
		return int64(t)
	default:
		return 0
	}
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
