// Package evaluator runs a webhook's filter and transform SQL against an
// inbound payload, materializing the payload as an ephemeral single-row
// view the SQL can select from.
package evaluator

import (
	"context"
	"strings"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/models"
)

const payloadToken = "{{payload}}"

// Evaluator runs filter/transform SQL against ephemeral payload views.
type Evaluator struct {
	engine *enginecore.Handle
	logger *zap.Logger
}

// New constructs an Evaluator.
func New(engine *enginecore.Handle, logger *zap.Logger) *Evaluator {
	return &Evaluator{engine: engine, logger: logger}
}

// Result is the outcome of evaluating one event against one webhook.
type Result struct {
	Filtered bool
	// Payload is either map[string]interface{} (single row) or
	// []map[string]interface{} (multiple rows).
	Payload interface{}
}

// Evaluate filters (if a filter is configured) then transforms payloadJSON
// according to webhook's SQL. Returns Result{Filtered: true} if the filter
// rejected the event — no transform is run in that case.
func (e *Evaluator) Evaluate(ctx context.Context, webhook models.Webhook, payloadJSON string) (Result, error) {
	viewName := "payload_" + strings.ReplaceAll(uuid.New().String(), "-", "_")
	if err := e.createPayloadView(ctx, viewName, payloadJSON); err != nil {
		return Result{}, apperr.EvaluationError("could not materialize payload view", err)
	}
	defer e.dropView(ctx, viewName)

	if webhook.FilterQuery != "" {
		passed, err := e.evaluateFilter(ctx, webhook.FilterQuery, viewName)
		if err != nil {
			return Result{}, err
		}
		if !passed {
			return Result{Filtered: true}, nil
		}
	}

	payload, err := e.evaluateTransform(ctx, webhook.TransformQuery, viewName)
	if err != nil {
		return Result{}, err
	}
	return Result{Payload: payload}, nil
}

func (e *Evaluator) createPayloadView(ctx context.Context, viewName, payloadJSON string) error {
	// SQLite does not accept bound parameters inside CREATE VIEW, so the
	// payload is inlined as a quoted string literal.
	literal := "'" + strings.ReplaceAll(payloadJSON, "'", "''") + "'"
	_, err := e.engine.Exec(ctx, "CREATE TEMP VIEW "+viewName+" AS SELECT "+literal+" AS payload")
	return err
}

func (e *Evaluator) dropView(ctx context.Context, viewName string) {
	if _, err := e.engine.Exec(ctx, "DROP VIEW IF EXISTS "+viewName); err != nil {
		e.logger.Error("failed to drop ephemeral payload view", zap.String("view", viewName), zap.Error(err))
	}
}

func substitutePayload(query, viewName string) string {
	return strings.ReplaceAll(query, payloadToken, viewName)
}

func (e *Evaluator) evaluateFilter(ctx context.Context, filterQuery, viewName string) (bool, error) {
	stmt := "SELECT (" + substitutePayload(filterQuery, viewName) + ") FROM " + viewName
	res, err := e.engine.Query(ctx, stmt)
	if err != nil {
		return false, apperr.EvaluationError("filter_query failed", err)
	}
	if len(res.Rows) == 0 || len(res.Rows[0]) == 0 {
		return false, nil
	}
	return isTruthy(res.Rows[0][0]), nil
}

func isTruthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case int64:
		return t != 0
	case float64:
		return t != 0
	case bool:
		return t
	case string:
		return t != "" && t != "0" && t != "false"
	default:
		return true
	}
}

func (e *Evaluator) evaluateTransform(ctx context.Context, transformQuery, viewName string) (interface{}, error) {
	stmt := substitutePayload(transformQuery, viewName)
	res, err := e.engine.Query(ctx, stmt)
	if err != nil {
		return nil, apperr.EvaluationError("transform_query failed", err)
	}

	objects := make([]map[string]interface{}, 0, len(res.Rows))
	for _, row := range res.Rows {
		obj := make(map[string]interface{}, len(res.Columns))
		for i, col := range res.Columns {
			obj[col] = jsonValue(row[i])
		}
		objects = append(objects, obj)
	}

	switch len(objects) {
	case 0:
		return map[string]interface{}{}, nil
	case 1:
		return objects[0], nil
	default:
		return objects, nil
	}
}

// jsonValue maps an engine column value to the value it should take in the
// outgoing JSON payload. Numbers, booleans, null, and strings pass through
// as-is; timestamps are normalized to RFC3339 if the driver handed back a
// time.Time.
func jsonValue(v interface{}) interface{} {
	if t, ok := v.(time.Time); ok {
		return t.UTC().Format(time.RFC3339Nano)
	}
	return v
}
