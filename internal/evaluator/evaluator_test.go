package evaluator

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/models"
)

func newTestEngine(t *testing.T) *enginecore.Handle {
	t.Helper()
	h, err := enginecore.Open(filepath.Join(t.TempDir(), "gateway.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return h
}

func TestEvaluateTransformSingleRow(t *testing.T) {
	engine := newTestEngine(t)
	eval := New(engine, zap.NewNop())

	webhook := models.Webhook{
		TransformQuery: `SELECT json_extract(payload, '$.name') AS name, json_extract(payload, '$.amount') AS amount FROM {{payload}}`,
	}

	result, err := eval.Evaluate(context.Background(), webhook, `{"name":"widget","amount":12}`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Filtered {
		t.Fatal("expected not filtered")
	}
	obj, ok := result.Payload.(map[string]interface{})
	if !ok {
		t.Fatalf("expected single object, got %T", result.Payload)
	}
	if obj["name"] != "widget" {
		t.Errorf("expected name=widget, got %v", obj["name"])
	}
}

func TestEvaluateTransformMultiRowProducesArray(t *testing.T) {
	engine := newTestEngine(t)
	eval := New(engine, zap.NewNop())

	webhook := models.Webhook{
		TransformQuery: `
			SELECT 1 AS n FROM {{payload}}
			UNION ALL
			SELECT 2 AS n FROM {{payload}}
		`,
	}

	result, err := eval.Evaluate(context.Background(), webhook, `{}`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	rows, ok := result.Payload.([]map[string]interface{})
	if !ok {
		t.Fatalf("expected array payload, got %T", result.Payload)
	}
	if len(rows) != 2 {
		t.Fatalf("expected 2 rows, got %d", len(rows))
	}
}

func TestEvaluateFilterRejectsFalse(t *testing.T) {
	engine := newTestEngine(t)
	eval := New(engine, zap.NewNop())

	webhook := models.Webhook{
		FilterQuery:    `json_extract(payload, '$.amount') > 100`,
		TransformQuery: `SELECT payload FROM {{payload}}`,
	}

	result, err := eval.Evaluate(context.Background(), webhook, `{"amount": 5}`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if !result.Filtered {
		t.Fatal("expected the event to be filtered out")
	}
}

func TestEvaluateFilterPassesTrue(t *testing.T) {
	engine := newTestEngine(t)
	eval := New(engine, zap.NewNop())

	webhook := models.Webhook{
		FilterQuery:    `json_extract(payload, '$.amount') > 100`,
		TransformQuery: `SELECT json_extract(payload, '$.amount') AS amount FROM {{payload}}`,
	}

	result, err := eval.Evaluate(context.Background(), webhook, `{"amount": 500}`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	if result.Filtered {
		t.Fatal("expected the event to pass the filter")
	}
}

func TestEvaluateTransformSyntaxErrorIsEvaluationError(t *testing.T) {
	engine := newTestEngine(t)
	eval := New(engine, zap.NewNop())

	webhook := models.Webhook{
		TransformQuery: `SELECT this is not valid sql FROM {{payload}}`,
	}

	_, err := eval.Evaluate(context.Background(), webhook, `{}`)
	if err == nil {
		t.Fatal("expected an evaluation error")
	}
}

func TestEvaluateJoinsReferenceTable(t *testing.T) {
	engine := newTestEngine(t)
	ctx := context.Background()
	if _, err := engine.Exec(ctx, `CREATE TABLE "ref_test_prices" (sku TEXT, price REAL)`); err != nil {
		t.Fatalf("create reference table: %v", err)
	}
	if _, err := engine.Exec(ctx, `INSERT INTO "ref_test_prices" VALUES ('A1', 9.99)`); err != nil {
		t.Fatalf("seed reference table: %v", err)
	}

	eval := New(engine, zap.NewNop())
	webhook := models.Webhook{
		TransformQuery: `
			SELECT p.price AS price
			FROM {{payload}} e
			JOIN "ref_test_prices" p ON p.sku = json_extract(e.payload, '$.sku')
		`,
	}

	result, err := eval.Evaluate(ctx, webhook, `{"sku":"A1"}`)
	if err != nil {
		t.Fatalf("Evaluate: %v", err)
	}
	obj := result.Payload.(map[string]interface{})
	if obj["price"] != 9.99 {
		t.Errorf("expected price 9.99, got %v", obj["price"])
	}
}
