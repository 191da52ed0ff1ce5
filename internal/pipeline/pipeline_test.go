package pipeline

import (
	"context"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"testing"
	"time"

	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/audit"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/catalog"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/dispatcher"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/evaluator"
)

func newTestPipeline(t *testing.T, dispatchTimeout time.Duration) (*Pipeline, *catalog.Catalog, *audit.Audit) {
	t.Helper()
	engine, err := enginecore.Open(filepath.Join(t.TempDir(), "gateway.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	cat := catalog.New(engine, zap.NewNop())
	eval := evaluator.New(engine, zap.NewNop())
	disp := dispatcher.New(dispatchTimeout, zap.NewNop())
	aud := audit.New(engine, zap.NewNop())
	return New(cat, eval, disp, aud, zap.NewNop()), cat, aud
}

func TestProcessDispatchesOnSuccess(t *testing.T) {
	var received []byte
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		buf := make([]byte, r.ContentLength)
		r.Body.Read(buf)
		received = buf
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, cat, _ := newTestPipeline(t, 2*time.Second)
	ctx := context.Background()
	_, err := cat.RegisterWebhook(ctx, "/orders", srv.URL, `SELECT json_extract(payload, '$.amount') AS amount FROM {{payload}}`, "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}

	out, err := p.Process(ctx, "/orders", `{"amount": 42}`, `{}`)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusDispatched {
		t.Errorf("expected status dispatched, got %q", out.Status)
	}
	if out.EventID == "" {
		t.Error("expected a non-empty event id")
	}
	if len(received) == 0 {
		t.Error("expected the destination to receive a payload")
	}
}

func TestProcessFilteredOutProducesNoTransformedEventRow(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		t.Error("destination should not be called when the event is filtered")
	}))
	defer srv.Close()

	p, cat, aud := newTestPipeline(t, 2*time.Second)
	ctx := context.Background()
	if _, err := cat.RegisterWebhook(ctx, "/orders", srv.URL, `SELECT payload FROM {{payload}}`, `json_extract(payload, '$.amount') > 100`, ""); err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}

	out, err := p.Process(ctx, "/orders", `{"amount": 5}`, `{}`)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusFiltered {
		t.Errorf("expected status filtered, got %q", out.Status)
	}

	stats, err := aud.ComputeStats(ctx)
	if err != nil {
		t.Fatalf("ComputeStats: %v", err)
	}
	if stats.TotalTransformedEvents != 0 {
		t.Errorf("expected a filtered event to leave zero transformed_events rows, got %d", stats.TotalTransformedEvents)
	}
}

func TestProcessUnreachableDestinationIsStillDispatched(t *testing.T) {
	p, cat, _ := newTestPipeline(t, 500*time.Millisecond)
	ctx := context.Background()
	if _, err := cat.RegisterWebhook(ctx, "/orders", "http://127.0.0.1:1", `SELECT payload FROM {{payload}}`, "", ""); err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}

	out, err := p.Process(ctx, "/orders", `{}`, `{}`)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}
	if out.Status != StatusDispatched {
		t.Errorf("a completed-but-failed delivery should still be status dispatched, got %q", out.Status)
	}
}

func TestProcessUnknownPathIsNotFound(t *testing.T) {
	p, _, _ := newTestPipeline(t, time.Second)
	_, err := p.Process(context.Background(), "/missing", `{}`, `{}`)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestProcessInactiveWebhookIsNotFound(t *testing.T) {
	p, cat, _ := newTestPipeline(t, time.Second)
	ctx := context.Background()
	w, err := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", `SELECT payload FROM {{payload}}`, "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if err := cat.SetActive(ctx, w.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}

	_, err = p.Process(ctx, "/orders", `{}`, `{}`)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindNotFound {
		t.Fatalf("expected NotFound for an inactive webhook, got %v", err)
	}
}

func TestReplayReEvaluatesAgainstCurrentConfiguration(t *testing.T) {
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
	}))
	defer srv.Close()

	p, cat, _ := newTestPipeline(t, 2*time.Second)
	ctx := context.Background()
	w, err := cat.RegisterWebhook(ctx, "/orders", srv.URL, `SELECT json_extract(payload, '$.amount') AS amount FROM {{payload}}`, "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}

	out, err := p.Process(ctx, "/orders", `{"amount": 7}`, `{}`)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if _, err := cat.UpdateWebhook(ctx, w.ID, w.DestinationURL, `SELECT json_extract(payload, '$.amount') * 10 AS amount FROM {{payload}}`, w.FilterQuery); err != nil {
		t.Fatalf("UpdateWebhook: %v", err)
	}

	te, err := p.Replay(ctx, out.EventID)
	if err != nil {
		t.Fatalf("Replay: %v", err)
	}
	if !te.Success {
		t.Errorf("expected replay dispatch to succeed, got %+v", te)
	}
}

func TestReplayOfMissingWebhookIsNotFound(t *testing.T) {
	p, cat, _ := newTestPipeline(t, time.Second)
	ctx := context.Background()
	w, err := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", `SELECT payload FROM {{payload}}`, "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	out, err := p.Process(ctx, "/orders", `{}`, `{}`)
	if err != nil {
		t.Fatalf("Process: %v", err)
	}

	if err := cat.DeleteWebhook(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}

	_, err = p.Replay(ctx, out.EventID)
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}
