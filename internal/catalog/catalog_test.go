package catalog

import (
	"context"
	"path/filepath"
	"testing"

	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
)

func newTestCatalog(t *testing.T) *Catalog {
	t.Helper()
	h, err := enginecore.Open(filepath.Join(t.TempDir(), "gateway.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { h.Close() })
	return New(h, zap.NewNop())
}

func TestRegisterWebhookRequiresPayloadToken(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.RegisterWebhook(context.Background(), "/orders", "https://example.com/sink", "SELECT 1", "", "")
	if err == nil {
		t.Fatal("expected an error")
	}
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindInvalid {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestRegisterWebhookRejectsBrokenTransform(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.RegisterWebhook(context.Background(), "/orders", "https://example.com/sink", "SELECT this is not sql FROM {{payload}}", "", "")
	if err == nil {
		t.Fatal("expected dry validation to reject the transform")
	}
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindInvalid {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestRegisterWebhookSucceeds(t *testing.T) {
	c := newTestCatalog(t)
	w, err := c.RegisterWebhook(context.Background(), "orders", "https://example.com/sink", "SELECT payload AS body FROM {{payload}}", "", "ops-team")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if w.SourcePath != "/orders" {
		t.Errorf("expected source_path to be normalized with a leading slash, got %q", w.SourcePath)
	}
	if w.ID == "" {
		t.Error("expected a generated id")
	}
	if !w.Active {
		t.Error("expected newly registered webhook to be active")
	}
}

func TestRegisterWebhookDuplicatePathIsConflict(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	if _, err := c.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", ""); err != nil {
		t.Fatalf("first RegisterWebhook: %v", err)
	}
	_, err := c.RegisterWebhook(ctx, "/orders", "https://example.com/other", "SELECT payload FROM {{payload}}", "", "")
	if err == nil {
		t.Fatal("expected a conflict on duplicate source_path")
	}
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindConflict {
		t.Fatalf("expected Conflict, got %v", err)
	}
}

func TestGetWebhookByPathNotFound(t *testing.T) {
	c := newTestCatalog(t)
	_, err := c.GetWebhookByPath(context.Background(), "/missing")
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindNotFound {
		t.Fatalf("expected NotFound, got %v", err)
	}
}

func TestSetActiveTogglesFlag(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	w, err := c.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if err := c.SetActive(ctx, w.ID, false); err != nil {
		t.Fatalf("SetActive: %v", err)
	}
	got, err := c.GetWebhook(ctx, w.ID)
	if err != nil {
		t.Fatalf("GetWebhook: %v", err)
	}
	if got.Active {
		t.Error("expected webhook to be inactive")
	}
}

func TestDeleteWebhookWithoutDropperRemovesWebhook(t *testing.T) {
	c := newTestCatalog(t)
	ctx := context.Background()
	w, err := c.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}
	if err := c.DeleteWebhook(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}
	if _, err := c.GetWebhook(ctx, w.ID); err == nil {
		t.Fatal("expected webhook to be gone")
	}
}
