package installer

import (
	"context"
	"path/filepath"
	"strings"
	"testing"

	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/catalog"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
)

func newTestDeps(t *testing.T) (*enginecore.Handle, *catalog.Catalog, *Installer) {
	t.Helper()
	engine, err := enginecore.Open(filepath.Join(t.TempDir(), "gateway.db"), zap.NewNop())
	if err != nil {
		t.Fatalf("Open: %v", err)
	}
	t.Cleanup(func() { engine.Close() })

	cat := catalog.New(engine, zap.NewNop())
	inst := New(engine, cat, zap.NewNop())
	cat.SetDropper(inst)
	return engine, cat, inst
}

func TestUploadReferenceTableInfersColumnTypes(t *testing.T) {
	engine, cat, inst := newTestDeps(t)
	ctx := context.Background()

	w, err := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")
	if err != nil {
		t.Fatalf("RegisterWebhook: %v", err)
	}

	csvData := "sku,price,label\nA1,9.99,widget\nA2,19.50,gadget\n"
	rt, err := inst.UploadReferenceTable(ctx, w.ID, "prices", "price list", strings.NewReader(csvData))
	if err != nil {
		t.Fatalf("UploadReferenceTable: %v", err)
	}

	if !strings.HasPrefix(rt.PhysicalTableName, "ref_") {
		t.Errorf("unexpected physical table name %q", rt.PhysicalTableName)
	}

	res, err := engine.Query(ctx, `SELECT sku, price FROM "`+rt.PhysicalTableName+`" WHERE sku = 'A1'`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if len(res.Rows) != 1 {
		t.Fatalf("expected 1 row, got %d", len(res.Rows))
	}
	if res.Rows[0][1] != 9.99 {
		t.Errorf("expected price column to be typed REAL, got %v (%T)", res.Rows[0][1], res.Rows[0][1])
	}
}

func TestUploadReferenceTableRejectsUnsafeName(t *testing.T) {
	_, cat, inst := newTestDeps(t)
	ctx := context.Background()
	w, _ := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")

	_, err := inst.UploadReferenceTable(ctx, w.ID, "not a safe name!", "", strings.NewReader("a\n1\n"))
	if err == nil {
		t.Fatal("expected an error for an unsafe identifier")
	}
	e, ok := apperr.As(err)
	if !ok || e.Kind != apperr.KindInvalid {
		t.Fatalf("expected Invalid, got %v", err)
	}
}

func TestReuploadReplacesExistingTable(t *testing.T) {
	engine, cat, inst := newTestDeps(t)
	ctx := context.Background()
	w, _ := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")

	if _, err := inst.UploadReferenceTable(ctx, w.ID, "prices", "", strings.NewReader("sku,price\nA1,1\n")); err != nil {
		t.Fatalf("first upload: %v", err)
	}
	rt2, err := inst.UploadReferenceTable(ctx, w.ID, "prices", "", strings.NewReader("sku,price\nA1,2\nA2,3\n"))
	if err != nil {
		t.Fatalf("second upload: %v", err)
	}

	res, err := engine.Query(ctx, `SELECT COUNT(*) FROM "`+rt2.PhysicalTableName+`"`)
	if err != nil {
		t.Fatalf("Query: %v", err)
	}
	if res.Rows[0][0] != int64(2) {
		t.Errorf("expected reupload to replace the table's rows, got %v", res.Rows[0][0])
	}

	tables, err := cat.ListReferenceTablesByWebhook(ctx, w.ID)
	if err != nil {
		t.Fatalf("ListReferenceTablesByWebhook: %v", err)
	}
	if len(tables) != 1 {
		t.Errorf("expected re-upload to update the existing metadata row rather than add a second, got %d rows", len(tables))
	}
}

func TestRegisterUDFAndInvokeFromSQL(t *testing.T) {
	engine, cat, inst := newTestDeps(t)
	ctx := context.Background()
	w, _ := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")

	u, err := inst.RegisterUDF(ctx, w.ID, "double", "function double(x) { return x * 2; }")
	if err != nil {
		t.Fatalf("RegisterUDF: %v", err)
	}
	if !strings.HasPrefix(u.PhysicalFuncName, "udf_") {
		t.Errorf("unexpected physical function name %q", u.PhysicalFuncName)
	}

	res, err := engine.Query(ctx, "SELECT "+u.PhysicalFuncName+"(21)")
	if err != nil {
		t.Fatalf("Query calling udf: %v", err)
	}
	if res.Rows[0][0] != float64(42) {
		t.Errorf("expected 42, got %v", res.Rows[0][0])
	}
}

func TestRegisterUDFRejectsZeroArity(t *testing.T) {
	_, cat, inst := newTestDeps(t)
	ctx := context.Background()
	w, _ := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")

	_, err := inst.RegisterUDF(ctx, w.ID, "constant", "function constant() { return 1; }")
	if err == nil {
		t.Fatal("expected an error for a zero-arity function")
	}
}

func TestDeleteWebhookCascadesToReferenceTablesAndUDFs(t *testing.T) {
	engine, cat, inst := newTestDeps(t)
	ctx := context.Background()
	w, _ := cat.RegisterWebhook(ctx, "/orders", "https://example.com/sink", "SELECT payload FROM {{payload}}", "", "")

	rt, err := inst.UploadReferenceTable(ctx, w.ID, "prices", "", strings.NewReader("sku,price\nA1,1\n"))
	if err != nil {
		t.Fatalf("UploadReferenceTable: %v", err)
	}
	u, err := inst.RegisterUDF(ctx, w.ID, "double", "function double(x) { return x * 2; }")
	if err != nil {
		t.Fatalf("RegisterUDF: %v", err)
	}

	if err := cat.DeleteWebhook(ctx, w.ID); err != nil {
		t.Fatalf("DeleteWebhook: %v", err)
	}

	if _, err := engine.Query(ctx, `SELECT * FROM "`+rt.PhysicalTableName+`"`); err == nil {
		t.Error("expected physical reference table to be dropped")
	}
	if _, err := engine.Query(ctx, "SELECT "+u.PhysicalFuncName+"(1)"); err == nil {
		t.Error("expected dropped udf to be unreachable")
	}
}
