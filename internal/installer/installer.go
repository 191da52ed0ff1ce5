// Package installer creates and drops the physical engine objects backing
// a webhook's reference tables and UDFs, under the naming rule from the
// data model (§3) that keeps identical logical names under different
// webhooks from colliding physically.
package installer

import (
	"context"
	"encoding/csv"
	"fmt"
	"io"
	"regexp"
	"strconv"
	"time"

	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/catalog"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/models"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/udfrt"
)

var safeIdentPattern = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_]*$`)

// Installer owns reference-table and UDF physical lifecycle.
type Installer struct {
	engine  *enginecore.Handle
	catalog *catalog.Catalog
	logger  *zap.Logger
}

// New constructs an Installer.
func New(engine *enginecore.Handle, cat *catalog.Catalog, logger *zap.Logger) *Installer {
	return &Installer{engine: engine, catalog: cat, logger: logger}
}

func isSafeIdent(name string) bool {
	return safeIdentPattern.MatchString(name)
}

// referenceTablePhysicalName implements the §3 naming rule.
func referenceTablePhysicalName(webhookID, logicalName string) string {
	return "ref_" + models.DashesToUnderscores(webhookID) + "_" + logicalName
}

// udfPhysicalName implements the §3 naming rule.
func udfPhysicalName(webhookID, logicalName string) string {
	return "udf_" + models.DashesToUnderscores(webhookID) + "_" + logicalName
}

// UploadReferenceTable loads csvData as the named reference table under
// webhookID, replacing any existing table of the same logical name.
func (in *Installer) UploadReferenceTable(ctx context.Context, webhookID, name, description string, csvData io.Reader) (models.ReferenceTable, error) {
	if !isSafeIdent(name) {
		return models.ReferenceTable{}, apperr.Invalid("table name must be a safe identifier (letters, digits, underscore, not starting with a digit)")
	}
	webhook, err := in.catalog.GetWebhook(ctx, webhookID)
	if err != nil {
		return models.ReferenceTable{}, err
	}

	columns, rows, err := inferAndParseCSV(csvData)
	if err != nil {
		return models.ReferenceTable{}, apperr.Invalid("could not parse CSV: " + err.Error())
	}

	physicalName := referenceTablePhysicalName(webhook.ID, name)

	id := uuid.New().String()
	if existing, err := in.catalog.GetReferenceTableByName(ctx, webhookID, name); err == nil {
		id = existing.ID
	}

	if err := in.engine.CreateAndLoadTable(ctx, physicalName, columns, rows); err != nil {
		return models.ReferenceTable{}, err
	}

	rt := models.ReferenceTable{
		Base:              models.Base{ID: id, CreatedAt: time.Now().UTC()},
		WebhookID:         webhookID,
		Name:              name,
		Description:       description,
		PhysicalTableName: physicalName,
	}
	if err := in.catalog.RecordReferenceTable(ctx, rt); err != nil {
		return models.ReferenceTable{}, err
	}

	in.logger.Info("reference table uploaded",
		zap.String("webhook_id", webhookID), zap.String("name", name), zap.Int("rows", len(rows)))
	return rt, nil
}

// DropReferenceTable drops the physical table. Idempotent.
func (in *Installer) DropReferenceTable(ctx context.Context, rt models.ReferenceTable) error {
	return in.engine.DropTable(ctx, rt.PhysicalTableName)
}

// RegisterUDF compiles source, verifies it declares a top-level function
// named name with at least one parameter, and registers it as a scalar
// function in the engine.
func (in *Installer) RegisterUDF(ctx context.Context, webhookID, name, source string) (models.UDF, error) {
	if !isSafeIdent(name) {
		return models.UDF{}, apperr.Invalid("function name must be a safe identifier (letters, digits, underscore, not starting with a digit)")
	}
	webhook, err := in.catalog.GetWebhook(ctx, webhookID)
	if err != nil {
		return models.UDF{}, err
	}

	compiled, err := udfrt.Compile(source, name)
	if err != nil {
		return models.UDF{}, err
	}

	physicalName := udfPhysicalName(webhook.ID, name)
	if err := in.engine.RegisterScalarFunction(physicalName, compiled.Arity(), func(args []interface{}) (interface{}, error) {
		return compiled.Call(args)
	}); err != nil {
		return models.UDF{}, apperr.EngineError("register scalar function", err)
	}

	id := uuid.New().String()
	if existing, err := in.catalog.GetUDFByName(ctx, webhookID, name); err == nil {
		id = existing.ID
	}

	u := models.UDF{
		Base:             models.Base{ID: id, CreatedAt: time.Now().UTC()},
		WebhookID:        webhookID,
		Name:             name,
		Source:           source,
		PhysicalFuncName: physicalName,
		Arity:            compiled.Arity(),
	}
	if err := in.catalog.RecordUDF(ctx, u); err != nil {
		return models.UDF{}, err
	}

	in.logger.Info("udf registered",
		zap.String("webhook_id", webhookID), zap.String("name", name), zap.Int("arity", u.Arity))
	return u, nil
}

// DropUDF removes the function from the live dispatch table. Best-effort —
// see enginecore.Handle.DropScalarFunction.
func (in *Installer) DropUDF(ctx context.Context, u models.UDF) error {
	return in.engine.DropScalarFunction(u.PhysicalFuncName)
}

// LoadAllUDFs re-registers every persisted UDF's implementation in the
// engine's in-memory dispatch table. Necessary after process restart,
// since the dispatch table (enginecore's function registry) does not
// survive a restart even though the metadata does. Mirrors the original
// implementation's load_webhook_udfs startup step.
func (in *Installer) LoadAllUDFs(ctx context.Context) error {
	udfs, err := in.catalog.ListUDFs(ctx)
	if err != nil {
		return err
	}
	for _, u := range udfs {
		compiled, err := udfrt.Compile(u.Source, u.Name)
		if err != nil {
			in.logger.Error("failed to recompile udf on startup",
				zap.String("udf_id", u.ID), zap.Error(err))
			continue
		}
		if err := in.engine.RegisterScalarFunction(u.PhysicalFuncName, compiled.Arity(), func(args []interface{}) (interface{}, error) {
			return compiled.Call(args)
		}); err != nil {
			in.logger.Error("failed to re-register udf on startup",
				zap.String("udf_id", u.ID), zap.Error(err))
		}
	}
	return nil
}

// inferAndParseCSV reads a header row plus data rows and infers a column
// type for each: INTEGER if every data row's value parses as an integer,
// REAL if every value parses as a float (and it wasn't all-integer), TEXT
// otherwise.
func inferAndParseCSV(r io.Reader) ([]enginecore.ColumnDef, [][]string, error) {
	reader := csv.NewReader(r)
	header, err := reader.Read()
	if err != nil {
		return nil, nil, fmt.Errorf("reading header row: %w", err)
	}
	var rows [][]string
	for {
		row, err := reader.Read()
		if err == io.EOF {
			break
		}
		if err != nil {
			return nil, nil, err
		}
		rows = append(rows, row)
	}

	columns := make([]enginecore.ColumnDef, len(header))
	for i, name := range header {
		columns[i] = enginecore.ColumnDef{Name: name, Type: inferColumnType(rows, i)}
	}
	return columns, rows, nil
}

func inferColumnType(rows [][]string, col int) string {
	allInt := true
	allFloat := true
	saw := false
	for _, row := range rows {
		if col >= len(row) {
			continue
		}
		v := row[col]
		if v == "" {
			continue
		}
		saw = true
		if _, err := strconv.ParseInt(v, 10, 64); err != nil {
			allInt = false
		}
		if _, err := strconv.ParseFloat(v, 64); err != nil {
			allFloat = false
		}
	}
	if !saw {
		return "TEXT"
	}
	if allInt {
		return "INTEGER"
	}
	if allFloat {
		return "REAL"
	}
	return "TEXT"
}
