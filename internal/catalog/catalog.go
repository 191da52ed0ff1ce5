// Package catalog is the durable metadata store for webhooks, reference
// tables, and UDFs: the Catalog owns the metadata rows, validates
// registration, and enforces the uniqueness invariants from the data
// model. Physical artifact lifecycle (the actual engine tables/functions)
// belongs to the Artifact Installer; Catalog delegates to it through the
// ArtifactDropper interface so webhook deletion can cascade without the
// two packages importing each other.
package catalog

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

// ArtifactDropper drops the physical engine objects backing a reference
// table or UDF. The Artifact Installer implements this.
type ArtifactDropper interface {
	DropReferenceTable(ctx context.Context, rt models.ReferenceTable) error
	DropUDF(ctx context.Context, udf models.UDF) error
}

// Catalog is the metadata store built over the engine handle.
type Catalog struct {
	engine  *enginecore.Handle
	logger  *zap.Logger
	dropper ArtifactDropper
}

// New constructs a Catalog. SetDropper must be called before DeleteWebhook
// is used, since webhook deletion cascades to that webhook's reference
// tables and UDFs.
func New(engine *enginecore.Handle, logger *zap.Logger) *Catalog {
	return &Catalog{engine: engine, logger: logger}
}

// SetDropper wires in the Artifact Installer so webhook deletion can
// cascade to physical objects.
func (c *Catalog) SetDropper(d ArtifactDropper) {
	c.dropper = d
}

// RegisterWebhook validates and persists a new webhook. Fails Conflict if
// sourcePath is already registered, Invalid if the transform omits
// {{payload}} or either query fails dry validation.
func (c *Catalog) RegisterWebhook(ctx context.Context, sourcePath, destinationURL, transformQuery, filterQuery, owner string) (models.Webhook, error) {
	sourcePath = normalizePath(sourcePath)
	if sourcePath == "" {
		return models.Webhook{}, apperr.Invalid("source_path must not be empty")
	}
	if destinationURL == "" {
		return models.Webhook{}, apperr.Invalid("destination_url must not be empty")
	}
	if !strings.Contains(transformQuery, "{{payload}}") {
		return models.Webhook{}, apperr.Invalid("transform_query must contain the literal token {{payload}}")
	}

	if _, err := c.GetWebhookByPath(ctx, sourcePath); err == nil {
		return models.Webhook{}, apperr.Conflict("source_path is already registered")
	} else if e, ok := apperr.As(err); !ok || e.Kind != apperr.KindNotFound {
		return models.Webhook{}, err
	}

	if err := c.dryValidate(ctx, transformQuery, filterQuery); err != nil {
		return models.Webhook{}, err
	}

	w := models.Webhook{
		Base:           models.Base{ID: uuid.New().String(), CreatedAt: time.Now().UTC()},
		SourcePath:     sourcePath,
		DestinationURL: destinationURL,
		TransformQuery: transformQuery,
		FilterQuery:    filterQuery,
		Owner:          owner,
		Active:         true,
	}

	_, err := c.engine.Exec(ctx,
		`INSERT INTO webhooks (id, source_path, destination_url, transform_query, filter_query, owner, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		w.ID, w.SourcePath, w.DestinationURL, w.TransformQuery, nullable(w.FilterQuery), nullable(w.Owner), boolToInt(w.Active), w.CreatedAt.Format(time.RFC3339Nano))
	if err != nil {
		return models.Webhook{}, err
	}

	c.logger.Info("webhook registered", zap.String("webhook_id", w.ID), zap.String("source_path", w.SourcePath))
	return w, nil
}

// dryValidate runs the filter and transform against a one-row view
// synthesized from {} to catch syntactically broken SQL at registration
// time rather than at first ingress.
func (c *Catalog) dryValidate(ctx context.Context, transformQuery, filterQuery string) error {
	viewName := "dry_validate_" + strings.ReplaceAll(uuid.New().String(), "-", "_")
	if err := c.createEphemeralPayloadView(ctx, viewName, "{}"); err != nil {
		return apperr.Invalid("could not build validation view: " + err.Error())
	}
	defer c.dropEphemeralView(ctx, viewName)

	if filterQuery != "" {
		stmt := "SELECT (" + strings.ReplaceAll(filterQuery, "{{payload}}", viewName) + ") FROM " + viewName
		if _, err := c.engine.Query(ctx, stmt); err != nil {
			return apperr.Invalid("filter_query failed validation: " + err.Error())
		}
	}

	stmt := strings.ReplaceAll(transformQuery, "{{payload}}", viewName)
	if _, err := c.engine.Query(ctx, stmt); err != nil {
		return apperr.Invalid("transform_query failed validation: " + err.Error())
	}
	return nil
}

func (c *Catalog) createEphemeralPayloadView(ctx context.Context, viewName, payloadJSON string) error {
	// SQLite does not accept bound parameters inside CREATE VIEW, so the
	// payload is inlined as a quoted string literal.
	literal := "'" + strings.ReplaceAll(payloadJSON, "'", "''") + "'"
	_, err := c.engine.Exec(ctx,
		"CREATE TEMP VIEW "+viewName+" AS SELECT "+literal+" AS payload")
	return err
}

func (c *Catalog) dropEphemeralView(ctx context.Context, viewName string) {
	_, _ = c.engine.Exec(ctx, "DROP VIEW IF EXISTS "+viewName)
}

// ListWebhooks returns all registered webhooks, newest first.
func (c *Catalog) ListWebhooks(ctx context.Context) ([]models.Webhook, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, source_path, destination_url, transform_query, filter_query, owner, active, created_at
		 FROM webhooks ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	out := make([]models.Webhook, 0, len(res.Rows))
	for _, row := range res.Rows {
		w, err := scanWebhook(row)
		if err != nil {
			return nil, apperr.EngineError("scan webhook row", err)
		}
		out = append(out, w)
	}
	return out, nil
}

// GetWebhook looks up a webhook by id. Fails NotFound if absent.
func (c *Catalog) GetWebhook(ctx context.Context, id string) (models.Webhook, error) {
	return c.getWebhookBy(ctx, "id", id)
}

// GetWebhookByPath looks up a webhook by its registered source path.
func (c *Catalog) GetWebhookByPath(ctx context.Context, path string) (models.Webhook, error) {
	return c.getWebhookBy(ctx, "source_path", normalizePath(path))
}

func (c *Catalog) getWebhookBy(ctx context.Context, column, value string) (models.Webhook, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, source_path, destination_url, transform_query, filter_query, owner, active, created_at
		 FROM webhooks WHERE `+column+` = ?`, value)
	if err != nil {
		return models.Webhook{}, err
	}
	if len(res.Rows) == 0 {
		return models.Webhook{}, apperr.NotFound("webhook not found")
	}
	return scanWebhook(res.Rows[0])
}

// UpdateWebhook replaces the mutable fields of an existing webhook.
func (c *Catalog) UpdateWebhook(ctx context.Context, id, destinationURL, transformQuery, filterQuery string) (models.Webhook, error) {
	existing, err := c.GetWebhook(ctx, id)
	if err != nil {
		return models.Webhook{}, err
	}
	if destinationURL != "" {
		existing.DestinationURL = destinationURL
	}
	if transformQuery != "" {
		if !strings.Contains(transformQuery, "{{payload}}") {
			return models.Webhook{}, apperr.Invalid("transform_query must contain the literal token {{payload}}")
		}
		existing.TransformQuery = transformQuery
	}
	existing.FilterQuery = filterQuery

	if err := c.dryValidate(ctx, existing.TransformQuery, existing.FilterQuery); err != nil {
		return models.Webhook{}, err
	}

	_, err = c.engine.Exec(ctx,
		`UPDATE webhooks SET destination_url = ?, transform_query = ?, filter_query = ? WHERE id = ?`,
		existing.DestinationURL, existing.TransformQuery, nullable(existing.FilterQuery), existing.ID)
	if err != nil {
		return models.Webhook{}, err
	}
	return existing, nil
}

// SetActive flips the active flag on a webhook.
func (c *Catalog) SetActive(ctx context.Context, id string, active bool) error {
	if _, err := c.GetWebhook(ctx, id); err != nil {
		return err
	}
	_, err := c.engine.Exec(ctx, `UPDATE webhooks SET active = ? WHERE id = ?`, boolToInt(active), id)
	return err
}

// DeleteWebhook cascades: drops every reference table and UDF belonging to
// the webhook via the Artifact Installer, then deletes all metadata rows.
func (c *Catalog) DeleteWebhook(ctx context.Context, id string) error {
	if _, err := c.GetWebhook(ctx, id); err != nil {
		return err
	}

	tables, err := c.ListReferenceTablesByWebhook(ctx, id)
	if err != nil {
		return err
	}
	for _, t := range tables {
		if c.dropper != nil {
			if err := c.dropper.DropReferenceTable(ctx, t); err != nil {
				return err
			}
		}
	}

	udfs, err := c.ListUDFsByWebhook(ctx, id)
	if err != nil {
		return err
	}
	for _, u := range udfs {
		if c.dropper != nil {
			if err := c.dropper.DropUDF(ctx, u); err != nil {
				return err
			}
		}
	}

	if _, err := c.engine.Exec(ctx, `DELETE FROM reference_tables WHERE webhook_id = ?`, id); err != nil {
		return err
	}
	if _, err := c.engine.Exec(ctx, `DELETE FROM udfs WHERE webhook_id = ?`, id); err != nil {
		return err
	}
	if _, err := c.engine.Exec(ctx, `DELETE FROM webhooks WHERE id = ?`, id); err != nil {
		return err
	}
	c.logger.Info("webhook deleted", zap.String("webhook_id", id))
	return nil
}

// RecordReferenceTable persists reference-table metadata. Used by the
// Artifact Installer after the physical table has been created.
func (c *Catalog) RecordReferenceTable(ctx context.Context, rt models.ReferenceTable) error {
	_, err := c.engine.Exec(ctx,
		`INSERT INTO reference_tables (id, webhook_id, name, description, physical_table_name, created_at)
		 VALUES (?, ?, ?, ?, ?, ?)
		 ON CONFLICT(webhook_id, name) DO UPDATE SET
		   description = excluded.description,
		   physical_table_name = excluded.physical_table_name,
		   created_at = excluded.created_at`,
		rt.ID, rt.WebhookID, rt.Name, nullable(rt.Description), rt.PhysicalTableName, rt.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// GetReferenceTableByName looks up existing metadata for a logical name
// under a webhook, used to detect re-upload.
func (c *Catalog) GetReferenceTableByName(ctx context.Context, webhookID, name string) (models.ReferenceTable, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, description, physical_table_name, created_at
		 FROM reference_tables WHERE webhook_id = ? AND name = ?`, webhookID, name)
	if err != nil {
		return models.ReferenceTable{}, err
	}
	if len(res.Rows) == 0 {
		return models.ReferenceTable{}, apperr.NotFound("reference table not found")
	}
	return scanReferenceTable(res.Rows[0])
}

// ListReferenceTables returns every registered reference table.
func (c *Catalog) ListReferenceTables(ctx context.Context) ([]models.ReferenceTable, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, description, physical_table_name, created_at FROM reference_tables ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanReferenceTables(res.Rows)
}

// ListReferenceTablesByWebhook returns the reference tables belonging to one webhook.
func (c *Catalog) ListReferenceTablesByWebhook(ctx context.Context, webhookID string) ([]models.ReferenceTable, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, description, physical_table_name, created_at FROM reference_tables WHERE webhook_id = ? ORDER BY created_at DESC`, webhookID)
	if err != nil {
		return nil, err
	}
	return scanReferenceTables(res.Rows)
}

// GetReferenceTable looks up a reference table by id.
func (c *Catalog) GetReferenceTable(ctx context.Context, id string) (models.ReferenceTable, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, description, physical_table_name, created_at FROM reference_tables WHERE id = ?`, id)
	if err != nil {
		return models.ReferenceTable{}, err
	}
	if len(res.Rows) == 0 {
		return models.ReferenceTable{}, apperr.NotFound("reference table not found")
	}
	return scanReferenceTable(res.Rows[0])
}

// DeleteReferenceTable drops the physical table via the installer and
// removes its metadata row.
func (c *Catalog) DeleteReferenceTable(ctx context.Context, id string) error {
	rt, err := c.GetReferenceTable(ctx, id)
	if err != nil {
		return err
	}
	if c.dropper != nil {
		if err := c.dropper.DropReferenceTable(ctx, rt); err != nil {
			return err
		}
	}
	_, err = c.engine.Exec(ctx, `DELETE FROM reference_tables WHERE id = ?`, id)
	return err
}

// RecordUDF persists UDF metadata, used by the Artifact Installer after
// engine registration succeeds.
func (c *Catalog) RecordUDF(ctx context.Context, u models.UDF) error {
	_, err := c.engine.Exec(ctx,
		`INSERT INTO udfs (id, webhook_id, name, source, physical_func_name, arity, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT(webhook_id, name) DO UPDATE SET
		   source = excluded.source,
		   physical_func_name = excluded.physical_func_name,
		   arity = excluded.arity,
		   created_at = excluded.created_at`,
		u.ID, u.WebhookID, u.Name, u.Source, u.PhysicalFuncName, u.Arity, u.CreatedAt.Format(time.RFC3339Nano))
	return err
}

// GetUDFByName looks up existing metadata for a logical UDF name under a webhook.
func (c *Catalog) GetUDFByName(ctx context.Context, webhookID, name string) (models.UDF, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, source, physical_func_name, arity, created_at FROM udfs WHERE webhook_id = ? AND name = ?`, webhookID, name)
	if err != nil {
		return models.UDF{}, err
	}
	if len(res.Rows) == 0 {
		return models.UDF{}, apperr.NotFound("udf not found")
	}
	return scanUDF(res.Rows[0])
}

// ListUDFs returns every registered UDF.
func (c *Catalog) ListUDFs(ctx context.Context) ([]models.UDF, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, source, physical_func_name, arity, created_at FROM udfs ORDER BY created_at DESC`)
	if err != nil {
		return nil, err
	}
	return scanUDFs(res.Rows)
}

// ListUDFsByWebhook returns the UDFs belonging to one webhook.
func (c *Catalog) ListUDFsByWebhook(ctx context.Context, webhookID string) ([]models.UDF, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, source, physical_func_name, arity, created_at FROM udfs WHERE webhook_id = ? ORDER BY created_at DESC`, webhookID)
	if err != nil {
		return nil, err
	}
	return scanUDFs(res.Rows)
}

// GetUDF looks up a UDF by id.
func (c *Catalog) GetUDF(ctx context.Context, id string) (models.UDF, error) {
	res, err := c.engine.Query(ctx,
		`SELECT id, webhook_id, name, source, physical_func_name, arity, created_at FROM udfs WHERE id = ?`, id)
	if err != nil {
		return models.UDF{}, err
	}
	if len(res.Rows) == 0 {
		return models.UDF{}, apperr.NotFound("udf not found")
	}
	return scanUDF(res.Rows[0])
}

// DeleteUDF drops the function via the installer and removes its metadata row.
func (c *Catalog) DeleteUDF(ctx context.Context, id string) error {
	u, err := c.GetUDF(ctx, id)
	if err != nil {
		return err
	}
	if c.dropper != nil {
		if err := c.dropper.DropUDF(ctx, u); err != nil {
			return err
		}
	}
	_, err = c.engine.Exec(ctx, `DELETE FROM udfs WHERE id = ?`, id)
	return err
}

func normalizePath(p string) string {
	p = strings.TrimSpace(p)
	if p == "" {
		return ""
	}
	if !strings.HasPrefix(p, "/") {
		p = "/" + p
	}
	return p
}

func nullable(s string) interface{} {
	if s == "" {
		return nil
	}
	return s
}

func boolToInt(b bool) int64 {
	if b {
		return 1
	}
	return 0
}
