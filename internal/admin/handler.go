// Package admin is the HTTP adapter translating administrative calls into
// Catalog/Installer/Audit/Pipeline operations. Every route requires the
// X-API-Key middleware to have already run.
package admin

import (
	"net/http"
	"strconv"
	"strings"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/audit"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/catalog"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/enginecore"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/installer"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pipeline"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pkg/pagination"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pkg/response"
)

// Handler holds the dependencies every admin route needs.
type Handler struct {
	engine    *enginecore.Handle
	catalog   *catalog.Catalog
	installer *installer.Installer
	audit     *audit.Audit
	pipeline  *pipeline.Pipeline
	logger    *zap.Logger
}

// New constructs a Handler.
func New(engine *enginecore.Handle, cat *catalog.Catalog, inst *installer.Installer, aud *audit.Audit, pipe *pipeline.Pipeline, logger *zap.Logger) *Handler {
	return &Handler{engine: engine, catalog: cat, installer: inst, audit: aud, pipeline: pipe, logger: logger}
}

// Register wires every admin route onto rg.
func (h *Handler) Register(rg *gin.RouterGroup) {
	rg.POST("/register", h.registerWebhook)
	rg.GET("/webhooks", h.listWebhooks)
	rg.GET("/webhook/:id", h.getWebhook)
	rg.PUT("/webhook/:id", h.updateWebhook)
	rg.DELETE("/webhook/:id", h.deleteWebhook)
	rg.PATCH("/webhook/:id/status", h.setWebhookStatus)

	rg.POST("/upload_table", h.uploadReferenceTable)
	rg.GET("/reference_tables", h.listReferenceTables)
	rg.GET("/reference_tables/:webhook_id", h.listReferenceTablesByWebhook)
	rg.DELETE("/reference_table/:id", h.deleteReferenceTable)

	rg.POST("/register_udf", h.registerUDF)
	rg.GET("/udfs", h.listUDFs)
	rg.GET("/udfs/:webhook_id", h.listUDFsByWebhook)
	rg.DELETE("/udf/:id", h.deleteUDF)

	rg.GET("/stats", h.stats)
	rg.GET("/events", h.listEvents)
	rg.GET("/event/:id/transformed", h.getTransformedEvent)
	rg.POST("/event/:id/replay", h.replayEvent)

	rg.POST("/query", h.query)
}

func writeErr(c *gin.Context, err error) {
	if e, ok := apperr.As(err); ok {
		response.Error(c, apperr.HTTPStatus(e), e)
		return
	}
	response.InternalError(c, err)
}

type registerWebhookRequest struct {
	SourcePath     string `json:"source_path" binding:"required"`
	DestinationURL string `json:"destination_url" binding:"required"`
	TransformQuery string `json:"transform_query" binding:"required"`
	FilterQuery    string `json:"filter_query"`
	Owner          string `json:"owner"`
}

func (h *Handler) registerWebhook(c *gin.Context) {
	var req registerWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	w, err := h.catalog.RegisterWebhook(c.Request.Context(), req.SourcePath, req.DestinationURL, req.TransformQuery, req.FilterQuery, req.Owner)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Created(c, w)
}

func (h *Handler) listWebhooks(c *gin.Context) {
	webhooks, err := h.catalog.ListWebhooks(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	page, meta := pagination.Slice(pagination.FromContext(c), webhooks)
	response.Paged(c, page, meta)
}

func (h *Handler) getWebhook(c *gin.Context) {
	w, err := h.catalog.GetWebhook(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, w)
}

type updateWebhookRequest struct {
	DestinationURL string `json:"destination_url"`
	TransformQuery string `json:"transform_query"`
	FilterQuery    string `json:"filter_query"`
}

func (h *Handler) updateWebhook(c *gin.Context) {
	var req updateWebhookRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	w, err := h.catalog.UpdateWebhook(c.Request.Context(), c.Param("id"), req.DestinationURL, req.TransformQuery, req.FilterQuery)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, w)
}

func (h *Handler) deleteWebhook(c *gin.Context) {
	if err := h.catalog.DeleteWebhook(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

type setStatusRequest struct {
	Active bool `json:"active"`
}

func (h *Handler) setWebhookStatus(c *gin.Context) {
	var req setStatusRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		response.BadRequest(c, err.Error())
		return
	}
	if err := h.catalog.SetActive(c.Request.Context(), c.Param("id"), req.Active); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) uploadReferenceTable(c *gin.Context) {
	webhookID := c.PostForm("webhook_id")
	tableName := c.PostForm("table_name")
	description := c.PostForm("description")

	fileHeader, err := c.FormFile("file")
	if err != nil {
		response.BadRequest(c, "file is required")
		return
	}
	file, err := fileHeader.Open()
	if err != nil {
		response.BadRequest(c, "could not open uploaded file")
		return
	}
	defer file.Close()

	rt, err := h.installer.UploadReferenceTable(c.Request.Context(), webhookID, tableName, description, file)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Created(c, rt)
}

func (h *Handler) listReferenceTables(c *gin.Context) {
	tables, err := h.catalog.ListReferenceTables(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, tables)
}

func (h *Handler) listReferenceTablesByWebhook(c *gin.Context) {
	tables, err := h.catalog.ListReferenceTablesByWebhook(c.Request.Context(), c.Param("webhook_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, tables)
}

func (h *Handler) deleteReferenceTable(c *gin.Context) {
	if err := h.catalog.DeleteReferenceTable(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) registerUDF(c *gin.Context) {
	webhookID := c.PostForm("webhook_id")
	functionName := c.PostForm("function_name")
	functionCode := c.PostForm("function_code")

	u, err := h.installer.RegisterUDF(c.Request.Context(), webhookID, functionName, functionCode)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Created(c, u)
}

func (h *Handler) listUDFs(c *gin.Context) {
	udfs, err := h.catalog.ListUDFs(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, udfs)
}

func (h *Handler) listUDFsByWebhook(c *gin.Context) {
	udfs, err := h.catalog.ListUDFsByWebhook(c.Request.Context(), c.Param("webhook_id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, udfs)
}

func (h *Handler) deleteUDF(c *gin.Context) {
	if err := h.catalog.DeleteUDF(c.Request.Context(), c.Param("id")); err != nil {
		writeErr(c, err)
		return
	}
	response.NoContent(c)
}

func (h *Handler) stats(c *gin.Context) {
	s, err := h.audit.ComputeStats(c.Request.Context())
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, s)
}

func (h *Handler) listEvents(c *gin.Context) {
	limit := 50
	if v := c.Query("limit"); v != "" {
		if n, err := strconv.Atoi(v); err == nil && n > 0 {
			limit = n
		}
	}
	events, err := h.audit.ListRecentEvents(c.Request.Context(), limit)
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, events)
}

func (h *Handler) getTransformedEvent(c *gin.Context) {
	te, err := h.audit.GetTransformedEventByRawEventID(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	response.OK(c, te)
}

func (h *Handler) replayEvent(c *gin.Context) {
	te, err := h.pipeline.Replay(c.Request.Context(), c.Param("id"))
	if err != nil {
		writeErr(c, err)
		return
	}
	response.Created(c, te)
}

func (h *Handler) query(c *gin.Context) {
	stmt := strings.TrimSpace(c.PostForm("query"))
	if stmt == "" {
		response.BadRequest(c, "query is required")
		return
	}
	if err := validateReadOnlyQuery(stmt); err != nil {
		writeErr(c, err)
		return
	}

	result, err := h.engine.Query(c.Request.Context(), stmt)
	if err != nil {
		writeErr(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"columns": result.Columns, "rows": result.Rows})
}

var readOnlyLeadingKeywords = map[string]bool{
	"SELECT":  true,
	"EXPLAIN": true,
	"PRAGMA":  true,
}

// validateReadOnlyQuery enforces the §4.7 restriction: only SELECT,
// EXPLAIN, and a narrow set of PRAGMA introspection forms are accepted.
func validateReadOnlyQuery(stmt string) error {
	fields := strings.Fields(stmt)
	if len(fields) == 0 {
		return apperr.Invalid("query is empty")
	}
	leading := strings.ToUpper(fields[0])
	if !readOnlyLeadingKeywords[leading] {
		return apperr.Invalid("only read-only statements are allowed; rejected keyword: " + leading)
	}
	if leading == "PRAGMA" && len(fields) > 1 {
		pragmaName := strings.ToLower(strings.TrimSuffix(fields[1], ";"))
		if !strings.HasPrefix(pragmaName, "table_info") && !strings.HasSuffix(pragmaName, "_list") {
			return apperr.Invalid("only PRAGMA table_info/*_list forms are allowed")
		}
	}
	return nil
}
