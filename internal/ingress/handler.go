// Package ingress is the HTTP adapter for POST {source_path}: it resolves
// the webhook, validates the body is a JSON object, and hands the rest of
// the work to the pipeline.
package ingress

import (
	"encoding/json"
	"io"
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pipeline"
)

// Handler serves dynamically registered webhook ingress paths.
type Handler struct {
	pipeline *pipeline.Pipeline
	logger   *zap.Logger
}

// New constructs a Handler.
func New(pipe *pipeline.Pipeline, logger *zap.Logger) *Handler {
	return &Handler{pipeline: pipe, logger: logger}
}

// Handle is registered as the catch-all route for unmatched POSTs — every
// source path a webhook can be registered under arrives here.
func (h *Handler) Handle(c *gin.Context) {
	if c.Request.Method != http.MethodPost {
		c.Status(http.StatusNotFound)
		return
	}

	body, err := io.ReadAll(c.Request.Body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "could not read request body"})
		return
	}

	var probe interface{}
	if err := json.Unmarshal(body, &probe); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"message": "body must be valid JSON"})
		return
	}
	if _, isObject := probe.(map[string]interface{}); !isObject {
		c.JSON(http.StatusBadRequest, gin.H{"message": "body must be a JSON object"})
		return
	}

	headers := make(map[string]string, len(c.Request.Header))
	for k, v := range c.Request.Header {
		if len(v) > 0 {
			headers[k] = v[0]
		}
	}
	headersJSON, err := json.Marshal(headers)
	if err != nil {
		c.JSON(http.StatusInternalServerError, gin.H{"message": "could not serialize headers"})
		return
	}

	outcome, err := h.pipeline.Process(c.Request.Context(), c.Request.URL.Path, string(body), string(headersJSON))
	if err != nil {
		if e, ok := apperr.As(err); ok && e.Kind == apperr.KindNotFound {
			c.JSON(http.StatusNotFound, gin.H{"message": "no webhook is registered for this path"})
			return
		}
		h.logger.Error("ingress pipeline failed", zap.String("path", c.Request.URL.Path), zap.Error(err))
		c.JSON(http.StatusInternalServerError, gin.H{"message": "internal error processing event"})
		return
	}

	c.JSON(http.StatusOK, gin.H{"event_id": outcome.EventID, "status": outcome.Status})
}
