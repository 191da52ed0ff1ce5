// Package pagination parses page/size query parameters and computes page
// metadata the way the teacher codebase's pagination package does, minus
// its GORM-specific query helper — this service paginates over plain Go
// slices returned by the engine, not a GORM scope.
package pagination

import (
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/pkg/response"
)

const (
	DefaultPage = 1
	DefaultSize = 10
	MaxSize     = 100
)

// Query holds parsed pagination parameters.
type Query struct {
	Page int
	Size int
}

// FromContext extracts and validates pagination params from the request.
func FromContext(c *gin.Context) Query {
	page := parseIntOr(c.DefaultQuery("page", "1"), DefaultPage)
	size := parseIntOr(c.DefaultQuery("size", "10"), DefaultSize)

	if page < 1 {
		page = 1
	}
	if size < 1 {
		size = DefaultSize
	}
	if size > MaxSize {
		size = MaxSize
	}

	return Query{Page: page, Size: size}
}

// Slice returns the page of items described by q along with its
// pagination metadata.
func Slice[T any](q Query, items []T) ([]T, response.Pagination) {
	total := int64(len(items))
	totalPage := int((total + int64(q.Size) - 1) / int64(q.Size))
	if totalPage < 1 {
		totalPage = 1
	}

	offset := (q.Page - 1) * q.Size
	if offset >= len(items) {
		return []T{}, response.Pagination{
			Total: total, CurrentPage: q.Page, TotalPage: totalPage, Size: q.Size, HasNextPage: false,
		}
	}
	end := offset + q.Size
	if end > len(items) {
		end = len(items)
	}

	return items[offset:end], response.Pagination{
		Total:       total,
		CurrentPage: q.Page,
		TotalPage:   totalPage,
		Size:        q.Size,
		HasNextPage: q.Page < totalPage,
	}
}

func parseIntOr(s string, def int) int {
	v, err := strconv.Atoi(s)
	if err != nil {
		return def
	}
	return v
}
