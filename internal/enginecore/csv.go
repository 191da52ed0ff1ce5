package enginecore

import (
	"context"
	"fmt"
	"strings"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
)

// ColumnDef names one inferred CSV column and its engine type.
type ColumnDef struct {
	Name string
	Type string // TEXT, INTEGER, or REAL
}

// CreateAndLoadTable drops physicalName if present, creates it with the
// given columns, and bulk-inserts rows, all inside one transaction held
// under the engine mutex.
func (h *Handle) CreateAndLoadTable(ctx context.Context, physicalName string, columns []ColumnDef, rows [][]string) error {
	h.mu.Lock()
	defer h.mu.Unlock()

	tx, err := h.db.BeginTx(ctx, nil)
	if err != nil {
		return apperr.EngineError("begin load transaction", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(physicalName))); err != nil {
		return apperr.EngineError("drop existing reference table", err)
	}

	colDefs := make([]string, len(columns))
	for i, c := range columns {
		colDefs[i] = fmt.Sprintf("%s %s", quoteIdent(c.Name), c.Type)
	}
	createStmt := fmt.Sprintf("CREATE TABLE %s (%s)", quoteIdent(physicalName), strings.Join(colDefs, ", "))
	if _, err := tx.ExecContext(ctx, createStmt); err != nil {
		return apperr.EngineError("create reference table", err)
	}

	if len(rows) > 0 {
		placeholders := make([]string, len(columns))
		for i := range placeholders {
			placeholders[i] = "?"
		}
		insertStmt := fmt.Sprintf("INSERT INTO %s VALUES (%s)", quoteIdent(physicalName), strings.Join(placeholders, ", "))
		stmt, err := tx.PrepareContext(ctx, insertStmt)
		if err != nil {
			return apperr.EngineError("prepare reference table insert", err)
		}
		defer stmt.Close()

		for _, row := range rows {
			args := make([]interface{}, len(row))
			for i, v := range row {
				args[i] = v
			}
			if _, err := stmt.ExecContext(ctx, args...); err != nil {
				return apperr.EngineError("insert reference table row", err)
			}
		}
	}

	if err := tx.Commit(); err != nil {
		return apperr.EngineError("commit load transaction", err)
	}
	return nil
}
