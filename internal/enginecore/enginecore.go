// Package enginecore owns the single physical connection to the embedded
// SQL engine backing this service. Every statement — schema bootstrap,
// catalog reads/writes, CSV bulk load, scalar-function registration, and
// the admin /query passthrough — goes through the one *Handle constructed
// here, serialized by its mutex.
package enginecore

import (
	"context"
	"database/sql"
	"fmt"
	"sync"

	_ "modernc.org/sqlite"

	"go.uber.org/zap"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
)

const schema = `
CREATE TABLE IF NOT EXISTS webhooks (
	id TEXT PRIMARY KEY,
	source_path TEXT NOT NULL UNIQUE,
	destination_url TEXT NOT NULL,
	transform_query TEXT NOT NULL,
	filter_query TEXT,
	owner TEXT,
	active INTEGER NOT NULL DEFAULT 1,
	created_at TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS reference_tables (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL,
	name TEXT NOT NULL,
	description TEXT,
	physical_table_name TEXT NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (webhook_id, name)
);

CREATE TABLE IF NOT EXISTS udfs (
	id TEXT PRIMARY KEY,
	webhook_id TEXT NOT NULL,
	name TEXT NOT NULL,
	source TEXT NOT NULL,
	physical_func_name TEXT NOT NULL,
	arity INTEGER NOT NULL,
	created_at TEXT NOT NULL,
	UNIQUE (webhook_id, name)
);

CREATE TABLE IF NOT EXISTS raw_events (
	id TEXT PRIMARY KEY,
	timestamp TEXT NOT NULL,
	source_path TEXT NOT NULL,
	payload TEXT NOT NULL,
	headers TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS transformed_events (
	id TEXT PRIMARY KEY,
	raw_event_id TEXT NOT NULL,
	webhook_id TEXT NOT NULL,
	destination_url TEXT NOT NULL,
	success INTEGER NOT NULL,
	status_code INTEGER NOT NULL,
	response_body TEXT,
	timestamp TEXT NOT NULL,
	transformed_payload TEXT
);
`

// QueryResult is the column/row shape every read returns, the same shape
// the admin /query endpoint exposes directly to callers.
type QueryResult struct {
	Columns []string
	Rows    [][]interface{}
}

// Handle is the single point of access to the embedded engine. All calls
// serialize through mu; the underlying *sql.DB is capped at one open
// connection so that invariant is enforced, not just documented.
type Handle struct {
	db     *sql.DB
	mu     sync.Mutex
	logger *zap.Logger
}

// Open creates (if absent) the engine file at path, bootstraps the schema,
// and returns a ready Handle.
func Open(path string, logger *zap.Logger) (*Handle, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, apperr.EngineError("open engine file", err)
	}
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	h := &Handle{db: db, logger: logger}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, apperr.EngineError("bootstrap schema", err)
	}
	return h, nil
}

// Close releases the underlying connection.
func (h *Handle) Close() error {
	return h.db.Close()
}

func truncateForLog(stmt string) string {
	if len(stmt) > 200 {
		return stmt[:200]
	}
	return stmt
}

// Exec runs a statement that does not return rows (INSERT/UPDATE/DELETE/
// DDL), holding the engine mutex for its duration.
func (h *Handle) Exec(ctx context.Context, stmt string, args ...interface{}) (sql.Result, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	res, err := h.db.ExecContext(ctx, stmt, args...)
	if err != nil {
		h.logger.Error("engine exec failed", zap.String("stmt", truncateForLog(stmt)), zap.Error(err))
		return nil, apperr.EngineError("exec failed", err)
	}
	return res, nil
}

// Query runs a read statement and materializes the full result set,
// holding the engine mutex for its duration.
func (h *Handle) Query(ctx context.Context, stmt string, args ...interface{}) (*QueryResult, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	rows, err := h.db.QueryContext(ctx, stmt, args...)
	if err != nil {
		h.logger.Error("engine query failed", zap.String("stmt", truncateForLog(stmt)), zap.Error(err))
		return nil, apperr.EngineError("query failed", err)
	}
	defer rows.Close()

	cols, err := rows.Columns()
	if err != nil {
		return nil, apperr.EngineError("read columns", err)
	}

	result := &QueryResult{Columns: cols, Rows: make([][]interface{}, 0)}
	for rows.Next() {
		raw := make([]interface{}, len(cols))
		ptrs := make([]interface{}, len(cols))
		for i := range raw {
			ptrs[i] = &raw[i]
		}
		if err := rows.Scan(ptrs...); err != nil {
			return nil, apperr.EngineError("scan row", err)
		}
		result.Rows = append(result.Rows, normalizeRow(raw))
	}
	if err := rows.Err(); err != nil {
		return nil, apperr.EngineError("iterate rows", err)
	}
	return result, nil
}

// normalizeRow converts driver-returned []byte values (the modernc.org/sqlite
// driver returns TEXT/BLOB columns as []byte) into strings so callers and
// JSON encoders see plain Go scalars.
func normalizeRow(raw []interface{}) []interface{} {
	out := make([]interface{}, len(raw))
	for i, v := range raw {
		if b, ok := v.([]byte); ok {
			out[i] = string(b)
		} else {
			out[i] = v
		}
	}
	return out
}

// DropTable drops a physical table if it exists. Idempotent: dropping an
// already-absent table is not an error.
func (h *Handle) DropTable(ctx context.Context, name string) error {
	_, err := h.Exec(ctx, fmt.Sprintf("DROP TABLE IF EXISTS %s", quoteIdent(name)))
	return err
}

// quoteIdent wraps a physical identifier in double quotes for use in DDL
// built from caller-controlled names; callers are expected to have already
// validated the logical name is a safe identifier (see installer.isSafeIdent).
func quoteIdent(name string) string {
	return `"` + name + `"`
}
