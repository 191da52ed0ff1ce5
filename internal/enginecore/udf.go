package enginecore

import (
	"database/sql/driver"
	"fmt"
	"sync"

	"modernc.org/sqlite"
)

// ScalarFunc is a Go-side scalar function implementation: it receives the
// row's argument values (already unwrapped to plain Go types) and returns
// a value the engine can store (string, int64, float64, bool, or nil).
type ScalarFunc func(args []interface{}) (interface{}, error)

// funcRegistry holds the live dispatch table mapping physical function
// names to their current Go implementation. The modernc.org/sqlite driver
// only lets a scalar function be registered once per process; dropping a
// UDF can't unregister that low-level binding, so drop instead removes the
// entry here, which is what every call actually consults.
type funcRegistry struct {
	mu    sync.RWMutex
	funcs map[string]ScalarFunc
	bound map[string]bool
}

var registry = &funcRegistry{
	funcs: make(map[string]ScalarFunc),
	bound: make(map[string]bool),
}

// RegisterScalarFunction installs fn as the implementation backing
// physicalName in the engine, registering the low-level SQLite binding the
// first time this physical name is seen and simply updating the dispatch
// table on any later call (re-registration after a drop, for instance).
// The driver applies a new binding only to connections opened after it, so
// every registration closes the pooled connection and the next statement
// opens a fresh one; TEMP objects of the old connection do not survive that.
func (h *Handle) RegisterScalarFunction(physicalName string, arity int, fn ScalarFunc) error {
	if err := bindScalarFunction(physicalName, arity, fn); err != nil {
		return err
	}
	h.mu.Lock()
	h.db.SetMaxIdleConns(0)
	h.db.SetMaxIdleConns(1)
	h.mu.Unlock()
	return nil
}

func bindScalarFunction(physicalName string, arity int, fn ScalarFunc) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()

	registry.funcs[physicalName] = fn

	if registry.bound[physicalName] {
		return nil
	}

	name := physicalName
	err := sqlite.RegisterDeterministicScalarFunction(name, int32(arity),
		func(ctx *sqlite.FunctionContext, args []driver.Value) (driver.Value, error) {
			registry.mu.RLock()
			impl, ok := registry.funcs[name]
			registry.mu.RUnlock()
			if !ok {
				return nil, fmt.Errorf("function %q is no longer registered", name)
			}
			goArgs := make([]interface{}, len(args))
			for i, v := range args {
				goArgs[i] = v
			}
			result, err := impl(goArgs)
			if err != nil {
				return nil, err
			}
			return coerceToDriverValue(result)
		})
	if err != nil {
		delete(registry.funcs, physicalName)
		return fmt.Errorf("register scalar function %q: %w", physicalName, err)
	}
	registry.bound[physicalName] = true
	return nil
}

// DropScalarFunction makes physicalName unreachable from any future query.
// This is best-effort: the underlying engine process may still carry the
// low-level binding (SQLite gives no API to unregister one), but any call
// into it now fails with "no longer registered" because the dispatch table
// entry is gone.
func (h *Handle) DropScalarFunction(physicalName string) error {
	registry.mu.Lock()
	defer registry.mu.Unlock()
	delete(registry.funcs, physicalName)
	return nil
}

// coerceToDriverValue maps a Go value returned by a UDF implementation to
// one of the handful of types database/sql/driver accepts.
func coerceToDriverValue(v interface{}) (driver.Value, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case bool:
		if t {
			return int64(1), nil
		}
		return int64(0), nil
	case int:
		return int64(t), nil
	case int64:
		return t, nil
	case float64:
		return t, nil
	default:
		return nil, fmt.Errorf("unsupported UDF return type %T", v)
	}
}
