// Package udfrt compiles and invokes operator-supplied JavaScript scalar
// functions. It follows the same goja usage pattern as the teacher
// codebase's own embedded-script execution module: a VM is created,
// RunString loads the source, Get+AssertFunction obtains a callable, and
// Export converts the JS return value back into a plain Go value.
package udfrt

import (
	"fmt"

	"github.com/dop251/goja"

	"github.com/patricktrainer/duckdb-webhook-gateway/internal/apperr"
)

// Compiled holds a validated UDF source ready to be invoked. Each call
// gets a fresh goja.Runtime (see Call) so one row's invocation can never
// observe state left behind by another.
type Compiled struct {
	source   string
	funcName string
	arity    int
}

// Compile loads source, verifies a top-level function declaration named
// funcName exists, and reads its declared parameter count. Fails with
// apperr.Invalid if compilation fails, the name isn't found, or the
// function declares zero parameters.
func Compile(source, funcName string) (*Compiled, error) {
	vm := goja.New()
	if _, err := vm.RunString(source); err != nil {
		return nil, apperr.Invalid(fmt.Sprintf("udf source failed to compile: %v", err))
	}

	val := vm.Get(funcName)
	if val == nil || goja.IsUndefined(val) {
		return nil, apperr.Invalid(fmt.Sprintf("no top-level function named %q", funcName))
	}
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, apperr.Invalid(fmt.Sprintf("%q is not a function", funcName))
	}

	lengthVal, err := vm.RunString(funcName + ".length")
	if err != nil {
		return nil, apperr.Invalid(fmt.Sprintf("could not read arity of %q: %v", funcName, err))
	}
	arity := int(lengthVal.ToInteger())
	if arity < 1 {
		return nil, apperr.Invalid(fmt.Sprintf("%q must declare at least one parameter", funcName))
	}

	// fn is only used above to confirm callability; the real call happens
	// against a fresh runtime in Call.
	_ = fn

	return &Compiled{source: source, funcName: funcName, arity: arity}, nil
}

// Arity returns the function's declared parameter count.
func (c *Compiled) Arity() int { return c.arity }

// Call invokes the function with a fresh VM, converting args in and the
// return value back out. JS return types coerce to Go types per the
// engine's scalar coercion rule: string->string, number->float64,
// boolean->bool, null/undefined->nil.
func (c *Compiled) Call(args []interface{}) (interface{}, error) {
	vm := goja.New()
	if _, err := vm.RunString(c.source); err != nil {
		return nil, apperr.EvaluationError("udf source failed to compile on invocation", err)
	}

	val := vm.Get(c.funcName)
	fn, ok := goja.AssertFunction(val)
	if !ok {
		return nil, apperr.EvaluationError(fmt.Sprintf("%q is not callable", c.funcName), nil)
	}

	jsArgs := make([]goja.Value, len(args))
	for i, a := range args {
		jsArgs[i] = vm.ToValue(a)
	}

	result, err := fn(goja.Undefined(), jsArgs...)
	if err != nil {
		return nil, apperr.EvaluationError(fmt.Sprintf("udf %q raised an error", c.funcName), err)
	}

	exported := result.Export()
	return coerceJSResult(exported)
}

func coerceJSResult(v interface{}) (interface{}, error) {
	switch t := v.(type) {
	case nil:
		return nil, nil
	case string:
		return t, nil
	case bool:
		return t, nil
	case int64:
		return float64(t), nil
	case float64:
		return t, nil
	default:
		return nil, fmt.Errorf("udf returned unsupported type %T", v)
	}
}
