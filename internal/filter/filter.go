// Package filter evaluates per-destination CEL expressions against decoded
// records. A destination with no expression accepts everything.
package filter

import (
	"strings"
	"time"

	"github.com/google/cel-go/cel"
)

// Filter wraps a compiled CEL program. When disabled, Eval always returns
// true.
type Filter struct {
	prog    cel.Program
	enabled bool
}

// New compiles expr. An empty expression yields a disabled filter.
// Expressions see the decoded record as `record`, the destination key as
// `key`, and the current time in milliseconds as `now_ms`.
func New(expr string) (Filter, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return Filter{enabled: false}, nil
	}
	env, err := cel.NewEnv(
		cel.Variable("record", cel.DynType),
		cel.Variable("key", cel.StringType),
		cel.Variable("now_ms", cel.IntType),
	)
	if err != nil {
		return Filter{}, err
	}
	ast, iss := env.Parse(expr)
	if iss != nil && iss.Err() != nil {
		return Filter{}, iss.Err()
	}
	checked, iss2 := env.Check(ast)
	if iss2 != nil && iss2.Err() != nil {
		return Filter{}, iss2.Err()
	}
	prog, err := env.Program(checked)
	if err != nil {
		return Filter{}, err
	}
	return Filter{prog: prog, enabled: true}, nil
}

// Enabled reports whether an expression is compiled in.
func (f Filter) Enabled() bool { return f.enabled }

// Eval reports whether the record passes. Evaluation errors and non-boolean
// results reject the record.
func (f Filter) Eval(key string, record map[string]any) bool {
	if !f.enabled {
		return true
	}
	out, _, err := f.prog.Eval(map[string]any{
		"record": record,
		"key":    key,
		"now_ms": time.Now().UnixMilli(),
	})
	if err != nil {
		return false
	}
	b, ok := out.Value().(bool)
	return ok && b
}
