// Package sandbox evaluates automation condition/action scripts against
// event context. Scripts are a restricted subset of Go expression and
// statement syntax: literals, identifiers, selector/index access into
// the bound `event` map, binary/unary operators, if/return statements,
// local variable declarations, and calls to a curated allow-list of
// host functions. There is no I/O, no imports, and no unbounded loops.
//
// No embeddable scripting library (Starlark-for-Go, expr-lang/expr,
// etc.) appears in any example repo's dependency set — the original
// implementation's use of Starlark has no Go-ecosystem counterpart
// present in this codebase's pack, so this evaluator is built directly
// on stdlib go/parser and go/ast rather than a wrapped library.
package sandbox

import (
	"context"
	"fmt"
	"go/ast"
	"go/parser"
	"go/token"
	"time"
)

// Outcome is the verdict of a sandbox evaluation.
type Outcome string

const (
	// OutcomeOK means the script ran to completion within its bounds.
	OutcomeOK Outcome = "ok"
	// OutcomeError covers parse errors, type errors, unknown identifiers,
	// and disallowed constructs.
	OutcomeError Outcome = "error"
	// OutcomeTimeout means the wall-clock deadline was exceeded.
	OutcomeTimeout Outcome = "timeout"
	// OutcomeStepLimit means the step bound was exceeded.
	OutcomeStepLimit Outcome = "step_limit"
)

// Result is what a single Eval call returns.
type Result struct {
	Outcome Outcome
	// Value holds the script's return value for action scripts, or the
	// boolean result for condition scripts. Nil on any non-OK outcome.
	Value any
	Err   error
}

// Limits bounds a single sandbox evaluation. Zero values fall back to
// the package defaults (~100ms wall clock, ~10^5 steps), matching
// spec.md's stated defaults for the Script Sandbox.
type Limits struct {
	MaxDuration time.Duration
	MaxSteps    int
}

func (l Limits) orDefaults() Limits {
	if l.MaxDuration <= 0 {
		l.MaxDuration = 100 * time.Millisecond
	}
	if l.MaxSteps <= 0 {
		l.MaxSteps = 100000
	}
	return l
}

// HostFunc is a curated, capability-checked function exposed to
// scripts. Arguments arrive already evaluated; HostFunc must not block
// on I/O (condition/action scripts have no I/O capability at all).
type HostFunc func(args []any) (any, error)

// Sandbox holds the allow-listed host function table shared across
// evaluations. A zero-value Sandbox has no host functions — callers
// register what their deployment needs via Register.
type Sandbox struct {
	funcs map[string]HostFunc
}

// New constructs a Sandbox with the default host function set: len,
// contains, lower, upper — pure, allocation-only helpers with no
// ambient authority, safe to expose to every automation regardless of
// which conversation owns it.
func New() *Sandbox {
	s := &Sandbox{funcs: map[string]HostFunc{}}
	registerDefaults(s)
	return s
}

// Register adds or replaces a host function. Overwriting a default is
// allowed so a deployment can tighten or widen the default set.
func (s *Sandbox) Register(name string, fn HostFunc) {
	if s.funcs == nil {
		s.funcs = map[string]HostFunc{}
	}
	s.funcs[name] = fn
}

// EvalCondition evaluates condScript as a single boolean expression
// with event bound. A non-boolean result, parse error, or exceeded
// bound all yield Outcome != OK, and per spec.md's error-handling
// table, callers must treat a non-OK outcome as a false match.
func (s *Sandbox) EvalCondition(ctx context.Context, condScript string, event map[string]any) Result {
	expr, err := parser.ParseExpr(condScript)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("sandbox: parse condition: %w", err)}
	}
	ev := newEvaluator(s, event, Limits{}.orDefaults())
	v, outcome, err := ev.runExpr(ctx, expr)
	if outcome != OutcomeOK {
		return Result{Outcome: outcome, Err: err}
	}
	b, ok := v.(bool)
	if !ok {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("sandbox: condition did not evaluate to a boolean, got %T", v)}
	}
	return Result{Outcome: OutcomeOK, Value: b}
}

// EvalAction runs actionScript as a statement body with event bound,
// returning whatever the script `return`s (nil if it never returns
// explicitly). The returned value may be a plain value (ignored by the
// caller) or a structured attachment descriptor map, per spec.md §4.4.
func (s *Sandbox) EvalAction(ctx context.Context, actionScript string, event map[string]any) Result {
	// Wrap the script body in a synthetic function so go/parser accepts
	// a plain statement list instead of requiring a full source file.
	src := "package sandbox\nfunc script() any {\n" + actionScript + "\n return nil\n}\n"
	fset := token.NewFileSet()
	file, err := parser.ParseFile(fset, "", src, 0)
	if err != nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("sandbox: parse action script: %w", err)}
	}
	var body *ast.BlockStmt
	for _, decl := range file.Decls {
		if fn, ok := decl.(*ast.FuncDecl); ok && fn.Name.Name == "script" {
			body = fn.Body
		}
	}
	if body == nil {
		return Result{Outcome: OutcomeError, Err: fmt.Errorf("sandbox: internal: script function not found")}
	}

	ev := newEvaluator(s, event, Limits{}.orDefaults())
	v, outcome, _, err := ev.runBlock(ctx, body)
	if outcome != OutcomeOK {
		return Result{Outcome: outcome, Err: err}
	}
	return Result{Outcome: OutcomeOK, Value: v}
}

func registerDefaults(s *Sandbox) {
	s.Register("len", func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("len: expected 1 argument, got %d", len(args))
		}
		switch v := args[0].(type) {
		case string:
			return len(v), nil
		case map[string]any:
			return len(v), nil
		case []any:
			return len(v), nil
		default:
			return nil, fmt.Errorf("len: unsupported type %T", v)
		}
	})
	s.Register("contains", func(args []any) (any, error) {
		if len(args) != 2 {
			return nil, fmt.Errorf("contains: expected 2 arguments, got %d", len(args))
		}
		haystack, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("contains: first argument must be a string")
		}
		needle, ok := args[1].(string)
		if !ok {
			return nil, fmt.Errorf("contains: second argument must be a string")
		}
		for i := 0; i+len(needle) <= len(haystack); i++ {
			if haystack[i:i+len(needle)] == needle {
				return true, nil
			}
		}
		return needle == "", nil
	})
	s.Register("lower", stringMapFunc(func(s string) string { return toLower(s) }))
	s.Register("upper", stringMapFunc(func(s string) string { return toUpper(s) }))
}

func stringMapFunc(f func(string) string) HostFunc {
	return func(args []any) (any, error) {
		if len(args) != 1 {
			return nil, fmt.Errorf("expected 1 argument, got %d", len(args))
		}
		s, ok := args[0].(string)
		if !ok {
			return nil, fmt.Errorf("expected a string argument")
		}
		return f(s), nil
	}
}

func toLower(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'A' && c <= 'Z' {
			b[i] = c + ('a' - 'A')
		}
	}
	return string(b)
}

func toUpper(s string) string {
	b := []byte(s)
	for i, c := range b {
		if c >= 'a' && c <= 'z' {
			b[i] = c - ('a' - 'A')
		}
	}
	return string(b)
}
