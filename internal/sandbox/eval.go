package sandbox

import (
	"context"
	"fmt"
	"go/ast"
	"go/token"
	"strconv"
	"time"
)

// evaluator walks a parsed AST with a step counter and deadline,
// interpreting the restricted expression/statement subset described in
// the package doc comment. It is single-use: construct one per Eval*
// call.
type evaluator struct {
	sandbox  *Sandbox
	event    map[string]any
	vars     map[string]any
	limits   Limits
	deadline time.Time
	steps    int
}

func newEvaluator(s *Sandbox, event map[string]any, limits Limits) *evaluator {
	return &evaluator{
		sandbox:  s,
		event:    event,
		vars:     map[string]any{},
		limits:   limits,
		deadline: time.Now().Add(limits.MaxDuration),
	}
}

// tick enforces the wall-clock deadline and step bound, independent
// watchdog responsibilities the caller cannot forget to check: every
// evaluation primitive in this file calls tick before doing real work.
func (e *evaluator) tick(ctx context.Context) Outcome {
	e.steps++
	if e.steps > e.limits.MaxSteps {
		return OutcomeStepLimit
	}
	if time.Now().After(e.deadline) {
		return OutcomeTimeout
	}
	select {
	case <-ctx.Done():
		return OutcomeTimeout
	default:
	}
	return OutcomeOK
}

// runExpr evaluates a single expression to its final value.
func (e *evaluator) runExpr(ctx context.Context, expr ast.Expr) (any, Outcome, error) {
	if o := e.tick(ctx); o != OutcomeOK {
		return nil, o, fmt.Errorf("sandbox: exceeded %s bound", o)
	}
	switch n := expr.(type) {
	case *ast.BasicLit:
		return literalValue(n)
	case *ast.Ident:
		return e.lookupIdent(n.Name)
	case *ast.ParenExpr:
		return e.runExpr(ctx, n.X)
	case *ast.SelectorExpr:
		base, outcome, err := e.runExpr(ctx, n.X)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		return selectField(base, n.Sel.Name)
	case *ast.IndexExpr:
		base, outcome, err := e.runExpr(ctx, n.X)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		idx, outcome, err := e.runExpr(ctx, n.Index)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		v, err := indexInto(base, idx)
		return wrapErr(v, err)
	case *ast.UnaryExpr:
		x, outcome, err := e.runExpr(ctx, n.X)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		v, err := applyUnary(n.Op, x)
		return wrapErr(v, err)
	case *ast.BinaryExpr:
		return e.runBinary(ctx, n)
	case *ast.CallExpr:
		return e.runCall(ctx, n)
	default:
		return nil, OutcomeError, fmt.Errorf("sandbox: unsupported expression %T", expr)
	}
}

func wrapErr(v any, err error) (any, Outcome, error) {
	if err != nil {
		return nil, OutcomeError, err
	}
	return v, OutcomeOK, nil
}

func (e *evaluator) runBinary(ctx context.Context, n *ast.BinaryExpr) (any, Outcome, error) {
	// && and || short-circuit, evaluated specially rather than via the
	// generic operator table below.
	if n.Op == token.LAND || n.Op == token.LOR {
		lv, outcome, err := e.runExpr(ctx, n.X)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		lb, ok := lv.(bool)
		if !ok {
			return nil, OutcomeError, fmt.Errorf("sandbox: left operand of %s is not a boolean", n.Op)
		}
		if n.Op == token.LAND && !lb {
			return false, OutcomeOK, nil
		}
		if n.Op == token.LOR && lb {
			return true, OutcomeOK, nil
		}
		rv, outcome, err := e.runExpr(ctx, n.Y)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		rb, ok := rv.(bool)
		if !ok {
			return nil, OutcomeError, fmt.Errorf("sandbox: right operand of %s is not a boolean", n.Op)
		}
		return rb, OutcomeOK, nil
	}

	lv, outcome, err := e.runExpr(ctx, n.X)
	if outcome != OutcomeOK {
		return nil, outcome, err
	}
	rv, outcome, err := e.runExpr(ctx, n.Y)
	if outcome != OutcomeOK {
		return nil, outcome, err
	}
	v, err := applyBinary(n.Op, lv, rv)
	return wrapErr(v, err)
}

func (e *evaluator) runCall(ctx context.Context, n *ast.CallExpr) (any, Outcome, error) {
	ident, ok := n.Fun.(*ast.Ident)
	if !ok {
		return nil, OutcomeError, fmt.Errorf("sandbox: only direct function calls are allowed")
	}
	fn, ok := e.sandbox.funcs[ident.Name]
	if !ok {
		return nil, OutcomeError, fmt.Errorf("sandbox: unknown function %q", ident.Name)
	}
	args := make([]any, 0, len(n.Args))
	for _, argExpr := range n.Args {
		v, outcome, err := e.runExpr(ctx, argExpr)
		if outcome != OutcomeOK {
			return nil, outcome, err
		}
		args = append(args, v)
	}
	v, err := fn(args)
	return wrapErr(v, err)
}

func (e *evaluator) lookupIdent(name string) (any, Outcome, error) {
	switch name {
	case "true":
		return true, OutcomeOK, nil
	case "false":
		return false, OutcomeOK, nil
	case "nil":
		return nil, OutcomeOK, nil
	case "event":
		return e.event, OutcomeOK, nil
	}
	if v, ok := e.vars[name]; ok {
		return v, OutcomeOK, nil
	}
	return nil, OutcomeError, fmt.Errorf("sandbox: unknown identifier %q", name)
}

// runBlock executes a statement block, returning the value of the first
// `return` statement reached (or nil if the block completes without
// returning).
func (e *evaluator) runBlock(ctx context.Context, block *ast.BlockStmt) (any, Outcome, bool, error) {
	for _, stmt := range block.List {
		v, outcome, returned, err := e.runStmt(ctx, stmt)
		if outcome != OutcomeOK {
			return nil, outcome, false, err
		}
		if returned {
			return v, OutcomeOK, true, nil
		}
	}
	return nil, OutcomeOK, false, nil
}

func (e *evaluator) runStmt(ctx context.Context, stmt ast.Stmt) (any, Outcome, bool, error) {
	if o := e.tick(ctx); o != OutcomeOK {
		return nil, o, false, fmt.Errorf("sandbox: exceeded %s bound", o)
	}
	switch n := stmt.(type) {
	case *ast.ReturnStmt:
		if len(n.Results) == 0 {
			return nil, OutcomeOK, true, nil
		}
		if len(n.Results) != 1 {
			return nil, OutcomeError, false, fmt.Errorf("sandbox: multi-value return is not supported")
		}
		v, outcome, err := e.runExpr(ctx, n.Results[0])
		if outcome != OutcomeOK {
			return nil, outcome, false, err
		}
		return v, OutcomeOK, true, nil
	case *ast.ExprStmt:
		_, outcome, err := e.runExpr(ctx, n.X)
		return nil, outcome, false, err
	case *ast.IfStmt:
		if n.Init != nil {
			if _, outcome, _, err := e.runStmt(ctx, n.Init); outcome != OutcomeOK {
				return nil, outcome, false, err
			}
		}
		cond, outcome, err := e.runExpr(ctx, n.Cond)
		if outcome != OutcomeOK {
			return nil, outcome, false, err
		}
		b, ok := cond.(bool)
		if !ok {
			return nil, OutcomeError, false, fmt.Errorf("sandbox: if condition is not a boolean")
		}
		if b {
			return e.runBlock(ctx, n.Body)
		}
		if n.Else != nil {
			switch elseNode := n.Else.(type) {
			case *ast.BlockStmt:
				return e.runBlock(ctx, elseNode)
			default:
				return e.runStmt(ctx, elseNode)
			}
		}
		return nil, OutcomeOK, false, nil
	case *ast.AssignStmt:
		return e.runAssign(ctx, n)
	case *ast.BlockStmt:
		return e.runBlock(ctx, n)
	default:
		return nil, OutcomeError, false, fmt.Errorf("sandbox: unsupported statement %T", stmt)
	}
}

func (e *evaluator) runAssign(ctx context.Context, n *ast.AssignStmt) (any, Outcome, bool, error) {
	if len(n.Lhs) != 1 || len(n.Rhs) != 1 {
		return nil, OutcomeError, false, fmt.Errorf("sandbox: only single-value assignment is supported")
	}
	ident, ok := n.Lhs[0].(*ast.Ident)
	if !ok {
		return nil, OutcomeError, false, fmt.Errorf("sandbox: assignment target must be a plain identifier")
	}
	v, outcome, err := e.runExpr(ctx, n.Rhs[0])
	if outcome != OutcomeOK {
		return nil, outcome, false, err
	}
	if ident.Name == "event" {
		return nil, OutcomeError, false, fmt.Errorf("sandbox: event is read-only")
	}
	e.vars[ident.Name] = v
	return nil, OutcomeOK, false, nil
}

func literalValue(lit *ast.BasicLit) (any, Outcome, error) {
	switch lit.Kind {
	case token.INT:
		n, err := strconv.ParseInt(lit.Value, 0, 64)
		if err != nil {
			return nil, OutcomeError, fmt.Errorf("sandbox: invalid integer literal %q: %w", lit.Value, err)
		}
		return n, OutcomeOK, nil
	case token.FLOAT:
		f, err := strconv.ParseFloat(lit.Value, 64)
		if err != nil {
			return nil, OutcomeError, fmt.Errorf("sandbox: invalid float literal %q: %w", lit.Value, err)
		}
		return f, OutcomeOK, nil
	case token.STRING:
		s, err := strconv.Unquote(lit.Value)
		if err != nil {
			return nil, OutcomeError, fmt.Errorf("sandbox: invalid string literal %q: %w", lit.Value, err)
		}
		return s, OutcomeOK, nil
	default:
		return nil, OutcomeError, fmt.Errorf("sandbox: unsupported literal kind %v", lit.Kind)
	}
}

func selectField(base any, name string) (any, Outcome, error) {
	m, ok := base.(map[string]any)
	if !ok {
		return nil, OutcomeError, fmt.Errorf("sandbox: cannot select %q from non-map value", name)
	}
	v, ok := m[name]
	if !ok {
		return nil, OutcomeOK, nil // missing path: nil, not an error (mirrors structured match semantics)
	}
	return v, OutcomeOK, nil
}

func indexInto(base, idx any) (any, error) {
	switch b := base.(type) {
	case map[string]any:
		key, ok := idx.(string)
		if !ok {
			return nil, fmt.Errorf("sandbox: map index must be a string")
		}
		return b[key], nil
	case []any:
		i, ok := idx.(int64)
		if !ok {
			return nil, fmt.Errorf("sandbox: slice index must be an integer")
		}
		if i < 0 || int(i) >= len(b) {
			return nil, fmt.Errorf("sandbox: slice index %d out of range", i)
		}
		return b[i], nil
	default:
		return nil, fmt.Errorf("sandbox: cannot index into %T", base)
	}
}

func applyUnary(op token.Token, x any) (any, error) {
	switch op {
	case token.NOT:
		b, ok := x.(bool)
		if !ok {
			return nil, fmt.Errorf("sandbox: ! requires a boolean operand")
		}
		return !b, nil
	case token.SUB:
		switch n := x.(type) {
		case int64:
			return -n, nil
		case float64:
			return -n, nil
		default:
			return nil, fmt.Errorf("sandbox: unary - requires a numeric operand")
		}
	default:
		return nil, fmt.Errorf("sandbox: unsupported unary operator %s", op)
	}
}

func applyBinary(op token.Token, l, r any) (any, error) {
	switch op {
	case token.EQL:
		return valuesEqual(l, r), nil
	case token.NEQ:
		return !valuesEqual(l, r), nil
	}

	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		switch op {
		case token.ADD:
			return addNumeric(l, r, lf, rf), nil
		case token.SUB:
			return lf - rf, nil
		case token.MUL:
			return lf * rf, nil
		case token.QUO:
			if rf == 0 {
				return nil, fmt.Errorf("sandbox: division by zero")
			}
			return lf / rf, nil
		case token.LSS:
			return lf < rf, nil
		case token.LEQ:
			return lf <= rf, nil
		case token.GTR:
			return lf > rf, nil
		case token.GEQ:
			return lf >= rf, nil
		}
	}

	ls, lIsStr := l.(string)
	rs, rIsStr := r.(string)
	if lIsStr && rIsStr {
		switch op {
		case token.ADD:
			return ls + rs, nil
		case token.LSS:
			return ls < rs, nil
		case token.LEQ:
			return ls <= rs, nil
		case token.GTR:
			return ls > rs, nil
		case token.GEQ:
			return ls >= rs, nil
		}
	}

	return nil, fmt.Errorf("sandbox: unsupported operator %s for operand types %T, %T", op, l, r)
}

func addNumeric(lOrig, rOrig any, lf, rf float64) any {
	_, lIsInt := lOrig.(int64)
	_, rIsInt := rOrig.(int64)
	if lIsInt && rIsInt {
		return int64(lf) + int64(rf)
	}
	return lf + rf
}

func asFloat(v any) (float64, bool) {
	switch n := v.(type) {
	case int64:
		return float64(n), true
	case float64:
		return n, true
	default:
		return 0, false
	}
}

func valuesEqual(l, r any) bool {
	lf, lok := asFloat(l)
	rf, rok := asFloat(r)
	if lok && rok {
		return lf == rf
	}
	return l == r
}
