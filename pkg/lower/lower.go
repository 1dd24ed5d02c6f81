// Package lower rewrites a type-checked program into the single-exit
// dialect pkg/codegen consumes: every function body ends in exactly one
// Return, every other `return` becomes an assignment to a synthesized
// result local followed by a Goto, and every `defer` becomes a plain
// call, invoked at the right exit points, against temporaries that
// captured its arguments at the point the defer statement ran.
package lower

import (
	"fmt"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/symbols"
	"github.com/jpshackelford/toycc/pkg/typecheck"
)

// LowerError is the fatal error kind for this stage. Lowering runs only
// after CheckProgram has already accepted the tree; it still reports a
// shape it cannot lower (for example a struct-typed return, which the
// checker rejects too and which has no default value to seed the
// synthesized result local with).
type LowerError struct {
	Span    ast.Span
	Message string
}

func (e *LowerError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

// deferScope is the set of calls registered by `defer` statements
// directly inside one block, in registration order.
type deferScope struct {
	calls []*ast.Call
}

type lowerer struct {
	sym        *symbols.Global
	tmpCounter int
}

// Program lowers every function declaration in prog. Struct and extern
// declarations pass through untouched.
func Program(prog *ast.Program, sym *symbols.Global) (*ast.Program, error) {
	l := &lowerer{sym: sym}
	out := make([]ast.Decl, len(prog.Decls))
	for i, decl := range prog.Decls {
		fn, ok := decl.(*ast.FnDecl)
		if !ok {
			out[i] = decl
			continue
		}
		lowered, err := l.fn(fn)
		if err != nil {
			return nil, err
		}
		out[i] = lowered
	}
	return &ast.Program{Decls: out}, nil
}

func (l *lowerer) fn(fn *ast.FnDecl) (*ast.FnDecl, error) {
	exitLabel := "__fn_exit_" + fn.Name
	unit := isUnitType(fn.Ret)
	retVar := ""
	if !unit {
		retVar = "__ret_" + fn.Name
	}

	env := typecheck.NewEnv()
	env.Push()
	for _, param := range fn.Params {
		ty, err := symbols.ResolveType(param.Type, l.sym)
		if err != nil {
			return nil, err
		}
		if err := env.Define(param.Name, ty); err != nil {
			return nil, err
		}
	}

	var scopeStack []*deferScope
	loweredBody, err := l.block(fn.Body, env, &scopeStack, retVar, exitLabel)
	if err != nil {
		return nil, err
	}

	var stmts []ast.Stmt
	if !unit {
		def, err := defaultValueExpr(fn.Ret)
		if err != nil {
			return nil, err
		}
		stmts = append(stmts, &ast.VarDecl{Name: retVar, Type: fn.Ret, Init: def, SpanV: fn.SpanV})
	}
	stmts = append(stmts, loweredBody.Stmts...)

	var exitReturn ast.Stmt
	if unit {
		exitReturn = &ast.Return{SpanV: fn.SpanV}
	} else {
		exitReturn = &ast.Return{Value: &ast.Var{Name: retVar, SpanV: fn.SpanV}, SpanV: fn.SpanV}
	}
	stmts = append(stmts, &ast.LabeledBlock{
		Label: exitLabel,
		Block: &ast.Block{Stmts: []ast.Stmt{exitReturn}, SpanV: fn.SpanV},
		SpanV: fn.SpanV,
	})

	return &ast.FnDecl{Name: fn.Name, Params: fn.Params, Ret: fn.Ret, Body: &ast.Block{Stmts: stmts, SpanV: fn.SpanV}, SpanV: fn.SpanV}, nil
}

func (l *lowerer) block(block *ast.Block, env *typecheck.Env, scopeStack *[]*deferScope, retVar, exitLabel string) (*ast.Block, error) {
	env.Push()
	defer env.Pop()

	scope := &deferScope{}
	*scopeStack = append(*scopeStack, scope)
	defer func() { *scopeStack = (*scopeStack)[:len(*scopeStack)-1] }()

	var out []ast.Stmt
	for _, stmt := range block.Stmts {
		lowered, err := l.stmt(stmt, env, scopeStack, scope, retVar, exitLabel)
		if err != nil {
			return nil, err
		}
		out = append(out, lowered...)
	}
	// A lowered `return` already drained this scope (and every enclosing
	// one) before its Goto; draining again here would just emit dead
	// calls after an unconditional jump.
	endsInGoto := len(out) > 0
	if endsInGoto {
		_, endsInGoto = out[len(out)-1].(*ast.Goto)
	}
	if !endsInGoto {
		out = append(out, drainCalls(scope.calls)...)
	}
	return &ast.Block{Stmts: out, SpanV: block.SpanV}, nil
}

func (l *lowerer) stmt(stmt ast.Stmt, env *typecheck.Env, scopeStack *[]*deferScope, scope *deferScope, retVar, exitLabel string) ([]ast.Stmt, error) {
	switch s := stmt.(type) {
	case *ast.Block:
		lowered, err := l.block(s, env, scopeStack, retVar, exitLabel)
		if err != nil {
			return nil, err
		}
		return []ast.Stmt{lowered}, nil

	case *ast.VarDecl:
		ty, err := symbols.ResolveType(s.Type, l.sym)
		if err != nil {
			return nil, err
		}
		if err := env.Define(s.Name, ty); err != nil {
			return nil, err
		}
		return []ast.Stmt{s}, nil

	case *ast.DeferStmt:
		return l.deferStmt(s, env, scope)

	case *ast.If:
		thenBlock, err := l.block(s.Then, env, scopeStack, retVar, exitLabel)
		if err != nil {
			return nil, err
		}
		var elseBlock *ast.Block
		if s.Else != nil {
			elseBlock, err = l.block(s.Else, env, scopeStack, retVar, exitLabel)
			if err != nil {
				return nil, err
			}
		}
		return []ast.Stmt{&ast.If{Cond: s.Cond, Then: thenBlock, Else: elseBlock, SpanV: s.SpanV}}, nil

	case *ast.While:
		body, err := l.block(s.Body, env, scopeStack, retVar, exitLabel)
		if err != nil {
			return nil, err
		}
		return []ast.Stmt{&ast.While{Cond: s.Cond, Body: body, SpanV: s.SpanV}}, nil

	case *ast.Return:
		var out []ast.Stmt
		if s.Value != nil {
			out = append(out, &ast.ExprStmt{
				Expr:  &ast.Assign{Target: &ast.Var{Name: retVar, SpanV: s.SpanV}, Value: s.Value, SpanV: s.SpanV},
				SpanV: s.SpanV,
			})
		}
		for i := len(*scopeStack) - 1; i >= 0; i-- {
			out = append(out, drainCalls((*scopeStack)[i].calls)...)
		}
		out = append(out, &ast.Goto{Label: exitLabel, SpanV: s.SpanV})
		return out, nil

	case *ast.ExprStmt:
		return []ast.Stmt{s}, nil

	case *ast.Goto, *ast.LabeledBlock:
		return []ast.Stmt{s}, nil

	default:
		return nil, &LowerError{Span: stmt.Span(), Message: "unsupported statement"}
	}
}

// deferStmt captures the defer's call arguments into freshly declared
// temporaries typed from the callee's own parameter types (not
// re-derived from the argument expression, so an integer-literal
// argument gets the exact width the callee expects instead of the
// checker's untyped-literal type), then registers a call through those
// temporaries for later draining.
func (l *lowerer) deferStmt(s *ast.DeferStmt, env *typecheck.Env, scope *deferScope) ([]ast.Stmt, error) {
	calleeVar, ok := s.Call.Callee.(*ast.Var)
	if !ok {
		return nil, &LowerError{Span: s.SpanV, Message: "defer call target must be a function name"}
	}
	fn, ok := l.sym.Functions[calleeVar.Name]
	if !ok {
		return nil, &LowerError{Span: s.SpanV, Message: fmt.Sprintf("unknown function: %s", calleeVar.Name)}
	}

	var decls []ast.Stmt
	newArgs := make([]ast.Expr, len(s.Call.Args))
	for i, arg := range s.Call.Args {
		tmpName := l.freshTemp()
		decls = append(decls, &ast.VarDecl{Name: tmpName, Type: fn.Params[i].Type, Init: arg, SpanV: s.SpanV})
		newArgs[i] = &ast.Var{Name: tmpName, SpanV: s.SpanV}
	}

	captured := &ast.Call{Callee: s.Call.Callee, Args: newArgs, SpanV: s.Call.SpanV}
	scope.calls = append(scope.calls, captured)
	return decls, nil
}

func (l *lowerer) freshTemp() string {
	l.tmpCounter++
	return fmt.Sprintf("__defer_tmp_%d", l.tmpCounter)
}

func drainCalls(calls []*ast.Call) []ast.Stmt {
	var out []ast.Stmt
	for i := len(calls) - 1; i >= 0; i-- {
		out = append(out, &ast.ExprStmt{Expr: calls[i], SpanV: calls[i].SpanV})
	}
	return out
}

func isUnitType(t ast.TypeAst) bool {
	n, ok := t.(*ast.NamedType)
	return ok && n.Name == "unit"
}

func defaultValueExpr(t ast.TypeAst) (ast.Expr, error) {
	switch n := t.(type) {
	case *ast.PtrType:
		return &ast.NullLit{}, nil
	case *ast.NamedType:
		switch n.Name {
		case "i64", "u64", "u8":
			return &ast.IntLit{Value: 0}, nil
		case "bool":
			return &ast.BoolLit{Value: false}, nil
		default:
			return nil, &LowerError{Span: t.Span(), Message: fmt.Sprintf("no default value for struct return type: %s", n.Name)}
		}
	default:
		return nil, &LowerError{Span: t.Span(), Message: "unsupported return type"}
	}
}
