// Package typecheck verifies that a parsed program is well-typed:
// every variable is defined before use, every operator is applied to
// compatible operands, every call matches its function's signature,
// and every struct literal is fully and exactly populated. It assigns
// no types to nodes in the tree itself; callers that need an
// expression's type re-derive it with CheckExpr.
package typecheck

import (
	"fmt"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/symbols"
	"github.com/jpshackelford/toycc/pkg/types"
)

// TypeCheckError is the fatal error kind for this stage.
type TypeCheckError struct {
	Span    ast.Span
	Message string
}

func (e *TypeCheckError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

func errAt(span ast.Span, format string, args ...any) error {
	return &TypeCheckError{Span: span, Message: fmt.Sprintf(format, args...)}
}

// Env is the lexical type environment for one function body.
type Env struct {
	scopes []map[string]types.Type
}

func newEnv() *Env { return &Env{} }

func (e *Env) push() { e.scopes = append(e.scopes, make(map[string]types.Type)) }

func (e *Env) pop() { e.scopes = e.scopes[:len(e.scopes)-1] }

func (e *Env) define(span ast.Span, name string, ty types.Type) error {
	top := e.scopes[len(e.scopes)-1]
	if _, dup := top[name]; dup {
		return errAt(span, "duplicate local symbol: %s", name)
	}
	top[name] = ty
	return nil
}

func (e *Env) lookup(name string) (types.Type, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if ty, ok := e.scopes[i][name]; ok {
			return ty, true
		}
	}
	return nil, false
}

// NewEnv, Push, Pop, Define and Lookup expose the environment to
// pkg/lower, which rebuilds the same scope shape while lowering a
// function body. Lowering types captured defer arguments from the
// callee's parameter types, not from this environment.
func NewEnv() *Env { return newEnv() }

func (e *Env) Push() { e.push() }

func (e *Env) Pop() { e.pop() }

func (e *Env) Define(name string, ty types.Type) error {
	return e.define(ast.NoSpan, name, ty)
}

func (e *Env) Lookup(name string) (types.Type, bool) { return e.lookup(name) }

// CheckProgram type-checks every function declaration in prog.
// Extern declarations and struct declarations need no body checking;
// their shapes were already validated while building sym.
func CheckProgram(prog *ast.Program, sym *symbols.Global) error {
	for _, decl := range prog.Decls {
		fn, ok := decl.(*ast.FnDecl)
		if !ok {
			continue
		}
		if err := checkFn(fn, sym); err != nil {
			return err
		}
	}
	return nil
}

func checkFn(fn *ast.FnDecl, sym *symbols.Global) error {
	env := newEnv()
	env.push()
	for _, param := range fn.Params {
		ty, err := symbols.ResolveType(param.Type, sym)
		if err != nil {
			return err
		}
		if err := env.define(param.Span, param.Name, ty); err != nil {
			return err
		}
	}
	retTy, err := symbols.ResolveType(fn.Ret, sym)
	if err != nil {
		return err
	}
	if types.IsStruct(retTy) {
		return errAt(fn.Ret.Span(), "struct return type not supported: %s", retTy)
	}
	if err := checkBlock(fn.Body, env, sym, retTy); err != nil {
		return err
	}
	env.pop()
	return nil
}

func checkBlock(block *ast.Block, env *Env, sym *symbols.Global, retTy types.Type) error {
	env.push()
	defer env.pop()
	for _, stmt := range block.Stmts {
		if err := checkStmt(stmt, env, sym, retTy); err != nil {
			return err
		}
	}
	return nil
}

func checkStmt(stmt ast.Stmt, env *Env, sym *symbols.Global, retTy types.Type) error {
	switch s := stmt.(type) {
	case *ast.Block:
		return checkBlock(s, env, sym, retTy)
	case *ast.VarDecl:
		varTy, err := symbols.ResolveType(s.Type, sym)
		if err != nil {
			return err
		}
		initTy, err := CheckExpr(s.Init, env, sym)
		if err != nil {
			return err
		}
		if !types.IsAssignable(initTy, varTy) {
			return errAt(s.SpanV, "type mismatch in var init: %s = %s", varTy, initTy)
		}
		return env.define(s.SpanV, s.Name, varTy)
	case *ast.DeferStmt:
		callTy, err := checkCall(s.Call, env, sym)
		if err != nil {
			return err
		}
		if !types.Equal(callTy, types.Unit) {
			return errAt(s.SpanV, "defer call must return unit")
		}
		return nil
	case *ast.If:
		condTy, err := CheckExpr(s.Cond, env, sym)
		if err != nil {
			return err
		}
		if !types.IsBool(condTy) {
			return errAt(s.Cond.Span(), "if condition must be bool, got %s", condTy)
		}
		if err := checkBlock(s.Then, env, sym, retTy); err != nil {
			return err
		}
		if s.Else != nil {
			return checkBlock(s.Else, env, sym, retTy)
		}
		return nil
	case *ast.While:
		condTy, err := CheckExpr(s.Cond, env, sym)
		if err != nil {
			return err
		}
		if !types.IsBool(condTy) {
			return errAt(s.Cond.Span(), "while condition must be bool, got %s", condTy)
		}
		return checkBlock(s.Body, env, sym, retTy)
	case *ast.Return:
		if s.Value == nil {
			if !types.Equal(retTy, types.Unit) {
				return errAt(s.SpanV, "return value required")
			}
			return nil
		}
		valueTy, err := CheckExpr(s.Value, env, sym)
		if err != nil {
			return err
		}
		if !types.IsAssignable(valueTy, retTy) {
			return errAt(s.SpanV, "return type mismatch: expected %s, got %s", retTy, valueTy)
		}
		return nil
	case *ast.ExprStmt:
		_, err := CheckExpr(s.Expr, env, sym)
		return err
	case *ast.Goto, *ast.LabeledBlock:
		// Only present after lowering; nothing left to check.
		return nil
	default:
		return errAt(stmt.Span(), "unknown statement type")
	}
}

// CheckExpr computes expr's type, raising a TypeCheckError on any
// mismatch found along the way.
func CheckExpr(expr ast.Expr, env *Env, sym *symbols.Global) (types.Type, error) {
	switch e := expr.(type) {
	case *ast.IntLit:
		return types.IntLit{Value: uint64(e.Value)}, nil
	case *ast.BoolLit:
		return types.Bool, nil
	case *ast.NullLit:
		return types.Null, nil
	case *ast.Var:
		ty, ok := env.lookup(e.Name)
		if !ok {
			return nil, errAt(e.SpanV, "unknown variable: %s", e.Name)
		}
		return ty, nil
	case *ast.StructLit:
		return checkStructLit(e, env, sym)
	case *ast.Unary:
		return checkUnary(e, env, sym)
	case *ast.Binary:
		return checkBinary(e, env, sym)
	case *ast.Call:
		return checkCall(e, env, sym)
	case *ast.Field:
		return checkField(e, env, sym)
	case *ast.Index:
		return checkIndex(e, env, sym)
	case *ast.Assign:
		return checkAssign(e, env, sym)
	default:
		return nil, errAt(expr.Span(), "unknown expression type")
	}
}

func checkStructLit(e *ast.StructLit, env *Env, sym *symbols.Global) (types.Type, error) {
	layout, ok := sym.Layouts.Lookup(e.Name)
	if !ok {
		return nil, errAt(e.SpanV, "unknown struct: %s", e.Name)
	}

	seen := make(map[string]bool, len(e.Fields))
	for _, fi := range e.Fields {
		if seen[fi.Name] {
			return nil, errAt(fi.Span, "duplicate field %s in struct literal %s", fi.Name, e.Name)
		}
		seen[fi.Name] = true

		field, ok := layout.FieldByName(fi.Name)
		if !ok {
			return nil, errAt(fi.Span, "unknown field %s in struct literal %s", fi.Name, e.Name)
		}
		valueTy, err := CheckExpr(fi.Value, env, sym)
		if err != nil {
			return nil, err
		}
		if !types.IsAssignable(valueTy, field.Type) {
			return nil, errAt(fi.Span, "field type mismatch for %s.%s: expected %s, got %s", e.Name, fi.Name, field.Type, valueTy)
		}
	}
	for _, field := range layout.Fields {
		if !seen[field.Name] {
			return nil, errAt(e.SpanV, "missing field %s in struct literal %s", field.Name, e.Name)
		}
	}
	return types.Struct{Name: e.Name}, nil
}

func checkUnary(e *ast.Unary, env *Env, sym *symbols.Global) (types.Type, error) {
	inner, err := CheckExpr(e.Expr, env, sym)
	if err != nil {
		return nil, err
	}
	switch e.Op {
	case "-":
		if !types.IsInt(inner) {
			return nil, errAt(e.SpanV, "unary '-' expects int, got %s", inner)
		}
		if lit, ok := inner.(types.IntLit); ok {
			return types.IntLit{Value: lit.Value, Negative: !lit.Negative}, nil
		}
		return inner, nil
	case "!":
		if !types.IsBool(inner) {
			return nil, errAt(e.SpanV, "unary '!' expects bool, got %s", inner)
		}
		return types.Bool, nil
	case "*":
		ptr, ok := inner.(types.Ptr)
		if !ok {
			return nil, errAt(e.SpanV, "unary '*' expects pointer, got %s", inner)
		}
		return ptr.Elem, nil
	case "&":
		if !ast.IsLvalue(e.Expr) {
			return nil, errAt(e.SpanV, "address-of requires lvalue")
		}
		return types.Ptr{Elem: inner}, nil
	default:
		return nil, errAt(e.SpanV, "unknown unary operator: %s", e.Op)
	}
}

func checkBinary(e *ast.Binary, env *Env, sym *symbols.Global) (types.Type, error) {
	left, err := CheckExpr(e.Left, env, sym)
	if err != nil {
		return nil, err
	}
	right, err := CheckExpr(e.Right, env, sym)
	if err != nil {
		return nil, err
	}

	switch e.Op {
	case "+", "-", "*", "/", "%":
		return intBinResult(e, left, right)
	case "<", "<=", ">", ">=":
		if !types.IsInt(left) || !types.IsInt(right) {
			return nil, errAt(e.SpanV, "relational operators require integer types")
		}
		return types.Bool, nil
	case "==", "!=":
		if types.IsAssignable(left, right) || types.IsAssignable(right, left) {
			return types.Bool, nil
		}
		return nil, errAt(e.SpanV, "equality operators require compatible types")
	case "&&", "||":
		if !types.IsBool(left) || !types.IsBool(right) {
			return nil, errAt(e.SpanV, "logical operators require bool operands")
		}
		return types.Bool, nil
	default:
		return nil, errAt(e.SpanV, "unknown binary operator: %s", e.Op)
	}
}

// intBinResult mirrors the constant-folding behavior of the reference
// checker for +,-,*, but refuses to fold a literal division or modulo
// by a literal zero: that case is a type error here, not a silent fold
// to zero, since a zero divisor known at compile time is always a bug.
// A non-literal zero divisor remains a runtime concern codegen cannot
// statically rule out.
func intBinResult(e *ast.Binary, left, right types.Type) (types.Type, error) {
	leftLit, leftIsLit := left.(types.IntLit)
	rightLit, rightIsLit := right.(types.IntLit)

	if leftIsLit && rightIsLit {
		if (e.Op == "/" || e.Op == "%") && rightLit.Value == 0 {
			return nil, errAt(e.SpanV, "division by literal zero")
		}
		value, err := evalIntBin(e.SpanV, e.Op, leftLit, rightLit)
		if err != nil {
			return nil, err
		}
		return value, nil
	}
	if leftIsLit && types.IsInt(right) {
		return right, nil
	}
	if rightIsLit && types.IsInt(left) {
		return left, nil
	}
	if types.IsInt(left) && types.IsInt(right) && types.Equal(left, right) {
		return left, nil
	}
	return nil, errAt(e.SpanV, "arithmetic operators require matching integer types")
}

func evalIntBin(span ast.Span, op string, left, right types.IntLit) (types.IntLit, error) {
	l := signedValue(left)
	r := signedValue(right)
	var v int64
	switch op {
	case "+":
		v = l + r
	case "-":
		v = l - r
	case "*":
		v = l * r
	case "/":
		v = l / r
	case "%":
		v = l % r
	default:
		return types.IntLit{}, errAt(span, "unknown int op: %s", op)
	}
	if v < 0 {
		return types.IntLit{Value: uint64(-v), Negative: true}, nil
	}
	return types.IntLit{Value: uint64(v)}, nil
}

func signedValue(l types.IntLit) int64 {
	if l.Negative {
		return -int64(l.Value)
	}
	return int64(l.Value)
}

func checkCall(e *ast.Call, env *Env, sym *symbols.Global) (types.Type, error) {
	calleeVar, ok := e.Callee.(*ast.Var)
	if !ok {
		return nil, errAt(e.SpanV, "call target must be a function name")
	}
	if _, isLocal := env.lookup(calleeVar.Name); isLocal {
		return nil, errAt(e.SpanV, "cannot call non-function value: %s", calleeVar.Name)
	}
	fn, ok := sym.Functions[calleeVar.Name]
	if !ok {
		return nil, errAt(e.SpanV, "unknown function: %s", calleeVar.Name)
	}
	if len(e.Args) != len(fn.Params) {
		return nil, errAt(e.SpanV, "argument count mismatch for %s: expected %d", fn.Name, len(fn.Params))
	}
	for i, argExpr := range e.Args {
		argTy, err := CheckExpr(argExpr, env, sym)
		if err != nil {
			return nil, err
		}
		paramTy, err := symbols.ResolveType(fn.Params[i].Type, sym)
		if err != nil {
			return nil, err
		}
		if !types.IsAssignable(argTy, paramTy) {
			return nil, errAt(argExpr.Span(), "argument type mismatch for %s: expected %s, got %s", fn.Name, paramTy, argTy)
		}
	}
	return symbols.ResolveType(fn.Ret, sym)
}

func checkField(e *ast.Field, env *Env, sym *symbols.Global) (types.Type, error) {
	baseTy, err := CheckExpr(e.Base, env, sym)
	if err != nil {
		return nil, err
	}
	structTy, ok := baseTy.(types.Struct)
	if !ok {
		return nil, errAt(e.SpanV, "field access requires struct, got %s", baseTy)
	}
	layout, ok := sym.Layouts.Lookup(structTy.Name)
	if !ok {
		return nil, errAt(e.SpanV, "unknown struct: %s", structTy.Name)
	}
	field, ok := layout.FieldByName(e.Name)
	if !ok {
		return nil, errAt(e.SpanV, "unknown field %s on %s", e.Name, structTy.Name)
	}
	return field.Type, nil
}

func checkIndex(e *ast.Index, env *Env, sym *symbols.Global) (types.Type, error) {
	baseTy, err := CheckExpr(e.Base, env, sym)
	if err != nil {
		return nil, err
	}
	idxTy, err := CheckExpr(e.Idx, env, sym)
	if err != nil {
		return nil, err
	}
	ptrTy, ok := baseTy.(types.Ptr)
	if !ok {
		return nil, errAt(e.SpanV, "indexing requires pointer base, got %s", baseTy)
	}
	if !types.IsInt(idxTy) {
		return nil, errAt(e.SpanV, "indexing requires integer index, got %s", idxTy)
	}
	return ptrTy.Elem, nil
}

func checkAssign(e *ast.Assign, env *Env, sym *symbols.Global) (types.Type, error) {
	if !ast.IsLvalue(e.Target) {
		return nil, errAt(e.SpanV, "invalid assignment target")
	}
	targetTy, err := CheckExpr(e.Target, env, sym)
	if err != nil {
		return nil, err
	}
	valueTy, err := CheckExpr(e.Value, env, sym)
	if err != nil {
		return nil, err
	}
	if !types.IsAssignable(valueTy, targetTy) {
		return nil, errAt(e.SpanV, "assignment mismatch: %s = %s", targetTy, valueTy)
	}
	return targetTy, nil
}
