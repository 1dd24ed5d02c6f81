// Package codegen turns a lowered, type-checked program into GNU
// assembler text (Intel syntax, x86-64, System V ABI). It assumes its
// input has already passed pkg/typecheck and pkg/lower: every `defer`
// is gone, every `return` is a Goto to a single labeled exit block.
package codegen

import (
	"fmt"
	"strings"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/layout"
	"github.com/jpshackelford/toycc/pkg/symbols"
	"github.com/jpshackelford/toycc/pkg/types"
)

// CodegenError is the fatal error kind for this stage.
type CodegenError struct {
	Span    ast.Span
	Message string
}

func (e *CodegenError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

func errAt(span ast.Span, format string, args ...any) error {
	return &CodegenError{Span: span, Message: fmt.Sprintf(format, args...)}
}

var argRegs64 = []string{"rdi", "rsi", "rdx", "rcx", "r8", "r9"}
var argRegs32 = []string{"edi", "esi", "edx", "ecx", "r8d", "r9d"}
var argRegs8 = []string{"dil", "sil", "dl", "cl", "r8b", "r9b"}

type localInfo struct {
	typ    types.Type
	offset int
}

// localEnv tracks live locals (params and VarDecls) and the running
// frame offset used to assign each one its storage slot.
type localEnv struct {
	scopes []map[string]localInfo
	offset int
	sym    *symbols.Global
}

func newLocalEnv(sym *symbols.Global) *localEnv { return &localEnv{sym: sym} }

func (e *localEnv) push() { e.scopes = append(e.scopes, make(map[string]localInfo)) }

func (e *localEnv) pop() { e.scopes = e.scopes[:len(e.scopes)-1] }

func (e *localEnv) define(name string, ty types.Type) localInfo {
	size, align := sizeOf(ty, e.sym), alignOf(ty, e.sym)
	e.offset = alignUp(e.offset+size, align)
	info := localInfo{typ: ty, offset: e.offset}
	e.scopes[len(e.scopes)-1][name] = info
	return info
}

func (e *localEnv) lookup(name string) (localInfo, bool) {
	for i := len(e.scopes) - 1; i >= 0; i-- {
		if info, ok := e.scopes[i][name]; ok {
			return info, true
		}
	}
	return localInfo{}, false
}

// frameSizer runs the same allocation walk as localEnv but only to
// learn the function's total frame size, before any code is emitted;
// codegen needs the final frame size up front to emit `sub rsp, N` in
// the prologue, before the body that determines it has been visited.
type frameSizer struct {
	offset int
	sym    *symbols.Global
}

func (s *frameSizer) allocate(ty types.Type) {
	size, align := sizeOf(ty, s.sym), alignOf(ty, s.sym)
	s.offset = alignUp(s.offset+size, align)
}

// Codegen accumulates output lines for one compilation unit.
type Codegen struct {
	sym       *symbols.Global
	sources   map[string][]string
	lines     []string
	labelID   int
	lastLoc   [2]any
	haveLoc   bool
}

// New creates a Codegen against sym. sources maps a file path to its
// lines, used only to add the original source text to the emitted
// location comments; with nil, the comments carry file:line:col only.
func New(sym *symbols.Global, sources map[string][]string) *Codegen {
	return &Codegen{sym: sym, sources: sources}
}

// EmitProgram emits the whole translation unit and returns it as
// assembler text.
func (c *Codegen) EmitProgram(prog *ast.Program) (string, error) {
	c.lines = nil
	c.emit(".intel_syntax noprefix")
	c.emit(".text")
	c.emit(".section .note.GNU-stack,\"\",@progbits")
	c.emit(".text")
	for _, decl := range prog.Decls {
		if fn, ok := decl.(*ast.FnDecl); ok {
			if err := c.emitFn(fn); err != nil {
				return "", err
			}
		}
	}
	return strings.Join(c.lines, "\n") + "\n", nil
}

func (c *Codegen) emitFn(fn *ast.FnDecl) error {
	frameSize, err := c.computeFrameSize(fn)
	if err != nil {
		return err
	}

	c.emit("")
	c.emit(fmt.Sprintf(".globl %s", fn.Name))
	c.emit(fmt.Sprintf("%s:", fn.Name))
	c.emit("  push rbp")
	c.emit("  mov rbp, rsp")
	if frameSize > 0 {
		c.emit(fmt.Sprintf("  sub rsp, %d", frameSize))
	}

	env := newLocalEnv(c.sym)
	env.push()

	if len(fn.Params) > len(argRegs64) {
		return errAt(fn.SpanV, "more than 6 parameters not supported")
	}
	for i, param := range fn.Params {
		ty, err := symbols.ResolveType(param.Type, c.sym)
		if err != nil {
			return err
		}
		info := env.define(param.Name, ty)
		c.storeFromReg(i, info.offset, ty)
	}

	if err := c.emitBlock(fn.Body, env); err != nil {
		return err
	}
	env.pop()
	return nil
}

func (c *Codegen) computeFrameSize(fn *ast.FnDecl) (int, error) {
	sizer := &frameSizer{sym: c.sym}
	for _, param := range fn.Params {
		ty, err := symbols.ResolveType(param.Type, c.sym)
		if err != nil {
			return 0, err
		}
		sizer.allocate(ty)
	}
	if err := c.sizeBlock(fn.Body, sizer); err != nil {
		return 0, err
	}
	return alignUp(sizer.offset, 16), nil
}

func (c *Codegen) sizeBlock(block *ast.Block, sizer *frameSizer) error {
	for _, stmt := range block.Stmts {
		if err := c.sizeStmt(stmt, sizer); err != nil {
			return err
		}
	}
	return nil
}

func (c *Codegen) sizeStmt(stmt ast.Stmt, sizer *frameSizer) error {
	switch s := stmt.(type) {
	case *ast.Block:
		return c.sizeBlock(s, sizer)
	case *ast.VarDecl:
		ty, err := symbols.ResolveType(s.Type, c.sym)
		if err != nil {
			return err
		}
		sizer.allocate(ty)
		return nil
	case *ast.If:
		if err := c.sizeBlock(s.Then, sizer); err != nil {
			return err
		}
		if s.Else != nil {
			return c.sizeBlock(s.Else, sizer)
		}
		return nil
	case *ast.While:
		return c.sizeBlock(s.Body, sizer)
	case *ast.LabeledBlock:
		return c.sizeBlock(s.Block, sizer)
	default:
		return nil
	}
}

func (c *Codegen) emitBlock(block *ast.Block, env *localEnv) error {
	env.push()
	for _, stmt := range block.Stmts {
		if err := c.emitStmt(stmt, env); err != nil {
			return err
		}
	}
	env.pop()
	return nil
}

func (c *Codegen) emitStmt(stmt ast.Stmt, env *localEnv) error {
	switch s := stmt.(type) {
	case *ast.Block:
		return c.emitBlock(s, env)

	case *ast.VarDecl:
		c.emitLoc(s.SpanV)
		ty, err := symbols.ResolveType(s.Type, c.sym)
		if err != nil {
			return err
		}
		info := env.define(s.Name, ty)
		if st, ok := ty.(types.Struct); ok {
			return c.emitStructInitLocal(info.offset, st, s.Init, env)
		}
		if err := c.emitExpr(s.Init, env); err != nil {
			return err
		}
		c.storeRax(info.offset, ty)
		return nil

	case *ast.If:
		c.emitLoc(s.SpanV)
		elseLabel := c.newLabel(".else")
		endLabel := c.newLabel(".endif")
		if err := c.emitExpr(s.Cond, env); err != nil {
			return err
		}
		c.emit("  cmp rax, 0")
		c.emit(fmt.Sprintf("  je %s", elseLabel))
		if err := c.emitBlock(s.Then, env); err != nil {
			return err
		}
		c.emit(fmt.Sprintf("  jmp %s", endLabel))
		c.emit(fmt.Sprintf("%s:", elseLabel))
		if s.Else != nil {
			if err := c.emitBlock(s.Else, env); err != nil {
				return err
			}
		}
		c.emit(fmt.Sprintf("%s:", endLabel))
		return nil

	case *ast.While:
		c.emitLoc(s.SpanV)
		startLabel := c.newLabel(".while")
		endLabel := c.newLabel(".endwhile")
		c.emit(fmt.Sprintf("%s:", startLabel))
		if err := c.emitExpr(s.Cond, env); err != nil {
			return err
		}
		c.emit("  cmp rax, 0")
		c.emit(fmt.Sprintf("  je %s", endLabel))
		if err := c.emitBlock(s.Body, env); err != nil {
			return err
		}
		c.emit(fmt.Sprintf("  jmp %s", startLabel))
		c.emit(fmt.Sprintf("%s:", endLabel))
		return nil

	case *ast.ExprStmt:
		c.emitLoc(s.SpanV)
		return c.emitExpr(s.Expr, env)

	case *ast.Goto:
		c.emitLoc(s.SpanV)
		c.emit(fmt.Sprintf("  jmp %s", s.Label))
		return nil

	case *ast.LabeledBlock:
		c.emitLoc(s.SpanV)
		c.emit(fmt.Sprintf("%s:", s.Label))
		return c.emitBlock(s.Block, env)

	case *ast.Return:
		c.emitLoc(s.SpanV)
		if s.Value != nil {
			if err := c.emitExpr(s.Value, env); err != nil {
				return err
			}
		}
		c.emitEpilogue()
		return nil

	default:
		return errAt(stmt.Span(), "unsupported statement")
	}
}

func (c *Codegen) emitExpr(expr ast.Expr, env *localEnv) error {
	switch e := expr.(type) {
	case *ast.IntLit:
		c.emit(fmt.Sprintf("  mov rax, %d", e.Value))
		return nil
	case *ast.BoolLit:
		v := 0
		if e.Value {
			v = 1
		}
		c.emit(fmt.Sprintf("  mov rax, %d", v))
		return nil
	case *ast.NullLit:
		c.emit("  xor rax, rax")
		return nil
	case *ast.Var:
		info, ok := env.lookup(e.Name)
		if !ok {
			return errAt(e.SpanV, "unknown local: %s", e.Name)
		}
		c.loadIndirectToRax(fmt.Sprintf("rbp - %d", info.offset), info.typ)
		return nil
	case *ast.Unary:
		return c.emitUnary(e, env)
	case *ast.Binary:
		return c.emitBinary(e, env)
	case *ast.Call:
		return c.emitCall(e, env)
	case *ast.Field:
		ty, err := c.exprType(e, env)
		if err != nil {
			return err
		}
		if err := c.emitAddr(e, env); err != nil {
			return err
		}
		c.loadIndirectToRax("rax", ty)
		return nil
	case *ast.Index:
		ty, err := c.exprType(e, env)
		if err != nil {
			return err
		}
		if err := c.emitAddr(e, env); err != nil {
			return err
		}
		c.loadIndirectToRax("rax", ty)
		return nil
	case *ast.Assign:
		return c.emitAssign(e, env)
	case *ast.StructLit:
		return errAt(e.SpanV, "struct literal may only initialize a variable directly")
	default:
		return errAt(expr.Span(), "unsupported expression")
	}
}

func (c *Codegen) emitUnary(e *ast.Unary, env *localEnv) error {
	switch e.Op {
	case "-":
		if err := c.emitExpr(e.Expr, env); err != nil {
			return err
		}
		c.emit("  neg rax")
		return nil
	case "!":
		if err := c.emitExpr(e.Expr, env); err != nil {
			return err
		}
		c.emit("  cmp rax, 0")
		c.emit("  sete al")
		c.emit("  movzx rax, al")
		return nil
	case "*":
		innerTy, err := c.exprType(e.Expr, env)
		if err != nil {
			return err
		}
		ptr, ok := innerTy.(types.Ptr)
		if !ok {
			return errAt(e.SpanV, "dereference requires pointer")
		}
		if err := c.emitExpr(e.Expr, env); err != nil {
			return err
		}
		c.loadIndirectToRax("rax", ptr.Elem)
		return nil
	case "&":
		return c.emitAddr(e.Expr, env)
	default:
		return errAt(e.SpanV, "unknown unary operator: %s", e.Op)
	}
}

func (c *Codegen) emitBinary(e *ast.Binary, env *localEnv) error {
	if e.Op == "&&" || e.Op == "||" {
		return c.emitShortCircuit(e, env)
	}

	if err := c.emitExpr(e.Left, env); err != nil {
		return err
	}
	c.emit("  push rax")
	if err := c.emitExpr(e.Right, env); err != nil {
		return err
	}
	c.emit("  pop rcx")

	switch e.Op {
	case "+":
		c.emit("  add rcx, rax")
		c.emit("  mov rax, rcx")
	case "-":
		c.emit("  sub rcx, rax")
		c.emit("  mov rax, rcx")
	case "*":
		c.emit("  imul rcx, rax")
		c.emit("  mov rax, rcx")
	case "/", "%":
		c.emit("  mov r8, rax")
		c.emit("  mov rax, rcx")
		c.emit("  cqo")
		c.emit("  idiv r8")
		if e.Op == "%" {
			c.emit("  mov rax, rdx")
		}
	case "==", "!=", "<", "<=", ">", ">=":
		c.emit("  cmp rcx, rax")
		cc := map[string]string{"==": "e", "!=": "ne", "<": "l", "<=": "le", ">": "g", ">=": "ge"}[e.Op]
		c.emit(fmt.Sprintf("  set%s al", cc))
		c.emit("  movzx rax, al")
	default:
		return errAt(e.SpanV, "unknown binary operator: %s", e.Op)
	}
	return nil
}

func (c *Codegen) emitShortCircuit(e *ast.Binary, env *localEnv) error {
	if e.Op == "&&" {
		falseLabel := c.newLabel(".and_false")
		endLabel := c.newLabel(".and_end")
		if err := c.emitExpr(e.Left, env); err != nil {
			return err
		}
		c.emit("  cmp rax, 0")
		c.emit(fmt.Sprintf("  je %s", falseLabel))
		if err := c.emitExpr(e.Right, env); err != nil {
			return err
		}
		c.emit("  cmp rax, 0")
		c.emit("  setne al")
		c.emit("  movzx rax, al")
		c.emit(fmt.Sprintf("  jmp %s", endLabel))
		c.emit(fmt.Sprintf("%s:", falseLabel))
		c.emit("  xor rax, rax")
		c.emit(fmt.Sprintf("%s:", endLabel))
		return nil
	}

	trueLabel := c.newLabel(".or_true")
	endLabel := c.newLabel(".or_end")
	if err := c.emitExpr(e.Left, env); err != nil {
		return err
	}
	c.emit("  cmp rax, 0")
	c.emit(fmt.Sprintf("  jne %s", trueLabel))
	if err := c.emitExpr(e.Right, env); err != nil {
		return err
	}
	c.emit("  cmp rax, 0")
	c.emit("  setne al")
	c.emit("  movzx rax, al")
	c.emit(fmt.Sprintf("  jmp %s", endLabel))
	c.emit(fmt.Sprintf("%s:", trueLabel))
	c.emit("  mov rax, 1")
	c.emit(fmt.Sprintf("%s:", endLabel))
	return nil
}

func (c *Codegen) emitCall(e *ast.Call, env *localEnv) error {
	calleeVar, ok := e.Callee.(*ast.Var)
	if !ok {
		return errAt(e.SpanV, "call target must be a function name")
	}
	if len(e.Args) > len(argRegs64) {
		return errAt(e.SpanV, "more than 6 arguments not supported")
	}
	for _, arg := range e.Args {
		if err := c.emitExpr(arg, env); err != nil {
			return err
		}
		c.emit("  push rax")
	}
	for i := len(e.Args) - 1; i >= 0; i-- {
		c.emit(fmt.Sprintf("  pop %s", argRegs64[i]))
	}
	c.emit(fmt.Sprintf("  call %s", calleeVar.Name))
	return nil
}

func (c *Codegen) emitAssign(e *ast.Assign, env *localEnv) error {
	targetTy, err := c.exprType(e.Target, env)
	if err != nil {
		return err
	}
	if st, ok := targetTy.(types.Struct); ok {
		return c.emitStructAssign(e, st, env)
	}

	if err := c.emitAddr(e.Target, env); err != nil {
		return err
	}
	c.emit("  push rax")
	if err := c.emitExpr(e.Value, env); err != nil {
		return err
	}
	c.emit("  pop rcx")
	c.storeIndirectFromRax("rcx", targetTy)
	return nil
}

// emitAddr emits code that leaves expr's address in rax. expr must be
// one of the four lvalue forms accepted by ast.IsLvalue.
func (c *Codegen) emitAddr(expr ast.Expr, env *localEnv) error {
	switch e := expr.(type) {
	case *ast.Var:
		info, ok := env.lookup(e.Name)
		if !ok {
			return errAt(e.SpanV, "unknown local: %s", e.Name)
		}
		c.emit(fmt.Sprintf("  lea rax, [rbp - %d]", info.offset))
		return nil
	case *ast.Unary:
		if e.Op != "*" {
			return errAt(e.SpanV, "expression is not addressable")
		}
		return c.emitExpr(e.Expr, env)
	case *ast.Field:
		baseTy, err := c.exprType(e.Base, env)
		if err != nil {
			return err
		}
		st, ok := baseTy.(types.Struct)
		if !ok {
			return errAt(e.SpanV, "field access requires struct, got %s", baseTy)
		}
		fieldLayout, ok := c.sym.Layouts.Lookup(st.Name)
		if !ok {
			return errAt(e.SpanV, "unknown struct: %s", st.Name)
		}
		field, ok := fieldLayout.FieldByName(e.Name)
		if !ok {
			return errAt(e.SpanV, "unknown field %s on %s", e.Name, st.Name)
		}
		if err := c.emitAddr(e.Base, env); err != nil {
			return err
		}
		if field.Offset != 0 {
			c.emit(fmt.Sprintf("  add rax, %d", field.Offset))
		}
		return nil
	case *ast.Index:
		baseTy, err := c.exprType(e.Base, env)
		if err != nil {
			return err
		}
		ptr, ok := baseTy.(types.Ptr)
		if !ok {
			return errAt(e.SpanV, "indexing requires pointer base, got %s", baseTy)
		}
		if err := c.emitExpr(e.Base, env); err != nil {
			return err
		}
		c.emit("  push rax")
		if err := c.emitExpr(e.Idx, env); err != nil {
			return err
		}
		c.emit("  pop rcx")
		elemSize := sizeOf(ptr.Elem, c.sym)
		c.emit(fmt.Sprintf("  imul rax, rax, %d", elemSize))
		c.emit("  add rax, rcx")
		return nil
	default:
		return errAt(expr.Span(), "expression is not addressable")
	}
}

// emitStructInitLocal initializes a newly defined struct-typed local
// at frame offset directly from its VarDecl initializer.
func (c *Codegen) emitStructInitLocal(offset int, st types.Struct, init ast.Expr, env *localEnv) error {
	fieldLayout, ok := c.sym.Layouts.Lookup(st.Name)
	if !ok {
		return errAt(init.Span(), "unknown struct: %s", st.Name)
	}
	switch v := init.(type) {
	case *ast.StructLit:
		c.emit(fmt.Sprintf("  lea rax, [rbp - %d]", offset))
		return c.storeStructLitViaRax(v, fieldLayout, env)
	default:
		if !ast.IsLvalue(init) {
			return errAt(init.Span(), "unsupported struct initializer")
		}
		if err := c.emitAddr(init, env); err != nil {
			return err
		}
		c.emit("  mov rsi, rax")
		c.emit(fmt.Sprintf("  lea rdi, [rbp - %d]", offset))
		c.emit(fmt.Sprintf("  mov rcx, %d", fieldLayout.Size))
		c.emit("  rep movsb")
		return nil
	}
}

func (c *Codegen) emitStructAssign(e *ast.Assign, st types.Struct, env *localEnv) error {
	fieldLayout, ok := c.sym.Layouts.Lookup(st.Name)
	if !ok {
		return errAt(e.SpanV, "unknown struct: %s", st.Name)
	}
	if err := c.emitAddr(e.Target, env); err != nil {
		return err
	}
	if lit, ok := e.Value.(*ast.StructLit); ok {
		return c.storeStructLitViaRax(lit, fieldLayout, env)
	}
	if !ast.IsLvalue(e.Value) {
		return errAt(e.SpanV, "unsupported struct assignment value")
	}
	c.emit("  mov rdi, rax")
	if err := c.emitAddr(e.Value, env); err != nil {
		return err
	}
	c.emit("  mov rsi, rax")
	c.emit(fmt.Sprintf("  mov rcx, %d", fieldLayout.Size))
	c.emit("  rep movsb")
	return nil
}

// storeStructLitViaRax stores lit's fields through the destination
// address currently held in rax, using rbx as the persistent base
// across each field's (possibly call-containing) value expression.
func (c *Codegen) storeStructLitViaRax(lit *ast.StructLit, st *layout.Struct, env *localEnv) error {
	c.emit("  push rbx")
	c.emit("  mov rbx, rax")
	for _, fi := range lit.Fields {
		field, ok := st.FieldByName(fi.Name)
		if !ok {
			return errAt(fi.Span, "unknown field %s in struct literal %s", fi.Name, st.Name)
		}
		if nested, ok := fi.Value.(*ast.StructLit); ok {
			nestedSt, ok := field.Type.(types.Struct)
			if !ok {
				return errAt(fi.Span, "field %s is not a struct", fi.Name)
			}
			nestedLayout, ok := c.structLayoutFor(nestedSt)
			if !ok {
				return errAt(fi.Span, "unknown struct: %s", nestedSt.Name)
			}
			c.emit(fmt.Sprintf("  lea rax, [rbx + %d]", field.Offset))
			if err := c.storeStructLitViaRax(nested, nestedLayout, env); err != nil {
				return err
			}
			continue
		}
		if err := c.emitExpr(fi.Value, env); err != nil {
			return err
		}
		c.storeIndirectFromRax(fmt.Sprintf("rbx + %d", field.Offset), field.Type)
	}
	c.emit("  pop rbx")
	return nil
}

func (c *Codegen) structLayoutFor(st types.Struct) (*layout.Struct, bool) {
	return c.sym.Layouts.Lookup(st.Name)
}

func (c *Codegen) loadIndirectToRax(addr string, ty types.Type) {
	size := sizeOf(ty, c.sym)
	switch size {
	case 1:
		c.emit(fmt.Sprintf("  movzx rax, byte ptr [%s]", addr))
	case 4:
		c.emit(fmt.Sprintf("  mov eax, dword ptr [%s]", addr))
	default:
		c.emit(fmt.Sprintf("  mov rax, qword ptr [%s]", addr))
	}
}

func (c *Codegen) storeRax(offset int, ty types.Type) {
	c.storeIndirectFromRax(fmt.Sprintf("rbp - %d", offset), ty)
}

func (c *Codegen) storeIndirectFromRax(addr string, ty types.Type) {
	size := sizeOf(ty, c.sym)
	switch size {
	case 1:
		c.emit(fmt.Sprintf("  mov byte ptr [%s], al", addr))
	case 4:
		c.emit(fmt.Sprintf("  mov dword ptr [%s], eax", addr))
	default:
		c.emit(fmt.Sprintf("  mov qword ptr [%s], rax", addr))
	}
}

func (c *Codegen) storeFromReg(argIndex, offset int, ty types.Type) {
	size := sizeOf(ty, c.sym)
	switch size {
	case 1:
		c.emit(fmt.Sprintf("  mov byte ptr [rbp - %d], %s", offset, argRegs8[argIndex]))
	case 4:
		c.emit(fmt.Sprintf("  mov dword ptr [rbp - %d], %s", offset, argRegs32[argIndex]))
	default:
		c.emit(fmt.Sprintf("  mov qword ptr [rbp - %d], %s", offset, argRegs64[argIndex]))
	}
}

func sizeOf(ty types.Type, sym *symbols.Global) int {
	if st, ok := ty.(types.Struct); ok {
		if sl, ok := sym.Layouts.Lookup(st.Name); ok {
			return sl.Size
		}
	}
	return types.Size(ty)
}

// alignOf is sizeOf's counterpart for alignment: types.Align returns 1
// for types.Struct (it has no layout to consult), which would pack a
// struct local against the previous cursor with no regard for its
// fields' own alignment. Frame allocation needs the layout's computed
// alignment instead.
func alignOf(ty types.Type, sym *symbols.Global) int {
	if st, ok := ty.(types.Struct); ok {
		if sl, ok := sym.Layouts.Lookup(st.Name); ok {
			return sl.Align
		}
	}
	return types.Align(ty)
}

// exprType re-derives expr's static type by walking local storage and
// struct layouts; codegen needs this at addressing time to pick the
// right load/store width, since lowered nodes carry no type annotation.
func (c *Codegen) exprType(expr ast.Expr, env *localEnv) (types.Type, error) {
	switch e := expr.(type) {
	case *ast.Var:
		info, ok := env.lookup(e.Name)
		if !ok {
			return nil, errAt(e.SpanV, "unknown local: %s", e.Name)
		}
		return info.typ, nil
	case *ast.Field:
		baseTy, err := c.exprType(e.Base, env)
		if err != nil {
			return nil, err
		}
		st, ok := baseTy.(types.Struct)
		if !ok {
			return nil, errAt(e.SpanV, "field access requires struct, got %s", baseTy)
		}
		fieldLayout, ok := c.sym.Layouts.Lookup(st.Name)
		if !ok {
			return nil, errAt(e.SpanV, "unknown struct: %s", st.Name)
		}
		field, ok := fieldLayout.FieldByName(e.Name)
		if !ok {
			return nil, errAt(e.SpanV, "unknown field %s on %s", e.Name, st.Name)
		}
		return field.Type, nil
	case *ast.Unary:
		if e.Op != "*" {
			return nil, errAt(e.SpanV, "cannot determine type")
		}
		innerTy, err := c.exprType(e.Expr, env)
		if err != nil {
			return nil, err
		}
		ptr, ok := innerTy.(types.Ptr)
		if !ok {
			return nil, errAt(e.SpanV, "dereference requires pointer")
		}
		return ptr.Elem, nil
	case *ast.Index:
		baseTy, err := c.exprType(e.Base, env)
		if err != nil {
			return nil, err
		}
		ptr, ok := baseTy.(types.Ptr)
		if !ok {
			return nil, errAt(e.SpanV, "indexing requires pointer base, got %s", baseTy)
		}
		return ptr.Elem, nil
	default:
		return nil, errAt(expr.Span(), "expression type unavailable")
	}
}

func (c *Codegen) emitEpilogue() {
	c.emit("  mov rsp, rbp")
	c.emit("  pop rbp")
	c.emit("  ret")
}

func (c *Codegen) newLabel(prefix string) string {
	label := fmt.Sprintf("%s_%d", prefix, c.labelID)
	c.labelID++
	return label
}

func (c *Codegen) emit(line string) { c.lines = append(c.lines, line) }

func (c *Codegen) emitLoc(span ast.Span) {
	if span == (ast.Span{}) || span == ast.NoSpan {
		return
	}
	if c.haveLoc && c.lastLoc[0] == span.File && c.lastLoc[1] == span.Line {
		return
	}
	c.haveLoc = true
	c.lastLoc = [2]any{span.File, span.Line}
	if text, ok := c.sourceLine(span.File, span.Line); ok {
		c.emit(fmt.Sprintf("  # %s:%d:%d | %s", span.File, span.Line, span.Col, text))
		return
	}
	c.emit(fmt.Sprintf("  # %s:%d:%d", span.File, span.Line, span.Col))
}

func (c *Codegen) sourceLine(file string, line int) (string, bool) {
	lines, ok := c.sources[file]
	if !ok || line <= 0 || line > len(lines) {
		return "", false
	}
	return strings.TrimRight(lines[line-1], "\n"), true
}

func alignUp(value, align int) int {
	if align <= 1 {
		return value
	}
	return (value + align - 1) / align * align
}
