package lower

import (
	"testing"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/parser"
	"github.com/jpshackelford/toycc/pkg/symbols"
	"github.com/jpshackelford/toycc/pkg/typecheck"
)

func lowerSrc(t *testing.T, src string) *ast.Program {
	t.Helper()
	prog, err := parser.Parse("test.toy", src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sym, err := symbols.Build(prog)
	if err != nil {
		t.Fatalf("symbol build error: %v", err)
	}
	if err := typecheck.CheckProgram(prog, sym); err != nil {
		t.Fatalf("typecheck error: %v", err)
	}
	lowered, err := Program(prog, sym)
	if err != nil {
		t.Fatalf("lower error: %v", err)
	}
	return lowered
}

func findFn(t *testing.T, prog *ast.Program, name string) *ast.FnDecl {
	t.Helper()
	for _, d := range prog.Decls {
		if fn, ok := d.(*ast.FnDecl); ok && fn.Name == name {
			return fn
		}
	}
	t.Fatalf("function %s not found", name)
	return nil
}

func TestLowerSingleExit(t *testing.T) {
	src := `
	fn main() -> i64 {
		if true {
			return 1;
		}
		return 2;
	}`
	prog := lowerSrc(t, src)
	fn := findFn(t, prog, "main")

	last := fn.Body.Stmts[len(fn.Body.Stmts)-1]
	lb, ok := last.(*ast.LabeledBlock)
	if !ok {
		t.Fatalf("expected final statement to be a LabeledBlock, got %T", last)
	}
	if lb.Label != "__fn_exit_main" {
		t.Errorf("exit label = %q, want __fn_exit_main", lb.Label)
	}
	if len(lb.Block.Stmts) != 1 {
		t.Fatalf("expected exactly one statement in exit block, got %d", len(lb.Block.Stmts))
	}
	if _, ok := lb.Block.Stmts[0].(*ast.Return); !ok {
		t.Fatalf("expected exit block to hold a single Return, got %T", lb.Block.Stmts[0])
	}

	first, ok := fn.Body.Stmts[0].(*ast.VarDecl)
	if !ok || first.Name != "__ret_main" {
		t.Fatalf("expected first statement to declare __ret_main, got %#v", fn.Body.Stmts[0])
	}
}

func TestLowerReturnBecomesAssignAndGoto(t *testing.T) {
	src := `fn f() -> i64 { return 5; }`
	prog := lowerSrc(t, src)
	fn := findFn(t, prog, "f")

	// stmts[0] = __ret_f decl, stmts[1] = assign, stmts[2] = goto, stmts[3] = exit label.
	assignStmt, ok := fn.Body.Stmts[1].(*ast.ExprStmt)
	if !ok {
		t.Fatalf("expected ExprStmt at index 1, got %T", fn.Body.Stmts[1])
	}
	assign, ok := assignStmt.Expr.(*ast.Assign)
	if !ok {
		t.Fatalf("expected Assign expr, got %T", assignStmt.Expr)
	}
	if v, ok := assign.Target.(*ast.Var); !ok || v.Name != "__ret_f" {
		t.Errorf("assign target = %#v, want __ret_f", assign.Target)
	}
	gotoStmt, ok := fn.Body.Stmts[2].(*ast.Goto)
	if !ok || gotoStmt.Label != "__fn_exit_f" {
		t.Fatalf("expected Goto to __fn_exit_f, got %#v", fn.Body.Stmts[2])
	}
}

func TestLowerDeferDrainsInReverseOrderAtBlockExit(t *testing.T) {
	src := `
	fn cleanup(n: i64) -> unit {}
	fn main() -> unit {
		defer cleanup(1);
		defer cleanup(2);
	}`
	prog := lowerSrc(t, src)
	fn := findFn(t, prog, "main")

	var calls, args []string
	for _, stmt := range fn.Body.Stmts {
		if es, ok := stmt.(*ast.ExprStmt); ok {
			if call, ok := es.Expr.(*ast.Call); ok {
				if callee, ok := call.Callee.(*ast.Var); ok {
					calls = append(calls, callee.Name)
					if len(call.Args) == 1 {
						if arg, ok := call.Args[0].(*ast.Var); ok {
							args = append(args, arg.Name)
						}
					}
				}
			}
		}
	}
	if len(calls) != 2 {
		t.Fatalf("expected 2 drained calls, got %d: %v", len(calls), calls)
	}
	if len(args) != 2 || args[0] != "__defer_tmp_2" || args[1] != "__defer_tmp_1" {
		t.Errorf("expected cleanup(2) drained before cleanup(1), got args %v", args)
	}
}

func TestLowerDeferCapturesArgumentAtDeferPoint(t *testing.T) {
	src := `
	fn show(n: i64) -> unit {}
	fn main() -> unit {
		var x: i64 = 1;
		defer show(x);
		x = 2;
	}`
	prog := lowerSrc(t, src)
	fn := findFn(t, prog, "main")

	var sawTempDecl, sawTempInitOne bool
	for _, stmt := range fn.Body.Stmts {
		if vd, ok := stmt.(*ast.VarDecl); ok && vd.Name == "__defer_tmp_1" {
			sawTempDecl = true
			if lit, ok := vd.Init.(*ast.Var); ok && lit.Name == "x" {
				sawTempInitOne = true
			}
		}
	}
	if !sawTempDecl {
		t.Fatal("expected a __defer_tmp_1 declaration capturing the deferred argument")
	}
	if !sawTempInitOne {
		t.Fatal("expected the temp's initializer to read x at the defer point, before the later assignment")
	}
}

func TestLowerReturnDrainsEnclosingDefersBeforeGoto(t *testing.T) {
	src := `
	fn cleanup() -> unit {}
	fn main() -> i64 {
		defer cleanup();
		if true {
			return 1;
		}
		return 2;
	}`
	prog := lowerSrc(t, src)
	fn := findFn(t, prog, "main")

	ifStmt := findIf(t, fn.Body.Stmts)
	thenStmts := ifStmt.Then.Stmts
	var sawDrain bool
	for _, stmt := range thenStmts {
		if es, ok := stmt.(*ast.ExprStmt); ok {
			if call, ok := es.Expr.(*ast.Call); ok {
				if callee, ok := call.Callee.(*ast.Var); ok && callee.Name == "cleanup" {
					sawDrain = true
				}
			}
		}
	}
	if !sawDrain {
		t.Fatal("expected the early return inside the if-branch to drain the enclosing defer before jumping")
	}
}

func TestLowerDoesNotDuplicateDrainAfterUnconditionalReturn(t *testing.T) {
	src := `
	fn cleanup() -> unit {}
	fn main() -> i64 {
		defer cleanup();
		return 1;
	}`
	prog := lowerSrc(t, src)
	fn := findFn(t, prog, "main")

	var calls int
	for _, stmt := range fn.Body.Stmts {
		if es, ok := stmt.(*ast.ExprStmt); ok {
			if call, ok := es.Expr.(*ast.Call); ok {
				if callee, ok := call.Callee.(*ast.Var); ok && callee.Name == "cleanup" {
					calls++
				}
			}
		}
	}
	if calls != 1 {
		t.Fatalf("expected exactly one drained call to cleanup, got %d", calls)
	}
}

func findIf(t *testing.T, stmts []ast.Stmt) *ast.If {
	t.Helper()
	for _, s := range stmts {
		if ifs, ok := s.(*ast.If); ok {
			return ifs
		}
	}
	t.Fatal("expected an If statement")
	return nil
}
