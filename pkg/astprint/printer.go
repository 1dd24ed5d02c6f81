// Package astprint renders an *ast.Program back to readable source-like
// text. It backs the driver's default dump mode and --lower, so a
// developer can see exactly what the parser or the lowering pass
// produced, the same role the teacher's per-IR Printer types played at
// each of its debug flags.
package astprint

import (
	"fmt"
	"io"
	"strings"

	"github.com/jpshackelford/toycc/pkg/ast"
)

// Printer writes a Program to w.
type Printer struct {
	w   io.Writer
	ind int
}

// NewPrinter creates a Printer writing to w.
func NewPrinter(w io.Writer) *Printer {
	return &Printer{w: w}
}

// PrintProgram prints every declaration in prog in source order.
func (p *Printer) PrintProgram(prog *ast.Program) {
	for i, decl := range prog.Decls {
		if i > 0 {
			fmt.Fprintln(p.w)
		}
		p.printDecl(decl)
	}
}

func (p *Printer) printDecl(decl ast.Decl) {
	switch d := decl.(type) {
	case *ast.StructDecl:
		fmt.Fprintf(p.w, "struct %s {\n", d.Name)
		for _, f := range d.Fields {
			fmt.Fprintf(p.w, "  %s: %s;\n", f.Name, typeString(f.Type))
		}
		fmt.Fprintln(p.w, "}")
	case *ast.ExternFnDecl:
		fmt.Fprintf(p.w, "extern fn %s(%s) -> %s;\n", d.Name, paramList(d.Params), typeString(d.Ret))
	case *ast.FnDecl:
		fmt.Fprintf(p.w, "fn %s(%s) -> %s ", d.Name, paramList(d.Params), typeString(d.Ret))
		p.printBlock(d.Body)
		fmt.Fprintln(p.w)
	default:
		fmt.Fprintf(p.w, "<unknown decl>\n")
	}
}

func paramList(params []ast.Param) string {
	parts := make([]string, len(params))
	for i, param := range params {
		parts[i] = fmt.Sprintf("%s: %s", param.Name, typeString(param.Type))
	}
	return strings.Join(parts, ", ")
}

func typeString(t ast.TypeAst) string {
	switch n := t.(type) {
	case *ast.NamedType:
		return n.Name
	case *ast.PtrType:
		return "*" + typeString(n.Inner)
	default:
		return "<unknown type>"
	}
}

func (p *Printer) printBlock(b *ast.Block) {
	fmt.Fprintln(p.w, "{")
	p.ind++
	for _, stmt := range b.Stmts {
		p.printIndent()
		p.printStmt(stmt)
	}
	p.ind--
	p.printIndent()
	fmt.Fprint(p.w, "}")
}

func (p *Printer) printIndent() {
	fmt.Fprint(p.w, strings.Repeat("  ", p.ind))
}

func (p *Printer) printStmt(stmt ast.Stmt) {
	switch s := stmt.(type) {
	case *ast.Block:
		p.printBlock(s)
		fmt.Fprintln(p.w)
	case *ast.VarDecl:
		fmt.Fprintf(p.w, "var %s: %s = %s;\n", s.Name, typeString(s.Type), exprString(s.Init))
	case *ast.DeferStmt:
		fmt.Fprintf(p.w, "defer %s;\n", exprString(s.Call))
	case *ast.If:
		fmt.Fprintf(p.w, "if %s ", exprString(s.Cond))
		p.printBlock(s.Then)
		if s.Else != nil {
			fmt.Fprint(p.w, " else ")
			p.printBlock(s.Else)
		}
		fmt.Fprintln(p.w)
	case *ast.While:
		fmt.Fprintf(p.w, "while %s ", exprString(s.Cond))
		p.printBlock(s.Body)
		fmt.Fprintln(p.w)
	case *ast.Return:
		if s.Value != nil {
			fmt.Fprintf(p.w, "return %s;\n", exprString(s.Value))
		} else {
			fmt.Fprintln(p.w, "return;")
		}
	case *ast.ExprStmt:
		fmt.Fprintf(p.w, "%s;\n", exprString(s.Expr))
	case *ast.Goto:
		fmt.Fprintf(p.w, "goto %s;\n", s.Label)
	case *ast.LabeledBlock:
		fmt.Fprintf(p.w, "%s: ", s.Label)
		p.printBlock(s.Block)
		fmt.Fprintln(p.w)
	default:
		fmt.Fprintln(p.w, "<unknown stmt>;")
	}
}

// exprString renders expr as Toy source text, fully parenthesizing
// binary operators so the precedence a reader sees is never ambiguous.
func exprString(expr ast.Expr) string {
	switch e := expr.(type) {
	case *ast.IntLit:
		return fmt.Sprintf("%d", e.Value)
	case *ast.BoolLit:
		if e.Value {
			return "true"
		}
		return "false"
	case *ast.NullLit:
		return "null"
	case *ast.Var:
		return e.Name
	case *ast.Unary:
		return e.Op + exprString(e.Expr)
	case *ast.Binary:
		return fmt.Sprintf("(%s %s %s)", exprString(e.Left), e.Op, exprString(e.Right))
	case *ast.Call:
		args := make([]string, len(e.Args))
		for i, a := range e.Args {
			args[i] = exprString(a)
		}
		return fmt.Sprintf("%s(%s)", exprString(e.Callee), strings.Join(args, ", "))
	case *ast.Field:
		return fmt.Sprintf("%s.%s", exprString(e.Base), e.Name)
	case *ast.Index:
		return fmt.Sprintf("%s[%s]", exprString(e.Base), exprString(e.Idx))
	case *ast.Assign:
		return fmt.Sprintf("%s = %s", exprString(e.Target), exprString(e.Value))
	case *ast.StructLit:
		parts := make([]string, len(e.Fields))
		for i, f := range e.Fields {
			parts[i] = fmt.Sprintf("%s: %s", f.Name, exprString(f.Value))
		}
		return fmt.Sprintf("%s { %s }", e.Name, strings.Join(parts, ", "))
	default:
		return "<unknown expr>"
	}
}
