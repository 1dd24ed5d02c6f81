// Package symbols builds the global symbol table (struct and function
// declarations) and resolves surface types against it. The lexical
// scope stack used while type-checking function bodies is
// pkg/typecheck's Env.
package symbols

import (
	"fmt"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/layout"
	"github.com/jpshackelford/toycc/pkg/types"
)

// SymbolError is the fatal error kind for global name resolution.
type SymbolError struct {
	Span    ast.Span
	Message string
}

func (e *SymbolError) Error() string {
	return fmt.Sprintf("%s: %s", e.Span, e.Message)
}

// FnSig is a function's resolved signature, shared by FnDecl and
// ExternFnDecl so call-checking doesn't care which declared it.
type FnSig struct {
	Name   string
	Params []ast.Param
	Ret    ast.TypeAst
	Extern bool
}

// Global is the whole-program symbol table: struct declarations (with
// their computed layouts) and function signatures, keyed by name.
type Global struct {
	Structs   map[string]*ast.StructDecl
	Layouts   *layout.Table
	Functions map[string]FnSig
}

// Build scans every top-level declaration for duplicate names, then
// computes struct layouts. Structs and functions live in disjoint
// namespaces, matching a NamedType never referring to a function.
func Build(prog *ast.Program) (*Global, error) {
	structs := make(map[string]*ast.StructDecl)
	functions := make(map[string]FnSig)

	for _, decl := range prog.Decls {
		switch d := decl.(type) {
		case *ast.StructDecl:
			if _, dup := structs[d.Name]; dup {
				return nil, &SymbolError{Span: d.Span(), Message: fmt.Sprintf("duplicate struct: %s", d.Name)}
			}
			structs[d.Name] = d
		case *ast.FnDecl:
			if _, dup := functions[d.Name]; dup {
				return nil, &SymbolError{Span: d.Span(), Message: fmt.Sprintf("duplicate function: %s", d.Name)}
			}
			functions[d.Name] = FnSig{Name: d.Name, Params: d.Params, Ret: d.Ret, Extern: false}
		case *ast.ExternFnDecl:
			if _, dup := functions[d.Name]; dup {
				return nil, &SymbolError{Span: d.Span(), Message: fmt.Sprintf("duplicate function: %s", d.Name)}
			}
			functions[d.Name] = FnSig{Name: d.Name, Params: d.Params, Ret: d.Ret, Extern: true}
		default:
			return nil, &SymbolError{Span: decl.Span(), Message: "unsupported declaration"}
		}
	}

	layouts, err := layout.Build(structs)
	if err != nil {
		var lerr *layout.LayoutError
		if ok := asLayoutError(err, &lerr); ok {
			return nil, &SymbolError{Span: ast.NoSpan, Message: lerr.Message}
		}
		return nil, err
	}

	return &Global{Structs: structs, Layouts: layouts, Functions: functions}, nil
}

// ResolveType turns a surface TypeAst into its semantic types.Type,
// validating that any named struct actually exists.
func ResolveType(ta ast.TypeAst, g *Global) (types.Type, error) {
	switch n := ta.(type) {
	case *ast.PtrType:
		inner, err := ResolveType(n.Inner, g)
		if err != nil {
			return nil, err
		}
		return types.Ptr{Elem: inner}, nil
	case *ast.NamedType:
		switch n.Name {
		case "i64":
			return types.I64, nil
		case "u64":
			return types.U64, nil
		case "u8":
			return types.U8, nil
		case "bool":
			return types.Bool, nil
		case "unit":
			return types.Unit, nil
		}
		if _, ok := g.Structs[n.Name]; ok {
			return types.Struct{Name: n.Name}, nil
		}
		return nil, &SymbolError{Span: n.Span(), Message: fmt.Sprintf("unknown type: %s", n.Name)}
	default:
		return nil, &SymbolError{Span: ast.NoSpan, Message: "unknown type AST node"}
	}
}

func asLayoutError(err error, target **layout.LayoutError) bool {
	if le, ok := err.(*layout.LayoutError); ok {
		*target = le
		return true
	}
	return false
}

