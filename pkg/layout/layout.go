// Package layout computes struct field offsets, sizes and alignments.
// It is the one place that turns an ast.StructDecl's declaration order
// into concrete byte geometry, shared by pkg/typecheck (to validate
// field access) and pkg/codegen (to emit addresses).
package layout

import (
	"fmt"
	"strings"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/types"
)

// LayoutError is the fatal error kind for struct-layout computation. It
// is folded into pkg/symbols.SymbolError by callers; it has its own type
// here so layout can be tested in isolation.
type LayoutError struct {
	Message string
}

func (e *LayoutError) Error() string { return e.Message }

// Field is one laid-out struct field.
type Field struct {
	Name   string
	Type   types.Type
	Offset int
	Size   int
	Align  int
}

// Struct is a fully laid-out struct type.
type Struct struct {
	Name   string
	Fields []Field
	Size   int
	Align  int
}

// FieldByName returns the field named n, or (Field{}, false).
func (s *Struct) FieldByName(n string) (Field, bool) {
	for _, f := range s.Fields {
		if f.Name == n {
			return f, true
		}
	}
	return Field{}, false
}

// Table resolves struct names to their Struct layout.
type Table struct {
	structs map[string]*Struct
}

// Lookup returns the layout for name, or (nil, false).
func (t *Table) Lookup(name string) (*Struct, bool) {
	s, ok := t.structs[name]
	return s, ok
}

// Build computes layouts for every struct declaration, detecting illegal
// value-recursion (a struct that contains itself by value, directly or
// through another struct). A struct reached only through a pointer is
// legal: Ptr does not recurse into its element for sizing purposes, so
// the visiting stack is only consulted when resolving a NamedType field
// directly, never inside a PtrType.
func Build(decls map[string]*ast.StructDecl) (*Table, error) {
	t := &Table{structs: make(map[string]*Struct, len(decls))}
	for name, decl := range decls {
		if _, err := t.resolve(name, decl, decls, nil); err != nil {
			return nil, err
		}
	}
	return t, nil
}

func (t *Table) resolve(name string, decl *ast.StructDecl, decls map[string]*ast.StructDecl, visiting []string) (*Struct, error) {
	if s, ok := t.structs[name]; ok {
		return s, nil
	}
	for _, v := range visiting {
		if v == name {
			cycle := append(append([]string{}, visiting...), name)
			return nil, &LayoutError{Message: fmt.Sprintf("illegal recursive struct: %s", strings.Join(cycle, " -> "))}
		}
	}
	visiting = append(visiting, name)

	offset := 0
	structAlign := 1
	var fields []Field
	for _, f := range decl.Fields {
		ty, size, align, err := t.typeSizeAlign(f.Type, decls, visiting)
		if err != nil {
			return nil, err
		}
		offset = alignUp(offset, align)
		fields = append(fields, Field{Name: f.Name, Type: ty, Offset: offset, Size: size, Align: align})
		offset += size
		if align > structAlign {
			structAlign = align
		}
	}
	size := alignUp(offset, structAlign)
	s := &Struct{Name: name, Fields: fields, Size: size, Align: structAlign}
	t.structs[name] = s
	return s, nil
}

func (t *Table) typeSizeAlign(ta ast.TypeAst, decls map[string]*ast.StructDecl, visiting []string) (types.Type, int, int, error) {
	switch n := ta.(type) {
	case *ast.PtrType:
		elem, err := t.resolveTypeName(n.Inner, decls, nil)
		if err != nil {
			return nil, 0, 0, err
		}
		return types.Ptr{Elem: elem}, 8, 8, nil
	case *ast.NamedType:
		if ty, ok := builtinType(n.Name); ok {
			return ty, types.Size(ty), types.Align(ty), nil
		}
		decl, ok := decls[n.Name]
		if !ok {
			return nil, 0, 0, &LayoutError{Message: fmt.Sprintf("unknown type: %s", n.Name)}
		}
		s, err := t.resolve(n.Name, decl, decls, visiting)
		if err != nil {
			return nil, 0, 0, err
		}
		return types.Struct{Name: n.Name}, s.Size, s.Align, nil
	default:
		return nil, 0, 0, &LayoutError{Message: "unknown type AST node"}
	}
}

// resolveTypeName resolves a TypeAst to its types.Type without forcing a
// struct layout, so pointer fields never trigger a visiting-stack check
// against their pointee.
func (t *Table) resolveTypeName(ta ast.TypeAst, decls map[string]*ast.StructDecl, visiting []string) (types.Type, error) {
	switch n := ta.(type) {
	case *ast.PtrType:
		inner, err := t.resolveTypeName(n.Inner, decls, visiting)
		if err != nil {
			return nil, err
		}
		return types.Ptr{Elem: inner}, nil
	case *ast.NamedType:
		if ty, ok := builtinType(n.Name); ok {
			return ty, nil
		}
		if _, ok := decls[n.Name]; ok {
			return types.Struct{Name: n.Name}, nil
		}
		return nil, &LayoutError{Message: fmt.Sprintf("unknown type: %s", n.Name)}
	default:
		return nil, &LayoutError{Message: "unknown type AST node"}
	}
}

func builtinType(name string) (types.Type, bool) {
	switch name {
	case "i64":
		return types.I64, true
	case "u64":
		return types.U64, true
	case "u8":
		return types.U8, true
	case "bool":
		return types.Bool, true
	case "unit":
		return types.Unit, true
	default:
		return nil, false
	}
}

func alignUp(value, align int) int {
	if align <= 1 {
		return value
	}
	return (value + align - 1) / align * align
}
