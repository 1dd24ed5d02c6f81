// Package ast defines the Toy-language syntax tree: declarations, types,
// statements and expressions produced by pkg/parser and consumed by
// pkg/symbols, pkg/typecheck, pkg/lower and pkg/codegen.
package ast

import "fmt"

// Span is the source location carried by every syntactic node: a file,
// a 1-based line, and a 1-based column.
type Span struct {
	File string
	Line int
	Col  int
}

func (s Span) String() string {
	if s.File == "" {
		return fmt.Sprintf("%d:%d", s.Line, s.Col)
	}
	return fmt.Sprintf("%s:%d:%d", s.File, s.Line, s.Col)
}

// NoSpan is used for synthesized nodes (lowering output, builtin types)
// that have no corresponding source text.
var NoSpan = Span{File: "<builtin>"}
