// Command toycc is the ahead-of-time compiler driver: it runs the
// stdlib-include preprocessor, then lex -> parse -> symbols -> typecheck
// -> lower -> codegen, selecting how far to go and what to print from
// its mode flags.
package main

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"github.com/spf13/cobra"

	"github.com/jpshackelford/toycc/pkg/ast"
	"github.com/jpshackelford/toycc/pkg/astprint"
	"github.com/jpshackelford/toycc/pkg/codegen"
	"github.com/jpshackelford/toycc/pkg/lexer"
	"github.com/jpshackelford/toycc/pkg/lower"
	"github.com/jpshackelford/toycc/pkg/parser"
	"github.com/jpshackelford/toycc/pkg/preproc"
	"github.com/jpshackelford/toycc/pkg/symbols"
	"github.com/jpshackelford/toycc/pkg/typecheck"
)

// version is stamped by the release build; a bare checkout just reports "dev".
var version = "dev"

var (
	modeTokens    bool
	modeSymbols   bool
	modeTypecheck bool
	modeLower     bool
	modeEmit      string
	emitChanged   bool
	stdlibDirs    []string
)

func resetFlags() {
	modeTokens = false
	modeSymbols = false
	modeTypecheck = false
	modeLower = false
	modeEmit = ""
	emitChanged = false
	stdlibDirs = nil
}

func newRootCmd(out, errOut io.Writer) *cobra.Command {
	cmd := &cobra.Command{
		Use:           "toycc SOURCE",
		Short:         "Ahead-of-time compiler for the Toy language",
		Version:       version,
		SilenceUsage:  true,
		SilenceErrors: true,
		Args:          cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			emitChanged = cmd.Flags().Changed("emit")
			return run(args[0], out, errOut)
		},
	}
	cmd.Flags().BoolVar(&modeTokens, "tokens", false, "dump the token stream and exit")
	cmd.Flags().BoolVar(&modeSymbols, "symbols", false, "dump the global symbol table and exit")
	cmd.Flags().BoolVar(&modeTypecheck, "typecheck", false, "type-check only and exit")
	cmd.Flags().BoolVar(&modeLower, "lower", false, "dump the lowered AST and exit")
	cmd.Flags().StringVar(&modeEmit, "emit", "", "write assembly to PATH (\"-\" or omitted path means stdout)")
	cmd.Flags().Lookup("emit").NoOptDefVal = "-"
	cmd.Flags().StringArrayVar(&stdlibDirs, "stdlib-dir", nil, "additional directory to search for // stdlib: modules")
	return cmd
}

func run(path string, out, errOut io.Writer) error {
	src, err := preproc.Expand(path, preproc.NewResolver(stdlibDirs...))
	if err != nil {
		return err
	}

	if modeTokens {
		return dumpTokens(path, src, out)
	}

	prog, err := parser.Parse(path, src)
	if err != nil {
		return err
	}

	sym, err := symbols.Build(prog)
	if err != nil {
		return err
	}
	if modeSymbols {
		dumpSymbols(sym, out)
		return nil
	}

	if err := typecheck.CheckProgram(prog, sym); err != nil {
		return err
	}
	if modeTypecheck {
		return nil
	}

	lowered, err := lower.Program(prog, sym)
	if err != nil {
		return err
	}
	if modeLower {
		astprint.NewPrinter(out).PrintProgram(lowered)
		return nil
	}

	sources := map[string][]string{path: strings.Split(src, "\n")}
	asm, err := codegen.New(sym, sources).EmitProgram(lowered)
	if err != nil {
		return err
	}

	if emitChanged {
		return writeEmit(modeEmit, asm, out)
	}

	astprint.NewPrinter(out).PrintProgram(prog)
	return nil
}

func writeEmit(target, asm string, out io.Writer) error {
	if target == "" || target == "-" {
		_, err := io.WriteString(out, asm)
		return err
	}
	return os.WriteFile(target, []byte(asm), 0644)
}

func dumpTokens(file, src string, out io.Writer) error {
	toks, err := lexer.Tokenize(file, src)
	if err != nil {
		return err
	}
	for _, tok := range toks {
		fmt.Fprintf(out, "%s:%d:%d %s %q\n", tok.File, tok.Line, tok.Column, tok.Type, tok.Literal)
	}
	return nil
}

func dumpSymbols(sym *symbols.Global, out io.Writer) {
	structNames := make([]string, 0, len(sym.Structs))
	for name := range sym.Structs {
		structNames = append(structNames, name)
	}
	sort.Strings(structNames)
	for _, name := range structNames {
		layout, _ := sym.Layouts.Lookup(name)
		fmt.Fprintf(out, "struct %s size=%d align=%d\n", name, layout.Size, layout.Align)
		for _, f := range layout.Fields {
			fmt.Fprintf(out, "  %s: %s offset=%d size=%d align=%d\n", f.Name, f.Type, f.Offset, f.Size, f.Align)
		}
	}

	fnNames := make([]string, 0, len(sym.Functions))
	for name := range sym.Functions {
		fnNames = append(fnNames, name)
	}
	sort.Strings(fnNames)
	for _, name := range fnNames {
		fn := sym.Functions[name]
		kind := "fn"
		if fn.Extern {
			kind = "extern fn"
		}
		params := make([]string, len(fn.Params))
		for i, p := range fn.Params {
			params[i] = fmt.Sprintf("%s: %s", p.Name, typeAstString(p.Type))
		}
		fmt.Fprintf(out, "%s %s(%s) -> %s\n", kind, name, strings.Join(params, ", "), typeAstString(fn.Ret))
	}
}

func typeAstString(t ast.TypeAst) string {
	switch n := t.(type) {
	case *ast.NamedType:
		return n.Name
	case *ast.PtrType:
		return "*" + typeAstString(n.Inner)
	default:
		return "<unknown>"
	}
}

func main() {
	resetFlags()
	cmd := newRootCmd(os.Stdout, os.Stderr)
	if err := cmd.Execute(); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}
