package main

import (
	"bytes"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func writeSource(t *testing.T, content string) string {
	t.Helper()
	dir := t.TempDir()
	path := filepath.Join(dir, "prog.toy")
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("write source: %v", err)
	}
	return path
}

const helloSrc = `extern fn print_int(x: i64) -> unit;
fn main() -> i64 { print_int(42); return 0; }
`

func TestVersion(t *testing.T) {
	if version == "" {
		t.Error("version should not be empty")
	}
}

func TestDefaultModeDumpsAST(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "fn main() -> i64") {
		t.Errorf("expected AST dump to contain function header, got %q", out.String())
	}
}

func TestTokensMode(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--tokens", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "fn") {
		t.Errorf("expected token dump to mention the fn keyword, got %q", out.String())
	}
}

func TestSymbolsMode(t *testing.T) {
	resetFlags()
	path := writeSource(t, `struct P { a: bool; b: i64; c: bool; }
extern fn print_int(x: i64) -> unit;
fn main() -> i64 { return 0; }
`)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--symbols", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "struct P size=24 align=8") {
		t.Errorf("expected symbol dump to show computed layout, got %q", out.String())
	}
}

func TestTypecheckModeSucceedsSilently(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--typecheck", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if out.String() != "" {
		t.Errorf("expected no stdout from a successful --typecheck, got %q", out.String())
	}
}

func TestTypecheckModeReportsError(t *testing.T) {
	resetFlags()
	path := writeSource(t, `fn main() -> i64 { return true; }`)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--typecheck", path})
	if err := cmd.Execute(); err == nil {
		t.Fatal("expected a type error")
	}
}

func TestLowerMode(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--lower", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "__fn_exit_main") {
		t.Errorf("expected lowered dump to show the synthesized exit label, got %q", out.String())
	}
}

func TestEmitModeStdout(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--emit", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), ".globl main") {
		t.Errorf("expected emitted assembly to declare main, got %q", out.String())
	}
}

func TestEmitModeFile(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)
	outPath := filepath.Join(filepath.Dir(path), "prog.s")

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--emit=" + outPath, path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	content, err := os.ReadFile(outPath)
	if err != nil {
		t.Fatalf("expected emitted file: %v", err)
	}
	if !strings.Contains(string(content), ".globl main") {
		t.Errorf("expected emitted assembly file to declare main, got %q", string(content))
	}
}

func TestModePrecedence(t *testing.T) {
	resetFlags()
	path := writeSource(t, helloSrc)

	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"--tokens", "--symbols", "--lower", path})
	if err := cmd.Execute(); err != nil {
		t.Fatalf("execute: %v", err)
	}
	if !strings.Contains(out.String(), "IDENT") {
		t.Errorf("expected --tokens to win precedence over --symbols/--lower, got %q", out.String())
	}
}

func TestMissingFileReportsError(t *testing.T) {
	resetFlags()
	var out, errOut bytes.Buffer
	cmd := newRootCmd(&out, &errOut)
	cmd.SetArgs([]string{"/nonexistent/path.toy"})
	if err := cmd.Execute(); err == nil {
		t.Error("expected error for nonexistent file")
	}
}
