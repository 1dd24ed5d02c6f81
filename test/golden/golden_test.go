// Package golden runs every test/golden/*/*.toy program through the
// full pipeline and, when a C toolchain is available, through an
// actual compile-link-execute cycle against runtime/runtime.c,
// grounded on the Python harness at
// _examples/original_source/scripts/run_golden.py but adapted to a
// Go table-driven test with a YAML expectation manifest per program.
package golden

import (
	"bytes"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"testing"

	"gopkg.in/yaml.v3"

	"github.com/jpshackelford/toycc/pkg/codegen"
	"github.com/jpshackelford/toycc/pkg/lower"
	"github.com/jpshackelford/toycc/pkg/parser"
	"github.com/jpshackelford/toycc/pkg/symbols"
	"github.com/jpshackelford/toycc/pkg/typecheck"
)

// expectation is one golden program's manifest, read from a sibling
// "<name>.yaml" file.
type expectation struct {
	Stdout   string `yaml:"stdout"`
	ExitCode int    `yaml:"exit_code"`
}

func findCC() string {
	for _, candidate := range []string{"cc", "gcc", "clang"} {
		if path, err := exec.LookPath(candidate); err == nil {
			return path
		}
	}
	return ""
}

func TestGoldenPrograms(t *testing.T) {
	toyFiles, err := filepath.Glob("*/*.toy")
	if err != nil {
		t.Fatalf("glob: %v", err)
	}
	if len(toyFiles) == 0 {
		t.Fatal("no golden .toy programs found")
	}

	cc := findCC()
	if cc == "" {
		t.Log("no C toolchain found; only exercising lex->parse->symbols->typecheck->lower->codegen")
	}

	for _, toyPath := range toyFiles {
		t.Run(toyPath, func(t *testing.T) {
			runGolden(t, toyPath, cc)
		})
	}
}

func runGolden(t *testing.T, toyPath, cc string) {
	t.Helper()

	yamlPath := strings.TrimSuffix(toyPath, ".toy") + ".yaml"
	manifestBytes, err := os.ReadFile(yamlPath)
	if err != nil {
		t.Fatalf("read manifest %s: %v", yamlPath, err)
	}
	var want expectation
	if err := yaml.Unmarshal(manifestBytes, &want); err != nil {
		t.Fatalf("parse manifest %s: %v", yamlPath, err)
	}

	src, err := os.ReadFile(toyPath)
	if err != nil {
		t.Fatalf("read source: %v", err)
	}

	prog, err := parser.Parse(toyPath, string(src))
	if err != nil {
		t.Fatalf("parse: %v", err)
	}
	sym, err := symbols.Build(prog)
	if err != nil {
		t.Fatalf("symbols: %v", err)
	}
	if err := typecheck.CheckProgram(prog, sym); err != nil {
		t.Fatalf("typecheck: %v", err)
	}
	lowered, err := lower.Program(prog, sym)
	if err != nil {
		t.Fatalf("lower: %v", err)
	}
	asm, err := codegen.New(sym, map[string][]string{toyPath: strings.Split(string(src), "\n")}).EmitProgram(lowered)
	if err != nil {
		t.Fatalf("codegen: %v", err)
	}
	for _, fn := range sym.Functions {
		if !fn.Extern && !strings.Contains(asm, ".globl "+fn.Name) {
			t.Errorf("expected emitted assembly to declare %s", fn.Name)
		}
	}

	if cc == "" {
		return
	}

	dir := t.TempDir()
	asmPath := filepath.Join(dir, "out.s")
	if err := os.WriteFile(asmPath, []byte(asm), 0644); err != nil {
		t.Fatalf("write assembly: %v", err)
	}
	binPath := filepath.Join(dir, "out")
	runtimePath, err := filepath.Abs(filepath.Join("..", "..", "runtime", "runtime.c"))
	if err != nil {
		t.Fatalf("resolve runtime path: %v", err)
	}

	link := exec.Command(cc, asmPath, runtimePath, "-o", binPath)
	var linkErr bytes.Buffer
	link.Stderr = &linkErr
	if err := link.Run(); err != nil {
		t.Fatalf("link failed: %v\n%s", err, linkErr.String())
	}

	run := exec.Command(binPath)
	var stdout bytes.Buffer
	run.Stdout = &stdout
	runErr := run.Run()

	exitCode := 0
	if runErr != nil {
		if exitErr, ok := runErr.(*exec.ExitError); ok {
			exitCode = exitErr.ExitCode()
		} else {
			t.Fatalf("run failed: %v", runErr)
		}
	}

	if stdout.String() != want.Stdout {
		t.Errorf("stdout mismatch\nwant: %q\ngot:  %q", want.Stdout, stdout.String())
	}
	if exitCode != want.ExitCode {
		t.Errorf("exit code mismatch: want %d, got %d", want.ExitCode, exitCode)
	}
}
