package typecheck

import (
	"testing"

	"github.com/jpshackelford/toycc/pkg/parser"
	"github.com/jpshackelford/toycc/pkg/symbols"
)

func checkSrc(t *testing.T, src string) error {
	t.Helper()
	prog, err := parser.Parse("test.toy", src)
	if err != nil {
		t.Fatalf("parse error: %v", err)
	}
	sym, err := symbols.Build(prog)
	if err != nil {
		t.Fatalf("symbol build error: %v", err)
	}
	return CheckProgram(prog, sym)
}

func TestCheckValidProgram(t *testing.T) {
	src := `
	fn add(a: i64, b: i64) -> i64 {
		return a + b;
	}
	fn main() -> i64 {
		var x: i64 = add(1, 2);
		return x;
	}`
	if err := checkSrc(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckUnknownVariable(t *testing.T) {
	src := `fn main() -> i64 { return y; }`
	if err := checkSrc(t, src); err == nil {
		t.Fatal("expected unknown variable error")
	}
}

func TestCheckIfConditionMustBeBool(t *testing.T) {
	src := `fn main() -> i64 { if 1 { return 0; } return 1; }`
	if err := checkSrc(t, src); err == nil {
		t.Fatal("expected type error for non-bool if condition")
	}
}

func TestCheckDivisionByLiteralZeroIsError(t *testing.T) {
	src := `fn main() -> i64 { return 1 / 0; }`
	if err := checkSrc(t, src); err == nil {
		t.Fatal("expected error for division by literal zero")
	}
}

func TestCheckStructLitMissingField(t *testing.T) {
	src := `
	struct Point { x: i64; y: i64; }
	fn main() -> i64 {
		var p: Point = Point { x: 1 };
		return 0;
	}`
	if err := checkSrc(t, src); err == nil {
		t.Fatal("expected missing field error")
	}
}

func TestCheckStructLitAndFieldAccess(t *testing.T) {
	src := `
	struct Point { x: i64; y: i64; }
	fn main() -> i64 {
		var p: Point = Point { x: 1, y: 2 };
		return p.x + p.y;
	}`
	if err := checkSrc(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckIndexRequiresPointer(t *testing.T) {
	src := `
	fn main() -> i64 {
		var x: i64 = 1;
		return x[0];
	}`
	if err := checkSrc(t, src); err == nil {
		t.Fatal("expected error indexing a non-pointer")
	}
}

func TestCheckIndexOnPointer(t *testing.T) {
	src := `
	fn main() -> i64 {
		var x: i64 = 1;
		var p: *i64 = &x;
		return p[0];
	}`
	if err := checkSrc(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckNullAssignableToPointer(t *testing.T) {
	src := `
	fn main() -> i64 {
		var p: *i64 = null;
		return 0;
	}`
	if err := checkSrc(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckNullReturnFromPointerFunction(t *testing.T) {
	src := `fn make() -> *i64 { return null; }`
	if err := checkSrc(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckNullEqualityWithPointer(t *testing.T) {
	src := `
	fn main() -> bool {
		var x: i64 = 1;
		var p: *i64 = &x;
		return p == null;
	}`
	if err := checkSrc(t, src); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
}

func TestCheckDeferCallMustReturnUnit(t *testing.T) {
	src := `
	fn give() -> i64 { return 1; }
	fn main() -> i64 {
		defer give();
		return 0;
	}`
	if err := checkSrc(t, src); err == nil {
		t.Fatal("expected error for defer of non-unit-returning call")
	}
}
