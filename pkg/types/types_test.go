package types

import "testing"

func TestIntLitFitsI64(t *testing.T) {
	if !IntLitFits(IntLit{Value: 9223372036854775807}, I64) {
		t.Error("max i64 literal should fit i64")
	}
	if IntLitFits(IntLit{Value: 9223372036854775808}, I64) {
		t.Error("max i64 + 1 should not fit i64")
	}
	if !IntLitFits(IntLit{Value: 9223372036854775808, Negative: true}, I64) {
		t.Error("-2^63 should fit i64")
	}
	if IntLitFits(IntLit{Value: 9223372036854775809, Negative: true}, I64) {
		t.Error("-2^63 - 1 should not fit i64")
	}
}

func TestIntLitFitsU64(t *testing.T) {
	if !IntLitFits(IntLit{Value: 18446744073709551615}, U64) {
		t.Error("max u64 literal should fit u64")
	}
	if IntLitFits(IntLit{Value: 1, Negative: true}, U64) {
		t.Error("negative literal should not fit u64")
	}
}

func TestIntLitFitsU8(t *testing.T) {
	if !IntLitFits(IntLit{Value: 255}, U8) {
		t.Error("255 should fit u8")
	}
	if IntLitFits(IntLit{Value: 256}, U8) {
		t.Error("256 should not fit u8")
	}
}

func TestIsAssignableIntLitToConcrete(t *testing.T) {
	if !IsAssignable(IntLit{Value: 10}, I64) {
		t.Error("10 should be assignable to i64")
	}
	if IsAssignable(IntLit{Value: 256}, U8) {
		t.Error("256 should not be assignable to u8")
	}
}

func TestIsAssignableConcreteRequiresEquality(t *testing.T) {
	if IsAssignable(I64, U64) {
		t.Error("i64 should not be assignable to u64")
	}
	if !IsAssignable(I64, I64) {
		t.Error("i64 should be assignable to i64")
	}
}

func TestIsAssignableNullToPointer(t *testing.T) {
	if !IsAssignable(Null, Ptr{Elem: I64}) {
		t.Error("null should be assignable to a pointer type")
	}
	if IsAssignable(Null, I64) {
		t.Error("null should not be assignable to a non-pointer type")
	}
	if IsAssignable(Ptr{Elem: I64}, Null) {
		t.Error("a pointer should not be assignable to null")
	}
}

func TestEqualStructAndPtr(t *testing.T) {
	a := Struct{Name: "Point"}
	b := Struct{Name: "Point"}
	if !Equal(a, b) {
		t.Error("same-named structs should be equal")
	}
	if !Equal(Ptr{Elem: a}, Ptr{Elem: b}) {
		t.Error("pointers to equal structs should be equal")
	}
	if Equal(a, Struct{Name: "Other"}) {
		t.Error("different-named structs should not be equal")
	}
}

func TestSizeAndAlign(t *testing.T) {
	cases := []struct {
		t          Type
		size, align int
	}{
		{I64, 8, 8},
		{U64, 8, 8},
		{U8, 1, 1},
		{Bool, 1, 1},
		{Unit, 0, 1},
		{Null, 8, 8},
		{Ptr{Elem: I64}, 8, 8},
	}
	for _, c := range cases {
		if got := Size(c.t); got != c.size {
			t.Errorf("Size(%v) = %d, want %d", c.t, got, c.size)
		}
		if got := Align(c.t); got != c.align {
			t.Errorf("Align(%v) = %d, want %d", c.t, got, c.align)
		}
	}
}
