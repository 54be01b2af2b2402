package value

import "testing"

func TestIntRoundTrip(t *testing.T) {
	cases := []int64{0, 1, -1, IntMin, IntMax, 12345, -98765}
	for _, c := range cases {
		v, err := IntValue(c)
		if err != nil {
			t.Fatalf("IntValue(%d): %v", c, err)
		}
		got, ok := v.Int()
		if !ok || got != c {
			t.Fatalf("round trip %d -> %v (ok=%v)", c, got, ok)
		}
	}
}

func TestIntOverflow(t *testing.T) {
	if _, err := IntValue(IntMax + 1); err == nil {
		t.Fatal("expected overflow error for IntMax+1")
	}
	if _, err := IntValue(IntMin - 1); err == nil {
		t.Fatal("expected overflow error for IntMin-1")
	}
}

func TestBoolAndNil(t *testing.T) {
	if b, ok := True.Bool(); !ok || !b {
		t.Fatal("True should be a true bool")
	}
	if b, ok := False.Bool(); !ok || b {
		t.Fatal("False should be a false bool")
	}
	if !Nil.IsNil() {
		t.Fatal("Nil.IsNil() should be true")
	}
	if _, ok := Nil.Bool(); ok {
		t.Fatal("Nil should not report as a bool")
	}
}

func TestHandleRoundTrip(t *testing.T) {
	v := HandleValue(TagList, 0xdeadbeef)
	h, ok := v.Handle()
	if !ok || h != 0xdeadbeef {
		t.Fatalf("handle round trip failed: %v %v", h, ok)
	}
	if v.Tag() != TagList {
		t.Fatalf("expected TagList, got %v", v.Tag())
	}
}

func TestTypeNames(t *testing.T) {
	cases := map[Value]string{
		Nil:                          "nil",
		True:                         "bool",
		False:                        "bool",
		HandleValue(TagString, 0):    "string",
		HandleValue(TagList, 0):      "list",
		HandleValue(TagMap, 0):       "map",
		HandleValue(TagField, 0):     "field",
		HandleValue(TagProof, 0):     "proof",
		HandleValue(TagClosure, 0):   "function",
		HandleValue(TagIterator, 0):  "iterator",
	}
	for v, want := range cases {
		if got := v.Tag().TypeName(); got != want {
			t.Fatalf("TypeName() = %q, want %q", got, want)
		}
	}
	iv, _ := IntValue(5)
	if got := iv.Tag().TypeName(); got != "int" {
		t.Fatalf("int TypeName() = %q, want int", got)
	}
}
