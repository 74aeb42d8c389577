package scope

import "testing"

func TestParseEmpty(t *testing.T) {
	s, err := Parse("")
	if err != nil {
		t.Fatal(err)
	}
	if len(s) != 0 {
		t.Fatalf("expected empty set, got %v", s)
	}
}

func TestParseRejectsMalformed(t *testing.T) {
	for _, raw := range []string{" ", "a  b", "a\tb", " leading", "trailing "} {
		if _, err := Parse(raw); err != ErrInvalidScope {
			t.Fatalf("Parse(%q): expected ErrInvalidScope, got %v", raw, err)
		}
	}
}

func TestUnionCommutativeIdempotent(t *testing.T) {
	a, _ := Parse("profile/read email/read")
	b, _ := Parse("email/read teams")

	ab := a.Union(b)
	ba := b.Union(a)
	if !ab.Equal(ba) {
		t.Fatalf("union not commutative: %v vs %v", ab, ba)
	}
	if !a.Union(a).Equal(a) {
		t.Fatalf("union not idempotent: %v", a.Union(a))
	}
	if len(ab) != 3 {
		t.Fatalf("expected 3 tokens, got %v", ab)
	}
}

func TestAddPreservesInsertionOrder(t *testing.T) {
	s := Set{}.Add("zebra", "apple", "zebra", "mango")
	if s.String() != "zebra apple mango" {
		t.Fatalf("unexpected order: %q", s.String())
	}
	if s.Sorted() != "apple mango zebra" {
		t.Fatalf("unexpected sorted form: %q", s.Sorted())
	}
}

func TestRoundTrip(t *testing.T) {
	s, _ := Parse("b/write a/read c")

	// Ordered round-trip preserves the set and the order.
	ordered, err := Parse(s.String())
	if err != nil {
		t.Fatal(err)
	}
	if ordered.String() != s.String() {
		t.Fatalf("ordered round-trip changed order: %q vs %q", ordered.String(), s.String())
	}

	// Sorted round-trip preserves the set.
	sorted, err := Parse(s.Sorted())
	if err != nil {
		t.Fatal(err)
	}
	if !sorted.Equal(s) {
		t.Fatalf("sorted round-trip changed set: %v vs %v", sorted, s)
	}
}

func TestCloneIsIndependent(t *testing.T) {
	a, _ := Parse("x/read")
	b := a.Clone().Add("y/read")
	if a.Has("y/read") {
		t.Fatal("clone mutated original")
	}
	if !b.Has("x/read") || !b.Has("y/read") {
		t.Fatalf("unexpected clone contents: %v", b)
	}
}
