package util

import "testing"

func TestTrimHelpers(t *testing.T) {
	if got := TrimAndLower("  SqlServer "); got != "sqlserver" {
		t.Fatalf("TrimAndLower = %q", got)
	}
	if v, ok := TrimEmptyCheck("   "); ok || v != "" {
		t.Fatalf("TrimEmptyCheck blank = %q, %v", v, ok)
	}
	if v, ok := TrimEmptyCheck(" up "); !ok || v != "up" {
		t.Fatalf("TrimEmptyCheck = %q, %v", v, ok)
	}
	if got := TrimWithDefault(" ", "RoundhousE"); got != "RoundhousE" {
		t.Fatalf("TrimWithDefault = %q", got)
	}
	got := TrimSpaceFields(" a", "b ", " ")
	if got[0] != "a" || got[1] != "b" || got[2] != "" {
		t.Fatalf("TrimSpaceFields = %v", got)
	}
}

func TestFirstNonEmpty(t *testing.T) {
	if got := FirstNonEmpty("", "  ", " x ", "y"); got != "x" {
		t.Fatalf("FirstNonEmpty = %q", got)
	}
	if got := FirstNonEmpty(); got != "" {
		t.Fatalf("FirstNonEmpty() = %q", got)
	}
}

func TestContainsFold(t *testing.T) {
	if !ContainsFold("Initial Catalog=App", "initial catalog") {
		t.Fatal("expected case-insensitive match")
	}
	if ContainsFold("Server=db", "database") {
		t.Fatal("unexpected match")
	}
}
