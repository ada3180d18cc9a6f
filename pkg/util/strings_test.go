package util

import "testing"

func TestParseIntDefault(t *testing.T) {
	if got := ParseIntDefault("42", 7); got != 42 {
		t.Fatalf("got %d, want 42", got)
	}
	if got := ParseIntDefault("", 7); got != 7 {
		t.Fatalf("empty string: got %d, want default", got)
	}
	if got := ParseIntDefault("nope", 7); got != 7 {
		t.Fatalf("bad input: got %d, want default", got)
	}
}
