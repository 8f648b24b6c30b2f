package fileutils

import "testing"

func TestSanitizeNewlines(t *testing.T) {
	t.Parallel()

	if got := SanitizeNewlines("a\r\nb\rc\nd"); got != `a\nb\nc\nd` {
		t.Fatalf("got=%q", got)
	}
}

func TestTruncate(t *testing.T) {
	t.Parallel()

	if got := Truncate("  hello  ", 10); got != "hello" {
		t.Fatalf("got=%q", got)
	}
	if got := Truncate("hello world", 5); got != "hello…" {
		t.Fatalf("got=%q", got)
	}
	if got := Truncate("hello", 0); got != "hello" {
		t.Fatalf("max=0 should disable truncation, got=%q", got)
	}
}
