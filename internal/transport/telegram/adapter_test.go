package telegram

import (
	"strings"
	"testing"
)

func TestSplitTextShort(t *testing.T) {
	got := splitText("hello", 10)
	if len(got) != 1 || got[0] != "hello" {
		t.Fatalf("got %q", got)
	}
}

func TestSplitTextPrefersNewline(t *testing.T) {
	s := "line one\nline two\nline three"
	got := splitText(s, 20)
	if len(got) != 2 {
		t.Fatalf("chunks = %d, want 2: %q", len(got), got)
	}
	if got[0] != "line one\nline two" {
		t.Errorf("first chunk = %q", got[0])
	}
	if got[1] != "line three" {
		t.Errorf("second chunk = %q", got[1])
	}
}

func TestSplitTextHardCut(t *testing.T) {
	s := strings.Repeat("a", 25)
	got := splitText(s, 10)
	if len(got) != 3 {
		t.Fatalf("chunks = %d, want 3: %q", len(got), got)
	}
	for i, c := range got {
		if len([]rune(c)) > 10 {
			t.Errorf("chunk %d too long: %d runes", i, len([]rune(c)))
		}
	}
	if got[0]+got[1]+got[2] != s {
		t.Errorf("reassembly mismatch")
	}
}

func TestSplitTextIgnoresEarlyNewline(t *testing.T) {
	// A newline in the first third of the window is not a useful cut point.
	s := "ab\n" + strings.Repeat("c", 20)
	got := splitText(s, 12)
	if len(got) < 2 {
		t.Fatalf("chunks = %d: %q", len(got), got)
	}
	if got[0] == "ab" {
		t.Errorf("cut at early newline: %q", got)
	}
}

func TestSplitTextMultibyte(t *testing.T) {
	s := strings.Repeat("héllo wörld ", 8)
	for _, chunk := range splitText(s, 16) {
		if n := len([]rune(chunk)); n > 16 {
			t.Errorf("chunk %q is %d runes", chunk, n)
		}
	}
}
