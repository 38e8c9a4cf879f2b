package util

import (
	"strings"
	"testing"
)

func TestNamespaceKey(t *testing.T) {
	id := "3f1c2a9e-startup"
	got := NamespaceKey(id)
	if got != NamespaceKey(id) {
		t.Fatalf("expected stable key, got %s", got)
	}
	if got == NamespaceKey(id+"x") {
		t.Fatalf("expected different namespaces to differ")
	}
	for _, ch := range got {
		if !((ch >= 'a' && ch <= 'f') || (ch >= '0' && ch <= '9')) {
			t.Fatalf("key contains non-hex character: %c", ch)
		}
	}
	if len(got) != 32 {
		t.Fatalf("expected 32 hex characters, got %d", len(got))
	}
}

func TestSanitizeFileName(t *testing.T) {
	if _, err := SanitizeFileName("../etc/passwd"); err == nil {
		t.Fatalf("expected traversal to be rejected")
	}
	if _, err := SanitizeFileName("   "); err == nil {
		t.Fatalf("expected blank name to be rejected")
	}
	got, err := SanitizeFileName(" decks/q3\\deck.pdf ")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if got != "decks_q3_deck.pdf" {
		t.Fatalf("unexpected name %q", got)
	}
}

func TestSanitizeFileNameStripsControlAndCapsLength(t *testing.T) {
	got, err := SanitizeFileName("deck\x00\tv2.pdf")
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if got != "deckv2.pdf" {
		t.Fatalf("unexpected name %q", got)
	}
	long := strings.Repeat("a", 300) + ".docx"
	got, err = SanitizeFileName(long)
	if err != nil {
		t.Fatalf("sanitize: %v", err)
	}
	if len(got) != 200 || !strings.HasSuffix(got, ".docx") {
		t.Fatalf("unexpected capped name length %d %q", len(got), got[len(got)-8:])
	}
}
