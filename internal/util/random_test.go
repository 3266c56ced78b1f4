package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomHex(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 100; i++ {
		h := GenerateRandomHex(32)
		if len(h) != 32 {
			t.Fatalf("length = %d, want 32", len(h))
		}
		for _, r := range h {
			if !strings.ContainsRune("0123456789abcdef", r) {
				t.Fatalf("non-hex character %q in %q", r, h)
			}
		}
		if seen[h] {
			t.Fatalf("duplicate token %q", h)
		}
		seen[h] = true
	}
	if GenerateRandomHex(0) != "" {
		t.Error("zero length should produce empty string")
	}
}

func TestGenerateCorrelationID(t *testing.T) {
	id := GenerateCorrelationID()
	if !strings.HasPrefix(id, "c_") {
		t.Errorf("id %q missing c_ prefix", id)
	}
	if len(id) != 2+32 {
		t.Errorf("id length = %d, want 34", len(id))
	}
}
