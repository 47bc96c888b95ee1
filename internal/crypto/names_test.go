package crypto

import (
	"strings"
	"testing"
)

func TestNameRoundTrip(t *testing.T) {
	c := NewNameCipher("test-secret")

	cases := []struct {
		name       string
		contextKey string
	}{
		{"Holiday Photos", "42"},
		{"report.final", "42"},
		{"ünïcødé näme", "folder-9"},
		{"", "0"},
	}

	for _, tc := range cases {
		stored, err := c.EncryptName(tc.name, tc.contextKey)
		if err != nil {
			t.Fatalf("encrypt %q: %v", tc.name, err)
		}
		got, err := c.DecryptName(stored, tc.contextKey)
		if err != nil {
			t.Fatalf("decrypt %q: %v", tc.name, err)
		}
		if got != tc.name {
			t.Errorf("round trip %q: got %q", tc.name, got)
		}
	}
}

func TestDecryptWrongContextKeyGivesGarbage(t *testing.T) {
	c := NewNameCipher("test-secret")

	stored, err := c.EncryptName("secret-name", "10")
	if err != nil {
		t.Fatal(err)
	}

	got, err := c.DecryptName(stored, "11")
	if err != nil {
		t.Fatalf("decrypt should not fail on well-formed input: %v", err)
	}
	if got == "secret-name" {
		t.Error("different context key must not produce the same plaintext")
	}
}

func TestDecryptMalformedInput(t *testing.T) {
	c := NewNameCipher("test-secret")

	if _, err := c.DecryptName("not-hex", "1"); err == nil {
		t.Error("expected error for non-hex input")
	}
	if _, err := c.DecryptName("abcd", "1"); err == nil {
		t.Error("expected error for input shorter than one block")
	}
	if _, err := c.DecryptName("abcd", "1"); err != nil && !strings.Contains(err.Error(), "too short") {
		// hex decodes fine, length check must trip
		t.Errorf("unexpected error: %v", err)
	}
}
