package cryptoutil

import (
	"strings"
	"testing"
)

func TestSHA256Hex_KnownVector(t *testing.T) {
	want := "e3b0c44298fc1c149afbf4c8996fb92427ae41e4649b934ca495991b7852b855"
	if got := SHA256Hex(nil); got != want {
		t.Fatalf("SHA256Hex(empty) = %q, want %q", got, want)
	}
}

func TestFingerprint(t *testing.T) {
	a := Fingerprint("token-a")
	if len(a) != 32 {
		t.Fatalf("len = %d, want 32", len(a))
	}
	if !strings.HasPrefix(SHA256Hex([]byte("token-a")), a) {
		t.Fatal("fingerprint should be a prefix of the full digest")
	}
	if a == Fingerprint("token-b") {
		t.Fatal("different tokens should differ")
	}
	if strings.Contains(a, "token") {
		t.Fatal("fingerprint must not contain the token")
	}
}

func TestEqual(t *testing.T) {
	tests := []struct {
		a, b string
		want bool
	}{
		{"abc", "abc", true},
		{"abc", "abd", false},
		{"abc", "abcd", false},
		{"", "", false},
		{"abc", "", false},
	}
	for _, tt := range tests {
		if got := Equal(tt.a, tt.b); got != tt.want {
			t.Errorf("Equal(%q, %q) = %v, want %v", tt.a, tt.b, got, tt.want)
		}
	}
}
