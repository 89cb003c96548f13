package pathutil

import (
	"errors"
	"testing"
)

func TestCleanDocPath(t *testing.T) {
	tests := []struct {
		in string
		ok bool
	}{
		{"README.md", true},
		{"setup/wifi-provisioning.md", true},
		{"venue/bar one/tv list.md", true},
		{"", false},
		{"/etc/passwd", false},
		{"../secrets.md", false},
		{"setup/../../x.md", false},
		{"a..b.md", false},
		{`setup\wifi.md`, false},
		{"setup//wifi.md", false},
		{"./wifi.md", false},
		{"setup/", false},
		{"bad\x00.md", false},
		{"line\nbreak.md", false},
	}
	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := CleanDocPath(tt.in)
			if tt.ok {
				if err != nil || got != tt.in {
					t.Fatalf("CleanDocPath(%q) = %q, %v", tt.in, got, err)
				}
				return
			}
			if !errors.Is(err, ErrInvalidPath) {
				t.Fatalf("CleanDocPath(%q) err = %v, want ErrInvalidPath", tt.in, err)
			}
		})
	}
}
