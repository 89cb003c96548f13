package version

import "testing"

func TestGet_DefaultsAreDev(t *testing.T) {
	vi := Get()
	if vi.AppName != AppName {
		t.Fatalf("AppName = %q, want %q", vi.AppName, AppName)
	}
	if vi.Version != "dev" {
		t.Fatalf("Version = %q, want dev for unstamped test binary", vi.Version)
	}
	if vi.GoVersion == "" {
		t.Fatal("GoVersion should be filled from build info")
	}
}

func TestIsRelease(t *testing.T) {
	tests := []struct {
		name string
		info Info
		want bool
	}{
		{"dev build", Info{Version: "dev"}, false},
		{"version without build id", Info{Version: "1.2.0"}, false},
		{"stamped release", Info{Version: "1.2.0", BuildId: "b-42"}, true},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			if got := tt.info.IsRelease(); got != tt.want {
				t.Fatalf("IsRelease() = %v, want %v", got, tt.want)
			}
		})
	}
}
