package execbackend

import "testing"

func TestNormalizeImage(t *testing.T) {
	tests := []struct {
		input string
		want  string
	}{
		{"alpine", "docker.io/library/alpine:latest"},
		{"alpine:3.19", "docker.io/library/alpine:3.19"},
		{"ghcr.io/acme/alpine", "ghcr.io/acme/alpine"},
		{"ghcr.io/acme/alpine:3.19", "ghcr.io/acme/alpine:3.19"},
		{"localhost:5000/myimage", "localhost:5000/myimage"},
	}

	for _, tt := range tests {
		if got := NormalizeImage(tt.input); got != tt.want {
			t.Errorf("NormalizeImage(%q) = %q, want %q", tt.input, got, tt.want)
		}
	}
}
