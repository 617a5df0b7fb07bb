package util

import (
	"strings"
	"testing"
)

func TestGenerateRandomID(t *testing.T) {
	tests := []struct {
		name       string
		prefix     string
		hexLength  int
		wantLength int
	}{
		{name: "request ID format", prefix: RequestIDPrefix, hexLength: 16, wantLength: 20},
		{name: "custom prefix", prefix: "test_", hexLength: 8, wantLength: 13},
		{name: "no prefix", prefix: "", hexLength: 4, wantLength: 4},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			got := GenerateRandomID(tt.prefix, tt.hexLength)
			if !strings.HasPrefix(got, tt.prefix) {
				t.Errorf("GenerateRandomID() = %v, want prefix %v", got, tt.prefix)
			}
			if len(got) != tt.wantLength {
				t.Errorf("GenerateRandomID() length = %v, want %v", len(got), tt.wantLength)
			}
		})
	}
}

func TestGenerateRandomHex(t *testing.T) {
	for _, n := range []int{-1, 0, 1, 32} {
		got := GenerateRandomHex(n)
		want := n
		if n < 0 {
			want = 0
		}
		if len(got) != want {
			t.Errorf("GenerateRandomHex(%d) length = %d", n, len(got))
		}
		if strings.Trim(got, "0123456789abcdef") != "" {
			t.Errorf("GenerateRandomHex(%d) = %q contains non-hex characters", n, got)
		}
	}
}

func TestGenerateRequestIDUniqueness(t *testing.T) {
	seen := make(map[string]bool)
	for i := 0; i < 1000; i++ {
		id := GenerateRequestID()
		if seen[id] {
			t.Fatalf("duplicate request ID %q after %d iterations", id, i)
		}
		seen[id] = true
	}
}
