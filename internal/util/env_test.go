package util

import (
	"testing"
	"time"
)

func TestParseBoolEnv(t *testing.T) {
	tests := []struct {
		value string
		def   bool
		want  bool
	}{
		{"", true, true},
		{"yes", false, true},
		{"ON", false, true},
		{"0", true, false},
		{"off", true, false},
		{"maybe", true, true},
	}
	for _, tt := range tests {
		t.Setenv("RELAY_TEST_BOOL", tt.value)
		if got := ParseBoolEnv("RELAY_TEST_BOOL", tt.def); got != tt.want {
			t.Errorf("ParseBoolEnv(%q, %v) = %v, want %v", tt.value, tt.def, got, tt.want)
		}
	}
}

func TestParseDurationEnv(t *testing.T) {
	tests := []struct {
		value string
		want  time.Duration
	}{
		{"", 5 * time.Second},
		{"45s", 45 * time.Second},
		{"2m", 2 * time.Minute},
		{"-1s", 5 * time.Second},
		{"soon", 5 * time.Second},
	}
	for _, tt := range tests {
		t.Setenv("RELAY_TEST_DURATION", tt.value)
		if got := ParseDurationEnv("RELAY_TEST_DURATION", 5*time.Second); got != tt.want {
			t.Errorf("ParseDurationEnv(%q) = %v, want %v", tt.value, got, tt.want)
		}
	}
}

func TestFirstEnv(t *testing.T) {
	t.Setenv("RELAY_TEST_A", "")
	t.Setenv("RELAY_TEST_B", " groq-key ")
	t.Setenv("RELAY_TEST_C", "openai-key")
	if got := FirstEnv("RELAY_TEST_A", "RELAY_TEST_B", "RELAY_TEST_C"); got != "groq-key" {
		t.Errorf("FirstEnv = %q, want groq-key", got)
	}
	if got := FirstEnv("RELAY_TEST_A"); got != "" {
		t.Errorf("FirstEnv = %q, want empty", got)
	}
}
