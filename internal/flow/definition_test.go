package flow

import (
	"errors"
	"os"
	"path/filepath"
	"strings"
	"testing"
)

func TestDefaultDefinition(t *testing.T) {
	def, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	if def.Entry != "step0" || def.Trigger != "menu_button" {
		t.Errorf("unexpected entry/trigger: %q/%q", def.Entry, def.Trigger)
	}

	entry, ok := def.Lookup("step0")
	if !ok {
		t.Fatal("step0 not found")
	}
	if len(entry.Options) != 6 {
		t.Errorf("expected 6 entry options, got %d", len(entry.Options))
	}
	if strings.HasPrefix(entry.Message, "\n") || strings.HasSuffix(entry.Message, "\n") {
		t.Error("step messages should be trimmed")
	}
	if entry.ID != "step0" {
		t.Errorf("step id not populated: %q", entry.ID)
	}

	final, ok := def.Lookup("step25")
	if !ok || !final.Final {
		t.Error("step25 should exist and be final")
	}

	if _, ok := def.Lookup("step404"); ok {
		t.Error("unknown step should not be found")
	}

	reprompt, _ := def.Lookup("step35")
	if len(reprompt.Options) != 6 || reprompt.Options[5].NextStep != "step25" {
		t.Errorf("step35 should share the entry options, got %+v", reprompt.Options)
	}
}

func TestParseAppliesDefaults(t *testing.T) {
	def, err := Parse([]byte(`
steps:
  step0:
    message: hi
    options:
      - {id: "1", title: One}
  step12:
    message: thanks
    final: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	if def.DefaultNext != DefaultNextStep || def.FreeTextNext != DefaultNextStep {
		t.Errorf("defaults not applied: %+v", def)
	}
	if def.InvalidSelection != DefaultInvalidSelection || def.Acknowledgement != DefaultAcknowledgement {
		t.Error("notice defaults not applied")
	}
}

func TestValidateRejectsBrokenDefinitions(t *testing.T) {
	tests := []struct {
		name string
		yaml string
		want string
	}{
		{
			name: "missing entry",
			yaml: "entry: start\nsteps:\n  step12: {message: x}\n",
			want: `entry step "start" not found`,
		},
		{
			name: "dangling nextStep",
			yaml: "steps:\n  step0:\n    message: x\n    options:\n      - {id: a, title: A, nextStep: nowhere}\n  step12: {message: y}\n",
			want: `nextStep "nowhere" not found`,
		},
		{
			name: "duplicate option id",
			yaml: "steps:\n  step0:\n    message: x\n    options:\n      - {id: a, title: A}\n      - {id: a, title: B}\n  step12: {message: y}\n",
			want: `duplicate option id "a"`,
		},
		{
			name: "final with options",
			yaml: "steps:\n  step0:\n    message: x\n    final: true\n    options:\n      - {id: a, title: A}\n  step12: {message: y}\n",
			want: "final but has options",
		},
		{
			name: "dangling next",
			yaml: "steps:\n  step0: {message: x, next: gone}\n  step12: {message: y}\n",
			want: `next "gone" not found`,
		},
		{
			name: "missing default next",
			yaml: "steps:\n  step0: {message: x}\n",
			want: `defaultNext step "step12" not found`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Parse([]byte(tt.yaml))
			if err == nil {
				t.Fatal("expected validation error")
			}
			if !errors.Is(err, ErrInvalidDefinition) {
				t.Errorf("expected ErrInvalidDefinition, got %v", err)
			}
			if !strings.Contains(err.Error(), tt.want) {
				t.Errorf("error %q does not mention %q", err, tt.want)
			}
		})
	}
}

func TestParseRejectsMalformedYAML(t *testing.T) {
	if _, err := Parse([]byte("steps: [unclosed")); err == nil {
		t.Fatal("expected parse error")
	}
}

func TestLoad(t *testing.T) {
	def, err := Load("")
	if err != nil || def.Entry != DefaultEntry {
		t.Fatalf("Load(\"\") = %v, %v", def, err)
	}

	path := filepath.Join(t.TempDir(), "flow.yaml")
	content := "entry: start\ntrigger: MENU\ndefaultNext: done\nfreeTextNext: done\nsteps:\n  start: {message: hi}\n  done: {message: bye, final: true}\n"
	if err := os.WriteFile(path, []byte(content), 0644); err != nil {
		t.Fatalf("WriteFile: %v", err)
	}
	def, err = Load(path)
	if err != nil {
		t.Fatalf("Load(file) failed: %v", err)
	}
	if def.Trigger != "MENU" || def.Entry != "start" {
		t.Errorf("file values not used: %+v", def)
	}

	if _, err := Load(filepath.Join(t.TempDir(), "missing.yaml")); err == nil {
		t.Error("expected error for missing file")
	}
}
