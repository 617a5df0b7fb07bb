// Package flow implements the scripted menu flow: a declarative step table
// loaded from YAML and a pure transition function over it.
package flow

import (
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v3"
)

// Defaults applied when a definition leaves a field empty.
const (
	DefaultEntry            = "step0"
	DefaultTrigger          = "menu_button"
	DefaultNextStep         = "step12"
	DefaultInvalidSelection = "Parece que no has elegido una opción válida. Por favor, selecciona una opción de la lista."
	DefaultAcknowledgement  = "Gracias por tu interés. Nos pondremos en contacto contigo pronto."
)

// ErrInvalidDefinition is returned when a flow definition fails validation.
var ErrInvalidDefinition = errors.New("invalid flow definition")

//go:embed default_flow.yaml
var defaultFlowYAML []byte

// Option is one selectable choice of a step.
type Option struct {
	ID       string `yaml:"id"`
	Title    string `yaml:"title"`
	NextStep string `yaml:"nextStep,omitempty"`
}

// Step is one node of the flow.
type Step struct {
	ID      string   `yaml:"-"`
	Message string   `yaml:"message"`
	Options []Option `yaml:"options,omitempty"`
	Final   bool     `yaml:"final,omitempty"`
	Next    string   `yaml:"next,omitempty"` // successor for free text at a step without options
}

// HasOptions reports whether the step presents selectable options.
func (s Step) HasOptions() bool {
	return len(s.Options) > 0
}

// Option returns the option whose id equals token exactly.
func (s Step) Option(token string) (Option, bool) {
	for _, opt := range s.Options {
		if opt.ID == token {
			return opt, true
		}
	}
	return Option{}, false
}

// Definition is the immutable step table plus the flow-wide policy.
type Definition struct {
	Version          string          `yaml:"version"`
	Entry            string          `yaml:"entry"`
	Trigger          string          `yaml:"trigger"`
	DefaultNext      string          `yaml:"defaultNext"`
	FreeTextNext     string          `yaml:"freeTextNext"`
	InvalidSelection string          `yaml:"invalidSelection"`
	Acknowledgement  string          `yaml:"acknowledgement"`
	Steps            map[string]Step `yaml:"steps"`
}

// Parse decodes a YAML flow definition, applies defaults and validates it.
func Parse(data []byte) (*Definition, error) {
	var def Definition
	if err := yaml.Unmarshal(data, &def); err != nil {
		return nil, fmt.Errorf("failed to parse flow definition: %w", err)
	}
	def.applyDefaults()
	if err := def.Validate(); err != nil {
		return nil, err
	}
	return &def, nil
}

// LoadFile reads and parses the flow definition at path.
func LoadFile(path string) (*Definition, error) {
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, fmt.Errorf("failed to read flow definition %s: %w", path, err)
	}
	def, err := Parse(data)
	if err != nil {
		return nil, err
	}
	slog.Info("Flow definition loaded", "path", path, "version", def.Version, "steps", len(def.Steps))
	return def, nil
}

// Default returns the embedded Españolizate flow.
func Default() (*Definition, error) {
	return Parse(defaultFlowYAML)
}

// Load returns the definition at path, or the embedded default when path is empty.
func Load(path string) (*Definition, error) {
	if path == "" {
		return Default()
	}
	return LoadFile(path)
}

func (d *Definition) applyDefaults() {
	if d.Entry == "" {
		d.Entry = DefaultEntry
	}
	if d.Trigger == "" {
		d.Trigger = DefaultTrigger
	}
	if d.DefaultNext == "" {
		d.DefaultNext = DefaultNextStep
	}
	if d.FreeTextNext == "" {
		d.FreeTextNext = DefaultNextStep
	}
	if d.InvalidSelection == "" {
		d.InvalidSelection = DefaultInvalidSelection
	}
	if d.Acknowledgement == "" {
		d.Acknowledgement = DefaultAcknowledgement
	}
	for id, step := range d.Steps {
		step.ID = id
		step.Message = strings.TrimSpace(step.Message)
		d.Steps[id] = step
	}
}

// Lookup returns the step with the given id. The boolean is false when the id
// is not part of the flow; a found step may still be final.
func (d *Definition) Lookup(id string) (Step, bool) {
	step, ok := d.Steps[id]
	return step, ok
}

// Validate checks that every reference resolves and that steps are well formed.
func (d *Definition) Validate() error {
	var problems []error
	fail := func(format string, args ...any) {
		problems = append(problems, fmt.Errorf(format, args...))
	}

	if len(d.Steps) == 0 {
		fail("no steps defined")
	}
	if d.Trigger == "" {
		fail("trigger is empty")
	}
	if _, ok := d.Steps[d.Entry]; !ok {
		fail("entry step %q not found", d.Entry)
	}
	if _, ok := d.Steps[d.DefaultNext]; !ok {
		fail("defaultNext step %q not found", d.DefaultNext)
	}
	if _, ok := d.Steps[d.FreeTextNext]; !ok {
		fail("freeTextNext step %q not found", d.FreeTextNext)
	}

	ids := make([]string, 0, len(d.Steps))
	for id := range d.Steps {
		ids = append(ids, id)
	}
	sort.Strings(ids)

	for _, id := range ids {
		step := d.Steps[id]
		if id == "" || id == "idle" {
			fail("step id %q is reserved", id)
		}
		if step.Final && step.HasOptions() {
			fail("step %q is final but has options", id)
		}
		if step.Next != "" {
			if _, ok := d.Steps[step.Next]; !ok {
				fail("step %q: next %q not found", id, step.Next)
			}
		}
		seen := make(map[string]bool, len(step.Options))
		for _, opt := range step.Options {
			if opt.ID == "" {
				fail("step %q: option with empty id", id)
			}
			if seen[opt.ID] {
				fail("step %q: duplicate option id %q", id, opt.ID)
			}
			seen[opt.ID] = true
			if opt.NextStep != "" {
				if _, ok := d.Steps[opt.NextStep]; !ok {
					fail("step %q option %q: nextStep %q not found", id, opt.ID, opt.NextStep)
				}
			}
		}
	}

	if len(problems) > 0 {
		return fmt.Errorf("%w: %w", ErrInvalidDefinition, errors.Join(problems...))
	}
	return nil
}
