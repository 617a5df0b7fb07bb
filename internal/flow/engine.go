package flow

import (
	"log/slog"
	"strings"

	"github.com/BTreeMap/RelayPipe/internal/models"
)

// StateIdle is the implicit state of a sender outside the flow.
const StateIdle = models.StateIdle

// TransitionKind classifies the result of a single engine step.
type TransitionKind int

const (
	// TransitionFallback hands the message to the generative responder.
	TransitionFallback TransitionKind = iota
	// TransitionRender sends Render and moves to Next.
	TransitionRender
	// TransitionInvalidSelection sends Notice, then re-renders the current step.
	TransitionInvalidSelection
	// TransitionAcknowledge sends Notice and returns the sender to idle.
	TransitionAcknowledge
)

// String returns the kind's name for logging.
func (k TransitionKind) String() string {
	switch k {
	case TransitionFallback:
		return "fallback"
	case TransitionRender:
		return "render"
	case TransitionInvalidSelection:
		return "invalid_selection"
	case TransitionAcknowledge:
		return "acknowledge"
	default:
		return "unknown"
	}
}

// Transition is the outcome of Engine.Step.
type Transition struct {
	Kind     TransitionKind
	Next     string // state to persist; StateIdle when leaving the flow
	Render   *Step  // step to send, if any
	Notice   string // text sent before Render, or instead of it
	Fallback bool   // true when the generative responder must answer
}

// Engine evaluates tokens against a Definition. It holds no per-sender state.
type Engine struct {
	def *Definition
}

// NewEngine creates an engine over the given definition.
func NewEngine(def *Definition) *Engine {
	return &Engine{def: def}
}

// Definition returns the engine's flow definition.
func (e *Engine) Definition() *Definition {
	return e.def
}

// Step follows exactly one edge of the flow for the given state and token.
func (e *Engine) Step(current, token string) Transition {
	if current == "" {
		current = StateIdle
	}

	if current == StateIdle {
		if token == e.def.Trigger {
			return e.advance(e.def.Entry)
		}
		return fallback()
	}

	step, ok := e.def.Lookup(current)
	if !ok {
		slog.Warn("Engine.Step: unknown state, resetting to idle", "state", current)
		return fallback()
	}

	switch {
	case step.HasOptions():
		opt, matched := step.Option(token)
		if !matched {
			slog.Debug("Engine.Step: unmatched option", "state", current, "token", token)
			return Transition{
				Kind:   TransitionInvalidSelection,
				Next:   current,
				Render: &step,
				Notice: e.def.InvalidSelection,
			}
		}
		target := opt.NextStep
		if target == "" {
			target = e.def.DefaultNext
		}
		return e.advance(target)

	case !step.Final:
		target := step.Next
		if target == "" {
			target = e.def.FreeTextNext
		}
		return e.advance(target)

	default:
		// A final step persisted by an older build; the sender has left the flow.
		return fallback()
	}
}

// advance renders target, resetting to idle when it is final or unknown.
func (e *Engine) advance(target string) Transition {
	step, ok := e.def.Lookup(target)
	if !ok {
		slog.Warn("Engine.Step: transition target not found", "target", target)
		return Transition{Kind: TransitionAcknowledge, Next: StateIdle, Notice: e.def.Acknowledgement}
	}
	next := target
	if step.Final {
		next = StateIdle
	}
	return Transition{Kind: TransitionRender, Next: next, Render: &step}
}

func fallback() Transition {
	return Transition{Kind: TransitionFallback, Next: StateIdle, Fallback: true}
}

// Vars holds values substituted into step messages.
type Vars struct {
	FirstName string
}

// DefaultFirstName replaces {{contact.first_name}} when the name is unknown.
const DefaultFirstName = "Hola"

// Expand substitutes contact placeholders in a step message.
func Expand(message string, vars Vars) string {
	if !strings.Contains(message, "{{") {
		return message
	}
	name := strings.TrimSpace(vars.FirstName)
	if name == "" {
		name = DefaultFirstName
	} else if i := strings.IndexAny(name, " \t"); i > 0 {
		name = name[:i]
	}
	return strings.NewReplacer(
		"{{contact.first_name}}", name,
		"{{ contact.first_name }}", name,
	).Replace(message)
}
