package flow

import (
	"testing"

	"pgregory.net/rapid"
)

// testDefinition is a small flow where option "3" leads straight to a final step.
func testDefinition(t testing.TB) *Definition {
	t.Helper()
	def, err := Parse([]byte(`
steps:
  step0:
    message: Elige una opción
    options:
      - {id: "1", title: Uno, nextStep: step1}
      - {id: "2", title: Dos}
      - {id: "3", title: Tres, nextStep: done}
      - {id: "4", title: Cuatro, nextStep: step1}
  step1:
    message: Cuéntanos más
  step12:
    message: ¿Le contactamos hoy?
    options:
      - {id: "29", title: Sí, nextStep: ask}
      - {id: "30", title: "No", nextStep: done}
  ask:
    message: Nombre de contacto
    next: done
  done:
    message: Gracias, hasta pronto
    final: true
`))
	if err != nil {
		t.Fatalf("Parse failed: %v", err)
	}
	return def
}

func TestEngineTriggerFromIdle(t *testing.T) {
	e := NewEngine(testDefinition(t))
	for _, state := range []string{"", StateIdle} {
		tr := e.Step(state, "menu_button")
		if tr.Kind != TransitionRender || tr.Next != "step0" {
			t.Fatalf("state %q: expected render of step0, got %+v", state, tr)
		}
		if tr.Render == nil || len(tr.Render.Options) != 4 {
			t.Errorf("expected entry step with 4 options, got %+v", tr.Render)
		}
	}
}

func TestEngineIdleFreeTextFallsBack(t *testing.T) {
	e := NewEngine(testDefinition(t))
	tr := e.Step(StateIdle, "¿Cuánto cuesta el trámite?")
	if tr.Kind != TransitionFallback || !tr.Fallback || tr.Next != StateIdle || tr.Render != nil {
		t.Errorf("expected fallback from idle, got %+v", tr)
	}
}

func TestEngineOptionToFinalStepResetsToIdle(t *testing.T) {
	e := NewEngine(testDefinition(t))
	tr := e.Step("step0", "3")
	if tr.Kind != TransitionRender {
		t.Fatalf("expected render, got %v", tr.Kind)
	}
	if tr.Render.Message != "Gracias, hasta pronto" {
		t.Errorf("expected final step message, got %q", tr.Render.Message)
	}
	if tr.Next != StateIdle {
		t.Errorf("expected idle after final step, got %q", tr.Next)
	}
}

func TestEngineOptionWithoutNextStepUsesDefault(t *testing.T) {
	e := NewEngine(testDefinition(t))
	tr := e.Step("step0", "2")
	if tr.Kind != TransitionRender || tr.Next != "step12" {
		t.Errorf("expected default next step12, got %+v", tr)
	}
}

func TestEngineInvalidSelectionReprompts(t *testing.T) {
	e := NewEngine(testDefinition(t))
	tr := e.Step("step0", "9")
	if tr.Kind != TransitionInvalidSelection {
		t.Fatalf("expected invalid selection, got %v", tr.Kind)
	}
	if tr.Next != "step0" {
		t.Errorf("state should be unchanged, got %q", tr.Next)
	}
	if tr.Notice != DefaultInvalidSelection {
		t.Errorf("unexpected notice %q", tr.Notice)
	}
	if tr.Render == nil || tr.Render.ID != "step0" {
		t.Errorf("expected re-render of step0, got %+v", tr.Render)
	}
	if tr.Fallback {
		t.Error("invalid selection must not fall back")
	}
}

func TestEngineMatchIsExact(t *testing.T) {
	e := NewEngine(testDefinition(t))
	for _, token := range []string{" 1", "1 ", "01", "uno", "Uno"} {
		if tr := e.Step("step0", token); tr.Kind != TransitionInvalidSelection {
			t.Errorf("token %q should not match, got %v", token, tr.Kind)
		}
	}
}

func TestEngineTriggerInsideFlowIsNotSpecial(t *testing.T) {
	e := NewEngine(testDefinition(t))
	if tr := e.Step("step0", "menu_button"); tr.Kind != TransitionInvalidSelection {
		t.Errorf("trigger inside an options step should re-prompt, got %v", tr.Kind)
	}
}

func TestEngineFreeTextStep(t *testing.T) {
	e := NewEngine(testDefinition(t))

	tr := e.Step("step1", "quiero más información")
	if tr.Kind != TransitionRender || tr.Next != "step12" {
		t.Errorf("free text should route to step12, got %+v", tr)
	}

	tr = e.Step("ask", "María")
	if tr.Kind != TransitionRender || tr.Render.ID != "done" || tr.Next != StateIdle {
		t.Errorf("free text at ask should render done and reset, got %+v", tr)
	}
}

func TestEngineUnknownStateFallsBack(t *testing.T) {
	e := NewEngine(testDefinition(t))
	tr := e.Step("step999", "hola")
	if tr.Kind != TransitionFallback || tr.Next != StateIdle {
		t.Errorf("expected fallback with reset, got %+v", tr)
	}
}

func TestEngineLegacyFinalStateFallsBack(t *testing.T) {
	e := NewEngine(testDefinition(t))
	tr := e.Step("done", "hola")
	if tr.Kind != TransitionFallback || tr.Next != StateIdle {
		t.Errorf("expected fallback from final state, got %+v", tr)
	}
}

func TestEngineUnresolvedTargetAcknowledges(t *testing.T) {
	def := testDefinition(t)
	// Bypass validation to simulate a target removed after the state was persisted.
	step0 := def.Steps["step0"]
	step0.Options = append([]Option(nil), step0.Options...)
	step0.Options[0].NextStep = "removed"
	def.Steps["step0"] = step0

	tr := NewEngine(def).Step("step0", "1")
	if tr.Kind != TransitionAcknowledge || tr.Next != StateIdle || tr.Notice != DefaultAcknowledgement {
		t.Errorf("expected acknowledgement, got %+v", tr)
	}
}

func TestEngineConsumedOptionEvaluatedAgainstNewStep(t *testing.T) {
	e := NewEngine(testDefinition(t))
	first := e.Step("step0", "1")
	if first.Next != "step1" {
		t.Fatalf("expected step1, got %q", first.Next)
	}
	// Re-sending "1" at step1 is free text, not a replay of step0's option.
	second := e.Step(first.Next, "1")
	if second.Next != "step12" {
		t.Errorf("expected step1's free-text transition, got %+v", second)
	}
}

func TestEngineDefaultFlowWalk(t *testing.T) {
	def, err := Default()
	if err != nil {
		t.Fatalf("Default() failed: %v", err)
	}
	e := NewEngine(def)

	state := StateIdle
	for _, token := range []string{"menu_button", "1", "2", "29", "Ana Pérez"} {
		tr := e.Step(state, token)
		if tr.Kind != TransitionRender {
			t.Fatalf("token %q at %q: expected render, got %v", token, state, tr.Kind)
		}
		state = tr.Next
	}
	if state != StateIdle {
		t.Errorf("expected idle after contact collection, got %q", state)
	}

	tr := e.Step("step0", "6")
	if tr.Render.ID != "step25" || tr.Next != StateIdle {
		t.Errorf("option 6 should end the flow at step25, got %+v", tr)
	}
}

func TestExpand(t *testing.T) {
	msg := "{{contact.first_name}}, Muchas gracias"
	if got := Expand(msg, Vars{FirstName: "Lucía Gómez"}); got != "Lucía, Muchas gracias" {
		t.Errorf("Expand with name = %q", got)
	}
	if got := Expand(msg, Vars{}); got != "Hola, Muchas gracias" {
		t.Errorf("Expand without name = %q", got)
	}
	if got := Expand("sin variables", Vars{FirstName: "X"}); got != "sin variables" {
		t.Errorf("Expand changed plain text: %q", got)
	}
}

func TestEngineIdleOnlyTriggerChangesState(t *testing.T) {
	e := NewEngine(testDefinition(t))
	rapid.Check(t, func(rt *rapid.T) {
		token := rapid.String().Draw(rt, "token")
		tr := e.Step(StateIdle, token)
		if token == e.Definition().Trigger {
			if tr.Next != e.Definition().Entry {
				rt.Fatalf("trigger should enter the flow, got %q", tr.Next)
			}
			return
		}
		if tr.Next != StateIdle || !tr.Fallback {
			rt.Fatalf("token %q changed idle state to %q", token, tr.Next)
		}
	})
}

func TestEngineNeverPersistsFinalStep(t *testing.T) {
	def := testDefinition(t)
	e := NewEngine(def)
	states := []string{StateIdle, "step0", "step1", "step12", "ask", "done", "unknown"}
	tokens := []string{"menu_button", "1", "2", "3", "4", "29", "30", "9", "free text"}
	rapid.Check(t, func(rt *rapid.T) {
		state := rapid.SampledFrom(states).Draw(rt, "state")
		steps := rapid.IntRange(1, 12).Draw(rt, "steps")
		for i := 0; i < steps; i++ {
			token := rapid.SampledFrom(tokens).Draw(rt, "token")
			state = e.Step(state, token).Next
			if state == StateIdle {
				continue
			}
			step, ok := def.Lookup(state)
			if !ok {
				rt.Fatalf("engine produced unknown state %q", state)
			}
			if step.Final {
				rt.Fatalf("engine persisted final step %q", state)
			}
		}
	})
}
