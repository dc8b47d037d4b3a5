package validate

import (
	"fmt"

	"github.com/sells-group/modelgen/internal/model"
)

// classificationRules is layer 3 for classification output: the chosen
// archetype must exist in the live taxonomy, reasoning must have substance
// beyond padding, and alternates must be distinct runner-ups.
func (v *Validator) classificationRules(c *model.Classification, res *Result) {
	if !v.registry.Contains(c.Archetype) {
		res.addError(LayerRules, "/archetype", "archetype %q is not part of the taxonomy", c.Archetype)
	}

	if trimmedLen(c.Reasoning) < 20 {
		res.addError(LayerRules, "/reasoning", "reasoning must contain at least 20 characters of substance, not whitespace padding")
	}
	if trimmedLen(c.Evidence) < 20 {
		res.addError(LayerRules, "/evidence", "evidence must contain at least 20 characters of substance, not whitespace padding")
	}

	seen := map[string]bool{c.Archetype: true}
	for i, alt := range c.Alternates {
		if alt.Archetype == c.Archetype {
			res.addError(LayerRules, componentAltPath(i), "alternate repeats the chosen archetype %q", c.Archetype)
			continue
		}
		if seen[alt.Archetype] {
			res.addError(LayerRules, componentAltPath(i), "alternate %q appears more than once", alt.Archetype)
			continue
		}
		seen[alt.Archetype] = true
		if !v.registry.Contains(alt.Archetype) {
			res.addError(LayerRules, componentAltPath(i), "alternate %q is not part of the taxonomy", alt.Archetype)
		}
	}
}

func componentAltPath(i int) string {
	return fmt.Sprintf("/alternates/%d", i)
}

// modelRules is layer 3 for generated models: component ids are unique,
// every calculation input refers to a component declared earlier in the
// list, and the model quantifies at least one thing.
func (v *Validator) modelRules(m *model.ValueModel, archetype string, res *Result) {
	if archetype != "" && m.Archetype != archetype {
		res.addError(LayerRules, "/archetype", "model declares archetype %q but %q was requested", m.Archetype, archetype)
	}
	if a, ok := v.registry.Lookup(m.Archetype); !ok {
		res.addError(LayerRules, "/archetype", "archetype %q is not part of the taxonomy", m.Archetype)
	} else if len(m.Components) < a.MinComponents {
		res.addError(LayerRules, "/components", "archetype %q requires at least %d components, got %d", m.Archetype, a.MinComponents, len(m.Components))
	}

	// Uniqueness first so the ordering pass can resolve ids reliably.
	firstIndex := make(map[string]int, len(m.Components))
	for i, c := range m.Components {
		if prev, dup := firstIndex[c.ID]; dup {
			res.addError(LayerRules, componentPath(i, "id"), "duplicate component id %q, first declared at position %d", c.ID, prev)
			continue
		}
		firstIndex[c.ID] = i
	}

	var quantified bool
	for i, c := range m.Components {
		if c.Kind == model.ComponentVariable || c.Kind == model.ComponentCalculation {
			quantified = true
		}
		if c.Kind != model.ComponentCalculation {
			if len(c.Inputs) > 0 {
				res.addError(LayerRules, componentPath(i, "inputs"), "component %q has kind %q and cannot declare inputs", c.ID, c.Kind)
			}
			continue
		}

		for _, input := range c.Inputs {
			declaredAt, exists := firstIndex[input]
			switch {
			case !exists:
				res.addError(LayerRules, componentPath(i, "inputs"), "component %q references unknown component %q", c.ID, input)
			case input == c.ID:
				res.addError(LayerRules, componentPath(i, "inputs"), "component %q references itself", c.ID)
			case declaredAt > i:
				res.addError(LayerRules, componentPath(i, "inputs"),
					"component %q references %q, which is declared later at position %d; calculations may only read components declared before them",
					c.ID, input, declaredAt)
			}
		}
	}

	if !quantified {
		res.addError(LayerRules, "/components", "model must declare at least one variable or calculation component")
	}
}
