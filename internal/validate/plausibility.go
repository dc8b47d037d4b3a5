package validate

import (
	"math"
	"strings"

	"github.com/sells-group/modelgen/internal/model"
)

// plausibility is layer 4: soft checks on the numbers and assumptions of a
// model that passed the hard gates. Findings are warnings only; they never
// block success but lower the confidence recorded on the extraction.
func (v *Validator) plausibility(m *model.ValueModel, res *Result) {
	var hasCalculation bool
	valuesByName := make(map[string]float64)

	for i, c := range m.Components {
		if c.Kind == model.ComponentCalculation {
			hasCalculation = true
			seen := make(map[string]bool, len(c.Inputs))
			for _, input := range c.Inputs {
				if seen[input] {
					res.addWarning(componentPath(i, "inputs"), "component %q reads %q more than once", c.ID, input)
				}
				seen[input] = true
			}
		}

		if c.Value == nil {
			continue
		}
		val := *c.Value

		if val < 0 {
			res.addWarning(componentPath(i, "value"), "component %q carries a negative value %.2f; benefit models normally quantify gains as positive amounts", c.ID, val)
		}
		if math.Abs(val) > 1e12 {
			res.addWarning(componentPath(i, "value"), "component %q carries an implausibly large value %.0f", c.ID, val)
		}
		if ratioLike(c.Unit) && (val < 0 || val > 1) {
			res.addWarning(componentPath(i, "value"), "component %q has unit %q but value %.2f outside [0, 1]", c.ID, c.Unit, val)
		}
		if percentLike(c.Unit) && (val < 0 || val > 100) {
			res.addWarning(componentPath(i, "value"), "component %q has unit %q but value %.2f outside [0, 100]", c.ID, c.Unit, val)
		}

		// Two components quantifying the same named thing with different
		// numbers contradict each other.
		key := strings.ToLower(strings.TrimSpace(c.Name))
		if prev, ok := valuesByName[key]; ok && prev != val {
			res.addWarning(componentPath(i, "value"), "component %q restates %q with value %.2f, contradicting an earlier value %.2f", c.ID, c.Name, val, prev)
		} else {
			valuesByName[key] = val
		}
	}

	if !hasCalculation {
		res.addWarning("/components", "model declares inputs but never calculates a benefit from them")
	}
}

func ratioLike(unit string) bool {
	u := strings.ToLower(strings.TrimSpace(unit))
	return u == "ratio" || u == "rate" || u == "fraction" || u == "probability"
}

func percentLike(unit string) bool {
	u := strings.ToLower(strings.TrimSpace(unit))
	return u == "%" || u == "percent" || u == "percentage" || u == "pct"
}
