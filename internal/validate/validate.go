// Package validate implements the four-layer check chain applied to every
// oracle output before it is trusted: syntax, schema, business rules, and
// plausibility. The first three layers are hard gates and short-circuit on
// failure; the fourth only emits warnings. Oracle output stays an untyped
// blob until the chain passes, then it is converted to a typed value.
package validate

import (
	"encoding/json"
	"fmt"
	"strings"

	"github.com/kaptinlin/jsonschema"
	"github.com/rotisserie/eris"

	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/taxonomy"
)

// Layer names the chain stage that produced an issue.
type Layer string

const (
	LayerSyntax       Layer = "syntax"
	LayerSchema       Layer = "schema"
	LayerRules        Layer = "rules"
	LayerPlausibility Layer = "plausibility"
)

// Issue is one validation finding with enough detail to drive a
// corrective retry prompt.
type Issue struct {
	Layer   Layer  `json:"layer"`
	Field   string `json:"field,omitempty"`
	Message string `json:"message"`
}

func (i Issue) String() string {
	if i.Field != "" {
		return fmt.Sprintf("%s: %s: %s", i.Layer, i.Field, i.Message)
	}
	return fmt.Sprintf("%s: %s", i.Layer, i.Message)
}

// Result is the verdict of one chain run.
type Result struct {
	Valid    bool           `json:"valid"`
	Errors   []Issue        `json:"errors,omitempty"`
	Warnings []Issue        `json:"warnings,omitempty"`
	Info     map[string]any `json:"info,omitempty"`
}

// ErrorStrings renders all errors for persistence on a failed job.
func (r Result) ErrorStrings() []string {
	out := make([]string, 0, len(r.Errors))
	for _, e := range r.Errors {
		out = append(out, e.String())
	}
	return out
}

// WarningStrings renders all warnings.
func (r Result) WarningStrings() []string {
	out := make([]string, 0, len(r.Warnings))
	for _, w := range r.Warnings {
		out = append(out, w.String())
	}
	return out
}

func (r *Result) addError(layer Layer, field, format string, args ...any) {
	r.Errors = append(r.Errors, Issue{Layer: layer, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) addWarning(field, format string, args ...any) {
	r.Warnings = append(r.Warnings, Issue{Layer: LayerPlausibility, Field: field, Message: fmt.Sprintf(format, args...)})
}

func (r *Result) recordLayer(layer Layer) {
	layers, _ := r.Info["layers_run"].([]string)
	r.Info["layers_run"] = append(layers, string(layer))
}

// Validator holds the compiled schemas and the live taxonomy.
type Validator struct {
	registry             *taxonomy.Registry
	classificationSchema *jsonschema.Schema
	modelSchema          *jsonschema.Schema
}

// New compiles the embedded schemas against the given taxonomy registry.
func New(reg *taxonomy.Registry) (*Validator, error) {
	compiler := jsonschema.NewCompiler()
	compiler.AssertFormat = true

	cs, err := compiler.Compile(classificationSchemaJSON)
	if err != nil {
		return nil, eris.Wrap(err, "validate: compile classification schema")
	}
	ms, err := compiler.Compile(modelSchemaJSON)
	if err != nil {
		return nil, eris.Wrap(err, "validate: compile value model schema")
	}

	return &Validator{
		registry:             reg,
		classificationSchema: cs,
		modelSchema:          ms,
	}, nil
}

// Classification runs layers 1-3 against raw oracle output and converts it
// to a typed result once they pass. The returned value is nil whenever the
// result is invalid.
func (v *Validator) Classification(raw string) (*model.Classification, Result) {
	res := Result{Info: map[string]any{}}

	doc, ok := v.syntax(raw, &res)
	if !ok {
		return nil, res
	}
	if !v.schemaCheck(v.classificationSchema, doc, &res) {
		return nil, res
	}

	var c model.Classification
	if err := json.Unmarshal(doc, &c); err != nil {
		res.addError(LayerSchema, "", "decode into classification: %v", err)
		return nil, res
	}

	v.classificationRules(&c, &res)
	res.recordLayer(LayerRules)
	if len(res.Errors) > 0 {
		return nil, res
	}

	res.Valid = true
	return &c, res
}

// Model runs the full four-layer chain against raw oracle output for the
// given archetype. Plausibility findings come back as warnings on an
// otherwise valid result.
func (v *Validator) Model(raw, archetype string) (*model.ValueModel, Result) {
	res := Result{Info: map[string]any{}}

	doc, ok := v.syntax(raw, &res)
	if !ok {
		return nil, res
	}
	if !v.schemaCheck(v.modelSchema, doc, &res) {
		return nil, res
	}

	var m model.ValueModel
	if err := json.Unmarshal(doc, &m); err != nil {
		res.addError(LayerSchema, "", "decode into value model: %v", err)
		return nil, res
	}

	v.modelRules(&m, archetype, &res)
	res.recordLayer(LayerRules)
	if len(res.Errors) > 0 {
		return nil, res
	}

	v.plausibility(&m, &res)
	res.recordLayer(LayerPlausibility)
	res.Info["component_count"] = len(m.Components)

	res.Valid = true
	return &m, res
}

// fieldPath renders a JSON pointer-ish path for component-level issues.
func componentPath(i int, field string) string {
	if field == "" {
		return fmt.Sprintf("/components/%d", i)
	}
	return fmt.Sprintf("/components/%d/%s", i, field)
}

// trimmedLen is the length of s without surrounding whitespace.
func trimmedLen(s string) int {
	return len(strings.TrimSpace(s))
}
