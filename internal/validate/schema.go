package validate

import (
	_ "embed"
	"fmt"
	"sort"

	"github.com/kaptinlin/jsonschema"
)

//go:embed schemas/classification.json
var classificationSchemaJSON []byte

//go:embed schemas/valuemodel.json
var modelSchemaJSON []byte

// schemaCheck is layer 2: required fields, types and value ranges for the
// target shape. Each violation names the offending field path.
func (v *Validator) schemaCheck(schema *jsonschema.Schema, doc []byte, res *Result) bool {
	res.recordLayer(LayerSchema)

	result := schema.ValidateJSON(doc)
	if result.IsValid() {
		return true
	}

	issues := collectSchemaIssues(result)
	if len(issues) == 0 {
		// The evaluator rejected the document without per-field detail.
		res.addError(LayerSchema, "", "document does not satisfy the target schema")
		return false
	}
	res.Errors = append(res.Errors, issues...)
	return false
}

// collectSchemaIssues flattens the evaluator's nested result into issues
// keyed by instance location.
func collectSchemaIssues(result *jsonschema.EvaluationResult) []Issue {
	var raw []Issue
	walkEvaluation(result, &raw)

	// The evaluator can report the same violation at several nesting
	// levels; keep one copy and a stable order so retry feedback is
	// deterministic.
	seen := make(map[string]bool, len(raw))
	issues := raw[:0]
	for _, issue := range raw {
		key := issue.Field + "\x00" + issue.Message
		if seen[key] {
			continue
		}
		seen[key] = true
		issues = append(issues, issue)
	}
	sort.Slice(issues, func(i, j int) bool {
		if issues[i].Field != issues[j].Field {
			return issues[i].Field < issues[j].Field
		}
		return issues[i].Message < issues[j].Message
	})
	return issues
}

func walkEvaluation(result *jsonschema.EvaluationResult, issues *[]Issue) {
	if result == nil || result.IsValid() {
		return
	}
	for _, evalErr := range result.Errors {
		*issues = append(*issues, Issue{
			Layer:   LayerSchema,
			Field:   result.InstanceLocation,
			Message: fmt.Sprintf("%v", evalErr),
		})
	}
	for _, detail := range result.Details {
		walkEvaluation(detail, issues)
	}
}
