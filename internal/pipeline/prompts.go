package pipeline

import (
	"fmt"
	"strings"

	"github.com/sells-group/modelgen/internal/taxonomy"
	"github.com/sells-group/modelgen/internal/validate"
)

// classifyInputLimit caps the research text included in classification
// prompts. Classification needs the gist, not the whole document.
const classifyInputLimit = 6000

// generateInputLimit caps the research text included in generation prompts.
const generateInputLimit = 20000

const classifySystemTemplate = `Classify vendor research text into exactly one value model archetype from this closed taxonomy:

%s

Respond with a valid JSON object and nothing else:
{
  "archetype": "<code>",
  "archetype_name": "<name matching the code>",
  "confidence": "low" | "medium" | "high",
  "alternates": [{"archetype": "<code>", "applicability": <0.0-1.0>}],
  "reasoning": "<why this archetype fits, at least 20 characters>",
  "evidence": "<phrases from the text that support the choice, at least 20 characters>",
  "split_decision": <boolean>
}

Rules:
- archetype must be one of the codes listed above. There is no "other".
- Include no keys beyond the ones shown.
- List up to three alternates, strongest first. Never repeat the chosen code.
- When two archetypes fit the text equally well, set split_decision to true and put the runner-up first in alternates. Never silently pick one side of a tie.
- evidence must quote or closely paraphrase the supplied text, not general knowledge.`

const classifyUserPrompt = `Research text:
---
%s
---

Classify this text into exactly one archetype code.`

const generateSystemPrompt = `Build a structured value model from vendor research text. A value model quantifies the financial value a vendor's offering delivers to its customers.

Respond with a valid JSON object and nothing else:
{
  "archetype": "<the code you were given>",
  "title": "<short descriptive title>",
  "summary": "<one paragraph on what the model captures>",
  "components": [
    {"id": "<snake_case_id>", "kind": "variable", "name": "...", "unit": "...", "value": <number, optional>},
    {"id": "<snake_case_id>", "kind": "calculation", "name": "...", "formula": "...", "inputs": ["<id>", "<id>"]},
    {"id": "<snake_case_id>", "kind": "assumption", "name": "...", "text": "..."},
    {"id": "<snake_case_id>", "kind": "narrative", "name": "...", "text": "..."}
  ]
}

Rules:
- Include no keys beyond the ones shown.
- Component ids are unique snake_case strings.
- Components are ordered: a calculation may only list ids declared earlier in the array as inputs.
- Variables carry a unit. Calculations carry a formula and the input ids they read.
- Take every number from the research text; anything you cannot source becomes an assumption component.
- Include at least one variable or calculation so the model actually quantifies value.`

const generateUserPrompt = `Archetype: %s (%s)
Guidance: %s

Research text:
---
%s
---

Build the value model for this archetype.`

// attemptState carries the position of one validate-retry loop. It is
// rebuilt by value on every attempt; prompt builders receive a copy and
// nothing mutates across iterations.
type attemptState struct {
	attempt    int
	lastErrors []validate.Issue
}

// feedbackBlock renders the previous attempt's validation errors as a
// correction preamble. Empty on the first attempt.
func feedbackBlock(issues []validate.Issue) string {
	if len(issues) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString("Your previous response failed validation. Fix every issue listed below and respond again with corrected JSON only:\n")
	for _, issue := range issues {
		b.WriteString("- ")
		b.WriteString(issue.String())
		b.WriteString("\n")
	}
	b.WriteString("\n")
	return b.String()
}

func classifyPrompt(state attemptState, text string) string {
	prompt := fmt.Sprintf(classifyUserPrompt, truncate(text, classifyInputLimit))
	return feedbackBlock(state.lastErrors) + prompt
}

func generatePrompt(state attemptState, a taxonomy.Archetype, text string) string {
	prompt := fmt.Sprintf(generateUserPrompt, a.Code, a.Name, a.Guidance, truncate(text, generateInputLimit))
	return feedbackBlock(state.lastErrors) + prompt
}
