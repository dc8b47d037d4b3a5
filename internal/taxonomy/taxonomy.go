// Package taxonomy holds the closed set of value model archetypes a piece
// of vendor research can be classified into. The set is fixed at nine
// codes; deployments may reword names and guidance through a YAML overlay
// but can never add or remove codes.
package taxonomy

import (
	"fmt"
	"sort"
	"strings"
)

// Archetype is one entry of the value model taxonomy.
type Archetype struct {
	Code        string `json:"code" yaml:"code"`
	Name        string `json:"name" yaml:"name"`
	Description string `json:"description" yaml:"description"`
	// Guidance is folded into generation prompts: which quantities a model
	// of this archetype is expected to declare and calculate.
	Guidance string `json:"guidance" yaml:"guidance"`
	// MinComponents is the smallest component count the rules layer accepts
	// for this archetype. Zero means the schema floor of one; deployments
	// tighten it through the overlay.
	MinComponents int `json:"min_components,omitempty" yaml:"min_components"`
}

// Registry is an immutable lookup over the archetype set.
type Registry struct {
	byCode  map[string]Archetype
	ordered []string
}

var defaults = []Archetype{
	{
		Code:        "B1",
		Name:        "Cost Reduction",
		Description: "The vendor's offering removes or shrinks an existing operating expense.",
		Guidance:    "Declare the current annual spend being displaced, the expected reduction rate, and calculate net annual savings after the vendor's fee.",
	},
	{
		Code:        "B2",
		Name:        "Revenue Growth",
		Description: "The offering creates new revenue or lifts conversion on existing revenue streams.",
		Guidance:    "Declare baseline revenue, the uplift rate attributable to the offering, and gross margin so the model yields incremental contribution, not just top line.",
	},
	{
		Code:        "B3",
		Name:        "Productivity Gain",
		Description: "The offering saves employee time or lets the same headcount handle more volume.",
		Guidance:    "Declare hours saved per employee per week, affected headcount, and a loaded hourly rate; calculate annualized capacity value and state whether hours are redeployed or reduced.",
	},
	{
		Code:        "B4",
		Name:        "Risk Mitigation",
		Description: "The offering reduces the likelihood or severity of a costly adverse event.",
		Guidance:    "Declare annual event probability, expected loss per event, and the mitigation factor; calculate expected annual loss avoided as probability times severity times mitigation.",
	},
	{
		Code:        "B5",
		Name:        "Capex Deferral",
		Description: "The offering postpones or avoids a planned capital purchase.",
		Guidance:    "Declare the deferred purchase amount, deferral period, and cost of capital; calculate the time value of the deferral rather than claiming the full purchase price.",
	},
	{
		Code:        "B6",
		Name:        "Working Capital",
		Description: "The offering frees cash held in inventory, receivables, or payment cycles.",
		Guidance:    "Declare days of cycle time recovered and daily cash throughput; calculate freed cash and carry it at the cost of capital, not as recurring savings.",
	},
	{
		Code:        "B7",
		Name:        "Customer Experience",
		Description: "The offering improves retention, satisfaction, or lifetime value of end customers.",
		Guidance:    "Declare baseline churn, the retention improvement, average customer value, and customer count; calculate retained revenue and keep satisfaction claims tied to a measurable driver.",
	},
	{
		Code:        "B8",
		Name:        "Compliance Assurance",
		Description: "The offering reduces audit effort, penalty exposure, or the cost of staying compliant.",
		Guidance:    "Declare audit preparation hours, penalty exposure with its probability, and compliance staffing cost; calculate avoided penalties separately from effort savings.",
	},
	{
		Code:        "B9",
		Name:        "Sustainability Impact",
		Description: "The offering reduces energy, emissions, or waste with a monetizable outcome.",
		Guidance:    "Declare consumption baselines and unit costs, including credit or reporting value where applicable; calculate monetized impact and keep non-monetary tonnage as context, not benefit.",
	},
}

// Default returns the registry with the built-in nine archetypes.
func Default() *Registry {
	return newRegistry(defaults)
}

func newRegistry(entries []Archetype) *Registry {
	r := &Registry{byCode: make(map[string]Archetype, len(entries))}
	for _, a := range entries {
		if a.MinComponents <= 0 {
			a.MinComponents = 1
		}
		r.byCode[a.Code] = a
		r.ordered = append(r.ordered, a.Code)
	}
	sort.Strings(r.ordered)
	return r
}

// Lookup returns the archetype for a code.
func (r *Registry) Lookup(code string) (Archetype, bool) {
	a, ok := r.byCode[code]
	return a, ok
}

// Contains reports whether code is part of the taxonomy.
func (r *Registry) Contains(code string) bool {
	_, ok := r.byCode[code]
	return ok
}

// Codes returns all archetype codes in stable order.
func (r *Registry) Codes() []string {
	out := make([]string, len(r.ordered))
	copy(out, r.ordered)
	return out
}

// All returns all archetypes in stable code order.
func (r *Registry) All() []Archetype {
	out := make([]Archetype, 0, len(r.ordered))
	for _, code := range r.ordered {
		out = append(out, r.byCode[code])
	}
	return out
}

// PromptBlock renders the taxonomy as a numbered list for embedding in
// classification prompts.
func (r *Registry) PromptBlock() string {
	var b strings.Builder
	for _, code := range r.ordered {
		a := r.byCode[code]
		fmt.Fprintf(&b, "%s: %s - %s\n", a.Code, a.Name, a.Description)
	}
	return b.String()
}
