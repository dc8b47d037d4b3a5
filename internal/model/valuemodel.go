package model

import "time"

// ComponentKind discriminates the variants of a value model component.
type ComponentKind string

const (
	ComponentVariable    ComponentKind = "variable"
	ComponentCalculation ComponentKind = "calculation"
	ComponentAssumption  ComponentKind = "assumption"
	ComponentNarrative   ComponentKind = "narrative"
)

// Valid reports whether the kind is a known component variant.
func (k ComponentKind) Valid() bool {
	switch k {
	case ComponentVariable, ComponentCalculation, ComponentAssumption, ComponentNarrative:
		return true
	}
	return false
}

// Component is one named step of a value model. Which fields are populated
// depends on Kind: variables carry a unit and optionally a value,
// calculations carry a formula plus the ids of the components they read,
// assumptions and narratives carry text.
type Component struct {
	ID      string        `json:"id"`
	Kind    ComponentKind `json:"kind"`
	Name    string        `json:"name"`
	Unit    string        `json:"unit,omitempty"`
	Value   *float64      `json:"value,omitempty"`
	Formula string        `json:"formula,omitempty"`
	Inputs  []string      `json:"inputs,omitempty"`
	Text    string        `json:"text,omitempty"`
}

// ValueModel is the structured artifact generated for one archetype.
// Components are ordered: a calculation may only read components declared
// before it, so evaluating top to bottom never hits an unresolved input.
// Once recorded in lineage a model is immutable; edits mean a new version
// with a new id.
type ValueModel struct {
	ID          string      `json:"id"`
	Archetype   string      `json:"archetype"`
	Version     int         `json:"version"`
	Title       string      `json:"title"`
	Summary     string      `json:"summary,omitempty"`
	Components  []Component `json:"components"`
	NeedsReview bool        `json:"needs_review,omitempty"`
	CreatedAt   time.Time   `json:"created_at"`
}

// ComponentByID returns the component with the given id, or nil.
func (m *ValueModel) ComponentByID(id string) *Component {
	for i := range m.Components {
		if m.Components[i].ID == id {
			return &m.Components[i]
		}
	}
	return nil
}
