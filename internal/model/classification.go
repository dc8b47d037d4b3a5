package model

// ConfidenceLevel is the classifier's self-reported certainty bucket.
type ConfidenceLevel string

const (
	ConfidenceLow    ConfidenceLevel = "low"
	ConfidenceMedium ConfidenceLevel = "medium"
	ConfidenceHigh   ConfidenceLevel = "high"
)

// Valid reports whether the level is one of the three allowed buckets.
func (c ConfidenceLevel) Valid() bool {
	switch c {
	case ConfidenceLow, ConfidenceMedium, ConfidenceHigh:
		return true
	}
	return false
}

// Alternate is a runner-up archetype with its applicability score.
type Alternate struct {
	Archetype     string  `json:"archetype"`
	Applicability float64 `json:"applicability"`
}

// Classification is the outcome of mapping research text onto the value
// model taxonomy. It is consumed immediately by generation and persisted
// only as part of the owning job row.
type Classification struct {
	Archetype     string          `json:"archetype"`
	ArchetypeName string          `json:"archetype_name"`
	Confidence    ConfidenceLevel `json:"confidence"`
	Alternates    []Alternate     `json:"alternates,omitempty"`
	Reasoning     string          `json:"reasoning"`
	Evidence      string          `json:"evidence"`
	// SplitDecision marks a tie between the chosen archetype and the first
	// alternate. Both candidates are surfaced instead of picking one.
	SplitDecision bool `json:"split_decision,omitempty"`
	Attempts      int  `json:"attempts"`
}
