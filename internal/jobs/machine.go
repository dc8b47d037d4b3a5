package jobs

import "github.com/sells-group/modelgen/internal/model"

// transitions maps each status to the statuses it may legally move to.
// The lifecycle is strictly forward: no skips, no re-entry, and the
// terminal statuses have no exits.
var transitions = map[model.JobStatus][]model.JobStatus{
	model.JobStatusPending:     {model.JobStatusClassifying, model.JobStatusFailed},
	model.JobStatusClassifying: {model.JobStatusGenerating, model.JobStatusFailed},
	model.JobStatusGenerating:  {model.JobStatusCompleted, model.JobStatusFailed},
	model.JobStatusCompleted:   nil,
	model.JobStatusFailed:      nil,
}

// CanTransition reports whether a job may move between the two statuses
// in a single step.
func CanTransition(from, to model.JobStatus) bool {
	for _, next := range transitions[from] {
		if next == to {
			return true
		}
	}
	return false
}

// KnownStatus reports whether s names a defined job status.
func KnownStatus(s model.JobStatus) bool {
	_, ok := transitions[s]
	return ok
}
