package pipeline

import (
	"context"
	"errors"
	"fmt"
	"strings"

	"github.com/sells-group/modelgen/internal/model"
	"github.com/sells-group/modelgen/internal/resilience"
	"github.com/sells-group/modelgen/internal/validate"
)

// ClassificationError reports that every classification attempt was
// rejected by the validation chain. Issues holds the last attempt's errors.
type ClassificationError struct {
	Attempts int
	Issues   []validate.Issue
}

func (e *ClassificationError) Error() string {
	return fmt.Sprintf("classification failed after %d attempts: %s", e.Attempts, joinIssues(e.Issues))
}

// TerminalValidationError reports that generation exhausted its validation
// retry budget. Issues holds the final attempt's error set unmodified, so
// the job row records exactly what the last output got wrong.
type TerminalValidationError struct {
	Attempts int
	Issues   []validate.Issue
}

func (e *TerminalValidationError) Error() string {
	return fmt.Sprintf("generation failed validation after %d attempts: %s", e.Attempts, joinIssues(e.Issues))
}

// OracleError wraps a transport failure inside a phase loop, annotated
// with the validation attempt it interrupted. The attempt number feeds the
// retry count persisted on the failed job.
type OracleError struct {
	Attempt int
	Err     error
}

func (e *OracleError) Error() string {
	return fmt.Sprintf("oracle call failed on attempt %d: %v", e.Attempt, e.Err)
}

func (e *OracleError) Unwrap() error {
	return e.Err
}

// LineageError wraps a persistence failure that happened after a valid
// artifact was produced. The artifact survives on the failed job row.
type LineageError struct {
	Err error
}

func (e *LineageError) Error() string {
	return e.Err.Error()
}

func (e *LineageError) Unwrap() error {
	return e.Err
}

func joinIssues(issues []validate.Issue) string {
	if len(issues) == 0 {
		return "no issues recorded"
	}
	parts := make([]string, 0, len(issues))
	for _, i := range issues {
		parts = append(parts, i.String())
	}
	return strings.Join(parts, "; ")
}

// failureClass maps a pipeline error onto the class recorded on the job
// row. Auth outranks everything: a credential failure is never retried
// and must never masquerade as a generic transport blip.
func failureClass(err error) string {
	switch {
	case errors.Is(err, context.Canceled):
		return model.ErrorClassCanceled
	case resilience.IsAuth(err):
		return model.ErrorClassTransportAuth
	}

	var ce *ClassificationError
	if errors.As(err, &ce) {
		return model.ErrorClassClassification
	}
	var ve *TerminalValidationError
	if errors.As(err, &ve) {
		return model.ErrorClassValidation
	}
	var le *LineageError
	if errors.As(err, &le) {
		return model.ErrorClassLineage
	}

	return model.ErrorClassTransport
}

// retryCountFor extracts how many validation retries a failed run consumed.
// Attempt numbers start at one, so a failure on the first attempt reports
// zero retries.
func retryCountFor(err error) int {
	var ve *TerminalValidationError
	if errors.As(err, &ve) && ve.Attempts > 0 {
		return ve.Attempts - 1
	}
	var oe *OracleError
	if errors.As(err, &oe) && oe.Attempt > 0 {
		return oe.Attempt - 1
	}
	return 0
}
