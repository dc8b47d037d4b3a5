package anthropic

import (
	"context"
	"errors"

	sdk "github.com/anthropics/anthropic-sdk-go"

	"github.com/sells-group/modelgen/internal/resilience"
)

// classifyTransport maps an SDK error onto the retry taxonomy. Auth
// failures must never be retried; rate limits, timeouts and server-side
// overload are safe to retry after a backoff. Anything else (malformed
// request, unknown model) passes through unclassified and is treated as
// permanent by the retry layer.
func classifyTransport(err error) error {
	var apierr *sdk.Error
	if errors.As(err, &apierr) {
		switch {
		case resilience.IsAuthHTTPStatus(apierr.StatusCode):
			return resilience.NewAuthError(err, apierr.StatusCode)
		case resilience.IsTransientHTTPStatus(apierr.StatusCode) || apierr.StatusCode == 529:
			return resilience.NewTransientError(err, apierr.StatusCode)
		}
		return err
	}

	if errors.Is(err, context.DeadlineExceeded) {
		return resilience.NewTransientError(err, 0)
	}

	return err
}
