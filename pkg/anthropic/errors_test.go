package anthropic

import (
	"context"
	"errors"
	"testing"

	sdk "github.com/anthropics/anthropic-sdk-go"
	"github.com/stretchr/testify/assert"

	"github.com/sells-group/modelgen/internal/resilience"
)

func TestClassifyTransport_AuthStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{401, 403} {
		err := classifyTransport(&sdk.Error{StatusCode: code})
		assert.True(t, resilience.IsAuth(err), "status %d should classify as auth", code)
		assert.False(t, resilience.IsTransient(err), "status %d must not be retried", code)
	}
}

func TestClassifyTransport_RetryableStatuses(t *testing.T) {
	t.Parallel()

	for _, code := range []int{408, 429, 500, 529} {
		err := classifyTransport(&sdk.Error{StatusCode: code})
		assert.True(t, resilience.IsTransient(err), "status %d should classify as transient", code)
		assert.False(t, resilience.IsAuth(err))
	}
}

func TestClassifyTransport_PermanentStatus(t *testing.T) {
	t.Parallel()

	err := classifyTransport(&sdk.Error{StatusCode: 400})
	assert.False(t, resilience.IsTransient(err))
	assert.False(t, resilience.IsAuth(err))
}

func TestClassifyTransport_DeadlineExceeded(t *testing.T) {
	t.Parallel()

	err := classifyTransport(context.DeadlineExceeded)
	assert.True(t, resilience.IsTransient(err))
}

func TestClassifyTransport_PlainError(t *testing.T) {
	t.Parallel()

	orig := errors.New("something else entirely")
	err := classifyTransport(orig)
	assert.Equal(t, orig, err)
}
