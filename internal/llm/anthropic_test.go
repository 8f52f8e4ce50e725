package llm

import (
	"context"
	"errors"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestIsRetryable_ContextErrorsNeverRetry(t *testing.T) {
	require.False(t, isRetryable(context.Canceled))
	require.False(t, isRetryable(context.DeadlineExceeded))
	require.False(t, isRetryable(nil))
	require.False(t, isRetryable(errors.New("boom")))
}
