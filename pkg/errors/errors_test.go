package errors

import (
	"errors"
	"fmt"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestWrapAndCode(t *testing.T) {
	base := errors.New("boom")
	err := Wrap("llm_error", "provider failed", base)

	require.EqualError(t, err, "provider failed: boom")
	require.True(t, IsCode(err, "llm_error"))
	require.ErrorIs(t, err, base)

	outer := fmt.Errorf("attempt 2: %w", err)
	require.Equal(t, "llm_error", CodeOf(outer))
	require.Equal(t, "", CodeOf(base))
	require.False(t, IsCode(nil, "llm_error"))
}
