package openai

import (
	"errors"
	"fmt"
	"testing"
	"time"

	"github.com/openai/openai-go/v3"
	"github.com/stretchr/testify/require"
)

func TestNewRequiresAPIKey(t *testing.T) {
	t.Parallel()

	_, err := New(Config{})
	require.Error(t, err)

	c, err := New(Config{APIKey: "key"})
	require.NoError(t, err)
	require.Equal(t, defaultTimeout, c.cfg.Timeout)

	c, err = New(Config{APIKey: "key", Timeout: 5 * time.Second})
	require.NoError(t, err)
	require.Equal(t, 5*time.Second, c.cfg.Timeout)
}

func TestIsRateLimitError(t *testing.T) {
	t.Parallel()

	require.True(t, isRateLimitError(&openai.Error{StatusCode: 429}))
	require.True(t, isRateLimitError(fmt.Errorf("wrapped: %w", &openai.Error{StatusCode: 429})))
	require.False(t, isRateLimitError(&openai.Error{StatusCode: 500}))
	require.False(t, isRateLimitError(errors.New("plain failure")))
}
