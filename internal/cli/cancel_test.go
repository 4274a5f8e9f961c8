package cli

import (
	"context"
	"errors"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRunCancellablePassesThroughResult(t *testing.T) {
	var out strings.Builder
	err := RunCancellable(context.Background(), nil, func(ctx context.Context) error {
		out.WriteString("ran")
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, "ran", out.String())
}

func TestRunCancellablePropagatesError(t *testing.T) {
	want := errors.New("boom")
	err := RunCancellable(context.Background(), nil, func(ctx context.Context) error {
		return want
	})
	assert.Equal(t, want, err)
}

func TestRunCancellableSwallowsErrorWhenCancelled(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	err := RunCancellable(ctx, nil, func(ctx context.Context) error {
		cancel()
		<-ctx.Done()
		return errors.New("aborted mid-flight")
	})
	assert.NoError(t, err, "a cancelled run reports no error")
}

func TestCancelledMessage(t *testing.T) {
	withColor(t, false)
	var out strings.Builder
	Cancelled(&out)
	assert.Equal(t, "✗ Cancelled.\n", out.String())
}
