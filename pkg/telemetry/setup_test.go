package telemetry

import (
	"context"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestSetupDisabled(t *testing.T) {
	shutdown, err := Setup(context.Background(), "camstream-test", "")
	require.NoError(t, err)
	require.NotNil(t, shutdown)

	// The no-op shutdown must be safe to call more than once.
	require.NoError(t, shutdown(context.Background()))
	require.NoError(t, shutdown(context.Background()))
}
