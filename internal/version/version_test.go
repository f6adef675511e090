package version

import (
	"testing"

	"github.com/stretchr/testify/require"
)

// TestFull verifies the full version string contains all build metadata fields.
func TestFull(t *testing.T) {
	t.Parallel()

	full := Full()
	require.Contains(t, full, Version)
	require.Contains(t, full, Commit)
	require.Contains(t, full, BuildTime)
	require.Equal(t, Version, Short())
}
