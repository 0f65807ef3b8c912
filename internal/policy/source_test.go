package policy

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"canon/pkg/platform/sentinel"
)

func writePolicyFile(t *testing.T, content string) string {
	t.Helper()
	path := filepath.Join(t.TempDir(), "policy.yaml")
	require.NoError(t, os.WriteFile(path, []byte(content), 0o600))
	return path
}

func TestLoadFile(t *testing.T) {
	ctx := context.Background()

	t.Run("groups and actors", func(t *testing.T) {
		src, err := LoadFile(writePolicyFile(t, `
groups:
  - id: payments
    requiresVerification: true
  - id: browsing
    requiresVerification: false
actors:
  merchant-42: payments
  reader-1: browsing
`))
		require.NoError(t, err)

		group, err := src.GroupFor(ctx, "merchant-42")
		require.NoError(t, err)
		assert.Equal(t, "payments", group)

		requires, err := src.RequiresVerification(ctx, "payments")
		require.NoError(t, err)
		assert.True(t, requires)

		requires, err = src.RequiresVerification(ctx, "browsing")
		require.NoError(t, err)
		assert.False(t, requires)

		_, err = src.GroupFor(ctx, "stranger")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
		_, err = src.RequiresVerification(ctx, "unknown")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)
	})

	t.Run("empty path and empty file", func(t *testing.T) {
		src, err := LoadFile("")
		require.NoError(t, err)
		_, err = src.RequiresVerification(ctx, "payments")
		assert.ErrorIs(t, err, sentinel.ErrNotFound)

		_, err = LoadFile(writePolicyFile(t, ""))
		require.NoError(t, err)
	})

	t.Run("rejects unknown keys", func(t *testing.T) {
		_, err := LoadFile(writePolicyFile(t, "groups:\n  - id: payments\n    required: true\n"))
		assert.Error(t, err)
	})

	t.Run("rejects dangling and duplicate groups", func(t *testing.T) {
		_, err := LoadFile(writePolicyFile(t, `
groups:
  - id: payments
  - id: payments
actors:
  merchant-42: lending
`))
		require.Error(t, err)
		assert.Contains(t, err.Error(), `group "payments" declared twice`)
		assert.Contains(t, err.Error(), `undeclared group "lending"`)
	})

	t.Run("missing file", func(t *testing.T) {
		_, err := LoadFile(filepath.Join(t.TempDir(), "absent.yaml"))
		assert.Error(t, err)
	})
}

func TestMemorySourceHonoursContext(t *testing.T) {
	src := NewMemorySource()
	src.SetPolicy("payments", true)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	_, err := src.RequiresVerification(ctx, "payments")
	assert.ErrorIs(t, err, context.Canceled)
}
