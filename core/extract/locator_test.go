package extract

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLocator(t *testing.T) {
	tests := []struct {
		raw, project, slug string
	}{
		{"https://git.example.com/scm/cg/orders.git", "cg", "orders"},
		{"ssh://git@git.example.com:7999/cg/orders.git", "cg", "orders"},
		{"git@github.com:acme/widgets.git", "acme", "widgets"},
		{"https://github.com/acme/widgets", "acme", "widgets"},
		{"  https://github.com/acme/widgets/  ", "acme", "widgets"},
	}
	for _, tt := range tests {
		t.Run(tt.raw, func(t *testing.T) {
			loc, err := ParseLocator(tt.raw)
			require.NoError(t, err)
			assert.False(t, loc.Local)
			assert.Equal(t, tt.project, loc.ProjectKey)
			assert.Equal(t, tt.slug, loc.Slug)
		})
	}
}

func TestParseLocator_LocalDirectory(t *testing.T) {
	dir := filepath.Join(t.TempDir(), "payments", "ledger")
	require.NoError(t, os.MkdirAll(dir, 0o755))

	loc, err := ParseLocator(dir)
	require.NoError(t, err)
	assert.True(t, loc.Local)
	assert.Equal(t, dir, loc.Raw)
	assert.Equal(t, "payments", loc.ProjectKey)
	assert.Equal(t, "ledger", loc.Slug)
}

func TestParseLocator_Invalid(t *testing.T) {
	for _, raw := range []string{"", "   ", "relative/does/not/exist", "https://host"} {
		_, err := ParseLocator(raw)
		assert.Error(t, err, raw)
	}
}
