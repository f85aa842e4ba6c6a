package dlp

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestRegistry_Default(t *testing.T) {
	r := NewRegistry()

	cfg, ok := r.Resolve("")
	require.True(t, ok)
	assert.Equal(t, DefaultConfig(), cfg)

	cfg, ok = r.Resolve("DEFAULT")
	require.True(t, ok)
	assert.Equal(t, DefaultConfig(), cfg)

	_, ok = r.Resolve("missing")
	assert.False(t, ok)
}

func TestRegistry_Register(t *testing.T) {
	r := NewRegistry()
	strict := DefaultConfig()
	strict.RiskThreshold = 0.3

	require.NoError(t, r.Register(" Tenant-A ", strict))
	cfg, ok := r.Resolve("tenant-a")
	require.True(t, ok)
	assert.Equal(t, 0.3, cfg.RiskThreshold)
	assert.Equal(t, []string{"default", "tenant-a"}, r.Names())

	cfg.BannedPhrases[0] = "mutated"
	again, _ := r.Resolve("tenant-a")
	assert.Equal(t, "confidential", again.BannedPhrases[0])
}

func TestRegistry_RejectsInvalid(t *testing.T) {
	r := NewRegistry()

	bad := DefaultConfig()
	bad.RiskThreshold = 1.5
	assert.Error(t, r.Register("bad", bad))
	assert.Error(t, r.Register("  ", DefaultConfig()))

	err := r.Replace(map[string]Config{"ok": DefaultConfig(), "bad": bad})
	require.Error(t, err)
	assert.Equal(t, []string{"default"}, r.Names())
}

func TestRegistry_ReplaceKeepsDefault(t *testing.T) {
	r := NewRegistry()
	require.NoError(t, r.Register("old", DefaultConfig()))

	lenient := DefaultConfig()
	lenient.RiskThreshold = 0.9
	require.NoError(t, r.Replace(map[string]Config{"new": lenient}))

	assert.Equal(t, []string{"default", "new"}, r.Names())
	_, ok := r.Resolve("old")
	assert.False(t, ok)
}
