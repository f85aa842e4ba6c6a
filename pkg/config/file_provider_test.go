package config

import (
	"os"
	"testing"
	"time"

	"github.com/polisai/streamguard/pkg/logging"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestFileProvider_InitialSnapshot(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":9000\"\n")

	p, err := NewFileProvider(path, logging.Discard())
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	snap := p.Current()
	assert.Equal(t, int64(1), snap.Generation)
	assert.Equal(t, ":9000", snap.Config.Server.Address)

	got := <-p.Subscribe()
	assert.Equal(t, snap, got)
}

func TestFileProvider_RejectsInvalidInitialFile(t *testing.T) {
	_, err := NewFileProvider(writeConfig(t, "logging:\n  level: loud\n"), logging.Discard())
	assert.Error(t, err)

	_, err = NewFileProvider("", logging.Discard())
	assert.Error(t, err)
}

func TestFileProvider_Reload(t *testing.T) {
	path := writeConfig(t, "server:\n  address: \":9000\"\n")

	reloads := make(chan error, 8)
	p, err := NewFileProvider(path, logging.Discard(), WithReloadHook(func(err error) { reloads <- err }))
	require.NoError(t, err)
	t.Cleanup(func() { _ = p.Close() })

	updates := p.Subscribe()
	<-updates

	require.NoError(t, os.WriteFile(path, []byte("server:\n  address: \":9100\"\n"), 0o600))

	select {
	case snap := <-updates:
		assert.Equal(t, ":9100", snap.Config.Server.Address)
		assert.Greater(t, snap.Generation, int64(1))
	case <-time.After(5 * time.Second):
		t.Fatal("timed out waiting for reload")
	}

	require.NoError(t, os.WriteFile(path, []byte("logging:\n  level: loud\n"), 0o600))
	require.Eventually(t, func() bool {
		select {
		case err := <-reloads:
			return err != nil
		default:
			return false
		}
	}, 5*time.Second, 20*time.Millisecond)
	assert.Equal(t, ":9100", p.Current().Config.Server.Address, "a bad file keeps the last good snapshot")
}

func TestFileProvider_CloseEndsSubscriptions(t *testing.T) {
	p, err := NewFileProvider(writeConfig(t, ""), logging.Discard())
	require.NoError(t, err)

	updates := p.Subscribe()
	<-updates
	require.NoError(t, p.Close())

	_, open := <-updates
	assert.False(t, open)

	_, open = <-p.Subscribe()
	assert.False(t, open)
}
