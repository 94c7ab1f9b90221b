package app

import (
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/lanbeam/lanbeam/internal/config"
	"github.com/lanbeam/lanbeam/internal/workspace"
)

func testConfig(t *testing.T) *config.Config {
	t.Helper()
	return &config.Config{
		DeviceName:  "app-test",
		DownloadDir: filepath.Join(t.TempDir(), "ws"),
	}
}

func TestNewValidatesConfig(t *testing.T) {
	cfg := testConfig(t)
	cfg.DiscoveryPort = 4000
	cfg.TransferPort = 4000

	_, err := New(cfg)
	require.ErrorContains(t, err, "config")
}

func TestNewFillsDefaults(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)

	assert.Equal(t, config.DefaultDiscoveryPort, cfg.DiscoveryPort)
	assert.Equal(t, config.DefaultTransferPort, cfg.TransferPort)
	assert.Equal(t, config.DefaultMulticastGroup, cfg.MulticastGroup)

	self := a.identity.Snapshot()
	assert.NotEmpty(t, self.ID)
	assert.Equal(t, "app-test", self.Name)
	assert.Equal(t, cfg.TransferPort, self.Port)

	require.NotNil(t, a.topics.Devices)
	require.NotNil(t, a.topics.Transfers)
	require.NotNil(t, a.topics.Clipboard)
	require.NotNil(t, a.topics.SyncJobs)
}

func TestSetupWiresEverything(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)

	require.NoError(t, a.setup())
	defer a.teardown()

	require.NotNil(t, a.ws)
	require.NotNil(t, a.db)
	require.NotNil(t, a.queue)
	require.NotNil(t, a.discovery)
	require.NotNil(t, a.prober)
	require.NotNil(t, a.engine)
	require.NotNil(t, a.server)

	// workspace directories and the database file exist on disk
	assert.DirExists(t, a.ws.SyncDir)
	assert.DirExists(t, a.ws.ClipboardDir)
	assert.FileExists(t, a.ws.DatabasePath())
}

func TestSetupRefusesLockedWorkspace(t *testing.T) {
	cfg := testConfig(t)

	other, err := workspace.NewWorkspace(cfg.DownloadDir)
	require.NoError(t, err)
	require.NoError(t, other.Setup())
	defer other.Unlock() //nolint:errcheck

	a, err := New(cfg)
	require.NoError(t, err)

	err = a.setup()
	require.ErrorIs(t, err, workspace.ErrWorkspaceLocked)
}

func TestTeardownIsIdempotent(t *testing.T) {
	cfg := testConfig(t)

	a, err := New(cfg)
	require.NoError(t, err)
	require.NoError(t, a.setup())

	a.teardown()
	assert.Nil(t, a.db)
	assert.Nil(t, a.ws)

	// a second teardown must be a no-op
	a.teardown()

	// the workspace can be claimed again once released
	ws, err := workspace.NewWorkspace(cfg.DownloadDir)
	require.NoError(t, err)
	require.NoError(t, ws.Setup())
	require.NoError(t, ws.Unlock())
}

func TestSetupRejectsUnusableDownloadDir(t *testing.T) {
	base := t.TempDir()
	blocker := filepath.Join(base, "taken")
	require.NoError(t, os.WriteFile(blocker, []byte("x"), 0o644))

	cfg := &config.Config{DeviceName: "app-test", DownloadDir: blocker}
	a, err := New(cfg)
	require.NoError(t, err)

	err = a.setup()
	require.Error(t, err)
	assert.ErrorContains(t, err, "workspace")
}
