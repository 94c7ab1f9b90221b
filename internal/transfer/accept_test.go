package transfer

import (
	"testing"

	"github.com/shirou/gopsutil/v4/disk"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestAutoAccept(t *testing.T) {
	ok, reason := AutoAccept(testRequest("a.txt", 1<<40))
	assert.True(t, ok)
	assert.Empty(t, reason)
}

func TestDiskSpaceAccept(t *testing.T) {
	dir := t.TempDir()
	usage, err := disk.Usage(dir)
	require.NoError(t, err)

	t.Run("accepts-small", func(t *testing.T) {
		accept := DiskSpaceAccept(dir, 0)
		ok, reason := accept(testRequest("a.txt", 1))
		assert.True(t, ok, reason)
	})

	t.Run("rejects-oversized", func(t *testing.T) {
		// a margin of everything currently free cannot leave room
		accept := DiskSpaceAccept(dir, usage.Free)
		ok, reason := accept(testRequest("a.txt", 10<<20))
		assert.False(t, ok)
		assert.Contains(t, reason, "disk space")
	})
}
