package addresscache

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDiskSnapshotRoundTrip(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "cache.json")

	original := Snapshot{
		UpdatedAt: time.Date(2026, 1, 2, 3, 4, 5, 0, time.UTC),
		Endpoints: []Endpoint{ep("10.0.0.1", 443), ep("::1", 8080)},
	}

	require.NoError(t, writeDiskSnapshotAtomic(path, original))

	decoded, err := readDiskSnapshot(path)
	require.NoError(t, err)

	assert.True(t, original.UpdatedAt.Equal(decoded.UpdatedAt))
	require.Len(t, decoded.Endpoints, len(original.Endpoints))
	for i := range original.Endpoints {
		assert.True(t, original.Endpoints[i].Equal(decoded.Endpoints[i]))
	}
}

func TestWriteDiskSnapshotAtomicLeavesNoTempFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "nested", "cache.json")

	require.NoError(t, writeDiskSnapshotAtomic(path, Snapshot{Endpoints: []Endpoint{ep("1.1.1.1", 1)}}))

	dirEntries, err := os.ReadDir(filepath.Dir(path))
	require.NoError(t, err)
	names := make([]string, len(dirEntries))
	for i, e := range dirEntries {
		names[i] = e.Name()
	}
	assert.ElementsMatch(t, []string{"cache.json"}, names)
}
