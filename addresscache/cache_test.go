package addresscache

import (
	"encoding/json"
	"net"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func ep(ip string, port uint16) Endpoint {
	return Endpoint{IP: net.ParseIP(ip), Port: port}
}

// fixedRand is a deterministic stand-in for clock.Rand, rotating the slice by a fixed offset
// instead of shuffling randomly, so tests can assert on the exact resulting order.
type fixedRand struct{ offset int }

func (f fixedRand) Shuffle(n int, swap func(i, j int)) {
	if n == 0 {
		return
	}
	for i := 0; i < f.offset%n; i++ {
		for j := 0; j < n-1; j++ {
			swap(j, j+1)
		}
	}
}

func writeBundle(t *testing.T, dir string, eps []Endpoint) string {
	t.Helper()
	path := filepath.Join(dir, "bundle.json")
	data, err := json.Marshal(encodeEndpoints(eps))
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(path, data, 0o644))
	return path
}

func TestBootstrapFromMissingDiskFallsBackToBundle(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "cache.json")
	bundlePath := writeBundle(t, dir, []Endpoint{ep("1.2.3.4", 443), ep("5.6.7.8", 443)})

	c := New(diskPath, bundlePath, WithRand(fixedRand{offset: 0}))

	cur := c.CurrentEndpoint()
	assert.True(t, cur.Equal(ep("1.2.3.4", 443)) || cur.Equal(ep("5.6.7.8", 443)))
	assert.True(t, c.LastUpdateTime().IsZero())
	assert.Equal(t, SourceBundle, c.Source())

	_, err := os.Stat(diskPath)
	require.NoError(t, err)

	onDisk, err := readDiskSnapshot(diskPath)
	require.NoError(t, err)
	assert.Len(t, onDisk.Endpoints, 2)
}

func TestBootstrapFromDefaultWhenNothingElseWorks(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "missing-cache.json"), filepath.Join(dir, "missing-bundle.json"))

	assert.Equal(t, DefaultEndpoint, c.CurrentEndpoint())
	assert.Equal(t, SourceDefault, c.Source())
}

func TestRotateAfterFailureMovesHeadToTail(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "cache.json")
	seedInitial(t, diskPath, []Endpoint{ep("1.1.1.1", 1), ep("2.2.2.2", 2), ep("3.3.3.3", 3)})

	c := New(diskPath, filepath.Join(dir, "bundle.json"))

	next := c.RotateAfterFailure(ep("1.1.1.1", 1))
	assert.True(t, next.Equal(ep("2.2.2.2", 2)))
	assert.True(t, c.CurrentEndpoint().Equal(ep("2.2.2.2", 2)))

	onDisk, err := readDiskSnapshot(diskPath)
	require.NoError(t, err)
	assert.True(t, onDisk.Endpoints[0].Equal(ep("2.2.2.2", 2)))
	assert.True(t, onDisk.Endpoints[2].Equal(ep("1.1.1.1", 1)))
}

func TestRotateAfterFailureIsIdempotent(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "cache.json")
	seedInitial(t, diskPath, []Endpoint{ep("1.1.1.1", 1), ep("2.2.2.2", 2), ep("3.3.3.3", 3)})

	c := New(diskPath, filepath.Join(dir, "bundle.json"))

	first := c.RotateAfterFailure(ep("1.1.1.1", 1))
	second := c.RotateAfterFailure(ep("1.1.1.1", 1)) // stale: 1.1.1.1 is no longer the head

	assert.True(t, first.Equal(second))
	assert.True(t, c.CurrentEndpoint().Equal(second))
}

func TestRotateAfterFailurePreservesSetAsPermutation(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "cache.json")
	initial := []Endpoint{ep("1.1.1.1", 1), ep("2.2.2.2", 2), ep("3.3.3.3", 3)}
	seedInitial(t, diskPath, initial)

	c := New(diskPath, filepath.Join(dir, "bundle.json"))

	for i := 0; i < 10; i++ {
		c.RotateAfterFailure(c.CurrentEndpoint())
	}

	c.mu.Lock()
	final := c.snapshot.Endpoints
	c.mu.Unlock()
	assert.True(t, sameEndpointSet(initial, final))
}

func TestReplaceEndpointsRejectsEmpty(t *testing.T) {
	dir := t.TempDir()
	c := New(filepath.Join(dir, "cache.json"), filepath.Join(dir, "bundle.json"))

	err := c.ReplaceEndpoints(time.Now(), nil)
	assert.ErrorAs(t, err, &ErrEmptyList{})
}

func TestReplaceEndpointsPinsPreviousCurrentToHead(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "cache.json")
	seedInitial(t, diskPath, []Endpoint{ep("1.1.1.1", 1), ep("2.2.2.2", 2)})

	c := New(diskPath, filepath.Join(dir, "bundle.json"), WithRand(fixedRand{offset: 1}))
	previousCurrent := c.CurrentEndpoint()

	next := []Endpoint{ep("2.2.2.2", 2), ep("1.1.1.1", 1), ep("9.9.9.9", 9)}
	require.NoError(t, c.ReplaceEndpoints(time.Now(), next))

	assert.True(t, c.CurrentEndpoint().Equal(previousCurrent))
}

func TestReplaceEndpointsUnchangedSetOnlyBumpsTimestamp(t *testing.T) {
	dir := t.TempDir()
	diskPath := filepath.Join(dir, "cache.json")
	initial := []Endpoint{ep("1.1.1.1", 1), ep("2.2.2.2", 2)}
	seedInitial(t, diskPath, initial)

	c := New(diskPath, filepath.Join(dir, "bundle.json"))
	before := c.CurrentEndpoint()

	now := time.Now().Add(time.Hour)
	require.NoError(t, c.ReplaceEndpoints(now, []Endpoint{ep("2.2.2.2", 2), ep("1.1.1.1", 1)}))

	assert.True(t, c.CurrentEndpoint().Equal(before))
	assert.WithinDuration(t, now, c.LastUpdateTime(), time.Second)
}

// seedInitial writes a disk cache file directly so that New() adopts it as-is (source=disk),
// without going through the bundle-shuffle path.
func seedInitial(t *testing.T, diskPath string, eps []Endpoint) {
	t.Helper()
	require.NoError(t, writeDiskSnapshotAtomic(diskPath, Snapshot{Endpoints: eps}))
}
