package checkpoint

import (
	"fmt"
	"os"
	"path/filepath"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestTracker_ResumeAfterRestart(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "run-1", nil)
	require.NoError(t, err)

	require.NoError(t, tr.Commit("persons.csv", "fp1", 500))
	require.NoError(t, tr.Commit("persons.csv", "fp1", 1000))
	require.NoError(t, tr.Complete("network[0]", "fp2", 42))
	require.NoError(t, tr.Close())

	tr, err = Open(dir, "run-2", nil)
	require.NoError(t, err)
	defer tr.Close()

	assert.Equal(t, Position{Committed: 1000}, tr.Resume("persons.csv", "fp1"))
	assert.Equal(t, Position{Committed: 42, Completed: true}, tr.Resume("network[0]", "fp2"))
	assert.Equal(t, Position{}, tr.Resume("network[1]", "fp3"))
	assert.Equal(t, 2, tr.Sources())
}

func TestTracker_FingerprintChangeStartsOver(t *testing.T) {
	tr, err := Open(t.TempDir(), "run", nil)
	require.NoError(t, err)
	defer tr.Close()

	require.NoError(t, tr.Commit("persons.csv", "old", 300))
	assert.Equal(t, Position{}, tr.Resume("persons.csv", "new"))

	require.NoError(t, tr.Commit("persons.csv", "new", 100))
	assert.Equal(t, Position{Committed: 100}, tr.Resume("persons.csv", "new"))
	assert.Equal(t, Position{}, tr.Resume("persons.csv", "old"))
}

func TestTracker_Reset(t *testing.T) {
	dir := t.TempDir()
	tr, err := Open(dir, "run", nil)
	require.NoError(t, err)

	require.NoError(t, tr.Commit("a", "fp", 10))
	require.NoError(t, tr.Reset())
	assert.Equal(t, Position{}, tr.Resume("a", "fp"))
	require.NoError(t, tr.Close())

	tr, err = Open(dir, "run", nil)
	require.NoError(t, err)
	defer tr.Close()
	assert.Equal(t, 0, tr.Sources())
}

func TestTracker_ConcurrentPartitions(t *testing.T) {
	tr, err := Open(t.TempDir(), "run", nil)
	require.NoError(t, err)
	defer tr.Close()

	var wg sync.WaitGroup
	for p := 0; p < 4; p++ {
		wg.Add(1)
		go func(p int) {
			defer wg.Done()
			key := fmt.Sprintf("persons.csv#%d/4", p)
			for n := int64(1); n <= 20; n++ {
				assert.NoError(t, tr.Commit(key, "fp", n*10))
			}
		}(p)
	}
	wg.Wait()

	assert.Equal(t, 4, tr.Sources())
	assert.Equal(t, uint64(80), tr.journal.CurrentLSN())
}

func TestFingerprint(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "persons.csv")
	content := []byte("pid,hid\n1,1\n")
	require.NoError(t, os.WriteFile(path, content, 0o644))

	fp, err := Fingerprint(path)
	require.NoError(t, err)
	assert.Len(t, fp, 64)
	assert.Equal(t, fp, FingerprintBytes(content))

	require.NoError(t, os.WriteFile(path, []byte("pid,hid\n1,2\n"), 0o644))
	fp2, err := Fingerprint(path)
	require.NoError(t, err)
	assert.NotEqual(t, fp, fp2)

	_, err = Fingerprint(filepath.Join(dir, "missing"))
	assert.ErrorIs(t, err, os.ErrNotExist)
}
