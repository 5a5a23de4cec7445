package canopy

import (
	"errors"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestStateTracker_Lifecycle(t *testing.T) {
	st := NewStateTracker()

	_, ok := st.Latest()
	assert.False(t, ok, "new tracker has no result")

	require.True(t, st.Begin())
	assert.False(t, st.Begin(), "a second run must not start while one is running")
	assert.True(t, st.Status().Running)

	st.Progress(TileProgress{Done: 4, Total: 9})
	status := st.Status()
	assert.Equal(t, 4, status.Done)
	assert.Equal(t, 9, status.Total)

	first := publishedResult()
	st.Finish(first, nil)
	status = st.Status()
	assert.False(t, status.Running)
	assert.Equal(t, "run-42", status.RunID)
	assert.Empty(t, status.LastError)

	latest, ok := st.Latest()
	require.True(t, ok)
	assert.Same(t, first, latest)
}

func TestStateTracker_FailedRunKeepsPreviousResult(t *testing.T) {
	st := NewStateTracker()
	require.True(t, st.Begin())
	first := publishedResult()
	st.Finish(first, nil)

	require.True(t, st.Begin())
	st.Finish(nil, errors.New("tile 3: detect: model crashed"))

	latest, ok := st.Latest()
	require.True(t, ok)
	assert.Same(t, first, latest)
	assert.Contains(t, st.Status().LastError, "model crashed")
	assert.False(t, st.Status().Running)
	assert.True(t, st.Begin(), "a failed run releases the tracker")
}

func TestStateTracker_Cache(t *testing.T) {
	path := filepath.Join(t.TempDir(), "result.json")

	st := NewStateTrackerWithCache(path)
	_, ok := st.Latest()
	assert.False(t, ok)

	require.True(t, st.Begin())
	st.Finish(publishedResult(), nil)
	_, err := os.Stat(path)
	require.NoError(t, err, "result cache not written")

	restored, ok := NewStateTrackerWithCache(path).Latest()
	require.True(t, ok)
	assert.Equal(t, "run-42", restored.RunID)
	assert.Equal(t, testCrowns(), restored.Crowns)
}

func TestLoadResult_Errors(t *testing.T) {
	dir := t.TempDir()
	_, err := LoadResult(filepath.Join(dir, "missing.json"))
	assert.Error(t, err)

	bad := filepath.Join(dir, "bad.json")
	require.NoError(t, os.WriteFile(bad, []byte("{"), 0644))
	_, err = LoadResult(bad)
	assert.Error(t, err)

	// A corrupt cache is ignored on start-up.
	_, ok := NewStateTrackerWithCache(bad).Latest()
	assert.False(t, ok)
}
