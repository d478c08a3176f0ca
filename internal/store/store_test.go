package store

import (
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func openTestStore(t *testing.T) *Store {
	t.Helper()
	s, err := Open(filepath.Join(t.TempDir(), "fits.db"))
	require.NoError(t, err)
	t.Cleanup(func() { s.Close() })
	return s
}

func TestRunLifecycle(t *testing.T) {
	s := openTestStore(t)

	id, err := s.CreateRun("ni-on-si", "testdata/ni.refl", "de+lm")
	require.NoError(t, err)
	require.NotEmpty(t, id)

	run, err := s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusRunning, run.Status)
	assert.Equal(t, "ni-on-si", run.Model)
	assert.Nil(t, run.ChiSq)
	assert.Nil(t, run.FinishedAt)

	require.NoError(t, s.FinishRun(id, StatusComplete, 1.07, "converged"))
	run, err = s.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, run.Status)
	require.NotNil(t, run.ChiSq)
	assert.InDelta(t, 1.07, *run.ChiSq, 1e-12)
	assert.NotNil(t, run.FinishedAt)
	assert.Equal(t, "converged", run.Message)
}

func TestFinishUnknownRun(t *testing.T) {
	s := openTestStore(t)
	err := s.FinishRun("no-such-run", StatusComplete, 1, "")
	require.Error(t, err)
}

func TestRunsNewestFirst(t *testing.T) {
	s := openTestStore(t)
	first, err := s.CreateRun("a", "a.refl", "de")
	require.NoError(t, err)
	second, err := s.CreateRun("b", "b.refl", "lm")
	require.NoError(t, err)

	runs, err := s.Runs(10)
	require.NoError(t, err)
	require.Len(t, runs, 2)
	ids := []string{runs[0].ID, runs[1].ID}
	assert.Contains(t, ids, first)
	assert.Contains(t, ids, second)

	runs, err = s.Runs(1)
	require.NoError(t, err)
	assert.Len(t, runs, 1)
}

func TestParamsRoundTrip(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateRun("m", "d.refl", "de")
	require.NoError(t, err)

	names := []string{"nickel thickness", "nickel rho"}
	require.NoError(t, s.SaveParams(id, names, []float64{102.3, 9.41}, []float64{0.8, 0.05}))

	params, err := s.Params(id)
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.Equal(t, "nickel thickness", params[0].Name)
	assert.InDelta(t, 102.3, params[0].Value, 1e-12)
	require.NotNil(t, params[0].Stderr)
	assert.InDelta(t, 0.8, *params[0].Stderr, 1e-12)

	// Saving again replaces rather than appends.
	require.NoError(t, s.SaveParams(id, names, []float64{100, 9.4}, nil))
	params, err = s.Params(id)
	require.NoError(t, err)
	require.Len(t, params, 2)
	assert.InDelta(t, 100, params[0].Value, 1e-12)
	assert.Nil(t, params[0].Stderr)
}

func TestSaveParamsValidation(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateRun("m", "d.refl", "de")
	require.NoError(t, err)
	require.Error(t, s.SaveParams(id, []string{"a"}, []float64{1, 2}, nil))
	require.Error(t, s.SaveParams(id, []string{"a"}, []float64{1}, []float64{1, 2}))
}

func TestTraceOrderAndOverwrite(t *testing.T) {
	s := openTestStore(t)
	id, err := s.CreateRun("m", "d.refl", "de")
	require.NoError(t, err)

	require.NoError(t, s.RecordTrace(id, TracePoint{Iteration: 2, Best: 5, Mean: 9, Evaluations: 40}))
	require.NoError(t, s.RecordTrace(id, TracePoint{Iteration: 1, Best: 7, Mean: 12, Evaluations: 20}))
	require.NoError(t, s.RecordTrace(id, TracePoint{Iteration: 2, Best: 4.5, Mean: 8, Evaluations: 40}))

	trace, err := s.Trace(id)
	require.NoError(t, err)
	require.Len(t, trace, 2)
	assert.Equal(t, 1, trace[0].Iteration)
	assert.Equal(t, 2, trace[1].Iteration)
	assert.InDelta(t, 4.5, trace[1].Best, 1e-12, "re-recorded iteration keeps the newer value")
}

func TestOpenRecoversInterruptedRuns(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "fits.db")

	s, err := Open(path)
	require.NoError(t, err)
	id, err := s.CreateRun("m", "d.refl", "de")
	require.NoError(t, err)
	done, err := s.CreateRun("m2", "d2.refl", "lm")
	require.NoError(t, err)
	require.NoError(t, s.FinishRun(done, StatusComplete, 2.2, ""))
	require.NoError(t, s.Close())

	// A fresh open stands in for the restart after a crash.
	s2, err := Open(path)
	require.NoError(t, err)
	defer s2.Close()

	run, err := s2.GetRun(id)
	require.NoError(t, err)
	assert.Equal(t, StatusInterrupted, run.Status)
	assert.NotNil(t, run.FinishedAt)

	finished, err := s2.GetRun(done)
	require.NoError(t, err)
	assert.Equal(t, StatusComplete, finished.Status, "finished runs are untouched")
}

func TestOpenIsIdempotent(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fits.db")
	s, err := Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
	s, err = Open(path)
	require.NoError(t, err)
	require.NoError(t, s.Close())
}
