package cover

import (
	"context"
	"fmt"
	"sync/atomic"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/discard"
	"github.com/blacktop/ilcov/internal/fixture"
	"github.com/blacktop/ilcov/internal/instrument"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/hashicorp/go-multierror"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const home = "/opt/ilcov"

func writeSamples(t *testing.T, fs afero.Fs, dir string, n int) []string {
	t.Helper()
	var paths []string
	for i := 0; i < n; i++ {
		m, err := fixture.Sample(nil)
		require.NoError(t, err)
		m.Name = fmt.Sprintf("Sample%d.dll", i)
		path, err := fixture.Write(fs, dir, m)
		require.NoError(t, err)
		paths = append(paths, path)
	}
	return paths
}

func newSession(t *testing.T, fs afero.Fs) *instrument.Session {
	t.Helper()
	s, err := instrument.NewSession(fs, &instrument.Config{Home: home}, &log.Logger{Handler: discard.New(), Level: log.DebugLevel})
	require.NoError(t, err)
	return s
}

func TestCollect(t *testing.T) {
	fs := afero.NewMemMapFs()
	paths := writeSamples(t, fs, "/app", 2)
	nested := writeSamples(t, fs, "/app/plugins", 1)
	require.NoError(t, afero.WriteFile(fs, "/app/native.dll", []byte("MZ\x90\x00"), 0o644))
	require.NoError(t, afero.WriteFile(fs, "/app/notes.txt", []byte("notes"), 0o644))

	got, err := Collect(fs, []string{"/app"})
	require.NoError(t, err)
	assert.ElementsMatch(t, append(paths, nested...), got)

	got, err = Collect(fs, []string{paths[0]})
	require.NoError(t, err)
	assert.Equal(t, paths[:1], got)

	_, err = Collect(fs, []string{"/missing"})
	assert.Error(t, err)
}

func TestRun(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
	paths := writeSamples(t, fs, "/app", 3)
	require.NoError(t, fs.Remove(il.SymbolsPath(paths[1])))

	var done atomic.Int32
	b, err := Run(context.Background(), newSession(t, fs), &Config{Parallel: 2, Progress: func() { done.Add(1) }}, paths)
	require.Error(t, err)
	var merr *multierror.Error
	require.ErrorAs(t, err, &merr)
	assert.Len(t, merr.Errors, 1)
	assert.ErrorContains(t, err, paths[1])
	assert.Equal(t, int32(3), done.Load())

	require.Len(t, b.Results, 3)
	assert.Nil(t, b.Results[1])
	assert.Equal(t, []Status{Done, Failed, Done}, b.Status)
	st := Summarize(b)
	assert.Equal(t, Stats{Modules: 2, Failed: 1, Methods: 10, Points: 104, Supports: []string{"/app/Ilcov.Support.dll"}}, st)

	// a second pass skips what was already instrumented
	b, err = Run(context.Background(), newSession(t, fs), &Config{Parallel: 1}, []string{paths[0], paths[2]})
	require.NoError(t, err)
	assert.Equal(t, 2, Summarize(b).Skipped)
}

func TestRunCanceled(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
	paths := writeSamples(t, fs, "/app", 2)

	ctx, cancel := context.WithCancel(context.Background())
	cancel()
	b, err := Run(ctx, newSession(t, fs), &Config{Parallel: 1}, paths)
	assert.ErrorIs(t, err, context.Canceled)
	assert.ErrorContains(t, err, "2 modules not processed")
	assert.Equal(t, []Status{NotStarted, NotStarted}, b.Status)
	assert.Equal(t, Stats{NotStarted: 2}, Summarize(b))
}

func TestSummarizeMixed(t *testing.T) {
	b := &Batch{
		Paths: []string{"/a.dll", "/b.dll", "/c.dll", "/d.dll"},
		Results: []*instrument.Result{
			{Path: "/a.dll", Methods: 2, Points: 7, Support: "/app/Ilcov.Support.dll"},
			nil,
			{Path: "/c.dll", Skipped: true, Reason: "ignored"},
			nil,
		},
		Status: []Status{Done, Failed, Done, NotStarted},
	}
	assert.Equal(t, Stats{
		Modules: 2, Skipped: 1, Failed: 1, NotStarted: 1, Methods: 2, Points: 7,
		Supports: []string{"/app/Ilcov.Support.dll"},
	}, Summarize(b))
	assert.Equal(t, "not started", NotStarted.String())
}
