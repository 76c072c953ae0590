package cmd

import (
	"fmt"
	"path/filepath"
	"testing"

	"github.com/blacktop/ilcov/internal/fixture"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func execute(t *testing.T, args ...string) error {
	t.Helper()
	t.Setenv("HOME", t.TempDir())
	rootCmd.SetArgs(args)
	return rootCmd.Execute()
}

func TestInstrumentCommand(t *testing.T) {
	fs := afero.NewOsFs()
	root := t.TempDir()
	home := filepath.Join(root, "home")
	app := filepath.Join(root, "app")

	require.NoError(t, execute(t, "support", "gen", "--home", home, "--version", fixture.SupportVersion))
	for _, tgt := range support.Targets {
		ok, err := afero.Exists(fs, support.Path(home, tgt))
		require.NoError(t, err)
		assert.True(t, ok, tgt.String())
	}
	require.NoError(t, execute(t, "support", "ls", "--home", home))

	var paths []string
	for i := 0; i < 3; i++ {
		m, err := fixture.Sample(nil)
		require.NoError(t, err)
		m.Name = fmt.Sprintf("Sample%d.dll", i)
		path, err := fixture.Write(fs, app, m)
		require.NoError(t, err)
		paths = append(paths, path)
	}

	require.NoError(t, execute(t, "instrument", "--home", home, "-j", "2", app))
	for _, path := range paths {
		m, err := il.Open(fs, path)
		require.NoError(t, err)
		assert.True(t, m.HasAttribute(support.CoveredAssemblyAttribute), path)
	}
	ok, err := afero.Exists(fs, filepath.Join(app, support.FileName))
	require.NoError(t, err)
	assert.True(t, ok)

	require.NoError(t, execute(t, "info", paths[0], "--il", "--points"))
	require.NoError(t, execute(t, "run", paths[0], "Sample.Calc::Sum", "3", "--coverage"))
}

func TestInstrumentCommandNoModules(t *testing.T) {
	root := t.TempDir()
	home := filepath.Join(root, "home")
	require.NoError(t, execute(t, "support", "gen", "--home", home))
	assert.ErrorContains(t, execute(t, "instrument", "--home", home, t.TempDir()), "no modules found")
}
