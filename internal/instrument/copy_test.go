package instrument

import (
	"path/filepath"
	"testing"

	"github.com/blacktop/ilcov/internal/fixture"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func writeSupport(t *testing.T, fs afero.Fs, dir, version string) {
	t.Helper()
	m, err := support.Build(support.NetStandard20, version)
	require.NoError(t, err)
	_, err = fixture.Write(fs, dir, m)
	require.NoError(t, err)
}

func supportVersion(t *testing.T, fs afero.Fs, path string) string {
	t.Helper()
	data, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	m, err := il.Decode(data, nil)
	require.NoError(t, err)
	return m.Assembly.Version
}

func TestCopyIfNewer(t *testing.T) {
	src := support.Path(home, support.NetStandard20)
	dst := filepath.Join("/app", support.FileName)

	tests := []struct {
		name    string
		prepare func(t *testing.T, fs afero.Fs)
		copied  bool
		version string
	}{
		{
			name:    "Absent",
			prepare: func(*testing.T, afero.Fs) {},
			copied:  true,
			version: fixture.SupportVersion,
		},
		{
			name:    "Older",
			prepare: func(t *testing.T, fs afero.Fs) { writeSupport(t, fs, "/app", "1.0.0.0") },
			copied:  true,
			version: fixture.SupportVersion,
		},
		{
			name:    "Same",
			prepare: func(t *testing.T, fs afero.Fs) { writeSupport(t, fs, "/app", fixture.SupportVersion) },
			version: fixture.SupportVersion,
		},
		{
			name:    "Newer",
			prepare: func(t *testing.T, fs afero.Fs) { writeSupport(t, fs, "/app", "9.0.0.0") },
			version: "9.0.0.0",
		},
		{
			name: "Unreadable",
			prepare: func(t *testing.T, fs afero.Fs) {
				require.NoError(t, afero.WriteFile(fs, dst, []byte("garbage"), 0o644))
			},
			copied:  true,
			version: fixture.SupportVersion,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
			require.NoError(t, fs.MkdirAll("/app", 0o755))
			tt.prepare(t, fs)
			s, _ := newSession(t, fs, &Config{Home: home})

			copied, err := s.copyIfNewer(src, dst)
			require.NoError(t, err)
			assert.Equal(t, tt.copied, copied)
			assert.Equal(t, tt.version, supportVersion(t, fs, dst))
			if tt.copied {
				want, err := afero.ReadFile(fs, il.SymbolsPath(src))
				require.NoError(t, err)
				got, err := afero.ReadFile(fs, il.SymbolsPath(dst))
				require.NoError(t, err)
				assert.Equal(t, want, got)
			}
		})
	}
}

func TestCopyIfNewerMissingSource(t *testing.T) {
	s, _ := newSession(t, afero.NewMemMapFs(), &Config{Home: home})
	_, err := s.copyIfNewer("/nowhere/"+support.FileName, "/app/"+support.FileName)
	assert.Error(t, err)
}

func TestProcessKeepsNewerSupport(t *testing.T) {
	fs, path := setup(t, nil)
	writeSupport(t, fs, "/app", "9.0.0.0")

	s, _ := newSession(t, fs, &Config{Home: home})
	res, err := s.Process(path)
	require.NoError(t, err)
	assert.Equal(t, "/app/"+support.FileName, res.Support)
	assert.Equal(t, "9.0.0.0", supportVersion(t, fs, res.Support))
}

func TestProcessCopyFailureIsNotFatal(t *testing.T) {
	base, path := setup(t, nil)
	s, h := newSession(t, renameFs{Fs: base, ext: ".dll"}, &Config{Home: home, Output: "/out"})
	_, err := s.Process(path)
	require.Error(t, err, "the module itself cannot be renamed into place either")

	var warned bool
	for _, e := range h.Entries {
		if e.Message == "support library not copied" {
			warned = true
		}
	}
	assert.True(t, warned)
}

func TestWriteFileAtomic(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fs.MkdirAll("/a", 0o755))
	require.NoError(t, writeFileAtomic(fs, "/a/b.dll", []byte("one")))
	require.NoError(t, writeFileAtomic(fs, "/a/b.dll", []byte("two")))
	data, err := afero.ReadFile(fs, "/a/b.dll")
	require.NoError(t, err)
	assert.Equal(t, "two", string(data))
	ok, _ := afero.Exists(fs, "/a/b.dll"+tempSuffix)
	assert.False(t, ok)

	assert.Error(t, writeFileAtomic(renameFs{Fs: fs, ext: ".dll"}, "/a/c.dll", []byte("three")))
	ok, _ = afero.Exists(fs, "/a/c.dll"+tempSuffix)
	assert.False(t, ok)
}
