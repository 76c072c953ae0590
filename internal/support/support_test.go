package support

import (
	"testing"

	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestBuildResolves(t *testing.T) {
	for _, target := range Targets {
		t.Run(target.String(), func(t *testing.T) {
			m, err := Build(target, "1.2.0.0")
			require.NoError(t, err)
			assert.Equal(t, CoreLibrary(target).Name, m.CoreLibrary.Name)

			img, err := il.Encode(m, nil)
			require.NoError(t, err)
			decoded, err := il.Decode(img.Module, img.Symbols)
			require.NoError(t, err)

			c, err := Resolve(decoded)
			require.NoError(t, err)
			assert.Equal(t, "[Ilcov.Support]Ilcov.Coverage.CoverageReporter`1", c.Reporter.String())
			assert.Equal(t, "1.2.0.0", c.Assembly.Version)

			ts := il.NewTypeSystem(CoreLibrary(target))
			guard := c.Guard(ts, il.NewTypeRef("", TargetNamespace, ModuleCoverageType))
			assert.Equal(t,
				"System.Boolean Ilcov.Coverage.CoverageReporter`1<Ilcov.Coverage.Metadata.Target.ModuleCoverage>::TryGetScope(System.Int32,System.Int32,System.Int32[]&)",
				guard.FullName())
		})
	}
}

func TestResolveMismatch(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(m *il.Module)
		want   string
	}{
		{
			name:   "MissingReporter",
			mutate: func(m *il.Module) { m.Types = m.Types[1:] },
			want:   "missing type Ilcov.Coverage.CoverageReporter`1",
		},
		{
			name: "InstanceScope",
			mutate: func(m *il.Module) {
				m.Types[0].Methods[0].Attributes &^= il.MethodStatic
			},
			want: "must be static",
		},
		{
			name: "ScopeNotOut",
			mutate: func(m *il.Module) {
				m.Types[0].Methods[0].Params[2].Out = false
			},
			want: "must be out",
		},
		{
			name: "MetadataFieldType",
			mutate: func(m *il.Module) {
				m.Type(MetadataNamespace + "." + MetadataType).Fields[0].Type = m.TypeSystem().Int32()
			},
			want: "System.Int32[][]",
		},
		{
			name:   "WrongAssembly",
			mutate: func(m *il.Module) { m.Assembly.Name = "Other" },
			want:   `assembly is "Other"`,
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := Build(Net60, "1.0.0.0")
			require.NoError(t, err)
			tt.mutate(m)
			_, err = Resolve(m)
			require.ErrorIs(t, err, ErrContract)
			assert.Contains(t, err.Error(), tt.want)
		})
	}
}

func TestParseTarget(t *testing.T) {
	got, err := ParseTarget("netcoreapp3.1")
	require.NoError(t, err)
	assert.Equal(t, NetCoreApp31, got)
	_, err = ParseTarget("net5.0")
	assert.Error(t, err)
	assert.Equal(t, "/home/net6.0/Ilcov.Support.dll", Path("/home", Net60))
	assert.Equal(t, "/home/net461/Ilcov.Support.pdb", SymbolsPath("/home", Net461))
}

func TestInstall(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, Install(fs, "/home", "2.0.0.0", Net60))

	found, err := Installed(fs, "/home")
	require.NoError(t, err)
	assert.Equal(t, map[Target]string{Net60: "2.0.0.0"}, found)

	m, err := il.Open(fs, Path("/home", Net60))
	require.NoError(t, err)
	_, err = Resolve(m)
	require.NoError(t, err)

	require.NoError(t, Install(fs, "/home", "2.1.0.0"))
	found, err = Installed(fs, "/home")
	require.NoError(t, err)
	assert.Len(t, found, len(Targets))
	assert.Equal(t, "2.1.0.0", found[Net461])

	require.NoError(t, afero.WriteFile(fs, Path("/home", NetCoreApp31), []byte("garbage"), 0o644))
	_, err = Installed(fs, "/home")
	assert.Error(t, err)
}
