package instrument

import (
	"testing"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/internal/fixture"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestEligible(t *testing.T) {
	m, err := fixture.Sample(nil)
	require.NoError(t, err)
	f, err := NewFilter(nil, []string{"Sample.Calc::G*"})
	require.NoError(t, err)

	calc := m.Type(fixture.CalcType)
	tests := []struct {
		md     *il.MethodDef
		t      *il.TypeDef
		ok     bool
		reason string
	}{
		{md: calc.Methods[fixture.Classify], t: calc, ok: true},
		{md: calc.Methods[fixture.Divide], t: calc, ok: true},
		{md: calc.Methods[fixture.Guarded], t: calc, reason: "matches method skip glob"},
		{md: calc.Methods[fixture.Greet], t: calc, reason: "no sequence points"},
		{md: calc.Methods[fixture.Native], t: calc, reason: "no body"},
		{md: calc.Methods[fixture.Opted], t: calc, reason: "method opted out"},
		{md: m.Type("Sample.Ignored").Methods[0], t: m.Type("Sample.Ignored"), reason: "type opted out"},
	}
	for _, tt := range tests {
		t.Run(tt.md.Name, func(t *testing.T) {
			reason, ok := f.Eligible(tt.t, tt.md)
			assert.Equal(t, tt.ok, ok)
			assert.Equal(t, tt.reason, reason)
		})
	}
}

func TestSkipFile(t *testing.T) {
	f, err := NewFilter([]string{"*.Tests.dll"}, nil)
	require.NoError(t, err)
	tests := []struct {
		path   string
		reason string
	}{
		{"/app/xunit.core.dll", "ignored assembly"},
		{"/app/NUnit3.TestAdapter.dll", "ignored assembly"},
		{"/app/App.Tests.dll", "matches module skip glob"},
		{"/app/Ilcov.Support.dll", "support library"},
		{"/app/App.dll", ""},
	}
	for _, tt := range tests {
		reason, skip := f.SkipFile(tt.path)
		assert.Equal(t, tt.reason != "", skip, tt.path)
		assert.Equal(t, tt.reason, reason, tt.path)
	}
}

func TestNewFilterInvalidGlob(t *testing.T) {
	_, err := NewFilter([]string{"[unterminated"}, nil)
	assert.Error(t, err)
}

func TestResolveTarget(t *testing.T) {
	netstandard16 := &il.AssemblyRef{Name: "netstandard", Version: "1.6.0.0"}
	tests := []struct {
		name      string
		framework string
		core      *il.AssemblyRef
		want      support.Target
	}{
		{name: "Framework", framework: ".NETFramework,Version=v4.7.2", want: support.Net461},
		{name: "Standard", framework: ".NETStandard,Version=v2.1", want: support.NetStandard20},
		{name: "Core21", framework: ".NETCoreApp,Version=v2.1", want: support.NetStandard20},
		{name: "Core30", framework: ".NETCoreApp,Version=v3.0", want: support.NetStandard20},
		{name: "Core31", framework: ".NETCoreApp,Version=v3.1", want: support.NetCoreApp31},
		{name: "Net50", framework: ".NETCoreApp,Version=v5.0", want: support.NetCoreApp31},
		{name: "Net60", framework: ".NETCoreApp,Version=v6.0", want: support.Net60},
		{name: "Net80", framework: ".NETCoreApp,Version=v8.0", want: support.Net60},
		{name: "Core11FallsThrough", framework: ".NETCoreApp,Version=v1.1", want: support.NetStandard20},
		{name: "Unknown", framework: "Silverlight,Version=v5.0", core: support.CoreLibrary(support.Net461), want: support.Net461},
		{name: "RuntimeCore", want: support.NetStandard20},
		{name: "NetStandardCore", core: support.CoreLibrary(support.NetStandard20), want: support.NetStandard20},
		{name: "OldNetStandardCore", core: netstandard16, want: support.Net461},
		{name: "Mscorlib", core: support.CoreLibrary(support.Net461), want: support.Net461},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			m, err := fixture.Sample(&fixture.Options{Framework: tt.framework, Core: tt.core})
			require.NoError(t, err)
			assert.Equal(t, tt.want, ResolveTarget(m, log.Log))
		})
	}
}
