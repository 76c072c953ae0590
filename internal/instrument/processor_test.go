package instrument

import (
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"
	"testing"

	"github.com/apex/log"
	"github.com/apex/log/handlers/memory"
	"github.com/blacktop/ilcov/internal/fixture"
	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/emu"
	"github.com/blacktop/ilcov/pkg/emu/hooks/system"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/sync/errgroup"
)

const home = "/opt/ilcov"

var sampleCounters = [][]int{{5, 4, 6, 5, 0, 0, 32, 0}, {}, {0}}

func setup(t *testing.T, opts *fixture.Options) (afero.Fs, string) {
	t.Helper()
	fs := afero.NewMemMapFs()
	require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
	m, err := fixture.Sample(opts)
	require.NoError(t, err)
	path, err := fixture.Write(fs, "/app", m)
	require.NoError(t, err)
	return fs, path
}

func newSession(t *testing.T, fs afero.Fs, conf *Config) (*Session, *memory.Handler) {
	t.Helper()
	h := memory.New()
	s, err := NewSession(fs, conf, &log.Logger{Handler: h, Level: log.DebugLevel})
	require.NoError(t, err)
	return s, h
}

// call is one invocation of a Sample.Calc method.
type call struct {
	method string
	index  int
	args   []emu.Value
	hits   []int32
}

var calls = []call{
	{"Classify", fixture.Classify, []emu.Value{-5}, []int32{1, 1, 0, 0, 0}},
	{"Classify", fixture.Classify, []emu.Value{0}, []int32{1, 0, 1, 0, 0}},
	{"Classify", fixture.Classify, []emu.Value{1}, []int32{1, 0, 0, 1, 0}},
	{"Classify", fixture.Classify, []emu.Value{4}, []int32{1, 0, 0, 0, 1}},
	{"Divide", fixture.Divide, []emu.Value{9, 3}, []int32{1, 0, 1, 1}},
	{"Divide", fixture.Divide, []emu.Value{9, 0}, []int32{1, 1, 1, 1}},
	{"Sum", fixture.Sum, []emu.Value{0}, []int32{1, 1, 0, 0, 1, 1}},
	{"Sum", fixture.Sum, []emu.Value{3}, []int32{1, 1, 3, 3, 4, 1}},
	{"Guarded", fixture.Guarded, []emu.Value{0}, []int32{1, 0, 1, 0, 1}},
	{"Guarded", fixture.Guarded, []emu.Value{1}, []int32{1, 1, 0, 1, 1}},
	{"Long", fixture.Long, []emu.Value{0}, longHits(1)},
	{"Long", fixture.Long, []emu.Value{7}, longHits(0)},
}

// throws escape their method: the overflow is not caught by Divide's handler but its
// finally still runs.
var throws = []call{
	{"Divide", fixture.Divide, []emu.Value{math.MinInt32, -1}, []int32{1, 0, 1, 0}},
}

func longHits(body int32) []int32 {
	hits := make([]int32, 32)
	for i := range hits {
		hits[i] = body
	}
	hits[0], hits[31] = 1, 1
	return hits
}

func emulate(t *testing.T, m *il.Module) *emu.Emulation {
	t.Helper()
	e := emu.NewEmulation(&emu.Config{Output: &strings.Builder{}})
	system.Register(e)
	require.NoError(t, e.Load(m))
	return e
}

func TestProcessSample(t *testing.T) {
	fs, path := setup(t, nil)
	s, _ := newSession(t, fs, &Config{Home: home})

	res, err := s.Process(path)
	require.NoError(t, err)
	assert.False(t, res.Skipped)
	assert.Equal(t, path, res.Output)
	assert.Equal(t, support.NetStandard20, res.Target)
	assert.Equal(t, 5, res.Methods)
	assert.Equal(t, 52, res.Points)
	assert.Equal(t, sampleCounters, res.Counters)
	assert.Equal(t, "/app/"+support.FileName, res.Support)

	out, err := il.Open(fs, res.Output)
	require.NoError(t, err)
	assert.True(t, out.HasAttribute(support.CoveredAssemblyAttribute))
	assert.NotNil(t, out.AssemblyRef(support.AssemblyName))
	mc := out.Type(support.TargetNamespace + "." + support.ModuleCoverageType)
	require.NotNil(t, mc)
	assert.NotZero(t, mc.Attributes&il.TypeSealed)
	assert.Equal(t, "[Ilcov.Support]Ilcov.Coverage.Metadata.ModuleCoverageMetadata", mc.BaseType.String())

	for _, name := range []string{"/app/" + support.FileName, "/app/" + support.SymbolsName} {
		ok, err := afero.Exists(fs, name)
		require.NoError(t, err)
		assert.True(t, ok, name)
	}
	entries, err := afero.ReadDir(fs, "/app")
	require.NoError(t, err)
	for _, fi := range entries {
		assert.NotContains(t, fi.Name(), tempSuffix)
		assert.NotContains(t, fi.Name(), ".orig")
	}
}

func TestInstrumentedBehavior(t *testing.T) {
	fs, path := setup(t, nil)
	original, err := il.Open(fs, path)
	require.NoError(t, err)

	s, _ := newSession(t, fs, &Config{Home: home})
	_, err = s.Process(path)
	require.NoError(t, err)
	instrumented, err := il.Open(fs, path)
	require.NoError(t, err)

	want := emulate(t, original)
	got := emulate(t, instrumented)
	r := emu.NewReporter(got)
	want.SetStatic(fixture.CalcType, "Seed", 40)
	got.SetStatic(fixture.CalcType, "Seed", 40)

	for _, started := range []bool{false, true} {
		if started {
			r.Start()
		}
		for _, c := range calls {
			name := fmt.Sprintf("%s%v/started=%t", c.method, c.args, started)
			w, werr := want.Call(fixture.CalcType+"::"+c.method, c.args...)
			g, gerr := got.Call(fixture.CalcType+"::"+c.method, c.args...)
			require.NoError(t, werr, name)
			require.NoError(t, gerr, name)
			assert.Equal(t, w, g, name)
		}
		for _, c := range throws {
			name := fmt.Sprintf("%s%v/started=%t", c.method, c.args, started)
			_, werr := want.Call(fixture.CalcType+"::"+c.method, c.args...)
			_, gerr := got.Call(fixture.CalcType+"::"+c.method, c.args...)
			var wexc, gexc *emu.Exception
			require.ErrorAs(t, werr, &wexc, name)
			require.ErrorAs(t, gerr, &gexc, name)
			assert.Equal(t, "System.OverflowException", wexc.Type(), name)
			assert.Equal(t, wexc.Type(), gexc.Type(), name)
			assert.Equal(t, wexc.Error(), gexc.Error(), name)
			assert.Equal(t, want.Static(fixture.CalcType, "Seed"), got.Static(fixture.CalcType, "Seed"), name)
		}
		r.Stop()
	}
	assert.Equal(t, want.Static(fixture.CalcType, "Seed"), got.Static(fixture.CalcType, "Seed"))

	_, err = got.Call(fixture.CalcType + "::Greet")
	require.NoError(t, err)
	_, err = got.Call(fixture.CalcType+"::Classify", 200)
	require.NoError(t, err)
}

func TestCountersHitOncePerExecution(t *testing.T) {
	fs, path := setup(t, nil)
	s, _ := newSession(t, fs, &Config{Home: home})
	_, err := s.Process(path)
	require.NoError(t, err)
	m, err := il.Open(fs, path)
	require.NoError(t, err)

	e := emulate(t, m)
	r := emu.NewReporter(e)

	_, err = e.Call(fixture.CalcType+"::Sum", 2)
	require.NoError(t, err)
	assert.Nil(t, r.Scope(m), "no scope is created while stopped")

	r.Start()
	for _, c := range calls {
		name := fmt.Sprintf("%s%v", c.method, c.args)
		_, err := e.Call(fixture.CalcType+"::"+c.method, c.args...)
		require.NoError(t, err, name)
		scope := r.Scope(m)
		require.NotNil(t, scope, name)
		assert.Equal(t, c.hits, scope.Hits(0, c.index), name)
		scope.Reset()
	}
	for _, c := range throws {
		name := fmt.Sprintf("%s%v", c.method, c.args)
		_, err := e.Call(fixture.CalcType+"::"+c.method, c.args...)
		var exc *emu.Exception
		require.ErrorAs(t, err, &exc, name)
		assert.Equal(t, c.hits, r.Scope(m).Hits(0, c.index), name)
		r.Scope(m).Reset()
	}

	scope := r.Scope(m)
	require.Len(t, scope.Lengths, len(sampleCounters))
	for ti, methods := range sampleCounters {
		require.Len(t, scope.Lengths[ti], len(methods))
		for mi, n := range methods {
			assert.EqualValues(t, n, scope.Lengths[ti][mi], "lengths[%d][%d]", ti, mi)
			assert.Len(t, scope.Hits(ti, mi), n)
		}
	}
	assert.Len(t, r.Scopes(), 1)

	r.Stop()
	_, err = e.Call(fixture.CalcType+"::Sum", 3)
	require.NoError(t, err)
	assert.Equal(t, make([]int32, 6), scope.Hits(0, fixture.Sum), "stopped calls take the original path")
}

func TestProcessTwice(t *testing.T) {
	fs, path := setup(t, nil)
	s, _ := newSession(t, fs, &Config{Home: home})
	_, err := s.Process(path)
	require.NoError(t, err)
	first, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	res, err := s.Process(path)
	require.NoError(t, err)
	assert.True(t, res.Skipped)
	assert.Equal(t, "already have coverage information", res.Reason)

	second, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, first, second)
}

func TestLongBranchesWidened(t *testing.T) {
	fs, path := setup(t, nil)
	s, _ := newSession(t, fs, &Config{Home: home})
	_, err := s.Process(path)
	require.NoError(t, err)
	m, err := il.Open(fs, path)
	require.NoError(t, err)

	body := m.Type(fixture.CalcType).Methods[fixture.Long].Body
	counts := map[il.OpCode]int{}
	for _, id := range body.Order() {
		counts[body.Instr(id).OpCode]++
	}
	assert.Equal(t, 1, counts[il.BrtrueS], "the original keeps its short branch")
	assert.Equal(t, 2, counts[il.Brtrue], "guard and widened clone")
}

func TestProcessSkips(t *testing.T) {
	tests := []struct {
		name   string
		conf   Config
		mutate func(m *il.Module)
		reason string
	}{
		{
			name:   "SkipList",
			mutate: func(m *il.Module) { m.Name = "xunit.core.dll" },
			reason: "ignored assembly",
		},
		{
			name:   "ModuleGlob",
			conf:   Config{SkipModules: []string{"Sample*"}},
			reason: "matches module skip glob",
		},
		{
			name: "AvoidCoverage",
			mutate: func(m *il.Module) {
				m.CustomAttributes = append(m.CustomAttributes, fixture.AvoidCoverage())
			},
			reason: "ignored",
		},
		{
			name:   "NothingToInstrument",
			conf:   Config{SkipMethods: []string{"Sample.Calc::*"}},
			reason: "nothing to instrument",
		},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			fs := afero.NewMemMapFs()
			require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
			m, err := fixture.Sample(nil)
			require.NoError(t, err)
			if tt.mutate != nil {
				tt.mutate(m)
			}
			path, err := fixture.Write(fs, "/app", m)
			require.NoError(t, err)
			before, err := afero.ReadFile(fs, path)
			require.NoError(t, err)

			conf := tt.conf
			conf.Home = home
			s, _ := newSession(t, fs, &conf)
			res, err := s.Process(path)
			require.NoError(t, err)
			assert.True(t, res.Skipped)
			assert.Equal(t, tt.reason, res.Reason)

			after, err := afero.ReadFile(fs, path)
			require.NoError(t, err)
			assert.Equal(t, before, after)
			ok, _ := afero.Exists(fs, "/app/"+support.FileName)
			assert.False(t, ok, "the support library is only copied for rewritten modules")
		})
	}
}

func TestSkipListIgnoresMissingSymbols(t *testing.T) {
	fs := afero.NewMemMapFs()
	m, err := fixture.Sample(nil)
	require.NoError(t, err)
	m.Name = "xunit.assert.dll"
	path, err := fixture.Write(fs, "/app", m)
	require.NoError(t, err)
	require.NoError(t, fs.Remove(il.SymbolsPath(path)))

	s, _ := newSession(t, fs, &Config{Home: home})
	p, err := s.NewProcessor(path)
	require.NoError(t, err)
	assert.Nil(t, p.Module())
	res, err := p.Process()
	require.NoError(t, err)
	assert.True(t, res.Skipped)
}

func TestSkipMethodGlob(t *testing.T) {
	fs, path := setup(t, nil)
	s, _ := newSession(t, fs, &Config{Home: home, SkipMethods: []string{"*::Long"}})
	res, err := s.Process(path)
	require.NoError(t, err)
	assert.Equal(t, 4, res.Methods)
	assert.Equal(t, 20, res.Points)
	assert.Zero(t, res.Counters[0][fixture.Long])
}

func TestMissingDebugInfo(t *testing.T) {
	t.Run("Absent", func(t *testing.T) {
		fs, path := setup(t, nil)
		require.NoError(t, fs.Remove(il.SymbolsPath(path)))
		s, _ := newSession(t, fs, &Config{Home: home})
		_, err := s.Process(path)
		var mde *MissingDebugInfoError
		require.ErrorAs(t, err, &mde)
		assert.Equal(t, "/app/Sample.pdb", mde.Path)
	})
	t.Run("Mismatched", func(t *testing.T) {
		fs, path := setup(t, nil)
		other, err := fixture.Sample(nil)
		require.NoError(t, err)
		img, err := il.Encode(other, nil)
		require.NoError(t, err)
		require.NoError(t, afero.WriteFile(fs, il.SymbolsPath(path), img.Symbols, 0o644))

		s, _ := newSession(t, fs, &Config{Home: home})
		_, err = s.Process(path)
		var mde *MissingDebugInfoError
		require.ErrorAs(t, err, &mde)
		assert.ErrorIs(t, err, il.ErrSymbolsMismatch)
	})
	t.Run("NoModule", func(t *testing.T) {
		s, _ := newSession(t, afero.NewMemMapFs(), &Config{Home: home})
		_, err := s.Process("/app/Missing.dll")
		assert.ErrorIs(t, err, os.ErrNotExist)
	})
}

func TestSupportResolution(t *testing.T) {
	t.Run("SearchDirectory", func(t *testing.T) {
		fs, path := setup(t, nil)
		s, _ := newSession(t, fs, &Config{SearchDirs: []string{filepath.Join(home, "net6.0")}})
		res, err := s.Process(path)
		require.NoError(t, err)
		assert.Equal(t, 5, res.Methods)
		ok, _ := afero.Exists(fs, "/app/"+support.FileName)
		assert.False(t, ok, "nothing is copied without a home directory")
	})
	t.Run("Unresolved", func(t *testing.T) {
		fs, path := setup(t, nil)
		s, _ := newSession(t, fs, &Config{})
		_, err := s.Process(path)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Contains(t, re.Reference, support.AssemblyName)
	})
	t.Run("MissingVariant", func(t *testing.T) {
		fs, path := setup(t, nil)
		s, _ := newSession(t, fs, &Config{Home: "/elsewhere"})
		_, err := s.Process(path)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.Equal(t, support.Path("/elsewhere", support.NetStandard20), re.Reference)
	})
	t.Run("ContractMismatch", func(t *testing.T) {
		fs, path := setup(t, nil)
		bad := il.NewModule(support.FileName, il.AssemblyName{Name: support.AssemblyName, Version: "1.0.0.0"}, fixture.SampleCore())
		_, err := fixture.Write(fs, filepath.Join("/bad", support.NetStandard20.String()), bad)
		require.NoError(t, err)

		s, _ := newSession(t, fs, &Config{Home: "/bad"})
		_, err = s.Process(path)
		var re *ResolutionError
		require.ErrorAs(t, err, &re)
		assert.ErrorIs(t, err, support.ErrContract)
	})
}

func TestOutputDirectory(t *testing.T) {
	fs, path := setup(t, nil)
	before, err := afero.ReadFile(fs, path)
	require.NoError(t, err)

	s, _ := newSession(t, fs, &Config{Home: home, Output: "/out"})
	res, err := s.Process(path)
	require.NoError(t, err)
	assert.Equal(t, "/out/Sample.dll", res.Output)
	assert.Equal(t, "/out/"+support.FileName, res.Support)

	after, err := afero.ReadFile(fs, path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the input is left untouched")

	for _, name := range []string{"/out/Sample.dll", "/out/Sample.pdb", "/out/" + support.FileName, "/out/" + support.SymbolsName} {
		ok, _ := afero.Exists(fs, name)
		assert.True(t, ok, name)
	}
	m, err := il.Open(fs, res.Output)
	require.NoError(t, err)
	assert.True(t, m.HasAttribute(support.CoveredAssemblyAttribute))
}

func TestILLibraryFixup(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
	m, err := fixture.Sample(nil)
	require.NoError(t, err)
	m.Attributes = il.ILLibrary
	m.Architecture = il.AMD64
	path, err := fixture.Write(fs, "/app", m)
	require.NoError(t, err)

	s, _ := newSession(t, fs, &Config{Home: home})
	_, err = s.Process(path)
	require.NoError(t, err)

	out, err := il.Open(fs, path)
	require.NoError(t, err)
	assert.Equal(t, il.I386, out.Architecture)
	assert.Zero(t, out.Attributes&il.ILLibrary)
	assert.NotZero(t, out.Attributes&il.ILOnly)
}

func TestProcessConcurrently(t *testing.T) {
	fs := afero.NewMemMapFs()
	require.NoError(t, fixture.Home(fs, home, fixture.SupportVersion))
	var paths []string
	for i := 0; i < 4; i++ {
		m, err := fixture.Sample(nil)
		require.NoError(t, err)
		m.Name = fmt.Sprintf("Sample%d.dll", i)
		path, err := fixture.Write(fs, "/app", m)
		require.NoError(t, err)
		paths = append(paths, path)
	}

	s, _ := newSession(t, fs, &Config{Home: home})
	var g errgroup.Group
	results := make([]*Result, len(paths))
	for i, path := range paths {
		g.Go(func() error {
			res, err := s.Process(path)
			results[i] = res
			return err
		})
	}
	require.NoError(t, g.Wait())
	for _, res := range results {
		assert.Equal(t, 52, res.Points)
	}
	ok, _ := afero.Exists(fs, "/app/"+support.FileName)
	assert.True(t, ok)
}

// renameFs fails renames onto paths with the given extension.
type renameFs struct {
	afero.Fs
	ext string
}

var errRename = errors.New("rename refused")

func (fs renameFs) Rename(oldname, newname string) error {
	if filepath.Ext(newname) == fs.ext {
		return errRename
	}
	return fs.Fs.Rename(oldname, newname)
}

func TestWriteRollsBack(t *testing.T) {
	base, path := setup(t, nil)
	before, err := afero.ReadFile(base, path)
	require.NoError(t, err)
	beforeSym, err := afero.ReadFile(base, il.SymbolsPath(path))
	require.NoError(t, err)

	s, h := newSession(t, renameFs{Fs: base, ext: ".pdb"}, &Config{Home: home})
	_, err = s.Process(path)
	require.ErrorIs(t, err, errRename)

	after, err := afero.ReadFile(base, path)
	require.NoError(t, err)
	assert.Equal(t, before, after, "the previous module is restored")
	afterSym, err := afero.ReadFile(base, il.SymbolsPath(path))
	require.NoError(t, err)
	assert.Equal(t, beforeSym, afterSym)

	entries, err := afero.ReadDir(base, "/app")
	require.NoError(t, err)
	for _, fi := range entries {
		assert.NotContains(t, fi.Name(), tempSuffix)
		assert.NotContains(t, fi.Name(), ".orig")
	}

	var warned bool
	for _, e := range h.Entries {
		if e.Message == "support library not copied" {
			warned = true
		}
	}
	assert.True(t, warned, "support symbols copy failure is only logged")
}
