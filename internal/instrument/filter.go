package instrument

import (
	"path/filepath"
	"slices"

	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/gobwas/glob"
	"github.com/pkg/errors"
)

// test and runtime infrastructure that is never instrumented
var skipList = []string{
	"NUnit3.TestAdapter.dll",
	"xunit.abstractions.dll",
	"xunit.assert.dll",
	"xunit.core.dll",
	"xunit.execution.dotnet.dll",
	"xunit.runner.reporters.netcoreapp10.dll",
	"xunit.runner.utility.netcoreapp10.dll",
	"xunit.runner.visualstudio.dotnetcore.testadapter.dll",
	"Xunit.SkippableFact.dll",
}

// Filter decides which modules and methods are rewritten.
type Filter struct {
	modules []glob.Glob
	methods []glob.Glob
}

// NewFilter compiles the module file name and method name skip globs. Method globs match
// `Namespace.Type::Method`.
func NewFilter(skipModules, skipMethods []string) (*Filter, error) {
	f := &Filter{}
	for _, p := range skipModules {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid module skip glob %q", p)
		}
		f.modules = append(f.modules, g)
	}
	for _, p := range skipMethods {
		g, err := glob.Compile(p)
		if err != nil {
			return nil, errors.Wrapf(err, "invalid method skip glob %q", p)
		}
		f.methods = append(f.methods, g)
	}
	return f, nil
}

// SkipFile reports whether the module file at path is excluded by name.
func (f *Filter) SkipFile(path string) (string, bool) {
	name := filepath.Base(path)
	if name == support.FileName {
		return "support library", true
	}
	if slices.Contains(skipList, name) {
		return "ignored assembly", true
	}
	for _, g := range f.modules {
		if g.Match(name) {
			return "matches module skip glob", true
		}
	}
	return "", false
}

// SkipModule reports whether a loaded module opted out or was already processed.
func (f *Filter) SkipModule(m *il.Module) (string, bool) {
	for _, a := range m.CustomAttributes {
		switch a.TypeName() {
		case support.AvoidCoverageAttribute:
			return "ignored", true
		case support.CoveredAssemblyAttribute:
			return "already have coverage information", true
		}
	}
	return "", false
}

// Eligible reports whether md is rewritten. Ineligible methods keep a zero length counter slot.
func (f *Filter) Eligible(t *il.TypeDef, md *il.MethodDef) (string, bool) {
	switch {
	case !md.HasBody():
		return "no body", false
	case md.Debug.Visible() == 0:
		return "no sequence points", false
	case t.HasAttribute(support.AvoidCoverageAttribute):
		return "type opted out", false
	case md.HasAttribute(support.AvoidCoverageAttribute):
		return "method opted out", false
	}
	name := t.FullName() + "::" + md.Name
	for _, g := range f.methods {
		if g.Match(name) {
			return "matches method skip glob", false
		}
	}
	return "", true
}
