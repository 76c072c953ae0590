// Package support describes the runtime support library that instrumented modules link against.
package support

import (
	"fmt"
	"path/filepath"
)

const (
	AssemblyName = "Ilcov.Support"
	FileName     = AssemblyName + ".dll"
	SymbolsName  = AssemblyName + ".pdb"

	CoverageNamespace   = "Ilcov.Coverage"
	MetadataNamespace   = CoverageNamespace + ".Metadata"
	AttributesNamespace = CoverageNamespace + ".Attributes"
	TargetNamespace     = MetadataNamespace + ".Target"

	ReporterType       = "CoverageReporter`1"
	MetadataType       = "ModuleCoverageMetadata"
	MetadataField      = "Metadata"
	ModuleCoverageType = "ModuleCoverage"
	TryGetScopeMethod  = "TryGetScope"

	CoveredAssemblyAttribute = AttributesNamespace + ".CoveredAssemblyAttribute"
	AvoidCoverageAttribute   = AttributesNamespace + ".AvoidCoverageAttribute"
)

// Target is a support library variant.
type Target string

const (
	Net461        Target = "net461"
	NetStandard20 Target = "netstandard2.0"
	NetCoreApp31  Target = "netcoreapp3.1"
	Net60         Target = "net6.0"
)

// Targets lists every variant, oldest first.
var Targets = []Target{Net461, NetStandard20, NetCoreApp31, Net60}

func (t Target) String() string { return string(t) }

// Valid reports whether t is a known variant.
func (t Target) Valid() bool {
	for _, v := range Targets {
		if v == t {
			return true
		}
	}
	return false
}

// ParseTarget parses a variant folder name.
func ParseTarget(s string) (Target, error) {
	if t := Target(s); t.Valid() {
		return t, nil
	}
	return "", fmt.Errorf("unknown support target %q (expected one of %v)", s, Targets)
}

// Path returns the support library path of a variant below home.
func Path(home string, t Target) string {
	return filepath.Join(home, string(t), FileName)
}

// SymbolsPath returns the support symbols path of a variant below home.
func SymbolsPath(home string, t Target) string {
	return filepath.Join(home, string(t), SymbolsName)
}
