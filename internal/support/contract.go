package support

import (
	"errors"
	"fmt"

	"github.com/blacktop/ilcov/pkg/il"
)

var ErrContract = errors.New("support library contract mismatch")

// Contract holds the support library members that instrumented code references.
type Contract struct {
	Assembly *il.AssemblyRef
	Reporter *il.TypeRef
	Metadata *il.TypeRef
	Covered  *il.TypeRef
}

func mismatch(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrContract, fmt.Sprintf(format, args...))
}

// Resolve checks that m exposes the reporter, metadata and marker shapes and returns
// references to them.
func Resolve(m *il.Module) (*Contract, error) {
	if m.Assembly.Name != AssemblyName {
		return nil, mismatch("assembly is %q", m.Assembly.Name)
	}

	name := CoverageNamespace + "." + ReporterType
	reporter := m.Type(name)
	if reporter == nil {
		return nil, mismatch("missing type %s", name)
	}
	if reporter.GenericParams != 1 {
		return nil, mismatch("%s has %d generic parameters", name, reporter.GenericParams)
	}
	scope := reporter.Method(TryGetScopeMethod)
	if scope == nil {
		return nil, mismatch("missing method %s::%s", name, TryGetScopeMethod)
	}
	if err := checkScope(scope); err != nil {
		return nil, err
	}

	name = MetadataNamespace + "." + MetadataType
	metadata := m.Type(name)
	if metadata == nil {
		return nil, mismatch("missing type %s", name)
	}
	f := metadata.Field(MetadataField)
	if f == nil || f.Static || f.Type.FullName() != "System.Int32[][]" {
		return nil, mismatch("%s must declare instance field %s of type System.Int32[][]", name, MetadataField)
	}

	covered := m.Type(CoveredAssemblyAttribute)
	if covered == nil {
		return nil, mismatch("missing type %s", CoveredAssemblyAttribute)
	}
	if ctor := covered.Method(".ctor"); ctor == nil || ctor.IsStatic() || len(ctor.Params) != 0 {
		return nil, mismatch("%s must declare a parameterless constructor", CoveredAssemblyAttribute)
	}

	asm := m.Assembly.Ref()
	return &Contract{
		Assembly: asm,
		Reporter: il.NewTypeRef(asm.Name, reporter.Namespace, reporter.Name),
		Metadata: il.NewTypeRef(asm.Name, metadata.Namespace, metadata.Name),
		Covered:  il.NewTypeRef(asm.Name, covered.Namespace, covered.Name),
	}, nil
}

func checkScope(md *il.MethodDef) error {
	sig := md.FullName()
	if !md.IsStatic() {
		return mismatch("%s must be static", sig)
	}
	if md.Return.FullName() != "System.Boolean" {
		return mismatch("%s must return System.Boolean", sig)
	}
	want := []string{"System.Int32", "System.Int32", "System.Int32[]&"}
	if len(md.Params) != len(want) {
		return mismatch("%s must take (int32, int32, out int32[])", sig)
	}
	for i, p := range md.Params {
		if p.Type.FullName() != want[i] {
			return mismatch("%s parameter %d is %s, expected %s", sig, i, p.Type.FullName(), want[i])
		}
	}
	if !md.Params[2].Out {
		return mismatch("%s scope parameter must be out", sig)
	}
	return nil
}

// Guard returns the scope lookup method on the reporter closed over moduleCoverage.
func (c *Contract) Guard(ts il.TypeSystem, moduleCoverage *il.TypeRef) *il.MethodRef {
	return &il.MethodRef{
		DeclaringType: il.GenericInstance(c.Reporter, moduleCoverage),
		Name:          TryGetScopeMethod,
		Return:        ts.Boolean(),
		Params:        scopeParams(ts),
	}
}

// MetadataFieldRef returns the counter length table field.
func (c *Contract) MetadataFieldRef(ts il.TypeSystem) *il.FieldRef {
	return &il.FieldRef{
		DeclaringType: c.Metadata,
		Name:          MetadataField,
		Type:          il.ArrayOf(il.ArrayOf(ts.Int32())),
	}
}

// CoveredMarker returns a new processed marker attribute.
func (c *Contract) CoveredMarker(ts il.TypeSystem) *il.CustomAttribute {
	return &il.CustomAttribute{
		Constructor: &il.MethodRef{DeclaringType: c.Covered, Name: ".ctor", HasThis: true, Return: ts.Void()},
	}
}
