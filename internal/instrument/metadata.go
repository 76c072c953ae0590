package instrument

import (
	"slices"

	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
)

// ModuleCoverageRef references the synthesized metadata type from inside its module.
func ModuleCoverageRef() *il.TypeRef {
	return il.NewTypeRef("", support.TargetNamespace, support.ModuleCoverageType)
}

// Synthesizer collects counter lengths per (type, method) and emits the metadata type whose
// constructor builds the counter length table.
type Synthesizer struct {
	contract *support.Contract
	lengths  [][]int
	written  [][]bool
}

// NewSynthesizer sizes the table from the current types of m. Types appended later are not
// indexed.
func NewSynthesizer(m *il.Module, c *support.Contract) *Synthesizer {
	s := &Synthesizer{contract: c}
	for _, t := range m.Types {
		s.lengths = append(s.lengths, make([]int, len(t.Methods)))
		s.written = append(s.written, make([]bool, len(t.Methods)))
	}
	return s
}

// Record stores the counter length of a rewritten method.
func (s *Synthesizer) Record(typeIndex, methodIndex, n int) {
	s.lengths[typeIndex][methodIndex] = n
	s.written[typeIndex][methodIndex] = true
}

// Lengths returns the counter length table.
func (s *Synthesizer) Lengths() [][]int { return s.lengths }

// Rewritten returns the number of recorded methods.
func (s *Synthesizer) Rewritten() int {
	n := 0
	for _, w := range s.written {
		for _, ok := range w {
			if ok {
				n++
			}
		}
	}
	return n
}

// Build appends the sealed metadata type to m.
func (s *Synthesizer) Build(m *il.Module) (*il.TypeDef, error) {
	ts := m.TypeSystem()
	field := s.contract.MetadataFieldRef(ts)
	i4 := ts.Int32()

	var empty *il.MethodRef
	bl := il.NewBuilder()
	bl.Emit(il.Ldarg0)
	bl.Emit(il.LdcI4, int32(len(s.lengths)))
	bl.Emit(il.Newarr, il.ArrayOf(i4))
	bl.Emit(il.Stfld, field)
	for ti, methods := range s.lengths {
		bl.Emit(il.Ldarg0)
		bl.Emit(il.Ldfld, field)
		bl.Emit(il.LdcI4, int32(ti))
		if len(methods) > 0 {
			bl.Emit(il.LdcI4, int32(len(methods)))
			bl.Emit(il.Newarr, i4)
		} else {
			if empty == nil {
				empty = importArrayEmpty(m)
			}
			bl.Emit(il.Call, empty)
		}
		bl.Emit(il.StelemRef)

		for mi, n := range methods {
			if !s.written[ti][mi] {
				continue
			}
			bl.Emit(il.Ldarg0)
			bl.Emit(il.Ldfld, field)
			bl.Emit(il.LdcI4, int32(ti))
			bl.Emit(il.LdelemRef)
			bl.Emit(il.LdcI4, int32(mi))
			bl.Emit(il.LdcI4, int32(n))
			bl.Emit(il.StelemI4)
		}
	}
	bl.Emit(il.Ret)
	body, err := bl.Body()
	if err != nil {
		return nil, err
	}
	body.MaxStack = 4

	m.ImportAssembly(s.contract.Assembly)
	t := &il.TypeDef{
		Namespace:  support.TargetNamespace,
		Name:       support.ModuleCoverageType,
		Attributes: il.TypeNotPublic | il.TypeSealed,
		BaseType:   s.contract.Metadata,
	}
	t.AddMethod(&il.MethodDef{
		Name:       ".ctor",
		Attributes: il.MethodPublic | il.MethodSpecialName | il.MethodHideBySig | il.MethodRTSpecialName,
		Return:     ts.Void(),
		Body:       body,
	})
	m.AddType(t)
	return t, nil
}

// importArrayEmpty references System.Array::Empty<int32>() in the core library without
// adding assembly references.
func importArrayEmpty(m *il.Module) *il.MethodRef {
	refs := slices.Clone(m.AssemblyRefs)
	ts := m.TypeSystem()
	ref := &il.MethodRef{
		DeclaringType: ts.Array(),
		Name:          "Empty",
		Return:        il.ArrayOf(ts.Int32()),
		GenericArgs:   []*il.TypeRef{ts.Int32()},
	}
	if m.CoreLibrary != nil {
		m.ImportAssembly(m.CoreLibrary)
	}
	if len(refs) != len(m.AssemblyRefs) {
		m.AssemblyRefs = refs
	}
	return ref
}
