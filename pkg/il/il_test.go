package il

import (
	"testing"

	"github.com/stretchr/testify/require"
)

func sampleModule(t *testing.T) *Module {
	t.Helper()

	m := NewModule("Sample.dll", AssemblyName{Name: "Sample", Version: "1.0.0.0"},
		&AssemblyRef{Name: "System.Runtime", Version: "6.0.0.0", PublicKeyToken: []byte{0xb0, 0x3f, 0x5f, 0x7f, 0x11, 0xd5, 0x0a, 0x3a}})
	ts := m.TypeSystem()
	m.CustomAttributes = append(m.CustomAttributes, &CustomAttribute{
		Constructor: &MethodRef{
			DeclaringType: NewTypeRef("System.Runtime", "System.Runtime.Versioning", "TargetFrameworkAttribute"),
			Name:          ".ctor",
			HasThis:       true,
			Return:        ts.Void(),
			Params:        []Param{{Name: "frameworkName", Type: ts.StringType()}},
		},
		Args: []any{".NETCoreApp,Version=v6.0"},
	})

	calc := m.AddType(&TypeDef{Namespace: "Sample", Name: "Calc", Attributes: TypePublic, BaseType: ts.Object()})
	calc.Fields = append(calc.Fields, &FieldDef{Name: "Seed", Type: ts.Int32(), Static: true})

	bl := NewBuilder()
	p := []InstrID{}
	bl.Label("start")
	p = append(p, bl.Emit(Ldarg0))
	bl.Emit(LdcI40)
	bl.Branch(BgeS, "pos")
	p = append(p, bl.Emit(LdcI4M1))
	bl.Emit(Ret)
	bl.Label("pos")
	p = append(p, bl.Emit(Ldarg0))
	bl.Switch("c0", "c1")
	bl.Branch(BrS, "try")
	bl.Label("c0")
	p = append(p, bl.Emit(LdcI4S, int32(10)))
	bl.Emit(Ret)
	bl.Label("c1")
	p = append(p, bl.Emit(LdcI4S, int32(11)))
	bl.Emit(Ret)
	bl.Label("try")
	p = append(p, bl.Emit(LdcI4S, int32(100)))
	bl.Emit(Ldarg0)
	bl.Emit(Div)
	bl.Emit(Stloc0)
	bl.Branch(LeaveS, "end")
	bl.Label("catch")
	p = append(p, bl.Emit(Pop))
	bl.Emit(Ldsfld, &FieldRef{DeclaringType: calc.Ref(), Name: "Seed", Type: ts.Int32()})
	bl.Emit(Stloc0)
	bl.Branch(LeaveS, "end")
	bl.Label("end")
	p = append(p, bl.Emit(Ldloc0))
	bl.Emit(Ret)
	bl.Region(HandlerCatch, "try", "catch", "catch", "end", "", ts.Exception())
	body, err := bl.Body()
	require.NoError(t, err)
	body.Locals = []*TypeRef{ts.Int32()}

	dbg := &DebugInfo{}
	for i, id := range p {
		dbg.SequencePoints = append(dbg.SequencePoints, &SequencePoint{
			Instr: id, Document: "/src/Calc.cs", StartLine: 10 + i, StartColumn: 9, EndLine: 10 + i, EndColumn: 30,
		})
	}
	dbg.SequencePoints[1].StartLine = HiddenLine
	calc.AddMethod(&MethodDef{
		Name:       "Classify",
		Attributes: MethodPublic | MethodStatic,
		Return:     ts.Int32(),
		Params:     []Param{{Name: "x", Type: ts.Int32()}},
		Body:       body,
		Debug:      dbg,
	})

	bl = NewBuilder()
	bl.Emit(Ldstr, "hello")
	bl.Emit(Call, &MethodRef{
		DeclaringType: NewTypeRef("System.Console", "System", "Console"),
		Name:          "WriteLine",
		Return:        ts.Void(),
		Params:        []Param{{Name: "value", Type: ts.StringType()}},
	})
	bl.Emit(Ret)
	greet, err := bl.Body()
	require.NoError(t, err)
	calc.AddMethod(&MethodDef{Name: "Greet", Attributes: MethodPublic | MethodStatic, Return: ts.Void(), Body: greet})
	calc.AddMethod(&MethodDef{Name: "Native", Attributes: MethodPublic | MethodStatic | MethodPinvokeImpl, Return: ts.Void()})

	m.AddType(&TypeDef{Namespace: "Sample", Name: "Empty", BaseType: ts.Object()})
	return m
}

func texts(b *Body) []string {
	var out []string
	for _, l := range b.Disassemble() {
		out = append(out, l.String())
	}
	return out
}
