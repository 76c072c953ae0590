// Package fixture builds small modules with debug line maps for tests and demos.
package fixture

import (
	"path/filepath"

	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
	"github.com/spf13/afero"
)

const (
	SampleName = "Sample"
	SampleFile = SampleName + ".dll"
	Document   = "/src/Sample/Calc.cs"
	CalcType   = "Sample.Calc"
	// SupportVersion is the support library version Home writes.
	SupportVersion = "1.2.0.0"
)

// Method indices of Sample.Calc.
const (
	Classify = iota
	Divide
	Sum
	Guarded
	Greet
	Native
	Long
	Opted
)

// Options tweak the sample module.
type Options struct {
	// Framework is the TargetFrameworkAttribute value, none when empty.
	Framework string
	Core      *il.AssemblyRef
	PublicKey []byte
	// InternalsVisibleTo adds an InternalsVisibleToAttribute.
	InternalsVisibleTo bool
	// LongPoints is the number of statements Calc.Long branches over.
	LongPoints int
}

type method struct {
	bl     *il.Builder
	points []il.InstrID
	line   int
}

func newMethod(line int) *method { return &method{bl: il.NewBuilder(), line: line} }

// stmt marks the next emitted instruction as the start of a statement.
func (m *method) stmt(op il.OpCode, operand ...any) il.InstrID {
	id := m.bl.Emit(op, operand...)
	m.points = append(m.points, id)
	return id
}

func (m *method) build(locals ...*il.TypeRef) (*il.Body, *il.DebugInfo, error) {
	body, err := m.bl.Body()
	if err != nil {
		return nil, nil, err
	}
	body.Locals = locals
	dbg := &il.DebugInfo{}
	for i, id := range m.points {
		line := m.line + i
		dbg.SequencePoints = append(dbg.SequencePoints, &il.SequencePoint{
			Instr: id, Document: Document, StartLine: line, StartColumn: 9, EndLine: line, EndColumn: 40,
		})
	}
	return body, dbg, nil
}

// Sample builds Sample.dll. Sample.Calc holds methods in the order of the method index
// constants; Sample.Empty has no methods and Sample.Ignored opts out of coverage.
func Sample(opts *Options) (*il.Module, error) {
	if opts == nil {
		opts = &Options{}
	}
	core := opts.Core
	if core == nil {
		core = SampleCore()
	}
	m := il.NewModule(SampleFile, il.AssemblyName{Name: SampleName, Version: "1.0.0.0", PublicKey: opts.PublicKey}, core)
	ts := m.TypeSystem()
	if opts.Framework != "" {
		m.CustomAttributes = append(m.CustomAttributes, support.TargetFrameworkAttribute(core, opts.Framework))
	}
	if opts.InternalsVisibleTo {
		m.CustomAttributes = append(m.CustomAttributes, &il.CustomAttribute{
			Constructor: &il.MethodRef{
				DeclaringType: il.NewTypeRef(core.Name, "System.Runtime.CompilerServices", "InternalsVisibleToAttribute"),
				Name:          ".ctor",
				HasThis:       true,
				Return:        ts.Void(),
				Params:        []il.Param{{Name: "assemblyName", Type: ts.StringType()}},
			},
			Args: []any{"Sample.Tests"},
		})
	}

	calc := m.AddType(&il.TypeDef{Namespace: "Sample", Name: "Calc", Attributes: il.TypePublic, BaseType: ts.Object()})
	calc.Fields = append(calc.Fields, &il.FieldDef{Name: "Seed", Type: ts.Int32(), Static: true})
	seed := &il.FieldRef{DeclaringType: calc.Ref(), Name: "Seed", Type: ts.Int32()}

	builders := []func(*il.TypeDef, il.TypeSystem, *il.FieldRef) (*il.MethodDef, error){
		classify, divide, sum, guarded, greet, native,
		func(*il.TypeDef, il.TypeSystem, *il.FieldRef) (*il.MethodDef, error) {
			n := opts.LongPoints
			if n == 0 {
				n = 30
			}
			return long(ts, n)
		},
		opted,
	}
	for _, b := range builders {
		md, err := b(calc, ts, seed)
		if err != nil {
			return nil, err
		}
		calc.AddMethod(md)
	}

	m.AddType(&il.TypeDef{Namespace: "Sample", Name: "Empty", BaseType: ts.Object()})

	ignored := m.AddType(&il.TypeDef{Namespace: "Sample", Name: "Ignored", BaseType: ts.Object()})
	ignored.CustomAttributes = append(ignored.CustomAttributes, AvoidCoverage())
	md := newMethod(200)
	md.stmt(il.LdcI42)
	md.bl.Emit(il.Ret)
	body, dbg, err := md.build()
	if err != nil {
		return nil, err
	}
	ignored.AddMethod(&il.MethodDef{Name: "Run", Attributes: il.MethodPublic | il.MethodStatic, Return: ts.Int32(), Body: body, Debug: dbg})
	return m, nil
}

// SampleCore is the core library Sample references by default.
func SampleCore() *il.AssemblyRef { return support.CoreLibrary(support.Net60) }

// AvoidCoverage returns the opt out attribute.
func AvoidCoverage() *il.CustomAttribute {
	return &il.CustomAttribute{
		Constructor: &il.MethodRef{
			DeclaringType: il.NewTypeRef(support.AssemblyName, support.AttributesNamespace, "AvoidCoverageAttribute"),
			Name:          ".ctor",
			HasThis:       true,
			Return:        il.NewTypeRef("", "System", "Void"),
		},
	}
}

func static(name string, ret *il.TypeRef, params []il.Param, body *il.Body, dbg *il.DebugInfo) *il.MethodDef {
	return &il.MethodDef{
		Name:       name,
		Attributes: il.MethodPublic | il.MethodStatic | il.MethodHideBySig,
		Return:     ret,
		Params:     params,
		Body:       body,
		Debug:      dbg,
	}
}

// Classify(x): x < 0 ? -1 : x switch { 0 => 10, 1 => 11, _ => 100 / x }
func classify(_ *il.TypeDef, ts il.TypeSystem, _ *il.FieldRef) (*il.MethodDef, error) {
	m := newMethod(10)
	bl := m.bl
	m.stmt(il.Ldarg0)
	bl.Emit(il.LdcI40)
	bl.Branch(il.BgeS, "pos")
	m.stmt(il.LdcI4M1)
	bl.Emit(il.Ret)
	bl.Label("pos")
	m.stmt(il.Ldarg0)
	bl.Switch("c0", "c1")
	bl.Branch(il.BrS, "other")
	bl.Label("c0")
	m.stmt(il.LdcI4S, int32(10))
	bl.Emit(il.Ret)
	bl.Label("c1")
	m.stmt(il.LdcI4S, int32(11))
	bl.Emit(il.Ret)
	bl.Label("other")
	m.stmt(il.LdcI4S, int32(100))
	bl.Emit(il.Ldarg0)
	bl.Emit(il.Div)
	bl.Emit(il.Ret)
	body, dbg, err := m.build()
	if err != nil {
		return nil, err
	}
	// the switch dispatch carries no source mapping
	dbg.SequencePoints[2].StartLine = il.HiddenLine
	return static("Classify", ts.Int32(), []il.Param{{Name: "x", Type: ts.Int32()}}, body, dbg), nil
}

// Divide(a, b): try { r = a / b } catch (DivideByZeroException) { r = Seed } finally { Seed++ } return r
func divide(_ *il.TypeDef, ts il.TypeSystem, seed *il.FieldRef) (*il.MethodDef, error) {
	m := newMethod(30)
	bl := m.bl
	bl.Label("try")
	m.stmt(il.Ldarg0)
	bl.Emit(il.Ldarg1)
	bl.Emit(il.Div)
	bl.Emit(il.Stloc0)
	bl.Branch(il.LeaveS, "end")
	bl.Label("catch")
	m.stmt(il.Pop)
	bl.Emit(il.Ldsfld, seed)
	bl.Emit(il.Stloc0)
	bl.Branch(il.LeaveS, "end")
	bl.Label("finally")
	m.stmt(il.Ldsfld, seed)
	bl.Emit(il.LdcI41)
	bl.Emit(il.Add)
	bl.Emit(il.Stsfld, seed)
	bl.Emit(il.Endfinally)
	bl.Label("end")
	m.stmt(il.Ldloc0)
	bl.Emit(il.Ret)
	bl.Region(il.HandlerCatch, "try", "catch", "catch", "finally", "", il.NewTypeRef(ts.Int32().Scope, "System", "DivideByZeroException"))
	bl.Region(il.HandlerFinally, "try", "finally", "finally", "end", "", nil)
	body, dbg, err := m.build(ts.Int32())
	if err != nil {
		return nil, err
	}
	return static("Divide", ts.Int32(), []il.Param{{Name: "a", Type: ts.Int32()}, {Name: "b", Type: ts.Int32()}}, body, dbg), nil
}

// Sum(n): s = 0; for (i = 0; i < n; i++) s += i; return s
func sum(_ *il.TypeDef, ts il.TypeSystem, _ *il.FieldRef) (*il.MethodDef, error) {
	m := newMethod(50)
	bl := m.bl
	m.stmt(il.LdcI40)
	bl.Emit(il.Stloc0)
	m.stmt(il.LdcI40)
	bl.Emit(il.Stloc1)
	bl.Branch(il.BrS, "cond")
	bl.Label("body")
	m.stmt(il.Ldloc0)
	bl.Emit(il.Ldloc1)
	bl.Emit(il.Add)
	bl.Emit(il.Stloc0)
	m.stmt(il.Ldloc1)
	bl.Emit(il.LdcI41)
	bl.Emit(il.Add)
	bl.Emit(il.Stloc1)
	bl.Label("cond")
	m.stmt(il.Ldloc1)
	bl.Emit(il.Ldarg0)
	bl.Branch(il.BltS, "body")
	m.stmt(il.Ldloc0)
	bl.Emit(il.Ret)
	body, dbg, err := m.build(ts.Int32(), ts.Int32())
	if err != nil {
		return nil, err
	}
	return static("Sum", ts.Int32(), []il.Param{{Name: "n", Type: ts.Int32()}}, body, dbg), nil
}

// Guarded(x): try { if (x > 0) throw new InvalidOperationException("boom"); r = 0 }
// catch when (e is InvalidOperationException) { r = 1 } return r
func guarded(_ *il.TypeDef, ts il.TypeSystem, _ *il.FieldRef) (*il.MethodDef, error) {
	invalid := il.NewTypeRef(ts.Int32().Scope, "System", "InvalidOperationException")
	m := newMethod(70)
	bl := m.bl
	bl.Label("try")
	m.stmt(il.Ldarg0)
	bl.Emit(il.LdcI40)
	bl.Branch(il.BleS, "ok")
	m.stmt(il.Ldstr, "boom")
	bl.Emit(il.Newobj, &il.MethodRef{
		DeclaringType: invalid,
		Name:          ".ctor",
		HasThis:       true,
		Return:        ts.Void(),
		Params:        []il.Param{{Name: "message", Type: ts.StringType()}},
	})
	bl.Emit(il.Throw)
	bl.Label("ok")
	m.stmt(il.LdcI40)
	bl.Emit(il.Stloc0)
	bl.Branch(il.LeaveS, "end")
	bl.Label("filter")
	bl.Emit(il.Isinst, invalid)
	bl.Emit(il.Ldnull)
	bl.Emit(il.CgtUn)
	bl.Emit(il.Endfilter)
	bl.Label("handler")
	m.stmt(il.Pop)
	bl.Emit(il.LdcI41)
	bl.Emit(il.Stloc0)
	bl.Branch(il.LeaveS, "end")
	bl.Label("end")
	m.stmt(il.Ldloc0)
	bl.Emit(il.Ret)
	bl.Region(il.HandlerFilter, "try", "filter", "handler", "end", "filter", nil)
	body, dbg, err := m.build(ts.Int32())
	if err != nil {
		return nil, err
	}
	return static("Guarded", ts.Int32(), []il.Param{{Name: "x", Type: ts.Int32()}}, body, dbg), nil
}

// Greet has a body but no debug line map.
func greet(_ *il.TypeDef, ts il.TypeSystem, _ *il.FieldRef) (*il.MethodDef, error) {
	bl := il.NewBuilder()
	bl.Emit(il.Ldstr, "hello")
	bl.Emit(il.Call, &il.MethodRef{
		DeclaringType: il.NewTypeRef(ts.Int32().Scope, "System", "Console"),
		Name:          "WriteLine",
		Return:        ts.Void(),
		Params:        []il.Param{{Name: "value", Type: ts.StringType()}},
	})
	bl.Emit(il.Ret)
	body, err := bl.Body()
	if err != nil {
		return nil, err
	}
	return static("Greet", ts.Void(), nil, body, nil), nil
}

func native(_ *il.TypeDef, ts il.TypeSystem, _ *il.FieldRef) (*il.MethodDef, error) {
	md := static("Native", ts.Void(), nil, nil, nil)
	md.Attributes |= il.MethodPinvokeImpl
	return md, nil
}

// Long(x): if (x == 0) { n statements } return x, with the if compiled to a short branch.
func long(ts il.TypeSystem, n int) (*il.MethodDef, error) {
	m := newMethod(100)
	bl := m.bl
	m.stmt(il.Ldarg0)
	bl.Branch(il.BrtrueS, "done")
	for i := 0; i < n; i++ {
		m.stmt(il.Ldloc0)
		bl.Emit(il.LdcI41)
		bl.Emit(il.Add)
		bl.Emit(il.Stloc0)
	}
	bl.Label("done")
	m.stmt(il.Ldarg0)
	bl.Emit(il.Ldloc0)
	bl.Emit(il.Add)
	bl.Emit(il.Ret)
	body, dbg, err := m.build(ts.Int32())
	if err != nil {
		return nil, err
	}
	return static("Long", ts.Int32(), []il.Param{{Name: "x", Type: ts.Int32()}}, body, dbg), nil
}

func opted(_ *il.TypeDef, ts il.TypeSystem, _ *il.FieldRef) (*il.MethodDef, error) {
	m := newMethod(150)
	m.stmt(il.LdcI47)
	m.bl.Emit(il.Ret)
	body, dbg, err := m.build()
	if err != nil {
		return nil, err
	}
	md := static("Opted", ts.Int32(), nil, body, dbg)
	md.CustomAttributes = append(md.CustomAttributes, AvoidCoverage())
	return md, nil
}

// Write encodes m into dir with its symbols and returns the module path.
func Write(fs afero.Fs, dir string, m *il.Module) (string, error) {
	img, err := il.Encode(m, nil)
	if err != nil {
		return "", err
	}
	if err := fs.MkdirAll(dir, 0o755); err != nil {
		return "", err
	}
	path := filepath.Join(dir, m.Name)
	if err := afero.WriteFile(fs, path, img.Module, 0o644); err != nil {
		return "", err
	}
	if err := afero.WriteFile(fs, il.SymbolsPath(path), img.Symbols, 0o644); err != nil {
		return "", err
	}
	return path, nil
}

// Home writes every support library variant of the given version below home.
func Home(fs afero.Fs, home, version string) error {
	return support.Install(fs, home, version)
}
