package support

import (
	"encoding/hex"

	"github.com/blacktop/ilcov/pkg/il"
)

type variant struct {
	core      string
	version   string
	token     string
	framework string
}

var variants = map[Target]variant{
	Net461:        {core: "mscorlib", version: "4.0.0.0", token: "b77a5c561934e089", framework: ".NETFramework,Version=v4.6.1"},
	NetStandard20: {core: "netstandard", version: "2.0.0.0", token: "cc7b13ffcd2ddd51", framework: ".NETStandard,Version=v2.0"},
	NetCoreApp31:  {core: "System.Runtime", version: "4.2.2.0", token: "b03f5f7f11d50a3a", framework: ".NETCoreApp,Version=v3.1"},
	Net60:         {core: "System.Runtime", version: "6.0.0.0", token: "b03f5f7f11d50a3a", framework: ".NETCoreApp,Version=v6.0"},
}

// CoreLibrary returns the core library reference a variant is compiled against.
func CoreLibrary(t Target) *il.AssemblyRef {
	v, ok := variants[t]
	if !ok {
		v = variants[Net461]
	}
	token, _ := hex.DecodeString(v.token)
	return &il.AssemblyRef{Name: v.core, Version: v.version, PublicKeyToken: token}
}

// TargetFrameworkAttribute builds the framework attribute a compiler stamps on a module.
func TargetFrameworkAttribute(core *il.AssemblyRef, framework string) *il.CustomAttribute {
	ts := il.NewTypeSystem(core)
	return &il.CustomAttribute{
		Constructor: &il.MethodRef{
			DeclaringType: il.NewTypeRef(core.Name, "System.Runtime.Versioning", "TargetFrameworkAttribute"),
			Name:          ".ctor",
			HasThis:       true,
			Return:        ts.Void(),
			Params:        []il.Param{{Name: "frameworkName", Type: ts.StringType()}},
		},
		Args: []any{framework},
	}
}

// Build generates the support library variant t with the given assembly version.
func Build(t Target, version string) (*il.Module, error) {
	if _, err := ParseTarget(string(t)); err != nil {
		return nil, err
	}
	core := CoreLibrary(t)
	m := il.NewModule(FileName, il.AssemblyName{Name: AssemblyName, Version: version}, core)
	ts := m.TypeSystem()
	m.CustomAttributes = append(m.CustomAttributes, TargetFrameworkAttribute(core, variants[t].framework))

	reporter := m.AddType(&il.TypeDef{
		Namespace:     CoverageNamespace,
		Name:          ReporterType,
		Attributes:    il.TypePublic | il.TypeAbstract | il.TypeSealed,
		BaseType:      ts.Object(),
		GenericParams: 1,
	})
	bl := il.NewBuilder()
	bl.Emit(il.Ldarg2)
	bl.Emit(il.Ldnull)
	bl.Emit(il.StindRef)
	bl.Emit(il.LdcI40)
	bl.Emit(il.Ret)
	body, err := bl.Body()
	if err != nil {
		return nil, err
	}
	reporter.AddMethod(&il.MethodDef{
		Name:       TryGetScopeMethod,
		Attributes: il.MethodPublic | il.MethodStatic | il.MethodHideBySig,
		Return:     ts.Boolean(),
		Params:     scopeParams(ts),
		Body:       body,
	})

	metadata := m.AddType(&il.TypeDef{
		Namespace:  MetadataNamespace,
		Name:       MetadataType,
		Attributes: il.TypePublic | il.TypeAbstract,
		BaseType:   ts.Object(),
		Fields:     []*il.FieldDef{{Name: MetadataField, Type: il.ArrayOf(il.ArrayOf(ts.Int32()))}},
	})
	if err := addCtor(metadata, ts.Object(), il.MethodFamily, ts); err != nil {
		return nil, err
	}

	attribute := il.NewTypeRef(core.Name, "System", "Attribute")
	for _, name := range []string{CoveredAssemblyAttribute, AvoidCoverageAttribute} {
		attr := m.AddType(&il.TypeDef{
			Namespace:  AttributesNamespace,
			Name:       name[len(AttributesNamespace)+1:],
			Attributes: il.TypePublic | il.TypeSealed,
			BaseType:   attribute,
		})
		if err := addCtor(attr, attribute, il.MethodPublic, ts); err != nil {
			return nil, err
		}
	}
	return m, nil
}

func scopeParams(ts il.TypeSystem) []il.Param {
	return []il.Param{
		{Name: "typeIndex", Type: ts.Int32()},
		{Name: "methodIndex", Type: ts.Int32()},
		{Name: "scope", Type: il.ByRef(il.ArrayOf(ts.Int32())), Out: true},
	}
}

func addCtor(t *il.TypeDef, base *il.TypeRef, access il.MethodAttributes, ts il.TypeSystem) error {
	bl := il.NewBuilder()
	bl.Emit(il.Ldarg0)
	bl.Emit(il.Call, &il.MethodRef{DeclaringType: base, Name: ".ctor", HasThis: true, Return: ts.Void()})
	bl.Emit(il.Ret)
	body, err := bl.Body()
	if err != nil {
		return err
	}
	t.AddMethod(&il.MethodDef{
		Name:       ".ctor",
		Attributes: access | il.MethodHideBySig | il.MethodSpecialName | il.MethodRTSpecialName,
		Return:     ts.Void(),
		Body:       body,
	})
	return nil
}
