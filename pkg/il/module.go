// Package il reads, edits and writes IL modules and their debug line maps.
package il

import (
	"github.com/google/uuid"
)

// ModuleAttributes are the CLI header flags of a module.
type ModuleAttributes uint32

const (
	ILOnly           ModuleAttributes = 0x00001
	Required32Bit    ModuleAttributes = 0x00002
	ILLibrary        ModuleAttributes = 0x00004
	StrongNameSigned ModuleAttributes = 0x00008
	Preferred32Bit   ModuleAttributes = 0x20000
)

// Architecture is the machine type of a module image.
type Architecture uint16

const (
	I386  Architecture = 0x014c
	AMD64 Architecture = 0x8664
	ARM64 Architecture = 0xaa64
)

func (a Architecture) String() string {
	switch a {
	case I386:
		return "i386"
	case AMD64:
		return "amd64"
	case ARM64:
		return "arm64"
	}
	return "unknown"
}

// TypeAttributes are type definition flags.
type TypeAttributes uint32

const (
	TypeNotPublic TypeAttributes = 0x0000
	TypePublic    TypeAttributes = 0x0001
	TypeInterface TypeAttributes = 0x0020
	TypeAbstract  TypeAttributes = 0x0080
	TypeSealed    TypeAttributes = 0x0100
)

// MethodAttributes are method definition flags.
type MethodAttributes uint16

const (
	MethodPrivate       MethodAttributes = 0x0001
	MethodFamily        MethodAttributes = 0x0004
	MethodPublic        MethodAttributes = 0x0006
	MethodStatic        MethodAttributes = 0x0010
	MethodVirtual       MethodAttributes = 0x0040
	MethodHideBySig     MethodAttributes = 0x0080
	MethodAbstract      MethodAttributes = 0x0400
	MethodSpecialName   MethodAttributes = 0x0800
	MethodPinvokeImpl   MethodAttributes = 0x2000
	MethodRTSpecialName MethodAttributes = 0x1000
)

// CustomAttribute is an attribute instance: its constructor and fixed arguments
// (string, int32 or bool).
type CustomAttribute struct {
	Constructor *MethodRef
	Args        []any
}

// TypeName returns the full name of the attribute type.
func (c *CustomAttribute) TypeName() string {
	return c.Constructor.DeclaringType.FullName()
}

// FieldDef is a field definition.
type FieldDef struct {
	Name   string
	Type   *TypeRef
	Static bool
}

// TypeDef is a type definition. Its position in Module.Types is its type index.
type TypeDef struct {
	Namespace        string
	Name             string
	Attributes       TypeAttributes
	BaseType         *TypeRef
	GenericParams    int
	Fields           []*FieldDef
	Methods          []*MethodDef
	CustomAttributes []*CustomAttribute
}

func (t *TypeDef) FullName() string {
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

// Ref returns a reference to this type from inside its own module.
func (t *TypeDef) Ref() *TypeRef {
	return NewTypeRef("", t.Namespace, t.Name)
}

// AddMethod appends m and makes t its declaring type.
func (t *TypeDef) AddMethod(m *MethodDef) *MethodDef {
	m.declaring = t
	t.Methods = append(t.Methods, m)
	return m
}

// Method returns the first method named name.
func (t *TypeDef) Method(name string) *MethodDef {
	for _, m := range t.Methods {
		if m.Name == name {
			return m
		}
	}
	return nil
}

// Field returns the field named name.
func (t *TypeDef) Field(name string) *FieldDef {
	for _, f := range t.Fields {
		if f.Name == name {
			return f
		}
	}
	return nil
}

// MethodDef is a method definition with an optional body and debug line map.
type MethodDef struct {
	Name             string
	Attributes       MethodAttributes
	Return           *TypeRef
	Params           []Param
	Body             *Body
	Debug            *DebugInfo
	CustomAttributes []*CustomAttribute

	declaring *TypeDef
}

func (m *MethodDef) HasBody() bool { return m.Body != nil }

func (m *MethodDef) IsStatic() bool { return m.Attributes&MethodStatic != 0 }

// DeclaringType returns the type that owns m.
func (m *MethodDef) DeclaringType() *TypeDef { return m.declaring }

// Ref returns a reference to m from inside its own module.
func (m *MethodDef) Ref() *MethodRef {
	var decl *TypeRef
	if m.declaring != nil {
		decl = m.declaring.Ref()
	} else {
		decl = NewTypeRef("", "", "<Module>")
	}
	return &MethodRef{
		DeclaringType: decl,
		Name:          m.Name,
		HasThis:       !m.IsStatic(),
		Return:        m.Return,
		Params:        m.Params,
	}
}

func (m *MethodDef) FullName() string {
	return m.Ref().FullName()
}

// HasAttribute reports whether m carries an attribute of the given type.
func (m *MethodDef) HasAttribute(fullName string) bool {
	return hasAttribute(m.CustomAttributes, fullName)
}

// HasAttribute reports whether t carries an attribute of the given type.
func (t *TypeDef) HasAttribute(fullName string) bool {
	return hasAttribute(t.CustomAttributes, fullName)
}

func hasAttribute(attrs []*CustomAttribute, fullName string) bool {
	for _, a := range attrs {
		if a.TypeName() == fullName {
			return true
		}
	}
	return false
}

// Module is one compiled unit.
type Module struct {
	Name             string // file name, e.g. App.dll
	MVID             uuid.UUID
	Assembly         AssemblyName
	Attributes       ModuleAttributes
	Architecture     Architecture
	CoreLibrary      *AssemblyRef
	AssemblyRefs     []*AssemblyRef
	CustomAttributes []*CustomAttribute
	Types            []*TypeDef
	Signature        []byte
}

// NewModule creates an empty IL only module referencing core as its core library.
func NewModule(name string, asm AssemblyName, core *AssemblyRef) *Module {
	return &Module{
		Name:         name,
		MVID:         uuid.New(),
		Assembly:     asm,
		Attributes:   ILOnly,
		Architecture: I386,
		CoreLibrary:  core,
		AssemblyRefs: []*AssemblyRef{core},
	}
}

// TypeSystem returns references to the core library's well-known types.
func (m *Module) TypeSystem() TypeSystem {
	return NewTypeSystem(m.CoreLibrary)
}

// AddType appends t. Types must not be reordered once indices are handed out.
func (m *Module) AddType(t *TypeDef) *TypeDef {
	for _, md := range t.Methods {
		md.declaring = t
	}
	m.Types = append(m.Types, t)
	return t
}

// Type returns the type definition with the given full name.
func (m *Module) Type(fullName string) *TypeDef {
	for _, t := range m.Types {
		if t.FullName() == fullName {
			return t
		}
	}
	return nil
}

// HasAttribute reports whether the module carries an attribute of the given type.
func (m *Module) HasAttribute(fullName string) bool {
	return hasAttribute(m.CustomAttributes, fullName)
}

// AssemblyRef returns the reference to the named assembly, if any.
func (m *Module) AssemblyRef(name string) *AssemblyRef {
	for _, r := range m.AssemblyRefs {
		if r.Name == name {
			return r
		}
	}
	return nil
}

// ImportAssembly adds ref to the assembly references unless one with the same name exists.
func (m *Module) ImportAssembly(ref *AssemblyRef) *AssemblyRef {
	if existing := m.AssemblyRef(ref.Name); existing != nil {
		return existing
	}
	m.AssemblyRefs = append(m.AssemblyRefs, ref)
	return ref
}

// Signed reports whether the assembly has a strong name.
func (m *Module) Signed() bool {
	return m.Assembly.HasPublicKey()
}
