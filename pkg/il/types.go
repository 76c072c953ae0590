package il

import (
	"encoding/hex"
	"fmt"
	"strings"

	"github.com/hashicorp/go-version"
)

// TypeKind distinguishes plain named types from constructed ones.
type TypeKind uint8

const (
	KindNamed TypeKind = iota
	KindArray
	KindByRef
	KindGenericInst
)

// TypeRef references a type defined in this module (empty Scope) or in another assembly.
type TypeRef struct {
	Kind      TypeKind
	Scope     string
	Namespace string
	Name      string
	Elem      *TypeRef   // array/byref element or generic definition
	Args      []*TypeRef // generic arguments
}

func NewTypeRef(scope, namespace, name string) *TypeRef {
	return &TypeRef{Kind: KindNamed, Scope: scope, Namespace: namespace, Name: name}
}

// ArrayOf returns the single dimension zero based array type of elem.
func ArrayOf(elem *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindArray, Elem: elem}
}

// ByRef returns the managed pointer type of elem.
func ByRef(elem *TypeRef) *TypeRef {
	return &TypeRef{Kind: KindByRef, Elem: elem}
}

// GenericInstance closes the generic type definition def over args.
func GenericInstance(def *TypeRef, args ...*TypeRef) *TypeRef {
	return &TypeRef{Kind: KindGenericInst, Elem: def, Args: args}
}

// AssemblyScope returns the assembly that defines the outermost named type.
func (t *TypeRef) AssemblyScope() string {
	if t.Kind != KindNamed && t.Elem != nil {
		return t.Elem.AssemblyScope()
	}
	return t.Scope
}

// FullName returns the namespace qualified name, e.g. System.Int32[].
func (t *TypeRef) FullName() string {
	if t == nil {
		return "<nil>"
	}
	switch t.Kind {
	case KindArray:
		return t.Elem.FullName() + "[]"
	case KindByRef:
		return t.Elem.FullName() + "&"
	case KindGenericInst:
		args := make([]string, 0, len(t.Args))
		for _, a := range t.Args {
			args = append(args, a.FullName())
		}
		return t.Elem.FullName() + "<" + strings.Join(args, ",") + ">"
	}
	if t.Namespace == "" {
		return t.Name
	}
	return t.Namespace + "." + t.Name
}

func (t *TypeRef) String() string {
	if scope := t.AssemblyScope(); scope != "" {
		return "[" + scope + "]" + t.FullName()
	}
	return t.FullName()
}

// FieldRef references a field by declaring type, name and type.
type FieldRef struct {
	DeclaringType *TypeRef
	Name          string
	Type          *TypeRef
}

func (f *FieldRef) FullName() string {
	return fmt.Sprintf("%s %s::%s", f.Type.FullName(), f.DeclaringType.FullName(), f.Name)
}

// Param is a method parameter.
type Param struct {
	Name string
	Type *TypeRef
	Out  bool
}

// MethodRef references a method by declaring type and signature.
type MethodRef struct {
	DeclaringType *TypeRef
	Name          string
	HasThis       bool
	Return        *TypeRef
	Params        []Param
	GenericArgs   []*TypeRef
}

// FullName returns a signature string unique enough to compare references across modules.
func (m *MethodRef) FullName() string {
	var sb strings.Builder
	sb.WriteString(m.Return.FullName())
	sb.WriteByte(' ')
	sb.WriteString(m.DeclaringType.FullName())
	sb.WriteString("::")
	sb.WriteString(m.Name)
	if len(m.GenericArgs) > 0 {
		args := make([]string, 0, len(m.GenericArgs))
		for _, a := range m.GenericArgs {
			args = append(args, a.FullName())
		}
		sb.WriteString("<" + strings.Join(args, ",") + ">")
	}
	sb.WriteByte('(')
	for i, p := range m.Params {
		if i > 0 {
			sb.WriteByte(',')
		}
		sb.WriteString(p.Type.FullName())
	}
	sb.WriteByte(')')
	return sb.String()
}

// AssemblyRef identifies a referenced assembly.
type AssemblyRef struct {
	Name           string
	Version        string
	PublicKeyToken []byte
}

func (a *AssemblyRef) FullName() string {
	token := "null"
	if len(a.PublicKeyToken) > 0 {
		token = hex.EncodeToString(a.PublicKeyToken)
	}
	return fmt.Sprintf("%s, Version=%s, PublicKeyToken=%s", a.Name, a.Version, token)
}

// SemVer parses the four part assembly version.
func (a *AssemblyRef) SemVer() (*version.Version, error) {
	return version.NewVersion(a.Version)
}

// AssemblyName is the identity of the assembly a module belongs to.
type AssemblyName struct {
	Name      string
	Version   string
	PublicKey []byte
}

func (a AssemblyName) HasPublicKey() bool {
	return len(a.PublicKey) > 0
}

// Ref returns a reference to this assembly suitable for another module's reference table.
func (a AssemblyName) Ref() *AssemblyRef {
	return &AssemblyRef{Name: a.Name, Version: a.Version}
}

// TypeSystem builds references to the well-known types of a core library.
type TypeSystem struct {
	scope string
}

// NewTypeSystem returns the well-known types of core.
func NewTypeSystem(core *AssemblyRef) TypeSystem {
	if core == nil {
		return TypeSystem{}
	}
	return TypeSystem{scope: core.Name}
}

func (ts TypeSystem) named(name string) *TypeRef { return NewTypeRef(ts.scope, "System", name) }

func (ts TypeSystem) Void() *TypeRef       { return ts.named("Void") }
func (ts TypeSystem) Boolean() *TypeRef    { return ts.named("Boolean") }
func (ts TypeSystem) Int32() *TypeRef      { return ts.named("Int32") }
func (ts TypeSystem) Int64() *TypeRef      { return ts.named("Int64") }
func (ts TypeSystem) Double() *TypeRef     { return ts.named("Double") }
func (ts TypeSystem) StringType() *TypeRef { return ts.named("String") }
func (ts TypeSystem) Object() *TypeRef     { return ts.named("Object") }
func (ts TypeSystem) Array() *TypeRef      { return ts.named("Array") }

func (ts TypeSystem) Exception() *TypeRef { return ts.named("Exception") }
