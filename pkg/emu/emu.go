// Package emu interprets method bodies of loaded modules.
package emu

import (
	"errors"
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/apex/log"
	"github.com/blacktop/ilcov/pkg/il"
)

const (
	defaultMaxSteps = 1_000_000
	maxDepth        = 256
)

var (
	ErrNoImplementation = errors.New("no implementation")
	ErrStepLimit        = errors.New("step limit exceeded")
	ErrStackOverflow    = errors.New("call depth exceeded")
)

// Config is an emulation configuration object
type Config struct {
	// Verbose traces every executed instruction to Output.
	Verbose bool
	// MaxSteps bounds the number of executed instructions, 0 uses the default.
	MaxSteps int
	Output   io.Writer
}

// CallContext is passed to host functions.
type CallContext struct {
	Emulation *Emulation
	Method    *il.MethodRef
	// Module is the module of the calling method, nil for calls made from Go.
	Module *il.Module
}

// HostFunc implements a method outside the loaded modules. For instance methods args[0]
// is the receiver.
type HostFunc func(c *CallContext, args []Value) (Value, error)

type loadedType struct {
	def *il.TypeDef
	mod *il.Module
}

// Emulation is an interpreter over a set of loaded modules
type Emulation struct {
	conf    *Config
	out     io.Writer
	modules []*il.Module
	types   map[string][]*loadedType
	owners  map[*il.TypeDef]*il.Module
	hosts   map[string]HostFunc
	statics map[string]Value
	lines   map[*il.Body]map[il.InstrID]il.Line
	steps   int
	depth   int
}

// NewEmulation creates a new emulation instance
func NewEmulation(conf *Config) *Emulation {
	if conf == nil {
		conf = &Config{}
	}
	e := &Emulation{
		conf:    conf,
		out:     conf.Output,
		types:   make(map[string][]*loadedType),
		owners:  make(map[*il.TypeDef]*il.Module),
		hosts:   make(map[string]HostFunc),
		statics: make(map[string]Value),
		lines:   make(map[*il.Body]map[il.InstrID]il.Line),
	}
	if e.out == nil {
		e.out = os.Stdout
	}
	e.Hook("System.Object", ".ctor", func(*CallContext, []Value) (Value, error) { return nil, nil })
	e.Hook("System.Exception", ".ctor", func(_ *CallContext, args []Value) (Value, error) {
		if len(args) > 1 {
			if this, ok := args[0].(*Object); ok {
				this.Fields["Message"] = args[1]
			}
		}
		return nil, nil
	})
	e.Hook("System.Array", "Empty", func(c *CallContext, _ []Value) (Value, error) {
		var elem *il.TypeRef
		if len(c.Method.GenericArgs) > 0 {
			elem = c.Method.GenericArgs[0]
		}
		return NewArray(elem, 0), nil
	})
	return e
}

// Output returns the writer host functions print to.
func (e *Emulation) Output() io.Writer { return e.out }

// Steps returns the number of instructions executed so far.
func (e *Emulation) Steps() int { return e.steps }

// Modules returns the loaded modules in load order.
func (e *Emulation) Modules() []*il.Module { return e.modules }

// Load makes the types of m callable.
func (e *Emulation) Load(m *il.Module) error {
	for _, old := range e.modules {
		if old == m || old.MVID == m.MVID {
			return fmt.Errorf("module %s is already loaded", m.Name)
		}
	}
	for _, t := range m.Types {
		name := t.FullName()
		e.types[name] = append(e.types[name], &loadedType{def: t, mod: m})
		e.owners[t] = m
	}
	e.modules = append(e.modules, m)
	log.WithField("module", m.Name).Debugf("loaded %d types", len(m.Types))
	return nil
}

// Hook registers fn as the implementation of typeName::method, taking precedence over a
// loaded definition. Hooks on a generic type use its definition name, e.g. Ns.Reporter`1.
func (e *Emulation) Hook(typeName, method string, fn HostFunc) {
	e.hosts[typeName+"::"+method] = fn
}

// Type returns the first loaded type definition named fullName.
func (e *Emulation) Type(fullName string) *il.TypeDef {
	if lts := e.types[fullName]; len(lts) > 0 {
		return lts[0].def
	}
	return nil
}

// resolveType finds the definition t names when referenced from module from. References
// without an assembly scope name a type of from itself.
func (e *Emulation) resolveType(from *il.Module, t *il.TypeRef) *loadedType {
	lts := e.types[typeKey(t)]
	scope := t.AssemblyScope()
	for _, lt := range lts {
		if (scope == "" && lt.mod == from) || (scope != "" && lt.mod.Assembly.Name == scope) {
			return lt
		}
	}
	if len(lts) > 0 {
		return lts[0]
	}
	return nil
}

// Static returns the value of a static field.
func (e *Emulation) Static(typeName, field string) Value {
	return e.statics[typeName+"::"+field]
}

// SetStatic sets the value of a static field.
func (e *Emulation) SetStatic(typeName, field string, v Value) {
	e.statics[typeName+"::"+field] = normalize(v)
}

// Call invokes the static method named `Ns.Type::Method` whose parameter count matches args.
func (e *Emulation) Call(name string, args ...Value) (Value, error) {
	typeName, method, ok := strings.Cut(name, "::")
	if !ok {
		return nil, fmt.Errorf("invalid method name %q (expected Type::Method)", name)
	}
	t := e.Type(typeName)
	if t == nil {
		return nil, fmt.Errorf("type %s is not loaded", typeName)
	}
	for _, md := range t.Methods {
		if md.Name == method && md.IsStatic() && len(md.Params) == len(args) {
			vals := make([]Value, len(args))
			for i, a := range args {
				vals[i] = normalize(a)
			}
			return e.Invoke(md, vals)
		}
	}
	return nil, fmt.Errorf("%s has no static method %s taking %d arguments", typeName, method, len(args))
}

// Invoke runs md with args, including the receiver for instance methods.
func (e *Emulation) Invoke(md *il.MethodDef, args []Value) (Value, error) {
	if !md.HasBody() {
		return nil, fmt.Errorf("%w: %s", ErrNoImplementation, md.FullName())
	}
	if e.depth >= maxDepth {
		return nil, fmt.Errorf("%w: %s", ErrStackOverflow, md.FullName())
	}
	e.depth++
	defer func() { e.depth-- }()

	f := newFrame(md, e.owners[md.DeclaringType()], args)
	kind, v, err := e.run(f, 0, nil)
	if err != nil {
		return nil, err
	}
	if kind != exitReturn {
		return nil, fmt.Errorf("%s: unexpected %s outside a handler", md.FullName(), kind)
	}
	return v, nil
}

// New allocates an object and runs the constructor ctor on it. from is the module the
// reference appears in.
func (e *Emulation) New(from *il.Module, ctor *il.MethodRef, args []Value) (*Object, error) {
	o := NewObject(typeKey(ctor.DeclaringType))
	o.class = e.resolveType(from, ctor.DeclaringType)
	e.walk(o.Type, o.class, func(_ string, lt *loadedType) bool {
		if lt != nil {
			for _, f := range lt.def.Fields {
				if !f.Static {
					o.Fields[f.Name] = Zero(f.Type)
				}
			}
		}
		return false
	})
	if _, err := e.call(from, ctor, append([]Value{o}, args...), false); err != nil {
		return nil, err
	}
	return o, nil
}

func (e *Emulation) call(from *il.Module, ref *il.MethodRef, args []Value, virtual bool) (Value, error) {
	name, class := typeKey(ref.DeclaringType), e.resolveType(from, ref.DeclaringType)
	if virtual && ref.HasThis && len(args) > 0 {
		if o, ok := args[0].(*Object); ok {
			name, class = o.Type, o.class
		}
	}
	var (
		target *il.MethodDef
		host   HostFunc
	)
	e.walk(name, class, func(n string, lt *loadedType) bool {
		if fn, ok := e.hosts[n+"::"+ref.Name]; ok {
			host = fn
			return true
		}
		if lt != nil {
			if md := matchMethod(lt.def, ref); md != nil && md.HasBody() {
				target = md
				return true
			}
		}
		return false
	})
	switch {
	case target != nil:
		return e.Invoke(target, args)
	case host != nil:
		return host(&CallContext{Emulation: e, Method: ref, Module: from}, args)
	}
	return nil, fmt.Errorf("%w: %s", ErrNoImplementation, ref.FullName())
}

func matchMethod(t *il.TypeDef, ref *il.MethodRef) *il.MethodDef {
	for _, md := range t.Methods {
		if md.Name == ref.Name && len(md.Params) == len(ref.Params) && md.IsStatic() == !ref.HasThis {
			return md
		}
	}
	return nil
}

// walk calls fn for a type and each of its base types until fn returns true. lt is nil for
// types outside the loaded modules.
func (e *Emulation) walk(name string, lt *loadedType, fn func(name string, lt *loadedType) bool) {
	for name != "" {
		if fn(name, lt) {
			return
		}
		if lt != nil {
			base := lt.def.BaseType
			if base == nil {
				return
			}
			name, lt = typeKey(base), e.resolveType(lt.mod, base)
			continue
		}
		name = externalBase(name)
	}
}

func externalBase(name string) string {
	if base, ok := exceptionBase[name]; ok {
		return base
	}
	if name == "System.Object" {
		return ""
	}
	return "System.Object"
}

// IsInstance reports whether v can be cast to t.
func (e *Emulation) IsInstance(v Value, t *il.TypeRef) bool {
	if t == nil {
		return v != nil
	}
	want := typeKey(t)
	switch x := v.(type) {
	case *Object:
		found := false
		e.walk(x.Type, x.class, func(n string, _ *loadedType) bool {
			found = n == want
			return found
		})
		return found
	case *Array:
		return want == "System.Array" || want == "System.Object" ||
			(t.Kind == il.KindArray && (x.Elem == nil || t.Elem.FullName() == x.Elem.FullName()))
	case string:
		return want == "System.String" || want == "System.Object"
	case *Boxed:
		return want == typeKey(x.Type) || want == "System.Object" || want == "System.ValueType"
	}
	return false
}

// typeKey names a type for lookup, using the definition of generic instances.
func typeKey(t *il.TypeRef) string {
	if t.Kind == il.KindGenericInst {
		return t.Elem.FullName()
	}
	return t.FullName()
}

func normalize(v Value) Value {
	switch x := v.(type) {
	case int:
		return int32(x)
	case bool:
		return boolValue(x)
	case float32:
		return float64(x)
	case int8:
		return int32(x)
	case int16:
		return int32(x)
	case uint8:
		return int32(x)
	case uint16:
		return int32(x)
	case uint32:
		return int32(x)
	case uint64:
		return int64(x)
	}
	return v
}
