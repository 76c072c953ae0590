package emu

import (
	"fmt"

	"github.com/blacktop/ilcov/internal/support"
	"github.com/blacktop/ilcov/pkg/il"
)

// Scope holds the hit counters of one instrumented module.
type Scope struct {
	Module *il.Module
	// Lengths is the counter length table built by the module's coverage metadata.
	Lengths [][]int32

	hits [][]*Array
}

// Hits returns a copy of the counters of method methodIndex of type typeIndex.
func (s *Scope) Hits(typeIndex, methodIndex int) []int32 {
	if typeIndex >= len(s.hits) || methodIndex >= len(s.hits[typeIndex]) {
		return nil
	}
	return s.hits[typeIndex][methodIndex].Int32s()
}

// Reset zeroes every counter.
func (s *Scope) Reset() {
	for _, methods := range s.hits {
		for _, a := range methods {
			for i := range a.Items {
				a.Items[i] = int32(0)
			}
		}
	}
}

// Reporter implements the support library's scope lookup. While started every guard call
// gets the counters of its module; while stopped guards take the original code path.
type Reporter struct {
	e      *Emulation
	active bool
	scopes map[*il.Module]*Scope
	order  []*Scope
}

// NewReporter hooks the scope lookup of e.
func NewReporter(e *Emulation) *Reporter {
	r := &Reporter{e: e, scopes: make(map[*il.Module]*Scope)}
	e.Hook(support.CoverageNamespace+"."+support.ReporterType, support.TryGetScopeMethod, r.tryGetScope)
	return r
}

func (r *Reporter) Start()       { r.active = true }
func (r *Reporter) Stop()        { r.active = false }
func (r *Reporter) Active() bool { return r.active }

// Scopes returns the scopes created so far in creation order.
func (r *Reporter) Scopes() []*Scope { return r.order }

// Scope returns the scope of m, nil if no guard of m ran while active.
func (r *Reporter) Scope(m *il.Module) *Scope { return r.scopes[m] }

func (r *Reporter) tryGetScope(c *CallContext, args []Value) (Value, error) {
	if len(args) != 3 {
		return nil, fmt.Errorf("%s expects 3 arguments, got %d", support.TryGetScopeMethod, len(args))
	}
	out, err := asPointer(args[2])
	if err != nil {
		return nil, err
	}
	if !r.active {
		out.Store(nil)
		return int32(0), nil
	}
	decl := c.Method.DeclaringType
	if decl.Kind != il.KindGenericInst || len(decl.Args) != 1 {
		return nil, fmt.Errorf("%s must be called on a closed reporter type", support.TryGetScopeMethod)
	}
	lt := r.e.resolveType(c.Module, decl.Args[0])
	if lt == nil {
		return nil, fmt.Errorf("module coverage type %s is not loaded", decl.Args[0].FullName())
	}
	s, err := r.scope(lt)
	if err != nil {
		return nil, err
	}
	ti, _ := toInt(args[0])
	mi, _ := toInt(args[1])
	if ti < 0 || ti >= int64(len(s.hits)) || mi < 0 || mi >= int64(len(s.hits[ti])) {
		return nil, fmt.Errorf("no counters for method (%d, %d) in %s", ti, mi, lt.mod.Name)
	}
	out.Store(s.hits[ti][mi])
	return int32(1), nil
}

// scope constructs the module's coverage metadata on first use and allocates its counters.
func (r *Reporter) scope(lt *loadedType) (*Scope, error) {
	if s, ok := r.scopes[lt.mod]; ok {
		return s, nil
	}
	ctor := lt.def.Method(".ctor")
	if ctor == nil {
		return nil, fmt.Errorf("%s has no constructor", lt.def.FullName())
	}
	o, err := r.e.New(lt.mod, ctor.Ref(), nil)
	if err != nil {
		return nil, fmt.Errorf("failed to construct %s: %w", lt.def.FullName(), err)
	}
	table, ok := o.Fields[support.MetadataField].(*Array)
	if !ok {
		return nil, fmt.Errorf("%s did not initialize %s", lt.def.FullName(), support.MetadataField)
	}

	i4 := lt.mod.TypeSystem().Int32()
	s := &Scope{Module: lt.mod}
	for _, v := range table.Items {
		methods, ok := v.(*Array)
		if !ok {
			return nil, fmt.Errorf("%s: counter length row is %T", lt.def.FullName(), v)
		}
		lengths := methods.Int32s()
		hits := make([]*Array, len(lengths))
		for i, n := range lengths {
			hits[i] = NewArray(i4, int(n))
		}
		s.Lengths = append(s.Lengths, lengths)
		s.hits = append(s.hits, hits)
	}
	r.scopes[lt.mod] = s
	r.order = append(r.order, s)
	return s, nil
}
