package instrument

import (
	"fmt"
	"slices"

	"github.com/blacktop/ilcov/pkg/il"
)

// counter increment sequence length, including the relocated original instruction
const incrementLen = 8

// Path selects which copy of a rewritten body runs.
type Path uint8

const (
	// PathOriginal is the untouched body, taken when coverage is inactive.
	PathOriginal Path = iota
	// PathInstrumented is the counting clone, taken when the guard finds an active scope.
	PathInstrumented
)

func (p Path) String() string {
	if p == PathInstrumented {
		return "instrumented"
	}
	return "original"
}

// Rewriter duplicates method bodies behind a coverage guard.
type Rewriter struct {
	guard *il.MethodRef
	int32 *il.TypeRef
}

// NewRewriter creates a rewriter calling guard at method entry.
func NewRewriter(guard *il.MethodRef, ts il.TypeSystem) *Rewriter {
	return &Rewriter{guard: guard, int32: ts.Int32()}
}

// Rewritten describes one rewritten body.
type Rewritten struct {
	// Entry maps each path to its first instruction.
	Entry map[Path]il.InstrID
	// Counters are the instrumented clones, in counter index order.
	Counters []il.InstrID
}

// Rewrite instruments md as method methodIndex of type typeIndex. The body is left in an
// undefined state when an error is returned.
func (rw *Rewriter) Rewrite(md *il.MethodDef, typeIndex, methodIndex int) (*Rewritten, error) {
	fail := func(err error) (*Rewritten, error) {
		return nil, &RewriteConsistencyError{Method: md.FullName(), Err: err}
	}
	b := md.Body
	if b == nil || b.Len() == 0 {
		return fail(fmt.Errorf("%w: empty body", il.ErrUnresolvedTarget))
	}
	if err := b.Validate(); err != nil {
		return fail(err)
	}
	pointed := make(map[il.InstrID]bool, len(md.Debug.SequencePoints))
	for _, sp := range md.Debug.SequencePoints {
		if pointed[sp.Instr] {
			return fail(fmt.Errorf("%w: two sequence points on %d", il.ErrSymbolsMismatch, sp.Instr))
		}
		pointed[sp.Instr] = true
	}

	original := slices.Clone(b.Order())
	n := len(original)
	points := md.Debug.Visible()
	b.Grow(n + points*incrementLen + 5)

	// clone
	clones := make([]il.InstrID, n)
	cloneOf := make(map[il.InstrID]il.InstrID, n)
	for i, id := range original {
		c, err := b.Clone(id)
		if err != nil {
			return fail(err)
		}
		clones[i] = c
		cloneOf[id] = c
	}
	first := clones[0]

	// relocate clone control transfers, widening short forms first
	for _, c := range clones {
		in := b.Instr(c)
		switch op := in.Operand.(type) {
		case il.Target:
			t, ok := cloneOf[il.InstrID(op)]
			if !ok {
				return fail(fmt.Errorf("%w: %s to %d", il.ErrUnresolvedTarget, in.OpCode, op))
			}
			in.OpCode = in.OpCode.Long()
			in.Operand = il.Target(t)
		case il.Targets:
			for j, t := range op {
				ct, ok := cloneOf[t]
				if !ok {
					return fail(fmt.Errorf("%w: switch to %d", il.ErrUnresolvedTarget, t))
				}
				op[j] = ct
			}
		}
	}
	b.Insert(b.Len(), clones...)

	// clone exception regions; end of body boundaries of the originals now end at the clone
	mapBoundary := func(id il.InstrID) (il.InstrID, error) {
		if id == il.NoInstr {
			return il.NoInstr, nil
		}
		c, ok := cloneOf[id]
		if !ok {
			return il.NoInstr, fmt.Errorf("%w: boundary %d", il.ErrMalformedRegion, id)
		}
		return c, nil
	}
	regions := slices.Clone(b.Regions)
	for _, r := range regions {
		cr := &il.ExceptionRegion{Kind: r.Kind, CatchType: r.CatchType}
		var err error
		for _, bd := range []struct {
			dst *il.InstrID
			src il.InstrID
		}{
			{&cr.TryStart, r.TryStart},
			{&cr.TryEnd, r.TryEnd},
			{&cr.HandlerStart, r.HandlerStart},
			{&cr.HandlerEnd, r.HandlerEnd},
			{&cr.FilterStart, r.FilterStart},
		} {
			if *bd.dst, err = mapBoundary(bd.src); err != nil {
				return fail(err)
			}
		}
		if r.TryEnd == il.NoInstr {
			r.TryEnd = first
		}
		if r.HandlerEnd == il.NoInstr {
			r.HandlerEnd = first
		}
		b.Regions = append(b.Regions, cr)
	}

	// clone sequence points and select the counted clones
	var counters []il.InstrID
	seqPoints := slices.Clone(md.Debug.SequencePoints)
	for _, sp := range seqPoints {
		c, ok := cloneOf[sp.Instr]
		if !ok {
			return fail(fmt.Errorf("%w: sequence point on %d", il.ErrUnresolvedTarget, sp.Instr))
		}
		clone := *sp
		clone.Instr = c
		md.Debug.SequencePoints = append(md.Debug.SequencePoints, &clone)
		if !sp.Hidden() {
			counters = append(counters, c)
		}
	}

	local := b.AddLocal(il.ArrayOf(rw.int32))

	// guard: an active scope jumps to the instrumented clone
	guard := []il.InstrID{
		b.New(il.LdcI4, int32(typeIndex)),
		b.New(il.LdcI4, int32(methodIndex)),
		b.New(loadLocalAddress(local), local),
		b.New(il.Call, rw.guard),
		b.New(il.Brtrue, il.Target(first)),
	}
	b.Insert(0, guard...)

	// counter increments: the counted handle becomes the counter load so every jump into
	// the point counts, and the original instruction moves after the increment
	after := make(map[il.InstrID][]il.InstrID, len(counters))
	for i, c := range counters {
		in := b.Instr(c)
		moved := b.New(in.OpCode, in.Operand)
		in.OpCode, in.Operand = loadLocal(local), local
		after[c] = []il.InstrID{
			b.New(il.LdcI4, int32(i)),
			b.New(il.Ldelema, rw.int32),
			b.New(il.Dup, nil),
			b.New(il.LdindI4, nil),
			b.New(il.LdcI41, nil),
			b.New(il.Add, nil),
			b.New(il.StindI4, nil),
			moved,
		}
	}
	b.Expand(after)
	b.MaxStack += 3

	if err := b.Validate(); err != nil {
		return fail(err)
	}
	return &Rewritten{
		Entry:    map[Path]il.InstrID{PathOriginal: original[0], PathInstrumented: first},
		Counters: counters,
	}, nil
}

func loadLocal(l il.Local) il.OpCode {
	if l <= 0xff {
		return il.LdlocS
	}
	return il.Ldloc
}

func loadLocalAddress(l il.Local) il.OpCode {
	if l <= 0xff {
		return il.LdlocaS
	}
	return il.Ldloca
}
