package il

import (
	"errors"
	"fmt"
	"slices"
)

var (
	ErrUnresolvedTarget = errors.New("unresolved instruction reference")
	ErrMalformedRegion  = errors.New("malformed exception region")
	ErrUncloneable      = errors.New("instruction cannot be cloned")
)

// InstrID is a stable handle to an instruction in a Body's arena. Handles never move when
// instructions are inserted, so branch operands and region boundaries can hold them.
type InstrID int32

// NoInstr marks an absent boundary. As a region end it means "end of body".
const NoInstr InstrID = -1

type (
	// Target is a single branch target operand.
	Target InstrID
	// Targets is a switch jump table operand.
	Targets []InstrID
	// Local is a local variable index operand.
	Local int
	// Arg is an argument index operand.
	Arg int
)

// Instruction is an opcode and its typed operand.
type Instruction struct {
	OpCode  OpCode
	Operand any
}

// HandlerKind is the kind of an exception handling clause.
type HandlerKind uint8

const (
	HandlerCatch HandlerKind = iota
	HandlerFilter
	HandlerFinally
	HandlerFault
)

func (k HandlerKind) String() string {
	switch k {
	case HandlerCatch:
		return "catch"
	case HandlerFilter:
		return "filter"
	case HandlerFinally:
		return "finally"
	case HandlerFault:
		return "fault"
	}
	return fmt.Sprintf("handler(%d)", uint8(k))
}

// ExceptionRegion is a protected block and its handler.
type ExceptionRegion struct {
	Kind         HandlerKind
	TryStart     InstrID
	TryEnd       InstrID // first instruction after the protected block
	HandlerStart InstrID
	HandlerEnd   InstrID // first instruction after the handler
	FilterStart  InstrID
	CatchType    *TypeRef
}

// Body is a method body: an arena of instructions, their program order, locals and
// exception regions.
type Body struct {
	MaxStack   int
	InitLocals bool
	Locals     []*TypeRef
	Regions    []*ExceptionRegion

	arena []*Instruction
	order []InstrID
	pos   map[InstrID]int
}

func NewBody() *Body {
	return &Body{MaxStack: 8, InitLocals: true}
}

// Grow pre-sizes the body for n more instructions.
func (b *Body) Grow(n int) {
	if cap(b.arena)-len(b.arena) < n {
		arena := make([]*Instruction, len(b.arena), len(b.arena)+n)
		copy(arena, b.arena)
		b.arena = arena
	}
	if cap(b.order)-len(b.order) < n {
		order := make([]InstrID, len(b.order), len(b.order)+n)
		copy(order, b.order)
		b.order = order
	}
}

// New allocates an instruction in the arena without placing it in program order.
func (b *Body) New(op OpCode, operand any) InstrID {
	b.arena = append(b.arena, &Instruction{OpCode: op, Operand: operand})
	return InstrID(len(b.arena) - 1)
}

// Append allocates an instruction and places it at the end of the body.
func (b *Body) Append(op OpCode, operand any) InstrID {
	id := b.New(op, operand)
	b.order = append(b.order, id)
	if b.pos != nil {
		b.pos[id] = len(b.order) - 1
	}
	return id
}

// Insert places already allocated instructions at position p of the program order.
func (b *Body) Insert(p int, ids ...InstrID) {
	b.order = slices.Insert(b.order, p, ids...)
	b.pos = nil
}

// Expand places the handles in after[id] immediately after id, for every id in program order.
func (b *Body) Expand(after map[InstrID][]InstrID) {
	n := len(b.order)
	for _, ids := range after {
		n += len(ids)
	}
	order := make([]InstrID, 0, n)
	for _, id := range b.order {
		order = append(order, id)
		order = append(order, after[id]...)
	}
	b.order = order
	b.pos = nil
}

// Instr returns the instruction behind a handle.
func (b *Body) Instr(id InstrID) *Instruction {
	if id < 0 || int(id) >= len(b.arena) {
		return nil
	}
	return b.arena[id]
}

// Len is the number of instructions in program order.
func (b *Body) Len() int { return len(b.order) }

// At returns the handle at position p.
func (b *Body) At(p int) InstrID { return b.order[p] }

// Order returns the program order. The slice must not be modified.
func (b *Body) Order() []InstrID { return b.order }

// Position returns the index of id in program order.
func (b *Body) Position(id InstrID) (int, bool) {
	if b.pos == nil {
		b.pos = make(map[InstrID]int, len(b.order))
		for i, o := range b.order {
			b.pos[o] = i
		}
	}
	p, ok := b.pos[id]
	return p, ok
}

// AddLocal appends a local variable slot and returns its index.
func (b *Body) AddLocal(t *TypeRef) Local {
	b.Locals = append(b.Locals, t)
	return Local(len(b.Locals) - 1)
}

// Clone allocates a copy of the instruction behind id. Jump tables are copied so the clone
// can be relocated independently.
func (b *Body) Clone(id InstrID) (InstrID, error) {
	in := b.Instr(id)
	if in == nil {
		return NoInstr, fmt.Errorf("%w: %d", ErrUnresolvedTarget, id)
	}
	operand, err := cloneOperand(in.Operand)
	if err != nil {
		return NoInstr, fmt.Errorf("%s: %w", in.OpCode, err)
	}
	return b.New(in.OpCode, operand), nil
}

func cloneOperand(operand any) (any, error) {
	switch op := operand.(type) {
	case nil, int32, int64, float32, float64, string, Target, Local, Arg:
		return op, nil
	case *TypeRef, *FieldRef, *MethodRef:
		return op, nil
	case Targets:
		return append(Targets(nil), op...), nil
	default:
		return nil, fmt.Errorf("%w: operand %T", ErrUncloneable, operand)
	}
}

// Validate checks that every branch operand and region boundary references an instruction
// in program order and that regions are well nested.
func (b *Body) Validate() error {
	for p, id := range b.order {
		in := b.Instr(id)
		if in == nil {
			return fmt.Errorf("%w: position %d", ErrUnresolvedTarget, p)
		}
		switch op := in.Operand.(type) {
		case Target:
			if _, ok := b.Position(InstrID(op)); !ok {
				return fmt.Errorf("%w: %s at %d jumps to %d", ErrUnresolvedTarget, in.OpCode, p, op)
			}
		case Targets:
			for _, t := range op {
				if _, ok := b.Position(t); !ok {
					return fmt.Errorf("%w: %s at %d jumps to %d", ErrUnresolvedTarget, in.OpCode, p, t)
				}
			}
		}
	}
	for i, r := range b.Regions {
		if err := b.validateRegion(r); err != nil {
			return fmt.Errorf("region %d (%s): %w", i, r.Kind, err)
		}
	}
	return nil
}

func (b *Body) validateRegion(r *ExceptionRegion) error {
	start := func(id InstrID) (int, error) {
		p, ok := b.Position(id)
		if !ok {
			return 0, fmt.Errorf("%w: boundary %d", ErrMalformedRegion, id)
		}
		return p, nil
	}
	end := func(id InstrID) (int, error) {
		if id == NoInstr {
			return len(b.order), nil
		}
		return start(id)
	}
	ts, err := start(r.TryStart)
	if err != nil {
		return err
	}
	te, err := end(r.TryEnd)
	if err != nil {
		return err
	}
	hs, err := start(r.HandlerStart)
	if err != nil {
		return err
	}
	he, err := end(r.HandlerEnd)
	if err != nil {
		return err
	}
	if ts >= te || hs >= he {
		return fmt.Errorf("%w: empty block", ErrMalformedRegion)
	}
	if r.Kind == HandlerFilter {
		fs, err := start(r.FilterStart)
		if err != nil {
			return err
		}
		if fs >= hs {
			return fmt.Errorf("%w: filter does not precede handler", ErrMalformedRegion)
		}
	} else if r.FilterStart != NoInstr {
		return fmt.Errorf("%w: filter on %s clause", ErrMalformedRegion, r.Kind)
	}
	if r.Kind == HandlerCatch && r.CatchType == nil {
		return fmt.Errorf("%w: catch clause without type", ErrMalformedRegion)
	}
	return nil
}

// Span returns the [start, end) program positions covered by the block starting at start
// and ending before end.
func (b *Body) Span(start, end InstrID) (int, int, bool) {
	s, ok := b.Position(start)
	if !ok {
		return 0, 0, false
	}
	if end == NoInstr {
		return s, len(b.order), true
	}
	e, ok := b.Position(end)
	return s, e, ok
}
