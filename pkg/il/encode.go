package il

import (
	"errors"
	"fmt"
	"math"
)

var (
	ErrShortBranchRange = errors.New("short branch displacement out of range")
	ErrOperandRange     = errors.New("operand out of range")
	ErrInvalidOpcode    = errors.New("invalid opcode")
)

// Offsets maps instruction handles to IL byte offsets.
type Offsets map[InstrID]int

// Layout computes the IL offset of every instruction and the total code size.
func (b *Body) Layout() (Offsets, int) {
	offs := make(Offsets, len(b.order))
	off := 0
	for _, id := range b.order {
		in := b.arena[id]
		offs[id] = off
		off += in.OpCode.Size() + operandSize(in.OpCode, in.Operand)
	}
	return offs, off
}

// End returns the offset of a region end boundary.
func (o Offsets) End(id InstrID, size int) (int, bool) {
	if id == NoInstr {
		return size, true
	}
	off, ok := o[id]
	return off, ok
}

type tokenizer func(any) (uint32, error)

func encodeCode(b *Body, tok tokenizer) ([]byte, Offsets, error) {
	offs, size := b.Layout()
	var e encoder
	e.buf.Grow(size)
	for p, id := range b.order {
		in := b.arena[id]
		if !in.OpCode.Valid() {
			return nil, nil, fmt.Errorf("%w %#x at %d", ErrInvalidOpcode, uint16(in.OpCode), p)
		}
		if in.OpCode > 0xff {
			e.u8(0xfe)
		}
		e.u8(uint8(in.OpCode))
		next := offs[id] + in.OpCode.Size() + operandSize(in.OpCode, in.Operand)
		if err := encodeOperand(&e, in, offs, next, tok); err != nil {
			return nil, nil, fmt.Errorf("IL_%04x %s: %w", offs[id], in.OpCode, err)
		}
	}
	return e.buf.Bytes(), offs, e.err
}

func encodeOperand(e *encoder, in *Instruction, offs Offsets, next int, tok tokenizer) error {
	switch in.OpCode.OperandType() {
	case InlineNone:
	case ShortInlineI:
		v, ok := in.Operand.(int32)
		if !ok || v < math.MinInt8 || v > math.MaxInt8 {
			return fmt.Errorf("%w: %v", ErrOperandRange, in.Operand)
		}
		e.u8(uint8(int8(v)))
	case InlineI:
		v, ok := in.Operand.(int32)
		if !ok {
			return fmt.Errorf("%w: %T", ErrOperandRange, in.Operand)
		}
		e.u32(uint32(v))
	case InlineI8:
		v, ok := in.Operand.(int64)
		if !ok {
			return fmt.Errorf("%w: %T", ErrOperandRange, in.Operand)
		}
		e.u64(uint64(v))
	case ShortInlineR:
		v, ok := in.Operand.(float32)
		if !ok {
			return fmt.Errorf("%w: %T", ErrOperandRange, in.Operand)
		}
		e.u32(math.Float32bits(v))
	case InlineR:
		v, ok := in.Operand.(float64)
		if !ok {
			return fmt.Errorf("%w: %T", ErrOperandRange, in.Operand)
		}
		e.u64(math.Float64bits(v))
	case InlineString, InlineField, InlineMethod, InlineType:
		t, err := tok(in.Operand)
		if err != nil {
			return err
		}
		e.u32(t)
	case ShortInlineBrTarget:
		disp, err := displacement(in.Operand, offs, next)
		if err != nil {
			return err
		}
		if disp < math.MinInt8 || disp > math.MaxInt8 {
			return fmt.Errorf("%w: %d", ErrShortBranchRange, disp)
		}
		e.u8(uint8(int8(disp)))
	case InlineBrTarget:
		disp, err := displacement(in.Operand, offs, next)
		if err != nil {
			return err
		}
		e.u32(uint32(int32(disp)))
	case InlineSwitch:
		targets, ok := in.Operand.(Targets)
		if !ok {
			return fmt.Errorf("%w: %T", ErrUnresolvedTarget, in.Operand)
		}
		e.u32(uint32(len(targets)))
		for _, t := range targets {
			disp, err := displacement(Target(t), offs, next)
			if err != nil {
				return err
			}
			e.u32(uint32(int32(disp)))
		}
	case ShortInlineVar, ShortInlineArg:
		v, err := slotIndex(in.Operand)
		if err != nil {
			return err
		}
		if v > math.MaxUint8 {
			return fmt.Errorf("%w: slot %d", ErrOperandRange, v)
		}
		e.u8(uint8(v))
	case InlineVar, InlineArg:
		v, err := slotIndex(in.Operand)
		if err != nil {
			return err
		}
		if v > math.MaxUint16 {
			return fmt.Errorf("%w: slot %d", ErrOperandRange, v)
		}
		e.u16(uint16(v))
	}
	return nil
}

func displacement(operand any, offs Offsets, next int) (int, error) {
	t, ok := operand.(Target)
	if !ok {
		return 0, fmt.Errorf("%w: %T", ErrUnresolvedTarget, operand)
	}
	off, ok := offs[InstrID(t)]
	if !ok {
		return 0, fmt.Errorf("%w: %d", ErrUnresolvedTarget, t)
	}
	return off - next, nil
}

func slotIndex(operand any) (int, error) {
	switch v := operand.(type) {
	case Local:
		return int(v), nil
	case Arg:
		return int(v), nil
	}
	return 0, fmt.Errorf("%w: %T", ErrOperandRange, operand)
}

type pendingJump struct {
	id      InstrID
	targets []int
	table   bool
}

// decodeCode decodes CIL bytes into a body and returns the offset of every instruction.
func decodeCode(code []byte, p *pool) (*Body, map[int]InstrID, error) {
	b := NewBody()
	at := make(map[int]InstrID)
	var jumps []pendingJump

	d := newDecoder(code)
	for d.r.Len() > 0 && d.err == nil {
		start := d.offset()
		op := OpCode(d.u8())
		if op == 0xfe {
			op = 0xfe00 | OpCode(d.u8())
		}
		if !op.Valid() {
			return nil, nil, fmt.Errorf("%w %#x at IL_%04x", ErrInvalidOpcode, uint16(op), start)
		}
		var operand any
		var targets []int
		table := false
		switch op.OperandType() {
		case ShortInlineI:
			operand = int32(int8(d.u8()))
		case InlineI:
			operand = int32(d.u32())
		case InlineI8:
			operand = int64(d.u64())
		case ShortInlineR:
			operand = math.Float32frombits(d.u32())
		case InlineR:
			operand = math.Float64frombits(d.u64())
		case InlineString, InlineField, InlineMethod, InlineType:
			v, err := p.lookup(d.u32())
			if err != nil {
				return nil, nil, fmt.Errorf("IL_%04x %s: %w", start, op, err)
			}
			operand = v
		case ShortInlineBrTarget:
			disp := int(int8(d.u8()))
			targets = []int{d.offset() + disp}
		case InlineBrTarget:
			disp := int(int32(d.u32()))
			targets = []int{d.offset() + disp}
		case InlineSwitch:
			n := int(d.u32())
			if n > d.r.Len()/4 {
				return nil, nil, fmt.Errorf("IL_%04x switch: %w: %d targets", start, ErrOperandRange, n)
			}
			disps := make([]int, n)
			for i := range disps {
				disps[i] = int(int32(d.u32()))
			}
			next := d.offset()
			for _, disp := range disps {
				targets = append(targets, next+disp)
			}
			table = true
		case ShortInlineVar:
			operand = Local(d.u8())
		case ShortInlineArg:
			operand = Arg(d.u8())
		case InlineVar:
			operand = Local(d.u16())
		case InlineArg:
			operand = Arg(d.u16())
		}
		id := b.Append(op, operand)
		at[start] = id
		if targets != nil || table {
			jumps = append(jumps, pendingJump{id: id, targets: targets, table: table})
		}
	}
	if d.err != nil {
		return nil, nil, d.err
	}
	for _, j := range jumps {
		ids := make(Targets, 0, len(j.targets))
		for _, off := range j.targets {
			id, ok := at[off]
			if !ok {
				return nil, nil, fmt.Errorf("%w: IL_%04x", ErrUnresolvedTarget, off)
			}
			ids = append(ids, id)
		}
		if j.table {
			b.Instr(j.id).Operand = ids
		} else {
			b.Instr(j.id).Operand = Target(ids[0])
		}
	}
	return b, at, nil
}
