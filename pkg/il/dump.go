package il

import (
	"fmt"
	"strconv"
	"strings"
)

// Line is one disassembled instruction.
type Line struct {
	Offset int
	ID     InstrID
	Text   string
}

func (l Line) String() string {
	return fmt.Sprintf("IL_%04x: %s", l.Offset, l.Text)
}

// Disassemble renders the body in program order with IL offsets.
func (b *Body) Disassemble() []Line {
	offs, size := b.Layout()
	label := func(id InstrID) string {
		if off, ok := offs.End(id, size); ok {
			return fmt.Sprintf("IL_%04x", off)
		}
		return fmt.Sprintf("<%d>", id)
	}
	lines := make([]Line, 0, len(b.order))
	for _, id := range b.order {
		in := b.arena[id]
		text := in.OpCode.String()
		switch op := in.Operand.(type) {
		case nil:
		case Target:
			text += " " + label(InstrID(op))
		case Targets:
			labels := make([]string, 0, len(op))
			for _, t := range op {
				labels = append(labels, label(t))
			}
			text += " (" + strings.Join(labels, ", ") + ")"
		case string:
			text += " " + strconv.Quote(op)
		case Local:
			text += fmt.Sprintf(" V_%d", int(op))
		case Arg:
			text += fmt.Sprintf(" A_%d", int(op))
		case *TypeRef:
			text += " " + op.String()
		case *FieldRef:
			text += " " + op.FullName()
		case *MethodRef:
			text += " " + op.FullName()
		default:
			text += fmt.Sprintf(" %v", op)
		}
		lines = append(lines, Line{Offset: offs[id], ID: id, Text: text})
	}
	return lines
}

// DescribeRegion renders a region with IL offset boundaries.
func (b *Body) DescribeRegion(r *ExceptionRegion) string {
	offs, size := b.Layout()
	at := func(id InstrID) int {
		off, _ := offs.End(id, size)
		return off
	}
	s := fmt.Sprintf("try IL_%04x-IL_%04x %s IL_%04x-IL_%04x",
		at(r.TryStart), at(r.TryEnd), r.Kind, at(r.HandlerStart), at(r.HandlerEnd))
	if r.FilterStart != NoInstr {
		s += fmt.Sprintf(" filter IL_%04x", at(r.FilterStart))
	}
	if r.CatchType != nil {
		s += " " + r.CatchType.String()
	}
	return s
}
