package il

import "fmt"

// Builder emits a body in program order with named labels for forward branches.
type Builder struct {
	body    *Body
	labels  map[string]InstrID
	pending []string
	fixups  []fixup
}

type fixup struct {
	id     InstrID
	labels []string
	table  bool
}

func NewBuilder() *Builder {
	return &Builder{body: NewBody(), labels: make(map[string]InstrID)}
}

// Label names the next emitted instruction. A label placed after the last instruction
// resolves to NoInstr (end of body).
func (bl *Builder) Label(name string) *Builder {
	bl.pending = append(bl.pending, name)
	return bl
}

// Emit appends an instruction with a non branch operand.
func (bl *Builder) Emit(op OpCode, operand ...any) InstrID {
	var v any
	if len(operand) > 0 {
		v = operand[0]
	}
	id := bl.body.Append(op, v)
	for _, l := range bl.pending {
		bl.labels[l] = id
	}
	bl.pending = bl.pending[:0]
	return id
}

// Branch appends a branch to label.
func (bl *Builder) Branch(op OpCode, label string) InstrID {
	id := bl.Emit(op)
	bl.fixups = append(bl.fixups, fixup{id: id, labels: []string{label}})
	return id
}

// Switch appends a jump table over labels.
func (bl *Builder) Switch(labels ...string) InstrID {
	id := bl.Emit(Switch)
	bl.fixups = append(bl.fixups, fixup{id: id, labels: labels, table: true})
	return id
}

// Ref returns the instruction a label names, or NoInstr when it names the end of the body.
func (bl *Builder) Ref(label string) InstrID {
	if id, ok := bl.labels[label]; ok {
		return id
	}
	return NoInstr
}

// Region adds an exception region bounded by labels. An empty filter label means none.
func (bl *Builder) Region(kind HandlerKind, tryStart, tryEnd, handlerStart, handlerEnd, filter string, catchType *TypeRef) {
	r := &ExceptionRegion{
		Kind:         kind,
		TryStart:     bl.Ref(tryStart),
		TryEnd:       bl.Ref(tryEnd),
		HandlerStart: bl.Ref(handlerStart),
		HandlerEnd:   bl.Ref(handlerEnd),
		FilterStart:  NoInstr,
		CatchType:    catchType,
	}
	if filter != "" {
		r.FilterStart = bl.Ref(filter)
	}
	bl.body.Regions = append(bl.body.Regions, r)
}

// Body resolves branch labels and validates the result.
func (bl *Builder) Body() (*Body, error) {
	for _, f := range bl.fixups {
		ids := make(Targets, 0, len(f.labels))
		for _, l := range f.labels {
			id, ok := bl.labels[l]
			if !ok {
				return nil, fmt.Errorf("%w: label %q", ErrUnresolvedTarget, l)
			}
			ids = append(ids, id)
		}
		if f.table {
			bl.body.Instr(f.id).Operand = ids
		} else {
			bl.body.Instr(f.id).Operand = Target(ids[0])
		}
	}
	bl.fixups = nil
	if err := bl.body.Validate(); err != nil {
		return nil, err
	}
	return bl.body, nil
}
