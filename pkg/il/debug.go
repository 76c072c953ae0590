package il

// HiddenLine is the start line compilers use for sequence points without source mapping.
const HiddenLine = 0xfeefee

// SequencePoint maps the instruction Instr to a source range.
type SequencePoint struct {
	Instr       InstrID
	Document    string
	StartLine   int
	StartColumn int
	EndLine     int
	EndColumn   int
}

// Hidden reports whether the point carries no source mapping.
func (sp *SequencePoint) Hidden() bool {
	return sp.StartLine == HiddenLine
}

// DebugInfo is the debug line map of a method.
type DebugInfo struct {
	SequencePoints []*SequencePoint
}

func (d *DebugInfo) HasSequencePoints() bool {
	return d != nil && len(d.SequencePoints) > 0
}

// Visible returns the number of non-hidden sequence points.
func (d *DebugInfo) Visible() int {
	if d == nil {
		return 0
	}
	n := 0
	for _, sp := range d.SequencePoints {
		if !sp.Hidden() {
			n++
		}
	}
	return n
}
