package emu

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/blacktop/ilcov/pkg/il"
)

var (
	labelMatch = regexp.MustCompile(`IL_[0-9a-f]{4}`)
	immMatch   = regexp.MustCompile(`(^|[\s(,])-?(0x[0-9a-f]+|[0-9]+)\b`)
	strMatch   = regexp.MustCompile(`"(?:[^"\\]|\\.)*"`)
)

func colorOperands(operands string) string {
	if len(operands) == 0 {
		return operands
	}
	if strMatch.MatchString(operands) {
		return strMatch.ReplaceAllStringFunc(operands, func(s string) string {
			return colorDetails("%s", s)
		})
	}
	operands = labelMatch.ReplaceAllStringFunc(operands, func(s string) string {
		return colorLabel(s)
	})
	return immMatch.ReplaceAllStringFunc(operands, func(s string) string {
		if s[0] == ' ' || s[0] == '(' || s[0] == ',' || s[0] == '\t' {
			return string(s[0]) + colorImm(s[1:])
		}
		return colorImm(s)
	})
}

// trace prints the instruction about to execute, indented by call depth.
func (e *Emulation) trace(f *frame, id il.InstrID) {
	lines, ok := e.lines[f.body]
	if !ok {
		lines = make(map[il.InstrID]il.Line, f.body.Len())
		for _, l := range f.body.Disassemble() {
			lines[l.ID] = l
		}
		e.lines[f.body] = lines
	}
	l := lines[id]
	op, operands, _ := strings.Cut(l.Text, " ")
	fmt.Fprintf(e.out, "%s%s:  %s %s\n",
		strings.Repeat("  ", max(e.depth-1, 0)),
		colorAddr("IL_%04x", l.Offset),
		colorOp("%-12s", op),
		colorOperands(operands),
	)
}
