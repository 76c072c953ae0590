package il

import (
	"fmt"
	"sort"

	"github.com/google/uuid"
)

// SymbolsMagic is "ILSY" little-endian.
const SymbolsMagic uint32 = 0x59534c49

type symbolMethod struct {
	typeIndex, methodIndex int
	points                 []symbolPoint
}

type symbolPoint struct {
	offset int
	doc    int
	sp     *SequencePoint
}

type symbolWriter struct {
	mvid    uuid.UUID
	docs    map[string]int
	names   []string
	methods []symbolMethod
}

func newSymbolWriter(mvid uuid.UUID) *symbolWriter {
	return &symbolWriter{mvid: mvid, docs: make(map[string]int)}
}

func (s *symbolWriter) method(ti, mi int, offs Offsets, dbg *DebugInfo) error {
	sm := symbolMethod{typeIndex: ti, methodIndex: mi}
	for _, sp := range dbg.SequencePoints {
		off, ok := offs[sp.Instr]
		if !ok {
			return fmt.Errorf("%w: sequence point on %d", ErrUnresolvedTarget, sp.Instr)
		}
		doc, ok := s.docs[sp.Document]
		if !ok {
			doc = len(s.names)
			s.docs[sp.Document] = doc
			s.names = append(s.names, sp.Document)
		}
		sm.points = append(sm.points, symbolPoint{offset: off, doc: doc, sp: sp})
	}
	// points are stored in IL order
	sort.SliceStable(sm.points, func(i, j int) bool { return sm.points[i].offset < sm.points[j].offset })
	s.methods = append(s.methods, sm)
	return nil
}

func (s *symbolWriter) bytes() ([]byte, error) {
	var e encoder
	e.u32(SymbolsMagic)
	e.u16(FormatVersion)
	e.buf.Write(s.mvid[:])
	e.uvarint(len(s.names))
	for _, n := range s.names {
		e.str(n)
	}
	e.uvarint(len(s.methods))
	for _, m := range s.methods {
		e.uvarint(m.typeIndex)
		e.uvarint(m.methodIndex)
		e.uvarint(len(m.points))
		for _, p := range m.points {
			e.u32(uint32(p.offset))
			e.uvarint(p.doc)
			e.uvarint(p.sp.StartLine)
			e.uvarint(p.sp.StartColumn)
			e.uvarint(p.sp.EndLine)
			e.uvarint(p.sp.EndColumn)
		}
	}
	return e.buf.Bytes(), e.err
}

func readSymbols(m *Module, offsets map[*MethodDef]map[int]InstrID, data []byte) error {
	d := newDecoder(data)
	if magic := d.u32(); magic != SymbolsMagic {
		if d.err != nil {
			return d.err
		}
		return fmt.Errorf("%w: %#08x", ErrInvalidMagic, magic)
	}
	if v := d.u16(); v != FormatVersion {
		return fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	var mvid uuid.UUID
	copy(mvid[:], d.read(len(mvid)))
	if d.err != nil {
		return d.err
	}
	if mvid != m.MVID {
		return fmt.Errorf("%w: symbols %s, module %s", ErrSymbolsMismatch, mvid, m.MVID)
	}
	var docs []string
	nd := d.uvarint()
	for i := 0; i < nd && d.err == nil; i++ {
		docs = append(docs, d.str())
	}
	nm := d.uvarint()
	for i := 0; i < nm && d.err == nil; i++ {
		ti, mi := d.uvarint(), d.uvarint()
		if ti >= len(m.Types) || mi >= len(m.Types[ti].Methods) {
			return fmt.Errorf("%w: no method %d:%d", ErrSymbolsMismatch, ti, mi)
		}
		md := m.Types[ti].Methods[mi]
		at := offsets[md]
		dbg := &DebugInfo{}
		seen := make(map[int]bool)
		np := d.uvarint()
		for j := 0; j < np && d.err == nil; j++ {
			off := int(d.u32())
			doc := d.uvarint()
			sp := &SequencePoint{
				StartLine:   d.uvarint(),
				StartColumn: d.uvarint(),
				EndLine:     d.uvarint(),
				EndColumn:   d.uvarint(),
			}
			if d.err != nil {
				break
			}
			id, ok := at[off]
			if !ok {
				return fmt.Errorf("%w: %s has no instruction at IL_%04x", ErrSymbolsMismatch, md.Name, off)
			}
			if seen[off] {
				return fmt.Errorf("%w: %s has two sequence points at IL_%04x", ErrSymbolsMismatch, md.Name, off)
			}
			seen[off] = true
			if doc >= len(docs) {
				return fmt.Errorf("%w: document %d", ErrSymbolsMismatch, doc)
			}
			sp.Instr, sp.Document = id, docs[doc]
			dbg.SequencePoints = append(dbg.SequencePoints, sp)
		}
		md.Debug = dbg
	}
	return d.err
}
