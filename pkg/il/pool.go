package il

import (
	"fmt"
	"strings"
)

// Token kinds, matching the metadata table numbers used by CIL tokens.
const (
	TokenType   uint32 = 0x01
	TokenField  uint32 = 0x04
	TokenMethod uint32 = 0x0a
	TokenString uint32 = 0x70

	NoToken uint32 = 0xffffffff
)

func makeToken(kind uint32, index int) uint32 { return kind<<24 | uint32(index) }

func splitToken(tok uint32) (uint32, int) { return tok >> 24, int(tok & 0x00ffffff) }

// poolWriter interns member references and hands out tokens for them.
type poolWriter struct {
	enc   encoder
	count int
	index map[string]uint32
}

func newPoolWriter() *poolWriter {
	return &poolWriter{index: make(map[string]uint32)}
}

func (p *poolWriter) intern(key string, kind uint32, write func()) uint32 {
	if tok, ok := p.index[key]; ok {
		return tok
	}
	p.enc.u8(uint8(kind))
	write()
	tok := makeToken(kind, p.count)
	p.count++
	p.index[key] = tok
	return tok
}

// token returns the pool token for a string, *TypeRef, *FieldRef or *MethodRef.
func (p *poolWriter) token(v any) (uint32, error) {
	switch v := v.(type) {
	case string:
		return p.intern("s:"+v, TokenString, func() { p.enc.str(v) }), nil
	case *TypeRef:
		return p.typeToken(v), nil
	case *FieldRef:
		decl, typ := p.typeToken(v.DeclaringType), p.typeToken(v.Type)
		return p.intern("f:"+v.DeclaringType.String()+"::"+v.Name+":"+v.Type.String(), TokenField, func() {
			p.enc.u32(decl)
			p.enc.str(v.Name)
			p.enc.u32(typ)
		}), nil
	case *MethodRef:
		return p.methodToken(v), nil
	}
	return NoToken, fmt.Errorf("unsupported pool operand %T", v)
}

func (p *poolWriter) typeToken(t *TypeRef) uint32 {
	if t == nil {
		return NoToken
	}
	switch t.Kind {
	case KindArray, KindByRef:
		elem := p.typeToken(t.Elem)
		return p.intern("t:"+t.String(), TokenType, func() {
			p.enc.u8(uint8(t.Kind))
			p.enc.u32(elem)
		})
	case KindGenericInst:
		def := p.typeToken(t.Elem)
		args := make([]uint32, 0, len(t.Args))
		for _, a := range t.Args {
			args = append(args, p.typeToken(a))
		}
		return p.intern("t:"+genericKey(t), TokenType, func() {
			p.enc.u8(uint8(t.Kind))
			p.enc.u32(def)
			p.enc.uvarint(len(args))
			for _, a := range args {
				p.enc.u32(a)
			}
		})
	}
	return p.intern("t:"+t.String(), TokenType, func() {
		p.enc.u8(uint8(t.Kind))
		p.enc.str(t.Scope)
		p.enc.str(t.Namespace)
		p.enc.str(t.Name)
	})
}

func genericKey(t *TypeRef) string {
	args := make([]string, 0, len(t.Args))
	for _, a := range t.Args {
		args = append(args, a.String())
	}
	return t.Elem.String() + "<" + strings.Join(args, ",") + ">"
}

func (p *poolWriter) methodToken(m *MethodRef) uint32 {
	decl := p.typeToken(m.DeclaringType)
	ret := p.typeToken(m.Return)
	params := make([]uint32, 0, len(m.Params))
	for _, prm := range m.Params {
		params = append(params, p.typeToken(prm.Type))
	}
	generics := make([]uint32, 0, len(m.GenericArgs))
	for _, g := range m.GenericArgs {
		generics = append(generics, p.typeToken(g))
	}
	key := fmt.Sprintf("m:%s|%s|%v", m.DeclaringType.String(), m.FullName(), m.HasThis)
	for _, g := range m.GenericArgs {
		key += "|" + g.String()
	}
	return p.intern(key, TokenMethod, func() {
		p.enc.u32(decl)
		p.enc.str(m.Name)
		p.enc.bool(m.HasThis)
		p.enc.u32(ret)
		p.enc.uvarint(len(params))
		for i, prm := range m.Params {
			p.enc.str(prm.Name)
			p.enc.u32(params[i])
			p.enc.bool(prm.Out)
		}
		p.enc.uvarint(len(generics))
		for _, g := range generics {
			p.enc.u32(g)
		}
	})
}

// pool is the decoded member pool of a module.
type pool struct {
	entries []any
}

func readPool(d *decoder) *pool {
	p := &pool{}
	n := d.uvarint()
	for i := 0; i < n && d.err == nil; i++ {
		kind := uint32(d.u8())
		switch kind {
		case TokenString:
			p.entries = append(p.entries, d.str())
		case TokenType:
			p.entries = append(p.entries, p.readType(d))
		case TokenField:
			f := &FieldRef{}
			f.DeclaringType = p.typeAt(d, d.u32())
			f.Name = d.str()
			f.Type = p.typeAt(d, d.u32())
			p.entries = append(p.entries, f)
		case TokenMethod:
			m := &MethodRef{}
			m.DeclaringType = p.typeAt(d, d.u32())
			m.Name = d.str()
			m.HasThis = d.bool()
			m.Return = p.typeAt(d, d.u32())
			np := d.uvarint()
			for j := 0; j < np && d.err == nil; j++ {
				var prm Param
				prm.Name = d.str()
				prm.Type = p.typeAt(d, d.u32())
				prm.Out = d.bool()
				m.Params = append(m.Params, prm)
			}
			ng := d.uvarint()
			for j := 0; j < ng && d.err == nil; j++ {
				m.GenericArgs = append(m.GenericArgs, p.typeAt(d, d.u32()))
			}
			p.entries = append(p.entries, m)
		default:
			d.fail(fmt.Errorf("unknown pool entry kind %#x", kind))
		}
	}
	return p
}

func (p *pool) readType(d *decoder) *TypeRef {
	t := &TypeRef{Kind: TypeKind(d.u8())}
	switch t.Kind {
	case KindNamed:
		t.Scope = d.str()
		t.Namespace = d.str()
		t.Name = d.str()
	case KindArray, KindByRef:
		t.Elem = p.typeAt(d, d.u32())
	case KindGenericInst:
		t.Elem = p.typeAt(d, d.u32())
		n := d.uvarint()
		for i := 0; i < n && d.err == nil; i++ {
			t.Args = append(t.Args, p.typeAt(d, d.u32()))
		}
	default:
		d.fail(fmt.Errorf("unknown type kind %d", t.Kind))
	}
	return t
}

func (p *pool) lookup(tok uint32) (any, error) {
	kind, idx := splitToken(tok)
	if idx >= len(p.entries) {
		return nil, fmt.Errorf("token %#08x out of range", tok)
	}
	v := p.entries[idx]
	var ok bool
	switch kind {
	case TokenString:
		_, ok = v.(string)
	case TokenType:
		_, ok = v.(*TypeRef)
	case TokenField:
		_, ok = v.(*FieldRef)
	case TokenMethod:
		_, ok = v.(*MethodRef)
	}
	if !ok {
		return nil, fmt.Errorf("token %#08x does not reference a %#x entry", tok, kind)
	}
	return v, nil
}

func (p *pool) typeAt(d *decoder, tok uint32) *TypeRef {
	if tok == NoToken {
		return nil
	}
	v, err := p.lookup(tok)
	if err != nil {
		d.fail(err)
		return nil
	}
	return v.(*TypeRef)
}

func (p *pool) methodAt(d *decoder, tok uint32) *MethodRef {
	v, err := p.lookup(tok)
	if err != nil {
		d.fail(err)
		return nil
	}
	return v.(*MethodRef)
}
