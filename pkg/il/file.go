package il

import (
	"encoding/binary"
	"errors"
	"fmt"
	"math"
	"os"
	"path/filepath"
	"strings"

	"github.com/google/uuid"
	"github.com/spf13/afero"
)

const (
	// Magic is "ILMD" little-endian.
	Magic uint32 = 0x444d4c49
	// FormatVersion is the only supported container version.
	FormatVersion uint16 = 1

	// SymbolsExt is the extension of the debug companion.
	SymbolsExt = ".pdb"
)

var (
	ErrInvalidMagic       = errors.New("invalid module magic")
	ErrUnsupportedVersion = errors.New("unsupported module format version")
	ErrSymbolsMismatch    = errors.New("symbols do not match module")
)

// Signer produces a signature over the encoded image content.
type Signer func(content []byte) ([]byte, error)

// EncodeOptions controls Encode.
type EncodeOptions struct {
	Sign Signer
}

// Image is an encoded module and its symbols.
type Image struct {
	Module  []byte
	Symbols []byte
}

// SymbolsPath returns the debug companion path of a module path.
func SymbolsPath(path string) string {
	return strings.TrimSuffix(path, filepath.Ext(path)) + SymbolsExt
}

// Encode serializes m and its debug line maps.
func Encode(m *Module, opts *EncodeOptions) (*Image, error) {
	if opts == nil {
		opts = &EncodeOptions{}
	}
	pw := newPoolWriter()
	syms := newSymbolWriter(m.MVID)

	var payload encoder
	writeAttributes(&payload, pw, m.CustomAttributes)
	payload.uvarint(len(m.Types))
	for ti, t := range m.Types {
		if err := writeType(&payload, pw, syms, ti, t); err != nil {
			return nil, fmt.Errorf("failed to encode type %s: %w", t.FullName(), err)
		}
	}
	if payload.err != nil {
		return nil, payload.err
	}
	if pw.enc.err != nil {
		return nil, pw.enc.err
	}

	attrs := m.Attributes &^ StrongNameSigned
	if opts.Sign != nil {
		attrs |= StrongNameSigned
	}

	var e encoder
	e.u32(Magic)
	e.u16(FormatVersion)
	e.buf.Write(m.MVID[:])
	e.str(m.Name)
	e.u32(uint32(attrs))
	e.u16(uint16(m.Architecture))
	e.str(m.Assembly.Name)
	e.str(m.Assembly.Version)
	e.bytes(m.Assembly.PublicKey)
	e.bool(m.CoreLibrary != nil)
	if m.CoreLibrary != nil {
		writeAssemblyRef(&e, m.CoreLibrary)
	}
	e.uvarint(len(m.AssemblyRefs))
	for _, r := range m.AssemblyRefs {
		writeAssemblyRef(&e, r)
	}
	e.uvarint(pw.count)
	e.buf.Write(pw.enc.buf.Bytes())
	e.buf.Write(payload.buf.Bytes())
	if e.err != nil {
		return nil, e.err
	}

	var sig []byte
	if opts.Sign != nil {
		var err error
		if sig, err = opts.Sign(e.buf.Bytes()); err != nil {
			return nil, fmt.Errorf("failed to sign module: %w", err)
		}
	}
	e.buf.Write(sig)
	e.u32(uint32(len(sig)))

	symbols, err := syms.bytes()
	if err != nil {
		return nil, err
	}
	return &Image{Module: e.buf.Bytes(), Symbols: symbols}, nil
}

func writeAssemblyRef(e *encoder, r *AssemblyRef) {
	e.str(r.Name)
	e.str(r.Version)
	e.bytes(r.PublicKeyToken)
}

const (
	argString uint8 = iota
	argInt32
	argBool
)

func writeAttributes(e *encoder, pw *poolWriter, attrs []*CustomAttribute) {
	e.uvarint(len(attrs))
	for _, a := range attrs {
		e.u32(pw.methodToken(a.Constructor))
		e.uvarint(len(a.Args))
		for _, arg := range a.Args {
			switch v := arg.(type) {
			case string:
				e.u8(argString)
				e.str(v)
			case int32:
				e.u8(argInt32)
				e.u32(uint32(v))
			case bool:
				e.u8(argBool)
				e.bool(v)
			default:
				e.fail(fmt.Errorf("unsupported attribute argument %T on %s", arg, a.TypeName()))
			}
		}
	}
}

func writeType(e *encoder, pw *poolWriter, syms *symbolWriter, ti int, t *TypeDef) error {
	e.str(t.Namespace)
	e.str(t.Name)
	e.u32(uint32(t.Attributes))
	e.u32(pw.typeToken(t.BaseType))
	e.uvarint(t.GenericParams)
	e.uvarint(len(t.Fields))
	for _, f := range t.Fields {
		e.str(f.Name)
		e.u32(pw.typeToken(f.Type))
		e.bool(f.Static)
	}
	writeAttributes(e, pw, t.CustomAttributes)
	e.uvarint(len(t.Methods))
	for mi, md := range t.Methods {
		if err := writeMethod(e, pw, syms, ti, mi, md); err != nil {
			return fmt.Errorf("method %s: %w", md.Name, err)
		}
	}
	return e.err
}

func writeMethod(e *encoder, pw *poolWriter, syms *symbolWriter, ti, mi int, md *MethodDef) error {
	e.str(md.Name)
	e.u16(uint16(md.Attributes))
	e.u32(pw.typeToken(md.Return))
	e.uvarint(len(md.Params))
	for _, p := range md.Params {
		e.str(p.Name)
		e.u32(pw.typeToken(p.Type))
		e.bool(p.Out)
	}
	writeAttributes(e, pw, md.CustomAttributes)
	e.bool(md.Body != nil)
	if md.Body == nil {
		return nil
	}
	b := md.Body
	code, offs, err := encodeCode(b, pw.token)
	if err != nil {
		return err
	}
	if b.MaxStack > math.MaxUint16 {
		return fmt.Errorf("%w: max stack %d", ErrOperandRange, b.MaxStack)
	}
	e.u16(uint16(b.MaxStack))
	e.bool(b.InitLocals)
	e.uvarint(len(b.Locals))
	for _, l := range b.Locals {
		e.u32(pw.typeToken(l))
	}
	e.bytes(code)
	e.uvarint(len(b.Regions))
	for i, r := range b.Regions {
		if err := writeRegion(e, pw, offs, len(code), r); err != nil {
			return fmt.Errorf("region %d: %w", i, err)
		}
	}
	if md.Debug.HasSequencePoints() {
		return syms.method(ti, mi, offs, md.Debug)
	}
	return nil
}

func writeRegion(e *encoder, pw *poolWriter, offs Offsets, size int, r *ExceptionRegion) error {
	bounds := []struct {
		id  InstrID
		end bool
	}{
		{r.TryStart, false},
		{r.TryEnd, true},
		{r.HandlerStart, false},
		{r.HandlerEnd, true},
	}
	e.u8(uint8(r.Kind))
	for _, bd := range bounds {
		off, ok := offs[bd.id]
		if bd.end {
			off, ok = offs.End(bd.id, size)
		}
		if !ok {
			return fmt.Errorf("%w: boundary %d", ErrMalformedRegion, bd.id)
		}
		e.u32(uint32(off))
	}
	filter := NoToken
	if r.FilterStart != NoInstr {
		off, ok := offs[r.FilterStart]
		if !ok {
			return fmt.Errorf("%w: filter %d", ErrMalformedRegion, r.FilterStart)
		}
		filter = uint32(off)
	}
	e.u32(filter)
	e.u32(pw.typeToken(r.CatchType))
	return nil
}

// Decode parses an encoded module. When symbols is non-nil the debug line maps are attached
// and ErrSymbolsMismatch is returned if they belong to another module.
func Decode(data, symbols []byte) (*Module, error) {
	content, sig, err := SplitSignature(data)
	if err != nil {
		return nil, err
	}
	d := newDecoder(content)
	if magic := d.u32(); magic != Magic {
		if d.err != nil {
			return nil, d.err
		}
		return nil, fmt.Errorf("%w: %#08x", ErrInvalidMagic, magic)
	}
	if v := d.u16(); v != FormatVersion {
		return nil, fmt.Errorf("%w: %d", ErrUnsupportedVersion, v)
	}
	m := &Module{}
	copy(m.MVID[:], d.read(len(m.MVID)))
	m.Name = d.str()
	m.Attributes = ModuleAttributes(d.u32())
	m.Architecture = Architecture(d.u16())
	m.Assembly.Name = d.str()
	m.Assembly.Version = d.str()
	m.Assembly.PublicKey = d.bytes()
	if d.bool() {
		m.CoreLibrary = readAssemblyRef(d)
	}
	n := d.uvarint()
	for i := 0; i < n && d.err == nil; i++ {
		r := readAssemblyRef(d)
		if m.CoreLibrary != nil && r.Name == m.CoreLibrary.Name {
			r = m.CoreLibrary
		}
		m.AssemblyRefs = append(m.AssemblyRefs, r)
	}
	p := readPool(d)
	if d.err != nil {
		return nil, d.err
	}
	m.Signature = sig

	md := &moduleDecoder{d: d, p: p, offsets: make(map[*MethodDef]map[int]InstrID)}
	m.CustomAttributes = md.attributes()
	nt := d.uvarint()
	for i := 0; i < nt && d.err == nil; i++ {
		t, err := md.typeDef()
		if err != nil {
			return nil, fmt.Errorf("type %d: %w", i, err)
		}
		m.AddType(t)
	}
	if d.err != nil {
		return nil, d.err
	}
	if d.r.Len() != 0 {
		return nil, fmt.Errorf("%d trailing bytes after module content", d.r.Len())
	}
	if symbols != nil {
		if err := readSymbols(m, md.offsets, symbols); err != nil {
			return nil, err
		}
	}
	return m, nil
}

// SplitSignature separates the signed content of an image from its trailing signature.
func SplitSignature(data []byte) ([]byte, []byte, error) {
	if len(data) < 4 {
		return nil, nil, fmt.Errorf("%w: image too small", ErrInvalidMagic)
	}
	n := int(binary.LittleEndian.Uint32(data[len(data)-4:]))
	if n > len(data)-4 {
		return nil, nil, fmt.Errorf("signature length %d exceeds image", n)
	}
	end := len(data) - 4 - n
	var sig []byte
	if n > 0 {
		sig = data[end : len(data)-4]
	}
	return data[:end], sig, nil
}

func readAssemblyRef(d *decoder) *AssemblyRef {
	return &AssemblyRef{Name: d.str(), Version: d.str(), PublicKeyToken: d.bytes()}
}

type moduleDecoder struct {
	d       *decoder
	p       *pool
	offsets map[*MethodDef]map[int]InstrID
}

func (md *moduleDecoder) attributes() []*CustomAttribute {
	d := md.d
	n := d.uvarint()
	var attrs []*CustomAttribute
	for i := 0; i < n && d.err == nil; i++ {
		a := &CustomAttribute{Constructor: md.p.methodAt(d, d.u32())}
		na := d.uvarint()
		for j := 0; j < na && d.err == nil; j++ {
			switch tag := d.u8(); tag {
			case argString:
				a.Args = append(a.Args, d.str())
			case argInt32:
				a.Args = append(a.Args, int32(d.u32()))
			case argBool:
				a.Args = append(a.Args, d.bool())
			default:
				d.fail(fmt.Errorf("unknown attribute argument tag %d", tag))
			}
		}
		attrs = append(attrs, a)
	}
	return attrs
}

func (md *moduleDecoder) typeDef() (*TypeDef, error) {
	d := md.d
	t := &TypeDef{
		Namespace:  d.str(),
		Name:       d.str(),
		Attributes: TypeAttributes(d.u32()),
	}
	t.BaseType = md.p.typeAt(d, d.u32())
	t.GenericParams = d.uvarint()
	nf := d.uvarint()
	for i := 0; i < nf && d.err == nil; i++ {
		f := &FieldDef{Name: d.str()}
		f.Type = md.p.typeAt(d, d.u32())
		f.Static = d.bool()
		t.Fields = append(t.Fields, f)
	}
	t.CustomAttributes = md.attributes()
	nm := d.uvarint()
	for i := 0; i < nm && d.err == nil; i++ {
		m, err := md.methodDef()
		if err != nil {
			return nil, fmt.Errorf("method %d: %w", i, err)
		}
		t.AddMethod(m)
	}
	return t, d.err
}

func (md *moduleDecoder) methodDef() (*MethodDef, error) {
	d := md.d
	m := &MethodDef{Name: d.str(), Attributes: MethodAttributes(d.u16())}
	m.Return = md.p.typeAt(d, d.u32())
	np := d.uvarint()
	for i := 0; i < np && d.err == nil; i++ {
		p := Param{Name: d.str()}
		p.Type = md.p.typeAt(d, d.u32())
		p.Out = d.bool()
		m.Params = append(m.Params, p)
	}
	m.CustomAttributes = md.attributes()
	if !d.bool() || d.err != nil {
		return m, d.err
	}
	maxStack := int(d.u16())
	initLocals := d.bool()
	var locals []*TypeRef
	nl := d.uvarint()
	for i := 0; i < nl && d.err == nil; i++ {
		locals = append(locals, md.p.typeAt(d, d.u32()))
	}
	code := d.bytes()
	if d.err != nil {
		return nil, d.err
	}
	b, at, err := decodeCode(code, md.p)
	if err != nil {
		return nil, err
	}
	b.MaxStack, b.InitLocals, b.Locals = maxStack, initLocals, locals
	nr := d.uvarint()
	for i := 0; i < nr && d.err == nil; i++ {
		r, err := md.region(at, len(code))
		if err != nil {
			return nil, fmt.Errorf("region %d: %w", i, err)
		}
		b.Regions = append(b.Regions, r)
	}
	m.Body = b
	md.offsets[m] = at
	return m, d.err
}

func (md *moduleDecoder) region(at map[int]InstrID, size int) (*ExceptionRegion, error) {
	d := md.d
	r := &ExceptionRegion{Kind: HandlerKind(d.u8()), FilterStart: NoInstr}
	start := func(off uint32) (InstrID, error) {
		id, ok := at[int(off)]
		if !ok {
			return NoInstr, fmt.Errorf("%w: IL_%04x", ErrMalformedRegion, off)
		}
		return id, nil
	}
	end := func(off uint32) (InstrID, error) {
		if int(off) == size {
			return NoInstr, nil
		}
		return start(off)
	}
	var err error
	if r.TryStart, err = start(d.u32()); err != nil {
		return nil, err
	}
	if r.TryEnd, err = end(d.u32()); err != nil {
		return nil, err
	}
	if r.HandlerStart, err = start(d.u32()); err != nil {
		return nil, err
	}
	if r.HandlerEnd, err = end(d.u32()); err != nil {
		return nil, err
	}
	if filter := d.u32(); filter != NoToken {
		if r.FilterStart, err = start(filter); err != nil {
			return nil, err
		}
	}
	r.CatchType = md.p.typeAt(d, d.u32())
	return r, d.err
}

// Open reads the module at path and, when present, its sibling symbols file.
func Open(fs afero.Fs, path string) (*Module, error) {
	data, err := afero.ReadFile(fs, path)
	if err != nil {
		return nil, err
	}
	symbols, err := afero.ReadFile(fs, SymbolsPath(path))
	if err != nil && !os.IsNotExist(err) {
		return nil, err
	}
	return Decode(data, symbols)
}

// ReadMVID returns the module identity stored in an encoded module or symbols file.
func ReadMVID(data []byte) (uuid.UUID, error) {
	var id uuid.UUID
	if len(data) < 6+len(id) {
		return id, fmt.Errorf("%w: image too small", ErrInvalidMagic)
	}
	switch magic := binary.LittleEndian.Uint32(data); magic {
	case Magic, SymbolsMagic:
	default:
		return id, fmt.Errorf("%w: %#08x", ErrInvalidMagic, magic)
	}
	copy(id[:], data[6:6+len(id)])
	return id, nil
}
