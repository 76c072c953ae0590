package il

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
	"math"
)

// encoder accumulates little-endian fields and remembers the first error.
type encoder struct {
	buf bytes.Buffer
	err error
}

func (e *encoder) u8(v uint8)   { e.buf.WriteByte(v) }
func (e *encoder) u16(v uint16) { e.buf.Write(binary.LittleEndian.AppendUint16(nil, v)) }
func (e *encoder) u32(v uint32) { e.buf.Write(binary.LittleEndian.AppendUint32(nil, v)) }
func (e *encoder) u64(v uint64) { e.buf.Write(binary.LittleEndian.AppendUint64(nil, v)) }

func (e *encoder) uvarint(v int) {
	if v < 0 {
		e.fail(fmt.Errorf("negative length %d", v))
		return
	}
	e.buf.Write(binary.AppendUvarint(nil, uint64(v)))
}

func (e *encoder) bool(v bool) {
	if v {
		e.u8(1)
	} else {
		e.u8(0)
	}
}

func (e *encoder) bytes(b []byte) {
	e.uvarint(len(b))
	e.buf.Write(b)
}

func (e *encoder) str(s string) {
	e.uvarint(len(s))
	e.buf.WriteString(s)
}

func (e *encoder) fail(err error) {
	if e.err == nil {
		e.err = err
	}
}

// decoder reads fields written by encoder and remembers the first error.
type decoder struct {
	r   *bytes.Reader
	err error
}

func newDecoder(data []byte) *decoder {
	return &decoder{r: bytes.NewReader(data)}
}

func (d *decoder) read(n int) []byte {
	if d.err != nil {
		return make([]byte, n)
	}
	b := make([]byte, n)
	if _, err := io.ReadFull(d.r, b); err != nil {
		d.err = fmt.Errorf("truncated image: %w", err)
	}
	return b
}

func (d *decoder) u8() uint8   { return d.read(1)[0] }
func (d *decoder) u16() uint16 { return binary.LittleEndian.Uint16(d.read(2)) }
func (d *decoder) u32() uint32 { return binary.LittleEndian.Uint32(d.read(4)) }
func (d *decoder) u64() uint64 { return binary.LittleEndian.Uint64(d.read(8)) }
func (d *decoder) bool() bool  { return d.u8() != 0 }

func (d *decoder) uvarint() int {
	if d.err != nil {
		return 0
	}
	v, err := binary.ReadUvarint(d.r)
	if err != nil {
		d.err = fmt.Errorf("truncated image: %w", err)
		return 0
	}
	if v > math.MaxInt32 {
		d.err = fmt.Errorf("length %d out of range", v)
		return 0
	}
	return int(v)
}

func (d *decoder) bytes() []byte {
	n := d.uvarint()
	if n > d.r.Len() {
		d.fail(fmt.Errorf("length %d exceeds remaining %d bytes", n, d.r.Len()))
		return nil
	}
	if n == 0 {
		return nil
	}
	return d.read(n)
}

func (d *decoder) str() string { return string(d.bytes()) }

// offset is the number of bytes consumed so far.
func (d *decoder) offset() int { return int(d.r.Size()) - d.r.Len() }

func (d *decoder) fail(err error) {
	if d.err == nil {
		d.err = err
	}
}
