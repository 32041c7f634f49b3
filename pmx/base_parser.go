package pmx

import (
	"bytes"
	"encoding/binary"
	"fmt"
	"io"
)

// baseParser reads little-endian primitives. The first error is kept in err and
// turns every later read into a no-op returning zero values.
type baseParser struct {
	r   io.Reader
	err error
}

func (p *baseParser) read(v interface{}) error {
	if p.err != nil {
		return p.err
	}
	if err := binary.Read(p.r, binary.LittleEndian, v); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		p.err = err
	}
	return p.err
}

func (p *baseParser) fail(format string, args ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

func (p *baseParser) readUint8() uint8 {
	var v uint8
	p.read(&v)
	return v
}

func (p *baseParser) readInt8() int8 {
	var v int8
	p.read(&v)
	return v
}

func (p *baseParser) readUint16() uint16 {
	var v uint16
	p.read(&v)
	return v
}

func (p *baseParser) readInt() int {
	var v int32
	p.read(&v)
	return int(v)
}

// readCount reads a 4-byte element count.
func (p *baseParser) readCount() int {
	n := p.readInt()
	if n < 0 {
		p.fail("negative count %d", n)
		return 0
	}
	return n
}

func (p *baseParser) readFloat() float32 {
	var v float32
	p.read(&v)
	return v
}

func (p *baseParser) readVector3() Vector3 {
	var v Vector3
	p.read(&v)
	return v
}

func (p *baseParser) readVector4() Vector4 {
	var v Vector4
	p.read(&v)
	return v
}

func (p *baseParser) readVUInt(sz byte) int {
	switch sz {
	case 1:
		return int(p.readUint8())
	case 2:
		return int(p.readUint16())
	case 4:
		var v uint32
		p.read(&v)
		return int(v)
	}
	p.fail("invalid index size %d", sz)
	return 0
}

func (p *baseParser) readVInt(sz byte) int {
	switch sz {
	case 1:
		return int(p.readInt8())
	case 2:
		var v int16
		p.read(&v)
		return int(v)
	case 4:
		return p.readInt()
	}
	p.fail("invalid index size %d", sz)
	return 0
}

// readText reads a length-prefixed string. The length counts encoded bytes.
func (p *baseParser) readText(enc Encoding) string {
	n := p.readCount()
	if p.err != nil || n == 0 {
		return ""
	}
	var buf bytes.Buffer
	if _, err := io.CopyN(&buf, p.r, int64(n)); err != nil {
		if err == io.EOF {
			err = io.ErrUnexpectedEOF
		}
		p.err = err
		return ""
	}
	s, err := enc.charset().NewDecoder().Bytes(buf.Bytes())
	if err != nil {
		p.err = err
		return ""
	}
	return string(s)
}
