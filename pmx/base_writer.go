package pmx

import (
	"encoding/binary"
	"fmt"
	"io"
)

// baseWriter writes little-endian primitives, keeping the first error.
type baseWriter struct {
	w   io.Writer
	err error
}

func (p *baseWriter) write(v interface{}) error {
	if p.err != nil {
		return p.err
	}
	p.err = binary.Write(p.w, binary.LittleEndian, v)
	return p.err
}

func (p *baseWriter) writeUint8(v uint8) {
	p.write(v)
}

func (p *baseWriter) writeInt8(v int8) {
	p.write(v)
}

func (p *baseWriter) writeUint16(v uint16) {
	p.write(v)
}

func (p *baseWriter) writeInt(v int) {
	p.write(int32(v))
}

func (p *baseWriter) writeFloat(v float32) {
	p.write(v)
}

func (p *baseWriter) writeVUInt(sz byte, v int) {
	switch sz {
	case 1:
		p.write(uint8(v))
	case 2:
		p.write(uint16(v))
	case 4:
		p.write(uint32(v))
	default:
		p.fail("invalid index size %d", sz)
	}
}

func (p *baseWriter) writeVInt(sz byte, v int) {
	switch sz {
	case 1:
		p.write(int8(v))
	case 2:
		p.write(int16(v))
	case 4:
		p.write(int32(v))
	default:
		p.fail("invalid index size %d", sz)
	}
}

func (p *baseWriter) fail(format string, args ...interface{}) {
	if p.err == nil {
		p.err = fmt.Errorf(format, args...)
	}
}

// writeText writes s re-encoded with enc, prefixed by its encoded byte length.
func (p *baseWriter) writeText(enc Encoding, s string) {
	data, err := enc.charset().NewEncoder().Bytes([]byte(s))
	if err != nil {
		p.fail("encoding %q: %v", s, err)
		return
	}
	p.writeInt(len(data))
	p.write(data)
}
