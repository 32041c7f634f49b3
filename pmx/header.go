package pmx

import (
	"fmt"

	"golang.org/x/text/encoding"
	"golang.org/x/text/encoding/unicode"
)

const (
	Signature     = "PMX "
	Version       = float32(2.0)
	headerInfoLen = 8
)

type Encoding byte

const (
	EncodingUTF16 Encoding = 0
	EncodingUTF8  Encoding = 1
)

func (e Encoding) String() string {
	switch e {
	case EncodingUTF16:
		return "utf-16-le"
	case EncodingUTF8:
		return "utf-8"
	}
	return fmt.Sprintf("unknown(%d)", byte(e))
}

func (e Encoding) charset() encoding.Encoding {
	if e == EncodingUTF8 {
		return unicode.UTF8
	}
	return unicode.UTF16(unicode.LittleEndian, unicode.IgnoreBOM)
}

const (
	AttrStringEncoding int = iota
	AttrExtUV
	AttrVertIndexSz
	AttrTexIndexSz
	AttrMatIndexSz
	AttrBoneIndexSz
	AttrMorphIndexSz
	AttrRBIndexSz
)

type Header struct {
	Format  []byte
	Version float32
	Info    []byte
}

func (h *Header) Encoding() Encoding { return Encoding(h.Info[AttrStringEncoding]) }

func (h *Header) String() string {
	return fmt.Sprintf("encoding %v, uvs %d, vtx %d, tex %d, mat %d, bone %d, morph %d, rigid %d",
		h.Encoding(), h.Info[AttrExtUV], h.Info[AttrVertIndexSz], h.Info[AttrTexIndexSz],
		h.Info[AttrMatIndexSz], h.Info[AttrBoneIndexSz], h.Info[AttrMorphIndexSz], h.Info[AttrRBIndexSz])
}

// IndexSize returns the byte width of an index into a collection of count elements.
// Signed indices reserve -1 for "none", so they switch widths at half the range.
func IndexSize(count int, signed bool) byte {
	s := 1
	if signed {
		s = 2
	}
	if count < (1<<8)/s {
		return 1
	} else if count < (1<<16)/s {
		return 2
	}
	return 4
}

// NewHeader computes a header from the current cardinalities of m.
func NewHeader(m *Model) *Header {
	return &Header{
		Format:  []byte(Signature),
		Version: Version,
		Info: []byte{
			byte(m.Encoding),
			byte(m.AdditionalUVs),
			IndexSize(len(m.Vertices), false),
			IndexSize(len(m.Textures), true),
			IndexSize(m.Materials.Len(), true),
			IndexSize(m.Bones.Len(), true),
			IndexSize(m.Morphs.Len(), true),
			IndexSize(m.RigidBodies.Len(), true),
		},
	}
}

func validIndexSize(sz byte) bool {
	return sz == 1 || sz == 2 || sz == 4
}
