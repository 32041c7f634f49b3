package texture

import (
	"encoding/binary"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"math/bits"

	"github.com/mauserzjeh/dxt"
)

const (
	ddsHeaderSize = 128
	ddsMaxSize    = 16384

	ddpfAlphaPixels = 0x1
	ddpfFourCC      = 0x4
	ddpfRGB         = 0x40
)

var ErrUnsupportedDDS = errors.New("unsupported dds format")

type ddsHeader struct {
	Magic       [4]byte
	Size        uint32
	Flags       uint32
	Height      uint32
	Width       uint32
	PitchOrSize uint32
	Depth       uint32
	MipMapCount uint32
	Reserved1   [11]uint32
	PixelFormat struct {
		Size        uint32
		Flags       uint32
		FourCC      [4]byte
		RGBBitCount uint32
		RBitMask    uint32
		GBitMask    uint32
		BBitMask    uint32
		ABitMask    uint32
	}
	Caps      [4]uint32
	Reserved2 uint32
}

func init() {
	image.RegisterFormat("dds", "DDS ", decodeDDS, decodeDDSConfig)
}

func readDDSHeader(r io.Reader) (*ddsHeader, error) {
	var h ddsHeader
	if err := binary.Read(r, binary.LittleEndian, &h); err != nil {
		return nil, err
	}
	if string(h.Magic[:]) != "DDS " || h.Size != 124 {
		return nil, fmt.Errorf("invalid dds header")
	}
	if h.Width == 0 || h.Height == 0 || h.Width > ddsMaxSize || h.Height > ddsMaxSize {
		return nil, fmt.Errorf("%w: %dx%d", ErrUnsupportedDDS, h.Width, h.Height)
	}
	return &h, nil
}

func decodeDDSConfig(r io.Reader) (image.Config, error) {
	h, err := readDDSHeader(r)
	if err != nil {
		return image.Config{}, err
	}
	return image.Config{ColorModel: color.RGBAModel, Width: int(h.Width), Height: int(h.Height)}, nil
}

// decodeDDS decodes the top mipmap level of DXT1, DXT5 and uncompressed 32bit DDS images.
func decodeDDS(r io.Reader) (image.Image, error) {
	h, err := readDDSHeader(r)
	if err != nil {
		return nil, err
	}
	w, ht := int(h.Width), int(h.Height)
	pf := &h.PixelFormat

	var pix []byte
	switch {
	case pf.Flags&ddpfFourCC != 0:
		var size int
		blocks := ((w + 3) / 4) * ((ht + 3) / 4)
		switch string(pf.FourCC[:]) {
		case "DXT1":
			size = blocks * 8
		case "DXT5":
			size = blocks * 16
		default:
			return nil, fmt.Errorf("%w: %q", ErrUnsupportedDDS, pf.FourCC[:])
		}
		data := make([]byte, size)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		if pf.FourCC[3] == '1' {
			pix, err = dxt.DecodeDXT1(data, uint(w), uint(ht))
		} else {
			pix, err = dxt.DecodeDXT5(data, uint(w), uint(ht))
		}
		if err != nil {
			return nil, err
		}
	case pf.Flags&ddpfRGB != 0 && pf.RGBBitCount == 32:
		data := make([]byte, w*ht*4)
		if _, err := io.ReadFull(r, data); err != nil {
			return nil, err
		}
		pix = make([]byte, len(data))
		for i := 0; i < len(data); i += 4 {
			v := binary.LittleEndian.Uint32(data[i:])
			pix[i] = maskedByte(v, pf.RBitMask)
			pix[i+1] = maskedByte(v, pf.GBitMask)
			pix[i+2] = maskedByte(v, pf.BBitMask)
			if pf.Flags&ddpfAlphaPixels != 0 {
				pix[i+3] = maskedByte(v, pf.ABitMask)
			} else {
				pix[i+3] = 255
			}
		}
	default:
		return nil, fmt.Errorf("%w: flags=%x bits=%d", ErrUnsupportedDDS, pf.Flags, pf.RGBBitCount)
	}

	img := image.NewRGBA(image.Rect(0, 0, w, ht))
	copy(img.Pix, pix)
	return img, nil
}

func maskedByte(v, mask uint32) byte {
	if mask == 0 {
		return 0
	}
	v = (v & mask) >> bits.TrailingZeros32(mask)
	if n := bits.OnesCount32(mask); n < 8 {
		return byte(v << (8 - n))
	}
	return byte(v)
}
