// Package texture resolves and decodes the texture files a PMX model refers to.
package texture

import (
	"bytes"
	"image"
	"image/jpeg"
	"image/png"
	"io"
	"os"
	"path/filepath"
	"strings"

	_ "image/gif"

	"github.com/blezek/tga"
	_ "github.com/oov/psd"
	_ "golang.org/x/image/bmp"
	"golang.org/x/image/draw"
)

// LocalPath converts a texture path as stored in PMX ("tex\\a.png") to a path
// relative to the model directory.
func LocalPath(name string) string {
	return filepath.FromSlash(strings.ReplaceAll(name, "\\", "/"))
}

// Resolve finds the file for a texture path. PMX files are usually authored on
// Windows, so a case-insensitive match is tried when the exact path does not exist.
func Resolve(dir, name string) (string, error) {
	path := filepath.Join(dir, LocalPath(name))
	_, err := os.Stat(path)
	if err == nil || !os.IsNotExist(err) {
		return path, err
	}

	resolved := dir
	for _, elem := range strings.Split(filepath.ToSlash(LocalPath(name)), "/") {
		if elem == "" || elem == "." || elem == ".." {
			resolved = filepath.Join(resolved, elem)
			continue
		}
		entries, rerr := os.ReadDir(resolved)
		if rerr != nil {
			return path, err
		}
		found := ""
		for _, e := range entries {
			if strings.EqualFold(e.Name(), elem) {
				found = e.Name()
				break
			}
		}
		if found == "" {
			return path, err
		}
		resolved = filepath.Join(resolved, found)
	}
	return resolved, nil
}

// Decode decodes an image in any registered format. TGA has no magic number,
// so it is tried last when the file name says so.
func Decode(r io.ReadSeeker, name string) (image.Image, string, error) {
	img, format, err := image.Decode(r)
	if err != nil && strings.ToLower(filepath.Ext(name)) == ".tga" {
		// retry
		r.Seek(0, io.SeekStart)
		img, err = tga.Decode(r)
		format = "tga"
	}
	return img, format, err
}

// DecodeConfig returns the format and size of an image without decoding all of it
// where the format allows.
func DecodeConfig(r io.ReadSeeker, name string) (image.Config, string, error) {
	conf, format, err := image.DecodeConfig(r)
	if err != nil && strings.ToLower(filepath.Ext(name)) == ".tga" {
		r.Seek(0, io.SeekStart)
		img, terr := tga.Decode(r)
		if terr != nil {
			return conf, "", terr
		}
		b := img.Bounds()
		return image.Config{ColorModel: img.ColorModel(), Width: b.Dx(), Height: b.Dy()}, "tga", nil
	}
	return conf, format, err
}

// Scale resizes img by scale, further reduced so that the width stays within limit.
// A limit of 0 means unlimited.
func Scale(img image.Image, scale float32, limit int) image.Image {
	rect := img.Bounds()
	if limit > 0 {
		sz := int(float32(rect.Dx()) * scale)
		if sz > limit {
			scale *= float32(limit) / float32(sz)
		}
	}
	if scale == 1.0 {
		return img
	}
	dst := image.NewRGBA(image.Rect(0, 0, int(float32(rect.Dx())*scale), int(float32(rect.Dy())*scale)))
	draw.CatmullRom.Scale(dst, dst.Bounds(), img, rect, draw.Over, nil)
	return dst
}

// Encode writes img as PNG, or as JPEG for "image/jpeg".
func Encode(img image.Image, mimeType string) (*bytes.Buffer, error) {
	w := new(bytes.Buffer)
	var err error
	if mimeType == "image/jpeg" {
		err = jpeg.Encode(w, img, nil)
	} else {
		err = png.Encode(w, img)
	}
	return w, err
}

// HasAlpha reports whether img has any non-opaque pixel.
func HasAlpha(img image.Image) bool {
	if o, ok := img.(interface{ Opaque() bool }); ok {
		return !o.Opaque()
	}
	return false
}
