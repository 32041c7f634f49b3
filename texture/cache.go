package texture

import (
	"fmt"
	"image"
	"os"

	"github.com/binzume/pmxmerge/pmx"
)

// Cache loads each texture of a model directory at most once.
type Cache struct {
	srcDir   string
	textures map[string]*entry
}

type entry struct {
	path   string
	img    image.Image
	format string
	err    error
}

func NewCache(srcDir string) *Cache {
	return &Cache{srcDir: srcDir, textures: map[string]*entry{}}
}

func (c *Cache) get(name string) *entry {
	if t, ok := c.textures[name]; ok {
		return t
	}
	t := &entry{}
	t.path, t.err = Resolve(c.srcDir, name)
	c.textures[name] = t
	return t
}

// Path returns the file a texture name resolves to.
func (c *Cache) Path(name string) (string, error) {
	t := c.get(name)
	return t.path, t.err
}

// Image returns the decoded texture and its format name.
func (c *Cache) Image(name string) (image.Image, string, error) {
	t := c.get(name)
	if t.img != nil || t.err != nil {
		return t.img, t.format, t.err
	}

	f, err := os.Open(t.path)
	if err != nil {
		t.err = err
		return nil, "", err
	}
	defer f.Close()

	t.img, t.format, t.err = Decode(f, name)
	return t.img, t.format, t.err
}

// Status describes one entry of a model's texture pool.
type Status struct {
	Name   string
	Path   string
	Format string
	Width  int
	Height int
	Err    error
}

func (s *Status) OK() bool {
	return s.Err == nil
}

func (s *Status) String() string {
	if s.Err != nil {
		return fmt.Sprintf("%s: %v", s.Name, s.Err)
	}
	return fmt.Sprintf("%s: %s %dx%d", s.Name, s.Format, s.Width, s.Height)
}

// Check inspects every texture used by the materials of m, relative to srcDir.
func Check(m *pmx.Model, srcDir string) []*Status {
	c := NewCache(srcDir)
	var names []string
	seen := map[string]bool{}
	add := func(name string) {
		if name != "" && !seen[name] {
			seen[name] = true
			names = append(names, name)
		}
	}
	for _, mat := range m.Materials.All() {
		add(mat.Texture)
		add(mat.SphereTexture)
		if !mat.SharedToon {
			add(mat.ToonTexture)
		}
	}

	var result []*Status
	for _, name := range names {
		result = append(result, c.status(name))
	}
	return result
}

func (c *Cache) status(name string) *Status {
	s := &Status{Name: name}
	s.Path, s.Err = c.Path(name)
	if s.Err != nil {
		return s
	}
	f, err := os.Open(s.Path)
	if err != nil {
		s.Err = err
		return s
	}
	defer f.Close()

	conf, format, err := DecodeConfig(f, name)
	if err != nil {
		s.Err = fmt.Errorf("%s: %w", s.Path, err)
		return s
	}
	s.Format, s.Width, s.Height = format, conf.Width, conf.Height
	return s
}
