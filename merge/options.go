package merge

import (
	"fmt"
	"io"
	"os"
	"sort"
	"strings"

	"gopkg.in/yaml.v2"
)

type Category string

const (
	Bone        Category = "BONE"
	Material    Category = "MATERIAL"
	MatGeom     Category = "MAT_GEOM"
	MatSetting  Category = "MAT_SETTING"
	BoneLoc     Category = "BONE_LOC"
	BoneSetting Category = "BONE_SETTING"
	Morph       Category = "MORPH"
	Physics     Category = "PHYSICS"
	Display     Category = "DISPLAY"
)

var allCategories = []Category{Bone, Material, MatGeom, MatSetting, BoneLoc, BoneSetting, Morph, Physics, Display}

// Categories is a set of merge categories.
type Categories map[Category]bool

func NewCategories(c ...Category) Categories {
	s := Categories{}
	for _, v := range c {
		s[v] = true
	}
	return s
}

// ParseCategories parses a comma separated list such as "BONE,MORPH". Names are
// case insensitive. An empty string gives an empty set.
func ParseCategories(s string) (Categories, error) {
	var names []string
	for _, f := range strings.Split(s, ",") {
		if f = strings.TrimSpace(f); f != "" {
			names = append(names, f)
		}
	}
	return categoriesFromNames(names)
}

func categoriesFromNames(names []string) (Categories, error) {
	set := Categories{}
	for _, name := range names {
		c := Category(strings.ToUpper(strings.TrimSpace(name)))
		if !c.valid() {
			return nil, fmt.Errorf("unknown merge category: %q", name)
		}
		set[c] = true
	}
	return set, nil
}

func (c Category) valid() bool {
	for _, v := range allCategories {
		if c == v {
			return true
		}
	}
	return false
}

func (s Categories) Has(c Category) bool {
	return s[c]
}

func (s Categories) HasAny(c ...Category) bool {
	for _, v := range c {
		if s[v] {
			return true
		}
	}
	return false
}

func (s Categories) String() string {
	var names []string
	for c := range s {
		names = append(names, string(c))
	}
	sort.Strings(names)
	return "{" + strings.Join(names, ", ") + "}"
}

type Options struct {
	Append Categories
	Update Categories
}

// DefaultOptions appends and updates everything.
func DefaultOptions() *Options {
	return &Options{
		Append: NewCategories(Material, Bone, Morph, Physics, Display),
		Update: NewCategories(MatGeom, MatSetting, BoneLoc, BoneSetting, Morph, Physics, Display),
	}
}

// Config is the content of a merge options file.
//
//	append: [BONE, MATERIAL]
//	update: [MAT_SETTING]
//	overwrite: false
//	preview: preview.glb
//	check_textures: true
type Config struct {
	Append        []string `yaml:"append"`
	Update        []string `yaml:"update"`
	Overwrite     bool     `yaml:"overwrite"`
	Preview       string   `yaml:"preview"`
	CheckTextures bool     `yaml:"check_textures"`
}

func LoadConfig(path string) (*Config, error) {
	r, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer r.Close()

	var conf Config
	if err := yaml.NewDecoder(r).Decode(&conf); err != nil && err != io.EOF {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	return &conf, nil
}

// Options converts the category lists. A nil list keeps the default for that side,
// an explicit empty list selects nothing.
func (c *Config) Options() (*Options, error) {
	opts := DefaultOptions()
	var err error
	if c.Append != nil {
		if opts.Append, err = categoriesFromNames(c.Append); err != nil {
			return nil, err
		}
	}
	if c.Update != nil {
		if opts.Update, err = categoriesFromNames(c.Update); err != nil {
			return nil, err
		}
	}
	return opts, nil
}
