package pmx

import (
	"errors"
	"fmt"
	"strings"

	"github.com/binzume/pmxmerge/geom"
)

func (m *Model) AppendVertices(vs ...*Vertex) {
	m.Vertices = append(m.Vertices, vs...)
}

// EnsureTexture adds path to the texture pool if missing and returns its index.
// An empty path means no texture and returns -1.
func (m *Model) EnsureTexture(path string) int {
	if path == "" {
		return -1
	}
	for i, t := range m.Textures {
		if t == path {
			return i
		}
	}
	m.Textures = append(m.Textures, path)
	return len(m.Textures) - 1
}

func (m *Model) FaceCount() int {
	n := 0
	for _, mat := range m.Materials.All() {
		n += len(mat.Faces)
	}
	return n
}

// RemoveMaterial removes a material together with its faces and the material
// morph offsets that target it. Vertices left unused are removed on save.
func (m *Model) RemoveMaterial(name string) bool {
	if _, ok := m.Materials.Remove(name); !ok {
		return false
	}
	for _, mo := range m.Morphs.All() {
		if mo.Type != MorphMaterial {
			continue
		}
		offsets := mo.Material[:0]
		for _, o := range mo.Material {
			if o.Material != name {
				offsets = append(offsets, o)
			}
		}
		mo.Material = offsets
	}
	return true
}

func (m *Model) ReplaceMaterialFaces(name string, faces []*Face) error {
	mat, ok := m.Materials.Get(name)
	if !ok {
		return fmt.Errorf("material not found: %q", name)
	}
	mat.Faces = faces
	return nil
}

// PurgeUnusedVertices removes vertices no face refers to, and drops vertex and
// UV morph offsets whose vertex is not kept. Returns the number of removed vertices.
func (m *Model) PurgeUnusedVertices() int {
	used := map[*Vertex]bool{}
	for _, mat := range m.Materials.All() {
		for _, f := range mat.Faces {
			for _, v := range f.Verts {
				used[v] = true
			}
		}
	}
	before := len(m.Vertices)
	vertices := m.Vertices[:0]
	for _, v := range m.Vertices {
		if used[v] {
			vertices = append(vertices, v)
		}
	}
	for i := len(vertices); i < before; i++ {
		m.Vertices[i] = nil
	}
	m.Vertices = vertices

	kept := map[*Vertex]bool{}
	for _, v := range m.Vertices {
		kept[v] = true
	}
	for _, mo := range m.Morphs.All() {
		switch {
		case mo.Type == MorphVertex:
			offsets := mo.Vertex[:0]
			for _, o := range mo.Vertex {
				if kept[o.Vertex] {
					offsets = append(offsets, o)
				}
			}
			mo.Vertex = offsets
		case mo.Type.IsUV():
			offsets := mo.UV[:0]
			for _, o := range mo.UV {
				if kept[o.Vertex] {
					offsets = append(offsets, o)
				}
			}
			mo.UV = offsets
		}
	}
	return before - len(m.Vertices)
}

// PurgeUnusedTextures removes pool entries no material refers to.
func (m *Model) PurgeUnusedTextures() int {
	used := map[string]bool{}
	for _, mat := range m.Materials.All() {
		used[mat.Texture] = true
		used[mat.SphereTexture] = true
		if !mat.SharedToon {
			used[mat.ToonTexture] = true
		}
	}
	before := len(m.Textures)
	var textures []string
	for _, t := range m.Textures {
		if used[t] {
			textures = append(textures, t)
		}
	}
	m.Textures = textures
	return before - len(m.Textures)
}

// Validate reports unnamed and duplicated elements in every named collection.
func (m *Model) Validate() error {
	return errors.Join(
		m.Materials.Validate(),
		m.Bones.Validate(),
		m.Morphs.Validate(),
		m.DisplaySlots.Validate(),
		m.RigidBodies.Validate(),
		m.Joints.Validate(),
	)
}

// EmptyMorphs returns the names of vertex morphs without offsets.
func (m *Model) EmptyMorphs() []string {
	var names []string
	for _, mo := range m.Morphs.All() {
		if mo.Type == MorphVertex && len(mo.Vertex) == 0 {
			names = append(names, mo.Name)
		}
	}
	return names
}

func (m *Model) Bounds() *geom.Bounds {
	b := geom.NewBounds()
	for _, v := range m.Vertices {
		b.Extend(&geom.Vector3{X: v.Pos.X, Y: v.Pos.Y, Z: v.Pos.Z})
	}
	return b
}

// Summary returns a short multi-line description of the model contents.
func (m *Model) Summary() string {
	var sb strings.Builder
	fmt.Fprintf(&sb, "Name: %s (%s)\n", m.Name, m.NameEn)
	fmt.Fprintf(&sb, "Encoding: %v, additional UVs: %d\n", m.Encoding, m.AdditionalUVs)
	fmt.Fprintf(&sb, "Vertices: %d, faces: %d, textures: %d\n", len(m.Vertices), m.FaceCount(), len(m.Textures))
	fmt.Fprintf(&sb, "Materials: %d, bones: %d, morphs: %d, display slots: %d\n",
		m.Materials.Len(), m.Bones.Len(), m.Morphs.Len(), m.DisplaySlots.Len())
	fmt.Fprintf(&sb, "Rigid bodies: %d, joints: %d\n", m.RigidBodies.Len(), m.Joints.Len())
	if b := m.Bounds(); !b.Empty() {
		size, center := b.Size(), b.Center()
		fmt.Fprintf(&sb, "Size: %.2f x %.2f x %.2f, center: (%.2f, %.2f, %.2f)\n",
			size.X, size.Y, size.Z, center.X, center.Y, center.Z)
	}
	if empty := m.EmptyMorphs(); len(empty) > 0 {
		fmt.Fprintf(&sb, "Empty vertex morphs: %s\n", strings.Join(empty, ", "))
	}
	return sb.String()
}
