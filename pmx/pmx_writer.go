package pmx

import (
	"bufio"
	"fmt"
	"io"
	"log"
	"os"
	"path/filepath"
)

type PMXWriter struct {
	baseWriter
	header *Header
	model  *Model

	vertexIndex  map[*Vertex]int
	textureIndex map[string]int
}

func NewPMXWriter(w io.Writer) *PMXWriter {
	return &PMXWriter{baseWriter: baseWriter{w: w}}
}

func (w *PMXWriter) writeText(s string) {
	w.baseWriter.writeText(w.header.Encoding(), s)
}

func (w *PMXWriter) writeIndex(attrTyp int, v int) {
	w.writeVInt(w.header.Info[attrTyp], v)
}

func (w *PMXWriter) writeUIndex(attrTyp int, v int) {
	w.writeVUInt(w.header.Info[attrTyp], v)
}

func indexOrWarn[T Named](c *Collection[T], name, owner string) int {
	if name == "" {
		return -1
	}
	i := c.IndexOf(name)
	if i < 0 {
		log.Printf("%s: %s %q not found, written as none", owner, c.Kind(), name)
	}
	return i
}

func (w *PMXWriter) writeBoneRef(name, owner string) {
	w.writeIndex(AttrBoneIndexSz, indexOrWarn(w.model.Bones, name, owner))
}

func (w *PMXWriter) writeTextureRef(path string) {
	if path == "" {
		w.writeIndex(AttrTexIndexSz, -1)
		return
	}
	i, ok := w.textureIndex[path]
	if !ok {
		i = -1
	}
	w.writeIndex(AttrTexIndexSz, i)
}

func (w *PMXWriter) writeVertexRef(v *Vertex) {
	i, ok := w.vertexIndex[v]
	if !ok {
		w.fail("vertex is not part of the model")
		return
	}
	w.writeUIndex(AttrVertIndexSz, i)
}

func (w *PMXWriter) writeHeader() {
	w.write(w.header.Format)
	w.write(w.header.Version)
	w.writeUint8(uint8(len(w.header.Info)))
	w.write(w.header.Info)
}

func (w *PMXWriter) writeVertex(v *Vertex) {
	w.write(&v.Pos)
	w.write(&v.Normal)
	w.write(&v.UV)
	for i := 0; i < w.model.AdditionalUVs; i++ {
		var uv Vector4
		if i < len(v.ExtUVs) {
			uv = v.ExtUVs[i]
		}
		w.write(&uv)
	}

	wt := &v.Weight
	if wt.Type.boneCount() == 0 {
		w.fail("%w: weight type %d", ErrUnsupportedFeature, wt.Type)
		return
	}
	w.writeUint8(uint8(wt.Type))
	for i := 0; i < wt.Type.boneCount(); i++ {
		var name string
		if i < len(wt.Bones) {
			name = wt.Bones[i]
		}
		w.writeBoneRef(name, "vertex weight")
	}
	weight := func(i int) float32 {
		if i < len(wt.Weights) {
			return wt.Weights[i]
		}
		return 0
	}
	switch wt.Type {
	case WeightBDEF2:
		w.writeFloat(weight(0))
	case WeightBDEF4:
		for i := 0; i < 4; i++ {
			w.writeFloat(weight(i))
		}
	case WeightSDEF:
		w.writeFloat(weight(0))
		sdef := wt.SDEF
		if sdef == nil {
			sdef = &SDEFParams{}
		}
		w.write(sdef)
	}
	w.writeFloat(v.EdgeScale)
}

func (w *PMXWriter) writeMaterial(m *Material) {
	w.writeText(m.Name)
	w.writeText(m.NameEn)
	w.write(&m.Diffuse)
	w.write(&m.Specular)
	w.writeFloat(m.Specularity)
	w.write(&m.Ambient)
	w.writeUint8(m.Flags & MaterialFlagAll)
	w.write(&m.EdgeColor)
	w.writeFloat(m.EdgeSize)
	w.writeTextureRef(m.Texture)
	w.writeTextureRef(m.SphereTexture)
	w.writeUint8(m.SphereMode)
	if m.SharedToon {
		w.writeUint8(1)
		w.writeUint8(m.ToonIndex)
	} else {
		w.writeUint8(0)
		w.writeTextureRef(m.ToonTexture)
	}
	w.writeText(m.Memo)
	w.writeInt(len(m.Faces) * 3)
}

func (w *PMXWriter) writeBone(b *Bone) {
	owner := fmt.Sprintf("bone %q", b.Name)
	w.writeText(b.Name)
	w.writeText(b.NameEn)
	w.write(&b.Pos)
	w.writeBoneRef(b.Parent, owner)
	w.writeInt(b.Layer)
	w.writeUint16(b.Flags)

	if b.HasFlag(BoneFlagTailIndex) {
		w.writeBoneRef(b.TailBone, owner)
	} else {
		w.write(&b.TailPos)
	}

	if b.Inherits() {
		w.writeBoneRef(b.InheritBone, owner)
		w.writeFloat(b.InheritRate)
	}

	if b.HasFlag(BoneFlagFixedAxis) {
		w.write(&b.FixedAxis)
	}

	if b.HasFlag(BoneFlagLocalAxis) {
		w.write(&b.LocalAxisX)
		w.write(&b.LocalAxisZ)
	}

	if b.HasFlag(BoneFlagExternalParent) {
		w.write(b.ExternalKey)
	}

	if b.HasFlag(BoneFlagIK) {
		w.writeBoneRef(b.IK.Target, owner)
		w.writeInt(b.IK.Loop)
		w.writeFloat(b.IK.LimitRad)
		w.writeInt(len(b.IK.Links))
		for _, l := range b.IK.Links {
			w.writeBoneRef(l.Bone, owner)
			if l.HasLimit {
				w.writeUint8(1)
				w.write(&l.LimitMin)
				w.write(&l.LimitMax)
			} else {
				w.writeUint8(0)
			}
		}
	}
}

func (w *PMXWriter) writeMorph(m *Morph) {
	owner := fmt.Sprintf("morph %q", m.Name)
	w.writeText(m.Name)
	w.writeText(m.NameEn)
	w.writeUint8(m.Panel)
	w.writeUint8(uint8(m.Type))
	w.writeInt(m.Len())
	switch {
	case m.Type == MorphGroup:
		for _, o := range m.Group {
			w.writeIndex(AttrMorphIndexSz, indexOrWarn(w.model.Morphs, o.Morph, owner))
			w.writeFloat(o.Weight)
		}
	case m.Type == MorphVertex:
		for _, o := range m.Vertex {
			w.writeVertexRef(o.Vertex)
			w.write(&o.Offset)
		}
	case m.Type == MorphBone:
		for _, o := range m.Bone {
			w.writeBoneRef(o.Bone, owner)
			w.write(&o.Translation)
			w.write(&o.Rotation)
		}
	case m.Type.IsUV():
		for _, o := range m.UV {
			w.writeVertexRef(o.Vertex)
			w.write(&o.Offset)
		}
	case m.Type == MorphMaterial:
		for _, o := range m.Material {
			w.writeIndex(AttrMatIndexSz, indexOrWarn(w.model.Materials, o.Material, owner))
			w.writeUint8(o.Operation)
			w.write(&o.Diffuse)
			w.write(&o.Specular)
			w.writeFloat(o.Specularity)
			w.write(&o.Ambient)
			w.write(&o.EdgeColor)
			w.writeFloat(o.EdgeSize)
			w.write(&o.TextureTint)
			w.write(&o.SphereTint)
			w.write(&o.ToonTint)
		}
	default:
		w.fail("%w: morph type %d (%q)", ErrUnsupportedFeature, m.Type, m.Name)
	}
}

func (w *PMXWriter) writeDisplaySlot(d *DisplaySlot) {
	owner := fmt.Sprintf("display slot %q", d.Name)
	w.writeText(d.Name)
	w.writeText(d.NameEn)
	if d.Special {
		w.writeUint8(1)
	} else {
		w.writeUint8(0)
	}
	w.writeInt(len(d.Items))
	for _, item := range d.Items {
		w.writeUint8(uint8(item.Type))
		if item.Type == DisplayMorph {
			w.writeIndex(AttrMorphIndexSz, indexOrWarn(w.model.Morphs, item.Name, owner))
		} else {
			w.writeBoneRef(item.Name, owner)
		}
	}
}

func (w *PMXWriter) writeRigidBody(r *RigidBody) {
	w.writeText(r.Name)
	w.writeText(r.NameEn)
	w.writeBoneRef(r.Bone, fmt.Sprintf("rigid body %q", r.Name))
	w.writeUint8(r.Group)
	w.writeUint16(r.Mask)
	w.writeUint8(r.Shape)
	w.write(&r.Size)
	w.write(&r.Pos)
	w.write(&r.Rot)
	w.writeFloat(r.Mass)
	w.writeFloat(r.LinearDamping)
	w.writeFloat(r.AngularDamping)
	w.writeFloat(r.Restitution)
	w.writeFloat(r.Friction)
	w.writeUint8(r.Mode)
}

func (w *PMXWriter) writeJoint(j *Joint) {
	owner := fmt.Sprintf("joint %q", j.Name)
	w.writeText(j.Name)
	w.writeText(j.NameEn)
	w.writeUint8(j.Type)
	w.writeIndex(AttrRBIndexSz, indexOrWarn(w.model.RigidBodies, j.RigidA, owner))
	w.writeIndex(AttrRBIndexSz, indexOrWarn(w.model.RigidBodies, j.RigidB, owner))
	w.write(&j.Pos)
	w.write(&j.Rot)
	w.write(&j.MinPos)
	w.write(&j.MaxPos)
	w.write(&j.MinRot)
	w.write(&j.MaxRot)
	w.write(&j.SpringPos)
	w.write(&j.SpringRot)
}

// prepare drops unreferenced vertices and textures and fixes index widths.
func (w *PMXWriter) prepare() {
	m := w.model
	if n := m.PurgeUnusedVertices(); n > 0 {
		debugf("Removed %d unused vertices", n)
	}
	for _, mat := range m.Materials.All() {
		m.EnsureTexture(mat.Texture)
		m.EnsureTexture(mat.SphereTexture)
		if !mat.SharedToon {
			m.EnsureTexture(mat.ToonTexture)
		}
	}
	if n := m.PurgeUnusedTextures(); n > 0 {
		debugf("Removed %d unused textures", n)
	}

	w.vertexIndex = make(map[*Vertex]int, len(m.Vertices))
	for i, v := range m.Vertices {
		w.vertexIndex[v] = i
	}
	w.textureIndex = make(map[string]int, len(m.Textures))
	for i, t := range m.Textures {
		w.textureIndex[t] = i
	}
	w.header = NewHeader(m)
}

// Write serializes m. Unused vertices and textures are removed from m first.
func (w *PMXWriter) Write(m *Model) error {
	if m.Encoding > EncodingUTF8 {
		return fmt.Errorf("%w: encoding %d", ErrInvalidFile, m.Encoding)
	}
	w.model = m
	w.prepare()
	debugf("Header: %v", w.header)

	w.writeHeader()
	w.writeText(m.Name)
	w.writeText(m.NameEn)
	w.writeText(m.Comment)
	w.writeText(m.CommentEn)

	w.writeInt(len(m.Vertices))
	for _, v := range m.Vertices {
		w.writeVertex(v)
	}

	faces := m.FaceCount()
	w.writeInt(faces * 3)
	for _, mat := range m.Materials.All() {
		for _, f := range mat.Faces {
			w.writeVertexRef(f.Verts[2])
			w.writeVertexRef(f.Verts[1])
			w.writeVertexRef(f.Verts[0])
		}
	}

	w.writeInt(len(m.Textures))
	for _, t := range m.Textures {
		w.writeText(t)
	}

	w.writeInt(m.Materials.Len())
	for _, mat := range m.Materials.All() {
		w.writeMaterial(mat)
	}

	w.writeInt(m.Bones.Len())
	for _, b := range m.Bones.All() {
		w.writeBone(b)
	}

	w.writeInt(m.Morphs.Len())
	for _, mo := range m.Morphs.All() {
		w.writeMorph(mo)
	}

	w.writeInt(m.DisplaySlots.Len())
	for _, d := range m.DisplaySlots.All() {
		w.writeDisplaySlot(d)
	}

	w.writeInt(m.RigidBodies.Len())
	for _, r := range m.RigidBodies.All() {
		w.writeRigidBody(r)
	}

	w.writeInt(m.Joints.Len())
	for _, j := range m.Joints.All() {
		w.writeJoint(j)
	}
	debugf("Wrote %d vertices, %d faces, %d materials, %d bones, %d morphs",
		len(m.Vertices), faces, m.Materials.Len(), m.Bones.Len(), m.Morphs.Len())
	return w.err
}

func Write(w io.Writer, m *Model) error {
	return NewPMXWriter(w).Write(m)
}

// Save writes m to path. The data goes to a temporary file in the same
// directory first, so a failed save leaves an existing file untouched.
func Save(path string, m *Model) error {
	f, err := os.CreateTemp(filepath.Dir(path), ".pmx-*")
	if err != nil {
		return err
	}
	tmp := f.Name()
	defer os.Remove(tmp)
	f.Chmod(0644)

	bw := bufio.NewWriter(f)
	if err := Write(bw, m); err != nil {
		f.Close()
		return err
	}
	if err := bw.Flush(); err != nil {
		f.Close()
		return err
	}
	if err := f.Close(); err != nil {
		return err
	}
	if err := os.Rename(tmp, path); err != nil {
		return err
	}
	m.Path = path
	return nil
}
