package pmx

import (
	"bufio"
	"errors"
	"fmt"
	"io"
	"log"
	"os"
)

// see also:
// https://gist.github.com/felixjones/f8a06bd48f9da9a4539f

// rawBone holds the on-disk bone indices of a Bone until all bones are known.
type rawBone struct {
	parent   int
	tail     int
	inherit  int
	ikTarget int
	ikLinks  []int
}

type rawGroup struct {
	morph   *Morph
	targets []int
}

type PMXParser struct {
	baseParser
	header *Header
	model  *Model

	faces    []*Face
	counts   []int
	textures []string
	weights  [][]int
	bones    []rawBone
	groups   []rawGroup
}

func NewPMXParser(r io.Reader) *PMXParser {
	return &PMXParser{baseParser: baseParser{r: r}}
}

func (p *PMXParser) readIndex(attrTyp int) int {
	return p.readVInt(p.header.Info[attrTyp])
}

func (p *PMXParser) readUIndex(attrTyp int) int {
	return p.readVUInt(p.header.Info[attrTyp])
}

func (p *PMXParser) readText() string {
	return p.baseParser.readText(p.header.Encoding())
}

func (p *PMXParser) vertex(i int) *Vertex {
	if i < 0 || i >= len(p.model.Vertices) {
		p.fail("vertex index out of range: %d", i)
		return nil
	}
	return p.model.Vertices[i]
}

func (p *PMXParser) texture(i int) string {
	if i < 0 || i >= len(p.textures) {
		return ""
	}
	return p.textures[i]
}

func (p *PMXParser) readHeader() error {
	h := &Header{Format: make([]byte, 4)}
	if p.read(h.Format) != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, p.err)
	}
	if string(h.Format[:3]) != Signature[:3] {
		return fmt.Errorf("%w: file signature is invalid", ErrInvalidFile)
	}
	if p.read(&h.Version) != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, p.err)
	}
	if h.Version != Version {
		return fmt.Errorf("%w: %.1f", ErrUnsupportedVersion, h.Version)
	}
	n := p.readUint8()
	if p.err != nil || n != headerInfoLen || h.Format[3] != Signature[3] {
		return fmt.Errorf("%w: file header is invalid or corrupted", ErrInvalidFile)
	}
	h.Info = make([]byte, n)
	if p.read(h.Info) != nil {
		return fmt.Errorf("%w: %v", ErrInvalidFile, p.err)
	}
	if h.Info[AttrStringEncoding] > byte(EncodingUTF8) {
		return fmt.Errorf("%w: invalid encoding %d", ErrInvalidFile, h.Info[AttrStringEncoding])
	}
	for _, attr := range []int{AttrVertIndexSz, AttrTexIndexSz, AttrMatIndexSz, AttrBoneIndexSz, AttrMorphIndexSz, AttrRBIndexSz} {
		if !validIndexSize(h.Info[attr]) {
			return fmt.Errorf("%w: invalid index size %d", ErrInvalidFile, h.Info[attr])
		}
	}
	p.header = h
	return nil
}

func (p *PMXParser) readVertex() *Vertex {
	var v Vertex
	p.read(&v.Pos)
	p.read(&v.Normal)
	p.read(&v.UV)
	if n := p.header.Info[AttrExtUV]; n > 0 {
		v.ExtUVs = make([]Vector4, n)
		p.read(v.ExtUVs)
	}

	v.Weight.Type = WeightType(p.readUint8())
	if v.Weight.Type == weightQDEF {
		p.fail("%w: QDEF weight", ErrUnsupportedFeature)
		return nil
	}
	n := v.Weight.Type.boneCount()
	if n == 0 {
		p.fail("unknown weight type %d", v.Weight.Type)
		return nil
	}
	indices := make([]int, n)
	for i := range indices {
		indices[i] = p.readIndex(AttrBoneIndexSz)
	}
	switch v.Weight.Type {
	case WeightBDEF2:
		v.Weight.Weights = []float32{p.readFloat()}
	case WeightBDEF4:
		v.Weight.Weights = make([]float32, 4)
		p.read(v.Weight.Weights)
	case WeightSDEF:
		v.Weight.Weights = []float32{p.readFloat()}
		v.Weight.SDEF = &SDEFParams{}
		p.read(v.Weight.SDEF)
	}
	v.EdgeScale = p.readFloat()
	p.weights = append(p.weights, indices)
	return &v
}

// readFace reads a triangle. Vertex order on disk is reversed.
func (p *PMXParser) readFace() *Face {
	var f Face
	f.Verts[2] = p.vertex(p.readUIndex(AttrVertIndexSz))
	f.Verts[1] = p.vertex(p.readUIndex(AttrVertIndexSz))
	f.Verts[0] = p.vertex(p.readUIndex(AttrVertIndexSz))
	return &f
}

func (p *PMXParser) readMaterial() *Material {
	var m Material
	m.Name = p.readText()
	m.NameEn = p.readText()
	p.read(&m.Diffuse)
	p.read(&m.Specular)
	p.read(&m.Specularity)
	p.read(&m.Ambient)
	m.Flags = p.readUint8()
	if m.Flags&^MaterialFlagAll != 0 {
		debugf("Unsupported material flags: %q %#x", m.Name, m.Flags&^MaterialFlagAll)
		m.Flags &= MaterialFlagAll
	}
	p.read(&m.EdgeColor)
	p.read(&m.EdgeSize)
	m.Texture = p.texture(p.readIndex(AttrTexIndexSz))
	m.SphereTexture = p.texture(p.readIndex(AttrTexIndexSz))
	m.SphereMode = p.readUint8()
	m.SharedToon = p.readUint8() == 1
	if m.SharedToon {
		m.ToonIndex = p.readUint8()
	} else {
		m.ToonTexture = p.texture(p.readIndex(AttrTexIndexSz))
	}
	m.Memo = p.readText()
	p.counts = append(p.counts, p.readCount())
	return &m
}

func (p *PMXParser) readBone() *Bone {
	var b Bone
	raw := rawBone{tail: -1, inherit: -1, ikTarget: -1}
	b.Name = p.readText()
	b.NameEn = p.readText()
	p.read(&b.Pos)
	raw.parent = p.readIndex(AttrBoneIndexSz)
	b.Layer = p.readInt()
	b.Flags = p.readUint16()

	if b.Flags&^BoneFlagAll != 0 {
		log.Printf("Unsupported bone flags: %q %#x", b.Name, b.Flags&^BoneFlagAll)
	}

	if b.HasFlag(BoneFlagTailIndex) {
		raw.tail = p.readIndex(AttrBoneIndexSz)
	} else {
		p.read(&b.TailPos)
	}

	if b.Inherits() {
		raw.inherit = p.readIndex(AttrBoneIndexSz)
		b.InheritRate = p.readFloat()
	}

	if b.HasFlag(BoneFlagFixedAxis) {
		p.read(&b.FixedAxis)
	}

	if b.HasFlag(BoneFlagLocalAxis) {
		p.read(&b.LocalAxisX)
		p.read(&b.LocalAxisZ)
	}

	if b.HasFlag(BoneFlagExternalParent) {
		p.read(&b.ExternalKey)
	}

	if b.HasFlag(BoneFlagIK) {
		raw.ikTarget = p.readIndex(AttrBoneIndexSz)
		b.IK.Loop = p.readInt()
		b.IK.LimitRad = p.readFloat()
		links := p.readCount()
		for i := 0; i < links && p.err == nil; i++ {
			var l IKLink
			raw.ikLinks = append(raw.ikLinks, p.readIndex(AttrBoneIndexSz))
			l.HasLimit = p.readUint8() == 1
			if l.HasLimit {
				p.read(&l.LimitMin)
				p.read(&l.LimitMax)
			}
			b.IK.Links = append(b.IK.Links, &l)
		}
	}

	p.bones = append(p.bones, raw)
	return &b
}

// resolveBones replaces the raw bone indices with names. It runs once the whole
// bone section is known, since bones and vertices may reference later bones.
func (p *PMXParser) resolveBones() {
	bones := p.model.Bones
	for i, raw := range p.bones {
		b := bones.At(i)
		b.Parent = bones.NameAt(raw.parent)
		b.TailBone = bones.NameAt(raw.tail)
		b.InheritBone = bones.NameAt(raw.inherit)
		b.IK.Target = bones.NameAt(raw.ikTarget)
		for j, l := range b.IK.Links {
			l.Bone = bones.NameAt(raw.ikLinks[j])
		}
	}
	for i, v := range p.model.Vertices {
		v.Weight.Bones = make([]string, len(p.weights[i]))
		for j, idx := range p.weights[i] {
			v.Weight.Bones[j] = bones.NameAt(idx)
		}
	}
	p.bones = nil
	p.weights = nil
}

func (p *PMXParser) readMorph() *Morph {
	name := p.readText()
	m := NewMorph(name, 0)
	m.NameEn = p.readText()
	m.Panel = p.readUint8()
	m.Type = MorphType(p.readUint8())

	n := p.readCount()
	switch {
	case m.Type == MorphGroup:
		raw := rawGroup{morph: m}
		for i := 0; i < n && p.err == nil; i++ {
			raw.targets = append(raw.targets, p.readIndex(AttrMorphIndexSz))
			m.Group = append(m.Group, &GroupOffset{Weight: p.readFloat()})
		}
		p.groups = append(p.groups, raw)
	case m.Type == MorphVertex:
		for i := 0; i < n && p.err == nil; i++ {
			var o VertexOffset
			o.Vertex = p.vertex(p.readUIndex(AttrVertIndexSz))
			p.read(&o.Offset)
			m.Vertex = append(m.Vertex, &o)
		}
	case m.Type == MorphBone:
		for i := 0; i < n && p.err == nil; i++ {
			var o BoneOffset
			o.Bone = p.model.Bones.NameAt(p.readIndex(AttrBoneIndexSz))
			p.read(&o.Translation)
			p.read(&o.Rotation)
			if o.Rotation == (Vector4{}) {
				o.Rotation = Vector4{W: 1}
			}
			m.Bone = append(m.Bone, &o)
		}
	case m.Type.IsUV():
		for i := 0; i < n && p.err == nil; i++ {
			var o UVOffset
			o.Vertex = p.vertex(p.readUIndex(AttrVertIndexSz))
			p.read(&o.Offset)
			m.UV = append(m.UV, &o)
		}
	case m.Type == MorphMaterial:
		for i := 0; i < n && p.err == nil; i++ {
			var o MaterialOffset
			o.Material = p.model.Materials.NameAt(p.readIndex(AttrMatIndexSz))
			o.Operation = p.readUint8()
			p.read(&o.Diffuse)
			p.read(&o.Specular)
			p.read(&o.Specularity)
			p.read(&o.Ambient)
			p.read(&o.EdgeColor)
			p.read(&o.EdgeSize)
			p.read(&o.TextureTint)
			p.read(&o.SphereTint)
			p.read(&o.ToonTint)
			m.Material = append(m.Material, &o)
		}
	case m.Type == morphFlip || m.Type == morphImpulse:
		p.fail("%w: morph type %d (%q)", ErrUnsupportedFeature, m.Type, m.Name)
	default:
		p.fail("unknown morph type %d (%q)", m.Type, m.Name)
	}
	return m
}

func (p *PMXParser) resolveMorphs() {
	for _, g := range p.groups {
		for i, idx := range g.targets {
			g.morph.Group[i].Morph = p.model.Morphs.NameAt(idx)
		}
	}
	p.groups = nil
}

func (p *PMXParser) readDisplaySlot() *DisplaySlot {
	var d DisplaySlot
	d.Name = p.readText()
	d.NameEn = p.readText()
	d.Special = p.readUint8() == 1
	n := p.readCount()
	for i := 0; i < n && p.err == nil; i++ {
		item := DisplayItem{Type: DisplayItemType(p.readUint8())}
		switch item.Type {
		case DisplayBone:
			item.Name = p.model.Bones.NameAt(p.readIndex(AttrBoneIndexSz))
		case DisplayMorph:
			item.Name = p.model.Morphs.NameAt(p.readIndex(AttrMorphIndexSz))
		default:
			p.fail("invalid display item type %d", item.Type)
		}
		d.Items = append(d.Items, item)
	}
	return &d
}

func (p *PMXParser) readRigidBody() *RigidBody {
	var r RigidBody
	r.Name = p.readText()
	r.NameEn = p.readText()
	r.Bone = p.model.Bones.NameAt(p.readIndex(AttrBoneIndexSz))
	r.Group = p.readUint8()
	r.Mask = p.readUint16()
	r.Shape = p.readUint8()
	p.read(&r.Size)
	p.read(&r.Pos)
	p.read(&r.Rot)
	p.read(&r.Mass)
	p.read(&r.LinearDamping)
	p.read(&r.AngularDamping)
	p.read(&r.Restitution)
	p.read(&r.Friction)
	r.Mode = p.readUint8()
	return &r
}

// readJoint reads a joint. Real-world files are sometimes cut short inside the
// last joint; once the name and both rigid bodies are known, a truncated tail is
// accepted with zero vectors and truncated is reported.
func (p *PMXParser) readJoint() (j *Joint, truncated bool) {
	j = &Joint{}
	j.Name = p.readText()
	j.NameEn = p.readText()
	j.Type = p.readUint8()
	a := p.readIndex(AttrRBIndexSz)
	b := p.readIndex(AttrRBIndexSz)
	if p.err != nil {
		return nil, false
	}
	j.RigidA = p.model.RigidBodies.NameAt(a)
	j.RigidB = p.model.RigidBodies.NameAt(b)
	if j.Type != JointSpring6DOF {
		log.Printf("Unsupported joint type %d: %q", j.Type, j.Name)
	}

	p.read(&j.Pos)
	p.read(&j.Rot)
	p.read(&j.MinPos)
	p.read(&j.MaxPos)
	p.read(&j.MinRot)
	p.read(&j.MaxRot)
	p.read(&j.SpringPos)
	p.read(&j.SpringRot)
	if errors.Is(p.err, io.ErrUnexpectedEOF) {
		p.err = nil
		return j, true
	}
	return j, false
}

func sectionError(section string, err error) error {
	if errors.Is(err, ErrUnsupportedFeature) {
		return fmt.Errorf("%s: %w", section, err)
	}
	return corrupted(section, err)
}

func (p *PMXParser) Parse() (*Model, error) {
	if err := p.readHeader(); err != nil {
		return nil, err
	}
	debugf("Header: %v", p.header)

	m := NewModel()
	p.model = m
	m.Encoding = p.header.Encoding()
	m.AdditionalUVs = int(p.header.Info[AttrExtUV])
	m.Name = p.readText()
	m.NameEn = p.readText()
	m.Comment = p.readText()
	m.CommentEn = p.readText()
	if p.err != nil {
		return nil, sectionError("model info", p.err)
	}

	vn := p.readCount()
	for i := 0; i < vn && p.err == nil; i++ {
		m.Vertices = append(m.Vertices, p.readVertex())
	}
	if p.err != nil {
		return nil, sectionError("vertices", p.err)
	}
	debugf("Loaded %d vertices", len(m.Vertices))

	fn := p.readCount()
	if fn%3 != 0 {
		p.fail("face index count %d is not a multiple of 3", fn)
	}
	for i := 0; i < fn/3 && p.err == nil; i++ {
		p.faces = append(p.faces, p.readFace())
	}
	if p.err != nil {
		return nil, sectionError("faces", p.err)
	}
	debugf("Loaded %d faces", len(p.faces))

	tn := p.readCount()
	for i := 0; i < tn && p.err == nil; i++ {
		t := p.readText()
		p.textures = append(p.textures, t)
		m.EnsureTexture(t)
	}
	if p.err != nil {
		return nil, sectionError("textures", p.err)
	}
	debugf("Loaded %d textures", len(p.textures))

	mn := p.readCount()
	for i := 0; i < mn && p.err == nil; i++ {
		m.Materials.push(p.readMaterial())
	}
	if p.err != nil {
		return nil, sectionError("materials", p.err)
	}
	if err := p.assignFaces(); err != nil {
		return nil, sectionError("materials", err)
	}
	debugf("Loaded %d materials", m.Materials.Len())

	bn := p.readCount()
	for i := 0; i < bn && p.err == nil; i++ {
		m.Bones.push(p.readBone())
	}
	if p.err != nil {
		return nil, sectionError("bones", p.err)
	}
	p.resolveBones()
	debugf("Loaded %d bones", m.Bones.Len())

	pn := p.readCount()
	for i := 0; i < pn && p.err == nil; i++ {
		m.Morphs.push(p.readMorph())
	}
	if p.err != nil {
		return nil, sectionError("morphs", p.err)
	}
	p.resolveMorphs()
	debugf("Loaded %d morphs", m.Morphs.Len())

	dn := p.readCount()
	for i := 0; i < dn && p.err == nil; i++ {
		m.DisplaySlots.push(p.readDisplaySlot())
	}
	if p.err != nil {
		return nil, sectionError("display slots", p.err)
	}
	debugf("Loaded %d display slots", m.DisplaySlots.Len())

	rn := p.readCount()
	for i := 0; i < rn && p.err == nil; i++ {
		m.RigidBodies.push(p.readRigidBody())
	}
	if p.err != nil {
		return nil, sectionError("rigid bodies", p.err)
	}
	debugf("Loaded %d rigid bodies", m.RigidBodies.Len())

	jn := p.readCount()
	for i := 0; i < jn && p.err == nil; i++ {
		j, truncated := p.readJoint()
		if j != nil {
			m.Joints.push(j)
		}
		if truncated {
			log.Printf("Joint data is truncated at %q, missing values are set to zero", j.Name)
			if rest := jn - i - 1; rest > 0 {
				log.Printf("%d trailing joint(s) dropped", rest)
			}
			break
		}
	}
	if p.err != nil {
		return nil, sectionError("joints", p.err)
	}
	debugf("Loaded %d joints", m.Joints.Len())

	return m, nil
}

// assignFaces hands each material the run of faces it owns in the flat face list.
func (p *PMXParser) assignFaces() error {
	start := 0
	for i, count := range p.counts {
		mat := p.model.Materials.At(i)
		if count%3 != 0 {
			log.Printf("Material %q vertex count %d is not a multiple of 3", mat.Name, count)
		}
		end := start + count/3
		if end > len(p.faces) {
			return fmt.Errorf("material %q needs %d faces, only %d left", mat.Name, count/3, len(p.faces)-start)
		}
		mat.Faces = p.faces[start:end:end]
		start = end
	}
	if start < len(p.faces) {
		log.Printf("%d face(s) not owned by any material are dropped", len(p.faces)-start)
	}
	p.faces = nil
	p.counts = nil
	return nil
}

func Parse(r io.Reader) (*Model, error) {
	return NewPMXParser(bufio.NewReader(r)).Parse()
}

// Load reads a PMX document from path.
func Load(path string) (*Model, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	m, err := Parse(f)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	m.Path = path
	return m, nil
}
