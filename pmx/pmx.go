package pmx

type Vector2 struct {
	X float32
	Y float32
}

type Vector3 struct {
	X float32
	Y float32
	Z float32
}

type Vector4 struct {
	X float32
	Y float32
	Z float32
	W float32
}

// Model is an in-memory PMX document. Cross references between elements are
// held by name (bones, materials, morphs, rigid bodies) or by pointer (vertices).
type Model struct {
	Path string

	Name      string
	NameEn    string
	Comment   string
	CommentEn string

	Encoding      Encoding
	AdditionalUVs int

	Vertices     []*Vertex
	Textures     []string
	Materials    *Collection[*Material]
	Bones        *Collection[*Bone]
	Morphs       *Collection[*Morph]
	DisplaySlots *Collection[*DisplaySlot]
	RigidBodies  *Collection[*RigidBody]
	Joints       *Collection[*Joint]
}

func NewModel() *Model {
	return &Model{
		Encoding:     EncodingUTF16,
		Materials:    NewCollection[*Material]("material"),
		Bones:        NewCollection[*Bone]("bone"),
		Morphs:       NewCollection[*Morph]("morph"),
		DisplaySlots: NewCollection[*DisplaySlot]("display slot"),
		RigidBodies:  NewCollection[*RigidBody]("rigid body"),
		Joints:       NewCollection[*Joint]("joint"),
	}
}

type WeightType byte

const (
	WeightBDEF1 WeightType = 0
	WeightBDEF2 WeightType = 1
	WeightBDEF4 WeightType = 2
	WeightSDEF  WeightType = 3
	weightQDEF  WeightType = 4 // PMX 2.1
)

func (t WeightType) boneCount() int {
	switch t {
	case WeightBDEF1:
		return 1
	case WeightBDEF2, WeightSDEF:
		return 2
	case WeightBDEF4:
		return 4
	}
	return 0
}

type SDEFParams struct {
	C  Vector3
	R0 Vector3
	R1 Vector3
}

// BoneWeight binds a vertex to bones. Bones holds 1, 2 or 4 names depending on
// Type. Weights holds the stored weights only: none for BDEF1, the first bone
// weight for BDEF2 and SDEF, all four for BDEF4.
type BoneWeight struct {
	Type    WeightType
	Bones   []string
	Weights []float32
	SDEF    *SDEFParams
}

// WeightAt returns the effective weight of Bones[i].
func (w *BoneWeight) WeightAt(i int) float32 {
	switch w.Type {
	case WeightBDEF1:
		if i == 0 {
			return 1
		}
	case WeightBDEF2, WeightSDEF:
		if len(w.Weights) == 0 {
			return 0
		}
		if i == 0 {
			return w.Weights[0]
		} else if i == 1 {
			return 1 - w.Weights[0]
		}
	default:
		if i < len(w.Weights) {
			return w.Weights[i]
		}
	}
	return 0
}

type Vertex struct {
	Pos       Vector3
	Normal    Vector3
	UV        Vector2
	ExtUVs    []Vector4
	Weight    BoneWeight
	EdgeScale float32
}

type Face struct {
	Verts [3]*Vertex
}

const (
	MaterialFlagDoubleSided   uint8 = 1
	MaterialFlagGroundShadow  uint8 = 2
	MaterialFlagSelfShadowMap uint8 = 4
	MaterialFlagSelfShadow    uint8 = 8
	MaterialFlagEdge          uint8 = 16

	MaterialFlagAll uint8 = 31
)

const (
	SphereModeOff    byte = 0
	SphereModeMul    byte = 1
	SphereModeAdd    byte = 2
	SphereModeSubTex byte = 3
)

type Material struct {
	Name        string
	NameEn      string
	Diffuse     Vector4
	Specular    Vector3
	Specularity float32
	Ambient     Vector3
	Flags       uint8
	EdgeColor   Vector4
	EdgeSize    float32

	// texture pool paths, "" for none
	Texture       string
	SphereTexture string
	SphereMode    byte
	SharedToon    bool
	ToonIndex     byte
	ToonTexture   string

	Memo  string
	Faces []*Face
}

const (
	BoneFlagTailIndex    uint16 = 0x0001
	BoneFlagRotatable    uint16 = 0x0002
	BoneFlagTranslatable uint16 = 0x0004
	BoneFlagVisible      uint16 = 0x0008
	BoneFlagEnabled      uint16 = 0x0010
	BoneFlagIK           uint16 = 0x0020

	BoneFlagInheritRotation    uint16 = 0x0100
	BoneFlagInheritTranslation uint16 = 0x0200
	BoneFlagFixedAxis          uint16 = 0x0400
	BoneFlagLocalAxis          uint16 = 0x0800
	BoneFlagAfterPhysics       uint16 = 0x1000
	BoneFlagExternalParent     uint16 = 0x2000

	BoneFlagAll uint16 = 0x003f | 0x3f00
)

type IKLink struct {
	Bone     string
	HasLimit bool
	LimitMin Vector3
	LimitMax Vector3
}

type BoneIK struct {
	Target   string
	Loop     int
	LimitRad float32
	Links    []*IKLink
}

type Bone struct {
	Name   string
	NameEn string
	Pos    Vector3
	Parent string
	Layer  int
	Flags  uint16

	// display connection: TailBone if BoneFlagTailIndex is set, TailPos otherwise
	TailBone string
	TailPos  Vector3

	InheritBone string
	InheritRate float32

	FixedAxis  Vector3
	LocalAxisX Vector3
	LocalAxisZ Vector3

	ExternalKey int32

	IK BoneIK
}

func (b *Bone) HasFlag(f uint16) bool {
	return b.Flags&f != 0
}

func (b *Bone) Inherits() bool {
	return b.Flags&(BoneFlagInheritRotation|BoneFlagInheritTranslation) != 0
}

type MorphType byte

const (
	MorphGroup    MorphType = 0
	MorphVertex   MorphType = 1
	MorphBone     MorphType = 2
	MorphUV0      MorphType = 3
	MorphUV1      MorphType = 4
	MorphUV2      MorphType = 5
	MorphUV3      MorphType = 6
	MorphUV4      MorphType = 7
	MorphMaterial MorphType = 8
	morphFlip     MorphType = 9  // PMX 2.1
	morphImpulse  MorphType = 10 // PMX 2.1
)

var morphTypeNames = map[MorphType]string{
	MorphGroup:    "Group Morph",
	MorphVertex:   "Vertex Morph",
	MorphBone:     "Bone Morph",
	MorphUV0:      "UV Morph 0",
	MorphUV1:      "UV Morph 1",
	MorphUV2:      "UV Morph 2",
	MorphUV3:      "UV Morph 3",
	MorphUV4:      "UV Morph 4",
	MorphMaterial: "Material Morph",
}

func (t MorphType) String() string {
	if s, ok := morphTypeNames[t]; ok {
		return s
	}
	return "Unknown"
}

func (t MorphType) IsUV() bool {
	return t >= MorphUV0 && t <= MorphUV4
}

// IsMesh reports whether offsets of this morph type target vertices.
func (t MorphType) IsMesh() bool {
	return t == MorphVertex || t.IsUV()
}

const (
	PanelSystem  byte = 0
	PanelEyebrow byte = 1
	PanelEye     byte = 2
	PanelMouth   byte = 3
	PanelOther   byte = 4
)

// type 0
type GroupOffset struct {
	Morph  string
	Weight float32
}

// type 1
type VertexOffset struct {
	Vertex *Vertex
	Offset Vector3
}

// type 2
type BoneOffset struct {
	Bone        string
	Translation Vector3
	Rotation    Vector4
}

// type 3-7
type UVOffset struct {
	Vertex *Vertex
	Offset Vector4
}

const (
	MaterialOpMul byte = 0
	MaterialOpAdd byte = 1
)

// type 8
type MaterialOffset struct {
	// "" targets all materials
	Material string

	Operation   byte
	Diffuse     Vector4
	Specular    Vector3
	Specularity float32
	Ambient     Vector3
	EdgeColor   Vector4
	EdgeSize    float32
	TextureTint Vector4
	SphereTint  Vector4
	ToonTint    Vector4
}

// Morph is a tagged union: Type selects which one of the offset slices is used.
type Morph struct {
	Name   string
	NameEn string
	Panel  byte
	Type   MorphType

	// oneof
	Group    []*GroupOffset
	Vertex   []*VertexOffset
	Bone     []*BoneOffset
	UV       []*UVOffset
	Material []*MaterialOffset
}

func NewMorph(name string, typ MorphType) *Morph {
	return &Morph{Name: name, Type: typ, Panel: PanelOther}
}

func (m *Morph) Len() int {
	switch {
	case m.Type == MorphGroup:
		return len(m.Group)
	case m.Type == MorphVertex:
		return len(m.Vertex)
	case m.Type == MorphBone:
		return len(m.Bone)
	case m.Type.IsUV():
		return len(m.UV)
	case m.Type == MorphMaterial:
		return len(m.Material)
	}
	return 0
}

// AppendOffsets concatenates the offsets of src, which must have the same Type.
func (m *Morph) AppendOffsets(src *Morph) {
	m.Group = append(m.Group, src.Group...)
	m.Vertex = append(m.Vertex, src.Vertex...)
	m.Bone = append(m.Bone, src.Bone...)
	m.UV = append(m.UV, src.UV...)
	m.Material = append(m.Material, src.Material...)
}

type DisplayItemType byte

const (
	DisplayBone  DisplayItemType = 0
	DisplayMorph DisplayItemType = 1
)

type DisplayItem struct {
	Type DisplayItemType
	Name string
}

type DisplaySlot struct {
	Name    string
	NameEn  string
	Special bool
	Items   []DisplayItem
}

func (d *DisplaySlot) HasItem(item DisplayItem) bool {
	for _, it := range d.Items {
		if it == item {
			return true
		}
	}
	return false
}

const (
	RigidShapeSphere  byte = 0
	RigidShapeBox     byte = 1
	RigidShapeCapsule byte = 2

	RigidModeStatic      byte = 0
	RigidModeDynamic     byte = 1
	RigidModeDynamicBone byte = 2
)

type RigidBody struct {
	Name   string
	NameEn string
	Bone   string

	Group byte
	Mask  uint16

	Shape byte
	Size  Vector3
	Pos   Vector3
	Rot   Vector3

	Mass           float32
	LinearDamping  float32
	AngularDamping float32
	Restitution    float32
	Friction       float32

	Mode byte
}

const JointSpring6DOF byte = 0

type Joint struct {
	Name   string
	NameEn string
	Type   byte
	RigidA string
	RigidB string

	Pos       Vector3
	Rot       Vector3
	MinPos    Vector3
	MaxPos    Vector3
	MinRot    Vector3
	MaxRot    Vector3
	SpringPos Vector3
	SpringRot Vector3
}

func (m *Material) GetName() string    { return m.Name }
func (b *Bone) GetName() string        { return b.Name }
func (m *Morph) GetName() string       { return m.Name }
func (d *DisplaySlot) GetName() string { return d.Name }
func (r *RigidBody) GetName() string   { return r.Name }
func (j *Joint) GetName() string       { return j.Name }

func (m *Material) setName(name string)    { m.Name = name }
func (b *Bone) setName(name string)        { b.Name = name }
func (m *Morph) setName(name string)       { m.Name = name }
func (d *DisplaySlot) setName(name string) { d.Name = name }
func (r *RigidBody) setName(name string)   { r.Name = name }
func (j *Joint) setName(name string)       { j.Name = name }
