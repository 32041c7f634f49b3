package converter

import (
	"io"
	"log"
	"os"
	"path/filepath"

	"github.com/binzume/pmxmerge/geom"
	"github.com/binzume/pmxmerge/pmx"
	"github.com/binzume/pmxmerge/texture"
	"github.com/qmuntal/gltf"
	"github.com/qmuntal/gltf/modeler"
)

const unlitMaterialExt = "KHR_materials_unlit"

type PMXToGLTFOption struct {
	// 1 MMD unit is about 8cm.
	Scale float32

	ForceUnlit bool
	NoBones    bool
	NoMorphs   bool
	// rotate 180 degrees around Y. VRM models face +Z.
	Rot180 bool

	TextureScale           float32
	TextureResolutionLimit int
	TextureReCompress      bool
}

type pmxToGltf struct {
	*PMXToGLTFOption
	*gltf.Document
	matrix   *geom.Matrix4
	textures *texture.Cache
	texIDs   map[string]*uint32
}

func NewPMXToGLTFConverter(options *PMXToGLTFOption) *pmxToGltf {
	if options == nil {
		options = &PMXToGLTFOption{}
	}
	if options.Scale == 0 {
		options.Scale = 0.08
	}
	if options.TextureScale == 0 {
		options.TextureScale = 1.0
	}
	s := options.Scale
	// left-handed to right-handed
	matrix := geom.NewScaleMatrix4(s, s, -s)
	if options.Rot180 {
		matrix = geom.NewScaleMatrix4(-1, 1, -1).Mul(matrix)
	}
	return &pmxToGltf{
		PMXToGLTFOption: options,
		Document:        gltf.NewDocument(),
		matrix:          matrix,
		texIDs:          map[string]*uint32{},
	}
}

func (m *pmxToGltf) pos(v *pmx.Vector3) [3]float32 {
	return m.matrix.ApplyTo(&geom.Vector3{X: v.X, Y: v.Y, Z: v.Z}).ToArray()
}

func (m *pmxToGltf) dir(v *pmx.Vector3) [3]float32 {
	return m.matrix.ApplyToDirection(&geom.Vector3{X: v.X, Y: v.Y, Z: v.Z}).ToArray()
}

func (m *pmxToGltf) addMatrices(mat [][4][4]float32) uint32 {
	a := make([][4]float32, len(mat)*4)
	for i, m := range mat {
		a[i*4+0] = m[0]
		a[i*4+1] = m[1]
		a[i*4+2] = m[2]
		a[i*4+3] = m[3]
	}
	acc := modeler.WriteTangent(m.Document, a)
	m.Accessors[acc].Type = gltf.AccessorMat4
	m.Accessors[acc].Count /= 4
	m.BufferViews[*m.Accessors[acc].BufferView].ByteStride *= 4
	return acc
}

// addBoneNodes adds a node per bone and returns the node index of each bone.
func (m *pmxToGltf) addBoneNodes(model *pmx.Model) []uint32 {
	bones := model.Bones.All()
	nodes := make([]uint32, len(bones))
	for i, b := range bones {
		nodes[i] = uint32(len(m.Nodes))
		m.Nodes = append(m.Nodes, &gltf.Node{Name: b.Name, Translation: m.pos(&b.Pos), Rotation: [4]float32{0, 0, 0, 1}})
	}
	for i, b := range bones {
		node := m.Nodes[nodes[i]]
		parent := model.Bones.IndexOf(b.Parent)
		if parent < 0 || parent == i {
			m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, nodes[i])
			continue
		}
		p := bones[parent]
		node.Translation = m.dir(&pmx.Vector3{X: b.Pos.X - p.Pos.X, Y: b.Pos.Y - p.Pos.Y, Z: b.Pos.Z - p.Pos.Z})
		parentNode := m.Nodes[nodes[parent]]
		parentNode.Children = append(parentNode.Children, nodes[i])
	}
	return nodes
}

func (m *pmxToGltf) addSkin(model *pmx.Model, joints []uint32) uint32 {
	invmats := make([][4][4]float32, len(joints))
	for i, b := range model.Bones.All() {
		p := m.pos(&b.Pos)
		invmats[i] = [4][4]float32{
			{1, 0, 0, 0},
			{0, 1, 0, 0},
			{0, 0, 1, 0},
			{-p[0], -p[1], -p[2], 1},
		}
	}
	m.Skins = append(m.Skins, &gltf.Skin{
		Joints:              joints,
		InverseBindMatrices: gltf.Index(m.addMatrices(invmats)),
	})
	return uint32(len(m.Skins) - 1)
}

func (m *pmxToGltf) getWeights(model *pmx.Model) ([][4]uint16, [][4]float32) {
	joints := make([][4]uint16, len(model.Vertices))
	weights := make([][4]float32, len(model.Vertices))
	for i, v := range model.Vertices {
		var total float32
		n := 0
		for j, name := range v.Weight.Bones {
			w := v.Weight.WeightAt(j)
			b := model.Bones.IndexOf(name)
			if b < 0 || w <= 0 || n >= 4 {
				continue
			}
			joints[i][n] = uint16(b)
			weights[i][n] = w
			total += w
			n++
		}
		if total > 0 {
			for j := range weights[i] {
				weights[i][j] /= total
			}
		} else {
			weights[i][0] = 1
		}
	}
	return joints, weights
}

func (m *pmxToGltf) addTexture(name string) (*uint32, error) {
	if id, ok := m.texIDs[name]; ok {
		return id, nil
	}
	img, format, err := m.textures.Image(name)
	if err != nil {
		return nil, err
	}

	mimeType := "image/" + format
	encode := m.TextureReCompress || m.TextureScale != 1.0 || m.TextureResolutionLimit > 0
	if format != "png" && format != "jpeg" {
		mimeType = "image/png"
		encode = true
	}

	var r io.Reader
	if encode {
		buf, err := texture.Encode(texture.Scale(img, m.TextureScale, m.TextureResolutionLimit), mimeType)
		if err != nil {
			return nil, err
		}
		r = buf
	} else {
		path, _ := m.textures.Path(name)
		f, err := os.Open(path)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}
	imgID, err := modeler.WriteImage(m.Document, filepath.Base(texture.LocalPath(name)), mimeType, r)
	if err != nil {
		return nil, err
	}
	m.Buffers[0].ByteLength = uint32(len(m.Buffers[0].Data)) // avoid AddImage bug
	m.Textures = append(m.Textures,
		&gltf.Texture{Sampler: gltf.Index(0), Source: gltf.Index(imgID)})

	id := gltf.Index(uint32(len(m.Textures)) - 1)
	m.texIDs[name] = id
	return id, nil
}

func (m *pmxToGltf) convertMaterial(mat *pmx.Material) *gltf.Material {
	var rf float32 = 0.8
	var mf float32 = 0
	mm := &gltf.Material{
		Name: mat.Name,
		PBRMetallicRoughness: &gltf.PBRMetallicRoughness{
			BaseColorFactor: &[4]float32{mat.Diffuse.X, mat.Diffuse.Y, mat.Diffuse.Z, mat.Diffuse.W},
			RoughnessFactor: &rf,
			MetallicFactor:  &mf,
		},
		DoubleSided: mat.Flags&pmx.MaterialFlagDoubleSided != 0,
	}
	if mat.Diffuse.W < 0.99 {
		mm.AlphaMode = gltf.AlphaBlend
	}
	if m.ForceUnlit {
		mm.Extensions = map[string]interface{}{unlitMaterialExt: map[string]string{}}
	}

	if mat.Texture != "" {
		if tex, err := m.addTexture(mat.Texture); err == nil {
			mm.PBRMetallicRoughness.BaseColorTexture = &gltf.TextureInfo{
				Index: *tex,
			}
			if img, _, _ := m.textures.Image(mat.Texture); img != nil && texture.HasAlpha(img) {
				mm.AlphaMode = gltf.AlphaBlend
			}
		} else {
			log.Print("Texture read error:", err)
		}
	}
	return mm
}

// Face order is counter-clockwise once the Z axis is mirrored.
func (m *pmxToGltf) flipFaces() bool {
	return m.matrix.Det3() > 0
}

// getNormals returns the vertex normals in glTF space. Zero normals are replaced
// by the average of the adjacent face normals.
func (m *pmxToGltf) getNormals(model *pmx.Model, index map[*pmx.Vertex]uint32) [][3]float32 {
	normals := make([]*geom.Vector3, len(model.Vertices))
	for i, v := range model.Vertices {
		normals[i] = m.matrix.ApplyToDirection(&geom.Vector3{X: v.Normal.X, Y: v.Normal.Y, Z: v.Normal.Z})
	}
	acc := map[uint32]*geom.Vector3{}
	for _, mat := range model.Materials.All() {
		for _, f := range mat.Faces {
			var p [3]*geom.Vector3
			for j, v := range f.Verts {
				p[j] = m.matrix.ApplyTo(&geom.Vector3{X: v.Pos.X, Y: v.Pos.Y, Z: v.Pos.Z})
			}
			if m.flipFaces() {
				p[0], p[2] = p[2], p[0]
			}
			var fn *geom.Vector3
			for _, v := range f.Verts {
				i := index[v]
				if normals[i].LenSqr() > 0 {
					continue
				}
				if fn == nil {
					fn = geom.TriangleNormal(p[0], p[1], p[2])
				}
				if acc[i] == nil {
					acc[i] = &geom.Vector3{}
				}
				acc[i] = acc[i].Add(fn)
			}
		}
	}
	result := make([][3]float32, len(normals))
	for i, n := range normals {
		if a, ok := acc[uint32(i)]; ok {
			n = a
		}
		result[i] = n.Normalize().ToArray()
	}
	return result
}

func (m *pmxToGltf) convertMesh(model *pmx.Model, skin *uint32) {
	if model.FaceCount() == 0 {
		return
	}
	index := make(map[*pmx.Vertex]uint32, len(model.Vertices))
	vertexes := make([][3]float32, len(model.Vertices))
	texcood0 := make([][2]float32, len(model.Vertices))
	for i, v := range model.Vertices {
		index[v] = uint32(i)
		vertexes[i] = m.pos(&v.Pos)
		texcood0[i] = [2]float32{v.UV.X, v.UV.Y}
	}

	attributes := map[string]uint32{
		"POSITION":   modeler.WritePosition(m.Document, vertexes),
		"TEXCOORD_0": modeler.WriteTextureCoord(m.Document, texcood0),
	}
	if !m.ForceUnlit {
		attributes["NORMAL"] = modeler.WriteNormal(m.Document, m.getNormals(model, index))
	}
	if skin != nil {
		joints0, weights0 := m.getWeights(model)
		attributes["JOINTS_0"] = modeler.WriteJoints(m.Document, joints0)
		attributes["WEIGHTS_0"] = modeler.WriteWeights(m.Document, weights0)
	}

	// morph
	var targets []map[string]uint32
	var targetNames []string
	if !m.NoMorphs {
		for _, morph := range model.Morphs.All() {
			if morph.Type != pmx.MorphVertex || len(morph.Vertex) == 0 {
				continue
			}
			mv := make([][3]float32, len(model.Vertices))
			for _, o := range morph.Vertex {
				if i, ok := index[o.Vertex]; ok {
					mv[i] = m.dir(&o.Offset)
				}
			}
			targets = append(targets, map[string]uint32{
				"POSITION": modeler.WritePosition(m.Document, mv),
			})
			targetNames = append(targetNames, morph.Name)
		}
	}

	flip := m.flipFaces()

	// make primitive for each materials
	var primitives []*gltf.Primitive
	for i, mat := range model.Materials.All() {
		if len(mat.Faces) == 0 {
			continue
		}
		indices := make([]uint32, 0, len(mat.Faces)*3)
		for _, f := range mat.Faces {
			if flip {
				indices = append(indices, index[f.Verts[2]], index[f.Verts[1]], index[f.Verts[0]])
			} else {
				indices = append(indices, index[f.Verts[0]], index[f.Verts[1]], index[f.Verts[2]])
			}
		}
		primitives = append(primitives, &gltf.Primitive{
			Indices:    gltf.Index(modeler.WriteIndices(m.Document, indices)),
			Attributes: attributes,
			Material:   gltf.Index(uint32(i)),
			Targets:    targets,
		})
	}

	mesh := &gltf.Mesh{Name: model.Name, Primitives: primitives}
	if len(targetNames) > 0 {
		mesh.Extras = map[string]interface{}{"targetNames": targetNames}
	}
	m.Meshes = append(m.Meshes, mesh)
	m.Nodes = append(m.Nodes, &gltf.Node{Name: model.Name, Mesh: gltf.Index(uint32(len(m.Meshes) - 1)), Skin: skin})
	m.Scenes[0].Nodes = append(m.Scenes[0].Nodes, uint32(len(m.Nodes)-1))
}

// Convert builds a glTF document from model. Textures are looked up relative to srcDir.
func (m *pmxToGltf) Convert(model *pmx.Model, srcDir string) (*gltf.Document, error) {
	m.textures = texture.NewCache(srcDir)

	var skin *uint32
	if !m.NoBones && model.Bones.Len() > 0 {
		skin = gltf.Index(m.addSkin(model, m.addBoneNodes(model)))
	}

	useUnlit := false
	for _, mat := range model.Materials.All() {
		mm := m.convertMaterial(mat)
		if mm.Extensions[unlitMaterialExt] != nil {
			useUnlit = true
		}
		m.Document.Materials = append(m.Document.Materials, mm)
	}
	if useUnlit {
		m.ExtensionsUsed = append(m.ExtensionsUsed, unlitMaterialExt)
	}

	m.convertMesh(model, skin)

	if len(m.Document.Textures) > 0 {
		m.Document.Samplers = []*gltf.Sampler{{}}
	}
	return m.Document, nil
}

// SaveGLB converts model and writes it as a binary glTF file.
func SaveGLB(model *pmx.Model, path string, options *PMXToGLTFOption) error {
	srcDir := "."
	if model.Path != "" {
		srcDir = filepath.Dir(model.Path)
	}
	doc, err := NewPMXToGLTFConverter(options).Convert(model, srcDir)
	if err != nil {
		return err
	}
	return gltf.SaveBinary(doc, path)
}
