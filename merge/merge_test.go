package merge

import (
	"bytes"
	"log"
	"os"
	"strings"
	"testing"

	"github.com/binzume/pmxmerge/pmx"
)

func addBone(t *testing.T, m *pmx.Model, name, parent string) *pmx.Bone {
	t.Helper()
	b := &pmx.Bone{Name: name, Parent: parent, Flags: pmx.BoneFlagRotatable | pmx.BoneFlagVisible | pmx.BoneFlagEnabled}
	if err := m.Bones.Append(b); err != nil {
		t.Fatal(err)
	}
	return b
}

// addMaterial adds a material with a single triangle weighted to bone.
func addMaterial(t *testing.T, m *pmx.Model, name, bone string, x float32) *pmx.Material {
	t.Helper()
	var verts [3]*pmx.Vertex
	for i := range verts {
		verts[i] = &pmx.Vertex{
			Pos:    pmx.Vector3{X: x + float32(i), Y: float32(i % 2)},
			Weight: pmx.BoneWeight{Type: pmx.WeightBDEF1, Bones: []string{bone}},
		}
	}
	m.AppendVertices(verts[:]...)
	mat := &pmx.Material{Name: name, Diffuse: pmx.Vector4{X: 1, Y: 1, Z: 1, W: 1}, Faces: []*pmx.Face{{Verts: verts}}}
	if err := m.Materials.Append(mat); err != nil {
		t.Fatal(err)
	}
	return mat
}

func addMorph(t *testing.T, m *pmx.Model, mo *pmx.Morph) *pmx.Morph {
	t.Helper()
	if err := m.Morphs.Append(mo); err != nil {
		t.Fatal(err)
	}
	return mo
}

func names[T pmx.Named](c *pmx.Collection[T]) []string {
	var s []string
	for _, e := range c.All() {
		s = append(s, e.GetName())
	}
	return s
}

func equalNames(a []string, b ...string) bool {
	if len(a) != len(b) {
		return false
	}
	for i := range a {
		if a[i] != b[i] {
			return false
		}
	}
	return true
}

// roundTrip checks that the merged model can be written and read back.
func roundTrip(t *testing.T, m *pmx.Model) *pmx.Model {
	t.Helper()
	var buf bytes.Buffer
	if err := pmx.Write(&buf, m); err != nil {
		t.Fatal(err)
	}
	loaded, err := pmx.Parse(&buf)
	if err != nil {
		t.Fatal(err)
	}
	return loaded
}

func TestAppendOnlyBones(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	center := addBone(t, base, "center", "root")
	center.Pos = pmx.Vector3{Y: 5}
	addMaterial(t, base, "body", "center", 0)

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	pc := addBone(t, patch, "center", "root")
	pc.Pos = pmx.Vector3{Y: 10}
	pc.Layer = 3
	addBone(t, patch, "arm_L", "center")
	addBone(t, patch, "arm_R", "center")

	report, err := MergeModels(base, patch, &Options{Append: NewCategories(Bone), Update: NewCategories()})
	if err != nil {
		t.Fatal(err)
	}
	if !equalNames(names(base.Bones), "root", "center", "arm_L", "arm_R") {
		t.Error("bones", names(base.Bones))
	}
	if c, _ := base.Bones.Get("center"); c != center || c.Pos.Y != 5 || c.Layer != 0 || c.Parent != "root" {
		t.Error("existing bone changed", c)
	}
	if !equalNames(report.Appended["bone"], "arm_L", "arm_R") || len(report.Updated) != 0 {
		t.Error("report", report)
	}
	if base.Materials.Len() != 1 {
		t.Error("materials", base.Materials.Len())
	}
	roundTrip(t, base)
}

func TestUpdateBones(t *testing.T) {
	newBase := func() *pmx.Model {
		base := pmx.NewModel()
		addBone(t, base, "root", "")
		addBone(t, base, "other", "")
		b := addBone(t, base, "center", "root")
		b.Pos = pmx.Vector3{Y: 5}
		b.TailPos = pmx.Vector3{Y: 1}
		return base
	}
	patch := func() *pmx.Model {
		patch := pmx.NewModel()
		addBone(t, patch, "root", "")
		addBone(t, patch, "other", "")
		b := addBone(t, patch, "center", "other")
		b.NameEn = "center"
		b.Pos = pmx.Vector3{Y: 10}
		b.Flags |= pmx.BoneFlagTailIndex | pmx.BoneFlagTranslatable
		b.TailBone = "root"
		b.Layer = 2
		return patch
	}

	base := newBase()
	if _, err := MergeModels(base, patch(), &Options{Update: NewCategories(BoneLoc)}); err != nil {
		t.Fatal(err)
	}
	c, _ := base.Bones.Get("center")
	if c.Pos.Y != 10 || c.TailBone != "root" || !c.HasFlag(pmx.BoneFlagTailIndex) || c.NameEn != "center" {
		t.Error("location not updated", c)
	}
	if c.Parent != "root" || c.Layer != 0 || c.HasFlag(pmx.BoneFlagTranslatable) {
		t.Error("settings should not be updated", c)
	}

	base = newBase()
	if _, err := MergeModels(base, patch(), &Options{Update: NewCategories(BoneSetting)}); err != nil {
		t.Fatal(err)
	}
	c, _ = base.Bones.Get("center")
	if c.Pos.Y != 5 || c.HasFlag(pmx.BoneFlagTailIndex) {
		t.Error("location should not be updated", c)
	}
	if c.Parent != "other" || c.Layer != 2 || !c.HasFlag(pmx.BoneFlagTranslatable) {
		t.Error("settings not updated", c)
	}
}

func TestUpdateOnlyMaterialSetting(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	addMaterial(t, base, "body", "root", 0)
	hair := addMaterial(t, base, "hair", "root", 10)
	hairFaces := hair.Faces

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	addBone(t, patch, "new_bone", "root")
	ph := addMaterial(t, patch, "hair", "new_bone", 20)
	ph.Diffuse = pmx.Vector4{X: 0.5, W: 1}
	ph.Texture = "hair.png"
	addMaterial(t, patch, "extra", "new_bone", 30)
	vertices := len(base.Vertices)

	_, err := MergeModels(base, patch, &Options{Append: NewCategories(), Update: NewCategories(MatSetting)})
	if err != nil {
		t.Fatal(err)
	}
	if !equalNames(names(base.Materials), "body", "hair") {
		t.Error("materials", names(base.Materials))
	}
	h, _ := base.Materials.Get("hair")
	if h.Diffuse.X != 0.5 || h.Texture != "hair.png" {
		t.Error("settings not updated", h)
	}
	if len(h.Faces) != 1 || h.Faces[0] != hairFaces[0] {
		t.Error("faces should be kept", h.Faces)
	}
	if len(base.Vertices) != vertices || base.Bones.Len() != 1 {
		t.Error("nothing should be appended", len(base.Vertices), names(base.Bones))
	}

	loaded := roundTrip(t, base)
	if len(loaded.Textures) != 1 || loaded.Textures[0] != "hair.png" {
		t.Error("textures", loaded.Textures)
	}
}

func TestAppendAndUpdateBones(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")

	patch := pmx.NewModel()
	r := addBone(t, patch, "root", "")
	r.Pos = pmx.Vector3{Y: 1}
	addBone(t, patch, "arm", "root")

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	report, err := MergeModels(base, patch, &Options{Append: NewCategories(Bone), Update: NewCategories(BoneLoc)})
	if err != nil {
		t.Fatal(err)
	}
	if !equalNames(report.Appended["bone"], "arm") || !equalNames(report.Updated["bone"], "root") {
		t.Error("report", report)
	}
	if !strings.Contains(buf.String(), "Updated 1 existing bones") {
		t.Error("log", buf.String())
	}
	if b, _ := base.Bones.Get("root"); b.Pos.Y != 1 {
		t.Error("root not updated", b.Pos)
	}
}

func TestMergeUVMorphChannels(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	body := addMaterial(t, base, "body", "root", 0)
	uv := pmx.NewMorph("uv", pmx.MorphUV0)
	uv.UV = []*pmx.UVOffset{{Vertex: body.Faces[0].Verts[0], Offset: pmx.Vector4{X: 1}}}
	addMorph(t, base, uv)

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	sleeve := addMaterial(t, patch, "sleeve", "root", 10)
	puv := pmx.NewMorph("uv", pmx.MorphUV1)
	puv.UV = []*pmx.UVOffset{{Vertex: sleeve.Faces[0].Verts[0], Offset: pmx.Vector4{X: 2}}}
	addMorph(t, patch, puv)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	report, err := MergeModels(base, patch, &Options{Append: NewCategories(Material), Update: NewCategories()})
	if err != nil {
		t.Fatal(err)
	}
	if m, _ := base.Morphs.Get("uv"); m != uv || m.Type != pmx.MorphUV0 || len(m.UV) != 2 {
		t.Error("UV morph offsets should be concatenated", m.Type, len(m.UV))
	}
	if strings.Contains(buf.String(), "mismatch") {
		t.Error("UV channels should not be treated as a type mismatch")
	}
	if !equalNames(report.Updated["morph"], "uv") {
		t.Error("report", report.Updated)
	}
	loaded := roundTrip(t, base)
	if m, _ := loaded.Morphs.Get("uv"); m.Type != pmx.MorphUV0 || len(m.UV) != 2 || m.UV[1].Offset.X != 2 {
		t.Error("loaded UV morph", m.Type, len(m.UV))
	}
}

func TestMaterialGeometry(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	body := addMaterial(t, base, "body", "root", 0)
	smile := pmx.NewMorph("smile", pmx.MorphVertex)
	smile.Vertex = []*pmx.VertexOffset{{Vertex: body.Faces[0].Verts[0], Offset: pmx.Vector3{Y: 1}}}
	addMorph(t, base, smile)
	addMorph(t, base, pmx.NewMorph("mixed", pmx.MorphBone))

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	addBone(t, patch, "jaw", "root")
	pbody := addMaterial(t, patch, "body", "jaw", 100)
	ps := pmx.NewMorph("smile", pmx.MorphVertex)
	ps.Vertex = []*pmx.VertexOffset{{Vertex: pbody.Faces[0].Verts[1], Offset: pmx.Vector3{Y: 2}}}
	addMorph(t, patch, ps)
	blink := pmx.NewMorph("blink", pmx.MorphUV1)
	blink.UV = []*pmx.UVOffset{{Vertex: pbody.Faces[0].Verts[2]}}
	addMorph(t, patch, blink)
	mixed := pmx.NewMorph("mixed", pmx.MorphVertex)
	mixed.Vertex = []*pmx.VertexOffset{{Vertex: pbody.Faces[0].Verts[0]}}
	addMorph(t, patch, mixed)

	var buf bytes.Buffer
	log.SetOutput(&buf)
	defer log.SetOutput(os.Stderr)
	report, err := MergeModels(base, patch, &Options{Update: NewCategories(MatGeom)})
	if err != nil {
		t.Fatal(err)
	}
	// smile is merged, mixed is replaced
	if !strings.Contains(buf.String(), "Updated 2 existing morphs (Vertex, UV)") {
		t.Error("log", buf.String())
	}
	b, _ := base.Materials.Get("body")
	if b != body || len(b.Faces) != 1 || b.Faces[0] != pbody.Faces[0] {
		t.Error("faces not replaced", b.Faces)
	}
	if s, _ := base.Morphs.Get("smile"); s != smile || len(s.Vertex) != 2 {
		t.Error("vertex morph offsets should be concatenated", s)
	}
	if m, _ := base.Morphs.Get("mixed"); m.Type != pmx.MorphVertex || base.Morphs.IndexOf("mixed") != 1 {
		t.Error("mismatched morph should be replaced in place", m.Type)
	}
	if !base.Morphs.Contains("blink") {
		t.Error("new UV morph not appended")
	}
	if !base.Bones.Contains("jaw") || !equalNames(report.Appended["bone"], "jaw") {
		t.Error("bone used by the new geometry should be appended", names(base.Bones))
	}

	loaded := roundTrip(t, base)
	if len(loaded.Vertices) != 3 {
		t.Error("old geometry should be purged", len(loaded.Vertices))
	}
	if s, _ := loaded.Morphs.Get("smile"); len(s.Vertex) != 1 || s.Vertex[0].Offset.Y != 2 {
		t.Error("offsets of purged vertices should be dropped", s.Vertex)
	}
}

func TestAppendMaterials(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	addMaterial(t, base, "body", "root", 0)

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	addBone(t, patch, "shoulder", "root")
	addBone(t, patch, "arm", "shoulder")
	addBone(t, patch, "unused", "root")
	addMaterial(t, patch, "body", "root", 50)
	sleeve := addMaterial(t, patch, "sleeve", "arm", 100)
	sleeve.Texture = "sleeve.png"

	_, err := MergeModels(base, patch, &Options{Append: NewCategories(Material), Update: NewCategories()})
	if err != nil {
		t.Fatal(err)
	}
	if !equalNames(names(base.Materials), "body", "sleeve") {
		t.Error("materials", names(base.Materials))
	}
	// arm needs shoulder as its parent
	if !equalNames(names(base.Bones), "root", "shoulder", "arm") {
		t.Error("bones", names(base.Bones))
	}
	loaded := roundTrip(t, base)
	if len(loaded.Vertices) != 6 || loaded.FaceCount() != 2 || len(loaded.Textures) != 1 {
		t.Error("merged geometry", len(loaded.Vertices), loaded.FaceCount(), loaded.Textures)
	}
	if s, _ := loaded.Materials.Get("sleeve"); s.Faces[0].Verts[0].Weight.Bones[0] != "arm" {
		t.Error("weights", s.Faces[0].Verts[0].Weight)
	}
}

func TestMergeMorphs(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	addMaterial(t, base, "body", "root", 0)
	nod := pmx.NewMorph("nod", pmx.MorphBone)
	nod.Bone = []*pmx.BoneOffset{{Bone: "root"}}
	addMorph(t, base, nod)

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	addBone(t, patch, "head", "root")
	addMaterial(t, patch, "eye", "head", 10)
	pnod := pmx.NewMorph("nod", pmx.MorphBone)
	pnod.Bone = []*pmx.BoneOffset{{Bone: "head", Rotation: pmx.Vector4{W: 1}}}
	addMorph(t, patch, pnod)
	fade := pmx.NewMorph("fade", pmx.MorphMaterial)
	fade.Material = []*pmx.MaterialOffset{{Material: "eye"}}
	addMorph(t, patch, fade)
	group := pmx.NewMorph("group", pmx.MorphGroup)
	group.Group = []*pmx.GroupOffset{{Morph: "nod", Weight: 1}, {Morph: "fade", Weight: 1}}
	addMorph(t, patch, group)
	addMorph(t, patch, pmx.NewMorph("vertex", pmx.MorphVertex))

	report, err := MergeModels(base, patch, &Options{Append: NewCategories(Morph), Update: NewCategories(Morph)})
	if err != nil {
		t.Fatal(err)
	}
	if !equalNames(names(base.Morphs), "nod", "fade", "group") {
		t.Error("morphs", names(base.Morphs))
	}
	if n, _ := base.Morphs.Get("nod"); n == pnod || len(n.Bone) != 1 || n.Bone[0].Bone != "head" {
		t.Error("bone morph should be replaced by a copy", n.Bone)
	}
	if !equalNames(report.Updated["morph"], "nod") {
		t.Error("report", report.Updated)
	}
	// dependencies of the new morphs
	if !base.Bones.Contains("head") || !base.Materials.Contains("eye") {
		t.Error("dependencies", names(base.Bones), names(base.Materials))
	}
	loaded := roundTrip(t, base)
	if f, _ := loaded.Morphs.Get("fade"); f.Material[0].Material != "eye" {
		t.Error("material morph target", f.Material[0])
	}
	if g, _ := loaded.Morphs.Get("group"); g.Group[1].Morph != "fade" {
		t.Error("group morph target", g.Group[1])
	}
}

func TestMergePhysics(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	base.RigidBodies.Append(&pmx.RigidBody{Name: "body", Bone: "root", Mass: 1})
	base.RigidBodies.Append(&pmx.RigidBody{Name: "skirt", Bone: "root", Mass: 1})
	base.Joints.Append(&pmx.Joint{Name: "j1", RigidA: "body", RigidB: "skirt"})

	patch := pmx.NewModel()
	addBone(t, patch, "root", "")
	addBone(t, patch, "hair", "root")
	patch.RigidBodies.Append(&pmx.RigidBody{Name: "skirt", Bone: "root", Mass: 2})
	patch.RigidBodies.Append(&pmx.RigidBody{Name: "hair", Bone: "hair", Mass: 0.1})
	patch.Joints.Append(&pmx.Joint{Name: "j1", RigidA: "body", RigidB: "skirt", SpringPos: pmx.Vector3{X: 1}})
	patch.Joints.Append(&pmx.Joint{Name: "j2", RigidA: "skirt", RigidB: "hair"})

	if _, err := MergeModels(base, patch, &Options{Append: NewCategories(Physics), Update: NewCategories()}); err != nil {
		t.Fatal(err)
	}
	if !equalNames(names(base.RigidBodies), "body", "skirt", "hair") || !equalNames(names(base.Joints), "j1", "j2") {
		t.Error("physics", names(base.RigidBodies), names(base.Joints))
	}
	if s, _ := base.RigidBodies.Get("skirt"); s.Mass != 1 {
		t.Error("existing rigid body should be kept", s.Mass)
	}
	if !base.Bones.Contains("hair") {
		t.Error("bone of the new rigid body should be appended")
	}
	ph, _ := patch.RigidBodies.Get("hair")
	ph.Mass = 5
	if h, _ := base.RigidBodies.Get("hair"); h == ph || h.Mass != 0.1 {
		t.Error("merged rigid body should be a copy", h.Mass)
	}

	if _, err := MergeModels(base, patch, &Options{Append: NewCategories(), Update: NewCategories(Physics)}); err != nil {
		t.Fatal(err)
	}
	if s, _ := base.RigidBodies.Get("skirt"); s.Mass != 2 || base.RigidBodies.IndexOf("skirt") != 1 {
		t.Error("rigid body not updated", s.Mass)
	}
	if j, _ := base.Joints.Get("j1"); j.SpringPos.X != 1 {
		t.Error("joint not updated", j)
	}
}

func TestMergeDisplaySlots(t *testing.T) {
	newBase := func() *pmx.Model {
		base := pmx.NewModel()
		addBone(t, base, "root", "")
		base.DisplaySlots.Append(&pmx.DisplaySlot{Name: "Root", Special: true, Items: []pmx.DisplayItem{{Type: pmx.DisplayBone, Name: "root"}}})
		base.DisplaySlots.Append(&pmx.DisplaySlot{Name: "body", Items: []pmx.DisplayItem{{Type: pmx.DisplayBone, Name: "root"}}})
		return base
	}
	newPatch := func() *pmx.Model {
		patch := pmx.NewModel()
		addBone(t, patch, "root", "")
		addBone(t, patch, "leg", "root")
		patch.DisplaySlots.Append(&pmx.DisplaySlot{Name: "body", Items: []pmx.DisplayItem{
			{Type: pmx.DisplayBone, Name: "leg"}, {Type: pmx.DisplayBone, Name: "root"}}})
		patch.DisplaySlots.Append(&pmx.DisplaySlot{Name: "new", Items: nil})
		return patch
	}

	base := newBase()
	if _, err := MergeModels(base, newPatch(), &Options{Append: NewCategories(Display), Update: NewCategories()}); err != nil {
		t.Fatal(err)
	}
	body, _ := base.DisplaySlots.Get("body")
	if len(body.Items) != 2 || body.Items[0].Name != "root" || body.Items[1].Name != "leg" {
		t.Error("display items", body.Items)
	}
	if !equalNames(names(base.DisplaySlots), "Root", "body", "new") || !base.Bones.Contains("leg") {
		t.Error("display slots", names(base.DisplaySlots), names(base.Bones))
	}

	base = newBase()
	if _, err := MergeModels(base, newPatch(), &Options{Append: NewCategories(), Update: NewCategories(Display)}); err != nil {
		t.Fatal(err)
	}
	body, _ = base.DisplaySlots.Get("body")
	if len(body.Items) != 2 || body.Items[0].Name != "leg" || base.DisplaySlots.Len() != 2 {
		t.Error("display slot should be replaced", body.Items, base.DisplaySlots.Len())
	}
}

func TestMergeValidation(t *testing.T) {
	base := pmx.NewModel()
	addBone(t, base, "root", "")
	a := addBone(t, base, "a", "")
	a.Name = "root"
	before := base.Bones.Len()

	patch := pmx.NewModel()
	addBone(t, patch, "b", "")
	if _, err := MergeModels(base, patch, DefaultOptions()); err == nil {
		t.Fatal("duplicate bone names should be rejected")
	}
	if base.Bones.Len() != before || base.Bones.Contains("b") {
		t.Error("base should be untouched")
	}
}
