package merge

import (
	"fmt"
	"log"

	"github.com/binzume/pmxmerge/pmx"
	"github.com/tiendc/go-deepcopy"
)

func debugf(format string, args ...interface{}) {
	if pmx.Verbose {
		log.Printf(format, args...)
	}
}

// Report lists the element names appended to or updated in the base model, by kind.
type Report struct {
	Appended map[string][]string
	Updated  map[string][]string
}

func newReport() *Report {
	return &Report{Appended: map[string][]string{}, Updated: map[string][]string{}}
}

func (r *Report) appended(kind, name string) {
	r.Appended[kind] = append(r.Appended[kind], name)
}

func (r *Report) updated(kind, name string) {
	r.Updated[kind] = append(r.Updated[kind], name)
}

func logCount(n int, action, what string) {
	if n > 0 {
		log.Printf("%s %d %s from patch.", action, n, what)
	} else {
		log.Printf("No %s to %s from patch.", what, map[string]string{"Appended": "append", "Updated": "update"}[action])
	}
}

type merger struct {
	base   *pmx.Model
	patch  *pmx.Model
	opts   *Options
	report *Report

	verticesAppended bool
}

// Validate checks that every named collection of m is free of unnamed and
// duplicated elements. Each problem is logged.
func Validate(m *pmx.Model) error {
	err := m.Validate()
	if err != nil {
		for _, e := range unwrapAll(err) {
			log.Printf("Invalid element: %v", e)
		}
	}
	return err
}

func unwrapAll(err error) []error {
	if j, ok := err.(interface{ Unwrap() []error }); ok {
		var errs []error
		for _, e := range j.Unwrap() {
			errs = append(errs, unwrapAll(e)...)
		}
		return errs
	}
	return []error{err}
}

// MergeModels merges patch into base. Both models must pass Validate, otherwise
// base is left untouched. Elements of patch are moved into base, so patch must
// not be used afterwards.
func MergeModels(base, patch *pmx.Model, opts *Options) (*Report, error) {
	if opts == nil {
		opts = DefaultOptions()
	}
	if err := Validate(base); err != nil {
		return nil, fmt.Errorf("base model: %w", err)
	}
	if err := Validate(patch); err != nil {
		return nil, fmt.Errorf("patch model: %w", err)
	}

	m := &merger{base: base, patch: patch, opts: opts, report: newReport()}
	log.Println("Merging models...")
	m.mergeBones()
	m.mergeMaterials()
	m.mergeMorphs()
	m.mergePhysics()
	m.mergeDisplaySlots()
	m.appendDependencies()
	log.Println("Finished merging models.")
	return m.report, nil
}

// clone returns a deep copy of a patch record. Records holding *pmx.Vertex
// (materials, vertex and UV morphs) are moved as they are instead.
func clone[T any](v T) T {
	var c T
	if err := deepcopy.Copy(&c, &v); err != nil {
		log.Printf("WARNING: failed to copy %T: %v", v, err)
		return v
	}
	return c
}

func (m *merger) appendVertices() {
	if m.verticesAppended {
		return
	}
	m.base.AppendVertices(m.patch.Vertices...)
	m.verticesAppended = true
}

func (m *merger) mergeBones() {
	if !m.opts.Append.Has(Bone) && !m.opts.Update.HasAny(BoneLoc, BoneSetting) {
		return
	}
	log.Println("-------- Merging Bones --------")

	added := map[string]bool{}
	if m.opts.Append.Has(Bone) {
		n := 0
		for _, b := range m.patch.Bones.All() {
			if m.base.Bones.Contains(b.Name) {
				continue
			}
			m.base.Bones.Append(clone(b))
			added[b.Name] = true
			m.report.appended("bone", b.Name)
			log.Printf("New bone appended: %q (index: %d)", b.Name, m.base.Bones.Len()-1)
			n++
		}
		logCount(n, "Appended", "new bones")
	}

	if m.opts.Update.HasAny(BoneLoc, BoneSetting) {
		n := 0
		for _, b := range m.patch.Bones.All() {
			dst, ok := m.base.Bones.Get(b.Name)
			if !ok || dst == b || added[b.Name] {
				continue
			}
			dst.NameEn = b.NameEn
			if m.opts.Update.Has(BoneLoc) {
				copyBoneLocation(dst, b)
			}
			if m.opts.Update.Has(BoneSetting) {
				copyBoneSetting(dst, b)
			}
			m.report.updated("bone", b.Name)
			debugf("Updated bone: %q (index: %d)", b.Name, m.base.Bones.IndexOf(b.Name))
			n++
		}
		logCount(n, "Updated", "existing bones")
	}
	log.Println("Finished merging bones.")
}

// copyBoneLocation copies the position and the display connection.
func copyBoneLocation(dst, src *pmx.Bone) {
	dst.Pos = src.Pos
	dst.TailBone = src.TailBone
	dst.TailPos = src.TailPos
	dst.Flags = dst.Flags&^pmx.BoneFlagTailIndex | src.Flags&pmx.BoneFlagTailIndex
}

// copyBoneSetting copies everything copyBoneLocation does not.
func copyBoneSetting(dst, src *pmx.Bone) {
	dst.Parent = src.Parent
	dst.Layer = src.Layer
	dst.Flags = dst.Flags&pmx.BoneFlagTailIndex | src.Flags&^pmx.BoneFlagTailIndex
	dst.InheritBone = src.InheritBone
	dst.InheritRate = src.InheritRate
	dst.FixedAxis = src.FixedAxis
	dst.LocalAxisX = src.LocalAxisX
	dst.LocalAxisZ = src.LocalAxisZ
	dst.ExternalKey = src.ExternalKey
	dst.IK = clone(src.IK)
}

func (m *merger) mergeMaterials() {
	if !m.opts.Append.Has(Material) && !m.opts.Update.HasAny(MatGeom, MatSetting) {
		return
	}
	log.Println("-------- Merging Materials --------")

	// unused vertices and textures are dropped on save
	geometry := m.opts.Append.Has(Material) || m.opts.Update.Has(MatGeom)
	if geometry {
		m.appendVertices()
	}
	for _, t := range m.patch.Textures {
		m.base.EnsureTexture(t)
	}

	if m.opts.Append.Has(Material) {
		n := 0
		for _, mat := range m.patch.Materials.All() {
			if m.base.Materials.Contains(mat.Name) {
				continue
			}
			m.base.Materials.Append(mat)
			m.report.appended("material", mat.Name)
			log.Printf("New material appended: %q (index: %d)", mat.Name, m.base.Materials.Len()-1)
			n++
		}
		logCount(n, "Appended", "new materials")
	}

	if m.opts.Update.Has(MatGeom) {
		n := 0
		for _, mat := range m.patch.Materials.All() {
			dst, ok := m.base.Materials.Get(mat.Name)
			if !ok || dst == mat {
				continue
			}
			m.base.ReplaceMaterialFaces(mat.Name, mat.Faces)
			m.report.updated("material", mat.Name)
			debugf("Updated faces for: %q (index: %d)", mat.Name, m.base.Materials.IndexOf(mat.Name))
			n++
		}
		logCount(n, "Updated", "existing material geometries")
	}

	if geometry {
		m.mergeMeshMorphs()
	}

	if m.opts.Update.Has(MatSetting) {
		n := 0
		for _, mat := range m.patch.Materials.All() {
			dst, ok := m.base.Materials.Get(mat.Name)
			if !ok || dst == mat {
				continue
			}
			rec := *mat
			rec.Faces = dst.Faces
			m.base.Materials.Replace(mat.Name, &rec)
			m.report.updated("material", mat.Name)
			debugf("Replaced material settings: %q (index: %d)", mat.Name, m.base.Materials.IndexOf(mat.Name))
			n++
		}
		logCount(n, "Updated", "existing material settings")
	}
	log.Println("Finished merging materials.")
}

// mergeMeshMorphs merges vertex and UV morphs, whose offsets point at the
// vertices appended with the patch geometry.
func (m *merger) mergeMeshMorphs() {
	appended, updated := 0, 0
	for _, mo := range m.patch.Morphs.All() {
		if !mo.Type.IsMesh() {
			continue
		}
		dst, ok := m.base.Morphs.Get(mo.Name)
		switch {
		case !ok:
			m.base.Morphs.Append(mo)
			m.report.appended("morph", mo.Name)
			debugf("Morph appended: %q (index: %d)", mo.Name, m.base.Morphs.Len()-1)
			appended++
		case !sameMorphKind(dst.Type, mo.Type):
			log.Printf("Morph type mismatch: %q (base: %v, patch: %v), replacing instead of merging.", mo.Name, dst.Type, mo.Type)
			m.base.Morphs.Replace(mo.Name, mo)
			m.report.updated("morph", mo.Name)
			updated++
		default:
			dst.AppendOffsets(mo)
			m.report.updated("morph", mo.Name)
			debugf("Vertex/UV morph updated: %q (index: %d)", mo.Name, m.base.Morphs.IndexOf(mo.Name))
			updated++
		}
	}
	logCount(appended, "Appended", "new morphs (Vertex, UV)")
	logCount(updated, "Updated", "existing morphs (Vertex, UV)")
}

// sameMorphKind reports whether offsets of b can be appended to a. UV morphs
// of any channel are one kind; the base keeps its channel.
func sameMorphKind(a, b pmx.MorphType) bool {
	return a == b || a.IsUV() && b.IsUV()
}

func (m *merger) mergeMorphs() {
	if !m.opts.Append.Has(Morph) && !m.opts.Update.Has(Morph) {
		return
	}
	log.Println("-------- Merging Material/Bone/Group Morphs --------")

	var existing []*pmx.Morph
	var added []*pmx.Morph
	for _, mo := range m.patch.Morphs.All() {
		if mo.Type.IsMesh() {
			continue
		}
		if m.base.Morphs.Contains(mo.Name) {
			existing = append(existing, mo)
		} else {
			added = append(added, mo)
		}
	}

	if m.opts.Append.Has(Morph) {
		for _, mo := range added {
			m.base.Morphs.Append(clone(mo))
			m.report.appended("morph", mo.Name)
			debugf("New morph appended: %q (index: %d)", mo.Name, m.base.Morphs.Len()-1)
		}
		logCount(len(added), "Appended", "new morphs (Material, Bone, Group)")
	}

	if m.opts.Update.Has(Morph) {
		for _, mo := range existing {
			m.base.Morphs.Replace(mo.Name, clone(mo))
			m.report.updated("morph", mo.Name)
			debugf("Updated morph: %q (index: %d)", mo.Name, m.base.Morphs.IndexOf(mo.Name))
		}
		logCount(len(existing), "Updated", "existing morphs (Material, Bone, Group)")
	}
	log.Println("Finished merging morphs.")
}

// mergeNamed appends or replaces patch elements by name.
func mergeNamed[T pmx.Named](base, patch *pmx.Collection[T], appendNew, update bool, r *Report, label string) {
	var added, existing []T
	for _, e := range patch.All() {
		if base.Contains(e.GetName()) {
			existing = append(existing, e)
		} else {
			added = append(added, e)
		}
	}
	if appendNew {
		for _, e := range added {
			base.Append(clone(e))
			r.appended(base.Kind(), e.GetName())
			log.Printf("New %s appended: %q (index: %d)", base.Kind(), e.GetName(), base.Len()-1)
		}
		logCount(len(added), "Appended", "new "+label)
	}
	if update {
		for _, e := range existing {
			base.Replace(e.GetName(), clone(e))
			r.updated(base.Kind(), e.GetName())
			debugf("Updated %s: %q (index: %d)", base.Kind(), e.GetName(), base.IndexOf(e.GetName()))
		}
		logCount(len(existing), "Updated", "existing "+label)
	}
}

func (m *merger) mergePhysics() {
	appendNew, update := m.opts.Append.Has(Physics), m.opts.Update.Has(Physics)
	if !appendNew && !update {
		return
	}
	log.Println("-------- Merging Physics --------")
	mergeNamed(m.base.RigidBodies, m.patch.RigidBodies, appendNew, update, m.report, "rigid bodies")
	mergeNamed(m.base.Joints, m.patch.Joints, appendNew, update, m.report, "joints")
	log.Println("Finished merging physics.")
}

func (m *merger) mergeDisplaySlots() {
	appendNew, update := m.opts.Append.Has(Display), m.opts.Update.Has(Display)
	if !appendNew && !update {
		return
	}
	log.Println("-------- Merging Display Slots --------")

	var existing []*pmx.DisplaySlot
	for _, d := range m.patch.DisplaySlots.All() {
		if m.base.DisplaySlots.Contains(d.Name) {
			existing = append(existing, d)
		}
	}
	mergeNamed(m.base.DisplaySlots, m.patch.DisplaySlots, appendNew, false, m.report, "display slots")

	if appendNew {
		for _, d := range existing {
			dst, _ := m.base.DisplaySlots.Get(d.Name)
			n := 0
			for _, item := range d.Items {
				if dst.HasItem(item) {
					continue
				}
				dst.Items = append(dst.Items, item)
				m.report.appended("display item", d.Name+"/"+item.Name)
				debugf("Appended display item %q to %q", item.Name, d.Name)
				n++
			}
			if n > 0 {
				log.Printf("Appended %d new items to display slot %q from patch.", n, d.Name)
			}
		}
	}

	if update {
		for _, d := range existing {
			m.base.DisplaySlots.Replace(d.Name, clone(d))
			m.report.updated("display slot", d.Name)
			debugf("Replaced display slot: %q (index: %d)", d.Name, m.base.DisplaySlots.IndexOf(d.Name))
		}
		logCount(len(existing), "Updated", "existing display slots")
	}
	log.Println("Finished merging display slots.")
}
