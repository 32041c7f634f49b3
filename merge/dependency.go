package merge

import (
	"log"

	"github.com/binzume/pmxmerge/pmx"
)

// appendDependencies appends the patch materials and bones that merged elements
// refer to but the base model lacks. Bones and materials are appended this way
// even when BONE or MATERIAL is not selected.
func (m *merger) appendDependencies() {
	missing := map[string]bool{}
	for _, mo := range m.base.Morphs.All() {
		if mo.Type != pmx.MorphMaterial {
			continue
		}
		for _, o := range mo.Material {
			if o.Material != "" && !m.base.Materials.Contains(o.Material) {
				missing[o.Material] = true
			}
		}
	}
	for _, mat := range m.patch.Materials.All() {
		if !missing[mat.Name] {
			continue
		}
		m.appendVertices()
		m.base.Materials.Append(mat)
		m.report.appended("material", mat.Name)
		log.Printf("Material appended as a dependency: %q (index: %d)", mat.Name, m.base.Materials.Len()-1)
	}

	missing = m.missingBones()
	if len(missing) == 0 {
		return
	}
	// parents and IK links of the missing bones come along, in patch order
	var queue []string
	for name := range missing {
		queue = append(queue, name)
	}
	for len(queue) > 0 {
		b, ok := m.patch.Bones.Get(queue[0])
		queue = queue[1:]
		if !ok {
			continue
		}
		for _, name := range boneRefs(b) {
			if name != "" && !missing[name] && !m.base.Bones.Contains(name) {
				missing[name] = true
				queue = append(queue, name)
			}
		}
	}
	for _, b := range m.patch.Bones.All() {
		if !missing[b.Name] {
			continue
		}
		m.base.Bones.Append(clone(b))
		m.report.appended("bone", b.Name)
		log.Printf("Bone appended as a dependency: %q (index: %d)", b.Name, m.base.Bones.Len()-1)
		delete(missing, b.Name)
	}
	for name := range missing {
		log.Printf("Bone %q is referenced but not found in base or patch.", name)
	}
}

// boneRefs returns the bones b refers to.
func boneRefs(b *pmx.Bone) []string {
	refs := []string{b.Parent}
	if b.HasFlag(pmx.BoneFlagTailIndex) {
		refs = append(refs, b.TailBone)
	}
	if b.Inherits() {
		refs = append(refs, b.InheritBone)
	}
	if b.HasFlag(pmx.BoneFlagIK) {
		refs = append(refs, b.IK.Target)
		for _, l := range b.IK.Links {
			refs = append(refs, l.Bone)
		}
	}
	return refs
}

// missingBones collects bone names referenced from the base model which are not
// part of it. Vertices count only when a face uses them.
func (m *merger) missingBones() map[string]bool {
	missing := map[string]bool{}
	ref := func(name string) {
		if name != "" && !m.base.Bones.Contains(name) {
			missing[name] = true
		}
	}

	used := map[*pmx.Vertex]bool{}
	for _, mat := range m.base.Materials.All() {
		for _, f := range mat.Faces {
			for _, v := range f.Verts {
				if !used[v] {
					used[v] = true
					for _, b := range v.Weight.Bones {
						ref(b)
					}
				}
			}
		}
	}
	for _, b := range m.base.Bones.All() {
		for _, name := range boneRefs(b) {
			ref(name)
		}
	}
	for _, mo := range m.base.Morphs.All() {
		for _, o := range mo.Bone {
			ref(o.Bone)
		}
	}
	for _, r := range m.base.RigidBodies.All() {
		ref(r.Bone)
	}
	for _, d := range m.base.DisplaySlots.All() {
		for _, item := range d.Items {
			if item.Type == pmx.DisplayBone {
				ref(item.Name)
			}
		}
	}
	return missing
}
