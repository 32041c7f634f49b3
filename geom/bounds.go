package geom

// Bounds is an axis-aligned bounding box.
type Bounds struct {
	Min Vector3
	Max Vector3

	empty bool
}

func NewBounds() *Bounds {
	return &Bounds{empty: true}
}

func (b *Bounds) Empty() bool {
	return b.empty
}

func (b *Bounds) Extend(v *Vector3) {
	if b.empty {
		b.Min, b.Max = *v, *v
		b.empty = false
		return
	}
	b.Min = Vector3{min(b.Min.X, v.X), min(b.Min.Y, v.Y), min(b.Min.Z, v.Z)}
	b.Max = Vector3{max(b.Max.X, v.X), max(b.Max.Y, v.Y), max(b.Max.Z, v.Z)}
}

func (b *Bounds) Size() *Vector3 {
	if b.empty {
		return &Vector3{}
	}
	return b.Max.Sub(&b.Min)
}

func (b *Bounds) Center() *Vector3 {
	if b.empty {
		return &Vector3{}
	}
	return b.Min.Add(&b.Max).Scale(0.5)
}
