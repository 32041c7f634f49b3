package geom

import (
	"testing"
)

func TestVector3(t *testing.T) {
	zero := NewVector3(0, 0, 0)
	if zero.Len() != 0 || zero.LenSqr() != 0 || zero.Dot(zero) != 0 {
		t.Error("len != 0")
	}

	if *zero.Normalize() != *NewVector3(1, 0, 0) {
		t.Error("Normalize shoud returns unit vector.", zero.Normalize())
	}

	if *NewVector3(1, 0, 0).Add(NewVector3(0, 1, 0)) != *NewVector3(1, 1, 0) {
		t.Error("Vector.Add()")
	}

	if *NewVector3(1, 0, 0).Cross(NewVector3(0, 1, 0)) != *NewVector3(0, 0, 1) {
		t.Error("Vector.Cross()")
	}
}

func TestTriangleNormal(t *testing.T) {
	n := TriangleNormal(NewVector3(0, 0, 0), NewVector3(1, 0, 0), NewVector3(0, 1, 0))
	if *n != *NewVector3(0, 0, 1) {
		t.Error("TriangleNormal()", n)
	}
}

func TestMatrix4(t *testing.T) {
	m := NewScaleMatrix4(-1, 1, -1).Mul(NewScaleMatrix4(2, 2, -2))
	v := m.ApplyTo(NewVector3(1, 1, 1))
	if *v != *NewVector3(-2, 2, 2) {
		t.Error("ApplyTo()", v)
	}
	d := m.ApplyToDirection(NewVector3(1, 1, 1))
	if *d != *NewVector3(-2, 2, 2) {
		t.Error("ApplyToDirection()", d)
	}
	if m.Det3() >= 0 {
		t.Error("mirrored matrix should have negative determinant", m.Det3())
	}
	if NewScaleMatrix4(1, 1, 1).Det3() != 1 {
		t.Error("identity Det3() != 1")
	}
}

func TestBounds(t *testing.T) {
	b := NewBounds()
	if !b.Empty() || b.Size().Len() != 0 {
		t.Error("new bounds should be empty")
	}
	b.Extend(NewVector3(1, -1, 0))
	b.Extend(NewVector3(-1, 2, 4))
	if b.Empty() {
		t.Fatal("bounds should not be empty")
	}
	if *b.Size() != *NewVector3(2, 3, 4) {
		t.Error("Size()", b.Size())
	}
	if *b.Center() != *NewVector3(0, 0.5, 2) {
		t.Error("Center()", b.Center())
	}
}
