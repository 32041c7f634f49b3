package geom

// column-major matrix
type Matrix4 [16]Element

func NewScaleMatrix4(x, y, z Element) *Matrix4 {
	return &Matrix4{
		x, 0, 0, 0,
		0, y, 0, 0,
		0, 0, z, 0,
		0, 0, 0, 1,
	}
}

func (b *Matrix4) Mul(a *Matrix4) *Matrix4 {
	var m Matrix4
	for i := 0; i < 4; i++ {
		for j := 0; j < 4; j++ {
			var s Element
			for k := 0; k < 4; k++ {
				s += b[k*4+i] * a[j*4+k]
			}
			m[j*4+i] = s
		}
	}
	return &m
}

func (mat *Matrix4) ApplyTo(v *Vector3) *Vector3 {
	return &Vector3{
		mat[0]*v.X + mat[4]*v.Y + mat[8]*v.Z + mat[12],
		mat[1]*v.X + mat[5]*v.Y + mat[9]*v.Z + mat[13],
		mat[2]*v.X + mat[6]*v.Y + mat[10]*v.Z + mat[14],
	}
}

// ApplyToDirection transforms v ignoring the translation part.
func (mat *Matrix4) ApplyToDirection(v *Vector3) *Vector3 {
	return &Vector3{
		mat[0]*v.X + mat[4]*v.Y + mat[8]*v.Z,
		mat[1]*v.X + mat[5]*v.Y + mat[9]*v.Z,
		mat[2]*v.X + mat[6]*v.Y + mat[10]*v.Z,
	}
}

// Det3 returns the determinant of the upper-left 3x3 part. A negative value
// means the transform mirrors the geometry and flips triangle winding.
func (m *Matrix4) Det3() Element {
	return m[0]*(m[5]*m[10]-m[9]*m[6]) -
		m[4]*(m[1]*m[10]-m[9]*m[2]) +
		m[8]*(m[1]*m[6]-m[5]*m[2])
}
