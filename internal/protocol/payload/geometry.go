package payload

import (
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// Vec3 is the wire form of a vector: [x, y, z].
type Vec3 [3]float32

// Quat is the wire form of a rotation: [x, y, z, w].
type Quat [4]float32

func Vec3From(v r3.Vec) Vec3 {
	return Vec3{float32(v.X), float32(v.Y), float32(v.Z)}
}

func (v Vec3) R3() r3.Vec {
	return r3.Vec{X: float64(v[0]), Y: float64(v[1]), Z: float64(v[2])}
}

func QuatFrom(q quat.Number) Quat {
	return Quat{float32(q.Imag), float32(q.Jmag), float32(q.Kmag), float32(q.Real)}
}

func (q Quat) Number() quat.Number {
	return quat.Number{Real: float64(q[3]), Imag: float64(q[0]), Jmag: float64(q[1]), Kmag: float64(q[2])}
}

// Transform carries optional components; nil leaves the server value unchanged.
type Transform struct {
	Position *Vec3 `cbor:"position,omitempty"`
	Rotation *Quat `cbor:"rotation,omitempty"`
	Scale    *Vec3 `cbor:"scale,omitempty"`
}
