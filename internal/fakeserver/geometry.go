package fakeserver

import (
	"math"

	"github.com/danmuck/fusion/internal/protocol/payload"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

// pose is a translation, rotation and per-axis scale. apply maps a point from
// the pose's local space into its parent space.
type pose struct {
	pos   r3.Vec
	rot   quat.Number
	scale r3.Vec
}

func identityPose() pose {
	return pose{rot: quat.Number{Real: 1}, scale: r3.Vec{X: 1, Y: 1, Z: 1}}
}

func poseFrom(t payload.Transform) pose {
	p := identityPose()
	p.merge(t)
	return p
}

// merge overwrites the components present in t.
func (p *pose) merge(t payload.Transform) {
	if t.Position != nil {
		p.pos = t.Position.R3()
	}
	if t.Rotation != nil {
		p.rot = unitQuat(t.Rotation.Number())
	}
	if t.Scale != nil {
		p.scale = t.Scale.R3()
	}
}

func (p pose) wire() payload.Transform {
	pos := payload.Vec3From(p.pos)
	rot := payload.QuatFrom(p.rot)
	scale := payload.Vec3From(p.scale)
	return payload.Transform{Position: &pos, Rotation: &rot, Scale: &scale}
}

func (p pose) apply(v r3.Vec) r3.Vec {
	return r3.Add(p.pos, rotate(p.rot, mulElem(p.scale, v)))
}

func (p pose) unapply(v r3.Vec) r3.Vec {
	return divElem(rotate(quat.Conj(p.rot), r3.Sub(v, p.pos)), p.scale)
}

func (p pose) compose(child pose) pose {
	return pose{
		pos:   p.apply(child.pos),
		rot:   unitQuat(quat.Mul(p.rot, child.rot)),
		scale: mulElem(p.scale, child.scale),
	}
}

// relativeTo expresses p in the local space of space.
func (p pose) relativeTo(space pose) pose {
	return pose{
		pos:   space.unapply(p.pos),
		rot:   unitQuat(quat.Mul(quat.Conj(space.rot), p.rot)),
		scale: divElem(p.scale, space.scale),
	}
}

// uniformScale is the smallest absolute axis scale, used to bring local
// distances back into world units.
func (p pose) uniformScale() float64 {
	return math.Min(math.Abs(p.scale.X), math.Min(math.Abs(p.scale.Y), math.Abs(p.scale.Z)))
}

func rotate(q quat.Number, v r3.Vec) r3.Vec {
	r := quat.Mul(quat.Mul(q, quat.Number{Imag: v.X, Jmag: v.Y, Kmag: v.Z}), quat.Conj(q))
	return r3.Vec{X: r.Imag, Y: r.Jmag, Z: r.Kmag}
}

func unitQuat(q quat.Number) quat.Number {
	n := quat.Abs(q)
	if n == 0 {
		return quat.Number{Real: 1}
	}
	return quat.Scale(1/n, q)
}

func mulElem(a, b r3.Vec) r3.Vec {
	return r3.Vec{X: a.X * b.X, Y: a.Y * b.Y, Z: a.Z * b.Z}
}

func divElem(a, b r3.Vec) r3.Vec {
	div := func(x, y float64) float64 {
		if y == 0 {
			return 0
		}
		return x / y
	}
	return r3.Vec{X: div(a.X, b.X), Y: div(a.Y, b.Y), Z: div(a.Z, b.Z)}
}

func sphereDistance(p r3.Vec, radius float64) float64 {
	return r3.Norm(p) - radius
}

// boxDistance is the signed distance to a box of the given full size
// centered on the origin.
func boxDistance(p r3.Vec, size r3.Vec) float64 {
	q := r3.Vec{
		X: math.Abs(p.X) - size.X/2,
		Y: math.Abs(p.Y) - size.Y/2,
		Z: math.Abs(p.Z) - size.Z/2,
	}
	outside := r3.Norm(r3.Vec{X: math.Max(q.X, 0), Y: math.Max(q.Y, 0), Z: math.Max(q.Z, 0)})
	inside := math.Min(math.Max(q.X, math.Max(q.Y, q.Z)), 0)
	return outside + inside
}

const gradientStep = 1e-4

// gradient is the normalized central-difference gradient of sdf at p.
func gradient(sdf func(r3.Vec) float64, p r3.Vec) r3.Vec {
	axis := func(d r3.Vec) float64 {
		return sdf(r3.Add(p, d)) - sdf(r3.Sub(p, d))
	}
	g := r3.Vec{
		X: axis(r3.Vec{X: gradientStep}),
		Y: axis(r3.Vec{Y: gradientStep}),
		Z: axis(r3.Vec{Z: gradientStep}),
	}
	if r3.Norm(g) == 0 {
		return r3.Vec{Y: 1}
	}
	return r3.Unit(g)
}
