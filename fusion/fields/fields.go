// Package fields wraps server-side signed distance fields.
package fields

import (
	"context"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/fusion/spatial"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"gonum.org/v1/gonum/spatial/r3"
)

const InterfacePath = "/field"

// Field is any object the server can answer geometric queries about.
type Field interface {
	Node() *fusion.Node
	Distance(ctx context.Context, space *spatial.Spatial, point r3.Vec) (float32, error)
	Normal(ctx context.Context, space *spatial.Spatial, point r3.Vec) (r3.Vec, error)
	ClosestPoint(ctx context.Context, space *spatial.Spatial, point r3.Vec) (r3.Vec, error)
}

// Base implements the queries shared by every field type.
type Base struct {
	*spatial.Spatial
}

// Distance is the signed distance from point, expressed in space, to the
// field surface. Negative inside.
func (b Base) Distance(ctx context.Context, space *spatial.Spatial, point r3.Vec) (float32, error) {
	var d float32
	err := b.Node().ExecuteRemoteMethodArgs(ctx, "distance", &d, spatial.SpacePath(space), payload.Vec3From(point))
	return d, err
}

// Normal is the surface normal nearest point, in space.
func (b Base) Normal(ctx context.Context, space *spatial.Spatial, point r3.Vec) (r3.Vec, error) {
	return b.vecQuery(ctx, "normal", space, point)
}

// ClosestPoint is the surface point nearest point, in space.
func (b Base) ClosestPoint(ctx context.Context, space *spatial.Spatial, point r3.Vec) (r3.Vec, error) {
	return b.vecQuery(ctx, "closestPoint", space, point)
}

func (b Base) vecQuery(ctx context.Context, method string, space *spatial.Spatial, point r3.Vec) (r3.Vec, error) {
	var v payload.Vec3
	if err := b.Node().ExecuteRemoteMethodArgs(ctx, method, &v, spatial.SpacePath(space), payload.Vec3From(point)); err != nil {
		return r3.Vec{}, err
	}
	return v.R3(), nil
}

// SphereField is a sphere centered on its spatial origin.
type SphereField struct {
	Base
}

var _ Field = (*SphereField)(nil)

func NewSphereField(ctx context.Context, parent *spatial.Spatial, position r3.Vec, radius float32) (*SphereField, error) {
	id := fusion.NewID()
	n, err := fusion.NewNode(ctx, parent.Client(), InterfacePath, "createSphereField", InterfacePath, true, id,
		parent.Path(),
		payload.Vec3From(position),
		radius,
	)
	if err != nil {
		return nil, err
	}
	return &SphereField{Base{spatial.FromNode(n)}}, nil
}

func (f *SphereField) SetRadius(radius float32) error {
	return f.Node().SendRemoteSignalArgs("setRadius", radius)
}

// BoxField is an axis-aligned box in its own space.
type BoxField struct {
	Base
}

var _ Field = (*BoxField)(nil)

func NewBoxField(ctx context.Context, parent *spatial.Spatial, opts spatial.Options, size r3.Vec) (*BoxField, error) {
	id := fusion.NewID()
	n, err := fusion.NewNode(ctx, parent.Client(), InterfacePath, "createBoxField", InterfacePath, true, id,
		parent.Path(),
		spatial.WireTransform(opts.Position, opts.Rotation, nil),
		payload.Vec3From(size),
	)
	if err != nil {
		return nil, err
	}
	return &BoxField{Base{spatial.FromNode(n)}}, nil
}

func (f *BoxField) SetSize(size r3.Vec) error {
	return f.Node().SendRemoteSignalArgs("setSize", payload.Vec3From(size))
}

// UnknownField is a field reported by the server whose shape is not known.
type UnknownField struct {
	Base
}

var _ Field = (*UnknownField)(nil)

// UnknownFieldFromPath aliases an existing field. Aliases never destroy the
// server object.
func UnknownFieldFromPath(c *fusion.Client, path string) (*UnknownField, error) {
	s, err := spatial.FromPath(c, path, false)
	if err != nil {
		return nil, err
	}
	return &UnknownField{Base{s}}, nil
}
