// Package spatial wraps server-side transforms.
package spatial

import (
	"context"
	"fmt"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

const (
	InterfacePath = "/spatial"
	ChildPrefix   = "/spatial/spatial"
)

// Options sets the initial transform. Nil components take server defaults.
type Options struct {
	Position *r3.Vec
	Rotation *quat.Number
	Scale    *r3.Vec
	Zoneable bool
}

// Transform is a resolved transform relative to some space.
type Transform struct {
	Position r3.Vec
	Rotation quat.Number
	Scale    r3.Vec
}

// Spatial is a node with a position, rotation and scale.
type Spatial struct {
	node *fusion.Node
}

// Root returns the client root as a Spatial. Closing it is a no-op.
func Root(c *fusion.Client) *Spatial {
	return &Spatial{node: c.Root()}
}

// FromNode wraps an existing node.
func FromNode(n *fusion.Node) *Spatial {
	return &Spatial{node: n}
}

func FromPath(c *fusion.Client, path string, destroyable bool) (*Spatial, error) {
	n, err := fusion.NodeFromPath(c, path, destroyable)
	if err != nil {
		return nil, err
	}
	return &Spatial{node: n}, nil
}

// Create makes a new spatial under parent.
func Create(ctx context.Context, parent *Spatial, opts Options) (*Spatial, error) {
	if parent == nil {
		return nil, fmt.Errorf("spatial: parent required")
	}
	id := fusion.NewID()
	n, err := fusion.NewNode(ctx, parent.Client(), InterfacePath, "createSpatial", ChildPrefix, true, id,
		parent.Path(),
		WireTransform(opts.Position, opts.Rotation, opts.Scale),
		opts.Zoneable,
	)
	if err != nil {
		return nil, err
	}
	return &Spatial{node: n}, nil
}

func (s *Spatial) Node() *fusion.Node {
	return s.node
}

func (s *Spatial) Client() *fusion.Client {
	return s.node.Client()
}

func (s *Spatial) Path() string {
	return s.node.Path()
}

func (s *Spatial) Close() error {
	return s.node.Close()
}

func (s *Spatial) SetPosition(relativeTo *Spatial, position r3.Vec) error {
	return s.node.SendRemoteSignalArgs("setPosition", SpacePath(relativeTo), payload.Vec3From(position))
}

func (s *Spatial) SetRotation(relativeTo *Spatial, rotation quat.Number) error {
	return s.node.SendRemoteSignalArgs("setRotation", SpacePath(relativeTo), payload.QuatFrom(rotation))
}

func (s *Spatial) SetScale(relativeTo *Spatial, scale r3.Vec) error {
	return s.node.SendRemoteSignalArgs("setScale", SpacePath(relativeTo), payload.Vec3From(scale))
}

// SetTransform updates the non-nil components relative to relativeTo.
func (s *Spatial) SetTransform(relativeTo *Spatial, position *r3.Vec, rotation *quat.Number, scale *r3.Vec) error {
	return s.node.SendRemoteSignalArgs("setTransform", SpacePath(relativeTo), WireTransform(position, rotation, scale))
}

// SetSpatialParent reparents keeping the local transform.
func (s *Spatial) SetSpatialParent(parent *Spatial) error {
	return s.node.SendRemoteSignalArgs("setSpatialParent", parent.Path())
}

// SetSpatialParentInPlace reparents keeping the world transform.
func (s *Spatial) SetSpatialParentInPlace(parent *Spatial) error {
	return s.node.SendRemoteSignalArgs("setSpatialParentInPlace", parent.Path())
}

func (s *Spatial) SetZoneable(zoneable bool) error {
	return s.node.SendRemoteSignalArgs("setZoneable", zoneable)
}

// GetTransform asks the server for this spatial's transform relative to
// relativeTo, or to its parent when relativeTo is nil.
func (s *Spatial) GetTransform(ctx context.Context, relativeTo *Spatial) (Transform, error) {
	var wire payload.Transform
	if err := s.node.ExecuteRemoteMethodArgs(ctx, "getTransform", &wire, SpacePath(relativeTo)); err != nil {
		return Transform{}, err
	}
	out := Transform{Rotation: quat.Number{Real: 1}, Scale: r3.Vec{X: 1, Y: 1, Z: 1}}
	if wire.Position != nil {
		out.Position = wire.Position.R3()
	}
	if wire.Rotation != nil {
		out.Rotation = wire.Rotation.Number()
	}
	if wire.Scale != nil {
		out.Scale = wire.Scale.R3()
	}
	return out, nil
}

// SpacePath is the wire reference for a reference space; nil encodes as
// CBOR null.
func SpacePath(s *Spatial) any {
	if s == nil {
		return nil
	}
	return s.Path()
}

// WireTransform converts optional components to their wire form.
func WireTransform(position *r3.Vec, rotation *quat.Number, scale *r3.Vec) payload.Transform {
	var t payload.Transform
	if position != nil {
		v := payload.Vec3From(*position)
		t.Position = &v
	}
	if rotation != nil {
		q := payload.QuatFrom(*rotation)
		t.Rotation = &q
	}
	if scale != nil {
		v := payload.Vec3From(*scale)
		t.Scale = &v
	}
	return t
}
