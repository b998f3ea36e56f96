// Package drawable wraps renderable server objects.
package drawable

import (
	"context"
	"fmt"
	"strings"

	"github.com/danmuck/fusion/fusion"
	"github.com/danmuck/fusion/fusion/spatial"
)

const (
	InterfacePath = "/drawable"
	ModelPrefix   = "/drawable/model"
)

// NamespacedResource names an asset as namespace:path, resolved by the server
// against the client's base prefixes.
type NamespacedResource struct {
	Namespace string `cbor:"namespace"`
	Path      string `cbor:"path"`
}

func NewNamespacedResource(namespace, path string) NamespacedResource {
	return NamespacedResource{Namespace: namespace, Path: path}
}

// ParseNamespacedResource accepts "namespace:path".
func ParseNamespacedResource(s string) (NamespacedResource, error) {
	ns, path, ok := strings.Cut(s, ":")
	if !ok || ns == "" || path == "" {
		return NamespacedResource{}, fmt.Errorf("drawable: resource %q is not namespace:path", s)
	}
	return NamespacedResource{Namespace: ns, Path: path}, nil
}

func (r NamespacedResource) String() string {
	return r.Namespace + ":" + r.Path
}

// Model is a 3D model loaded by the server.
type Model struct {
	*spatial.Spatial
	resource NamespacedResource
}

func NewModel(ctx context.Context, parent *spatial.Spatial, resource NamespacedResource, opts spatial.Options) (*Model, error) {
	id := fusion.NewID()
	n, err := fusion.NewNode(ctx, parent.Client(), InterfacePath, "createModel", ModelPrefix, true, id,
		parent.Path(),
		spatial.WireTransform(opts.Position, opts.Rotation, opts.Scale),
		resource,
	)
	if err != nil {
		return nil, err
	}
	return &Model{Spatial: spatial.FromNode(n), resource: resource}, nil
}

func (m *Model) Resource() NamespacedResource {
	return m.resource
}
