package fakeserver

import (
	"errors"
	"fmt"
	"maps"
	"reflect"
	"slices"
	"strings"
	"sync"

	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"github.com/fxamacker/cbor/v2"
	"gonum.org/v1/gonum/num/quat"
	"gonum.org/v1/gonum/spatial/r3"
)

var (
	ErrObjectExists = errors.New("fakeserver: object already exists")
	ErrInvalidID    = errors.New("fakeserver: invalid object id")
	ErrWrongKind    = errors.New("fakeserver: operation not supported by object")
	ErrParentCycle  = errors.New("fakeserver: parent would create a cycle")
	ErrNotVisible   = errors.New("fakeserver: receiver not visible to sender")
)

const (
	spatialInterface  = "/spatial"
	fieldInterface    = "/field"
	drawableInterface = "/drawable"
	dataInterface     = "/data"

	spatialPrefix  = "/spatial/spatial"
	fieldPrefix    = "/field"
	modelPrefix    = "/drawable/model"
	senderPrefix   = "/data/sender"
	receiverPrefix = "/data/receiver"
)

type Kind string

const (
	KindRoot     Kind = "root"
	KindSpatial  Kind = "spatial"
	KindSphere   Kind = "sphere"
	KindBox      Kind = "box"
	KindModel    Kind = "model"
	KindSender   Kind = "sender"
	KindReceiver Kind = "receiver"
)

func (k Kind) isField() bool {
	return k == KindSphere || k == KindBox
}

type object struct {
	id     string
	path   string
	kind   Kind
	owner  *peer
	parent *object
	local  pose

	enabled  bool
	zoneable bool
	radius   float64
	size     r3.Vec
	resource string
	mask     map[string]any
	field    *object
	// visible holds the receiver ids announced to a sender.
	visible map[string]struct{}
}

func (o *object) within(ancestor *object) bool {
	for c := o; c != nil; c = c.parent {
		if c == ancestor {
			return true
		}
	}
	return false
}

// ObjectInfo is a snapshot of one server object.
type ObjectInfo struct {
	Path          string
	Kind          Kind
	Parent        string
	Position      r3.Vec
	Rotation      quat.Number
	Scale         r3.Vec
	WorldPosition r3.Vec
	Enabled       bool
	Zoneable      bool
	Radius        float64
	Size          r3.Vec
	Resource      string
	Mask          map[string]any
	Field         string
}

// outbound is a signal produced while the world lock is held and sent after
// it is released.
type outbound struct {
	to     *peer
	path   string
	method string
	data   []byte
}

type request struct {
	peer *peer
	obj  *object
	args []cbor.RawMessage
}

type handlerFunc func(w *World, req request) ([]byte, []outbound, error)

var creators = map[string]map[string]handlerFunc{
	spatialInterface: {
		"createSpatial": (*World).createSpatial,
	},
	fieldInterface: {
		"createSphereField": (*World).createSphereField,
		"createBoxField":    (*World).createBoxField,
	},
	drawableInterface: {
		"createModel": (*World).createModel,
	},
	dataInterface: {
		"createPulseSender":   (*World).createPulseSender,
		"createPulseReceiver": (*World).createPulseReceiver,
	},
}

var objectMethods = map[string]handlerFunc{
	"destroy":                 (*World).destroy,
	"setEnabled":              (*World).setEnabled,
	"setZoneable":             (*World).setZoneable,
	"setPosition":             (*World).setPosition,
	"setRotation":             (*World).setRotation,
	"setScale":                (*World).setScale,
	"setTransform":            (*World).setTransform,
	"setSpatialParent":        (*World).setSpatialParent,
	"setSpatialParentInPlace": (*World).setSpatialParentInPlace,
	"getTransform":            (*World).getTransform,
	"setRadius":               (*World).setRadius,
	"setSize":                 (*World).setSize,
	"distance":                (*World).distance,
	"normal":                  (*World).normal,
	"closestPoint":            (*World).closestPoint,
	"sendData":                (*World).sendData,
	"setBasePrefixes":         (*World).setBasePrefixes,
}

// World is the object tree shared by every connected client. Each client
// sees its own root at "/"; every other path is global.
type World struct {
	mu      sync.Mutex
	objects map[string]*object
	peers   map[uint64]*peer
}

func NewWorld() *World {
	return &World{
		objects: make(map[string]*object),
		peers:   make(map[uint64]*peer),
	}
}

func (w *World) attach(p *peer) {
	w.mu.Lock()
	defer w.mu.Unlock()
	p.root = &object{path: "/", kind: KindRoot, owner: p, local: identityPose(), enabled: true}
	w.peers[p.id] = p
}

// detach removes every object p owns along with their subtrees.
func (w *World) detach(p *peer) []outbound {
	w.mu.Lock()
	defer w.mu.Unlock()
	delete(w.peers, p.id)
	var owned []*object
	for _, o := range w.objects {
		if o.owner == p {
			owned = append(owned, o)
		}
	}
	owned = append(owned, p.root)
	return w.removeLocked(owned...)
}

// Signal applies a signal. Replies of query methods sent as signals are
// discarded.
func (w *World) Signal(p *peer, path, method string, data []byte) ([]outbound, error) {
	_, outs, err := w.handle(p, path, method, data)
	return outs, err
}

func (w *World) Call(p *peer, path, method string, data []byte) ([]byte, []outbound, error) {
	return w.handle(p, path, method, data)
}

func (w *World) handle(p *peer, path, method string, data []byte) ([]byte, []outbound, error) {
	var args []cbor.RawMessage
	if len(data) > 0 {
		raw, err := payload.SplitArgs(data)
		if err != nil {
			return nil, nil, fmt.Errorf("%s %s: %w", path, method, err)
		}
		args = raw
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if table, ok := creators[path]; ok {
		fn, ok := table[method]
		if !ok {
			return nil, nil, fmt.Errorf("%w: %q on %s", messenger.ErrMethodNotFound, method, path)
		}
		return fn(w, request{peer: p, args: args})
	}
	obj, err := w.resolveLocked(p, path)
	if err != nil {
		return nil, nil, err
	}
	fn, ok := objectMethods[method]
	if !ok {
		return nil, nil, fmt.Errorf("%w: %q on %s", messenger.ErrMethodNotFound, method, path)
	}
	return fn(w, request{peer: p, obj: obj, args: args})
}

func (w *World) resolveLocked(p *peer, path string) (*object, error) {
	if path == "/" {
		return p.root, nil
	}
	if o, ok := w.objects[path]; ok {
		return o, nil
	}
	if o, ok := w.aliasLocked(path); ok {
		return o, nil
	}
	return nil, fmt.Errorf("%w: %s", messenger.ErrNodeNotFound, path)
}

// aliasLocked resolves sender/uid and sender/uid-field, the paths a sender's
// owner uses for receivers announced to it.
func (w *World) aliasLocked(path string) (*object, bool) {
	rest, ok := strings.CutPrefix(path, senderPrefix+"/")
	if !ok {
		return nil, false
	}
	senderID, uid, ok := strings.Cut(rest, "/")
	if !ok {
		return nil, false
	}
	sender, ok := w.objects[senderPrefix+"/"+senderID]
	if !ok {
		return nil, false
	}
	uid, wantField := strings.CutSuffix(uid, "-field")
	if _, visible := sender.visible[uid]; !visible {
		return nil, false
	}
	rx, ok := w.objects[receiverPrefix+"/"+uid]
	if !ok {
		return nil, false
	}
	if wantField {
		return rx.field, rx.field != nil
	}
	return rx, true
}

func (w *World) poseLocked(o *object) pose {
	if o == nil {
		return identityPose()
	}
	out := o.local
	for c := o.parent; c != nil; c = c.parent {
		out = c.local.compose(out)
	}
	return out
}

// spaceArg resolves an optional space path at args[i]; null selects def.
func (w *World) spaceArg(req request, i int, def *object) (*object, error) {
	var path *string
	if err := payload.Arg(req.args, i, &path); err != nil {
		return nil, err
	}
	if path == nil {
		return def, nil
	}
	return w.resolveLocked(req.peer, *path)
}

func parentOrRoot(req request) *object {
	if req.obj.parent != nil {
		return req.obj.parent
	}
	return req.peer.root
}

// newChild decodes [id, parentPath] and registers a new object at prefix/id.
func (w *World) newChild(req request, prefix string, kind Kind, local pose) (*object, error) {
	var id, parentPath string
	if err := payload.Arg(req.args, 0, &id); err != nil {
		return nil, err
	}
	if id == "" || strings.Contains(id, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidID, id)
	}
	if err := payload.Arg(req.args, 1, &parentPath); err != nil {
		return nil, err
	}
	parent, err := w.resolveLocked(req.peer, parentPath)
	if err != nil {
		return nil, err
	}
	path := prefix + "/" + id
	if _, exists := w.objects[path]; exists {
		return nil, fmt.Errorf("%w: %s", ErrObjectExists, path)
	}
	o := &object{
		id:      id,
		path:    path,
		kind:    kind,
		owner:   req.peer,
		parent:  parent,
		local:   local,
		enabled: true,
	}
	w.objects[path] = o
	return o, nil
}

func (w *World) createSpatial(req request) ([]byte, []outbound, error) {
	var t payload.Transform
	var zoneable bool
	if err := payload.Arg(req.args, 2, &t); err != nil {
		return nil, nil, err
	}
	if err := payload.Arg(req.args, 3, &zoneable); err != nil {
		return nil, nil, err
	}
	o, err := w.newChild(req, spatialPrefix, KindSpatial, poseFrom(t))
	if err != nil {
		return nil, nil, err
	}
	o.zoneable = zoneable
	return nil, nil, nil
}

func (w *World) createSphereField(req request) ([]byte, []outbound, error) {
	var position payload.Vec3
	var radius float32
	if err := payload.Arg(req.args, 2, &position); err != nil {
		return nil, nil, err
	}
	if err := payload.Arg(req.args, 3, &radius); err != nil {
		return nil, nil, err
	}
	if radius < 0 {
		return nil, nil, fmt.Errorf("fakeserver: negative radius %v", radius)
	}
	local := identityPose()
	local.pos = position.R3()
	o, err := w.newChild(req, fieldPrefix, KindSphere, local)
	if err != nil {
		return nil, nil, err
	}
	o.radius = float64(radius)
	return nil, nil, nil
}

func (w *World) createBoxField(req request) ([]byte, []outbound, error) {
	var t payload.Transform
	var size payload.Vec3
	if err := payload.Arg(req.args, 2, &t); err != nil {
		return nil, nil, err
	}
	if err := payload.Arg(req.args, 3, &size); err != nil {
		return nil, nil, err
	}
	o, err := w.newChild(req, fieldPrefix, KindBox, poseFrom(t))
	if err != nil {
		return nil, nil, err
	}
	o.size = size.R3()
	return nil, nil, nil
}

type resourceArg struct {
	Namespace string `cbor:"namespace"`
	Path      string `cbor:"path"`
}

func (w *World) createModel(req request) ([]byte, []outbound, error) {
	var t payload.Transform
	var res resourceArg
	if err := payload.Arg(req.args, 2, &t); err != nil {
		return nil, nil, err
	}
	if err := payload.Arg(req.args, 3, &res); err != nil {
		return nil, nil, err
	}
	if res.Namespace == "" || res.Path == "" {
		return nil, nil, fmt.Errorf("fakeserver: model resource %q:%q incomplete", res.Namespace, res.Path)
	}
	o, err := w.newChild(req, modelPrefix, KindModel, poseFrom(t))
	if err != nil {
		return nil, nil, err
	}
	o.resource = res.Namespace + ":" + res.Path
	return nil, nil, nil
}

func maskArg(req request, i int) (map[string]any, error) {
	var raw []byte
	if err := payload.Arg(req.args, i, &raw); err != nil {
		return nil, err
	}
	return payload.ReadMap(raw)
}

func (w *World) createPulseSender(req request) ([]byte, []outbound, error) {
	var t payload.Transform
	if err := payload.Arg(req.args, 2, &t); err != nil {
		return nil, nil, err
	}
	mask, err := maskArg(req, 3)
	if err != nil {
		return nil, nil, err
	}
	o, err := w.newChild(req, senderPrefix, KindSender, poseFrom(t))
	if err != nil {
		return nil, nil, err
	}
	o.mask = mask
	o.visible = make(map[string]struct{})
	return nil, w.matchLocked(), nil
}

func (w *World) createPulseReceiver(req request) ([]byte, []outbound, error) {
	var t payload.Transform
	var fieldPath string
	if err := payload.Arg(req.args, 2, &t); err != nil {
		return nil, nil, err
	}
	if err := payload.Arg(req.args, 3, &fieldPath); err != nil {
		return nil, nil, err
	}
	field, err := w.resolveLocked(req.peer, fieldPath)
	if err != nil {
		return nil, nil, err
	}
	if !field.kind.isField() {
		return nil, nil, fmt.Errorf("%w: %s is a %s, not a field", ErrWrongKind, fieldPath, field.kind)
	}
	mask, err := maskArg(req, 4)
	if err != nil {
		return nil, nil, err
	}
	o, err := w.newChild(req, receiverPrefix, KindReceiver, poseFrom(t))
	if err != nil {
		return nil, nil, err
	}
	o.field = field
	o.mask = mask
	return nil, w.matchLocked(), nil
}

// maskSatisfied reports whether receiver carries every key of sender with an
// equal value.
func maskSatisfied(sender, receiver map[string]any) bool {
	for k, v := range sender {
		rv, ok := receiver[k]
		if !ok || !reflect.DeepEqual(v, rv) {
			return false
		}
	}
	return true
}

// matchLocked announces every receiver not yet visible to a sender whose
// mask it satisfies.
func (w *World) matchLocked() []outbound {
	var outs []outbound
	paths := slices.Sorted(maps.Keys(w.objects))
	for _, sp := range paths {
		sender := w.objects[sp]
		if sender.kind != KindSender {
			continue
		}
		for _, rp := range paths {
			rx := w.objects[rp]
			if rx.kind != KindReceiver {
				continue
			}
			if _, seen := sender.visible[rx.id]; seen || !maskSatisfied(sender.mask, rx.mask) {
				continue
			}
			out, err := w.announceLocked(sender, rx)
			if err != nil {
				continue
			}
			sender.visible[rx.id] = struct{}{}
			outs = append(outs, out)
		}
	}
	return outs
}

func (w *World) announceLocked(sender, rx *object) (outbound, error) {
	senderPose := w.poseLocked(sender)
	rel := w.poseLocked(rx).relativeTo(senderPose)
	dist := w.fieldDistanceLocked(rx.field, senderPose.pos)
	data, err := payload.Map(map[string]any{
		"uid":      rx.id,
		"distance": float32(dist),
		"position": payload.Vec3From(rel.pos),
		"rotation": payload.QuatFrom(rel.rot),
	})
	if err != nil {
		return outbound{}, err
	}
	return outbound{to: sender.owner, path: sender.path, method: "newReceiver", data: data}, nil
}

func (w *World) fieldDistanceLocked(field *object, world r3.Vec) float64 {
	fp := w.poseLocked(field)
	return fieldSDF(field)(fp.unapply(world)) * fp.uniformScale()
}

func fieldSDF(field *object) func(r3.Vec) float64 {
	switch field.kind {
	case KindSphere:
		radius := field.radius
		return func(p r3.Vec) float64 { return sphereDistance(p, radius) }
	case KindBox:
		size := field.size
		return func(p r3.Vec) float64 { return boxDistance(p, size) }
	}
	return func(r3.Vec) float64 { return 0 }
}

// removeLocked deletes targets and everything parented under them, then tells
// surviving senders about receivers that went away.
func (w *World) removeLocked(targets ...*object) []outbound {
	removed := make(map[*object]struct{})
	for _, path := range slices.Sorted(maps.Keys(w.objects)) {
		o := w.objects[path]
		for _, t := range targets {
			if o.within(t) {
				removed[o] = struct{}{}
				delete(w.objects, path)
				break
			}
		}
	}

	var outs []outbound
	for _, path := range slices.Sorted(maps.Keys(w.objects)) {
		sender := w.objects[path]
		if sender.kind != KindSender {
			continue
		}
		for rx := range removed {
			if rx.kind != KindReceiver {
				continue
			}
			if _, ok := sender.visible[rx.id]; !ok {
				continue
			}
			delete(sender.visible, rx.id)
			data, err := payload.Args(rx.id)
			if err != nil {
				continue
			}
			outs = append(outs, outbound{to: sender.owner, path: sender.path, method: "dropReceiver", data: data})
		}
	}
	return outs
}

func (w *World) destroy(req request) ([]byte, []outbound, error) {
	if req.obj.kind == KindRoot {
		return nil, nil, nil
	}
	return nil, w.removeLocked(req.obj), nil
}

func (w *World) setEnabled(req request) ([]byte, []outbound, error) {
	return nil, nil, payload.Arg(req.args, 0, &req.obj.enabled)
}

func (w *World) setZoneable(req request) ([]byte, []outbound, error) {
	return nil, nil, payload.Arg(req.args, 0, &req.obj.zoneable)
}

func (w *World) setPosition(req request) ([]byte, []outbound, error) {
	var v payload.Vec3
	if err := payload.Arg(req.args, 1, &v); err != nil {
		return nil, nil, err
	}
	return nil, nil, w.setInSpace(req, payload.Transform{Position: &v})
}

func (w *World) setRotation(req request) ([]byte, []outbound, error) {
	var q payload.Quat
	if err := payload.Arg(req.args, 1, &q); err != nil {
		return nil, nil, err
	}
	return nil, nil, w.setInSpace(req, payload.Transform{Rotation: &q})
}

func (w *World) setScale(req request) ([]byte, []outbound, error) {
	var v payload.Vec3
	if err := payload.Arg(req.args, 1, &v); err != nil {
		return nil, nil, err
	}
	return nil, nil, w.setInSpace(req, payload.Transform{Scale: &v})
}

func (w *World) setTransform(req request) ([]byte, []outbound, error) {
	var t payload.Transform
	if err := payload.Arg(req.args, 1, &t); err != nil {
		return nil, nil, err
	}
	return nil, nil, w.setInSpace(req, t)
}

// setInSpace applies the components of t, expressed in the space at args[0],
// to the object's local pose.
func (w *World) setInSpace(req request, t payload.Transform) error {
	if req.obj.kind == KindRoot {
		return fmt.Errorf("%w: root cannot move", ErrWrongKind)
	}
	space, err := w.spaceArg(req, 0, parentOrRoot(req))
	if err != nil {
		return err
	}
	spacePose := w.poseLocked(space)
	parentPose := w.poseLocked(req.obj.parent)

	world := w.poseLocked(req.obj).relativeTo(spacePose)
	world.merge(t)
	req.obj.local = spacePose.compose(world).relativeTo(parentPose)
	return nil
}

func (w *World) reparentArg(req request) (*object, error) {
	var path string
	if err := payload.Arg(req.args, 0, &path); err != nil {
		return nil, err
	}
	parent, err := w.resolveLocked(req.peer, path)
	if err != nil {
		return nil, err
	}
	if req.obj.kind == KindRoot || parent.within(req.obj) {
		return nil, fmt.Errorf("%w: %s under %s", ErrParentCycle, req.obj.path, path)
	}
	return parent, nil
}

func (w *World) setSpatialParent(req request) ([]byte, []outbound, error) {
	parent, err := w.reparentArg(req)
	if err != nil {
		return nil, nil, err
	}
	req.obj.parent = parent
	return nil, nil, nil
}

func (w *World) setSpatialParentInPlace(req request) ([]byte, []outbound, error) {
	parent, err := w.reparentArg(req)
	if err != nil {
		return nil, nil, err
	}
	world := w.poseLocked(req.obj)
	req.obj.parent = parent
	req.obj.local = world.relativeTo(w.poseLocked(parent))
	return nil, nil, nil
}

func (w *World) getTransform(req request) ([]byte, []outbound, error) {
	space, err := w.spaceArg(req, 0, parentOrRoot(req))
	if err != nil {
		return nil, nil, err
	}
	rel := w.poseLocked(req.obj).relativeTo(w.poseLocked(space))
	out, err := payload.Marshal(rel.wire())
	return out, nil, err
}

func (w *World) setRadius(req request) ([]byte, []outbound, error) {
	if req.obj.kind != KindSphere {
		return nil, nil, fmt.Errorf("%w: setRadius on %s", ErrWrongKind, req.obj.kind)
	}
	var radius float32
	if err := payload.Arg(req.args, 0, &radius); err != nil {
		return nil, nil, err
	}
	req.obj.radius = float64(radius)
	return nil, nil, nil
}

func (w *World) setSize(req request) ([]byte, []outbound, error) {
	if req.obj.kind != KindBox {
		return nil, nil, fmt.Errorf("%w: setSize on %s", ErrWrongKind, req.obj.kind)
	}
	var size payload.Vec3
	if err := payload.Arg(req.args, 0, &size); err != nil {
		return nil, nil, err
	}
	req.obj.size = size.R3()
	return nil, nil, nil
}

// queryPoint decodes [space, point] and returns the field pose, the space
// pose and the point in field-local coordinates.
func (w *World) queryPoint(req request) (pose, pose, r3.Vec, error) {
	if !req.obj.kind.isField() {
		return pose{}, pose{}, r3.Vec{}, fmt.Errorf("%w: %s is not a field", ErrWrongKind, req.obj.path)
	}
	space, err := w.spaceArg(req, 0, req.peer.root)
	if err != nil {
		return pose{}, pose{}, r3.Vec{}, err
	}
	var point payload.Vec3
	if err := payload.Arg(req.args, 1, &point); err != nil {
		return pose{}, pose{}, r3.Vec{}, err
	}
	fieldPose := w.poseLocked(req.obj)
	spacePose := w.poseLocked(space)
	local := fieldPose.unapply(spacePose.apply(point.R3()))
	return fieldPose, spacePose, local, nil
}

func (w *World) distance(req request) ([]byte, []outbound, error) {
	fieldPose, _, local, err := w.queryPoint(req)
	if err != nil {
		return nil, nil, err
	}
	d := fieldSDF(req.obj)(local) * fieldPose.uniformScale()
	out, err := payload.Marshal(float32(d))
	return out, nil, err
}

func (w *World) normal(req request) ([]byte, []outbound, error) {
	fieldPose, spacePose, local, err := w.queryPoint(req)
	if err != nil {
		return nil, nil, err
	}
	n := gradient(fieldSDF(req.obj), local)
	n = r3.Unit(rotate(quat.Conj(spacePose.rot), rotate(fieldPose.rot, n)))
	out, err := payload.Marshal(payload.Vec3From(n))
	return out, nil, err
}

func (w *World) closestPoint(req request) ([]byte, []outbound, error) {
	fieldPose, spacePose, local, err := w.queryPoint(req)
	if err != nil {
		return nil, nil, err
	}
	sdf := fieldSDF(req.obj)
	surface := r3.Sub(local, r3.Scale(sdf(local), gradient(sdf, local)))
	out, err := payload.Marshal(payload.Vec3From(spacePose.unapply(fieldPose.apply(surface))))
	return out, nil, err
}

func (w *World) sendData(req request) ([]byte, []outbound, error) {
	if req.obj.kind != KindSender {
		return nil, nil, fmt.Errorf("%w: sendData on %s", ErrWrongKind, req.obj.kind)
	}
	var uid string
	var data []byte
	if err := payload.Arg(req.args, 0, &uid); err != nil {
		return nil, nil, err
	}
	if err := payload.Arg(req.args, 1, &data); err != nil {
		return nil, nil, err
	}
	if err := payload.ValidateMap(data); err != nil {
		return nil, nil, err
	}
	rx, ok := w.objects[receiverPrefix+"/"+uid]
	if _, visible := req.obj.visible[uid]; !ok || !visible {
		return nil, nil, fmt.Errorf("%w: %s -> %s", ErrNotVisible, req.obj.id, uid)
	}
	msg, err := payload.Map(map[string]any{"uid": req.obj.id, "data": data})
	if err != nil {
		return nil, nil, err
	}
	return nil, []outbound{{to: rx.owner, path: rx.path, method: "data", data: msg}}, nil
}

func (w *World) setBasePrefixes(req request) ([]byte, []outbound, error) {
	if req.obj.kind != KindRoot {
		return nil, nil, fmt.Errorf("%w: setBasePrefixes on %s", ErrWrongKind, req.obj.kind)
	}
	var prefixes []string
	if err := payload.Arg(req.args, 0, &prefixes); err != nil {
		return nil, nil, err
	}
	req.peer.prefixes = prefixes
	return nil, nil, nil
}

// Lookup snapshots the object at path. "/" is not global and is never found.
func (w *World) Lookup(path string) (ObjectInfo, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	o, ok := w.objects[path]
	if !ok {
		return ObjectInfo{}, false
	}
	info := ObjectInfo{
		Path:          o.path,
		Kind:          o.kind,
		Parent:        "/",
		Position:      o.local.pos,
		Rotation:      o.local.rot,
		Scale:         o.local.scale,
		WorldPosition: w.poseLocked(o).pos,
		Enabled:       o.enabled,
		Zoneable:      o.zoneable,
		Radius:        o.radius,
		Size:          o.size,
		Resource:      o.resource,
		Mask:          maps.Clone(o.mask),
	}
	if o.parent != nil {
		info.Parent = o.parent.path
	}
	if o.field != nil {
		info.Field = o.field.path
	}
	return info, true
}

func (w *World) Len() int {
	w.mu.Lock()
	defer w.mu.Unlock()
	return len(w.objects)
}

// BasePrefixes returns the prefixes the client with peerID registered.
func (w *World) BasePrefixes(peerID uint64) []string {
	w.mu.Lock()
	defer w.mu.Unlock()
	p, ok := w.peers[peerID]
	if !ok {
		return nil
	}
	return slices.Clone(p.prefixes)
}
