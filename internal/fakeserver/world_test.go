package fakeserver

import (
	"errors"
	"math"
	"testing"

	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/protocol/payload"
	"github.com/danmuck/fusion/internal/testutil/testlog"
	"gonum.org/v1/gonum/spatial/r3"
)

func attachPeer(w *World, id uint64) *peer {
	p := &peer{id: id}
	w.attach(p)
	return p
}

func call(t *testing.T, w *World, p *peer, path, method string, args ...any) ([]byte, []outbound, error) {
	t.Helper()
	data, err := payload.Args(args...)
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}
	return w.Call(p, path, method, data)
}

func mustCall(t *testing.T, w *World, p *peer, path, method string, args ...any) ([]byte, []outbound) {
	t.Helper()
	out, outs, err := call(t, w, p, path, method, args...)
	if err != nil {
		t.Fatalf("%s %s: %v", path, method, err)
	}
	return out, outs
}

func mask(t *testing.T, m map[string]any) []byte {
	t.Helper()
	data, err := payload.Map(m)
	if err != nil {
		t.Fatalf("encode mask: %v", err)
	}
	return data
}

func distanceFrom(t *testing.T, w *World, p *peer, field string, point r3.Vec) float32 {
	t.Helper()
	out, _ := mustCall(t, w, p, field, "distance", nil, payload.Vec3From(point))
	var d float32
	if err := payload.Unmarshal(out, &d); err != nil {
		t.Fatalf("decode distance: %v", err)
	}
	return d
}

func TestSphereFieldDistanceFollowsRadius(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	mustCall(t, w, p, fieldInterface, "createSphereField", "ball", "/", payload.Vec3{}, float32(0.5))
	if d := distanceFrom(t, w, p, "/field/ball", r3.Vec{Y: 1}); math.Abs(float64(d)-0.5) > 1e-5 {
		t.Fatalf("expected distance 0.5, got %v", d)
	}
	mustCall(t, w, p, "/field/ball", "setRadius", float32(1))
	if d := distanceFrom(t, w, p, "/field/ball", r3.Vec{Y: 2}); math.Abs(float64(d)-1) > 1e-5 {
		t.Fatalf("expected distance 1.0, got %v", d)
	}
}

func TestFieldQueriesInParentSpace(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	offset := payload.Vec3{10, 0, 0}
	mustCall(t, w, p, spatialInterface, "createSpatial", "anchor", "/", payload.Transform{Position: &offset}, false)
	mustCall(t, w, p, fieldInterface, "createBoxField", "crate", "/spatial/spatial/anchor", payload.Transform{}, payload.Vec3{2, 2, 2})

	// (13,0,0) in world is 3 units along +X from the box center.
	if d := distanceFrom(t, w, p, "/field/crate", r3.Vec{X: 13}); math.Abs(float64(d)-2) > 1e-5 {
		t.Fatalf("expected world distance 2, got %v", d)
	}
	out, _ := mustCall(t, w, p, "/field/crate", "distance", "/spatial/spatial/anchor", payload.Vec3{3, 0, 0})
	var local float32
	if err := payload.Unmarshal(out, &local); err != nil || math.Abs(float64(local)-2) > 1e-5 {
		t.Fatalf("expected anchor-space distance 2, got %v err=%v", local, err)
	}

	out, _ = mustCall(t, w, p, "/field/crate", "normal", nil, payload.Vec3{13, 0, 0})
	var n payload.Vec3
	if err := payload.Unmarshal(out, &n); err != nil || !vecNear(n.R3(), r3.Vec{X: 1}, 1e-3) {
		t.Fatalf("unexpected normal %v err=%v", n, err)
	}
	out, _ = mustCall(t, w, p, "/field/crate", "closestPoint", nil, payload.Vec3{13, 0, 0})
	var cp payload.Vec3
	if err := payload.Unmarshal(out, &cp); err != nil || !vecNear(cp.R3(), r3.Vec{X: 11}, 1e-3) {
		t.Fatalf("unexpected closest point %v err=%v", cp, err)
	}
}

func TestCreationErrors(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	mustCall(t, w, p, spatialInterface, "createSpatial", "a", "/", payload.Transform{}, false)
	if _, _, err := call(t, w, p, spatialInterface, "createSpatial", "a", "/", payload.Transform{}, false); !errors.Is(err, ErrObjectExists) {
		t.Fatalf("expected ErrObjectExists, got %v", err)
	}
	if _, _, err := call(t, w, p, spatialInterface, "createSpatial", "b", "/nowhere", payload.Transform{}, false); !errors.Is(err, messenger.ErrNodeNotFound) {
		t.Fatalf("expected ErrNodeNotFound, got %v", err)
	}
	if _, _, err := call(t, w, p, spatialInterface, "createSpatial", "x/y", "/", payload.Transform{}, false); !errors.Is(err, ErrInvalidID) {
		t.Fatalf("expected ErrInvalidID, got %v", err)
	}
	if _, _, err := call(t, w, p, spatialInterface, "createTeapot", "c", "/"); !errors.Is(err, messenger.ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound for interface, got %v", err)
	}
	if _, _, err := call(t, w, p, "/spatial/spatial/a", "teleport"); !errors.Is(err, messenger.ErrMethodNotFound) {
		t.Fatalf("expected ErrMethodNotFound for object, got %v", err)
	}
	if _, _, err := call(t, w, p, "/spatial/spatial/a", "setRadius", float32(2)); !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
	if _, _, err := call(t, w, p, fieldInterface, "createSphereField", "s", "/", payload.Vec3{}); err == nil {
		t.Fatalf("expected missing argument error")
	}
	if w.Len() != 1 {
		t.Fatalf("failed creations left objects behind: %d", w.Len())
	}
}

func TestSetPositionAndGetTransform(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	parentPos := payload.Vec3{0, 5, 0}
	mustCall(t, w, p, spatialInterface, "createSpatial", "parent", "/", payload.Transform{Position: &parentPos}, false)
	mustCall(t, w, p, spatialInterface, "createSpatial", "child", "/spatial/spatial/parent", payload.Transform{}, true)

	// Place the child at world (1,0,0) by naming the root as reference space.
	mustCall(t, w, p, "/spatial/spatial/child", "setPosition", "/", payload.Vec3{1, 0, 0})
	info, ok := w.Lookup("/spatial/spatial/child")
	if !ok {
		t.Fatalf("child missing")
	}
	if !vecNear(info.WorldPosition, r3.Vec{X: 1}, 1e-5) || !vecNear(info.Position, r3.Vec{X: 1, Y: -5}, 1e-5) {
		t.Fatalf("unexpected placement: %+v", info)
	}
	if !info.Zoneable || info.Parent != "/spatial/spatial/parent" {
		t.Fatalf("unexpected flags: %+v", info)
	}

	out, _ := mustCall(t, w, p, "/spatial/spatial/child", "getTransform", nil)
	var tr payload.Transform
	if err := payload.Unmarshal(out, &tr); err != nil {
		t.Fatalf("decode transform: %v", err)
	}
	if tr.Position == nil || !vecNear(tr.Position.R3(), r3.Vec{X: 1, Y: -5}, 1e-5) {
		t.Fatalf("unexpected parent-relative transform: %+v", tr)
	}
	if tr.Scale == nil || !vecNear(tr.Scale.R3(), r3.Vec{X: 1, Y: 1, Z: 1}, 1e-6) {
		t.Fatalf("unexpected scale: %+v", tr.Scale)
	}
}

func TestReparenting(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	pa, pb := payload.Vec3{1, 0, 0}, payload.Vec3{0, 0, 7}
	mustCall(t, w, p, spatialInterface, "createSpatial", "a", "/", payload.Transform{Position: &pa}, false)
	mustCall(t, w, p, spatialInterface, "createSpatial", "b", "/", payload.Transform{Position: &pb}, false)
	mustCall(t, w, p, spatialInterface, "createSpatial", "c", "/spatial/spatial/a", payload.Transform{}, false)

	mustCall(t, w, p, "/spatial/spatial/c", "setSpatialParentInPlace", "/spatial/spatial/b")
	info, _ := w.Lookup("/spatial/spatial/c")
	if info.Parent != "/spatial/spatial/b" || !vecNear(info.WorldPosition, r3.Vec{X: 1}, 1e-5) {
		t.Fatalf("in-place reparent moved the object: %+v", info)
	}

	mustCall(t, w, p, "/spatial/spatial/c", "setSpatialParent", "/spatial/spatial/a")
	info, _ = w.Lookup("/spatial/spatial/c")
	if !vecNear(info.WorldPosition, r3.Vec{X: 2, Z: -7}, 1e-5) {
		t.Fatalf("plain reparent should keep the local transform: %+v", info)
	}

	if _, _, err := call(t, w, p, "/spatial/spatial/a", "setSpatialParent", "/spatial/spatial/c"); !errors.Is(err, ErrParentCycle) {
		t.Fatalf("expected ErrParentCycle, got %v", err)
	}
}

func TestDestroyRemovesSubtree(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	mustCall(t, w, p, spatialInterface, "createSpatial", "a", "/", payload.Transform{}, false)
	mustCall(t, w, p, fieldInterface, "createSphereField", "f", "/spatial/spatial/a", payload.Vec3{}, float32(1))
	if _, err := w.Signal(p, "/spatial/spatial/a", "destroy", nil); err != nil {
		t.Fatalf("destroy: %v", err)
	}
	if w.Len() != 0 {
		t.Fatalf("expected empty world, got %d", w.Len())
	}
	if _, err := w.Signal(p, "/", "destroy", nil); err != nil {
		t.Fatalf("root destroy should be ignored: %v", err)
	}
}

func TestPulseMatchingAndDelivery(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	tx := attachPeer(w, 1)
	rx := attachPeer(w, 2)

	mustCall(t, w, rx, fieldInterface, "createSphereField", "zone", "/", payload.Vec3{}, float32(1))
	_, outs := mustCall(t, w, rx, dataInterface, "createPulseReceiver", "r1", "/", payload.Transform{}, "/field/zone",
		mask(t, map[string]any{"test": true, "extra": 1}))
	if len(outs) != 0 {
		t.Fatalf("no sender yet, got %d announcements", len(outs))
	}
	mustCall(t, w, rx, dataInterface, "createPulseReceiver", "r2", "/", payload.Transform{}, "/field/zone",
		mask(t, map[string]any{"test": false}))

	pos := payload.Vec3{0, 3, 0}
	_, outs = mustCall(t, w, tx, dataInterface, "createPulseSender", "s1", "/", payload.Transform{Position: &pos},
		mask(t, map[string]any{"test": true}))
	if len(outs) != 1 {
		t.Fatalf("expected one announcement, got %d", len(outs))
	}
	ann := outs[0]
	if ann.to != tx || ann.path != "/data/sender/s1" || ann.method != "newReceiver" {
		t.Fatalf("unexpected announcement: %+v", ann)
	}
	var info struct {
		UID      string       `cbor:"uid"`
		Distance float32      `cbor:"distance"`
		Position payload.Vec3 `cbor:"position"`
	}
	if err := payload.Unmarshal(ann.data, &info); err != nil {
		t.Fatalf("decode announcement: %v", err)
	}
	if info.UID != "r1" || math.Abs(float64(info.Distance)-2) > 1e-5 || !vecNear(info.Position.R3(), r3.Vec{Y: -3}, 1e-5) {
		t.Fatalf("unexpected announcement info: %+v", info)
	}

	if _, _, err := call(t, w, tx, "/data/sender/s1", "sendData", "r2", mask(t, map[string]any{"a": 1})); !errors.Is(err, ErrNotVisible) {
		t.Fatalf("expected ErrNotVisible for unmatched receiver, got %v", err)
	}
	if _, _, err := call(t, w, tx, "/data/sender/s1", "sendData", "r1", []byte{0x01}); !errors.Is(err, payload.ErrMapInvalid) {
		t.Fatalf("expected ErrMapInvalid, got %v", err)
	}
	_, outs = mustCall(t, w, tx, "/data/sender/s1", "sendData", "r1", mask(t, map[string]any{"test": true}))
	if len(outs) != 1 || outs[0].to != rx || outs[0].path != "/data/receiver/r1" || outs[0].method != "data" {
		t.Fatalf("unexpected delivery: %+v", outs)
	}
	var msg struct {
		UID  string `cbor:"uid"`
		Data []byte `cbor:"data"`
	}
	if err := payload.Unmarshal(outs[0].data, &msg); err != nil || msg.UID != "s1" {
		t.Fatalf("unexpected data message: %+v err=%v", msg, err)
	}

	if d := distanceFrom(t, w, tx, "/data/sender/s1/r1-field", r3.Vec{Y: 3}); math.Abs(float64(d)-2) > 1e-5 {
		t.Fatalf("alias field distance: %v", d)
	}
	if _, _, err := call(t, w, tx, "/data/sender/s1/r2", "getTransform", nil); !errors.Is(err, messenger.ErrNodeNotFound) {
		t.Fatalf("unannounced receiver alias resolved: %v", err)
	}

	outs = w.detach(rx)
	if len(outs) != 1 || outs[0].method != "dropReceiver" || outs[0].to != tx {
		t.Fatalf("expected one dropReceiver on detach, got %+v", outs)
	}
	raw, err := payload.SplitArgs(outs[0].data)
	if err != nil {
		t.Fatalf("decode drop: %v", err)
	}
	var uid string
	if err := payload.Arg(raw, 0, &uid); err != nil || uid != "r1" {
		t.Fatalf("unexpected drop uid %q err=%v", uid, err)
	}
	if _, ok := w.Lookup("/field/zone"); ok {
		t.Fatalf("detached peer's objects survived")
	}
}

func TestReceiverRequiresField(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 1)

	mustCall(t, w, p, spatialInterface, "createSpatial", "a", "/", payload.Transform{}, false)
	_, _, err := call(t, w, p, dataInterface, "createPulseReceiver", "r", "/", payload.Transform{}, "/spatial/spatial/a",
		mask(t, map[string]any{}))
	if !errors.Is(err, ErrWrongKind) {
		t.Fatalf("expected ErrWrongKind, got %v", err)
	}
	_, _, err = call(t, w, p, dataInterface, "createPulseSender", "s", "/", payload.Transform{}, []byte{0x01})
	if !errors.Is(err, payload.ErrMapInvalid) {
		t.Fatalf("expected ErrMapInvalid, got %v", err)
	}
}

func TestBasePrefixesAndFlags(t *testing.T) {
	testlog.Start(t)
	w := NewWorld()
	p := attachPeer(w, 7)

	if _, err := w.Signal(p, "/", "setBasePrefixes", mustArgs(t, []string{"/opt/assets"})); err != nil {
		t.Fatalf("setBasePrefixes: %v", err)
	}
	if got := w.BasePrefixes(7); len(got) != 1 || got[0] != "/opt/assets" {
		t.Fatalf("unexpected prefixes: %v", got)
	}

	res := map[string]string{"namespace": "fusion", "path": "gyro"}
	mustCall(t, w, p, drawableInterface, "createModel", "m", "/", payload.Transform{}, res)
	if _, err := w.Signal(p, "/drawable/model/m", "setEnabled", mustArgs(t, false)); err != nil {
		t.Fatalf("setEnabled: %v", err)
	}
	info, ok := w.Lookup("/drawable/model/m")
	if !ok || info.Kind != KindModel || info.Resource != "fusion:gyro" || info.Enabled {
		t.Fatalf("unexpected model: %+v", info)
	}
}

func mustArgs(t *testing.T, args ...any) []byte {
	t.Helper()
	data, err := payload.Args(args...)
	if err != nil {
		t.Fatalf("encode args: %v", err)
	}
	return data
}
