package fusion

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"strings"
	"sync"
	"weak"

	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/protocol/payload"
)

// SignalFunc handles an inbound signal payload.
type SignalFunc func(data []byte) error

// MethodFunc handles an inbound method call and returns the reply payload.
type MethodFunc func(data []byte) ([]byte, error)

// Node is the local proxy of one server object.
type Node struct {
	client    *Client
	path      string
	nameIndex int

	mu      sync.RWMutex
	signals map[string]SignalFunc
	methods map[string]MethodFunc

	td      *teardown
	cleanup runtime.Cleanup
}

// teardown must not reference its Node; it runs from a GC cleanup.
type teardown struct {
	path        string
	self        weak.Pointer[Node]
	messenger   *messenger.Messenger
	graph       *Scenegraph
	destroyable bool
	once        sync.Once
}

func (t *teardown) run() {
	t.once.Do(func() {
		t.graph.remove(t.path, t.self)
		if !t.destroyable {
			return
		}
		if err := t.messenger.SendSignal(t.path, "destroy", nil); err != nil {
			logs.Debugf("node.teardown destroy path=%q err=%v", t.path, err)
		}
	})
}

// NewNode creates a server object at childPrefix/id by sending
// creationMethod to parentPath with [id, args...]. When awaitsReply is set the
// creation is a method call and a server rejection fails with
// ErrServerCreationFailed; otherwise it is a signal. id must be a single
// path segment.
func NewNode(
	ctx context.Context,
	client *Client,
	parentPath, creationMethod, childPrefix string,
	awaitsReply bool,
	id string,
	args ...any,
) (*Node, error) {
	return NewNodeWith(ctx, client, parentPath, creationMethod, childPrefix, awaitsReply, id, nil, args...)
}

// NewNodeWith is NewNode with a setup hook. setup runs once the Node is in the
// scenegraph and before the creation message is sent, so callbacks it installs
// see the first signals the server emits for the new object.
func NewNodeWith(
	ctx context.Context,
	client *Client,
	parentPath, creationMethod, childPrefix string,
	awaitsReply bool,
	id string,
	setup func(*Node),
	args ...any,
) (*Node, error) {
	if !strings.HasPrefix(parentPath, "/") {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, parentPath)
	}
	if err := checkID(id); err != nil {
		return nil, err
	}
	path := strings.TrimSuffix(childPrefix, "/") + "/" + id
	n, err := newNode(client, path, true)
	if err != nil {
		return nil, err
	}

	data, err := payload.Args(append([]any{id}, args...)...)
	if err != nil {
		n.forget()
		return nil, err
	}
	if setup != nil {
		setup(n)
	}
	if awaitsReply {
		_, err = client.messenger.CallMethod(ctx, parentPath, creationMethod, data)
		var remote *RemoteError
		switch {
		case err == nil:
		case errors.As(err, &remote):
			n.forget()
			return nil, fmt.Errorf("%w: %s %s: %w", ErrServerCreationFailed, parentPath, creationMethod, err)
		default:
			// The call frame is out and the server may still create the
			// object, so tear down as if the Node had been closed.
			n.cleanup.Stop()
			n.td.run()
			return nil, fmt.Errorf("fusion: create %s: %w", path, err)
		}
	} else if err = client.messenger.SendSignal(parentPath, creationMethod, data); err != nil {
		n.forget()
		return nil, err
	}
	logs.Debugf("node.NewNode path=%q method=%q await=%t", path, creationMethod, awaitsReply)
	return n, nil
}

// NodeFromPath wraps an object that already exists on the server. Only a
// destroyable Node sends "destroy" on teardown.
func NodeFromPath(client *Client, path string, destroyable bool) (*Node, error) {
	return newNode(client, path, destroyable)
}

// GenerateWithParent reserves a fresh child path under parent without telling
// the server. The returned id is the last path segment.
func GenerateWithParent(client *Client, parent string) (*Node, string, error) {
	if !strings.HasPrefix(parent, "/") {
		return nil, "", fmt.Errorf("%w: %q", ErrInvalidPath, parent)
	}
	id := NewID()
	n, err := newNode(client, strings.TrimSuffix(parent, "/")+"/"+id, true)
	if err != nil {
		return nil, "", err
	}
	return n, id, nil
}

func newNode(client *Client, path string, destroyable bool) (*Node, error) {
	idx := strings.LastIndex(path, "/")
	if !strings.HasPrefix(path, "/") || idx < 0 {
		return nil, fmt.Errorf("%w: %q", ErrInvalidPath, path)
	}
	n := &Node{
		client:    client,
		path:      path,
		nameIndex: idx + 1,
		signals:   make(map[string]SignalFunc),
		methods:   make(map[string]MethodFunc),
	}
	n.td = &teardown{
		path:        path,
		self:        weak.Make(n),
		messenger:   client.messenger,
		graph:       client.graph,
		destroyable: destroyable,
	}
	n.cleanup = runtime.AddCleanup(n, func(td *teardown) {
		go td.run()
	}, n.td)
	client.graph.AddNode(n)
	return n, nil
}

func checkID(id string) error {
	if id == "" || strings.Contains(id, "/") {
		return fmt.Errorf("%w: id %q", ErrInvalidPath, id)
	}
	return nil
}

// forget unregisters a Node whose creation never reached the server.
func (n *Node) forget() {
	n.cleanup.Stop()
	n.td.once.Do(func() {
		n.td.graph.remove(n.td.path, n.td.self)
	})
}

// Name is the last path segment.
func (n *Node) Name() string {
	return n.path[n.nameIndex:]
}

// Path is the absolute path of the server object.
func (n *Node) Path() string {
	return n.path
}

// ParentPath is the path up to and including the last "/".
func (n *Node) ParentPath() string {
	return n.path[:n.nameIndex]
}

// Client returns the connection this Node belongs to.
func (n *Node) Client() *Client {
	return n.client
}

// SendRemoteSignal sends a signal addressed at this Node.
func (n *Node) SendRemoteSignal(method string, data []byte) error {
	return n.client.messenger.SendSignal(n.path, method, data)
}

// SendRemoteSignalArgs sends args as one CBOR array.
func (n *Node) SendRemoteSignalArgs(method string, args ...any) error {
	data, err := payload.Args(args...)
	if err != nil {
		return err
	}
	return n.SendRemoteSignal(method, data)
}

// ExecuteRemoteMethod calls method on this Node's server object and waits for
// the reply or ctx.
func (n *Node) ExecuteRemoteMethod(ctx context.Context, method string, data []byte) ([]byte, error) {
	return n.client.messenger.CallMethod(ctx, n.path, method, data)
}

// ExecuteRemoteMethodArgs calls method with args and decodes the reply into out
// when out is non-nil.
func (n *Node) ExecuteRemoteMethodArgs(ctx context.Context, method string, out any, args ...any) error {
	data, err := payload.Args(args...)
	if err != nil {
		return err
	}
	reply, err := n.ExecuteRemoteMethod(ctx, method, data)
	if err != nil {
		return err
	}
	if out == nil {
		return nil
	}
	return payload.Unmarshal(reply, out)
}

// ExecuteRemoteMethodAsync calls method and runs cb with the result on
// another goroutine.
func (n *Node) ExecuteRemoteMethodAsync(method string, data []byte, cb func([]byte, error)) error {
	return n.client.messenger.CallMethodAsync(n.path, method, data, cb)
}

// SetEnabled toggles the server object.
func (n *Node) SetEnabled(enabled bool) error {
	return n.SendRemoteSignalArgs("setEnabled", enabled)
}

// SendLocalSignal runs the signal callback registered under method.
func (n *Node) SendLocalSignal(method string, data []byte) error {
	n.mu.RLock()
	fn, ok := n.signals[method]
	n.mu.RUnlock()
	if !ok {
		return fmt.Errorf("%w: signal %q on %s", ErrMethodNotFound, method, n.path)
	}
	return fn(data)
}

// ExecuteLocalMethod runs the method callback registered under method.
func (n *Node) ExecuteLocalMethod(method string, data []byte) ([]byte, error) {
	n.mu.RLock()
	fn, ok := n.methods[method]
	n.mu.RUnlock()
	if !ok {
		return nil, fmt.Errorf("%w: method %q on %s", ErrMethodNotFound, method, n.path)
	}
	return fn(data)
}

// SetLocalSignal registers fn under name. A nil fn removes the entry.
func (n *Node) SetLocalSignal(name string, fn SignalFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if fn == nil {
		delete(n.signals, name)
		return
	}
	n.signals[name] = fn
}

// SetLocalMethod registers fn under name. A nil fn removes the entry.
func (n *Node) SetLocalMethod(name string, fn MethodFunc) {
	n.mu.Lock()
	defer n.mu.Unlock()
	if fn == nil {
		delete(n.methods, name)
		return
	}
	n.methods[name] = fn
}

// RemoveLocalSignal drops the signal callback registered under name.
func (n *Node) RemoveLocalSignal(name string) {
	n.SetLocalSignal(name, nil)
}

// RemoveLocalMethod drops the method callback registered under name.
func (n *Node) RemoveLocalMethod(name string) {
	n.SetLocalMethod(name, nil)
}

// Close unregisters the Node and, if destroyable, sends "destroy" once.
// Errors are discarded. Close is idempotent and a no-op on the root Node,
// which lives as long as its Client.
func (n *Node) Close() error {
	if n.client != nil && n.client.root == n {
		return nil
	}
	n.cleanup.Stop()
	n.td.run()
	return nil
}
