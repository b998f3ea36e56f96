package fakeserver

import (
	logs "github.com/danmuck/fusion/internal/logging"
	"github.com/danmuck/fusion/internal/messenger"
	"github.com/danmuck/fusion/internal/protocol/frame"
	"github.com/danmuck/fusion/internal/transport"
)

// peer is one connected client.
type peer struct {
	id       uint64
	remote   string
	m        *messenger.Messenger
	root     *object
	prefixes []string
}

func (o outbound) send() {
	if err := o.to.m.SendSignal(o.path, o.method, o.data); err != nil {
		logs.Debugf("fakeserver.outbound peer=%d path=%q method=%q err=%v", o.to.id, o.path, o.method, err)
	}
}

// router applies one peer's inbound frames to the world. Signals the world
// emits are held until flush so a method return always precedes them.
type router struct {
	world *World
	peer  *peer
	queue []outbound
}

var _ messenger.Router = (*router)(nil)

func (r *router) SendSignal(path, method string, data []byte) error {
	outs, err := r.world.Signal(r.peer, path, method, data)
	r.queue = append(r.queue, outs...)
	return err
}

func (r *router) ExecuteMethod(path, method string, data []byte) ([]byte, error) {
	out, outs, err := r.world.Call(r.peer, path, method, data)
	r.queue = append(r.queue, outs...)
	return out, err
}

func (r *router) flush() {
	for _, o := range r.queue {
		o.send()
	}
	r.queue = r.queue[:0]
}

// recorder captures every frame a peer sends.
type recorder struct {
	transport.Transport
	peer uint64
	svc  *Service
}

func (r *recorder) Receive() (frame.Frame, error) {
	f, err := r.Transport.Receive()
	if err == nil {
		r.svc.record(r.peer, f)
	}
	return f, err
}
