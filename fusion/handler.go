package fusion

import (
	"io"
	"sync"
	"weak"
)

// WeakRef is an upgrade-checked reference that never keeps its target alive.
type WeakRef[T any] struct {
	p weak.Pointer[T]
}

func MakeWeakRef[T any](v *T) WeakRef[T] {
	if v == nil {
		return WeakRef[T]{}
	}
	return WeakRef[T]{p: weak.Make(v)}
}

// Upgrade returns the target or nil once it is gone.
func (w WeakRef[T]) Upgrade() *T {
	return w.p.Value()
}

// With runs fn on the target and reports whether it was still alive.
func (w WeakRef[T]) With(fn func(*T)) bool {
	v := w.p.Value()
	if v == nil {
		return false
	}
	fn(v)
	return true
}

type handlerCell[H any] struct {
	mu       sync.RWMutex
	handler  H
	ready    bool
	released bool
}

func (c *handlerCell[H]) get() (H, bool) {
	c.mu.RLock()
	defer c.mu.RUnlock()
	if !c.ready || c.released {
		var zero H
		return zero, false
	}
	return c.handler, true
}

// WeakHandler reaches a handler that may not exist yet or may already be gone.
type WeakHandler[H any] struct {
	p weak.Pointer[handlerCell[H]]
}

// With runs fn on the handler. It reports false, without calling fn, before
// the handler is published and after it is released or collected.
func (w WeakHandler[H]) With(fn func(H)) bool {
	cell := w.p.Value()
	if cell == nil {
		return false
	}
	h, ok := cell.get()
	if !ok {
		return false
	}
	fn(h)
	return true
}

// HandlerWrapper couples a core object with the user handler reacting to
// its events. The wrapper is the only strong owner of the handler.
type HandlerWrapper[C any, H any] struct {
	core      *C
	cell      *handlerCell[H]
	closeOnce sync.Once
	closeErr  error
}

// NewHandlerWrapper builds the handler with init. init receives weak
// references to the handler (not yet usable) and to core, plus core itself
// for installing callbacks. The handler is published after init returns.
func NewHandlerWrapper[C any, H any](core *C, init func(WeakHandler[H], WeakRef[C], *C) H) *HandlerWrapper[C, H] {
	ref := MakeWeakRef(core)
	cell := &handlerCell[H]{}
	wh := WeakHandler[H]{p: weak.Make(cell)}

	h := init(wh, ref, core)

	cell.mu.Lock()
	cell.handler = h
	cell.ready = true
	cell.mu.Unlock()
	return &HandlerWrapper[C, H]{core: core, cell: cell}
}

func (w *HandlerWrapper[C, H]) Core() *C {
	return w.core
}

// Handler returns the published handler, or false once released.
func (w *HandlerWrapper[C, H]) Handler() (H, bool) {
	return w.cell.get()
}

// WithHandler runs fn on the handler if it has not been released.
func (w *HandlerWrapper[C, H]) WithHandler(fn func(H)) bool {
	h, ok := w.cell.get()
	if !ok {
		return false
	}
	fn(h)
	return true
}

// ReleaseHandler drops the handler. Later events skip user logic silently
// while the core object stays alive.
func (w *HandlerWrapper[C, H]) ReleaseHandler() {
	w.cell.mu.Lock()
	defer w.cell.mu.Unlock()
	var zero H
	w.cell.handler = zero
	w.cell.released = true
}

// Close releases the handler and closes the core object when it is an
// io.Closer.
func (w *HandlerWrapper[C, H]) Close() error {
	w.closeOnce.Do(func() {
		w.ReleaseHandler()
		if closer, ok := any(w.core).(io.Closer); ok {
			w.closeErr = closer.Close()
		}
	})
	return w.closeErr
}
