package messenger

import (
	"sync"
	"time"
)

type callResult struct {
	data []byte
	err  error
}

// pendingCall tracks one method call awaiting its return frame.
type pendingCall struct {
	ID       uint64
	Path     string
	Method   string
	QueuedAt time.Time
	// issuedIn is the Router callback that issued the call, or 0.
	issuedIn uint64
	done     chan callResult
}

// pendingTable stores in-flight calls by correlation id. Once failAll has
// run it refuses new entries.
type pendingTable struct {
	mu     sync.Mutex
	items  map[uint64]*pendingCall
	closed error
}

func newPendingTable() *pendingTable {
	return &pendingTable{
		items: make(map[uint64]*pendingCall),
	}
}

func (p *pendingTable) add(id uint64, path, method string, issuedIn uint64) (*pendingCall, error) {
	call := &pendingCall{
		ID:       id,
		Path:     path,
		Method:   method,
		QueuedAt: time.Now(),
		issuedIn: issuedIn,
		done:     make(chan callResult, 1),
	}
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.closed != nil {
		return nil, p.closed
	}
	p.items[id] = call
	return call, nil
}

// take removes and returns the call for id.
func (p *pendingTable) take(id uint64) (*pendingCall, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.items[id]
	if ok {
		delete(p.items, id)
	}
	return call, ok
}

func (p *pendingTable) issuedIn(id uint64) (uint64, bool) {
	p.mu.Lock()
	defer p.mu.Unlock()
	call, ok := p.items[id]
	if !ok {
		return 0, false
	}
	return call.issuedIn, true
}

func (p *pendingTable) remove(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	delete(p.items, id)
}

func (p *pendingTable) len() int {
	p.mu.Lock()
	defer p.mu.Unlock()
	return len(p.items)
}

// failAll resolves every pending call with err and closes the table.
func (p *pendingTable) failAll(err error) int {
	p.mu.Lock()
	if p.closed == nil {
		p.closed = err
	}
	calls := make([]*pendingCall, 0, len(p.items))
	for _, call := range p.items {
		calls = append(calls, call)
	}
	p.items = make(map[uint64]*pendingCall)
	p.mu.Unlock()

	for _, call := range calls {
		call.done <- callResult{err: err}
	}
	return len(calls)
}
