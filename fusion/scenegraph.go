package fusion

import (
	"fmt"
	"sync"
	"weak"

	logs "github.com/danmuck/fusion/internal/logging"
)

// Scenegraph maps paths to Nodes without owning them.
type Scenegraph struct {
	mu    sync.RWMutex
	nodes map[string]weak.Pointer[Node]
}

func NewScenegraph() *Scenegraph {
	return &Scenegraph{
		nodes: make(map[string]weak.Pointer[Node]),
	}
}

// AddNode registers n under its path, replacing any previous entry.
func (s *Scenegraph) AddNode(n *Node) {
	if n == nil {
		return
	}
	s.add(n.path, n.td.self)
}

func (s *Scenegraph) add(path string, wp weak.Pointer[Node]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if prev, ok := s.nodes[path]; ok && prev != wp && prev.Value() != nil {
		logs.Warnf("scenegraph.AddNode replacing live node path=%q", path)
	}
	s.nodes[path] = wp
}

// RemoveNode drops n's entry if it still refers to n.
func (s *Scenegraph) RemoveNode(n *Node) {
	if n == nil {
		return
	}
	s.remove(n.path, n.td.self)
}

func (s *Scenegraph) remove(path string, wp weak.Pointer[Node]) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if cur, ok := s.nodes[path]; ok && cur == wp {
		delete(s.nodes, path)
	}
}

// GetNode returns the weak entry for path. The zero Pointer is returned when
// nothing is registered; its Value is nil.
func (s *Scenegraph) GetNode(path string) weak.Pointer[Node] {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.nodes[path]
}

func (s *Scenegraph) Len() int {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return len(s.nodes)
}

func (s *Scenegraph) lookup(path string) (*Node, error) {
	n := s.GetNode(path).Value()
	if n == nil {
		return nil, fmt.Errorf("%w: %s", ErrNodeNotFound, path)
	}
	return n, nil
}

// SendSignal delivers an inbound signal to the Node at path.
func (s *Scenegraph) SendSignal(path, method string, data []byte) error {
	n, err := s.lookup(path)
	if err != nil {
		return err
	}
	return n.SendLocalSignal(method, data)
}

// ExecuteMethod delivers an inbound method call to the Node at path.
func (s *Scenegraph) ExecuteMethod(path, method string, data []byte) ([]byte, error) {
	n, err := s.lookup(path)
	if err != nil {
		return nil, err
	}
	return n.ExecuteLocalMethod(method, data)
}
