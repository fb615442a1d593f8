package engine

import (
	"sync"

	"github.com/rendis/actionkit/pkg/action"
)

// Session holds the memo tables of one pass. It is created by an Updater
// and never shared across passes.
type Session struct {
	mu            sync.Mutex
	presentations map[action.Handle]*action.Presentation
	order         []*action.Node
	children      map[action.Handle][]*action.Node
	canPerform    map[action.Handle]bool
	expanded      map[action.Handle][]*action.Node
}

func newSession() *Session {
	return &Session{
		presentations: make(map[action.Handle]*action.Presentation),
		children:      make(map[action.Handle][]*action.Node),
		canPerform:    make(map[action.Handle]bool),
		expanded:      make(map[action.Handle][]*action.Node),
	}
}

// Presentation returns the node's presentation for this pass. The second
// result reports whether the node was updated at all; a nil presentation
// with true means the node contributes nothing.
func (s *Session) Presentation(n *action.Node) (*action.Presentation, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	p, ok := s.presentations[n.Handle()]
	return p, ok
}

// Nodes returns the updated nodes in update order.
func (s *Session) Nodes() []*action.Node {
	s.mu.Lock()
	defer s.mu.Unlock()
	out := make([]*action.Node, len(s.order))
	copy(out, s.order)
	return out
}

// Len returns the number of nodes updated in this pass.
func (s *Session) Len() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.order)
}

// Updated returns the presentation to commit for n, or nil.
func (s *Session) Updated(n *action.Node) *action.Presentation {
	p, _ := s.Presentation(n)
	return p
}

func (s *Session) putPresentation(n *action.Node, p *action.Presentation) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.presentations[n.Handle()]; ok {
		return
	}
	s.presentations[n.Handle()] = p
	s.order = append(s.order, n)
}

func (s *Session) cachedChildren(g *action.Node) ([]*action.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	kids, ok := s.children[g.Handle()]
	return kids, ok
}

func (s *Session) putChildren(g *action.Node, kids []*action.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.children[g.Handle()] = kids
}

func (s *Session) cachedCanPerform(g *action.Node) (bool, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.canPerform[g.Handle()]
	return v, ok
}

func (s *Session) putCanPerform(g *action.Node, v bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.canPerform[g.Handle()] = v
}

func (s *Session) cachedExpanded(g *action.Node) ([]*action.Node, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	v, ok := s.expanded[g.Handle()]
	return v, ok
}

func (s *Session) putExpanded(g *action.Node, list []*action.Node) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.expanded[g.Handle()] = list
}
