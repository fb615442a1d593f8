package action

import (
	"context"
	"fmt"
	"sync"
)

// Handle is the opaque identity of a node inside its Arena. Caches and memo
// tables key on handles, never on node content.
type Handle uint64

func (h Handle) String() string {
	return fmt.Sprintf("#%d", uint64(h))
}

// Kind discriminates the node variants.
type Kind uint8

const (
	KindAction Kind = iota
	KindGroup
	KindSeparator
)

func (k Kind) String() string {
	switch k {
	case KindAction:
		return "action"
	case KindGroup:
		return "group"
	case KindSeparator:
		return "separator"
	default:
		return "unknown"
	}
}

// Thread is the goroutine a node prefers its hooks to run on.
type Thread uint8

const (
	// ThreadCoordinator hooks always run on the coordinating goroutine.
	ThreadCoordinator Thread = iota
	// ThreadBackground hooks may run on a worker when the data context allows it.
	ThreadBackground
)

func (t Thread) String() string {
	if t == ThreadBackground {
		return "background"
	}
	return "coordinator"
}

// Hook signatures. A hook that returns a cancellation error cancels the
// whole pass; any other error (or panic) only drops the node.
type (
	UpdateFunc      func(e *Event) error
	ChildrenFunc    func(e *Event) ([]*Node, error)
	PerformFunc     func(e *Event) (bool, error)
	PostProcessFunc func(ctx context.Context, visible []*Node, s Session) []*Node
)

// Node is an action, a group or a separator. Nodes are created by an Arena
// and outlive any single update pass.
type Node struct {
	handle   Handle
	id       string
	kind     Kind
	template *Presentation
	thread   Thread

	alwaysVisible bool
	compact       bool

	update      UpdateFunc
	children    ChildrenFunc
	perform     PerformFunc
	postProcess PostProcessFunc

	mu     sync.RWMutex
	static []*Node
}

func (n *Node) Handle() Handle       { return n.handle }
func (n *Node) ID() string           { return n.id }
func (n *Node) Kind() Kind           { return n.kind }
func (n *Node) Thread() Thread       { return n.thread }
func (n *Node) IsGroup() bool        { return n.kind == KindGroup }
func (n *Node) IsSeparator() bool    { return n.kind == KindSeparator }
func (n *Node) AlwaysVisible() bool  { return n.alwaysVisible }
func (n *Node) Compact() bool        { return n.compact }
func (n *Node) HasPerform() bool     { return n.perform != nil }
func (n *Node) HasPostProcess() bool { return n.postProcess != nil }

// Template returns a copy of the node's template presentation.
func (n *Node) Template() *Presentation {
	return n.template.Clone()
}

// Describe names the node for diagnostics: its id when it has one,
// otherwise its kind and handle.
func (n *Node) Describe() string {
	if n == nil {
		return "<nil>"
	}
	if n.id != "" {
		return n.id
	}
	return n.kind.String() + n.handle.String()
}

// SeparatorText returns the title of a separator, "" for plain ones.
func (n *Node) SeparatorText() string {
	if n.kind != KindSeparator {
		return ""
	}
	return n.template.Text
}

// Add appends static children to a group. It panics when n is not a group.
func (n *Node) Add(children ...*Node) {
	if n.kind != KindGroup {
		panic(fmt.Sprintf("action: Add on %s %s", n.kind, n.Describe()))
	}
	n.mu.Lock()
	n.static = append(n.static, children...)
	n.mu.Unlock()
}

// StaticChildren returns the children added with Add.
func (n *Node) StaticChildren() []*Node {
	n.mu.RLock()
	defer n.mu.RUnlock()
	out := make([]*Node, len(n.static))
	copy(out, n.static)
	return out
}

// RunUpdate invokes the update hook, if any.
func (n *Node) RunUpdate(e *Event) error {
	if n.update == nil {
		return nil
	}
	return n.update(e)
}

// RunChildren invokes the children hook, or returns the static children
// when the group has none.
func (n *Node) RunChildren(e *Event) ([]*Node, error) {
	if n.children == nil {
		return n.StaticChildren(), nil
	}
	return n.children(e)
}

// RunPerform reports whether the group can be invoked as a single action.
// Groups without a perform hook cannot.
func (n *Node) RunPerform(e *Event) (bool, error) {
	if n.perform == nil {
		return false, nil
	}
	return n.perform(e)
}

// RunPostProcess applies the post-processing hook to an expanded list.
func (n *Node) RunPostProcess(ctx context.Context, visible []*Node, s Session) []*Node {
	if n.postProcess == nil {
		return visible
	}
	return n.postProcess(ctx, visible, s)
}

// Option configures a node at construction.
type Option func(*Node)

// WithText sets the template text.
func WithText(text string) Option {
	return func(n *Node) { n.template.Text = text }
}

// WithDescription sets the template description.
func WithDescription(d string) Option {
	return func(n *Node) { n.template.Description = d }
}

// WithIcons sets the template icon variants.
func WithIcons(icons Icons) Option {
	return func(n *Node) { n.template.Icons = icons }
}

// WithUpdate installs the state-computation hook.
func WithUpdate(fn UpdateFunc) Option {
	return func(n *Node) { n.update = fn }
}

// WithChildren installs a dynamic child-enumeration hook.
func WithChildren(fn ChildrenFunc) Option {
	return func(n *Node) { n.children = fn }
}

// WithPerform gives a group single-action semantics.
func WithPerform(fn PerformFunc) Option {
	return func(n *Node) {
		n.perform = fn
		n.template.PerformGroup = true
	}
}

// WithPostProcess installs the root post-processing hook.
func WithPostProcess(fn PostProcessFunc) Option {
	return func(n *Node) { n.postProcess = fn }
}

// OnBackground lets the node's hooks run off the coordinating goroutine.
func OnBackground() Option {
	return func(n *Node) { n.thread = ThreadBackground }
}

// AlwaysVisible keeps the node listed even when its hook hides or disables it.
func AlwaysVisible() Option {
	return func(n *Node) { n.alwaysVisible = true }
}

// Compact hides the disabled descendants of a group.
func Compact() Option {
	return func(n *Node) { n.compact = true }
}

// Popup renders a group as a submenu instead of inlining its children.
func Popup() Option {
	return func(n *Node) { n.template.PopupGroup = true }
}

// HideIfEmpty hides a popup group without visible children.
func HideIfEmpty() Option {
	return func(n *Node) {
		n.template.HideGroupIfEmpty = true
		n.template.DisableGroupIfEmpty = false
	}
}

// DisableIfEmpty shows a popup group without visible children as disabled.
func DisableIfEmpty() Option {
	return func(n *Node) {
		n.template.DisableGroupIfEmpty = true
		n.template.HideGroupIfEmpty = false
	}
}

// Disabled starts the template disabled.
func Disabled() Option {
	return func(n *Node) { n.template.Enabled = false }
}

// Hidden starts the template invisible.
func Hidden() Option {
	return func(n *Node) { n.template.Visible = false }
}

// Children adds static children to a group.
func Children(children ...*Node) Option {
	return func(n *Node) { n.static = append(n.static, children...) }
}

// Arena allocates nodes and their handles.
type Arena struct {
	mu    sync.RWMutex
	nodes []*Node
	byID  map[string]*Node
}

// NewArena creates an empty arena.
func NewArena() *Arena {
	return &Arena{byID: make(map[string]*Node)}
}

// NewAction creates a leaf action.
func (a *Arena) NewAction(id string, opts ...Option) *Node {
	return a.alloc(id, KindAction, opts)
}

// NewGroup creates a group. Groups hide when empty unless told otherwise.
func (a *Arena) NewGroup(id string, opts ...Option) *Node {
	opts = append([]Option{HideIfEmpty()}, opts...)
	return a.alloc(id, KindGroup, opts)
}

// NewSeparator creates a separator; text may be empty.
func (a *Arena) NewSeparator(text string) *Node {
	return a.alloc("", KindSeparator, []Option{WithText(text)})
}

// Lookup returns the node with handle h.
func (a *Arena) Lookup(h Handle) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	i := int(h) - 1
	if i < 0 || i >= len(a.nodes) {
		return nil, false
	}
	return a.nodes[i], true
}

// ByID returns the node registered under id.
func (a *Arena) ByID(id string) (*Node, bool) {
	a.mu.RLock()
	defer a.mu.RUnlock()
	n, ok := a.byID[id]
	return n, ok
}

// Len returns the number of allocated nodes.
func (a *Arena) Len() int {
	a.mu.RLock()
	defer a.mu.RUnlock()
	return len(a.nodes)
}

func (a *Arena) alloc(id string, kind Kind, opts []Option) *Node {
	n := &Node{id: id, kind: kind, template: NewPresentation(id)}
	for _, opt := range opts {
		opt(n)
	}
	if kind != KindGroup {
		n.static = nil
	}

	a.mu.Lock()
	defer a.mu.Unlock()
	a.nodes = append(a.nodes, n)
	n.handle = Handle(len(a.nodes))
	if id != "" {
		a.byID[id] = n
	}
	return n
}
