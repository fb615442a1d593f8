package action

// Session is the read-only view of one pass's memo tables, offered to the
// root group's post-processing hook. Lookups are memoized: a node is updated
// at most once per pass no matter how often it is asked for.
type Session interface {
	// PresentationOf returns the node's presentation for this pass, or nil
	// when the node contributes nothing.
	PresentationOf(n *Node) *Presentation
	// ChildrenOf returns the group's children for this pass.
	ChildrenOf(g *Node) []*Node
	// ExpandedDescendantsOf returns the group's visible descendants with
	// inline groups flattened.
	ExpandedDescendantsOf(g *Node) []*Node
}
