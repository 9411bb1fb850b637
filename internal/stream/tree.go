package stream

// Tree is an in-memory, arena-style view of one user's stream forest for one store: nodes are addressed by their
// string id rather than pointers, avoiding cycles by construction (design notes §9, "Hierarchical stream tree").
type Tree struct {
	byID     map[string]*Stream
	children map[string][]string // parentID ("" for root) -> child ids, insertion order
}

// BuildTree indexes a flat list of streams (as returned by Repository.List) into a Tree.
func BuildTree(streams []Stream) *Tree {
	t := &Tree{
		byID:     make(map[string]*Stream, len(streams)),
		children: make(map[string][]string),
	}
	for i := range streams {
		s := &streams[i]
		t.byID[s.ID] = s
	}
	for i := range streams {
		s := &streams[i]
		parent := ""
		if s.ParentID != nil {
			parent = *s.ParentID
		}
		t.children[parent] = append(t.children[parent], s.ID)
	}
	return t
}

// Get returns the node for id, or nil if it does not exist in the tree.
func (t *Tree) Get(id string) *Stream {
	return t.byID[id]
}

// Exists reports whether id is a node of the tree.
func (t *Tree) Exists(id string) bool {
	_, ok := t.byID[id]
	return ok
}

// Children returns the direct children of id ("" for the root level).
func (t *Tree) Children(id string) []string {
	return t.children[id]
}

// TopLevel returns every root-level (parentId == nil) stream id.
func (t *Tree) TopLevel() []string {
	return t.children[""]
}

// Descendants returns id plus every descendant, depth-first, optionally excluding trashed nodes (when includeTrashed
// is false a trashed node is skipped together with its whole subtree, so streams reachable only through a trashed
// ancestor are not returned).
func (t *Tree) Descendants(id string, includeTrashed bool) []string {
	root := t.byID[id]
	if root == nil {
		return nil
	}
	if !includeTrashed && root.Trashed {
		return nil
	}
	out := []string{id}
	var walk func(string)
	walk = func(cur string) {
		for _, child := range t.children[cur] {
			cs := t.byID[child]
			if cs == nil {
				continue
			}
			if !includeTrashed && cs.Trashed {
				continue
			}
			out = append(out, child)
			walk(child)
		}
	}
	walk(id)
	return out
}

// AllIDs returns every top-level stream's expansion (id plus all non-trashed descendants unless includeTrashed), used
// to resolve the "*" wildcard (spec §4.4 step 3).
func (t *Tree) AllIDs(includeTrashed bool) []string {
	var out []string
	for _, top := range t.TopLevel() {
		out = append(out, t.Descendants(top, includeTrashed)...)
	}
	return out
}

// ParentMap returns an id -> parentID map suitable for ValidateNoCycle.
func (t *Tree) ParentMap() map[string]*string {
	m := make(map[string]*string, len(t.byID))
	for id, s := range t.byID {
		m[id] = s.ParentID
	}
	return m
}
