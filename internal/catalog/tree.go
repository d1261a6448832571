package catalog

import "github.com/koustreak/sqlexplorer/internal/api"

// childState is the load state of a node's children.
type childState uint8

const (
	unloaded    childState = iota // never fetched
	loaded                        // children hold the last fetch
	invalidated                   // fetched once, then dropped by refresh or a failed fetch
)

type nodeID int

const rootID nodeID = 0

type node struct {
	item     api.Node
	state    childState
	children []nodeID
}

// tree is an arena of catalog nodes addressed by id. The root is a
// virtual node whose children are the connections.
type tree struct {
	nodes map[nodeID]*node
	next  nodeID
}

func newTree() *tree {
	return &tree{
		nodes: map[nodeID]*node{rootID: {}},
		next:  rootID + 1,
	}
}

func (t *tree) get(id nodeID) (*node, bool) {
	n, ok := t.nodes[id]
	return n, ok
}

func (t *tree) alloc(item api.Node) nodeID {
	id := t.next
	t.next++
	t.nodes[id] = &node{item: item}
	return id
}

// freeChildren drops the children of id from the arena, recursively.
func (t *tree) freeChildren(id nodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	for _, c := range n.children {
		t.freeChildren(c)
		delete(t.nodes, c)
	}
	n.children = nil
}

// setChildren replaces the children of id with fresh unloaded nodes.
func (t *tree) setChildren(id nodeID, items []api.Node) {
	t.freeChildren(id)
	n := t.nodes[id]
	n.children = make([]nodeID, 0, len(items))
	for _, it := range items {
		n.children = append(n.children, t.alloc(it))
	}
	n.state = loaded
}

// invalidate drops the children of id and marks it for refetch.
func (t *tree) invalidate(id nodeID) {
	n, ok := t.nodes[id]
	if !ok {
		return
	}
	t.freeChildren(id)
	n.state = invalidated
}

// child finds the first child of parent matching seg.
func (t *tree) child(parent nodeID, seg Segment) (nodeID, bool) {
	n, ok := t.nodes[parent]
	if !ok || n.state != loaded {
		return 0, false
	}
	for _, c := range n.children {
		if seg.matches(t.nodes[c].item) {
			return c, true
		}
	}
	return 0, false
}

// resolve walks path through loaded nodes.
func (t *tree) resolve(path Path) (nodeID, bool) {
	cur := rootID
	for _, seg := range path {
		next, ok := t.child(cur, seg)
		if !ok {
			return 0, false
		}
		cur = next
	}
	return cur, true
}

// list projects the children of id. Not-loaded nodes list as empty.
func (t *tree) list(id nodeID) []api.Node {
	out := []api.Node{}
	n, ok := t.nodes[id]
	if !ok || n.state != loaded {
		return out
	}
	for _, c := range n.children {
		out = append(out, t.nodes[c].item)
	}
	return out
}

// removeChild detaches and frees the first child of parent matching seg.
func (t *tree) removeChild(parent nodeID, seg Segment) bool {
	n, ok := t.nodes[parent]
	if !ok {
		return false
	}
	for i, c := range n.children {
		if seg.matches(t.nodes[c].item) {
			t.freeChildren(c)
			delete(t.nodes, c)
			n.children = append(n.children[:i:i], n.children[i+1:]...)
			return true
		}
	}
	return false
}

// seed loads a preset subtree under id.
func (t *tree) seed(id nodeID, seeds []Seed) {
	t.freeChildren(id)
	n := t.nodes[id]
	n.state = loaded
	for _, s := range seeds {
		c := t.alloc(s.Node)
		n.children = append(n.children, c)
		if s.Loaded || len(s.Children) > 0 {
			t.seed(c, s.Children)
		}
	}
}
