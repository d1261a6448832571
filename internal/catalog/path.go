package catalog

import (
	"strings"

	"github.com/koustreak/sqlexplorer/internal/api"
)

// Segment identifies one node along a path. An empty Type matches any
// node with the given name.
type Segment struct {
	Type api.NodeType
	Name string
}

func (s Segment) matches(n api.Node) bool {
	return n.Name == s.Name && (s.Type == "" || s.Type == n.Type)
}

func (s Segment) String() string {
	if s.Type == "" {
		return s.Name
	}
	return string(s.Type) + ":" + s.Name
}

// Path addresses a node from the root. The empty path is the root.
type Path []Segment

// PathOf builds a path from listed nodes.
func PathOf(nodes ...api.Node) Path {
	p := make(Path, 0, len(nodes))
	for _, n := range nodes {
		p = append(p, Segment{Type: n.Type, Name: n.Name})
	}
	return p
}

// Names builds an untyped path from node names.
func Names(names ...string) Path {
	p := make(Path, 0, len(names))
	for _, n := range names {
		p = append(p, Segment{Name: n})
	}
	return p
}

// Child returns a copy of p extended by seg.
func (p Path) Child(seg Segment) Path {
	out := make(Path, len(p), len(p)+1)
	copy(out, p)
	return append(out, seg)
}

func (p Path) String() string {
	parts := make([]string, len(p))
	for i, s := range p {
		parts[i] = s.String()
	}
	return "/" + strings.Join(parts, "/")
}

// scope is the positional context accumulated while walking a path.
type scope struct {
	dbid   string
	schema string
	table  string
}

func (s scope) enter(n api.Node) scope {
	switch n.Type {
	case api.NodeConn:
		return scope{dbid: n.Name}
	case api.NodeDB:
		s.schema = n.Name
		s.table = ""
	case api.NodeTable:
		s.table = n.Name
	}
	return s
}
