package header

import (
	"fmt"
	"iter"

	"github.com/meigma/asar/internal/asartype"
)

// Node is a node of the header tree. It is implemented by *Directory,
// *File and *Link; consumers switch on the concrete type.
type Node interface {
	node()
}

// Directory is a directory node with children in insertion order.
type Directory struct {
	// Unpacked is recorded by packers for directories whose whole content
	// lives in the unpacked directory. It carries no extraction semantics.
	Unpacked bool

	names []string
	nodes map[string]Node
}

// File is a regular file node.
type File struct {
	// Size is the content size in bytes.
	Size uint64

	// Offset is the content offset relative to the start of the data region.
	// It is meaningless for unpacked files.
	Offset uint64

	Executable bool

	// Unpacked marks content stored outside the archive.
	Unpacked bool

	Integrity *asartype.Integrity
}

// Link is a symlink node. Target is relative to the archive root.
type Link struct {
	Target string
}

func (*Directory) node() {}
func (*File) node()      {}
func (*Link) node()      {}

// NewDirectory returns an empty directory.
func NewDirectory() *Directory {
	return &Directory{nodes: make(map[string]Node)}
}

// Add appends a child. Names must be unique within a directory.
func (d *Directory) Add(name string, n Node) error {
	if d.nodes == nil {
		d.nodes = make(map[string]Node)
	}
	if _, ok := d.nodes[name]; ok {
		return fmt.Errorf("duplicate entry %q", name)
	}
	d.names = append(d.names, name)
	d.nodes[name] = n
	return nil
}

// Lookup returns the child with the given name.
func (d *Directory) Lookup(name string) (Node, bool) {
	n, ok := d.nodes[name]
	return n, ok
}

// Len returns the number of children.
func (d *Directory) Len() int {
	return len(d.names)
}

// Names returns the child names in insertion order.
func (d *Directory) Names() []string {
	out := make([]string, len(d.names))
	copy(out, d.names)
	return out
}

// Children iterates over children in insertion order.
func (d *Directory) Children() iter.Seq2[string, Node] {
	return func(yield func(string, Node) bool) {
		for _, name := range d.names {
			if !yield(name, d.nodes[name]) {
				return
			}
		}
	}
}

// JoinPath appends name to an archive path without cleaning, so hostile
// names such as ".." stay visible in diagnostics.
func JoinPath(parent, name string) string {
	if parent == "" {
		return name
	}
	return parent + "/" + name
}
