package syntax

import (
	sitter "github.com/smacker/go-tree-sitter"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/position"
)

// Node is a node of a Tree together with the tree's text and language. It
// is valid only while its tree is open.
type Node struct {
	raw  *sitter.Node
	src  []byte
	lang grammar.Language
}

// WrapNode pairs raw with the text and language of its tree. A nil or null
// raw gives the zero Node.
func WrapNode(raw *sitter.Node, src []byte, lang grammar.Language) Node {
	if raw == nil || raw.IsNull() {
		return Node{}
	}
	return Node{raw: raw, src: src, lang: lang}
}

// IsZero reports whether n refers to no node.
func (n Node) IsZero() bool { return n.raw == nil }

// Raw returns the tree-sitter node.
func (n Node) Raw() *sitter.Node { return n.raw }

// Language returns the language of n's tree.
func (n Node) Language() grammar.Language { return n.lang }

// Source returns the text of n's tree.
func (n Node) Source() []byte { return n.src }

func (n Node) Type() string {
	if n.raw == nil {
		return ""
	}
	return n.raw.Type()
}

// Text returns the source text n spans.
func (n Node) Text() string {
	if n.raw == nil {
		return ""
	}
	return n.raw.Content(n.src)
}

// Range returns the host range n spans.
func (n Node) Range() protocol.Range {
	return position.NodeRange(n.raw)
}

func (n Node) StartByte() uint32 {
	if n.raw == nil {
		return 0
	}
	return n.raw.StartByte()
}

func (n Node) EndByte() uint32 {
	if n.raw == nil {
		return 0
	}
	return n.raw.EndByte()
}

func (n Node) IsNamed() bool { return n.raw != nil && n.raw.IsNamed() }

func (n Node) HasError() bool { return n.raw != nil && n.raw.HasError() }

func (n Node) Parent() Node {
	if n.raw == nil {
		return Node{}
	}
	return WrapNode(n.raw.Parent(), n.src, n.lang)
}

func (n Node) ChildByFieldName(name string) Node {
	if n.raw == nil {
		return Node{}
	}
	return WrapNode(n.raw.ChildByFieldName(name), n.src, n.lang)
}

func (n Node) NamedChildCount() int {
	if n.raw == nil {
		return 0
	}
	return int(n.raw.NamedChildCount())
}

func (n Node) NamedChild(i int) Node {
	if n.raw == nil {
		return Node{}
	}
	return WrapNode(n.raw.NamedChild(i), n.src, n.lang)
}

// FieldName returns the name of the field under which n hangs from its
// parent, or "".
func (n Node) FieldName() string {
	parent := n.Parent()
	if parent.IsZero() {
		return ""
	}
	c := sitter.NewTreeCursor(parent.raw)
	defer c.Close()
	for ok := c.GoToFirstChild(); ok; ok = c.GoToNextSibling() {
		cur := c.CurrentNode()
		if cur.StartByte() == n.raw.StartByte() && cur.EndByte() == n.raw.EndByte() && cur.Type() == n.raw.Type() {
			return c.CurrentFieldName()
		}
	}
	return ""
}

// String returns n as an S-expression.
func (n Node) String() string {
	if n.raw == nil {
		return ""
	}
	return n.raw.String()
}

// Cursor walks a tree from a starting node.
type Cursor struct {
	raw  *sitter.TreeCursor
	src  []byte
	lang grammar.Language
	h    *handle.Handle
}

// Cursor returns a cursor at the root node, or nil if t is closed. The
// cursor must be closed.
func (t *Tree) Cursor() *Cursor {
	root := t.RootNode()
	if root.IsZero() {
		return nil
	}
	raw := sitter.NewTreeCursor(root.raw)
	c := &Cursor{
		raw:  raw,
		src:  t.src,
		lang: t.lang,
		h:    handle.New("cursor", func() { raw.Close() }),
	}
	handle.Track(c, c.h)
	return c
}

func (c *Cursor) Node() Node { return WrapNode(c.raw.CurrentNode(), c.src, c.lang) }

func (c *Cursor) FieldName() string { return c.raw.CurrentFieldName() }

func (c *Cursor) FirstChild() bool { return c.raw.GoToFirstChild() }

func (c *Cursor) NextSibling() bool { return c.raw.GoToNextSibling() }

func (c *Cursor) Parent() bool { return c.raw.GoToParent() }

// Close releases the cursor. It is safe to call more than once.
func (c *Cursor) Close() error { return c.h.Close() }
