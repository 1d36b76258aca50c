// Package syntax wraps tree-sitter trees and nodes as owned, independently
// releasable values.
//
// A [Tree] remembers the text it was parsed from and its language, so nodes
// can report their own text and queries can be compiled for them. Trees are
// never mutated after construction: [Tree.Copy] and [Tree.Edit] return new
// trees, each with its own handle. Every Tree must be closed; an unreachable
// Tree that was never closed is released by the garbage-collection backstop
// in package handle, at some unspecified later time.
package syntax

import (
	"bytes"
	"context"
	"errors"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/position"
)

// ErrClosed is returned when a released tree is used.
var ErrClosed = errors.New("syntax: tree is closed")

// Parser runs the native parse. *grammar.Registry implements it.
type Parser interface {
	Parse(ctx context.Context, lang grammar.Language, old *sitter.Tree, src []byte) (*sitter.Tree, error)
}

// Tree is an owned syntax tree.
type Tree struct {
	raw  *sitter.Tree
	src  []byte
	lang grammar.Language
	h    *handle.Handle
}

// Wrap takes ownership of raw, which was parsed from src.
func Wrap(raw *sitter.Tree, src []byte, lang grammar.Language) *Tree {
	t := &Tree{
		raw:  raw,
		src:  src,
		lang: lang,
		h:    handle.New("tree", func() { raw.Close() }),
	}
	handle.Track(t, t.h)
	return t
}

// Parse parses src. When old is non-nil the parse is incremental: a copy of
// old is edited with the difference between old's text and src and handed
// to the engine, which reuses the subtrees outside the edited region. old
// itself is left untouched.
func Parse(ctx context.Context, p Parser, lang grammar.Language, src []byte, old *Tree) (*Tree, error) {
	src = bytes.Clone(src)

	var seed *sitter.Tree
	if old != nil {
		if old.Closed() {
			return nil, fmt.Errorf("syntax: incremental parse: %w", ErrClosed)
		}
		if old.lang != lang {
			return nil, fmt.Errorf("syntax: incremental parse: previous tree is %s, not %s", old.lang, lang)
		}
		d, _ := Diff(old.src, src)
		edited := old.Edit(d)
		defer edited.Close()
		seed = edited.raw
	}

	raw, err := p.Parse(ctx, lang, seed, src)
	if err != nil {
		return nil, err
	}
	return Wrap(raw, src, lang), nil
}

// Language returns the tree's language.
func (t *Tree) Language() grammar.Language {
	return t.lang
}

// Source returns the text the tree was parsed from. Callers must not modify
// it.
func (t *Tree) Source() []byte {
	return t.src
}

// Raw returns the underlying tree-sitter tree. It is only valid until Close.
func (t *Tree) Raw() *sitter.Tree {
	return t.raw
}

// RootNode returns the root node, or the zero Node once the tree is closed.
func (t *Tree) RootNode() Node {
	if t.Closed() {
		return Node{}
	}
	return WrapNode(t.raw.RootNode(), t.src, t.lang)
}

// NamedNodeAt returns the smallest named node spanning pos.
func (t *Tree) NamedNodeAt(pos protocol.Position) Node {
	root := t.RootNode()
	if root.IsZero() {
		return Node{}
	}
	pt := position.ToPoint(pos)
	return WrapNode(root.raw.NamedDescendantForPointRange(pt, pt), t.src, t.lang)
}

// Copy returns an independent tree sharing no handle with t. It returns nil
// if t is closed.
func (t *Tree) Copy() *Tree {
	if t.Closed() {
		return nil
	}
	return Wrap(t.raw.Copy(), t.src, t.lang)
}

// Edit returns a copy of t with d applied. The copy's node positions are
// shifted to d's new text; t is unchanged. It returns nil if t is closed.
func (t *Tree) Edit(d Delta) *Tree {
	cp := t.Copy()
	if cp == nil {
		return nil
	}
	if d.src != nil {
		cp.src = d.src
	}
	if !d.Empty() {
		cp.raw.Edit(d.EditInput())
	}
	return cp
}

// Close releases the native tree. It is safe to call more than once.
func (t *Tree) Close() error {
	if t == nil {
		return nil
	}
	return t.h.Close()
}

// Closed reports whether the tree has been released.
func (t *Tree) Closed() bool {
	return t == nil || t.h.Closed()
}

// String returns the root node as an S-expression.
func (t *Tree) String() string {
	return t.RootNode().String()
}

// Walk visits the tree in pre-order. fn returns false to skip a node's
// children.
func (t *Tree) Walk(fn func(n Node, depth int) bool) error {
	c := t.Cursor()
	if c == nil {
		return ErrClosed
	}
	return handle.Do(func() error {
		depth := 0
		for {
			if fn(c.Node(), depth) && c.FirstChild() {
				depth++
				continue
			}
			for !c.NextSibling() {
				if depth == 0 || !c.Parent() {
					return nil
				}
				depth--
			}
		}
	}, c)
}
