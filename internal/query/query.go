// Package query compiles tree-sitter patterns and runs them over syntax
// trees.
package query

import (
	"errors"
	"fmt"
	"slices"

	sitter "github.com/smacker/go-tree-sitter"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/position"
	"github.com/jward/arbor/internal/syntax"
)

var (
	// ErrQueryCompile is wrapped by every CompileError.
	ErrQueryCompile = errors.New("query compile failed")
	// ErrClosed is returned when a released query is used.
	ErrClosed = errors.New("query: query is closed")
)

// CompileError reports a pattern tree-sitter rejected. Err is the engine's
// *sitter.QueryError.
type CompileError struct {
	Language grammar.Language
	Err      error
}

func (e *CompileError) Error() string {
	return fmt.Sprintf("query: compiling %s pattern: %v", e.Language, e.Err)
}

func (e *CompileError) Unwrap() []error { return []error{ErrQueryCompile, e.Err} }

// Query is a compiled pattern bound to one language. It is immutable and
// may be run concurrently; it must be closed.
type Query struct {
	raw   *sitter.Query
	lang  grammar.Language
	names []string
	h     *handle.Handle
}

// Compile compiles source against g, the grammar of lang.
func Compile(lang grammar.Language, g *sitter.Language, source string) (*Query, error) {
	raw, err := sitter.NewQuery([]byte(source), g)
	if err != nil {
		return nil, &CompileError{Language: lang, Err: err}
	}
	names := make([]string, raw.CaptureCount())
	for i := range names {
		names[i] = raw.CaptureNameForId(uint32(i))
	}
	q := &Query{
		raw:   raw,
		lang:  lang,
		names: names,
		h:     handle.New("query", func() { raw.Close() }),
	}
	handle.Track(q, q.h)
	return q, nil
}

// Language returns the language the query was compiled for.
func (q *Query) Language() grammar.Language { return q.lang }

// CaptureNames returns the capture names in index order.
func (q *Query) CaptureNames() []string { return slices.Clone(q.names) }

// PatternCount returns the number of patterns in the query.
func (q *Query) PatternCount() int {
	if q.Closed() {
		return 0
	}
	return int(q.raw.PatternCount())
}

// Close releases the query. It is safe to call more than once.
func (q *Query) Close() error {
	if q == nil {
		return nil
	}
	return q.h.Close()
}

// Closed reports whether the query has been released.
func (q *Query) Closed() bool { return q == nil || q.h.Closed() }

// Capture is one captured node.
type Capture struct {
	Name    string
	Index   uint32
	Pattern int
	Node    syntax.Node
}

// Match is one pattern match with its captures.
type Match struct {
	Pattern  int
	Captures []Capture
}

type window struct {
	start, end *protocol.Position
}

// ExecOption narrows a query run.
type ExecOption func(*window)

// WithStart skips nodes that end before pos.
func WithStart(pos protocol.Position) ExecOption {
	return func(w *window) { w.start = &pos }
}

// WithEnd skips nodes that start after pos.
func WithEnd(pos protocol.Position) ExecOption {
	return func(w *window) { w.end = &pos }
}

// Matches runs the query under n and returns the matches whose text
// predicates hold, in the engine's order. n must come from a tree parsed
// with the query's grammar (see grammar.GrammarOf).
func (q *Query) Matches(n syntax.Node, opts ...ExecOption) ([]Match, error) {
	var out []Match
	err := q.exec(n, opts, func(m Match) {
		out = append(out, m)
	})
	return out, err
}

// Captures runs the query under n and returns every capture of every match,
// ordered by position.
func (q *Query) Captures(n syntax.Node, opts ...ExecOption) ([]Capture, error) {
	var out []Capture
	err := q.exec(n, opts, func(m Match) {
		out = append(out, m.Captures...)
	})
	slices.SortStableFunc(out, func(a, b Capture) int {
		if a.Node.StartByte() != b.Node.StartByte() {
			return int(a.Node.StartByte()) - int(b.Node.StartByte())
		}
		return int(b.Node.EndByte()) - int(a.Node.EndByte())
	})
	return out, err
}

func (q *Query) exec(n syntax.Node, opts []ExecOption, yield func(Match)) error {
	if q.Closed() {
		return ErrClosed
	}
	if n.IsZero() {
		return errors.New("query: no node to run against")
	}
	if grammar.GrammarOf(n.Language()) != grammar.GrammarOf(q.lang) {
		return fmt.Errorf("query: compiled for %s, node is %s", q.lang, n.Language())
	}

	var w window
	for _, o := range opts {
		o(&w)
	}

	cursor := sitter.NewQueryCursor()
	defer cursor.Close()
	if w.start != nil || w.end != nil {
		start, end := sitter.Point{}, position.MaxPoint
		if w.start != nil {
			start = position.ToPoint(*w.start)
		}
		if w.end != nil {
			end = position.ToPoint(*w.end)
		}
		cursor.SetPointRange(start, end)
	}
	cursor.Exec(q.raw, n.Raw())

	src := n.Source()
	for {
		m, ok := cursor.NextMatch()
		if !ok {
			return nil
		}
		m = cursor.FilterPredicates(m, src)
		if len(m.Captures) == 0 {
			continue
		}
		match := Match{Pattern: int(m.PatternIndex), Captures: make([]Capture, 0, len(m.Captures))}
		for _, c := range m.Captures {
			match.Captures = append(match.Captures, Capture{
				Name:    q.names[c.Index],
				Index:   c.Index,
				Pattern: match.Pattern,
				Node:    syntax.WrapNode(c.Node, src, q.lang),
			})
		}
		yield(match)
	}
}
