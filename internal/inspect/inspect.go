// Package inspect reports the chain of syntax scopes around a caret, for
// interactive displays that re-query on every caret move.
//
// Each request takes a new generation number. A result whose generation has
// been superseded by the time it is ready is discarded, so a slow parse can
// never overwrite the answer to a newer caret position.
package inspect

import (
	"context"
	"fmt"
	"log/slog"
	"strings"
	"sync/atomic"

	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/cache"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/syntax"
)

// Trees is the part of arbor.Service the inspector needs.
type Trees interface {
	DocumentTree(ctx context.Context, doc cache.Document, opts cache.Options) (*syntax.Tree, error)
}

// Scope is one named node enclosing the caret.
type Scope struct {
	Type  string         `json:"type"`
	Field string         `json:"field,omitempty"`
	Range protocol.Range `json:"range"`
}

// Result is the scope chain at one caret position, innermost first. When
// the tree could not be obtained Placeholder holds the message to show
// instead and Scopes is empty.
type Result struct {
	Generation  uint64               `json:"generation"`
	URI         protocol.DocumentURI `json:"uri"`
	Position    protocol.Position    `json:"position"`
	Scopes      []Scope              `json:"scopes"`
	Placeholder string               `json:"placeholder,omitempty"`
}

// String renders r as "inner < outer < ..." or the placeholder.
func (r Result) String() string {
	if r.Placeholder != "" {
		return r.Placeholder
	}
	parts := make([]string, len(r.Scopes))
	for i, s := range r.Scopes {
		if s.Field != "" {
			parts[i] = s.Field + ":" + s.Type
		} else {
			parts[i] = s.Type
		}
	}
	return strings.Join(parts, " < ")
}

// Inspector serves scope requests. Publish receives every result that was
// not superseded.
type Inspector struct {
	trees   Trees
	token   *cache.Token
	logger  *slog.Logger
	publish func(Result)

	generation atomic.Uint64
}

// Option configures an Inspector.
type Option func(*Inspector)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(i *Inspector) { i.logger = l }
}

// New creates an Inspector that caches trees under its own token.
func New(trees Trees, publish func(Result), opts ...Option) *Inspector {
	i := &Inspector{
		trees:   trees,
		token:   cache.NewToken("inspect"),
		logger:  slog.Default(),
		publish: publish,
	}
	for _, o := range opts {
		o(i)
	}
	return i
}

// Generation returns the number of the newest request.
func (i *Inspector) Generation() uint64 {
	return i.generation.Load()
}

// Inspect starts a request for the scopes at pos in doc. It returns
// immediately; the result is published unless a newer request was started
// in the meantime. The future resolves to the result either way.
func (i *Inspector) Inspect(ctx context.Context, doc cache.Document, pos protocol.Position) *handle.Future[Result] {
	gen := i.generation.Add(1)
	return handle.Go(ctx, func(ctx context.Context) (Result, error) {
		r := i.resolve(ctx, gen, doc, pos)
		if i.generation.Load() != gen {
			i.logger.Debug("discarding superseded scope result", "generation", gen)
			return r, nil
		}
		if i.publish != nil {
			i.publish(r)
		}
		return r, nil
	})
}

func (i *Inspector) resolve(ctx context.Context, gen uint64, doc cache.Document, pos protocol.Position) Result {
	r := Result{Generation: gen, URI: doc.URI(), Position: pos}
	t, err := i.trees.DocumentTree(ctx, doc, cache.Options{Token: i.token})
	if err != nil {
		i.logger.Warn("scope inspection failed", "uri", doc.URI(), "error", err)
		r.Placeholder = fmt.Sprintf("<no syntax tree: %v>", err)
		return r
	}
	i.scoped(doc.URI(), func() { r.Scopes = Scopes(t, pos) }, t)
	return r
}

// scoped runs fn and then releases hs, logging a failed release.
func (i *Inspector) scoped(uri protocol.DocumentURI, fn func(), hs ...handle.Closer) {
	err := handle.Do(func() error {
		fn()
		return nil
	}, hs...)
	if err != nil {
		i.logger.Warn("releasing scope tree", "uri", uri, "error", err)
	}
}

// Scopes returns the named nodes enclosing pos in t, innermost first.
func Scopes(t *syntax.Tree, pos protocol.Position) []Scope {
	var out []Scope
	for n := t.NamedNodeAt(pos); !n.IsZero(); n = n.Parent() {
		if !n.IsNamed() {
			continue
		}
		out = append(out, Scope{Type: n.Type(), Field: n.FieldName(), Range: n.Range()})
	}
	return out
}
