package runtime

import (
	"context"
	"errors"
	"log/slog"
	"os"
	"path/filepath"
	"sync"

	"github.com/risor-io/risor/object"
	sitter "github.com/smacker/go-tree-sitter"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jward/arbor/internal/cache"
	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/host"
	"github.com/jward/arbor/internal/syntax"
)

// session owns the trees parsed during one run. Scripts hold raw
// tree-sitter nodes, which do not know their tree; session maps each root
// back to it so that host functions can recover text and language. The
// bindings rely on go-tree-sitter handing out one *Node per node and tree.
type session struct {
	mu      sync.Mutex
	trees   map[*sitter.Node]*syntax.Tree
	symbols []Symbol
}

func newSession() *session {
	return &session{trees: make(map[*sitter.Node]*syntax.Tree)}
}

func (s *session) add(t *syntax.Tree) {
	s.mu.Lock()
	s.trees[t.RootNode().Raw()] = t
	s.mu.Unlock()
}

// rootOf walks a node up to its root via Parent().
func rootOf(node *sitter.Node) *sitter.Node {
	for p := node.Parent(); p != nil && !p.IsNull(); p = node.Parent() {
		node = p
	}
	return node
}

// node wraps raw with the text and language of the run's tree it belongs to.
func (s *session) node(raw *sitter.Node) (syntax.Node, bool) {
	root := rootOf(raw)
	s.mu.Lock()
	t, ok := s.trees[root]
	s.mu.Unlock()
	if !ok {
		return syntax.Node{}, false
	}
	return syntax.WrapNode(raw, t.Source(), t.Language()), true
}

// Close closes every tree of the run.
func (s *session) Close() error {
	s.mu.Lock()
	defer s.mu.Unlock()
	var errs []error
	for root, t := range s.trees {
		errs = append(errs, t.Close())
		delete(s.trees, root)
	}
	return errors.Join(errs...)
}

// makeParseFn creates the "parse" host function. The language defaults to
// the one the path suffix names.
//
// parse(path[, language]) → Tree
func makeParseFn(h Host, sess *session) *object.Builtin {
	return object.NewBuiltin("parse", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) < 1 || len(args) > 2 {
			return object.Errorf("parse: expected 1 or 2 arguments, got %d", len(args))
		}

		pathStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse: path must be a string, got %s", args[0].Type())
		}
		var langRef any = pathStr.Value()
		if len(args) == 2 {
			langStr, ok := args[1].(*object.String)
			if !ok {
				return object.Errorf("parse: language must be a string, got %s", args[1].Type())
			}
			langRef = langStr.Value()
		}

		abs, err := filepath.Abs(pathStr.Value())
		if err != nil {
			return object.Errorf("parse: %v", err)
		}
		src, err := os.ReadFile(abs)
		if err != nil {
			return object.Errorf("parse: reading %s: %v", pathStr.Value(), err)
		}

		return parseSource(ctx, h, sess, protocol.DocumentURI(uri.File(abs)), src, langRef)
	})
}

// makeParseSrcFn creates "parse_src", which parses a string.
//
// parse_src(source, language) → Tree
func makeParseSrcFn(h Host, sess *session) *object.Builtin {
	return object.NewBuiltin("parse_src", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("parse_src", 2, len(args))
		}

		srcStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("parse_src: source must be a string, got %s", args[0].Type())
		}

		langStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("parse_src: language must be a string, got %s", args[1].Type())
		}

		return parseSource(ctx, h, sess, "untitled:script", []byte(srcStr.Value()), langStr.Value())
	})
}

// parseSource is the shared implementation for parse and parse_src. Scripts
// read files that change without notice, so trees are never cached.
func parseSource(ctx context.Context, h Host, sess *session, u protocol.DocumentURI, src []byte, langRef any) object.Object {
	lang, err := grammar.DetermineLanguageOrFail(langRef)
	if err != nil {
		return object.Errorf("parse: %v", err)
	}

	doc := host.NewTextDocument(protocol.TextDocumentItem{
		URI:        u,
		LanguageID: protocol.LanguageIdentifier(lang),
		Text:       string(src),
	})
	tree, err := h.DocumentTree(ctx, doc, cache.Options{Language: lang})
	if err != nil {
		return object.Errorf("parse: %v", err)
	}
	sess.add(tree)

	proxy, err := object.NewProxy(tree.Raw())
	if err != nil {
		return object.Errorf("parse: proxy error: %v", err)
	}
	return proxy
}

// nodeArg unwraps a proxied node argument.
func nodeArg(fn string, arg object.Object) (*sitter.Node, *object.Error) {
	proxy, ok := arg.(*object.Proxy)
	if !ok {
		return nil, object.Errorf("%s: expected proxy (Node), got %s", fn, arg.Type())
	}
	node, ok := proxy.Interface().(*sitter.Node)
	if !ok {
		return nil, object.Errorf("%s: expected *sitter.Node, got %T", fn, proxy.Interface())
	}
	return node, nil
}

// makeNodeTextFn creates the "node_text" host function. Risor's proxies
// cannot pass the []byte that Node.Content needs.
//
// node_text(node) → string
func makeNodeTextFn(sess *session) *object.Builtin {
	return object.NewBuiltin("node_text", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_text", 1, len(args))
		}
		raw, errObj := nodeArg("node_text", args[0])
		if errObj != nil {
			return errObj
		}
		n, found := sess.node(raw)
		if !found {
			return object.Errorf("node_text: node does not belong to a tree parsed by this script")
		}
		return object.NewString(n.Text())
	})
}

// makeQueryFn creates the "query" host function. Each match becomes a map
// from capture name to node; matches come in document order.
//
// query(pattern, node) → [{name: Node}]
func makeQueryFn(h Host, sess *session) *object.Builtin {
	return object.NewBuiltin("query", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("query", 2, len(args))
		}

		patternStr, ok := args[0].(*object.String)
		if !ok {
			return object.Errorf("query: pattern must be a string, got %s", args[0].Type())
		}
		raw, errObj := nodeArg("query", args[1])
		if errObj != nil {
			return errObj
		}
		n, found := sess.node(raw)
		if !found {
			return object.Errorf("query: node does not belong to a tree parsed by this script")
		}

		q, err := h.Query(ctx, n.Language(), patternStr.Value())
		if err != nil {
			return object.Errorf("query: %v", err)
		}
		defer q.Close()

		matches, err := q.Matches(n)
		if err != nil {
			return object.Errorf("query: %v", err)
		}

		results := make([]object.Object, 0, len(matches))
		for _, m := range matches {
			matchMap := make(map[string]object.Object, len(m.Captures))
			for _, c := range m.Captures {
				nodeP, err := object.NewProxy(c.Node.Raw())
				if err != nil {
					return object.Errorf("query: proxy error for capture %q: %v", c.Name, err)
				}
				matchMap[c.Name] = nodeP
			}
			results = append(results, object.NewMap(matchMap))
		}
		return object.NewList(results)
	})
}

// makeNodeChildFn creates "node_child", a ChildByFieldName that returns
// Risor nil instead of a proxied Go nil pointer.
//
// node_child(node, fieldName) → Node or nil
func makeNodeChildFn() *object.Builtin {
	return object.NewBuiltin("node_child", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 2 {
			return object.NewArgsError("node_child", 2, len(args))
		}
		node, errObj := nodeArg("node_child", args[0])
		if errObj != nil {
			return errObj
		}
		fieldStr, ok := args[1].(*object.String)
		if !ok {
			return object.Errorf("node_child: field must be a string, got %s", args[1].Type())
		}

		child := node.ChildByFieldName(fieldStr.Value())
		if child == nil || child.IsNull() {
			return object.Nil
		}

		p, err := object.NewProxy(child)
		if err != nil {
			return object.Errorf("node_child: proxy error: %v", err)
		}
		return p
	})
}

// makeNodeFieldFn creates "node_field", the field name under which a node
// hangs from its parent.
//
// node_field(node) → string or nil
func makeNodeFieldFn(sess *session) *object.Builtin {
	return object.NewBuiltin("node_field", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_field", 1, len(args))
		}
		raw, errObj := nodeArg("node_field", args[0])
		if errObj != nil {
			return errObj
		}
		n, found := sess.node(raw)
		if !found {
			return object.Errorf("node_field: node does not belong to a tree parsed by this script")
		}
		if f := n.FieldName(); f != "" {
			return object.NewString(f)
		}
		return object.Nil
	})
}

// makeNodeRangeFn creates "node_range", a node's range in host positions.
//
// node_range(node) → {start: {line, character}, end: {line, character}}
func makeNodeRangeFn(sess *session) *object.Builtin {
	return object.NewBuiltin("node_range", func(ctx context.Context, args ...object.Object) object.Object {
		if len(args) != 1 {
			return object.NewArgsError("node_range", 1, len(args))
		}
		raw, errObj := nodeArg("node_range", args[0])
		if errObj != nil {
			return errObj
		}
		n, found := sess.node(raw)
		if !found {
			return object.Errorf("node_range: node does not belong to a tree parsed by this script")
		}
		r := n.Range()
		return object.NewMap(map[string]object.Object{
			"start": positionObject(r.Start),
			"end":   positionObject(r.End),
		})
	})
}

func positionObject(p protocol.Position) object.Object {
	return object.NewMap(map[string]object.Object{
		"line":      object.NewInt(int64(p.Line)),
		"character": object.NewInt(int64(p.Character)),
	})
}

// logObject provides log.Info/Warn/Error methods for Risor scripts.
type logObject struct {
	logger *slog.Logger
}

func (l *logObject) Info(msg string) {
	l.logger.Info(msg)
}

func (l *logObject) Warn(msg string) {
	l.logger.Warn(msg)
}

func (l *logObject) Error(msg string) {
	l.logger.Error(msg)
}
