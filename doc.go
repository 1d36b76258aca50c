// Package arbor hands out tree-sitter syntax trees for text documents,
// reusing earlier trees where it can and releasing every native handle it
// creates.
//
// # Pipeline
//
// A request for a document's tree goes through three steps:
//
//  1. Grammar: the document's language is determined from its declared
//     language id or its URI suffix, and the grammar is loaded. Concurrent
//     requests for a language that is still loading share one load.
//
//  2. Cache: with a [Token], the Service keeps one tree per document. A
//     change notification ([Service.DidChange]) only marks the tree dirty;
//     the next request reparses it incrementally from the previous tree.
//     Without a token every request parses from scratch.
//
//  3. Query: patterns compiled with [Service.Query] run over any node of
//     the returned tree, optionally within a position window.
//
// # Usage
//
//	s := arbor.New()
//	defer s.Close()
//
//	tok := s.NewToken("editor")
//	err := s.WithDocumentTree(ctx, doc, arbor.Options{Token: tok}, func(t *arbor.Tree) error {
//		return s.WithQuery(ctx, t.Language(), `(macro_invocation) @macro`, func(q *arbor.Query) error {
//			caps, err := q.Captures(t.RootNode())
//			...
//		})
//	})
//
// # Handles
//
// Trees, queries and cursors wrap native memory and must be closed. Every
// value the Service returns is an independent copy: closing it never
// affects the cache or another caller. [Scope], [ScopeValue] and
// [ScopeAsync] close handles on every exit path of a continuation. A
// handle that becomes unreachable without being closed is released by a
// garbage-collection cleanup at some later, unspecified time; this only
// bounds leaks and must not be relied on.
//
// # Positions
//
// Host positions are go.lsp.dev/protocol values whose character offsets
// count UTF-8 bytes, matching tree-sitter's columns.
package arbor
