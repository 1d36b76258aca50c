package arbor

import (
	"context"

	"github.com/jward/arbor/internal/cache"
	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/query"
	"github.com/jward/arbor/internal/syntax"
)

// Public aliases for the internal types the Service API exposes. They are
// identical to the internal types, so no conversion is needed.

type Language = grammar.Language
type Loader = grammar.Loader
type Document = cache.Document
type Options = cache.Options
type Token = cache.Token
type Tree = syntax.Tree
type Node = syntax.Node
type Delta = syntax.Delta
type Query = query.Query
type Capture = query.Capture
type Match = query.Match
type Predicate = query.Predicate
type PredicateStep = query.PredicateStep
type ExecOption = query.ExecOption
type Closer = handle.Closer
type Future[T any] = handle.Future[T]

// Language tags.
const (
	C               = grammar.C
	CPP             = grammar.CPP
	Go              = grammar.Go
	Java            = grammar.Java
	JavaScript      = grammar.JavaScript
	JavaScriptReact = grammar.JavaScriptReact
	PHP             = grammar.PHP
	Python          = grammar.Python
	Ruby            = grammar.Ruby
	Rust            = grammar.Rust
	TypeScript      = grammar.TypeScript
	TypeScriptReact = grammar.TypeScriptReact
)

// DefaultStaleAfter is the staleness window used unless WithStaleAfter
// overrides it.
const DefaultStaleAfter = cache.DefaultStaleAfter

var (
	ErrLanguageUndeterminable = grammar.ErrLanguageUndeterminable
	ErrLanguageNotLoaded      = grammar.ErrLanguageNotLoaded
	ErrGrammarLoad            = grammar.ErrGrammarLoad
	ErrTimeout                = cache.ErrTimeout
	ErrQueryCompile           = query.ErrQueryCompile
)

// Query execution windows.
var (
	WithStart = query.WithStart
	WithEnd   = query.WithEnd
)

// Scope runs fn and closes every handle in hs exactly once, whatever fn
// does.
func Scope(fn func() error, hs ...Closer) error {
	return handle.Do(fn, hs...)
}

// ScopeValue is Scope for continuations that return a value.
func ScopeValue[T any](fn func() (T, error), hs ...Closer) (T, error) {
	return handle.Value(fn, hs...)
}

// ScopeAsync runs fn on its own goroutine and closes every handle in hs
// exactly once when it finishes.
func ScopeAsync[T any](ctx context.Context, fn func(context.Context) (T, error), hs ...Closer) *Future[T] {
	return handle.Go(ctx, fn, hs...)
}

// Diff computes the single replacement that turns oldSrc into newSrc.
func Diff(oldSrc, newSrc []byte) (Delta, bool) {
	return syntax.Diff(oldSrc, newSrc)
}
