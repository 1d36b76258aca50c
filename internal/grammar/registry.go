// Package grammar resolves language tags and loads tree-sitter grammars.
//
// A [Registry] initialises the tree-sitter runtime and loads each grammar at
// most once, however many goroutines ask for it concurrently: concurrent
// loads of the same language share one in-flight call. Waiters that give up
// (their context ends) do not cancel the shared load.
package grammar

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sort"
	"sync"
	"time"

	sitter "github.com/smacker/go-tree-sitter"
	"golang.org/x/sync/singleflight"

	"github.com/jward/arbor/internal/metrics"
)

// Loader produces the grammar for a language.
type Loader func(ctx context.Context, lang Language) (*sitter.Language, error)

// runtimeKey is the single-flight key of runtime initialisation. It cannot
// collide with a language tag.
const runtimeKey = "\x00runtime"

// Registry tracks loaded grammars and parses with them.
type Registry struct {
	load    Loader
	initRT  func(ctx context.Context) error
	logger  *slog.Logger
	metrics *metrics.Metrics

	flights singleflight.Group

	mu     sync.RWMutex
	ready  bool
	loaded map[Language]*sitter.Language
}

// Option configures a Registry.
type Option func(*Registry)

// WithLoader replaces the built-in grammar loader.
func WithLoader(l Loader) Option {
	return func(r *Registry) {
		r.load = l
	}
}

// WithRuntimeInit replaces runtime initialisation.
func WithRuntimeInit(fn func(ctx context.Context) error) Option {
	return func(r *Registry) {
		r.initRT = fn
	}
}

// WithLogger sets the logger. Defaults to slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(r *Registry) {
		r.logger = l
	}
}

// WithMetrics sets the collectors grammar loads are counted in.
func WithMetrics(m *metrics.Metrics) Option {
	return func(r *Registry) {
		r.metrics = m
	}
}

// NewRegistry creates a Registry. Nothing is loaded until asked for.
func NewRegistry(opts ...Option) *Registry {
	r := &Registry{
		load:   Builtin,
		loaded: make(map[Language]*sitter.Language),
	}
	r.initRT = r.warmParser
	for _, opt := range opts {
		opt(r)
	}
	if r.logger == nil {
		r.logger = slog.Default()
	}
	if r.metrics == nil {
		r.metrics = metrics.New(nil)
	}
	return r
}

// warmParser is the default runtime initialisation: it allocates and frees
// one parser, which is the first call into the native library.
func (r *Registry) warmParser(context.Context) error {
	p := sitter.NewParser()
	if p == nil {
		return errors.New("tree-sitter parser allocation failed")
	}
	p.Close()
	return nil
}

// EnsureRuntime initialises the tree-sitter runtime. It is idempotent and
// concurrent callers share one initialisation.
func (r *Registry) EnsureRuntime(ctx context.Context) error {
	r.mu.RLock()
	ready := r.ready
	r.mu.RUnlock()
	if ready {
		return nil
	}

	_, err := r.wait(ctx, runtimeKey, "runtime", func(ctx context.Context) (any, error) {
		r.mu.RLock()
		ready := r.ready
		r.mu.RUnlock()
		if ready {
			return nil, nil
		}
		if err := r.initRT(ctx); err != nil {
			return nil, fmt.Errorf("grammar: initializing runtime: %w", err)
		}
		r.mu.Lock()
		r.ready = true
		r.mu.Unlock()
		return nil, nil
	})
	return err
}

// EnsureLoaded initialises the runtime, resolves ref and loads its grammar.
// It returns the resolved language.
func (r *Registry) EnsureLoaded(ctx context.Context, ref any) (Language, error) {
	lang, err := DetermineLanguageOrFail(ref)
	if err != nil {
		return "", err
	}
	if err := r.EnsureRuntime(ctx); err != nil {
		return "", err
	}
	if r.Loaded(lang) {
		return lang, nil
	}

	_, err = r.wait(ctx, string(lang), string(lang), func(ctx context.Context) (any, error) {
		return r.loadOnce(ctx, lang)
	})
	if err != nil {
		return "", err
	}
	return lang, nil
}

// wait joins (or starts) the flight for key and waits for it or for ctx.
// The flight itself runs on a context that ignores the waiter's
// cancellation.
func (r *Registry) wait(ctx context.Context, key, label string, fn func(context.Context) (any, error)) (any, error) {
	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("grammar: waiting for %s: %w", label, err)
	}
	detached := context.WithoutCancel(ctx)
	ch := r.flights.DoChan(key, func() (v any, err error) {
		defer func() {
			if p := recover(); p != nil {
				err = fmt.Errorf("grammar: %s panicked: %v", label, p)
			}
		}()
		return fn(detached)
	})
	select {
	case res := <-ch:
		return res.Val, res.Err
	case <-ctx.Done():
		return nil, fmt.Errorf("grammar: waiting for %s: %w", label, ctx.Err())
	}
}

func (r *Registry) loadOnce(ctx context.Context, lang Language) (*sitter.Language, error) {
	r.mu.RLock()
	g, ok := r.loaded[lang]
	r.mu.RUnlock()
	if ok {
		return g, nil
	}

	start := time.Now()
	g, err := r.callLoader(ctx, lang)
	if err == nil && g == nil {
		err = errors.New("loader returned no grammar")
	}
	if err != nil {
		r.metrics.GrammarLoads.WithLabelValues(string(lang), "error").Inc()
		r.logger.Error("grammar load failed", "language", lang, "error", err)
		return nil, &LoadError{Language: lang, Err: err}
	}

	r.mu.Lock()
	r.loaded[lang] = g
	r.mu.Unlock()

	r.metrics.GrammarLoads.WithLabelValues(string(lang), "ok").Inc()
	r.logger.Debug("grammar loaded", "language", lang, "duration", time.Since(start))
	return g, nil
}

func (r *Registry) callLoader(ctx context.Context, lang Language) (g *sitter.Language, err error) {
	defer func() {
		if p := recover(); p != nil {
			err = fmt.Errorf("panic while loading grammar: %v", p)
		}
	}()
	return r.load(ctx, lang)
}

// Loaded reports whether lang's grammar is loaded.
func (r *Registry) Loaded(lang Language) bool {
	r.mu.RLock()
	defer r.mu.RUnlock()
	_, ok := r.loaded[lang]
	return ok
}

// Language returns lang's loaded grammar or a *NotLoadedError.
func (r *Registry) Language(lang Language) (*sitter.Language, error) {
	r.mu.RLock()
	g, ok := r.loaded[lang]
	r.mu.RUnlock()
	if !ok {
		return nil, &NotLoadedError{Language: lang}
	}
	return g, nil
}

// LoadedLanguages returns the loaded tags, sorted.
func (r *Registry) LoadedLanguages() []Language {
	r.mu.RLock()
	out := make([]Language, 0, len(r.loaded))
	for l := range r.loaded {
		out = append(out, l)
	}
	r.mu.RUnlock()
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Parse parses src with lang's grammar, reusing old when it is non-nil. old
// must already carry the edits that turn its source into src.
//
// Every call gets its own parser. ParseCtx cancels through a flag on the
// parser that can still be set after the parse returns, so a parser is
// never shared between parses.
func (r *Registry) Parse(ctx context.Context, lang Language, old *sitter.Tree, src []byte) (*sitter.Tree, error) {
	g, err := r.Language(lang)
	if err != nil {
		return nil, err
	}

	p := sitter.NewParser()
	defer p.Close()
	p.SetLanguage(g)

	tree, err := p.ParseCtx(ctx, old, src)
	if err != nil {
		return nil, fmt.Errorf("grammar: parse %s: %w", lang, err)
	}
	return tree, nil
}
