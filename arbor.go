package arbor

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/cache"
	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/metrics"
	"github.com/jward/arbor/internal/query"
)

// Service owns one grammar registry and one tree cache. Construct it once
// per process (or per test) and share it.
type Service struct {
	registry *grammar.Registry
	cache    *cache.Cache
	metrics  *metrics.Metrics
	logger   *slog.Logger
	now      func() time.Time

	loader     grammar.Loader
	registerer prometheus.Registerer
	staleAfter time.Duration
	parse      cache.ParseFunc
}

// Option configures a Service.
type Option func(*Service)

// WithLogger sets the logger used by every component. The default is
// slog.Default().
func WithLogger(l *slog.Logger) Option {
	return func(s *Service) { s.logger = l }
}

// WithRegisterer registers the Service's prometheus collectors with r
// instead of a private registry.
func WithRegisterer(r prometheus.Registerer) Option {
	return func(s *Service) { s.registerer = r }
}

// WithStaleAfter sets how long a cached tree may stay dirty without being
// requested before it is evicted. The default is five minutes.
func WithStaleAfter(d time.Duration) Option {
	return func(s *Service) { s.staleAfter = d }
}

// WithLoader replaces the grammar loader. The default loader serves the
// grammars compiled into the binary.
func WithLoader(l Loader) Option {
	return func(s *Service) { s.loader = l }
}

// WithClock sets the clock used to timestamp change notifications and
// sweeps.
func WithClock(now func() time.Time) Option {
	return func(s *Service) { s.now = now }
}

// WithParseFunc replaces the cache's parse step.
func WithParseFunc(fn cache.ParseFunc) Option {
	return func(s *Service) { s.parse = fn }
}

// New creates a Service.
func New(opts ...Option) *Service {
	s := &Service{
		logger:     slog.Default(),
		now:        time.Now,
		staleAfter: cache.DefaultStaleAfter,
	}
	for _, opt := range opts {
		opt(s)
	}

	s.metrics = metrics.New(s.registerer)

	regOpts := []grammar.Option{grammar.WithLogger(s.logger), grammar.WithMetrics(s.metrics)}
	if s.loader != nil {
		regOpts = append(regOpts, grammar.WithLoader(s.loader))
	}
	s.registry = grammar.NewRegistry(regOpts...)

	cacheOpts := []cache.Option{
		cache.WithLogger(s.logger),
		cache.WithMetrics(s.metrics),
		cache.WithStaleAfter(s.staleAfter),
	}
	if s.parse != nil {
		cacheOpts = append(cacheOpts, cache.WithParseFunc(s.parse))
	}
	s.cache = cache.New(s.registry, cacheOpts...)
	return s
}

// Close releases every cached tree.
func (s *Service) Close() error {
	if err := s.cache.Close(); err != nil {
		return fmt.Errorf("arbor: close cache: %w", err)
	}
	return nil
}

// Registry returns the grammar registry.
func (s *Service) Registry() *grammar.Registry { return s.registry }

// Cache returns the tree cache.
func (s *Service) Cache() *cache.Cache { return s.cache }

// Logger returns the Service's logger.
func (s *Service) Logger() *slog.Logger { return s.logger }

// EnsureRuntime initialises the tree-sitter runtime once.
func (s *Service) EnsureRuntime(ctx context.Context) error {
	if err := s.registry.EnsureRuntime(ctx); err != nil {
		return timeout(ctx, err)
	}
	return nil
}

// EnsureLoaded resolves ref and loads its grammar. Concurrent calls for the
// same language share one load.
func (s *Service) EnsureLoaded(ctx context.Context, ref any) (Language, error) {
	lang, err := s.registry.EnsureLoaded(ctx, ref)
	if err != nil {
		return "", timeout(ctx, err)
	}
	return lang, nil
}

// LoadedLanguages returns the languages whose grammars are loaded.
func (s *Service) LoadedLanguages() []Language {
	return s.registry.LoadedLanguages()
}

// DetermineLanguage resolves ref to a language. ref may be a Language, a
// string, a protocol.DocumentURI or a Document.
func (s *Service) DetermineLanguage(ref any) (Language, bool) {
	return grammar.DetermineLanguage(ref)
}

// DetermineLanguageOrFail is DetermineLanguage failing with
// ErrLanguageUndeterminable.
func (s *Service) DetermineLanguageOrFail(ref any) (Language, error) {
	return grammar.DetermineLanguageOrFail(ref)
}

// NewToken returns a cache token. Requests carrying it are cached under
// its namespace.
func (s *Service) NewToken(name string) *Token {
	return cache.NewToken(name)
}

// DocumentTree returns a tree for doc, loading its grammar first. The
// caller owns the tree and must close it.
func (s *Service) DocumentTree(ctx context.Context, doc Document, opts Options) (*Tree, error) {
	return s.cache.DocumentTree(ctx, doc, opts)
}

// DocumentTreeSync returns a tree for doc when its grammar is already
// loaded and fails with ErrLanguageNotLoaded otherwise.
func (s *Service) DocumentTreeSync(doc Document, opts Options) (*Tree, error) {
	return s.cache.DocumentTreeSync(doc, opts)
}

// Query compiles source for the language ref resolves to, loading the
// grammar first. The caller owns the query and must close it.
func (s *Service) Query(ctx context.Context, ref any, source string) (*Query, error) {
	lang, err := s.EnsureLoaded(ctx, ref)
	if err != nil {
		return nil, err
	}
	return s.compile(lang, source)
}

// QuerySync compiles source for an already loaded language.
func (s *Service) QuerySync(ref any, source string) (*Query, error) {
	lang, err := grammar.DetermineLanguageOrFail(ref)
	if err != nil {
		return nil, err
	}
	return s.compile(lang, source)
}

func (s *Service) compile(lang Language, source string) (*Query, error) {
	g, err := s.registry.Language(lang)
	if err != nil {
		return nil, err
	}
	return query.Compile(lang, g, source)
}

// WithDocumentTree gets a tree for doc, passes it to fn and closes it when
// fn returns, fails or panics.
func (s *Service) WithDocumentTree(ctx context.Context, doc Document, opts Options, fn func(*Tree) error) error {
	t, err := s.DocumentTree(ctx, doc, opts)
	if err != nil {
		return err
	}
	return handle.Do(func() error { return fn(t) }, t)
}

// WithQuery compiles source, passes the query to fn and closes it when fn
// returns, fails or panics.
func (s *Service) WithQuery(ctx context.Context, ref any, source string, fn func(*Query) error) error {
	q, err := s.Query(ctx, ref, source)
	if err != nil {
		return err
	}
	return handle.Do(func() error { return fn(q) }, q)
}

// DidChange marks the cached trees of the document at uri dirty. It is the
// host's change notification.
func (s *Service) DidChange(uri protocol.DocumentURI) {
	s.cache.DidChange(uri, s.now())
}

// DidClose drops the cached trees of the document at uri.
func (s *Service) DidClose(uri protocol.DocumentURI) {
	s.cache.DidClose(uri)
}

// Sweep evicts every cached tree that has been dirty for longer than the
// staleness window and reports how many it evicted.
func (s *Service) Sweep() int {
	n := s.cache.Sweep(s.now())
	if n > 0 {
		s.logger.Debug("swept stale trees", "count", n)
	}
	return n
}

// timeout marks err as ErrTimeout when ctx's deadline has passed.
func timeout(ctx context.Context, err error) error {
	if errors.Is(err, ErrTimeout) {
		return err
	}
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
