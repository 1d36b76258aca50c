// Package cache keeps at most one syntax tree per document and token, and
// serves copies of it to callers.
//
// An entry is created by the first cache-aware request for a document. A
// change notification only marks the entry dirty; the next request reparses
// it incrementally, seeded with the previous tree. Entries are removed when
// their document closes or when they stay dirty past the staleness window.
// Callers always receive copies, so closing a returned tree never affects
// the cached one.
package cache

import (
	"context"
	"errors"
	"fmt"
	"log/slog"
	"sync"
	"time"

	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/metrics"
	"github.com/jward/arbor/internal/syntax"
)

// DefaultStaleAfter is how long an entry may stay dirty without being
// requested before it is evicted.
const DefaultStaleAfter = 5 * time.Minute

// ErrTimeout is returned when a request's budget runs out before its tree
// is ready.
var ErrTimeout = errors.New("timed out")

// Document is the host's view of an open text document. Its URI is the
// cache key.
type Document interface {
	grammar.Described
	Text() []byte
}

// Token enables caching for a request and namespaces its entries. Requests
// with different tokens never share an entry.
type Token struct {
	name string
}

// NewToken returns a fresh token. name is only used in logs.
func NewToken(name string) *Token {
	return &Token{name: name}
}

func (t *Token) String() string {
	if t == nil {
		return "<nil>"
	}
	return t.name
}

// Options tunes a single tree request.
type Options struct {
	// Language overrides the language determined from the document.
	Language grammar.Language
	// Token enables caching. A nil token always parses from scratch and
	// stores nothing.
	Token *Token
	// Timeout bounds the request. Zero or negative means no budget.
	Timeout time.Duration
}

// ParseFunc parses src, incrementally when old is non-nil. It must not
// close old.
type ParseFunc func(ctx context.Context, lang grammar.Language, src []byte, old *syntax.Tree) (*syntax.Tree, error)

// State describes a cache entry.
type State struct {
	Language   grammar.Language
	Dirty      bool
	DirtySince time.Time
}

type entry struct {
	// parseMu serialises parses of this entry.
	parseMu sync.Mutex

	// Guarded by Cache.mu.
	tree       *syntax.Tree
	dirty      bool
	dirtySince time.Time
	changes    uint64
	removed    bool

	// parsing is set while a reparse runs. parsedAt is the change count
	// that reparse started from and changedAt the time of the first change
	// after it.
	parsing   bool
	parsedAt  uint64
	changedAt time.Time
}

// Cache is a per-document tree cache. It is safe for concurrent use.
type Cache struct {
	reg        *grammar.Registry
	parse      ParseFunc
	logger     *slog.Logger
	metrics    *metrics.Metrics
	staleAfter time.Duration

	mu      sync.Mutex
	entries map[protocol.DocumentURI]map[*Token]*entry
}

// Option configures a Cache.
type Option func(*Cache)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(c *Cache) { c.logger = l }
}

// WithMetrics sets the collectors the cache updates.
func WithMetrics(m *metrics.Metrics) Option {
	return func(c *Cache) { c.metrics = m }
}

// WithStaleAfter sets the staleness window.
func WithStaleAfter(d time.Duration) Option {
	return func(c *Cache) {
		if d > 0 {
			c.staleAfter = d
		}
	}
}

// WithParseFunc replaces the parse step. Tests use it to count parses.
func WithParseFunc(fn ParseFunc) Option {
	return func(c *Cache) { c.parse = fn }
}

// New creates a cache that loads grammars and parses through reg.
func New(reg *grammar.Registry, opts ...Option) *Cache {
	c := &Cache{
		reg:        reg,
		staleAfter: DefaultStaleAfter,
		entries:    make(map[protocol.DocumentURI]map[*Token]*entry),
	}
	for _, o := range opts {
		o(c)
	}
	if c.parse == nil {
		c.parse = func(ctx context.Context, lang grammar.Language, src []byte, old *syntax.Tree) (*syntax.Tree, error) {
			return syntax.Parse(ctx, reg, lang, src, old)
		}
	}
	if c.logger == nil {
		c.logger = slog.Default()
	}
	if c.metrics == nil {
		c.metrics = metrics.New(nil)
	}
	return c
}

// StaleAfter returns the staleness window.
func (c *Cache) StaleAfter() time.Duration {
	return c.staleAfter
}

// DocumentTree returns a tree for doc that the caller owns and must close.
// The document's grammar is loaded first if needed.
func (c *Cache) DocumentTree(ctx context.Context, doc Document, opts Options) (*syntax.Tree, error) {
	ctx, cancel := withBudget(ctx, opts.Timeout)
	defer cancel()

	lang, err := c.reg.EnsureLoaded(ctx, ref(doc, opts))
	if err != nil {
		return nil, expired(ctx, err)
	}
	return c.resolve(ctx, doc, lang, opts.Token)
}

// DocumentTreeSync is DocumentTree for a grammar that is already loaded. It
// fails with grammar.ErrLanguageNotLoaded otherwise.
func (c *Cache) DocumentTreeSync(doc Document, opts Options) (*syntax.Tree, error) {
	lang, err := grammar.DetermineLanguageOrFail(ref(doc, opts))
	if err != nil {
		return nil, err
	}
	if !c.reg.Loaded(lang) {
		return nil, &grammar.NotLoadedError{Language: lang}
	}

	ctx, cancel := withBudget(context.Background(), opts.Timeout)
	defer cancel()
	return c.resolve(ctx, doc, lang, opts.Token)
}

func ref(doc Document, opts Options) any {
	if opts.Language != "" {
		return opts.Language
	}
	return doc
}

func (c *Cache) resolve(ctx context.Context, doc Document, lang grammar.Language, tok *Token) (*syntax.Tree, error) {
	if tok == nil {
		return c.parseTree(ctx, lang, doc.Text(), nil)
	}
	uri := doc.URI()
	for {
		e := c.entryFor(uri, tok)
		e.parseMu.Lock()
		t, ok, err := c.resolveEntry(ctx, uri, tok, e, doc, lang)
		e.parseMu.Unlock()
		if ok {
			return t, err
		}
		// The entry was evicted while we waited for it.
	}
}

// resolveEntry serves e. It reports false when e was removed before it
// could be used.
func (c *Cache) resolveEntry(ctx context.Context, uri protocol.DocumentURI, tok *Token, e *entry, doc Document, lang grammar.Language) (*syntax.Tree, bool, error) {
	c.mu.Lock()
	if e.removed {
		c.mu.Unlock()
		return nil, false, nil
	}
	cur := e.tree
	if cur != nil && !e.dirty && cur.Language() == lang {
		cp := cur.Copy()
		c.mu.Unlock()
		c.metrics.CacheHits.Inc()
		return cp, true, nil
	}
	gen := e.changes
	e.parsing = true
	e.parsedAt = gen
	e.changedAt = time.Time{}
	var seed *syntax.Tree
	if cur != nil && cur.Language() == lang {
		seed = cur.Copy()
	}
	c.mu.Unlock()
	defer seed.Close()

	t, err := c.parseTree(ctx, lang, doc.Text(), seed)
	if err != nil {
		c.mu.Lock()
		e.parsing = false
		if e.tree == nil && !e.removed {
			c.removeLocked(uri, tok, e)
		}
		c.mu.Unlock()
		return nil, true, err
	}

	c.mu.Lock()
	e.parsing = false
	if e.removed {
		c.mu.Unlock()
		return t, true, nil
	}
	old := e.tree
	e.tree = t
	if e.changes == gen {
		e.dirty = false
		e.dirtySince = time.Time{}
	} else {
		// The new tree is current up to the first change made while it
		// was being parsed.
		e.dirtySince = e.changedAt
	}
	cp := t.Copy()
	c.mu.Unlock()

	old.Close()
	return cp, true, nil
}

func (c *Cache) parseTree(ctx context.Context, lang grammar.Language, src []byte, seed *syntax.Tree) (*syntax.Tree, error) {
	if err := ctx.Err(); err != nil {
		return nil, expired(ctx, fmt.Errorf("cache: before parsing: %w", err))
	}

	kind := metrics.ParseFull
	if seed != nil {
		kind = metrics.ParseIncremental
	}
	start := time.Now()
	t, err := c.parse(ctx, lang, src, seed)
	elapsed := time.Since(start)
	c.metrics.ParseDuration.WithLabelValues(kind).Observe(elapsed.Seconds())
	if err != nil {
		return nil, expired(ctx, err)
	}
	c.metrics.Parses.WithLabelValues(string(lang), kind).Inc()
	c.logger.Debug("parsed document", "language", lang, "kind", kind, "bytes", len(src), "duration", elapsed)
	return t, nil
}

func (c *Cache) entryFor(uri protocol.DocumentURI, tok *Token) *entry {
	c.mu.Lock()
	defer c.mu.Unlock()
	byTok, ok := c.entries[uri]
	if !ok {
		byTok = make(map[*Token]*entry)
		c.entries[uri] = byTok
	}
	e, ok := byTok[tok]
	if !ok {
		e = &entry{}
		byTok[tok] = e
		c.metrics.Entries.Inc()
	}
	return e
}

// removeLocked unlinks e and hands back its tree for the caller to close.
func (c *Cache) removeLocked(uri protocol.DocumentURI, tok *Token, e *entry) *syntax.Tree {
	if byTok, ok := c.entries[uri]; ok && byTok[tok] == e {
		delete(byTok, tok)
		if len(byTok) == 0 {
			delete(c.entries, uri)
		}
		c.metrics.Entries.Dec()
	}
	e.removed = true
	t := e.tree
	e.tree = nil
	return t
}

func (c *Cache) release(trees []*syntax.Tree, reason string) {
	n := 0
	for _, t := range trees {
		if t == nil {
			continue
		}
		if err := t.Close(); err != nil {
			c.logger.Warn("releasing cached tree", "error", err)
		}
		n++
	}
	if n > 0 {
		c.metrics.Evictions.WithLabelValues(reason).Add(float64(n))
	}
}

// DidChange records that the document at uri changed at time at. Clean
// entries become dirty since at; dirty entries keep their first dirty time
// and are evicted if that is more than the staleness window before at.
// An entry that is being reparsed is never evicted.
func (c *Cache) DidChange(uri protocol.DocumentURI, at time.Time) {
	var stale []*syntax.Tree
	c.mu.Lock()
	for tok, e := range c.entries[uri] {
		e.changes++
		if e.changes == e.parsedAt+1 {
			e.changedAt = at
		}
		if !e.dirty {
			e.dirty = true
			e.dirtySince = at
			continue
		}
		if !e.parsing && at.Sub(e.dirtySince) > c.staleAfter {
			stale = append(stale, c.removeLocked(uri, tok, e))
		}
	}
	c.mu.Unlock()

	if len(stale) > 0 {
		c.logger.Debug("evicted stale entries", "uri", uri, "count", len(stale))
	}
	c.release(stale, metrics.EvictStale)
}

// DidClose drops every entry for the document at uri.
func (c *Cache) DidClose(uri protocol.DocumentURI) {
	var closed []*syntax.Tree
	c.mu.Lock()
	for tok, e := range c.entries[uri] {
		closed = append(closed, c.removeLocked(uri, tok, e))
	}
	c.mu.Unlock()
	c.release(closed, metrics.EvictClosed)
}

// Sweep evicts every entry that has been dirty for longer than the
// staleness window at now, and returns how many it evicted.
func (c *Cache) Sweep(now time.Time) int {
	var stale []*syntax.Tree
	c.mu.Lock()
	for uri, byTok := range c.entries {
		for tok, e := range byTok {
			if e.dirty && !e.parsing && now.Sub(e.dirtySince) > c.staleAfter {
				stale = append(stale, c.removeLocked(uri, tok, e))
			}
		}
	}
	c.mu.Unlock()
	c.release(stale, metrics.EvictStale)
	return len(stale)
}

// State reports the entry for uri under tok.
func (c *Cache) State(uri protocol.DocumentURI, tok *Token) (State, bool) {
	c.mu.Lock()
	defer c.mu.Unlock()
	e, ok := c.entries[uri][tok]
	if !ok {
		return State{}, false
	}
	s := State{Dirty: e.dirty, DirtySince: e.dirtySince}
	if e.tree != nil {
		s.Language = e.tree.Language()
	}
	return s, true
}

// Len returns the number of entries.
func (c *Cache) Len() int {
	c.mu.Lock()
	defer c.mu.Unlock()
	n := 0
	for _, byTok := range c.entries {
		n += len(byTok)
	}
	return n
}

// Close releases every entry. The cache stays usable.
func (c *Cache) Close() error {
	var all []*syntax.Tree
	c.mu.Lock()
	for uri, byTok := range c.entries {
		for tok, e := range byTok {
			all = append(all, c.removeLocked(uri, tok, e))
		}
	}
	c.mu.Unlock()
	c.release(all, metrics.EvictClear)
	return nil
}

func withBudget(ctx context.Context, timeout time.Duration) (context.Context, context.CancelFunc) {
	if timeout <= 0 {
		return ctx, func() {}
	}
	return context.WithTimeout(ctx, timeout)
}

// expired marks err as a timeout when ctx's deadline has passed.
func expired(ctx context.Context, err error) error {
	if errors.Is(err, context.DeadlineExceeded) || errors.Is(ctx.Err(), context.DeadlineExceeded) {
		if errors.Is(err, ErrTimeout) {
			return err
		}
		return fmt.Errorf("%w: %w", ErrTimeout, err)
	}
	return err
}
