package cache

import (
	"context"
	"errors"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus/testutil"
	sitter "github.com/smacker/go-tree-sitter"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/metrics"
	"github.com/jward/arbor/internal/syntax"
)

type fakeDoc struct {
	uri  protocol.DocumentURI
	id   protocol.LanguageIdentifier
	text string
}

func (d *fakeDoc) URI() protocol.DocumentURI                { return d.uri }
func (d *fakeDoc) LanguageID() protocol.LanguageIdentifier { return d.id }
func (d *fakeDoc) Text() []byte                            { return []byte(d.text) }

func rustDoc(text string) *fakeDoc {
	return &fakeDoc{uri: "file:///src/lib.rs", id: "rust", text: text}
}

// recorder counts parses and remembers what each was seeded with.
type recorder struct {
	reg *grammar.Registry

	mu    sync.Mutex
	kinds []string
	seeds []string
	trees []*syntax.Tree
	hook  func(ctx context.Context, call int) error
}

func (r *recorder) parse(ctx context.Context, lang grammar.Language, src []byte, old *syntax.Tree) (*syntax.Tree, error) {
	r.mu.Lock()
	call := len(r.kinds)
	if old == nil {
		r.kinds = append(r.kinds, metrics.ParseFull)
		r.seeds = append(r.seeds, "")
	} else {
		r.kinds = append(r.kinds, metrics.ParseIncremental)
		r.seeds = append(r.seeds, string(old.Source()))
	}
	hook := r.hook
	r.mu.Unlock()

	if hook != nil {
		if err := hook(ctx, call); err != nil {
			return nil, err
		}
	}
	t, err := syntax.Parse(ctx, r.reg, lang, src, old)
	if err != nil {
		return nil, err
	}
	r.mu.Lock()
	r.trees = append(r.trees, t)
	r.mu.Unlock()
	return t, nil
}

func (r *recorder) calls() []string {
	r.mu.Lock()
	defer r.mu.Unlock()
	return append([]string(nil), r.kinds...)
}

func (r *recorder) tree(i int) *syntax.Tree {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.trees[i]
}

func newCache(t *testing.T, opts ...Option) (*Cache, *recorder, *metrics.Metrics) {
	t.Helper()
	reg := grammar.NewRegistry()
	rec := &recorder{reg: reg}
	m := metrics.New(nil)
	c := New(reg, append([]Option{WithParseFunc(rec.parse), WithMetrics(m)}, opts...)...)
	t.Cleanup(func() { c.Close() })
	return c, rec, m
}

func get(t *testing.T, c *Cache, doc Document, opts Options) *syntax.Tree {
	t.Helper()
	tree, err := c.DocumentTree(context.Background(), doc, opts)
	require.NoError(t, err)
	require.NotNil(t, tree)
	t.Cleanup(func() { tree.Close() })
	return tree
}

func TestDocumentTree_WithoutTokenAlwaysParses(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	doc := rustDoc("fn a() {}")

	a := get(t, c, doc, Options{})
	b := get(t, c, doc, Options{})

	assert.Equal(t, []string{metrics.ParseFull, metrics.ParseFull}, rec.calls())
	assert.Equal(t, a.RootNode().Text(), b.RootNode().Text())
	assert.Equal(t, 0, c.Len())
}

func TestDocumentTree_SecondRequestIsCacheHit(t *testing.T) {
	t.Parallel()

	c, rec, m := newCache(t)
	doc := rustDoc(`pub fn foo() { println!("bar"); }`)
	tok := NewToken("test")

	a := get(t, c, doc, Options{Token: tok})
	b := get(t, c, doc, Options{Token: tok})

	assert.Equal(t, []string{metrics.ParseFull}, rec.calls())
	assert.Equal(t, a.RootNode().Text(), b.RootNode().Text())
	assert.Equal(t, 1, c.Len())
	assert.InDelta(t, 1, testutil.ToFloat64(m.CacheHits), 0)
	assert.InDelta(t, 1, testutil.ToFloat64(m.Entries), 0)

	// Callers get copies, never the stored tree.
	stored := rec.tree(0)
	assert.NotSame(t, stored, a)
	assert.NotSame(t, stored, b)
	assert.NotSame(t, a, b)
}

func TestDocumentTree_ChangeTriggersOneIncrementalParse(t *testing.T) {
	t.Parallel()

	c, rec, m := newCache(t)
	doc := rustDoc("fn a() {}\n")
	tok := NewToken("test")

	get(t, c, doc, Options{Token: tok})

	doc.text = "fn a() {}\nfn b(x: i32) {}\n"
	c.DidChange(doc.uri, time.Now())
	c.DidChange(doc.uri, time.Now())

	got := get(t, c, doc, Options{Token: tok})
	get(t, c, doc, Options{Token: tok})

	assert.Equal(t, []string{metrics.ParseFull, metrics.ParseIncremental}, rec.calls())
	assert.Equal(t, "fn a() {}\n", rec.seeds[1])
	assert.Equal(t, doc.text, got.RootNode().Text())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Parses.WithLabelValues("rust", metrics.ParseIncremental)), 0)

	// The first stored tree was replaced and released.
	assert.True(t, rec.tree(0).Closed())
	assert.False(t, rec.tree(1).Closed())

	full, err := syntax.Parse(context.Background(), rec.reg, grammar.Rust, []byte(doc.text), nil)
	require.NoError(t, err)
	defer full.Close()
	assert.Equal(t, full.String(), got.String())

	s, ok := c.State(doc.uri, tok)
	require.True(t, ok)
	assert.False(t, s.Dirty)
	assert.Equal(t, grammar.Rust, s.Language)
}

func TestDocumentTree_ClosingCallerCopyKeepsCache(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")

	first, err := c.DocumentTree(context.Background(), doc, Options{Token: tok})
	require.NoError(t, err)
	require.NoError(t, first.Close())

	second := get(t, c, doc, Options{Token: tok})
	assert.Equal(t, "fn a() {}", second.RootNode().Text())
	assert.Len(t, rec.calls(), 1)
	assert.False(t, rec.tree(0).Closed())
}

func TestDocumentTree_TokensAreSeparateNamespaces(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	doc := rustDoc("fn a() {}")
	a, b := NewToken("a"), NewToken("b")

	get(t, c, doc, Options{Token: a})
	get(t, c, doc, Options{Token: b})
	get(t, c, doc, Options{Token: a})

	assert.Equal(t, []string{metrics.ParseFull, metrics.ParseFull}, rec.calls())
	assert.Equal(t, 2, c.Len())

	c.DidChange(doc.uri, time.Now())
	sa, _ := c.State(doc.uri, a)
	sb, _ := c.State(doc.uri, b)
	assert.True(t, sa.Dirty)
	assert.True(t, sb.Dirty)
}

func TestDidChange_KeepsFirstDirtyTime(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t)
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")
	get(t, c, doc, Options{Token: tok})

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.DidChange(doc.uri, t0)
	c.DidChange(doc.uri, t0.Add(time.Minute))

	s, ok := c.State(doc.uri, tok)
	require.True(t, ok)
	assert.True(t, s.Dirty)
	assert.Equal(t, t0, s.DirtySince)
}

func TestDidChange_EvictsStaleEntry(t *testing.T) {
	t.Parallel()

	c, rec, m := newCache(t, WithStaleAfter(5*time.Minute))
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")
	get(t, c, doc, Options{Token: tok})
	stored := rec.tree(0)

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.DidChange(doc.uri, t0)
	c.DidChange(doc.uri, t0.Add(5*time.Minute))
	assert.Equal(t, 1, c.Len(), "exactly the window is not stale")

	c.DidChange(doc.uri, t0.Add(5*time.Minute+time.Second))
	assert.Equal(t, 0, c.Len())
	assert.True(t, stored.Closed())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Evictions.WithLabelValues(metrics.EvictStale)), 0)

	// A later change finds nothing to evict again.
	c.DidChange(doc.uri, t0.Add(time.Hour))
	assert.InDelta(t, 1, testutil.ToFloat64(m.Evictions.WithLabelValues(metrics.EvictStale)), 0)

	// The next request starts over with a full parse.
	get(t, c, doc, Options{Token: tok})
	assert.Equal(t, []string{metrics.ParseFull, metrics.ParseFull}, rec.calls())
}

func TestDidClose_ReleasesEveryToken(t *testing.T) {
	t.Parallel()

	c, rec, m := newCache(t)
	doc := rustDoc("fn a() {}")
	other := &fakeDoc{uri: "file:///src/main.rs", id: "rust", text: "fn main() {}"}

	get(t, c, doc, Options{Token: NewToken("a")})
	get(t, c, doc, Options{Token: NewToken("b")})
	get(t, c, other, Options{Token: NewToken("a")})

	c.DidClose(doc.uri)
	assert.Equal(t, 1, c.Len())
	assert.True(t, rec.tree(0).Closed())
	assert.True(t, rec.tree(1).Closed())
	assert.False(t, rec.tree(2).Closed())
	assert.InDelta(t, 2, testutil.ToFloat64(m.Evictions.WithLabelValues(metrics.EvictClosed)), 0)

	c.DidClose(doc.uri)
	assert.InDelta(t, 2, testutil.ToFloat64(m.Evictions.WithLabelValues(metrics.EvictClosed)), 0)
}

func TestSweep(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t, WithStaleAfter(time.Minute))
	tok := NewToken("test")
	dirty := rustDoc("fn a() {}")
	clean := &fakeDoc{uri: "file:///src/main.rs", id: "rust", text: "fn main() {}"}
	get(t, c, dirty, Options{Token: tok})
	get(t, c, clean, Options{Token: tok})

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	c.DidChange(dirty.uri, t0)

	assert.Equal(t, 0, c.Sweep(t0.Add(30*time.Second)))
	assert.Equal(t, 1, c.Sweep(t0.Add(2*time.Minute)))
	assert.Equal(t, 1, c.Len())
	_, ok := c.State(clean.uri, tok)
	assert.True(t, ok)
}

func TestDocumentTree_ChangeDuringParseStaysDirty(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")
	get(t, c, doc, Options{Token: tok})

	rec.hook = func(_ context.Context, call int) error {
		if call == 1 {
			c.DidChange(doc.uri, time.Now())
		}
		return nil
	}
	doc.text = "fn ab() {}"
	c.DidChange(doc.uri, time.Now())
	get(t, c, doc, Options{Token: tok})

	s, ok := c.State(doc.uri, tok)
	require.True(t, ok)
	assert.True(t, s.Dirty)

	get(t, c, doc, Options{Token: tok})
	assert.Equal(t, []string{metrics.ParseFull, metrics.ParseIncremental, metrics.ParseIncremental}, rec.calls())
}

func TestDocumentTree_ChangeDuringParseRestartsStaleness(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t, WithStaleAfter(5*time.Minute))
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")
	get(t, c, doc, Options{Token: tok})

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	accessed := t0.Add(4 * time.Minute)
	rec.hook = func(_ context.Context, call int) error {
		if call == 1 {
			c.DidChange(doc.uri, accessed)
			c.DidChange(doc.uri, accessed.Add(time.Second))
		}
		return nil
	}
	doc.text = "fn ab() {}"
	c.DidChange(doc.uri, t0)
	get(t, c, doc, Options{Token: tok})

	s, ok := c.State(doc.uri, tok)
	require.True(t, ok)
	assert.True(t, s.Dirty)
	assert.Equal(t, accessed, s.DirtySince)

	// 90s after the access is well inside the window.
	c.DidChange(doc.uri, t0.Add(5*time.Minute+30*time.Second))
	assert.Equal(t, 1, c.Len())
	assert.Equal(t, 0, c.Sweep(t0.Add(5*time.Minute+30*time.Second)))

	c.DidChange(doc.uri, accessed.Add(5*time.Minute+time.Second))
	assert.Equal(t, 0, c.Len())
}

func TestDidChange_DoesNotEvictDuringReparse(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t, WithStaleAfter(5*time.Minute))
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")
	get(t, c, doc, Options{Token: tok})

	t0 := time.Date(2026, 1, 1, 12, 0, 0, 0, time.UTC)
	late := t0.Add(time.Hour)
	rec.hook = func(_ context.Context, call int) error {
		if call == 1 {
			c.DidChange(doc.uri, late)
			assert.Equal(t, 0, c.Sweep(late))
		}
		return nil
	}
	doc.text = "fn ab() {}"
	c.DidChange(doc.uri, t0)
	get(t, c, doc, Options{Token: tok})

	require.Equal(t, 1, c.Len())
	s, ok := c.State(doc.uri, tok)
	require.True(t, ok)
	assert.Equal(t, late, s.DirtySince)
}

func TestDocumentTree_ParseErrorLeavesNoEntry(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	boom := errors.New("boom")
	rec.hook = func(context.Context, int) error { return boom }

	_, err := c.DocumentTree(context.Background(), rustDoc("fn a() {}"), Options{Token: NewToken("test")})
	require.ErrorIs(t, err, boom)
	assert.NotErrorIs(t, err, ErrTimeout)
	assert.Equal(t, 0, c.Len())
}

func TestDocumentTree_ParseErrorKeepsPreviousTree(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	doc := rustDoc("fn a() {}")
	tok := NewToken("test")
	get(t, c, doc, Options{Token: tok})

	boom := errors.New("boom")
	rec.hook = func(context.Context, int) error { return boom }
	c.DidChange(doc.uri, time.Now())

	_, err := c.DocumentTree(context.Background(), doc, Options{Token: tok})
	require.ErrorIs(t, err, boom)

	s, ok := c.State(doc.uri, tok)
	require.True(t, ok)
	assert.True(t, s.Dirty)
	assert.False(t, rec.tree(0).Closed())
}

func TestDocumentTree_LanguageOverride(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t)
	doc := &fakeDoc{uri: "untitled:Untitled-1", text: "def f():\n    pass\n"}

	_, err := c.DocumentTree(context.Background(), doc, Options{})
	require.ErrorIs(t, err, grammar.ErrLanguageUndeterminable)

	tree := get(t, c, doc, Options{Language: grammar.Python})
	assert.Equal(t, grammar.Python, tree.Language())
	assert.Equal(t, "module", tree.RootNode().Type())
}

func TestDocumentTreeSync_RequiresLoadedGrammar(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t)
	doc := rustDoc("fn a() {}")

	_, err := c.DocumentTreeSync(doc, Options{})
	require.ErrorIs(t, err, grammar.ErrLanguageNotLoaded)

	_, err = c.reg.EnsureLoaded(context.Background(), grammar.Rust)
	require.NoError(t, err)

	tree, err := c.DocumentTreeSync(doc, Options{Token: NewToken("sync")})
	require.NoError(t, err)
	defer tree.Close()
	assert.Equal(t, "fn a() {}", tree.RootNode().Text())
}

func TestDocumentTree_TimeoutWaitingForGrammar(t *testing.T) {
	t.Parallel()

	release := make(chan struct{})
	defer close(release)
	reg := grammar.NewRegistry(grammar.WithLoader(func(ctx context.Context, lang grammar.Language) (*sitter.Language, error) {
		<-release
		return grammar.Builtin(ctx, lang)
	}))
	rec := &recorder{reg: reg}
	c := New(reg, WithParseFunc(rec.parse))

	_, err := c.DocumentTree(context.Background(), rustDoc("fn a() {}"), Options{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, rec.calls())
}

func TestDocumentTree_DeadlinePassedBeforeDispatch(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	_, err := c.reg.EnsureLoaded(context.Background(), grammar.Rust)
	require.NoError(t, err)

	ctx, cancel := context.WithDeadline(context.Background(), time.Now().Add(-time.Second))
	defer cancel()

	_, err = c.DocumentTree(ctx, rustDoc("fn a() {}"), Options{Token: NewToken("test")})
	require.ErrorIs(t, err, ErrTimeout)
	assert.Empty(t, rec.calls())
}

func TestDocumentTree_ParseExceedsBudget(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	rec.hook = func(ctx context.Context, _ int) error {
		<-ctx.Done()
		return ctx.Err()
	}

	_, err := c.DocumentTree(context.Background(), rustDoc("fn a() {}"), Options{Timeout: 20 * time.Millisecond})
	require.ErrorIs(t, err, ErrTimeout)
	require.ErrorIs(t, err, context.DeadlineExceeded)
}

func TestDocumentTree_Canceled(t *testing.T) {
	t.Parallel()

	c, _, _ := newCache(t)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := c.DocumentTree(ctx, rustDoc("fn a() {}"), Options{})
	require.ErrorIs(t, err, context.Canceled)
	assert.NotErrorIs(t, err, ErrTimeout)
}

func TestDocumentTree_ConcurrentRequestsShareOneParse(t *testing.T) {
	t.Parallel()

	c, rec, _ := newCache(t)
	doc := rustDoc(`pub fn foo() { println!("bar"); }`)
	tok := NewToken("test")

	var wg sync.WaitGroup
	for range 8 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			tree, err := c.DocumentTree(context.Background(), doc, Options{Token: tok})
			if assert.NoError(t, err) {
				assert.Equal(t, "source_file", tree.RootNode().Type())
				tree.Close()
			}
		}()
	}
	wg.Wait()

	assert.Equal(t, []string{metrics.ParseFull}, rec.calls())
}

func TestClose_ReleasesEverything(t *testing.T) {
	t.Parallel()

	c, rec, m := newCache(t)
	get(t, c, rustDoc("fn a() {}"), Options{Token: NewToken("test")})

	require.NoError(t, c.Close())
	assert.Equal(t, 0, c.Len())
	assert.True(t, rec.tree(0).Closed())
	assert.InDelta(t, 1, testutil.ToFloat64(m.Evictions.WithLabelValues(metrics.EvictClear)), 0)
	assert.InDelta(t, 0, testutil.ToFloat64(m.Entries), 0)
}
