package host

import (
	"context"
	"os"
	"path/filepath"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"
)

func TestTextDocument(t *testing.T) {
	t.Parallel()

	d := NewTextDocument(protocol.TextDocumentItem{
		URI:        "file:///src/lib.rs",
		LanguageID: "rust",
		Version:    3,
		Text:       "fn a() {}\n",
	})
	assert.Equal(t, protocol.DocumentURI("file:///src/lib.rs"), d.URI())
	assert.Equal(t, protocol.LanguageIdentifier("rust"), d.LanguageID())
	assert.Equal(t, int32(3), d.Version())

	text := d.Text()
	text[0] = 'x'
	assert.Equal(t, "fn a() {}\n", string(d.Text()), "Text returns a copy")

	d.SetText([]byte("fn b() {}\n"))
	assert.Equal(t, "fn b() {}\n", string(d.Text()))
	assert.Equal(t, int32(4), d.Version())
}

func rng(sl, sc, el, ec uint32) *protocol.Range {
	return &protocol.Range{
		Start: protocol.Position{Line: sl, Character: sc},
		End:   protocol.Position{Line: el, Character: ec},
	}
}

func TestTextDocument_Apply(t *testing.T) {
	t.Parallel()

	d := NewTextDocument(protocol.TextDocumentItem{URI: "file:///a.rs", Text: "fn a() {}\nfn b() {}\n"})

	require.NoError(t, d.Apply(
		Change{Range: rng(0, 3, 0, 4), Text: "alpha"},
		Change{Range: rng(1, 9, 1, 9), Text: " // b"},
		Change{Range: rng(2, 0, 2, 0), Text: "fn c() {}\n"},
	))
	assert.Equal(t, "fn alpha() {}\nfn b() {} // b\nfn c() {}\n", string(d.Text()))
	assert.Equal(t, int32(1), d.Version())

	require.NoError(t, d.Apply(Change{Text: "whole"}))
	assert.Equal(t, "whole", string(d.Text()))

	err := d.Apply(Change{Range: rng(0, 3, 0, 1), Text: "x"})
	require.Error(t, err)
	assert.Equal(t, "whole", string(d.Text()))
	assert.Equal(t, int32(2), d.Version())
}

// recorder is a Listener that records what it hears.
type recorder struct {
	mu      sync.Mutex
	changed []protocol.DocumentURI
	closed  []protocol.DocumentURI
	sweeps  int
}

func (r *recorder) DidChange(u protocol.DocumentURI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.changed = append(r.changed, u)
}

func (r *recorder) DidClose(u protocol.DocumentURI) {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.closed = append(r.closed, u)
}

func (r *recorder) Sweep() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	r.sweeps++
	return 0
}

func (r *recorder) counts() (changed, closed, sweeps int) {
	r.mu.Lock()
	defer r.mu.Unlock()
	return len(r.changed), len(r.closed), r.sweeps
}

func newWorkspace(t *testing.T, opts ...Option) (*Workspace, *recorder) {
	t.Helper()
	rec := &recorder{}
	w, err := NewWorkspace(rec, opts...)
	require.NoError(t, err)
	t.Cleanup(func() { w.Shutdown() })
	return w, rec
}

func writeFile(t *testing.T, path, content string) {
	t.Helper()
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
}

func TestWorkspace_Open(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "main.go")
	writeFile(t, path, "package main\n")

	w, _ := newWorkspace(t)
	doc, err := w.Open(path)
	require.NoError(t, err)
	assert.Equal(t, protocol.LanguageIdentifier("go"), doc.LanguageID())
	assert.Equal(t, "package main\n", string(doc.Text()))
	assert.Contains(t, string(doc.URI()), "file://")

	again, err := w.Open(path)
	require.NoError(t, err)
	assert.Same(t, doc, again)

	got, ok := w.Document(doc.URI())
	require.True(t, ok)
	assert.Same(t, doc, got)
	assert.Len(t, w.Documents(), 1)

	_, err = w.Open(filepath.Join(dir, "missing.go"))
	require.Error(t, err)
}

func TestWorkspace_ReloadSuppressesUnchangedContent(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	writeFile(t, path, "fn a() {}")

	w, rec := newWorkspace(t)
	doc, err := w.Open(path)
	require.NoError(t, err)
	abs, _ := filepath.Abs(path)

	w.reload(abs)
	changed, _, _ := rec.counts()
	assert.Equal(t, 0, changed)

	writeFile(t, path, "fn b() {}")
	w.reload(abs)
	w.reload(abs)
	changed, _, _ = rec.counts()
	assert.Equal(t, 1, changed)
	assert.Equal(t, "fn b() {}", string(doc.Text()))

	require.NoError(t, os.Remove(path))
	w.reload(abs)
	_, closed, _ := rec.counts()
	assert.Equal(t, 1, closed)
	assert.Empty(t, w.Documents())
}

func TestWorkspace_Close(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "a.py")
	writeFile(t, path, "x = 1\n")

	w, rec := newWorkspace(t)
	doc, err := w.Open(path)
	require.NoError(t, err)

	require.NoError(t, w.Close(path))
	require.Error(t, w.Close(path))

	rec.mu.Lock()
	assert.Equal(t, []protocol.DocumentURI{doc.URI()}, rec.closed)
	rec.mu.Unlock()
	assert.Empty(t, w.Documents())
}

func TestWorkspace_RunDeliversFileEvents(t *testing.T) {
	t.Parallel()

	dir := t.TempDir()
	path := filepath.Join(dir, "lib.rs")
	writeFile(t, path, "fn a() {}")

	w, rec := newWorkspace(t, WithSweepInterval(10*time.Millisecond))
	doc, err := w.Open(path)
	require.NoError(t, err)

	ctx, cancel := context.WithCancel(context.Background())
	done := make(chan error, 1)
	go func() { done <- w.Run(ctx) }()

	writeFile(t, path, "fn b() {}")
	assert.Eventually(t, func() bool {
		changed, _, _ := rec.counts()
		return changed >= 1
	}, 5*time.Second, 10*time.Millisecond)
	assert.Equal(t, "fn b() {}", string(doc.Text()))

	assert.Eventually(t, func() bool {
		_, _, sweeps := rec.counts()
		return sweeps > 0
	}, 5*time.Second, 10*time.Millisecond)

	cancel()
	assert.ErrorIs(t, <-done, context.Canceled)
}
