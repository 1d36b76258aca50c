package host

import (
	"context"
	"errors"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path/filepath"
	"slices"
	"sync"
	"time"

	"github.com/cespare/xxhash/v2"
	"github.com/fsnotify/fsnotify"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jward/arbor/internal/grammar"
)

// Listener receives the change and close notifications of a Workspace.
// *arbor.Service implements it.
type Listener interface {
	DidChange(uri protocol.DocumentURI)
	DidClose(uri protocol.DocumentURI)
}

// Sweeper is implemented by listeners that evict stale state on a timer.
type Sweeper interface {
	Sweep() int
}

type fileDoc struct {
	doc  *TextDocument
	path string
	sum  uint64
}

// Workspace keeps files open as documents and watches them. Writes that
// change a file's content reach the listener as DidChange; removal or
// renaming away reaches it as DidClose.
type Workspace struct {
	listener   Listener
	logger     *slog.Logger
	watcher    *fsnotify.Watcher
	sweepEvery time.Duration

	mu     sync.Mutex
	byPath map[string]*fileDoc
	dirs   map[string]int
}

// Option configures a Workspace.
type Option func(*Workspace)

// WithLogger sets the logger.
func WithLogger(l *slog.Logger) Option {
	return func(w *Workspace) { w.logger = l }
}

// WithSweepInterval sets how often Run calls the listener's Sweep, when it
// has one. Zero disables sweeping.
func WithSweepInterval(d time.Duration) Option {
	return func(w *Workspace) { w.sweepEvery = d }
}

// NewWorkspace creates a Workspace reporting to l.
func NewWorkspace(l Listener, opts ...Option) (*Workspace, error) {
	fsw, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, fmt.Errorf("host: create watcher: %w", err)
	}
	w := &Workspace{
		listener:   l,
		logger:     slog.Default(),
		watcher:    fsw,
		sweepEvery: time.Minute,
		byPath:     make(map[string]*fileDoc),
		dirs:       make(map[string]int),
	}
	for _, o := range opts {
		o(w)
	}
	return w, nil
}

// Open reads the file at path and starts watching it. Opening a file twice
// returns the same document.
func (w *Workspace) Open(path string) (*TextDocument, error) {
	abs, err := filepath.Abs(path)
	if err != nil {
		return nil, fmt.Errorf("host: resolve %s: %w", path, err)
	}

	w.mu.Lock()
	defer w.mu.Unlock()
	if fd, ok := w.byPath[abs]; ok {
		return fd.doc, nil
	}

	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("host: open %s: %w", path, err)
	}

	// Editors often save by renaming over the file, so watch the directory.
	dir := filepath.Dir(abs)
	if w.dirs[dir] == 0 {
		if err := w.watcher.Add(dir); err != nil {
			return nil, fmt.Errorf("host: watch %s: %w", dir, err)
		}
	}
	w.dirs[dir]++

	var id protocol.LanguageIdentifier
	if lang, ok := grammar.DetermineLanguage(abs); ok {
		id = protocol.LanguageIdentifier(lang)
	}
	doc := NewTextDocument(protocol.TextDocumentItem{
		URI:        protocol.DocumentURI(uri.File(abs)),
		LanguageID: id,
		Version:    1,
		Text:       string(data),
	})
	w.byPath[abs] = &fileDoc{doc: doc, path: abs, sum: xxhash.Sum64(data)}
	w.logger.Debug("opened document", "path", abs, "language", id)
	return doc, nil
}

// Close stops tracking the file at path and notifies the listener.
func (w *Workspace) Close(path string) error {
	abs, err := filepath.Abs(path)
	if err != nil {
		return fmt.Errorf("host: resolve %s: %w", path, err)
	}
	w.mu.Lock()
	fd, ok := w.byPath[abs]
	if ok {
		w.forgetLocked(fd)
	}
	w.mu.Unlock()
	if !ok {
		return fmt.Errorf("host: %s is not open", path)
	}
	w.listener.DidClose(fd.doc.URI())
	return nil
}

func (w *Workspace) forgetLocked(fd *fileDoc) {
	delete(w.byPath, fd.path)
	dir := filepath.Dir(fd.path)
	w.dirs[dir]--
	if w.dirs[dir] <= 0 {
		delete(w.dirs, dir)
		if err := w.watcher.Remove(dir); err != nil && !errors.Is(err, fsnotify.ErrNonExistentWatch) {
			w.logger.Debug("unwatching directory", "dir", dir, "error", err)
		}
	}
}

// Document returns the open document at uri.
func (w *Workspace) Document(u protocol.DocumentURI) (*TextDocument, bool) {
	w.mu.Lock()
	defer w.mu.Unlock()
	fd, ok := w.byPath[uri.URI(u).Filename()]
	if !ok {
		return nil, false
	}
	return fd.doc, true
}

// Documents returns the open documents ordered by URI.
func (w *Workspace) Documents() []*TextDocument {
	w.mu.Lock()
	docs := make([]*TextDocument, 0, len(w.byPath))
	for _, fd := range w.byPath {
		docs = append(docs, fd.doc)
	}
	w.mu.Unlock()
	slices.SortFunc(docs, func(a, b *TextDocument) int {
		switch {
		case a.URI() < b.URI():
			return -1
		case a.URI() > b.URI():
			return 1
		}
		return 0
	})
	return docs
}

// Run delivers file events to the listener until ctx ends or the
// workspace is shut down.
func (w *Workspace) Run(ctx context.Context) error {
	var tick <-chan time.Time
	sweeper, canSweep := w.listener.(Sweeper)
	if canSweep && w.sweepEvery > 0 {
		t := time.NewTicker(w.sweepEvery)
		defer t.Stop()
		tick = t.C
	}

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case ev, ok := <-w.watcher.Events:
			if !ok {
				return nil
			}
			w.handle(ev)
		case err, ok := <-w.watcher.Errors:
			if !ok {
				return nil
			}
			w.logger.Warn("watch error", "error", err)
		case <-tick:
			if n := sweeper.Sweep(); n > 0 {
				w.logger.Debug("swept stale trees", "count", n)
			}
		}
	}
}

func (w *Workspace) handle(ev fsnotify.Event) {
	if ev.Op&(fsnotify.Write|fsnotify.Create|fsnotify.Remove|fsnotify.Rename) == 0 {
		return
	}
	w.reload(filepath.Clean(ev.Name))
}

// reload rereads an open file. Unchanged content is ignored.
func (w *Workspace) reload(path string) {
	w.mu.Lock()
	fd, ok := w.byPath[path]
	w.mu.Unlock()
	if !ok {
		return
	}

	data, err := os.ReadFile(path)
	if errors.Is(err, fs.ErrNotExist) {
		w.mu.Lock()
		if w.byPath[path] == fd {
			w.forgetLocked(fd)
		} else {
			ok = false
		}
		w.mu.Unlock()
		if ok {
			w.logger.Debug("document removed", "path", path)
			w.listener.DidClose(fd.doc.URI())
		}
		return
	}
	if err != nil {
		w.logger.Warn("rereading document", "path", path, "error", err)
		return
	}

	sum := xxhash.Sum64(data)
	w.mu.Lock()
	if fd.sum == sum {
		w.mu.Unlock()
		return
	}
	fd.sum = sum
	fd.doc.SetText(data)
	w.mu.Unlock()
	w.listener.DidChange(fd.doc.URI())
}

// Shutdown stops watching. Run returns once the watcher's channels close.
func (w *Workspace) Shutdown() error {
	return w.watcher.Close()
}
