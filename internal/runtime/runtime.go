// Package runtime embeds a Risor VM so that tree walks and queries can be
// written as scripts. Scripts parse files or strings through an arbor
// service and get host functions for the things Risor cannot do through
// proxied tree-sitter values alone.
package runtime

import (
	"context"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/risor-io/risor"
	"github.com/risor-io/risor/importer"
	"github.com/risor-io/risor/object"

	"github.com/jward/arbor/internal/cache"
	"github.com/jward/arbor/internal/grammar"
	"github.com/jward/arbor/internal/handle"
	"github.com/jward/arbor/internal/query"
	"github.com/jward/arbor/internal/syntax"
)

// Host is the part of arbor.Service scripts run against.
type Host interface {
	DocumentTree(ctx context.Context, doc cache.Document, opts cache.Options) (*syntax.Tree, error)
	Query(ctx context.Context, ref any, source string) (*query.Query, error)
}

// Runtime runs Risor scripts against a Host.
type Runtime struct {
	host       Host
	scriptsDir string
	fsys       fs.FS
	logger     *slog.Logger
}

// RuntimeOption configures a Runtime.
type RuntimeOption func(*Runtime)

// WithRuntimeFS loads scripts and resolves imports from fsys instead of
// from disk.
func WithRuntimeFS(fsys fs.FS) RuntimeOption {
	return func(r *Runtime) {
		r.fsys = fsys
	}
}

// WithRuntimeLogger sets the logger behind the scripts' log global.
func WithRuntimeLogger(l *slog.Logger) RuntimeOption {
	return func(r *Runtime) {
		r.logger = l
	}
}

// NewRuntime creates a Runtime that parses through h and loads scripts
// from scriptsDir.
func NewRuntime(h Host, scriptsDir string, opts ...RuntimeOption) *Runtime {
	r := &Runtime{
		host:       h,
		scriptsDir: scriptsDir,
		logger:     slog.Default(),
	}
	for _, opt := range opts {
		opt(r)
	}
	return r
}

// RunScript loads and executes a Risor script with all standard globals
// plus any extra globals provided by the caller.
func (r *Runtime) RunScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) error {
	_, err := r.runScript(ctx, scriptPath, extraGlobals)
	return err
}

// RunSource executes Risor source code directly with all standard globals
// plus any extra globals.
func (r *Runtime) RunSource(ctx context.Context, source string, extraGlobals map[string]any) error {
	_, err := r.eval(ctx, source, "<inline>", extraGlobals)
	return err
}

// Outline runs the outline script for lang over the file at path and
// returns the symbols it emits, ordered by position.
func (r *Runtime) Outline(ctx context.Context, path string, lang grammar.Language) ([]Symbol, error) {
	syms, err := r.runScript(ctx, OutlineScriptPath(lang), map[string]any{
		"path":     path,
		"language": string(lang),
	})
	if err != nil {
		return nil, err
	}
	sortSymbols(syms)
	return syms, nil
}

func (r *Runtime) runScript(ctx context.Context, scriptPath string, extraGlobals map[string]any) ([]Symbol, error) {
	src, err := r.LoadScript(scriptPath)
	if err != nil {
		return nil, err
	}
	return r.eval(ctx, src, scriptPath, extraGlobals)
}

// eval runs one script and returns what it emitted. Every tree the script
// parses belongs to the run and is closed when it ends.
func (r *Runtime) eval(ctx context.Context, source, label string, extraGlobals map[string]any) ([]Symbol, error) {
	sess := newSession()
	err := handle.Do(func() error {
		globals := r.buildGlobals(sess, extraGlobals)

		var opts []risor.Option
		for name, val := range globals {
			opts = append(opts, risor.WithGlobal(name, val))
		}
		if imp := r.buildImporter(globals); imp != nil {
			opts = append(opts, risor.WithImporter(imp))
		}

		if _, err := risor.Eval(ctx, source, opts...); err != nil {
			return fmt.Errorf("runtime: script %s: %w", label, err)
		}
		return nil
	}, sess)
	if err != nil {
		return nil, err
	}
	return sess.symbols, nil
}

// buildImporter returns an importer for the configured script source, or
// nil when there is none.
func (r *Runtime) buildImporter(globals map[string]any) importer.Importer {
	globalNames := make([]string, 0, len(globals))
	for name := range globals {
		globalNames = append(globalNames, name)
	}

	if r.fsys != nil {
		return importer.NewFSImporter(importer.FSImporterOptions{
			GlobalNames: globalNames,
			SourceFS:    r.fsys,
			Extensions:  []string{".risor"},
		})
	}
	if r.scriptsDir != "" {
		return importer.NewLocalImporter(importer.LocalImporterOptions{
			GlobalNames: globalNames,
			SourceDir:   r.scriptsDir,
			Extensions:  []string{".risor"},
		})
	}
	return nil
}

// LoadScript reads a .risor file. With an fs.FS configured the path is
// taken relative to its root; otherwise relative paths are joined to the
// scripts directory.
func (r *Runtime) LoadScript(path string) (string, error) {
	if r.fsys != nil {
		fsPath := strings.TrimPrefix(filepath.ToSlash(path), "/")
		data, err := fs.ReadFile(r.fsys, fsPath)
		if err != nil {
			return "", fmt.Errorf("runtime: loading script %s from fs: %w", fsPath, err)
		}
		return string(data), nil
	}

	fullPath := path
	if !filepath.IsAbs(path) {
		fullPath = filepath.Join(r.scriptsDir, path)
	}

	data, err := os.ReadFile(fullPath)
	if err != nil {
		return "", fmt.Errorf("runtime: loading script %s: %w", fullPath, err)
	}
	return string(data), nil
}

// outlineShared names languages that reuse another language's outline
// script.
var outlineShared = map[grammar.Language]grammar.Language{
	grammar.JavaScriptReact: grammar.JavaScript,
	grammar.TypeScriptReact: grammar.TypeScript,
}

// OutlineScriptPath returns the path to a language's outline script.
func OutlineScriptPath(lang grammar.Language) string {
	if shared, ok := outlineShared[lang]; ok {
		lang = shared
	}
	return path.Join("outline", string(lang)+".risor")
}

// buildGlobals constructs the globals exposed to one run.
func (r *Runtime) buildGlobals(sess *session, extra map[string]any) map[string]any {
	globals := map[string]any{
		"log": mustProxy(&logObject{logger: r.logger.With("source", "script")}),
	}
	if r.host != nil {
		globals["parse"] = makeParseFn(r.host, sess)
		globals["parse_src"] = makeParseSrcFn(r.host, sess)
		globals["query"] = makeQueryFn(r.host, sess)
	}
	globals["node_text"] = makeNodeTextFn(sess)
	globals["node_child"] = makeNodeChildFn()
	globals["node_field"] = makeNodeFieldFn(sess)
	globals["node_range"] = makeNodeRangeFn(sess)
	globals["emit"] = makeEmitFn(sess)

	for k, v := range extra {
		globals[k] = v
	}
	return globals
}

func mustProxy(v any) object.Object {
	p, err := object.NewProxy(v)
	if err != nil {
		panic(fmt.Sprintf("runtime: proxy error: %v", err))
	}
	return p
}
