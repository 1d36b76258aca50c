package main

import (
	"context"
	"errors"
	"io"
	"sync"

	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/host"
)

var watchCmd = &cobra.Command{
	Use:   "watch <file>...",
	Short: "Keep files parsed and report their trees as they change",
	Long: "Opens files, watches them for changes and reparses each change incrementally from the cached tree. " +
		"Prints one event per change until interrupted.",
	Args: cobra.MinimumNArgs(1),
	RunE: runWatch,
}

// watcher forwards workspace notifications to the Service and reports the
// reparsed tree of every change.
type watcher struct {
	svc   *arbor.Service
	token *arbor.Token
	ctx   context.Context

	mu  sync.Mutex
	out io.Writer
	ws  *host.Workspace
}

func (w *watcher) DidChange(u protocol.DocumentURI) {
	w.svc.DidChange(u)
	doc, ok := w.ws.Document(u)
	if !ok {
		return
	}
	w.report("change", doc)
}

func (w *watcher) DidClose(u protocol.DocumentURI) {
	w.svc.DidClose(u)
	w.emit(CLIEvent{Event: "close", URI: u})
}

func (w *watcher) Sweep() int {
	return w.svc.Sweep()
}

// report parses doc through the cache and emits the outcome.
func (w *watcher) report(event string, doc *host.TextDocument) {
	ev := CLIEvent{Event: event, URI: doc.URI(), Version: doc.Version()}
	err := w.svc.WithDocumentTree(w.ctx, doc, arbor.Options{Token: w.token, Timeout: cfg.Timeout}, func(t *arbor.Tree) error {
		ev.HasError = t.RootNode().HasError()
		return nil
	})
	if err != nil {
		ev.Error = err.Error()
	}
	w.emit(ev)
}

func (w *watcher) emit(ev CLIEvent) {
	w.mu.Lock()
	defer w.mu.Unlock()
	_ = outputResult(w.out, CLIResult{Command: "watch", Results: ev})
}

func runWatch(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ctx := cmd.Context()

	svc := newService()
	defer svc.Close()

	w := &watcher{svc: svc, token: svc.NewToken("watch"), ctx: ctx, out: out}
	ws, err := host.NewWorkspace(w, host.WithLogger(svc.Logger()), host.WithSweepInterval(cfg.SweepInterval))
	if err != nil {
		return outputError(out, errOut, "watch", err)
	}
	defer ws.Shutdown()
	w.ws = ws

	if err := svc.Preload(ctx, toRefs(args)...); err != nil {
		svc.Logger().Warn("some grammars failed to load", "error", err)
	}
	for _, path := range args {
		doc, err := ws.Open(path)
		if err != nil {
			return outputError(out, errOut, "watch", err)
		}
		w.report("open", doc)
	}

	if err := ws.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
		return outputError(out, errOut, "watch", err)
	}
	return nil
}

func toRefs(paths []string) []any {
	refs := make([]any, len(paths))
	for i, p := range paths {
		refs[i] = p
	}
	return refs
}
