// Package handle owns manually-released native resources.
//
// Every tree, query and cursor handed out by arbor wraps a [Handle]. Closing
// a Handle is idempotent. The scoped helpers [Do], [Value] and [Go] release
// their handles exactly once on every exit path of a continuation. [Track]
// registers a garbage-collection cleanup that releases a Handle whose owner
// became unreachable while still open; the timing of that cleanup is
// unspecified and it exists only to bound leaks.
package handle

import (
	"errors"
	"log/slog"
	"runtime"
	"sync"
	"sync/atomic"
)

// Closer is any resource with an explicit release operation. Implementations
// must tolerate repeated calls.
type Closer interface {
	Close() error
}

// Handle releases one native resource exactly once.
type Handle struct {
	kind    string
	once    sync.Once
	closed  atomic.Bool
	release func()
}

// leaked counts handles released by the garbage-collection backstop.
var leaked atomic.Int64

// New returns an open Handle that calls release on first Close. kind labels
// the resource in leak reports.
func New(kind string, release func()) *Handle {
	return &Handle{kind: kind, release: release}
}

// Close releases the resource. Subsequent calls are no-ops.
func (h *Handle) Close() error {
	if h == nil {
		return nil
	}
	h.once.Do(func() {
		h.closed.Store(true)
		if h.release != nil {
			h.release()
		}
	})
	return nil
}

// Closed reports whether the resource has been released.
func (h *Handle) Closed() bool {
	return h == nil || h.closed.Load()
}

// Kind returns the resource label.
func (h *Handle) Kind() string {
	return h.kind
}

// Track arranges for h to be closed once owner becomes unreachable. owner
// must not be reachable from h.
func Track[T any](owner *T, h *Handle) {
	runtime.AddCleanup(owner, reclaim, h)
}

func reclaim(h *Handle) {
	if h.Closed() {
		return
	}
	leaked.Add(1)
	slog.Default().Warn("releasing unreachable handle that was never closed", "kind", h.kind)
	h.Close()
}

// Leaked returns how many handles the backstop has released in this process.
func Leaked() int64 {
	return leaked.Load()
}

// closeAll closes every handle, returning the joined errors.
func closeAll(hs []Closer) error {
	var errs []error
	for _, h := range hs {
		if h == nil {
			continue
		}
		if err := h.Close(); err != nil {
			errs = append(errs, err)
		}
	}
	return errors.Join(errs...)
}
