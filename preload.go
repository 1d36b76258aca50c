package arbor

import (
	"context"
	"errors"
	"fmt"
	"runtime"
	"sync"
)

// Preload loads the grammars of every ref using a worker pool:
//
//	Phase A (serial):   resolve refs to languages and drop duplicates.
//	Phase B (parallel): load each grammar.
//	Phase C (serial):   collect failures.
//
// A failing language does not stop the others.
func (s *Service) Preload(ctx context.Context, refs ...any) error {
	// ---- Phase A: Serial resolution ----
	var (
		langs []Language
		errs  []error
	)
	seen := make(map[Language]bool, len(refs))
	for _, ref := range refs {
		lang, err := s.DetermineLanguageOrFail(ref)
		if err != nil {
			errs = append(errs, err)
			continue
		}
		if seen[lang] {
			continue
		}
		seen[lang] = true
		langs = append(langs, lang)
	}

	// ---- Phase B: Parallel loading ----
	failed := runPool(len(langs), func(i int) error {
		if _, err := s.EnsureLoaded(ctx, langs[i]); err != nil {
			return fmt.Errorf("load %s: %w", langs[i], err)
		}
		return nil
	})

	// ---- Phase C: Serial collection ----
	errs = append(errs, failed...)
	if len(errs) > 0 {
		s.logger.Warn("preload incomplete", "requested", len(refs), "failed", len(errs))
		return fmt.Errorf("arbor: preloading had %d error(s): %w", len(errs), errors.Join(errs...))
	}
	s.logger.Debug("preloaded grammars", "languages", langs)
	return nil
}

// TreeResult is the outcome of one document in ParseAll.
type TreeResult struct {
	Document Document
	Tree     *Tree
	Err      error
}

// ParseAll gets a tree for every document concurrently. Results are in the
// order of docs; the caller owns and must close every non-nil Tree.
func (s *Service) ParseAll(ctx context.Context, docs []Document, opts Options) []TreeResult {
	results := make([]TreeResult, len(docs))
	runPool(len(docs), func(i int) error {
		t, err := s.DocumentTree(ctx, docs[i], opts)
		results[i] = TreeResult{Document: docs[i], Tree: t, Err: err}
		return err
	})
	return results
}

// runPool calls fn for 0..n-1 on up to NumCPU workers and returns the
// errors in completion order.
func runPool(n int, fn func(i int) error) []error {
	if n == 0 {
		return nil
	}
	numWorkers := max(min(runtime.NumCPU(), n), 1)

	workCh := make(chan int, n)
	for i := range n {
		workCh <- i
	}
	close(workCh)

	resultCh := make(chan error, n)
	var wg sync.WaitGroup
	for range numWorkers {
		wg.Add(1)
		go func() {
			defer wg.Done()
			for i := range workCh {
				resultCh <- fn(i)
			}
		}()
	}

	go func() {
		wg.Wait()
		close(resultCh)
	}()

	var errs []error
	for err := range resultCh {
		if err != nil {
			errs = append(errs, err)
		}
	}
	return errs
}
