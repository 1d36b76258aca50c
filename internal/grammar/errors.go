package grammar

import (
	"errors"
	"fmt"

	"go.lsp.dev/protocol"
)

var (
	// ErrLanguageUndeterminable is returned when no resolution rule matches.
	ErrLanguageUndeterminable = errors.New("language undeterminable")
	// ErrLanguageNotLoaded is returned by synchronous paths that need a
	// grammar nobody has loaded yet.
	ErrLanguageNotLoaded = errors.New("language not loaded")
	// ErrGrammarLoad wraps failures of the grammar loader.
	ErrGrammarLoad = errors.New("grammar load failed")
)

// UndeterminableError reports the reference that could not be resolved.
type UndeterminableError struct {
	Ref string
}

func (e *UndeterminableError) Error() string {
	return fmt.Sprintf("grammar: cannot determine language for %s", e.Ref)
}

func (e *UndeterminableError) Unwrap() error { return ErrLanguageUndeterminable }

// NotLoadedError reports a grammar that was required but not loaded.
type NotLoadedError struct {
	Language Language
}

func (e *NotLoadedError) Error() string {
	return fmt.Sprintf("grammar: %s is not loaded", e.Language)
}

func (e *NotLoadedError) Unwrap() error { return ErrLanguageNotLoaded }

// LoadError carries the loader's failure verbatim.
type LoadError struct {
	Language Language
	Err      error
}

func (e *LoadError) Error() string {
	return fmt.Sprintf("grammar: loading %s: %v", e.Language, e.Err)
}

func (e *LoadError) Unwrap() []error { return []error{ErrGrammarLoad, e.Err} }

func describe(ref any) string {
	switch v := ref.(type) {
	case nil:
		return "<nil>"
	case string:
		return fmt.Sprintf("%q", v)
	case Language:
		return fmt.Sprintf("%q", string(v))
	case protocol.DocumentURI:
		return fmt.Sprintf("%q", string(v))
	case Described:
		return fmt.Sprintf("document %s (language id %q)", v.URI(), v.LanguageID())
	}
	return fmt.Sprintf("%T", ref)
}
