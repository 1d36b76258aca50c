package grammar

import (
	"context"
	"fmt"

	sitter "github.com/smacker/go-tree-sitter"
	"github.com/smacker/go-tree-sitter/c"
	"github.com/smacker/go-tree-sitter/cpp"
	"github.com/smacker/go-tree-sitter/golang"
	"github.com/smacker/go-tree-sitter/java"
	"github.com/smacker/go-tree-sitter/javascript"
	"github.com/smacker/go-tree-sitter/php"
	"github.com/smacker/go-tree-sitter/python"
	"github.com/smacker/go-tree-sitter/ruby"
	"github.com/smacker/go-tree-sitter/rust"
	"github.com/smacker/go-tree-sitter/typescript/tsx"
	ts "github.com/smacker/go-tree-sitter/typescript/typescript"
)

// sharedGrammar maps tags to the tag whose grammar they parse with. JSX is
// part of the JavaScript grammar; TSX has its own.
var sharedGrammar = map[Language]Language{
	JavaScriptReact: JavaScript,
}

// GrammarOf returns the tag whose grammar lang is parsed with. Trees and
// queries of two tags with the same GrammarOf are interchangeable.
func GrammarOf(lang Language) Language {
	if g, ok := sharedGrammar[lang]; ok {
		return g
	}
	return lang
}

// Builtin loads the grammars linked into the binary.
func Builtin(_ context.Context, lang Language) (*sitter.Language, error) {
	switch GrammarOf(lang) {
	case C:
		return c.GetLanguage(), nil
	case CPP:
		return cpp.GetLanguage(), nil
	case Go:
		return golang.GetLanguage(), nil
	case Java:
		return java.GetLanguage(), nil
	case JavaScript:
		return javascript.GetLanguage(), nil
	case PHP:
		return php.GetLanguage(), nil
	case Python:
		return python.GetLanguage(), nil
	case Ruby:
		return ruby.GetLanguage(), nil
	case Rust:
		return rust.GetLanguage(), nil
	case TypeScript:
		return ts.GetLanguage(), nil
	case TypeScriptReact:
		return tsx.GetLanguage(), nil
	}
	return nil, fmt.Errorf("no built-in grammar for %q", lang)
}
