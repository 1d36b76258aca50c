package grammar

import (
	"path"
	"sort"
	"strings"

	"go.lsp.dev/protocol"
)

// Language is a canonical language tag.
type Language string

// Supported languages.
const (
	C               Language = "c"
	CPP             Language = "cpp"
	Go              Language = "go"
	Java            Language = "java"
	JavaScript      Language = "javascript"
	JavaScriptReact Language = "javascriptreact"
	PHP             Language = "php"
	Python          Language = "python"
	Ruby            Language = "ruby"
	Rust            Language = "rust"
	TypeScript      Language = "typescript"
	TypeScriptReact Language = "typescriptreact"
)

var known = map[Language]bool{
	C: true, CPP: true, Go: true, Java: true, JavaScript: true, JavaScriptReact: true,
	PHP: true, Python: true, Ruby: true, Rust: true, TypeScript: true, TypeScriptReact: true,
}

// idToLanguage maps editor language identifiers that differ from a tag.
var idToLanguage = map[string]Language{
	"golang":  Go,
	"c++":     CPP,
	"js":      JavaScript,
	"jsx":     JavaScriptReact,
	"ts":      TypeScript,
	"tsx":     TypeScriptReact,
	"py":      Python,
	"python3": Python,
	"rs":      Rust,
	"rb":      Ruby,
}

// extToLanguage maps file suffixes to tags. The JavaScript and TypeScript
// families are handled by scriptLanguage.
var extToLanguage = map[string]Language{
	".c":    C,
	".h":    C,
	".cc":   CPP,
	".cpp":  CPP,
	".cxx":  CPP,
	".hh":   CPP,
	".hpp":  CPP,
	".go":   Go,
	".java": Java,
	".php":  PHP,
	".py":   Python,
	".pyi":  Python,
	".rb":   Ruby,
	".rs":   Rust,
}

// Described is the part of a host document language resolution looks at.
type Described interface {
	URI() protocol.DocumentURI
	LanguageID() protocol.LanguageIdentifier
}

// Languages returns every supported tag, sorted.
func Languages() []Language {
	out := make([]Language, 0, len(known))
	for l := range known {
		out = append(out, l)
	}
	sort.Slice(out, func(i, j int) bool { return out[i] < out[j] })
	return out
}

// Suffixes returns the file suffixes that resolve to lang, sorted.
func Suffixes(lang Language) []string {
	var out []string
	for ext, l := range extToLanguage {
		if l == lang {
			out = append(out, ext)
		}
	}
	for _, ext := range []string{".js", ".mjs", ".cjs", ".jsx", ".ts", ".mts", ".cts", ".tsx"} {
		if l, _ := scriptLanguage(ext); l == lang {
			out = append(out, ext)
		}
	}
	sort.Strings(out)
	return out
}

// DetermineLanguage resolves ref to a tag. ref may be a Language, a string
// (tag, language id or path), a protocol.DocumentURI, or a Described
// document. Resolution tries an exact tag, then the language id table, then
// the path suffix.
func DetermineLanguage(ref any) (Language, bool) {
	switch v := ref.(type) {
	case Language:
		if known[v] {
			return v, true
		}
		return fromPath(string(v))
	case protocol.DocumentURI:
		return fromPath(string(v))
	case string:
		if l, ok := fromID(v); ok {
			return l, true
		}
		return fromPath(v)
	case Described:
		if l, ok := fromID(string(v.LanguageID())); ok {
			return l, true
		}
		return fromPath(string(v.URI()))
	}
	return "", false
}

// DetermineLanguageOrFail is DetermineLanguage returning an
// *UndeterminableError instead of false.
func DetermineLanguageOrFail(ref any) (Language, error) {
	if l, ok := DetermineLanguage(ref); ok {
		return l, nil
	}
	return "", &UndeterminableError{Ref: describe(ref)}
}

func fromID(id string) (Language, bool) {
	id = strings.ToLower(strings.TrimSpace(id))
	if known[Language(id)] {
		return Language(id), true
	}
	l, ok := idToLanguage[id]
	return l, ok
}

func fromPath(p string) (Language, bool) {
	// URIs and paths share the same suffix; drop any query or fragment.
	if i := strings.IndexAny(p, "?#"); i >= 0 {
		p = p[:i]
	}
	ext := strings.ToLower(path.Ext(p))
	if ext == "" {
		return "", false
	}
	if l, ok := scriptLanguage(ext); ok {
		return l, true
	}
	l, ok := extToLanguage[ext]
	return l, ok
}

// scriptLanguage resolves the JavaScript and TypeScript families, where a
// trailing "x" selects the JSX-aware variant.
func scriptLanguage(ext string) (Language, bool) {
	base := strings.TrimSuffix(ext, "x")
	react := base != ext
	switch base {
	case ".js":
		if react {
			return JavaScriptReact, true
		}
		return JavaScript, true
	case ".mjs", ".cjs":
		if react {
			return "", false
		}
		return JavaScript, true
	case ".ts":
		if react {
			return TypeScriptReact, true
		}
		return TypeScript, true
	case ".mts", ".cts":
		if react {
			return "", false
		}
		return TypeScript, true
	}
	return "", false
}
