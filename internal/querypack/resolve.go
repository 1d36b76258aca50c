// Package querypack prepares a community query corpus for arbor. The corpus
// holds one directory per language with pattern files such as
// highlights.scm; a file may start with a "; inherits: a,b" line naming the
// languages whose file of the same name it extends. Resolve flattens those
// references into one self-contained file per language and query name.
package querypack

import (
	"bufio"
	"fmt"
	"io/fs"
	"log/slog"
	"os"
	"path"
	"path/filepath"
	"regexp"
	"slices"
	"strconv"
	"strings"

	"github.com/cespare/xxhash/v2"
	"gopkg.in/yaml.v3"
)

// ManifestFile is the name of the manifest Resolve writes.
const ManifestFile = "manifest.yaml"

// Manifest lists what Resolve wrote.
type Manifest struct {
	Source    string          `yaml:"source,omitempty"`
	Languages []LanguageEntry `yaml:"languages"`
}

// LanguageEntry lists the resolved queries of one language.
type LanguageEntry struct {
	Name    string       `yaml:"name"`
	Queries []QueryEntry `yaml:"queries"`
}

// QueryEntry describes one resolved file.
type QueryEntry struct {
	Name     string   `yaml:"name"`
	Inherits []string `yaml:"inherits,omitempty"`
	Digest   string   `yaml:"digest"`
}

var inheritsRe = regexp.MustCompile(`^;+\s*inherits\s*:?\s*(.*)$`)

type parent struct {
	lang     string
	optional bool
}

type resolver struct {
	fsys   fs.FS
	logger *slog.Logger
}

// Option configures Resolve.
type Option func(*resolver)

// WithLogger sets the logger that receives warnings about missing
// languages and cycles.
func WithLogger(l *slog.Logger) Option {
	return func(r *resolver) { r.logger = l }
}

// Resolve reads every <lang>/<name>.scm in fsys, resolves its inherits
// references transitively and writes the result to
// outDir/<lang>/<name>.scm, followed by a manifest. A referenced language
// that does not exist contributes nothing and is logged; so is a cycle.
func Resolve(fsys fs.FS, outDir string, opts ...Option) (*Manifest, error) {
	r := &resolver{fsys: fsys, logger: slog.Default()}
	for _, o := range opts {
		o(r)
	}

	files, err := fs.Glob(fsys, "*/*.scm")
	if err != nil {
		return nil, fmt.Errorf("querypack: list queries: %w", err)
	}
	slices.Sort(files)

	m := &Manifest{}
	for _, f := range files {
		lang, name := path.Dir(f), strings.TrimSuffix(path.Base(f), ".scm")
		content, err := r.resolve(lang, name, nil)
		if err != nil {
			return nil, err
		}
		parents, err := r.parents(lang, name)
		if err != nil {
			return nil, err
		}

		dst := filepath.Join(outDir, lang, name+".scm")
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return nil, fmt.Errorf("querypack: %w", err)
		}
		if err := os.WriteFile(dst, []byte(content), 0o644); err != nil {
			return nil, fmt.Errorf("querypack: write %s: %w", dst, err)
		}

		entry := QueryEntry{Name: name, Digest: strconv.FormatUint(xxhash.Sum64String(content), 16)}
		for _, p := range parents {
			entry.Inherits = append(entry.Inherits, p.lang)
		}
		if n := len(m.Languages); n == 0 || m.Languages[n-1].Name != lang {
			m.Languages = append(m.Languages, LanguageEntry{Name: lang})
		}
		last := &m.Languages[len(m.Languages)-1]
		last.Queries = append(last.Queries, entry)
	}

	if err := WriteManifest(outDir, m); err != nil {
		return nil, err
	}
	r.logger.Info("resolved query pack", "languages", len(m.Languages), "files", len(files), "out", outDir)
	return m, nil
}

// resolve returns the parents' resolved text followed by lang's own text.
// stack holds the languages being resolved above this one.
func (r *resolver) resolve(lang, name string, stack []string) (string, error) {
	own, err := fs.ReadFile(r.fsys, path.Join(lang, name+".scm"))
	if err != nil {
		return "", fmt.Errorf("querypack: read %s/%s.scm: %w", lang, name, err)
	}
	parents, err := r.parents(lang, name)
	if err != nil {
		return "", err
	}

	stack = append(stack, lang)
	var b strings.Builder
	for _, p := range parents {
		if slices.Contains(stack, p.lang) {
			r.logger.Warn("inherits cycle", "query", name, "chain", strings.Join(append(slices.Clone(stack), p.lang), " -> "))
			continue
		}
		if _, err := fs.Stat(r.fsys, path.Join(p.lang, name+".scm")); err != nil {
			if !p.optional {
				r.logger.Warn("inherited language missing", "language", lang, "inherits", p.lang, "query", name)
			}
			continue
		}
		s, err := r.resolve(p.lang, name, stack)
		if err != nil {
			return "", err
		}
		b.WriteString(s)
		if s != "" && !strings.HasSuffix(s, "\n") {
			b.WriteByte('\n')
		}
	}
	b.Write(own)

	return b.String(), nil
}

// parents reads the inherits line of lang/name.scm. Names in parentheses
// are optional: they are used when present and not missed otherwise.
func (r *resolver) parents(lang, name string) ([]parent, error) {
	f, err := r.fsys.Open(path.Join(lang, name+".scm"))
	if err != nil {
		return nil, fmt.Errorf("querypack: open %s/%s.scm: %w", lang, name, err)
	}
	defer f.Close()

	var out []parent
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		line := strings.TrimSpace(sc.Text())
		if line == "" {
			continue
		}
		if !strings.HasPrefix(line, ";") {
			break
		}
		m := inheritsRe.FindStringSubmatch(line)
		if m == nil {
			continue
		}
		for _, raw := range strings.Split(m[1], ",") {
			raw = strings.TrimSpace(raw)
			if raw == "" {
				continue
			}
			p := parent{lang: raw}
			if strings.HasPrefix(raw, "(") && strings.HasSuffix(raw, ")") {
				p = parent{lang: strings.TrimSpace(raw[1 : len(raw)-1]), optional: true}
			}
			out = append(out, p)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("querypack: scan %s/%s.scm: %w", lang, name, err)
	}
	return out, nil
}

// WriteManifest writes m to dir/manifest.yaml.
func WriteManifest(dir string, m *Manifest) error {
	data, err := yaml.Marshal(m)
	if err != nil {
		return fmt.Errorf("querypack: encode manifest: %w", err)
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return fmt.Errorf("querypack: %w", err)
	}
	if err := os.WriteFile(filepath.Join(dir, ManifestFile), data, 0o644); err != nil {
		return fmt.Errorf("querypack: write manifest: %w", err)
	}
	return nil
}

// ReadManifest reads dir/manifest.yaml.
func ReadManifest(dir string) (*Manifest, error) {
	data, err := os.ReadFile(filepath.Join(dir, ManifestFile))
	if err != nil {
		return nil, fmt.Errorf("querypack: read manifest: %w", err)
	}
	var m Manifest
	if err := yaml.Unmarshal(data, &m); err != nil {
		return nil, fmt.Errorf("querypack: decode manifest: %w", err)
	}
	return &m, nil
}
