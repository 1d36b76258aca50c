package querypack

import (
	"archive/tar"
	"compress/gzip"
	"context"
	"errors"
	"fmt"
	"io"
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"

	"github.com/jward/arbor/internal/grammar"
)

// maxFileSize bounds a single extracted query file.
const maxFileSize = 8 << 20

// Fetch downloads the .tar.gz archive at url and extracts every
// queries/<lang>/<name>.scm it contains into dest/<lang>/<name>.scm. The
// archive's leading directories before "queries" are dropped.
func Fetch(ctx context.Context, client *http.Client, url, dest string) (int, error) {
	if client == nil {
		client = http.DefaultClient
	}
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, url, nil)
	if err != nil {
		return 0, fmt.Errorf("querypack: %w", err)
	}
	resp, err := client.Do(req)
	if err != nil {
		return 0, fmt.Errorf("querypack: fetch %s: %w", url, err)
	}
	defer resp.Body.Close()
	if resp.StatusCode != http.StatusOK {
		return 0, fmt.Errorf("querypack: fetch %s: %s", url, resp.Status)
	}
	return Extract(resp.Body, dest)
}

// Extract reads a gzipped tar stream and writes its query files to dest.
// It returns how many files it wrote.
func Extract(r io.Reader, dest string) (int, error) {
	gz, err := gzip.NewReader(r)
	if err != nil {
		return 0, fmt.Errorf("querypack: open archive: %w", err)
	}
	defer gz.Close()

	n := 0
	tr := tar.NewReader(gz)
	for {
		hdr, err := tr.Next()
		if errors.Is(err, io.EOF) {
			return n, nil
		}
		if err != nil {
			return n, fmt.Errorf("querypack: read archive: %w", err)
		}
		if hdr.Typeflag != tar.TypeReg {
			continue
		}
		rel, ok := queryPath(hdr.Name)
		if !ok {
			continue
		}
		if hdr.Size > maxFileSize {
			return n, fmt.Errorf("querypack: %s is too large (%d bytes)", hdr.Name, hdr.Size)
		}

		dst := filepath.Join(dest, filepath.FromSlash(rel))
		if err := os.MkdirAll(filepath.Dir(dst), 0o755); err != nil {
			return n, fmt.Errorf("querypack: %w", err)
		}
		f, err := os.Create(dst)
		if err != nil {
			return n, fmt.Errorf("querypack: %w", err)
		}
		_, err = io.Copy(f, io.LimitReader(tr, maxFileSize))
		if cerr := f.Close(); err == nil {
			err = cerr
		}
		if err != nil {
			return n, fmt.Errorf("querypack: write %s: %w", dst, err)
		}
		n++
	}
}

// queryPath maps an archive member to "<lang>/<name>.scm" when it lies
// directly under a queries directory.
func queryPath(name string) (string, bool) {
	parts := strings.Split(path.Clean(name), "/")
	for i, p := range parts {
		if p != "queries" || len(parts)-i != 3 {
			continue
		}
		lang, file := parts[i+1], parts[i+2]
		if lang == ".." || lang == "." || !strings.HasSuffix(file, ".scm") {
			return "", false
		}
		return lang + "/" + file, true
	}
	return "", false
}

// packNames maps arbor languages to the directory names community packs
// use when they differ.
var packNames = map[grammar.Language]string{
	grammar.JavaScriptReact: "javascript",
	grammar.TypeScriptReact: "tsx",
}

// Load reads the resolved query name for lang from dir.
func Load(dir string, lang grammar.Language, name string) (string, error) {
	pack, ok := packNames[lang]
	if !ok {
		pack = string(lang)
	}
	data, err := os.ReadFile(filepath.Join(dir, pack, name+".scm"))
	if err != nil {
		return "", fmt.Errorf("querypack: load %s %s: %w", lang, name, err)
	}
	return string(data), nil
}
