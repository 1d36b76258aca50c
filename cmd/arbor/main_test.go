package main

import (
	"bytes"
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/runtime"
)

const goSource = `package main

func Greet() string {
	return "hi"
}

func Add(a, b int) int {
	return a + b
}
`

// resetFlags restores every flag of cmd and its subcommands to its default
// so that tests sharing rootCmd do not see each other's flags.
func resetFlags(cmd *cobra.Command) {
	for _, set := range []*pflag.FlagSet{cmd.PersistentFlags(), cmd.Flags()} {
		set.VisitAll(func(f *pflag.Flag) {
			_ = f.Value.Set(f.DefValue)
			f.Changed = false
		})
	}
	for _, sub := range cmd.Commands() {
		resetFlags(sub)
	}
}

// execute runs the CLI with args and returns what it wrote to stdout.
func execute(t *testing.T, args ...string) (string, error) {
	t.Helper()
	resetFlags(rootCmd)
	var out, errOut bytes.Buffer
	rootCmd.SetOut(&out)
	rootCmd.SetErr(&errOut)
	rootCmd.SetArgs(args)
	err := rootCmd.ExecuteContext(context.Background())
	return out.String(), err
}

// decode unmarshals the results of a JSON envelope into v.
func decode(t *testing.T, out string, v any) CLIResult {
	t.Helper()
	var env struct {
		Command string          `json:"command"`
		Results json.RawMessage `json:"results"`
		Error   string          `json:"error"`
	}
	require.NoError(t, json.Unmarshal([]byte(out), &env), out)
	if v != nil {
		require.NoError(t, json.Unmarshal(env.Results, v))
	}
	return CLIResult{Command: env.Command, Error: env.Error}
}

func writeFile(t *testing.T, dir, name, content string) string {
	t.Helper()
	path := filepath.Join(dir, name)
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, []byte(content), 0o644))
	return path
}

func TestValidateFormat(t *testing.T) {
	t.Parallel()
	assert.NoError(t, validateFormat("json"))
	assert.NoError(t, validateFormat("text"))
	assert.ErrorContains(t, validateFormat("yaml"), "json or text")
}

func TestParsePosition(t *testing.T) {
	t.Parallel()

	p, err := parsePosition("3:14")
	require.NoError(t, err)
	assert.Equal(t, protocol.Position{Line: 3, Character: 14}, p)

	for _, bad := range []string{"3", "a:1", "1:-2", ""} {
		_, err := parsePosition(bad)
		assert.Error(t, err, bad)
	}
}

func TestLoadConfig(t *testing.T) {
	dir := t.TempDir()
	t.Chdir(dir)

	t.Run("defaults", func(t *testing.T) {
		resetFlags(rootCmd)
		c, err := loadConfig("", parseCmd)
		require.NoError(t, err)
		assert.Equal(t, "json", c.Format)
		assert.Equal(t, 5*time.Minute, c.StaleAfter)
		assert.Equal(t, time.Minute, c.SweepInterval)
		assert.Zero(t, c.Timeout)
	})

	t.Run("file then env then flag", func(t *testing.T) {
		resetFlags(rootCmd)
		path := writeFile(t, dir, "custom.yaml", "format: text\ntimeout: 2s\nstale_after: 1m\nqueries: /q\n")
		t.Setenv("ARBOR_TIMEOUT", "3s")
		require.NoError(t, rootCmd.PersistentFlags().Set("stale-after", "30s"))

		c, err := loadConfig(path, parseCmd)
		require.NoError(t, err)
		assert.Equal(t, "text", c.Format)
		assert.Equal(t, 3*time.Second, c.Timeout)
		assert.Equal(t, 30*time.Second, c.StaleAfter)
		assert.Equal(t, "/q", c.Queries)
	})

	t.Run("dotfile in working directory", func(t *testing.T) {
		resetFlags(rootCmd)
		writeFile(t, dir, ".arbor.yaml", "log_level: debug\n")
		c, err := loadConfig("", parseCmd)
		require.NoError(t, err)
		assert.Equal(t, "debug", c.LogLevel)
		require.NoError(t, os.Remove(filepath.Join(dir, ".arbor.yaml")))
	})

	t.Run("invalid", func(t *testing.T) {
		resetFlags(rootCmd)
		path := writeFile(t, dir, "bad.yaml", "log_level: loud\n")
		_, err := loadConfig(path, parseCmd)
		assert.ErrorContains(t, err, "log_level")
	})
}

func TestParseCommand(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	out, err := execute(t, "parse", file, "--depth", "1")
	require.NoError(t, err)

	var p CLIParse
	env := decode(t, out, &p)
	assert.Equal(t, "parse", env.Command)
	assert.Equal(t, "go", p.Language)
	assert.False(t, p.HasError)
	require.NotEmpty(t, p.Nodes)
	assert.Equal(t, "source_file", p.Nodes[0].Type)
	assert.Equal(t, 0, p.Nodes[0].Depth)
	assert.Equal(t, protocol.Position{}, p.Nodes[0].Range.Start)

	var funcs int
	for _, n := range p.Nodes {
		assert.LessOrEqual(t, n.Depth, 1)
		if n.Type == "function_declaration" {
			funcs++
		}
	}
	assert.Equal(t, 2, funcs)
}

func TestParseCommand_Text(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	out, err := execute(t, "parse", file, "--format", "text", "--sexp")
	require.NoError(t, err)
	assert.Contains(t, out, "(go)")
	assert.Contains(t, out, "function_declaration")
	assert.Contains(t, out, "2:5-2:10")
}

func TestParseCommand_UnknownLanguage(t *testing.T) {
	file := writeFile(t, t.TempDir(), "notes.txt", "hello")

	out, err := execute(t, "parse", file)
	require.Error(t, err)
	env := decode(t, out, nil)
	assert.Contains(t, env.Error, "notes.txt")
}

func TestQueryCommand(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	out, err := execute(t, "query", file, "(function_declaration name: (identifier) @name)")
	require.NoError(t, err)

	var caps []CLICapture
	decode(t, out, &caps)
	require.Len(t, caps, 2)
	assert.Equal(t, "Greet", caps[0].Text)
	assert.Equal(t, "Add", caps[1].Text)
	assert.Equal(t, 1, caps[1].Match)
	assert.Equal(t, protocol.Range{
		Start: protocol.Position{Line: 2, Character: 5},
		End:   protocol.Position{Line: 2, Character: 10},
	}, caps[0].Range)
}

func TestQueryCommand_Window(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	out, err := execute(t, "query", file, "(function_declaration name: (identifier) @name)", "--start", "5:0")
	require.NoError(t, err)

	var caps []CLICapture
	decode(t, out, &caps)
	require.Len(t, caps, 1)
	assert.Equal(t, "Add", caps[0].Text)
}

func TestQueryCommand_Pack(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "main.go", goSource)
	queries := filepath.Join(dir, "queries")
	writeFile(t, queries, "go/names.scm", "(function_declaration name: (identifier) @fn)\n")

	out, err := execute(t, "query", file, "--pack", "names", "--queries", queries, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "@fn")
	assert.Contains(t, out, "Greet")
	assert.Contains(t, out, "Total: 2 captures")
}

func TestQueryCommand_Errors(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	_, err := execute(t, "query", file, "(x) @x", "--pack", "names")
	assert.ErrorContains(t, err, "not both")

	_, err = execute(t, "query", file, "--pack", "names")
	assert.ErrorContains(t, err, "query directory")

	out, err := execute(t, "query", file, "(not_a_node) @x")
	require.Error(t, err)
	env := decode(t, out, nil)
	assert.Equal(t, "query", env.Command)
	assert.NotEmpty(t, env.Error)
}

func TestScopeCommand(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	out, err := execute(t, "scope", file, "2", "6")
	require.NoError(t, err)

	var r CLIScope
	decode(t, out, &r)
	require.GreaterOrEqual(t, len(r.Scopes), 3)
	assert.Equal(t, "identifier", r.Scopes[0].Type)
	assert.Equal(t, "name", r.Scopes[0].Field)
	assert.Equal(t, "function_declaration", r.Scopes[1].Type)
	assert.Equal(t, "source_file", r.Scopes[len(r.Scopes)-1].Type)

	out, err = execute(t, "scope", file, "2", "6", "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "name:identifier < function_declaration")
}

func TestOutlineCommand(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.go", goSource)

	out, err := execute(t, "outline", file)
	require.NoError(t, err)

	var syms []runtime.Symbol
	decode(t, out, &syms)
	require.Len(t, syms, 2)
	assert.Equal(t, "function", syms[0].Kind)
	assert.Equal(t, "Greet", syms[0].Name)
	assert.Equal(t, uint32(2), syms[0].SelectionRange.Start.Line)
	assert.Equal(t, "Add", syms[1].Name)

	out, err = execute(t, "outline", file, "--format", "text")
	require.NoError(t, err)
	assert.Contains(t, out, "KIND")
	assert.Contains(t, out, "Greet")
	assert.Contains(t, out, "2:0-4:1")
}

func TestOutlineCommand_NoScript(t *testing.T) {
	file := writeFile(t, t.TempDir(), "main.c", "int main() { return 0; }\n")

	out, err := execute(t, "outline", file)
	require.Error(t, err)
	assert.Contains(t, out, "outline/c.risor")
}

func TestScriptCommand(t *testing.T) {
	dir := t.TempDir()
	file := writeFile(t, dir, "main.go", goSource)
	script := writeFile(t, dir, "count.risor", `
root := parse(args[0]).RootNode()
names := query("(function_declaration name: (identifier) @n)", root)
assert(len(names) == 2, 'got {len(names)}')
assert(node_text(names[1]["n"]) == "Add")
`)

	_, err := execute(t, "script", script, file)
	require.NoError(t, err)

	failing := writeFile(t, dir, "fail.risor", `assert(false, "boom")`)
	_, err = execute(t, "script", failing)
	assert.ErrorContains(t, err, "boom")
}

func TestQueriesResolveCommand(t *testing.T) {
	src := t.TempDir()
	writeFile(t, src, "ecma/highlights.scm", "(identifier) @variable\n")
	writeFile(t, src, "javascript/highlights.scm", "; inherits: ecma\n(regex) @string.regex\n")
	out := t.TempDir()

	stdout, err := execute(t, "queries", "resolve", src, out)
	require.NoError(t, err)

	var m CLIManifest
	decode(t, stdout, &m)
	assert.Equal(t, src, m.Source)
	require.Len(t, m.Languages, 2)
	assert.Equal(t, []string{"ecma"}, m.Languages[1].Queries[0].Inherits)

	data, err := os.ReadFile(filepath.Join(out, "javascript", "highlights.scm"))
	require.NoError(t, err)
	assert.Equal(t, "(identifier) @variable\n; inherits: ecma\n(regex) @string.regex\n", string(data))
}

func TestLanguagesCommand(t *testing.T) {
	out, err := execute(t, "languages", "--load")
	require.NoError(t, err)

	var langs []CLILanguage
	decode(t, out, &langs)
	require.NotEmpty(t, langs)

	byName := make(map[string]CLILanguage)
	for _, l := range langs {
		byName[l.Language] = l
	}
	assert.Equal(t, []string{".go"}, byName["go"].Suffixes)
	assert.True(t, byName["go"].Loaded)
	assert.Contains(t, byName["typescriptreact"].Suffixes, ".tsx")
}

func TestInvalidFormatFlag(t *testing.T) {
	_, err := execute(t, "languages", "--format", "yaml")
	assert.ErrorContains(t, err, "invalid format")
}
