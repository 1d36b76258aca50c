package main

import (
	"encoding/json"
	"fmt"
	"io"
	"strings"

	"github.com/jedib0t/go-pretty/v6/table"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/runtime"
)

// newTable returns a borderless table writing to w.
func newTable(w io.Writer) table.Writer {
	tbl := table.NewWriter()
	tbl.SetOutputMirror(w)
	tbl.SetStyle(table.StyleLight)
	tbl.Style().Options.SeparateRows = false
	tbl.Style().Options.SeparateColumns = false
	tbl.Style().Options.DrawBorder = false
	tbl.Style().Options.SeparateHeader = false
	return tbl
}

// formatRange renders r as "l:c-l:c".
func formatRange(r protocol.Range) string {
	return fmt.Sprintf("%d:%d-%d:%d", r.Start.Line, r.Start.Character, r.End.Line, r.End.Character)
}

// formatParseText prints the outline of a parsed document.
func formatParseText(w io.Writer, p CLIParse) {
	fmt.Fprintf(w, "%s (%s)", p.File, p.Language)
	if p.HasError {
		fmt.Fprint(w, " [has errors]")
	}
	fmt.Fprintln(w)

	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"NODE", "FIELD", "RANGE"})
	for _, n := range p.Nodes {
		tbl.AppendRow(table.Row{strings.Repeat("  ", n.Depth) + n.Type, n.Field, formatRange(n.Range)})
	}
	tbl.Render()
}

// formatCapturesText prints query captures, one per row.
func formatCapturesText(w io.Writer, caps []CLICapture) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"MATCH", "CAPTURE", "TYPE", "RANGE", "TEXT"})
	for _, c := range caps {
		tbl.AppendRow(table.Row{c.Match, "@" + c.Name, c.Type, formatRange(c.Range), firstLine(c.Text)})
	}
	tbl.AppendFooter(table.Row{fmt.Sprintf("Total: %d captures", len(caps))})
	tbl.Render()
}

// formatSymbolsText prints an outline, one symbol per row.
func formatSymbolsText(w io.Writer, syms []runtime.Symbol) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"KIND", "NAME", "RANGE"})
	for _, s := range syms {
		tbl.AppendRow(table.Row{s.Kind, s.Name, formatRange(s.Range)})
	}
	tbl.Render()
}

// formatLanguagesText prints the language table.
func formatLanguagesText(w io.Writer, langs []CLILanguage) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"LANGUAGE", "SUFFIXES", "LOADED"})
	for _, l := range langs {
		tbl.AppendRow(table.Row{l.Language, strings.Join(l.Suffixes, " "), l.Loaded})
	}
	tbl.Render()
}

// formatManifestText prints a resolved query pack.
func formatManifestText(w io.Writer, m *CLIManifest) {
	tbl := newTable(w)
	tbl.AppendHeader(table.Row{"LANGUAGE", "QUERY", "INHERITS", "DIGEST"})
	for _, l := range m.Languages {
		for _, q := range l.Queries {
			tbl.AppendRow(table.Row{l.Name, q.Name, strings.Join(q.Inherits, ","), q.Digest})
		}
	}
	tbl.Render()
}

// firstLine shortens multi-line capture text for tables.
func firstLine(s string) string {
	if i := strings.IndexByte(s, '\n'); i >= 0 {
		return s[:i] + " …"
	}
	return s
}

// outputResultText dispatches to the text formatter for the result type.
func outputResultText(w io.Writer, result CLIResult) error {
	switch v := result.Results.(type) {
	case CLIParse:
		formatParseText(w, v)
	case []CLICapture:
		formatCapturesText(w, v)
	case []runtime.Symbol:
		formatSymbolsText(w, v)
	case CLIScope:
		fmt.Fprintln(w, v.String())
	case []CLILanguage:
		formatLanguagesText(w, v)
	case *CLIManifest:
		formatManifestText(w, v)
	case CLIFetch:
		fmt.Fprintf(w, "fetched %d query files from %s into %s\n", v.Files, v.URL, v.Dest)
	case CLIEvent:
		fmt.Fprintf(w, "%s %s", v.Event, v.URI)
		if v.Version != 0 {
			fmt.Fprintf(w, " v%d", v.Version)
		}
		if v.HasError {
			fmt.Fprint(w, " [has errors]")
		}
		if v.Error != "" {
			fmt.Fprintf(w, " error: %s", v.Error)
		}
		fmt.Fprintln(w)
	case nil:
	default:
		return fmt.Errorf("unsupported result type for text format: %T", v)
	}
	return nil
}

// outputResult writes result to w in the selected format.
func outputResult(w io.Writer, result CLIResult) error {
	if flagFormat == "text" {
		return outputResultText(w, result)
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(result)
}

// outputError writes an error in the selected format and returns it so RunE
// can propagate it to Cobra. In JSON mode the error goes to w as a
// CLIResult envelope; in text mode it goes to errW.
func outputError(w, errW io.Writer, command string, err error) error {
	errorHandled = true
	if flagFormat == "text" {
		fmt.Fprintf(errW, "Error: %s\n", err)
		return err
	}
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(CLIResult{Command: command, Error: err.Error()})
	return err
}

// validFormats lists accepted values for --format.
var validFormats = []string{"json", "text"}

// validateFormat checks that the --format value is recognized.
func validateFormat(format string) error {
	for _, f := range validFormats {
		if format == f {
			return nil
		}
	}
	return fmt.Errorf("invalid format %q: must be %s", format, strings.Join(validFormats, " or "))
}
