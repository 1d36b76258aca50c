package main

import (
	"fmt"
	"os"

	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"
	"go.lsp.dev/uri"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/host"
)

var (
	flagLanguage string
	flagDepth    int
	flagSExpr    bool
)

var parseCmd = &cobra.Command{
	Use:   "parse <file>",
	Short: "Parse a file and print its outline",
	Long:  "Parses a file with tree-sitter and prints its named nodes down to --depth. All line and character numbers are 0-based.",
	Args:  cobra.ExactArgs(1),
	RunE:  runParse,
}

func init() {
	parseCmd.Flags().StringVar(&flagLanguage, "language", "", "language override (default: from the file suffix)")
	parseCmd.Flags().IntVar(&flagDepth, "depth", 2, "deepest outline level to print; negative prints every level")
	parseCmd.Flags().BoolVar(&flagSExpr, "sexp", false, "include the tree as an S-expression")
}

// openDocument reads file into a host document.
func openDocument(file string) (*host.TextDocument, error) {
	abs, err := resolveFilePath(file)
	if err != nil {
		return nil, err
	}
	data, err := os.ReadFile(abs)
	if err != nil {
		return nil, fmt.Errorf("reading %s: %w", file, err)
	}
	return host.NewTextDocument(protocol.TextDocumentItem{
		URI:     protocol.DocumentURI(uri.File(abs)),
		Version: 1,
		Text:    string(data),
	}), nil
}

func runParse(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	doc, err := openDocument(args[0])
	if err != nil {
		return outputError(out, errOut, "parse", err)
	}

	svc := newService()
	defer svc.Close()

	var result CLIParse
	err = svc.WithDocumentTree(cmd.Context(), doc, treeOptions(flagLanguage), func(t *arbor.Tree) error {
		root := t.RootNode()
		result = CLIParse{
			File:     args[0],
			Language: string(t.Language()),
			HasError: root.HasError(),
			Nodes:    outline(t, flagDepth),
		}
		if flagSExpr {
			result.Tree = t.String()
		}
		return nil
	})
	if err != nil {
		return outputError(out, errOut, "parse", err)
	}
	return outputResult(out, CLIResult{Command: "parse", Results: result})
}

// outline lists the named nodes of t down to maxDepth, counting only named
// levels.
func outline(t *arbor.Tree, maxDepth int) []CLINode {
	nodes := []CLINode{}
	var levels []int // named depth of the nodes on the current path
	_ = t.Walk(func(n arbor.Node, depth int) bool {
		levels = levels[:depth]
		named := 0
		if depth > 0 {
			named = levels[depth-1]
		}
		if n.IsNamed() {
			if maxDepth >= 0 && named > maxDepth {
				return false
			}
			nodes = append(nodes, CLINode{Type: n.Type(), Field: n.FieldName(), Depth: named, Range: n.Range()})
			named++
		}
		levels = append(levels, named)
		return true
	})
	return nodes
}
