package main

import (
	"errors"
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/querypack"
)

var (
	flagPack  string
	flagStart string
	flagEnd   string
)

var queryCmd = &cobra.Command{
	Use:   "query <file> [pattern]",
	Short: "Run a tree-sitter query against a file",
	Long: "Runs a pattern query against a file and prints its captures in document order. " +
		"The pattern comes from the argument or, with --pack, from the resolved query directory. " +
		"All line and character numbers are 0-based.",
	Args: cobra.RangeArgs(1, 2),
	RunE: runQuery,
}

func init() {
	queryCmd.Flags().StringVar(&flagLanguage, "language", "", "language override (default: from the file suffix)")
	queryCmd.Flags().StringVar(&flagPack, "pack", "", "name of a resolved query file to run, e.g. highlights")
	queryCmd.Flags().StringVar(&flagStart, "start", "", "only captures ending after line:character")
	queryCmd.Flags().StringVar(&flagEnd, "end", "", "only captures starting before line:character")
}

// querySource returns the pattern source for the command line.
func querySource(args []string, lang arbor.Language) (string, error) {
	switch {
	case len(args) == 2 && flagPack != "":
		return "", errors.New("give either a pattern or --pack, not both")
	case len(args) == 2:
		return args[1], nil
	case flagPack != "":
		if cfg.Queries == "" {
			return "", errors.New("--pack needs a query directory (--queries or the queries config key)")
		}
		return querypack.Load(cfg.Queries, lang, flagPack)
	}
	return "", errors.New("missing pattern")
}

// windowOptions converts --start and --end.
func windowOptions() ([]arbor.ExecOption, error) {
	var opts []arbor.ExecOption
	if flagStart != "" {
		p, err := parsePosition(flagStart)
		if err != nil {
			return nil, err
		}
		opts = append(opts, arbor.WithStart(p))
	}
	if flagEnd != "" {
		p, err := parsePosition(flagEnd)
		if err != nil {
			return nil, err
		}
		opts = append(opts, arbor.WithEnd(p))
	}
	return opts, nil
}

func runQuery(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()
	ctx := cmd.Context()

	doc, err := openDocument(args[0])
	if err != nil {
		return outputError(out, errOut, "query", err)
	}
	window, err := windowOptions()
	if err != nil {
		return outputError(out, errOut, "query", err)
	}

	svc := newService()
	defer svc.Close()

	lang := arbor.Language(flagLanguage)
	if lang == "" {
		if lang, err = svc.DetermineLanguageOrFail(doc); err != nil {
			return outputError(out, errOut, "query", err)
		}
	}
	source, err := querySource(args, lang)
	if err != nil {
		return outputError(out, errOut, "query", err)
	}

	caps := []CLICapture{}
	err = svc.WithQuery(ctx, lang, source, func(q *arbor.Query) error {
		return svc.WithDocumentTree(ctx, doc, treeOptions(string(lang)), func(t *arbor.Tree) error {
			matches, err := q.Matches(t.RootNode(), window...)
			if err != nil {
				return err
			}
			for i, m := range matches {
				for _, c := range m.Captures {
					caps = append(caps, CLICapture{
						Name:    c.Name,
						Pattern: c.Pattern,
						Match:   i,
						Type:    c.Node.Type(),
						Text:    c.Node.Text(),
						Range:   c.Node.Range(),
					})
				}
			}
			return nil
		})
	})
	if err != nil {
		return outputError(out, errOut, "query", fmt.Errorf("query %s: %w", args[0], err))
	}
	return outputResult(out, CLIResult{Command: "query", Results: caps})
}
