package main

import (
	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor/internal/inspect"
)

var scopeCmd = &cobra.Command{
	Use:   "scope <file> <line> <character>",
	Short: "Print the syntax scopes enclosing a position",
	Long:  "Prints the named nodes enclosing a position, innermost first, with the field each hangs from. All line and character numbers are 0-based.",
	Args:  cobra.ExactArgs(3),
	RunE:  runScope,
}

func runScope(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	doc, err := openDocument(args[0])
	if err != nil {
		return outputError(out, errOut, "scope", err)
	}
	line, err := parseIntArg(args[1], "line")
	if err != nil {
		return outputError(out, errOut, "scope", err)
	}
	char, err := parseIntArg(args[2], "character")
	if err != nil {
		return outputError(out, errOut, "scope", err)
	}

	svc := newService()
	defer svc.Close()

	ins := inspect.New(svc, nil, inspect.WithLogger(svc.Logger()))
	r, err := ins.Inspect(cmd.Context(), doc, protocol.Position{Line: line, Character: char}).Await(cmd.Context())
	if err != nil {
		return outputError(out, errOut, "scope", err)
	}
	return outputResult(out, CLIResult{Command: "scope", Results: CLIScope(r)})
}
