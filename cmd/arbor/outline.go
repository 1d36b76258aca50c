package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"github.com/jward/arbor"
	"github.com/jward/arbor/internal/runtime"
	"github.com/jward/arbor/scripts"
)

var outlineCmd = &cobra.Command{
	Use:   "outline <file>",
	Short: "List the declarations in a file",
	Long: "Runs the built-in outline script for the file's language and prints the symbols it finds " +
		"in document order. All line and character numbers are 0-based.",
	Args: cobra.ExactArgs(1),
	RunE: runOutline,
}

func init() {
	outlineCmd.Flags().StringVar(&flagLanguage, "language", "", "language override (default: from the file suffix)")
}

func runOutline(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	path, err := resolveFilePath(args[0])
	if err != nil {
		return outputError(out, errOut, "outline", err)
	}

	svc := newService()
	defer svc.Close()

	lang := arbor.Language(flagLanguage)
	if lang == "" {
		if lang, err = svc.DetermineLanguageOrFail(path); err != nil {
			return outputError(out, errOut, "outline", err)
		}
	}

	rt := runtime.NewRuntime(svc, "", runtime.WithRuntimeFS(scripts.FS), runtime.WithRuntimeLogger(svc.Logger()))
	syms, err := rt.Outline(cmd.Context(), path, lang)
	if err != nil {
		return outputError(out, errOut, "outline", fmt.Errorf("outline %s: %w", args[0], err))
	}
	if syms == nil {
		syms = []runtime.Symbol{}
	}
	return outputResult(out, CLIResult{Command: "outline", Results: syms})
}
