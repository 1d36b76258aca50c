package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/jward/arbor/internal/runtime"
)

var scriptCmd = &cobra.Command{
	Use:   "script <file.risor> [args...]",
	Short: "Run a Risor script with tree-sitter host functions",
	Long: "Runs a Risor script. Scripts see parse, parse_src, query, node_text, node_child, " +
		"node_field, node_range, emit and log, plus the remaining arguments as the list args. " +
		"Imports resolve next to the script.",
	Args: cobra.MinimumNArgs(1),
	RunE: runScript,
}

func runScript(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	path, err := resolveFilePath(args[0])
	if err != nil {
		return outputError(out, errOut, "script", err)
	}

	svc := newService()
	defer svc.Close()

	scriptArgs := make([]any, 0, len(args)-1)
	for _, a := range args[1:] {
		scriptArgs = append(scriptArgs, a)
	}

	rt := runtime.NewRuntime(svc, filepath.Dir(path), runtime.WithRuntimeLogger(svc.Logger()))
	if err := rt.RunScript(cmd.Context(), path, map[string]any{"args": scriptArgs}); err != nil {
		return outputError(out, errOut, "script", fmt.Errorf("running %s: %w", args[0], err))
	}
	return nil
}
