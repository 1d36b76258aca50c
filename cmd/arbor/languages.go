package main

import (
	"github.com/spf13/cobra"

	"github.com/jward/arbor/internal/grammar"
)

var flagLoad bool

var languagesCmd = &cobra.Command{
	Use:   "languages",
	Short: "List supported languages and their file suffixes",
	Args:  cobra.NoArgs,
	RunE:  runLanguages,
}

func init() {
	languagesCmd.Flags().BoolVar(&flagLoad, "load", false, "load every grammar and report which succeeded")
}

func runLanguages(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	svc := newService()
	defer svc.Close()

	all := grammar.Languages()
	if flagLoad {
		refs := make([]any, len(all))
		for i, l := range all {
			refs[i] = l
		}
		if err := svc.Preload(cmd.Context(), refs...); err != nil {
			svc.Logger().Warn("some grammars failed to load", "error", err)
		}
	}

	loaded := make(map[grammar.Language]bool)
	for _, l := range svc.LoadedLanguages() {
		loaded[l] = true
	}

	langs := make([]CLILanguage, 0, len(all))
	for _, l := range all {
		langs = append(langs, CLILanguage{Language: string(l), Suffixes: grammar.Suffixes(l), Loaded: loaded[l]})
	}
	if err := outputResult(out, CLIResult{Command: "languages", Results: langs}); err != nil {
		return outputError(out, errOut, "languages", err)
	}
	return nil
}
