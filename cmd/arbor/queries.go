package main

import (
	"net/http"
	"os"
	"time"

	"github.com/spf13/cobra"

	"github.com/jward/arbor/internal/querypack"
)

var queriesCmd = &cobra.Command{
	Use:   "queries",
	Short: "Prepare community query packs",
	Long:  "Downloads query packs and resolves their inherits lines into self-contained files for query --pack.",
}

var queriesResolveCmd = &cobra.Command{
	Use:   "resolve <source-dir> <out-dir>",
	Short: "Resolve inherits lines into self-contained query files",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueriesResolve,
}

var flagFetchTimeout time.Duration

var queriesFetchCmd = &cobra.Command{
	Use:   "fetch <url> <dest-dir>",
	Short: "Download a .tar.gz query pack and extract its queries directory",
	Args:  cobra.ExactArgs(2),
	RunE:  runQueriesFetch,
}

func init() {
	queriesFetchCmd.Flags().DurationVar(&flagFetchTimeout, "http-timeout", time.Minute, "timeout for the download")

	queriesCmd.AddCommand(queriesResolveCmd)
	queriesCmd.AddCommand(queriesFetchCmd)
}

func runQueriesResolve(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	m, err := querypack.Resolve(os.DirFS(args[0]), args[1], querypack.WithLogger(newLogger()))
	if err != nil {
		return outputError(out, errOut, "queries resolve", err)
	}
	m.Source = args[0]
	if err := querypack.WriteManifest(args[1], m); err != nil {
		return outputError(out, errOut, "queries resolve", err)
	}
	return outputResult(out, CLIResult{Command: "queries resolve", Results: m})
}

func runQueriesFetch(cmd *cobra.Command, args []string) error {
	out, errOut := cmd.OutOrStdout(), cmd.ErrOrStderr()

	client := &http.Client{Timeout: flagFetchTimeout}
	n, err := querypack.Fetch(cmd.Context(), client, args[0], args[1])
	if err != nil {
		return outputError(out, errOut, "queries fetch", err)
	}
	return outputResult(out, CLIResult{Command: "queries fetch", Results: CLIFetch{URL: args[0], Dest: args[1], Files: n}})
}
