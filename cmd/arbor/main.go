package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"strings"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"go.lsp.dev/protocol"

	"github.com/jward/arbor"
)

var (
	flagConfig     string
	flagFormat     string
	flagTimeout    time.Duration
	flagStaleAfter time.Duration
	flagLogLevel   string
	flagQueries    string
)

// cfg is loaded before every command runs.
var cfg *Config

// errorHandled is set by outputError so main() doesn't double-print.
var errorHandled bool

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	err := rootCmd.ExecuteContext(ctx)
	stop()
	if err != nil {
		if !errorHandled {
			fmt.Fprintf(os.Stderr, "Error: %s\n", err)
		}
		os.Exit(1)
	}
}

var rootCmd = &cobra.Command{
	Use:           "arbor",
	Short:         "On-demand tree-sitter syntax trees for text documents",
	Long:          "Arbor parses documents with tree-sitter, caches their trees across edits, and runs pattern queries and scripts over them.",
	SilenceErrors: true,
	SilenceUsage:  true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		c, err := loadConfig(flagConfig, cmd)
		if err != nil {
			return err
		}
		cfg = c
		flagFormat = c.Format
		return nil
	},
	// No Run; prints help by default.
}

func init() {
	pf := rootCmd.PersistentFlags()
	pf.StringVar(&flagConfig, "config", "", "config file (default: .arbor.yaml in the working or home directory)")
	pf.StringVar(&flagFormat, "format", "json", "output format: json|text")
	pf.DurationVar(&flagTimeout, "timeout", 0, "budget for each tree request; 0 means none")
	pf.DurationVar(&flagStaleAfter, "stale-after", arbor.DefaultStaleAfter, "evict cached trees that stay dirty this long")
	pf.StringVar(&flagLogLevel, "log-level", "warn", "log level: debug|info|warn|error")
	pf.StringVar(&flagQueries, "queries", "", "directory of resolved query files")

	rootCmd.AddCommand(parseCmd)
	rootCmd.AddCommand(queryCmd)
	rootCmd.AddCommand(scopeCmd)
	rootCmd.AddCommand(scriptCmd)
	rootCmd.AddCommand(outlineCmd)
	rootCmd.AddCommand(watchCmd)
	rootCmd.AddCommand(queriesCmd)
	rootCmd.AddCommand(languagesCmd)
}

// newLogger builds the stderr logger for cfg's level.
func newLogger() *slog.Logger {
	var lvl slog.Level
	_ = lvl.UnmarshalText([]byte(cfg.LogLevel))
	return slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))
}

// newService creates the Service a command runs against.
func newService() *arbor.Service {
	return arbor.New(
		arbor.WithLogger(newLogger()),
		arbor.WithStaleAfter(cfg.StaleAfter),
	)
}

// treeOptions returns the request options every command uses.
func treeOptions(language string) arbor.Options {
	return arbor.Options{Language: arbor.Language(language), Timeout: cfg.Timeout}
}

// resolveFilePath converts a file argument to an absolute path.
func resolveFilePath(file string) (string, error) {
	if filepath.IsAbs(file) {
		return file, nil
	}
	abs, err := filepath.Abs(file)
	if err != nil {
		return "", fmt.Errorf("resolving file path %q: %w", file, err)
	}
	return abs, nil
}

// parseIntArg parses a positional argument as a non-negative integer.
func parseIntArg(value, name string) (uint32, error) {
	n, err := strconv.Atoi(value)
	if err != nil {
		return 0, fmt.Errorf("invalid %s %q: must be a non-negative integer", name, value)
	}
	if n < 0 {
		return 0, fmt.Errorf("invalid %s %q: must be non-negative", name, value)
	}
	return uint32(n), nil
}

// parsePosition parses "line:character", both 0-based.
func parsePosition(s string) (protocol.Position, error) {
	line, char, ok := strings.Cut(s, ":")
	if !ok {
		return protocol.Position{}, fmt.Errorf("invalid position %q: want line:character", s)
	}
	l, err := parseIntArg(line, "line")
	if err != nil {
		return protocol.Position{}, err
	}
	c, err := parseIntArg(char, "character")
	if err != nil {
		return protocol.Position{}, err
	}
	return protocol.Position{Line: l, Character: c}, nil
}
