// Package cli provides the command-line interface for moviechat.
package cli

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"time"

	"github.com/raphaelgruber/moviechat/internal/app"
	"github.com/raphaelgruber/moviechat/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose bool

	// Loaded once per invocation. cfgErr is only reported by commands
	// that need the local stack.
	cfg         config.Config
	cfgErr      error
	logger      *slog.Logger
	closeLogger func() error
	chatApp     *app.App
)

// buildTimeout bounds connecting to the store and providers.
const buildTimeout = 30 * time.Second

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "moviechat",
	Short: "Chat about movies from the IMDB top 1000",
	Long: `moviechat answers questions about films from an IMDB movie dataset.

Movies are ingested from CSV into a vector store (Qdrant, SurrealDB or an
embedded chromem database). Questions are answered by a language model that
searches the store, in Indonesian or English depending on the question.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg, cfgErr = config.Load()

		// Logs go to the log file; the console only gets them with -v so
		// they do not interleave with answers.
		console := io.Discard
		level := cfg.LogLevel
		if verbose {
			console = os.Stderr
			level = slog.LevelDebug
		}
		logger, closeLogger = config.SetupLogger(console, cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if chatApp != nil {
			if err := chatApp.Close(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close store: %v\n", err)
			}
		}
		if closeLogger != nil {
			_ = closeLogger()
		}
	},
}

// getApp builds the local stack on first use. Configuration errors surface
// here, so remote-only commands work without provider credentials.
func getApp(ctx context.Context) (*app.App, error) {
	if chatApp != nil {
		return chatApp, nil
	}
	if cfgErr != nil {
		return nil, cfgErr
	}

	ctx, cancel := context.WithTimeout(ctx, buildTimeout)
	defer cancel()

	a, err := app.Build(ctx, cfg, logger)
	if err != nil {
		return nil, fmt.Errorf("init: %w", err)
	}
	chatApp = a
	return a, nil
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")

	rootCmd.AddCommand(ingestCmd)
	rootCmd.AddCommand(searchCmd)
	rootCmd.AddCommand(askCmd)
	rootCmd.AddCommand(chatCmd)
	rootCmd.AddCommand(collectionCmd)
	rootCmd.AddCommand(statsCmd)
}
