// Package cli provides the command-line interface for the movie recommender.
package cli

import (
	"context"
	"fmt"
	"log/slog"
	"os"

	"github.com/raphaelgruber/movie-recommender/internal/app"
	"github.com/raphaelgruber/movie-recommender/internal/client"
	"github.com/raphaelgruber/movie-recommender/internal/config"
	"github.com/spf13/cobra"
)

var (
	// Version is set at build time.
	Version = "0.1.0"

	// Global flags
	verbose   bool
	serverURL string

	// Global config, set up before every command
	cfg        config.Config
	logger     *slog.Logger
	closeLog   func() error
	localApp   *app.App
	activeConn backend
)

// rootCmd represents the base command when called without any subcommands.
var rootCmd = &cobra.Command{
	Use:   "movierec",
	Short: "Semantic movie recommendations from free-text queries",
	Long: `movierec recommends catalog movies whose overview is semantically
closest to a free-text query, using one of several configured embedding models.

Commands run in-process against the local catalog and model configuration by
default. Pass --server (or set MOVIEREC_SERVER_URL) to talk to a running
movierec-server instead.`,
	Version:       Version,
	SilenceUsage:  true,
	SilenceErrors: true,
	PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
		cfg = config.Load()
		if serverURL == "" {
			serverURL = cfg.ServerURL
		}

		level := cfg.LogLevel
		if verbose {
			level = slog.LevelDebug
		}
		logger, closeLog = config.SetupLogger(cfg.LogFile, level)
		slog.SetDefault(logger)
		return nil
	},
	PersistentPostRun: func(cmd *cobra.Command, args []string) {
		if localApp != nil {
			localApp.Close()
		}
		if closeLog != nil {
			if err := closeLog(); err != nil {
				fmt.Fprintf(os.Stderr, "Warning: failed to close log file: %v\n", err)
			}
		}
	},
}

// getBackend returns the remote client when a server URL is configured and
// the in-process recommender otherwise. The in-process app is built lazily so
// commands that fail flag validation never load configuration.
func getBackend(ctx context.Context) (backend, error) {
	if activeConn != nil {
		return activeConn, nil
	}
	if serverURL != "" {
		activeConn = client.New(serverURL, cfg.ClientTimeout)
		return activeConn, nil
	}

	a, err := app.New(ctx, cfg, logger, app.Options{})
	if err != nil {
		return nil, err
	}
	localApp = a
	activeConn = &localBackend{rec: a.Recommender}
	return activeConn, nil
}

// remote reports whether commands talk to a server.
func remote() bool {
	return serverURL != ""
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	rootCmd.PersistentFlags().BoolVarP(&verbose, "verbose", "v", false, "verbose output")
	rootCmd.PersistentFlags().StringVar(&serverURL, "server", "", "movierec-server URL (default: in-process, or MOVIEREC_SERVER_URL)")

	rootCmd.AddCommand(recommendCmd)
	rootCmd.AddCommand(similarCmd)
	rootCmd.AddCommand(titlesCmd)
	rootCmd.AddCommand(modelsCmd)
	rootCmd.AddCommand(reloadCmd)
	rootCmd.AddCommand(cacheCmd)
	rootCmd.AddCommand(embedCmd)
	rootCmd.AddCommand(jobsCmd)
	rootCmd.AddCommand(configCmd)
}
