package cmd

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/mister-update-db/internal/logger"
	"github.com/oshokin/mister-update-db/internal/service/generator"
	"github.com/oshokin/mister-update-db/internal/version"
)

var (
	// configPath to the optional settings YAML file.
	configPath string
	// outputPath overrides the configured update database location.
	outputPath string
	// logLevel is the minimum level written to stderr.
	logLevel string

	// rootCmd generates the update database for the latest release.
	rootCmd = &cobra.Command{
		Use:   "update-db-generator",
		Short: "Generate the MiSTer update database for the latest cloud saves release",
		Long: "Resolve the latest mister_cloud_saves release, download the installer script and the client archive, " +
			"record their sizes and MD5 hashes, and save the update database when it changed.",
		Args:          cobra.NoArgs,
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(_ *cobra.Command, _ []string) error {
			level, ok := logger.ParseLogLevel(logLevel)
			if !ok {
				return fmt.Errorf("unknown log level %q", logLevel)
			}

			logger.SetLevel(level)

			return nil
		},
		RunE: func(cmd *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(cmd.Context(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			result, err := generator.Run(ctx, &generator.Options{
				ConfigPath: configPath,
				OutputPath: outputPath,
			})
			if err != nil {
				return err
			}

			_, _ = fmt.Fprintf(cmd.OutOrStdout(), "%s: %s\n", result.Path, result.Outcome)

			return nil
		},
	}
)

// Execute runs the CLI and exits with status 1 on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)

	ctx := context.Background()

	err := rootCmd.ExecuteContext(ctx)
	if err != nil {
		logger.ErrorKV(ctx, "Update database generation failed", "error", err)
	}

	logger.Sync()

	if err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	rootCmd.Flags().StringVarP(&configPath, "config", "c", "", "path to an optional settings file")
	rootCmd.Flags().StringVarP(&outputPath, "output", "o", "", "update database path (overrides settings)")
	rootCmd.PersistentFlags().StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn or error")
}
