package cmd

import (
	"context"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/oshokin/release-packager/internal/config"
	"github.com/oshokin/release-packager/internal/service/pipeline"
	"github.com/oshokin/release-packager/internal/version"
)

var (
	// configPath to the configuration YAML file.
	configPath string

	// Per-run adjustments to the loaded configuration.
	verbose         bool
	testConfig      bool
	skipPatches     bool
	skipSign        bool
	updaterDataOnly bool
	packagingOnly   bool

	// rootCmd represents the base command for packaging a release.
	rootCmd = &cobra.Command{
		Use:   "release-packager",
		Short: "Package a release: patches, archives, installer and the signed manifest",
		Args:  cobra.NoArgs,
		RunE: func(_ *cobra.Command, _ []string) error {
			// Setup graceful shutdown handling.
			ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGTERM, syscall.SIGINT)
			defer stop()

			options := pipeline.Options{
				ConfigPath:      configPath,
				Verbose:         verbose,
				TestConfig:      testConfig,
				SkipPatches:     skipPatches,
				SkipSign:        skipSign,
				UpdaterDataOnly: updaterDataOnly,
				PackagingOnly:   packagingOnly,
			}

			return pipeline.Run(ctx, options)
		},
	}
)

// Execute runs the release-packager CLI and exits with non-zero status on error.
func Execute() {
	version.AttachCobraVersionCommand(rootCmd)
	rootCmd.AddCommand(keygenCmd)

	if err := rootCmd.Execute(); err != nil {
		os.Exit(1)
	}
}

//nolint:gochecknoinits // Required by Cobra CLI framework architecture.
func init() {
	// Setup command flags with consistent naming and descriptions.
	rootCmd.Flags().StringVarP(&configPath, "config", "c", config.DefaultConfigFilename, "path to configuration file")
	rootCmd.Flags().BoolVarP(&verbose, "verbose", "v", false, "enable debug logging")
	rootCmd.Flags().BoolVar(&testConfig, "test-config", false, "validate the configuration and exit")
	rootCmd.Flags().BoolVar(&skipPatches, "skip-patches", false, "skip patch generation against previous releases")
	rootCmd.Flags().BoolVar(&skipSign, "skip-sign", false, "skip manifest signing")
	rootCmd.Flags().BoolVar(&updaterDataOnly, "updater-data-only", false,
		"produce only patches and the signed manifest, skipping staging, installer and archives")
	rootCmd.Flags().BoolVar(&packagingOnly, "packaging-only", false,
		"rebuild only the installer and archives, producing no patches and no manifest")
}
