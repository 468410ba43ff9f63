package main

import (
	"os"
	"slices"

	"github.com/spf13/cobra"

	"github.com/matsen/annot/internal/config"
)

var (
	initBackend  string
	initMaxBytes int64
)

func init() {
	initCmd.Flags().StringVar(&initBackend, "backend", config.DefaultBackend, "Storage backend: memory, sqlite or redis")
	initCmd.Flags().Int64Var(&initMaxBytes, "max-bytes", 0, "Storage quota in bytes (0 means unlimited)")
	rootCmd.AddCommand(initCmd)
}

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Initialize an annot repository in the current directory",
	Long: `Initialize an annot repository in the current directory.

Creates .annot/ with a config.json and an exports/ directory.

Examples:
  annot init
  annot init --backend redis --max-bytes 5242880`,
	Args: cobra.NoArgs,
	RunE: runInit,
}

func runInit(cmd *cobra.Command, args []string) error {
	cwd, err := os.Getwd()
	if err != nil {
		exitWithError(ExitError, "getting current directory: %v", err)
	}

	if config.IsRepository(cwd) {
		exitWithError(ExitConfigError, "already an annot repository: %s", config.AnnotPath(cwd))
	}
	if !slices.Contains(config.ValidBackends, initBackend) {
		exitWithError(ExitConfigError, "invalid backend: %s (valid: %v)", initBackend, config.ValidBackends)
	}

	if err := os.MkdirAll(config.ExportPath(cwd), 0755); err != nil {
		exitWithError(ExitError, "creating %s: %v", config.AnnotDir, err)
	}

	cfg := config.Default()
	cfg.Backend = initBackend
	cfg.MaxBytes = initMaxBytes
	if err := cfg.Validate(); err != nil {
		exitWithError(ExitConfigError, "%v", err)
	}
	if err := cfg.Save(cwd); err != nil {
		exitWithError(ExitError, "%v", err)
	}

	if humanOutput {
		outputHuman("Initialized annot repository in %s\n", config.AnnotPath(cwd))
		return nil
	}
	return outputJSON(StatusResponse{Status: "initialized", Path: config.AnnotPath(cwd)})
}
