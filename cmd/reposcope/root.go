package main

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"reposcope/internal/config"
	"reposcope/internal/version"
)

var (
	repoRootFlag string
	dataDirFlag  string
	logLevelFlag string
)

var rootCmd = &cobra.Command{
	Use:     "reposcope",
	Short:   "Local code-retrieval MCP server",
	Long:    "reposcope indexes a repository and serves search, outline, reference, and context-bundle queries over newline-delimited JSON on stdin/stdout.",
	Version: version.Version,
}

func init() {
	rootCmd.SetVersionTemplate("reposcope version {{.Version}}\n")
	rootCmd.PersistentFlags().StringVar(&repoRootFlag, "repo-root", ".", "repository root to index and serve")
	rootCmd.PersistentFlags().StringVar(&dataDirFlag, "data-dir", "", "override the default data directory (<repo_root>/.reposcope)")
	rootCmd.PersistentFlags().StringVar(&logLevelFlag, "log-level", "", "override the configured log level")
}

// loadEffectiveConfig assembles config via internal/config.Load, then
// applies the CLI flag overrides, which take highest precedence.
func loadEffectiveConfig() (*config.Config, error) {
	absRoot, err := filepath.Abs(repoRootFlag)
	if err != nil {
		return nil, fmt.Errorf("resolving repo root: %w", err)
	}

	cfg, err := config.Load(absRoot)
	if err != nil {
		return nil, fmt.Errorf("loading config: %w", err)
	}

	switch {
	case dataDirFlag != "":
		cfg.DataDir = dataDirFlag
	case cfg.DataDir == "" || cfg.DataDir == ".reposcope":
		cfg.DataDir = filepath.Join(absRoot, ".reposcope")
	case !filepath.IsAbs(cfg.DataDir):
		cfg.DataDir = filepath.Join(absRoot, cfg.DataDir)
	}
	if logLevelFlag != "" {
		cfg.Logging.Level = logLevelFlag
	}

	return cfg, nil
}
