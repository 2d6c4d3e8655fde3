package main

import (
	"fmt"

	"github.com/spf13/cobra"

	"reposcope/internal/audit"
	"reposcope/internal/index"
	"reposcope/internal/logging"
	"reposcope/internal/mcprpc"
	"reposcope/internal/sandbox"
)

var serveCmd = &cobra.Command{
	Use:   "serve",
	Short: "Serve the repository over newline-delimited JSON on stdin/stdout",
	Long: `Start the reposcope RPC loop: one request object per line on stdin,
one response envelope per line on stdout. Logs go to <data_dir>/logs/ so
they never interleave with the protocol stream.`,
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)
}

func runServe(cmd *cobra.Command, args []string) error {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}

	lock, err := index.AcquireLock(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("acquiring index lock: %w", err)
	}
	defer lock.Release()

	logFactory := logging.NewFactory(cfg.DataDir, logging.LevelFromString(cfg.Logging.Level), cfg.Logging.MaxSize, cfg.Logging.MaxBackups)
	defer logFactory.Close()
	mcpLogger := logFactory.Logger(logging.SubsystemMCP)

	sb, err := sandbox.New(cfg.RepoRoot, cfg.Discovery.ExtraDenylist, sandbox.Limits{
		MaxFileBytes:             cfg.Limits.MaxFileBytes,
		MaxOpenLines:             cfg.Limits.MaxOpenLines,
		MaxTotalBytesPerResponse: cfg.Limits.MaxTotalBytesPerResponse,
	})
	if err != nil {
		return fmt.Errorf("initializing sandbox: %w", err)
	}

	store, err := index.Open(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("opening index: %w", err)
	}
	defer store.Close()
	store.BindLock(lock)

	auditWriter, err := audit.OpenWithConfig(cfg.DataDir, cfg.Audit)
	if err != nil {
		return fmt.Errorf("opening audit log: %w", err)
	}
	defer auditWriter.Close()

	mcpLogger.Info("reposcope serving", "repo_root", sb.RepoRoot(), "data_dir", cfg.DataDir)

	server := mcprpc.New(sb, cfg, store, auditWriter, mcpLogger)
	return server.Serve()
}
