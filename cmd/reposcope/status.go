package main

import (
	"encoding/json"
	"fmt"

	"github.com/spf13/cobra"

	"reposcope/internal/index"
	"reposcope/internal/sandbox"
)

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Print the current index status for this repository",
	RunE:  runStatus,
}

func init() {
	rootCmd.AddCommand(statusCmd)
}

func runStatus(cmd *cobra.Command, args []string) error {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}

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

	status := map[string]interface{}{
		"repo_root":              sb.RepoRoot(),
		"data_dir":               cfg.DataDir,
		"index_status":           string(store.Status()),
		"last_refresh_timestamp": store.Manifest.LastRefreshTimestamp,
		"indexed_file_count":     len(store.Files),
	}

	out, err := json.MarshalIndent(status, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
