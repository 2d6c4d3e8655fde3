package main

import (
	"encoding/json"
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"reposcope/internal/index"
	"reposcope/internal/sandbox"
	"reposcope/internal/scipexport"
	"reposcope/internal/symbols"
)

var (
	refreshForce bool
	refreshSCIP  bool
)

var refreshCmd = &cobra.Command{
	Use:   "refresh-index",
	Short: "Rebuild or incrementally update the on-disk index",
	RunE:  runRefresh,
}

func init() {
	refreshCmd.Flags().BoolVar(&refreshForce, "force", false, "force a full rebuild instead of an incremental refresh")
	refreshCmd.Flags().BoolVar(&refreshSCIP, "scip", false, "also export the outline graph to <data_dir>/index/index.scip")
	rootCmd.AddCommand(refreshCmd)
}

func runRefresh(cmd *cobra.Command, args []string) error {
	cfg, err := loadEffectiveConfig()
	if err != nil {
		return err
	}

	lock, err := index.AcquireLock(cfg.DataDir)
	if err != nil {
		return fmt.Errorf("acquiring index lock: %w", err)
	}
	defer lock.Release()

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

	result, err := store.Refresh(sb, cfg, refreshForce)
	if err != nil {
		return fmt.Errorf("refresh failed: %w", err)
	}

	if refreshSCIP {
		registry := symbols.NewRegistry()
		outPath := filepath.Join(cfg.DataDir, "index", "index.scip")
		stats, err := scipexport.Export(sb, store, registry, outPath)
		if err != nil {
			return fmt.Errorf("exporting SCIP index: %w", err)
		}
		fmt.Printf("SCIP index written to %s (%d documents, %d symbols)\n", stats.OutPath, stats.Documents, stats.Symbols)
	}

	out, err := json.MarshalIndent(result, "", "  ")
	if err != nil {
		return err
	}
	fmt.Println(string(out))
	return nil
}
