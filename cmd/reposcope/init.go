package main

import (
	"fmt"
	"os"
	"path/filepath"

	"github.com/spf13/cobra"

	"reposcope/internal/config"
)

var initForce bool

var initCmd = &cobra.Command{
	Use:   "init",
	Short: "Write a starter .reposcope.toml in the repository root",
	RunE:  runInit,
}

func init() {
	initCmd.Flags().BoolVarP(&initForce, "force", "f", false, "overwrite an existing .reposcope.toml")
	rootCmd.AddCommand(initCmd)
}

func runInit(cmd *cobra.Command, args []string) error {
	absRoot, err := filepath.Abs(repoRootFlag)
	if err != nil {
		return err
	}

	path := filepath.Join(absRoot, ".reposcope.toml")
	if _, statErr := os.Stat(path); statErr == nil && !initForce {
		fmt.Println("reposcope already initialized.")
		fmt.Printf("Configuration at: %s\n", path)
		fmt.Println("Run 'reposcope init --force' to overwrite it.")
		return nil
	}

	cfg := config.Default()
	cfg.RepoRoot = "."

	if err := config.WriteStarterTOML(path, cfg); err != nil {
		return fmt.Errorf("writing starter config: %w", err)
	}

	fmt.Println("reposcope initialized.")
	fmt.Printf("Configuration written to: %s\n", path)
	return nil
}
