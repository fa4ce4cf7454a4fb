package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livediagram/internal/services"
)

var indexCmd = &cobra.Command{
	Use:   "index [dir]",
	Short: "Regenerate the index page without rendering",
	Args:  cobra.MaximumNArgs(1),
	RunE:  runIndex,
}

func init() {
	rootCmd.AddCommand(indexCmd)
}

func runIndex(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}
	if len(args) == 1 {
		cfg.Watch.Dir = args[0]
	}

	dir, err := filepath.Abs(cfg.Watch.Dir)
	if err != nil {
		return fmt.Errorf("resolve directory %s: %w", cfg.Watch.Dir, err)
	}

	path, err := services.NewIndexBuilder(cfg, dir, nil, logger).Generate(cmd.Context())
	if err != nil {
		return err
	}
	fmt.Fprintln(cmd.OutOrStdout(), path)
	return nil
}
