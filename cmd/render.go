package cmd

import (
	"fmt"
	"path/filepath"

	"github.com/spf13/cobra"

	"github.com/conneroisu/livediagram/internal/services"
)

var renderCmd = &cobra.Command{
	Use:     "render FILE...",
	Aliases: []string{"r"},
	Short:   "Render diagram sources once and refresh the index",
	Long: `Run the configured converter on each source file, then regenerate the
index page of the watched directory. Files are rendered one at a time and a
failure does not stop the remaining files.

Examples:
  livediagram render sequence.puml
  livediagram render docs/*.puml --dir docs`,
	Args: cobra.MinimumNArgs(1),
	RunE: runRender,
}

func init() {
	rootCmd.AddCommand(renderCmd)
	renderCmd.Flags().StringP("dir", "d", "", "Directory whose index is regenerated (default watch.dir)")
}

func runRender(cmd *cobra.Command, args []string) error {
	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	if d, _ := cmd.Flags().GetString("dir"); d != "" {
		cfg.Watch.Dir = d
	}
	dir, err := filepath.Abs(cfg.Watch.Dir)
	if err != nil {
		return fmt.Errorf("resolve directory %s: %w", cfg.Watch.Dir, err)
	}

	ctx := cmd.Context()
	r := services.NewRenderer(cfg, dir, logger)

	var failed int
	for _, file := range args {
		path, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", file, err)
		}
		if err := r.Render(ctx, path); err != nil {
			failed++
			fmt.Fprintf(cmd.ErrOrStderr(), "render %s: %v\n", file, err)
			continue
		}
		fmt.Fprintf(cmd.OutOrStdout(), "rendered %s\n", file)
	}

	indexPath, err := services.NewIndexBuilder(cfg, dir, nil, logger).Generate(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(cmd.OutOrStdout(), "index %s\n", indexPath)

	if failed > 0 {
		return fmt.Errorf("%d of %d renders failed", failed, len(args))
	}
	return nil
}
