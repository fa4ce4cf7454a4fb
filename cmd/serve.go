package cmd

import (
	"fmt"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"

	"github.com/conneroisu/livediagram/internal/config"
	"github.com/conneroisu/livediagram/internal/services"
)

var serveCmd = &cobra.Command{
	Use:     "serve [dir]",
	Aliases: []string{"s"},
	Short:   "Watch diagram sources and serve a live-reloading preview",
	Long: `Watch a directory for diagram sources, re-render each source when it is
created or saved, and serve the rendered images with a page that reloads
itself whenever a render succeeds.

Press Enter (or type q) to quit when running in a terminal.

Examples:
  livediagram serve                      # Watch the current directory
  livediagram serve ./docs/diagrams      # Watch another directory
  livediagram serve -p 9000 --notify-port 9001
  livediagram serve --debounce 250ms     # Coalesce bursts of saves`,
	Args: cobra.MaximumNArgs(1),
	RunE: runServe,
}

func init() {
	rootCmd.AddCommand(serveCmd)

	addServeFlags(serveCmd.Flags())

	_ = viper.BindPFlag("server.port", serveCmd.Flags().Lookup("port"))
	_ = viper.BindPFlag("server.host", serveCmd.Flags().Lookup("host"))
	_ = viper.BindPFlag("notify.port", serveCmd.Flags().Lookup("notify-port"))
	_ = viper.BindPFlag("notify.host", serveCmd.Flags().Lookup("notify-host"))
	_ = viper.BindPFlag("watch.source_ext", serveCmd.Flags().Lookup("ext"))
	_ = viper.BindPFlag("watch.debounce", serveCmd.Flags().Lookup("debounce"))
	_ = viper.BindPFlag("control.stdin", serveCmd.Flags().Lookup("control"))
}

func addServeFlags(fs *pflag.FlagSet) {
	fs.IntP("port", "p", config.DefaultServerPort, "Port the preview page is served on (0 picks a free port)")
	fs.String("host", "localhost", "Host the preview page binds to")
	fs.Int("notify-port", config.DefaultNotifyPort, "Port of the reload notification endpoint")
	fs.String("notify-host", "localhost", "Host the reload notification endpoint binds to")
	fs.String("ext", config.DefaultSourceExt, "Extension of watched source files")
	fs.Duration("debounce", 0, "Coalesce changes to the same file within this window (0 disables)")

	mode := controlMode(services.ControlAuto)
	fs.Var(&mode, "control", "Quit prompt on stdin (auto, on, off)")
}

func runServe(cmd *cobra.Command, args []string) error {
	if len(args) == 1 {
		viper.Set("watch.dir", args[0])
	}

	cfg, logger, err := loadConfig(cmd)
	if err != nil {
		return err
	}

	svc := services.NewServeService(cfg, logger)
	return svc.Serve(cmd.Context(), services.ServeOptions{
		Control: services.ControlInput(cfg.Control.Stdin, os.Stdin),
		Out:     cmd.OutOrStdout(),
	})
}

// controlMode is a pflag.Value restricted to the control input modes.
type controlMode string

func (m *controlMode) String() string { return string(*m) }

func (m *controlMode) Set(value string) error {
	switch v := strings.ToLower(strings.TrimSpace(value)); v {
	case services.ControlAuto, services.ControlOn, services.ControlOff:
		*m = controlMode(v)
		return nil
	default:
		return fmt.Errorf("must be one of %s, %s, %s", services.ControlAuto, services.ControlOn, services.ControlOff)
	}
}

func (m *controlMode) Type() string { return "mode" }
