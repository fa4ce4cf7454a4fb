// Package cmd provides the command-line interface for livediagram.
//
// Configuration is resolved from several sources, highest priority first:
//
//  1. Command-line flags (--port, --dir, --log-level, ...)
//  2. Individual environment variables (LIVEDIAGRAM_SERVER_PORT, ...)
//  3. The config file named by --config or LIVEDIAGRAM_CONFIG_FILE
//  4. .livediagram.yml in the current directory
//  5. Built-in defaults
//
// Environment variables follow the LIVEDIAGRAM_<SECTION>_<OPTION> pattern,
// e.g. LIVEDIAGRAM_NOTIFY_PORT=9000 or LIVEDIAGRAM_RENDER_COMMAND=plantuml.
package cmd

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/spf13/cobra"
	"github.com/spf13/viper"

	"github.com/conneroisu/livediagram/internal/config"
	"github.com/conneroisu/livediagram/internal/logging"
)

const envPrefix = "LIVEDIAGRAM"

var cfgFile string

var rootCmd = &cobra.Command{
	Use:   "livediagram",
	Short: "Live browser preview for diagram sources",
	Long: `livediagram watches a directory of diagram sources, re-renders each one
through an external converter when it changes, regenerates an HTML index of
the rendered images, and tells every open browser tab to reload.

Running livediagram without a subcommand is the same as "livediagram serve".

Quick Start:
  livediagram                     Watch the current directory
  livediagram serve ./diagrams    Watch another directory
  livediagram render a.puml       Render once and refresh the index
  livediagram config show         Print the resolved configuration`,
	SilenceUsage: true,
	Args:         cobra.NoArgs,
	RunE:         runServe,
}

// Execute adds all child commands to the root command and sets flags appropriately.
func Execute() error {
	return rootCmd.Execute()
}

func init() {
	cobra.OnInitialize(initConfig)

	rootCmd.PersistentFlags().StringVar(&cfgFile, "config", "", "config file (default is .livediagram.yml, can also use "+envPrefix+"_CONFIG_FILE env var)")
	rootCmd.PersistentFlags().StringP("log-level", "l", "info", "log level (debug, info, warn, error)")
	rootCmd.PersistentFlags().String("log-format", "text", "log format (text, json)")
	_ = viper.BindPFlag("log.level", rootCmd.PersistentFlags().Lookup("log-level"))
	_ = viper.BindPFlag("log.format", rootCmd.PersistentFlags().Lookup("log-format"))
}

// initConfig points viper at the config file and enables environment
// overrides. A missing config file is not an error; defaults apply.
func initConfig() {
	if cfgFile != "" {
		viper.SetConfigFile(cfgFile)
	} else if envConfigFile := os.Getenv(envPrefix + "_CONFIG_FILE"); envConfigFile != "" {
		viper.SetConfigFile(envConfigFile)
	} else {
		viper.AddConfigPath(".")
		viper.SetConfigType("yaml")
		viper.SetConfigName(".livediagram")
	}

	viper.SetEnvPrefix(envPrefix)
	viper.AutomaticEnv()
	viper.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))

	if err := viper.ReadInConfig(); err == nil {
		fmt.Fprintln(os.Stderr, "Using config file:", viper.ConfigFileUsed())
	}
}

// loadConfig resolves the configuration and builds the logger it describes.
func loadConfig(cmd *cobra.Command) (*config.Config, logging.Logger, error) {
	cfg, err := config.Load()
	if err != nil {
		return nil, nil, err
	}
	return cfg, newLogger(cfg.Log, cmd.ErrOrStderr()), nil
}

func newLogger(cfg config.LogConfig, out io.Writer) logging.Logger {
	// Validation already rejected unknown levels.
	level, _ := logging.ParseLevel(cfg.Level)
	return logging.NewLogger(&logging.LoggerConfig{
		Level:  level,
		Format: cfg.Format,
		Output: out,
	})
}
