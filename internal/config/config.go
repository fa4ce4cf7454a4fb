// Package config provides configuration management for livediagram using
// Viper for loading from files, environment variables, and command-line
// flags.
//
// The configuration covers the watched directory and source extension, the
// external render command, the generated index document, the HTTP file
// server, the push-notification server, logging, and the control input.
// Every key has a default so the tool runs with no config file at all.
package config

import (
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/conneroisu/livediagram/internal/errors"
	"github.com/spf13/viper"
)

type Config struct {
	Watch   WatchConfig   `mapstructure:"watch" yaml:"watch" json:"watch"`
	Render  RenderConfig  `mapstructure:"render" yaml:"render" json:"render"`
	Index   IndexConfig   `mapstructure:"index" yaml:"index" json:"index"`
	Server  ServerConfig  `mapstructure:"server" yaml:"server" json:"server"`
	Notify  NotifyConfig  `mapstructure:"notify" yaml:"notify" json:"notify"`
	Log     LogConfig     `mapstructure:"log" yaml:"log" json:"log"`
	Control ControlConfig `mapstructure:"control" yaml:"control" json:"control"`
}

type WatchConfig struct {
	Dir       string        `mapstructure:"dir" yaml:"dir" json:"dir"`
	SourceExt string        `mapstructure:"source_ext" yaml:"source_ext" json:"source_ext"`
	Debounce  time.Duration `mapstructure:"debounce" yaml:"debounce" json:"debounce"`
}

type RenderConfig struct {
	Command     string        `mapstructure:"command" yaml:"command" json:"command"`
	Args        []string      `mapstructure:"args" yaml:"args" json:"args"`
	Env         []string      `mapstructure:"env" yaml:"env" json:"env"`
	ArtifactExt string        `mapstructure:"artifact_ext" yaml:"artifact_ext" json:"artifact_ext"`
	Timeout     time.Duration `mapstructure:"timeout" yaml:"timeout" json:"timeout"`
}

type IndexConfig struct {
	File       string `mapstructure:"file" yaml:"file" json:"file"`
	Title      string `mapstructure:"title" yaml:"title" json:"title"`
	TimeFormat string `mapstructure:"time_format" yaml:"time_format" json:"time_format"`
}

type ServerConfig struct {
	Host string `mapstructure:"host" yaml:"host" json:"host"`
	Port int    `mapstructure:"port" yaml:"port" json:"port"`
}

type NotifyConfig struct {
	Host           string        `mapstructure:"host" yaml:"host" json:"host"`
	Port           int           `mapstructure:"port" yaml:"port" json:"port"`
	Path           string        `mapstructure:"path" yaml:"path" json:"path"`
	AllowedOrigins []string      `mapstructure:"allowed_origins" yaml:"allowed_origins" json:"allowed_origins"`
	WriteTimeout   time.Duration `mapstructure:"write_timeout" yaml:"write_timeout" json:"write_timeout"`
}

type LogConfig struct {
	Level  string `mapstructure:"level" yaml:"level" json:"level"`
	Format string `mapstructure:"format" yaml:"format" json:"format"`
}

type ControlConfig struct {
	// Stdin is "auto", "on" or "off". In auto mode the quit prompt is only
	// enabled when standard input is a terminal.
	Stdin string `mapstructure:"stdin" yaml:"stdin" json:"stdin"`
}

// Defaults recovered from the PlantUML workflow this tool was built for.
const (
	DefaultSourceExt   = ".puml"
	DefaultArtifactExt = ".png"
	DefaultIndexFile   = "index.html"
	DefaultTimeFormat  = "2006-01-02 @15:04:05"
	DefaultServerPort  = 8000
	DefaultNotifyPort  = 8765
)

// SetDefaults registers every key's default on v.
func SetDefaults(v *viper.Viper) {
	v.SetDefault("watch.dir", ".")
	v.SetDefault("watch.source_ext", DefaultSourceExt)
	v.SetDefault("watch.debounce", "0s")

	v.SetDefault("render.command", "java")
	v.SetDefault("render.args", []string{
		"-Djava.awt.headless=true",
		"-jar",
		"~/.local/plantuml/plantuml.jar",
	})
	v.SetDefault("render.env", []string{"JAVA_TOOL_OPTIONS=-Djava.awt.headless=true"})
	v.SetDefault("render.artifact_ext", DefaultArtifactExt)
	v.SetDefault("render.timeout", "0s")

	v.SetDefault("index.file", DefaultIndexFile)
	v.SetDefault("index.title", "plantuml files")
	v.SetDefault("index.time_format", DefaultTimeFormat)

	v.SetDefault("server.host", "localhost")
	v.SetDefault("server.port", DefaultServerPort)

	v.SetDefault("notify.host", "localhost")
	v.SetDefault("notify.port", DefaultNotifyPort)
	v.SetDefault("notify.path", "/")
	v.SetDefault("notify.allowed_origins", []string{"localhost:*", "127.0.0.1:*"})
	v.SetDefault("notify.write_timeout", "10s")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")

	v.SetDefault("control.stdin", "auto")
}

// Load reads the configuration from the global viper instance.
func Load() (*Config, error) {
	return LoadFrom(viper.GetViper())
}

// LoadFrom reads, normalizes, and validates the configuration held by v.
func LoadFrom(v *viper.Viper) (*Config, error) {
	SetDefaults(v)

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, errors.NewConfigError(errors.ErrCodeConfigInvalid, "cannot decode configuration").
			WithContext("cause", err.Error())
	}

	// Env-provided slices arrive as one string; the decoder would keep it
	// as a single element. GetStringSlice splits on whitespace.
	for key, dst := range map[string]*[]string{
		"render.args":            &cfg.Render.Args,
		"render.env":             &cfg.Render.Env,
		"notify.allowed_origins": &cfg.Notify.AllowedOrigins,
	} {
		if v.IsSet(key) {
			*dst = v.GetStringSlice(key)
		}
	}

	cfg.normalize()

	if err := Validate(&cfg); err != nil {
		return nil, err
	}

	return &cfg, nil
}

func (c *Config) normalize() {
	c.Watch.SourceExt = normalizeExt(c.Watch.SourceExt)
	c.Render.ArtifactExt = normalizeExt(c.Render.ArtifactExt)
	c.Render.Args = expandHome(c.Render.Args)
	c.Log.Level = strings.ToLower(strings.TrimSpace(c.Log.Level))
	c.Log.Format = strings.ToLower(strings.TrimSpace(c.Log.Format))
	c.Control.Stdin = strings.ToLower(strings.TrimSpace(c.Control.Stdin))
	if c.Watch.Dir == "" {
		c.Watch.Dir = "."
	}
}

// IndexPath returns the absolute-or-relative path of the generated index.
func (c *Config) IndexPath() string {
	return filepath.Join(c.Watch.Dir, c.Index.File)
}

func normalizeExt(ext string) string {
	ext = strings.TrimSpace(ext)
	if ext != "" && !strings.HasPrefix(ext, ".") {
		ext = "." + ext
	}
	return ext
}

func expandHome(args []string) []string {
	home, err := os.UserHomeDir()
	if err != nil {
		return args
	}

	out := make([]string, len(args))
	for i, arg := range args {
		switch {
		case arg == "~":
			out[i] = home
		case strings.HasPrefix(arg, "~/"):
			out[i] = filepath.Join(home, arg[2:])
		default:
			out[i] = arg
		}
	}
	return out
}
