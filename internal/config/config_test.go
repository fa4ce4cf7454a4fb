package config

import (
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/conneroisu/livediagram/internal/errors"
	"github.com/spf13/viper"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newViper(t *testing.T) *viper.Viper {
	t.Helper()
	v := viper.New()
	v.Set("watch.dir", t.TempDir())
	return v
}

func TestLoadFrom_Defaults(t *testing.T) {
	v := newViper(t)

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, ".puml", cfg.Watch.SourceExt)
	assert.Equal(t, time.Duration(0), cfg.Watch.Debounce)
	assert.Equal(t, "java", cfg.Render.Command)
	assert.Equal(t, ".png", cfg.Render.ArtifactExt)
	assert.Equal(t, time.Duration(0), cfg.Render.Timeout)
	assert.Contains(t, cfg.Render.Args, "-Djava.awt.headless=true")
	assert.Equal(t, []string{"JAVA_TOOL_OPTIONS=-Djava.awt.headless=true"}, cfg.Render.Env)
	assert.Equal(t, "index.html", cfg.Index.File)
	assert.Equal(t, "2006-01-02 @15:04:05", cfg.Index.TimeFormat)
	assert.Equal(t, 8000, cfg.Server.Port)
	assert.Equal(t, 8765, cfg.Notify.Port)
	assert.Equal(t, "/", cfg.Notify.Path)
	assert.Equal(t, []string{"localhost:*", "127.0.0.1:*"}, cfg.Notify.AllowedOrigins)
	assert.Equal(t, 10*time.Second, cfg.Notify.WriteTimeout)
	assert.Equal(t, "info", cfg.Log.Level)
	assert.Equal(t, "text", cfg.Log.Format)
	assert.Equal(t, "auto", cfg.Control.Stdin)
}

func TestLoadFrom_ExpandsHomeInArgs(t *testing.T) {
	home, err := os.UserHomeDir()
	if err != nil {
		t.Skip("no home directory")
	}

	cfg, err := LoadFrom(newViper(t))
	require.NoError(t, err)

	jar := cfg.Render.Args[len(cfg.Render.Args)-1]
	assert.Equal(t, filepath.Join(home, ".local/plantuml/plantuml.jar"), jar)
	for _, arg := range cfg.Render.Args {
		assert.False(t, strings.HasPrefix(arg, "~"), arg)
	}
}

func TestLoadFrom_Overrides(t *testing.T) {
	v := newViper(t)
	v.Set("watch.source_ext", "mmd")
	v.Set("watch.debounce", "250ms")
	v.Set("render.command", "mmdc")
	v.Set("render.args", []string{"-i"})
	v.Set("render.artifact_ext", "svg")
	v.Set("server.port", 9000)
	v.Set("notify.port", 9001)
	v.Set("log.level", "DEBUG")

	cfg, err := LoadFrom(v)
	require.NoError(t, err)

	assert.Equal(t, ".mmd", cfg.Watch.SourceExt)
	assert.Equal(t, 250*time.Millisecond, cfg.Watch.Debounce)
	assert.Equal(t, "mmdc", cfg.Render.Command)
	assert.Equal(t, []string{"-i"}, cfg.Render.Args)
	assert.Equal(t, ".svg", cfg.Render.ArtifactExt)
	assert.Equal(t, 9000, cfg.Server.Port)
	assert.Equal(t, 9001, cfg.Notify.Port)
	assert.Equal(t, "debug", cfg.Log.Level)
}

func TestLoadFrom_EnvironmentOverrides(t *testing.T) {
	t.Setenv("LIVEDIAGRAM_SERVER_PORT", "8123")
	t.Setenv("LIVEDIAGRAM_RENDER_COMMAND", "plantuml")

	v := newViper(t)
	v.SetEnvPrefix("LIVEDIAGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, 8123, cfg.Server.Port)
	assert.Equal(t, "plantuml", cfg.Render.Command)
}

func TestLoadFrom_EnvironmentSlices(t *testing.T) {
	t.Setenv("LIVEDIAGRAM_RENDER_ARGS", "-tsvg -pipe")
	t.Setenv("LIVEDIAGRAM_NOTIFY_ALLOWED_ORIGINS", "example.com localhost:*")

	v := newViper(t)
	v.SetEnvPrefix("LIVEDIAGRAM")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, []string{"-tsvg", "-pipe"}, cfg.Render.Args)
	assert.Equal(t, []string{"example.com", "localhost:*"}, cfg.Notify.AllowedOrigins)
	// Keys without an override keep their list defaults.
	assert.Equal(t, []string{"JAVA_TOOL_OPTIONS=-Djava.awt.headless=true"}, cfg.Render.Env)
}

func TestLoadFrom_ConfigFile(t *testing.T) {
	dir := t.TempDir()
	file := filepath.Join(dir, ".livediagram.yml")
	content := "watch:\n  dir: " + dir + "\n  source_ext: .dot\nrender:\n  command: dot\n  args: [-Tpng, -O]\n"
	require.NoError(t, os.WriteFile(file, []byte(content), 0o644))

	v := viper.New()
	v.SetConfigFile(file)
	require.NoError(t, v.ReadInConfig())

	cfg, err := LoadFrom(v)
	require.NoError(t, err)
	assert.Equal(t, ".dot", cfg.Watch.SourceExt)
	assert.Equal(t, "dot", cfg.Render.Command)
	assert.Equal(t, []string{"-Tpng", "-O"}, cfg.Render.Args)
}

func TestLoadFrom_ValidationErrors(t *testing.T) {
	tests := []struct {
		name  string
		key   string
		value interface{}
		field string
	}{
		{"missing dir", "watch.dir", "/definitely/not/here", "watch.dir"},
		{"empty command", "render.command", "  ", "render.command"},
		{"same extensions", "render.artifact_ext", ".puml", "render.artifact_ext"},
		{"negative timeout", "render.timeout", "-1s", "render.timeout"},
		{"bad env", "render.env", []string{"NOEQUALS"}, "render.env"},
		{"nested index file", "index.file", "sub/index.html", "index.file"},
		{"port out of range", "server.port", 70000, "server.port"},
		{"same ports", "notify.port", 8000, "notify.port"},
		{"relative notify path", "notify.path", "ws", "notify.path"},
		{"unknown level", "log.level", "loud", "log.level"},
		{"unknown format", "log.format", "xml", "log.format"},
		{"bad control", "control.stdin", "maybe", "control.stdin"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			v := newViper(t)
			v.Set(tt.key, tt.value)

			_, err := LoadFrom(v)
			require.Error(t, err)

			var pe *errors.PreviewError
			require.ErrorAs(t, err, &pe)
			assert.Equal(t, errors.ErrorTypeConfig, pe.Type)
			assert.Equal(t, tt.field, pe.Context["field"])
		})
	}
}

func TestLoadFrom_WatchDirMustBeDirectory(t *testing.T) {
	file := filepath.Join(t.TempDir(), "plain.txt")
	require.NoError(t, os.WriteFile(file, nil, 0o644))

	v := viper.New()
	v.Set("watch.dir", file)
	_, err := LoadFrom(v)
	require.Error(t, err)
	assert.Contains(t, err.Error(), "is not a directory")
}

func TestIndexPath(t *testing.T) {
	cfg := &Config{Watch: WatchConfig{Dir: "/srv/diagrams"}, Index: IndexConfig{File: "index.html"}}
	assert.Equal(t, "/srv/diagrams/index.html", cfg.IndexPath())
}

func TestNormalizeExt(t *testing.T) {
	assert.Equal(t, ".puml", normalizeExt("puml"))
	assert.Equal(t, ".puml", normalizeExt(" .puml "))
	assert.Equal(t, "", normalizeExt(""))
}
