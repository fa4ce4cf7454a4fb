package config

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"github.com/conneroisu/livediagram/internal/errors"
)

// Validate checks configuration values for correctness.
func Validate(cfg *Config) error {
	validators := []func(*Config) error{
		validateWatch,
		validateRender,
		validateIndex,
		validatePorts,
		validateNotify,
		validateLog,
		validateControl,
	}

	for _, validate := range validators {
		if err := validate(cfg); err != nil {
			return err
		}
	}

	return nil
}

func validateWatch(cfg *Config) error {
	info, err := os.Stat(cfg.Watch.Dir)
	if err != nil {
		return errors.ErrConfigInvalid("watch.dir", err.Error())
	}
	if !info.IsDir() {
		return errors.ErrConfigInvalid("watch.dir", fmt.Sprintf("%s is not a directory", cfg.Watch.Dir))
	}

	if cfg.Watch.SourceExt == "" {
		return errors.ErrConfigInvalid("watch.source_ext", "must not be empty")
	}
	if cfg.Watch.Debounce < 0 {
		return errors.ErrConfigInvalid("watch.debounce", "must not be negative")
	}

	return nil
}

func validateRender(cfg *Config) error {
	if strings.TrimSpace(cfg.Render.Command) == "" {
		return errors.ErrConfigInvalid("render.command", "must not be empty")
	}
	if cfg.Render.ArtifactExt == "" {
		return errors.ErrConfigInvalid("render.artifact_ext", "must not be empty")
	}
	if strings.EqualFold(cfg.Render.ArtifactExt, cfg.Watch.SourceExt) {
		return errors.ErrConfigInvalid("render.artifact_ext", "must differ from watch.source_ext")
	}
	if cfg.Render.Timeout < 0 {
		return errors.ErrConfigInvalid("render.timeout", "must not be negative")
	}
	for _, kv := range cfg.Render.Env {
		if !strings.Contains(kv, "=") {
			return errors.ErrConfigInvalid("render.env", fmt.Sprintf("%q is not KEY=VALUE", kv))
		}
	}

	return nil
}

func validateIndex(cfg *Config) error {
	file := cfg.Index.File
	if file == "" {
		return errors.ErrConfigInvalid("index.file", "must not be empty")
	}
	if filepath.Base(file) != file {
		return errors.ErrConfigInvalid("index.file", "must be a plain file name inside watch.dir")
	}
	if strings.EqualFold(filepath.Ext(file), cfg.Watch.SourceExt) {
		return errors.ErrConfigInvalid("index.file", "must not use the source extension")
	}
	if cfg.Index.TimeFormat == "" {
		return errors.ErrConfigInvalid("index.time_format", "must not be empty")
	}

	return nil
}

func validatePorts(cfg *Config) error {
	// Port 0 asks the OS for a free port, which tests rely on.
	for field, port := range map[string]int{"server.port": cfg.Server.Port, "notify.port": cfg.Notify.Port} {
		if port < 0 || port > 65535 {
			return errors.ErrConfigInvalid(field, fmt.Sprintf("port %d is not in valid range 0-65535", port))
		}
	}

	if cfg.Server.Port != 0 && cfg.Server.Port == cfg.Notify.Port && cfg.Server.Host == cfg.Notify.Host {
		return errors.ErrConfigInvalid("notify.port", "must differ from server.port")
	}

	return nil
}

func validateNotify(cfg *Config) error {
	if !strings.HasPrefix(cfg.Notify.Path, "/") {
		return errors.ErrConfigInvalid("notify.path", "must start with /")
	}
	if cfg.Notify.WriteTimeout <= 0 {
		return errors.ErrConfigInvalid("notify.write_timeout", "must be positive")
	}

	return nil
}

func validateLog(cfg *Config) error {
	switch cfg.Log.Level {
	case "debug", "info", "warn", "warning", "error":
	default:
		return errors.ErrConfigInvalid("log.level", fmt.Sprintf("unknown level %q", cfg.Log.Level))
	}

	switch cfg.Log.Format {
	case "text", "json":
	default:
		return errors.ErrConfigInvalid("log.format", fmt.Sprintf("unknown format %q", cfg.Log.Format))
	}

	return nil
}

func validateControl(cfg *Config) error {
	switch cfg.Control.Stdin {
	case "auto", "on", "off":
		return nil
	default:
		return errors.ErrConfigInvalid("control.stdin", fmt.Sprintf("must be auto, on or off, got %q", cfg.Control.Stdin))
	}
}
