// Package renderer invokes the external diagram converter.
//
// The converter is treated as a black box: it is started with the source
// path as its last argument, and the render counts as successful when the
// process exits with status zero. On success the converter is expected to
// have written an artifact next to the source with the same stem and the
// configured artifact extension (see ArtifactPath). The renderer performs
// no retries and imposes no timeout unless one is configured.
package renderer

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/logging"
)

const waitDelay = 2 * time.Second

// Renderer turns one source file into its artifact.
type Renderer interface {
	Render(ctx context.Context, sourcePath string) error
}

// RenderFunc adapts a plain function to the Renderer interface.
type RenderFunc func(ctx context.Context, sourcePath string) error

// Render calls f.
func (f RenderFunc) Render(ctx context.Context, sourcePath string) error {
	return f(ctx, sourcePath)
}

// Options configures a CommandRenderer.
type Options struct {
	Command   string
	Args      []string
	Env       []string
	SourceExt string
	// Dir is the working directory the converter runs in. Empty means the
	// directory of the source file.
	Dir string
	// Timeout bounds a single render. Zero means no limit: the converter's
	// own behaviour decides how long a render takes.
	Timeout time.Duration
	Logger  logging.Logger
}

// CommandRenderer runs an external converter process.
type CommandRenderer struct {
	command   string
	args      []string
	env       []string
	sourceExt string
	dir       string
	timeout   time.Duration
	logger    logging.Logger
}

// NewCommandRenderer creates a renderer for the given converter command.
func NewCommandRenderer(opts Options) *CommandRenderer {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &CommandRenderer{
		command:   opts.Command,
		args:      append([]string(nil), opts.Args...),
		env:       append([]string(nil), opts.Env...),
		sourceExt: opts.SourceExt,
		dir:       opts.Dir,
		timeout:   opts.Timeout,
		logger:    logger.WithComponent("renderer"),
	}
}

// Render runs the converter on sourcePath and blocks until it exits.
// The context is only cancelled on shutdown unless a timeout is configured.
func (r *CommandRenderer) Render(ctx context.Context, sourcePath string) error {
	if err := r.validateSource(sourcePath); err != nil {
		return err
	}

	if r.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, r.timeout)
		defer cancel()
	}

	args := append(append([]string(nil), r.args...), sourcePath)
	cmd := exec.CommandContext(ctx, r.command, args...) //nolint:gosec // command comes from the operator's config
	cmd.Dir = r.dir
	if cmd.Dir == "" {
		cmd.Dir = filepath.Dir(sourcePath)
	}
	cmd.Env = append(os.Environ(), r.env...)
	// Children of a killed converter may keep the output pipe open.
	cmd.WaitDelay = waitDelay

	op := logging.StartOperation(r.logger, "render")
	output, err := cmd.CombinedOutput()
	if err != nil {
		var exitErr *exec.ExitError
		if !errors.As(err, &exitErr) {
			spawnErr := perrors.ErrRenderSpawn(sourcePath, r.command, err)
			op.EndWithError(ctx, spawnErr, "file", sourcePath)
			return spawnErr
		}
		if ctx.Err() != nil {
			err = fmt.Errorf("%w (%v)", err, ctx.Err())
		}
		renderErr := perrors.ErrRenderFailed(sourcePath, output, err)
		op.EndWithError(ctx, renderErr, "file", sourcePath, "output", strings.TrimSpace(string(output)))
		return renderErr
	}

	op.End(ctx, "file", sourcePath)
	return nil
}

// validateSource rejects paths that should never reach the renderer.
// The change detector filters events before calling Render, so these
// errors point at a caller bug.
func (r *CommandRenderer) validateSource(sourcePath string) error {
	if sourcePath == "" {
		return perrors.ErrInvalidPath(sourcePath, "empty source path")
	}
	if r.sourceExt != "" && !strings.EqualFold(filepath.Ext(sourcePath), r.sourceExt) {
		return perrors.ErrInvalidPath(sourcePath, "expected "+r.sourceExt+" extension")
	}
	// A source deleted between the event and the render is an ordinary
	// render failure, not a caller bug.
	if _, err := os.Stat(sourcePath); err != nil {
		return perrors.ErrRenderFailed(sourcePath, nil, err)
	}
	return nil
}

// ArtifactPath returns the path the converter writes for sourcePath: the
// same stem with artifactExt as its extension.
func ArtifactPath(sourcePath, artifactExt string) string {
	return strings.TrimSuffix(sourcePath, filepath.Ext(sourcePath)) + artifactExt
}
