// Package preview wires the update pipeline together: a changed source is
// rendered, the index page is rebuilt and connected browsers are told to
// reload. Each stage runs only if the previous one succeeded.
package preview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"time"

	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/logging"
	"github.com/conneroisu/livediagram/internal/renderer"
	"github.com/conneroisu/livediagram/internal/watcher"
	"github.com/conneroisu/livediagram/internal/websocket"
)

// IndexGenerator rebuilds the index page and returns where it was written.
type IndexGenerator interface {
	Generate(ctx context.Context) (string, error)
}

// Notifier pushes a message to every connected browser.
type Notifier interface {
	Broadcast(ctx context.Context, msg websocket.Message) (int, error)
}

// Options configures a Detector.
type Options struct {
	Dir       string
	SourceExt string
	Renderer  renderer.Renderer
	Index     IndexGenerator
	Notifier  Notifier
	Logger    logging.Logger
}

// Detector runs the render, index, notify sequence for each change and
// remembers the last modification time seen per source file.
type Detector struct {
	dir       string
	sourceExt string
	renderer  renderer.Renderer
	index     IndexGenerator
	notifier  Notifier
	logger    logging.Logger

	mu      sync.Mutex
	sources map[string]time.Time
}

// NewDetector creates a detector.
func NewDetector(opts Options) *Detector {
	logger := opts.Logger
	if logger == nil {
		logger = logging.Discard()
	}

	return &Detector{
		dir:       opts.Dir,
		sourceExt: opts.SourceExt,
		renderer:  opts.Renderer,
		index:     opts.Index,
		notifier:  opts.Notifier,
		logger:    logger.WithComponent("detector"),
		sources:   make(map[string]time.Time),
	}
}

// Handle is HandleChange with the error dropped, for use as a
// watcher.Handler. Failures are already logged.
func (d *Detector) Handle(ctx context.Context, event watcher.ChangeEvent) {
	_ = d.HandleChange(ctx, event)
}

// HandleChange processes one change. A render failure leaves the index and
// the browsers untouched; the next change is handled independently.
func (d *Detector) HandleChange(ctx context.Context, event watcher.ChangeEvent) error {
	name := filepath.Base(event.Path)
	d.record(event.Path, event.ModTime)

	op := logging.StartOperation(d.logger, "update")

	if err := d.renderer.Render(ctx, event.Path); err != nil {
		fields := []interface{}{"file", name}
		var pe *perrors.PreviewError
		if errors.As(err, &pe) {
			if out, ok := pe.Context["output"].(string); ok {
				fields = append(fields, "output", out)
			}
		}
		d.logger.Error(ctx, err, "render failed, index left unchanged", fields...)
		return err
	}

	if _, err := d.index.Generate(ctx); err != nil {
		d.logger.Error(ctx, err, "index generation failed, browsers not notified", "file", name)
		return err
	}

	delivered, err := d.notifier.Broadcast(ctx, websocket.ReloadMessage(name))
	if err != nil {
		d.logger.Warn(ctx, err, "reload notification failed", "file", name)
		return err
	}

	op.End(ctx, "file", name, "op", event.Op.String(), "clients", delivered)
	return nil
}

// Resync re-processes every source file whose modification time differs
// from the one last recorded, including files never seen before. It is
// run after the watch subscription had to be restarted.
func (d *Detector) Resync(ctx context.Context) {
	entries, err := os.ReadDir(d.dir)
	if err != nil {
		d.logger.Error(ctx, perrors.NewIOError(perrors.ErrCodeIndexScan, "cannot list directory", err).WithPath(d.dir),
			"resync skipped")
		return
	}

	changed, failed := 0, 0
	for _, entry := range entries {
		if ctx.Err() != nil {
			return
		}
		if entry.IsDir() || strings.HasPrefix(entry.Name(), ".") ||
			!strings.EqualFold(filepath.Ext(entry.Name()), d.sourceExt) {
			continue
		}

		info, err := entry.Info()
		if err != nil {
			continue
		}

		path := filepath.Join(d.dir, entry.Name())
		if last, ok := d.ModTime(path); ok && last.Equal(info.ModTime()) {
			continue
		}

		changed++
		if err := d.HandleChange(ctx, watcher.ChangeEvent{Path: path, Op: watcher.OpWrite, ModTime: info.ModTime()}); perrors.IsRenderError(err) {
			failed++
		}
	}

	d.logger.Info(ctx, "resync finished", "changed", changed, "render_failures", failed, "tracked", d.Tracked())
}

// ModTime returns the last modification time recorded for path.
func (d *Detector) ModTime(path string) (time.Time, bool) {
	d.mu.Lock()
	defer d.mu.Unlock()

	t, ok := d.sources[path]
	return t, ok
}

// Tracked returns the number of source files seen so far.
func (d *Detector) Tracked() int {
	d.mu.Lock()
	defer d.mu.Unlock()
	return len(d.sources)
}

func (d *Detector) record(path string, modTime time.Time) {
	d.mu.Lock()
	defer d.mu.Unlock()
	d.sources[path] = modTime
}
