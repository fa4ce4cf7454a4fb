// Package watcher subscribes to change notifications for one directory and
// turns them into ChangeEvents for diagram source files.
package watcher

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"time"

	"github.com/fsnotify/fsnotify"

	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/logging"
)

// Op is the kind of change observed.
type Op int

const (
	OpCreate Op = iota
	OpWrite
)

// String returns the string representation of the Op.
func (o Op) String() string {
	switch o {
	case OpCreate:
		return "create"
	case OpWrite:
		return "write"
	default:
		return "unknown"
	}
}

// ChangeEvent represents a created or modified source file.
type ChangeEvent struct {
	Path    string
	Op      Op
	ModTime time.Time

	size int64
}

// Handler processes one change. It runs on the watcher goroutine, so no
// further events are delivered until it returns.
type Handler func(ctx context.Context, event ChangeEvent)

// Options configures a FileWatcher.
type Options struct {
	Dir       string
	SourceExt string
	// Debounce coalesces events per path. Zero delivers every event.
	Debounce time.Duration
	// OnResync runs after the subscription was restarted, since events
	// may have been lost in between.
	OnResync func(ctx context.Context)
	Logger   logging.Logger
}

// FileWatcher watches a single directory, non-recursively.
type FileWatcher struct {
	dir       string
	sourceExt string
	debounce  time.Duration
	onResync  func(ctx context.Context)
	logger    logging.Logger

	// watcher is replaced on restart and only used by the Run goroutine.
	watcher *fsnotify.Watcher
	// delivered holds the file state last passed on per path. Only the
	// Run goroutine touches it.
	delivered map[string]fileState
}

// fileState is what an event observed on disk.
type fileState struct {
	modTime time.Time
	size    int64
}

// NewFileWatcher subscribes to opts.Dir. Failing to subscribe is fatal.
func NewFileWatcher(opts Options) (*FileWatcher, error) {
	dir, err := filepath.Abs(opts.Dir)
	if err != nil {
		return nil, perrors.ErrWatchUnavailable(opts.Dir, err)
	}

	fw := &FileWatcher{
		dir:       dir,
		sourceExt: opts.SourceExt,
		debounce:  opts.Debounce,
		onResync:  opts.OnResync,
		logger:    opts.Logger,
		delivered: make(map[string]fileState),
	}
	if fw.logger == nil {
		fw.logger = logging.Discard()
	}
	fw.logger = fw.logger.WithComponent("watcher")

	w, err := subscribe(dir)
	if err != nil {
		return nil, perrors.ErrWatchUnavailable(dir, err)
	}
	fw.watcher = w

	return fw, nil
}

// Dir returns the absolute path of the watched directory.
func (fw *FileWatcher) Dir() string {
	return fw.dir
}

// Close releases the subscription. Run closes it on exit, so Close is only
// needed when Run is never started.
func (fw *FileWatcher) Close() error {
	return fw.watcher.Close()
}

// Run delivers events to handler until ctx is cancelled. It returns a
// fatal watch error when the subscription is lost and cannot be restored.
func (fw *FileWatcher) Run(ctx context.Context, handler Handler) error {
	defer func() { _ = fw.watcher.Close() }()

	var (
		debouncer *Debouncer
		ready     <-chan struct{}
	)
	if fw.debounce > 0 {
		debouncer = NewDebouncer(fw.debounce)
		defer debouncer.Stop()
		ready = debouncer.Ready()
	}

	fw.logger.Info(ctx, "watching directory", "dir", fw.dir, "ext", fw.sourceExt, "debounce", fw.debounce.String())

	for {
		select {
		case <-ctx.Done():
			if debouncer != nil && debouncer.Pending() > 0 {
				fw.logger.Info(ctx, "discarding pending changes on shutdown", "pending", debouncer.Pending())
			}
			return nil

		case event, ok := <-fw.watcher.Events:
			if !ok {
				if err := fw.recover(ctx, errors.New("event stream closed")); err != nil {
					return err
				}
				continue
			}

			change, relevant := fw.classify(event)
			if !relevant {
				continue
			}
			if fw.duplicate(change) {
				fw.logger.Debug(ctx, "change already seen", "file", change.Path, "op", change.Op.String())
				continue
			}
			fw.logger.Debug(ctx, "change detected", "file", change.Path, "op", change.Op.String())

			if debouncer != nil {
				debouncer.Trigger(change)
				continue
			}
			handler(ctx, change)

		case watchErr, ok := <-fw.watcher.Errors:
			if !ok {
				watchErr = errors.New("error stream closed")
			}
			if err := fw.recover(ctx, watchErr); err != nil {
				return err
			}

		case <-ready:
			for _, change := range debouncer.Drain() {
				if ctx.Err() != nil {
					return nil
				}
				handler(ctx, change)
			}
		}
	}
}

// recover logs a subscription error, re-creates the subscription and runs
// the resync callback. An error is returned only if the restart failed.
func (fw *FileWatcher) recover(ctx context.Context, cause error) error {
	if errors.Is(cause, fsnotify.ErrEventOverflow) {
		fw.logger.Warn(ctx, cause, "event queue overflowed, restarting subscription", "dir", fw.dir)
	} else {
		fw.logger.Warn(ctx, cause, "watcher error, restarting subscription", "dir", fw.dir)
	}

	_ = fw.watcher.Close()
	w, err := subscribe(fw.dir)
	if err != nil {
		lost := perrors.NewWatchError(perrors.ErrCodeWatchLost, "lost directory subscription", err).
			WithPath(fw.dir).
			WithContext("cause", cause.Error())
		fw.logger.Error(ctx, lost, "cannot restore directory subscription", "dir", fw.dir)
		return lost
	}
	fw.watcher = w

	if fw.onResync != nil {
		fw.onResync(ctx)
	}
	return nil
}

// classify filters a raw notification and converts it to a ChangeEvent.
func (fw *FileWatcher) classify(event fsnotify.Event) (ChangeEvent, bool) {
	if !event.Has(fsnotify.Write) && !event.Has(fsnotify.Create) {
		return ChangeEvent{}, false
	}
	if !fw.Accepts(event.Name) {
		return ChangeEvent{}, false
	}

	info, err := os.Stat(event.Name)
	if err != nil || info.IsDir() {
		// Removed again before we got here, or a directory named like a source.
		return ChangeEvent{}, false
	}

	op := OpWrite
	if event.Has(fsnotify.Create) {
		op = OpCreate
	}

	// A file created empty is about to be written; the Write that follows
	// carries the content.
	if op == OpCreate && info.Size() == 0 {
		return ChangeEvent{}, false
	}

	return ChangeEvent{Path: event.Name, Op: op, ModTime: info.ModTime(), size: info.Size()}, true
}

// duplicate reports whether change observed the same file state as the
// last change delivered for its path, and records it otherwise. A single
// write usually raises both Create and Write; the second sees nothing new.
func (fw *FileWatcher) duplicate(change ChangeEvent) bool {
	state := fileState{modTime: change.ModTime, size: change.size}
	if last, ok := fw.delivered[change.Path]; ok && last.modTime.Equal(state.modTime) && last.size == state.size {
		return true
	}
	fw.delivered[change.Path] = state
	return false
}

// Accepts reports whether path names a source file worth rendering.
// Hidden files and editor temporaries are ignored.
func (fw *FileWatcher) Accepts(path string) bool {
	name := filepath.Base(path)

	if strings.HasPrefix(name, ".") || strings.HasPrefix(name, "#") ||
		strings.HasSuffix(name, "~") || strings.HasSuffix(name, ".swp") {
		return false
	}

	return strings.EqualFold(filepath.Ext(name), fw.sourceExt)
}

func subscribe(dir string) (*fsnotify.Watcher, error) {
	info, err := os.Stat(dir)
	if err != nil {
		return nil, err
	}
	if !info.IsDir() {
		return nil, errors.New("not a directory")
	}

	w, err := fsnotify.NewWatcher()
	if err != nil {
		return nil, err
	}
	if err := w.Add(dir); err != nil {
		_ = w.Close()
		return nil, err
	}

	return w, nil
}
