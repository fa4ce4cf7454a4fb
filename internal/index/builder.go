// Package index generates the browsable listing page for rendered diagrams.
//
// The page is rebuilt from scratch on every call: the directory is scanned
// for source files, sources whose artifact does not exist yet are left out,
// and each remaining artifact is listed with its modification time, an
// inline preview and a download link. The page embeds a small script that
// connects to the notification server and reloads on a reload message.
package index

import (
	"bytes"
	"context"
	"fmt"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"time"

	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/logging"
	"github.com/conneroisu/livediagram/internal/renderer"
	"golang.org/x/text/cases"
	"golang.org/x/text/language"
)

// Entry is one listed artifact.
type Entry struct {
	// Source is the base name of the source file.
	Source string
	// Artifact is the base name of the rendered image.
	Artifact string
	// ModTime is the artifact's modification time, read at scan time.
	ModTime time.Time
}

// Options configures a Builder.
type Options struct {
	Dir         string
	SourceExt   string
	ArtifactExt string
	FileName    string
	Title       string
	TimeFormat  string
	NotifyPort  int
	NotifyPath  string
	// Location is used to format timestamps. Defaults to time.Local.
	Location *time.Location
	// Now supplies the cache-busting token. Defaults to time.Now.
	Now    func() time.Time
	Logger logging.Logger
}

// Builder scans a directory and writes the index document.
type Builder struct {
	dir         string
	sourceExt   string
	artifactExt string
	fileName    string
	title       string
	timeFormat  string
	notifyPort  int
	notifyPath  string
	location    *time.Location
	now         func() time.Time
	logger      logging.Logger
}

// NewBuilder creates an index builder.
func NewBuilder(opts Options) *Builder {
	b := &Builder{
		dir:         opts.Dir,
		sourceExt:   opts.SourceExt,
		artifactExt: opts.ArtifactExt,
		fileName:    opts.FileName,
		title:       cases.Title(language.English).String(opts.Title),
		timeFormat:  opts.TimeFormat,
		notifyPort:  opts.NotifyPort,
		notifyPath:  opts.NotifyPath,
		location:    opts.Location,
		now:         opts.Now,
		logger:      opts.Logger,
	}

	if b.dir == "" {
		b.dir = "."
	}
	if b.fileName == "" {
		b.fileName = "index.html"
	}
	if b.timeFormat == "" {
		b.timeFormat = "2006-01-02 @15:04:05"
	}
	if b.notifyPath == "" {
		b.notifyPath = "/"
	}
	if b.location == nil {
		b.location = time.Local
	}
	if b.now == nil {
		b.now = time.Now
	}
	if b.logger == nil {
		b.logger = logging.Discard()
	}
	b.logger = b.logger.WithComponent("index")

	return b
}

// Path returns where Generate writes the document.
func (b *Builder) Path() string {
	return filepath.Join(b.dir, b.fileName)
}

// Scan lists the sources that have a rendered artifact, sorted by name.
func (b *Builder) Scan() ([]Entry, error) {
	// os.ReadDir returns entries sorted by file name.
	dirEntries, err := os.ReadDir(b.dir)
	if err != nil {
		return nil, perrors.NewIOError(perrors.ErrCodeIndexScan, "cannot list directory", err).WithPath(b.dir)
	}

	entries := make([]Entry, 0, len(dirEntries))
	for _, de := range dirEntries {
		// Hidden sources are never watched, so they are not listed either.
		if de.IsDir() || strings.HasPrefix(de.Name(), ".") ||
			!strings.EqualFold(filepath.Ext(de.Name()), b.sourceExt) {
			continue
		}

		artifact := renderer.ArtifactPath(de.Name(), b.artifactExt)
		info, err := os.Stat(filepath.Join(b.dir, artifact))
		if err != nil {
			// Not rendered yet; such sources are omitted, not shown as pending.
			continue
		}
		if info.IsDir() {
			continue
		}

		entries = append(entries, Entry{
			Source:   de.Name(),
			Artifact: artifact,
			ModTime:  info.ModTime(),
		})
	}

	return entries, nil
}

// Build scans the directory and renders the document with a fresh
// cache-busting token.
func (b *Builder) Build(ctx context.Context) ([]byte, error) {
	entries, err := b.Scan()
	if err != nil {
		return nil, err
	}

	var buf bytes.Buffer
	if err := b.Page(entries, b.now().Unix()).Render(ctx, &buf); err != nil {
		return nil, perrors.NewInternalError(perrors.ErrCodeIndexWrite, "cannot render index", err)
	}

	return buf.Bytes(), nil
}

// Generate rebuilds the document and replaces the file on disk. The new
// content is written to a temporary file in the same directory and renamed
// over the old one, so readers see either the old or the new document.
func (b *Builder) Generate(ctx context.Context) (string, error) {
	content, err := b.Build(ctx)
	if err != nil {
		return "", err
	}

	target := b.Path()
	if err := writeFileAtomic(target, content); err != nil {
		return "", perrors.NewIOError(perrors.ErrCodeIndexWrite, "cannot write index", err).WithPath(target)
	}

	b.logger.Debug(ctx, "index regenerated", "path", target, "bytes", len(content))
	return target, nil
}

func writeFileAtomic(path string, content []byte) error {
	tmp, err := os.CreateTemp(filepath.Dir(path), "."+filepath.Base(path)+".*.tmp")
	if err != nil {
		return err
	}
	tmpName := tmp.Name()

	cleanup := func(err error) error {
		_ = tmp.Close()
		_ = os.Remove(tmpName)
		return err
	}

	if _, err := tmp.Write(content); err != nil {
		return cleanup(err)
	}
	if err := tmp.Chmod(0o644); err != nil {
		return cleanup(err)
	}
	if err := tmp.Close(); err != nil {
		_ = os.Remove(tmpName)
		return err
	}
	if err := os.Rename(tmpName, path); err != nil {
		_ = os.Remove(tmpName)
		return fmt.Errorf("replacing %s: %w", path, err)
	}

	return nil
}

// assetURL turns a file name into a relative URL path.
func assetURL(name string) string {
	return (&url.URL{Path: name}).String()
}
