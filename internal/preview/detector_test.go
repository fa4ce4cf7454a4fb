package preview

import (
	"context"
	"errors"
	"os"
	"path/filepath"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/index"
	"github.com/conneroisu/livediagram/internal/renderer"
	"github.com/conneroisu/livediagram/internal/watcher"
	"github.com/conneroisu/livediagram/internal/websocket"
)

type fakeIndex struct {
	calls int
	err   error
}

func (f *fakeIndex) Generate(context.Context) (string, error) {
	f.calls++
	return "index.html", f.err
}

type fakeNotifier struct {
	mu       sync.Mutex
	messages []websocket.Message
	err      error
}

func (f *fakeNotifier) Broadcast(_ context.Context, msg websocket.Message) (int, error) {
	f.mu.Lock()
	defer f.mu.Unlock()
	if f.err != nil {
		return 0, f.err
	}
	f.messages = append(f.messages, msg)
	return 1, nil
}

func (f *fakeNotifier) sent() []websocket.Message {
	f.mu.Lock()
	defer f.mu.Unlock()
	return append([]websocket.Message(nil), f.messages...)
}

// pngRenderer writes <stem>.png next to the source unless the source
// contains the word "broken".
func pngRenderer() renderer.Renderer {
	return renderer.RenderFunc(func(_ context.Context, source string) error {
		data, err := os.ReadFile(source)
		if err != nil {
			return perrors.ErrRenderFailed(source, nil, err)
		}
		if strings.Contains(string(data), "broken") {
			return perrors.ErrRenderFailed(source, []byte("Syntax Error?"), errors.New("exit status 1"))
		}
		return os.WriteFile(renderer.ArtifactPath(source, ".png"), []byte("png"), 0o644)
	})
}

func change(path string) watcher.ChangeEvent {
	info, err := os.Stat(path)
	ev := watcher.ChangeEvent{Path: path, Op: watcher.OpWrite}
	if err == nil {
		ev.ModTime = info.ModTime()
	}
	return ev
}

func TestHandleChange_Success(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "seq.puml")
	require.NoError(t, os.WriteFile(source, []byte("@startuml"), 0o644))

	idx := &fakeIndex{}
	notifier := &fakeNotifier{}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: pngRenderer(), Index: idx, Notifier: notifier})

	ev := change(source)
	require.NoError(t, d.HandleChange(context.Background(), ev))

	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, []websocket.Message{{Action: "reload", File: "seq.puml"}}, notifier.sent())
	assert.FileExists(t, filepath.Join(dir, "seq.png"))

	mtime, ok := d.ModTime(source)
	require.True(t, ok)
	assert.Equal(t, ev.ModTime, mtime)
}

func TestHandleChange_RenderFailureSkipsIndexAndNotify(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "bad.puml")
	require.NoError(t, os.WriteFile(source, []byte("broken"), 0o644))

	builder := index.NewBuilder(index.Options{Dir: dir, SourceExt: ".puml", ArtifactExt: ".png"})
	_, err := builder.Generate(context.Background())
	require.NoError(t, err)
	before, err := os.ReadFile(builder.Path())
	require.NoError(t, err)
	stat, err := os.Stat(builder.Path())
	require.NoError(t, err)

	notifier := &fakeNotifier{}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: pngRenderer(), Index: builder, Notifier: notifier})

	err = d.HandleChange(context.Background(), change(source))
	require.Error(t, err)
	assert.True(t, perrors.IsRenderError(err))

	after, err := os.ReadFile(builder.Path())
	require.NoError(t, err)
	assert.Equal(t, before, after)
	statAfter, err := os.Stat(builder.Path())
	require.NoError(t, err)
	assert.Equal(t, stat.ModTime(), statAfter.ModTime())
	assert.Empty(t, notifier.sent())

	// The change is still recorded.
	_, ok := d.ModTime(source)
	assert.True(t, ok)
}

func TestHandleChange_IndexFailureSkipsNotify(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "seq.puml")
	require.NoError(t, os.WriteFile(source, []byte("@startuml"), 0o644))

	idx := &fakeIndex{err: errors.New("disk full")}
	notifier := &fakeNotifier{}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: pngRenderer(), Index: idx, Notifier: notifier})

	err := d.HandleChange(context.Background(), change(source))
	require.Error(t, err)
	assert.Equal(t, 1, idx.calls)
	assert.Empty(t, notifier.sent())
}

func TestHandleChange_NotifyFailureReturned(t *testing.T) {
	dir := t.TempDir()
	source := filepath.Join(dir, "seq.puml")
	require.NoError(t, os.WriteFile(source, []byte("@startuml"), 0o644))

	notifier := &fakeNotifier{err: websocket.ErrHubClosed}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: pngRenderer(), Index: &fakeIndex{}, Notifier: notifier})

	err := d.HandleChange(context.Background(), change(source))
	assert.ErrorIs(t, err, websocket.ErrHubClosed)
}

func TestHandleChange_EachChangeIndependent(t *testing.T) {
	dir := t.TempDir()
	bad := filepath.Join(dir, "bad.puml")
	good := filepath.Join(dir, "good.puml")
	require.NoError(t, os.WriteFile(bad, []byte("broken"), 0o644))
	require.NoError(t, os.WriteFile(good, []byte("@startuml"), 0o644))

	idx := &fakeIndex{}
	notifier := &fakeNotifier{}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: pngRenderer(), Index: idx, Notifier: notifier})

	d.Handle(context.Background(), change(bad))
	d.Handle(context.Background(), change(good))
	d.Handle(context.Background(), change(bad))

	assert.Equal(t, 1, idx.calls)
	assert.Equal(t, []websocket.Message{websocket.ReloadMessage("good.puml")}, notifier.sent())
	assert.Equal(t, 2, d.Tracked())
}

func TestScenario_IndexListsOnlyRenderedSources(t *testing.T) {
	dir := t.TempDir()
	a := filepath.Join(dir, "a.puml")
	b := filepath.Join(dir, "b.puml")
	require.NoError(t, os.WriteFile(a, []byte("broken"), 0o644))
	require.NoError(t, os.WriteFile(b, []byte("@startuml"), 0o644))

	builder := index.NewBuilder(index.Options{Dir: dir, SourceExt: ".puml", ArtifactExt: ".png", Location: time.UTC})
	notifier := &fakeNotifier{}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: pngRenderer(), Index: builder, Notifier: notifier})

	require.Error(t, d.HandleChange(context.Background(), change(a)))
	require.NoError(t, d.HandleChange(context.Background(), change(b)))

	doc, err := os.ReadFile(builder.Path())
	require.NoError(t, err)
	assert.Contains(t, string(doc), `<a href="b.png" download>`)
	assert.NotContains(t, string(doc), "a.png")
	assert.Equal(t, []websocket.Message{websocket.ReloadMessage("b.puml")}, notifier.sent())
}

func TestResync_ReprocessesChangedSources(t *testing.T) {
	dir := t.TempDir()
	old := time.Now().Add(-time.Hour).Truncate(time.Second)

	same := filepath.Join(dir, "same.puml")
	edited := filepath.Join(dir, "edited.puml")
	fresh := filepath.Join(dir, "fresh.puml")
	for _, p := range []string{same, edited, fresh} {
		require.NoError(t, os.WriteFile(p, []byte("@startuml"), 0o644))
		require.NoError(t, os.Chtimes(p, old, old))
	}
	require.NoError(t, os.WriteFile(filepath.Join(dir, ".hidden.puml"), []byte("@startuml"), 0o644))
	require.NoError(t, os.WriteFile(filepath.Join(dir, "notes.txt"), []byte("x"), 0o644))

	var rendered []string
	var mu sync.Mutex
	r := renderer.RenderFunc(func(_ context.Context, source string) error {
		mu.Lock()
		defer mu.Unlock()
		rendered = append(rendered, filepath.Base(source))
		return nil
	})

	notifier := &fakeNotifier{}
	d := NewDetector(Options{Dir: dir, SourceExt: ".puml", Renderer: r, Index: &fakeIndex{}, Notifier: notifier})
	d.record(same, old)
	d.record(edited, old)

	later := old.Add(time.Minute)
	require.NoError(t, os.Chtimes(edited, later, later))

	d.Resync(context.Background())

	assert.ElementsMatch(t, []string{"edited.puml", "fresh.puml"}, rendered)
	mtime, ok := d.ModTime(edited)
	require.True(t, ok)
	assert.True(t, later.Equal(mtime))
	assert.Len(t, notifier.sent(), 2)

	// Nothing changed since: a second resync is a no-op.
	rendered = nil
	d.Resync(context.Background())
	assert.Empty(t, rendered)
}
