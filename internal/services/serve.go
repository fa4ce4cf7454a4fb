package services

import (
	"context"
	"fmt"
	"io"
	"net"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"

	"golang.org/x/sync/errgroup"

	"github.com/conneroisu/livediagram/internal/config"
	perrors "github.com/conneroisu/livediagram/internal/errors"
	"github.com/conneroisu/livediagram/internal/index"
	"github.com/conneroisu/livediagram/internal/logging"
	"github.com/conneroisu/livediagram/internal/preview"
	"github.com/conneroisu/livediagram/internal/renderer"
	"github.com/conneroisu/livediagram/internal/server"
	"github.com/conneroisu/livediagram/internal/watcher"
	"github.com/conneroisu/livediagram/internal/websocket"
)

// ServeService runs the live preview: watcher, render pipeline, file
// server and push server.
type ServeService struct {
	config *config.Config
	logger logging.Logger
}

// NewServeService creates a new serve service.
func NewServeService(cfg *config.Config, logger logging.Logger) *ServeService {
	if logger == nil {
		logger = logging.Discard()
	}
	return &ServeService{config: cfg, logger: logger}
}

// ServeOptions contains options for the serve process.
type ServeOptions struct {
	// Control is read line by line; an empty line or "q" stops the
	// process. Nil disables the control input.
	Control io.Reader
	// Out receives the startup banner. Nil disables it.
	Out io.Writer
	// Renderer overrides the configured render command.
	Renderer renderer.Renderer
	// Ready is called once both listeners are bound and the initial index
	// has been written.
	Ready func(ServerInfo)
}

// ServerInfo describes a running preview.
type ServerInfo struct {
	Dir       string
	IndexPath string
	ServerURL string
	NotifyURL string
}

// Serve blocks until ctx is cancelled, a termination signal arrives, the
// control input asks to quit, or a component fails fatally. Setup errors
// (unavailable ports, unwatchable directory) are returned before anything
// starts running.
func (s *ServeService) Serve(ctx context.Context, opts ServeOptions) error {
	cfg := s.config

	dir, err := filepath.Abs(cfg.Watch.Dir)
	if err != nil {
		return err
	}

	fileLn, err := server.Listen(net.JoinHostPort(cfg.Server.Host, strconv.Itoa(cfg.Server.Port)))
	if err != nil {
		return err
	}
	notifyLn, err := server.Listen(net.JoinHostPort(cfg.Notify.Host, strconv.Itoa(cfg.Notify.Port)))
	if err != nil {
		_ = fileLn.Close()
		return err
	}
	closeListeners := func() {
		_ = fileLn.Close()
		_ = notifyLn.Close()
	}

	hub := websocket.NewHub(websocket.HubOptions{
		WriteTimeout:   cfg.Notify.WriteTimeout,
		OriginPatterns: cfg.Notify.AllowedOrigins,
		Logger:         s.logger,
	})

	builder := NewIndexBuilder(cfg, dir, notifyLn.Addr(), s.logger)

	render := opts.Renderer
	if render == nil {
		render = NewRenderer(cfg, dir, s.logger)
	}

	detector := preview.NewDetector(preview.Options{
		Dir:       dir,
		SourceExt: cfg.Watch.SourceExt,
		Renderer:  render,
		Index:     builder,
		Notifier:  hub,
		Logger:    s.logger,
	})

	fw, err := watcher.NewFileWatcher(watcher.Options{
		Dir:       dir,
		SourceExt: cfg.Watch.SourceExt,
		Debounce:  cfg.Watch.Debounce,
		OnResync:  detector.Resync,
		Logger:    s.logger,
	})
	if err != nil {
		closeListeners()
		return err
	}

	indexPath, err := builder.Generate(ctx)
	if err != nil {
		closeListeners()
		_ = fw.Close()
		return err
	}

	info := ServerInfo{
		Dir:       dir,
		IndexPath: indexPath,
		ServerURL: "http://" + fileLn.Addr().String() + "/",
		NotifyURL: "ws://" + notifyLn.Addr().String() + cfg.Notify.Path,
	}

	fileServer := server.New(fileLn, server.NewFileRouter(dir, cfg.Index.File, s.logger), server.Options{
		Name:   "http",
		Logger: s.logger,
	})
	notifyServer := server.New(notifyLn, server.NewNotifyRouter(cfg.Notify.Path, hub), server.Options{
		Name:   "notify",
		Logger: s.logger,
	})

	sigCtx, stopSignals := signal.NotifyContext(ctx, syscall.SIGINT, syscall.SIGTERM)
	defer stopSignals()
	runCtx, quit := context.WithCancel(sigCtx)
	defer quit()

	g, gctx := errgroup.WithContext(runCtx)
	g.Go(func() error { return hub.Run(gctx) })
	g.Go(func() error { return fileServer.Start(gctx) })
	g.Go(func() error { return notifyServer.Start(gctx) })
	g.Go(func() error { return fw.Run(gctx, detector.Handle) })

	// A blocked read on the control input cannot be interrupted, so it
	// runs outside the group and only ever cancels it.
	if opts.Control != nil {
		go watchControl(gctx, opts.Control, quit, s.logger)
	}

	if opts.Out != nil {
		printBanner(opts.Out, info, cfg, opts.Control != nil)
	}
	s.logger.Info(ctx, "live preview running",
		"dir", dir,
		"http", info.ServerURL,
		"notify", info.NotifyURL,
	)
	if opts.Ready != nil {
		opts.Ready(info)
	}

	err = g.Wait()
	logStopped(s.logger, err)
	return err
}

// NewIndexBuilder creates the index builder for cfg. notifyAddr, when not
// nil, supplies the actual push port, which differs from the configured one
// when port 0 was requested.
func NewIndexBuilder(cfg *config.Config, dir string, notifyAddr net.Addr, logger logging.Logger) *index.Builder {
	port := cfg.Notify.Port
	if tcp, ok := notifyAddr.(*net.TCPAddr); ok {
		port = tcp.Port
	}

	return index.NewBuilder(index.Options{
		Dir:         dir,
		SourceExt:   cfg.Watch.SourceExt,
		ArtifactExt: cfg.Render.ArtifactExt,
		FileName:    cfg.Index.File,
		Title:       cfg.Index.Title,
		TimeFormat:  cfg.Index.TimeFormat,
		NotifyPort:  port,
		NotifyPath:  cfg.Notify.Path,
		Logger:      logger,
	})
}

// NewRenderer creates the command renderer for cfg, running in dir.
func NewRenderer(cfg *config.Config, dir string, logger logging.Logger) *renderer.CommandRenderer {
	return renderer.NewCommandRenderer(renderer.Options{
		Command:   cfg.Render.Command,
		Args:      cfg.Render.Args,
		Env:       cfg.Render.Env,
		SourceExt: cfg.Watch.SourceExt,
		Dir:       dir,
		Timeout:   cfg.Render.Timeout,
		Logger:    logger,
	})
}

func printBanner(out io.Writer, info ServerInfo, cfg *config.Config, control bool) {
	fmt.Fprintf(out, "%s\n", bannerTitle.Sprint("livediagram"))
	fmt.Fprintf(out, "  watching  %s (*%s)\n", info.Dir, cfg.Watch.SourceExt)
	fmt.Fprintf(out, "  preview   %s\n", bannerURL.Sprint(info.ServerURL))
	fmt.Fprintf(out, "  notify    %s\n", info.NotifyURL)
	if control {
		fmt.Fprintf(out, "%s\n", bannerHint.Sprint("App is running... Press Enter to quit"))
	}
}

// logStopped reports why the process stopped.
func logStopped(logger logging.Logger, err error) {
	ctx := context.Background()
	switch {
	case err == nil:
		logger.Info(ctx, "shut down")
	case perrors.IsWatchError(err):
		logger.Error(ctx, err, "stopped: the watched directory is no longer available")
	case perrors.IsFatal(err):
		logger.Error(ctx, err, "stopped on fatal error")
	default:
		logger.Warn(ctx, err, "stopped after a recoverable error")
	}
}
