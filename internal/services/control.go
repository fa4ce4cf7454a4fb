package services

import (
	"bufio"
	"context"
	"io"
	"os"
	"strings"

	"github.com/fatih/color"
	"github.com/mattn/go-isatty"

	"github.com/conneroisu/livediagram/internal/logging"
)

var (
	bannerTitle = color.New(color.FgCyan, color.Bold)
	bannerURL   = color.New(color.FgGreen)
	bannerHint  = color.New(color.FgYellow)
)

// Control input modes.
const (
	ControlAuto = "auto"
	ControlOn   = "on"
	ControlOff  = "off"
)

// ControlInput returns the reader the quit prompt should use for mode, or
// nil when the prompt is disabled. In auto mode the prompt is only enabled
// when stdin is a terminal, so running under a supervisor with stdin closed
// does not stop the process immediately.
func ControlInput(mode string, stdin *os.File) io.Reader {
	switch mode {
	case ControlOff:
		return nil
	case ControlOn:
		return stdin
	default:
		fd := stdin.Fd()
		if isatty.IsTerminal(fd) || isatty.IsCygwinTerminal(fd) {
			return stdin
		}
		return nil
	}
}

// watchControl reads lines from r until one asks to quit, then calls quit.
// End of input disables the prompt without stopping the process.
func watchControl(ctx context.Context, r io.Reader, quit context.CancelFunc, logger logging.Logger) {
	scanner := bufio.NewScanner(r)
	for scanner.Scan() {
		if ctx.Err() != nil {
			return
		}
		if isQuitCommand(scanner.Text()) {
			logger.Info(ctx, "quit requested from control input")
			quit()
			return
		}
		logger.Info(ctx, "unknown command, press Enter or type q to quit", "input", strings.TrimSpace(scanner.Text()))
	}

	if err := scanner.Err(); err != nil {
		logger.Warn(ctx, err, "control input closed")
		return
	}
	logger.Debug(ctx, "control input reached end of file")
}

func isQuitCommand(line string) bool {
	switch strings.ToLower(strings.TrimSpace(line)) {
	case "", "q", "quit", "exit":
		return true
	default:
		return false
	}
}
