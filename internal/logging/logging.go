package logging

import (
	"io"
	"log"
	"os"
	"sync"

	"gopkg.in/natefinch/lumberjack.v2"
)

// Options controls where log output goes.
type Options struct {
	// File is a rotated log file. Empty disables it.
	File       string
	MaxSizeMB  int
	MaxBackups int
	MaxAgeDays int
	// Stderr mirrors every line to stderr.
	Stderr bool
	// UIBuffer is the capacity of the channel feeding the log pane.
	// 0 disables the channel.
	UIBuffer int
}

// Logging owns the shared logger and its outputs.
type Logging struct {
	Logger *log.Logger

	file *lumberjack.Logger
	ui   *uiWriter
}

func New(opts Options) *Logging {
	var writers []io.Writer
	l := &Logging{}
	if opts.File != "" {
		l.file = &lumberjack.Logger{
			Filename:   opts.File,
			MaxSize:    opts.MaxSizeMB,
			MaxBackups: opts.MaxBackups,
			MaxAge:     opts.MaxAgeDays,
		}
		writers = append(writers, l.file)
	}
	if opts.Stderr {
		writers = append(writers, os.Stderr)
	}
	if opts.UIBuffer > 0 {
		l.ui = newUIWriter(opts.UIBuffer)
		writers = append(writers, l.ui)
	}

	var out io.Writer = io.Discard
	if len(writers) > 0 {
		out = io.MultiWriter(writers...)
	}
	l.Logger = log.New(out, "", log.LstdFlags)
	return l
}

// UILogChan returns the channel of log lines for the log pane, or nil when
// disabled. Every value is one complete log entry including its newline.
func (l *Logging) UILogChan() <-chan string {
	if l.ui == nil {
		return nil
	}
	return l.ui.lines
}

// Dropped reports how many lines the log pane missed because it fell behind.
func (l *Logging) Dropped() uint64 {
	if l.ui == nil {
		return 0
	}
	return l.ui.droppedCount()
}

// Close stops feeding the log pane and closes the log file. Lines logged
// afterwards still reach stderr when it is enabled.
func (l *Logging) Close() error {
	if l.ui != nil {
		l.ui.close()
	}
	if l.file != nil {
		return l.file.Close()
	}
	return nil
}

// uiWriter forwards log entries to a channel without ever blocking the caller.
type uiWriter struct {
	mu      sync.Mutex
	lines   chan string
	closed  bool
	dropped uint64
}

func newUIWriter(size int) *uiWriter {
	return &uiWriter{lines: make(chan string, size)}
}

func (w *uiWriter) Write(p []byte) (int, error) {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return len(p), nil
	}
	select {
	case w.lines <- string(p):
	default:
		w.dropped++
	}
	return len(p), nil
}

func (w *uiWriter) droppedCount() uint64 {
	w.mu.Lock()
	defer w.mu.Unlock()
	return w.dropped
}

func (w *uiWriter) close() {
	w.mu.Lock()
	defer w.mu.Unlock()
	if w.closed {
		return
	}
	w.closed = true
	close(w.lines)
}
