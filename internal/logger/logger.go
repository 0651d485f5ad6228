// Package logger configures the process-wide slog logger for command line
// tools. Library packages take a *slog.Logger instead of using this one.
package logger

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"strings"
	"time"
)

// L is the global logger. It discards everything until Init enables it.
var L = slog.New(slog.DiscardHandler)

const (
	logPrefix     = "streamctl-"
	logSuffix     = ".log"
	retentionDays = 30
)

// Options configures Init.
type Options struct {
	Enabled bool       // false discards all output
	LogDir  string     // write JSON logs to a dated file here; empty logs text to Stderr
	Level   slog.Level // minimum level
	Stderr  io.Writer  // defaults to os.Stderr
}

// Init configures L. The returned close function releases the log file, if
// any.
func Init(opts Options) (func() error, error) {
	noop := func() error { return nil }
	if !opts.Enabled {
		L = slog.New(slog.DiscardHandler)
		return noop, nil
	}

	handlerOpts := &slog.HandlerOptions{Level: opts.Level}
	if opts.LogDir == "" {
		w := opts.Stderr
		if w == nil {
			w = os.Stderr
		}
		L = slog.New(slog.NewTextHandler(w, handlerOpts))
		return noop, nil
	}

	if err := os.MkdirAll(opts.LogDir, 0o755); err != nil {
		return noop, err
	}
	cleanOldLogs(opts.LogDir, time.Now())

	name := filepath.Join(opts.LogDir, logPrefix+time.Now().Format("2006-01-02")+logSuffix)
	f, err := os.OpenFile(name, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
	if err != nil {
		return noop, err
	}
	L = slog.New(slog.NewJSONHandler(f, handlerOpts))
	return f.Close, nil
}

// ParseLevel maps debug, info, warn and error to slog levels.
func ParseLevel(s string) (slog.Level, error) {
	var l slog.Level
	if err := l.UnmarshalText([]byte(strings.TrimSpace(s))); err != nil {
		return 0, fmt.Errorf("logger: unknown level %q", s)
	}
	return l, nil
}

// cleanOldLogs removes dated log files older than retentionDays. Errors are
// ignored.
func cleanOldLogs(dir string, now time.Time) {
	cutoff := now.AddDate(0, 0, -retentionDays)

	entries, err := os.ReadDir(dir)
	if err != nil {
		return
	}
	for _, entry := range entries {
		name := entry.Name()
		if !strings.HasPrefix(name, logPrefix) || !strings.HasSuffix(name, logSuffix) {
			continue
		}
		date, err := time.Parse("2006-01-02", strings.TrimPrefix(strings.TrimSuffix(name, logSuffix), logPrefix))
		if err != nil {
			continue
		}
		if date.Before(cutoff) {
			os.Remove(filepath.Join(dir, name))
		}
	}
}
