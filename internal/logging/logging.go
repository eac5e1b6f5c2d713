// Package logging builds the zerolog root logger.
//
// While the TUI owns the terminal, logs go to a file only. Headless runs add
// a console writer on stderr.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"github.com/rs/zerolog"
)

const consoleTimeFormat = "15:04:05.000"

type Options struct {
	Level string

	// File is appended to when set.
	File string

	// Console writes human readable lines to Out (stderr when nil).
	Console bool
	Out     io.Writer
}

// New returns the root logger and a closer for its file. With neither a
// file nor the console enabled the logger discards everything.
func New(opts Options) (zerolog.Logger, io.Closer, error) {
	zerolog.ErrorFieldName = "err"

	writers := make([]io.Writer, 0, 2)
	var closer io.Closer = nopCloser{}

	if opts.Console {
		out := opts.Out
		if out == nil {
			out = os.Stderr
		}
		writers = append(writers, zerolog.ConsoleWriter{Out: out, TimeFormat: consoleTimeFormat})
	}
	if path := strings.TrimSpace(opts.File); path != "" {
		f, err := os.OpenFile(path, os.O_CREATE|os.O_APPEND|os.O_WRONLY, 0o644)
		if err != nil {
			return zerolog.Nop(), nil, fmt.Errorf("open log file: %w", err)
		}
		closer = f
		writers = append(writers, zerolog.SyncWriter(f))
	}
	if len(writers) == 0 {
		return zerolog.Nop(), closer, nil
	}

	lvl, err := ParseLevel(opts.Level)
	if err != nil {
		closer.Close()
		return zerolog.Nop(), nil, err
	}
	log := zerolog.New(zerolog.MultiLevelWriter(writers...)).
		Level(lvl).
		With().Timestamp().
		Logger()
	return log, closer, nil
}

// ParseLevel accepts zerolog level names, case-insensitively. Empty means
// info.
func ParseLevel(s string) (zerolog.Level, error) {
	s = strings.ToLower(strings.TrimSpace(s))
	if s == "" {
		return zerolog.InfoLevel, nil
	}
	if s == "warning" {
		s = "warn"
	}
	lvl, err := zerolog.ParseLevel(s)
	if err != nil {
		return zerolog.NoLevel, fmt.Errorf("log level %q: %w", s, err)
	}
	return lvl, nil
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }
