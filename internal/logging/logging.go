// Package logging builds the zerolog logger used by the command line and the
// HTTP server. Library packages return warnings instead of logging.
package logging

import (
	"io"
	"os"
	"strings"
	"time"

	"github.com/rs/zerolog"
	"gopkg.in/natefinch/lumberjack.v2"

	"github.com/John-Robertt/mihomocli/internal/model"
)

type Options struct {
	Level string
	// Writers lists "console" and/or "file". Empty means console.
	Writers []string
	// File is the rotating log file used by the "file" writer.
	File string

	// Console overrides os.Stderr (tests).
	Console io.Writer
}

// ParseLevel maps debug|info|warn|error to a zerolog level, defaulting to info.
func ParseLevel(s string) zerolog.Level {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "debug":
		return zerolog.DebugLevel
	case "warn", "warning":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	default:
		return zerolog.InfoLevel
	}
}

// New returns a logger writing to every configured writer. The closer
// releases the rotating file, if any.
func New(opt Options) (zerolog.Logger, io.Closer) {
	writers := opt.Writers
	if len(writers) == 0 {
		writers = []string{"console"}
	}

	var outs []io.Writer
	var closer io.Closer = nopCloser{}
	for _, w := range writers {
		switch w {
		case "console":
			console := opt.Console
			if console == nil {
				console = os.Stderr
			}
			outs = append(outs, zerolog.ConsoleWriter{Out: console, TimeFormat: time.TimeOnly, NoColor: opt.Console != nil})
		case "file":
			if opt.File == "" {
				continue
			}
			lj := &lumberjack.Logger{
				Filename:   opt.File,
				MaxSize:    1,
				MaxAge:     30,
				MaxBackups: 3,
				LocalTime:  true,
			}
			outs = append(outs, lj)
			closer = lj
		}
	}
	if len(outs) == 0 {
		return zerolog.Nop(), closer
	}
	return zerolog.New(zerolog.MultiLevelWriter(outs...)).
		With().
		Timestamp().
		Logger().
		Level(ParseLevel(opt.Level)), closer
}

type nopCloser struct{}

func (nopCloser) Close() error { return nil }

// Warnings logs each pipeline warning at warn level with its structured fields.
func Warnings(l zerolog.Logger, warnings []model.Warning) {
	for _, w := range warnings {
		ev := l.Warn().Str("code", w.Code).Str("stage", w.Stage)
		if w.URL != "" {
			ev = ev.Str("source", w.URL)
		}
		if w.Line > 0 {
			ev = ev.Int("line", w.Line)
		}
		if w.Hint != "" {
			ev = ev.Str("hint", w.Hint)
		}
		ev.Msg(w.Message)
	}
}
