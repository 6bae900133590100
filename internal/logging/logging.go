// Package logging replaces the teacher's ad-hoc utils.Debug file logger
// with structured, leveled logging: zerolog writing through a rotating
// lumberjack sink, the same side-file-independent-of-stdout intent
// expressed with the ecosystem's logger instead of hand-rolled formatting.
package logging

import (
	"io"
	"os"
	"sync"

	"github.com/rs/zerolog"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"

	"github.com/aio-downloader/aiocore/internal/config"
)

var (
	once   sync.Once
	logger zerolog.Logger
)

// Init wires the process-wide logger. Safe to call multiple times; only
// the first call takes effect. verbose also mirrors logs to stderr, the
// direct analogue of the teacher's verbose flag on filename/probe paths.
func Init(verbose bool) zerolog.Logger {
	once.Do(func() {
		logsDir, err := config.GetLogsDir()
		var writers []io.Writer
		if err == nil {
			if mkErr := os.MkdirAll(logsDir, 0o755); mkErr == nil {
				writers = append(writers, &lumberjack.Logger{
					Filename:   logsDir + "/aiocore.log",
					MaxSize:    50, // megabytes
					MaxBackups: 5,
					MaxAge:     28, // days
					Compress:   true,
				})
			}
		}
		if verbose || len(writers) == 0 {
			writers = append(writers, zerolog.ConsoleWriter{Out: os.Stderr})
		}

		level := zerolog.InfoLevel
		if verbose {
			level = zerolog.DebugLevel
		}
		logger = zerolog.New(io.MultiWriter(writers...)).
			Level(level).
			With().Timestamp().Logger()
	})
	return logger
}

// L returns the process-wide logger, initialising it with defaults
// (non-verbose) if Init hasn't run yet.
func L() zerolog.Logger {
	return Init(false)
}
