package logging

import (
	"io"
	"log/slog"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

const (
	// logMaxSizeMB is the file size at which the log file is rotated.
	logMaxSizeMB = 10

	// logMaxBackups is the number of rotated log files kept on disk.
	logMaxBackups = 3

	// logMaxAgeDays is how long rotated log files are retained.
	logMaxAgeDays = 28
)

// NewLogger creates a structured logger appropriate for the environment.
// Production uses JSON format, development uses human-readable text.
// When logFile is non-empty, output goes to a size-rotated file at that
// path instead of stdout.
func NewLogger(env, logFile string) *slog.Logger {
	var out io.Writer = os.Stdout

	if logFile != "" {
		out = &lumberjack.Logger{
			Filename:   logFile,
			MaxSize:    logMaxSizeMB,
			MaxBackups: logMaxBackups,
			MaxAge:     logMaxAgeDays,
		}
	}

	var handler slog.Handler

	opts := &slog.HandlerOptions{
		Level: slog.LevelInfo,
	}

	if env == "production" {
		handler = slog.NewJSONHandler(out, opts)
	} else {
		opts.Level = slog.LevelDebug
		handler = slog.NewTextHandler(out, opts)
	}

	return slog.New(handler)
}
