package config

import (
	"io"
	"log/slog"
	"os"

	slogmulti "github.com/samber/slog-multi"
)

// SetupLogger creates a dual-output logger: text to console, JSON to logFile.
// console is usually os.Stderr; the MCP server passes it too, since stdout
// carries the protocol. An empty logFile disables the file sink.
// Returns the logger and a cleanup function that closes the file.
func SetupLogger(console io.Writer, logFile string, level slog.Level) (*slog.Logger, func() error) {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{
		Level: level,
	})

	if logFile == "" {
		return slog.New(consoleHandler), func() error { return nil }
	}

	file, err := os.OpenFile(logFile, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
	if err != nil {
		logger := slog.New(consoleHandler)
		logger.Error("failed to open log file, using console only", "error", err, "file", logFile)
		return logger, func() error { return nil }
	}

	logger := SetupLoggerWithWriters(console, file, level)
	return logger, file.Close
}

// SetupLoggerWithWriters fans out to a text handler on console and a JSON
// handler on file.
func SetupLoggerWithWriters(console, file io.Writer, level slog.Level) *slog.Logger {
	consoleHandler := slog.NewTextHandler(console, &slog.HandlerOptions{Level: level})
	fileHandler := slog.NewJSONHandler(file, &slog.HandlerOptions{Level: level})
	return slog.New(slogmulti.Fanout(consoleHandler, fileHandler))
}
