// Package logging configures the process-wide slog logger: JSON records to
// stdout and a per-day log file, with old files cleaned up on startup.
package logging

import (
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	"github.com/quantex-io/depositwatch/internal/config"
)

const logFilePattern = "depositwatch-*.log"

// Setup installs the default slog logger. The returned closer owns the log
// file handle and should be closed on shutdown. Debug level also annotates
// records with their source location.
func Setup(levelStr, logDir string) (io.Closer, error) {
	var level slog.Level
	if err := level.UnmarshalText([]byte(levelStr)); err != nil {
		return nil, fmt.Errorf("failed to parse log level %q: %w", levelStr, err)
	}

	file, err := openLogFile(logDir)
	if err != nil {
		return nil, err
	}

	handler := slog.NewJSONHandler(io.MultiWriter(os.Stdout, file), &slog.HandlerOptions{
		Level:     level,
		AddSource: level == slog.LevelDebug,
	})
	slog.SetDefault(slog.New(handler))

	slog.Info("logging initialized",
		"level", level,
		"logDir", logDir,
		"logFile", filepath.Base(file.Name()),
	)

	if removed := CleanOldLogs(logDir, config.LogMaxAgeDays); removed > 0 {
		slog.Info("cleaned old log files",
			"removed", removed,
			"maxAgeDays", config.LogMaxAgeDays,
		)
	}

	return file, nil
}

// openLogFile opens (appending) today's log file, creating logDir as needed.
func openLogFile(logDir string) (*os.File, error) {
	if err := os.MkdirAll(logDir, 0o755); err != nil {
		return nil, fmt.Errorf("failed to create log directory %q: %w", logDir, err)
	}

	name := fmt.Sprintf("depositwatch-%s.log", time.Now().Format("2006-01-02"))
	path := filepath.Join(logDir, name)

	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %q: %w", path, err)
	}
	return file, nil
}

// CleanOldLogs deletes log files in logDir older than maxAgeDays.
// Returns the number of files removed.
func CleanOldLogs(logDir string, maxAgeDays int) int {
	cutoff := time.Now().AddDate(0, 0, -maxAgeDays)

	matches, err := filepath.Glob(filepath.Join(logDir, logFilePattern))
	if err != nil {
		slog.Warn("failed to scan log directory for cleanup", "logDir", logDir, "error", err)
		return 0
	}

	removed := 0
	for _, path := range matches {
		info, err := os.Stat(path)
		if err != nil || info.IsDir() {
			continue
		}
		if info.ModTime().Before(cutoff) {
			if err := os.Remove(path); err != nil {
				slog.Warn("failed to remove old log file", "file", path, "error", err)
				continue
			}
			removed++
		}
	}

	return removed
}
