// Package logger provides structured logging for the FlowCon controller.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
	"path/filepath"
	"sync"
)

var (
	globalLogger *Logger
	once         sync.Once
)

// Logger wraps slog.Logger with FlowCon-specific helpers.
type Logger struct {
	*slog.Logger
	component string
}

// Config holds logger configuration.
type Config struct {
	Level     string // debug, info, warn, error
	Format    string // "json" or "text"
	Output    string // "stdout", "stderr", or a file path (e.g. FlowCon.log)
	Component string
}

// New creates a new logger instance.
func New(cfg Config) (*Logger, error) {
	var level slog.Level
	switch cfg.Level {
	case "debug":
		level = slog.LevelDebug
	case "info":
		level = slog.LevelInfo
	case "warn":
		level = slog.LevelWarn
	case "error":
		level = slog.LevelError
	default:
		level = slog.LevelInfo
	}

	var writer io.Writer
	output := cfg.Output
	if output == "" {
		output = "stdout"
	}

	switch output {
	case "stdout":
		writer = os.Stdout
	case "stderr":
		writer = os.Stderr
	default:
		if dir := filepath.Dir(output); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create log directory: %w", err)
			}
		}
		file, err := os.OpenFile(output, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0644)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		writer = file
	}

	opts := &slog.HandlerOptions{Level: level}

	var handler slog.Handler
	if cfg.Format == "json" {
		handler = slog.NewJSONHandler(writer, opts)
	} else {
		handler = slog.NewTextHandler(writer, opts)
	}

	component := cfg.Component
	if component == "" {
		component = "flowcon"
	}

	slogger := slog.New(handler).With("component", component)

	return &Logger{Logger: slogger, component: component}, nil
}

// Initialize sets up the global logger, once per process.
func Initialize(level, format, output string) error {
	var onceErr error
	once.Do(func() {
		if output == "" {
			output = "FlowCon.log"
		}
		if format == "" {
			format = "text"
		}
		if level == "" {
			level = "info"
		}

		l, err := New(Config{Level: level, Format: format, Output: output, Component: "flowcon"})
		if err != nil {
			onceErr = fmt.Errorf("failed to initialize logger: %w", err)
			return
		}
		globalLogger = l
		globalLogger.Info("logger initialized", "level", level, "format", format, "output", output)
	})
	return onceErr
}

// Global returns the global logger, falling back to a stdout default if
// Initialize was never called (e.g. in unit tests).
func Global() *Logger {
	if globalLogger == nil {
		l, _ := New(Config{Level: "info", Format: "text", Output: "stdout", Component: "flowcon"})
		return l
	}
	return globalLogger
}

// WithComponent returns a derived logger tagged with a component name.
func (l *Logger) WithComponent(component string) *Logger {
	return &Logger{Logger: l.Logger.With("component", component), component: component}
}

// WithExperiment returns a derived logger tagged with the experiment name.
func (l *Logger) WithExperiment(name string) *Logger {
	return &Logger{Logger: l.Logger.With("experiment", name), component: l.component}
}

// WithContainerID returns a derived logger tagged with a container id.
func (l *Logger) WithContainerID(containerID string) *Logger {
	return &Logger{Logger: l.Logger.With("container_id", containerID), component: l.component}
}

// ErrorEvent logs an error with its type, for consistent triage in FlowCon.log.
func (l *Logger) ErrorEvent(ctx context.Context, message string, err error, attrs ...slog.Attr) {
	base := []slog.Attr{
		slog.String("error", err.Error()),
		slog.String("error_type", fmt.Sprintf("%T", err)),
	}
	l.LogAttrs(ctx, slog.LevelError, message, append(base, attrs...)...)
}

// Info logs an info message on the global logger.
func Info(msg string, args ...any) { Global().Info(msg, args...) }

// Warn logs a warning message on the global logger.
func Warn(msg string, args ...any) { Global().Warn(msg, args...) }

// Error logs an error message on the global logger.
func Error(msg string, args ...any) { Global().Error(msg, args...) }

// Debug logs a debug message on the global logger.
func Debug(msg string, args ...any) { Global().Debug(msg, args...) }
