package logger

import (
	"fmt"
	"io"
	"os"
	"path/filepath"
	"runtime"
	"strings"
	"time"

	"github.com/sirupsen/logrus"
)

// Logger interface defines the logging contract
type Logger interface {
	Debug(args ...interface{})
	Debugf(format string, args ...interface{})
	Info(args ...interface{})
	Infof(format string, args ...interface{})
	Warn(args ...interface{})
	Warnf(format string, args ...interface{})
	Error(args ...interface{})
	Errorf(format string, args ...interface{})
	Fatal(args ...interface{})
	Fatalf(format string, args ...interface{})
	WithField(key string, value interface{}) Logger
	WithFields(fields Fields) Logger
	WithError(err error) Logger
	WithComponent(component string) Logger
}

// Fields represents a map of key-value pairs for structured logging
type Fields map[string]interface{}

// Config holds configuration options for the logger
type Config struct {
	Level            Level  `json:"level" mapstructure:"level"`
	Format           Format `json:"format" mapstructure:"format"`
	Output           Output `json:"output" mapstructure:"output"`
	File             string `json:"file,omitempty" mapstructure:"file"`
	DisableTimestamp bool   `json:"disable_timestamp,omitempty" mapstructure:"disable_timestamp"`
	CallerInfo       bool   `json:"caller_info,omitempty" mapstructure:"caller_info"`
}

// Level represents log levels
type Level string

const (
	DebugLevel Level = "debug"
	InfoLevel  Level = "info"
	WarnLevel  Level = "warn"
	ErrorLevel Level = "error"
	FatalLevel Level = "fatal"
)

// Format represents log output formats
type Format string

const (
	JSONFormat Format = "json"
	TextFormat Format = "text"
)

// Output represents log output destinations
type Output string

const (
	StdoutOutput Output = "stdout"
	StderrOutput Output = "stderr"
	FileOutput   Output = "file"
)

// entryLogger wraps a logrus entry so derived loggers keep their fields
type entryLogger struct {
	entry *logrus.Entry
}

// NewLogger creates a new logger with the given configuration
func NewLogger(config *Config) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}

	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}

	writer, err := getOutputWriter(config)
	if err != nil {
		return nil, fmt.Errorf("failed to set log output: %w", err)
	}

	return newWithWriter(config, writer)
}

// NewWithWriter builds a logger that writes to w regardless of config.Output.
// Tests use it to capture log lines.
func NewWithWriter(config *Config, w io.Writer) (Logger, error) {
	if config == nil {
		config = DefaultConfig()
	}
	if err := config.Validate(); err != nil {
		return nil, fmt.Errorf("invalid logger configuration: %w", err)
	}
	return newWithWriter(config, w)
}

func newWithWriter(config *Config, w io.Writer) (Logger, error) {
	base := logrus.New()

	level, err := logrus.ParseLevel(string(config.Level))
	if err != nil {
		return nil, fmt.Errorf("invalid log level %s: %w", config.Level, err)
	}
	base.SetLevel(level)
	base.SetOutput(w)
	base.SetFormatter(getFormatter(config))
	base.SetReportCaller(config.CallerInfo)

	return &entryLogger{entry: logrus.NewEntry(base)}, nil
}

// Discard returns a logger that drops everything
func Discard() Logger {
	base := logrus.New()
	base.SetOutput(io.Discard)
	return &entryLogger{entry: logrus.NewEntry(base)}
}

// DefaultConfig returns a default logger configuration
func DefaultConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: TextFormat,
		Output: StderrOutput,
	}
}

// DebugConfig returns a configuration suitable for debugging
func DebugConfig() *Config {
	return &Config{
		Level:      DebugLevel,
		Format:     TextFormat,
		Output:     StderrOutput,
		CallerInfo: true,
	}
}

// ProductionConfig returns a configuration suitable for the long-running service
func ProductionConfig() *Config {
	return &Config{
		Level:  InfoLevel,
		Format: JSONFormat,
		Output: StdoutOutput,
	}
}

// Validate validates the logger configuration
func (c *Config) Validate() error {
	switch c.Level {
	case DebugLevel, InfoLevel, WarnLevel, ErrorLevel, FatalLevel:
	default:
		return fmt.Errorf("invalid log level: %s", c.Level)
	}

	switch c.Format {
	case JSONFormat, TextFormat:
	default:
		return fmt.Errorf("invalid log format: %s", c.Format)
	}

	switch c.Output {
	case StdoutOutput, StderrOutput:
	case FileOutput:
		if strings.TrimSpace(c.File) == "" {
			return fmt.Errorf("log file path is required for file output")
		}
	default:
		return fmt.Errorf("invalid log output: %s", c.Output)
	}

	return nil
}

func getOutputWriter(config *Config) (io.Writer, error) {
	switch config.Output {
	case StdoutOutput:
		return os.Stdout, nil
	case FileOutput:
		if err := os.MkdirAll(filepath.Dir(config.File), 0755); err != nil {
			return nil, fmt.Errorf("failed to create log directory: %w", err)
		}
		file, err := os.OpenFile(config.File, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0666)
		if err != nil {
			return nil, fmt.Errorf("failed to open log file: %w", err)
		}
		return file, nil
	default:
		return os.Stderr, nil
	}
}

func getFormatter(config *Config) logrus.Formatter {
	if config.Format == JSONFormat {
		return &logrus.JSONFormatter{
			DisableTimestamp: config.DisableTimestamp,
			TimestampFormat:  time.RFC3339,
			CallerPrettyfier: func(f *runtime.Frame) (string, string) {
				return fmt.Sprintf("%s()", f.Function), fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
			},
		}
	}

	return &logrus.TextFormatter{
		DisableTimestamp: config.DisableTimestamp,
		TimestampFormat:  "2006-01-02 15:04:05",
		FullTimestamp:    !config.DisableTimestamp,
		CallerPrettyfier: func(f *runtime.Frame) (string, string) {
			return "", fmt.Sprintf("%s:%d", filepath.Base(f.File), f.Line)
		},
	}
}

func (l *entryLogger) Debug(args ...interface{})                 { l.entry.Debug(args...) }
func (l *entryLogger) Debugf(format string, args ...interface{}) { l.entry.Debugf(format, args...) }
func (l *entryLogger) Info(args ...interface{})                  { l.entry.Info(args...) }
func (l *entryLogger) Infof(format string, args ...interface{})  { l.entry.Infof(format, args...) }
func (l *entryLogger) Warn(args ...interface{})                  { l.entry.Warn(args...) }
func (l *entryLogger) Warnf(format string, args ...interface{})  { l.entry.Warnf(format, args...) }
func (l *entryLogger) Error(args ...interface{})                 { l.entry.Error(args...) }
func (l *entryLogger) Errorf(format string, args ...interface{}) { l.entry.Errorf(format, args...) }
func (l *entryLogger) Fatal(args ...interface{})                 { l.entry.Fatal(args...) }
func (l *entryLogger) Fatalf(format string, args ...interface{}) { l.entry.Fatalf(format, args...) }

func (l *entryLogger) WithField(key string, value interface{}) Logger {
	return &entryLogger{entry: l.entry.WithField(key, value)}
}

func (l *entryLogger) WithFields(fields Fields) Logger {
	return &entryLogger{entry: l.entry.WithFields(logrus.Fields(fields))}
}

func (l *entryLogger) WithError(err error) Logger {
	return &entryLogger{entry: l.entry.WithError(err)}
}

func (l *entryLogger) WithComponent(component string) Logger {
	return l.WithField("component", component)
}

var globalLogger Logger

func init() {
	var err error
	globalLogger, err = NewLogger(DefaultConfig())
	if err != nil {
		logrus.WithError(err).Fatal("Failed to initialize logger")
	}
}

// SetGlobalLogger sets the global logger instance
func SetGlobalLogger(logger Logger) {
	globalLogger = logger
}

// GetGlobalLogger returns the global logger instance
func GetGlobalLogger() Logger {
	return globalLogger
}

// OrGlobal returns l, or the global logger when l is nil
func OrGlobal(l Logger) Logger {
	if l == nil {
		return globalLogger
	}
	return l
}

func Debug(args ...interface{})                 { globalLogger.Debug(args...) }
func Debugf(format string, args ...interface{}) { globalLogger.Debugf(format, args...) }
func Info(args ...interface{})                  { globalLogger.Info(args...) }
func Infof(format string, args ...interface{})  { globalLogger.Infof(format, args...) }
func Warn(args ...interface{})                  { globalLogger.Warn(args...) }
func Warnf(format string, args ...interface{})  { globalLogger.Warnf(format, args...) }
func Error(args ...interface{})                 { globalLogger.Error(args...) }
func Errorf(format string, args ...interface{}) { globalLogger.Errorf(format, args...) }

func WithField(key string, value interface{}) Logger { return globalLogger.WithField(key, value) }
func WithFields(fields Fields) Logger                { return globalLogger.WithFields(fields) }
func WithError(err error) Logger                     { return globalLogger.WithError(err) }
func WithComponent(component string) Logger          { return globalLogger.WithComponent(component) }
