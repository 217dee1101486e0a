// Package common provides the configuration and logging setup shared by keybox components
package common

import (
	"fmt"
	"io"
	"os"
	"strings"
	"sync"

	"github.com/lni/dragonboat/v4/logger"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// LoggerNames lists the loggers of all keybox packages
var LoggerNames = []string{"box", "reaper", "snapshot", "lockmgr", "cli"}

// --------------------------------------------------------------------------
// Custom Logger (implements dragonboats logger.ILogger, backed by zap)
// --------------------------------------------------------------------------

// keyboxLogger implements the ILogger interface on top of a zap sugared logger.
// Each logger has its own level so SetLevel only affects one package.
type keyboxLogger struct {
	level zap.AtomicLevel
	sugar *zap.SugaredLogger
}

func (l *keyboxLogger) SetLevel(level logger.LogLevel) {
	l.level.SetLevel(toZapLevel(level))
}

func (l *keyboxLogger) Debugf(format string, args ...interface{}) {
	l.sugar.Debugf(format, args...)
}

func (l *keyboxLogger) Infof(format string, args ...interface{}) {
	l.sugar.Infof(format, args...)
}

func (l *keyboxLogger) Warningf(format string, args ...interface{}) {
	l.sugar.Warnf(format, args...)
}

func (l *keyboxLogger) Errorf(format string, args ...interface{}) {
	l.sugar.Errorf(format, args...)
}

func (l *keyboxLogger) Panicf(format string, args ...interface{}) {
	l.sugar.Panicf(format, args...)
}

// --------------------------------------------------------------------------
// Logger Factory
// --------------------------------------------------------------------------

// factorySettings are applied to every logger the factory creates
var factorySettings = struct {
	mu     sync.Mutex
	level  logger.LogLevel
	format string
	out    zapcore.WriteSyncer
}{
	level:  logger.INFO,
	format: "text",
	out:    zapcore.Lock(os.Stderr),
}

// newEncoder returns the zap encoder for the format.
// The text format keeps the "time | LEVEL | name | message" layout.
func newEncoder(format string) zapcore.Encoder {
	if format == "json" {
		cfg := zap.NewProductionEncoderConfig()
		cfg.EncodeTime = zapcore.ISO8601TimeEncoder
		return zapcore.NewJSONEncoder(cfg)
	}

	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.TimeEncoderOfLayout("2006/01/02 15:04:05")
	cfg.EncodeLevel = zapcore.CapitalLevelEncoder
	cfg.EncodeName = func(name string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString(fmt.Sprintf("%-10s", name))
	}
	cfg.CallerKey = zapcore.OmitKey
	cfg.StacktraceKey = zapcore.OmitKey
	cfg.ConsoleSeparator = " | "
	return zapcore.NewConsoleEncoder(cfg)
}

// CreateLogger implements the logger.Factory interface
func CreateLogger(pkgName string) logger.ILogger {
	factorySettings.mu.Lock()
	defer factorySettings.mu.Unlock()

	level := zap.NewAtomicLevelAt(toZapLevel(factorySettings.level))
	core := zapcore.NewCore(newEncoder(factorySettings.format), factorySettings.out, level)

	return &keyboxLogger{
		level: level,
		sugar: zap.New(core).Named(pkgName).Sugar(),
	}
}

// --------------------------------------------------------------------------
// Helper
// --------------------------------------------------------------------------

// parseLogLevel converts a string level to logger.LogLevel
func parseLogLevel(level string) (logger.LogLevel, error) {
	switch strings.ToLower(level) {
	case "debug":
		return logger.DEBUG, nil
	case "info":
		return logger.INFO, nil
	case "warning", "warn":
		return logger.WARNING, nil
	case "error":
		return logger.ERROR, nil
	default:
		return 0, fmt.Errorf("invalid log level: %s. must be one of debug, info, warn, error", level)
	}
}

// parseLogFormat validates the log format
func parseLogFormat(format string) (string, error) {
	switch strings.ToLower(format) {
	case "text", "":
		return "text", nil
	case "json":
		return "json", nil
	default:
		return "", fmt.Errorf("invalid log format: %s. must be one of text, json", format)
	}
}

// toZapLevel maps dragonboat levels to zap levels
func toZapLevel(level logger.LogLevel) zapcore.Level {
	switch level {
	case logger.DEBUG:
		return zapcore.DebugLevel
	case logger.INFO:
		return zapcore.InfoLevel
	case logger.WARNING:
		return zapcore.WarnLevel
	case logger.ERROR:
		return zapcore.ErrorLevel
	default:
		return zapcore.DPanicLevel
	}
}

// --------------------------------------------------------------------------
// Logger initialization
// --------------------------------------------------------------------------

// InitLoggers installs the zap backed logger factory with the level and format of
// the config. Log output goes to stderr.
func InitLoggers(config EngineConfig) error {
	return initLoggers(config.LogLevel, config.LogFormat, os.Stderr)
}

func initLoggers(levelName, formatName string, out io.Writer) error {
	level, err := parseLogLevel(levelName)
	if err != nil {
		return err
	}
	format, err := parseLogFormat(formatName)
	if err != nil {
		return err
	}

	factorySettings.mu.Lock()
	factorySettings.level = level
	factorySettings.format = format
	factorySettings.out = zapcore.Lock(zapcore.AddSync(out))
	factorySettings.mu.Unlock()

	// Set as the global logger factory, this replaces the backend of all existing loggers
	logger.SetLoggerFactory(CreateLogger)

	for _, name := range LoggerNames {
		logger.GetLogger(name).SetLevel(level)
	}
	return nil
}
