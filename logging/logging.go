// Copyright (c) 2025 Girino Vey.
//
// This software is licensed under Girino's Anarchist License (GAL).
// See LICENSE file for full license text.
// License available at: https://license.girino.org/
//
// Logging - module/method scoped verbose logging on top of zap.
package logging

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	lumberjack "gopkg.in/natefinch/lumberjack.v2"
)

var (
	mu             sync.RWMutex
	root           *zap.Logger
	sugar          *zap.SugaredLogger
	level          = zap.NewAtomicLevelAt(zapcore.InfoLevel)
	baseLevel      = zapcore.InfoLevel
	verbose        bool
	verboseAll     bool
	verboseFilters map[string]bool
	exit           = os.Exit
)

func init() {
	cfg := zap.NewDevelopmentEncoderConfig()
	cfg.EncodeTime = zapcore.ISO8601TimeEncoder
	setRoot(zap.New(zapcore.NewCore(zapcore.NewConsoleEncoder(cfg), zapcore.Lock(os.Stderr), level)))
}

// Config controls where and how log lines are written.
type Config struct {
	Level      string
	Format     string
	FilePath   string
	Component  string
	MaxSize    int
	MaxBackups int
	MaxAge     int
}

type Option func(*Config)

func WithLevel(lvl string) Option      { return func(c *Config) { c.Level = lvl } }
func WithFormat(format string) Option  { return func(c *Config) { c.Format = format } }
func WithFile(path string) Option      { return func(c *Config) { c.FilePath = path } }
func WithComponent(name string) Option { return func(c *Config) { c.Component = name } }
func WithRotation(size, backups, age int) Option {
	return func(c *Config) {
		c.MaxSize, c.MaxBackups, c.MaxAge = size, backups, age
	}
}

// Init replaces the default stderr logger. It may be called again to
// reconfigure; the verbose filters set by SetVerbose are kept.
func Init(opts ...Option) error {
	cfg := &Config{Level: "info", Format: "console", MaxSize: 100, MaxBackups: 5, MaxAge: 30}
	for _, apply := range opts {
		apply(cfg)
	}

	var enc zapcore.Encoder
	switch cfg.Format {
	case "json":
		enc = zapcore.NewJSONEncoder(zap.NewProductionEncoderConfig())
	case "console", "":
		ec := zap.NewDevelopmentEncoderConfig()
		ec.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(ec)
	default:
		return fmt.Errorf("unknown log format %q", cfg.Format)
	}

	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return fmt.Errorf("invalid log level: %w", err)
	}

	ws := zapcore.Lock(os.Stderr)
	if cfg.FilePath != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.FilePath), 0o750); err != nil {
			return fmt.Errorf("create log dir: %w", err)
		}
		ws = zapcore.AddSync(&lumberjack.Logger{
			Filename:   cfg.FilePath,
			MaxSize:    cfg.MaxSize,
			MaxBackups: cfg.MaxBackups,
			MaxAge:     cfg.MaxAge,
			Compress:   true,
		})
	}

	mu.Lock()
	baseLevel = lvl
	mu.Unlock()
	applyLevel()

	l := zap.New(zapcore.NewCore(enc, ws, level), zap.AddStacktrace(zapcore.ErrorLevel))
	if cfg.Component != "" {
		l = l.With(zap.String("component", cfg.Component))
	}
	setRoot(l)
	return nil
}

// Replace swaps the underlying logger and returns a function restoring the
// previous one. Mostly useful in tests.
func Replace(l *zap.Logger) func() {
	mu.RLock()
	prev := root
	mu.RUnlock()
	setRoot(l)
	return func() { setRoot(prev) }
}

// L returns the current zap logger.
func L() *zap.Logger {
	mu.RLock()
	defer mu.RUnlock()
	return root
}

// Sync flushes buffered output.
func Sync() error {
	err := L().Sync()
	if err != nil && isPathErr(err) {
		return nil
	}
	return err
}

func setRoot(l *zap.Logger) {
	mu.Lock()
	defer mu.Unlock()
	root = l
	sugar = l.WithOptions(zap.AddCallerSkip(1)).Sugar()
}

func isPathErr(err error) bool {
	_, ok := err.(*os.PathError)
	return ok
}

// SetVerbose sets the verbose logging mode with granular filtering
// Examples:
//   - "" or "false": disable all verbose logging
//   - "true" or "all": enable all verbose logging
//   - "relaypool,client": enable verbose for the relaypool and client modules
//   - "relaypool.Fetch,cli": enable relaypool.Fetch and all of cli
//
// This function is typically called early in main() with:
//
//	logging.SetVerbose(os.Getenv("VERBOSE"))
func SetVerbose(verboseStr string) {
	mu.Lock()
	verboseFilters = make(map[string]bool)
	verboseAll = false
	verbose = false

	switch verboseStr {
	case "", "false", "0":
	case "true", "all", "1":
		verbose = true
		verboseAll = true
	default:
		for _, f := range strings.Split(verboseStr, ",") {
			f = strings.TrimSpace(f)
			if f != "" {
				verboseFilters[f] = true
				verbose = true
			}
		}
	}
	mu.Unlock()
	applyLevel()
}

// applyLevel lowers the core to debug while any verbose filter is active so
// DebugMethod output is not swallowed.
func applyLevel() {
	mu.RLock()
	lvl := baseLevel
	if verbose && lvl > zapcore.DebugLevel {
		lvl = zapcore.DebugLevel
	}
	mu.RUnlock()
	level.SetLevel(lvl)
}

// IsVerbose checks if verbose logging is enabled for a specific module or method
func IsVerbose(module string, method string) bool {
	mu.RLock()
	defer mu.RUnlock()
	if !verbose {
		return false
	}
	if verboseAll {
		return true
	}
	if method != "" && verboseFilters[module+"."+method] {
		return true
	}
	return verboseFilters[module]
}

// DebugMethod logs debug messages for a specific module.method (only in verbose mode)
func DebugMethod(module string, method string, format string, v ...interface{}) {
	if IsVerbose(module, method) {
		current().Debugf("["+module+"."+method+"] "+format, v...)
	}
}

// Info logs informational messages (always shown)
func Info(format string, v ...interface{}) {
	current().Infof(format, v...)
}

// Warn logs warning messages (always shown)
func Warn(format string, v ...interface{}) {
	current().Warnf(format, v...)
}

// Error logs error messages (always shown)
func Error(format string, v ...interface{}) {
	current().Errorf(format, v...)
}

// Fatal logs error messages and exits with status code 1
func Fatal(format string, v ...interface{}) {
	current().Errorf(format, v...)
	_ = Sync()
	exit(1)
}

func current() *zap.SugaredLogger {
	mu.RLock()
	defer mu.RUnlock()
	return sugar
}
