// Package logging defines the Logger interface used throughout the engine.
// It also includes functions for setting the global log level and a
// per-package log level.
package logging

import (
	"io"
	"os"
	"runtime"
	"strings"
	"sync"

	"github.com/mattn/go-isatty"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var (
	logLevel      zapcore.Level
	packageLevels = make(map[string]zapcore.Level)
	mut           sync.RWMutex
)

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zap.DebugLevel
	case "info":
		return zap.InfoLevel
	case "warn":
		return zap.WarnLevel
	case "error":
		return zap.ErrorLevel
	case "panic":
		return zap.PanicLevel
	case "fatal":
		return zap.FatalLevel
	default:
		panic("invalid log level '" + level + "'")
	}
}

// SetLogLevel sets the global log level.
func SetLogLevel(levelStr string) {
	level := parseLevel(levelStr)
	mut.Lock()
	logLevel = level
	mut.Unlock()
}

// SetPackageLogLevel sets a log level for a package, overriding the global level.
func SetPackageLogLevel(packageName, levelStr string) {
	level := parseLevel(levelStr)
	mut.Lock()
	packageLevels[packageName] = level
	mut.Unlock()
}

// Logger is the logging interface used by the engine. It is based on zap.SugaredLogger.
type Logger interface {
	Debug(args ...any)
	Debugf(template string, args ...any)
	Info(args ...any)
	Infof(template string, args ...any)
	Warn(args ...any)
	Warnf(template string, args ...any)
	Error(args ...any)
	Errorf(template string, args ...any)
	Panic(args ...any)
	Panicf(template string, args ...any)
	Fatal(args ...any)
	Fatalf(template string, args ...any)
}

type wrapper struct {
	inner *zap.SugaredLogger
	level zap.AtomicLevel
	mut   sync.Mutex
}

// updateLevel applies the per-package level of the calling package, if any.
func (wr *wrapper) updateLevel() {
	mut.RLock()
	defer mut.RUnlock()

	if len(packageLevels) == 0 {
		return
	}

	if _, file, _, ok := runtime.Caller(3); ok {
		for pkg, level := range packageLevels {
			if strings.Contains(file, pkg) {
				wr.level.SetLevel(level)
				return
			}
		}
	}

	wr.level.SetLevel(logLevel)
}

func (wr *wrapper) log(fn func(args ...any), args ...any) {
	wr.mut.Lock()
	defer wr.mut.Unlock()
	wr.updateLevel()
	fn(args...)
}

func (wr *wrapper) logf(fn func(template string, args ...any), template string, args ...any) {
	wr.mut.Lock()
	defer wr.mut.Unlock()
	wr.updateLevel()
	fn(template, args...)
}

func (wr *wrapper) Debug(args ...any) { wr.log(wr.inner.Debug, args...) }
func (wr *wrapper) Info(args ...any)  { wr.log(wr.inner.Info, args...) }
func (wr *wrapper) Warn(args ...any)  { wr.log(wr.inner.Warn, args...) }
func (wr *wrapper) Error(args ...any) { wr.log(wr.inner.Error, args...) }
func (wr *wrapper) Panic(args ...any) { wr.log(wr.inner.Panic, args...) }
func (wr *wrapper) Fatal(args ...any) { wr.log(wr.inner.Fatal, args...) }

func (wr *wrapper) Debugf(template string, args ...any) { wr.logf(wr.inner.Debugf, template, args...) }
func (wr *wrapper) Infof(template string, args ...any)  { wr.logf(wr.inner.Infof, template, args...) }
func (wr *wrapper) Warnf(template string, args ...any)  { wr.logf(wr.inner.Warnf, template, args...) }
func (wr *wrapper) Errorf(template string, args ...any) { wr.logf(wr.inner.Errorf, template, args...) }
func (wr *wrapper) Panicf(template string, args ...any) { wr.logf(wr.inner.Panicf, template, args...) }
func (wr *wrapper) Fatalf(template string, args ...any) { wr.logf(wr.inner.Fatalf, template, args...) }

// New returns a new logger for stderr with the given name.
func New(name string) Logger {
	var config zap.Config
	if strings.ToLower(os.Getenv("DBFT_LOG_TYPE")) == "json" {
		config = zap.NewProductionConfig()
	} else {
		config = zap.NewDevelopmentConfig()
		if isatty.IsTerminal(os.Stderr.Fd()) || isatty.IsCygwinTerminal(os.Stderr.Fd()) {
			config.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		}
	}
	mut.RLock()
	config.Level.SetLevel(logLevel)
	mut.RUnlock()
	l, err := config.Build(zap.AddCallerSkip(2))
	if err != nil {
		panic(err)
	}
	return &wrapper{inner: l.Sugar().Named(name), level: config.Level}
}

// NewWithDest returns a new logger for the given destination with the given name.
func NewWithDest(dest io.Writer, name string) Logger {
	atom := zap.NewAtomicLevelAt(logLevel)
	core := zapcore.NewCore(zapcore.NewConsoleEncoder(zap.NewDevelopmentEncoderConfig()), zapcore.AddSync(dest), atom)
	l := zap.New(core, zap.AddCallerSkip(2))
	return &wrapper{inner: l.Sugar().Named(name), level: atom}
}
