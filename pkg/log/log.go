// Copyright 2026 Stackmesh Authors
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//   http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package log provides leveled, structured logging on top of zap. Loggers
// carry context as key/value pairs, mirroring the callers' call sites:
//
//	log.Info("link state changed", "port", port, "state", state)
package log

import (
	"fmt"
	"os"
	"runtime/debug"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Level is the log level.
type Level zapcore.Level

// The supported log levels.
const (
	LevelDebug = Level(zapcore.DebugLevel)
	LevelInfo  = Level(zapcore.InfoLevel)
	LevelError = Level(zapcore.ErrorLevel)
)

// Logger describes the logger interface.
type Logger interface {
	// New creates a child logger with the given context attached to every
	// entry.
	New(ctx ...any) Logger
	Debug(msg string, ctx ...any)
	Info(msg string, ctx ...any)
	Error(msg string, ctx ...any)
	// Enabled returns whether the given level is enabled.
	Enabled(lvl Level) bool
}

// Config configures the logging output.
type Config struct {
	// Level of the logging entries to emit, one of "debug", "info", "error".
	// The default is "info".
	Level string `toml:"level,omitempty" yaml:"level,omitempty"`
	// Format of the entries, either "human" or "json". The default is
	// "human".
	Format string `toml:"format,omitempty" yaml:"format,omitempty"`
}

// InitDefaults populates unset fields with default values.
func (cfg *Config) InitDefaults() {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.Format == "" {
		cfg.Format = "human"
	}
}

// Validate checks that the configuration is parsable.
func (cfg *Config) Validate() error {
	cfg.InitDefaults()
	if _, err := zapcore.ParseLevel(cfg.Level); err != nil {
		return err
	}
	switch cfg.Format {
	case "human", "json":
		return nil
	default:
		return fmt.Errorf("unknown log format: %s", cfg.Format)
	}
}

// Setup configures the root logger. It must be called before the root
// logger is used.
func Setup(cfg Config) error {
	cfg.InitDefaults()
	if err := cfg.Validate(); err != nil {
		return err
	}
	lvl, err := zapcore.ParseLevel(cfg.Level)
	if err != nil {
		return err
	}
	encoding := "console"
	encCfg := zap.NewDevelopmentEncoderConfig()
	if cfg.Format == "json" {
		encoding = "json"
		encCfg = zap.NewProductionEncoderConfig()
	}
	zCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(lvl),
		DisableStacktrace: true,
		Encoding:          encoding,
		EncoderConfig:     encCfg,
		OutputPaths:       []string{"stderr"},
		ErrorOutputPaths:  []string{"stderr"},
	}
	l, err := zCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return err
	}
	root = &logger{logger: l}
	return nil
}

var root Logger = &logger{logger: zap.NewNop()}

// Root returns the root logger. It never returns nil.
func Root() Logger {
	return root
}

// New creates a child of the root logger with the given context.
func New(ctx ...any) Logger {
	return root.New(ctx...)
}

// Debug logs at debug level on the root logger.
func Debug(msg string, ctx ...any) { root.Debug(msg, ctx...) }

// Info logs at info level on the root logger.
func Info(msg string, ctx ...any) { root.Info(msg, ctx...) }

// Error logs at error level on the root logger.
func Error(msg string, ctx ...any) { root.Error(msg, ctx...) }

// HandlePanic catches panics and logs them. Every goroutine must defer a
// call to it as the first statement.
func HandlePanic() {
	if msg := recover(); msg != nil {
		root.Error("panic", "msg", msg, "stack", string(debug.Stack()))
		os.Exit(255)
	}
}

type logger struct {
	logger *zap.Logger
}

// NewZapLogger wraps an existing zap logger.
func NewZapLogger(l *zap.Logger) Logger {
	return &logger{logger: l}
}

func (l *logger) New(ctx ...any) Logger {
	return &logger{logger: l.logger.With(convertCtx(ctx)...)}
}

func (l *logger) Debug(msg string, ctx ...any) {
	l.logger.Debug(msg, convertCtx(ctx)...)
}

func (l *logger) Info(msg string, ctx ...any) {
	l.logger.Info(msg, convertCtx(ctx)...)
}

func (l *logger) Error(msg string, ctx ...any) {
	l.logger.Error(msg, convertCtx(ctx)...)
}

func (l *logger) Enabled(lvl Level) bool {
	return l.logger.Core().Enabled(zapcore.Level(lvl))
}

// Discard returns a logger that drops all entries.
func Discard() Logger {
	return &logger{logger: zap.NewNop()}
}

// SafeNewLogger creates a child logger if l is not nil, and returns nil
// otherwise.
func SafeNewLogger(l Logger, fields ...any) Logger {
	if l != nil {
		return l.New(fields...)
	}
	return nil
}

// SafeDebug logs at debug level if l is not nil.
func SafeDebug(l Logger, msg string, fields ...any) {
	if l != nil {
		l.Debug(msg, fields...)
	}
}

// SafeInfo logs at info level if l is not nil.
func SafeInfo(l Logger, msg string, fields ...any) {
	if l != nil {
		l.Info(msg, fields...)
	}
}

// SafeError logs at error level if l is not nil.
func SafeError(l Logger, msg string, fields ...any) {
	if l != nil {
		l.Error(msg, fields...)
	}
}

func convertCtx(ctx []any) []zap.Field {
	fields := make([]zap.Field, 0, len(ctx)/2)
	for i := 0; i+1 < len(ctx); i += 2 {
		fields = append(fields, zap.Any(fmt.Sprint(ctx[i]), ctx[i+1]))
	}
	return fields
}
