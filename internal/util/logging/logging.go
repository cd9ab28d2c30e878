// Copyright 2024 Alexandre Mahdhaoui
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

// Package logging sets up logging for virtmig binaries. Code logs through
// log/slog; the handler is backed by zap through logr so that libraries taking
// a logr.Logger share the same sink.
package logging

import (
	"io"
	"log/slog"
	"os"

	"github.com/go-logr/logr"
	"github.com/go-logr/zapr"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options configures the logger behavior.
type Options struct {
	// Development switches from JSON to the human-readable console encoder.
	Development bool

	// Level sets the minimum log level. Defaults to slog.LevelInfo.
	Level slog.Level

	// Output defaults to os.Stderr.
	Output io.Writer
}

// DefaultOptions returns the default logging options.
func DefaultOptions() Options {
	return Options{
		Level:  slog.LevelInfo,
		Output: os.Stderr,
	}
}

// Setup builds the zap-backed logger, installs it as the default slog logger
// and returns it as a logr.Logger.
func Setup(opts Options) logr.Logger {
	logger := New(opts)
	slog.SetDefault(slog.New(logr.ToSlogHandler(logger)))
	return logger
}

// New builds the zap-backed logger without touching the slog default.
func New(opts Options) logr.Logger {
	out := opts.Output
	if out == nil {
		out = os.Stderr
	}

	var encCfg zapcore.EncoderConfig
	var enc zapcore.Encoder
	if opts.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewConsoleEncoder(encCfg)
	} else {
		encCfg = zap.NewProductionEncoderConfig()
		encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
		enc = zapcore.NewJSONEncoder(encCfg)
	}

	core := zapcore.NewCore(enc, zapcore.AddSync(out), zap.NewAtomicLevelAt(zapLevel(opts.Level)))
	return zapr.NewLogger(zap.New(core, zap.AddStacktrace(zapcore.PanicLevel)))
}

// SetupDevelopment sets up console logging at debug level.
func SetupDevelopment() logr.Logger {
	return Setup(Options{
		Development: true,
		Level:       slog.LevelDebug,
	})
}

// zapLevel maps a slog level onto the zap level that logr.ToSlogHandler ends
// up emitting: slog levels below Info become V(-level), which zapr logs at
// zap level -V. Warn has no logr equivalent and is logged at Info.
func zapLevel(level slog.Level) zapcore.Level {
	switch {
	case level >= slog.LevelError:
		return zapcore.ErrorLevel
	case level >= slog.LevelInfo:
		return zapcore.InfoLevel
	case level < -127:
		return zapcore.Level(-127)
	default:
		return zapcore.Level(level)
	}
}
