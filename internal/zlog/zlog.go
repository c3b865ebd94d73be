// SPDX-FileCopyrightText: 2023 The Pion community <https://pion.ly>
// SPDX-License-Identifier: MIT

// Package zlog provides a logging.LoggerFactory writing through zerolog.
package zlog

import (
	"fmt"
	"io"
	"strings"

	"github.com/pion/logging"
	"github.com/rs/zerolog"
)

const timeFormat = "2006-01-02 15:04:05.000"

// Config defines parameters for the logger.
type Config struct {
	Level   string `mapstructure:"level"`
	NoColor bool   `mapstructure:"no_color"`
}

// ParseLevel maps a level name to a zerolog level.
// Supported levels are: ["trace", "debug", "info", "warn", "error", "disabled"].
func ParseLevel(level string) zerolog.Level {
	switch strings.ToLower(level) {
	case "trace":
		return zerolog.TraceLevel
	case "debug":
		return zerolog.DebugLevel
	case "warn":
		return zerolog.WarnLevel
	case "error":
		return zerolog.ErrorLevel
	case "disabled":
		return zerolog.Disabled
	default:
		return zerolog.InfoLevel
	}
}

// LoggerFactory creates one leveled logger per subsystem sharing a single
// zerolog console writer.
type LoggerFactory struct {
	root zerolog.Logger
}

// NewLoggerFactory creates a factory writing human readable lines to out.
func NewLoggerFactory(out io.Writer, cfg Config) *LoggerFactory {
	output := zerolog.ConsoleWriter{Out: out, NoColor: cfg.NoColor, TimeFormat: timeFormat}
	output.FormatLevel = func(i any) string {
		return strings.ToUpper(fmt.Sprintf("[%-5s]", i))
	}

	return &LoggerFactory{
		root: zerolog.New(output).Level(ParseLevel(cfg.Level)).With().Timestamp().Logger(),
	}
}

// NewLogger satisfies logging.LoggerFactory.
func (f *LoggerFactory) NewLogger(scope string) logging.LeveledLogger {
	return &Logger{log: f.root.With().Str("scope", scope).Logger()}
}

// Logger satisfies logging.LeveledLogger.
type Logger struct {
	log zerolog.Logger
}

var _ logging.LeveledLogger = (*Logger)(nil)

func (l *Logger) Trace(msg string)                  { l.log.Trace().Msg(msg) }
func (l *Logger) Tracef(format string, args ...any) { l.log.Trace().Msgf(format, args...) }
func (l *Logger) Debug(msg string)                  { l.log.Debug().Msg(msg) }
func (l *Logger) Debugf(format string, args ...any) { l.log.Debug().Msgf(format, args...) }
func (l *Logger) Info(msg string)                   { l.log.Info().Msg(msg) }
func (l *Logger) Infof(format string, args ...any)  { l.log.Info().Msgf(format, args...) }
func (l *Logger) Warn(msg string)                   { l.log.Warn().Msg(msg) }
func (l *Logger) Warnf(format string, args ...any)  { l.log.Warn().Msgf(format, args...) }
func (l *Logger) Error(msg string)                  { l.log.Error().Msg(msg) }
func (l *Logger) Errorf(format string, args ...any) { l.log.Error().Msgf(format, args...) }
