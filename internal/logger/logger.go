// Copyright 2025 Google LLC
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

// Package logger provides the leveled logger used by every subsystem:
// TRACE below DEBUG, WARNING rather than WARN, and a runtime choice
// between a text handler and a JSON handler.
package logger

import (
	"context"
	"fmt"
	"io"
	"log/slog"
	"os"
)

// Severity is the five-level vocabulary used across this repository.
// Ordered from most to least verbose, matching slog.Level ordering once
// offset (slog has no native TRACE).
type Severity int

const (
	TRACE Severity = iota - 1
	DEBUG
	INFO
	WARNING
	ERROR
)

func (s Severity) slogLevel() slog.Level {
	switch s {
	case TRACE:
		return slog.Level(-8)
	case DEBUG:
		return slog.LevelDebug
	case INFO:
		return slog.LevelInfo
	case WARNING:
		return slog.LevelWarn
	case ERROR:
		return slog.LevelError
	default:
		return slog.LevelInfo
	}
}

func (s Severity) String() string {
	switch s {
	case TRACE:
		return "TRACE"
	case DEBUG:
		return "DEBUG"
	case INFO:
		return "INFO"
	case WARNING:
		return "WARNING"
	case ERROR:
		return "ERROR"
	default:
		return "INFO"
	}
}

// renameMessageKey is a slog.HandlerOptions.ReplaceAttr hook that renames
// the default "msg" attribute to "message", keeping a stable field name in
// both text and JSON output.
func renameMessageKey(groups []string, a slog.Attr) slog.Attr {
	if len(groups) == 0 && a.Key == slog.MessageKey {
		a.Key = "message"
	}
	return a
}

var defaultLogger = slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{
	Level:       DEBUG.slogLevel(),
	ReplaceAttr: renameMessageKey,
}))

// SetOutput reconfigures the default logger, choosing a JSON handler when
// json is true. Tests use this to redirect logs to a buffer.
func SetOutput(w io.Writer, minSeverity Severity, json bool) {
	opts := &slog.HandlerOptions{Level: minSeverity.slogLevel(), ReplaceAttr: renameMessageKey}
	if json {
		defaultLogger = slog.New(slog.NewJSONHandler(w, opts))
	} else {
		defaultLogger = slog.New(slog.NewTextHandler(w, opts))
	}
}

func log(ctx context.Context, sev Severity, msg string, args ...any) {
	defaultLogger.Log(ctx, sev.slogLevel(), msg, append([]any{"severity", sev.String()}, args...)...)
}

func Tracef(format string, args ...any)   { log(context.Background(), TRACE, sprintf(format, args...)) }
func Debugf(format string, args ...any)   { log(context.Background(), DEBUG, sprintf(format, args...)) }
func Infof(format string, args ...any)    { log(context.Background(), INFO, sprintf(format, args...)) }
func Warningf(format string, args ...any) { log(context.Background(), WARNING, sprintf(format, args...)) }
func Errorf(format string, args ...any)   { log(context.Background(), ERROR, sprintf(format, args...)) }

func sprintf(format string, args ...any) string {
	if len(args) == 0 {
		return format
	}
	return fmt.Sprintf(format, args...)
}
