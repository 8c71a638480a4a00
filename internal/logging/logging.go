// Package logging builds the zap logger a run writes to. The target selects
// console (stdout), a file, or both; both share one level.
package logging

import (
	"fmt"
	"io"
	"os"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"

	"cursoragent/internal/config"
)

// ParseLevel maps a config level to zap. "warning" is accepted as an alias
// for "warn"; the empty string is info.
func ParseLevel(s string) (zapcore.Level, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("unknown log level %q", s)
}

func encoderConfig() zapcore.EncoderConfig {
	ec := zap.NewProductionEncoderConfig()
	ec.TimeKey = "ts"
	ec.EncodeTime = zapcore.ISO8601TimeEncoder
	ec.EncodeLevel = zapcore.CapitalLevelEncoder
	return ec
}

// New returns a logger named name for l. Console output goes to console
// (os.Stdout when nil). The returned close func syncs the logger and closes
// the log file, if any.
func New(l config.Logging, name string, console io.Writer) (*zap.Logger, func() error, error) {
	lvl, err := ParseLevel(l.Level)
	if err != nil {
		return nil, nil, err
	}
	if console == nil {
		console = os.Stdout
	}
	enc := zapcore.NewConsoleEncoder(encoderConfig())

	var (
		cores []zapcore.Core
		file  *os.File
	)
	if l.Target == "" || l.Target == config.TargetConsole || l.Target == config.TargetBoth {
		cores = append(cores, zapcore.NewCore(enc, zapcore.AddSync(console), lvl))
	}
	if l.Target == config.TargetFile || l.Target == config.TargetBoth {
		path := l.File
		if path == "" {
			path = config.DefaultLogFile
		}
		file, err = os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
		if err != nil {
			return nil, nil, fmt.Errorf("open log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(enc.Clone(), zapcore.AddSync(file), lvl))
	}
	if len(cores) == 0 {
		return nil, nil, fmt.Errorf("unknown log target %q", l.Target)
	}

	logger := zap.New(zapcore.NewTee(cores...)).Named(name)
	closeFn := func() error {
		_ = logger.Sync()
		if file != nil {
			return file.Close()
		}
		return nil
	}
	return logger, closeFn, nil
}
