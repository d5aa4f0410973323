package logging

import (
	"os"
	"path/filepath"

	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Rotation defaults for the worker log file.
const (
	// DefaultMaxSizeMB is the file size in megabytes before rotation.
	DefaultMaxSizeMB = 50

	// DefaultMaxBackups is the number of rotated files to retain.
	DefaultMaxBackups = 5

	// DefaultMaxAgeDays is how long rotated files are kept.
	DefaultMaxAgeDays = 14
)

// NewFileWriter creates a zapcore.WriteSyncer writing to path with
// size-based rotation. The parent directory is created if missing;
// rotated files are gzip-compressed.
func NewFileWriter(path string) (zapcore.WriteSyncer, error) {
	if dir := filepath.Dir(path); dir != "." {
		if err := os.MkdirAll(dir, 0o755); err != nil {
			return nil, err
		}
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   path,
		MaxSize:    DefaultMaxSizeMB,
		MaxBackups: DefaultMaxBackups,
		MaxAge:     DefaultMaxAgeDays,
		Compress:   true,
	}), nil
}
