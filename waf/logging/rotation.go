package logging

import (
	"io"
	"os"

	"gopkg.in/natefinch/lumberjack.v2"
)

// RotationConfig holds log rotation settings
type RotationConfig struct {
	Enabled    bool   `koanf:"enabled"`
	Filename   string `koanf:"filename"`    // Log file path
	MaxSize    int    `koanf:"max_size"`    // Max size in MB before rotation (default: 100)
	MaxBackups int    `koanf:"max_backups"` // Max number of old files to keep (default: 3)
	MaxAge     int    `koanf:"max_age"`     // Max days to keep old files (default: 28)
	Compress   bool   `koanf:"compress"`
}

// NewRotatingWriter returns a lumberjack writer for config.Filename, or nil
// when rotation is disabled
func NewRotatingWriter(config RotationConfig) *lumberjack.Logger {
	if !config.Enabled || config.Filename == "" {
		return nil
	}

	if config.MaxSize == 0 {
		config.MaxSize = 100
	}
	if config.MaxBackups == 0 {
		config.MaxBackups = 3
	}
	if config.MaxAge == 0 {
		config.MaxAge = 28
	}

	return &lumberjack.Logger{
		Filename:   config.Filename,
		MaxSize:    config.MaxSize,
		MaxBackups: config.MaxBackups,
		MaxAge:     config.MaxAge,
		Compress:   config.Compress,
	}
}

// MultiWriter mirrors file output to stderr
func MultiWriter(file io.Writer) io.Writer {
	return io.MultiWriter(os.Stderr, file)
}
