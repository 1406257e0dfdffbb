// Package logger provides a structured logging facility for the
// typing-proof engine and its CLI. It supports console and file output
// with independently configurable levels.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

var logger *zap.SugaredLogger

// Config holds logger configuration.
type Config struct {
	// Level is the default for ConsoleLevel when that is empty. The file
	// sinks do not read it; they use the fixed levels noted below.
	Level string
	// ConsoleLevel is the minimum level shown on console; may be higher
	// than Level so the console stays quiet while files capture detail.
	ConsoleLevel string
	// DebugFile, if set, receives debug-level-and-up JSON log lines.
	DebugFile string
	// InfoFile, if set, receives info-level-and-up JSON log lines.
	InfoFile string
	// Development enables zap's development mode (panics on DPanic, etc).
	Development bool
}

// Init initializes the package-global sugared logger. Safe to call once
// at process startup; subsequent calls replace the global logger.
func Init(cfg Config) error {
	if cfg.Level == "" {
		cfg.Level = "info"
	}
	if cfg.ConsoleLevel == "" {
		cfg.ConsoleLevel = cfg.Level
	}

	consoleCfg := zap.NewDevelopmentEncoderConfig()
	consoleCfg.EncodeTime = zapcore.TimeEncoderOfLayout("15:04:05.000")
	consoleCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
	consoleCfg.EncodeCaller = zapcore.ShortCallerEncoder

	fileCfg := zap.NewProductionEncoderConfig()
	fileCfg.EncodeTime = zapcore.TimeEncoderOfLayout(time.RFC3339)
	fileCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	fileCfg.EncodeCaller = zapcore.ShortCallerEncoder

	var cores []zapcore.Core

	cores = append(cores, zapcore.NewCore(
		zapcore.NewConsoleEncoder(consoleCfg),
		zapcore.Lock(os.Stderr),
		getZapLevel(cfg.ConsoleLevel),
	))

	if cfg.DebugFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.DebugFile), 0755); err != nil {
			return fmt.Errorf("create debug log directory: %w", err)
		}
		debugFile, err := os.OpenFile(cfg.DebugFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open debug log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.Lock(debugFile),
			zapcore.DebugLevel,
		))
	}

	if cfg.InfoFile != "" {
		if err := os.MkdirAll(filepath.Dir(cfg.InfoFile), 0755); err != nil {
			return fmt.Errorf("create info log directory: %w", err)
		}
		infoFile, err := os.OpenFile(cfg.InfoFile, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0644)
		if err != nil {
			return fmt.Errorf("open info log file: %w", err)
		}
		cores = append(cores, zapcore.NewCore(
			zapcore.NewJSONEncoder(fileCfg),
			zapcore.Lock(infoFile),
			zapcore.InfoLevel,
		))
	}

	core := zapcore.NewTee(cores...)
	options := []zap.Option{zap.AddCaller(), zap.AddCallerSkip(1)}
	if cfg.Development {
		options = append(options, zap.Development())
	}

	logger = zap.New(core, options...).Sugar()
	return nil
}

// L returns the global sugared logger, lazily initializing it with
// sensible development defaults if Init was never called.
func L() *zap.SugaredLogger {
	if logger == nil {
		_ = Init(Config{Level: "info", ConsoleLevel: "info", Development: true})
	}
	return logger
}

func getZapLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "info":
		return zapcore.InfoLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}
