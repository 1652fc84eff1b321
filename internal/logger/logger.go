// Package logger builds the bridge's zap logger and its per-component
// children.
package logger

import (
	"fmt"
	"os"
	"path/filepath"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// DefaultFileName is used when the file sink has no name configured.
const DefaultFileName = "render-bridge.log"

// RootName prefixes every logger name.
const RootName = "bridge"

// Components named by the runtime.
const (
	ComponentRender   = "render"
	ComponentListener = "listener"
	ComponentPanel    = "panel"
	ComponentEvents   = "events"
)

const timeLayout = "2006-01-02 15:04:05.000"

// Config selects the level, encoding and sinks of the process logger.
type Config struct {
	Level  string     `mapstructure:"level" yaml:"level"`
	Format string     `mapstructure:"format" yaml:"format"`
	Stdout bool       `mapstructure:"stdout" yaml:"stdout"`
	File   FileConfig `mapstructure:"file" yaml:"file"`
}

// FileConfig describes the rotating log file sink.
type FileConfig struct {
	Enabled    bool   `mapstructure:"enabled" yaml:"enabled"`
	Path       string `mapstructure:"path" yaml:"path"`
	Name       string `mapstructure:"name" yaml:"name"`
	MaxSizeMB  int    `mapstructure:"max_size_mb" yaml:"max_size_mb"`
	MaxBackups int    `mapstructure:"max_backups" yaml:"max_backups"`
	MaxAgeDays int    `mapstructure:"max_age_days" yaml:"max_age_days"`
	Compress   bool   `mapstructure:"compress" yaml:"compress"`
}

// New builds the root logger. Output goes to stdout and, when enabled, to a
// rotating file; with no sink enabled it falls back to stdout. Format is
// "json" (default) or "console".
func New(cfg Config) (*zap.Logger, error) {
	encoder, err := newEncoder(cfg.Format)
	if err != nil {
		return nil, err
	}
	sinks, err := buildSinks(cfg)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(encoder, sinks, parseLevel(cfg.Level))
	return zap.New(core, zap.AddCaller()).Named(RootName), nil
}

// Component returns the child logger for one bridge component. A nil parent
// yields a no-op logger.
func Component(parent *zap.Logger, name string) *zap.Logger {
	if parent == nil {
		return zap.NewNop()
	}
	return parent.Named(name)
}

func newEncoder(format string) (zapcore.Encoder, error) {
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.TimeEncoderOfLayout(timeLayout)
	encoderCfg.EncodeDuration = zapcore.MillisDurationEncoder

	switch strings.ToLower(strings.TrimSpace(format)) {
	case "", "json":
		return zapcore.NewJSONEncoder(encoderCfg), nil
	case "console":
		encoderCfg.EncodeLevel = zapcore.CapitalLevelEncoder
		return zapcore.NewConsoleEncoder(encoderCfg), nil
	default:
		return nil, fmt.Errorf("unknown log format %q", format)
	}
}

func buildSinks(cfg Config) (zapcore.WriteSyncer, error) {
	var sinks []zapcore.WriteSyncer
	if cfg.Stdout {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	if cfg.File.Enabled {
		w, err := newFileWriter(cfg.File)
		if err != nil {
			return nil, err
		}
		sinks = append(sinks, zapcore.AddSync(w))
	}
	if len(sinks) == 0 {
		sinks = append(sinks, zapcore.Lock(os.Stdout))
	}
	return zapcore.NewMultiWriteSyncer(sinks...), nil
}

// filename returns the log file path, creating its directory.
func (f FileConfig) filename() (string, error) {
	dir := strings.TrimSpace(f.Path)
	if dir == "" {
		dir = filepath.Join(".", "data", "logs")
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("create log directory %s: %w", dir, err)
	}
	name := strings.TrimSpace(f.Name)
	if name == "" {
		name = DefaultFileName
	}
	return filepath.Join(dir, name), nil
}

func newFileWriter(f FileConfig) (*lumberjack.Logger, error) {
	path, err := f.filename()
	if err != nil {
		return nil, err
	}
	w := &lumberjack.Logger{
		Filename:   path,
		MaxSize:    max(f.MaxSizeMB, 0),
		MaxBackups: max(f.MaxBackups, 0),
		MaxAge:     max(f.MaxAgeDays, 0),
		Compress:   f.Compress,
		LocalTime:  true,
	}
	if w.MaxSize == 0 {
		w.MaxSize = 100
	}
	return w, nil
}

// parseLevel maps a configured level name; unknown names mean info.
func parseLevel(raw string) zapcore.Level {
	name := strings.ToLower(strings.TrimSpace(raw))
	if name == "warning" {
		name = "warn"
	}
	level, err := zapcore.ParseLevel(name)
	if err != nil {
		return zapcore.InfoLevel
	}
	return level
}
