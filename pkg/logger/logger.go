// Package logger builds the zap loggers used by blinkdb binaries: one root
// logger plus named per-component children whose level can be tuned on its
// own ("blink", "lineproto", "bench").
package logger

import (
	"os"
	"strings"

	"github.com/cockroachdb/errors"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// DefaultService is the "service" field value when Config.Service is empty.
const DefaultService = "blinkdb"

// Config holds all the configuration for the logger.
type Config struct {
	// Level is the root level ("debug", "info", "warn", "error"). Unknown
	// values mean info.
	Level string `yaml:"level"`
	// Format is "json" (default) or "console".
	Format string `yaml:"format"`
	// OutputFile is a path, or "stdout" / "stderr".
	OutputFile string `yaml:"output_file"`
	// Service is attached to every entry as the "service" field.
	Service string `yaml:"service"`
	// Components overrides the level of named component loggers, e.g.
	// {"blink": "debug"}. An override may be more or less verbose than Level.
	Components map[string]string `yaml:"components"`
}

func parseLevel(text string, fallback zapcore.Level) zapcore.Level {
	var l zapcore.Level
	if err := l.UnmarshalText([]byte(text)); err != nil {
		return fallback
	}
	return l
}

// New creates the root logger. Component loggers are derived with Named.
func New(config Config) (*zap.Logger, error) {
	out, err := openOutput(config.OutputFile)
	if err != nil {
		return nil, err
	}

	encCfg := zap.NewProductionEncoderConfig()
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encCfg.EncodeLevel = zapcore.CapitalLevelEncoder
	enc := zapcore.NewJSONEncoder(encCfg)
	if strings.EqualFold(config.Format, "console") {
		enc = zapcore.NewConsoleEncoder(encCfg)
	}

	// The io core accepts everything; levels are applied by levelCore so a
	// component can be made more verbose than the root.
	base := zapcore.NewCore(enc, out, zapcore.DebugLevel)
	root := levelCore{Core: base, level: parseLevel(config.Level, zapcore.InfoLevel)}

	service := config.Service
	if service == "" {
		service = DefaultService
	}
	return zap.New(root, zap.AddCaller(), zap.Fields(zap.String("service", service))), nil
}

// Named returns the component logger for name, applying the level override
// from config.Components when there is one.
func Named(root *zap.Logger, config Config, name string) *zap.Logger {
	l := root.Named(name)
	text, ok := config.Components[name]
	if !ok {
		return l
	}
	level := parseLevel(text, parseLevel(config.Level, zapcore.InfoLevel))
	return l.WithOptions(zap.WrapCore(func(c zapcore.Core) zapcore.Core {
		if lc, ok := c.(levelCore); ok {
			c = lc.Core
		}
		return levelCore{Core: c, level: level}
	}))
}

// levelCore filters entries by its own level instead of the wrapped core's.
type levelCore struct {
	zapcore.Core
	level zapcore.LevelEnabler
}

func (c levelCore) Enabled(l zapcore.Level) bool { return c.level.Enabled(l) }

func (c levelCore) With(fields []zapcore.Field) zapcore.Core {
	return levelCore{Core: c.Core.With(fields), level: c.level}
}

func (c levelCore) Check(ent zapcore.Entry, ce *zapcore.CheckedEntry) *zapcore.CheckedEntry {
	if c.Enabled(ent.Level) {
		return ce.AddCore(ent, c)
	}
	return ce
}

func openOutput(path string) (zapcore.WriteSyncer, error) {
	switch strings.ToLower(path) {
	case "", "stdout":
		return zapcore.Lock(os.Stdout), nil
	case "stderr":
		return zapcore.Lock(os.Stderr), nil
	}
	f, err := os.OpenFile(path, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
	if err != nil {
		return nil, errors.Wrapf(err, "opening log file %s", path)
	}
	return f, nil
}
