package logger

import (
	"fmt"
	"strings"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// ZapConfig defines the zap backend configuration.
type ZapConfig struct {
	Level       string // "debug", "info", "warn", "error"
	Development bool
	OutputPaths []string
}

// DefaultZapConfig returns the configuration used by the daemon.
func DefaultZapConfig() ZapConfig {
	return ZapConfig{
		Level:       "info",
		OutputPaths: []string{"stderr"},
	}
}

// ZapLogger adapts a zap.SugaredLogger to the Logger interface.
type ZapLogger struct {
	sugar *zap.SugaredLogger
}

// NewZapLogger builds a zap-backed logger from cfg.
func NewZapLogger(cfg ZapConfig) (*ZapLogger, error) {
	level, err := parseLevel(cfg.Level)
	if err != nil {
		return nil, err
	}
	outputs := cfg.OutputPaths
	if len(outputs) == 0 {
		outputs = []string{"stderr"}
	}

	encCfg := zap.NewProductionEncoderConfig()
	encoding := "json"
	if cfg.Development {
		encCfg = zap.NewDevelopmentEncoderConfig()
		encCfg.EncodeLevel = zapcore.CapitalColorLevelEncoder
		encoding = "console"
	}
	encCfg.EncodeTime = zapcore.ISO8601TimeEncoder

	zapCfg := zap.Config{
		Level:             zap.NewAtomicLevelAt(level),
		Development:       cfg.Development,
		Encoding:          encoding,
		EncoderConfig:     encCfg,
		OutputPaths:       outputs,
		ErrorOutputPaths:  []string{"stderr"},
		DisableStacktrace: !cfg.Development,
	}
	z, err := zapCfg.Build(zap.AddCallerSkip(1))
	if err != nil {
		return nil, fmt.Errorf("build zap logger: %w", err)
	}
	return &ZapLogger{sugar: z.Sugar()}, nil
}

// NewZapLoggerFrom wraps an existing zap logger.
func NewZapLoggerFrom(z *zap.Logger) *ZapLogger {
	return &ZapLogger{sugar: z.Sugar()}
}

func parseLevel(level string) (zapcore.Level, error) {
	switch strings.ToLower(level) {
	case "", "info":
		return zapcore.InfoLevel, nil
	case "debug":
		return zapcore.DebugLevel, nil
	case "warn", "warning":
		return zapcore.WarnLevel, nil
	case "error":
		return zapcore.ErrorLevel, nil
	}
	return zapcore.InfoLevel, fmt.Errorf("invalid log level %q", level)
}

func (z *ZapLogger) Debug(format string, args ...interface{})   { z.sugar.Debugf(format, args...) }
func (z *ZapLogger) Info(format string, args ...interface{})    { z.sugar.Infof(format, args...) }
func (z *ZapLogger) Warning(format string, args ...interface{}) { z.sugar.Warnf(format, args...) }
func (z *ZapLogger) Error(format string, args ...interface{})   { z.sugar.Errorf(format, args...) }

// Named returns a child logger under category.
func (z *ZapLogger) Named(category string) Logger {
	return &ZapLogger{sugar: z.sugar.Named(category)}
}

// Close flushes buffered entries. Sync errors on console handles
// (EINVAL/ENOTTY on stderr) are not reported.
func (z *ZapLogger) Close() error {
	if err := z.sugar.Sync(); err != nil && !strings.Contains(err.Error(), "/dev/std") {
		return err
	}
	return nil
}

var _ Logger = (*ZapLogger)(nil)
