package logging

import (
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// Options selects where and how log lines are written
type Options struct {
	Level  string // debug, info, warn or error
	Format string // json or console
	File   string // Optional log file
	Stdout bool   // False while the terminal renderer owns the screen
}

// NewLogger creates a new structured logger with the specified level, format, and outputs.
// With neither stdout nor a file selected, a no-op logger is returned.
func NewLogger(opts Options) (*zap.Logger, error) {
	var zapLevel zapcore.Level
	switch opts.Level {
	case "debug":
		zapLevel = zapcore.DebugLevel
	case "info":
		zapLevel = zapcore.InfoLevel
	case "warn":
		zapLevel = zapcore.WarnLevel
	case "error":
		zapLevel = zapcore.ErrorLevel
	default:
		zapLevel = zapcore.InfoLevel
	}

	encoding := "json"
	if opts.Format == "console" {
		encoding = "console"
	}

	var outputPaths []string
	if opts.Stdout {
		outputPaths = append(outputPaths, "stdout")
	}
	if opts.File != "" {
		outputPaths = append(outputPaths, opts.File)
	}
	if len(outputPaths) == 0 {
		return zap.NewNop(), nil
	}

	errorOutput := []string{"stderr"}
	if !opts.Stdout {
		errorOutput = []string{opts.File}
	}

	config := zap.Config{
		Level:       zap.NewAtomicLevelAt(zapLevel),
		Development: false,
		Sampling: &zap.SamplingConfig{
			Initial:    100,
			Thereafter: 100,
		},
		Encoding: encoding,
		EncoderConfig: zapcore.EncoderConfig{
			TimeKey:        "timestamp",
			LevelKey:       "level",
			NameKey:        "logger",
			CallerKey:      "caller",
			FunctionKey:    zapcore.OmitKey,
			MessageKey:     "message",
			StacktraceKey:  "stacktrace",
			LineEnding:     zapcore.DefaultLineEnding,
			EncodeLevel:    zapcore.LowercaseLevelEncoder,
			EncodeTime:     twelveHourTimeEncoder,
			EncodeDuration: zapcore.StringDurationEncoder,
			EncodeCaller:   zapcore.ShortCallerEncoder,
		},
		OutputPaths:      outputPaths,
		ErrorOutputPaths: errorOutput,
	}

	return config.Build()
}

// twelveHourTimeEncoder formats timestamps in a human-readable 12-hour clock with AM/PM.
func twelveHourTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 03:04:05 PM"))
}
