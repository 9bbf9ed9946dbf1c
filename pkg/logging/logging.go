// Package logging builds the zap loggers used by the crisis-stream commands.
package logging

import (
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
)

// Config describes a file logger.
type Config struct {
	// Path of the log file. DefaultPath is used when empty.
	Path string
	// Level is a zap level name: debug, info, warn or error.
	Level string
	// MaxSize is the size in megabytes at which the file is rotated.
	MaxSize int
	// MaxAge is the number of days rotated files are kept.
	MaxAge int
	// Stdout also writes every entry to standard output.
	Stdout bool
}

// NewFileLogger returns a JSON logger writing to a rotated file.
func NewFileLogger(cfg Config) (*zap.Logger, error) {
	level := zapcore.InfoLevel
	if cfg.Level != "" {
		if err := level.UnmarshalText([]byte(cfg.Level)); err != nil {
			return nil, err
		}
	}

	writer, err := logWriter(cfg)
	if err != nil {
		return nil, err
	}
	core := zapcore.NewCore(getEncoder(), writer, level)
	return zap.New(core, zap.AddCaller()), nil
}

// New returns the console logger the commands use when no log file is set.
func New(debug bool) (*zap.Logger, error) {
	if debug {
		return zap.NewDevelopment()
	}
	return zap.NewProduction()
}

func getEncoder() zapcore.Encoder {
	return zapcore.NewJSONEncoder(zapcore.EncoderConfig{
		MessageKey:     "message",
		TimeKey:        "time",
		LevelKey:       "level",
		CallerKey:      "caller",
		EncodeLevel:    CustomLevelEncoder,
		EncodeTime:     SyslogTimeEncoder,
		EncodeCaller:   zapcore.ShortCallerEncoder,
		EncodeDuration: zapcore.StringDurationEncoder,
	})
}

func SyslogTimeEncoder(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString(t.Format("2006-01-02 15:04:05"))
}

func CustomLevelEncoder(level zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
	enc.AppendString("[" + level.CapitalString() + "]")
}

func logWriter(cfg Config) (zapcore.WriteSyncer, error) {
	path := cfg.Path
	if path == "" {
		p, err := DefaultPath()
		if err != nil {
			return nil, err
		}
		path = p
	}
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, err
	}

	maxSize, maxAge := cfg.MaxSize, cfg.MaxAge
	if maxSize <= 0 {
		maxSize = 500
	}
	if maxAge <= 0 {
		maxAge = 30
	}
	file := zapcore.AddSync(&lumberjack.Logger{
		Filename: path,
		MaxSize:  maxSize,
		MaxAge:   maxAge,
	})
	if cfg.Stdout {
		return zapcore.NewMultiWriteSyncer(file, zapcore.AddSync(os.Stdout)), nil
	}
	return file, nil
}
