/*
Copyright © 2020 Marvin

Licensed under the Apache License, Version 2.0 (the "License");
you may not use this file except in compliance with the License.
You may obtain a copy of the License at

	http://www.apache.org/licenses/LICENSE-2.0

Unless required by applicable law or agreed to in writing, software
distributed under the License is distributed on an "AS IS" BASIS,
WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
See the License for the specific language governing permissions and
limitations under the License.
*/
package logger

import (
	"os"
	"strings"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"
	gormlogger "gorm.io/gorm/logger"
	"moul.io/zapgorm2"
)

const (
	LogTimeFmt = "2006-01-02 15:04:05.000"
)

var logger *zap.Logger

// Config is the [log] section of the sync server config
type Config struct {
	LogLevel   string `toml:"log-level" json:"log-level"`
	LogFile    string `toml:"log-file" json:"log-file"`
	MaxSize    int    `toml:"max-size" json:"max-size"`
	MaxDays    int    `toml:"max-days" json:"max-days"`
	MaxBackups int    `toml:"max-backups" json:"max-backups"`
}

// NewRootLogger installs the sync server logger as the zap global logger.
// Without a log file the entries go to stdout, otherwise lumberjack rotates the file.
func NewRootLogger(cfg *Config) {
	core := zapcore.NewCore(newEncoder(), newWriteSyncer(cfg), parseLevel(cfg.LogLevel))
	logger = zap.New(core, zap.AddCaller(), zap.AddCallerSkip(1))
	zap.ReplaceGlobals(logger)
}

// GetRootLogger returns a logger for components that log on their own, like gin and cron
func GetRootLogger() *zap.Logger {
	if logger == nil {
		return zap.L()
	}
	return logger.WithOptions(zap.AddCallerSkip(-1))
}

var gormLevels = map[string]gormlogger.LogLevel{
	"silent": gormlogger.Silent,
	"error":  gormlogger.Error,
	// statements are too chatty for info, gorm only reports slow queries and errors then
	"info": gormlogger.Warn,
	"warn": gormlogger.Warn,
}

// GetGormLogger routes gorm statements of the metadata and target databases to zap
func GetGormLogger(logLevel string, slowThreshold uint64) zapgorm2.Logger {
	l := zapgorm2.New(GetRootLogger())
	l.SlowThreshold = time.Duration(slowThreshold) * time.Millisecond
	if lvl, ok := gormLevels[strings.ToLower(strings.TrimSpace(logLevel))]; ok {
		l.LogLevel = lvl
	}
	// missing rows are an expected outcome of the store lookups
	l.IgnoreRecordNotFoundError = true
	l.LogMode(l.LogLevel)
	l.SetAsDefault()
	return l
}

func Debug(msg string, fields ...zap.Field) { root().Debug(msg, fields...) }

func Info(msg string, fields ...zap.Field) { root().Info(msg, fields...) }

func Warn(msg string, fields ...zap.Field) { root().Warn(msg, fields...) }

func Error(msg string, fields ...zap.Field) { root().Error(msg, fields...) }

func Fatal(msg string, fields ...zap.Field) { root().Fatal(msg, fields...) }

func Sync() error {
	return root().Sync()
}

func root() *zap.Logger {
	if logger == nil {
		return zap.L()
	}
	return logger
}

// newEncoder writes bracketed console lines: [time] [LEVEL] [caller] message fields
func newEncoder() zapcore.Encoder {
	bracket := func(s string, enc zapcore.PrimitiveArrayEncoder) {
		enc.AppendString("[" + s + "]")
	}
	return zapcore.NewConsoleEncoder(zapcore.EncoderConfig{
		TimeKey:       "ts",
		LevelKey:      "level",
		NameKey:       "logger",
		CallerKey:     "caller_line",
		FunctionKey:   zapcore.OmitKey,
		MessageKey:    "message",
		StacktraceKey: "stacktrace",
		LineEnding:    zapcore.DefaultLineEnding,
		EncodeLevel: func(l zapcore.Level, enc zapcore.PrimitiveArrayEncoder) {
			bracket(l.CapitalString(), enc)
		},
		EncodeTime: func(t time.Time, enc zapcore.PrimitiveArrayEncoder) {
			bracket(t.Format(LogTimeFmt), enc)
		},
		EncodeCaller: func(c zapcore.EntryCaller, enc zapcore.PrimitiveArrayEncoder) {
			bracket(c.TrimmedPath(), enc)
		},
		EncodeDuration: zapcore.SecondsDurationEncoder,
	})
}

func newWriteSyncer(cfg *Config) zapcore.WriteSyncer {
	if strings.TrimSpace(cfg.LogFile) == "" {
		return zapcore.Lock(os.Stdout)
	}
	return zapcore.AddSync(&lumberjack.Logger{
		Filename:   cfg.LogFile,
		MaxSize:    cfg.MaxSize,
		MaxAge:     cfg.MaxDays,
		MaxBackups: cfg.MaxBackups,
	})
}

// parseLevel falls back to info for an empty or unknown level
func parseLevel(level string) zapcore.Level {
	lvl, err := zapcore.ParseLevel(strings.TrimSpace(level))
	if err != nil {
		return zapcore.InfoLevel
	}
	return lvl
}
