package main

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// newLogger 构造控制台 logger。日志一律写 stderr：stdout 留给 RunReport JSON。
//
// level：none 完全静默；normal 输出 info 及以上；debug 输出全部。
func newLogger(level string) (*zap.Logger, error) {
	return newLoggerTo(level, os.Stderr, isTTY(os.Stderr))
}

func newLoggerTo(level string, w zapcore.WriteSyncer, color bool) (*zap.Logger, error) {
	var lvl zapcore.Level
	switch level {
	case "none":
		return zap.NewNop(), nil
	case "", "normal":
		lvl = zapcore.InfoLevel
	case "debug":
		lvl = zapcore.DebugLevel
	default:
		return nil, fmt.Errorf("未知日志级别 %q", level)
	}

	ec := zap.NewDevelopmentEncoderConfig()
	ec.EncodeCaller = nil
	if color {
		ec.EncodeLevel = zapcore.CapitalColorLevelEncoder
		ec.TimeKey = zapcore.OmitKey
	} else {
		ec.EncodeLevel = zapcore.CapitalLevelEncoder
	}

	core := zapcore.NewCore(zapcore.NewConsoleEncoder(ec), zapcore.Lock(w), zap.NewAtomicLevelAt(lvl))
	return zap.New(core), nil
}
