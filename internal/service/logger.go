package service

import (
	"fmt"
	"os"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/lumberjack.v3"
)

// Logger 是全局日志接口
// 在其他模块中使用：service.Logger.Info("Trade received", zap.String("Market", market))
var Logger = zap.NewNop()

// InitLogger 初始化高性能的 Zap 日志
// 始终输出到 stdout，配置了 File 时同时写入滚动日志文件
func InitLogger(cfg LoggingConfig) error {
	logger, err := NewLogger(cfg)
	if err != nil {
		return err
	}
	Logger = logger
	return nil
}

// NewLogger 按配置构建 logger，不修改全局 Logger
func NewLogger(cfg LoggingConfig) (*zap.Logger, error) {
	level := zap.InfoLevel
	if cfg.Level != "" {
		parsed, err := zapcore.ParseLevel(cfg.Level)
		if err != nil {
			return nil, fmt.Errorf("parse log level: %w", err)
		}
		level = parsed
	}
	logLevel := zap.NewAtomicLevelAt(level)

	// 格式化时间
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.EncodeTime = zapcore.ISO8601TimeEncoder
	encoderCfg.TimeKey = "time"
	encoder := zapcore.NewJSONEncoder(encoderCfg)

	cores := []zapcore.Core{
		zapcore.NewCore(encoder, zapcore.Lock(os.Stdout), logLevel),
	}

	if cfg.File != "" {
		fileHandler, err := lumberjack.New(
			lumberjack.WithFileName(cfg.File),
			lumberjack.WithMaxBytes(int64(cfg.MaxSizeMB)*1024*1024),
			lumberjack.WithMaxBackups(cfg.MaxBackups),
			lumberjack.WithMaxDays(cfg.MaxAgeDays),
			lumberjack.WithCompress(),
		)
		if err != nil {
			return nil, fmt.Errorf("create log file handler: %w", err)
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(fileHandler), logLevel))
	}

	return zap.New(zapcore.NewTee(cores...), zap.AddCaller()), nil
}
