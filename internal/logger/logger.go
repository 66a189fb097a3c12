package logger

import (
	"fmt"
	"io"
	"os"

	"github.com/go-kratos/kratos/v2/log"
	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
	"gopkg.in/natefinch/lumberjack.v2"

	"fulfillment-service/internal/conf"
)

// Config 日志配置
type Config struct {
	Level         string // debug/info/warn/error
	Format        string // json/console
	FilePath      string // 为空时不落盘
	MaxSize       int    // 单文件大小（MB）
	MaxAge        int    // 保留天数
	MaxBackups    int    // 保留文件数
	Compress      bool
	EnableConsole bool
	Output        io.Writer // 便于测试注入，默认 stdout
}

// ConfigFromConf 从 conf.Log 构造日志配置，缺省值与服务默认一致
func ConfigFromConf(c *conf.Log, defaultFile string) *Config {
	cfg := &Config{
		Level:         "info",
		Format:        "json",
		FilePath:      defaultFile,
		MaxSize:       100,
		MaxAge:        30,
		MaxBackups:    10,
		Compress:      true,
		EnableConsole: true,
	}
	if c == nil {
		return cfg
	}
	if c.Level != "" {
		cfg.Level = c.Level
	}
	if c.Format != "" {
		cfg.Format = c.Format
	}
	if c.FilePath != "" {
		cfg.FilePath = c.FilePath
	}
	if c.MaxSize > 0 {
		cfg.MaxSize = int(c.MaxSize)
	}
	if c.MaxAge > 0 {
		cfg.MaxAge = int(c.MaxAge)
	}
	if c.MaxBackups > 0 {
		cfg.MaxBackups = int(c.MaxBackups)
	}
	cfg.Compress = c.Compress
	return cfg
}

// zapLogger 将 kratos log.Logger 适配到 zap
type zapLogger struct {
	log *zap.Logger
}

var _ log.Logger = (*zapLogger)(nil)

// NewLogger 创建 kratos logger（zap 输出，可选 lumberjack 滚动文件）
func NewLogger(c *Config) log.Logger {
	var encoder zapcore.Encoder
	encoderCfg := zap.NewProductionEncoderConfig()
	encoderCfg.TimeKey = ""
	encoderCfg.EncodeLevel = zapcore.LowercaseLevelEncoder
	if c.Format == "console" {
		encoder = zapcore.NewConsoleEncoder(encoderCfg)
	} else {
		encoder = zapcore.NewJSONEncoder(encoderCfg)
	}

	level := parseLevel(c.Level)
	var cores []zapcore.Core
	if c.EnableConsole || c.FilePath == "" {
		out := c.Output
		if out == nil {
			out = os.Stdout
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(out), level))
	}
	if c.FilePath != "" {
		writer := &lumberjack.Logger{
			Filename:   c.FilePath,
			MaxSize:    c.MaxSize,
			MaxAge:     c.MaxAge,
			MaxBackups: c.MaxBackups,
			Compress:   c.Compress,
		}
		cores = append(cores, zapcore.NewCore(encoder, zapcore.AddSync(writer), level))
	}

	return &zapLogger{log: zap.New(zapcore.NewTee(cores...))}
}

func parseLevel(level string) zapcore.Level {
	switch level {
	case "debug":
		return zapcore.DebugLevel
	case "warn":
		return zapcore.WarnLevel
	case "error":
		return zapcore.ErrorLevel
	default:
		return zapcore.InfoLevel
	}
}

// Log 实现 kratos log.Logger
func (l *zapLogger) Log(level log.Level, keyvals ...interface{}) error {
	if len(keyvals) == 0 || len(keyvals)%2 != 0 {
		l.log.Warn(fmt.Sprint("keyvals must appear in pairs: ", keyvals))
		return nil
	}

	var msg string
	fields := make([]zap.Field, 0, len(keyvals)/2)
	for i := 0; i < len(keyvals); i += 2 {
		key := fmt.Sprint(keyvals[i])
		if key == log.DefaultMessageKey {
			msg = fmt.Sprint(keyvals[i+1])
			continue
		}
		fields = append(fields, zap.Any(key, keyvals[i+1]))
	}

	switch level {
	case log.LevelDebug:
		l.log.Debug(msg, fields...)
	case log.LevelWarn:
		l.log.Warn(msg, fields...)
	case log.LevelError:
		l.log.Error(msg, fields...)
	case log.LevelFatal:
		l.log.Fatal(msg, fields...)
	default:
		l.log.Info(msg, fields...)
	}
	return nil
}

// Sync 刷新缓冲
func (l *zapLogger) Sync() error {
	return l.log.Sync()
}
