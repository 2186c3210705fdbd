package logging

import (
	"fmt"
	"log"
	"strings"

	"el-professor/server/internal/config"

	"go.uber.org/zap"
	"go.uber.org/zap/zapcore"
)

// New 按配置构造进程级 zap 日志器。
// format: console | json；output: stdout | stderr | 文件路径。
func New(cfg config.LoggingConfig) (*zap.Logger, error) {
	level, err := zap.ParseAtomicLevel(strings.ToLower(cfg.Level))
	if err != nil {
		return nil, fmt.Errorf("parse log level %q: %w", cfg.Level, err)
	}

	var zc zap.Config
	switch strings.ToLower(cfg.Format) {
	case "json":
		zc = zap.NewProductionConfig()
	case "", "console":
		zc = zap.NewDevelopmentConfig()
		zc.EncoderConfig.EncodeLevel = zapcore.CapitalColorLevelEncoder
		zc.Development = false
	default:
		return nil, fmt.Errorf("unsupported log format %q", cfg.Format)
	}
	zc.Level = level
	zc.EncoderConfig.TimeKey = "ts"
	zc.EncoderConfig.EncodeTime = zapcore.ISO8601TimeEncoder

	output := cfg.Output
	if output == "" {
		output = "stdout"
	}
	zc.OutputPaths = []string{output}
	zc.ErrorOutputPaths = []string{"stderr"}

	return zc.Build()
}

// StdLog 把 zap 桥接成组件使用的 *log.Logger，name 作为 logger 名称。
func StdLog(z *zap.Logger, name string) *log.Logger {
	if z == nil {
		return log.Default()
	}
	return zap.NewStdLog(z.Named(name))
}

// Redirect 让标准库 log 包的全局输出也进入 zap（gin 与第三方库）。
func Redirect(z *zap.Logger) func() {
	return zap.RedirectStdLog(z)
}
