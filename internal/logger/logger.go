package logger

import (
	"context"
	"io"
	"os"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
)

// Logger 全局日志实例，Init 之后可在任何包直接使用
var Logger = log.Logger

// Config 日志配置
type Config struct {
	Level      string `json:"level" yaml:"level"`             // debug/info/warn/error
	Format     string `json:"format" yaml:"format"`           // json 或 pretty
	TimeFormat string `json:"time_format" yaml:"time_format"` // 时间戳格式，空值使用RFC3339
	Caller     bool   `json:"caller" yaml:"caller"`           // 是否记录调用位置
}

// Init 按配置初始化全局日志。写入目标固定为标准输出，
// pretty 格式仅用于本地开发。
func Init(cfg Config) {
	InitWithWriter(cfg, os.Stdout)
}

// InitWithWriter 指定输出目标的初始化入口，测试中可传入 buffer
func InitWithWriter(cfg Config, w io.Writer) {
	level, err := zerolog.ParseLevel(cfg.Level)
	if err != nil {
		level = zerolog.InfoLevel
	}
	zerolog.SetGlobalLevel(level)

	if cfg.TimeFormat == "" {
		zerolog.TimeFieldFormat = time.RFC3339
	} else {
		zerolog.TimeFieldFormat = cfg.TimeFormat
	}

	output := w
	if cfg.Format == "pretty" {
		output = zerolog.ConsoleWriter{
			Out:        w,
			TimeFormat: cfg.TimeFormat,
		}
	}

	builder := zerolog.New(output).Level(level).With().Timestamp()
	if cfg.Caller {
		builder = builder.Caller()
	}

	Logger = builder.Logger()
	log.Logger = Logger
	// 上下文里没有挂记录器时 Ctx 回退到全局实例
	zerolog.DefaultContextLogger = &Logger
}

// Debug 开始一条调试级别日志
func Debug() *zerolog.Event {
	return Logger.Debug()
}

// Info 开始一条信息级别日志
func Info() *zerolog.Event {
	return Logger.Info()
}

// Warn 开始一条警告级别日志
func Warn() *zerolog.Event {
	return Logger.Warn()
}

// Error 开始一条错误级别日志
func Error() *zerolog.Event {
	return Logger.Error()
}

// Fatal 开始一条致命错误日志，记录后进程退出
func Fatal() *zerolog.Event {
	return Logger.Fatal()
}

// Ctx 从上下文中取出日志记录器
func Ctx(ctx context.Context) *zerolog.Logger {
	return zerolog.Ctx(ctx)
}

// WithContext 把全局日志记录器放入上下文
func WithContext(ctx context.Context) context.Context {
	return Logger.WithContext(ctx)
}
