package logger

import (
	"io"
	"os"
	"path/filepath"
	"regexp"
	"sync"

	"github.com/sirupsen/logrus"
	"gopkg.in/natefinch/lumberjack.v2"
)

var (
	// Logger 全局日志实例
	Logger *logrus.Logger
	// currentLogFile 当前日志文件路径
	currentLogFile string
	logMu          sync.Mutex
)

// Config 日志配置
type Config struct {
	Level      string // 日志级别: debug, info, warn, error
	OutputFile string // 日志文件路径（可选，为空则只输出到控制台）
	MaxSize    int    // 日志文件最大大小（MB）
	MaxBackups int    // 保留的旧日志文件数量
	MaxAge     int    // 保留旧日志文件的天数
	Compress   bool   // 是否压缩旧日志文件
	NoColor    bool
}

func newFormatter(noColor bool) logrus.Formatter {
	return &logrus.TextFormatter{
		FullTimestamp:   true,
		TimestampFormat: "06-01-02 15:04:05", // 格式: yy-mm-dd HH:MM:ss
		ForceColors:     !noColor,
		DisableColors:   noColor,
	}
}

// Init 初始化日志系统
func Init(config Config) error {
	logMu.Lock()
	defer logMu.Unlock()

	l := logrus.New()

	level, err := logrus.ParseLevel(config.Level)
	if err != nil {
		level = logrus.InfoLevel
	}
	l.SetLevel(level)
	l.SetFormatter(newFormatter(config.NoColor))
	l.AddHook(&redactHook{})

	writers := []io.Writer{os.Stdout}
	if config.OutputFile != "" {
		if err := os.MkdirAll(filepath.Dir(config.OutputFile), 0o755); err != nil {
			return err
		}
		// 配置日志轮转
		writers = append(writers, &lumberjack.Logger{
			Filename:   config.OutputFile,
			MaxSize:    config.MaxSize,
			MaxBackups: config.MaxBackups,
			MaxAge:     config.MaxAge,
			Compress:   config.Compress,
		})
		currentLogFile = config.OutputFile
	}

	out := io.MultiWriter(writers...)
	l.SetOutput(out)

	// 同时设置全局 logrus，保证组件里 logrus.WithField() 创建的 entry 也写入文件
	logrus.SetOutput(out)
	logrus.SetLevel(level)
	logrus.SetFormatter(newFormatter(config.NoColor))

	Logger = l
	return nil
}

// InitDefault 使用默认配置初始化日志系统
func InitDefault() error {
	return Init(Config{
		Level:      "info",
		OutputFile: "logs/perpplay.log",
		MaxSize:    50, // 50MB
		MaxBackups: 3,
		MaxAge:     7, // 7天
		Compress:   true,
	})
}

// privateKeyPattern 64 位十六进制串（私钥形态）。
// 交易哈希同样是 64 位，但本项目从不记录交易哈希，统一打码。
var privateKeyPattern = regexp.MustCompile(`(0x)?[0-9a-fA-F]{64}`)

const redacted = "[REDACTED]"

// redactHook 防止私钥意外进入日志
type redactHook struct{}

func (*redactHook) Levels() []logrus.Level { return logrus.AllLevels }

func (*redactHook) Fire(e *logrus.Entry) error {
	e.Message = privateKeyPattern.ReplaceAllString(e.Message, redacted)
	for k, v := range e.Data {
		if s, ok := v.(string); ok && privateKeyPattern.MatchString(s) {
			e.Data[k] = privateKeyPattern.ReplaceAllString(s, redacted)
		}
	}
	return nil
}

// Redact 对字符串做同样的打码（非日志输出路径使用，例如错误展示）
func Redact(s string) string {
	return privateKeyPattern.ReplaceAllString(s, redacted)
}

func std() *logrus.Logger {
	if Logger != nil {
		return Logger
	}
	return logrus.StandardLogger()
}

// Component 返回带 component 字段的 entry，供各模块持有
func Component(name string) *logrus.Entry {
	return std().WithField("component", name)
}

// Debug 记录 DEBUG 级别日志
func Debug(args ...interface{}) { std().Debug(args...) }

// Debugf 记录格式化的 DEBUG 级别日志
func Debugf(format string, args ...interface{}) { std().Debugf(format, args...) }

// Info 记录 INFO 级别日志
func Info(args ...interface{}) { std().Info(args...) }

// Infof 记录格式化的 INFO 级别日志
func Infof(format string, args ...interface{}) { std().Infof(format, args...) }

// Warn 记录 WARN 级别日志
func Warn(args ...interface{}) { std().Warn(args...) }

// Warnf 记录格式化的 WARN 级别日志
func Warnf(format string, args ...interface{}) { std().Warnf(format, args...) }

// Error 记录 ERROR 级别日志
func Error(args ...interface{}) { std().Error(args...) }

// Errorf 记录格式化的 ERROR 级别日志
func Errorf(format string, args ...interface{}) { std().Errorf(format, args...) }

// WithField 添加字段到日志上下文
func WithField(key string, value interface{}) *logrus.Entry {
	return std().WithField(key, value)
}

// WithFields 添加多个字段到日志上下文
func WithFields(fields logrus.Fields) *logrus.Entry {
	return std().WithFields(fields)
}

// GetCurrentLogFile 获取当前日志文件路径
func GetCurrentLogFile() string {
	logMu.Lock()
	defer logMu.Unlock()
	return currentLogFile
}
