package logging

import (
	"io"
	"os"
	"sync/atomic"

	"github.com/rs/zerolog"
)

// ZerologOptions zerolog 提供者选项
type ZerologOptions struct {
	Output io.Writer
	// Pretty 使用 zerolog.ConsoleWriter 输出
	Pretty    bool
	NoColor   bool
	Timestamp bool
	Caller    bool
}

// ZerologProvider 基于 zerolog 的日志提供者
type ZerologProvider struct {
	base  zerolog.Logger
	level atomic.Int32
}

// NewZerologProvider 创建 zerolog 提供者
func NewZerologProvider(options ZerologOptions) *ZerologProvider {
	out := options.Output
	if out == nil {
		out = os.Stdout
	}
	if options.Pretty {
		out = zerolog.ConsoleWriter{Out: out, NoColor: options.NoColor, TimeFormat: "2006-01-02 15:04:05"}
	}
	zl := zerolog.New(out)
	if options.Timestamp {
		zl = zl.With().Timestamp().Logger()
	}
	if options.Caller {
		zl = zl.With().Caller().Logger()
	}
	p := &ZerologProvider{base: zl}
	p.level.Store(int32(LogLevelInfo))
	return p
}

func (p *ZerologProvider) CreateLogger(category string) Logger {
	zl := p.base
	if category != "" {
		zl = zl.With().Str("category", category).Logger()
	}
	return &zerologLogger{provider: p, zl: zl}
}

func (p *ZerologProvider) SetMinimumLevel(level LogLevel) {
	p.level.Store(int32(level))
}

type zerologLogger struct {
	provider *ZerologProvider
	zl       zerolog.Logger
}

func toZerologLevel(level LogLevel) zerolog.Level {
	switch level {
	case LogLevelTrace:
		return zerolog.TraceLevel
	case LogLevelDebug:
		return zerolog.DebugLevel
	case LogLevelInfo:
		return zerolog.InfoLevel
	case LogLevelWarn:
		return zerolog.WarnLevel
	case LogLevelError:
		return zerolog.ErrorLevel
	case LogLevelFatal:
		return zerolog.FatalLevel
	}
	return zerolog.Disabled
}

func (l *zerologLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *zerologLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *zerologLogger) Info(msg string, fields ...Field) { l.Log(LogLevelInfo, msg, fields...) }
func (l *zerologLogger) Warn(msg string, fields ...Field) { l.Log(LogLevelWarn, msg, fields...) }
func (l *zerologLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *zerologLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	os.Exit(1)
}

func (l *zerologLogger) Log(level LogLevel, msg string, fields ...Field) {
	if level < LogLevel(l.provider.level.Load()) {
		return
	}
	// zerolog 的 Fatal 事件会直接退出，这里用 WithLevel 统一交给上层处理
	event := l.zl.WithLevel(toZerologLevel(level))
	for _, f := range fields {
		event = event.Interface(f.Key, f.Value)
	}
	event.Msg(msg)
}

func (l *zerologLogger) WithFields(fields ...Field) Logger {
	zc := l.zl.With()
	for _, f := range fields {
		zc = zc.Interface(f.Key, f.Value)
	}
	return &zerologLogger{provider: l.provider, zl: zc.Logger()}
}

func (l *zerologLogger) WithCategory(category string) Logger {
	return &zerologLogger{provider: l.provider, zl: l.zl.With().Str("category", category).Logger()}
}
