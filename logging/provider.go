package logging

import (
	"fmt"
	"io"
	"os"
	"sync"
	"time"
)

// ConsoleLoggerOptions 控制台日志选项
type ConsoleLoggerOptions struct {
	IncludeTimestamp bool
	TimestampFormat  string
	ColorOutput      bool
	// JSON 为 true 时按行输出 JSON
	JSON   bool
	Output io.Writer
}

// FileLoggerOptions 文件日志选项
type FileLoggerOptions struct {
	Path string
	JSON bool
	// BufferSize 大于 0 时通过 AsyncWriter 异步写入
	BufferSize int
}

// WriterLoggerProvider 把格式化后的日志写入 io.Writer，控制台和文件日志都基于它
type WriterLoggerProvider struct {
	formatter    Formatter
	out          io.Writer
	async        *AsyncWriter
	file         *os.File
	minimumLevel LogLevel
	mu           sync.RWMutex
	writeMu      sync.Mutex
}

// NewWriterLoggerProvider 创建写入 out 的提供者
func NewWriterLoggerProvider(out io.Writer, formatter Formatter) *WriterLoggerProvider {
	return &WriterLoggerProvider{
		formatter:    formatter,
		out:          out,
		minimumLevel: LogLevelInfo,
	}
}

// NewConsoleLoggerProvider 创建控制台日志提供者
func NewConsoleLoggerProvider(options ConsoleLoggerOptions) *WriterLoggerProvider {
	if options.Output == nil {
		options.Output = os.Stdout
	}
	var formatter Formatter
	if options.JSON {
		formatter = NewJsonFormatter()
	} else {
		formatter = &TextFormatter{
			IncludeTimestamp: options.IncludeTimestamp,
			TimestampFormat:  options.TimestampFormat,
			ColorOutput:      options.ColorOutput,
		}
	}
	return NewWriterLoggerProvider(options.Output, formatter)
}

// NewFileLoggerProvider 创建文件日志提供者，文件以追加模式打开
func NewFileLoggerProvider(options FileLoggerOptions) (*WriterLoggerProvider, error) {
	file, err := os.OpenFile(options.Path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o644)
	if err != nil {
		return nil, fmt.Errorf("failed to open log file %s: %w", options.Path, err)
	}
	var formatter Formatter = NewTextFormatter()
	if options.JSON {
		formatter = NewJsonFormatter()
	}
	p := NewWriterLoggerProvider(file, formatter)
	p.file = file
	if options.BufferSize > 0 {
		p.async = NewAsyncWriter(file, formatter, options.BufferSize)
	}
	return p, nil
}

func (p *WriterLoggerProvider) CreateLogger(category string) Logger {
	return &writerLogger{provider: p, category: category}
}

func (p *WriterLoggerProvider) SetMinimumLevel(level LogLevel) {
	p.mu.Lock()
	defer p.mu.Unlock()
	p.minimumLevel = level
}

func (p *WriterLoggerProvider) level() LogLevel {
	p.mu.RLock()
	defer p.mu.RUnlock()
	return p.minimumLevel
}

// Close 刷新异步队列并关闭文件
func (p *WriterLoggerProvider) Close() error {
	if p.async != nil {
		p.async.Close()
	}
	if p.file != nil {
		return p.file.Close()
	}
	return nil
}

func (p *WriterLoggerProvider) write(entry *LogEntry) {
	if p.async != nil {
		p.async.WriteLog(entry)
		return
	}
	data, err := p.formatter.Format(entry)
	if err != nil {
		fmt.Fprintf(os.Stderr, "logging: format error: %v\n", err)
		return
	}
	if len(data) == 0 || data[len(data)-1] != '\n' {
		data = append(data, '\n')
	}
	p.writeMu.Lock()
	defer p.writeMu.Unlock()
	p.out.Write(data)
}

type writerLogger struct {
	provider *WriterLoggerProvider
	category string
	fields   []Field
}

func (l *writerLogger) Trace(msg string, fields ...Field) { l.Log(LogLevelTrace, msg, fields...) }
func (l *writerLogger) Debug(msg string, fields ...Field) { l.Log(LogLevelDebug, msg, fields...) }
func (l *writerLogger) Info(msg string, fields ...Field) { l.Log(LogLevelInfo, msg, fields...) }
func (l *writerLogger) Warn(msg string, fields ...Field) { l.Log(LogLevelWarn, msg, fields...) }
func (l *writerLogger) Error(msg string, fields ...Field) { l.Log(LogLevelError, msg, fields...) }

func (l *writerLogger) Fatal(msg string, fields ...Field) {
	l.Log(LogLevelFatal, msg, fields...)
	l.provider.Close()
	os.Exit(1)
}

func (l *writerLogger) Log(level LogLevel, msg string, fields ...Field) {
	if level < l.provider.level() {
		return
	}
	l.provider.write(&LogEntry{
		Time:     time.Now(),
		Level:    level,
		Category: l.category,
		Message:  msg,
		Fields:   mergeFields(l.fields, fields),
	})
}

func (l *writerLogger) WithFields(fields ...Field) Logger {
	return &writerLogger{provider: l.provider, category: l.category, fields: mergeFields(l.fields, fields)}
}

func (l *writerLogger) WithCategory(category string) Logger {
	return &writerLogger{provider: l.provider, category: category, fields: l.fields}
}
