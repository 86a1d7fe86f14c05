package cron

import (
	"context"
	"fmt"
	"time"

	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
	"github.com/robfig/cron/v3"
)

const (
	// JobTag 定时任务绑定的标签，启动时收集
	JobTag = "cron.job"
	// ScheduleTag 任务的 cron 表达式，作为 JobTag 绑定的标签值
	ScheduleTag = "schedule"
	// MethodTag 定时调用的方法名
	MethodTag = "method"
	// JobNameKey 每次执行时在任务上下文中绑定的任务名
	JobNameKey = "cron.jobName"
)

// Builder Cron 配置构建器
type Builder struct {
	core.BaseBuilder
	enableSeconds    bool
	enableCronLogger bool
	location         string
	jobs             []jobDefinition
	errors           []error
}

// jobDefinition 任务定义
type jobDefinition struct {
	spec    string
	name    string
	handler func(ctx context.Context) error
}

// NewBuilder 创建 Cron 构建器
func NewBuilder(ctx *core.BuildContext) *Builder {
	return &Builder{
		BaseBuilder: core.NewBaseBuilder(ctx),
		location:    "UTC",
	}
}

// WithSeconds 启用秒级精度
func (b *Builder) WithSeconds() *Builder {
	b.enableSeconds = true
	return b
}

// WithLocation 设置时区
func (b *Builder) WithLocation(location string) *Builder {
	b.location = location
	return b
}

// EnableCronLogger 启用 cron 库的内部调度日志
func (b *Builder) EnableCronLogger() *Builder {
	b.enableCronLogger = true
	return b
}

// AddJob 添加简单任务
func (b *Builder) AddJob(spec, name string, handler func(ctx context.Context) error) *Builder {
	if handler == nil {
		b.errors = append(b.errors, fmt.Errorf("cron job '%s' has no handler", name))
		return b
	}
	b.jobs = append(b.jobs, jobDefinition{spec: spec, name: name, handler: handler})
	return b
}

// AddMethodJob 将 key 绑定到 class（单例），按 spec 定时调用其 method 方法
// 方法参数按元数据注入，每次执行在独立的请求上下文中进行
//
//	b.AddMethodJob("*/5 * * * *", "jobs.report", NewReportJob, "Run")
func (b *Builder) AddMethodJob(spec, key string, class any, method string) *di.Binding {
	return Job(b.Bind(key).ToClass(class).InScope(di.ScopeSingleton), spec, method)
}

// Job 把已有绑定标记为定时任务
//
//	cron.Job(ctx.MustBind("jobs.cleanup").ToClass(NewCleanup), "@hourly", "Run")
func Job(binding *di.Binding, spec, method string) *di.Binding {
	return binding.Tag(JobTag).TagValue(ScheduleTag, spec).TagValue(MethodTag, method)
}

func (b *Builder) parser() cron.Parser {
	if b.enableSeconds {
		return cron.NewParser(cron.Second | cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	}
	return cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
}

// Build 检查任务表达式与时区
func (b *Builder) Build() (*options, []jobDefinition, error) {
	errs := append([]error(nil), b.errors...)

	loc, err := time.LoadLocation(b.location)
	if err != nil {
		errs = append(errs, fmt.Errorf("invalid cron location '%s': %w", b.location, err))
	}

	parser := b.parser()
	names := make(map[string]bool, len(b.jobs))
	for _, job := range b.jobs {
		if names[job.name] {
			errs = append(errs, fmt.Errorf("cron job '%s' already configured", job.name))
			continue
		}
		names[job.name] = true
		if _, err := parser.Parse(job.spec); err != nil {
			errs = append(errs, fmt.Errorf("invalid spec for cron job '%s': %w", job.name, err))
		}
	}

	if len(errs) > 0 {
		return nil, nil, fmt.Errorf("cron configuration errors: %v", errs)
	}
	return &options{
		Location:         loc,
		Parser:           parser,
		EnableCronLogger: b.enableCronLogger,
	}, b.jobs, nil
}
