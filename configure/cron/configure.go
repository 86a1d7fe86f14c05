package cron

import (
	"github.com/gocrud/inject/core"
)

// Configure 返回 Cron 配置器
// 使用示例: builder.Configure(cron.Configure(func(b *cron.Builder) { ... }))
//
// 除 Builder 中添加的任务外，启动时还会收集根上下文中所有带 JobTag 的绑定
func Configure(options func(*Builder)) core.Configurator {
	return func(ctx *core.BuildContext) {
		builder := NewBuilder(ctx)
		if options != nil {
			options(builder)
		}

		opts, jobs, err := builder.Build()
		if err != nil {
			ctx.AddError(err)
			return
		}

		svc := newService(ctx.Context(), ctx.GetLoggerFactory().CreateLogger("Cron"), *opts)
		for _, job := range jobs {
			svc.addJob(job.spec, job.name, job.handler)
		}
		ctx.AddHostedService(svc)
		ctx.Context().MustBind(ServiceKey.Key()).To(svc).Lock()

		ctx.GetLogger().Info("Cron service configured")
	}
}
