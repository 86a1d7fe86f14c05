package web

import (
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/logging"
)

// Configure 返回 Web 配置器
// 使用示例: builder.Configure(web.Configure(func(b *web.Builder) { ... }))
func Configure(options func(*Builder)) core.Configurator {
	return func(ctx *core.BuildContext) {
		builder := NewBuilder(ctx)
		if options != nil {
			options(builder)
		}

		host, err := builder.Build()
		if err != nil {
			ctx.AddError(err)
			return
		}

		ctx.AddHostedService(host)
		ctx.Features().Set(host)
		ctx.Context().MustBind(HostKey.Key()).To(host).Lock()

		ctx.GetLogger().Info("Web host configured", logging.String("address", host.addr))
	}
}
