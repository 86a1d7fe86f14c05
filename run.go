package inject

import (
	"context"

	"github.com/gocrud/inject/core"
)

// Run 用默认构建器和给定的配置器构建应用并阻塞运行
// 直到收到 SIGINT/SIGTERM、ctx 取消或托管服务失败
//
//	err := inject.Run(ctx, configure.Web(func(b *web.Builder) { ... }))
func Run(ctx context.Context, configurators ...core.Configurator) error {
	app, err := NewApplicationBuilder().Configure(configurators...).Build()
	if err != nil {
		return err
	}
	return app.RunAsync(ctx)
}
