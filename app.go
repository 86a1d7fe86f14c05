// Package inject 是应用程序的入口：层级化的依赖注入上下文（di）、
// 配置、日志与托管服务（core），以及 configure 下的各类集成。
package inject

import (
	"github.com/gocrud/inject/core"
	"github.com/gocrud/inject/di"
)

// NewApplicationBuilder 创建应用程序构建器
// 这是创建应用程序的入口点
func NewApplicationBuilder() *core.ApplicationBuilder {
	return core.NewApplicationBuilder()
}

// NewContext 创建独立的根上下文，不经过应用程序构建
func NewContext(name string) *di.Context {
	return di.NewContext(nil, name)
}
