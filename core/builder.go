package core

import "github.com/gocrud/inject/di"

// BaseBuilder 提供基础的构建上下文能力
// 所有模块的 Builder 都应该嵌入此结构体
type BaseBuilder struct {
	ctx *BuildContext
}

// NewBaseBuilder 创建基础构建器
func NewBaseBuilder(ctx *BuildContext) BaseBuilder {
	return BaseBuilder{ctx: ctx}
}

// ConfigContext 获取构建上下文（受限接口）
func (b *BaseBuilder) ConfigContext() ConfigurationContext {
	return b.ctx
}

// Bind 在应用根上下文中创建绑定
func (b *BaseBuilder) Bind(key string) *di.Binding {
	return b.ctx.root.MustBind(key)
}

// RegisterCleanup 允许 Builder 注册清理函数
func (b *BaseBuilder) RegisterCleanup(key string, cleanup func()) {
	b.ctx.SetCleanup(key, cleanup)
}

// Fail 记录构建错误
func (b *BaseBuilder) Fail(err error) {
	b.ctx.AddError(err)
}
