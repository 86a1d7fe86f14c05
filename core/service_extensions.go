package core

import (
	"github.com/gocrud/inject/di"
	"github.com/gocrud/inject/hosting"
	"github.com/gocrud/inject/logging"
)

// ServiceCollection 服务集合，是应用根上下文上的一层便捷封装
type ServiceCollection struct {
	root   *di.Context
	logger logging.Logger
}

// Context 返回应用根上下文
func (s *ServiceCollection) Context() *di.Context {
	return s.root
}

// Bind 创建绑定，key 非法时 panic
func (s *ServiceCollection) Bind(key string) *di.Binding {
	return s.root.MustBind(key)
}

// AddHostedService 注册托管服务，class 可以是类型、ClassMeta 或构造函数
// 服务在应用启动时按注册顺序解析
func (s *ServiceCollection) AddHostedService(key string, class any) *di.Binding {
	return s.root.MustBind(key).
		ToClass(class).
		InScope(di.ScopeSingleton).
		Tag(hosting.HostedServiceTag)
}

// AddSingleton 将 key 绑定到 class，并注册为单例
// class 可以是类型、ClassMeta 或构造函数
//
// 示例:
//
//	core.AddSingleton(services, userServiceKey, NewUserService)
func AddSingleton[T any](s *ServiceCollection, key di.Key[T], class any) *di.Binding {
	return s.root.MustBind(key.Key()).ToClass(class).InScope(di.ScopeSingleton)
}

// AddTransient 将 key 绑定到 class，每次解析创建新实例
func AddTransient[T any](s *ServiceCollection, key di.Key[T], class any) *di.Binding {
	return s.root.MustBind(key.Key()).ToClass(class).InScope(di.ScopeTransient)
}

// AddScoped 将 key 绑定到 class，每个请求上下文一个实例
//
//	core.AddScoped(services, requestStateKey, NewRequestState)
func AddScoped[T any](s *ServiceCollection, key di.Key[T], class any) *di.Binding {
	return s.root.MustBind(key.Key()).ToClass(class).InScope(di.ScopeRequest)
}

// AddValue 将 key 绑定到常量
func AddValue[T any](s *ServiceCollection, key di.Key[T], value T) *di.Binding {
	return s.root.MustBind(key.Key()).To(value)
}
